package integration

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/entity"
	"github.com/jameshartig/mygas/pkg/ident"
	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

// syncDevices makes the registry of entryID match snap: every device of the
// tree is upserted and registered devices missing from the tree are removed.
func (i *Integration) syncDevices(ctx context.Context, entryID string, snap *coordinator.Snapshot) error {
	devices := entity.Build(snap)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.syncConcurrency)
	for _, d := range devices {
		g.Go(func() error {
			if _, err := i.db.UpsertDevice(gctx, d.Record(entryID)); err != nil {
				return fmt.Errorf("failed to upsert device %s: %w", d.Identifier, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	registered, err := i.db.ListDevices(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	ids := make([]string, 0, len(registered))
	for _, d := range registered {
		ids = append(ids, d.Identifier)
	}
	stale := ident.Stale(ids, ident.Current(snap.Tree))
	if len(stale) > 0 {
		if err := i.db.RemoveDevices(ctx, entryID, stale); err != nil {
			return fmt.Errorf("failed to remove stale devices: %w", err)
		}
		log.Ctx(ctx).InfoContext(ctx, "removed stale devices", slog.Any("identifiers", stale))
	}
	log.Ctx(ctx).DebugContext(ctx, "devices synced", slog.Int("devices", len(devices)), slog.Int("removed", len(stale)))
	return nil
}

// DeviceView is a registered device with the current state of its entities.
// Entities is empty when the entry has no snapshot yet.
type DeviceView struct {
	types.Device
	Entities []entity.Entity `json:"entities"`
}

// Devices returns the registered devices of entryID.
func (i *Integration) Devices(ctx context.Context, entryID string) ([]DeviceView, error) {
	if _, err := i.db.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	registered, err := i.db.ListDevices(ctx, entryID)
	if err != nil {
		return nil, err
	}

	built := map[string]entity.Device{}
	if c, ok := i.coords.Get(entryID); ok {
		for _, d := range entity.Build(c.Snapshot()) {
			built[d.Identifier] = d
		}
	}

	views := make([]DeviceView, 0, len(registered))
	for _, d := range registered {
		v := DeviceView{Device: d, Entities: []entity.Entity{}}
		if b, ok := built[d.Identifier]; ok {
			v.Entities = b.Entities
		}
		views = append(views, v)
	}
	return views, nil
}

// resolveDevice returns a registered device and the coordinator of its
// entry.
func (i *Integration) resolveDevice(ctx context.Context, deviceID string) (types.Device, *coordinator.Coordinator, error) {
	if deviceID == "" {
		return types.Device{}, nil, fmt.Errorf("%w: deviceID is required", ErrInvalidRequest)
	}
	device, err := i.db.GetDevice(ctx, deviceID)
	if err != nil {
		return types.Device{}, nil, err
	}
	c, err := i.Coordinator(device.EntryID)
	if err != nil {
		return types.Device{}, nil, err
	}
	return device, c, nil
}
