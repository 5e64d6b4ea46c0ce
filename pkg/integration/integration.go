// Package integration manages the lifecycle of config entries: it validates
// credentials, runs one coordinator per loaded entry and keeps the device
// registry in sync with what the coordinators poll.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"
	"github.com/robfig/cron/v3"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/storage"
	"github.com/jameshartig/mygas/pkg/types"
)

var (
	ErrAlreadyConfigured = errors.New("already_configured")
	ErrInvalidAuth       = errors.New("invalid_auth")
	ErrCannotConnect     = errors.New("cannot_connect")
	ErrNotLoaded         = errors.New("entry not loaded")
)

// DefaultSyncConcurrency bounds parallel device upserts.
const DefaultSyncConcurrency = 4

// Config configures an Integration.
type Config struct {
	DB      storage.Database
	Factory mygas.Factory
	// EncryptionKey seals stored credentials. It must be 32 bytes.
	EncryptionKey string

	Policy   retry.Policy
	Cooldown time.Duration
	// Cron runs scheduled refreshes. Nil disables scheduling unless Start
	// is asked to create one.
	Cron            *cron.Cron
	Events          *EventBus
	SyncConcurrency int
}

// Integration owns every loaded coordinator.
type Integration struct {
	db      storage.Database
	factory mygas.Factory
	key     string
	policy  retry.Policy

	cooldown        time.Duration
	syncConcurrency int
	events          *EventBus
	coords          *coordinator.Map

	// serializes entry lifecycle changes
	mu      sync.Mutex
	cron    *cron.Cron
	ownCron bool
	baseCtx context.Context
}

// New returns an Integration with no loaded entries.
func New(cfg Config) *Integration {
	if cfg.Events == nil {
		cfg.Events = NewEventBus(DefaultEventHistory)
	}
	if cfg.SyncConcurrency <= 0 {
		cfg.SyncConcurrency = DefaultSyncConcurrency
	}
	return &Integration{
		db:              cfg.DB,
		factory:         cfg.Factory,
		key:             cfg.EncryptionKey,
		policy:          cfg.Policy,
		cooldown:        cfg.Cooldown,
		syncConcurrency: cfg.SyncConcurrency,
		events:          cfg.Events,
		coords:          coordinator.NewMap(),
		cron:            cfg.Cron,
		baseCtx:         context.Background(),
	}
}

// Configured registers the integration flags. Start creates the cron.
func Configured(db storage.Database, factory mygas.Factory) *Integration {
	key := lflag.String("credentials-encryption-key", "", "32-byte key used to encrypt stored MyGas credentials")
	cooldown := lflag.Duration("refresh-cooldown", coordinator.DefaultCooldown, "How long manual refresh requests are collected before refreshing")
	concurrency := DefaultSyncConcurrency
	lflag.JSON(&concurrency, "device-sync-concurrency", concurrency, "Parallel device registry writes per refresh")
	history := DefaultEventHistory
	lflag.JSON(&history, "event-history", history, "Number of service events kept for /api/events")

	i := New(Config{DB: db, Factory: factory})
	lflag.Do(func() {
		i.key = *key
		i.cooldown = *cooldown
		if concurrency > 0 {
			i.syncConcurrency = concurrency
		}
		i.events = NewEventBus(history)
		i.ownCron = true
	})
	return i
}

// Events returns the bus service calls fire onto.
func (i *Integration) Events() *EventBus {
	return i.events
}

// Coordinators returns the map of loaded entries.
func (i *Integration) Coordinators() *coordinator.Map {
	return i.coords
}

// Coordinator returns the coordinator of a loaded entry.
func (i *Integration) Coordinator(entryID string) (*coordinator.Coordinator, error) {
	c, ok := i.coords.Get(entryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotLoaded, entryID)
	}
	return c, nil
}

// Start loads every stored entry. Entries that fail to load are logged and
// skipped.
func (i *Integration) Start(ctx context.Context) error {
	i.mu.Lock()
	i.baseCtx = ctx
	if i.cron == nil && i.ownCron {
		i.cron = coordinator.NewCron(ctx)
		i.cron.Start()
	}
	i.mu.Unlock()

	entries, err := i.db.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	for _, entry := range entries {
		if err := i.SetupEntry(ctx, entry); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to set up entry", slog.String("entryID", entry.ID), slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "integration started", slog.Int("entries", i.coords.Len()))
	return nil
}

// Close unloads every entry and stops the cron if Start created it.
func (i *Integration) Close() error {
	var ids []string
	i.coords.Range(func(entryID string, _ *coordinator.Coordinator) bool {
		ids = append(ids, entryID)
		return true
	})
	for _, id := range ids {
		i.UnloadEntry(id)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.ownCron && i.cron != nil {
		<-i.cron.Stop().Done()
		i.cron = nil
	}
	return nil
}

// validate checks creds the way a refresh would, by listing accounts.
func (i *Integration) validate(ctx context.Context, creds types.Credentials) error {
	api := i.factory.New(creds)
	p := i.policy
	if p.IsAuth == nil {
		p.IsAuth = mygas.IsAuth
	}
	_, err := retry.DoChecked(ctx, p, "get_accounts", api.GetAccounts, retry.IsNil[*types.AccountsInfo])
	switch {
	case err == nil:
		return nil
	case errors.Is(err, retry.ErrAuthFailed):
		return fmt.Errorf("%w: %w", ErrInvalidAuth, err)
	default:
		return fmt.Errorf("%w: %w", ErrCannotConnect, err)
	}
}

// AddEntry validates creds, stores a new entry and sets it up. Usernames are
// unique, case-insensitively.
func (i *Integration) AddEntry(ctx context.Context, creds types.Credentials, opts *types.EntryOptions) (types.ConfigEntry, error) {
	username := strings.ToLower(strings.TrimSpace(creds.Username))
	if username == "" || creds.Password == "" {
		return types.ConfigEntry{}, fmt.Errorf("%w: username and password are required", ErrInvalidAuth)
	}
	if _, err := i.db.GetEntryByUsername(ctx, username); err == nil {
		return types.ConfigEntry{}, fmt.Errorf("%w: %s", ErrAlreadyConfigured, username)
	} else if !errors.Is(err, storage.ErrEntryNotFound) {
		return types.ConfigEntry{}, err
	}

	if err := i.validate(ctx, creds); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "credentials rejected", slog.String("username", username), slog.Any("error", err))
		return types.ConfigEntry{}, err
	}
	sealed, err := encryptCredentials(ctx, i.key, creds)
	if err != nil {
		return types.ConfigEntry{}, err
	}

	now := time.Now().UTC()
	entry := types.ConfigEntry{
		ID:                   uuid.NewString(),
		Title:                username,
		Username:             username,
		Options:              types.DefaultEntryOptions(),
		EncryptedCredentials: sealed,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if opts != nil {
		entry.Options = *opts
	}
	if err := i.db.CreateEntry(ctx, entry); err != nil {
		if errors.Is(err, storage.ErrEntryExists) {
			return types.ConfigEntry{}, fmt.Errorf("%w: %w", ErrAlreadyConfigured, err)
		}
		return types.ConfigEntry{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "entry created", slog.String("entryID", entry.ID), slog.String("username", username))

	if err := i.SetupEntry(ctx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// SetupEntry builds the coordinator of entry, runs the first refresh and
// starts its schedule. A refresh failure does not fail the setup: the entry
// stays loaded with the error recorded, and an auth failure leaves it
// waiting for Reauth.
func (i *Integration) SetupEntry(ctx context.Context, entry types.ConfigEntry) error {
	ctx = log.WithEntry(ctx, entry.ID)
	creds, err := decryptCredentials(ctx, i.key, entry.EncryptedCredentials)
	if err != nil {
		return fmt.Errorf("failed to read credentials of %s: %w", entry.ID, err)
	}

	i.mu.Lock()
	c := coordinator.New(coordinator.Config{
		EntryID:  entry.ID,
		API:      i.factory.New(creds),
		Options:  entry.Options,
		Policy:   i.policy,
		Cooldown: i.cooldown,
		Cron:     i.cron,
	})
	baseCtx := i.baseCtx
	entryID := entry.ID
	c.OnUpdate(func(ctx context.Context, snap *coordinator.Snapshot) {
		if !i.isCurrent(entryID, c) {
			log.Ctx(ctx).DebugContext(ctx, "skipping device sync of unloaded entry")
			return
		}
		if err := i.syncDevices(ctx, entryID, snap); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to sync devices", slog.Any("error", err))
		}
	})
	if prev, ok := i.coords.Set(entry.ID, c); ok {
		prev.Close()
	}
	i.mu.Unlock()

	// the first refresh can take minutes, other entries must not wait on it
	if err := c.Refresh(ctx); err != nil {
		if errors.Is(err, retry.ErrAuthFailed) {
			log.Ctx(ctx).WarnContext(ctx, "entry needs reauthentication")
		} else {
			log.Ctx(ctx).WarnContext(ctx, "first refresh failed, entry will retry on schedule", slog.Any("error", err))
		}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.isCurrent(entryID, c) {
		log.Ctx(ctx).InfoContext(ctx, "entry unloaded during setup")
		return nil
	}
	c.Start(log.WithEntry(baseCtx, entryID))
	return nil
}

func (i *Integration) isCurrent(entryID string, c *coordinator.Coordinator) bool {
	cur, ok := i.coords.Get(entryID)
	return ok && cur == c
}

// UnloadEntry stops the coordinator of entryID and forgets it. Unloading an
// entry that is not loaded is a no-op.
func (i *Integration) UnloadEntry(entryID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.coords.Delete(entryID); ok {
		c.Close()
	}
}

// RemoveEntry unloads the entry and deletes it with its devices.
func (i *Integration) RemoveEntry(ctx context.Context, entryID string) error {
	if _, err := i.db.GetEntry(ctx, entryID); err != nil {
		return err
	}
	i.UnloadEntry(entryID)
	if err := i.db.DeleteEntry(ctx, entryID); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "entry removed", slog.String("entryID", entryID))
	return nil
}

// Reauth replaces the password of an entry after validating it, then
// reloads the entry.
func (i *Integration) Reauth(ctx context.Context, entryID, password string) error {
	entry, err := i.db.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidAuth)
	}
	creds := types.Credentials{Username: entry.Username, Password: password}
	if err := i.validate(ctx, creds); err != nil {
		return err
	}
	sealed, err := encryptCredentials(ctx, i.key, creds)
	if err != nil {
		return err
	}
	entry.EncryptedCredentials = sealed
	entry.UpdatedAt = time.Now().UTC()
	if err := i.db.UpdateEntry(ctx, entry); err != nil {
		return err
	}

	i.UnloadEntry(entryID)
	return i.SetupEntry(ctx, entry)
}

// UpdateOptions stores new polling options. A loaded coordinator picks them
// up immediately.
func (i *Integration) UpdateOptions(ctx context.Context, entryID string, opts types.EntryOptions) (types.ConfigEntry, error) {
	if opts.ScanIntervalHours < 0 {
		return types.ConfigEntry{}, fmt.Errorf("scan interval cannot be negative")
	}
	entry, err := i.db.GetEntry(ctx, entryID)
	if err != nil {
		return types.ConfigEntry{}, err
	}
	entry.Options = opts
	entry.UpdatedAt = time.Now().UTC()
	if err := i.db.UpdateEntry(ctx, entry); err != nil {
		return types.ConfigEntry{}, err
	}
	if c, ok := i.coords.Get(entryID); ok {
		c.SetOptions(opts)
	}
	return entry, nil
}

// EntryStatus is an entry with the state of its coordinator.
type EntryStatus struct {
	types.ConfigEntry
	Loaded        bool      `json:"loaded"`
	NeedsReauth   bool      `json:"needsReauth"`
	LastUpdate    time.Time `json:"lastUpdate,omitzero"`
	LastError     string    `json:"lastError,omitempty"`
	NextScheduled time.Time `json:"nextScheduled,omitzero"`
}

// Status returns the status of an entry.
func (i *Integration) Status(entry types.ConfigEntry) EntryStatus {
	// never hand out credentials
	entry.EncryptedCredentials = nil
	s := EntryStatus{ConfigEntry: entry}
	c, ok := i.coords.Get(entry.ID)
	if !ok {
		return s
	}
	s.Loaded = true
	s.NeedsReauth = c.NeedsReauth()
	s.LastUpdate = c.LastUpdate()
	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}
	s.NextScheduled = c.NextScheduled()
	return s
}

// Entries returns the status of every stored entry.
func (i *Integration) Entries(ctx context.Context) ([]EntryStatus, error) {
	entries, err := i.db.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EntryStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, i.Status(e))
	}
	return out, nil
}
