package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore. Entries
// live in the "entries" collection and devices in a "devices" sub-collection
// of their entry, keyed by identifier. Records are stored as JSON strings.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// the project id is detected when empty
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) entries() *firestore.CollectionRef {
	return f.client.Collection("entries")
}

func (f *FirestoreProvider) devices(entryID string) (*firestore.CollectionRef, error) {
	if entryID == "" {
		return nil, fmt.Errorf("entryID cannot be empty")
	}
	return f.entries().Doc(entryID).Collection("devices"), nil
}

// decodeDoc unmarshals the "json" field of doc into v.
func decodeDoc(ctx context.Context, doc *firestore.DocumentSnapshot, kind string, v any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, kind+" doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("%s document %s missing 'json' field: %w", kind, doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, kind+" doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("%s document %s 'json' field is not string", kind, doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal "+kind, slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal %s (id=%s): %w", kind, doc.Ref.ID, err)
	}
	return nil
}

func entryDoc(entry types.ConfigEntry) (map[string]any, error) {
	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry %s: %w", entry.ID, err)
	}
	return map[string]any{
		"json":     string(jsonBytes),
		"username": entry.Username,
	}, nil
}

// ListEntries retrieves all entries. Malformed documents are skipped.
func (f *FirestoreProvider) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	iter := f.entries().Documents(ctx)
	defer iter.Stop()

	var entries []types.ConfigEntry
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating entries: %w", err)
		}
		var e types.ConfigEntry
		if err := decodeDoc(ctx, doc, "entry", &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GetEntry retrieves an entry from the "entries" collection.
func (f *FirestoreProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	if entryID == "" {
		return types.ConfigEntry{}, fmt.Errorf("%w: empty id", ErrEntryNotFound)
	}
	doc, err := f.entries().Doc(entryID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ConfigEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		return types.ConfigEntry{}, fmt.Errorf("failed to get entry %s: %w", entryID, err)
	}
	var e types.ConfigEntry
	if err := decodeDoc(ctx, doc, "entry", &e); err != nil {
		return types.ConfigEntry{}, err
	}
	return e, nil
}

// GetEntryByUsername finds the entry configured for username.
func (f *FirestoreProvider) GetEntryByUsername(ctx context.Context, username string) (types.ConfigEntry, error) {
	iter := f.entries().Where("username", "==", username).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.ConfigEntry{}, fmt.Errorf("%w: username %s", ErrEntryNotFound, username)
	}
	if err != nil {
		return types.ConfigEntry{}, fmt.Errorf("failed to query entry by username: %w", err)
	}
	var e types.ConfigEntry
	if err := decodeDoc(ctx, doc, "entry", &e); err != nil {
		return types.ConfigEntry{}, err
	}
	return e, nil
}

// CreateEntry creates a new entry document. The username check and the create
// run in one transaction.
func (f *FirestoreProvider) CreateEntry(ctx context.Context, entry types.ConfigEntry) error {
	data, err := entryDoc(entry)
	if err != nil {
		return err
	}
	ref := f.entries().Doc(entry.ID)
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs, err := tx.Documents(f.entries().Where("username", "==", entry.Username).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			return fmt.Errorf("%w: username %s", ErrEntryExists, entry.Username)
		}
		return tx.Create(ref, data)
	})
	if err != nil {
		if errors.Is(err, ErrEntryExists) {
			return err
		}
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrEntryExists, entry.ID)
		}
		return fmt.Errorf("failed to create entry %s: %w", entry.ID, err)
	}
	return nil
}

// UpdateEntry replaces an existing entry document.
func (f *FirestoreProvider) UpdateEntry(ctx context.Context, entry types.ConfigEntry) error {
	data, err := entryDoc(entry)
	if err != nil {
		return err
	}
	_, err = f.entries().Doc(entry.ID).Update(ctx, []firestore.Update{
		{Path: "json", Value: data["json"]},
		{Path: "username", Value: data["username"]},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
		}
		return fmt.Errorf("failed to update entry %s: %w", entry.ID, err)
	}
	return nil
}

// DeleteEntry deletes the entry and its devices. Deleting a missing entry is
// not an error.
func (f *FirestoreProvider) DeleteEntry(ctx context.Context, entryID string) error {
	coll, err := f.devices(entryID)
	if err != nil {
		return err
	}
	// firestore does not delete sub-collections with their parent
	iter := coll.Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("error iterating devices of %s: %w", entryID, err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", doc.Ref.ID, err)
		}
	}
	if _, err := f.entries().Doc(entryID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entryID, err)
	}
	return nil
}

// ListDevices retrieves the devices of an entry ordered by identifier.
func (f *FirestoreProvider) ListDevices(ctx context.Context, entryID string) ([]types.Device, error) {
	coll, err := f.devices(entryID)
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var devices []types.Device
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating devices: %w", err)
		}
		var d types.Device
		if err := decodeDoc(ctx, doc, "device", &d); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// GetDevice finds a device by its registry id across all entries.
func (f *FirestoreProvider) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	iter := f.client.CollectionGroup("devices").Where("id", "==", deviceID).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to query device %s: %w", deviceID, err)
	}
	var d types.Device
	if err := decodeDoc(ctx, doc, "device", &d); err != nil {
		return types.Device{}, err
	}
	return d, nil
}

// UpsertDevice stores a device under its identifier.
func (f *FirestoreProvider) UpsertDevice(ctx context.Context, device types.Device) (types.Device, error) {
	coll, err := f.devices(device.EntryID)
	if err != nil {
		return types.Device{}, err
	}
	if device.Identifier == "" {
		return types.Device{}, fmt.Errorf("device identifier cannot be empty")
	}
	ref := coll.Doc(device.Identifier)

	var stored types.Device
	err = f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var prev *types.Device
		doc, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var d types.Device
			if err := decodeDoc(ctx, doc, "device", &d); err == nil {
				prev = &d
			}
		}
		stored = mergeDevice(prev, device, time.Now().UTC())
		jsonBytes, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return tx.Set(ref, map[string]any{
			"json": string(jsonBytes),
			"id":   stored.ID,
		})
	})
	if err != nil {
		return types.Device{}, fmt.Errorf("failed to upsert device %s: %w", device.Identifier, err)
	}
	return stored, nil
}

// RemoveDevices deletes the devices with the given identifiers. Missing
// devices are ignored.
func (f *FirestoreProvider) RemoveDevices(ctx context.Context, entryID string, identifiers []string) error {
	coll, err := f.devices(entryID)
	if err != nil {
		return err
	}
	for _, id := range identifiers {
		if _, err := coll.Doc(id).Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete device %s: %w", id, err)
		}
	}
	return nil
}
