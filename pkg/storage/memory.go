package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"gopkg.in/yaml.v3"

	"github.com/jameshartig/mygas/pkg/types"
)

// MemoryProvider keeps everything in process. It is meant for development and
// tests and can be seeded from a YAML file.
type MemoryProvider struct {
	seedFile string

	mu      sync.Mutex
	entries map[string]types.ConfigEntry
	// entry id -> identifier -> device
	devices map[string]map[string]types.Device
}

// MemorySeed is the YAML layout of a seed file.
type MemorySeed struct {
	Entries []SeedEntry `yaml:"entries"`
}

// SeedEntry is one entry of a seed file. EncryptedCredentials is base64.
type SeedEntry struct {
	ID                   string         `yaml:"id"`
	Title                string         `yaml:"title"`
	Username             string         `yaml:"username"`
	AutoUpdate           *bool          `yaml:"autoUpdate"`
	ScanIntervalHours    int            `yaml:"scanIntervalHours"`
	EncryptedCredentials string         `yaml:"encryptedCredentials"`
	Devices              []types.Device `yaml:"devices"`
}

func configuredMemory() *MemoryProvider {
	seed := lflag.String("memory-seed-file", "", "YAML file to seed the memory storage provider with")

	m := NewMemoryProvider()
	lflag.Do(func() {
		m.seedFile = *seed
	})
	return m
}

// NewMemoryProvider returns an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		entries: map[string]types.ConfigEntry{},
		devices: map[string]map[string]types.Device{},
	}
}

// Validate checks if the provider is properly configured.
func (m *MemoryProvider) Validate() error {
	return nil
}

// Init loads the seed file, if any.
func (m *MemoryProvider) Init(ctx context.Context) error {
	if m.seedFile == "" {
		return nil
	}
	seed, err := LoadSeedFile(m.seedFile)
	if err != nil {
		return err
	}
	return m.Seed(ctx, seed)
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (MemorySeed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return MemorySeed{}, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed MemorySeed
	if err := yaml.Unmarshal(b, &seed); err != nil {
		return MemorySeed{}, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seed, nil
}

// Seed adds the entries and devices of seed.
func (m *MemoryProvider) Seed(ctx context.Context, seed MemorySeed) error {
	return ApplySeed(ctx, m, seed)
}

// ApplySeed creates the entries and devices of seed in db.
func ApplySeed(ctx context.Context, db Database, seed MemorySeed) error {
	now := time.Now().UTC()
	for _, se := range seed.Entries {
		creds, err := base64.StdEncoding.DecodeString(se.EncryptedCredentials)
		if err != nil {
			return fmt.Errorf("invalid credentials for seed entry %s: %w", se.ID, err)
		}
		opts := types.DefaultEntryOptions()
		if se.AutoUpdate != nil {
			opts.AutoUpdate = *se.AutoUpdate
		}
		opts.ScanIntervalHours = se.ScanIntervalHours
		entry := types.ConfigEntry{
			ID:                   se.ID,
			Title:                se.Title,
			Username:             se.Username,
			Options:              opts,
			EncryptedCredentials: creds,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if err := db.CreateEntry(ctx, entry); err != nil {
			return err
		}
		for _, d := range se.Devices {
			d.EntryID = se.ID
			if _, err := db.UpsertDevice(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close is a no-op.
func (m *MemoryProvider) Close() error {
	return nil
}

// ListEntries returns all entries ordered by id.
func (m *MemoryProvider) ListEntries(ctx context.Context) ([]types.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]types.ConfigEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// GetEntry returns the entry with entryID.
func (m *MemoryProvider) GetEntry(ctx context.Context, entryID string) (types.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return types.ConfigEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return e, nil
}

// GetEntryByUsername returns the entry configured for username.
func (m *MemoryProvider) GetEntryByUsername(ctx context.Context, username string) (types.ConfigEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Username == username {
			return e, nil
		}
	}
	return types.ConfigEntry{}, fmt.Errorf("%w: username %s", ErrEntryNotFound, username)
}

// CreateEntry adds a new entry.
func (m *MemoryProvider) CreateEntry(ctx context.Context, entry types.ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; ok {
		return fmt.Errorf("%w: %s", ErrEntryExists, entry.ID)
	}
	for _, e := range m.entries {
		if e.Username == entry.Username {
			return fmt.Errorf("%w: username %s", ErrEntryExists, entry.Username)
		}
	}
	m.entries[entry.ID] = entry
	return nil
}

// UpdateEntry replaces an existing entry.
func (m *MemoryProvider) UpdateEntry(ctx context.Context, entry types.ConfigEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[entry.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entry.ID)
	}
	for id, e := range m.entries {
		if id != entry.ID && e.Username == entry.Username {
			return fmt.Errorf("%w: username %s", ErrEntryExists, entry.Username)
		}
	}
	m.entries[entry.ID] = entry
	return nil
}

// DeleteEntry removes the entry and its devices.
func (m *MemoryProvider) DeleteEntry(ctx context.Context, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, entryID)
	delete(m.devices, entryID)
	return nil
}

// ListDevices returns the devices of an entry ordered by identifier.
func (m *MemoryProvider) ListDevices(ctx context.Context, entryID string) ([]types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]types.Device, 0, len(m.devices[entryID]))
	for _, d := range m.devices[entryID] {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Identifier < devices[j].Identifier })
	return devices, nil
}

// GetDevice returns a device by registry id.
func (m *MemoryProvider) GetDevice(ctx context.Context, deviceID string) (types.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, devices := range m.devices {
		for _, d := range devices {
			if d.ID == deviceID {
				return d, nil
			}
		}
	}
	return types.Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
}

// UpsertDevice creates or updates a device.
func (m *MemoryProvider) UpsertDevice(ctx context.Context, device types.Device) (types.Device, error) {
	if device.EntryID == "" || device.Identifier == "" {
		return types.Device{}, fmt.Errorf("device entryID and identifier cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[device.EntryID]; !ok {
		return types.Device{}, fmt.Errorf("%w: %s", ErrEntryNotFound, device.EntryID)
	}
	devices, ok := m.devices[device.EntryID]
	if !ok {
		devices = map[string]types.Device{}
		m.devices[device.EntryID] = devices
	}
	var prev *types.Device
	if d, ok := devices[device.Identifier]; ok {
		prev = &d
	}
	stored := mergeDevice(prev, device, time.Now().UTC())
	devices[device.Identifier] = stored
	return stored, nil
}

// RemoveDevices deletes the devices with the given identifiers.
func (m *MemoryProvider) RemoveDevices(ctx context.Context, entryID string, identifiers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range identifiers {
		delete(m.devices[entryID], id)
	}
	return nil
}
