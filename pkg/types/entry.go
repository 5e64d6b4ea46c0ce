package types

import "time"

// ConfigEntry is one configured MyGas login.
type ConfigEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Username is unique across entries.
	Username string       `json:"username"`
	Options  EntryOptions `json:"options"`

	// Credentials for MyGas (encrypted)
	EncryptedCredentials []byte `json:"encryptedCredentials,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EntryOptions control how an entry is polled.
type EntryOptions struct {
	// AutoUpdate enables scheduled refreshes.
	AutoUpdate bool `json:"autoUpdate"`
	// ScanIntervalHours, when positive, refreshes every N hours. Otherwise a
	// refresh happens once a day at a random time inside the update window.
	ScanIntervalHours int `json:"scanIntervalHours,omitempty"`
}

// DefaultEntryOptions are applied to new entries.
func DefaultEntryOptions() EntryOptions {
	return EntryOptions{AutoUpdate: true}
}

// Credentials for MyGas
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DeviceKind is the level of the account tree a device represents.
type DeviceKind string

const (
	DeviceKindAccount DeviceKind = "account"
	DeviceKindCounter DeviceKind = "counter"
	DeviceKindService DeviceKind = "service"
)

// Device is a registry record. Identifier is the stable identifier derived
// from the account tree; ID is assigned by the registry and never changes.
type Device struct {
	ID               string     `json:"id"`
	EntryID          string     `json:"entryID"`
	Identifier       string     `json:"identifier"`
	Kind             DeviceKind `json:"kind"`
	Name             string     `json:"name"`
	Manufacturer     string     `json:"manufacturer,omitempty"`
	Model            string     `json:"model,omitempty"`
	SerialNumber     string     `json:"serialNumber,omitempty"`
	ConfigurationURL string     `json:"configurationURL,omitempty"`
	// ViaIdentifier is the identifier of the parent device, if any.
	ViaIdentifier string    `json:"viaIdentifier,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
