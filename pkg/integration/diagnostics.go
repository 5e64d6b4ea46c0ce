package integration

import (
	"context"

	"github.com/jameshartig/mygas/pkg/types"
)

// Redacted replaces sensitive values in diagnostics.
const Redacted = "**REDACTED**"

// Diagnostics is a support dump of one entry.
type Diagnostics struct {
	Entry    EntryStatus         `json:"entry"`
	Accounts *types.AccountsInfo `json:"accounts,omitempty"`
	Tree     *types.Tree         `json:"tree,omitempty"`
}

// Diagnostics returns the entry and its last snapshot with the username
// redacted. Credentials are never included.
func (i *Integration) Diagnostics(ctx context.Context, entryID string) (Diagnostics, error) {
	entry, err := i.db.GetEntry(ctx, entryID)
	if err != nil {
		return Diagnostics{}, err
	}
	status := i.Status(entry)
	status.Username = Redacted
	status.Title = Redacted

	d := Diagnostics{Entry: status}
	if c, ok := i.coords.Get(entryID); ok {
		if snap := c.Snapshot(); snap != nil {
			d.Accounts = snap.Accounts
			d.Tree = snap.Tree
		}
	}
	return d, nil
}
