package coordinator

import (
	"github.com/jameshartig/mygas/pkg/ident"
	"github.com/jameshartig/mygas/pkg/types"
)

// Position addresses a device in a tree. Counter and Service are -1 when the
// device is not a counter or a service.
type Position struct {
	Account    int
	SubAccount int
	Counter    int
	Service    int
}

// IsCounter reports whether the position addresses a counter.
func (p Position) IsCounter() bool { return p.Counter >= 0 }

// IsService reports whether the position addresses a service.
func (p Position) IsService() bool { return p.Service >= 0 }

// FindByIdentifier resolves a device identifier against the current tree.
// false means the identifier matches nothing, which is expected after MyGas
// dropped the account, counter or service.
func (c *Coordinator) FindByIdentifier(identifier string) (Position, bool) {
	return Find(c.tree(), identifier)
}

// Find resolves a device identifier against tree.
func Find(tree *types.Tree, identifier string) (Position, bool) {
	for _, a := range tree.AccountIDs() {
		for l := range tree.SubAccounts(a) {
			number, ok := tree.AccountNumber(a, l)
			if !ok {
				continue
			}
			if identifier == ident.Account(number) {
				return Position{Account: a, SubAccount: l, Counter: -1, Service: -1}, true
			}
			for i, counter := range tree.Counters(a, l) {
				if counter.UUID == "" {
					continue
				}
				if identifier == ident.Counter(number, counter.UUID) {
					return Position{Account: a, SubAccount: l, Counter: i, Service: -1}, true
				}
			}
			for i, service := range tree.Services(a, l) {
				if service.ID == "" {
					continue
				}
				if identifier == ident.Service(number, service.ID.String()) {
					return Position{Account: a, SubAccount: l, Counter: -1, Service: i}, true
				}
			}
		}
	}
	return Position{Account: -1, SubAccount: -1, Counter: -1, Service: -1}, false
}
