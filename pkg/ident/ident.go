// Package ident derives the stable identifiers that tie devices and entities
// to the account tree. Positional indices change when MyGas reorders its
// lists; account numbers, counter UUIDs and service ids do not.
package ident

import (
	"sort"
	"strings"

	"github.com/gosimple/slug"

	"github.com/jameshartig/mygas/pkg/types"
)

// Domain prefixes every entity identifier.
const Domain = "mygas"

// Slugify lowercases s, transliterates it to ASCII and reduces it to
// [a-z0-9_] with runs of anything else collapsed into a single underscore.
func Slugify(s string) string {
	out := slug.MakeLang(s, "en")
	var b strings.Builder
	b.Grow(len(out))
	underscore := false
	for _, r := range out {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	res := strings.TrimRight(b.String(), "_")
	if res == "" {
		return "unknown"
	}
	return res
}

// Account is the identifier of an account-level device.
func Account(number string) string {
	return Slugify(number + "_account")
}

// Counter is the identifier of a counter device.
func Counter(number, uuid string) string {
	return Slugify(number + "_counter_" + uuid)
}

// Service is the identifier of a service device.
func Service(number, serviceID string) string {
	return Slugify(number + "_service_" + serviceID)
}

// Entity is the unique id of an entity on a device.
func Entity(device, key string) string {
	return Slugify(Domain + "_" + device + "_" + key)
}

// Set is a set of device identifiers.
type Set map[string]struct{}

// Has reports whether id is in the set.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the identifiers in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Current returns the identifier of every account, counter and service
// device in tree. Sub-accounts without an account number and counters
// without a UUID have no stable identity and are left out.
func Current(tree *types.Tree) Set {
	set := Set{}
	for _, a := range tree.AccountIDs() {
		for l := range tree.SubAccounts(a) {
			number, ok := tree.AccountNumber(a, l)
			if !ok {
				continue
			}
			set[Account(number)] = struct{}{}
			for _, c := range tree.Counters(a, l) {
				if c.UUID == "" {
					continue
				}
				set[Counter(number, c.UUID)] = struct{}{}
			}
			for _, s := range tree.Services(a, l) {
				if s.ID == "" {
					continue
				}
				set[Service(number, s.ID.String())] = struct{}{}
			}
		}
	}
	return set
}

// Stale returns the registered identifiers missing from current, sorted.
func Stale(registered []string, current Set) []string {
	var stale []string
	seen := make(map[string]bool, len(registered))
	for _, id := range registered {
		if seen[id] || current.Has(id) {
			continue
		}
		seen[id] = true
		stale = append(stale, id)
	}
	sort.Strings(stale)
	return stale
}
