package types

// Organization says how the sub-accounts of a snapshot are grouped.
type Organization int

const (
	// Independent accounts (LSPU): every top-level entry is its own list of
	// sub-accounts, each carrying its own account number.
	Independent Organization = iota
	// Unified accounts (ELS): every top-level entry is a group whose single
	// account number covers all of its sub-accounts.
	Unified
)

func (o Organization) String() string {
	if o == Unified {
		return "els"
	}
	return "lspu"
}

// Account is one top-level entry of a Tree.
type Account interface {
	// RemoteID is the MyGas id of the entry (the ELS group id or the LSPU id).
	RemoteID() int
	SubAccounts() []SubAccount
	// Number returns the account number that identifies sub-account lspu.
	Number(lspu int) (string, bool)
	Alias(lspu int) string
}

// UnifiedAccount is an ELS group.
type UnifiedAccount struct {
	ID   int
	Info ELSInfo
}

var _ Account = UnifiedAccount{}

func (u UnifiedAccount) RemoteID() int { return u.ID }

func (u UnifiedAccount) SubAccounts() []SubAccount { return u.Info.LSPUInfoGroup }

func (u UnifiedAccount) Number(lspu int) (string, bool) {
	if lspu < 0 || lspu >= len(u.Info.LSPUInfoGroup) {
		return "", false
	}
	n := u.Info.ELS.JntAccountNum.String()
	return n, n != ""
}

func (u UnifiedAccount) Alias(lspu int) string {
	if lspu < 0 || lspu >= len(u.Info.LSPUInfoGroup) {
		return ""
	}
	return u.Info.ELS.Alias
}

// IndependentAccount is an LSPU entry with its sub-accounts.
type IndependentAccount struct {
	ID    int
	Items []SubAccount
}

var _ Account = IndependentAccount{}

func (i IndependentAccount) RemoteID() int { return i.ID }

func (i IndependentAccount) SubAccounts() []SubAccount { return i.Items }

func (i IndependentAccount) Number(lspu int) (string, bool) {
	if lspu < 0 || lspu >= len(i.Items) {
		return "", false
	}
	n := i.Items[lspu].Account.String()
	return n, n != ""
}

func (i IndependentAccount) Alias(lspu int) string {
	if lspu < 0 || lspu >= len(i.Items) {
		return ""
	}
	return i.Items[lspu].Alias
}

// Tree is the normalized account tree. Accounts are addressed by position and
// keep the order MyGas returned them in. A Tree is never modified after it is
// built; all methods are safe on a nil Tree.
type Tree struct {
	Organization Organization
	Accounts     []Account
}

// IsELS reports whether the tree holds unified accounts.
func (t *Tree) IsELS() bool {
	return t != nil && t.Organization == Unified
}

// AccountIDs returns the positional ids of all accounts.
func (t *Tree) AccountIDs() []int {
	if t == nil {
		return nil
	}
	ids := make([]int, len(t.Accounts))
	for i := range t.Accounts {
		ids[i] = i
	}
	return ids
}

// Account returns the account at position a.
func (t *Tree) Account(a int) (Account, bool) {
	if t == nil || a < 0 || a >= len(t.Accounts) {
		return nil, false
	}
	return t.Accounts[a], true
}

// SubAccounts returns the sub-accounts of account a.
func (t *Tree) SubAccounts(a int) []SubAccount {
	acct, ok := t.Account(a)
	if !ok {
		return nil
	}
	return acct.SubAccounts()
}

// SubAccount returns sub-account l of account a.
func (t *Tree) SubAccount(a, l int) (SubAccount, bool) {
	subs := t.SubAccounts(a)
	if l < 0 || l >= len(subs) {
		return SubAccount{}, false
	}
	return subs[l], true
}

// AccountNumber returns the account number for (a, l).
func (t *Tree) AccountNumber(a, l int) (string, bool) {
	acct, ok := t.Account(a)
	if !ok {
		return "", false
	}
	return acct.Number(l)
}

// AccountAlias returns the alias for (a, l), if any.
func (t *Tree) AccountAlias(a, l int) string {
	acct, ok := t.Account(a)
	if !ok {
		return ""
	}
	return acct.Alias(l)
}

// Counters returns the counters of (a, l).
func (t *Tree) Counters(a, l int) []Counter {
	sub, ok := t.SubAccount(a, l)
	if !ok {
		return nil
	}
	return sub.Counters
}

// Services returns the services of (a, l).
func (t *Tree) Services(a, l int) []Service {
	sub, ok := t.SubAccount(a, l)
	if !ok {
		return nil
	}
	return sub.Services
}
