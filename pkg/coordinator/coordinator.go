// Package coordinator owns the polled account tree of one config entry. It
// refreshes the tree on a schedule or on demand, keeps the last good tree
// when a refresh fails and answers reads without touching the network.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/mygas"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/types"
)

var (
	// ErrShapeMismatch means the accounts list had neither unified nor
	// independent accounts.
	ErrShapeMismatch = errors.New("unrecognized accounts shape")
	// ErrMissingAccountNumber means a sub-account came back without the
	// number that identifies it.
	ErrMissingAccountNumber = errors.New("sub-account has no account number")
	// ErrNotFound means an identifier no longer matches the current tree.
	ErrNotFound = errors.New("not found")
	// ErrMalformedResponse means MyGas answered without the expected fields.
	ErrMalformedResponse = errors.New("unrecognized response from mygas")
	// ErrReadingRejected means MyGas refused a meter reading.
	ErrReadingRejected = errors.New("readings not sent")
)

const (
	// DefaultCooldown is how long RequestRefresh waits for more triggers.
	DefaultCooldown = 5 * time.Second
	// DefaultBillTTL is how long a receipt URL is reused.
	DefaultBillTTL = 10 * time.Minute
)

// Snapshot is one generation of polled data. A Snapshot is never modified
// after it is published.
type Snapshot struct {
	Accounts   *types.AccountsInfo
	Tree       *types.Tree
	LastUpdate time.Time
}

// Config configures a Coordinator.
type Config struct {
	EntryID string
	API     mygas.API
	Options types.EntryOptions

	// Policy wraps every remote call. Zero limits mean retry.DefaultPolicy and
	// a nil IsAuth means mygas.IsAuth.
	Policy   retry.Policy
	Cooldown time.Duration
	BillTTL  time.Duration

	// Cron runs scheduled refreshes. Without it Start does not schedule.
	Cron *cron.Cron
	Now  func() time.Time
	// Rand returns a random int in [0, n) for the daily update window.
	Rand func(n int) int
}

// Coordinator refreshes and serves the account tree of one entry.
type Coordinator struct {
	entryID string
	policy  retry.Policy
	now     func() time.Time
	rand    func(n int) int

	snap    atomic.Pointer[Snapshot]
	options atomic.Pointer[types.EntryOptions]
	force   atomic.Bool

	group   singleflight.Group
	cycleMu sync.Mutex

	mu          sync.Mutex
	api         mygas.API
	lastErr     error
	needsReauth bool
	listeners   []func(context.Context, *Snapshot)

	debounce *debouncer
	bills    *ttlcache.Cache

	schedMu   sync.Mutex
	cron      *cron.Cron
	cronEntry cron.EntryID
	scheduled bool
	baseCtx   context.Context
}

// New returns a Coordinator with an empty tree.
func New(cfg Config) *Coordinator {
	p := cfg.Policy
	if p.Timeout == 0 && p.MaxTries == 0 && p.Delay == 0 {
		def := retry.DefaultPolicy()
		p.Timeout, p.MaxTries, p.Delay = def.Timeout, def.MaxTries, def.Delay
	}
	if p.IsAuth == nil {
		p.IsAuth = mygas.IsAuth
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.BillTTL <= 0 {
		cfg.BillTTL = DefaultBillTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		entryID: cfg.EntryID,
		policy:  p,
		now:     cfg.Now,
		rand:    cfg.Rand,
		api:     cfg.API,
		cron:    cfg.Cron,
		baseCtx: context.Background(),
	}
	opts := cfg.Options
	c.options.Store(&opts)

	c.bills = ttlcache.NewCache()
	c.bills.SkipTTLExtensionOnHit(true)
	_ = c.bills.SetTTL(cfg.BillTTL)

	c.debounce = newDebouncer(cfg.Cooldown, c.debouncedRefresh)
	return c
}

// EntryID returns the config entry this coordinator serves.
func (c *Coordinator) EntryID() string {
	return c.entryID
}

func (c *Coordinator) client() mygas.API {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api
}

// SetAPI replaces the client, typically after new credentials were entered,
// and clears the re-authentication flag.
func (c *Coordinator) SetAPI(api mygas.API) {
	c.mu.Lock()
	c.api = api
	c.needsReauth = false
	c.mu.Unlock()
}

// Options returns the current polling options.
func (c *Coordinator) Options() types.EntryOptions {
	return *c.options.Load()
}

// SetOptions replaces the polling options. The schedule picks them up
// immediately.
func (c *Coordinator) SetOptions(opts types.EntryOptions) {
	c.options.Store(&opts)
	c.reschedule()
}

// OnUpdate registers fn to run after every successful refresh. fn runs on the
// refreshing goroutine before Refresh returns.
func (c *Coordinator) OnUpdate(fn func(ctx context.Context, snap *Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// ForceNextUpdate makes the next cycle fetch the accounts list again.
func (c *Coordinator) ForceNextUpdate() {
	c.force.Store(true)
}

// Refresh runs one update cycle. Concurrent callers share a single cycle.
// The shared cycle outlives a caller whose ctx is canceled; that caller
// returns ctx.Err() without waiting.
func (c *Coordinator) Refresh(ctx context.Context) error {
	return c.join(ctx, "refresh", false)
}

// ForceRefresh runs a cycle that fetches the accounts list again. Concurrent
// forced callers share a single cycle and its result.
func (c *Coordinator) ForceRefresh(ctx context.Context) error {
	return c.join(ctx, "force", true)
}

func (c *Coordinator) join(ctx context.Context, key string, force bool) error {
	ch := c.group.DoChan(key, func() (any, error) {
		cycleCtx, cancel := c.cycleContext(ctx)
		defer cancel()
		c.cycleMu.Lock()
		defer c.cycleMu.Unlock()
		if force {
			c.force.Store(true)
		}
		return nil, c.cycleLocked(cycleCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cycleContext keeps the values of ctx but only ends with the coordinator's
// base context.
func (c *Coordinator) cycleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.schedMu.Lock()
	base := c.baseCtx
	c.schedMu.Unlock()

	cycleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(base, cancel)
	return cycleCtx, func() {
		stop()
		cancel()
	}
}

func (c *Coordinator) cycleLocked(ctx context.Context) error {
	ctx = log.WithEntry(ctx, c.entryID)
	start := time.Now()
	// consumed by this cycle whatever the outcome
	force := c.force.Swap(false)
	defer c.reschedule()

	var accounts *types.AccountsInfo
	if prev := c.snap.Load(); prev != nil {
		accounts = prev.Accounts
	}

	log.Ctx(ctx).DebugContext(ctx, "start updating data", slog.Bool("force", force))
	api := c.client()
	if accounts == nil || force {
		var err error
		accounts, err = retry.Do(ctx, c.policy, "get_accounts", api.GetAccounts)
		if err != nil {
			return c.fail(ctx, start, err)
		}
	} else {
		log.Ctx(ctx).DebugContext(ctx, "accounts info retrieved from cache")
	}

	tree, err := Normalize(ctx, api, c.policy, accounts)
	if err != nil {
		return c.fail(ctx, start, err)
	}

	snap := &Snapshot{
		Accounts:   accounts,
		Tree:       tree,
		LastUpdate: c.now(),
	}
	c.snap.Store(snap)

	c.mu.Lock()
	c.lastErr = nil
	c.needsReauth = false
	listeners := append([]func(context.Context, *Snapshot){}, c.listeners...)
	c.mu.Unlock()

	observeRefresh(c.entryID, "success", start, snap.LastUpdate)
	log.Ctx(ctx).InfoContext(
		ctx,
		"data updated",
		slog.String("organization", tree.Organization.String()),
		slog.Int("accounts", len(tree.Accounts)),
		slog.Duration("took", time.Since(start)),
	)

	for _, fn := range listeners {
		fn(ctx, snap)
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, start time.Time, err error) error {
	result := "update_failed"
	c.mu.Lock()
	c.lastErr = err
	if errors.Is(err, retry.ErrAuthFailed) {
		c.needsReauth = true
		result = "auth_failed"
	}
	c.mu.Unlock()

	observeRefresh(c.entryID, result, start, time.Time{})
	log.Ctx(ctx).ErrorContext(ctx, "failed to update data", slog.String("result", result), slog.Any("error", err))
	return err
}

// Snapshot returns the current snapshot, or nil before the first successful
// refresh.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snap.Load()
}

func (c *Coordinator) tree() *types.Tree {
	if s := c.snap.Load(); s != nil {
		return s.Tree
	}
	return nil
}

// LastUpdate returns when the current snapshot was fetched.
func (c *Coordinator) LastUpdate() time.Time {
	if s := c.snap.Load(); s != nil {
		return s.LastUpdate
	}
	return time.Time{}
}

// LastError returns the error of the last cycle, nil if it succeeded.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// NeedsReauth reports whether MyGas rejected the credentials. Scheduled
// refreshes are skipped until SetAPI or a successful refresh clears it.
func (c *Coordinator) NeedsReauth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsReauth
}

// IsELS reports whether the current tree holds unified accounts.
func (c *Coordinator) IsELS() bool { return c.tree().IsELS() }

// AccountIDs returns the positional ids of all accounts.
func (c *Coordinator) AccountIDs() []int { return c.tree().AccountIDs() }

// SubAccounts returns the sub-accounts of account a.
func (c *Coordinator) SubAccounts(a int) []types.SubAccount { return c.tree().SubAccounts(a) }

// AccountNumber returns the account number of (a, l).
func (c *Coordinator) AccountNumber(a, l int) (string, bool) { return c.tree().AccountNumber(a, l) }

// AccountAlias returns the alias of (a, l).
func (c *Coordinator) AccountAlias(a, l int) string { return c.tree().AccountAlias(a, l) }

// Counters returns the counters of (a, l).
func (c *Coordinator) Counters(a, l int) []types.Counter { return c.tree().Counters(a, l) }

// Services returns the services of (a, l).
func (c *Coordinator) Services(a, l int) []types.Service { return c.tree().Services(a, l) }

// RequestRefresh asks for a refresh. Requests are coalesced: the refresh runs
// once the cooldown passes without waiting for the caller.
func (c *Coordinator) RequestRefresh() {
	c.debounce.Trigger()
}

func (c *Coordinator) debouncedRefresh() {
	c.schedMu.Lock()
	ctx := c.baseCtx
	c.schedMu.Unlock()
	// errors are recorded and logged by the cycle
	_ = c.Refresh(ctx)
}

// Close stops scheduling and releases the coordinator's resources.
func (c *Coordinator) Close() error {
	c.Stop()
	c.debounce.Stop()
	forgetEntry(c.entryID)
	if err := c.bills.Close(); err != nil && !errors.Is(err, ttlcache.ErrClosed) {
		return fmt.Errorf("failed to close bill cache: %w", err)
	}
	return nil
}
