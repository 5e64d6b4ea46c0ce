package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jellydator/ttlcache/v2"

	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/retry"
	"github.com/jameshartig/mygas/pkg/types"
)

// SubmitOutcome is the answer to an accepted reading.
type SubmitOutcome struct {
	Value   float64 `json:"readings"`
	Sent    bool    `json:"sent"`
	Message string  `json:"message"`
}

// SubmitReading sends value for the counter device identified by identifier.
func (c *Coordinator) SubmitReading(ctx context.Context, identifier string, value float64) (SubmitOutcome, error) {
	ctx = log.WithEntry(ctx, c.entryID)
	tree := c.tree()
	pos, ok := Find(tree, identifier)
	if !ok {
		return SubmitOutcome{}, fmt.Errorf("%w: account for device %s", ErrNotFound, identifier)
	}
	if !pos.IsCounter() {
		return SubmitOutcome{}, fmt.Errorf("%w: device %s is not a counter", ErrNotFound, identifier)
	}
	sub, _ := tree.SubAccount(pos.Account, pos.SubAccount)
	counter := sub.Counters[pos.Counter]
	if counter.UUID == "" {
		return SubmitOutcome{}, fmt.Errorf("%w: counter uuid for counter %d", ErrNotFound, pos.Counter)
	}

	lspuID := int(sub.AccountID)
	var elsID *int
	if tree.IsELS() {
		acct, _ := tree.Account(pos.Account)
		id := acct.RemoteID()
		elsID = &id
	}

	api := c.client()
	res, err := retry.Do(ctx, c.policy, "send_readings", func(ctx context.Context) ([]types.SubmitResult, error) {
		return api.SendReadings(ctx, lspuID, counter.UUID, value, elsID)
	})
	if err != nil {
		return SubmitOutcome{}, err
	}

	if len(res) == 0 || len(res[0].Counters) == 0 {
		return SubmitOutcome{}, fmt.Errorf("%w: %+v", ErrMalformedResponse, res)
	}
	// one counter per request
	result := res[0].Counters[0]
	if result.Sent == nil {
		return SubmitOutcome{}, fmt.Errorf("%w: missing sent flag", ErrMalformedResponse)
	}
	if !*result.Sent {
		log.Ctx(ctx).WarnContext(ctx, "readings rejected", slog.String("counter", counter.UUID), slog.String("message", result.Message))
		return SubmitOutcome{}, fmt.Errorf("%w: %s", ErrReadingRejected, result.Message)
	}
	log.Ctx(ctx).InfoContext(ctx, "readings sent", slog.String("counter", counter.UUID), slog.Float64("value", value))
	return SubmitOutcome{Value: value, Sent: true, Message: result.Message}, nil
}

// Bill is a receipt for one month. URL is empty when it was emailed.
type Bill struct {
	Date  string `json:"date"`
	URL   string `json:"url,omitempty"`
	Email string `json:"email,omitempty"`
}

// BillDate returns the first day of the month of t.
func BillDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// FetchBill asks for the receipt of the account that owns the device
// identified by identifier. A zero date means the current month. When email
// is set MyGas mails the receipt instead of only linking it.
func (c *Coordinator) FetchBill(ctx context.Context, identifier string, date time.Time, email string) (Bill, error) {
	ctx = log.WithEntry(ctx, c.entryID)
	tree := c.tree()
	pos, ok := Find(tree, identifier)
	if !ok {
		return Bill{}, fmt.Errorf("%w: account for device %s", ErrNotFound, identifier)
	}
	number, _ := tree.AccountNumber(pos.Account, pos.SubAccount)
	acct, _ := tree.Account(pos.Account)

	if date.IsZero() {
		date = BillDate(c.now())
	}
	day := date.Format(types.DateLayout)

	key := number + "|" + day
	if email == "" {
		if v, err := c.bills.Get(key); err == nil {
			log.Ctx(ctx).DebugContext(ctx, "bill retrieved from cache", slog.String("date", day))
			return v.(Bill), nil
		} else if !errors.Is(err, ttlcache.ErrNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "failed to read bill cache", slog.Any("error", err))
		}
	}

	api := c.client()
	req := types.ReceiptRequest{
		Date:          day,
		Email:         email,
		AccountNumber: number,
		AccountID:     acct.RemoteID(),
		ELS:           tree.IsELS(),
	}
	res, err := retry.Do(ctx, c.policy, "get_receipt", func(ctx context.Context) (*types.Receipt, error) {
		return api.GetReceipt(ctx, req)
	})
	if err != nil {
		return Bill{}, err
	}
	if res.URL == "" && email == "" {
		return Bill{}, fmt.Errorf("%w: receipt without url", ErrMalformedResponse)
	}

	bill := Bill{Date: day, URL: unquote(res.URL), Email: unquote(email)}
	if email == "" {
		if err := c.bills.Set(key, bill); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to cache bill", slog.Any("error", err))
		}
	}
	return bill, nil
}

func unquote(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
