package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DateTimeLayout is how MyGas formats timestamps (no zone).
	DateTimeLayout = "2006-01-02T15:04:05"
	// DateLayout is how MyGas formats plain dates.
	DateLayout = "2006-01-02"
)

// FlexInt decodes integers that MyGas sometimes sends as strings.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (i *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*i = FlexInt(f)
	return nil
}

// FlexString decodes strings that MyGas sometimes sends as numbers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*s = ""
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = FlexString(str)
	default:
		*s = FlexString(b)
	}
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// Amount is an optional decimal figure. Money, volumes and rates all use it.
// A null or empty value leaves it invalid.
type Amount struct {
	decimal.NullDecimal
}

// NewAmount returns a valid Amount.
func NewAmount(f float64) Amount {
	return Amount{decimal.NewNullDecimal(decimal.NewFromFloat(f))}
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if s := string(b); s == "null" || s == `""` {
		a.Valid = false
		return nil
	}
	return a.NullDecimal.UnmarshalJSON(b)
}

// Float returns the value as a float64 and whether it was set.
func (a Amount) Float() (float64, bool) {
	if !a.Valid {
		return 0, false
	}
	return a.Decimal.InexactFloat64(), true
}

// ParseDate parses a MyGas date using the given layout. Empty or malformed
// values return false.
func ParseDate(value, layout string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
