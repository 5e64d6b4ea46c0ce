// Package entity describes the sensors and buttons exposed for every device
// of the account tree. Descriptions are pure projections over a snapshot.
package entity

import (
	"time"

	"github.com/jameshartig/mygas/pkg/types"
)

const (
	UnitRUB         = "RUB"
	UnitCubicMeters = "m³"
	UnitRUBPerCubic = "RUB/m³"

	ClassMonetary  = "monetary"
	ClassGas       = "gas"
	ClassDate      = "date"
	ClassTimestamp = "timestamp"

	StateTotal = "total"
)

// SensorDescription describes one sensor. Value returns nil when there is no
// value to report.
type SensorDescription struct {
	Key               string
	DeviceClass       string
	Unit              string
	StateClass        string
	Diagnostic        bool
	DisabledByDefault bool

	Value     func(Source) any
	Attrs     func(Source) map[string]any
	Available func(Source) bool
}

// ButtonDescription describes a button. Pressing it calls Service for the
// device the button belongs to.
type ButtonDescription struct {
	Key     string
	Service string
}

func amount(a types.Amount) any {
	if f, ok := a.Float(); ok {
		return f
	}
	return nil
}

func date(value, layout string) any {
	if t, ok := types.ParseDate(value, layout); ok {
		return t.Format(types.DateLayout)
	}
	return nil
}

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func hasBalance(s Source) bool {
	_, ok := s.SubAccount().CurrentBalance()
	return ok
}

func balanceSensor(key string, field func(types.Balance) types.Amount, class, unit string, disabled bool) SensorDescription {
	return SensorDescription{
		Key:               key,
		DeviceClass:       class,
		Unit:              unit,
		DisabledByDefault: disabled,
		Value: func(s Source) any {
			b, _ := s.SubAccount().CurrentBalance()
			return amount(field(b))
		},
		Available: hasBalance,
	}
}

func moneySensor(key string, field func(types.Balance) types.Amount, disabled bool) SensorDescription {
	return balanceSensor(key, field, ClassMonetary, UnitRUB, disabled)
}

// AccountSensors are created once per sub-account.
var AccountSensors = []SensorDescription{
	{
		Key:        "account",
		Diagnostic: true,
		Value:      func(s Source) any { return str(s.SubAccount().Account.String()) },
		Available:  func(s Source) bool { return s.SubAccount().Account != "" },
		Attrs: func(s Source) map[string]any {
			params := s.SubAccount().Parameters
			attrs := make(map[string]any, len(params))
			for _, p := range params {
				attrs[p.Name] = p.Value.String()
			}
			return attrs
		},
	},
	{
		Key:         "balance",
		DeviceClass: ClassMonetary,
		Unit:        UnitRUB,
		Value:       func(s Source) any { return amount(s.SubAccount().Balance) },
		Available:   func(s Source) bool { return s.SubAccount().Balance.Valid },
	},
	moneySensor("charged", func(b types.Balance) types.Amount { return b.ChargedSum }, false),
	moneySensor("paid", func(b types.Balance) types.Amount { return b.PaidSum }, false),
	moneySensor("debt", func(b types.Balance) types.Amount { return b.DebtSum }, false),
	{
		Key:               "balance_period",
		Diagnostic:        true,
		DisabledByDefault: true,
		Value: func(s Source) any {
			b, _ := s.SubAccount().CurrentBalance()
			return str(b.Name)
		},
		Available: hasBalance,
	},
	{
		Key:               "balance_date",
		DeviceClass:       ClassDate,
		Diagnostic:        true,
		DisabledByDefault: true,
		Value: func(s Source) any {
			b, _ := s.SubAccount().CurrentBalance()
			return date(b.Date, types.DateLayout)
		},
		Available: hasBalance,
	},
	moneySensor("balance_start", func(b types.Balance) types.Amount { return b.BalanceStartSum }, true),
	moneySensor("balance_end", func(b types.Balance) types.Amount { return b.BalanceEndSum }, true),
	balanceSensor("charged_volume", func(b types.Balance) types.Amount { return b.ChargedVolume }, ClassGas, UnitCubicMeters, true),
	moneySensor("circulation", func(b types.Balance) types.Amount { return b.CirculationSum }, true),
	moneySensor("forgiven_debt", func(b types.Balance) types.Amount { return b.ForgivenDebt }, true),
	moneySensor("planned", func(b types.Balance) types.Amount { return b.PlannedSum }, true),
	moneySensor("privilege", func(b types.Balance) types.Amount { return b.PrivilegeSum }, true),
	balanceSensor("privilege_volume", func(b types.Balance) types.Amount { return b.PrivilegeVolume }, ClassGas, UnitCubicMeters, true),
	moneySensor("restored_debt", func(b types.Balance) types.Amount { return b.RestoredDebt }, true),
	moneySensor("payment_adjustments", func(b types.Balance) types.Amount { return b.PaymentAdjustments }, true),
	moneySensor("end_balance_apgp", func(b types.Balance) types.Amount { return b.EndBalanceApgp }, true),
	moneySensor("prepayment_charged", func(b types.Balance) types.Amount { return b.PrepaymentChargedAccumSum }, true),
	{
		Key:         "current_timestamp",
		DeviceClass: ClassTimestamp,
		Diagnostic:  true,
		Value: func(s Source) any {
			if s.LastUpdate.IsZero() {
				return nil
			}
			return s.LastUpdate.Format(time.RFC3339)
		},
		Available: func(s Source) bool { return !s.LastUpdate.IsZero() },
	},
}

func counterAttrs(s Source) map[string]any {
	c := s.Counter()
	return map[string]any{
		"model":             str(c.Model),
		"serial_number":     str(c.SerialNumber),
		"state":             str(c.State),
		"equipment_kind":    str(c.EquipmentKind),
		"position":          str(c.Position),
		"service_name":      str(c.ServiceName),
		"number_of_rates":   int(c.NumberOfRates),
		"check_date":        date(c.CheckDate, types.DateTimeLayout),
		"tech_support_date": date(c.TechSupportDate, types.DateTimeLayout),
		"seal_date":         date(c.SealDate, types.DateTimeLayout),
		"factory_seal_date": date(c.FactorySealDate, types.DateTimeLayout),
		"commissioned_on":   date(c.CommissionedOn, types.DateTimeLayout),
	}
}

func priceSensor(key string, field func(types.Price) types.Amount, disabled bool) SensorDescription {
	return SensorDescription{
		Key:               key,
		DeviceClass:       ClassMonetary,
		Unit:              UnitRUBPerCubic,
		DisabledByDefault: disabled,
		Value: func(s Source) any {
			p := s.Counter().Price
			if p == nil {
				return nil
			}
			return amount(field(*p))
		},
		Available: func(s Source) bool { return s.Counter().Price != nil },
	}
}

func latest(s Source) types.Reading {
	r, _ := s.Counter().Latest()
	return r
}

// CounterSensors are created for every counter.
var CounterSensors = []SensorDescription{
	{
		Key:        "counter",
		Diagnostic: true,
		Value:      func(s Source) any { return str(s.Counter().Name) },
		Available:  func(s Source) bool { return s.Counter().Name != "" },
		Attrs:      counterAttrs,
	},
	{
		Key:         "average_rate",
		DeviceClass: ClassGas,
		Unit:        UnitCubicMeters,
		Value:       func(s Source) any { return amount(s.Counter().AverageRate) },
		Available:   func(s Source) bool { return s.Counter().AverageRate.Valid },
	},
	priceSensor("price", func(p types.Price) types.Amount { return p.Day }, false),
	{
		Key:         "readings_date",
		DeviceClass: ClassDate,
		Value:       func(s Source) any { return date(latest(s).Date, types.DateTimeLayout) },
		Available:   func(s Source) bool { return latest(s).Date != "" },
	},
	{
		Key:         "readings",
		DeviceClass: ClassGas,
		Unit:        UnitCubicMeters,
		StateClass:  StateTotal,
		Value:       func(s Source) any { return amount(latest(s).ValueDay) },
		Available:   func(s Source) bool { return latest(s).ValueDay.Valid },
	},
	{
		Key:         "consumption",
		DeviceClass: ClassGas,
		Unit:        UnitCubicMeters,
		StateClass:  StateTotal,
		Value:       func(s Source) any { return amount(latest(s).Rate) },
		Available:   func(s Source) bool { return latest(s).Rate.Valid },
	},
}

// MultiTariffSensors are added for counters with more than one rate.
var MultiTariffSensors = []SensorDescription{
	priceSensor("price_middle", func(p types.Price) types.Amount { return p.Middle }, true),
	priceSensor("price_night", func(p types.Price) types.Amount { return p.Night }, true),
}

// ServiceBalanceSensor is created for every service.
var ServiceBalanceSensor = SensorDescription{
	Key:         "service_balance",
	DeviceClass: ClassMonetary,
	Unit:        UnitRUB,
	Value:       func(s Source) any { return amount(s.Service().Balance) },
	Available:   func(Source) bool { return true },
}

// Buttons are created on every account and counter device.
var Buttons = []ButtonDescription{
	{Key: "refresh", Service: "refresh"},
	{Key: "get_bill", Service: "get_bill"},
}
