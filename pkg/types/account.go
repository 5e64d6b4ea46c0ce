package types

import (
	"bytes"
	"encoding/json"
)

// AccountsInfo is the top-level accounts list. Exactly one of ELSGroup or
// LSPU is expected to be populated.
type AccountsInfo struct {
	ELSGroup []ELSGroupRef `json:"elsGroup,omitempty"`
	LSPU     []LSPURef     `json:"lspu,omitempty"`
}

// ELSGroupRef references a unified account group.
type ELSGroupRef struct {
	ELS ELSHeader `json:"els"`
}

// LSPURef references an independent account.
type LSPURef struct {
	ID   FlexInt `json:"id"`
	Name string  `json:"name,omitempty"`
}

// ELSHeader describes a unified account group.
type ELSHeader struct {
	ID            FlexInt    `json:"id"`
	JntAccountNum FlexString `json:"jntAccountNum,omitempty"`
	Alias         string     `json:"alias,omitempty"`
}

// ELSInfo is the detail of a unified account group.
type ELSInfo struct {
	ELS           ELSHeader    `json:"els"`
	LSPUInfoGroup []SubAccount `json:"lspuInfoGroup"`
}

// LSPUInfo is the detail of an independent account. MyGas returns either a
// single object or a list; both decode into a list.
type LSPUInfo []SubAccount

// UnmarshalJSON implements json.Unmarshaler.
func (l *LSPUInfo) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null":
		*l = nil
		return nil
	case b[0] == '[':
		var list []SubAccount
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		if list == nil {
			list = []SubAccount{}
		}
		*l = list
		return nil
	default:
		var single SubAccount
		if err := json.Unmarshal(b, &single); err != nil {
			return err
		}
		*l = LSPUInfo{single}
		return nil
	}
}

// SubAccount is a single personal account (LSPU). It owns the counters and
// services.
type SubAccount struct {
	Account    FlexString  `json:"account"`
	Alias      string      `json:"alias,omitempty"`
	AccountID  FlexInt     `json:"accountId"`
	Balance    Amount      `json:"balance"`
	Parameters []Parameter `json:"parameters,omitempty"`
	Balances   []Balance   `json:"balances,omitempty"`
	Counters   []Counter   `json:"counters,omitempty"`
	Services   []Service   `json:"services,omitempty"`
}

// CurrentBalance returns the first (current period) balance entry.
func (s SubAccount) CurrentBalance() (Balance, bool) {
	if len(s.Balances) == 0 {
		return Balance{}, false
	}
	return s.Balances[0], true
}

// Parameter is a free-form name/value pair attached to an account, e.g. the
// address.
type Parameter struct {
	Name  string     `json:"name"`
	Value FlexString `json:"value"`
}

// Balance is a billing period summary.
type Balance struct {
	UUID                      string `json:"uuid,omitempty"`
	Date                      string `json:"date,omitempty"`
	Name                      string `json:"name,omitempty"`
	ChargedSum                Amount `json:"chargedSum"`
	PaidSum                   Amount `json:"paidSum"`
	DebtSum                   Amount `json:"debtSum"`
	BalanceStartSum           Amount `json:"balanceStartSum"`
	BalanceEndSum             Amount `json:"balanceEndSum"`
	ChargedVolume             Amount `json:"chargedVolume"`
	CirculationSum            Amount `json:"circulationSum"`
	ForgivenDebt              Amount `json:"forgivenDebt"`
	PlannedSum                Amount `json:"plannedSum"`
	PrivilegeSum              Amount `json:"privilegeSum"`
	PrivilegeVolume           Amount `json:"privilegeVolume"`
	RestoredDebt              Amount `json:"restoredDebt"`
	PaymentAdjustments        Amount `json:"paymentAdjustments"`
	EndBalanceApgp            Amount `json:"endBalanceApgp"`
	PrepaymentChargedAccumSum Amount `json:"prepaymentChargedAccumSum"`
}

// Counter is a meter attached to a sub-account.
type Counter struct {
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	Model           string    `json:"model,omitempty"`
	SerialNumber    string    `json:"serialNumber,omitempty"`
	State           string    `json:"state,omitempty"`
	EquipmentKind   string    `json:"equipmentKind,omitempty"`
	Position        string    `json:"position,omitempty"`
	ServiceName     string    `json:"serviceName,omitempty"`
	NumberOfRates   FlexInt   `json:"numberOfRates,omitempty"`
	AverageRate     Amount    `json:"averageRate"`
	CheckDate       string    `json:"checkDate,omitempty"`
	TechSupportDate string    `json:"techSupportDate,omitempty"`
	SealDate        string    `json:"sealDate,omitempty"`
	FactorySealDate string    `json:"factorySealDate,omitempty"`
	CommissionedOn  string    `json:"commissionedOn,omitempty"`
	Price           *Price    `json:"price,omitempty"`
	Values          []Reading `json:"values,omitempty"`
}

// Latest returns the most recent reading. MyGas sorts readings newest first.
func (c Counter) Latest() (Reading, bool) {
	if len(c.Values) == 0 {
		return Reading{}, false
	}
	return c.Values[0], true
}

// Rates returns the number of tariff zones, defaulting to 1.
func (c Counter) Rates() int {
	if c.NumberOfRates <= 0 {
		return 1
	}
	return int(c.NumberOfRates)
}

// Price holds per-zone unit prices.
type Price struct {
	Day    Amount `json:"day"`
	Middle Amount `json:"middle"`
	Night  Amount `json:"night"`
}

// Reading is one submitted meter reading.
type Reading struct {
	Date        string `json:"date,omitempty"`
	ValueDay    Amount `json:"valueDay"`
	ValueMiddle Amount `json:"valueMiddle"`
	ValueNight  Amount `json:"valueNight"`
	Rate        Amount `json:"rate"`
}

// Service is a billable service line of a sub-account.
type Service struct {
	ID       FlexString `json:"id"`
	Name     string     `json:"name"`
	Balance  Amount     `json:"balance"`
	Children []Child    `json:"children,omitempty"`
}

// Child is a tariff line of a service.
type Child struct {
	Name        string `json:"name"`
	Norm        Amount `json:"norm"`
	Price       Amount `json:"price"`
	Tariff      Amount `json:"tariff"`
	CounterUUID string `json:"counterUuid,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
}

// SubmitResult is one element of the send-readings response.
type SubmitResult struct {
	Counters []SubmitCounterResult `json:"counters"`
}

// SubmitCounterResult reports whether a reading was accepted.
type SubmitCounterResult struct {
	Sent    *bool  `json:"sent"`
	Message string `json:"message"`
}

// ReceiptRequest asks for a bill for a given month.
type ReceiptRequest struct {
	// Date is formatted with DateLayout.
	Date string
	// Email, when set, asks MyGas to email the receipt.
	Email         string
	AccountNumber string
	// AccountID is the remote id of the top-level account.
	AccountID int
	ELS       bool
}

// Receipt is the response to a receipt request.
type Receipt struct {
	URL string `json:"url,omitempty"`
}
