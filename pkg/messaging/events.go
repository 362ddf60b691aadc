package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event subjects
const (
	SubjectListingRegistered = "market.listing.registered"
	SubjectListingCancelled  = "market.listing.cancelled"
	SubjectTradeExecuted     = "market.trade.executed"

	SubjectUnitsPurchased   = "ledger.units.purchased"
	SubjectUnitsTransferred = "ledger.units.transferred"
	SubjectCreditWithdrawn  = "ledger.credit.withdrawn"
	SubjectCompensationPaid = "ledger.compensation.paid"

	SubjectSessionStarted = "session.started"
	SubjectSessionEnded   = "session.ended"

	SubjectParamsUpdated = "governor.params.updated"
	SubjectHaltChanged   = "governor.halt.changed"
)

// Event is the envelope for every published message.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Subject   string          `json:"subject"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an event envelope.
func NewEvent(subject string, data interface{}) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}, nil
}

// ListingEvent describes a listing registration or cancellation.
type ListingEvent struct {
	Account   string `json:"account"`
	Intervals uint64 `json:"intervals"`
	Tariff    uint64 `json:"tariff,omitempty"`
}

// TradeEvent describes a completed acquisition.
type TradeEvent struct {
	Buyer     string `json:"buyer"`
	Provider  string `json:"provider"`
	Intervals uint64 `json:"intervals"`
	Cost      uint64 `json:"cost"`
	Fee       uint64 `json:"fee"`
}

// MintEvent describes a direct purchase from the operator pool.
type MintEvent struct {
	Account   string `json:"account"`
	Intervals uint64 `json:"intervals"`
	Cost      uint64 `json:"cost"`
	Allocated uint64 `json:"allocated"`
}

// TransferEvent describes a free balance move between accounts.
type TransferEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Intervals uint64 `json:"intervals"`
}

// WithdrawalEvent describes a credit withdrawal to native payment.
type WithdrawalEvent struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// CompensationEvent describes an early departure payout.
type CompensationEvent struct {
	Account      string `json:"account"`
	Intervals    uint64 `json:"intervals"`
	Compensation uint64 `json:"compensation"`
}

// SessionEvent describes a session transition.
type SessionEvent struct {
	Account   string `json:"account"`
	Reserved  uint64 `json:"reserved,omitempty"`
	Reclaimed uint64 `json:"reclaimed,omitempty"`
}

// ParamsEvent carries the parameter set after a governor update.
type ParamsEvent struct {
	Tariff              uint64 `json:"tariff"`
	AccountCeiling      uint64 `json:"account_ceiling"`
	FeePercent          uint64 `json:"fee_percent"`
	CompensationPercent uint64 `json:"compensation_percent"`
	GlobalCap           uint64 `json:"global_cap"`
	Halted              bool   `json:"halted"`
}
