package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/timemarket/internal/ledger"
	"github.com/terminal-bench/timemarket/internal/params"
	"github.com/terminal-bench/timemarket/internal/registry"
	"github.com/terminal-bench/timemarket/internal/session"
	"github.com/terminal-bench/timemarket/pkg/messaging"
	"github.com/terminal-bench/timemarket/pkg/payments"
)

// Clock supplies the logical time used for session accounting.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Engine executes every exchange operation against the four stores.
// Operations are fully serialized on a single mutex: each one computes
// all of its preconditions, then applies all of its mutations, before the
// next operation is observed. A failed operation mutates nothing.
type Engine struct {
	mu sync.Mutex

	params   *params.Store
	ledger   *ledger.Store
	registry *registry.Registry
	sessions *session.Tracker
	payments payments.Gateway
	msg      *messaging.Client

	clock Clock
	unit  time.Duration // wall time corresponding to one time unit
}

// Config wires an Engine to its stores and collaborators.
type Config struct {
	Params   *params.Store
	Ledger   *ledger.Store
	Registry *registry.Registry
	Sessions *session.Tracker
	Payments payments.Gateway

	// Messaging is optional; events are published best-effort after a
	// successful mutation and never affect the operation's outcome.
	Messaging *messaging.Client

	// Clock defaults to wall time. SessionUnit defaults to one hour.
	Clock       Clock
	SessionUnit time.Duration
}

// NewEngine creates an exchange engine.
func NewEngine(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	unit := cfg.SessionUnit
	if unit <= 0 {
		unit = time.Hour
	}
	return &Engine{
		params:   cfg.Params,
		ledger:   cfg.Ledger,
		registry: cfg.Registry,
		sessions: cfg.Sessions,
		payments: cfg.Payments,
		msg:      cfg.Messaging,
		clock:    clock,
		unit:     unit,
	}
}

// RegisterListing offers intervals of the caller's own units for resale at
// the declared tariff. Intervals merge into any existing listing; the
// tariff overwrites the previous one. Listing existing supply never
// touches the global allocation counter.
func (e *Engine) RegisterListing(ctx context.Context, caller string, intervals, tariff uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}
	if tariff == 0 {
		return ErrTariffInvalid
	}

	listed, _ := e.registry.Get(caller)
	required, ok := addChecked(intervals, listed.Intervals)
	if !ok {
		return ErrIntervalInvalid
	}
	if e.ledger.Balance(caller) < required {
		return ErrAllocationShortage
	}

	e.registry.Merge(caller, intervals, tariff)

	e.publish(ctx, messaging.SubjectListingRegistered, messaging.ListingEvent{
		Account:   caller,
		Intervals: intervals,
		Tariff:    tariff,
	})
	return nil
}

// CancelListing withdraws the caller's listing from the marketplace.
// Listings never held units out of the balance, so cancellation only
// removes the offer.
func (e *Engine) CancelListing(ctx context.Context, caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}

	listed, ok := e.registry.Get(caller)
	if !ok || listed.Intervals == 0 {
		return ErrAllocationShortage
	}

	e.registry.Remove(caller)

	e.publish(ctx, messaging.SubjectListingCancelled, messaging.ListingEvent{
		Account:   caller,
		Intervals: listed.Intervals,
	})
	return nil
}

// Acquire buys intervals from a provider's listing. The cost settles in
// credit: cost to the provider, fee to the operator, both debited from the
// caller. Units move provider to caller; circulation is unchanged.
func (e *Engine) Acquire(ctx context.Context, caller, provider string, intervals uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if caller == provider {
		return ErrIdenticalAccount
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}

	listed, ok := e.registry.Get(provider)
	if !ok || listed.Intervals < intervals {
		return ErrAllocationShortage
	}

	providerBalance := e.ledger.Balance(provider)
	if providerBalance < intervals {
		return ErrAllocationShortage
	}

	p := e.params.Snapshot()
	callerBalance := e.ledger.Balance(caller)
	newBalance, ok := addChecked(callerBalance, intervals)
	if !ok || newBalance > p.AccountCeiling {
		return ErrAllocationCeiling
	}

	cost, ok := mulChecked(intervals, listed.Tariff)
	if !ok {
		return ErrIntervalInvalid
	}
	fee, ok := percentOf(cost, p.FeePercent)
	if !ok {
		return ErrIntervalInvalid
	}
	total, ok := addChecked(cost, fee)
	if !ok {
		return ErrIntervalInvalid
	}

	callerCredit := e.ledger.Credit(caller)
	if callerCredit < total {
		return ErrAllocationShortage
	}

	operator := e.params.Operator()
	e.ledger.SetCredit(caller, callerCredit-total)
	e.ledger.SetCredit(provider, e.ledger.Credit(provider)+cost)
	e.ledger.SetCredit(operator, e.ledger.Credit(operator)+fee)
	e.ledger.SetBalance(provider, providerBalance-intervals)
	e.ledger.SetBalance(caller, newBalance)
	e.registry.Consume(provider, intervals)

	e.publish(ctx, messaging.SubjectTradeExecuted, messaging.TradeEvent{
		Buyer:     caller,
		Provider:  provider,
		Intervals: intervals,
		Cost:      cost,
		Fee:       fee,
	})
	return nil
}

// Purchase mints intervals directly from the operator pool. The caller
// pays cost = intervals x tariff in native payment; the operator's credit
// pool grows by the same amount, which later funds early departure
// compensation. The global allocation counter grows and must stay under
// the cap.
func (e *Engine) Purchase(ctx context.Context, caller string, intervals uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}

	p := e.params.Snapshot()
	balance := e.ledger.Balance(caller)
	newBalance, ok := addChecked(balance, intervals)
	if !ok || newBalance > p.AccountCeiling {
		return ErrAllocationCeiling
	}

	allocated := e.params.Allocated()
	newAllocated, ok := addChecked(allocated, intervals)
	if !ok || newAllocated > p.GlobalCap {
		return ErrAllocationCeiling
	}

	cost, ok := mulChecked(intervals, p.Tariff)
	if !ok {
		return ErrIntervalInvalid
	}

	// Native payment leg. A failure here aborts the whole operation with
	// zero ledger mutation.
	if err := e.payments.Collect(ctx, caller, nativeAmount(cost)); err != nil {
		return fmt.Errorf("payment leg: %w", err)
	}

	operator := e.params.Operator()
	e.params.SetAllocated(newAllocated)
	e.ledger.SetBalance(caller, newBalance)
	e.ledger.SetCredit(operator, e.ledger.Credit(operator)+cost)

	e.publish(ctx, messaging.SubjectUnitsPurchased, messaging.MintEvent{
		Account:   caller,
		Intervals: intervals,
		Cost:      cost,
		Allocated: newAllocated,
	})
	return nil
}

// Transfer moves intervals from the caller to a beneficiary with no
// payment attached.
func (e *Engine) Transfer(ctx context.Context, caller, beneficiary string, intervals uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if caller == beneficiary {
		return ErrIdenticalAccount
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}

	balance := e.ledger.Balance(caller)
	if balance < intervals {
		return ErrAllocationShortage
	}

	p := e.params.Snapshot()
	dest, ok := addChecked(e.ledger.Balance(beneficiary), intervals)
	if !ok || dest > p.AccountCeiling {
		return ErrAllocationCeiling
	}

	e.ledger.SetBalance(caller, balance-intervals)
	e.ledger.SetBalance(beneficiary, dest)

	e.publish(ctx, messaging.SubjectUnitsTransferred, messaging.TransferEvent{
		From:      caller,
		To:        beneficiary,
		Intervals: intervals,
	})
	return nil
}

// CompensateEarlyDeparture burns intervals from the caller's balance and
// pays compensation = intervals x tariff x rate% out of the operator's
// credit pool. The burned units leave circulation; the counter decrement
// clamps at zero.
func (e *Engine) CompensateEarlyDeparture(ctx context.Context, caller string, intervals uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}

	balance := e.ledger.Balance(caller)
	if balance < intervals {
		return ErrAllocationShortage
	}

	p := e.params.Snapshot()
	gross, ok := mulChecked(intervals, p.Tariff)
	if !ok {
		return ErrIntervalInvalid
	}
	compensation, ok := percentOf(gross, p.CompensationPercent)
	if !ok {
		return ErrIntervalInvalid
	}

	operator := e.params.Operator()
	operatorCredit := e.ledger.Credit(operator)
	if operatorCredit < compensation {
		return ErrCompensationFailed
	}

	allocated := e.params.Allocated()
	newAllocated := uint64(0)
	if allocated > intervals {
		newAllocated = allocated - intervals
	}

	e.ledger.SetBalance(caller, balance-intervals)
	e.ledger.SetCredit(operator, operatorCredit-compensation)
	e.ledger.SetCredit(caller, e.ledger.Credit(caller)+compensation)
	e.params.SetAllocated(newAllocated)

	e.publish(ctx, messaging.SubjectCompensationPaid, messaging.CompensationEvent{
		Account:      caller,
		Intervals:    intervals,
		Compensation: compensation,
	})
	return nil
}

// WithdrawCredit converts settlement credit back into native payment.
func (e *Engine) WithdrawCredit(ctx context.Context, caller string, amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if amount == 0 {
		return ErrIntervalInvalid
	}

	credit := e.ledger.Credit(caller)
	if credit < amount {
		return ErrAllocationShortage
	}

	// Payout leg first: if native payment cannot be issued, the credit
	// balance must remain untouched.
	if err := e.payments.Payout(ctx, caller, nativeAmount(amount)); err != nil {
		return fmt.Errorf("payment leg: %w", err)
	}

	e.ledger.SetCredit(caller, credit-amount)

	e.publish(ctx, messaging.SubjectCreditWithdrawn, messaging.WithdrawalEvent{
		Account: caller,
		Amount:  amount,
	})
	return nil
}

// BeginSession reserves intervals for active use. The reserved units are
// deducted from the balance up front and come back only through
// EndSession.
func (e *Engine) BeginSession(ctx context.Context, caller string, intervals uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.params.Halted() {
		return ErrHalted
	}
	if intervals == 0 {
		return ErrIntervalInvalid
	}

	if s, ok := e.sessions.Get(caller); ok && s.Active {
		return ErrAlreadyOccupying
	}

	balance := e.ledger.Balance(caller)
	if balance < intervals {
		return ErrAllocationShortage
	}

	e.ledger.SetBalance(caller, balance-intervals)
	e.sessions.Set(caller, session.Session{
		StartedAt: e.clock.Now(),
		Reserved:  intervals,
		Active:    true,
	})

	e.publish(ctx, messaging.SubjectSessionStarted, messaging.SessionEvent{
		Account:  caller,
		Reserved: intervals,
	})
	return nil
}

// EndSession closes the caller's active session and returns the reclaimed
// interval count. unused = max(0, reserved - elapsed whole units); with
// reclaim set, unused units go back into the balance. EndSession stays
// available while the exchange is halted so holders can always unwind a
// reservation.
func (e *Engine) EndSession(ctx context.Context, caller string, reclaim bool) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions.Get(caller)
	if !ok || !s.Active {
		return 0, ErrNoActiveSession
	}

	elapsedTime := e.clock.Now().Sub(s.StartedAt)
	if elapsedTime < 0 {
		elapsedTime = 0
	}
	elapsed := uint64(elapsedTime / e.unit)

	var unused uint64
	if s.Reserved > elapsed {
		unused = s.Reserved - elapsed
	}

	e.sessions.Clear(caller)

	var reclaimed uint64
	if reclaim && unused > 0 {
		e.ledger.SetBalance(caller, e.ledger.Balance(caller)+unused)
		reclaimed = unused
	}

	e.publish(ctx, messaging.SubjectSessionEnded, messaging.SessionEvent{
		Account:   caller,
		Reclaimed: reclaimed,
	})
	return reclaimed, nil
}

// Queries. These take store-level read locks only and may run concurrently
// with the serialized operation processor.

// Balance returns an account's resource-unit balance.
func (e *Engine) Balance(account string) uint64 {
	return e.ledger.Balance(account)
}

// Credit returns an account's settlement-credit balance.
func (e *Engine) Credit(account string) uint64 {
	return e.ledger.Credit(account)
}

// Listing returns an account's marketplace listing, if any.
func (e *Engine) Listing(account string) (registry.Listing, bool) {
	return e.registry.Get(account)
}

// Session returns an account's session record, if any.
func (e *Engine) Session(account string) (session.Session, bool) {
	return e.sessions.Get(account)
}

// Params returns the current parameter set.
func (e *Engine) Params() params.Parameters {
	return e.params.Snapshot()
}

// Allocated returns the units currently in circulation.
func (e *Engine) Allocated() uint64 {
	return e.params.Allocated()
}

// Snapshot captures the full exchange state for the archiver.
type Snapshot struct {
	Balances  map[string]uint64
	Credits   map[string]uint64
	Listings  map[string]registry.Listing
	Sessions  map[string]session.Session
	Allocated uint64
	TakenAt   time.Time
}

// Snapshot returns a consistent copy of all exchange state. It holds the
// operation mutex so no operation is ever captured half-applied.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	balances, credits := e.ledger.Snapshot()
	return Snapshot{
		Balances:  balances,
		Credits:   credits,
		Listings:  e.registry.Snapshot(),
		Sessions:  e.sessions.Snapshot(),
		Allocated: e.params.Allocated(),
		TakenAt:   e.clock.Now(),
	}
}

// publish sends an event after a successful mutation. Event delivery is
// best-effort and never affects the operation's outcome.
func (e *Engine) publish(ctx context.Context, subject string, data interface{}) {
	if e.msg == nil {
		return
	}
	_ = e.msg.Publish(ctx, subject, data)
}

// nativeAmount converts a credit-denominated amount into the native
// payment unit.
func nativeAmount(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
