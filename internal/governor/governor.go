package governor

import (
	"context"
	"errors"

	"github.com/terminal-bench/timemarket/internal/params"
	"github.com/terminal-bench/timemarket/pkg/messaging"
)

var (
	ErrUnauthorized      = errors.New("caller is not the operator")
	ErrTariffInvalid     = errors.New("tariff is zero or invalid")
	ErrCeilingInvalid    = errors.New("account ceiling is zero or invalid")
	ErrCommissionInvalid = errors.New("commission rate out of range")
)

// Fee and compensation rate bounds, in percent.
const (
	maxFeePercent          = 20
	maxCompensationPercent = 100
)

// Governor applies parameter updates and the operational halt flag. Every
// mutation is gated on the fixed operator identity. The governor never
// participates in the accounting invariants; it only writes the handful of
// configuration values the engine reads.
type Governor struct {
	params *params.Store
	msg    *messaging.Client
	mirror *Mirror
}

// New creates a governor over the given parameter store. Messaging and
// mirror are optional.
func New(store *params.Store, msg *messaging.Client, mirror *Mirror) *Governor {
	return &Governor{
		params: store,
		msg:    msg,
		mirror: mirror,
	}
}

// SetTariff updates the payment per unit.
func (g *Governor) SetTariff(ctx context.Context, caller string, tariff uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if tariff == 0 {
		return ErrTariffInvalid
	}
	g.params.Update(func(p *params.Parameters) {
		p.Tariff = tariff
	})
	g.announce(ctx)
	return nil
}

// SetAccountCeiling updates the per-account holding limit. Accounts
// already above a lowered ceiling keep their units; the limit binds on
// future balance increases only.
func (g *Governor) SetAccountCeiling(ctx context.Context, caller string, ceiling uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if ceiling == 0 {
		return ErrCeilingInvalid
	}
	g.params.Update(func(p *params.Parameters) {
		p.AccountCeiling = ceiling
	})
	g.announce(ctx)
	return nil
}

// SetFeePercent updates the marketplace commission (0-20).
func (g *Governor) SetFeePercent(ctx context.Context, caller string, pct uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if pct > maxFeePercent {
		return ErrCommissionInvalid
	}
	g.params.Update(func(p *params.Parameters) {
		p.FeePercent = pct
	})
	g.announce(ctx)
	return nil
}

// SetCompensationPercent updates the early departure payout rate (0-100).
func (g *Governor) SetCompensationPercent(ctx context.Context, caller string, pct uint64) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	if pct > maxCompensationPercent {
		return ErrCommissionInvalid
	}
	g.params.Update(func(p *params.Parameters) {
		p.CompensationPercent = pct
	})
	g.announce(ctx)
	return nil
}

// Halt suspends all mutating exchange operations except session end.
func (g *Governor) Halt(ctx context.Context, caller string) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	g.params.SetHalted(true)
	g.announce(ctx)
	g.announceHalt(ctx, true)
	return nil
}

// Resume lifts an operational halt.
func (g *Governor) Resume(ctx context.Context, caller string) error {
	if err := g.authorize(caller); err != nil {
		return err
	}
	g.params.SetHalted(false)
	g.announce(ctx)
	g.announceHalt(ctx, false)
	return nil
}

func (g *Governor) authorize(caller string) error {
	if caller != g.params.Operator() {
		return ErrUnauthorized
	}
	return nil
}

// announce mirrors the parameter set to etcd and publishes an update
// event. Both are best-effort; the store is the source of truth.
func (g *Governor) announce(ctx context.Context) {
	p := g.params.Snapshot()
	evt := messaging.ParamsEvent{
		Tariff:              p.Tariff,
		AccountCeiling:      p.AccountCeiling,
		FeePercent:          p.FeePercent,
		CompensationPercent: p.CompensationPercent,
		GlobalCap:           p.GlobalCap,
		Halted:              g.params.Halted(),
	}

	if g.mirror != nil {
		_ = g.mirror.Publish(ctx, evt)
	}
	if g.msg != nil {
		_ = g.msg.Publish(ctx, messaging.SubjectParamsUpdated, evt)
	}
}

func (g *Governor) announceHalt(ctx context.Context, halted bool) {
	if g.msg != nil {
		_ = g.msg.Publish(ctx, messaging.SubjectHaltChanged, struct {
			Halted bool `json:"halted"`
		}{Halted: halted})
	}
}
