package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/terminal-bench/timemarket/pkg/circuit"
)

// BreakerGateway wraps a Gateway with a circuit breaker. Payment providers
// are remote in production deployments; a misbehaving provider should shed
// load instead of stalling every purchase and withdrawal.
//
// Declined payments (insufficient funds, bad amounts) are business
// outcomes, not provider faults, and do not count against the breaker.
type BreakerGateway struct {
	next    Gateway
	breaker *circuit.Breaker
}

// NewBreakerGateway wraps next with circuit breaker protection.
func NewBreakerGateway(next Gateway, cfg circuit.Config) *BreakerGateway {
	return &BreakerGateway{
		next:    next,
		breaker: circuit.NewBreaker(cfg),
	}
}

func (g *BreakerGateway) Collect(ctx context.Context, account string, amount decimal.Decimal) error {
	return g.execute(ctx, func() error {
		return g.next.Collect(ctx, account, amount)
	})
}

func (g *BreakerGateway) Payout(ctx context.Context, account string, amount decimal.Decimal) error {
	return g.execute(ctx, func() error {
		return g.next.Payout(ctx, account, amount)
	})
}

func (g *BreakerGateway) execute(ctx context.Context, fn func() error) error {
	var declined error
	err := g.breaker.Execute(ctx, func() error {
		err := fn()
		if isDeclined(err) {
			declined = err
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	return declined
}

func isDeclined(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrUnknownAccount) ||
		errors.Is(err, ErrInvalidAmount)
}

// State exposes the breaker state for health reporting.
func (g *BreakerGateway) State() circuit.State {
	return g.breaker.State()
}
