package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAccount    = errors.New("unknown payment account")
	ErrInvalidAmount     = errors.New("invalid payment amount")
)

// Gateway moves native payment between external accounts and the exchange
// treasury. Collect pulls funds from an account into the treasury; Payout
// pushes treasury funds back out. Both legs either complete fully or
// return an error with no funds moved.
type Gateway interface {
	Collect(ctx context.Context, account string, amount decimal.Decimal) error
	Payout(ctx context.Context, account string, amount decimal.Decimal) error
}

// MemoryBank is an in-process Gateway backed by a map of account balances.
// Used in tests and single-node deployments without an external payment
// provider.
type MemoryBank struct {
	mu       sync.Mutex
	accounts map[string]decimal.Decimal
	treasury decimal.Decimal
}

// NewMemoryBank creates an empty in-memory bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		accounts: make(map[string]decimal.Decimal),
	}
}

// Deposit funds an external account. Bootstrap/test helper.
func (b *MemoryBank) Deposit(account string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[account] = b.accounts[account].Add(amount)
}

// Collect moves amount from the account into the treasury.
func (b *MemoryBank) Collect(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.accounts[account]
	if bal.LessThan(amount) {
		return fmt.Errorf("collect from %s: %w", account, ErrInsufficientFunds)
	}

	b.accounts[account] = bal.Sub(amount)
	b.treasury = b.treasury.Add(amount)
	return nil
}

// Payout moves amount from the treasury to the account.
func (b *MemoryBank) Payout(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.IsNegative() || amount.IsZero() {
		return ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.treasury.LessThan(amount) {
		return fmt.Errorf("payout to %s: %w", account, ErrInsufficientFunds)
	}

	b.treasury = b.treasury.Sub(amount)
	b.accounts[account] = b.accounts[account].Add(amount)
	return nil
}

// BalanceOf returns the external balance of an account.
func (b *MemoryBank) BalanceOf(account string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[account]
}

// Treasury returns the funds currently held by the exchange.
func (b *MemoryBank) Treasury() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.treasury
}
