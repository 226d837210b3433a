package transfer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/relicmarket/settlement/pkg/errors"
)

// NativeLedger is the engine's view of native-currency accounts. The
// surrounding ledger owns the balances; the engine only moves value
// between accounts it has escrowed against.
type NativeLedger interface {
	BalanceOf(addr common.Address) decimal.Decimal
	Transfer(from, to common.Address, amount decimal.Decimal) error
}

// MemoryLedger is an in-process NativeLedger. It backs the engine in
// single-node deployments and every test.
type MemoryLedger struct {
	balances map[common.Address]decimal.Decimal
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[common.Address]decimal.Decimal)}
}

// Deposit credits an account. Used when a caller attaches native value
// to an operation and by test fixtures.
func (l *MemoryLedger) Deposit(addr common.Address, amount decimal.Decimal) {
	l.balances[addr] = l.balances[addr].Add(amount)
}

// BalanceOf returns the current balance of addr.
func (l *MemoryLedger) BalanceOf(addr common.Address) decimal.Decimal {
	return l.balances[addr]
}

// Transfer moves amount from one account to another. An overdraft means
// the escrow model was violated upstream, so it surfaces as a fault,
// not a recoverable error.
func (l *MemoryLedger) Transfer(from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.ErrInsufficientFunds.WithDetail("negative transfer amount %s", amount)
	}
	if l.balances[from].LessThan(amount) {
		return errors.ErrInsufficientFunds.WithDetail(
			"account %s holds %s, needs %s", from.Hex(), l.balances[from], amount)
	}
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	return nil
}
