package position

import (
	"fmt"
	"sync"
)

// Account is the shared balance that margin is reserved against. Every debit
// and credit is a single atomic operation under one lock so concurrent opens
// and closes cannot lose updates.
type Account struct {
	mu       sync.Mutex
	balance  float64
	reserved float64
}

func NewAccount(equityUSD float64) *Account {
	return &Account{balance: equityUSD}
}

// Balance returns the free balance.
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Reserved returns margin currently locked in positions.
func (a *Account) Reserved() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved
}

// Equity is free balance plus reserved margin.
func (a *Account) Equity() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance + a.reserved
}

// Reserve locks margin for a new position.
func (a *Account) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("non-positive margin %.2f", amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.balance {
		return fmt.Errorf("insufficient balance: need %.2f, have %.2f", amount, a.balance)
	}
	a.balance -= amount
	a.reserved += amount
	return nil
}

// Release returns reserved margin to the free balance.
func (a *Account) Release(amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.reserved {
		amount = a.reserved
	}
	a.reserved -= amount
	a.balance += amount
}

// Settle applies a realized P&L (positive or negative) to the free balance.
func (a *Account) Settle(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += pnl
}
