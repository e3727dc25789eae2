// Package broker defines the Broker interface used by the portfolio simulator
// and provides an in-memory implementation that fills orders at a given price.
package broker

import (
	"errors"
	"time"

	"meridian/internal/domain"
)

var (
	// ErrInsufficientCash is returned when a buy costs more than the cash held.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientShares is returned when a sell exceeds the shares held.
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Broker holds the cash and shares of a single-instrument portfolio and
// executes fills against them.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// State returns the current holdings valued at price.
	State(price float64) domain.PortfolioState

	// TargetShares returns the whole number of shares that puts frac of the
	// portfolio's equity, marked at price, into the instrument.
	TargetShares(frac, price float64) int64

	// Execute fills qty shares at price on date and returns the ledger entry.
	Execute(symbol string, date time.Time, side domain.Side, qty int64, price float64) (domain.Trade, error)
}
