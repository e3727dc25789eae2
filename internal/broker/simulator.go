package broker

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"meridian/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. Cash is
// kept in decimal so that repeated fills do not accumulate rounding drift.
// A SimulatorBroker belongs to exactly one run and is not safe for
// concurrent use.
type SimulatorBroker struct {
	cash   decimal.Decimal
	shares int64
}

// NewSimulatorBroker creates a SimulatorBroker holding initialCash and no
// shares.
func NewSimulatorBroker(initialCash float64) *SimulatorBroker {
	return &SimulatorBroker{cash: decimal.NewFromFloat(initialCash)}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Cash returns the cash balance.
func (b *SimulatorBroker) Cash() float64 { return b.cash.InexactFloat64() }

// Shares returns the number of shares held.
func (b *SimulatorBroker) Shares() int64 { return b.shares }

// State returns the holdings valued at price.
func (b *SimulatorBroker) State(price float64) domain.PortfolioState {
	return domain.PortfolioState{
		Cash:      b.cash.InexactFloat64(),
		Shares:    b.shares,
		LastPrice: price,
	}
}

func (b *SimulatorBroker) equity(price decimal.Decimal) decimal.Decimal {
	return b.cash.Add(price.Mul(decimal.NewFromInt(b.shares)))
}

// TargetShares returns floor(frac × equity / price) with equity marked at
// price. The resulting position never costs more than frac × equity, so
// moving to it keeps cash non-negative.
func (b *SimulatorBroker) TargetShares(frac, price float64) int64 {
	if frac <= 0 || price <= 0 {
		return 0
	}
	p := decimal.NewFromFloat(price)
	budget := decimal.NewFromFloat(frac).Mul(b.equity(p))
	if budget.Sign() <= 0 {
		return 0
	}
	target := budget.Div(p).Floor().IntPart()
	// Div rounds at DivisionPrecision; step back if that rounded up past
	// the budget.
	for target > 0 && p.Mul(decimal.NewFromInt(target)).GreaterThan(budget) {
		target--
	}
	return target
}

// Execute fills qty shares at price. A buy must be covered by cash and a sell
// by held shares; on error the holdings are unchanged.
func (b *SimulatorBroker) Execute(symbol string, date time.Time, side domain.Side, qty int64, price float64) (domain.Trade, error) {
	if qty <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: order quantity must be positive, got %d", domain.ErrInput, qty)
	}
	if price <= 0 {
		return domain.Trade{}, fmt.Errorf("%w: fill price must be positive, got %v", domain.ErrInput, price)
	}

	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty))
	switch side {
	case domain.SideBuy:
		if notional.GreaterThan(b.cash) {
			return domain.Trade{}, fmt.Errorf("buying %d %s at %v: %w", qty, symbol, price, ErrInsufficientCash)
		}
		b.cash = b.cash.Sub(notional)
		b.shares += qty
	case domain.SideSell:
		if qty > b.shares {
			return domain.Trade{}, fmt.Errorf("selling %d %s with %d held: %w", qty, symbol, b.shares, ErrInsufficientShares)
		}
		b.cash = b.cash.Add(notional)
		b.shares -= qty
	default:
		return domain.Trade{}, fmt.Errorf("%w: unknown side %q", domain.ErrInput, side)
	}

	return domain.Trade{
		Symbol:      symbol,
		Date:        date,
		Side:        side,
		Price:       price,
		Quantity:    qty,
		CashAfter:   b.cash.InexactFloat64(),
		SharesAfter: b.shares,
	}, nil
}
