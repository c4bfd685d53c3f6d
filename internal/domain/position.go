package domain

import "github.com/shopspring/decimal"

// Position is a derived, read-only view of exposure in one outcome token,
// recomputed from filled orders. Never the source of truth by itself; the
// reconciler keeps the underlying fills honest against the exchange.
type Position struct {
	Market        string
	TokenID       string
	Outcome       string
	NetSize       decimal.Decimal // positive long, negative short
	AvgEntryPrice decimal.Decimal
}

// ApplyFill folds one fill into the position. Fills that grow the position
// move the average entry price; fills that reduce it keep the average, and a
// fill that flips the sign restarts the average at the fill price.
func (p *Position) ApplyFill(side string, price, size decimal.Decimal) {
	signed := size
	if side == SideSell {
		signed = size.Neg()
	}
	newNet := p.NetSize.Add(signed)

	switch {
	case p.NetSize.IsZero():
		p.AvgEntryPrice = price
	case p.NetSize.Sign() == signed.Sign():
		// Same direction: volume-weighted average.
		prev := p.AvgEntryPrice.Mul(p.NetSize.Abs())
		add := price.Mul(size)
		p.AvgEntryPrice = prev.Add(add).Div(p.NetSize.Abs().Add(size))
	case newNet.IsZero():
		p.AvgEntryPrice = decimal.Zero
	case newNet.Sign() != p.NetSize.Sign():
		// Crossed through flat: basis restarts at this fill.
		p.AvgEntryPrice = price
	}
	p.NetSize = newNet
}
