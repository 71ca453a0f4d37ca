package merge

import (
	"fmt"
	"strconv"
	"time"

	"spread-sync/internal/record"
)

// Payload is one source's native record collection. Normalize converts it to
// canonical trades and quotes tagged with src; rows that cannot become a
// canonical record are counted per reason.
type Payload interface {
	Len() int
	Normalize(src record.Source) (trades []record.Trade, quotes []record.Quote, dropped map[record.Reason]int)
}

// RealTrade is an exchange execution row.
type RealTrade struct {
	Time     time.Time `json:"time"`
	Price    float64   `json:"price"`
	Volume   float64   `json:"volume"`
	Action   float64   `json:"action"`
	BrokerID int       `json:"broker_id"`
	TradeID  string    `json:"trade_id"`
}

// RealOrder is an exchange top-of-book row; either side may be missing.
type RealOrder struct {
	Time time.Time `json:"time"`
	Bid  *float64  `json:"bid,omitempty"`
	Ask  *float64  `json:"ask,omitempty"`
}

// RealPayload is what the exchange feed returns for one window.
type RealPayload struct {
	Trades []RealTrade `json:"trades"`
	Orders []RealOrder `json:"orders"`
}

var _ Payload = (*RealPayload)(nil)

// Len counts rows.
func (p *RealPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Trades) + len(p.Orders)
}

// Normalize maps signed actions to sides; rows without a positive volume or
// a signed action are invalid.
func (p *RealPayload) Normalize(src record.Source) ([]record.Trade, []record.Quote, map[record.Reason]int) {
	dropped := make(map[record.Reason]int)
	if p == nil {
		return nil, nil, dropped
	}

	trades := make([]record.Trade, 0, len(p.Trades))
	for i, row := range p.Trades {
		side, err := record.SideFromSign(row.Action)
		if err != nil || row.Volume <= 0 || row.Time.IsZero() {
			dropped[record.ReasonInvalidTrade]++
			continue
		}
		id := row.TradeID
		if id == "" {
			id = string(src) + "_" + strconv.Itoa(i)
		}
		trades = append(trades, record.Trade{
			Time:     row.Time,
			Source:   src,
			Price:    row.Price,
			Volume:   row.Volume,
			Side:     side,
			TradeID:  id,
			BrokerID: row.BrokerID,
		})
	}

	quotes := make([]record.Quote, 0, len(p.Orders))
	for _, row := range p.Orders {
		quotes = append(quotes, record.NewQuote(row.Time, src, row.Bid, row.Ask))
	}
	return trades, quotes, dropped
}

// SyntheticTrade carries the executable buy and sell levels of the spread
// built from the legs at one instant.
type SyntheticTrade struct {
	Time time.Time `json:"time"`
	Buy  *float64  `json:"buy,omitempty"`
	Sell *float64  `json:"sell,omitempty"`
}

// SyntheticQuote is the synthetic spread's bid/ask at one instant.
type SyntheticQuote struct {
	Time time.Time `json:"time"`
	Bid  *float64  `json:"bid,omitempty"`
	Ask  *float64  `json:"ask,omitempty"`
}

// SyntheticPayload is what the spread service returns for one window.
type SyntheticPayload struct {
	Trades []SyntheticTrade `json:"trades"`
	Quotes []SyntheticQuote `json:"quotes"`
}

var _ Payload = (*SyntheticPayload)(nil)

// Len counts rows.
func (p *SyntheticPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Trades) + len(p.Quotes)
}

// Normalize turns each buy and sell level into a unit-volume trade attributed
// to SyntheticBrokerID.
func (p *SyntheticPayload) Normalize(src record.Source) ([]record.Trade, []record.Quote, map[record.Reason]int) {
	dropped := make(map[record.Reason]int)
	if p == nil {
		return nil, nil, dropped
	}

	trades := make([]record.Trade, 0, len(p.Trades))
	for _, row := range p.Trades {
		if row.Buy == nil && row.Sell == nil {
			dropped[record.ReasonInvalidTrade]++
			continue
		}
		if row.Buy != nil {
			trades = append(trades, syntheticTrade(src, row.Time, *row.Buy, record.Buy))
		}
		if row.Sell != nil {
			trades = append(trades, syntheticTrade(src, row.Time, *row.Sell, record.Sell))
		}
	}

	quotes := make([]record.Quote, 0, len(p.Quotes))
	for _, row := range p.Quotes {
		quotes = append(quotes, record.NewQuote(row.Time, src, row.Bid, row.Ask))
	}
	return trades, quotes, dropped
}

func syntheticTrade(src record.Source, ts time.Time, price float64, side record.Side) record.Trade {
	return record.Trade{
		Time:     ts,
		Source:   src,
		Price:    price,
		Volume:   1,
		Side:     side,
		TradeID:  fmt.Sprintf("synth_%s_%d", side, ts.UnixNano()),
		BrokerID: SyntheticBrokerID,
	}
}
