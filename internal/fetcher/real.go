package fetcher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"spread-sync/internal/merge"
)

const (
	realTradesSQL = `SELECT
        ts,
        price,
        volume,
        action,
        broker_id,
        trade_id
    FROM %s
    WHERE instrument = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts, trade_id;`

	realOrdersSQL = `SELECT
        ts,
        bid,
        ask
    FROM %s
    WHERE instrument = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`
)

// Querier is the subset of pgxpool.Pool used by the real fetcher.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// RealOptions parameterise the exchange feed fetcher.
type RealOptions struct {
	TradesTable string
	OrdersTable string
	Timeout     time.Duration
}

// Real reads exchange trades and top-of-book rows from PostgreSQL.
type Real struct {
	db        Querier
	logger    zerolog.Logger
	timeout   time.Duration
	tradesSQL string
	ordersSQL string
}

// NewReal builds a real-feed fetcher over the given pool.
func NewReal(db Querier, opts RealOptions, logger zerolog.Logger) *Real {
	trades := opts.TradesTable
	if trades == "" {
		trades = "spread_trades"
	}
	orders := opts.OrdersTable
	if orders == "" {
		orders = "spread_orders"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Real{
		db:        db,
		logger:    logger.With().Str("component", "real_fetcher").Logger(),
		timeout:   timeout,
		tradesSQL: fmt.Sprintf(realTradesSQL, pgx.Identifier{trades}.Sanitize()),
		ordersSQL: fmt.Sprintf(realOrdersSQL, pgx.Identifier{orders}.Sanitize()),
	}
}

// FetchReal returns the exchange rows of one window. An instrument without
// rows yields an empty payload.
func (r *Real) FetchReal(ctx context.Context, req Request) (*merge.RealPayload, error) {
	if r.db == nil {
		return nil, unavailable("real", errors.New("database not configured"))
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	instrument := req.Instrument()
	payload := &merge.RealPayload{}

	rows, err := r.db.Query(ctx, r.tradesSQL, instrument, req.From, req.To)
	if err != nil {
		return nil, unavailable("real", fmt.Errorf("query trades: %w", err))
	}
	payload.Trades, err = collect(rows, scanRealTrade)
	if err != nil {
		return nil, unavailable("real", fmt.Errorf("scan trades: %w", err))
	}

	rows, err = r.db.Query(ctx, r.ordersSQL, instrument, req.From, req.To)
	if err != nil {
		return nil, unavailable("real", fmt.Errorf("query orders: %w", err))
	}
	payload.Orders, err = collect(rows, scanRealOrder)
	if err != nil {
		return nil, unavailable("real", fmt.Errorf("scan orders: %w", err))
	}

	r.logger.Debug().Str("instrument", instrument).
		Time("from", req.From).
		Time("to", req.To).
		Int("trades", len(payload.Trades)).
		Int("orders", len(payload.Orders)).
		Msg("real window fetched")
	return payload, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows pgx.Rows, scan func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRealTrade(row rowScanner) (merge.RealTrade, error) {
	var (
		ts        time.Time
		priceStr  string
		volumeStr string
		action    int
		brokerID  sql.NullInt64
		tradeID   sql.NullString
	)
	if err := row.Scan(&ts, &priceStr, &volumeStr, &action, &brokerID, &tradeID); err != nil {
		return merge.RealTrade{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return merge.RealTrade{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := decimal.NewFromString(volumeStr)
	if err != nil {
		return merge.RealTrade{}, fmt.Errorf("parse volume: %w", err)
	}

	trade := merge.RealTrade{
		Time:   ts.UTC(),
		Price:  price.InexactFloat64(),
		Volume: volume.InexactFloat64(),
		Action: float64(action),
	}
	if brokerID.Valid {
		trade.BrokerID = int(brokerID.Int64)
	}
	if tradeID.Valid {
		trade.TradeID = tradeID.String
	}
	return trade, nil
}

func scanRealOrder(row rowScanner) (merge.RealOrder, error) {
	var (
		ts  time.Time
		bid sql.NullString
		ask sql.NullString
	)
	if err := row.Scan(&ts, &bid, &ask); err != nil {
		return merge.RealOrder{}, err
	}

	order := merge.RealOrder{Time: ts.UTC()}
	var err error
	if order.Bid, err = nullablePrice(bid); err != nil {
		return merge.RealOrder{}, fmt.Errorf("parse bid: %w", err)
	}
	if order.Ask, err = nullablePrice(ask); err != nil {
		return merge.RealOrder{}, fmt.Errorf("parse ask: %w", err)
	}
	return order, nil
}

func nullablePrice(v sql.NullString) (*float64, error) {
	if !v.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return nil, err
	}
	f := d.InexactFloat64()
	return &f, nil
}

var _ RealFetcher = (*Real)(nil)
