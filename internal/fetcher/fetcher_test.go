package fetcher

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spread-sync/internal/contract"
	"spread-sync/internal/merge"
	"spread-sync/internal/period"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

var from = time.Date(2025, 6, 26, 0, 0, 0, 0, time.UTC)

func spreadRequest() Request {
	return Request{
		Legs: []Leg{
			{Contract: contract.MustParse("debm07_25"), Period: period.RelativePeriod{Position: 2, Tenor: contract.TenorMonth}, Coefficient: 1},
			{Contract: contract.MustParse("frbm07_25"), Period: period.RelativePeriod{Position: 2, Tenor: contract.TenorMonth}, Coefficient: -1},
		},
		From: from,
		To:   from.AddDate(0, 0, 5),
	}
}

func TestRequestNaming(t *testing.T) {
	req := spreadRequest()
	if got := req.Instrument(); got != "debm2-frbm2" {
		t.Fatalf("instrument = %q, want debm2-frbm2", got)
	}
	if got := req.Coefficients(); got != "1,-1" {
		t.Fatalf("coefficients = %q, want 1,-1", got)
	}
}

func TestSyntheticFetchSuccess(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != syntheticSpreadPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		query = map[string]string{
			"legs":         r.URL.Query().Get("legs"),
			"coefficients": r.URL.Query().Get("coefficients"),
			"from":         r.URL.Query().Get("from"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"trades": [{"time": "2025-06-26T09:00:01Z", "buy": 10.3, "sell": 10.2}],
			"quotes": [{"time": "2025-06-26T09:00:00Z", "bid": 10.1}]
		}`))
	}))
	defer srv.Close()

	s := NewSynthetic(SyntheticOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	payload, err := s.FetchSynthetic(context.Background(), spreadRequest())
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if len(payload.Trades) != 1 || payload.Trades[0].Buy == nil || *payload.Trades[0].Buy != 10.3 {
		t.Fatalf("unexpected trades %+v", payload.Trades)
	}
	if len(payload.Quotes) != 1 || payload.Quotes[0].Ask != nil {
		t.Fatalf("one-sided quote expected, got %+v", payload.Quotes)
	}
	if query["legs"] != "debm2,frbm2" || query["coefficients"] != "1,-1" || query["from"] != "2025-06-26T00:00:00Z" {
		t.Fatalf("unexpected query %v", query)
	}
}

func TestSyntheticNotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewSynthetic(SyntheticOptions{BaseURL: srv.URL}, noopLogger())
	payload, err := s.FetchSynthetic(context.Background(), spreadRequest())
	if err != nil {
		t.Fatalf("404 should be an empty window: %v", err)
	}
	if payload.Len() != 0 {
		t.Fatalf("expected empty payload, got %d rows", payload.Len())
	}
}

func TestSyntheticHTTPErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "leg feed down"})
	}))
	defer srv.Close()

	s := NewSynthetic(SyntheticOptions{BaseURL: srv.URL}, noopLogger())
	_, err := s.FetchSynthetic(context.Background(), spreadRequest())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Source != "synthetic" {
		t.Fatalf("expected UnavailableError for synthetic, got %v", err)
	}
}

func TestSyntheticNeedsTwoLegs(t *testing.T) {
	s := NewSynthetic(SyntheticOptions{BaseURL: "http://localhost"}, noopLogger())
	req := spreadRequest()
	req.Legs = req.Legs[:1]
	if _, err := s.FetchSynthetic(context.Background(), req); err == nil {
		t.Fatal("single leg request should fail")
	}
}

func TestSyntheticRespectsCancelledContext(t *testing.T) {
	s := NewSynthetic(SyntheticOptions{BaseURL: "http://localhost", RatePerSecond: 0.001}, noopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FetchSynthetic(ctx, spreadRequest()); err == nil {
		t.Fatal("cancelled context should fail")
	}
}

func TestRealWithoutDatabaseIsUnavailable(t *testing.T) {
	r := NewReal(nil, RealOptions{}, noopLogger())
	if _, err := r.FetchReal(context.Background(), spreadRequest()); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

type fakeRow []any

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *time.Time:
			*p = f[i].(time.Time)
		case *string:
			*p = f[i].(string)
		case *int:
			*p = f[i].(int)
		case *sql.NullInt64:
			*p = f[i].(sql.NullInt64)
		case *sql.NullString:
			*p = f[i].(sql.NullString)
		default:
			return errors.New("unexpected destination")
		}
	}
	return nil
}

func TestScanRealRows(t *testing.T) {
	ts := from.Add(9 * time.Hour)
	trade, err := scanRealTrade(fakeRow{ts, "33.45", "5", -1, sql.NullInt64{Int64: 1441, Valid: true}, sql.NullString{String: "x1", Valid: true}})
	if err != nil {
		t.Fatalf("scan trade: %v", err)
	}
	if trade.Price != 33.45 || trade.Volume != 5 || trade.Action != -1 || trade.BrokerID != 1441 || trade.TradeID != "x1" {
		t.Fatalf("unexpected trade %+v", trade)
	}

	order, err := scanRealOrder(fakeRow{ts, sql.NullString{String: "33.40", Valid: true}, sql.NullString{}})
	if err != nil {
		t.Fatalf("scan order: %v", err)
	}
	if order.Bid == nil || *order.Bid != 33.4 || order.Ask != nil {
		t.Fatalf("unexpected order %+v", order)
	}

	if _, err := scanRealTrade(fakeRow{ts, "abc", "5", 1, sql.NullInt64{}, sql.NullString{}}); err == nil {
		t.Fatal("invalid price should fail")
	}
}

func TestFixtureCutsWindow(t *testing.T) {
	dir := t.TempDir()
	bid, ask := 10.0, 10.5
	real := merge.RealPayload{
		Trades: []merge.RealTrade{
			{Time: from.Add(time.Hour), Price: 10.2, Volume: 1, Action: 1},
			{Time: from.AddDate(0, 0, 6), Price: 10.2, Volume: 1, Action: 1},
		},
		Orders: []merge.RealOrder{{Time: from, Bid: &bid, Ask: &ask}},
	}
	data, err := json.Marshal(real)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "real.json"), data, 0o600); err != nil {
		t.Fatal(err)
	}

	f := NewFixture(dir)
	got, err := f.FetchReal(context.Background(), spreadRequest())
	if err != nil {
		t.Fatalf("fixture real: %v", err)
	}
	if len(got.Trades) != 1 || len(got.Orders) != 1 {
		t.Fatalf("expected 1 trade and 1 order in window, got %d/%d", len(got.Trades), len(got.Orders))
	}

	synth, err := f.FetchSynthetic(context.Background(), spreadRequest())
	if err != nil {
		t.Fatalf("missing fixture should be empty: %v", err)
	}
	if synth.Len() != 0 {
		t.Fatalf("expected empty synthetic payload")
	}
}

func TestFixtureCorruptFileIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "synthetic.json"), []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFixture(dir).FetchSynthetic(context.Background(), spreadRequest())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
