package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"spread-sync/internal/merge"
)

// Fixture replays recorded payloads from <dir>/real.json and
// <dir>/synthetic.json, cut to the requested window. A missing file is an
// empty source.
type Fixture struct {
	dir string
}

// NewFixture reads fixtures from dir.
func NewFixture(dir string) *Fixture {
	return &Fixture{dir: dir}
}

// FetchReal implements RealFetcher.
func (f *Fixture) FetchReal(ctx context.Context, req Request) (*merge.RealPayload, error) {
	var all merge.RealPayload
	if err := f.load("real", &all); err != nil {
		return nil, err
	}
	out := &merge.RealPayload{}
	for _, t := range all.Trades {
		if inWindow(t.Time, req) {
			out.Trades = append(out.Trades, t)
		}
	}
	for _, o := range all.Orders {
		if inWindow(o.Time, req) {
			out.Orders = append(out.Orders, o)
		}
	}
	return out, nil
}

// FetchSynthetic implements SyntheticFetcher.
func (f *Fixture) FetchSynthetic(ctx context.Context, req Request) (*merge.SyntheticPayload, error) {
	var all merge.SyntheticPayload
	if err := f.load("synthetic", &all); err != nil {
		return nil, err
	}
	out := &merge.SyntheticPayload{}
	for _, t := range all.Trades {
		if inWindow(t.Time, req) {
			out.Trades = append(out.Trades, t)
		}
	}
	for _, q := range all.Quotes {
		if inWindow(q.Time, req) {
			out.Quotes = append(out.Quotes, q)
		}
	}
	return out, nil
}

func (f *Fixture) load(name string, v any) error {
	path := filepath.Join(f.dir, name+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return unavailable(name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return unavailable(name, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func inWindow(t time.Time, req Request) bool {
	return !t.Before(req.From) && t.Before(req.To)
}

var (
	_ RealFetcher      = (*Fixture)(nil)
	_ SyntheticFetcher = (*Fixture)(nil)
)
