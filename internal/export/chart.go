package export

import (
	"errors"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"spread-sync/internal/record"
)

// ErrFlatChart is returned when the data spans no time or no price range.
var ErrFlatChart = errors.New("not enough distinct points to draw a chart")

type point struct {
	t time.Time
	v float64
}

// WritePNG draws bid, ask and trade prices over time. Each series is
// downsampled to maxPoints.
func WritePNG(w io.Writer, title string, rows []Row, maxPoints int) error {
	var bids, asks, buys, sells []point
	for _, row := range rows {
		switch row.Kind {
		case record.KindQuote:
			if row.Bid != nil {
				bids = append(bids, point{row.Time, *row.Bid})
			}
			if row.Ask != nil {
				asks = append(asks, point{row.Time, *row.Ask})
			}
		case record.KindTrade:
			if row.Side == record.Buy {
				buys = append(buys, point{row.Time, row.Price})
			} else {
				sells = append(sells, point{row.Time, row.Price})
			}
		}
	}

	if !drawable(bids, asks, buys, sells) {
		return ErrFlatChart
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Spread (EUR/MWh)",
			ValueFormatter: priceFormatter,
		},
	}

	line := chart.Style{StrokeWidth: 1.5}
	dots := chart.Style{StrokeWidth: chart.Disabled, DotWidth: 3}
	graph.Series = appendSeries(graph.Series, "Bid", bids, maxPoints, line)
	graph.Series = appendSeries(graph.Series, "Ask", asks, maxPoints, line)
	graph.Series = appendSeries(graph.Series, "Buy trades", buys, maxPoints, dots)
	graph.Series = appendSeries(graph.Series, "Sell trades", sells, maxPoints, dots)
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func appendSeries(series []chart.Series, name string, pts []point, maxPoints int, style chart.Style) []chart.Series {
	if len(pts) == 0 {
		return series
	}
	pts = downsample(pts, maxPoints)
	x := make([]time.Time, len(pts))
	y := make([]float64, len(pts))
	for i, p := range pts {
		x[i] = p.t
		y[i] = p.v
	}
	return append(series, chart.TimeSeries{Name: name, XValues: x, YValues: y, Style: style})
}

func drawable(sets ...[]point) bool {
	first := true
	var minT, maxT time.Time
	var minV, maxV float64
	for _, pts := range sets {
		for _, p := range pts {
			if first {
				minT, maxT, minV, maxV = p.t, p.t, p.v, p.v
				first = false
				continue
			}
			if p.t.Before(minT) {
				minT = p.t
			}
			if p.t.After(maxT) {
				maxT = p.t
			}
			minV = min(minV, p.v)
			maxV = max(maxV, p.v)
		}
	}
	return !first && maxT.After(minT) && maxV > minV
}
