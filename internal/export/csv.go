package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"spread-sync/internal/record"
)

var csvHeader = []string{
	"ts", "kind", "source", "side", "price", "volume",
	"bid", "ask", "mid", "invalid", "trade_id", "broker_id", "duplicates",
}

// WriteCSV writes one line per record. Empty cells stand for absent values.
func WriteCSV(w io.Writer, rows []Row) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, row := range rows {
		line := []string{
			row.Time.Format(time.RFC3339Nano),
			row.Kind.String(),
			string(row.Source),
			"", "", "",
			formatOptional(row.Bid),
			formatOptional(row.Ask),
			formatOptional(row.Mid),
			"",
			row.TradeID,
			"",
			"",
		}
		switch row.Kind {
		case record.KindTrade:
			line[3] = row.Side.String()
			line[4] = formatFloat(row.Price)
			line[5] = formatFloat(row.Volume)
			line[11] = strconv.Itoa(row.BrokerID)
			line[12] = strconv.Itoa(row.Duplicates)
		case record.KindQuote:
			line[9] = strconv.FormatBool(row.Invalid)
		}
		if err := writer.Write(line); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
