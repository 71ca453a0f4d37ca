package export

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"spread-sync/internal/record"
)

type parquetRecord struct {
	Timestamp  int64    `parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MICROS"`
	Kind       string   `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Source     string   `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side       int32    `parquet:"name=side, type=INT32"`
	Price      *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	Volume     *float64 `parquet:"name=volume, type=DOUBLE, repetitiontype=OPTIONAL"`
	Bid        *float64 `parquet:"name=bid, type=DOUBLE, repetitiontype=OPTIONAL"`
	Ask        *float64 `parquet:"name=ask, type=DOUBLE, repetitiontype=OPTIONAL"`
	Mid        *float64 `parquet:"name=mid, type=DOUBLE, repetitiontype=OPTIONAL"`
	Invalid    bool     `parquet:"name=invalid, type=BOOLEAN"`
	TradeID    string   `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BrokerID   int32    `parquet:"name=broker_id, type=INT32"`
	Duplicates int32    `parquet:"name=duplicates, type=INT32"`
}

// memFile collects the parquet output in memory.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// EncodeParquet renders the rows as a snappy-compressed parquet file.
func EncodeParquet(rows []Row) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(parquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		rec := parquetRecord{
			Timestamp:  row.Time.UnixMicro(),
			Kind:       row.Kind.String(),
			Source:     string(row.Source),
			Side:       int32(row.Side),
			Bid:        row.Bid,
			Ask:        row.Ask,
			Mid:        row.Mid,
			Invalid:    row.Invalid,
			TradeID:    row.TradeID,
			BrokerID:   int32(row.BrokerID),
			Duplicates: int32(row.Duplicates),
		}
		if row.Kind == record.KindTrade {
			rec.Price = ptr(row.Price)
			rec.Volume = ptr(row.Volume)
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

var _ source.ParquetFile = (*memFile)(nil)
