package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"spread-sync/internal/merge"
)

// Format is an export file type.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatPNG     Format = "png"
	FormatParquet Format = "parquet"
)

var contentTypes = map[Format]string{
	FormatCSV:     "text/csv",
	FormatPNG:     "image/png",
	FormatParquet: "application/octet-stream",
}

// ParseFormats normalises a format list.
func ParseFormats(values []string) ([]Format, error) {
	out := make([]Format, 0, len(values))
	seen := make(map[Format]bool)
	for _, v := range values {
		f := Format(strings.ToLower(strings.TrimSpace(v)))
		if _, ok := contentTypes[f]; !ok {
			return nil, fmt.Errorf("unknown export format %q", v)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// Options configure an Exporter.
type Options struct {
	Dir       string
	Formats   []Format
	MaxPoints int
	// Prefix is prepended to remote object keys.
	Prefix string
}

// Meta names an exported dataset.
type Meta struct {
	RunID      uuid.UUID
	Instrument string
	From       time.Time
	To         time.Time
}

// BaseName is the file stem, e.g. "debm1-frbm1_20250601_20250701_<run>".
func (m Meta) BaseName() string {
	name := fmt.Sprintf("%s_%s_%s", m.Instrument, m.From.Format("20060102"), m.To.Format("20060102"))
	if m.RunID != uuid.Nil {
		name += "_" + m.RunID.String()
	}
	return strings.NewReplacer("+", "p", "/", "_").Replace(name)
}

// Exporter writes merged datasets to disk and optionally uploads them.
type Exporter struct {
	opts     Options
	uploader Uploader
	logger   zerolog.Logger
}

// New builds an Exporter. uploader may be nil.
func New(opts Options, uploader Uploader, logger zerolog.Logger) *Exporter {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	return &Exporter{
		opts:     opts,
		uploader: uploader,
		logger:   logger.With().Str("component", "exporter").Logger(),
	}
}

// Export renders every configured format and returns the written paths.
// A dataset too flat to chart skips the PNG without failing.
func (e *Exporter) Export(ctx context.Context, meta Meta, ds merge.MergedDataset) ([]string, error) {
	if len(e.opts.Formats) == 0 {
		return nil, nil
	}
	rows := Rows(ds)
	base := meta.BaseName()

	paths := make([]string, 0, len(e.opts.Formats))
	for _, format := range e.opts.Formats {
		data, err := e.render(format, meta, rows)
		if errors.Is(err, ErrFlatChart) {
			e.logger.Warn().Str("instrument", meta.Instrument).Msg("chart skipped, not enough distinct points")
			continue
		}
		if err != nil {
			return paths, fmt.Errorf("render %s: %w", format, err)
		}

		file := filepath.Join(e.opts.Dir, base+"."+string(format))
		if err := writeFile(file, data); err != nil {
			return paths, err
		}
		paths = append(paths, file)

		if e.uploader != nil {
			key := path.Join(e.opts.Prefix, meta.Instrument, base+"."+string(format))
			if err := e.uploader.Upload(ctx, key, data, contentTypes[format]); err != nil {
				return paths, err
			}
			e.logger.Debug().Str("key", key).Msg("export uploaded")
		}
	}

	e.logger.Info().Str("instrument", meta.Instrument).
		Int("records", len(rows)).
		Strs("files", paths).
		Msg("dataset exported")
	return paths, nil
}

func (e *Exporter) render(format Format, meta Meta, rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatCSV:
		if err := WriteCSV(&buf, rows); err != nil {
			return nil, err
		}
	case FormatPNG:
		title := fmt.Sprintf("%s %s to %s", meta.Instrument, meta.From.Format(time.DateOnly), meta.To.Format(time.DateOnly))
		if err := WritePNG(&buf, title, rows, e.opts.MaxPoints); err != nil {
			return nil, err
		}
	case FormatParquet:
		return EncodeParquet(rows)
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	return buf.Bytes(), nil
}

func writeFile(file string, data []byte) error {
	if dir := filepath.Dir(file); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(file, data, 0o644)
}
