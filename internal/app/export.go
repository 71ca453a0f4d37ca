package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"

	"spread-sync/internal/export"
	"spread-sync/internal/storage"
)

// Export re-renders a stored run in the requested formats.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	id, err := uuid.Parse(opts.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", opts.RunID, err)
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = a.Config.Export.Formats
	}
	exporter, err := a.newExporter(ctx, opts.OutDir, formats, opts.MaxPoints)
	if err != nil {
		return err
	}
	if exporter == nil {
		return errors.New("at least one export format must be configured")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	return a.exportRun(ctx, store, exporter, id)
}

func (a *App) exportRun(ctx context.Context, store storage.RunStore, exporter *export.Exporter, id uuid.UUID) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	prov, err := run.DecodeProvenance()
	if err != nil {
		return err
	}
	rows, err := store.ListRunRecords(ctx, id)
	if err != nil {
		return err
	}
	ds, err := storage.DatasetFromRows(rows, prov)
	if err != nil {
		return err
	}
	if ds.Empty() {
		a.Logger.Info().Str("run_id", id.String()).Msg("run has no records to export")
		return nil
	}

	meta := export.Meta{RunID: run.ID, Instrument: run.Instrument, From: run.PeriodStart, To: run.PeriodEnd}
	files, err := exporter.Export(ctx, meta, ds)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("run_id", id.String()).Int("records", ds.Len()).Strs("files", files).Msg("exported run")
	for _, file := range files {
		fmt.Fprintf(os.Stdout, "wrote %s\n", file)
	}
	return nil
}
