package visits

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/karloscodes/cartridge"
)

// Pipeline ingests raw log blobs: normalize each line, drop the rejects, and
// persist the survivors as one atomic batch.
type Pipeline struct {
	normalizer *Normalizer
	dbManager  cartridge.DBManager
	logger     *slog.Logger
}

// NewPipeline wires the ingestion pipeline.
func NewPipeline(normalizer *Normalizer, dbManager cartridge.DBManager, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		dbManager:  dbManager,
		logger:     logger,
	}
}

// Ingest processes one delivery of newline-separated log lines. Lines are
// walked newest-first, matching the delivery order of the edge log shipper.
// Per-line failures only drop that line; an error here means the whole batch
// failed to persist and nothing was stored.
func (p *Pipeline) Ingest(blob string) error {
	lines := strings.Split(blob, "\n")

	batch := make([]*Visit, 0, len(lines))
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		visit, err := p.normalizer.Normalize(line)
		if err != nil {
			p.logSkip(line, err)
			continue
		}
		batch = append(batch, visit)
	}

	if len(batch) == 0 {
		return nil
	}

	if err := InsertVisitsIfAbsent(p.dbManager, p.logger, batch); err != nil {
		return fmt.Errorf("persisting visit batch: %w", err)
	}

	p.logger.Debug("Ingested visit batch",
		slog.Int("lines", len(lines)),
		slog.Int("stored", len(batch)))

	// Fold the fresh writes back into the main database file so snapshots
	// taken shortly after stay close to current.
	if cp, ok := p.dbManager.(interface{ CheckpointWAL(string) error }); ok {
		if err := cp.CheckpointWAL("PASSIVE"); err != nil {
			p.logger.Debug("WAL checkpoint after ingest failed", slog.Any("error", err))
		}
	}

	return nil
}

func (p *Pipeline) logSkip(line string, err error) {
	var encErr *EncryptionError
	switch {
	case errors.As(err, &encErr):
		// Unprotectable records are worth surfacing; they suggest a broken
		// tenant key in the wild.
		p.logger.Warn("Dropping unprotectable log line", slog.Any("error", err))
	case errors.Is(err, ErrNotBeacon):
		// Edge logs carry plenty of non-beacon traffic; not noteworthy.
	default:
		p.logger.Debug("Skipping log line",
			slog.Any("error", err),
			slog.Int("length", len(line)))
	}
}
