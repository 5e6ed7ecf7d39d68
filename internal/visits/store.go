package visits

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// retentionBatchSize bounds the rows removed per delete statement so that
// retention sweeps never hold the write lock for long.
const retentionBatchSize = 1000

// InsertVisitsIfAbsent persists a batch in a single immediate transaction.
// Rows whose id already exists are silently skipped, which is what makes log
// re-delivery safe.
func InsertVisitsIfAbsent(dbManager cartridge.DBManager, logger *slog.Logger, batch []*Visit) error {
	if len(batch) == 0 {
		return nil
	}

	db := dbManager.GetConnection()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch).Error
	})
}

// ReplaceSummary swaps the stored aggregate for (host, period) atomically:
// stale documents for the key are removed and the fresh one inserted in the
// same transaction.
func ReplaceSummary(dbManager cartridge.DBManager, logger *slog.Logger, summary *Summary) error {
	db := dbManager.GetConnection()
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Where("host = ? AND date = ?", summary.Host, summary.Date).
			Delete(&Summary{}).Error; err != nil {
			return fmt.Errorf("deleting stale summary: %w", err)
		}
		if err := tx.Create(summary).Error; err != nil {
			return fmt.Errorf("inserting summary: %w", err)
		}
		return nil
	})
}

// GetSummary fetches the stored aggregate for (host, period), or nil when no
// summary has been computed yet.
func GetSummary(db *gorm.DB, host, period string) (*Summary, error) {
	var summary Summary
	err := db.Where("host = ? AND date = ?", host, period).First(&summary).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &summary, nil
}

// ListDistinctHosts returns every host value present in the visits table.
// Hosts ingested under a tenant key appear here as their ciphertext, which is
// exactly the form summaries are requested in.
func ListDistinctHosts(db *gorm.DB) ([]string, error) {
	var hosts []string
	err := db.Model(&Visit{}).Distinct().Pluck("host", &hosts).Error
	if err != nil {
		return nil, err
	}
	return hosts, nil
}

// DeleteVisitsBefore removes visits older than cutoff in bounded batches,
// returning the total rows removed.
func DeleteVisitsBefore(dbManager cartridge.DBManager, logger *slog.Logger, cutoff time.Time) (int64, error) {
	db := dbManager.GetConnection()
	cutoffDate := cutoff.UTC().Format("2006-01-02")

	var total int64
	for {
		var affected int64
		err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
			result := tx.Exec(
				"DELETE FROM visits WHERE id IN (SELECT id FROM visits WHERE date < ? LIMIT ?)",
				cutoffDate, retentionBatchSize,
			)
			affected = result.RowsAffected
			return result.Error
		})
		if err != nil {
			return total, fmt.Errorf("retention delete: %w", err)
		}

		total += affected
		if affected < retentionBatchSize {
			return total, nil
		}

		// Yield between batches so ingestion writes interleave.
		time.Sleep(10 * time.Millisecond)
	}
}
