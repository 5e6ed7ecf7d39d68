package visits

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"
)

// summaryDimension names one grouping column of the aggregate document. The
// column value is interpolated into SQL, so entries must stay a closed,
// code-defined set; everything request-supplied goes through placeholders.
type summaryDimension struct {
	name   string
	column string
}

var summaryDimensions = []summaryDimension{
	{"device_type", "device_type"},
	{"device_family", "device_family"},
	{"country_code", "country_code"},
	{"referer_host", "referer_host"},
	{"referer_url", "referer_url"},
	{"browser", "browser"},
	{"pathname", "pathname"},
	{"is_new", "is_new"},
	{"lang", "lang"},
	{"bot", "bot"},
	{"os", "os"},
	{"utm_campaign", "utm_campaign"},
	{"utm_content", "utm_content"},
	{"utm_medium", "utm_medium"},
	{"utm_source", "utm_source"},
	{"utm_term", "utm_term"},
}

// Summarizer computes monthly aggregate documents from the visits table.
type Summarizer struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewSummarizer wires the aggregation engine.
func NewSummarizer(dbManager cartridge.DBManager, logger *slog.Logger) *Summarizer {
	return &Summarizer{dbManager: dbManager, logger: logger}
}

// PreviousMonth returns the "YYYY-MM" period preceding now.
func PreviousMonth(now time.Time) string {
	now = now.UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return firstOfMonth.AddDate(0, -1, 0).Format("2006-01")
}

// CurrentMonth returns the "YYYY-MM" period containing now.
func CurrentMonth(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// Summarize recomputes the aggregate document for one host and period
// ("YYYY-MM") and replaces the stored summary. It is safe to re-run at any
// time; the result reflects whatever visits are present.
func (s *Summarizer) Summarize(host, period string) (*Summary, error) {
	db := s.dbManager.GetConnection()
	like := period + "-%"

	data := make(map[string]interface{})

	visitors, err := s.scalarInt(db,
		"SELECT COUNT(DISTINCT ip) FROM visits WHERE host = ? AND date LIKE ?", host, like)
	if err != nil {
		return nil, fmt.Errorf("counting visitors: %w", err)
	}
	data["visitors"] = visitors

	pageviews, err := s.scalarInt(db,
		"SELECT COUNT(*) FROM visits WHERE host = ? AND date LIKE ?", host, like)
	if err != nil {
		return nil, fmt.Errorf("counting pageviews: %w", err)
	}
	data["pageviews"] = pageviews

	onePageVisits, err := s.scalarInt(db,
		"SELECT COUNT(DISTINCT ip) FROM visits WHERE host = ? AND date LIKE ? AND is_new = 1", host, like)
	if err != nil {
		return nil, fmt.Errorf("counting one-page visits: %w", err)
	}
	data["onePageVisits"] = onePageVisits

	// Never divide by zero: a host with no visitors has a zero bounce rate.
	if visitors == 0 {
		data["bounceRate"] = float64(0)
	} else {
		data["bounceRate"] = float64(onePageVisits) / float64(visitors)
	}

	sessionLength, err := s.scalarFloat(db,
		`SELECT AVG(longest) FROM (
			SELECT MAX(session_length) AS longest FROM visits
			WHERE host = ? AND date LIKE ? GROUP BY ip
		)`, host, like)
	if err != nil {
		return nil, fmt.Errorf("averaging session length: %w", err)
	}
	data["sessionLength"] = sessionLength

	loadTimes, err := s.loadTimesByPathname(db, host, like)
	if err != nil {
		return nil, fmt.Errorf("averaging load times: %w", err)
	}
	data["loadTimes"] = loadTimes

	for _, dim := range summaryDimensions {
		counts, err := s.groupedCounts(db, host, like, dim.column, false)
		if err != nil {
			return nil, fmt.Errorf("grouping %s: %w", dim.name, err)
		}
		data[dim.name] = counts

		uniques, err := s.groupedCounts(db, host, like, dim.column, true)
		if err != nil {
			return nil, fmt.Errorf("grouping %s visitors: %w", dim.name, err)
		}
		data[dim.name+"__visitors"] = uniques
	}

	pageviewsByDay, err := s.groupedCounts(db, host, like, "date", false)
	if err != nil {
		return nil, fmt.Errorf("pageviews timeseries: %w", err)
	}
	data["pageviewsTimeseries"] = pageviewsByDay

	visitorsByDay, err := s.groupedCounts(db, host, like, "date", true)
	if err != nil {
		return nil, fmt.Errorf("visitors timeseries: %w", err)
	}
	data["visitorsTimeseries"] = visitorsByDay

	document, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding summary document: %w", err)
	}

	summary := &Summary{
		ID:   uuid.NewString(),
		Date: period,
		Host: host,
		Data: string(document),
	}
	if err := ReplaceSummary(s.dbManager, s.logger, summary); err != nil {
		return nil, err
	}

	s.logger.Info("Summary computed",
		slog.String("period", period),
		slog.Int64("visitors", visitors),
		slog.Int64("pageviews", pageviews))
	return summary, nil
}

// SummarizeAll recomputes the given period for every known host. A failing
// host is logged and skipped so one bad tenant cannot starve the rest.
func (s *Summarizer) SummarizeAll(period string) error {
	hosts, err := ListDistinctHosts(s.dbManager.GetConnection())
	if err != nil {
		return fmt.Errorf("listing hosts: %w", err)
	}

	for _, host := range hosts {
		if host == "" {
			continue
		}
		if _, err := s.Summarize(host, period); err != nil {
			s.logger.Error("Summarizing host failed",
				slog.String("period", period),
				slog.Any("error", err))
		}
	}
	return nil
}

// groupedCounts runs one grouped aggregate over an allowlisted column:
// COUNT(*) per value, or COUNT(DISTINCT ip) when distinctVisitors is set.
func (s *Summarizer) groupedCounts(db *gorm.DB, host, like, column string, distinctVisitors bool) (map[string]int64, error) {
	agg := "COUNT(*)"
	if distinctVisitors {
		agg = "COUNT(DISTINCT ip)"
	}

	query := fmt.Sprintf(
		"SELECT %s AS dim_value, %s AS total FROM visits WHERE host = ? AND date LIKE ? GROUP BY %s",
		column, agg, column)

	var rows []struct {
		DimValue sql.NullString `gorm:"column:dim_value"`
		Total    int64          `gorm:"column:total"`
	}
	if err := db.Raw(query, host, like).Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.DimValue.String] = row.Total
	}
	return counts, nil
}

func (s *Summarizer) loadTimesByPathname(db *gorm.DB, host, like string) (map[string]float64, error) {
	var rows []struct {
		Pathname sql.NullString `gorm:"column:pathname"`
		AvgLoad  float64        `gorm:"column:avg_load"`
	}
	err := db.Raw(
		"SELECT pathname, AVG(load_time) AS avg_load FROM visits WHERE host = ? AND date LIKE ? GROUP BY pathname",
		host, like).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	loadTimes := make(map[string]float64, len(rows))
	for _, row := range rows {
		loadTimes[row.Pathname.String] = row.AvgLoad
	}
	return loadTimes, nil
}

func (s *Summarizer) scalarInt(db *gorm.DB, query string, args ...interface{}) (int64, error) {
	var value sql.NullInt64
	if err := db.Raw(query, args...).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value.Int64, nil
}

func (s *Summarizer) scalarFloat(db *gorm.DB, query string, args ...interface{}) (float64, error) {
	var value sql.NullFloat64
	if err := db.Raw(query, args...).Scan(&value).Error; err != nil {
		return 0, err
	}
	return value.Float64, nil
}
