package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pixelry/internal/visits"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with pixelry's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all pixelry models for migration
func allModels() []any {
	return []any{
		&visits.Visit{},
		&visits.Summary{},
	}
}

// SetupTestDB creates a test database with all pixelry models migrated.
// Uses a named in-memory database with cache=shared to allow multiple
// connections to share the same database within a test. Caches the database
// by root test name so subtests share it.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a migrated in-memory store behind the
// cartridge.DBManager interface, which is what the pipeline and summarizer
// consume.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// LogLine assembles one pipe-delimited edge-log line for tests. Empty fields
// stay empty, matching what the shipper emits.
type LogLine struct {
	CacheStatus  string
	StatusCode   string
	TimestampMs  int64
	BytesSent    string
	PullZoneID   string
	RemoteIP     string
	RefererURL   string
	URL          string
	EdgeLocation string
	UserAgent    string
	RequestID    string
	CountryCode  string
}

// String renders the line in edge-log column order.
func (l LogLine) String() string {
	return strings.Join([]string{
		l.CacheStatus,
		l.StatusCode,
		fmt.Sprintf("%d", l.TimestampMs),
		l.BytesSent,
		l.PullZoneID,
		l.RemoteIP,
		l.RefererURL,
		l.URL,
		l.EdgeLocation,
		l.UserAgent,
		l.RequestID,
		l.CountryCode,
	}, "|")
}

// DefaultLogLine returns a valid beacon hit that tests tweak per case.
func DefaultLogLine() LogLine {
	return LogLine{
		CacheStatus: "HIT",
		StatusCode:  "200",
		TimestampMs: 1700000000000,
		RemoteIP:    "1.2.3.4",
		RefererURL:  "https://ref.example/x",
		URL:         "https://track.example/o.png?href=https%3A%2F%2Fsite.example%2Fabout",
		UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0.0.0",
		RequestID:   "req-1",
		CountryCode: "US",
	}
}
