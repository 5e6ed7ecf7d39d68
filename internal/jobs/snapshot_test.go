package jobs

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelry/internal/config"
	"pixelry/internal/testsupport"
	"pixelry/internal/visits"
)

func TestSnapshotJobPublishesArtifact(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)

	require.NoError(t, dbManager.GetConnection().Create(&visits.Visit{
		ID: "snap-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a", Event: "pageview",
	}).Error)

	cfg := &config.Config{
		Environment:     config.Test,
		PublicDirectory: t.TempDir(),
	}

	job := NewSnapshotJob(cfg, dbManager, logger)
	require.NoError(t, job.Run())

	artifact := cfg.SnapshotArtifactPath()
	info, err := os.Stat(artifact)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// The snapshot is a real sqlite file.
	header := make([]byte, 16)
	f, err := os.Open(artifact)
	require.NoError(t, err)
	defer f.Close()
	_, err = io.ReadFull(f, header)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(header))

	// A gzipped sibling rides along and decompresses to the same header.
	gz, err := os.Open(artifact + ".gz")
	require.NoError(t, err)
	defer gz.Close()
	reader, err := gzip.NewReader(gz)
	require.NoError(t, err)
	defer reader.Close()
	gzHeader := make([]byte, 16)
	_, err = io.ReadFull(reader, gzHeader)
	require.NoError(t, err)
	assert.Equal(t, header, gzHeader)

	// No scratch files are left behind.
	_, err = os.Stat(artifact + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.PublicDirectory, "analytics.sqlite3.png.gz.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotJobRetentionSweep(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	require.NoError(t, db.Create(&visits.Visit{
		ID: "old-1", Host: "site.example", Date: "2000-01-01", IP: "ip-a", Event: "pageview",
	}).Error)
	require.NoError(t, db.Create(&visits.Visit{
		ID: "new-1", Host: "site.example", Date: "2999-01-01", IP: "ip-b", Event: "pageview",
	}).Error)

	cfg := &config.Config{
		Environment:        config.Test,
		PublicDirectory:    t.TempDir(),
		VisitRetentionDays: 30,
	}

	job := NewSnapshotJob(cfg, dbManager, logger)
	require.NoError(t, job.Run())

	var count int64
	require.NoError(t, db.Model(&visits.Visit{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var remaining visits.Visit
	require.NoError(t, db.First(&remaining).Error)
	assert.Equal(t, "new-1", remaining.ID)
}

func TestSnapshotJobOverwritesPreviousArtifact(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)

	cfg := &config.Config{
		Environment:     config.Test,
		PublicDirectory: t.TempDir(),
	}

	job := NewSnapshotJob(cfg, dbManager, logger)
	require.NoError(t, job.Run())
	require.NoError(t, job.Run(), "a second rotation must replace the artifact, not fail")

	_, err := os.Stat(cfg.SnapshotArtifactPath())
	require.NoError(t, err)
}
