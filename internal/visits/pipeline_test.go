package visits_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelry/internal/geo"
	"pixelry/internal/privacy"
	"pixelry/internal/testsupport"
	"pixelry/internal/visits"
)

func beaconLine(id string) string {
	return "HIT|200|1700000000000|||1.2.3.4||" +
		"https://track.example/o.png?href=https%3A%2F%2Fsite.example%2Fabout||" +
		uaIPhone + "|" + id + "|US"
}

func newTestPipeline(t *testing.T) (*visits.Pipeline, *testsupport.TestDBManager) {
	t.Helper()

	dbManager, logger := testsupport.SetupTestDBManager(t)
	normalizer := visits.NewNormalizer(
		geo.StaticResolver{"1.2.3.4": "US"},
		privacy.NewProtector("test-server-secret"),
		logger,
	)
	return visits.NewPipeline(normalizer, dbManager, logger), dbManager
}

func countVisits(t *testing.T, dbManager *testsupport.TestDBManager) int64 {
	t.Helper()

	var count int64
	require.NoError(t, dbManager.GetConnection().Model(&visits.Visit{}).Count(&count).Error)
	return count
}

func TestIngestStoresBeaconHits(t *testing.T) {
	pipeline, dbManager := newTestPipeline(t)

	blob := strings.Join([]string{
		beaconLine("a-1"),
		beaconLine("a-2"),
		beaconLine("a-3"),
	}, "\n")

	require.NoError(t, pipeline.Ingest(blob))
	assert.Equal(t, int64(3), countVisits(t, dbManager))
}

func TestIngestIsIdempotent(t *testing.T) {
	pipeline, dbManager := newTestPipeline(t)

	blob := beaconLine("dup-1") + "\n" + beaconLine("dup-2")

	require.NoError(t, pipeline.Ingest(blob))
	require.NoError(t, pipeline.Ingest(blob), "re-delivery of the same batch must succeed")
	assert.Equal(t, int64(2), countVisits(t, dbManager))

	// Partial overlap: only the unseen line lands.
	require.NoError(t, pipeline.Ingest(beaconLine("dup-2")+"\n"+beaconLine("dup-3")))
	assert.Equal(t, int64(3), countVisits(t, dbManager))
}

func TestIngestDropsRejectsKeepsRest(t *testing.T) {
	pipeline, dbManager := newTestPipeline(t)

	blob := strings.Join([]string{
		beaconLine("keep-1"),
		"HIT|200|1700000000000|||1.2.3.4||https://track.example/assets/app.js||ua|skip-1|US",
		"",
		"garbage",
		beaconLine("keep-2"),
	}, "\n")

	require.NoError(t, pipeline.Ingest(blob))
	assert.Equal(t, int64(2), countVisits(t, dbManager))
}

func TestIngestEmptyBlob(t *testing.T) {
	pipeline, dbManager := newTestPipeline(t)

	require.NoError(t, pipeline.Ingest(""))
	require.NoError(t, pipeline.Ingest("\n\n\n"))
	assert.Equal(t, int64(0), countVisits(t, dbManager))
}

func TestIngestLargeBatch(t *testing.T) {
	pipeline, dbManager := newTestPipeline(t)

	lines := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		lines = append(lines, beaconLine(fmt.Sprintf("bulk-%d", i)))
	}

	require.NoError(t, pipeline.Ingest(strings.Join(lines, "\n")))
	assert.Equal(t, int64(200), countVisits(t, dbManager))
}
