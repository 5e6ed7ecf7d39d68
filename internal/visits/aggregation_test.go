package visits_test

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixelry/internal/testsupport"
	"pixelry/internal/visits"
)

func seedVisit(t *testing.T, dbManager *testsupport.TestDBManager, v visits.Visit) {
	t.Helper()

	if v.Event == "" {
		v.Event = "pageview"
	}
	require.NoError(t, dbManager.GetConnection().Create(&v).Error)
}

func decodeSummary(t *testing.T, summary *visits.Summary) map[string]interface{} {
	t.Helper()

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(summary.Data), &doc))
	return doc
}

func TestSummarizeScalars(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	// Two visitors; visitor A views two pages, visitor B bounces.
	seedVisit(t, dbManager, visits.Visit{ID: "s-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a", Pathname: "/", SessionLength: 10})
	seedVisit(t, dbManager, visits.Visit{ID: "s-2", Host: "site.example", Date: "2024-01-06", IP: "ip-a", Pathname: "/about", SessionLength: 30})
	seedVisit(t, dbManager, visits.Visit{ID: "s-3", Host: "site.example", Date: "2024-01-06", IP: "ip-b", Pathname: "/", SessionLength: 20, IsNew: 1})

	// A different period and a different host must not leak in.
	seedVisit(t, dbManager, visits.Visit{ID: "s-4", Host: "site.example", Date: "2024-02-01", IP: "ip-c", Pathname: "/"})
	seedVisit(t, dbManager, visits.Visit{ID: "s-5", Host: "other.example", Date: "2024-01-10", IP: "ip-d", Pathname: "/"})

	summary, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)
	doc := decodeSummary(t, summary)

	assert.EqualValues(t, 2, doc["visitors"])
	assert.EqualValues(t, 3, doc["pageviews"])
	assert.EqualValues(t, 1, doc["onePageVisits"])
	assert.InDelta(t, 0.5, doc["bounceRate"], 1e-9)

	// Average of each visitor's longest reported session: (30+20)/2.
	assert.InDelta(t, 25.0, doc["sessionLength"], 1e-9)
}

func TestSummarizeZeroVisitors(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	summary, err := summarizer.Summarize("empty.example", "2024-01")
	require.NoError(t, err)
	doc := decodeSummary(t, summary)

	assert.EqualValues(t, 0, doc["visitors"])
	assert.EqualValues(t, 0, doc["pageviews"])
	assert.EqualValues(t, 0, doc["bounceRate"], "bounce rate must be zero, not NaN, without visitors")
	assert.EqualValues(t, 0, doc["sessionLength"])
}

func TestSummarizeDimensions(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	seedVisit(t, dbManager, visits.Visit{ID: "d-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a", DeviceType: "mobile", Browser: "Chrome", Pathname: "/"})
	seedVisit(t, dbManager, visits.Visit{ID: "d-2", Host: "site.example", Date: "2024-01-05", IP: "ip-a", DeviceType: "mobile", Browser: "Chrome", Pathname: "/about"})
	seedVisit(t, dbManager, visits.Visit{ID: "d-3", Host: "site.example", Date: "2024-01-06", IP: "ip-b", DeviceType: "desktop", Browser: "Firefox", Pathname: "/"})

	summary, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)
	doc := decodeSummary(t, summary)

	deviceType := doc["device_type"].(map[string]interface{})
	assert.EqualValues(t, 2, deviceType["mobile"])
	assert.EqualValues(t, 1, deviceType["desktop"])

	// The __visitors variant counts distinct IPs instead of rows.
	deviceTypeVisitors := doc["device_type__visitors"].(map[string]interface{})
	assert.EqualValues(t, 1, deviceTypeVisitors["mobile"])
	assert.EqualValues(t, 1, deviceTypeVisitors["desktop"])

	browsers := doc["browser"].(map[string]interface{})
	assert.EqualValues(t, 2, browsers["Chrome"])
	assert.EqualValues(t, 1, browsers["Firefox"])

	// Every declared dimension appears, with and without the visitors variant.
	for _, name := range []string{
		"device_type", "device_family", "country_code", "referer_host",
		"referer_url", "browser", "pathname", "is_new", "lang", "bot", "os",
		"utm_campaign", "utm_content", "utm_medium", "utm_source", "utm_term",
	} {
		assert.Contains(t, doc, name)
		assert.Contains(t, doc, name+"__visitors")
	}
}

func TestSummarizeTimeseries(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	seedVisit(t, dbManager, visits.Visit{ID: "t-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a"})
	seedVisit(t, dbManager, visits.Visit{ID: "t-2", Host: "site.example", Date: "2024-01-05", IP: "ip-b"})
	seedVisit(t, dbManager, visits.Visit{ID: "t-3", Host: "site.example", Date: "2024-01-06", IP: "ip-a"})

	summary, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)
	doc := decodeSummary(t, summary)

	pageviews := doc["pageviewsTimeseries"].(map[string]interface{})
	assert.EqualValues(t, 2, pageviews["2024-01-05"])
	assert.EqualValues(t, 1, pageviews["2024-01-06"])

	visitors := doc["visitorsTimeseries"].(map[string]interface{})
	assert.EqualValues(t, 2, visitors["2024-01-05"])
	assert.EqualValues(t, 1, visitors["2024-01-06"])
}

func TestSummarizeLoadTimes(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	seedVisit(t, dbManager, visits.Visit{ID: "l-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a", Pathname: "/", LoadTime: 1.0})
	seedVisit(t, dbManager, visits.Visit{ID: "l-2", Host: "site.example", Date: "2024-01-06", IP: "ip-b", Pathname: "/", LoadTime: 3.0})
	seedVisit(t, dbManager, visits.Visit{ID: "l-3", Host: "site.example", Date: "2024-01-06", IP: "ip-b", Pathname: "/about", LoadTime: 2.0})

	summary, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)
	doc := decodeSummary(t, summary)

	loadTimes := doc["loadTimes"].(map[string]interface{})
	assert.InDelta(t, 2.0, loadTimes["/"], 1e-9)
	assert.InDelta(t, 2.0, loadTimes["/about"], 1e-9)
}

func TestSummarizeReplacesStaleSummary(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	seedVisit(t, dbManager, visits.Visit{ID: "r-1", Host: "site.example", Date: "2024-01-05", IP: "ip-a"})

	first, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)

	seedVisit(t, dbManager, visits.Visit{ID: "r-2", Host: "site.example", Date: "2024-01-06", IP: "ip-b"})

	second, err := summarizer.Summarize("site.example", "2024-01")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	// Only the fresh document remains for the key.
	var count int64
	require.NoError(t, dbManager.GetConnection().Model(&visits.Summary{}).
		Where("host = ? AND date = ?", "site.example", "2024-01").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := visits.GetSummary(dbManager.GetConnection(), "site.example", "2024-01")
	require.NoError(t, err)
	require.NotNil(t, stored)
	doc := decodeSummary(t, stored)
	assert.EqualValues(t, 2, doc["pageviews"])
}

func TestSummarizeAllIsolatesHosts(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	summarizer := visits.NewSummarizer(dbManager, logger)

	seedVisit(t, dbManager, visits.Visit{ID: "h-1", Host: "one.example", Date: "2024-01-05", IP: "ip-a"})
	seedVisit(t, dbManager, visits.Visit{ID: "h-2", Host: "two.example", Date: "2024-01-05", IP: "ip-b"})

	require.NoError(t, summarizer.SummarizeAll("2024-01"))

	for _, host := range []string{"one.example", "two.example"} {
		stored, err := visits.GetSummary(dbManager.GetConnection(), host, "2024-01")
		require.NoError(t, err)
		require.NotNil(t, stored, "summary missing for %s", host)
	}
}

func TestPeriodHelpers(t *testing.T) {
	assert.Equal(t, "2024-01", visits.PreviousMonth(time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2023-12", visits.PreviousMonth(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-02", visits.CurrentMonth(time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)))
}

func TestListDistinctHosts(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)

	hosts, err := visits.ListDistinctHosts(dbManager.GetConnection())
	require.NoError(t, err)
	assert.Empty(t, hosts)

	seedVisit(t, dbManager, visits.Visit{ID: "lh-1", Host: "one.example", Date: "2024-01-05", IP: "ip-a"})
	seedVisit(t, dbManager, visits.Visit{ID: "lh-2", Host: "one.example", Date: "2024-01-06", IP: "ip-a"})
	seedVisit(t, dbManager, visits.Visit{ID: "lh-3", Host: "two.example", Date: "2024-01-05", IP: "ip-b"})

	hosts, err = visits.ListDistinctHosts(dbManager.GetConnection())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"one.example", "two.example"}, hosts)
}
