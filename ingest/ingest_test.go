package ingest_test

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsingest/config"
	"tidbyt.dev/gtfsingest/ingest"
	"tidbyt.dev/gtfsingest/ingestlog"
	"tidbyt.dev/gtfsingest/testutil"
)

// writeArchive bundles files into a zip on disk, since ingest.Pipeline.Load
// takes an archive path rather than an in-memory reader (unlike
// loader.Load, which the loader package's own tests drive directly).
func writeArchive(t *testing.T, dir string, files map[string][]string) string {
	t.Helper()
	path := filepath.Join(dir, "feed.zip")
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, lines := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(lines, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newPipeline(t *testing.T) *ingest.Pipeline {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StorageDSN = dir
	return ingest.NewSQLitePipeline(cfg, ingestlog.New(io.Discard, ingestlog.LevelError))
}

var minimalFeed = map[string][]string{
	"agency.txt":     {"agency_id,agency_name,agency_url,agency_timezone", "1,Agency,http://example.com,America/Los_Angeles"},
	"stops.txt":      {"stop_id,stop_name,stop_lat,stop_lon", "A,Stop A,47.6,-122.3", "B,Stop B,47.7,-122.4"},
	"routes.txt":     {"route_id,agency_id,route_short_name,route_type", "R1,1,1,3"},
	"trips.txt":      {"trip_id,route_id,service_id", "T1,R1,S1"},
	"stop_times.txt": {"trip_id,stop_id,stop_sequence,arrival_time,departure_time", "T1,A,1,06:00:00,06:00:00", "T1,B,2,06:05:00,06:05:00"},
	"calendar.txt":   {"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date", "S1,1,1,1,1,1,0,0,20180101,20180131"},
}

func cloneFeed(base map[string][]string) map[string][]string {
	out := make(map[string][]string, len(base))
	for k, v := range base {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// TestMinimalFeedLoadsCleanAndProducesOnePattern is spec.md §8 seed
// scenario 1: a minimal valid feed should load with exact row counts,
// zero errors, and yield a single pattern covering the one trip.
func TestMinimalFeedLoadsCleanAndProducesOnePattern(t *testing.T) {
	p := newPipeline(t)
	dir := t.TempDir()
	path := writeArchive(t, dir, cloneFeed(minimalFeed))

	loadRes, err := p.Load(path, nil)
	require.NoError(t, err)
	require.Nil(t, loadRes.FatalException)

	counts := map[string]int64{}
	for _, tbl := range loadRes.Tables {
		counts[tbl.Table] = tbl.RowCount
	}
	require.EqualValues(t, 1, counts["agency"])
	require.EqualValues(t, 2, counts["stops"])
	require.EqualValues(t, 1, counts["routes"])
	require.EqualValues(t, 1, counts["trips"])
	require.EqualValues(t, 2, counts["stop_times"])
	require.EqualValues(t, 1, counts["calendar"])

	valRes, err := p.Validate(loadRes.Namespace, nil)
	require.NoError(t, err)
	require.Nil(t, valRes.FatalException)
	require.Equal(t, 0, valRes.ErrorCount)

	store, err := p.OpenStore(loadRes.Namespace)
	require.NoError(t, err)
	defer store.Close()

	var patternCount int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&patternCount))
	require.Equal(t, 1, patternCount)

	var tripPattern string
	require.NoError(t, store.DB().QueryRow(`SELECT pattern_id FROM trips WHERE trip_id = 'T1'`).Scan(&tripPattern))
	require.NotEmpty(t, tripPattern)
}

// TestDuplicateStopIDRecordedOnSecondOccurrence is seed scenario 2: both
// rows insert, but the second stop_id="A" row raises exactly one
// DUPLICATE_ID error line-scoped to its own line.
func TestDuplicateStopIDRecordedOnSecondOccurrence(t *testing.T) {
	p := newPipeline(t)
	dir := t.TempDir()
	feed := cloneFeed(minimalFeed)
	feed["stops.txt"] = []string{
		"stop_id,stop_name,stop_lat,stop_lon",
		"A,Stop A,47.6,-122.3",
		"A,Stop A Dup,47.61,-122.31",
	}
	path := writeArchive(t, dir, feed)

	loadRes, err := p.Load(path, nil)
	require.NoError(t, err)

	store, err := p.OpenStore(loadRes.Namespace)
	require.NoError(t, err)
	defer store.Close()

	var stopCount int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM stops`).Scan(&stopCount))
	require.Equal(t, 2, stopCount)

	testutil.RequireError(t, store.DB(), "DUPLICATE_ID", "stops")

	var line int64
	require.NoError(t, store.DB().QueryRow(
		`SELECT line FROM errors WHERE kind = 'DUPLICATE_ID' AND tbl = 'stops'`).Scan(&line))
	require.EqualValues(t, 3, line)
}

// TestMultiAgencyWithoutIDsRaisesTwoErrors is seed scenario 3: two
// agency rows both empty agency_id raise two
// AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS errors, on lines 2 and 3.
func TestMultiAgencyWithoutIDsRaisesTwoErrors(t *testing.T) {
	p := newPipeline(t)
	dir := t.TempDir()
	feed := cloneFeed(minimalFeed)
	feed["agency.txt"] = []string{
		"agency_id,agency_name,agency_url,agency_timezone",
		",Agency One,http://one.example.com,America/Los_Angeles",
		",Agency Two,http://two.example.com,America/Los_Angeles",
	}
	path := writeArchive(t, dir, feed)

	loadRes, err := p.Load(path, nil)
	require.NoError(t, err)

	store, err := p.OpenStore(loadRes.Namespace)
	require.NoError(t, err)
	defer store.Close()

	var count int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM errors WHERE kind = 'AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS'`).Scan(&count))
	require.Equal(t, 2, count)
}

// TestTravelTooFastFlagged is seed scenario 5: two stops 1km apart,
// 10s apart in time, on a bus route — well above the bus threshold.
func TestTravelTooFastFlagged(t *testing.T) {
	p := newPipeline(t)
	dir := t.TempDir()
	feed := cloneFeed(minimalFeed)
	// A (47.6,-122.3) to B (47.7,-122.4) is tens of km apart already in
	// the minimal feed; force a 10s gap to guarantee an absurd speed
	// regardless of the exact great-circle distance.
	feed["stop_times.txt"] = []string{
		"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
		"T1,A,1,06:00:00,06:00:00",
		"T1,B,2,06:00:10,06:00:10",
	}
	path := writeArchive(t, dir, feed)

	loadRes, err := p.Load(path, nil)
	require.NoError(t, err)
	_, err = p.Validate(loadRes.Namespace, nil)
	require.NoError(t, err)

	store, err := p.OpenStore(loadRes.Namespace)
	require.NoError(t, err)
	defer store.Close()

	testutil.RequireError(t, store.DB(), "TRAVEL_TOO_FAST", "stop_times")

	var entityID string
	var sequence int64
	require.NoError(t, store.DB().QueryRow(
		`SELECT entity_id, sequence FROM errors WHERE kind = 'TRAVEL_TOO_FAST'`).Scan(&entityID, &sequence))
	require.Equal(t, "T1", entityID)
	require.EqualValues(t, 2, sequence)
}

// TestTripMissingStopTimesExcludedFromPatterns is seed scenario 6: a
// trip absent from stop_times raises NO_STOP_TIMES_FOR_TRIP and never
// appears in any pattern.
func TestTripMissingStopTimesExcludedFromPatterns(t *testing.T) {
	p := newPipeline(t)
	dir := t.TempDir()
	feed := cloneFeed(minimalFeed)
	feed["trips.txt"] = []string{
		"trip_id,route_id,service_id",
		"T1,R1,S1",
		"T2,R1,S1",
	}
	path := writeArchive(t, dir, feed)

	loadRes, err := p.Load(path, nil)
	require.NoError(t, err)
	_, err = p.Validate(loadRes.Namespace, nil)
	require.NoError(t, err)

	store, err := p.OpenStore(loadRes.Namespace)
	require.NoError(t, err)
	defer store.Close()

	testutil.RequireError(t, store.DB(), "NO_STOP_TIMES_FOR_TRIP", "trips")

	var patternID sql.NullString
	require.NoError(t, store.DB().QueryRow(
		`SELECT pattern_id FROM trips WHERE trip_id = 'T2'`).Scan(&patternID))
	require.False(t, patternID.Valid)
}
