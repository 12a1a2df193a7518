package loader_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/ingeststore"
	"tidbyt.dev/gtfsingest/loader"
	"tidbyt.dev/gtfsingest/reftracker"
	"tidbyt.dev/gtfsingest/schema"
	"tidbyt.dev/gtfsingest/testutil"
)

func newStore(t *testing.T) *ingeststore.SQLiteFeedStore {
	store, err := ingeststore.OpenSQLiteFeedStore("", "test")
	require.NoError(t, err)
	reg := schema.NewRegistry()
	require.NoError(t, store.CreateSchema(reg))
	return store
}

// Minimal valid feed, spec.md §8's first seed scenario: a load of it
// should produce the exact row counts with zero errors.
func TestLoadMinimalFeed(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	archive := testutil.BuildArchive(t, map[string][]string{
		"agency.txt":     {"agency_id,agency_name,agency_url,agency_timezone", "1,Agency,http://example.com,America/Los_Angeles"},
		"stops.txt":      {"stop_id,stop_name,stop_lat,stop_lon", "A,Stop A,47.6,-122.3", "B,Stop B,47.7,-122.4"},
		"routes.txt":     {"route_id,agency_id,route_short_name,route_type", "R1,1,1,3"},
		"trips.txt":      {"trip_id,route_id,service_id", "T1,R1,S1"},
		"stop_times.txt": {"trip_id,stop_id,stop_sequence,arrival_time,departure_time", "T1,A,1,06:00:00,06:00:00", "T1,B,2,06:05:00,06:05:00"},
		"calendar.txt":   {"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date", "S1,1,1,1,1,1,0,0,20180101,20180131"},
	}, "", "")

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()
	reg := schema.NewRegistry()

	res := loader.Load(reg, store, errs, tracker, archive, loader.Config{}, nil, nil)
	require.Nil(t, res.FatalException)

	counts := map[string]int64{}
	for _, tr := range res.Tables {
		counts[tr.Table] = tr.RowCount
	}
	require.EqualValues(t, 1, counts["agency"])
	require.EqualValues(t, 2, counts["stops"])
	require.EqualValues(t, 1, counts["routes"])
	require.EqualValues(t, 1, counts["trips"])
	require.EqualValues(t, 2, counts["stop_times"])
	require.EqualValues(t, 1, counts["calendar"])
	require.Zero(t, errs.Count())
}

// spec.md §8 seed scenario 2: a repeated stop_id fires exactly one
// DUPLICATE_ID, and both rows still land in storage.
func TestLoadDuplicateStopID(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	archive := testutil.BuildArchive(t, map[string][]string{
		"agency.txt": {"agency_id,agency_name,agency_url,agency_timezone", "1,Agency,http://example.com,America/Los_Angeles"},
		"stops.txt":  {"stop_id,stop_name,stop_lat,stop_lon", "A,First,47.6,-122.3", "A,Second,47.7,-122.4"},
		"routes.txt": {"route_id,agency_id,route_short_name,route_type", "R1,1,1,3"},
		"trips.txt":  {"trip_id,route_id,service_id"},
	}, "", "")

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()
	reg := schema.NewRegistry()

	res := loader.Load(reg, store, errs, tracker, archive, loader.Config{}, nil, nil)
	require.Nil(t, res.FatalException)

	require.Equal(t, 1, errs.CountOfKind("DUPLICATE_ID"))
	testutil.RequireError(t, store.DB(), "DUPLICATE_ID", "stops")

	var rowCount int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM stops`).Scan(&rowCount))
	require.Equal(t, 2, rowCount)
}

// A stop_times row for a trip that doesn't repeat a prior trip_id must
// not spuriously fire DUPLICATE_ID: the key field anchors the (trip_id,
// stop_sequence) compound key instead.
func TestLoadStopTimesDoesNotFalseFlagDuplicateKey(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	archive := testutil.BuildArchive(t, map[string][]string{
		"agency.txt": {"agency_id,agency_name,agency_url,agency_timezone", "1,Agency,http://example.com,America/Los_Angeles"},
		"stops.txt":  {"stop_id,stop_name,stop_lat,stop_lon", "A,A,47.6,-122.3", "B,B,47.7,-122.4", "C,C,47.8,-122.5"},
		"routes.txt": {"route_id,agency_id,route_short_name,route_type", "R1,1,1,3"},
		"trips.txt":  {"trip_id,route_id,service_id", "T1,R1,S1"},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time,departure_time",
			"T1,A,1,06:00:00,06:00:00",
			"T1,B,2,06:05:00,06:05:00",
			"T1,C,3,06:10:00,06:10:00",
		},
	}, "", "")

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()
	reg := schema.NewRegistry()

	res := loader.Load(reg, store, errs, tracker, archive, loader.Config{}, nil, nil)
	require.Nil(t, res.FatalException)
	require.Equal(t, 0, errs.CountOfKind("DUPLICATE_ID"))
}

// spec.md §8 seed scenario 3: two agency rows with no agency_id each
// get AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS, attributed to their
// own line.
func TestLoadMultiAgencyRequiresAgencyID(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	archive := testutil.BuildArchive(t, map[string][]string{
		"agency.txt": {"agency_id,agency_name,agency_url,agency_timezone", ",A,http://a.example.com,UTC", ",B,http://b.example.com,UTC"},
	}, "", "")

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()
	reg := schema.NewRegistry()

	loader.Load(reg, store, errs, tracker, archive, loader.Config{}, nil, nil)
	require.Equal(t, 2, errs.CountOfKind("AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS"))
}

// A multi-agency feed where every row already carries an agency_id
// must not retroactively flag any of them.
func TestLoadMultiAgencyWithIDsRaisesNothing(t *testing.T) {
	store := newStore(t)
	defer store.Close()

	archive := testutil.BuildArchive(t, map[string][]string{
		"agency.txt": {"agency_id,agency_name,agency_url,agency_timezone", "1,A,http://a.example.com,UTC", "2,B,http://b.example.com,UTC"},
	}, "", "")

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()
	reg := schema.NewRegistry()

	loader.Load(reg, store, errs, tracker, archive, loader.Config{}, nil, nil)
	require.Equal(t, 0, errs.CountOfKind("AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS"))
}
