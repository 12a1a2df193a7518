// Package ingest wires the schema registry, the storage backend, the
// error store, the reference tracker and the loader/validate packages
// together into the two operations spec.md §6 names as the process
// interface: Load(archive) and Validate(namespace). Nothing downstream
// of this package touches the reference tracker or a raw archive
// directly; this is the only place that owns both ends of a feed's
// lifecycle.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha1"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"

	"tidbyt.dev/gtfsingest/config"
	"tidbyt.dev/gtfsingest/downloader"
	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/ingeststore"
	"tidbyt.dev/gtfsingest/ingestlog"
	"tidbyt.dev/gtfsingest/loader"
	"tidbyt.dev/gtfsingest/reftracker"
	"tidbyt.dev/gtfsingest/schema"
	"tidbyt.dev/gtfsingest/validate"
)

// Pipeline bundles the long-lived collaborators Load and Validate share:
// the table registry (stateless, built once) and the backend-specific
// store opener. Both CLI subcommands and library callers construct one
// of these at startup.
type Pipeline struct {
	Registry *schema.Registry
	Cfg      config.Config
	Log      *ingestlog.Logger

	// OpenStore returns a fresh FeedStore scoped to namespace. The sqlite
	// and postgres backends differ enough in connection lifecycle
	// (one file vs. one schema on a shared *sql.DB) that the cmd layer
	// picks the right constructor once and hands it down as a closure.
	OpenStore func(namespace string) (ingeststore.FeedStore, error)
}

// NewSQLitePipeline is the constructor cmd/main.go uses for the default
// "sqlite directory" backend.
func NewSQLitePipeline(cfg config.Config, log *ingestlog.Logger) *Pipeline {
	dir := cfg.StorageDSN
	return &Pipeline{
		Registry: schema.NewRegistry(),
		Cfg:      cfg,
		Log:      log,
		OpenStore: func(namespace string) (ingeststore.FeedStore, error) {
			return ingeststore.OpenSQLiteFeedStore(dir, namespace)
		},
	}
}

// NewPostgresPipeline opens a dedicated, schema-scoped *sql.DB pool per
// feed namespace against dsn, per ingeststore.OpenPostgresFeedStore.
func NewPostgresPipeline(cfg config.Config, log *ingestlog.Logger) *Pipeline {
	dsn := cfg.StorageDSN
	return &Pipeline{
		Registry: schema.NewRegistry(),
		Cfg:      cfg,
		Log:      log,
		OpenStore: func(namespace string) (ingeststore.FeedStore, error) {
			return ingeststore.OpenPostgresFeedStore(dsn, namespace)
		},
	}
}

// LoadResult is spec.md §6's load-result contract plus the namespace
// the caller needs to later call Validate.
type LoadResult struct {
	Namespace      string
	Filename       string
	FatalException error
	TotalTimeMillis int64
	Tables         []loader.TableResult
}

// Load provisions a fresh namespace, creates its schema, and runs the
// registry-ordered streaming load against archivePath. The reference
// tracker lives only for the duration of this call, per spec.md §3's
// single-owner rule.
func (p *Pipeline) Load(archivePath string, cancel loader.Cancel) (*LoadResult, error) {
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "ingest: reading archive")
	}
	return p.loadBytes(data, archivePath, cancel)
}

// LoadFromURL fetches the archive through dl (a downloader.Downloader,
// e.g. downloader.Filesystem for disk-cached fetches) before running
// the same load path Load does. headers are forwarded verbatim to the
// request; dl is responsible for any caching policy.
func (p *Pipeline) LoadFromURL(ctx context.Context, dl downloader.Downloader, url string, headers map[string]string, opts downloader.GetOptions, cancel loader.Cancel) (*LoadResult, error) {
	data, err := dl.Get(ctx, url, headers, opts)
	if err != nil {
		return nil, errors.Wrap(err, "ingest: downloading archive")
	}
	return p.loadBytes(data, url, cancel)
}

func (p *Pipeline) loadBytes(data []byte, source string, cancel loader.Cancel) (*LoadResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "ingest: opening archive as zip")
	}

	namespace := ingeststore.NewNamespace()
	store, err := p.OpenStore(namespace)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.CreateSchema(p.Registry); err != nil {
		return nil, errors.Wrap(err, "ingest: creating feed schema")
	}

	errs := errorstore.New(store.DB(), "errors", "bad_values", store.Placeholder)
	tracker := reftracker.New()

	loadCfg := loader.Config{BatchSize: p.Cfg.LoaderBatchSize}
	res := loader.Load(p.Registry, store, errs, tracker, zr, loadCfg, p.Log, cancel)
	errs.Commit()

	feedID, feedVersion := readFeedInfo(store.DB())

	row := ingeststore.FeedRegistryRow{
		Namespace:   namespace,
		MD5:         fmt.Sprintf("%x", md5.Sum(data)),
		SHA1:        fmt.Sprintf("%x", sha1.Sum(data)),
		FeedID:      feedID,
		FeedVersion: feedVersion,
		Filename:    source,
		LoadedAt:    time.Now().Unix(),
	}
	if err := p.recordRegistryRow(row); err != nil {
		p.Log.Warn("ingest: could not record registry row for %s: %v", namespace, err)
	}

	return &LoadResult{
		Namespace:       namespace,
		Filename:        source,
		FatalException:  res.FatalException,
		TotalTimeMillis: res.TotalTimeMillis,
		Tables:          res.Tables,
	}, nil
}

// recordRegistryRow is deliberately best-effort: a registry bookkeeping
// failure must never mask a load that otherwise succeeded, matching
// spec.md §4.10's "only a storage-transaction fault on the feed's own
// tables is fatal."
func (p *Pipeline) recordRegistryRow(row ingeststore.FeedRegistryRow) error {
	if p.Cfg.Backend == "postgres" {
		db, err := sql.Open("postgres", p.Cfg.StorageDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := ingeststore.CreateRegistryTables(db); err != nil {
			return err
		}
		return ingeststore.InsertFeedRegistryRowPostgres(db, row)
	}

	db, err := ingeststore.CreateRegistryDB(p.Cfg.StorageDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return ingeststore.InsertFeedRegistryRow(db, row)
}

func readFeedInfo(db *sql.DB) (feedID, feedVersion string) {
	row := db.QueryRow(`SELECT feed_id, feed_version FROM feed_info LIMIT 1`)
	var id, version sql.NullString
	if err := row.Scan(&id, &version); err != nil {
		return "", ""
	}
	return id.String, version.String
}

// ValidationResult is spec.md §6's validation-result contract.
type ValidationResult struct {
	ErrorCount           int
	ErrorKindCounts      map[string]int
	FatalException       error
	DeclaredStartDate    string
	DeclaredEndDate      string
	FirstObservedDate    string
	LastObservedDate     string
	DailyTripCounts      map[string]int
	DailySecondsByMode   map[string]map[int64]int64
	FullBoundingBox      validate.BBox
	OutlierStrippedBBox  validate.BBox
	ValidationTimeMillis int64
}

// Validate reopens namespace's store, expands calendar/calendar_dates
// into the service_dates table, runs the trip-walk driver with the full
// fixed validator set (spec.md §4.9) plus the pattern extractor (§4.8),
// and returns the aggregate findings.
func (p *Pipeline) Validate(namespace string, cancel validate.Cancel) (*ValidationResult, error) {
	start := time.Now()
	store, err := p.OpenStore(namespace)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	db := store.DB()
	errs := errorstore.New(db, "errors", "bad_values", store.Placeholder)

	declaredStart, declaredEnd, err := expandServiceDates(db, store.Placeholder, p.Cfg.StrictCalendarDuplicateKey, errs)
	if err != nil {
		return nil, errors.Wrap(err, "ingest: expanding service dates")
	}

	deps, err := validate.NewDeps(db, p.Cfg.BusSpeedThreshold, p.Cfg.RailSpeedThreshold, p.Cfg.TravelTooSlowFloor, p.Cfg.DuplicateStopToleranceMeters)
	if err != nil {
		return nil, err
	}

	validators := []validate.Validator{
		&validate.SpeedValidator{},
		validate.NewNamesValidator(),
		validate.NewParentStationValidator(),
		validate.NewDuplicateStopValidator(),
		validate.NewMisplacedStopValidator(),
		validate.NewTimeZoneValidator(),
		validate.NewPatternExtractor(store),
	}
	if fv, err := validate.NewFrequencyValidator(db); err == nil {
		validators = append(validators, fv)
	}
	if fav, err := validate.NewFareValidator(db); err == nil {
		validators = append(validators, fav)
	}

	res, err := validate.Run(db, validators, deps, errs, cancel)
	if err != nil {
		return nil, err
	}
	errs.Commit()

	firstObserved, lastObserved, dailyTrips, dailySeconds, err := observedStats(db)
	if err != nil {
		return nil, err
	}

	return &ValidationResult{
		ErrorCount:           res.ErrorCount,
		ErrorKindCounts:      errs.Counts(),
		FatalException:       res.FatalException,
		DeclaredStartDate:    declaredStart,
		DeclaredEndDate:      declaredEnd,
		FirstObservedDate:    firstObserved,
		LastObservedDate:     lastObserved,
		DailyTripCounts:      dailyTrips,
		DailySecondsByMode:   dailySeconds,
		FullBoundingBox:      res.FullBoundingBox,
		OutlierStrippedBBox:  res.OutlierStrippedBBox,
		ValidationTimeMillis: time.Since(start).Milliseconds(),
	}, nil
}

// expandServiceDates materializes calendar's day-of-week/date-range
// rule plus calendar_dates' additions/removals into one row per
// (service_id, date) in the service_dates table, returning the
// declared start/end date spanning every calendar row (spec.md §6's
// "declared start/end dates").
func expandServiceDates(db *sql.DB, ph func(n int) string, strict bool, errs *errorstore.Store) (declaredStart, declaredEnd string, err error) {
	rows, err := db.Query(`SELECT service_id, monday, tuesday, wednesday, thursday, friday, saturday, sunday, start_date, end_date FROM calendar`)
	if err != nil {
		return "", "", errors.Wrap(err, "ingest: querying calendar")
	}
	type calRow struct {
		serviceID         string
		days              [7]bool
		startDate, endDate string
	}
	var cals []calRow
	for rows.Next() {
		var c calRow
		var d [7]int
		if err := rows.Scan(&c.serviceID, &d[0], &d[1], &d[2], &d[3], &d[4], &d[5], &d[6], &c.startDate, &c.endDate); err != nil {
			rows.Close()
			return "", "", err
		}
		for i, v := range d {
			c.days[i] = v == 1
		}
		cals = append(cals, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", "", err
	}

	seen := map[string]bool{} // service_id + date, de-dup across calendar expansion and calendar_dates additions
	insert, err := db.Prepare(fmt.Sprintf(`INSERT INTO service_dates (service_id, date) VALUES (%s, %s)`, ph(1), ph(2)))
	if err != nil {
		return "", "", errors.Wrap(err, "ingest: preparing service_dates insert")
	}
	defer insert.Close()

	for _, c := range cals {
		if declaredStart == "" || c.startDate < declaredStart {
			declaredStart = c.startDate
		}
		if declaredEnd == "" || c.endDate > declaredEnd {
			declaredEnd = c.endDate
		}
		start, err1 := time.Parse("20060102", c.startDate)
		end, err2 := time.Parse("20060102", c.endDate)
		if err1 != nil || err2 != nil {
			continue
		}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if !c.days[weekdayIndex(d)] {
				continue
			}
			dateStr := d.Format("20060102")
			key := c.serviceID + "\x1f" + dateStr
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, err := insert.Exec(c.serviceID, dateStr); err != nil {
				return "", "", errors.Wrap(err, "ingest: inserting service_dates row")
			}
		}
	}

	exRows, err := db.Query(`SELECT service_id, date, exception_type FROM calendar_dates`)
	if err != nil {
		return declaredStart, declaredEnd, errors.Wrap(err, "ingest: querying calendar_dates")
	}
	type exceptionRow struct {
		serviceID     string
		date          string
		exceptionType int
	}
	var exceptions []exceptionRow
	for exRows.Next() {
		var e exceptionRow
		if err := exRows.Scan(&e.serviceID, &e.date, &e.exceptionType); err != nil {
			exRows.Close()
			return declaredStart, declaredEnd, err
		}
		exceptions = append(exceptions, e)
	}
	exRows.Close()
	if err := exRows.Err(); err != nil {
		return declaredStart, declaredEnd, err
	}

	deleteStmt, err := db.Prepare(fmt.Sprintf(`DELETE FROM service_dates WHERE service_id = %s AND date = %s`, ph(1), ph(2)))
	if err != nil {
		return declaredStart, declaredEnd, errors.Wrap(err, "ingest: preparing service_dates delete")
	}
	defer deleteStmt.Close()

	for _, e := range exceptions {
		key := e.serviceID + "\x1f" + e.date
		switch e.exceptionType {
		case 1: // service added
			if seen[key] {
				if strict {
					errs.Store(errorstore.Record{Kind: "DUPLICATE_KEY", Table: "calendar_dates", EntityID: e.serviceID, BadValue: e.date, Priority: errorstore.PriorityLow})
				}
				continue
			}
			seen[key] = true
			if _, err := insert.Exec(e.serviceID, e.date); err != nil {
				return declaredStart, declaredEnd, errors.Wrap(err, "ingest: inserting calendar_dates addition")
			}
		case 2: // service removed
			if _, err := deleteStmt.Exec(e.serviceID, e.date); err != nil {
				return declaredStart, declaredEnd, errors.Wrap(err, "ingest: removing service_dates row")
			}
			delete(seen, key)
		}
	}
	return declaredStart, declaredEnd, nil
}

func weekdayIndex(t time.Time) int {
	// time.Weekday is Sunday=0..Saturday=6; calendar's day fields are
	// declared Monday-first, so shift by one.
	return (int(t.Weekday()) + 6) % 7
}

// observedStats derives the first/last observed dates, per-day trip
// counts, and per-day/per-mode scheduled-seconds totals from the
// materialized service_dates table joined against trips and routes.
func observedStats(db *sql.DB) (first, last string, dailyTrips map[string]int, dailySeconds map[string]map[int64]int64, err error) {
	dailyTrips = map[string]int{}
	dailySeconds = map[string]map[int64]int64{}

	rows, err := db.Query(`SELECT date FROM service_dates ORDER BY date`)
	if err != nil {
		return "", "", nil, nil, errors.Wrap(err, "ingest: querying service_dates")
	}
	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return "", "", nil, nil, err
		}
		dates = append(dates, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", "", nil, nil, err
	}
	if len(dates) > 0 {
		sort.Strings(dates)
		first, last = dates[0], dates[len(dates)-1]
	}

	tripStats, err := db.Query(`
		SELECT sd.date, r.route_type, t.trip_id,
			(SELECT MAX(st.departure_time) - MIN(st.arrival_time) FROM stop_times st WHERE st.trip_id = t.trip_id)
		FROM service_dates sd
		JOIN trips t ON t.service_id = sd.service_id
		JOIN routes r ON r.route_id = t.route_id`)
	if err != nil {
		return first, last, dailyTrips, dailySeconds, errors.Wrap(err, "ingest: aggregating trip stats")
	}
	defer tripStats.Close()
	for tripStats.Next() {
		var date, tripID string
		var routeType int64
		var span sql.NullInt64
		if err := tripStats.Scan(&date, &routeType, &tripID, &span); err != nil {
			return first, last, dailyTrips, dailySeconds, err
		}
		dailyTrips[date]++
		if span.Valid && span.Int64 > 0 {
			if dailySeconds[date] == nil {
				dailySeconds[date] = map[int64]int64{}
			}
			dailySeconds[date][routeType] += span.Int64
		}
	}
	return first, last, dailyTrips, dailySeconds, tripStats.Err()
}
