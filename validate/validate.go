// Package validate is the trip-walk driver and the fixed set of trip
// validators from spec.md §4.7–§4.9: after load, every trip is visited
// exactly once, each validator sees the trip's ordered stop events, and
// the pattern extractor clusters trips into patterns at the end of the
// pass. Grounded in storage.HaversineDistance (the teacher's only
// geospatial primitive) and the sequential pull-based cursor spec.md §9
// describes ("read until trip id changes, emit a batch, repeat") —
// no cooperative scheduler, just two sql.Rows cursors walked in
// lockstep.
package validate

import (
	"database/sql"
	"sort"

	"github.com/pkg/errors"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/fieldtype"
)

// StopEvent is one row of stop_times, already typed. Missing numeric
// fields carry fieldtype.IntMissing/DoubleMissing exactly as bound by
// the loader, so validators recognize them uniformly.
type StopEvent struct {
	StopSequence      int64
	Arrival           int64
	Departure         int64
	StopID            string
	LocationGroupID   string
	LocationID        string
	PickupType        int64
	DropOffType       int64
	ContinuousPickup  int64
	ContinuousDropOff int64
	Timepoint         int64
	ShapeDistTraveled float64
	StartWindow       int64
	EndWindow         int64
	BookingRuleID     string
	Headsign          string
}

// HaltKind classifies which key set a stop event's halt identifier
// belongs to, used by both the speed validator (stop coordinates) and
// the pattern extractor (pattern-halts table selection).
type HaltKind int

const (
	HaltUnknown HaltKind = iota
	HaltStop
	HaltLocation
	HaltLocationGroup
)

func (e StopEvent) HaltKind() HaltKind {
	switch {
	case e.StopID != "":
		return HaltStop
	case e.LocationID != "":
		return HaltLocation
	case e.LocationGroupID != "":
		return HaltLocationGroup
	}
	return HaltUnknown
}

func (e StopEvent) HaltID() string {
	switch e.HaltKind() {
	case HaltStop:
		return e.StopID
	case HaltLocation:
		return e.LocationID
	case HaltLocationGroup:
		return e.LocationGroupID
	}
	return ""
}

// Trip and Route are the joined context a validator operates on.
type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	ShapeID     string
	DirectionID int64
}

type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Desc      string
	Type      int64
}

type Stop struct {
	ID            string
	Lat, Lon      float64
	ParentStation string
	Timezone      string
	ZoneID        string
}

// TripContext is what each registered validator receives per trip.
type TripContext struct {
	Trip  Trip
	Route Route
	Stops []StopEvent
}

// Validator is a registered trip validator. ValidateTrip is called once
// per trip in trip-id order; Complete is called once after the last
// trip, letting stateful validators (the pattern extractor, speed's
// feed-level "defaulted threshold" notice) flush.
type Validator interface {
	Name() string
	ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store)
	Complete(deps *Deps, errs *errorstore.Store)
}

// Deps bundles the read-only lookups every validator may need: stop
// coordinates/parents (by stop_id), agency timezones (by agency_id), and
// the existence sets the trip-walk driver built once from the committed
// tables rather than the (by-then-discarded) loader reference tracker.
type Deps struct {
	Stops          map[string]Stop
	AgencyTimezone map[string]string
	StopExists     map[string]bool
	LocationExists map[string]bool
	GroupExists    map[string]bool

	BusSpeedThreshold  float64
	RailSpeedThreshold float64
	TravelTooSlowFloor float64
	DuplicateStopToleranceMeters float64

	flexThresholdDefaulted bool
}

// Result is spec.md §6's validation-result contract.
type Result struct {
	ErrorCount           int
	FatalException       error
	DeclaredStartDate    string
	DeclaredEndDate      string
	FirstObservedDate    string
	LastObservedDate     string
	DailyTripCounts      map[string]int
	DailySecondsByMode   map[string]map[int64]int64
	FullBoundingBox      BBox
	OutlierStrippedBBox  BBox
	ValidationTimeMillis int64
	Cancelled            bool
}

type BBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
	set                            bool
}

func (b *BBox) Extend(lat, lon float64) {
	if !b.set {
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon = lat, lat, lon, lon
		b.set = true
		return
	}
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
}

// Cancel is the shared pipeline-wide cancellation token, checked
// between trips per spec.md §5.
type Cancel interface {
	Cancelled() bool
}

// loadStops reads the committed stops table into a lookup map, used for
// both the speed validator's great-circle distances and the parent-
// station / duplicate-stop validators. SQL NULL (an unset optional
// lat/lon) becomes fieldtype.DoubleMissing, same sentinel the loader
// binds on insert.
func loadStops(db *sql.DB) (map[string]Stop, error) {
	rows, err := db.Query(`SELECT stop_id, stop_lat, stop_lon, parent_station, stop_timezone, zone_id FROM stops`)
	if err != nil {
		return nil, errors.Wrap(err, "validate: querying stops")
	}
	defer rows.Close()
	out := map[string]Stop{}
	for rows.Next() {
		var id string
		var lat, lon sql.NullFloat64
		var parent, tz, zone sql.NullString
		if err := rows.Scan(&id, &lat, &lon, &parent, &tz, &zone); err != nil {
			return nil, err
		}
		s := Stop{ID: id, ParentStation: parent.String, Timezone: tz.String, ZoneID: zone.String}
		if lat.Valid {
			s.Lat = lat.Float64
		} else {
			s.Lat = fieldtype.DoubleMissing
		}
		if lon.Valid {
			s.Lon = lon.Float64
		} else {
			s.Lon = fieldtype.DoubleMissing
		}
		out[id] = s
	}
	return out, rows.Err()
}

func loadExistSet(db *sql.DB, table, col string) (map[string]bool, error) {
	rows, err := db.Query("SELECT " + col + " FROM " + table)
	if err != nil {
		// Tables like location_groups/locations are extension tables
		// and may not exist in a backend that skips unused DDL; treat
		// a query failure as "empty set" rather than fatal.
		return map[string]bool{}, nil
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func loadAgencyTimezones(db *sql.DB) (map[string]string, error) {
	rows, err := db.Query(`SELECT agency_id, agency_timezone FROM agency`)
	if err != nil {
		return nil, errors.Wrap(err, "validate: querying agency")
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var id, tz string
		if err := rows.Scan(&id, &tz); err != nil {
			return nil, err
		}
		out[id] = tz
	}
	return out, rows.Err()
}

func loadRoutes(db *sql.DB) (map[string]Route, error) {
	rows, err := db.Query(`SELECT route_id, COALESCE(agency_id,''), COALESCE(route_short_name,''), COALESCE(route_long_name,''), COALESCE(route_desc,''), route_type FROM routes`)
	if err != nil {
		return nil, errors.Wrap(err, "validate: querying routes")
	}
	defer rows.Close()
	out := map[string]Route{}
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.ID, &r.AgencyID, &r.ShortName, &r.LongName, &r.Desc, &r.Type); err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

type tripRow struct {
	Trip Trip
}

func loadTripsOrdered(db *sql.DB) ([]tripRow, error) {
	rows, err := db.Query(`SELECT trip_id, route_id, service_id, COALESCE(shape_id,''), direction_id FROM trips ORDER BY trip_id`)
	if err != nil {
		return nil, errors.Wrap(err, "validate: querying trips")
	}
	defer rows.Close()
	var out []tripRow
	for rows.Next() {
		var t Trip
		var direction sql.NullInt64
		if err := rows.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.ShapeID, &direction); err != nil {
			return nil, err
		}
		if direction.Valid {
			t.DirectionID = direction.Int64
		} else {
			t.DirectionID = int64(fieldtype.IntMissing)
		}
		out = append(out, tripRow{Trip: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Trip.ID < out[j].Trip.ID })
	return out, rows.Err()
}

// stopTimeCursor streams stop_times ordered by (trip_id, stop_sequence),
// handed to the driver one row at a time so a multi-gigabyte feed's
// events never sit fully in memory — only the current trip's slice does
// (spec.md §9 "Pattern extraction memory").
type stopTimeCursor struct {
	rows *sql.Rows
	next *stopTimeRow
	done bool
}

type stopTimeRow struct {
	TripID string
	Event  StopEvent
}

func newStopTimeCursor(db *sql.DB) (*stopTimeCursor, error) {
	rows, err := db.Query(`SELECT trip_id, stop_sequence, arrival_time, departure_time,
		COALESCE(stop_id,''), COALESCE(location_group_id,''), COALESCE(location_id,''),
		pickup_type, drop_off_type, continuous_pickup, continuous_drop_off,
		timepoint, shape_dist_traveled, start_pickup_drop_off_window, end_pickup_drop_off_window,
		COALESCE(booking_rule_id,''), COALESCE(stop_headsign,'')
		FROM stop_times ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return nil, errors.Wrap(err, "validate: opening stop_times cursor")
	}
	c := &stopTimeCursor{rows: rows}
	if err := c.advance(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *stopTimeCursor) advance() error {
	if !c.rows.Next() {
		c.done = true
		c.next = nil
		return c.rows.Err()
	}
	var r stopTimeRow
	var arrival, departure, pickup, dropoff, contPickup, contDropoff, timepoint, startWin, endWin sql.NullInt64
	var dist sql.NullFloat64
	if err := c.rows.Scan(&r.TripID, &r.Event.StopSequence, &arrival, &departure,
		&r.Event.StopID, &r.Event.LocationGroupID, &r.Event.LocationID,
		&pickup, &dropoff, &contPickup, &contDropoff,
		&timepoint, &dist, &startWin, &endWin,
		&r.Event.BookingRuleID, &r.Event.Headsign); err != nil {
		return err
	}
	r.Event.Arrival = nullOrMissing(arrival)
	r.Event.Departure = nullOrMissing(departure)
	r.Event.PickupType = nullOrMissing(pickup)
	r.Event.DropOffType = nullOrMissing(dropoff)
	r.Event.ContinuousPickup = nullOrMissing(contPickup)
	r.Event.ContinuousDropOff = nullOrMissing(contDropoff)
	r.Event.Timepoint = nullOrMissing(timepoint)
	r.Event.StartWindow = nullOrMissing(startWin)
	r.Event.EndWindow = nullOrMissing(endWin)
	if dist.Valid {
		r.Event.ShapeDistTraveled = dist.Float64
	} else {
		r.Event.ShapeDistTraveled = fieldtype.DoubleMissing
	}
	c.next = &r
	return nil
}

func nullOrMissing(n sql.NullInt64) int64 {
	if n.Valid {
		return n.Int64
	}
	return int64(fieldtype.IntMissing)
}

// eventsFor drains every stop_times row for tripID (cursor rows are
// grouped by trip_id) into an ordered slice.
func (c *stopTimeCursor) eventsFor(tripID string) ([]StopEvent, error) {
	var events []StopEvent
	for !c.done && c.next.TripID == tripID {
		events = append(events, c.next.Event)
		if err := c.advance(); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (c *stopTimeCursor) close() { c.rows.Close() }

// Run is the trip-walk driver: it merges the trip-id-ordered trips list
// with the stop_times cursor, dispatching each trip to every registered
// validator exactly once, then invokes each validator's Complete hook.
func Run(db *sql.DB, validators []Validator, deps *Deps, errs *errorstore.Store, cancel Cancel) (*Result, error) {
	trips, err := loadTripsOrdered(db)
	if err != nil {
		return nil, err
	}
	routes, err := loadRoutes(db)
	if err != nil {
		return nil, err
	}
	cursor, err := newStopTimeCursor(db)
	if err != nil {
		return nil, err
	}
	defer cursor.close()

	result := &Result{DailyTripCounts: map[string]int{}, DailySecondsByMode: map[string]map[int64]int64{}}
	visited := map[string]Stop{} // de-duped by stop_id, so one stray far-off stop isn't over-weighted by however many trips call at it

	for _, tr := range trips {
		if cancel != nil && cancel.Cancelled() {
			result.Cancelled = true
			break
		}
		events, err := cursor.eventsFor(tr.Trip.ID)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			errs.Store(errorstore.Record{Kind: "NO_STOP_TIMES_FOR_TRIP", Table: "trips", EntityID: tr.Trip.ID, Priority: errorstore.PriorityHigh})
		}
		ctx := TripContext{Trip: tr.Trip, Route: routes[tr.Trip.RouteID], Stops: events}
		for _, v := range validators {
			v.ValidateTrip(ctx, deps, errs)
		}
		for _, e := range events {
			if s, ok := deps.Stops[e.StopID]; ok && e.StopID != "" {
				result.FullBoundingBox.Extend(s.Lat, s.Lon)
				visited[e.StopID] = s
			}
		}
	}

	for _, v := range validators {
		v.Complete(deps, errs)
	}

	result.OutlierStrippedBBox = outlierStrippedBBox(visited)
	result.ErrorCount = errs.Count()
	return result, nil
}

// outlierTrimFraction is the share of visited stops dropped from each
// end of the latitude and longitude distributions, independently, when
// building OutlierStrippedBBox. A single mistyped coordinate (wrong
// hemisphere, transposed digits) otherwise blows FullBoundingBox out to
// somewhere the feed never actually runs.
const outlierTrimFraction = 0.02

func outlierStrippedBBox(visited map[string]Stop) BBox {
	var bbox BBox
	if len(visited) == 0 {
		return bbox
	}
	lats := make([]float64, 0, len(visited))
	lons := make([]float64, 0, len(visited))
	for _, s := range visited {
		lats = append(lats, s.Lat)
		lons = append(lons, s.Lon)
	}
	sort.Float64s(lats)
	sort.Float64s(lons)
	lats = trimTails(lats)
	lons = trimTails(lons)
	if len(lats) == 0 || len(lons) == 0 {
		return bbox
	}
	bbox.MinLat, bbox.MaxLat = lats[0], lats[len(lats)-1]
	bbox.MinLon, bbox.MaxLon = lons[0], lons[len(lons)-1]
	bbox.set = true
	return bbox
}

// trimTails drops outlierTrimFraction of sorted's length off each end,
// or returns it unchanged if the set is too small to trim meaningfully.
func trimTails(sorted []float64) []float64 {
	n := len(sorted)
	cut := int(float64(n) * outlierTrimFraction)
	if cut == 0 || 2*cut >= n {
		return sorted
	}
	return sorted[cut : n-cut]
}

// NewDeps builds the read-only lookup bundle the driver and validators
// share, sourced entirely from committed tables (never the loader's
// reference tracker, which is already discarded by the time validation
// runs, per spec.md §5's ownership rule).
func NewDeps(db *sql.DB, busThreshold, railThreshold, slowFloor, dupTolerance float64) (*Deps, error) {
	stops, err := loadStops(db)
	if err != nil {
		return nil, err
	}
	tz, err := loadAgencyTimezones(db)
	if err != nil {
		return nil, err
	}
	stopExists := map[string]bool{}
	for id := range stops {
		stopExists[id] = true
	}
	locExists, err := loadExistSet(db, "locations", "location_id")
	if err != nil {
		return nil, err
	}
	groupExists, err := loadExistSet(db, "location_groups", "location_group_id")
	if err != nil {
		return nil, err
	}
	return &Deps{
		Stops:                        stops,
		AgencyTimezone:               tz,
		StopExists:                   stopExists,
		LocationExists:               locExists,
		GroupExists:                  groupExists,
		BusSpeedThreshold:            busThreshold,
		RailSpeedThreshold:           railThreshold,
		TravelTooSlowFloor:           slowFloor,
		DuplicateStopToleranceMeters: dupTolerance,
	}, nil
}
