package validate

import (
	"strconv"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/fieldtype"
	"tidbyt.dev/gtfsingest/storage"
)

// ParentStationValidator checks that every stop's parent_station, when
// present, names a stop that actually exists in the feed (spec.md §4.9
// "Parent station"). It runs once per halt, keyed off the stop id
// rather than the trip, since parent_station is a stops-table property
// independent of any particular trip.
type ParentStationValidator struct {
	checked map[string]bool
}

func NewParentStationValidator() *ParentStationValidator {
	return &ParentStationValidator{checked: map[string]bool{}}
}

func (p *ParentStationValidator) Name() string { return "parent_station" }

func (p *ParentStationValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	for _, e := range ctx.Stops {
		if e.HaltKind() != HaltStop || e.StopID == "" || p.checked[e.StopID] {
			continue
		}
		p.checked[e.StopID] = true
		stop, ok := deps.Stops[e.StopID]
		if !ok || stop.ParentStation == "" {
			continue
		}
		if !deps.StopExists[stop.ParentStation] {
			errs.Store(errorstore.Record{
				Kind: "REFERENTIAL_INTEGRITY", Table: "stops", Field: "parent_station",
				EntityID: e.StopID, BadValue: stop.ParentStation, Priority: errorstore.PriorityHigh,
			})
		}
	}
}

func (p *ParentStationValidator) Complete(deps *Deps, errs *errorstore.Store) {}

// DuplicateStopValidator flags stops that sit within
// Deps.DuplicateStopToleranceMeters of one another and share a parent
// station (or both lack one), per spec.md §4.9 "Duplicate stops". Stop
// pairs are compared once globally on Complete, not per trip — trip
// visits don't add information to a purely geometric check, and
// comparing every stop pair once avoids re-deriving the same verdict
// for every trip that happens to visit both.
type DuplicateStopValidator struct {
	seenPair map[string]bool
}

func NewDuplicateStopValidator() *DuplicateStopValidator {
	return &DuplicateStopValidator{seenPair: map[string]bool{}}
}

func (d *DuplicateStopValidator) Name() string { return "duplicate_stops" }

func (d *DuplicateStopValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {}

func (d *DuplicateStopValidator) Complete(deps *Deps, errs *errorstore.Store) {
	ids := make([]string, 0, len(deps.Stops))
	for id := range deps.Stops {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		a := deps.Stops[ids[i]]
		if a.Lat == fieldtype.DoubleMissing || a.Lon == fieldtype.DoubleMissing {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b := deps.Stops[ids[j]]
			if b.Lat == fieldtype.DoubleMissing || b.Lon == fieldtype.DoubleMissing {
				continue
			}
			if a.ParentStation != b.ParentStation {
				continue
			}
			distMeters := storage.HaversineDistance(a.Lat, a.Lon, b.Lat, b.Lon) * 1000
			if distMeters > deps.DuplicateStopToleranceMeters {
				continue
			}
			key := pairKey(ids[i], ids[j])
			if d.seenPair[key] {
				continue
			}
			d.seenPair[key] = true
			errs.Store(errorstore.Record{
				Kind: "DUPLICATE_STOP", Table: "stops", EntityID: ids[i],
				BadValue: ids[j] + " (" + strconv.FormatFloat(distMeters, 'f', 1, 64) + "m)",
				Priority: errorstore.PriorityMedium,
			})
		}
	}
}

func pairKey(a, b string) string {
	if a < b {
		return a + "\x1f" + b
	}
	return b + "\x1f" + a
}

// misplacedStopOutlierRatio is how many times farther a halt may sit
// from both its neighbors than its neighbors sit from each other before
// it's flagged as implausibly placed (e.g. transposed lat/lon, a stop
// keyed to the wrong coordinate). Chosen generously: legitimate loop
// and out-and-back routes routinely visit a stop far off the direct
// line between its neighbors, so this only fires on gross outliers.
const misplacedStopOutlierRatio = 8.0

// misplacedStopMinDeviationMeters is the absolute floor below which a
// deviation is never flagged regardless of ratio — short urban hops
// where neighbor-to-neighbor distance is near zero would otherwise
// make the ratio meaningless.
const misplacedStopMinDeviationMeters = 2000.0

// MisplacedStopValidator flags an interior halt that sits far off the
// direct line between its trip neighbors relative to how far apart
// those neighbors are from each other — spec.md §2's "misplaced-stop
// detection". It runs per trip (unlike DuplicateStopValidator, this is
// about a halt's position *within its trip's sequence*, not a global
// geometric property of the stops table), grounded in spec.md §7's
// MISPLACED_STOP kind; no teacher equivalent.
type MisplacedStopValidator struct{}

func NewMisplacedStopValidator() *MisplacedStopValidator { return &MisplacedStopValidator{} }

func (m *MisplacedStopValidator) Name() string { return "misplaced_stop" }

func (m *MisplacedStopValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	if len(ctx.Stops) < 3 {
		return
	}
	coord := func(e StopEvent) (Stop, bool) {
		s, ok := deps.Stops[e.StopID]
		if !ok || e.StopID == "" || s.Lat == fieldtype.DoubleMissing || s.Lon == fieldtype.DoubleMissing {
			return Stop{}, false
		}
		return s, true
	}
	for i := 1; i < len(ctx.Stops)-1; i++ {
		prev, ok1 := coord(ctx.Stops[i-1])
		cur, ok2 := coord(ctx.Stops[i])
		next, ok3 := coord(ctx.Stops[i+1])
		if !ok1 || !ok2 || !ok3 {
			continue
		}
		direct := storage.HaversineDistance(prev.Lat, prev.Lon, next.Lat, next.Lon) * 1000
		toCur := storage.HaversineDistance(prev.Lat, prev.Lon, cur.Lat, cur.Lon) * 1000
		fromCur := storage.HaversineDistance(cur.Lat, cur.Lon, next.Lat, next.Lon) * 1000
		deviation := (toCur + fromCur) - direct
		if deviation < misplacedStopMinDeviationMeters {
			continue
		}
		if direct > 0 && deviation < direct*misplacedStopOutlierRatio {
			continue
		}
		errs.Store(errorstore.Record{
			Kind: "MISPLACED_STOP", Table: "stop_times", EntityID: ctx.Trip.ID,
			Sequence: ctx.Stops[i].StopSequence,
			BadValue: strconv.FormatFloat(deviation, 'f', 0, 64) + "m",
			Priority: errorstore.PriorityMedium,
		})
	}
}

func (m *MisplacedStopValidator) Complete(deps *Deps, errs *errorstore.Store) {}
