package validate

import (
	"fmt"
	"strings"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/fieldtype"
	"tidbyt.dev/gtfsingest/ingeststore"
)

// patternKeyElem is one position's worth of the pattern key tuple from
// spec.md §3: the halt id plus every per-position attribute two trips
// must agree on to share a pattern.
type patternKeyElem struct {
	HaltKind          HaltKind
	HaltID            string
	Arrival           int64
	Departure         int64
	PickupType        int64
	DropOffType       int64
	Timepoint         int64
	ContinuousPickup  int64
	ContinuousDropOff int64
	ShapeDistTraveled float64
	BookingRuleID     string
	StartWindow       int64
	EndWindow         int64
}

func (e patternKeyElem) String() string {
	return fmt.Sprintf("%d|%s|%d|%d|%d|%d|%d|%d|%d|%g|%s|%d|%d",
		e.HaltKind, e.HaltID, e.Arrival, e.Departure, e.PickupType, e.DropOffType,
		e.Timepoint, e.ContinuousPickup, e.ContinuousDropOff, e.ShapeDistTraveled, e.BookingRuleID,
		e.StartWindow, e.EndWindow)
}

func patternKey(events []StopEvent) string {
	var b strings.Builder
	for _, e := range events {
		elem := patternKeyElem{
			HaltKind: e.HaltKind(), HaltID: e.HaltID(),
			Arrival: e.Arrival, Departure: e.Departure,
			PickupType: e.PickupType, DropOffType: e.DropOffType,
			Timepoint: e.Timepoint, ContinuousPickup: e.ContinuousPickup, ContinuousDropOff: e.ContinuousDropOff,
			ShapeDistTraveled: e.ShapeDistTraveled, BookingRuleID: e.BookingRuleID,
			StartWindow: e.StartWindow, EndWindow: e.EndWindow,
		}
		b.WriteString(elem.String())
		b.WriteByte('\x1e')
	}
	return b.String()
}

type patternAccumulator struct {
	id        string
	routeID   string
	shapeID   string
	direction int64
	events    []StopEvent
	tripIDs   []string
}

// PatternExtractor is the trip validator from spec.md §4.8: it clusters
// trips by their exact ordered stop-event sequence into patterns, then
// on Complete writes the patterns/pattern_halts tables and back-stamps
// every trip row with its pattern id.
type PatternExtractor struct {
	store      ingeststore.FeedStore
	byKey      map[string]*patternAccumulator
	order      []string
	nextID     int
}

func NewPatternExtractor(store ingeststore.FeedStore) *PatternExtractor {
	return &PatternExtractor{store: store, byKey: map[string]*patternAccumulator{}}
}

func (p *PatternExtractor) Name() string { return "pattern_extractor" }

func (p *PatternExtractor) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	if len(ctx.Stops) == 0 {
		return
	}
	key := patternKey(ctx.Stops)
	acc, ok := p.byKey[key]
	if !ok {
		p.nextID++
		shapeID := ctx.Trip.ShapeID
		acc = &patternAccumulator{
			id:        fmt.Sprintf("p%d", p.nextID),
			routeID:   ctx.Trip.RouteID,
			shapeID:   shapeID,
			direction: ctx.Trip.DirectionID,
			events:    ctx.Stops,
		}
		p.byKey[key] = acc
		p.order = append(p.order, key)
	}
	acc.tripIDs = append(acc.tripIDs, ctx.Trip.ID)
}

// Complete writes the derived tables and back-stamps trips.pattern_id,
// per spec.md §4.8's three-step completion.
func (p *PatternExtractor) Complete(deps *Deps, errs *errorstore.Store) {
	db := p.store.DB()
	ph := p.store.Placeholder

	insertPattern := fmt.Sprintf(`INSERT INTO patterns (pattern_id, route_id, shape_id, name, direction, use_frequency, trip_count) VALUES (%s,%s,%s,%s,%s,%s,%s)`,
		ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7))
	insertHalt := fmt.Sprintf(`INSERT INTO pattern_halts (pattern_id, sequence, halt_kind, halt_id, default_travel_time, default_dwell_time, pickup_type, drop_off_type, timepoint, headsign, shape_dist_traveled, flex_window_start, flex_window_end, booking_rule_id) VALUES (%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s)`,
		ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7), ph(8), ph(9), ph(10), ph(11), ph(12), ph(13), ph(14))
	updateTrip := fmt.Sprintf(`UPDATE trips SET pattern_id = %s WHERE trip_id = %s`, ph(1), ph(2))

	for _, key := range p.order {
		acc := p.byKey[key]
		name := patternName(acc)
		if _, err := db.Exec(insertPattern, acc.id, acc.routeID, acc.shapeID, name, acc.direction, len(acc.tripIDs), len(acc.tripIDs)); err != nil {
			errs.Store(errorstore.Record{Kind: "VALIDATOR_FAILED", Table: "patterns", EntityID: acc.id, BadValue: err.Error(), Priority: errorstore.PriorityHigh})
			continue
		}

		var lastValidDeparture int64 = int64(fieldtype.IntMissing)
		for i, e := range acc.events {
			travel := int64(fieldtype.IntMissing)
			if e.Arrival != int64(fieldtype.IntMissing) && lastValidDeparture != int64(fieldtype.IntMissing) {
				travel = e.Arrival - lastValidDeparture
			}
			dwell := int64(fieldtype.IntMissing)
			switch e.HaltKind() {
			case HaltStop:
				if e.Departure != int64(fieldtype.IntMissing) && e.Arrival != int64(fieldtype.IntMissing) {
					dwell = e.Departure - e.Arrival
				}
			default:
				if e.EndWindow != int64(fieldtype.IntMissing) && e.StartWindow != int64(fieldtype.IntMissing) {
					dwell = e.EndWindow - e.StartWindow
				}
			}
			if e.Departure != int64(fieldtype.IntMissing) {
				lastValidDeparture = e.Departure
			} else if e.EndWindow != int64(fieldtype.IntMissing) {
				lastValidDeparture = e.EndWindow
			}

			haltKindName := haltKindString(e.HaltKind())
			if _, err := db.Exec(insertHalt, acc.id, i+1, haltKindName, e.HaltID(), travel, dwell,
				e.PickupType, e.DropOffType, e.Timepoint, e.Headsign, e.ShapeDistTraveled,
				e.StartWindow, e.EndWindow, e.BookingRuleID); err != nil {
				errs.Store(errorstore.Record{Kind: "VALIDATOR_FAILED", Table: "pattern_halts", EntityID: acc.id, Sequence: int64(i + 1), BadValue: err.Error(), Priority: errorstore.PriorityHigh})
			}
		}

		for _, tripID := range acc.tripIDs {
			if _, err := db.Exec(updateTrip, acc.id, tripID); err != nil {
				errs.Store(errorstore.Record{Kind: "VALIDATOR_FAILED", Table: "trips", EntityID: tripID, BadValue: err.Error(), Priority: errorstore.PriorityHigh})
			}
		}
	}
}

func haltKindString(k HaltKind) string {
	switch k {
	case HaltStop:
		return "stop"
	case HaltLocation:
		return "location"
	case HaltLocationGroup:
		return "location_group"
	}
	return "unknown"
}

func patternName(acc *patternAccumulator) string {
	if len(acc.events) == 0 {
		return acc.routeID
	}
	first := acc.events[0].HaltID()
	last := acc.events[len(acc.events)-1].HaltID()
	return fmt.Sprintf("%s: %s -> %s", acc.routeID, first, last)
}

// Patterns returns the accumulated patterns in first-seen order, used
// by package-level tests asserting the spec's pattern invariants
// without re-querying storage.
func (p *PatternExtractor) Patterns() []PatternSummary {
	out := make([]PatternSummary, 0, len(p.order))
	for _, key := range p.order {
		acc := p.byKey[key]
		out = append(out, PatternSummary{ID: acc.id, RouteID: acc.routeID, TripIDs: acc.tripIDs})
	}
	return out
}

type PatternSummary struct {
	ID      string
	RouteID string
	TripIDs []string
}
