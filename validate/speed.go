package validate

import (
	"fmt"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/fieldtype"
	"tidbyt.dev/gtfsingest/storage"
)

// SpeedValidator implements spec.md §4.9's travel-speed check: for every
// consecutive pair of halts with both times present, the great-circle
// distance (storage.HaversineDistance, the teacher's one geospatial
// primitive) divided by elapsed time must fall within
// [TravelTooSlowFloor, threshold-for-route-type]. Missing times are
// linearly interpolated across contiguous runs first.
type SpeedValidator struct{}

func (s *SpeedValidator) Name() string { return "speed" }

func (s *SpeedValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	if len(ctx.Stops) < 2 {
		return
	}
	threshold, defaulted := thresholdFor(ctx.Route.Type, deps)
	if defaulted && !deps.flexThresholdDefaulted {
		deps.flexThresholdDefaulted = true
		errs.Store(errorstore.Record{Kind: "FLEX_TRAVEL_THRESHOLD_DEFAULTED", Priority: errorstore.PriorityLow})
	}

	events := interpolateTimes(ctx.Stops)

	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		if prev.Departure == int64(fieldtype.IntMissing) || cur.Arrival == int64(fieldtype.IntMissing) {
			continue
		}
		elapsed := cur.Arrival - prev.Departure
		if elapsed <= 0 {
			continue
		}
		prevStop, ok1 := deps.Stops[prev.StopID]
		curStop, ok2 := deps.Stops[cur.StopID]
		if !ok1 || !ok2 {
			continue
		}
		distMeters := storage.HaversineDistance(prevStop.Lat, prevStop.Lon, curStop.Lat, curStop.Lon) * 1000
		speed := distMeters / float64(elapsed)

		if speed > threshold {
			errs.Store(errorstore.Record{
				Kind: "TRAVEL_TOO_FAST", Table: "stop_times", EntityID: ctx.Trip.ID,
				Sequence: cur.StopSequence, BadValue: fmt.Sprintf("%.2f m/s", speed),
				Priority: errorstore.PriorityMedium,
			})
		} else if speed < deps.TravelTooSlowFloor {
			errs.Store(errorstore.Record{
				Kind: "TRAVEL_TOO_SLOW", Table: "stop_times", EntityID: ctx.Trip.ID,
				Sequence: cur.StopSequence, BadValue: fmt.Sprintf("%.4f m/s", speed),
				Priority: errorstore.PriorityLow,
			})
		}
	}
}

func (s *SpeedValidator) Complete(deps *Deps, errs *errorstore.Store) {}

// thresholdFor returns the bus/rail-family speed ceiling for a route
// type. The source's threshold table is incomplete for flex route
// types (spec.md §9 open question); we default to the bus threshold and
// report it once per feed via the defaulted return value.
func thresholdFor(routeType int64, deps *Deps) (threshold float64, defaulted bool) {
	switch routeType {
	case 0, 5, 11: // tram, cable tram, trolleybus: road-bound, bus-like
		return deps.BusSpeedThreshold, false
	case 1, 2, 12: // subway, rail, monorail
		return deps.RailSpeedThreshold, false
	case 3: // bus
		return deps.BusSpeedThreshold, false
	case 4, 6, 7: // ferry, aerial, funicular
		return deps.RailSpeedThreshold, false
	default:
		return deps.BusSpeedThreshold, true
	}
}

// interpolateTimes fills arrival/departure gaps linearly across
// contiguous missing runs bounded by two known times, same policy
// spec.md §4.9 describes. Stop events outside any bounded run are left
// with the missing sentinel and simply skipped by the speed check.
func interpolateTimes(events []StopEvent) []StopEvent {
	out := make([]StopEvent, len(events))
	copy(out, events)

	knownTime := func(e StopEvent) (int64, bool) {
		if e.Arrival != int64(fieldtype.IntMissing) {
			return e.Arrival, true
		}
		if e.Departure != int64(fieldtype.IntMissing) {
			return e.Departure, true
		}
		return 0, false
	}

	i := 0
	for i < len(out) {
		if _, ok := knownTime(out[i]); ok {
			i++
			continue
		}
		start := i - 1
		if start < 0 {
			i++
			continue
		}
		j := i
		for j < len(out) {
			if _, ok := knownTime(out[j]); ok {
				break
			}
			j++
		}
		if j >= len(out) {
			break
		}
		startTime, _ := knownTime(out[start])
		endTime, _ := knownTime(out[j])
		span := j - start
		if span <= 0 || endTime < startTime {
			i = j + 1
			continue
		}
		step := float64(endTime-startTime) / float64(span)
		for k := start + 1; k < j; k++ {
			t := startTime + int64(step*float64(k-start))
			out[k].Arrival = t
			out[k].Departure = t
		}
		i = j + 1
	}
	return out
}
