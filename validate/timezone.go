package validate

import (
	"time"

	"tidbyt.dev/gtfsingest/errorstore"
)

// TimeZoneValidator implements spec.md §4.9's "Time zone" check: every
// agency_timezone must name a zone the tzdata database recognizes, and
// a stop's own stop_timezone, when set, must independently be a valid
// IANA zone too (GTFS permits a stop to override its agency's zone, so
// a mismatch between the two is not itself an error).
type TimeZoneValidator struct {
	checkedAgency map[string]bool
	checkedStop   map[string]bool
}

func NewTimeZoneValidator() *TimeZoneValidator {
	return &TimeZoneValidator{checkedAgency: map[string]bool{}, checkedStop: map[string]bool{}}
}

func (t *TimeZoneValidator) Name() string { return "time_zone" }

func (t *TimeZoneValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	agencyID := ctx.Route.AgencyID
	if agencyID != "" && !t.checkedAgency[agencyID] {
		t.checkedAgency[agencyID] = true
		if tz, ok := deps.AgencyTimezone[agencyID]; ok {
			if _, err := time.LoadLocation(tz); err != nil {
				errs.Store(errorstore.Record{Kind: "INVALID_TIMEZONE", Table: "agency", EntityID: agencyID, BadValue: tz, Priority: errorstore.PriorityHigh})
			}
		}
	}

	for _, e := range ctx.Stops {
		if e.HaltKind() != HaltStop || e.StopID == "" || t.checkedStop[e.StopID] {
			continue
		}
		t.checkedStop[e.StopID] = true
		stop, ok := deps.Stops[e.StopID]
		if !ok || stop.Timezone == "" {
			continue
		}
		if _, err := time.LoadLocation(stop.Timezone); err != nil {
			errs.Store(errorstore.Record{Kind: "INVALID_TIMEZONE", Table: "stops", EntityID: e.StopID, BadValue: stop.Timezone, Priority: errorstore.PriorityHigh})
		}
	}
}

func (t *TimeZoneValidator) Complete(deps *Deps, errs *errorstore.Store) {}
