package validate

import (
	"database/sql"

	"tidbyt.dev/gtfsingest/errorstore"
)

// FareValidator implements spec.md §2's "fare integrity" trip check. The
// closed-form fare_id/zone_id referential edges (fare_rules.fare_id →
// fare_attributes.fare_id, origin_id/destination_id/contains_id →
// stops.zone_id) are already enforced row-by-row by the reference
// tracker during load (schema.fareRulesTable's Conditional/ForeignRef
// predicates); what the loader can't see is the GTFS-Flex requirement
// that any trip offering a bookable flex halt resolve to *some* fare —
// that needs the trip's route in hand, which only the trip-walk has.
// Grounded in spec.md §7's FLEX_MISSING_FARE_RULE kind; no teacher
// equivalent (the teacher has no fare tables at all).
type FareValidator struct {
	haveBookingRules bool
	haveFareRules    bool
	routelessFare    bool
	fareRoutes       map[string]bool
	warned           map[string]bool
}

// NewFareValidator loads the committed fare_rules/booking_rules tables
// once, up front, the same way validate.NewDeps loads stops/timezones:
// a small read-only snapshot the validator consults per trip rather
// than re-querying per row.
func NewFareValidator(db *sql.DB) (*FareValidator, error) {
	fv := &FareValidator{fareRoutes: map[string]bool{}, warned: map[string]bool{}}

	if n, err := tableRowCount(db, "booking_rules"); err != nil {
		return nil, err
	} else {
		fv.haveBookingRules = n > 0
	}
	if !fv.haveBookingRules {
		return fv, nil
	}

	rows, err := db.Query(`SELECT COALESCE(route_id, '') FROM fare_rules`)
	if err != nil {
		// fare_rules is optional; absence just means no fare applies to
		// anything, which is exactly the condition this validator flags.
		return fv, nil
	}
	defer rows.Close()
	for rows.Next() {
		var routeID string
		if err := rows.Scan(&routeID); err != nil {
			return nil, err
		}
		fv.haveFareRules = true
		if routeID == "" {
			fv.routelessFare = true
		} else {
			fv.fareRoutes[routeID] = true
		}
	}
	return fv, rows.Err()
}

func tableRowCount(db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		// Extension tables may not exist on a backend that skips unused
		// DDL; treat that the same as "zero rows" rather than fatal.
		return 0, nil
	}
	return n, nil
}

func (f *FareValidator) Name() string { return "fare" }

func (f *FareValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	if !f.haveBookingRules || f.routelessFare || f.warned[ctx.Trip.ID] {
		return
	}
	bookable := false
	for _, e := range ctx.Stops {
		if e.BookingRuleID != "" {
			bookable = true
			break
		}
	}
	if !bookable {
		return
	}
	if f.haveFareRules && f.fareRoutes[ctx.Trip.RouteID] {
		return
	}
	f.warned[ctx.Trip.ID] = true
	errs.Store(errorstore.Record{
		Kind: "FLEX_MISSING_FARE_RULE", Table: "trips", EntityID: ctx.Trip.ID,
		Priority: errorstore.PriorityMedium,
	})
}

func (f *FareValidator) Complete(deps *Deps, errs *errorstore.Store) {}
