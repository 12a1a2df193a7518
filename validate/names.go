package validate

import (
	"strconv"

	"tidbyt.dev/gtfsingest/errorstore"
)

// validRouteTypes is the GTFS route_type closed set plus the extended
// codes used by some agencies (100-1700 range from the Google transit
// extended route types), matched against by NamesValidator.
var validRouteTypes = map[int64]bool{
	0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true, 7: true,
	11: true, 12: true,
}

// NamesValidator implements spec.md §4.9's route-naming checks: a route
// must carry a short name or a long name (never neither), the two must
// not be identical when both are present, and route_type must be a
// member of the closed set.
type NamesValidator struct {
	checked map[string]bool
}

func NewNamesValidator() *NamesValidator {
	return &NamesValidator{checked: map[string]bool{}}
}

func (n *NamesValidator) Name() string { return "names" }

func (n *NamesValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	r := ctx.Route
	if r.ID == "" || n.checked[r.ID] {
		return
	}
	n.checked[r.ID] = true

	if r.ShortName == "" && r.LongName == "" {
		errs.Store(errorstore.Record{Kind: "ROUTE_MISSING_NAME", Table: "routes", EntityID: r.ID, Priority: errorstore.PriorityHigh})
	}
	if r.ShortName != "" && r.ShortName == r.LongName {
		errs.Store(errorstore.Record{Kind: "ROUTE_SHORT_AND_LONG_NAME_IDENTICAL", Table: "routes", EntityID: r.ID, Priority: errorstore.PriorityMedium})
	}
	if r.ShortName != "" && r.ShortName == r.Desc {
		errs.Store(errorstore.Record{Kind: "ROUTE_SHORT_NAME_SAME_AS_DESCRIPTION", Table: "routes", EntityID: r.ID, Priority: errorstore.PriorityLow})
	}
	if r.LongName != "" && r.LongName == r.Desc {
		errs.Store(errorstore.Record{Kind: "ROUTE_LONG_NAME_SAME_AS_DESCRIPTION", Table: "routes", EntityID: r.ID, Priority: errorstore.PriorityLow})
	}
	if !validRouteTypes[r.Type] {
		errs.Store(errorstore.Record{Kind: "ROUTE_TYPE_INVALID", Table: "routes", EntityID: r.ID, BadValue: strconv.FormatInt(r.Type, 10), Priority: errorstore.PriorityHigh})
	}
}

func (n *NamesValidator) Complete(deps *Deps, errs *errorstore.Store) {}
