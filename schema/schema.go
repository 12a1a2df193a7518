// Package schema is the declarative table registry that the loader, the
// reference tracker, the conditional-requirement engine, and the
// validation pipeline all read from. One field list per table, described
// once, so none of those four consumers can drift out of sync with each
// other the way four hand-written copies inevitably would.
package schema

import "tidbyt.dev/gtfsingest/fieldtype"

type Requirement int

const (
	RequirementRequired Requirement = iota
	RequirementOptional
	RequirementExtension
	RequirementProprietary
	RequirementEditor
)

// ForeignRef names the (table, field) a field's value must already have
// been seen in, per the reference tracker's key set.
type ForeignRef struct {
	Table string
	Field string
}

// CondKind is one of the five built-in conditional-requirement
// predicates from the conditional-requirement engine.
type CondKind int

const (
	CondReferenceFieldShouldBeProvided CondKind = iota
	CondAgencyHasMultipleRows
	CondFieldInRange
	CondFieldNotEmptyAndMatchesValue
	CondForeignRefExists
)

// CondPredicate declares a conditional requirement attached to a field.
// Dependent is the field that must satisfy Check when Reference
// satisfies the kind-specific condition below.
type CondPredicate struct {
	Kind         CondKind
	Dependent    string
	Min, Max     int    // CondFieldInRange
	MatchValue   string // CondFieldNotEmptyAndMatchesValue
	ForeignField string // CondForeignRefExists: field in the multimap to check against
	ErrorKind    string // error kind to emit; defaults to CONDITIONALLY_REQUIRED
}

// Field is a single column descriptor.
type Field struct {
	Name        string
	Requirement Requirement
	Kind        fieldtype.Kind
	Range       fieldtype.Range
	ForeignRef  *ForeignRef
	Conditional []CondPredicate
	IsKey       bool // participates in the table's unique key
	IsOrder     bool // participates in the table's order key (key, order)
}

func (f Field) Required() bool {
	return f.Requirement == RequirementRequired
}

// Table is a schema-registry entity: the full description of one
// recognized GTFS table.
type Table struct {
	Name        string
	Filename    string
	Requirement Requirement
	Fields      []Field
	KeyField    string // "" if the table has no usable unique key
	OrderField  string // "" if rows aren't ordered within a key
}

func (t Table) HasKey() bool {
	return t.KeyField != ""
}

func (t Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Registry is the process-lifetime immutable catalog, iterable in
// load-dependency order.
type Registry struct {
	tables []Table
	byName map[string]Table
}

// NewRegistry builds the fixed GTFS table catalog. Order matters: it is
// the load-dependency order the loader walks the archive in — agencies
// before routes before trips before stop events; calendars and calendar
// exceptions before anything that consumes a service id; stops before
// transfers and pattern halts; locations and location groups before stop
// events that may reference them; fare attributes before fare rules;
// booking rules before stop events that reference them.
func NewRegistry() *Registry {
	tables := []Table{
		agencyTable(),
		calendarTable(),
		calendarDatesTable(),
		feedInfoTable(),
		levelsTable(),
		stopsTable(),
		routesTable(),
		shapesTable(),
		bookingRulesTable(),
		locationGroupsTable(),
		locationsTable(),
		locationGeometriesTable(),
		tripsTable(),
		stopTimesTable(),
		frequenciesTable(),
		transfersTable(),
		pathwaysTable(),
		fareAttributesTable(),
		fareRulesTable(),
		translationsTable(),
		attributionsTable(),
	}
	r := &Registry{tables: tables, byName: map[string]Table{}}
	for _, t := range tables {
		r.byName[t.Name] = t
	}
	return r
}

func (r *Registry) Tables() []Table { return r.tables }

func (r *Registry) Table(name string) (Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func strField(name string, req Requirement) Field {
	return Field{Name: name, Requirement: req, Kind: fieldtype.KindString}
}

func agencyTable() Table {
	return Table{
		Name: "agency", Filename: "agency.txt", Requirement: RequirementRequired,
		KeyField: "agency_id",
		Fields: []Field{
			{Name: "agency_id", Requirement: RequirementOptional, Kind: fieldtype.KindString, IsKey: true,
				Conditional: []CondPredicate{{Kind: CondAgencyHasMultipleRows, Dependent: "agency_id", ErrorKind: "AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS"}}},
			strField("agency_name", RequirementRequired),
			{Name: "agency_url", Requirement: RequirementRequired, Kind: fieldtype.KindURL},
			strField("agency_timezone", RequirementRequired),
			strField("agency_lang", RequirementOptional),
			strField("agency_phone", RequirementOptional),
			{Name: "agency_fare_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			strField("agency_email", RequirementOptional),
		},
	}
}

func calendarTable() Table {
	return Table{
		Name: "calendar", Filename: "calendar.txt", Requirement: RequirementOptional,
		KeyField: "service_id",
		Fields: []Field{
			{Name: "service_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "monday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "tuesday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "wednesday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "thursday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "friday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "saturday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "sunday", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "start_date", Requirement: RequirementRequired, Kind: fieldtype.KindDate},
			{Name: "end_date", Requirement: RequirementRequired, Kind: fieldtype.KindDate},
		},
	}
}

func calendarDatesTable() Table {
	return Table{
		Name: "calendar_dates", Filename: "calendar_dates.txt", Requirement: RequirementOptional,
		// No usable unique key of its own: (service_id, date) isn't a
		// natural entity key the way stop_id is, and the source's
		// DUPLICATE_KEY behavior here is gated by a config toggle (see
		// DESIGN.md) rather than baked into the registry as IsKey.
		Fields: []Field{
			{Name: "service_id", Requirement: RequirementRequired, Kind: fieldtype.KindString},
			{Name: "date", Requirement: RequirementRequired, Kind: fieldtype.KindDate},
			{Name: "exception_type", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 1, Max: 2, HasMin: true, HasMax: true}},
		},
	}
}

func feedInfoTable() Table {
	return Table{
		Name: "feed_info", Filename: "feed_info.txt", Requirement: RequirementOptional,
		Fields: []Field{
			strField("feed_publisher_name", RequirementRequired),
			{Name: "feed_publisher_url", Requirement: RequirementRequired, Kind: fieldtype.KindURL},
			strField("feed_lang", RequirementRequired),
			strField("default_lang", RequirementOptional),
			{Name: "feed_start_date", Requirement: RequirementOptional, Kind: fieldtype.KindDate},
			{Name: "feed_end_date", Requirement: RequirementOptional, Kind: fieldtype.KindDate},
			strField("feed_version", RequirementOptional),
			strField("feed_contact_email", RequirementOptional),
			{Name: "feed_contact_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			strField("feed_id", RequirementOptional),
		},
	}
}

func levelsTable() Table {
	return Table{
		Name: "levels", Filename: "levels.txt", Requirement: RequirementOptional,
		KeyField: "level_id",
		Fields: []Field{
			{Name: "level_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "level_index", Requirement: RequirementRequired, Kind: fieldtype.KindDouble},
			strField("level_name", RequirementOptional),
		},
	}
}

func stopsTable() Table {
	return Table{
		Name: "stops", Filename: "stops.txt", Requirement: RequirementRequired,
		KeyField: "stop_id",
		Fields: []Field{
			{Name: "stop_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			strField("stop_code", RequirementOptional),
			strField("stop_name", RequirementOptional),
			strField("stop_desc", RequirementOptional),
			{Name: "stop_lat", Requirement: RequirementOptional, Kind: fieldtype.KindLatitude},
			{Name: "stop_lon", Requirement: RequirementOptional, Kind: fieldtype.KindLongitude},
			strField("zone_id", RequirementOptional),
			{Name: "stop_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			// location_type in [0,2] (stop, station, entrance) requires a
			// name and coordinates; an out-of-range location_type (caught
			// separately by its own Range check) suppresses these
			// conditionals entirely rather than layering a second error
			// on top, per the range-check-fails-first edge case.
			{Name: "location_type", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 4, HasMin: true, HasMax: true},
				Conditional: []CondPredicate{
					{Kind: CondFieldInRange, Dependent: "stop_name", Min: 0, Max: 2},
					{Kind: CondFieldInRange, Dependent: "stop_lat", Min: 0, Max: 2},
					{Kind: CondFieldInRange, Dependent: "stop_lon", Min: 0, Max: 2},
				}},
			{Name: "parent_station", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			strField("stop_timezone", RequirementOptional),
			{Name: "wheelchair_boarding", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 2, HasMin: true, HasMax: true}},
			{Name: "level_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "levels", Field: "level_id"}},
			strField("platform_code", RequirementOptional),
		},
	}
}

func routesTable() Table {
	return Table{
		Name: "routes", Filename: "routes.txt", Requirement: RequirementRequired,
		KeyField: "route_id",
		Fields: []Field{
			{Name: "route_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "agency_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "agency", Field: "agency_id"},
				Conditional: []CondPredicate{{Kind: CondReferenceFieldShouldBeProvided, Dependent: "agency_id", ErrorKind: "AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS"}}},
			strField("route_short_name", RequirementOptional),
			strField("route_long_name", RequirementOptional),
			strField("route_desc", RequirementOptional),
			{Name: "route_type", Requirement: RequirementRequired, Kind: fieldtype.KindInteger},
			{Name: "route_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			{Name: "route_color", Requirement: RequirementOptional, Kind: fieldtype.KindColor},
			{Name: "route_text_color", Requirement: RequirementOptional, Kind: fieldtype.KindColor},
		},
	}
}

func shapesTable() Table {
	return Table{
		Name: "shapes", Filename: "shapes.txt", Requirement: RequirementOptional,
		KeyField: "shape_id", OrderField: "shape_pt_sequence",
		Fields: []Field{
			{Name: "shape_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "shape_pt_lat", Requirement: RequirementRequired, Kind: fieldtype.KindLatitude},
			{Name: "shape_pt_lon", Requirement: RequirementRequired, Kind: fieldtype.KindLongitude},
			{Name: "shape_pt_sequence", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, IsOrder: true},
			{Name: "shape_dist_traveled", Requirement: RequirementOptional, Kind: fieldtype.KindDouble},
		},
	}
}

func bookingRulesTable() Table {
	return Table{
		Name: "booking_rules", Filename: "booking_rules.txt", Requirement: RequirementExtension,
		KeyField: "booking_rule_id",
		Fields: []Field{
			{Name: "booking_rule_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "booking_type", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 2, HasMin: true, HasMax: true}},
			{Name: "prior_notice_duration_min", Requirement: RequirementOptional, Kind: fieldtype.KindInteger},
			{Name: "prior_notice_duration_max", Requirement: RequirementOptional, Kind: fieldtype.KindInteger},
			{Name: "prior_notice_last_day", Requirement: RequirementOptional, Kind: fieldtype.KindInteger},
			{Name: "prior_notice_last_time", Requirement: RequirementOptional, Kind: fieldtype.KindTimeOfDay},
			strField("message", RequirementOptional),
			{Name: "phone_number", Requirement: RequirementOptional, Kind: fieldtype.KindString},
			{Name: "info_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			{Name: "booking_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
		},
	}
}

func locationGroupsTable() Table {
	return Table{
		Name: "location_groups", Filename: "location_groups.txt", Requirement: RequirementExtension,
		KeyField: "location_group_id",
		Fields: []Field{
			{Name: "location_group_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			strField("location_group_name", RequirementOptional),
		},
	}
}

// locationsTable describes the synthesized stream the sidecar adapter
// produces from the flex .geojson file: one row per location feature,
// not per vertex (vertices are a separate synthesized table, see
// locationGeometriesTable / sidecar.Vertices).
func locationsTable() Table {
	return Table{
		Name: "locations", Filename: "locations.geojson", Requirement: RequirementExtension,
		KeyField: "location_id",
		Fields: []Field{
			{Name: "location_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			strField("stop_name", RequirementOptional),
			strField("stop_desc", RequirementOptional),
			strField("zone_id", RequirementOptional),
			{Name: "stop_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			strField("geometry_type", RequirementOptional),
		},
	}
}

// locationGeometriesTable describes the second synthesized stream the
// sidecar adapter produces: one row per outer-ring vertex of a flex
// location's geometry. Multi-ring polygons report a warning and only
// the first ring is loaded (spec.md §6), so this table always holds a
// single ring per location_id.
func locationGeometriesTable() Table {
	return Table{
		Name: "location_geometries", Filename: "locations.geojson", Requirement: RequirementExtension,
		KeyField: "location_id", OrderField: "sequence",
		Fields: []Field{
			{Name: "location_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true,
				ForeignRef: &ForeignRef{Table: "locations", Field: "location_id"}},
			{Name: "sequence", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, IsOrder: true},
			{Name: "lat", Requirement: RequirementRequired, Kind: fieldtype.KindLatitude},
			{Name: "lon", Requirement: RequirementRequired, Kind: fieldtype.KindLongitude},
		},
	}
}

func tripsTable() Table {
	return Table{
		Name: "trips", Filename: "trips.txt", Requirement: RequirementRequired,
		KeyField: "trip_id",
		Fields: []Field{
			{Name: "route_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "routes", Field: "route_id"}},
			{Name: "service_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "calendar", Field: "service_id"}},
			{Name: "trip_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			strField("trip_headsign", RequirementOptional),
			strField("trip_short_name", RequirementOptional),
			{Name: "direction_id", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			strField("block_id", RequirementOptional),
			{Name: "shape_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "shapes", Field: "shape_id"}},
			{Name: "wheelchair_accessible", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 2, HasMin: true, HasMax: true}},
			{Name: "bikes_allowed", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 2, HasMin: true, HasMax: true}},
		},
	}
}

func stopTimesTable() Table {
	return Table{
		Name: "stop_times", Filename: "stop_times.txt", Requirement: RequirementRequired,
		KeyField: "trip_id", OrderField: "stop_sequence",
		Fields: []Field{
			{Name: "trip_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true,
				ForeignRef: &ForeignRef{Table: "trips", Field: "trip_id"}},
			{Name: "arrival_time", Requirement: RequirementOptional, Kind: fieldtype.KindTimeOfDay},
			{Name: "departure_time", Requirement: RequirementOptional, Kind: fieldtype.KindTimeOfDay},
			{Name: "stop_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			{Name: "location_group_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "location_groups", Field: "location_group_id"}},
			{Name: "location_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "locations", Field: "location_id"}},
			{Name: "stop_sequence", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, IsOrder: true, Range: fieldtype.Range{Min: 0, HasMin: true}},
			strField("stop_headsign", RequirementOptional),
			{Name: "start_pickup_drop_off_window", Requirement: RequirementOptional, Kind: fieldtype.KindTimeOfDay},
			{Name: "end_pickup_drop_off_window", Requirement: RequirementOptional, Kind: fieldtype.KindTimeOfDay},
			{Name: "pickup_type", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 3, HasMin: true, HasMax: true}},
			{Name: "drop_off_type", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 3, HasMin: true, HasMax: true}},
			{Name: "continuous_pickup", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 3, HasMin: true, HasMax: true}},
			{Name: "continuous_drop_off", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 3, HasMin: true, HasMax: true}},
			{Name: "shape_dist_traveled", Requirement: RequirementOptional, Kind: fieldtype.KindDouble},
			{Name: "timepoint", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "booking_rule_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "booking_rules", Field: "booking_rule_id"}},
		},
	}
}

func frequenciesTable() Table {
	return Table{
		Name: "frequencies", Filename: "frequencies.txt", Requirement: RequirementOptional,
		Fields: []Field{
			{Name: "trip_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "trips", Field: "trip_id"}},
			{Name: "start_time", Requirement: RequirementRequired, Kind: fieldtype.KindTimeOfDay},
			{Name: "end_time", Requirement: RequirementRequired, Kind: fieldtype.KindTimeOfDay},
			{Name: "headway_secs", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 1, HasMin: true}},
			{Name: "exact_times", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
		},
	}
}

func transfersTable() Table {
	return Table{
		Name: "transfers", Filename: "transfers.txt", Requirement: RequirementOptional,
		// No usable unique key: a feed may legitimately repeat the same
		// from/to stop pair with different transfer types across rows in
		// some producers' exports. Duplicate checks are skipped entirely
		// for this table, per spec.md §3.
		Fields: []Field{
			{Name: "from_stop_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			{Name: "to_stop_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			{Name: "transfer_type", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 5, HasMin: true, HasMax: true}},
			{Name: "min_transfer_time", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, HasMin: true}},
		},
	}
}

func pathwaysTable() Table {
	return Table{
		Name: "pathways", Filename: "pathways.txt", Requirement: RequirementOptional,
		KeyField: "pathway_id",
		Fields: []Field{
			{Name: "pathway_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "from_stop_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			{Name: "to_stop_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "stops", Field: "stop_id"}},
			{Name: "pathway_mode", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 1, Max: 7, HasMin: true, HasMax: true}},
			{Name: "is_bidirectional", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "length", Requirement: RequirementOptional, Kind: fieldtype.KindDouble},
			{Name: "traversal_time", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 1, HasMin: true}},
		},
	}
}

func fareAttributesTable() Table {
	return Table{
		Name: "fare_attributes", Filename: "fare_attributes.txt", Requirement: RequirementOptional,
		KeyField: "fare_id",
		Fields: []Field{
			{Name: "fare_id", Requirement: RequirementRequired, Kind: fieldtype.KindString, IsKey: true},
			{Name: "price", Requirement: RequirementRequired, Kind: fieldtype.KindDouble},
			strField("currency_type", RequirementRequired),
			{Name: "payment_method", Requirement: RequirementRequired, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "transfers", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 2, HasMin: true, HasMax: true}},
			{Name: "agency_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "agency", Field: "agency_id"}},
			{Name: "transfer_duration", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, HasMin: true}},
		},
	}
}

func fareRulesTable() Table {
	return Table{
		Name: "fare_rules", Filename: "fare_rules.txt", Requirement: RequirementOptional,
		Fields: []Field{
			{Name: "fare_id", Requirement: RequirementRequired, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "fare_attributes", Field: "fare_id"}},
			{Name: "route_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "routes", Field: "route_id"}},
			{Name: "origin_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				Conditional: []CondPredicate{{Kind: CondForeignRefExists, Dependent: "origin_id", ForeignField: "zone_id"}}},
			{Name: "destination_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				Conditional: []CondPredicate{{Kind: CondForeignRefExists, Dependent: "destination_id", ForeignField: "zone_id"}}},
			{Name: "contains_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				Conditional: []CondPredicate{{Kind: CondForeignRefExists, Dependent: "contains_id", ForeignField: "zone_id"}}},
		},
	}
}

func translationsTable() Table {
	return Table{
		Name: "translations", Filename: "translations.txt", Requirement: RequirementOptional,
		Fields: []Field{
			strField("table_name", RequirementRequired),
			strField("field_name", RequirementRequired),
			{Name: "language", Requirement: RequirementRequired, Kind: fieldtype.KindLanguage},
			strField("translation", RequirementRequired),
			{Name: "record_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				Conditional: []CondPredicate{{Kind: CondFieldNotEmptyAndMatchesValue, Dependent: "record_id", MatchValue: ""}}},
			strField("record_sub_id", RequirementOptional),
			{Name: "field_value", Requirement: RequirementOptional, Kind: fieldtype.KindCommaList},
		},
	}
}

func attributionsTable() Table {
	return Table{
		Name: "attributions", Filename: "attributions.txt", Requirement: RequirementOptional,
		Fields: []Field{
			strField("attribution_id", RequirementOptional),
			{Name: "agency_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "agency", Field: "agency_id"}},
			{Name: "route_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "routes", Field: "route_id"}},
			{Name: "trip_id", Requirement: RequirementOptional, Kind: fieldtype.KindString,
				ForeignRef: &ForeignRef{Table: "trips", Field: "trip_id"}},
			strField("organization_name", RequirementRequired),
			{Name: "is_producer", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "is_operator", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "is_authority", Requirement: RequirementOptional, Kind: fieldtype.KindInteger, Range: fieldtype.Range{Min: 0, Max: 1, HasMin: true, HasMax: true}},
			{Name: "attribution_url", Requirement: RequirementOptional, Kind: fieldtype.KindURL},
			strField("attribution_email", RequirementOptional),
			strField("attribution_phone", RequirementOptional),
		},
	}
}
