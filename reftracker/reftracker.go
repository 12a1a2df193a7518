// Package reftracker is the data structure that enforces dataset-wide
// uniqueness and referential integrity across tables loaded one at a
// time in dependency order. It is owned exclusively by the loader: the
// validation pipeline reads committed tables, never the tracker itself.
package reftracker

import (
	"fmt"
	"strconv"

	"tidbyt.dev/gtfsingest/schema"
)

// Error is one finding from CheckRow. Kind mirrors the closed error
// taxonomy's symbolic names (see errorstore.Record.Kind); the loader
// converts these into errorstore.Record values, attaching line number
// and table name which the tracker itself doesn't know about.
type Error struct {
	Kind     string
	Field    string
	BadValue string
}

// Tracker holds the three structures described in spec.md §3:
// fully-qualified key identities, compound (key, order) identities, and
// a field -> set-of-values multimap for cross-table conditional checks.
// It grows monotonically through the load phase and is discarded at its
// end; nothing here is safe for concurrent writers, matching its
// single-owner (loader) contract.
type Tracker struct {
	keys             map[string]bool // "field:value"
	compound         map[string]bool // "field:key:order"
	multimap         map[string]map[string]bool
	agencyRows       int
	emptyAgencyLines []int64
}

func New() *Tracker {
	return &Tracker{
		keys:     map[string]bool{},
		compound: map[string]bool{},
		multimap: map[string]map[string]bool{},
	}
}

func keyIdentity(field, value string) string {
	return field + ":" + value
}

func compoundIdentity(field, key, order string) string {
	return field + ":" + key + ":" + order
}

// HasKey reports whether value was ever recorded against field's key
// set. Used by the trip-walk driver and the parent-station validator to
// look up stops/locations/groups without re-reading rows.
func (t *Tracker) HasKey(field, value string) bool {
	return t.keys[keyIdentity(field, value)]
}

// MultimapValues returns the set of distinct values seen for field,
// e.g. the zone_ids carried by stops, consulted by the ForeignRefExists
// conditional predicate for fare_rules.
func (t *Tracker) MultimapValues(field string) map[string]bool {
	return t.multimap[field]
}

func (t *Tracker) addMultimap(field, value string) {
	if value == "" {
		return
	}
	set, ok := t.multimap[field]
	if !ok {
		set = map[string]bool{}
		t.multimap[field] = set
	}
	set[value] = true
}

// CheckRow implements the reference-tracker contract from spec.md §4.4.
// table and field describe the current cell; value is its cleaned
// value; key and order are the row's own key/order values (order is ""
// for tables without an order field). entityID is the row's natural key
// used to annotate errors.
func (t *Tracker) CheckRow(tbl schema.Table, f schema.Field, value string, key, order string) []Error {
	var errs []Error

	if f.ForeignRef != nil && value != "" {
		refID := keyIdentity(f.ForeignRef.Field, value)
		if !t.keys[refID] {
			errs = append(errs, Error{Kind: "REFERENTIAL_INTEGRITY", Field: f.Name, BadValue: value})
		}
	}

	if f.IsKey || f.IsOrder {
		if f.IsOrder {
			id := compoundIdentity(f.Name, key, order)
			if t.compound[id] {
				errs = append(errs, Error{Kind: "DUPLICATE_ID", Field: f.Name, BadValue: value})
			} else {
				t.compound[id] = true
			}
		} else if tbl.HasKey() && tbl.OrderField == "" && value != "" {
			// A key field that also anchors an order field (stop_times'
			// trip_id, shapes' shape_id) legitimately repeats across
			// many rows; uniqueness there is compound (key, order) and
			// is enforced by the IsOrder branch above instead.
			id := keyIdentity(f.Name, value)
			if t.keys[id] {
				errs = append(errs, Error{Kind: "DUPLICATE_ID", Field: f.Name, BadValue: value})
			}
		}
	}

	// A key field is added to the forward-lookup set regardless of
	// whether it's also a foreign reference (calendar_dates.service_id
	// is exactly this case: a foreign-looking key we still want other
	// tables to be able to resolve against).
	if (f.IsKey || (tbl.KeyField == f.Name)) && value != "" {
		t.keys[keyIdentity(f.Name, value)] = true
	}

	if value != "" {
		t.addMultimap(f.Name, value)
	}

	return errs
}

// NoteAgencyRow implements the AgencyHasMultipleRows conditional:
// agency_id is only required once a feed declares more than one
// agency, and only for the rows that actually left it empty. Returns
// the line number(s) that need a retroactive
// AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS error, or nil if this row
// doesn't trigger one.
func (t *Tracker) NoteAgencyRow(line int64, agencyIDEmpty bool) (retroactiveLines []int64) {
	t.agencyRows++
	if agencyIDEmpty {
		t.emptyAgencyLines = append(t.emptyAgencyLines, line)
	}

	if t.agencyRows < 2 || len(t.emptyAgencyLines) == 0 {
		return nil
	}

	if t.agencyRows == 2 {
		// Feed just became multi-agency: flush every empty-agency_id
		// line seen so far, including the one being processed now.
		return append([]int64(nil), t.emptyAgencyLines...)
	}
	if agencyIDEmpty {
		return []int64{line}
	}
	return nil
}

// EvalConditional runs the five built-in conditional-requirement
// predicates. refValue is the current row's value for the field the
// predicate is attached to; dependentValue is the current row's value
// for pred.Dependent (empty string if absent). refKindFailed indicates
// the reference field already failed its own primary parse/range
// check, in which case the predicate is short-circuited per spec.md
// §4.5's edge-case policy.
func (t *Tracker) EvalConditional(pred schema.CondPredicate, refValue string, refKindFailed bool, dependentValue string) *Error {
	if refKindFailed {
		return nil
	}

	errKind := pred.ErrorKind
	if errKind == "" {
		errKind = "CONDITIONALLY_REQUIRED"
	}

	switch pred.Kind {
	case schema.CondReferenceFieldShouldBeProvided:
		set := t.multimap[pred.Dependent]
		if len(set) > 1 && refValue == "" {
			return &Error{Kind: errKind, Field: pred.Dependent}
		}
	case schema.CondFieldInRange:
		n, err := strconv.Atoi(refValue)
		if err != nil {
			// Conservative: a non-numeric reference value is treated as
			// "not in range", not an additional error.
			return nil
		}
		if n >= pred.Min && n <= pred.Max && dependentValue == "" {
			return &Error{Kind: errKind, Field: pred.Dependent}
		}
	case schema.CondFieldNotEmptyAndMatchesValue:
		if refValue == pred.MatchValue && dependentValue == "" {
			return &Error{Kind: errKind, Field: pred.Dependent}
		}
	case schema.CondForeignRefExists:
		if refValue == "" {
			return nil
		}
		set := t.multimap[pred.ForeignField]
		if !set[refValue] {
			return &Error{Kind: "REFERENTIAL_INTEGRITY", Field: pred.Dependent, BadValue: refValue}
		}
	case schema.CondAgencyHasMultipleRows:
		// Handled by NoteAgencyRow directly, since it needs to emit
		// retroactively against earlier lines than the engine's
		// per-row call can see.
		return nil
	}
	return nil
}

func (e Error) String() string {
	return fmt.Sprintf("%s field=%s value=%q", e.Kind, e.Field, e.BadValue)
}
