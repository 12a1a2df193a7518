package validate

import (
	"database/sql"
	"sort"

	"github.com/pkg/errors"

	"tidbyt.dev/gtfsingest/errorstore"
)

// frequencyRow mirrors one committed frequencies.txt row.
type frequencyRow struct {
	StartTime   int64
	EndTime     int64
	HeadwaySecs int64
}

// FrequencyValidator implements spec.md §4.9's "Frequency" check: a
// trip's frequency windows must each have start < end and a positive
// headway, and no two windows for the same trip may overlap. It reads
// the committed frequencies table directly on construction rather than
// per trip, since frequencies.txt is its own table, not stop_times.
type FrequencyValidator struct {
	byTrip map[string][]frequencyRow
}

// NewFrequencyValidator loads every committed frequencies row, grouped
// by trip_id, ahead of the trip walk.
func NewFrequencyValidator(db *sql.DB) (*FrequencyValidator, error) {
	rows, err := db.Query(`SELECT trip_id, start_time, end_time, headway_secs FROM frequencies`)
	if err != nil {
		return &FrequencyValidator{byTrip: map[string][]frequencyRow{}}, nil
	}
	defer rows.Close()
	byTrip := map[string][]frequencyRow{}
	for rows.Next() {
		var tripID string
		var r frequencyRow
		if err := rows.Scan(&tripID, &r.StartTime, &r.EndTime, &r.HeadwaySecs); err != nil {
			return nil, errors.Wrap(err, "validate: scanning frequencies")
		}
		byTrip[tripID] = append(byTrip[tripID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &FrequencyValidator{byTrip: byTrip}, nil
}

func (f *FrequencyValidator) Name() string { return "frequency" }

func (f *FrequencyValidator) ValidateTrip(ctx TripContext, deps *Deps, errs *errorstore.Store) {
	windows := f.byTrip[ctx.Trip.ID]
	if len(windows) == 0 {
		return
	}

	valid := make([]frequencyRow, 0, len(windows))
	for _, w := range windows {
		if w.EndTime <= w.StartTime {
			errs.Store(errorstore.Record{Kind: "FREQUENCY_WINDOW_INVALID", Table: "frequencies", EntityID: ctx.Trip.ID, Priority: errorstore.PriorityHigh})
			continue
		}
		if w.HeadwaySecs <= 0 {
			errs.Store(errorstore.Record{Kind: "FREQUENCY_HEADWAY_NOT_POSITIVE", Table: "frequencies", EntityID: ctx.Trip.ID, Priority: errorstore.PriorityHigh})
			continue
		}
		valid = append(valid, w)
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].StartTime < valid[j].StartTime })
	for i := 1; i < len(valid); i++ {
		if valid[i].StartTime < valid[i-1].EndTime {
			errs.Store(errorstore.Record{Kind: "FREQUENCY_WINDOWS_OVERLAP", Table: "frequencies", EntityID: ctx.Trip.ID, Priority: errorstore.PriorityHigh})
		}
	}
}

func (f *FrequencyValidator) Complete(deps *Deps, errs *errorstore.Store) {}
