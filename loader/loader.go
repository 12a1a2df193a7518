// Package loader is the schema-driven streaming loader described in
// spec.md §4.6: for each table in registry order, stream rows out of the
// archive, coerce each field through fieldtype, consult the reference
// tracker, and insert the row, recording errors along the way. It never
// aborts on a single bad row — the only fatal conditions are an
// unrecoverable archive read or a storage-transaction failure, both of
// which come back as a result-level FatalException (spec.md §4.10),
// matching the teacher's parse.ParseStatic which returns a hard error
// only for missing required files and wraps everything else inline.
package loader

import (
	"archive/zip"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/fieldtype"
	"tidbyt.dev/gtfsingest/ingeststore"
	"tidbyt.dev/gtfsingest/ingestlog"
	"tidbyt.dev/gtfsingest/reftracker"
	"tidbyt.dev/gtfsingest/schema"
	"tidbyt.dev/gtfsingest/sidecar"
)

func init() {
	// LazyCSVReader tolerates the sloppy quoting real-world GTFS
	// producers emit; bom.NewReader strips a leading UTF-8 BOM if
	// present. Same chain as the teacher's parse.ParseStatic.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Config is the subset of config.Config the loader consults.
type Config struct {
	BatchSize int
}

// TableResult is the per-table row/byte/error count spec.md §6's
// load-result contract requires.
type TableResult struct {
	Table          string
	RowCount       int64
	ByteCount      int64
	ErrorCount     int64
	FatalException error
}

// Result is the full load-result: per-table stats plus total timing.
type Result struct {
	Tables         []TableResult
	TotalTimeMillis int64
	FatalException error
	Cancelled      bool
}

// Cancel is the single pipeline-wide cancellation token spec.md §5
// describes, checked between tables.
type Cancel interface {
	Cancelled() bool
}

// rowReader is the minimal surface the loader needs from a CSV source,
// matching gocsv.CSVReader's Read method so both a real zip entry and a
// sidecar-synthesized in-memory stream satisfy it identically.
type rowReader interface {
	Read() ([]string, error)
}

// memRowReader replays a pre-built [][]string (the sidecar's synthesized
// streams) through the same rowReader interface a zip entry uses, so the
// rest of the loader never special-cases the flex sidecar tables.
type memRowReader struct {
	rows [][]string
	pos  int
}

func (m *memRowReader) Read() ([]string, error) {
	if m.pos >= len(m.rows) {
		return nil, io.EOF
	}
	row := m.rows[m.pos]
	m.pos++
	return row, nil
}

// Load runs the full registry-ordered load against archive, writing
// through store and recording findings in errs. tracker is fresh
// (reftracker.New()) and is discarded by the caller once load completes,
// per spec.md §3's reference-tracker lifecycle.
func Load(
	reg *schema.Registry,
	store ingeststore.FeedStore,
	errs *errorstore.Store,
	tracker *reftracker.Tracker,
	archive *zip.Reader,
	cfg Config,
	log *ingestlog.Logger,
	cancel Cancel,
) *Result {
	start := time.Now()
	result := &Result{}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if log == nil {
		log = ingestlog.Default()
	}

	index := indexArchive(archive)
	var geo *sidecar.Result

	for _, t := range reg.Tables() {
		if cancel != nil && cancel.Cancelled() {
			result.Cancelled = true
			break
		}

		tableStart := time.Now()
		tr := TableResult{Table: t.Name}

		reader, byteCount, subdirErr, ok, err := openTable(archive, index, t, &geo)
		if err != nil {
			tr.FatalException = err
			result.Tables = append(result.Tables, tr)
			result.FatalException = err
			log.Error("fatal error opening table %s: %v", t.Name, err)
			return result
		}
		tr.ByteCount = byteCount
		if subdirErr {
			errs.Store(errorstore.Record{Kind: "TABLE_IN_SUBDIRECTORY", Table: t.Name, Priority: errorstore.PriorityLow})
		}
		if !ok {
			if t.Requirement == schema.RequirementRequired {
				errs.Store(errorstore.Record{Kind: "MISSING_TABLE", Table: t.Name, Priority: errorstore.PriorityHigh})
			}
			result.Tables = append(result.Tables, tr)
			continue
		}

		rowCount, errCount, loadErr := loadTable(t, reader, store, errs, tracker, cfg)
		if closer, ok := reader.(*closingRowReader); ok {
			closer.closer.Close()
		}
		tr.RowCount = rowCount
		tr.ErrorCount = errCount
		if loadErr != nil {
			tr.FatalException = loadErr
			result.Tables = append(result.Tables, tr)
			result.FatalException = loadErr
			log.Error("fatal error loading table %s: %v", t.Name, loadErr)
			return result
		}

		log.Info("loaded %d %s rows in %s (%d errors)", rowCount, t.Name, time.Since(tableStart).Round(time.Millisecond), errCount)
		result.Tables = append(result.Tables, tr)
	}

	result.TotalTimeMillis = time.Since(start).Milliseconds()
	return result
}

// archiveIndex maps a bare filename (no directory component) to the zip
// entry and whether it was found under a subdirectory.
type archiveEntry struct {
	file     *zip.File
	subdir   bool
}

func indexArchive(archive *zip.Reader) map[string]archiveEntry {
	index := map[string]archiveEntry{}
	for _, f := range archive.File {
		if f.FileInfo().IsDir() {
			continue
		}
		parts := strings.Split(f.Name, "/")
		name := parts[len(parts)-1]
		if _, exists := index[name]; exists {
			continue
		}
		index[name] = archiveEntry{file: f, subdir: len(parts) > 1}
	}
	return index
}

// openTable resolves table t's row source: a direct zip entry for
// ordinary tables, or (for the two flex sidecar tables) the shared
// sidecar.Result decoded once from the .geojson entry and cached in
// *geo for the second table's turn.
func openTable(archive *zip.Reader, index map[string]archiveEntry, t schema.Table, geo **sidecar.Result) (rowReader, int64, bool, bool, error) {
	switch t.Name {
	case "locations":
		g, byteCount, ok, err := loadSidecar(index, geo)
		if err != nil || !ok {
			return nil, byteCount, false, ok, err
		}
		rows := append([][]string{sidecar.LocationsHeader}, g.LocationRows...)
		return &memRowReader{rows: rows}, byteCount, false, true, nil
	case "location_geometries":
		g, byteCount, ok, err := loadSidecar(index, geo)
		if err != nil || !ok {
			return nil, byteCount, false, ok, err
		}
		rows := append([][]string{sidecar.GeometriesHeader}, g.GeometryRows...)
		return &memRowReader{rows: rows}, byteCount, false, true, nil
	}

	entry, ok := index[t.Filename]
	if !ok {
		return nil, 0, false, false, nil
	}
	rc, err := entry.file.Open()
	if err != nil {
		return nil, 0, false, false, errors.Wrapf(err, "loader: opening %s", t.Filename)
	}
	reader := gocsv.LazyCSVReader(bom.NewReader(rc))
	return &closingRowReader{rowReader: reader, closer: rc}, int64(entry.file.UncompressedSize64), entry.subdir, true, nil
}

type closingRowReader struct {
	rowReader gocsv.CSVReader
	closer    io.Closer
}

func (c *closingRowReader) Read() ([]string, error) { return c.rowReader.Read() }

func loadSidecar(index map[string]archiveEntry, geo **sidecar.Result) (*sidecar.Result, int64, bool, error) {
	if *geo != nil {
		return *geo, 0, true, nil
	}
	var entry archiveEntry
	var found bool
	for name, e := range index {
		if strings.HasSuffix(strings.ToLower(name), ".geojson") {
			entry, found = e, true
			break
		}
	}
	if !found {
		return nil, 0, false, nil
	}
	rc, err := entry.file.Open()
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "loader: opening geojson sidecar")
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "loader: reading geojson sidecar")
	}
	g, err := sidecar.Adapt(data)
	if err != nil {
		return nil, int64(len(data)), false, errors.Wrap(err, "loader: adapting geojson sidecar")
	}
	*geo = g
	return g, int64(len(data)), true, nil
}

// loadTable streams rows out of reader, coercing and tracking each one,
// and inserting through store's bulk path when available or a
// parameterized batch otherwise.
func loadTable(t schema.Table, reader rowReader, store ingeststore.FeedStore, errs *errorstore.Store, tracker *reftracker.Tracker, cfg Config) (rowCount int64, errCount int64, err error) {
	header, rerr := reader.Read()
	if rerr == io.EOF {
		return 0, 0, nil
	}
	if rerr != nil {
		return 0, 0, errors.Wrapf(rerr, "loader: reading header for %s", t.Name)
	}

	colIndex := map[string]int{}
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}
	for _, f := range t.Fields {
		if _, ok := colIndex[f.Name]; !ok && f.Required() {
			if stored, _ := errs.Store(errorstore.Record{Kind: "MISSING_COLUMN", Table: t.Name, Field: f.Name, Priority: errorstore.PriorityHigh}); stored {
				errCount++
			}
		}
	}

	bulk, bulkErr := store.BulkInserter(t)
	useBulk := bulkErr == nil
	if !useBulk {
		bulk = nil
	}

	line := int64(1) // header occupies line 1
	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rowCount, errCount, errors.Wrapf(rerr, "loader: reading %s at line %d", t.Name, line+1)
		}
		line++

		if len(row) != len(header) {
			if stored, _ := errs.Store(errorstore.Record{Kind: "WRONG_NUMBER_OF_FIELDS", Table: t.Name, Line: line, Priority: errorstore.PriorityMedium}); stored {
				errCount++
			}
		}

		values, keyVal, orderVal, entityID, rowErrCount := parseRow(t, row, colIndex, tracker, errs, line)
		errCount += rowErrCount

		if useBulk {
			if err := bulk.Add(values); err != nil {
				if bulk != nil {
					bulk.Close()
				}
				return rowCount, errCount, errors.Wrapf(err, "loader: bulk-inserting %s row %d", t.Name, line)
			}
		} else {
			if _, err := store.InsertRow(t, values); err != nil {
				return rowCount, errCount, errors.Wrapf(err, "loader: inserting %s row %d", t.Name, line)
			}
		}
		_ = keyVal
		_ = orderVal
		_ = entityID
		rowCount++
	}

	if useBulk {
		if err := bulk.Close(); err != nil {
			return rowCount, errCount, errors.Wrapf(err, "loader: flushing bulk insert for %s", t.Name)
		}
	}
	return rowCount, errCount, nil
}

// parseRow parses every declared field of one row in order, consulting
// the reference tracker and conditional-requirement engine, and returns
// the bound parameter slice plus the number of errors recorded.
func parseRow(t schema.Table, row []string, colIndex map[string]int, tracker *reftracker.Tracker, errs *errorstore.Store, line int64) (values []interface{}, keyVal, orderVal, entityID string, errCount int64) {
	raw := make(map[string]string, len(t.Fields))
	clean := make(map[string]string, len(t.Fields))
	failed := make(map[string]bool, len(t.Fields))

	for _, f := range t.Fields {
		idx, ok := colIndex[f.Name]
		var cell string
		if ok && idx < len(row) {
			cell = row[idx]
		}
		raw[f.Name] = cell
	}
	keyVal = raw[t.KeyField]
	orderVal = raw[t.OrderField]
	entityID = keyVal

	values = make([]interface{}, len(t.Fields))
	for i, f := range t.Fields {
		cellClean, present, kindErr := fieldtype.Parse(f.Kind, raw[f.Name], f.Required(), f.Range)
		clean[f.Name] = cellClean
		if kindErr != fieldtype.ErrNone {
			failed[f.Name] = true
			if stored, _ := errs.Store(errorstore.Record{
				Kind: string(kindErr), Table: t.Name, Line: line, Field: f.Name,
				EntityID: entityID, BadValue: raw[f.Name], Sequence: seqOf(t, orderVal),
				Priority: severityOf(kindErr),
			}); stored {
				errCount++
			}
		}
		values[i] = bindValue(f, cellClean, present)
	}

	if t.Name == "agency" {
		if af, ok := t.Field("agency_id"); ok {
			retro := tracker.NoteAgencyRow(line, raw[af.Name] == "")
			for _, l := range retro {
				if stored, _ := errs.Store(errorstore.Record{
					Kind: "AGENCY_ID_REQUIRED_FOR_MULTI_AGENCY_FEEDS", Table: t.Name, Line: l, Field: "agency_id",
					Priority: errorstore.PriorityMedium,
				}); stored {
					errCount++
				}
			}
		}
	}

	for _, f := range t.Fields {
		if !f.IsKey && !f.IsOrder && len(f.Conditional) == 0 && f.ForeignRef == nil {
			continue
		}
		for _, trErr := range tracker.CheckRow(t, f, clean[f.Name], keyVal, orderVal) {
			if stored, _ := errs.Store(errorstore.Record{
				Kind: trErr.Kind, Table: t.Name, Line: line, Field: trErr.Field,
				EntityID: entityID, BadValue: trErr.BadValue, Sequence: seqOf(t, orderVal),
				Priority: severityOf(fieldtype.ErrKind(trErr.Kind)),
			}); stored {
				errCount++
			}
		}
		for _, pred := range f.Conditional {
			if pred.Kind == schema.CondAgencyHasMultipleRows {
				continue
			}
			dependentValue := clean[pred.Dependent]
			if dependentValue == "" {
				dependentValue = raw[pred.Dependent]
			}
			if condErr := tracker.EvalConditional(pred, clean[f.Name], failed[f.Name], dependentValue); condErr != nil {
				if stored, _ := errs.Store(errorstore.Record{
					Kind: condErr.Kind, Table: t.Name, Line: line, Field: condErr.Field,
					EntityID: entityID, BadValue: condErr.BadValue, Sequence: seqOf(t, orderVal),
					Priority: errorstore.PriorityMedium,
				}); stored {
					errCount++
				}
			}
		}
	}

	return values, keyVal, orderVal, entityID, errCount
}

func seqOf(t schema.Table, orderVal string) int64 {
	if t.OrderField == "" || orderVal == "" {
		return 0
	}
	n, err := strconv.ParseInt(orderVal, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// bindValue renders the storage parameter for one field: the cleaned
// string for strings/dates/etc, or the numeric sentinel for missing
// optional Integer/Double-family fields per spec.md §4.2.
func bindValue(f schema.Field, clean string, present bool) interface{} {
	if present {
		switch f.Kind {
		case fieldtype.KindInteger, fieldtype.KindShort, fieldtype.KindTimeOfDay:
			n, err := strconv.ParseInt(clean, 10, 64)
			if err != nil {
				return fieldtype.IntMissing
			}
			return n
		case fieldtype.KindDouble, fieldtype.KindLatitude, fieldtype.KindLongitude:
			n, err := strconv.ParseFloat(clean, 64)
			if err != nil {
				return fieldtype.DoubleMissing
			}
			return n
		default:
			return clean
		}
	}
	switch f.Kind {
	case fieldtype.KindInteger, fieldtype.KindShort, fieldtype.KindTimeOfDay:
		return fieldtype.IntMissing
	case fieldtype.KindDouble, fieldtype.KindLatitude, fieldtype.KindLongitude:
		return fieldtype.DoubleMissing
	default:
		return nil
	}
}

func severityOf(kind fieldtype.ErrKind) errorstore.Priority {
	switch kind {
	case fieldtype.ErrNumberParsing, "DUPLICATE_ID", "REFERENTIAL_INTEGRITY":
		return errorstore.PriorityHigh
	case fieldtype.ErrNone:
		return errorstore.PriorityLow
	default:
		return errorstore.PriorityMedium
	}
}
