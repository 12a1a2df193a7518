package testutil

// Helpers and configuration for tests.

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func BuildZip(
	t testing.TB,
	files map[string][]string,
) []byte {

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, content := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(content, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// BuildArchive is BuildZip's equivalent for the schema-driven ingestion
// core: it returns a *zip.Reader directly since loader.Load consumes
// one, rather than the raw byte slice the old parse.ParseStatic path
// accepts. geojsonName/geojsonBody, when geojsonName is non-empty, adds
// the flex locations sidecar as an additional entry.
func BuildArchive(t testing.TB, files map[string][]string, geojsonName, geojsonBody string) *zip.Reader {
	if geojsonName != "" {
		files[geojsonName] = []string{geojsonBody}
	}
	data := BuildZip(t, files)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return r
}

// RequireError fails the test unless the feed's errors table contains
// at least one row of the given kind against the given table. Used by
// loader/validate tests instead of re-deriving errorstore's identity
// tuple by hand.
func RequireError(t testing.TB, db *sql.DB, kind, table string) {
	var count int
	row := db.QueryRow(`SELECT COUNT(*) FROM errors WHERE kind = ? AND tbl = ?`, kind, table)
	require.NoError(t, row.Scan(&count))
	require.Greaterf(t, count, 0, "expected at least one %s error on table %s", kind, table)
}

// RequireNoError is RequireError's complement, for asserting a clean
// table.
func RequireNoErrors(t testing.TB, db *sql.DB, table string) {
	var count int
	row := db.QueryRow(`SELECT COUNT(*) FROM errors WHERE tbl = ?`, table)
	require.NoError(t, row.Scan(&count))
	require.Zerof(t, count, "expected no errors on table %s", table)
}
