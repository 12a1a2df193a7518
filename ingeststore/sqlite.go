package ingeststore

import (
	"database/sql"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/gtfsingest/errorstore"
	"tidbyt.dev/gtfsingest/schema"
)

// SQLiteFeedStore is one sqlite database file per feed namespace,
// mirroring storage.SQLiteStorage.GetWriter's "one db per feed id"
// layout, generalized from six hardcoded CREATE TABLE statements to
// every table the schema registry declares.
type SQLiteFeedStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLiteFeedStore opens (creating if absent) the sqlite file for
// namespace under dir, or an in-memory database if dir == "".
func OpenSQLiteFeedStore(dir, namespace string) (*SQLiteFeedStore, error) {
	dsn := ":memory:"
	if dir != "" {
		dsn = filepath.Join(dir, namespace+".db")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapf(err, "ingeststore: opening sqlite feed db %s", namespace)
	}
	return &SQLiteFeedStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteFeedStore) DB() *sql.DB               { return s.db }
func (s *SQLiteFeedStore) Placeholder(n int) string  { return errorstore.QuestionMark(n) }
func (s *SQLiteFeedStore) Close() error              { return s.db.Close() }

func (s *SQLiteFeedStore) CreateSchema(reg *schema.Registry) error {
	for _, t := range reg.Tables() {
		if _, err := s.db.Exec(CreateTableSQL(t, "AUTOINCREMENT")); err != nil {
			return wrapf(err, "ingeststore: creating table %s", t.Name)
		}
		for _, idx := range IndexSQL(t) {
			if _, err := s.db.Exec(idx); err != nil {
				return wrapf(err, "ingeststore: indexing table %s", t.Name)
			}
		}
	}
	return createErrorAndDerivedTables(s.db, "AUTOINCREMENT")
}

func (s *SQLiteFeedStore) InsertRow(table schema.Table, values []interface{}) (int64, error) {
	stmt := InsertSQL(table, s.Placeholder)
	res, err := s.db.Exec(stmt, values...)
	if err != nil {
		return 0, wrapf(err, "ingeststore: inserting into %s", table.Name)
	}
	return res.LastInsertId()
}

// sqliteBulkInserter runs one transaction with a single prepared
// statement executed per row, committed on Close. This is the same
// shape as the teacher's BeginStopTimes/WriteStopTime/EndStopTimes:
// sqlite has no server-side COPY protocol, so "bulk" means "one
// transaction, not one per row."
type sqliteBulkInserter struct {
	tx   *sql.Tx
	stmt *sql.Stmt
}

func (s *SQLiteFeedStore) BulkInserter(table schema.Table) (BulkInserter, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapf(err, "ingeststore: beginning bulk insert tx for %s", table.Name)
	}
	stmt, err := tx.Prepare(InsertSQL(table, s.Placeholder))
	if err != nil {
		tx.Rollback()
		return nil, wrapf(err, "ingeststore: preparing bulk insert for %s", table.Name)
	}
	return &sqliteBulkInserter{tx: tx, stmt: stmt}, nil
}

func (b *sqliteBulkInserter) Add(values []interface{}) error {
	if _, err := b.stmt.Exec(values...); err != nil {
		return wrapf(err, "ingeststore: bulk insert row")
	}
	return nil
}

func (b *sqliteBulkInserter) Close() error {
	if err := b.stmt.Close(); err != nil {
		b.tx.Rollback()
		return wrapf(err, "ingeststore: closing bulk insert statement")
	}
	return b.tx.Commit()
}

// CreateRegistryDB opens (creating if absent) the top-level registry
// database holding the `feeds` table, separate from any single feed's
// namespace database — mirroring storage.SQLiteStorage's split between
// feedDB and per-feed dbs.
func CreateRegistryDB(dir string) (*sql.DB, error) {
	dsn := ":memory:"
	if dir != "" {
		dsn = filepath.Join(dir, "registry.db")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, wrapf(err, "ingeststore: opening registry db")
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS feeds (
		namespace TEXT PRIMARY KEY,
		md5 TEXT,
		sha1 TEXT,
		feed_id TEXT,
		feed_version TEXT,
		filename TEXT,
		loaded_at INTEGER,
		snapshot_of TEXT
	)`)
	if err != nil {
		return nil, wrapf(err, "ingeststore: creating feeds table")
	}
	return db, nil
}

func InsertFeedRegistryRow(db *sql.DB, row FeedRegistryRow) error {
	_, err := db.Exec(
		`INSERT INTO feeds (namespace, md5, sha1, feed_id, feed_version, filename, loaded_at, snapshot_of) VALUES (?,?,?,?,?,?,?,?)`,
		row.Namespace, row.MD5, row.SHA1, row.FeedID, row.FeedVersion, row.Filename, row.LoadedAt, row.SnapshotOf,
	)
	return wrapf(err, "ingeststore: recording feed registry row for %s", row.Namespace)
}
