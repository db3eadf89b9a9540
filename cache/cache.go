// Package cache implements the controller's durable, single-writer
// completion cache: one row per spool unit, embedded in a SQLite file
// opened through database/sql with the pure-Go glebarez/sqlite driver.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/bbockelm/lsfspool/errs"
)

// Complete is the tri-state completion field.
type Complete int

const (
	// Incomplete marks a unit still being worked.
	Incomplete Complete = 0
	// Done marks a unit whose outputs are all valid.
	Done Complete = 1
	// Abandoned marks a unit that exhausted its retry cap.
	Abandoned Complete = -1
)

// Record is one spool_cache row.
type Record struct {
	SpoolName string
	Complete  Complete
	Time      int64
	Count     int
	Files     string
}

// Cache is a single-writer, durable key-value store keyed by absolute
// spool path.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite cache file at path and
// ensures its schema exists.
func Open(ctx context.Context, path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.New(errs.KindFilesystem, fmt.Sprintf("open cache %q", path), err)
	}
	db.SetMaxOpenConns(1) // single-writer: avoid SQLITE_BUSY from concurrent connections

	c := &Cache{db: db}
	if err := c.prep(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// prep creates the spool_cache table if it does not already exist.
func (c *Cache) prep(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS spool_cache (
		spoolname TEXT PRIMARY KEY,
		complete  INTEGER,
		time      INTEGER,
		count     INTEGER,
		files     TEXT
	)`
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return errs.New(errs.KindFilesystem, "create spool_cache table", err)
	}
	return nil
}

// Fetch retrieves the full record for key, or (Record{}, false, nil)
// if no row exists.
func (c *Cache) Fetch(ctx context.Context, key string) (Record, bool, error) {
	var rec Record
	var completeVal, timeVal, countVal sql.NullInt64
	var filesVal sql.NullString

	row := c.db.QueryRowContext(ctx,
		`SELECT spoolname, complete, time, count, files FROM spool_cache WHERE spoolname = ?`, key)
	err := row.Scan(&rec.SpoolName, &completeVal, &timeVal, &countVal, &filesVal)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errs.New(errs.KindFilesystem, fmt.Sprintf("fetch cache record %q", key), err)
	}

	rec.Complete = Complete(completeVal.Int64)
	rec.Time = timeVal.Int64
	rec.Count = int(countVal.Int64)
	rec.Files = filesVal.String
	return rec, true, nil
}

// FetchComplete returns the keys of every record whose complete field
// equals state.
func (c *Cache) FetchComplete(ctx context.Context, state Complete) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT spoolname FROM spool_cache WHERE complete = ?`, int(state))
	if err != nil {
		return nil, errs.New(errs.KindFilesystem, "fetch_complete query", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errs.New(errs.KindFilesystem, "fetch_complete scan", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// SetComplete upserts a unit's complete field, stamping time to now.
func (c *Cache) SetComplete(ctx context.Context, key string, state Complete) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO spool_cache (spoolname, complete, time, count, files)
		VALUES (?, ?, ?, 0, '')
		ON CONFLICT(spoolname) DO UPDATE SET complete = excluded.complete, time = excluded.time
	`, key, int(state), time.Now().Unix())
	if err != nil {
		return errs.New(errs.KindFilesystem, fmt.Sprintf("set complete for %q", key), err)
	}
	return nil
}

// StampTime upserts a unit's time field to now without touching
// complete or count.
func (c *Cache) StampTime(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO spool_cache (spoolname, complete, time, count, files)
		VALUES (?, 0, ?, 0, '')
		ON CONFLICT(spoolname) DO UPDATE SET time = excluded.time
	`, key, time.Now().Unix())
	if err != nil {
		return errs.New(errs.KindFilesystem, fmt.Sprintf("stamp time for %q", key), err)
	}
	return nil
}

// SetFiles upserts a unit's complete and files fields together, per
// the validation step's partial/none-complete outcomes.
func (c *Cache) SetFiles(ctx context.Context, key string, state Complete, files []string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO spool_cache (spoolname, complete, time, count, files)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(spoolname) DO UPDATE SET complete = excluded.complete, files = excluded.files
	`, key, int(state), time.Now().Unix(), strings.Join(files, ","))
	if err != nil {
		return errs.New(errs.KindFilesystem, fmt.Sprintf("set files for %q", key), err)
	}
	return nil
}

// Counter atomically increments a unit's submission count, stamping
// time to now, initializing count to 1 if the record is new.
func (c *Cache) Counter(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO spool_cache (spoolname, complete, time, count, files)
		VALUES (?, 0, ?, 1, '')
		ON CONFLICT(spoolname) DO UPDATE SET count = count + 1, time = excluded.time
	`, key, time.Now().Unix())
	if err != nil {
		return errs.New(errs.KindFilesystem, fmt.Sprintf("increment counter for %q", key), err)
	}
	return nil
}

// FormatFiles joins incomplete input base names into the cache's
// comma-separated files representation.
func FormatFiles(names []string) string {
	return strings.Join(names, ",")
}

// ParseFiles splits the cache's comma-separated files representation
// back into individual base names, skipping the empty-string case.
func ParseFiles(files string) []string {
	if files == "" {
		return nil
	}
	return strings.Split(files, ",")
}
