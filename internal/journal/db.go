package journal

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type dbConfig struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

func dbDefaults() dbConfig {
	return dbConfig{
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		mkdirAll:    true,
	}
}

// dsn carries the per-connection pragmas in the data source name so every
// pooled connection gets them. Writers wait out a locked database for
// busyTimeout milliseconds inside SQLite.
func dsn(path string, cfg dbConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.busyTimeout))
	q.Add("_pragma", fmt.Sprintf("synchronous(%s)", cfg.synchronous))
	return path + "?" + q.Encode()
}

// openDB opens an SQLite database with WAL and a busy timeout, then applies
// the schema.
func openDB(path string, cfg dbConfig) (*sql.DB, error) {
	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, cfg))
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	// journal_mode is stored in the file, so one connection is enough.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: journal_mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: exec schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}
	return db, nil
}
