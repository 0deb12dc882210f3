// Package sqlite opens the SQLite files behind the conversation cache and the
// file-backed vector index, and migrates their schemas. The driver is
// modernc.org/sqlite (pure Go, no CGO).
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// Applied on every connection of a writable database. WAL lets queries
// read history while another request appends a turn.
var writablePragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

const busyTimeoutPragma = "busy_timeout(5000)"

// dsn renders path plus connection parameters the way modernc.org/sqlite
// reads them: one _pragma per statement, applied at connect time.
func dsn(path, mode string, pragmas []string) string {
	q := url.Values{}
	if mode != "" {
		q.Set("mode", mode)
	}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	if mode != "" {
		path = "file:" + path
	}
	return path + "?" + q.Encode()
}

func open(path, dataSource string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %q: %w", path, err)
	}
	return db, nil
}

// NewDB opens or creates a writable database. The parent directory must
// already exist; ":memory:" is accepted for tests.
func NewDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("sqlite: parent directory %q does not exist", dir)
		}
	}
	return open(path, dsn(path, "", writablePragmas), 10)
}

// OpenReadOnly opens an existing index file built offline by `lightspeed index`.
func OpenReadOnly(path string) (*sql.DB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open read-only: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("sqlite: open read-only: %q is a directory", path)
	}
	return open(path, dsn(path, "ro", []string{busyTimeoutPragma}), 4)
}
