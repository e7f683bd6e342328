package sqliteutil

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// OpenDB opens a records database. `target` is either a local file path
// or a remote libsql url (libsql://, wss://, https://). `authToken` only
// applies to remote targets. The schema is applied on open; re-applying
// an existing schema is not an error.
func OpenDB(schema, target, authToken string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	if isRemote(target) {
		url := target
		if authToken != "" {
			url = fmt.Sprintf("%s?authToken=%s", target, authToken)
		}
		db, err = sql.Open("libsql", url)
	} else {
		db, err = sql.Open("sqlite", target)
		if err == nil {
			// see this stackoverflow post for information on why the following
			// lines exist: https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
			db.SetMaxOpenConns(1)
			_, err = db.Exec("PRAGMA journal_mode=WAL")
		}
	}
	if err != nil {
		return nil, err
	}

	if schema != "" {
		_, err = db.Exec(schema)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func isRemote(target string) bool {
	return strings.HasPrefix(target, "libsql://") ||
		strings.HasPrefix(target, "wss://") ||
		strings.HasPrefix(target, "https://")
}
