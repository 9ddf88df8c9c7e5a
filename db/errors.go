package db

import (
	"database/sql"
	"strings"

	"github.com/teranos/nex/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically during shutdown while workers are still draining.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection pool is gone.
// database/sql reports a closed pool as sql.ErrConnDone or its own
// unexported "sql: database is closed" error, so the latter is matched by
// message as the driver gives no sentinel for it.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, ErrDatabaseClosed, sql.ErrConnDone) {
		return true
	}
	return strings.HasSuffix(err.Error(), "sql: database is closed")
}
