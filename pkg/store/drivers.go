package store

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	DriverPure = "sqlite"  // modernc.org/sqlite
	DriverCgo  = "sqlite3" // github.com/mattn/go-sqlite3
)

// dsn builds a connection string for driver. Both variants run in WAL mode
// and take the write lock at BEGIN.
func dsn(driver, path string) (string, error) {
	switch driver {
	case DriverPure:
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate", nil
	case DriverCgo:
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_synchronous=NORMAL&_txlock=immediate", nil
	}
	return "", fmt.Errorf("unsupported sqlite driver %q", driver)
}
