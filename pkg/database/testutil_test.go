package database_test

import (
	"github.com/grumble-cluster/grumble/pkg/database"
)

// NewTestDB opens an in-memory sqlite DB with every model migrated,
// shared by every _test.go file in this package.
func NewTestDB() (*database.DB, error) {
	return database.Open("file::memory:?cache=shared&mode=memory")
}

// NewTestServer inserts one Server fixture row and returns its ID.
func NewTestServer(tx *database.DbTx) (uint64, error) {
	return tx.CreateServer("test")
}
