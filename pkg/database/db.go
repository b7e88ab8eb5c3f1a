// Package database implements the hub's durable state (§3 Data
// Model, §6 "database engine is out of scope, only the interface is
// specified"): channels, ACL entries, groups, registered users, bans,
// blob metadata, and per-user channel memory. Every table follows
// teacher's `ban.go` convention: a plain struct, a `TableName()`
// method, and CRUD methods hung off `*DbTx`.
package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Server is the root record a cluster's durable state hangs off of.
// The pack's retrieval of ban.go references `database.Server` and
// `ServerID` throughout but the type itself was not included; defined
// fresh here, in the same single-row-per-virtual-server shape hinted
// at by `Ban.ServerID`/`Ban.Server`.
type Server struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement"`
	Name string
}

func (s Server) TableName() string {
	return "servers"
}

// DB wraps a *gorm.DB the way teacher wraps its sqlite handle, adding
// the transaction-scoped `Tx()` helper every other file in this
// package builds its API around.
type DB struct {
	db *gorm.DB
}

// DbTx is a transaction-scoped handle; every CRUD method in this
// package is hung off it, matching teacher's `ban.go` shape exactly.
type DbTx struct {
	db *gorm.DB
}

// Open creates or migrates a sqlite-backed DB at path, auto-migrating
// every model this package declares.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.AutoMigrate(
		&Server{},
		&Channel{},
		&ACLEntry{},
		&Group{},
		&GroupMember{},
		&User{},
		&Ban{},
		&Blob{},
		&ChannelMemory{},
	); err != nil {
		return nil, err
	}
	return &DB{db: gdb}, nil
}

// Tx begins a new transaction-scoped handle. Callers must Commit or
// Rollback it.
func (d *DB) Tx() *DbTx {
	return &DbTx{db: d.db.Begin()}
}

func (d *DbTx) Commit() error {
	return d.db.Commit().Error
}

func (d *DbTx) Rollback() error {
	return d.db.Rollback().Error
}

// CreateServer inserts a new Server row and returns its ID. Exported
// chiefly for test fixtures; production code creates exactly one
// Server per hub at first boot.
func (d *DbTx) CreateServer(name string) (uint64, error) {
	srv := Server{Name: name}
	if err := d.db.Create(&srv).Error; err != nil {
		return 0, err
	}
	return srv.ID, nil
}
