//go:build cgo
// +build cgo

package docstore

import (
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"
