// Package all wires the built-in storage backends into the storage factory.
//
// It exists for side effects only: a blank import runs each backend's init,
// which registers its factory and DDL dialect. After importing it the kinds
// "postgres" and "sqlite" are available to storage.New and
// storage.EnsureTable.
package all

import (
	_ "crawlstream/internal/storage/postgres"
	_ "crawlstream/internal/storage/sqlite"
)
