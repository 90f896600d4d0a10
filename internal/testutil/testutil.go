// Package testutil provides test helpers for mailtrail tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: database test setup (NewTestStore, SeedMessages)
//   - fs_helpers.go: filesystem operations (WriteFile, MustExist)
//   - builders.go: message builders for the store and core packages
package testutil
