// Package store owns workflow records: the schedulable entities the
// trigger engine polls.
//
// The engine only reads snapshots; writes happen through the admin API
// (SetSchedule) or seeding (Put). Drivers:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map, lost on restart (tests / dev)
package store
