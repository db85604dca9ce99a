// Package storage persists reminders, recurrence rules and per-user
// timezones behind the Store interface.
//
// The SQLite backend is the only driver; it keeps all instants as UTC
// UnixMilli integers and attaches rules and timezones eagerly so callers
// never do follow-up reads on the hot path.
package storage
