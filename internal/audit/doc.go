// Package audit journals driver lifecycle events to SQLite.
//
// A Journal is registered as a driver.Observer. Attach, detach, failed
// attach and resize events become rows in device_events; read and write
// events are ignored. The API serves the journal through
// SQLiteRepository.List with type, number and name filters.
package audit
