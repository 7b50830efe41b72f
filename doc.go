// Package timevault implements a temporal record store. Every write is an
// immutable event in an append-only log, and a version index derived from
// that log answers what a record held at any past instant. The store can be
// rolled back to a past instant without destroying history, and two instants
// can be compared to find the records that changed between them.
//
// Typical usage looks like:
//   - Open a Backend (in memory, Redis, Postgres, or a bbolt file)
//   - Open a Vault over the Backend with a Config
//   - Write records, Resolve them at any timestamp, Rollback and Compare
//   - Optionally put a CachedResolver in front of point-in-time reads
//
// The examples/ directory contains a runnable walk through the API.
package timevault
