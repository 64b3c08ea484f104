package store

// Package store provides the shared key-value backend behind the grid's
// named caches: the running-job registries and the query results cache.
//
// Backends:
//   - memory: default, process-local
//   - sqlite: survives restarts (modernc.org/sqlite, WAL mode)
