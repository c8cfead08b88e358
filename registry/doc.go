// Package registry holds prompt records in memory over a persistent promptvault.RecordStore and
// implements the versioning engine: create, get, list, add_version, rollback and history.
//
// All mutations run under one registry-wide write lock and reach the store before they become
// visible in memory, so a failed write leaves both the store and the registry unchanged.
// Multi-step read-modify-write units use Update; consistent read-only snapshots use View.
package registry
