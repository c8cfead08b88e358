// Package filestore persists prompt records and the migration manifest as two JSON documents in a
// directory: prompt_registry.json ({"prompts": {id: record}}) and migration_manifest.json
// ({"migrations": [...]}). Every mutation rewrites its document through a temp file, fsync and rename,
// retrying transient failures; the in-memory copy changes only after the rename succeeded.
package filestore
