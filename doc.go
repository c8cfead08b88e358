// Package promptvault defines the data model of a versioned prompt registry and the
// environment ordering that governs promotion of prompts from dev through qa and staging to prod.
// Storage, versioning and promotion live in the registry, manifest and migration packages.
package promptvault
