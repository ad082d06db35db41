// Package cache provides distributed ResponseCache backends.
//
// The in-memory cache lives in the root package and is the default. The
// backends here share replays across processes and restarts; they do not
// add cross-process execution exclusion, which stays per-process in the
// in-flight registry.
package cache
