// Package engine runs catalog operations one at a time against the session
// store. It owns the busy flag, applies the tier and gate checks before any
// remote call, merges each run's patch into the session and keeps a short
// in-memory run history for the console and the HTTP adapter.
package engine
