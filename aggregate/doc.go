// Package aggregate reduces a directory of staged call export files into the
// current set of active incidents.
//
// An aggregation pass is a full sweep over the staged files: it discovers
// calls closed at the source, resolves per-call supersession by file sequence
// number, applies the classification policy, merges kept snapshots that share
// a normalized location into incident groups, and reports which files are now
// superseded or dropped and must be deleted. Groups are rebuilt from scratch
// on every pass; the only state crossing pass boundaries is the Registry of
// first-displayed times and the staged files themselves.
//
// The Pipeline type serializes directory listing, the pass, file deletion,
// and registry access behind a single lock so no reader ever observes a
// half-deleted file set. This is coarse-grained on purpose: incident counts
// are tens, not millions, and snapshot consistency matters more than
// throughput here.
package aggregate
