// Package extract parses CAD call export files into incident snapshots.
//
// One export file is one XML document describing a call and its assigned
// units at a point in time. Extraction is best effort: the call number is the
// only required field, every other element yields an empty or nil value when
// missing, and a unit entry missing its type is skipped without failing the
// file. Typed failures (errors.ErrEmptyFile, errors.ErrMalformedXML,
// errors.ErrMissingCallNumber) let callers isolate bad files and retry them
// on a later pass.
//
// The package also owns the pure time and field parsing helpers: two-tier
// timestamp parsing anchored to the dispatch system's Eastern reference
// timezone, LAT:/LON: coordinate scanning, and address normalization for
// display and grouping.
package extract
