// Package errors provides standardized error handling patterns for
// incidentwatch components.
//
// # Overview
//
// The errors package implements a three-class error classification system
// for the file ingestion pipeline: Transient (temporary, retried on the next
// scheduled pass), Invalid (bad input, skipped), and Fatal (unrecoverable,
// stop processing).
//
// Per-file failures in this system are never fatal: an unreadable or
// malformed export file is logged and skipped, and the file is picked up
// again on the next pass if it is still present. Fatal errors are reserved
// for startup configuration problems.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Scheduler", "intake", "list source directory")
//	errors.WrapInvalid(err, "Extractor", "ExtractFile", "decode XML")
//	errors.WrapFatal(err, "Config", "Load", "read config file")
//
// The generic Wrap() function adds context without forcing a class.
//
// # Standard Error Variables
//
// Pre-defined variables cover the pipeline's failure taxonomy: ErrEmptyFile,
// ErrMalformedXML, ErrMissingCallNumber, ErrFilenamePattern,
// ErrTimestampParse for extraction; ErrDirectoryUnreadable, ErrCopyFailed,
// ErrDeleteFailed for filesystem operations; lifecycle and configuration
// sentinels for component management. Use these instead of ad hoc
// errors.New calls so callers can branch with errors.Is.
//
// All error types support errors.Is, errors.As, and wrapping chains, and
// classification is preserved through the chain.
package errors
