// Package sgerrors defines the sentinel error classes shared across the
// storage engine, mirroring the recovery-class taxonomy from spec.md §7.
//
// Callers classify errors with [errors.Is]:
//
//	if errors.Is(err, sgerrors.ErrOutOfSpace) {
//	    // operation was aborted, no partial index update
//	}
package sgerrors

import "errors"

var (
	// ErrConfig indicates a missing or malformed configuration file.
	//
	// Fatal at init.
	ErrConfig = errors.New("sgerrors: config error")

	// ErrIO indicates a sector file could not be read or written, or a
	// short read/write occurred.
	//
	// Surfaced; fatal within the operation that triggered it.
	ErrIO = errors.New("sgerrors: io error")

	// ErrOutOfBounds indicates a bitmap or block index outside the valid
	// range.
	//
	// Programmer error; always returned, never panics.
	ErrOutOfBounds = errors.New("sgerrors: out of bounds")

	// ErrOutOfSpace indicates no free block was available.
	//
	// Surfaced to the caller; the operation is aborted with no partial
	// index update.
	ErrOutOfSpace = errors.New("sgerrors: out of space")

	// ErrInvalidPage indicates a page header is inconsistent with its
	// relation's schema (for example record_size mismatch).
	//
	// Logged; the page is skipped within a scan.
	ErrInvalidPage = errors.New("sgerrors: invalid page")

	// ErrSchemaMismatch indicates a record's size or field count does not
	// match the relation.
	//
	// Surfaced; no write performed.
	ErrSchemaMismatch = errors.New("sgerrors: schema mismatch")

	// ErrNotFound indicates an unknown relation or field.
	//
	// Logged; the operation is a no-op.
	ErrNotFound = errors.New("sgerrors: not found")

	// ErrInvalidArgument indicates an unrecognized replacement policy, a
	// negative frame count, or unpinning an already-unpinned block.
	//
	// Fatal for the calling operation; the engine continues running.
	ErrInvalidArgument = errors.New("sgerrors: invalid argument")

	// ErrHashCorrupt indicates a hash index header or bucket failed its
	// CRC32-C check on load.
	//
	// The index is treated as unusable; lookups fall back to full scan.
	ErrHashCorrupt = errors.New("sgerrors: hash index corrupt")

	// ErrHashDegenerate indicates a bucket split could not make progress
	// because every key in the bucket hashes identically even at full
	// key-width depth.
	//
	// Surfaced; the triggering insert is aborted.
	ErrHashDegenerate = errors.New("sgerrors: hash index degenerate split")
)
