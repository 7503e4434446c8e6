// Package tileseterr collects the sentinel errors spec.md §7 names,
// grounded on the teacher's package-level errors.New sentinels (e.g.
// feature/governance/laws.ErrUnsupportedLawTemplate) rather than a
// custom error-code type.
package tileseterr

import "errors"

var (
	// ErrUnrecognizedContent is returned when no decoder claims a
	// fetched response by magic, content type, extension, or JSON sniff.
	ErrUnrecognizedContent = errors.New("tileset: no content decoder for response")

	// ErrChildrenAlreadySet is returned by Tile.SetChildren's panic path
	// when called a second time; exported so callers that recover from
	// the panic can compare against it.
	ErrChildrenAlreadySet = errors.New("tileset: tile children already allocated")

	// ErrSubtreeNotResident names an availability lookup attempted before
	// the enclosing subtree has finished loading. No function in this
	// module returns it: AvailabilityConsulter reports that case as a
	// false result instead.
	ErrSubtreeNotResident = errors.New("tileset: subtree not yet resident")

	// ErrCompositeTooShort is returned when a cmpt payload is smaller
	// than its 16-byte header.
	ErrCompositeTooShort = errors.New("tileset: composite tile shorter than header")

	// ErrBadMagic is returned when a payload's magic header doesn't
	// match what the dispatching decoder expected.
	ErrBadMagic = errors.New("tileset: unexpected magic header")

	// ErrMaximumCachedBytesExceededAtStartup names the configuration
	// error of a byte budget too small to hold even a single root tile.
	// NewCacheManager does not check the budget and never returns it.
	ErrMaximumCachedBytesExceededAtStartup = errors.New("tileset: maximum_cached_bytes too small for root tile")
)
