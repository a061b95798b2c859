// Package utils provides validation helpers for stream channel names.
package utils

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Error definitions for validation functions
var (
	ErrNoStreams      = errors.New("zero streams requested")
	ErrTooManyStreams = errors.New("too many streams requested")
)

// StreamSet contains the channels the account stream accepts in a listen action.
var StreamSet = map[string]bool{
	"trade_updates":   true, // order lifecycle events
	"account_updates": true, // cash balance changes
}

// supportedStreamsCache is a pre-computed list of supported streams for error messages.
var supportedStreamsCache = getSupportedStreams(StreamSet)

// ValidateStream checks that name is a channel the server accepts.
// Channel names are matched exactly; the server does not fold case.
func ValidateStream(name string) error {
	if name == "" {
		return errors.New("stream name cannot be empty")
	}

	if strings.TrimSpace(name) != name {
		return fmt.Errorf("invalid stream name %q: surrounding whitespace", name)
	}

	if !StreamSet[name] {
		return fmt.Errorf("unsupported stream: %s (supported: %s)", name, supportedStreamsCache)
	}

	return nil
}

// ValidateStreams validates a list of channel names and enforces quantity limits.
// Duplicates are rejected since a listen action replaces the whole set.
func ValidateStreams(streams []string, maxAllowed int) error {
	if len(streams) == 0 {
		return ErrNoStreams
	}

	if maxAllowed <= 0 {
		return fmt.Errorf("%w: max allowed must be positive, got %d",
			ErrTooManyStreams, maxAllowed)
	}

	if len(streams) > maxAllowed {
		return fmt.Errorf("%w: requested %d streams, maximum allowed %d",
			ErrTooManyStreams, len(streams), maxAllowed)
	}

	seen := make(map[string]bool, len(streams))
	for i, name := range streams {
		if err := ValidateStream(name); err != nil {
			return fmt.Errorf("invalid stream at index %d (%q): %w", i, name, err)
		}
		if seen[name] {
			return fmt.Errorf("duplicate stream at index %d (%q)", i, name)
		}
		seen[name] = true
	}

	return nil
}

// MergeStreams returns current followed by the names in more that current lacks,
// keeping first-seen order.
func MergeStreams(current, more []string) []string {
	merged := make([]string, 0, len(current)+len(more))
	for _, name := range slices.Concat(current, more) {
		if !slices.Contains(merged, name) {
			merged = append(merged, name)
		}
	}
	return merged
}

// ContainsAll reports whether every name in want appears in got.
func ContainsAll(got, want []string) bool {
	for _, name := range want {
		if !slices.Contains(got, name) {
			return false
		}
	}
	return true
}

// getSupportedStreams builds a sorted comma-separated list of the streams in set.
func getSupportedStreams(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}
