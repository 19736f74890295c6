// Package resolve derives canonical identities from the loosely formatted
// identifier fields found in upstream batch records.
package resolve

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyFormatError indicates a record identifier that cannot be resolved into a
// canonical key. Records carrying one are skippable, not fatal.
type KeyFormatError struct {
	Field string
	Value string
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("resolve: %s %q has no leading layer index", e.Field, e.Value)
}

// LayerIndex extracts the layer number from a raw source identifier.
// Accepts either a bare integer ("20") or a hyphen-delimited composite
// ("20-autointerp-sae"), returning the leading integer.
func LayerIndex(raw string) (int, error) {
	head := raw
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		head = raw[:i]
	}

	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || n < 0 {
		return 0, &KeyFormatError{Field: "layer", Value: raw}
	}
	return n, nil
}

// CanonicalModelID normalizes a raw model identifier into the slug the store
// keys on: lowercase, with path and underscore separators collapsed to
// hyphens. The mapping is not reversible; the original id survives only in
// upstream provenance.
func CanonicalModelID(raw string) string {
	s := strings.ReplaceAll(raw, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")
	return strings.ToLower(s)
}

// SourceID builds the composite source identifier for a layer within a set,
// e.g. (20, "autointerp-sae") -> "20-autointerp-sae".
func SourceID(layer int, setName string) string {
	return fmt.Sprintf("%d-%s", layer, setName)
}
