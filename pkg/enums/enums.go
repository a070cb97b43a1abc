// Package enums holds the string enums mirrored by Postgres enum types.
package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of values equal to raw.
func parse[T ~string](values []T, raw, label string) (T, error) {
	if i := slices.Index(values, T(raw)); i >= 0 {
		return values[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", label, raw)
}
