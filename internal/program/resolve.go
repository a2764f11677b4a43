// Package program turns a line item's item class into the program text the
// robot runs: resolve the class to a program file, load it, and make sure
// it announces and invokes itself.
package program

import (
	"fmt"
	"strings"

	"sorter/internal/apperr"
)

var byItemClass = map[string]string{
	"blaa":  "blaa_26.script",
	"blue":  "blaa_26.script",
	"groen": "groen_26.script",
	"green": "groen_26.script",
	"roed":  "roed_26.script",
	"red":   "roed_26.script",
}

// Resolve maps an item class (trimmed, case-insensitive) to a program id.
// Unknown classes are an error, never a default program.
func Resolve(itemClass string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(itemClass))
	if id, ok := byItemClass[key]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: unknown item class %q", apperr.ErrInvalidArgument, itemClass)
}
