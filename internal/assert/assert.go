// Package assert panics when an internal invariant is broken.
// Never use it on user input.
package assert

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

func Length(value string, expected int) {
	if len(value) != expected {
		msg := fmt.Sprintf("assert.Length expected %d actual %d", expected, len(value))
		panic(msg)
	}
}

// ULID panics unless id is a canonical ULID string
func ULID(id string) {
	Length(id, ulid.EncodedSize)
	if _, err := ulid.ParseStrict(id); err != nil {
		panic(fmt.Sprintf("assert.ULID %q: %v", id, err))
	}
}
