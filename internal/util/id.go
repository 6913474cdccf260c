package util

import (
	"strconv"

	"github.com/google/uuid"
)

// NewID returns prefix_<uuid>, or a bare uuid when prefix is empty.
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Sequence returns a deterministic generator yielding prefix_1, prefix_2, ...
// with one counter shared across prefixes. Used where two implementations must
// generate identical ids.
func Sequence() func(prefix string) string {
	next := 0
	return func(prefix string) string {
		next++
		if prefix == "" {
			return strconv.Itoa(next)
		}
		return prefix + "_" + strconv.Itoa(next)
	}
}
