package ingest

import (
	"strconv"
	"strings"
)

const keyDelimiter = ":"

// KeyOrder extracts the order value embedded in a record key of the form
// <namespace>:<symbol>:<timestamp>.
//
// ok is false when the key has no third segment or the segment is not a
// decimal unsigned integer; the returned value is then 0 so the record sorts
// to the earliest position instead of aborting the run.
func KeyOrder(key string) (order uint64, ok bool) {
	parts := strings.Split(key, keyDelimiter)
	if len(parts) < 3 {
		return 0, false
	}
	v, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
