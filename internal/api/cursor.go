package api

import (
	"encoding/base64"
	"fmt"
	"strconv"
)

// Feed pagination uses an opaque cursor: base64 of the numeric offset
// into the current snapshot. Clients treat it as a token; a null
// next_cursor means no further pages.

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor")
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("malformed cursor")
	}
	return offset, nil
}
