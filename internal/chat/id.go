// ABOUTME: Server-assigned message identifier that tolerates numeric and string JSON
// ABOUTME: Used for message IDs and status-update references, which may name either key

package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a server-assigned identifier. The backend emits numeric IDs, but
// status updates may reference a message by its client UUID instead, so the
// value is kept as a string. The zero value means "not yet assigned".
type ID string

// IDFromInt converts a numeric server ID.
func IDFromInt(n int64) ID {
	return ID(strconv.FormatInt(n, 10))
}

// IsZero reports whether no identifier has been assigned.
func (id ID) IsZero() bool {
	return id == ""
}

func (id ID) String() string {
	return string(id)
}

// numeric reports whether the ID is a canonical decimal integer and can go
// on the wire as a JSON number. Forms like "007" or "+5" stay strings.
func (id ID) numeric() bool {
	if id == "" {
		return false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

// MarshalJSON writes numeric IDs as numbers, other IDs as strings and the
// zero ID as null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case id.IsZero():
		return []byte("null"), nil
	case id.numeric():
		return []byte(id), nil
	default:
		return json.Marshal(string(id))
	}
}

// UnmarshalJSON accepts a JSON number, a JSON string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*id = ID(n.String())
	return nil
}
