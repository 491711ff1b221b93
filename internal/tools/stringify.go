package tools

import (
	"encoding/json"
	"fmt"
)

// Stringify renders a tool's return value as message content. Strings
// pass through, Stringers and errors use their text, scalars use fmt,
// and everything else is JSON (maps get sorted keys).
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case json.RawMessage:
		return string(x)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
