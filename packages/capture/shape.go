package capture

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Shape describes the category and size of a decoded value without printing
// its contents, e.g. "array[3] of object" or "object{id, name}".
func Shape(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("bytes[%d]", len(val))
	case string:
		return fmt.Sprintf("string[%d]", len(val))
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []any:
		if len(val) == 0 {
			return "array[0]"
		}
		return fmt.Sprintf("array[%d] of %s", len(val), kind(val[0]))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 6 {
			return fmt.Sprintf("object{%s, ...} (%d keys)", strings.Join(keys[:6], ", "), len(keys))
		}
		return fmt.Sprintf("object{%s}", strings.Join(keys, ", "))
	default:
		return fmt.Sprintf("%T", v)
	}
}

// RawShape is Shape for an undecoded JSON document.
func RawShape(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return fmt.Sprintf("bytes[%d]", len(raw))
	}
	return Shape(gjson.ParseBytes(raw).Value())
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
