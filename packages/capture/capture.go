package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMissing is returned when a capture path resolves to nothing usable.
var ErrMissing = errors.New("capture missing")

// IdentifierFrom reads an opaque identifier at path from a JSON body.
// Integer literals are passed through digit for digit so ids beyond the
// float64 precision reach the next request unchanged.
func IdentifierFrom(raw []byte, path string) (string, error) {
	result := gjson.GetBytes(raw, path)
	switch result.Type {
	case gjson.String:
		if result.Str == "" {
			return "", fmt.Errorf("%w: %q is empty", ErrMissing, path)
		}
		return result.Str, nil
	case gjson.Number:
		if !strings.ContainsAny(result.Raw, ".eE") {
			return result.Raw, nil
		}
		if result.Num == float64(int64(result.Num)) {
			return strconv.FormatInt(int64(result.Num), 10), nil
		}
		return result.Raw, nil
	case gjson.Null:
		if !result.Exists() {
			return "", fmt.Errorf("%w: %q not present", ErrMissing, path)
		}
		return "", fmt.Errorf("%w: %q is null", ErrMissing, path)
	default:
		return "", fmt.Errorf("%w: %q is not a scalar (%s)", ErrMissing, path, result.Type)
	}
}
