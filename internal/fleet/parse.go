package fleet

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/fleet-tracking/internal/models"
)

var ErrMalformedSnapshot = errors.New("malformed snapshot entry")

// ParseUnit validates one child of /units. Entries that are not objects,
// carry wrongly typed fields, half a coordinate or coordinates out of range
// are rejected.
func ParseUnit(key string, raw json.RawMessage) (models.LiveUnit, error) {
	var lu models.LiveUnit
	if key == "" {
		return lu, fmt.Errorf("%w: empty key", ErrMalformedSnapshot)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return lu, fmt.Errorf("%w: %s is not an object", ErrMalformedSnapshot, key)
	}
	if err := json.Unmarshal(raw, &lu); err != nil {
		return lu, fmt.Errorf("%w: %s: %w", ErrMalformedSnapshot, key, err)
	}
	if (lu.Lat == nil) != (lu.Lng == nil) {
		return lu, fmt.Errorf("%w: %s has only one coordinate", ErrMalformedSnapshot, key)
	}
	if lu.Lat != nil && (*lu.Lat < -90 || *lu.Lat > 90 || *lu.Lng < -180 || *lu.Lng > 180) {
		return lu, fmt.Errorf("%w: %s coordinates out of range", ErrMalformedSnapshot, key)
	}
	return lu, nil
}
