package danmaku

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseRoomID parses a decimal room id. Anything that is not a positive
// integer, including "NaN" and fractional values, is rejected.
func ParseRoomID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoomID, s)
	}
	if err := validateRoomID(id); err != nil {
		return 0, err
	}
	return id, nil
}

func validateRoomID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRoomID, id)
	}
	return nil
}
