package recording

import (
	"fmt"
	"strconv"
)

// IndexError reports a malformed or unexpected element encountered while
// building a frame index, distinct from a protocol.ParseError so callers can
// tell a grammar violation (bad element framing) apart from a semantic one
// (e.g. a sync instruction with the wrong argument count).
type IndexError struct {
	Message string
}

func (e *IndexError) Error() string {
	return e.Message
}

func newIndexError(format string, args ...any) error {
	return &IndexError{Message: fmt.Sprintf(format, args...)}
}

func parseInt64(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, newIndexError("invalid integer %q: %v", s, err)
	}
	return v, nil
}
