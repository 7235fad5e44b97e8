package protocol

import "fmt"

// ParseError indicates malformed Guacamole instruction grammar: a bad
// length prefix, a separator that is neither ',' nor ';', or a length that
// exceeds the sanity bound enforced by the parser.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("guacamole protocol: %s", e.Message)
}

func newParseError(format string, args ...any) error {
	return &ParseError{Message: fmt.Sprintf(format, args...)}
}
