package protocol

import (
	"strconv"
	"unicode/utf8"
)

// maxElementLength is the sanity bound on a single element's declared
// LENGTH. No real Guacamole instruction argument approaches this size; a
// LENGTH beyond it almost certainly means the stream is corrupt or we have
// lost synchronization with the sender, so the parser rejects it outright
// rather than attempting to buffer an unbounded amount of data.
const maxElementLength = 1 << 24 // 16 MiB of code points

// ElementSize returns the number of code points an element with the given
// decoded value occupies on the wire, including its length prefix, the
// '.' separator, and the trailing ',' or ';' delimiter: for a value of
// code-point length L, that is digits(L) + 1 + L + 1.
func ElementSize(value string) int {
	l := utf8.RuneCountInString(value)
	return len(strconv.Itoa(l)) + 1 + l + 1
}
