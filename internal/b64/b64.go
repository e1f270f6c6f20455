// Package b64 implements the no-newline base64 codec used for DKIM/ARC
// b= and bh= tag values and for domain key p= records.
package b64

import (
	"encoding/base64"
	"errors"
)

// ErrMalformed is returned when the input is not valid base64 (bad
// alphabet, wrong padding).
var ErrMalformed = errors.New("b64: malformed input")

// ErrShortBuffer is returned when a caller-supplied output buffer is too
// small to hold the decoded result.
var ErrShortBuffer = errors.New("b64: output buffer too small")

// Encode returns s encoded with the standard (no-newline) alphabet.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode decodes s, rejecting input whose length is not a multiple of 4.
// Whitespace is not stripped first.
func Decode(s string) ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, ErrMalformed
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrMalformed
	}
	return out, nil
}

// DecodeInto decodes s into dst, returning the number of bytes written.
// It reports ErrShortBuffer distinctly from ErrMalformed so callers can
// tell "my buffer was too small" from "the input was bad".
func DecodeInto(dst []byte, s string) (int, error) {
	if len(s)%4 != 0 {
		return 0, ErrMalformed
	}
	need := base64.StdEncoding.DecodedLen(len(s))
	if need > len(dst) {
		return 0, ErrShortBuffer
	}
	n, err := base64.StdEncoding.Decode(dst, []byte(s))
	if err != nil {
		return 0, ErrMalformed
	}
	return n, nil
}
