package b64

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []byte("hello, arc")
	enc := Encode(in)
	out, err := Decode(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("got %q, want %q", out, in)
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	_, err := Decode("abcde")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeRejectsBadAlphabet(t *testing.T) {
	_, err := Decode("!!!!")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeIntoShortBuffer(t *testing.T) {
	enc := Encode([]byte("0123456789"))
	buf := make([]byte, 2)
	_, err := DecodeInto(buf, enc)
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("err = %v, want ErrShortBuffer", err)
	}
}
