package buffer

import "testing"

func TestAppendWithinMax(t *testing.T) {
	b := New(0, 8, nil)
	if !b.Append([]byte("abcd")) {
		t.Fatalf("expected append to succeed")
	}
	if b.Len() != 4 {
		t.Fatalf("len = %d, want 4", b.Len())
	}
}

func TestAppendOverflowCallsErrorFunc(t *testing.T) {
	var msg string
	b := New(0, 4, func(m string) { msg = m })
	if b.Append([]byte("abcde")) {
		t.Fatalf("expected append to fail")
	}
	if msg == "" {
		t.Fatalf("expected error callback to fire")
	}
	if b.Len() != 0 {
		t.Fatalf("failed append must not mutate buffer, len = %d", b.Len())
	}
}

func TestUnboundedMax(t *testing.T) {
	b := New(0, 0, nil)
	for i := 0; i < 1000; i++ {
		if !b.AppendByte('x') {
			t.Fatalf("unbounded buffer should never overflow")
		}
	}
	if b.Len() != 1000 {
		t.Fatalf("len = %d, want 1000", b.Len())
	}
}

func TestBlankKeepsCapacity(t *testing.T) {
	b := New(16, 0, nil)
	b.Append([]byte("hello"))
	b.Blank()
	if b.Len() != 0 {
		t.Fatalf("len after Blank = %d, want 0", b.Len())
	}
	if !b.Append([]byte("world")) {
		t.Fatalf("append after Blank should succeed")
	}
}

func TestStripChars(t *testing.T) {
	b := New(0, 0, nil)
	b.Append([]byte("a b\tc\r\nd"))
	b.StripChars(" \t\r\n")
	if string(b.Bytes()) != "abcd" {
		t.Fatalf("got %q, want %q", b.Bytes(), "abcd")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	b := New(0, 0, nil)
	b.Append([]byte("hello"))
	c := b.Copy()
	b.Append([]byte(" world"))
	if string(c) != "hello" {
		t.Fatalf("copy was mutated: %q", c)
	}
}
