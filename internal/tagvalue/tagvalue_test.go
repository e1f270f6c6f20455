package tagvalue

import "testing"

func TestParseBasic(t *testing.T) {
	l := Parse("v=1; a=rsa-sha256; d=example.com")
	if l.Bad() {
		t.Fatalf("unexpected bad")
	}
	if v, ok := l.Get("a"); !ok || v != "rsa-sha256" {
		t.Fatalf("a = %q, %v", v, ok)
	}
	if len(l.Pairs) != 3 {
		t.Fatalf("len(Pairs) = %d, want 3", len(l.Pairs))
	}
}

func TestParseFoldedValue(t *testing.T) {
	l := Parse("b=abcd\r\n efgh\r\n ij==")
	v, ok := l.Get("b")
	if !ok {
		t.Fatalf("b not found")
	}
	if v != "abcdefghij==" {
		t.Fatalf("b = %q", v)
	}
}

func TestParseDuplicateMarksBad(t *testing.T) {
	l := Parse("a=1; a=2")
	if !l.Bad() {
		t.Fatalf("expected Bad() for duplicate tag")
	}
	// first occurrence wins
	if v, _ := l.Get("a"); v != "1" {
		t.Fatalf("a = %q, want first occurrence", v)
	}
	if len(l.Pairs) != 2 {
		t.Fatalf("len(Pairs) = %d, want 2 (both occurrences kept in order)", len(l.Pairs))
	}
}

func TestParseSkipsMalformedEntries(t *testing.T) {
	l := Parse("a=1; ; noequals ;b=2")
	if _, ok := l.Get("noequals"); ok {
		t.Fatalf("malformed entry should not appear")
	}
	if v, ok := l.Get("b"); !ok || v != "2" {
		t.Fatalf("b = %q, %v", v, ok)
	}
}
