package authres

import "testing"

func TestParseBasic(t *testing.T) {
	h, err := Parse(`example.com; spf=pass smtp.mailfrom=example.org; dkim=pass header.d=example.org`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if h.AuthServID != "example.com" {
		t.Fatalf("authServID = %q", h.AuthServID)
	}
	if len(h.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(h.Results))
	}
	if h.Results[0].Method != "spf" || h.Results[0].Result != "pass" {
		t.Fatalf("Results[0] = %+v", h.Results[0])
	}
	if v, ok := h.Results[0].Get("smtp", "mailfrom"); !ok || v != "example.org" {
		t.Fatalf("smtp.mailfrom = %q, %v", v, ok)
	}
	if v, ok := h.Results[1].Get("header", "d"); !ok || v != "example.org" {
		t.Fatalf("header.d = %q, %v", v, ok)
	}
}

func TestParseNone(t *testing.T) {
	h, err := Parse(`example.com; none`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(h.Results) != 0 {
		t.Fatalf("len(Results) = %d, want 0", len(h.Results))
	}
}

func TestParseWithReason(t *testing.T) {
	h, err := Parse(`example.com; dkim=fail reason="signature expired" header.d=example.org`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := h.Results[0]
	if r.Reason != "signature expired" {
		t.Fatalf("reason = %q", r.Reason)
	}
	if v, _ := r.Get("header", "d"); v != "example.org" {
		t.Fatalf("header.d = %q", v)
	}
}
