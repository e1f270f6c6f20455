// Package mailbox extracts (local-part, domain) pairs from RFC 5322 address
// header values (From:, Sender:, Resent-From:), tolerating the quoted
// display names and angle-bracket addr-specs that plain string splitting on
// "@" gets wrong. Split out of the teacher's internal/header package, which
// had this logic folded into its own ParseAddress/ParseAddressDomain.
package mailbox

import (
	"errors"
	"strings"
)

// ErrInvalidEmailFormat is returned when a header value carries no
// extractable addr-spec.
var ErrInvalidEmailFormat = errors.New("invalid email address format")

// ParseAddress returns the addr-spec (local-part@domain) from a single
// address header value, preferring the angle-bracket form ("Real Name
// <addr@domain>") over a bare addr-spec.
func ParseAddress(s string) string {
	var address string
	var quoted bool
	var inAngle bool
	var start, end int

	for i, r := range s {
		switch {
		case r == '"' && !inAngle:
			quoted = !quoted
		case r == '<' && !quoted:
			inAngle = true
			start = i
		case r == '>' && !quoted:
			inAngle = false
			end = i
		}
	}

	if start < end {
		address = s[start+1 : end]
	} else {
		address = s
	}

	return strings.TrimSpace(address)
}

// ParseAddressDomain returns just the domain half of ParseAddress's result.
func ParseAddressDomain(s string) (string, error) {
	addr := ParseAddress(s)
	if addr == "" {
		return "", ErrInvalidEmailFormat
	}

	parts := strings.SplitN(addr, "@", -1)
	if len(parts) < 2 {
		return "", ErrInvalidEmailFormat
	}

	return parts[len(parts)-1], nil
}

// Address is one parsed addr-spec split into its two halves.
type Address struct {
	LocalPart string
	Domain    string
}

// ParseAddressList splits a comma-separated address header value (e.g. To:,
// Cc:) into its addr-specs, respecting quoted display names and
// parenthesized comments so a comma inside either doesn't split the list,
// then splits each into (local-part, domain).
func ParseAddressList(s string) ([]Address, error) {
	var addrs []Address
	for _, field := range splitAddressList(s) {
		addr := ParseAddress(field)
		if addr == "" {
			continue
		}
		local, domain, ok := strings.Cut(addr, "@")
		if !ok {
			continue
		}
		addrs = append(addrs, Address{LocalPart: local, Domain: domain})
	}
	return addrs, nil
}

// splitAddressList splits on top-level commas only, i.e. not commas that
// appear inside a quoted string or a "(...)" comment.
func splitAddressList(s string) []string {
	var fields []string
	var cur strings.Builder
	quoted := false
	depth := 0
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case quoted:
			cur.WriteRune(r)
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			if depth > 0 {
				depth--
			}
			cur.WriteRune(r)
		case r == ',' && depth == 0:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
