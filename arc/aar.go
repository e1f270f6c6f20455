package arc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arcseal/arcengine/internal/authres"
	"github.com/arcseal/arcengine/internal/header"
	"github.com/arcseal/arcengine/internal/tagvalue"
)

// ARCAuthenticationResults is one ARC-Authentication-Results header: an
// instance number plus the same authserv-id/resinfo content an ordinary
// Authentication-Results header carries (RFC 8617 §4.1.1).
type ARCAuthenticationResults struct {
	InstanceNumber int
	AuthRes        *authres.Header
	raw            string
}

func (aar *ARCAuthenticationResults) Raw() string {
	if aar.raw == "" {
		return aar.String()
	}
	return aar.raw
}

// String renders the header value (no "ARC-Authentication-Results:" field name).
func (aar *ARCAuthenticationResults) String() string {
	return fmt.Sprintf("i=%d; %s", aar.InstanceNumber, aar.AuthRes.String())
}

// ParseARCAuthenticationResults parses a full "ARC-Authentication-Results: ..." field.
func ParseARCAuthenticationResults(s string) (*ARCAuthenticationResults, error) {
	k, v := header.ParseHeaderField(s)
	if !strings.EqualFold(k, "arc-authentication-results") {
		return nil, fmt.Errorf("invalid header field")
	}

	iTag, rest, ok := strings.Cut(v, ";")
	if !ok {
		return nil, fmt.Errorf("arc-authentication-results: missing instance tag")
	}
	parsedI := tagvalue.Parse(iTag)
	if len(parsedI.Pairs) != 1 || parsedI.Pairs[0].Tag != "i" {
		return nil, fmt.Errorf("arc-authentication-results: expected i= as first tag")
	}
	instanceNumber, err := strconv.Atoi(parsedI.Pairs[0].Value)
	if err != nil {
		return nil, fmt.Errorf("arc-authentication-results: invalid instance number: %v", err)
	}

	rest = strings.TrimSpace(rest)
	ar, err := parseAuthResPayload(rest)
	if err != nil {
		return nil, fmt.Errorf("arc-authentication-results: %w", err)
	}

	return &ARCAuthenticationResults{
		InstanceNumber: instanceNumber,
		AuthRes:        ar,
		raw:            s,
	}, nil
}

// parseAuthResPayload accepts either full authserv-id-prefixed content
// ("mx.example.org; spf=pass ...") or bare resinfo with the authserv-id
// omitted ("spf=pass ..."), distinguishing the two by whether the first
// space-delimited token already contains "=" (a resinfo methodspec).
func parseAuthResPayload(s string) (*authres.Header, error) {
	first := s
	if idx := strings.IndexAny(s, " \t"); idx >= 0 {
		first = s[:idx]
	}
	if strings.Contains(first, "=") {
		results, err := authres.ParseResInfo(s)
		if err != nil {
			return nil, err
		}
		return &authres.Header{Version: 1, Results: results}, nil
	}
	return authres.Parse(s)
}

// NewARCAuthenticationResults builds one for sealing, from an already
// parsed Authentication-Results value observed by this instance's adder.
// authServID fills in the authserv-id when ar is nil or carries none.
func NewARCAuthenticationResults(instanceNumber int, authServID string, ar *authres.Header) *ARCAuthenticationResults {
	if ar == nil {
		ar = &authres.Header{AuthServID: authServID, Version: 1}
	} else if ar.AuthServID == "" {
		c := *ar
		c.AuthServID = authServID
		ar = &c
	}
	return &ARCAuthenticationResults{InstanceNumber: instanceNumber, AuthRes: ar}
}
