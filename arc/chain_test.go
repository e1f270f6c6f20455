package arc

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/arcseal/arcengine/domainkey"
)

// chainTestResolver is an in-memory domainkey.TXTResolver keyed on the
// exact "selector._domainkey.domain" query name, the same shape
// domainkey.FileResolver's flat-file format models (spec.md §4.7).
type chainTestResolver map[string][]string

func (r chainTestResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	recs, ok := r[strings.ToLower(name)]
	if !ok {
		return nil, domainkey.ErrNoRecordFound
	}
	return recs, nil
}

func (r chainTestResolver) addRSAKey(selector, domain string) {
	query := fmt.Sprintf("%s._domainkey.%s", selector, domain)
	record := fmt.Sprintf("v=DKIM1; k=rsa; p=%s", testKeys.RSAPublicKeyBase64)
	r[strings.ToLower(query)] = append(r[strings.ToLower(query)], record)
}

var testBaseHeaders = []string{
	"From: alice@example.com\r\n",
	"To: bob@example.org\r\n",
	"Subject: chain test\r\n",
}

var testBody = []byte("This is the test message body.\r\n")

func feedMessage(t *testing.T, m *Message, headers []string, body []byte) {
	t.Helper()
	for _, h := range headers {
		if err := m.HeaderField(h); err != nil {
			t.Fatalf("HeaderField(%q): %v", h, err)
		}
	}
	if err := m.EOH(); err != nil {
		t.Fatalf("EOH: %v", err)
	}
	if _, err := m.Body(body); err != nil {
		t.Fatalf("Body: %v", err)
	}
	if err := m.EOM(); err != nil {
		t.Fatalf("EOM: %v", err)
	}
}

type sealStep struct {
	authServID string
	selector   string
	domain     string
	arText     string
}

// signChain signs one instance per step, each relay seeing every prior
// instance's triple the way a real relay chain would, and returns every
// instance's three raw header lines in construction order.
func signChain(t *testing.T, cfg *Config, headers []string, body []byte, steps []sealStep) []string {
	t.Helper()
	var arcHeaders []string
	for _, step := range steps {
		m, err := NewMessage(cfg, ModeSign)
		if err != nil {
			t.Fatalf("NewMessage: %v", err)
		}
		feedMessage(t, m, append(append([]string{}, headers...), arcHeaders...), body)
		triple, err := m.GetSeal(step.authServID, step.selector, step.domain, testKeys.RSAPrivateKey, step.arText)
		if err != nil {
			t.Fatalf("GetSeal: %v", err)
		}
		arcHeaders = append(arcHeaders, triple...)
	}
	return arcHeaders
}

// Scenario: Sign-one. A single relay seals a message with no prior ARC set.
func TestChainSignOne(t *testing.T) {
	cfg := DefaultConfig()
	m, err := NewMessage(cfg, ModeSign)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	feedMessage(t, m, testBaseHeaders, testBody)

	seal, err := m.GetSeal("mx.example.org", "selector1", "example.com", testKeys.RSAPrivateKey,
		"mx.example.org; spf=pass smtp.mailfrom=alice@example.com")
	if err != nil {
		t.Fatalf("GetSeal: %v", err)
	}
	if len(seal) != 3 {
		t.Fatalf("GetSeal returned %d headers, want 3", len(seal))
	}
	if !strings.Contains(seal[0], "ARC-Authentication-Results:") || !strings.Contains(seal[0], "i=1") {
		t.Errorf("seal[0] = %q, want an i=1 ARC-Authentication-Results", seal[0])
	}
	if !strings.Contains(seal[1], "ARC-Message-Signature:") {
		t.Errorf("seal[1] = %q, want an ARC-Message-Signature", seal[1])
	}
	if !strings.Contains(seal[2], "ARC-Seal:") || !strings.Contains(seal[2], "cv=none") {
		t.Errorf("seal[2] = %q, want cv=none for the first instance", seal[2])
	}
}

// Scenario: Verify-pass-chain-of-2. Two relays seal in sequence; a
// downstream verifier re-derives chain=pass and oldest_pass=1.
func TestChainVerifyPassChainOfTwo(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
		{authServID: "mx2.example.org", selector: "s2", domain: "relay.example.org",
			arText: "mx2.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")
	resolver.addRSAKey("s2", "relay.example.org")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), arcHeaders...), testBody)

	if m.ChainStatus() != ChainStatePass {
		t.Fatalf("ChainStatus() = %v, want pass (sig errors: 1=%v 2=%v)", m.ChainStatus(), errOf(m, 1), errOf(m, 2))
	}
	if got := m.ChainOldestPass(); got != 1 {
		t.Errorf("ChainOldestPass() = %d, want 1", got)
	}
	if custody := m.ChainCustodyStr(); custody != "example.com:relay.example.org" {
		t.Errorf("ChainCustodyStr() = %q, want %q", custody, "example.com:relay.example.org")
	}
}

func errOf(m *Message, i int) ErrorCode {
	code, _ := m.SigError(i)
	return code
}

// Scenario: Break-body. The body is altered after sealing; the newest
// instance's body hash no longer matches, so its AMS can't verify and the
// chain can't reach pass even though the seal itself is untouched.
func TestChainVerifyBreakBody(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	tamperedBody := []byte("This body was altered after sealing.\r\n")
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), arcHeaders...), tamperedBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail", m.ChainStatus())
	}
	if code, _ := m.SigError(1); code != ErrorCodeBadSignature {
		t.Errorf("SigError(1) = %v, want %v", code, ErrorCodeBadSignature)
	}
}

// Scenario: Missing-AS. One instance's triple is incomplete (its ARC-Seal
// was stripped), a structural failure per spec.md §4.9 rule 2.
func TestChainVerifyMissingAS(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})
	// Drop the ARC-Seal (index 2): AAR, AMS, AS in construction order.
	incomplete := arcHeaders[:2]

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), incomplete...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail", m.ChainStatus())
	}
	if code, _ := m.SigError(1); code != ErrorCodeNoSignature {
		t.Errorf("SigError(1) = %v, want %v", code, ErrorCodeNoSignature)
	}
}

// Scenario: Wrong-cv. The second instance's ARC-Seal is altered to claim a
// cv= different from what it actually signed, invalidating that seal's own
// signature (cv= is part of what ARC-Seal signs) and failing the chain.
func TestChainVerifyWrongCV(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
		{authServID: "mx2.example.org", selector: "s2", domain: "relay.example.org",
			arText: "mx2.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	// arcHeaders holds two triples of three lines each; index 5 is the
	// second instance's ARC-Seal.
	tampered := append([]string{}, arcHeaders...)
	if !strings.Contains(tampered[5], "cv=pass") {
		t.Fatalf("expected instance 2's seal to claim cv=pass, got %q", tampered[5])
	}
	tampered[5] = strings.Replace(tampered[5], "cv=pass", "cv=fail", 1)

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")
	resolver.addRSAKey("s2", "relay.example.org")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), tampered...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail", m.ChainStatus())
	}
}

// Scenario: AR-override. A driver supplies an externally computed arc=
// verdict via SetCV with cfg.OverrideCV set; that verdict forces the chain
// to fail even though this engine's own crypto evaluation would pass.
func TestChainVerifyAROverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OverrideCV = true
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	m.SetCV(ChainValidationResultFail)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), arcHeaders...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail (forced by SetCV+OverrideCV)", m.ChainStatus())
	}
}

// An upstream seal break (instance 1's ARC-Seal no longer verifies)
// propagates forward even though instance 2, sealed by a sign-only relay
// that trusted the existing cv=, claims cv=pass — the chain can never
// recover seal integrity once broken.
func TestChainVerifyUpstreamBreakPropagates(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})
	// Tamper instance 1's ARC-Authentication-Results after it was sealed:
	// ARC-Seal(1) covers AAR(1), so this invalidates AS(1) without
	// touching AS(1) itself.
	tampered := append([]string{}, arcHeaders...)
	tampered[0] = strings.Replace(tampered[0], "spf=pass", "spf=fail", 1)

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")
	m1, err := NewMessage(cfg, ModeSign)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	feedMessage(t, m1, append(append([]string{}, testBaseHeaders...), tampered...), testBody)
	second, err := m1.GetSeal("mx2.example.org", "s2", "relay.example.org", testKeys.RSAPrivateKey,
		"mx2.example.org; spf=pass smtp.mailfrom=alice@example.com")
	if err != nil {
		t.Fatalf("GetSeal: %v", err)
	}
	full := append(append([]string{}, tampered...), second...)
	resolver.addRSAKey("s2", "relay.example.org")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), full...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail", m.ChainStatus())
	}
}

// Boundary: a verifier configured with a stricter cfg.MaxInstances than
// the chain's actual length fails the chain (rule 5), independent of the
// signer's own cfg.MaxInstances at sealing time.
func TestChainVerifyMaxInstancesBoundary(t *testing.T) {
	signCfg := DefaultConfig()
	arcHeaders := signChain(t, signCfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
		{authServID: "mx2.example.org", selector: "s2", domain: "relay.example.org",
			arText: "mx2.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")
	resolver.addRSAKey("s2", "relay.example.org")

	verifyCfg := DefaultConfig()
	verifyCfg.MaxInstances = 1
	m, err := NewMessage(verifyCfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), arcHeaders...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail (chain of 2 exceeds MaxInstances=1)", m.ChainStatus())
	}
}

// Boundary: GetSeal itself refuses to mint an instance beyond
// cfg.MaxInstances ("max+1 instances").
func TestChainGetSealMaxInstancesBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxInstances = 1
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})

	m, err := NewMessage(cfg, ModeSign)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), arcHeaders...), testBody)

	_, err = m.GetSeal("mx2.example.org", "s2", "relay.example.org", testKeys.RSAPrivateKey,
		"mx2.example.org; spf=pass smtp.mailfrom=alice@example.com")
	if err == nil {
		t.Fatalf("GetSeal succeeded past cfg.MaxInstances, want an error")
	}
	arcErr, ok := err.(*Error)
	if !ok || arcErr.Code != ErrorCodeNoResource {
		t.Errorf("GetSeal error = %v, want ErrorCodeNoResource", err)
	}
}

// Duplicate instance numbers across ARC-Seal headers are a structural
// violation (spec.md §4.9 rule 2), not a silent overwrite.
func TestChainVerifyDuplicateInstanceNumber(t *testing.T) {
	cfg := DefaultConfig()
	arcHeaders := signChain(t, cfg, testBaseHeaders, testBody, []sealStep{
		{authServID: "mx1.example.org", selector: "s1", domain: "example.com",
			arText: "mx1.example.org; spf=pass smtp.mailfrom=alice@example.com"},
	})
	// Append a second, different ARC-Seal also claiming i=1.
	duplicateSeal := "ARC-Seal: i=1; a=rsa-sha256; t=1; cv=none; d=evil.example; s=x; b=forged\r\n"
	headers := append(append([]string{}, arcHeaders...), duplicateSeal)

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")

	m, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	m.SetResolver(resolver)
	feedMessage(t, m, append(append([]string{}, testBaseHeaders...), headers...), testBody)

	if m.ChainStatus() != ChainStateFail {
		t.Fatalf("ChainStatus() = %v, want fail (duplicate i=1 ARC-Seal)", m.ChainStatus())
	}
}

// h= header selection must consume the bottom-most unused instance of a
// repeated header name (spec.md §4.6), not the first: editing an earlier
// "Received" line must not invalidate a signature that actually covered a
// later, untouched one.
func TestChainSignAndVerifyWithDuplicateHeaderName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SignHeaders = []string{"from", "to", "subject", "received"}

	headers := []string{
		"Received: from mx0.example.net by mx1.example.org; (original hop)\r\n",
		"From: alice@example.com\r\n",
		"To: bob@example.org\r\n",
		"Subject: chain test\r\n",
		"Received: from mx1.example.org by mx2.example.org; (second hop)\r\n",
	}

	m, err := NewMessage(cfg, ModeSign)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	feedMessage(t, m, headers, testBody)
	seal, err := m.GetSeal("mx2.example.org", "s1", "example.com", testKeys.RSAPrivateKey,
		"mx2.example.org; spf=pass smtp.mailfrom=alice@example.com")
	if err != nil {
		t.Fatalf("GetSeal: %v", err)
	}

	// h= lists "received" once, so only the bottom-most (second) Received
	// line was actually signed. Mutate the earlier, unselected one after
	// sealing; the signature must still verify — a first-match selector
	// would instead have picked (and signed) this one, and this edit
	// would break it.
	tamperedHeaders := append([]string{}, headers...)
	tamperedHeaders[0] = "Received: from forged.example by mx1.example.org; (tampered)\r\n"

	resolver := make(chainTestResolver)
	resolver.addRSAKey("s1", "example.com")

	verify, err := NewMessage(cfg, ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	verify.SetResolver(resolver)
	feedMessage(t, verify, append(append([]string{}, tamperedHeaders...), seal...), testBody)

	if verify.ChainStatus() != ChainStatePass {
		t.Fatalf("ChainStatus() = %v, want pass (tampered Received line was not the one consumed by h=)", verify.ChainStatus())
	}
}
