package arc

import (
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arcseal/arcengine/domainkey"
	"github.com/arcseal/arcengine/internal/bodyhash"
	"github.com/arcseal/arcengine/internal/canonical"
	"github.com/arcseal/arcengine/internal/header"
	"github.com/arcseal/arcengine/internal/sigcrypto"
)

// Mode selects which half of the ARC protocol a Message runs: verifying an
// inbound chain, producing the next seal, or both (a relay doing both in
// one pass).
type Mode int

const (
	ModeVerify Mode = 1 << iota
	ModeSign
)

// ChainState is the cv= value a verifier computes for the chain as a whole
// (RFC 8617 §5.2's "chain validation status").
type ChainState string

const (
	ChainStateNone ChainState = "none"
	ChainStatePass ChainState = "pass"
	ChainStateFail ChainState = "fail"
)

type bodyHashKey struct {
	canon canonical.Canonicalization
	hash  sigcrypto.SignatureAlgorithm
}

// Message is a single mail transaction's ARC handle: one HeaderField call
// per header field, then EOH, then zero or more Body calls, then EOM, then
// (in sign mode) GetSeal. Calling these out of order returns ErrOutOfOrder.
type Message struct {
	cfg  *Config
	mode Mode

	// TransactionID correlates this Message's log lines and metrics
	// across a single mail transaction, the way the teacher's handlers
	// tag a request-scoped zap field.
	TransactionID string

	resolver     domainkey.TXTResolver
	fileResolver domainkey.TXTResolver
	metrics      *Metrics
	logger       *zap.Logger

	headers []string
	eohDone bool
	eomDone bool

	sigs           *signatures
	structuralFail bool

	bodyHashes map[bodyHashKey]*bodyhash.BodyHash

	chainState    ChainState
	sigErrors     map[int]ErrorCode
	oldestPass    int
	custody       []string
	cvOverrideSet bool
	cvOverride    ChainValidationResult

	// dnssec records, per instance, whether that instance's domain key
	// lookup carried a DNSSEC-validated answer (spec.md §4.7).
	dnssec map[int]bool
}

// NewMessage starts a fresh ARC transaction. cfg may be nil, in which case
// DefaultConfig is used.
func NewMessage(cfg *Config, mode Mode) (*Message, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Message{
		cfg:           cfg,
		mode:          mode,
		TransactionID: uuid.NewString(),
		oldestPass:    -1,
		sigErrors:     make(map[int]ErrorCode),
		dnssec:        make(map[int]bool),
		logger:        zap.NewNop(),
	}, nil
}

// SetResolver points domain-key lookups at resolver instead of live DNS.
func (m *Message) SetResolver(resolver domainkey.TXTResolver) {
	m.resolver = resolver
}

// SetLogger attaches logger for Debug/Warn diagnostics on recoverable
// conditions (a failed per-instance signature, a DNS lookup error). A nil
// logger is treated as zap.NewNop(), so logging is always optional.
func (m *Message) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m.logger = logger
}

// SetCV lets a driver force the chain verdict from an externally computed
// Authentication-Results fragment (an upstream arc= result it already
// trusts) rather than this engine's own crypto evaluation. Only takes
// effect when cfg.OverrideCV is set; applied during EOM.
func (m *Message) SetCV(cv ChainValidationResult) {
	m.cvOverrideSet = true
	m.cvOverride = cv
}

// HeaderField appends one raw "Name: value" header field. Must be called
// before EOH.
func (m *Message) HeaderField(raw string) error {
	if m.eohDone {
		return newError(ErrorCodeInvalid, ErrOutOfOrder)
	}
	k, _, ok := strings.Cut(raw, ":")
	if !ok {
		return newError(ErrorCodeSyntax, fmt.Errorf("header field missing colon: %q", raw))
	}
	// A header name can't legally contain ';' (it would be indistinguishable
	// from a tag-value pair); drop it rather than fail the whole message.
	if strings.Contains(strings.TrimSpace(k), ";") {
		return nil
	}
	m.headers = append(m.headers, raw)
	return nil
}

// EOH closes header ingestion: it extracts the existing ARC header sets (if
// any) and readies the body canonicalizers those sets, or this instance's
// own signing configuration, will need. A malformed ARC header set
// collapses the chain to a structural failure but does not abort
// ingestion — Body/EOM still run so a verifier can report on the rest of
// the message.
func (m *Message) EOH() error {
	if m.eohDone {
		return newError(ErrorCodeInvalid, ErrOutOfOrder)
	}
	m.eohDone = true

	arcHeaders := header.ExtractHeadersAll(m.headers, []string{"ARC-Authentication-Results", "ARC-Message-Signature", "ARC-Seal"})
	sigs, err := parseARCHeaders(arcHeaders)
	if err != nil {
		m.sigs = &signatures{}
		m.structuralFail = true
	} else {
		m.sigs = sigs
	}

	m.bodyHashes = make(map[bodyHashKey]*bodyhash.BodyHash)
	needed := make(map[bodyHashKey]bool)
	if m.mode&ModeSign != 0 {
		needed[bodyHashKey{canon: canonical.Canonicalization(m.cfg.CanonBody), hash: m.cfg.SignAlg}] = true
	}
	if m.mode&ModeVerify != 0 && !m.structuralFail {
		for _, sig := range *m.sigs {
			if sig.arcMessageSignature == nil {
				continue
			}
			cAndA := sig.arcMessageSignature.GetCanonicalizationAndAlgorithm()
			if cAndA == nil {
				continue
			}
			needed[bodyHashKey{canon: canonical.Canonicalization(cAndA.Body), hash: cAndA.Algorithm}] = true
		}
	}
	if len(needed) == 0 {
		needed[bodyHashKey{canon: canonical.Simple, hash: m.cfg.SignAlg}] = true
	}
	for key := range needed {
		m.bodyHashes[key] = bodyhash.NewBodyHash(key.canon, hashAlgo(key.hash), 0)
	}
	return nil
}

// Body streams one more chunk of the message body into every active body
// canonicalizer/hasher.
func (m *Message) Body(p []byte) (int, error) {
	if !m.eohDone || m.eomDone {
		return 0, newError(ErrorCodeInvalid, ErrOutOfOrder)
	}
	for _, bh := range m.bodyHashes {
		if _, err := bh.Write(p); err != nil {
			return 0, newError(ErrorCodeInternal, err)
		}
	}
	return len(p), nil
}

// EOM closes body ingestion and runs the chain evaluation: in verify mode,
// the six rules below; in sign mode, just enough to know what cv= the next
// seal should carry.
func (m *Message) EOM() error {
	if !m.eohDone || m.eomDone {
		return newError(ErrorCodeInvalid, ErrOutOfOrder)
	}
	m.eomDone = true

	for _, bh := range m.bodyHashes {
		if err := bh.Close(); err != nil {
			return newError(ErrorCodeInternal, err)
		}
	}

	if m.mode&ModeVerify != 0 {
		m.evaluateChain()
	} else {
		m.evaluateExistingForSigning()
	}

	if m.cvOverrideSet && m.cfg.OverrideCV && m.cvOverride == ChainValidationResultFail {
		m.chainState = ChainStateFail
	}

	if m.mode&ModeVerify != 0 {
		m.observeChain()
		m.logger.Debug("arc: chain evaluated",
			zap.String("txn", m.TransactionID), zap.String("chain", string(m.chainState)),
			zap.Int("oldest_pass", m.oldestPass))
	}

	return nil
}

// evaluateChain implements spec.md §4.9's six chain-validation rules.
//
//  1. No ARC sets at all: chain = none, oldest_pass = -1.
//  2. Any instance missing one of its three header fields, or the instance
//     numbers skip or duplicate: chain = fail, structural — no further
//     crypto is attempted. (A chain longer than cfg.MaxInstances is
//     failed by rule 5, after verification.)
//  3. Each set's AMS and AS are verified independently (in ascending
//     instance order); an AMS failure is recorded per-instance but doesn't
//     stop the walk, while any AS failure breaks the seal's integrity
//     boundary from that instance on.
//  4. Each seal's cv= is checked against what the signer at that instance
//     should have computed from its own predecessor view; a mismatch fails
//     the chain even if every individual signature verified.
//  5. chain = pass iff every AS in range verified, no cv mismatch was
//     found, the newest instance's AMS verified, and the set count is
//     within cfg.MaxInstances.
//  6. oldest_pass is the lowest instance number whose AMS re-verified.
func (m *Message) evaluateChain() {
	m.custody = nil
	m.oldestPass = -1

	if m.structuralFail {
		m.chainState = ChainStateFail
		return
	}

	n := m.sigs.getMaxInstance()
	if n == 0 {
		m.chainState = ChainStateNone
		return
	}

	maxInstances := m.cfg.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 10
	}

	// Rule 2: every instance 1..n must be a complete triple, with no gaps.
	for i := 1; i <= n; i++ {
		sig := m.sigs.getInstance(i)
		if sig.arcAuthenticationResults == nil || sig.arcMessageSignature == nil || sig.arcSeal == nil {
			m.chainState = ChainStateFail
			m.sigErrors[i] = ErrorCodeNoSignature
			return
		}
	}

	sealIntact := true  // true while AS[1..i] have all verified so far
	cvConsistent := true
	amsNewestOK := false

	for i := 1; i <= n; i++ {
		sig := m.sigs.getInstance(i)

		// cv= internal consistency: instance 1 must claim "none"; every
		// later instance must claim "pass" if the chain was intact through
		// i-1, or "fail" otherwise. A signer lying about this (or an
		// attacker splicing a seal from elsewhere) breaks the chain even
		// if every signature it carries verifies.
		wantCV := ChainValidationResultNone
		if i > 1 {
			if sealIntact {
				wantCV = ChainValidationResultPass
			} else {
				wantCV = ChainValidationResultFail
			}
		}
		if sig.arcSeal.ChainValidation != wantCV {
			cvConsistent = false
		}

		amsOK := m.verifyAMS(i, sig)
		if amsOK && m.oldestPass < 0 {
			m.oldestPass = i
		}
		if i == n {
			amsNewestOK = amsOK
		}

		if sealIntact {
			asOK := m.verifyAS(i, sig)
			if !asOK {
				sealIntact = false
			}
		}

		m.custody = append(m.custody, sig.arcSeal.Domain)
	}

	if sealIntact && cvConsistent && amsNewestOK && n <= maxInstances {
		m.chainState = ChainStatePass
	} else {
		m.chainState = ChainStateFail
	}
}

// evaluateExistingForSigning derives the cv= this instance's own seal
// should carry from whatever chain already exists on the message, without
// requiring a full verify pass (a pure signer trusts the existing chain's
// own cv= claims rather than re-deriving them, mirroring how a relay that
// only signs — never verifies — behaves).
func (m *Message) evaluateExistingForSigning() {
	n := m.sigs.getMaxInstance()
	if n == 0 || m.structuralFail {
		m.chainState = ChainStateNone
		return
	}
	latest := m.sigs.getInstance(n)
	if latest.arcSeal == nil {
		m.chainState = ChainStateFail
		return
	}
	switch latest.arcSeal.ChainValidation {
	case ChainValidationResultPass, ChainValidationResultNone:
		m.chainState = ChainStatePass
	default:
		m.chainState = ChainStateFail
	}
}

func (m *Message) verifyAMS(i int, sig *Signature) bool {
	ams := sig.arcMessageSignature
	cAndA := ams.GetCanonicalizationAndAlgorithm()
	if cAndA == nil {
		m.sigErrors[i] = ErrorCodeSyntax
		return false
	}
	bh, ok := m.bodyHashes[bodyHashKey{canon: canonical.Canonicalization(cAndA.Body), hash: cAndA.Algorithm}]
	if !ok {
		m.sigErrors[i] = ErrorCodeInternal
		return false
	}
	domainKey, err := m.lookupKey(ams.Selector, ams.Domain)
	if err != nil {
		m.logger.Warn("arc: ams domain key lookup failed",
			zap.String("txn", m.TransactionID), zap.Int("instance", i),
			zap.String("domain", ams.Domain), zap.Error(err))
		m.sigErrors[i] = ErrorCodeKeyFail
		return false
	}
	m.dnssec[i] = domainKey.DNSSEC
	result := ams.Verify(m.headers, bh.Get(), &domainKey)
	if result.Status() != VerifyStatusPass {
		m.logger.Debug("arc: ams verify failed",
			zap.String("txn", m.TransactionID), zap.Int("instance", i),
			zap.String("status", string(result.Status())), zap.String("reason", result.Message()))
		m.sigErrors[i] = ErrorCodeBadSignature
		return false
	}
	return true
}

func (m *Message) verifyAS(i int, sig *Signature) bool {
	as := sig.arcSeal
	domainKey, err := m.lookupKey(as.Selector, as.Domain)
	if err != nil {
		m.logger.Warn("arc: seal domain key lookup failed",
			zap.String("txn", m.TransactionID), zap.Int("instance", i),
			zap.String("domain", as.Domain), zap.Error(err))
		m.sigErrors[i] = ErrorCodeKeyFail
		return false
	}
	result := as.Verify(m.arcHeadersUpTo(i), &domainKey)
	if result.Status() != VerifyStatusPass {
		m.logger.Debug("arc: seal verify failed",
			zap.String("txn", m.TransactionID), zap.Int("instance", i),
			zap.String("status", string(result.Status())), zap.String("reason", result.Message()))
		if _, exists := m.sigErrors[i]; !exists {
			m.sigErrors[i] = ErrorCodeBadSignature
		}
		return false
	}
	return true
}

// resolverOrTestKeys returns the resolver a key lookup should use: an
// explicitly attached resolver first, otherwise a resolver backed by
// cfg.TestKeys (spec.md §4.7's file-backed equivalent for tests) if one
// is configured, otherwise nil (meaning "use live DNS").
func (m *Message) resolverOrTestKeys() domainkey.TXTResolver {
	if m.resolver != nil {
		return m.resolver
	}
	if m.cfg.TestKeys == "" {
		return nil
	}
	if m.fileResolver == nil {
		fr, err := domainkey.NewFileResolver(m.cfg.TestKeys)
		if err != nil {
			m.logger.Warn("arc: test key file unavailable",
				zap.String("path", m.cfg.TestKeys), zap.Error(err))
			return nil
		}
		m.fileResolver = fr
	}
	return m.fileResolver
}

// lookupKey resolves an instance's domain key and enforces cfg.MinKeyBits
// (spec.md §6) on top of sigcrypto's fixed floor, so a deployment can raise
// the bar above the default without touching the shared crypto package.
func (m *Message) lookupKey(selector, domain string) (domainkey.DomainKey, error) {
	var dk domainkey.DomainKey
	var err error
	start := time.Now()
	if resolver := m.resolverOrTestKeys(); resolver != nil {
		dk, err = domainkey.LookupARCDomainKeyWithResolver(selector, domain, resolver)
	} else {
		dk, err = domainkey.LookupARCDomainKey(selector, domain)
	}
	if m.metrics != nil {
		m.metrics.DNSLookupTiming.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return dk, err
	}

	decoded, err := sigcrypto.Base64Decode(dk.PublicKey)
	if err != nil {
		// Malformed p= surfaces again (with a proper VerifyResult) when
		// the signature itself is decoded against it; don't duplicate
		// that error here.
		return dk, nil
	}
	pub, err := domainkey.ParseDKIMPublicKey(decoded, dk.KeyType)
	if err != nil {
		return dk, nil
	}
	if err := sigcrypto.CheckMinKeyBits(pub); err != nil {
		return dk, err
	}
	if m.cfg.MinKeyBits > sigcrypto.MinKeyBitsRSA {
		if rsaPub, ok := pub.(*rsa.PublicKey); ok && rsaPub.N.BitLen() < m.cfg.MinKeyBits {
			return dk, fmt.Errorf("rsa key too small: %d bits (minimum %d)", rsaPub.N.BitLen(), m.cfg.MinKeyBits)
		}
	}
	return dk, nil
}

// arcHeadersUpTo returns the raw AAR/AMS/AS lines for instances 1..i in
// seal order, the input ARCSeal.Verify expects.
func (m *Message) arcHeadersUpTo(i int) []string {
	var out []string
	for j := 1; j <= i; j++ {
		sig := m.sigs.getInstance(j)
		if sig.arcAuthenticationResults != nil {
			out = append(out, sig.arcAuthenticationResults.Raw())
		}
		if sig.arcMessageSignature != nil {
			out = append(out, sig.arcMessageSignature.Raw())
		}
		if sig.arcSeal != nil {
			out = append(out, sig.arcSeal.Raw())
		}
	}
	return out
}

func (m *Message) existingARCHeaders() []string {
	return m.arcHeadersUpTo(m.sigs.getMaxInstance())
}

// ChainStatus returns the evaluated (or to-be-sealed) chain state. Only
// meaningful after EOM.
func (m *Message) ChainStatus() ChainState { return m.chainState }

// ChainStatusStr is ChainStatus rendered the way an arc= result tag wants it.
func (m *Message) ChainStatusStr() string { return string(m.chainState) }

// ChainCustodyStr joins each seal's d= domain, oldest instance first, with
// ":" — the seal-custody trail an Authentication-Results comment can carry.
func (m *Message) ChainCustodyStr() string { return strings.Join(m.custody, ":") }

// ChainOldestPass is the lowest instance number whose ARC-Message-Signature
// re-verified, or -1 if none did.
func (m *Message) ChainOldestPass() int { return m.oldestPass }

// SigError returns the per-instance reason verifyAMS/verifyAS recorded a
// failure for instance i, if any.
func (m *Message) SigError(i int) (ErrorCode, bool) {
	code, ok := m.sigErrors[i]
	return code, ok
}

// KeyDNSSEC reports whether instance i's ARC-Message-Signature domain key
// lookup carried a DNSSEC-validated answer (spec.md §4.7). Only
// meaningful after EOM in verify mode; false for any instance whose
// resolver didn't implement domainkey.DNSSECResolver.
func (m *Message) KeyDNSSEC(i int) bool { return m.dnssec[i] }

// signHeaderNames resolves the ordered list of header names GetSeal should
// place in the next AMS's h= tag: cfg.SignHeaders if configured, otherwise
// every header name actually present (first occurrence order, deduped)
// except Authentication-Results and the three ARC header fields, which
// RFC 8617 forbids in an AMS h=, plus one extra reference per
// cfg.OversignHeaders entry. The duplicate
// entry costs nothing to verify against the one physical header it already
// covers, but stops an attacker from adding a second one undetected (RFC
// 6376 §3.5's oversigning technique, applied the same way to ARC).
func (m *Message) signHeaderNames() []string {
	base := append([]string{}, m.cfg.SignHeaders...)
	if len(base) == 0 {
		seen := make(map[string]bool)
		for _, h := range m.headers {
			k, _, ok := strings.Cut(h, ":")
			if !ok {
				continue
			}
			name := strings.TrimSpace(k)
			lname := strings.ToLower(name)
			if seen[lname] {
				continue
			}
			switch lname {
			case "authentication-results", "arc-authentication-results", "arc-message-signature", "arc-seal":
				continue
			}
			seen[lname] = true
			base = append(base, name)
		}
	}
	names := append([]string{}, base...)
	names = append(names, m.cfg.OversignHeaders...)
	return names
}
