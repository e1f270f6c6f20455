package arc

import (
	"crypto"
	"fmt"
	"strings"
	"time"

	"github.com/arcseal/arcengine/internal/canonical"
	"github.com/arcseal/arcengine/internal/header"
)

// GetSeal produces the next instance's three ARC header fields
// (ARC-Authentication-Results, ARC-Message-Signature, ARC-Seal) in
// construction order. The driver inserts the returned slice reversed at
// the top of the header block, so the message reads newest-instance
// ARC-Seal first and its ARC-Authentication-Results last.
//
// arText is the Authentication-Results value this instance is sealing
// (typically produced by a local authentication milter just before this
// call); authServID/selector/domain/key describe this instance's own
// signing identity.
func (m *Message) GetSeal(authServID, selector, domain string, key crypto.Signer, arText string) ([]string, error) {
	if !m.eomDone {
		return nil, newError(ErrorCodeInvalid, ErrOutOfOrder)
	}

	n := m.sigs.getMaxInstance() + 1
	maxInstances := m.cfg.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 10
	}
	if n > maxInstances {
		return nil, newError(ErrorCodeNoResource, fmt.Errorf("chain already holds %d instances, cfg.MaxInstances is %d", n-1, maxInstances))
	}

	ar, err := parseAuthResPayload(strings.TrimSpace(arText))
	if err != nil {
		return nil, newError(ErrorCodeSyntax, err)
	}
	aar := NewARCAuthenticationResults(n, authServID, ar)
	aarRaw := "ARC-Authentication-Results: " + aar.String() + "\r\n"

	bodyCanon := canonical.Canonicalization(m.cfg.CanonBody)
	bh, ok := m.bodyHashes[bodyHashKey{canon: bodyCanon, hash: m.cfg.SignAlg}]
	if !ok {
		return nil, newError(ErrorCodeInternal, fmt.Errorf("no body hash computed for %s/%s", m.cfg.CanonHeader, m.cfg.CanonBody))
	}

	// Build the h= list and select the headers it names directly, rather
	// than delegating to ARCMessageSignature.Sign's own auto-derivation,
	// so cfg.OversignHeaders can list a name more times than it physically
	// occurs (Sign's internal dedup would otherwise collapse it back to
	// one, defeating the point of oversigning).
	headerNames := m.signHeaderNames()
	signingHeaders := header.ExtractHeadersDKIM(m.headers, headerNames)

	ams := &ARCMessageSignature{
		InstanceNumber:   n,
		Algorithm:        m.cfg.SignAlg,
		Canonicalization: string(m.cfg.CanonHeader) + "/" + string(m.cfg.CanonBody),
		Domain:           domain,
		Selector:         selector,
		BodyHash:         bh.Get(),
		Headers:          strings.Join(headerNames, ":"),
		Timestamp:        time.Now().Unix(),
		canonnAndAlgo: &CanonicalizationAndAlgorithm{
			Header:    m.cfg.CanonHeader,
			Body:      m.cfg.CanonBody,
			Algorithm: m.cfg.SignAlg,
			HashAlgo:  hashAlgo(m.cfg.SignAlg),
		},
	}
	sig, err := header.Signer(signingHeaders, key, canonical.Canonicalization(m.cfg.CanonHeader), hashAlgo(m.cfg.SignAlg))
	if err != nil {
		return nil, newError(ErrorCodeInternal, err)
	}
	ams.Signature = sig
	amsRaw := "ARC-Message-Signature: " + ams.String() + "\r\n"

	as := &ARCSeal{
		InstanceNumber:  n,
		Algorithm:       m.cfg.SignAlg,
		ChainValidation: m.nextCV(n),
		Domain:          domain,
		Selector:        selector,
	}
	sealInput := append(m.existingARCHeaders(), aarRaw, amsRaw)
	if err := as.Sign(sealInput, key); err != nil {
		return nil, newError(ErrorCodeInternal, err)
	}
	asRaw := "ARC-Seal: " + as.String() + "\r\n"

	m.observeSeal()
	return []string{aarRaw, amsRaw, asRaw}, nil
}

// nextCV is the cv= this instance's own seal should carry: "none" for the
// first instance, otherwise whatever EOM's chain evaluation (or a driver
// override via SetCV, honoured only with cfg.OverrideCV) decided about
// instances 1..n-1.
func (m *Message) nextCV(n int) ChainValidationResult {
	if n == 1 {
		return ChainValidationResultNone
	}
	if m.cvOverrideSet && m.cfg.OverrideCV {
		return m.cvOverride
	}
	if m.chainState == ChainStatePass {
		return ChainValidationResultPass
	}
	return ChainValidationResultFail
}
