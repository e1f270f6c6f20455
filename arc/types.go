package arc

import (
	"crypto"

	"github.com/arcseal/arcengine/domainkey"
	"github.com/arcseal/arcengine/internal/sigcrypto"
)

// Shared DKIM/ARC signature vocabulary lives in internal/sigcrypto so the
// dkim and arc packages can describe the same algorithms, canonicalizations
// and verify results without arc importing dkim (ARC-Message-Signature is
// DKIM-shaped but not a DKIM-Signature).
type (
	SignatureAlgorithm           = sigcrypto.SignatureAlgorithm
	Canonicalization             = sigcrypto.Canonicalization
	CanonicalizationAndAlgorithm = sigcrypto.CanonicalizationAndAlgorithm
	VerifyStatus                 = sigcrypto.VerifyStatus
	VerifyResult                 = sigcrypto.VerifyResult
)

const (
	SignatureAlgorithmRSA_SHA1       = sigcrypto.SignatureAlgorithmRSA_SHA1
	SignatureAlgorithmRSA_SHA256     = sigcrypto.SignatureAlgorithmRSA_SHA256
	SignatureAlgorithmED25519_SHA256 = sigcrypto.SignatureAlgorithmED25519_SHA256
)

const (
	CanonicalizationSimple  = sigcrypto.CanonicalizationSimple
	CanonicalizationRelaxed = sigcrypto.CanonicalizationRelaxed
)

const (
	VerifyStatusNeutral = sigcrypto.VerifyStatusNeutral
	VerifyStatusFail    = sigcrypto.VerifyStatusFail
	VerifyStatusTempErr = sigcrypto.VerifyStatusTempErr
	VerifyStatusPermErr = sigcrypto.VerifyStatusPermErr
	VerifyStatusPass    = sigcrypto.VerifyStatusPass
	VerifyStatusNone    = sigcrypto.VerifyStatusNone
)

func newVerifyResult(status VerifyStatus, err error, msg string, domainKey *domainkey.DomainKey) *VerifyResult {
	return sigcrypto.NewVerifyResult(status, err, msg, domainKey)
}

func hashAlgo(algo SignatureAlgorithm) crypto.Hash { return sigcrypto.HashAlgo(algo) }

func base64Decode(s string) ([]byte, error) { return sigcrypto.Base64Decode(s) }

// ChainValidationResult is the ARC-Seal cv= value (RFC 8617 §4.1.3): the
// sealer's judgment of the chain's validity up to (but excluding) the
// instance carrying it.
type ChainValidationResult string

const (
	ChainValidationResultNone ChainValidationResult = "none"
	ChainValidationResultPass ChainValidationResult = "pass"
	ChainValidationResultFail ChainValidationResult = "fail"
)

func isChainValidationResult(s string) bool {
	switch ChainValidationResult(s) {
	case ChainValidationResultNone, ChainValidationResultPass, ChainValidationResultFail:
		return true
	default:
		return false
	}
}

// Signature groups the three headers one ARC instance contributes
// (ARC-Authentication-Results, ARC-Message-Signature, ARC-Seal) so the
// chain walker can validate and re-sort a set of ARC header fields by
// instance number.
type Signature struct {
	instanceNumber           int
	arcAuthenticationResults *ARCAuthenticationResults
	arcMessageSignature      *ARCMessageSignature
	arcSeal                  *ARCSeal
}
