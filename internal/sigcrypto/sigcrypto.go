// Package sigcrypto holds the signing-algorithm vocabulary, verify-result
// type, and RSA/Ed25519 primitives shared by the dkim and arc packages.
// DKIM-Signature, ARC-Message-Signature and ARC-Seal all carry the same
// a= algorithm tag and verify against the same domain-key public key
// material, so the code that interprets them lives here once instead of
// being defined twice with the two packages unable to agree on a type.
package sigcrypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"fmt"

	"github.com/arcseal/arcengine/domainkey"
	"github.com/arcseal/arcengine/internal/b64"
	"github.com/arcseal/arcengine/internal/canonical"
	"github.com/arcseal/arcengine/internal/nametable"
)

// SignatureAlgorithm is the a= tag value shared by DKIM-Signature,
// ARC-Message-Signature and ARC-Seal.
type SignatureAlgorithm string

const (
	// SignatureAlgorithmRSA_SHA1 is retained for interoperability only;
	// RFC 8301 deprecates rsa-sha1 for new signatures.
	SignatureAlgorithmRSA_SHA1       SignatureAlgorithm = "rsa-sha1"
	SignatureAlgorithmRSA_SHA256     SignatureAlgorithm = "rsa-sha256"
	SignatureAlgorithmED25519_SHA256 SignatureAlgorithm = "ed25519-sha256"
)

// Canonicalization mirrors canonical.Canonicalization so callers that
// only need the a=/c= vocabulary don't have to import the canonical
// package directly.
type Canonicalization canonical.Canonicalization

const (
	CanonicalizationSimple  Canonicalization = Canonicalization(canonical.Simple)
	CanonicalizationRelaxed Canonicalization = Canonicalization(canonical.Relaxed)
)

// CanonicalizationAndAlgorithm is the decoded c= and a= tags of a
// signature header, plus the hash this algorithm implies.
type CanonicalizationAndAlgorithm struct {
	Header    Canonicalization
	Body      Canonicalization
	Algorithm SignatureAlgorithm
	Limit     int64
	HashAlgo  crypto.Hash
}

// VerifyStatus is the outcome vocabulary shared by dkim=/arc= result tags
// (RFC 8601 §2.7.1, applied identically to DKIM and ARC verification).
type VerifyStatus string

const (
	VerifyStatusNeutral VerifyStatus = "neutral"
	VerifyStatusFail    VerifyStatus = "fail"
	VerifyStatusTempErr VerifyStatus = "temperror"
	VerifyStatusPermErr VerifyStatus = "permerror"
	VerifyStatusPass    VerifyStatus = "pass"
	VerifyStatusNone    VerifyStatus = "none"
)

// VerifyResult is the outcome of a single DKIM-Signature, ARC-Message-Signature
// or ARC-Seal verification. Fields stay unexported with accessors, matching
// the teacher's original result-object shape; NewVerifyResult is the single
// constructor both dkim and arc use to build one.
type VerifyResult struct {
	status    VerifyStatus
	err       error
	msg       string
	domainKey *domainkey.DomainKey
}

// NewVerifyResult builds a VerifyResult. domainKey may be nil when the
// failure occurred before a domain key was resolved.
func NewVerifyResult(status VerifyStatus, err error, msg string, domainKey *domainkey.DomainKey) *VerifyResult {
	return &VerifyResult{status: status, err: err, msg: msg, domainKey: domainKey}
}

func (v *VerifyResult) Status() VerifyStatus          { return v.status }
func (v *VerifyResult) Error() error                  { return v.err }
func (v *VerifyResult) Message() string               { return v.msg }
func (v *VerifyResult) DomainKey() *domainkey.DomainKey { return v.domainKey }

// hashAlgoTable maps the a= algorithm vocabulary to the crypto.Hash each
// one signs over, modeled on OpenARC's arc-nametable.c algorithm table.
// The not-found sentinel is SHA256 itself, matching this function's
// historic default for an unrecognized token.
var hashAlgoTable = nametable.New(int(crypto.SHA256),
	nametable.Entry{Name: string(SignatureAlgorithmRSA_SHA1), Code: int(crypto.SHA1)},
	nametable.Entry{Name: string(SignatureAlgorithmRSA_SHA256), Code: int(crypto.SHA256)},
	nametable.Entry{Name: string(SignatureAlgorithmED25519_SHA256), Code: int(crypto.SHA256)},
)

// HashAlgo maps a signature algorithm to the hash it signs over.
func HashAlgo(algo SignatureAlgorithm) crypto.Hash {
	return crypto.Hash(hashAlgoTable.CodeOf(string(algo)))
}

// Base64Decode decodes a b=/bh= tag value or a domain key's p= value.
func Base64Decode(s string) ([]byte, error) {
	return b64.Decode(s)
}

// MinKeyBitsRSA is the smallest RSA modulus size this engine will accept
// for verification, matching OpenARC's default minimum (arc-keys.c
// rejects anything smaller to resist downgrade to a brute-forceable key).
const MinKeyBitsRSA = 1024

// CheckMinKeyBits rejects RSA keys below MinKeyBitsRSA. Ed25519 keys are
// always a fixed, adequate size and pass unconditionally.
func CheckMinKeyBits(pub crypto.PublicKey) error {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if k.N.BitLen() < MinKeyBitsRSA {
			return fmt.Errorf("rsa key too small: %d bits (minimum %d)", k.N.BitLen(), MinKeyBitsRSA)
		}
	case ed25519.PublicKey:
		// fixed-size, nothing to check
	}
	return nil
}
