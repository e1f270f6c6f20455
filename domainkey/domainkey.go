package domainkey

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/arcseal/arcengine/internal/tagvalue"
)

type TXTLookupFunc func(name string) ([]string, error)

// TXTResolver is an interface for DNS TXT record lookups.
type TXTResolver interface {
	// LookupTXT performs a DNS TXT record lookup for the given name.
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// DNSSECResolver is an optional capability a TXTResolver can implement to
// report whether its answer carried the DNSSEC "authentic data" bit
// (spec.md §4.7: "The DNSSEC bit returned by the resolver is stored on
// the Message"). lookupDomainKeyWithResolver probes for this via type
// assertion, so existing TXTResolver implementations — test mocks, the
// Redis cache decorator, the flat-file resolver — keep working unchanged
// and simply report "not validated".
type DNSSECResolver interface {
	LookupTXTDNSSEC(ctx context.Context, name string) (txt []string, dnssec bool, err error)
}

// NewDefaultTXTResolver creates the default TXTResolver, running every
// lookup through the five-operation Plugin contract (resolver.go) rather
// than calling net.Resolver directly, so the default production path
// exercises the same start/wait/cancel machinery a pluggable DNS backend
// would.
func NewDefaultTXTResolver() TXTResolver {
	return NewPluginTXTResolver(NewNetPlugin(), 5*time.Second)
}

// DefaultResolver is the default TXT lookup function.
var DefaultResolver TXTLookupFunc = func(name string) ([]string, error) {
	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resolver := NewDefaultTXTResolver()
	return resolver.LookupTXT(ctx, name)
}

var (
	ErrNoRecordFound        = errors.New("no record found")
	ErrDNSLookupFailed      = errors.New("dns lookup failed")
	ErrInvalidHashAlgo      = errors.New("invalid hash algorithm")
	ErrInvalidKeyType       = errors.New("invalid key type")
	ErrInvalidServiceType   = errors.New("invalid service type")
	ErrInvalidSelectorFlags = errors.New("invalid selector flags")
	ErrInvalidVersion       = errors.New("invalid version")
	// ErrMultiDNSReply is returned when a query name resolves to more than
	// one TXT answer (spec.md §4.7: "multiple TXT answers for one name ->
	// multi-reply error"). RFC 6376 §3.6.2.2 treats this as ambiguous —
	// there is no rule for which answer is authoritative — so the whole
	// lookup fails rather than guessing.
	ErrMultiDNSReply = errors.New("multiple TXT records found for domain key query")
)

type HashAlgo string

const (
	HashAlgoSHA1   HashAlgo = "sha1"
	HashAlgoSHA256 HashAlgo = "sha256"
)

type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeED25519 KeyType = "ed25519"
)

type ServiceType string

const (
	ServiceTypeEmail ServiceType = "email"
	ServiceTypeAll   ServiceType = "*"
)

type SelectorFlags string

const (
	SelectorFlagsTest         SelectorFlags = "y"
	SelectorFlagsStrictDomain SelectorFlags = "s" // identifier is strict domain
)

type DomainKey struct {
	HashAlgo      []HashAlgo      // h hash algorithm separated by colons
	KeyType       KeyType         // k default:rsa
	Notes         string          // n notes
	PublicKey     string          // p public key base64 encoded
	ServiceType   []ServiceType   // s service type separated by colons
	SelectorFlags []SelectorFlags // t flags separated by colons
	Version       string          // v version default:DKIM1
	DNSSEC        bool            // whether the TXT answer was DNSSEC-validated
	raw           string          // raw record
}

// テストフラグが立っているか
func (d *DomainKey) IsTestFlag() bool {
	for _, f := range d.SelectorFlags {
		if f == SelectorFlagsTest {
			return true
		}
	}
	return false
}

// サービスタイプが指定されたものか
func (d *DomainKey) IsService(service ServiceType) bool {
	if service == ServiceTypeAll {
		return true
	}
	// service typeが指定されていない場合は全てのサービスに対応
	if len(d.ServiceType) == 0 {
		return true
	}
	for _, s := range d.ServiceType {
		if s == service {
			return true
		}
	}
	return false
}

// isKeyRevoked checks if a domain key has been revoked.
// A key is considered revoked if the record contains "p=" but the parsed PublicKey is empty.
func isKeyRevoked(record string, domainKey DomainKey) error {
	if strings.Contains(record, "p=") && domainKey.PublicKey == "" {
		return fmt.Errorf("key revoked: %w", ErrNoRecordFound)
	}
	return nil
}

// queryName builds the "<selector>._domainkey.<domain>" DNS query name,
// IDN-encoding domain to A-labels first (spec.md §4.7) so a non-ASCII
// domain resolves the same way a DNS recursor would see it on the wire.
// A domain that fails IDNA validation is passed through unencoded — the
// lookup will simply fail downstream at the resolver instead of here.
func queryName(selector, domain string) string {
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		ascii = domain
	}
	return fmt.Sprintf("%s._domainkey.%s", selector, ascii)
}

// LookupDKIMDomainKey DKIMのドメインキーをLookupする
// versionがDKIM1でない場合はエラーを返す
func LookupDKIMDomainKey(selector, domain string) (DomainKey, error) {
	d, err := lookupDomainKeyWithResolver(selector, domain, NewDefaultTXTResolver())
	if err != nil {
		return DomainKey{}, err
	}
	if d.Version != "" && d.Version != "DKIM1" {
		return DomainKey{}, ErrInvalidVersion
	}
	return d, nil
}

// LookupDKIMDomainKeyWithResolver DKIMのドメインキーをLookupする
// versionがDKIM1でない場合はエラーを返す
// resolverがnilの場合はデフォルトのリゾルバーを使用
func LookupDKIMDomainKeyWithResolver(selector, domain string, resolver TXTResolver) (DomainKey, error) {
	d, err := lookupDomainKeyWithResolver(selector, domain, resolver)
	if err != nil {
		return DomainKey{}, err
	}
	if d.Version != "" && d.Version != "DKIM1" {
		return DomainKey{}, ErrInvalidVersion
	}
	return d, nil
}

// LookupARCDomainKey ARCのドメインキーを検索する
// versionが含まれていなくてもエラーを返さない
func LookupARCDomainKey(selector, domain string) (DomainKey, error) {
	return lookupDomainKeyWithResolver(selector, domain, NewDefaultTXTResolver())
}

// LookupARCDomainKeyWithResolver is LookupARCDomainKey with a pluggable
// TXTResolver, letting a driver point ARC-Seal/ARC-Message-Signature
// verification at a file-backed or cached resolver instead of live DNS.
func LookupARCDomainKeyWithResolver(selector, domain string, resolver TXTResolver) (DomainKey, error) {
	return lookupDomainKeyWithResolver(selector, domain, resolver)
}

// lookupDomainKeyWithResolver resolves selector._domainkey.domain through
// resolver (the live default resolver if nil), rejecting a query name that
// resolves to more than one TXT answer outright (spec.md §4.7) instead of
// silently picking one.
func lookupDomainKeyWithResolver(selector, domain string, resolver TXTResolver) (DomainKey, error) {
	if resolver == nil {
		resolver = NewDefaultTXTResolver()
	}
	query := queryName(selector, domain)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var res []string
	var dnssec bool
	var err error
	if dr, ok := resolver.(DNSSECResolver); ok {
		res, dnssec, err = dr.LookupTXTDNSSEC(ctx, query)
	} else {
		res, err = resolver.LookupTXT(ctx, query)
	}
	if dnsErr, ok := err.(*net.DNSError); ok {
		if dnsErr.IsNotFound {
			return DomainKey{}, ErrNoRecordFound
		}
	} else if err != nil {
		if errors.Is(err, ErrNoRecordFound) {
			return DomainKey{}, ErrNoRecordFound
		}
		return DomainKey{}, ErrDNSLookupFailed
	}
	if len(res) > 1 {
		return DomainKey{}, ErrMultiDNSReply
	}

	// レコードの解析
	for _, r := range res {
		domainKey, err := ParseDomainKeyRecode(r)
		if err != nil {
			return DomainKey{}, err
		}
		domainKey.DNSSEC = dnssec
		if domainKey.PublicKey != "" {
			return domainKey, nil
		}
		// p=が空の場合はキーが撤回されたとみなす
		if err := isKeyRevoked(r, domainKey); err != nil {
			return DomainKey{}, err
		}
	}
	return DomainKey{}, ErrNoRecordFound
}

// ドメインキーレコードの解析
func ParseDomainKeyRecode(r string) (DomainKey, error) {
	var key DomainKey
	key.raw = r

	parsed := tagvalue.Parse(r)
	for _, pair := range parsed.Pairs {
		k, v := pair.Tag, pair.Value
		switch strings.ToLower(k) {
		case "v":
			key.Version = v
			continue
		case "h":
			algos := strings.Split(v, ":")
			for _, algo := range algos {
				trimmedAlgo := strings.TrimSpace(algo)
				switch HashAlgo(trimmedAlgo) {
				case HashAlgoSHA1:
					key.HashAlgo = append(key.HashAlgo, HashAlgoSHA1)
				case HashAlgoSHA256:
					key.HashAlgo = append(key.HashAlgo, HashAlgoSHA256)
				default:
					return DomainKey{}, ErrInvalidHashAlgo
				}
			}
		case "k":
			keyTypes := strings.Split(v, ":")
			for _, keyType := range keyTypes {
				trimmedKeyType := strings.TrimSpace(keyType)
				switch KeyType(trimmedKeyType) {
				case KeyTypeRSA:
					key.KeyType = KeyTypeRSA
				case KeyTypeED25519:
					key.KeyType = KeyTypeED25519
				default:
					return DomainKey{}, ErrInvalidKeyType
				}
			}
		case "n":
			key.Notes = v
		case "p":
			// 空白を削除して格納
			key.PublicKey = strings.ReplaceAll(v, " ", "")
		case "s":
			serviceTypes := strings.Split(v, ":")
			for _, serviceType := range serviceTypes {
				trimmedServiceType := strings.TrimSpace(serviceType)
				switch ServiceType(trimmedServiceType) {
				case ServiceTypeEmail:
					key.ServiceType = append(key.ServiceType, ServiceTypeEmail)
				case ServiceTypeAll:
					key.ServiceType = append(key.ServiceType, ServiceTypeAll)
				default:
					return DomainKey{}, ErrInvalidServiceType
				}
			}
		case "t":
			// t=タグはコロン区切りの複数フラグを許容する
			flags := strings.Split(v, ":")
			for _, flag := range flags {
				trimmedFlag := strings.TrimSpace(flag)
				switch SelectorFlags(trimmedFlag) {
				case SelectorFlagsTest:
					key.SelectorFlags = append(key.SelectorFlags, SelectorFlagsTest)
				case SelectorFlagsStrictDomain:
					key.SelectorFlags = append(key.SelectorFlags, SelectorFlagsStrictDomain)
				// 未知のフラグは無視する（将来拡張に対応）
				default:
					// 未知のフラグはエラーにせず、単に無視する
					// return DomainKey{}, ErrInvalidSelectorFlags
				}
			}
		}
	}

	return key, nil
}
