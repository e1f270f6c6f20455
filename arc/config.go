package arc

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the set of knobs spec.md §6 lists as passed into a Message at
// construction. YAML-tagged so a deployment can load one from disk with
// LoadConfig, the same way the teacher's spf package already uses
// gopkg.in/yaml.v3 for its test vectors — promoted here to a real config
// loader.
type Config struct {
	CanonHeader Canonicalization `yaml:"canon_hdr"`
	CanonBody   Canonicalization `yaml:"canon_body"`
	SignAlg     SignatureAlgorithm `yaml:"sign_alg"`

	MinKeyBits   int   `yaml:"min_key_bits"`
	SignatureTTL int64 `yaml:"signature_ttl"`
	FixedTime    int64 `yaml:"fixed_time"`

	SignHeaders     []string `yaml:"sign_hdrs"`
	OversignHeaders []string `yaml:"oversign_hdrs"`

	TestKeys string `yaml:"test_keys"`

	TmpDir        string `yaml:"tmpdir"`
	KeepTmpFiles  bool   `yaml:"keep_tmpfiles"`

	// MaxInstances caps the chain length: a verifier fails a longer chain
	// once its signatures have been checked, and GetSeal refuses to add an
	// instance beyond it (testable property #4, the "configured max,
	// max+1" boundary).
	MaxInstances int `yaml:"max_instances"`

	// OverrideCV, when set, forces the emitted/verified chain status to
	// fail whenever an externally supplied Authentication-Results
	// fragment (fed to SetCV) already says arc=fail, regardless of what
	// this engine's own crypto evaluation found (scenario 6, AR-override).
	OverrideCV bool `yaml:"override_cv"`
}

// DefaultConfig returns the engine's defaults: relaxed/simple, rsa-sha256,
// a 1024-bit minimum key (matching internal/sigcrypto.MinKeyBitsRSA), and a
// 10-instance chain cap, mirroring OpenARC's own openarc.conf defaults for
// MinimumKeyBits and MaximumInstances.
func DefaultConfig() *Config {
	return &Config{
		CanonHeader:  CanonicalizationRelaxed,
		CanonBody:    CanonicalizationSimple,
		SignAlg:      SignatureAlgorithmRSA_SHA256,
		MinKeyBits:   1024,
		MaxInstances: 10,
	}
}

// LoadConfig reads a YAML-encoded Config from path, filling in
// DefaultConfig's values for anything the file omits.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
