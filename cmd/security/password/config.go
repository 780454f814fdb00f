package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the passwords accepted by Hash.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak refuses repeated characters, short PINs and a few
	// well-known passwords.
	RejectVeryWeak bool
}

// Config bundles hashing cost and policy.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login costs. Parallelism follows the CPU
// count, clamped to [1..4].
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// Environment keys read by FromEnv.
const (
	EnvMinLen        = "WEBUI_PASSWORD_MIN_LEN"
	EnvMaxLen        = "WEBUI_PASSWORD_MAX_LEN"
	EnvRejectWeak    = "WEBUI_PASSWORD_REJECT_VERY_WEAK"
	EnvArgonMemory   = "WEBUI_ARGON2_MEMORY_KIB"
	EnvArgonTime     = "WEBUI_ARGON2_ITERATIONS"
	EnvArgonParallel = "WEBUI_ARGON2_PARALLELISM"
	EnvArgonSaltLen  = "WEBUI_ARGON2_SALT_LEN"
	EnvArgonKeyLen   = "WEBUI_ARGON2_KEY_LEN"
)

type uintSetting struct {
	key      string
	min, max uint32
	set      func(*Config, uint32)
}

var uintSettings = []uintSetting{
	{EnvArgonMemory, 8 * 1024, 1024 * 1024, func(c *Config, v uint32) { c.Params.MemoryKiB = v }},
	{EnvArgonTime, 1, 20, func(c *Config, v uint32) { c.Params.Iterations = v }},
	{EnvArgonParallel, 1, math.MaxUint8, func(c *Config, v uint32) { c.Params.Parallelism = uint8(v) }}, // #nosec G115 -- bounded.
	{EnvArgonSaltLen, 8, 64, func(c *Config, v uint32) { c.Params.SaltLength = v }},
	{EnvArgonKeyLen, 16, 64, func(c *Config, v uint32) { c.Params.KeyLength = v }},
	{EnvMinLen, 1, 1024, func(c *Config, v uint32) { c.Policy.MinLength = int(v) }},
	{EnvMaxLen, 1, 4096, func(c *Config, v uint32) { c.Policy.MaxLength = int(v) }},
}

// FromEnv returns DefaultConfig overridden by the WEBUI_PASSWORD_* and
// WEBUI_ARGON2_* variables that are set.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	for _, s := range uintSettings {
		v, ok := lookup(s.key)
		if !ok {
			continue
		}
		u, err := parseUint32(v, s.min, s.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", s.key, err)
		}
		s.set(&cfg, u)
	}

	if v, ok := lookup(EnvRejectWeak); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid boolean %q", EnvRejectWeak, v)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if p := cfg.Policy; p.MinLength > p.MaxLength {
		return Config{}, fmt.Errorf("password: %s=%d exceeds %s=%d", EnvMinLen, p.MinLength, EnvMaxLen, p.MaxLength)
	}
	return cfg, nil
}

func parseUint32(s string, lo, hi uint32) (uint32, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%q is not an unsigned integer", s)
	}
	if u := uint32(n); u >= lo && u <= hi {
		return u, nil
	}
	return 0, fmt.Errorf("%d out of range [%d..%d]", n, lo, hi)
}
