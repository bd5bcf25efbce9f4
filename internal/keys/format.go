// Package keys generates and validates the gateway's API key credentials.
// Credentials look like bal_prod_2026_k3x9m2p7q1wz: org prefix, environment
// tag, issue year, then a random lowercase alphanumeric token.
package keys

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

const randomLength = 12

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var envTags = map[string]bool{"dev": true, "prod": true, "test": true}

// Format validates and mints key credentials for one org prefix.
type Format struct {
	prefix  string
	env     string
	pattern *regexp.Regexp
}

// NewFormat builds a Format for the given org prefix and environment tag.
func NewFormat(prefix, env string) (*Format, error) {
	if prefix == "" || strings.ContainsAny(prefix, "_ ") {
		return nil, fmt.Errorf("invalid key prefix %q", prefix)
	}
	if !envTags[env] {
		return nil, fmt.Errorf("invalid key environment %q (want dev, prod or test)", env)
	}

	pattern, err := regexp.Compile(`^` + regexp.QuoteMeta(prefix) + `_[a-z]+_\d{4}_[a-z0-9]+$`)
	if err != nil {
		return nil, fmt.Errorf("couldn't compile key pattern: %w", err)
	}

	return &Format{prefix: prefix, env: env, pattern: pattern}, nil
}

// Generate mints a new credential. Uniqueness is enforced by the store's
// unique index; collisions here are astronomically rare but retried there.
func (f *Format) Generate(now time.Time) (string, error) {
	token := make([]byte, randomLength)
	for i := range token {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(randomAlphabet))))
		if err != nil {
			return "", fmt.Errorf("couldn't generate key token: %w", err)
		}
		token[i] = randomAlphabet[n.Int64()]
	}

	return fmt.Sprintf("%s_%s_%d_%s", f.prefix, f.env, now.UTC().Year(), token), nil
}

// Validate reports whether value is structurally a key of this format.
// Malformed values are rejected before any store lookup.
func (f *Format) Validate(value string) bool {
	return f.pattern.MatchString(value)
}

// Redact returns a display-safe form of a credential, keeping only the
// non-secret segments and the first two characters of the random token.
func Redact(value string) string {
	parts := strings.Split(value, "_")
	if len(parts) != 4 || len(parts[3]) < 2 {
		return "****"
	}
	return fmt.Sprintf("%s_%s_%s_%s****", parts[0], parts[1], parts[2], parts[3][:2])
}
