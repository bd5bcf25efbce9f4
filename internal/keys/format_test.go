package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatRejectsBadInputs(t *testing.T) {
	_, err := NewFormat("", "prod")
	assert.Error(t, err)

	_, err = NewFormat("bal_x", "prod")
	assert.Error(t, err)

	_, err = NewFormat("bal", "staging")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	f, err := NewFormat("bal", "dev")
	require.NoError(t, err)

	cases := []struct {
		name  string
		value string
		want  bool
	}{
		{"well formed", "bal_dev_2025_abc123def456", true},
		{"prod tag", "bal_prod_2026_zz99xx88yy77", true},
		{"two digit year", "bal_dev_25_short", false},
		{"wrong prefix", "wrongprefix_dev_2025_abc123", false},
		{"empty random part", "bal_dev_2025_", false},
		{"uppercase token", "bal_dev_2025_ABC123", false},
		{"missing segments", "bal_dev_2025", false},
		{"empty", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.Validate(tc.value))
		})
	}
}

func TestGenerateProducesValidKeys(t *testing.T) {
	f, err := NewFormat("bal", "test")
	require.NoError(t, err)

	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := f.Generate(now)
		require.NoError(t, err)
		assert.True(t, f.Validate(key), "generated key %q should validate", key)
		assert.Contains(t, key, "_2026_")
		assert.False(t, seen[key], "generated key %q repeated", key)
		seen[key] = true
	}
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "bal_prod_2026_ab****", Redact("bal_prod_2026_abc123def456"))
	assert.Equal(t, "****", Redact("garbage"))
	assert.Equal(t, "****", Redact(""))
}
