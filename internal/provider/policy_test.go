package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/keepalive/internal/models"
)

func TestNeedsRenewal(t *testing.T) {
	tests := []struct {
		name      string
		days      float64
		threshold float64
		force     bool
		want      bool
	}{
		{"inside window", 1.5, 2, false, true},
		{"exactly at threshold", 2.0, 2, false, true},
		{"fractional day above threshold still renews", 2.21, 2, false, true},
		{"next whole day out", 3.0, 2, false, false},
		{"well outside window", 29.9, 2, false, false},
		{"unknown expiry always renews", -1, 2, false, true},
		{"force overrides a long expiry", 30, 2, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expiry := models.ExpiryInfo{Display: "x", Days: tt.days}
			assert.Equal(t, tt.want, NeedsRenewal(expiry, tt.threshold, tt.force))
		})
	}
}

func TestRegistryNames(t *testing.T) {
	names := Names()
	for _, want := range []string{"castlehost", "dataonline", "katabump", "lunes", "pella", "weirdhost"} {
		assert.Contains(t, names, want)
	}
	assert.IsIncreasing(t, names)
}

func TestRegistryUnknownProvider(t *testing.T) {
	_, err := New("nonexistent", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestRegistryBuildsEveryPolicy(t *testing.T) {
	for _, name := range Names() {
		policy, err := New(name, Options{})
		require.NoError(t, err)
		assert.Equal(t, name, policy.Name())
		assert.NotEmpty(t, policy.BaseURL())
		assert.NotEmpty(t, policy.SessionCookieName())
	}
}
