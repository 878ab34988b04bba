package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapConnectionState(t *testing.T) {
	cases := []struct {
		gateway string
		want    InstanceState
		known   bool
	}{
		{"open", StateAuthorized, true},
		{"connecting", StateStarting, true},
		{"qrcode", StateQRCode, true},
		{"close", StateNotAuthorized, true},
		{"refused", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := MapConnectionState(c.gateway)
		assert.Equal(t, c.known, ok, "gateway state %q", c.gateway)
		assert.Equal(t, c.want, got, "gateway state %q", c.gateway)
	}
}

func TestHasTokens(t *testing.T) {
	assert.False(t, (&Tenant{}).HasTokens())
	assert.False(t, (&Tenant{AccessToken: "a"}).HasTokens())
	assert.True(t, (&Tenant{AccessToken: "a", RefreshToken: "r"}).HasTokens())
}
