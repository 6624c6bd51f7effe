package bridge

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBridgeURL(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    url.Values
		wantErr bool
	}{
		{
			name:    "plain address",
			address: testAddress,
			want:    url.Values{"page": {"bridge"}},
		},
		{
			name:    "keeps existing query",
			address: testAddress + "?lang=ja",
			want:    url.Values{"page": {"bridge"}, "lang": {"ja"}},
		},
		{
			name:    "overrides existing discriminator",
			address: testAddress + "?page=main",
			want:    url.Values{"page": {"bridge"}},
		},
		{
			name:    "trims whitespace",
			address: "  " + testAddress + "\n",
			want:    url.Values{"page": {"bridge"}},
		},
		{name: "relative path", address: "/exec", wantErr: true},
		{name: "no scheme", address: "script.example.com/exec", wantErr: true},
		{name: "unparsable", address: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildBridgeURL(tt.address, "page", "bridge")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			u, err := url.Parse(got)
			require.NoError(t, err)
			assert.Equal(t, "script.example.com", u.Host)
			assert.Equal(t, "/macros/s/abc/exec", u.Path)
			assert.Equal(t, tt.want, u.Query())
		})
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "unstarted", PhaseUnstarted.String())
	assert.Equal(t, "awaiting-ready", PhaseAwaitingReady.String())
	assert.Equal(t, "ready", PhaseReady.String())
	assert.Equal(t, "failed", PhaseFailed.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
