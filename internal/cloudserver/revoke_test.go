package cloudserver

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevokers(t *testing.T) {
	mr := miniredis.RunT(t)
	rr, err := NewRedisRevoker(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rr.Close() })

	for name, r := range map[string]Revoker{"redis": rr, "memory": NewMemRevoker()} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := r.IsRevoked(ctx, "jti-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, r.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
			require.NoError(t, r.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))

			ok, err = r.IsRevoked(ctx, "jti-1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = r.IsRevoked(ctx, "jti-2")
			require.NoError(t, err)
			assert.False(t, ok, "already expired tokens need no entry")
		})
	}

	assert.Greater(t, mr.TTL("revoked:jti-1"), time.Duration(0))
}

func TestRedisRevokerRejectsBadURL(t *testing.T) {
	_, err := NewRedisRevoker(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestTokenIssuer(t *testing.T) {
	now := time.Now()
	ti := tokenIssuer{secret: []byte(testSecret), ttl: time.Hour}
	raw, claims, err := ti.issue(User{ID: "u1", Email: "a@example.com"}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	got, err := ti.parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.Subject)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, claims.ID, got.ID)

	other := tokenIssuer{secret: []byte("another-secret-another-secret-xx"), ttl: time.Hour}
	_, err = other.parse(raw)
	assert.Error(t, err)

	expired, _, err := ti.issue(User{ID: "u1"}, now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = ti.parse(expired)
	assert.Error(t, err)
}
