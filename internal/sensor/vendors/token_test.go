package vendors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-data-aggregation/internal/sensor"
)

func tokenServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client" || secret != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client","error_description":"bad credentials"}`))
			return
		}
		_ = r.ParseForm()
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer"}`))
	}))
}

func TestClientCredentialsCached(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	defer srv.Close()

	p := NewClientCredentials("hobolink", srv.URL, "client", "secret", srv.Client(), true)
	for i := 0; i < 3; i++ {
		tok, err := p.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-123", tok)
	}
	assert.Equal(t, 1, p.Fetches())
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientCredentialsUncached(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	defer srv.Close()

	p := NewClientCredentials("hobolink", srv.URL, "client", "secret", srv.Client(), false)
	for i := 0; i < 3; i++ {
		_, err := p.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, p.Fetches())
}

func TestClientCredentialsRejected(t *testing.T) {
	var hits atomic.Int32
	srv := tokenServer(t, &hits)
	defer srv.Close()

	p := NewClientCredentials("hobolink", srv.URL, "client", "wrong", srv.Client(), false)
	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.True(t, sensor.IsAuth(err))
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticToken("").Token(context.Background())
	assert.Error(t, err)
}
