package sapo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

func newProbeServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		good := r.Header.Get("X-Token") == "good"
		switch {
		case r.URL.Path == "/admin/orders.json":
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			assert.Equal(t, "sapo-frontend-v3", r.Header.Get("X-Sapo-Client"))
			if !good {
				_, _ = io.WriteString(w, "{}")
				return
			}
			_, _ = io.WriteString(w, `{"orders":[{"id":1,"code":"SON1"}],"metadata":{"total":1}}`+strings.Repeat(" ", 100))
		case r.URL.Path == "/api/staffs/42/scopes":
			if !good {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = io.WriteString(w, `{"sapo_account_id":7,"scopes":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProber(t *testing.T) {
	srv := newProbeServer(t)
	prober := NewHTTPProber(srv.Client(), srv.URL+"/admin", srv.URL, "42", 100)
	good := integration.NewCredentials(map[string]string{"X-Token": "good"}, testNow)
	bad := integration.NewCredentials(map[string]string{"X-Token": "bad"}, testNow)

	assert.NoError(t, prober.Probe(context.Background(), integration.SessionCore, good))
	assert.NoError(t, prober.Probe(context.Background(), integration.SessionMarketplace, good))

	err := prober.Probe(context.Background(), integration.SessionCore, bad)
	assert.ErrorIs(t, err, integration.ErrAuthFailed)
	err = prober.Probe(context.Background(), integration.SessionMarketplace, bad)
	assert.ErrorIs(t, err, integration.ErrAuthFailed)
}

func TestHTTPProber_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	prober := NewHTTPProber(nil, base, base, "42", 100)
	err := prober.Probe(context.Background(), integration.SessionCore, integration.Credentials{})
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrRemoteUnavailable)
}
