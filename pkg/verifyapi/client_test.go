package verifyapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) Client {
	return NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(1000, 10))
}

func TestCheck_Valid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify", r.URL.Path)
		assert.Equal(t, "hr@acme.com", r.URL.Query().Get("email"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"email":"hr@acme.com","result":"valid","score":95}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Check(context.Background(), "hr@acme.com")
	require.NoError(t, err)
	assert.Equal(t, VerdictValid, res.Verdict)
	assert.Equal(t, 95, res.Score)
}

func TestCheck_UnrecognizedVerdictMapsToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"greylisted","score":40}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Check(context.Background(), "hr@acme.com")
	require.NoError(t, err)
	assert.Equal(t, VerdictUnknown, res.Verdict)
}

func TestCheck_QuotaExceeded(t *testing.T) {
	for _, status := range []int{http.StatusPaymentRequired, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := newTestClient(srv).Check(context.Background(), "hr@acme.com")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrQuotaExceeded))
		srv.Close()
	}
}

func TestCheck_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Check(context.Background(), "hr@acme.com")
	require.Error(t, err)
	assert.False(t, eris.Is(err, ErrQuotaExceeded))
}
