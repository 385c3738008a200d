package reporter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepdriveio/botworker/pkg/identity"
)

func TestPostSkippedInTestMode(t *testing.T) {
	r := New(identity.Config{IsTest: true})
	resp, err := r.Post(context.Background(), "http://example.invalid", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestPostRetriesUntilTerminalStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(identity.Config{IsTest: false})
	r.client = srv.Client()

	resp, err := r.Post(context.Background(), srv.URL, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPostTreats400And500AsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := New(identity.Config{IsTest: false})
	r.client = srv.Client()

	resp, err := r.Post(context.Background(), srv.URL, map[string]string{"a": "b"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "400 must not be retried")
}
