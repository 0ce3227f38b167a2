package peersync

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyNetError_DialRefusedIsConnectRefused(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp", Err: errFakeConnRefused}
	require.Equal(t, ErrConnectRefused, classifyNetError(err))
}

func TestClassifyNetError_NonDialOpErrorIsSocket(t *testing.T) {
	err := &net.OpError{Op: "read", Net: "tcp", Err: errFakeConnRefused}
	require.Equal(t, ErrSocket, classifyNetError(err))
}

func TestTransportError_IsCountableAsSuccess(t *testing.T) {
	require.True(t, (&TransportError{Class: ErrConnectRefused}).IsCountableAsSuccess())
	require.True(t, (&TransportError{Class: ErrHTTPNotFound}).IsCountableAsSuccess())
	require.False(t, (&TransportError{Class: ErrOther}).IsCountableAsSuccess())
}

func TestHTTPClient_GetVersions_RoundTripsAgainstFakeServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "10", r.URL.Query().Get("getVersions"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"versions":[100,101,102],"canHandleVersionRanges":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0)
	resp, err := c.GetVersions(context.Background(), 10, false)

	require.NoError(t, err)
	require.ElementsMatch(t, []int64{100, 101, 102}, resp.Versions)
	require.True(t, resp.CanHandleVersionRanges)
}

func TestHTTPClient_GetUpdates_RetriesOn503ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"updates":[{"op":0,"version":100,"id":"doc-1"}]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, 2*time.Second, 0)
	resp, err := c.GetUpdates(context.Background(), "100", false)

	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Len(t, resp.Records, 1)
}

func TestHTTPClient_404IsNonRetryableNotFound(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, 0)
	_, err := c.GetVersions(context.Background(), 10, false)

	require.Error(t, err)
	require.Equal(t, 1, attempts)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	require.Equal(t, ErrHTTPNotFound, te.Class)
}
