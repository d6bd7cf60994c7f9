package authority_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-collab-client/authority"
	"github.com/jrsteele09/go-collab-client/credentials"
	"github.com/jrsteele09/go-collab-client/credentials/storefake"
	"github.com/stretchr/testify/require"
)

// newProtectedServer accepts only "Bearer a2"; /forbidden always answers 403
func newProtectedServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/forbidden" {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
		if r.Header.Get("Authorization") != "Bearer a2" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripper_RetriesOnceAfterRefresh(t *testing.T) {
	srv := newProtectedServer(t)

	var calls atomic.Int32
	store := storefake.NewFakeStore(credentials.Pair{AccessToken: "a1", RefreshToken: "r1"})
	a := authority.New(store, authority.RefresherFunc(func(_ context.Context, _ string) (credentials.Pair, error) {
		calls.Add(1)
		return credentials.Pair{AccessToken: "a2", RefreshToken: "r2"}, nil
	}))
	client := &http.Client{Transport: a.RoundTripper(nil)}

	resp, err := client.Post(srv.URL+"/things", "application/json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, `{"name":"x"}`, string(body))
	require.Equal(t, int32(1), calls.Load())
}

func TestRoundTripper_ConcurrentRequestsShareRefresh(t *testing.T) {
	srv := newProtectedServer(t)

	var calls atomic.Int32
	release := make(chan struct{})
	store := storefake.NewFakeStore(credentials.Pair{AccessToken: "a1", RefreshToken: "r1"})
	a := authority.New(store, authority.RefresherFunc(func(_ context.Context, _ string) (credentials.Pair, error) {
		calls.Add(1)
		<-release
		return credentials.Pair{AccessToken: "a2", RefreshToken: "r2"}, nil
	}))
	client := &http.Client{Transport: a.RoundTripper(nil)}

	var wg sync.WaitGroup
	statuses := make([]int, 8)
	for i := range statuses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/things")
			if err != nil {
				return
			}
			statuses[i] = resp.StatusCode
			resp.Body.Close()
		}()
	}

	waitForRefresherCalls(t, &calls, 1)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, status := range statuses {
		require.Equal(t, http.StatusOK, status)
	}
}

func TestRoundTripper_ForbiddenNeverRefreshes(t *testing.T) {
	srv := newProtectedServer(t)

	var calls atomic.Int32
	store := storefake.NewFakeStore(credentials.Pair{AccessToken: "a1", RefreshToken: "r1"})
	a := authority.New(store, authority.RefresherFunc(func(_ context.Context, _ string) (credentials.Pair, error) {
		calls.Add(1)
		return credentials.Pair{AccessToken: "a2", RefreshToken: "r2"}, nil
	}))
	client := &http.Client{Transport: a.RoundTripper(nil)}

	resp, err := client.Get(srv.URL + "/forbidden")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, int32(0), calls.Load())
	require.Equal(t, "a1", a.AccessToken())
}

func TestRoundTripper_TerminalFailureSurfaces(t *testing.T) {
	srv := newProtectedServer(t)

	store := storefake.NewFakeStore(credentials.Pair{AccessToken: "a1", RefreshToken: "r1"})
	a := authority.New(store, authority.RefresherFunc(func(_ context.Context, _ string) (credentials.Pair, error) {
		return credentials.Pair{}, errors.New("invalid refresh token")
	}))
	client := &http.Client{Transport: a.RoundTripper(nil)}

	_, err := client.Get(srv.URL + "/things")
	require.Error(t, err)
	require.ErrorIs(t, err, authority.ErrSessionTerminated)
	require.Empty(t, a.AccessToken())
}

func waitForRefresherCalls(t *testing.T, calls *atomic.Int32, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return calls.Load() == n }, time.Second, time.Millisecond)
}
