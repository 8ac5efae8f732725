package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"goflare.io/encore/internal/retrier"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClientSearchTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "kind of blue", r.URL.Query().Get("q"))
		require.Equal(t, "track", r.URL.Query().Get("type"))
		require.Equal(t, "50", r.URL.Query().Get("limit"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Write([]byte(`{"tracks":{"items":[{"id":"t1","name":"So What","duration_ms":562000}],"total":1}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "secret"})))
	res, err := c.SearchTracks(context.Background(), "  kind of blue ", 500)
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Len(t, res.Tracks, 1)
	require.Equal(t, "So What", res.Tracks[0].Name)
	require.Equal(t, 562000, res.Tracks[0].DurationMS)
}

func TestClientLookups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tracks/t1":
			writeJSON(t, w, Track{ID: "t1", Name: "Blue in Green"})
		case "/albums/a1":
			writeJSON(t, w, Album{ID: "a1", Name: "Kind of Blue", TotalTracks: 5})
		case "/artists/r1":
			writeJSON(t, w, Artist{ID: "r1", Name: "Miles Davis"})
		case "/playlists/p1":
			writeJSON(t, w, Playlist{ID: "p1", Name: "Modal", Tracks: PlaylistTracks{Total: 1}})
		case "/me":
			writeJSON(t, w, User{ID: "u1", DisplayName: "listener"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL + "/")

	track, err := c.Track(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Blue in Green", track.Name)

	album, err := c.Album(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 5, album.TotalTracks)

	artist, err := c.Artist(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "Miles Davis", artist.Name)

	playlist, err := c.Playlist(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 1, playlist.Tracks.Total)

	user, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, "listener", user.DisplayName)

	_, err = c.Track(ctx, "missing")
	require.Equal(t, http.StatusNotFound, retrier.StatusOf(err))
	require.False(t, retrier.IsRetryable(err))
}

func TestClientErrors(t *testing.T) {
	t.Run("empty arguments are permanent", func(t *testing.T) {
		c := NewClient("http://127.0.0.1:0")

		_, err := c.SearchTracks(context.Background(), "   ", 10)
		require.ErrorIs(t, err, ErrEmptyQuery)
		require.True(t, retrier.IsPermanent(err))

		_, err = c.Album(context.Background(), "")
		require.ErrorIs(t, err, ErrEmptyID)
		require.True(t, retrier.IsPermanent(err))
	})

	t.Run("server errors are retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL).Track(context.Background(), "t1")
		require.True(t, retrier.IsRetryable(err))

		var httpErr *retrier.HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
		require.Equal(t, 2*time.Second, httpErr.RetryAfter)
		require.Equal(t, "slow down", httpErr.Body)
		require.Equal(t, http.MethodGet, httpErr.Method)
	})

	t.Run("malformed body is permanent", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("{"))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL).Artist(context.Background(), "r1")
		require.Error(t, err)
		require.True(t, retrier.IsPermanent(err))
	})

	t.Run("network failures are retryable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := NewClient(url).Track(context.Background(), "t1")
		require.Error(t, err)
		require.True(t, retrier.IsRetryable(err))
	})

	t.Run("rate limiter honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewClient("http://127.0.0.1:0", WithRateLimit(1, 1)).Track(ctx, "t1")
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("rate limiter wait past the deadline is not retried", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			writeJSON(t, w, Track{ID: "t1"})
		}))
		defer srv.Close()

		client := NewClient(srv.URL, WithRateLimit(0.1, 1))
		_, err := client.Track(context.Background(), "t1")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err = client.Track(ctx, "t1")
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.False(t, retrier.IsRetryable(err))
		require.NoError(t, ctx.Err(), "the limiter fails fast instead of waiting")
		require.EqualValues(t, 1, requests.Load())
	})
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultSearchLimit, clampLimit(0))
	require.Equal(t, 1, clampLimit(1))
	require.Equal(t, MaxSearchLimit, clampLimit(51))
}
