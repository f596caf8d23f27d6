package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/parley/pkg/datastore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newService starts a fake translation service that counts its calls.
func newService(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func echoHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		var in request
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{TranslatedText: "[" + in.FromLanguage + "->" + in.ToLanguage + "] " + in.Text})
	}
}

func TestGatewayTranslate(t *testing.T) {
	req := require.New(t)
	srv, calls := newService(t, echoHandler(t))
	g := NewGateway(Options{Endpoint: srv.URL, Logger: quietLogger()})

	got, err := g.Translate(context.Background(), "hello", "en", "es")
	req.NoError(err)
	req.Equal("[en->es] hello", got)
	req.EqualValues(1, calls.Load())
	req.Equal(Stats{Requests: 1}, g.Stats())
}

func TestGatewaySameLanguageSkipsNetwork(t *testing.T) {
	req := require.New(t)
	srv, calls := newService(t, echoHandler(t))
	g := NewGateway(Options{Endpoint: srv.URL, Logger: quietLogger()})

	got, err := g.Translate(context.Background(), "hello", "en", "EN")
	req.NoError(err)
	req.Equal("hello", got)

	got, err = g.Translate(context.Background(), "   ", "en", "es")
	req.NoError(err)
	req.Equal("   ", got)

	req.Zero(calls.Load())
}

func TestGatewayFallsBackToOriginalText(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"rate limited", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		}},
		{"empty translation", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"translatedText":""}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			srv, _ := newService(t, tt.handler)
			g := NewGateway(Options{Endpoint: srv.URL, Logger: quietLogger()})

			got, err := g.Translate(context.Background(), "hello", "en", "es")
			req.ErrorIs(err, ErrGatewayFailure)
			req.Equal("hello", got)
			req.EqualValues(1, g.Stats().Failures)
		})
	}
}

func TestGatewayUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	g := NewGateway(Options{Endpoint: url, Logger: quietLogger()})
	got, err := g.Translate(context.Background(), "hello", "en", "es")
	require.ErrorIs(t, err, ErrGatewayFailure)
	require.Equal(t, "hello", got)
}

func TestGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	g := NewGateway(Options{Endpoint: srv.URL, Timeout: 50 * time.Millisecond, Logger: quietLogger()})

	start := time.Now()
	got, err := g.Translate(context.Background(), "hello", "en", "es")
	require.ErrorIs(t, err, ErrGatewayFailure)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, "hello", got)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestGatewayCache(t *testing.T) {
	req := require.New(t)
	srv, calls := newService(t, echoHandler(t))
	cache := datastore.NewMemory(10)
	g := NewGateway(Options{Endpoint: srv.URL, Cache: cache, Logger: quietLogger()})

	for i := 0; i < 3; i++ {
		got, err := g.Translate(context.Background(), "hello", "en", "es")
		req.NoError(err)
		req.Equal("[en->es] hello", got)
	}
	req.EqualValues(1, calls.Load())
	req.EqualValues(2, g.Stats().CacheHits)
}

func TestGatewayDoesNotCacheFallbacks(t *testing.T) {
	req := require.New(t)
	var fail atomic.Bool
	fail.Store(true)
	srv, calls := newService(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		echoHandler(t)(w, r)
	})
	cache := datastore.NewMemory(10)
	g := NewGateway(Options{Endpoint: srv.URL, Cache: cache, Logger: quietLogger()})

	_, err := g.Translate(context.Background(), "hello", "en", "es")
	req.Error(err)

	n, err := cache.Count(context.Background())
	req.NoError(err)
	req.Zero(n)

	fail.Store(false)
	got, err := g.Translate(context.Background(), "hello", "en", "es")
	req.NoError(err)
	req.Equal("[en->es] hello", got)
	req.EqualValues(2, calls.Load())
}

func TestFuncAdapter(t *testing.T) {
	var tr Translator = Func(func(_ context.Context, text, from, to string) (string, error) {
		return from + ":" + to + ":" + text, nil
	})
	got, err := tr.Translate(context.Background(), "x", "en", "de")
	require.NoError(t, err)
	require.Equal(t, "en:de:x", got)
}

func TestAlreadyIn(t *testing.T) {
	req := require.New(t)

	req.True(AlreadyIn("Esta es una frase bastante larga escrita completamente en español para que el detector la reconozca sin ninguna duda.", "es"))
	req.True(AlreadyIn("This is a fairly long sentence written entirely in English so that the detector recognizes it without any doubt.", "en-GB"))
	req.False(AlreadyIn("This is a fairly long sentence written entirely in English so that the detector recognizes it without any doubt.", "es"))
	req.False(AlreadyIn("hola", "es"))
	req.False(AlreadyIn("", "en"))
}
