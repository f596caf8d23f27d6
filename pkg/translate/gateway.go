package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/NicolasHaas/parley/pkg/crypto"
	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/model"
)

const (
	DefaultTimeout = 5 * time.Second

	// maxResponseBody caps how much of the service response is read.
	maxResponseBody = 1 << 20
)

// Options configures a Gateway.
type Options struct {
	Endpoint string                     // URL receiving POST {text, fromLanguage, toLanguage}
	Timeout  time.Duration              // per call; DefaultTimeout when zero
	Client   *http.Client               // http.DefaultClient's transport when nil
	Cache    datastore.TranslationCache // optional
	Logger   *slog.Logger
}

type request struct {
	Text         string `json:"text"`
	FromLanguage string `json:"fromLanguage"`
	ToLanguage   string `json:"toLanguage"`
}

type response struct {
	TranslatedText string `json:"translatedText"`
}

// Stats is a point-in-time view of gateway activity.
type Stats struct {
	Requests  int64 `json:"requests"`
	Failures  int64 `json:"failures"`
	CacheHits int64 `json:"cache_hits"`
}

// Gateway calls the remote translation HTTP service.
type Gateway struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
	cache    datastore.TranslationCache
	log      *slog.Logger

	requests  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
}

var _ Translator = (*Gateway)(nil)

// NewGateway creates a Gateway.
func NewGateway(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		endpoint: opts.Endpoint,
		timeout:  timeout,
		client:   client,
		cache:    opts.Cache,
		log:      log.With(logging.Component("translator")),
	}
}

// Translate returns text translated from one language to another. On any
// failure it logs, and returns the original text with an error.
func (g *Gateway) Translate(ctx context.Context, text, from, to string) (string, error) {
	if model.SameLanguage(from, to) || strings.TrimSpace(text) == "" {
		return text, nil
	}

	key := crypto.CacheKey(strings.ToLower(from), strings.ToLower(to), text)
	if cached, ok := g.lookup(ctx, key); ok {
		return cached, nil
	}

	g.requests.Add(1)
	start := time.Now()
	translated, err := g.call(ctx, text, from, to)
	if err != nil {
		g.failures.Add(1)
		g.log.Warn("translation failed, using original text",
			"from", from, "to", to, "elapsed", time.Since(start), "err", err)
		return text, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}
	g.log.Debug("translated", "from", from, "to", to, "elapsed", time.Since(start))

	g.store(ctx, &model.Translation{
		Key:            key,
		FromLanguage:   from,
		ToLanguage:     to,
		SourceText:     text,
		TranslatedText: translated,
	})
	return translated, nil
}

func (g *Gateway) call(ctx context.Context, text, from, to string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	body, err := json.Marshal(request{Text: text, FromLanguage: from, ToLanguage: to})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return "", fmt.Errorf("translation service returned %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.TranslatedText == "" {
		return "", ErrEmptyResult
	}
	return out.TranslatedText, nil
}

func (g *Gateway) lookup(ctx context.Context, key string) (string, bool) {
	if g.cache == nil {
		return "", false
	}
	t, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn("translation cache lookup failed", "err", err)
		return "", false
	}
	if t == nil {
		return "", false
	}
	g.cacheHits.Add(1)
	return t.TranslatedText, true
}

func (g *Gateway) store(ctx context.Context, t *model.Translation) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Put(ctx, t); err != nil {
		g.log.Warn("translation cache store failed", "err", err)
	}
}

// Stats returns the gateway counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Requests:  g.requests.Load(),
		Failures:  g.failures.Load(),
		CacheHits: g.cacheHits.Load(),
	}
}
