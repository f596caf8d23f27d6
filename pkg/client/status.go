package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Health is the server's /healthz document.
type Health struct {
	Status string `json:"status"`
	Build  struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
	} `json:"build"`
	Uptime  string `json:"uptime"`
	Session struct {
		Connections    int   `json:"connections"`
		Queued         int   `json:"queued"`
		Rooms          int   `json:"rooms"`
		PairingPending bool  `json:"pairing_pending"`
		Translating    int64 `json:"translating"`
	} `json:"session"`
}

// HealthURL derives the health endpoint from a websocket URL
// (ws://host:3002/ws -> http://host:3002/healthz).
func HealthURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("client: parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/healthz"
	u.RawQuery = ""
	return u.String(), nil
}

// FetchHealth reads the server's health document. A draining server answers
// 503 with a valid body, which is returned without error.
func FetchHealth(ctx context.Context, httpClient *http.Client, wsURL string) (*Health, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	target, err := HealthURL(wsURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, fmt.Errorf("client: fetch health: status %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("client: decode health: %w", err)
	}
	return &h, nil
}

// RenderHealth prints h as a two-column table.
func RenderHealth(w io.Writer, h *Health) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	table.AppendBulk([][]string{
		{"status", h.Status},
		{"version", h.Build.Version},
		{"uptime", h.Uptime},
		{"connections", strconv.Itoa(h.Session.Connections)},
		{"queued", strconv.Itoa(h.Session.Queued)},
		{"rooms", strconv.Itoa(h.Session.Rooms)},
		{"pairing pending", strconv.FormatBool(h.Session.PairingPending)},
		{"translating", strconv.FormatInt(h.Session.Translating, 10)},
	})
	table.Render()
}
