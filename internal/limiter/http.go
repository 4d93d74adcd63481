package limiter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"roomchat/pkg/interfaces"
)

// maxResponseBytes caps the plain text body read from a remote limiter
const maxResponseBytes = 64

// HTTPResolver addresses limiter actors hosted by another roomchat process
// through the plain text limiter protocol: POST records an event, GET only reports
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver targets baseURL, e.g. http://limiter:8080.
func NewHTTPResolver(baseURL string, client *http.Client) *HTTPResolver {
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &HTTPResolver{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Resolve implements interfaces.LimiterResolver.
func (r *HTTPResolver) Resolve(identity string) interfaces.LimiterStub {
	return &httpStub{
		url:    r.baseURL + "/api/limiter/" + url.PathEscape(identity),
		client: r.client,
	}
}

type httpStub struct {
	url    string
	client *http.Client
}

func (s *httpStub) Cooldown(ctx context.Context, consume bool) (time.Duration, error) {
	method := http.MethodGet
	if consume {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build limiter request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("limiter request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("failed to read limiter response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("limiter responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	wait, err := ParseSeconds(string(body))
	if err != nil {
		return 0, fmt.Errorf("invalid limiter response %q: %w", body, err)
	}
	return wait, nil
}

// ServeCooldown answers one limiter protocol request against stub. POST records
// an event, any other method only reports the current cooldown.
func ServeCooldown(w http.ResponseWriter, r *http.Request, stub interfaces.LimiterStub) {
	wait, err := stub.Cooldown(r.Context(), r.Method == http.MethodPost)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, FormatSeconds(wait))
}
