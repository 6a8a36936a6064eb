package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"synapse/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rohanthewiz/serr"
)

// DefaultTimeout bounds every remote round trip.
const DefaultTimeout = 10 * time.Second

// Remote is the server side of sync.
type Remote interface {
	Pull(ctx context.Context, since int64) (*PullResponse, error)
	Push(ctx context.Context, ops []models.OperationLogEntry) ([]PushResult, error)
	Initial(ctx context.Context) (*models.Snapshot, error)
}

// HTTPRemote talks to the sync API over HTTP with a bearer token.
type HTTPRemote struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

func NewHTTPRemote(baseURL, token string, timeout time.Duration) *HTTPRemote {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPRemote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		token:   token,
	}
}

// SetToken swaps the bearer token, e.g. after reauthentication.
func (r *HTTPRemote) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

func (r *HTTPRemote) bearer() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.token
}

// checkExpiry fails fast on a JWT whose exp has passed, so an expired
// session surfaces as AuthError without a round trip. Opaque tokens pass.
func checkExpiry(token string, now time.Time) error {
	if token == "" {
		return nil
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(now) {
		return &AuthError{Message: "session token expired at " + exp.UTC().Format(time.RFC3339)}
	}
	return nil
}

func (r *HTTPRemote) Pull(ctx context.Context, since int64) (*PullResponse, error) {
	var resp PullResponse
	if err := r.do(ctx, "pull", http.MethodPost, "/api/sync/pull", PullRequest{Since: since}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *HTTPRemote) Push(ctx context.Context, ops []models.OperationLogEntry) ([]PushResult, error) {
	var resp PushResponse
	if err := r.do(ctx, "push", http.MethodPost, "/api/sync/push", PushRequest{Operations: ops}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (r *HTTPRemote) Initial(ctx context.Context) (*models.Snapshot, error) {
	var resp InitialResponse
	if err := r.do(ctx, "initial sync", http.MethodGet, "/api/sync/initial", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Snapshot(), nil
}

func (r *HTTPRemote) do(ctx context.Context, op, method, path string, in, out any) error {
	token := r.bearer()
	if err := checkExpiry(token, time.Now()); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return serr.Wrap(err, "failed to marshal "+op+" request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, body)
	if err != nil {
		return serr.Wrap(err, "failed to create "+op+" request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, Message: readSnippet(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &HTTPError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       readSnippet(resp.Body),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// a body cut off mid-read is a transport problem, not a bad payload
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
			return &NetworkError{Op: op, Err: err}
		}
		return serr.Wrap(err, "failed to decode "+op+" response")
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
