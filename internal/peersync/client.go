package peersync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/shardcore/updatecore/internal/fingerprint"
	"github.com/shardcore/updatecore/internal/updatelog"
)

// TransportErrorClass names the peer-unreachable causes spec.md §4.D
// step 6 treats specially under cantReachIsSuccess.
type TransportErrorClass string

const (
	ErrConnectRefused  TransportErrorClass = "connect_refused"
	ErrConnectTimeout  TransportErrorClass = "connect_timeout"
	ErrNoHTTPResponse  TransportErrorClass = "no_http_response"
	ErrSocket          TransportErrorClass = "socket"
	ErrHTTPUnavailable TransportErrorClass = "http_503"
	ErrHTTPNotFound    TransportErrorClass = "http_404"
	ErrOther           TransportErrorClass = ""
)

// TransportError wraps a failed peer RPC with its classification so
// Sync can apply the cantReachIsSuccess rule without re-deriving it.
type TransportError struct {
	Peer  string
	Class TransportErrorClass
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("peer %s unreachable (%s): %v", e.Peer, e.Class, e.Cause)
}
func (e *TransportError) Unwrap() error { return e.Cause }

// IsCountableAsSuccess reports whether this transport failure is one of
// the causes spec.md §4.D names as eligible for the cantReachIsSuccess override.
func (e *TransportError) IsCountableAsSuccess() bool {
	switch e.Class {
	case ErrConnectRefused, ErrConnectTimeout, ErrNoHTTPResponse, ErrSocket, ErrHTTPUnavailable, ErrHTTPNotFound:
		return true
	default:
		return false
	}
}

// HTTPClient is the production PeerClient: a retrying HTTP client
// against a peer's "/get" endpoint, rate-limited per peer so a
// recovery storm doesn't overwhelm a just-recovered node. Retry/backoff
// shape is grounded on WebhookHTTPClient.doRequestWithRetry.
type HTTPClient struct {
	addr       string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// NewHTTPClient builds a PeerClient for one peer address.
func NewHTTPClient(addr string, timeout time.Duration, requestsPerSecond float64) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &HTTPClient{
		addr: addr,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		limiter:     rate.NewLimiter(limit, 1),
		maxRetries:  2,
		baseBackoff: 100 * time.Millisecond,
		maxBackoff:  2 * time.Second,
	}
}

func (c *HTTPClient) Addr() string { return c.addr }

func (c *HTTPClient) GetFingerprint(ctx context.Context, maxVersion int64) (fingerprint.Fingerprint, error) {
	var fp fingerprint.Fingerprint
	err := c.doGet(ctx, url.Values{
		"qt":            {"/get"},
		"distrib":       {"false"},
		"getFingerprint": {strconv.FormatInt(maxVersion, 10)},
	}, &fp)
	return fp, err
}

func (c *HTTPClient) GetVersions(ctx context.Context, n int, withFingerprint bool) (VersionsResponse, error) {
	q := url.Values{
		"qt":          {"/get"},
		"distrib":     {"false"},
		"getVersions": {strconv.Itoa(n)},
	}
	if withFingerprint {
		q.Set("fingerprint", "true")
	}
	var resp VersionsResponse
	err := c.doGet(ctx, q, &resp)
	return resp, err
}

func (c *HTTPClient) CheckCanHandleVersionRanges(ctx context.Context) (bool, error) {
	var resp struct {
		CanHandleVersionRanges bool `json:"canHandleVersionRanges"`
	}
	err := c.doGet(ctx, url.Values{
		"qt":                          {"/get"},
		"distrib":                     {"false"},
		"checkCanHandleVersionRanges": {"true"},
	}, &resp)
	return resp.CanHandleVersionRanges, err
}

func (c *HTTPClient) GetUpdates(ctx context.Context, spec string, withFingerprint bool) (UpdatesResponse, error) {
	q := url.Values{
		"qt":         {"/get"},
		"distrib":    {"false"},
		"getUpdates": {spec},
	}
	if withFingerprint {
		q.Set("fingerprint", "true")
	}
	var resp UpdatesResponse
	err := c.doGet(ctx, q, &resp)
	return resp, err
}

func (c *HTTPClient) doGet(ctx context.Context, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &TransportError{Peer: c.addr, Class: ErrConnectTimeout, Cause: err}
	}

	target := strings.TrimRight(c.addr, "/") + "/get?" + query.Encode()

	var lastErr error
	backoff := c.baseBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &TransportError{Peer: c.addr, Class: ErrConnectTimeout, Cause: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return fmt.Errorf("build peer request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &TransportError{Peer: c.addr, Class: classifyNetError(err), Cause: err}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusServiceUnavailable:
			lastErr = &TransportError{Peer: c.addr, Class: ErrHTTPUnavailable, Cause: fmt.Errorf("http 503")}
			continue
		case http.StatusNotFound:
			return &TransportError{Peer: c.addr, Class: ErrHTTPNotFound, Cause: fmt.Errorf("http 404")}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("peer %s returned http %d", c.addr, resp.StatusCode)
		}
		if readErr != nil {
			return fmt.Errorf("read peer response: %w", readErr)
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode peer response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func classifyNetError(err error) TransportErrorClass {
	var netErr net.Error
	if ok := asNetError(err, &netErr); ok {
		if netErr.Timeout() {
			return ErrConnectTimeout
		}
	}
	var opErr *net.OpError
	if asOpError(err, &opErr) {
		if opErr.Op == "dial" {
			return ErrConnectRefused
		}
		return ErrSocket
	}
	if err == io.EOF || strings.Contains(err.Error(), "EOF") {
		return ErrNoHTTPResponse
	}
	return ErrOther
}

func asNetError(err error, target *net.Error) bool {
	ne, ok := err.(net.Error)
	if !ok {
		return false
	}
	*target = ne
	return true
}

func asOpError(err error, target **net.OpError) bool {
	oe, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	*target = oe
	return true
}
