package httpadapter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/tiger/lex-bot-tester/api/dialog"
)

// Config configures a JSON-over-HTTP client.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string
	// Token is sent as-is in the Authorization header when set.
	Token         string
	StaticHeaders map[string]string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client sends JSON requests and maps HTTP failures to dialog error kinds.
type Client struct {
	cfg    Config
	client *http.Client
}

type ioCaptureMode string

const (
	captureModeRedacted ioCaptureMode = "redacted"
	captureModeFull     ioCaptureMode = "full"
	captureModeHash     ioCaptureMode = "hash"

	envIOCaptureMode     = "BOT_TESTER_HTTP_CAPTURE_MODE"
	envIOCaptureMaxBytes = "BOT_TESTER_HTTP_CAPTURE_MAX_BYTES"

	defaultIOCaptureMode     = captureModeRedacted
	defaultIOCaptureMaxBytes = 8192
	minIOCaptureMaxBytes     = 256

	// maxResponseBytes bounds decoded response bodies.
	maxResponseBytes = 4 << 20
)

// New constructs a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base url is required", dialog.ErrConfiguration)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StaticHeaders == nil {
		cfg.StaticHeaders = map[string]string{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &Client{cfg: cfg, client: client}, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	// RetryAfter is the server requested backoff, zero when not applicable.
	RetryAfter time.Duration
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.kind }

// Do sends body (when non-nil) as JSON and decodes the response into out
// (when non-nil). It returns the response headers.
func (c *Client) Do(ctx context.Context, method, path string, body any, out any) (http.Header, error) {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		payload = raw
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build %s %s: %v", dialog.ErrConfiguration, method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", c.cfg.Token)
	}
	for key, value := range c.cfg.StaticHeaders {
		req.Header.Set(key, value)
	}

	captureMode := resolveIOCaptureMode()
	captureMaxBytes := resolveIOCaptureMaxBytes()
	input, _ := capturePayload(payload, captureMode, captureMaxBytes, false)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, normalizeNetworkError(method, path, err)
	}
	defer resp.Body.Close()

	raw, truncated, readErr := readBodySample(resp.Body, maxResponseBytes)
	output, _ := capturePayload(raw, captureMode, captureMaxBytes, truncated)
	c.cfg.Logger.Debug("http exchange",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request", input),
		slog.String("response", output))
	if readErr != nil {
		return resp.Header, fmt.Errorf("%w: read %s %s: %v", dialog.ErrTransport, method, path, readErr)
	}

	if err := normalizeStatus(method, path, resp.StatusCode, resp.Header.Get("Retry-After"), raw); err != nil {
		return resp.Header, err
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if truncated {
			return resp.Header, fmt.Errorf("%w: %s %s: response exceeds %d bytes", dialog.ErrRemoteFailure, method, path, maxResponseBytes)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.Header, fmt.Errorf("%w: decode %s %s: %v", dialog.ErrRemoteFailure, method, path, err)
		}
	}
	return resp.Header, nil
}

func normalizeNetworkError(method, path string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s cancelled: %w", method, path, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s timed out: %w", dialog.ErrTransport, method, path, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s %s timed out: %v", dialog.ErrTransport, method, path, err)
	}
	return fmt.Errorf("%w: %s %s: %v", dialog.ErrTransport, method, path, err)
}

// normalizeStatus maps a status to nil for 2xx, a transient transport error
// for 408, 429 and 5xx, a configuration error for 401 and 403, and a remote
// failure for any other 4xx.
func normalizeStatus(method, path string, status int, retryAfter string, body []byte) error {
	if status >= 200 && status <= 299 {
		return nil
	}
	serr := &StatusError{Method: method, Path: path, StatusCode: status, Message: errorMessage(body)}
	switch {
	case status == http.StatusTooManyRequests:
		serr.kind = dialog.ErrTransport
		serr.RetryAfter = retryAfterDuration(retryAfter)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		serr.kind = dialog.ErrTransport
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		serr.kind = dialog.ErrConfiguration
	case status >= 400 && status <= 499:
		serr.kind = dialog.ErrRemoteFailure
	default:
		serr.kind = dialog.ErrTransport
	}
	return serr
}

func errorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

func retryAfterDuration(retryAfter string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 1 {
		return 500 * time.Millisecond
	}
	return time.Duration(seconds) * time.Second
}

func resolveIOCaptureMode() ioCaptureMode {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(envIOCaptureMode)))
	switch ioCaptureMode(raw) {
	case captureModeFull, captureModeHash, captureModeRedacted:
		return ioCaptureMode(raw)
	default:
		return defaultIOCaptureMode
	}
}

func resolveIOCaptureMaxBytes() int {
	raw := strings.TrimSpace(os.Getenv(envIOCaptureMaxBytes))
	if raw == "" {
		return defaultIOCaptureMaxBytes
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < minIOCaptureMaxBytes {
		return defaultIOCaptureMaxBytes
	}
	return value
}

func capturePayload(raw []byte, mode ioCaptureMode, maxBytes int, preTruncated bool) (string, bool) {
	if maxBytes < 1 {
		maxBytes = defaultIOCaptureMaxBytes
	}
	truncated := preTruncated
	sample := raw
	if len(sample) > maxBytes {
		sample = sample[:maxBytes]
		truncated = true
	}
	switch mode {
	case captureModeFull:
		if len(sample) == 0 {
			return "", truncated
		}
		if utf8.Valid(sample) {
			return string(sample), truncated
		}
		return "base64:" + base64.StdEncoding.EncodeToString(sample), truncated
	case captureModeHash:
		return fmt.Sprintf("sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	default:
		return fmt.Sprintf("redacted sha256=%s bytes=%d", hashBytes(sample), len(sample)), truncated
	}
}

func hashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func readBodySample(reader io.Reader, maxBytes int) ([]byte, bool, error) {
	if maxBytes < 1 {
		maxBytes = defaultIOCaptureMaxBytes
	}
	payload, err := io.ReadAll(io.LimitReader(reader, int64(maxBytes+1)))
	if err != nil {
		return nil, false, err
	}
	if len(payload) > maxBytes {
		return payload[:maxBytes], true, nil
	}
	return payload, false, nil
}
