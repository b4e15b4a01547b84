package bili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	apiReferer       = "https://www.bilibili.com/"

	defaultAPITimeout = 10 * time.Second
)

// Client wraps the upstream REST API: browser-like headers on every
// request, the common {code,message,data} envelope decoded once, and
// error codes mapped to the package sentinels.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
	}
}

// NoRedirectClient builds an HTTP client that reports redirects instead
// of following them, for hop-by-hop short-link resolution.
func NoRedirectClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type apiEnvelope struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Result  json.RawMessage `json:"result"`
}

// GetJSON performs a GET against endpoint with query, validates the
// envelope and unmarshals the payload into out. Bangumi endpoints put
// the payload under "result" instead of "data"; whichever is present
// wins.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	target := endpoint
	if len(query) > 0 {
		target = endpoint + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", apiReferer)

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Status: resp.StatusCode, Msg: "read body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusPreconditionFailed {
			return fmt.Errorf("http %d: %w", resp.StatusCode, ErrRateLimited)
		}
		return &UpstreamError{Status: resp.StatusCode, Msg: "unexpected status"}
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &UpstreamError{Status: resp.StatusCode, Msg: "decode envelope", Err: err}
	}
	codeErr := mapAPICode(envelope.Code, envelope.Message)

	payload := envelope.Data
	if len(payload) == 0 || string(payload) == "null" {
		payload = envelope.Result
	}
	hasPayload := len(payload) > 0 && string(payload) != "null"

	// Some endpoints report a non-zero code yet still attach a usable
	// payload (the nav call for signing keys does this when no cookie
	// is present), so decode what arrived before surfacing the error.
	if hasPayload && out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			if codeErr != nil {
				return codeErr
			}
			return &UpstreamError{Status: resp.StatusCode, Code: envelope.Code, Msg: "decode payload", Err: err}
		}
	}
	if codeErr != nil {
		return codeErr
	}
	if !hasPayload {
		return fmt.Errorf("empty payload: %w", ErrNotFound)
	}
	return nil
}

func mapAPICode(code int64, message string) error {
	switch code {
	case 0:
		return nil
	case -404, 62002, 62012:
		return fmt.Errorf("code %d: %s: %w", code, message, ErrNotFound)
	case -412:
		return fmt.Errorf("code %d: %s: %w", code, message, ErrRateLimited)
	default:
		return &UpstreamError{Code: code, Msg: message}
	}
}
