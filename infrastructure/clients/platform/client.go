package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"crosspost/domain/model"
)

// maxAPIBody bounds how much of a platform response is read; error payloads
// never need more.
const maxAPIBody = 1 << 20

const defaultRetryAfter = 60 * time.Second

// apiCall executes the request and returns the body on 2xx. Transport
// failures and non-2xx statuses come back already classified into error
// kinds, so callers never inspect status codes.
func apiCall(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return nil, model.WrapError(model.KindPlatformTransient, err, "reading platform response")
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	return nil, classifyStatus(resp.StatusCode, resp.Header, body)
}

// tokenCall executes a token-endpoint request and decodes the payload into
// out. A rejected grant is INVALID_GRANT no matter which status code carries
// it, so revoked consents route to the reconnect path instead of retries.
func tokenCall(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		return model.WrapError(model.KindPlatformTransient, err, "reading token response")
	}

	var probe struct {
		Error     string `json:"error"`
		ErrorDesc string `json:"error_description"`
	}
	_ = json.Unmarshal(body, &probe)
	if probe.Error == "invalid_grant" {
		return model.Errf(model.KindInvalidGrant, "authorization grant rejected: %s", probe.ErrorDesc)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, resp.Header, body)
	}
	if probe.Error != "" {
		return model.Errf(model.KindPlatformPermanent, "token endpoint error: %s %s", probe.Error, probe.ErrorDesc)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.WrapError(model.KindPlatformTransient, err, "malformed token response")
	}
	return nil
}

// classifyOAuth2 maps x/oauth2 exchange and refresh failures the same way
// tokenCall does for hand-built token requests.
func classifyOAuth2(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		if rErr.ErrorCode == "invalid_grant" {
			return model.Errf(model.KindInvalidGrant, "authorization grant rejected: %s", rErr.ErrorDescription)
		}
		if rErr.Response != nil {
			return classifyStatus(rErr.Response.StatusCode, rErr.Response.Header, rErr.Body)
		}
		return model.WrapError(model.KindPlatformPermanent, err, "token endpoint rejected request")
	}
	return classifyTransport(err)
}

// classifyStatus maps a platform HTTP status onto the closed error kind set:
// 429 is RATE_LIMITED carrying the Retry-After hint, 401 expired auth, 403
// revoked auth, remaining 4xx permanent rejections, 5xx transient.
func classifyStatus(status int, header http.Header, body []byte) error {
	detail := bodySnippet(body)
	switch {
	case status == http.StatusTooManyRequests:
		return &model.AppError{
			Kind:       model.KindRateLimited,
			Message:    "platform rate limit hit",
			RetryAfter: retryAfterHint(header),
		}
	case status == http.StatusUnauthorized:
		return model.Errf(model.KindAuthExpired, "platform rejected credentials (401): %s", detail)
	case status == http.StatusForbidden:
		return model.Errf(model.KindAuthRevoked, "platform denied access (403): %s", detail)
	case status >= 400 && status < 500:
		return model.Errf(model.KindPlatformPermanent, "platform rejected request (%d): %s", status, detail)
	default:
		return model.Errf(model.KindPlatformTransient, "platform error (%d): %s", status, detail)
	}
}

func classifyTransport(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.WrapError(model.KindTimeout, err, "platform call timed out")
	}
	return model.WrapError(model.KindPlatformTransient, err, "platform unreachable")
}

func retryAfterHint(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "…"
	}
	if s == "" {
		return "(empty body)"
	}
	return s
}

// mediaContentType maps a video container to the MIME type upload endpoints
// expect.
func mediaContentType(container string) string {
	switch strings.ToLower(container) {
	case "mp4":
		return "video/mp4"
	case "mov":
		return "video/quicktime"
	case "webm":
		return "video/webm"
	case "avi":
		return "video/x-msvideo"
	case "wmv":
		return "video/x-ms-wmv"
	case "flv":
		return "video/x-flv"
	case "mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
