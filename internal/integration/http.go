package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zachbroad/webhook-dispatch/internal/model"
	"golang.org/x/net/http/httpguts"
)

const (
	userAgent        = "webhook-dispatch/1.0"
	DefaultBodyLimit = 4096
)

// postJSON performs a single POST and folds every failure mode into a result.
func postJSON(ctx context.Context, client HTTPDoer, target string, req *Request, bodyLimit int64) model.DeliveryResult {
	start := time.Now()
	result := func(r model.DeliveryResult) model.DeliveryResult {
		r.DeliveryTimeMs = time.Since(start).Milliseconds()
		return r
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return result(configFailure(fmt.Sprintf("build request: %v", err)))
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(httpReq)
	if err != nil {
		return result(model.DeliveryResult{Failure: classifyTransportError(ctx, err), Error: err.Error()})
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	code := resp.StatusCode
	r := model.DeliveryResult{
		StatusCode:   &code,
		ResponseBody: string(body),
	}
	if kind := model.ClassifyStatus(code); kind != model.FailureNone {
		r.Failure = kind
		r.Error = fmt.Sprintf("HTTP %d", code)
		return result(r)
	}
	r.Success = true
	return result(r)
}

func classifyTransportError(ctx context.Context, err error) model.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return model.FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.FailureTimeout
	}
	return model.FailureNetwork
}

// validateHeaders rejects custom headers that postJSON could not send as is.
func validateHeaders(headers map[string]string) error {
	for name, value := range headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid custom header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("invalid value for custom header %q", name)
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url host is required")
	}
	return nil
}
