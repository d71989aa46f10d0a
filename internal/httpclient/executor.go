package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
// It doubles from 200ms and is capped at 2s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 3 {
		return 2 * time.Second
	}
	return 200 * time.Millisecond << attempt
}

// StatusError is returned when the final response carries a non-2xx status.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// DecodeError is returned when a 2xx body can not be decoded.
type DecodeError struct {
	Status int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Executor handles rate-limited, retrying HTTP execution with JSON decoding.
type Executor struct {
	logger   *zap.Logger
	rateMgr  *rate.Manager
	http     *http.Client
	retryMax int
	tag      string
	backoff  func(attempt int) time.Duration
}

// New creates an Executor. tag prefixes log events (e.g. "catalog" -> "catalog.http_failed").
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Executor{
		logger:   logger,
		rateMgr:  rateMgr,
		http:     httpClient,
		retryMax: retryMax,
		tag:      tag,
		backoff:  Backoff,
	}
}

// SetBackoff overrides the retry delay schedule.
func (e *Executor) SetBackoff(fn func(attempt int) time.Duration) {
	if fn != nil {
		e.backoff = fn
	}
}

// DoJSON executes req with rate limiting and retries, then JSON-decodes the response into out.
// Transport failures and 5xx responses are retried up to retryMax times; 4xx are returned at once
// as *StatusError. It returns the final HTTP status (0 when no response was received).
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) (int, error) {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return 0, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	lastStatus := 0
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.backoff(attempt - 1)):
			case <-ctx.Done():
				return lastStatus, ctx.Err()
			}
		}

		attemptReq, err := rewind(ctx, req)
		if err != nil {
			return 0, err
		}

		start := time.Now()
		status, body, err := e.roundTrip(attemptReq)
		elapsed := time.Since(start)
		if err != nil {
			lastErr, lastStatus = err, 0
			e.logger.Warn(e.tag+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}

		if status >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.Int("status", status),
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt),
				zap.Duration("latency", elapsed))
			lastErr, lastStatus = &StatusError{Status: status, Body: body}, status
			continue
		}

		if status < 200 || status >= 300 {
			return status, &StatusError{Status: status, Body: body}
		}

		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.tag+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.Int("body_bytes", len(body)))
				return status, &DecodeError{Status: status, Err: err}
			}
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed))

		return status, nil
	}

	return lastStatus, fmt.Errorf("%s request failed after %d attempts: %w", e.tag, e.retryMax+1, lastErr)
}

func (e *Executor) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// rewind returns a copy of req bound to ctx with a fresh body so retries re-send it.
func rewind(ctx context.Context, req *http.Request) (*http.Request, error) {
	r := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind body: %w", err)
		}
		r.Body = body
	}
	return r, nil
}
