// Package network implements the Network Service (NET): outbound HTTP
// fetch ops guarded by capabilities.net.fetch URL globs. The client
// uses golang.org/x/time/rate for a process-wide rate limit and
// internal/retry for transient-failure backoff — the same backoff
// helper the debugger client uses for its inspector dial,
// reused here unchanged for its original purpose (retrying a flaky
// remote call) rather than reimplemented.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/retry"
)

// Config configures the network service's shared client.
type Config struct {
	Timeout time.Duration
	// RatePerSecond and Burst bound outbound request rate process-wide;
	// zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// Service implements the NET ops: fetch, fetch_bytes, fetch_json,
// post_json.
type Service struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewService builds a network service with the given timeout and
// optional rate limit.
func NewService(cfg Config) *Service {
	s := &Service{
		client: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RatePerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return s
}

func netErr(message string) *oprt.Error {
	return oprt.New(oprt.ErrWebViewGeneric, message)
}

func (s *Service) wait(ctx context.Context) *oprt.Error {
	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return netErr("rate limit wait: " + err.Error())
	}
	return nil
}

// doWithRetry performs a single request, retrying transient (5xx and
// network-level) failures with an exponential-backoff helper.
// 4xx responses are not retried: they indicate a client-side error the
// retry would not fix.
func (s *Service) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	cfg := retry.Config{InitialDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second, MaxElapsed: 10 * time.Second, MaxAttempts: 3}
	err := retry.Do(ctx, cfg, "net.fetch "+req.URL.String(), func(ctx context.Context) error {
		r, err := s.client.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return fmt.Errorf("server error %d: %s", r.StatusCode, body)
		}
		resp = r
		return nil
	})
	return resp, err
}

// buildRequest assembles an *http.Request from the guest-supplied
// fetch options struct: method (default GET), headers, and body.
func buildRequest(ctx context.Context, method, url string, opts oprt.Struct, body io.Reader) (*http.Request, *oprt.Error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, netErr("build request: " + err.Error())
	}
	if headers, ok := opts["headers"]; ok {
		if m, ok := headers.(oprt.Struct); ok {
			for k, v := range m {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}
	}
	return req, nil
}

func methodOf(opts oprt.Struct) string {
	if m, ok := opts.String("method"); ok && m != "" {
		return m
	}
	return http.MethodGet
}

// Fetch implements net.fetch(url, options?) → {status, headers, body}
// with body returned as text.
func (s *Service) Fetch(ctx context.Context, url string, opts oprt.Struct) (oprt.Struct, *oprt.Error) {
	body, status, headers, oerr := s.fetchRaw(ctx, url, opts)
	if oerr != nil {
		return nil, oerr
	}
	return oprt.Struct{"status": status, "headers": headers, "body": string(body)}, nil
}

// FetchBytes implements net.fetch_bytes(url, options?) → {status,
// headers, body} with body returned as a byte buffer.
func (s *Service) FetchBytes(ctx context.Context, url string, opts oprt.Struct) (oprt.Struct, *oprt.Error) {
	body, status, headers, oerr := s.fetchRaw(ctx, url, opts)
	if oerr != nil {
		return nil, oerr
	}
	return oprt.Struct{"status": status, "headers": headers, "body": oprt.Bytes(body)}, nil
}

// FetchJSON implements net.fetch_json(url, options?) → {status,
// headers, body} with body decoded as JSON into a generic value.
func (s *Service) FetchJSON(ctx context.Context, url string, opts oprt.Struct) (oprt.Struct, *oprt.Error) {
	body, status, headers, oerr := s.fetchRaw(ctx, url, opts)
	if oerr != nil {
		return nil, oerr
	}
	var decoded any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, netErr("decode JSON response: " + err.Error())
		}
	}
	return oprt.Struct{"status": status, "headers": headers, "body": decoded}, nil
}

// PostJSON implements net.post_json(url, payload, options?) → {status,
// headers, body}.
func (s *Service) PostJSON(ctx context.Context, url string, payload any, opts oprt.Struct) (oprt.Struct, *oprt.Error) {
	if oerr := s.wait(ctx); oerr != nil {
		return nil, oerr
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, netErr("encode JSON payload: " + err.Error())
	}
	req, oerr := buildRequest(ctx, http.MethodPost, url, opts, bytes.NewReader(encoded))
	if oerr != nil {
		return nil, oerr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, netErr(err.Error())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, netErr("read response body: " + err.Error())
	}

	var decoded any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, netErr("decode JSON response: " + err.Error())
		}
	}
	return oprt.Struct{"status": resp.StatusCode, "headers": headerStruct(resp.Header), "body": decoded}, nil
}

func (s *Service) fetchRaw(ctx context.Context, url string, opts oprt.Struct) ([]byte, int, oprt.Struct, *oprt.Error) {
	if oerr := s.wait(ctx); oerr != nil {
		return nil, 0, nil, oerr
	}
	req, oerr := buildRequest(ctx, methodOf(opts), url, opts, nil)
	if oerr != nil {
		return nil, 0, nil, oerr
	}
	resp, err := s.doWithRetry(ctx, req)
	if err != nil {
		return nil, 0, nil, netErr(err.Error())
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, netErr("read response body: " + err.Error())
	}
	return body, resp.StatusCode, headerStruct(resp.Header), nil
}

func headerStruct(h http.Header) oprt.Struct {
	out := make(oprt.Struct, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
