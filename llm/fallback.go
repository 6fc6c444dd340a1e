package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/m4xw311/parley/errors"
)

// FallbackProvider tries each provider in order, retrying transient failures.
type FallbackProvider struct {
	Providers  []Provider
	MaxRetries int
	RetryDelay time.Duration
}

var _ Provider = (*FallbackProvider)(nil)

// IsInitialized reports whether at least one provider is usable.
func (f *FallbackProvider) IsInitialized() bool {
	for _, p := range f.Providers {
		if p.IsInitialized() {
			return true
		}
	}
	return false
}

// ModelName leaves the name unresolved so each provider maps it against its
// own catalog.
func (f *FallbackProvider) ModelName(logical string) string {
	return logical
}

func (f *FallbackProvider) Chat(ctx context.Context, req *ChatRequest) (*Response, error) {
	var lastResp *Response
	var lastErr error
	err := f.each(ctx, func(p Provider) error {
		resp, err := p.Chat(ctx, req)
		if err == nil && (resp == nil || !resp.Success) {
			err = providerFailure(resp)
		}
		if err != nil {
			lastErr = err
			return err
		}
		lastResp = resp
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(lastErr, "all fallback providers failed")
	}
	return lastResp, nil
}

func (f *FallbackProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error) {
	var ch <-chan StreamChunk
	var lastErr error
	err := f.each(ctx, func(p Provider) error {
		c, err := p.Stream(ctx, req)
		if err != nil {
			lastErr = err
			return err
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(lastErr, "all fallback providers failed")
	}
	return ch, nil
}

// each runs call against the providers until one succeeds.
func (f *FallbackProvider) each(ctx context.Context, call func(Provider) error) error {
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for i, p := range f.Providers {
		if !p.IsInitialized() {
			continue
		}
		if i > 0 {
			slog.Warn("Previous provider failed, trying fallback", "provider", i+1)
		}
		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.Info("Retrying provider", "provider", i+1, "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}
			err := call(p)
			if err == nil {
				return nil
			}
			lastErr = err
			if IsTransientError(err) && retry < maxRetries {
				slog.Warn("Provider failed with transient error", "provider", i+1, "error", err)
				continue
			}
			slog.Error("Provider failed", "provider", i+1, "error", err)
			break
		}
	}
	if lastErr == nil {
		return errors.New("no initialized provider")
	}
	return lastErr
}

func providerFailure(resp *Response) error {
	if resp == nil {
		return errors.Wrapf(errors.ErrProvider, "no response")
	}
	return errors.Wrapf(errors.ErrProvider, "%s", resp.Error)
}

// IsTransientError reports whether err looks like a temporary backend or
// network condition worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"429",
		"rate limit",
		"500 internal",
		"502 bad gateway",
		"503 service unavailable",
		"overloaded",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
