package runner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/core/config"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SchemaObjectsPath is polled to learn whether introspection has produced
// any schema objects yet
const SchemaObjectsPath = "/v1/schema-objects"

// stepIntrospectPoll labels readiness requests in the request log
const stepIntrospectPoll = "introspect_poll"

// Poll defaults applied when the configuration leaves a field unset
const (
	DefaultIntrospectDelay = 2 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxInterval = 15 * time.Second
	DefaultPollTimeout     = 180 * time.Second
)

// ReadinessPath returns the schema objects query for a data source
func ReadinessPath(id string) string {
	return SchemaObjectsPath + "?" + url.Values{"data_source_id": {id}}.Encode()
}

// waitForIntrospection blocks until introspection of the data source is
// observable, according to the configured wait mode. It returns a short
// description of what it waited for.
func (e *execution) waitForIntrospection(ctx context.Context, st *StepResult, id string) (string, error) {
	ic := e.r.config.Introspection
	delay := durationOr(ic.Delay, DefaultIntrospectDelay)

	switch ic.Wait {
	case config.WaitNone:
		return "started", nil
	case config.WaitSleep:
		if err := e.r.sleep(ctx, delay); err != nil {
			return "", err
		}
		return fmt.Sprintf("started, waited %s", delay), nil
	case config.WaitPoll, "":
		return e.pollReadiness(ctx, st, id, delay)
	default:
		return "", fmt.Errorf("unknown introspection wait mode %q", ic.Wait)
	}
}

func (e *execution) pollReadiness(ctx context.Context, st *StepResult, id string, fallback time.Duration) (string, error) {
	ic := e.r.config.Introspection
	interval := durationOr(ic.PollInterval, DefaultPollInterval)
	maxInterval := durationOr(ic.PollMaxInterval, DefaultPollMaxInterval)
	if maxInterval < interval {
		maxInterval = interval
	}
	timeout := durationOr(ic.PollTimeout, DefaultPollTimeout)

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := e.r.logger.With(zap.String("data_source_id", id))
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	path := ReadinessPath(id)
	start := time.Now()

	var lastErr error
poll:
	for attempt := 1; ic.PollMaxAttempts <= 0 || attempt <= ic.PollMaxAttempts; attempt++ {
		if err := limiter.Wait(pollCtx); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			break poll
		}

		p, err := e.request(pollCtx, stepIntrospectPoll, "GET", path, nil)
		switch {
		case err == nil:
			if n := readyItems(p); n > 0 {
				log.Info("introspection ready", zap.Int("attempt", attempt), zap.Int("items", n))
				return fmt.Sprintf("ready: %d schema objects after %d polls (%s)",
					n, attempt, time.Since(start).Round(time.Millisecond)), nil
			}
			lastErr = nil
		case StatusCode(err) == 404 || StatusCode(err) == 405:
			log.Info("readiness endpoint unavailable, falling back to fixed delay", zap.Duration("delay", fallback))
			st.Warnings = append(st.Warnings, fmt.Sprintf("%s not available, waited %s instead", SchemaObjectsPath, fallback))
			if err := e.r.sleep(ctx, fallback); err != nil {
				return "", err
			}
			return fmt.Sprintf("started, waited %s", fallback), nil
		default:
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if pollCtx.Err() != nil {
				break poll
			}
			lastErr = err
			log.Debug("readiness poll failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
		limiter.SetLimit(rate.Every(interval))
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	if lastErr != nil {
		return "", fmt.Errorf("%w after %s: %v", ErrIntrospectionTimeout, elapsed, lastErr)
	}
	return "", fmt.Errorf("%w after %s: no schema objects for data source %s", ErrIntrospectionTimeout, elapsed, id)
}

// readyItems counts the schema objects in a readiness response. Both
// {"items": [...]} and a bare array are understood.
func readyItems(p *Payload) int {
	if p == nil || p.Kind != KindJSON {
		return 0
	}
	items := gjson.GetBytes(p.Body, "items")
	if !items.Exists() {
		items = gjson.ParseBytes(p.Body)
	}
	if !items.IsArray() {
		return 0
	}
	return len(items.Array())
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// IsTimeout reports whether err is an introspection readiness timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrIntrospectionTimeout)
}
