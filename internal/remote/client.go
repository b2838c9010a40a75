package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/pkg/httpcontext"
	appLogger "github.com/fastygo/planner/pkg/logger"
)

// Config holds backend connection settings.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	ServiceSecret   string
	TokenTTL        time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	BreakerProbes   uint32
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStateObserver receives breaker state names on every transition.
func WithStateObserver(fn func(state string)) Option {
	return func(c *Client) { c.onState = fn }
}

// Client talks to the scheduling backend. All calls share one circuit breaker.
type Client struct {
	http    *fasthttp.Client
	baseURL string
	timeout time.Duration
	secret  []byte
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
	onState func(string)
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerProbes == 0 {
		cfg.BreakerProbes = 1
	}

	c := &Client{
		http:    &fasthttp.Client{Name: "planner", MaxIdleConnDuration: time.Minute},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		secret:  []byte(cfg.ServiceSecret),
		ttl:     cfg.TokenTTL,
		logger:  logger.Named("remote"),
	}
	for _, opt := range opts {
		opt(c)
	}

	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: cfg.BreakerProbes,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if c.onState != nil {
				c.onState(to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			// only transport failures and 5xx count against the backend
			return err == nil || !domain.IsRetryable(err) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return c
}

// BreakerState reports the current breaker state name.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// WithIdempotencyKey pins the key sent with mutations issued under ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return httpcontext.WithIdempotencyKey(ctx, key)
}

// idempotencyKeyFrom prefers the caller's key so a retried request is recognized by the backend.
func idempotencyKeyFrom(ctx context.Context) string {
	if key := httpcontext.IdempotencyKey(ctx); key != "" {
		return key
	}
	return uuid.NewString()
}

// call describes one backend request.
type call struct {
	method     string
	path       string
	body       interface{}
	mutation   bool
	badRequest domain.ErrorCode
	notFound   domain.ErrorCode
}

type reply struct {
	status int
	body   []byte
}

// data returns the envelope payload.
func (r reply) data() gjson.Result {
	return gjson.GetBytes(r.body, "data")
}

func (c *Client) do(ctx context.Context, scope string, op call) (reply, error) {
	if err := ctx.Err(); err != nil {
		return reply{}, domain.WrapError(domain.ErrCodeTransient, "request cancelled", err)
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(c.baseURL + op.path)
	req.Header.SetMethod(op.method)
	req.Header.Set("Accept", "application/json")
	if reqID := appLogger.RequestID(ctx); reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	token, err := c.token(scope)
	if err != nil {
		return reply{}, domain.WrapError(domain.ErrCodeInternal, "sign backend token", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if op.mutation {
		req.Header.Set(httpcontext.IdempotencyHeader, idempotencyKeyFrom(ctx))
	}
	if op.body != nil {
		payload, err := json.Marshal(op.body)
		if err != nil {
			return reply{}, domain.WrapError(domain.ErrCodeInvalid, "encode request", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseResponse(resp)
		if err := c.http.DoDeadline(req, resp, deadline); err != nil {
			return nil, domain.WrapError(domain.ErrCodeTransient, "backend unreachable", err)
		}
		out := reply{status: resp.StatusCode(), body: append([]byte(nil), resp.Body()...)}
		if out.status >= fasthttp.StatusInternalServerError {
			return nil, domain.Errorf(domain.ErrCodeTransient, "backend returned %d: %s", out.status, message(out.body))
		}
		return out, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return reply{}, domain.WrapError(domain.ErrCodeTransient, "backend circuit open", err)
		}
		c.logger.Debug("backend call failed",
			zap.String("method", op.method),
			zap.String("path", op.path),
			zap.Error(err))
		return reply{}, err
	}

	out := result.(reply)
	if err := classify(out, op); err != nil {
		return reply{}, err
	}
	return out, nil
}

func (c *Client) token(scope string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": scope,
		"iat":     now.Unix(),
		"exp":     now.Add(c.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// classify maps non-2xx statuses to domain errors.
func classify(r reply, op call) error {
	if r.status >= 200 && r.status < 300 {
		if len(r.body) > 0 && !gjson.ValidBytes(r.body) {
			return domain.Errorf(domain.ErrCodeInternal, "backend returned malformed body for %s %s", op.method, op.path)
		}
		return nil
	}

	msg := message(r.body)
	code := gjson.GetBytes(r.body, "code").String()
	switch r.status {
	case fasthttp.StatusBadRequest, fasthttp.StatusUnprocessableEntity:
		bad := op.badRequest
		if bad == "" {
			bad = domain.ErrCodeInvalid
		}
		if code == string(domain.ErrCodeInvalidSplitPoint) {
			bad = domain.ErrCodeInvalidSplitPoint
		}
		return domain.NewError(bad, msg)
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return domain.NewError(domain.ErrCodeUnauthorized, msg)
	case fasthttp.StatusNotFound:
		nf := op.notFound
		if nf == "" {
			nf = domain.ErrCodeNotFound
			if op.mutation {
				nf = domain.ErrCodeStale
			}
		}
		return domain.NewError(nf, msg)
	case fasthttp.StatusConflict:
		if code == string(domain.ErrCodeCycleDetected) {
			return domain.NewError(domain.ErrCodeCycleDetected, msg)
		}
		return domain.NewError(domain.ErrCodeConflict, msg)
	case fasthttp.StatusTooManyRequests, fasthttp.StatusRequestTimeout:
		return domain.NewError(domain.ErrCodeTransient, msg)
	default:
		return domain.Errorf(domain.ErrCodeInvalid, "unexpected status %d: %s", r.status, msg)
	}
}

func message(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, p := range []string{"error.message", "error", "message"} {
		if v := gjson.GetBytes(body, p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

// decode unmarshals a gjson value into out.
func decode(v gjson.Result, out interface{}) error {
	if !v.Exists() {
		return domain.NewError(domain.ErrCodeInternal, "backend response has no data")
	}
	if err := json.Unmarshal([]byte(v.Raw), out); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "decode backend response", err)
	}
	return nil
}

func path(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}
