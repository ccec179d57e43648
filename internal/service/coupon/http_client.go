// Package coupon содержит реализации domain.CouponGateway: HTTP-клиент внешней
// купонной системы и статический in-memory справочник купонов.
package coupon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/vladislavdragonenkov/enrolcart/internal/domain"
)

const (
	defaultTimeout = 3 * time.Second
	maxBodyBytes   = 1 << 20
)

// errBusinessReply помечает ответ 4xx с телом CouponResult: для breaker это не сбой.
var errBusinessReply = errors.New("coupon authority business reply")

// HTTPClient обращается к внешней купонной системе по JSON API.
// Все вызовы идут через circuit breaker: при серии сбоев запросы не отправляются.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *log.Entry
}

// ClientOption настраивает HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient подменяет http.Client (например, в тестах).
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.http = client
		}
	}
}

// WithLogger задаёт logger клиента.
func WithLogger(logger *log.Entry) ClientOption {
	return func(c *HTTPClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewHTTPClient создаёт клиента купонной системы по базовому URL.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  log.WithField("component", "coupon-client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "CouponAuthority",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errBusinessReply)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(log.Fields{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// State возвращает состояние circuit breaker.
func (c *HTTPClient) State() gobreaker.State {
	return c.cb.State()
}

type resolveResponse struct {
	CouponID string `json:"coupon_id"`
}

// ResolveCouponID ищет купон по коду. Неизвестный код (404) даёт пустую строку.
func (c *HTTPClient) ResolveCouponID(ctx context.Context, code string) (string, error) {
	endpoint := c.baseURL + "/coupons/resolve?code=" + url.QueryEscape(code)

	resp, err := executeWithBreaker(c.cb, func() (resolveResponse, error) {
		var out resolveResponse
		status, err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
		if status == http.StatusNotFound {
			return resolveResponse{}, nil
		}
		return out, err
	})
	if err != nil {
		return "", c.unavailable("resolve", err)
	}
	return resp.CouponID, nil
}

// Validate проверяет купон на снимке корзины.
func (c *HTTPClient) Validate(ctx context.Context, cart domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	return c.call(ctx, "validate", "/coupons/"+url.PathEscape(couponID)+"/validate", cart)
}

// Apply регистрирует использование купона.
func (c *HTTPClient) Apply(ctx context.Context, cart domain.CartSnapshot, couponID string) (domain.CouponResult, error) {
	return c.call(ctx, "apply", "/coupons/"+url.PathEscape(couponID)+"/apply", cart)
}

// Cancel отменяет использование купона корзины.
func (c *HTTPClient) Cancel(ctx context.Context, cart domain.CartSnapshot) (domain.CouponResult, error) {
	return c.call(ctx, "cancel", "/usages/cancel", cart)
}

func (c *HTTPClient) call(ctx context.Context, operation, path string, cart domain.CartSnapshot) (domain.CouponResult, error) {
	body, err := json.Marshal(cart)
	if err != nil {
		return domain.CouponResult{}, fmt.Errorf("marshal cart snapshot: %w", err)
	}

	result, err := executeWithBreaker(c.cb, func() (domain.CouponResult, error) {
		var out domain.CouponResult
		_, err := c.do(ctx, http.MethodPost, c.baseURL+path, body, &out)
		return out, err
	})
	if errors.Is(err, errBusinessReply) {
		result.OK = false
		return result, nil
	}
	if err != nil {
		return domain.CouponResult{}, c.unavailable(operation, err)
	}
	return result, nil
}

// do выполняет запрос и декодирует JSON-ответ. 4xx с телом считается бизнес-ответом,
// 5xx и сетевые ошибки — сбоем купонной системы.
func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body []byte, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.StatusCode, fmt.Errorf("coupon authority responded %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return resp.StatusCode, nil
	case resp.StatusCode >= http.StatusBadRequest:
		if len(data) == 0 || json.Unmarshal(data, out) != nil {
			return resp.StatusCode, fmt.Errorf("coupon authority responded %d", resp.StatusCode)
		}
		return resp.StatusCode, errBusinessReply
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) unavailable(operation string, err error) error {
	c.logger.WithError(err).WithField("operation", operation).Warn("coupon authority call failed")
	return fmt.Errorf("%w: %s: %v", domain.ErrCouponGatewayUnavailable, operation, err)
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var last T
	_, err := cb.Execute(func() (interface{}, error) {
		res, err := fn()
		last = res
		return res, err
	})
	return last, err
}

var _ domain.CouponGateway = (*HTTPClient)(nil)
