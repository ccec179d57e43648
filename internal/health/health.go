// Package health отдаёт состояние сервиса корзин для probe'ов: хранилище,
// backlog transactional outbox и прочие зависимости регистрируются как Checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ServiceName попадает в ответ /healthz.
const ServiceName = "enrolcart"

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const defaultTimeout = 2 * time.Second

// severity упорядочивает статусы: итог /healthz равен худшему из проверок.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	}
	return 2
}

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Service       string           `json:"service"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет одну зависимость. ctx приходит из HTTP-запроса probe'а.
type Checker interface {
	Check(ctx context.Context) Check
}

// probe превращает функцию ping в Checker с собственным таймаутом.
type probe struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

// Probe создаёт Checker поверх ping; timeout <= 0 заменяется на 2s.
// Ошибка ping делает зависимость unhealthy.
func Probe(name string, timeout time.Duration, ping func(ctx context.Context) error) Checker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &probe{name: name, timeout: timeout, ping: ping}
}

func (p *probe) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	started := time.Now()
	check := Check{Name: p.name, Status: StatusHealthy}
	if err := p.ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	check.DurationMs = time.Since(started).Milliseconds()
	return check
}

// Handler обслуживает /healthz и /readyz по зарегистрированным проверкам.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
	}
}

// Register добавляет или заменяет проверку с именем name.
func (h *Handler) Register(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Evaluate выполняет все проверки параллельно и сводит их в один ответ.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]Check, len(checkers))
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := checker.Check(ctx)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		if check.Status.severity() > overall.severity() {
			overall = check.Status
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Service:       ServiceName,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

// ServeHTTP отвечает JSON с результатами; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// Ready — readiness probe: degraded сервис продолжает принимать трафик,
// unhealthy зависимость перечисляется в теле ответа 503.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	var failing []string
	for name, check := range response.Checks {
		if check.Status == StatusUnhealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %s", strings.Join(failing, ", "))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Live — liveness probe, отвечает 200, пока процесс обслуживает HTTP.
func Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// BacklogChecker переводит сервис в degraded, когда очередь неопубликованных
// событий растёт быстрее, чем её разбирает relay.
type BacklogChecker struct {
	name       string
	maxPending int
	maxAge     time.Duration
	stats      func(ctx context.Context) (pending int, oldest time.Time, err error)
	now        func() time.Time
}

// NewBacklogChecker создаёт проверку backlog. Нулевые пороги не проверяются.
func NewBacklogChecker(
	name string,
	maxPending int,
	maxAge time.Duration,
	stats func(ctx context.Context) (int, time.Time, error),
) *BacklogChecker {
	return &BacklogChecker{name: name, maxPending: maxPending, maxAge: maxAge, stats: stats, now: time.Now}
}

func (c *BacklogChecker) Check(ctx context.Context) Check {
	start := c.now()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	pending, oldest, err := c.stats(ctx)
	check := Check{Name: c.name, Status: StatusHealthy}
	switch {
	case err != nil:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	case c.maxPending > 0 && pending > c.maxPending:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("%d pending messages (limit %d)", pending, c.maxPending)
	case c.maxAge > 0 && pending > 0 && !oldest.IsZero() && start.Sub(oldest) > c.maxAge:
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("oldest pending message is %s old", start.Sub(oldest).Round(time.Second))
	}
	check.DurationMs = c.now().Sub(start).Milliseconds()
	return check
}
