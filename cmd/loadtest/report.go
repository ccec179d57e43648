package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// scenarioStep — имя, под которым runScenario пишет итог всего сценария.
const scenarioStep = "scenario"

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	ScenariosPerSec   float64               `json:"scenarios_per_sec"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

// samples — сырые наблюдения одного шага.
type samples struct {
	codes     map[string]int64
	latencies []time.Duration
}

func (s *samples) summarize() stepReport {
	r := stepReport{Calls: int64(len(s.latencies)), Codes: maps.Clone(s.codes)}
	r.Success = s.codes[codeOK]
	r.Failed = r.Calls - r.Success
	r.ErrorRate = ratio(r.Failed, r.Calls)

	ms := make([]float64, len(s.latencies))
	for i, d := range s.latencies {
		ms[i] = float64(d.Microseconds()) / 1000
	}
	r.LatencyMs = buildLatencySummary(ms)
	return r
}

// collector копит наблюдения покупателей; вызывается из нескольких горутин.
type collector struct {
	mu    sync.Mutex
	steps map[string]*samples
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*samples)}
}

func (c *collector) record(step string, latency time.Duration, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.steps[step]
	if s == nil {
		s = &samples{codes: make(map[string]int64)}
		c.steps[step] = s
	}
	s.codes[code]++
	s.latencies = append(s.latencies, latency)
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}
	for name, s := range c.steps {
		if name != scenarioStep {
			r.Steps[name] = s.summarize()
		}
	}
	if s, ok := c.steps[scenarioStep]; ok {
		total := s.summarize()
		r.TotalScenarios = total.Calls
		r.SuccessScenarios = total.Success
		r.FailedScenarios = total.Failed
		r.ErrorRate = total.ErrorRate
		r.ScenarioLatencyMs = total.LatencyMs
	}
	if elapsed > 0 {
		r.ScenariosPerSec = float64(r.TotalScenarios) / elapsed.Seconds()
	}
	return r
}

// writeJSONReport пишет отчёт только в файл внутри текущего каталога.
func writeJSONReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("report path must name a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("report path %s leaves the working directory", path)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}

func printReport(out io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	fmt.Fprintf(out, "Load test summary\nmode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate)
	fmt.Fprintf(out, "duration=%.2fs scenarios/s=%.2f\n", r.DurationSeconds, r.ScenariosPerSec)
	fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tCALLS\tOK\tFAILED\tERROR RATE\tP95 MS\tCODES")
	for _, name := range slices.Sorted(maps.Keys(r.Steps)) {
		s := r.Steps[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.2f\t%s\n",
			name, s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.P95, formatCodes(s.Codes))
	}
	_ = tw.Flush()
}

// formatCodes печатает коды в порядке убывания частоты.
func formatCodes(codes map[string]int64) string {
	names := slices.SortedFunc(maps.Keys(codes), func(a, b string) int {
		if codes[a] != codes[b] {
			return int(codes[b] - codes[a])
		}
		return strings.Compare(a, b)
	})
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, codes[name])
	}
	return strings.Join(parts, ",")
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}
	sorted := slices.Sorted(slices.Values(values))

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки; q в [0, 1].
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := q * float64(len(sorted)-1)
	lower := int(rank)
	if lower >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lower] + (sorted[lower+1]-sorted[lower])*(rank-float64(lower))
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
