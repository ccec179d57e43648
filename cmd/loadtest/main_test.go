package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func parseArgs(t *testing.T, args ...string) (config, error) {
	t.Helper()
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return parseConfig(fs, args)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "checkout", input: "checkout", want: modeCheckout},
		{name: "checkout-pay", input: " checkout-pay ", want: modeCheckoutPay},
		{name: "add-cancel", input: "add-cancel", want: modeAddCancel},
		{name: "unsupported", input: "create", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		cfg, err := parseArgs(t,
			"-mode=checkout-pay",
			"-total=12",
			"-concurrency=3",
			"-timeout=2s",
			"-cancel-rate=10",
			"-courses=4",
			"-price=2500.5",
			"-coupon=LOAD=percentage:10",
			"-customer-tag=stage",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !cfg.totalSet || cfg.duration != 0 {
			t.Fatalf("expected count mode, got %+v", cfg)
		}
		if cfg.mode != modeCheckoutPay || cfg.total != 12 || cfg.concurrency != 3 || cfg.courses != 4 {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.timeout != 2*time.Second || cfg.price.String() != "2500.5" {
			t.Fatalf("unexpected timeout or price: %s %s", cfg.timeout, cfg.price)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		cfg, err := parseArgs(t, "-duration=3s", "-concurrency=2")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.duration != 3*time.Second || cfg.totalSet {
			t.Fatalf("unexpected duration config: %+v", cfg)
		}
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-duration=bad"}, wantErr: "invalid value"},
			{name: "negative duration", args: []string{"-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-total=0"}, wantErr: "total must be > 0"},
			{name: "zero price", args: []string{"-price=0"}, wantErr: "price must be > 0"},
			{name: "bad price", args: []string{"-price=abc"}, wantErr: "parse price"},
			{name: "no courses", args: []string{"-courses=0"}, wantErr: "courses must be > 0"},
			{name: "bad coupon", args: []string{"-coupon=LOAD"}, wantErr: "invalid static coupon"},
			{name: "bad log level", args: []string{"-log-level=loud"}, wantErr: "not a valid logrus Level"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				_, err := parseArgs(t, tc.args...)
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})
}

func TestRunLoad(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantSteps []string
	}{
		{
			name:      "checkout",
			args:      []string{"-mode=checkout", "-total=20", "-concurrency=4", "-courses=3"},
			wantSteps: []string{"AddCourse", "Prepare"},
		},
		{
			name:      "checkout and pay with coupon",
			args:      []string{"-mode=checkout-pay", "-total=20", "-concurrency=4", "-coupon=LOAD=percentage:10"},
			wantSteps: []string{"AddCourse", "PaymentEvent", "Prepare"},
		},
		{
			name:      "pay with partial cancel",
			args:      []string{"-mode=checkout-pay", "-total=10", "-concurrency=2", "-cancel-rate=50"},
			wantSteps: []string{"AddCourse", "Cancel", "PaymentEvent", "Prepare"},
		},
		{
			name:      "add and cancel",
			args:      []string{"-mode=add-cancel", "-total=8", "-concurrency=2"},
			wantSteps: []string{"AddCourse", "Cancel"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := parseArgs(t, tc.args...)
			if err != nil {
				t.Fatalf("parse config: %v", err)
			}
			h, err := newHarness(cfg)
			if err != nil {
				t.Fatalf("newHarness: %v", err)
			}

			var out bytes.Buffer
			result := runLoad(h, cfg, &out)
			if result.FailedScenarios != 0 || result.TotalScenarios != int64(cfg.total) {
				t.Fatalf("unexpected report: %+v\n%s", result, out.String())
			}

			var steps []string
			for name := range result.Steps {
				steps = append(steps, name)
			}
			slices.Sort(steps)
			if !slices.Equal(steps, tc.wantSteps) {
				t.Fatalf("unexpected steps %v, want %v", steps, tc.wantSteps)
			}
			if !strings.Contains(out.String(), "Load test summary") {
				t.Fatalf("summary was not printed: %s", out.String())
			}
		})
	}
}

func TestRunScenario_AlreadyEnrolledBuyerFails(t *testing.T) {
	cfg, err := parseArgs(t, "-mode=checkout-pay", "-total=1", "-courses=1")
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	h, err := newHarness(cfg)
	if err != nil {
		t.Fatalf("newHarness: %v", err)
	}

	col := newCollector()
	if err := runScenario(h, cfg, 0, "run", col); err != nil {
		t.Fatalf("first purchase failed: %v", err)
	}
	// Тот же покупатель уже записан на курс: добавить его повторно нельзя.
	if err := runScenario(h, cfg, 0, "run", col); err == nil {
		t.Fatal("expected second purchase of the same course to fail")
	}

	r := col.buildReport(time.Now(), time.Second)
	if r.FailedScenarios != 1 || r.Steps["AddCourse"].Codes[codeRejected] != 1 {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record("scenario", 10*time.Millisecond, codeOK)
	c.record("scenario", 20*time.Millisecond, codeError)
	c.record("Prepare", 15*time.Millisecond, "changed")

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 || r.ErrorRate != 0.5 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.ScenariosPerSec != 1 {
		t.Fatalf("expected 1 scenario/s, got %f", r.ScenariosPerSec)
	}
	if _, ok := r.Steps["scenario"]; ok {
		t.Fatal("scenario totals must not be listed as a step")
	}
	if prepare := r.Steps["Prepare"]; prepare.Failed != 1 || prepare.Codes["changed"] != 1 {
		t.Fatalf("unexpected Prepare stats: %+v", prepare)
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := normalizeCode("awaiting_payment", nil); got != codeOK {
		t.Fatalf("awaiting payment must count as success, got %s", got)
	}
	if got := normalizeCode("coupon_rejected", nil); got != "coupon_rejected" {
		t.Fatalf("unexpected code: %s", got)
	}

	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.Min != 10 || summary.Max != 40 || summary.Avg != 25 || summary.P50 != 25 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}

	if !shouldCancelScenario(9, 10) || shouldCancelScenario(5, 10) || shouldCancelScenario(0, 0) {
		t.Fatal("unexpected cancel selection")
	}
	canceled := 0
	for i := range 10 {
		if shouldCancelScenario(i, 50) {
			canceled++
		}
	}
	if canceled != 5 {
		t.Fatalf("expected half of 10 scenarios canceled, got %d", canceled)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.SuccessScenarios != 2 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	for _, bad := range []string{".", "../outside.json"} {
		if err := writeJSONReport(bad, sample); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
