package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/enrolcart/internal/storage/postgres"
)

type stubMigrator struct {
	up, down  []int
	statusErr error
	closed    bool
}

func (s *stubMigrator) MigrateUp(_ context.Context, steps int) error {
	s.up = append(s.up, steps)
	return nil
}

func (s *stubMigrator) MigrateDown(_ context.Context, steps int) error {
	s.down = append(s.down, steps)
	return nil
}

func (s *stubMigrator) MigrationStatus(context.Context) (int64, int, error) {
	return 3, 3, s.statusErr
}

func (s *stubMigrator) Close() error {
	s.closed = true
	return nil
}

func withStubStore(t *testing.T, store *stubMigrator, openErr error) {
	t.Helper()
	old := openStore
	openStore = func(context.Context, string) (migrator, error) {
		if openErr != nil {
			return nil, openErr
		}
		return store, nil
	}
	t.Cleanup(func() { openStore = old })
}

func TestParseOptions(t *testing.T) {
	env := func(key string) string {
		if key == dsnEnv {
			return " postgres://cart@localhost/cart "
		}
		return ""
	}

	opts, err := parseOptions(flag.NewFlagSet("migrate", flag.ContinueOnError), []string{"-direction", " DOWN ", "-steps", "2"}, env)
	if err != nil {
		t.Fatalf("parseOptions failed: %v", err)
	}
	if opts.direction != "down" || opts.steps != 2 || opts.dsn != "postgres://cart@localhost/cart" {
		t.Fatalf("unexpected options %+v", opts)
	}
}

func TestParseOptions_Validation(t *testing.T) {
	noEnv := func(string) string { return "" }
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing dsn", args: []string{"-direction=status"}},
		{name: "bad direction", args: []string{"-dsn=x", "-direction=sideways"}},
		{name: "negative steps", args: []string{"-dsn=x", "-steps=-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			if _, err := parseOptions(fs, tt.args, noEnv); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		opts     options
		wantUp   []int
		wantDown []int
		wantOut  string
	}{
		{name: "up all", opts: options{direction: "up"}, wantUp: []int{0}, wantOut: "migrate up ok: version=3 applied=3"},
		{name: "down defaults to one", opts: options{direction: "down"}, wantDown: []int{1}, wantOut: "migrate down ok"},
		{name: "status", opts: options{direction: "status"}, wantOut: "migration status: version=3 applied=3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &stubMigrator{}
			withStubStore(t, store, nil)

			var out bytes.Buffer
			if err := run(context.Background(), tt.opts, &out); err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if len(store.up) != len(tt.wantUp) || len(store.down) != len(tt.wantDown) {
				t.Fatalf("unexpected calls up=%v down=%v", store.up, store.down)
			}
			if len(tt.wantDown) > 0 && store.down[0] != tt.wantDown[0] {
				t.Fatalf("unexpected down steps %v", store.down)
			}
			if !strings.Contains(out.String(), tt.wantOut) {
				t.Fatalf("unexpected output %q", out.String())
			}
			if !store.closed {
				t.Fatal("store must be closed")
			}
		})
	}
}

func TestRun_Errors(t *testing.T) {
	withStubStore(t, nil, errors.New("connection refused"))
	if err := run(context.Background(), options{direction: "up"}, io.Discard); err == nil {
		t.Fatal("expected open error")
	}

	store := &stubMigrator{statusErr: errors.New("no table")}
	withStubStore(t, store, nil)
	if err := run(context.Background(), options{direction: "status"}, io.Discard); err == nil {
		t.Fatal("expected status error")
	}
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		os.Args = []string{"migrate", "-direction=status", "-dsn="}
		_ = os.Unsetenv(dsnEnv)
		main()
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	if exitErr, ok := err.(*exec.ExitError); !ok || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}

func TestRun_Postgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CART_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CART_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	probe, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	_ = probe.Close()

	for _, direction := range []string{"status", "up"} {
		if err := run(ctx, options{direction: direction, dsn: dsn}, io.Discard); err != nil {
			t.Fatalf("%s failed: %v", direction, err)
		}
	}
}
