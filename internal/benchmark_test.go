// Package internal_test contains performance benchmarks and regression tests
// for conduct.
package internal_test

import (
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/conduct/internal/behavior"
	"github.com/joeycumines/conduct/internal/clock"
	"github.com/joeycumines/conduct/internal/config"
	"github.com/joeycumines/conduct/internal/contract"
	"github.com/joeycumines/conduct/internal/event"
	"github.com/joeycumines/conduct/internal/loader"
	"github.com/joeycumines/conduct/internal/rng"
	"github.com/joeycumines/conduct/internal/scheduler"
)

const robotDefs = "loader/testdata/robot.json"

// Performance thresholds (in microseconds) for regression detection
const (
	thresholdTick        = 200
	thresholdLoad        = 5000
	thresholdConfigParse = 200
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newRobot(tb testing.TB) (*scheduler.Scheduler, *clock.Manual) {
	tb.Helper()
	prog, err := loader.LoadFile(robotDefs, quietLogger())
	if err != nil {
		tb.Fatalf("failed to load definitions: %v", err)
	}
	clk := clock.NewManual(0)
	cfg := prog.Config()
	cfg.Clock = clk
	cfg.Rand = rng.New(1)
	cfg.Logger = quietLogger()
	cfg.Checker = contract.New(cfg.Logger, contract.WithFailFast(false))
	cfg.Gateway = event.NewGateway()
	s, err := scheduler.New(cfg)
	if err != nil {
		tb.Fatalf("failed to create scheduler: %v", err)
	}
	return s, clk
}

// BenchmarkScheduler benchmarks the per-tick cost of a loaded program.
func BenchmarkScheduler(b *testing.B) {
	b.Run("Tick", func(b *testing.B) {
		s, clk := newRobot(b)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			clk.Advance(100 * time.Millisecond)
			if err := s.Tick(); err != nil {
				b.Fatalf("tick failed: %v", err)
			}
		}
	})

	b.Run("TickWithReaction", func(b *testing.B) {
		s, clk := newRobot(b)
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if i%20 == 0 {
				s.Post(event.Event{Family: event.Inbound, Tag: "cliff"})
			}
			clk.Advance(100 * time.Millisecond)
			if err := s.Tick(); err != nil {
				b.Fatalf("tick failed: %v", err)
			}
		}
	})
}

// BenchmarkGateway benchmarks queueing and delivery.
func BenchmarkGateway(b *testing.B) {
	gw := event.NewGateway()
	for id := event.SubscriberID(1); id <= 32; id++ {
		gw.Subscribe(id, event.Inbound, "cliff", "face")
		gw.SetInScope(id, id%2 == 0)
	}
	sink := sinkFunc(func(event.SubscriberID, event.Event) {})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		gw.Post(event.Event{Family: event.Inbound, Tag: "cliff"})
		gw.Drain(sink)
	}
}

type sinkFunc func(event.SubscriberID, event.Event)

func (f sinkFunc) Deliver(id event.SubscriberID, ev event.Event) { f(id, ev) }

// BenchmarkLoading benchmarks definitions and config loading.
func BenchmarkLoading(b *testing.B) {
	data, err := os.ReadFile(robotDefs)
	if err != nil {
		b.Fatal(err)
	}

	b.Run("Definitions", func(b *testing.B) {
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := loader.Load(strings.NewReader(string(data)), quietLogger()); err != nil {
				b.Fatalf("failed to load: %v", err)
			}
		}
	})

	b.Run("ConfigLoadFromReader", func(b *testing.B) {
		content := "tick.interval 50ms\nrng.seed 7\n[inspect]\ncolor never\n"
		schema := config.DefaultSchema()
		b.ReportAllocs()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			cfg, err := config.LoadFromReader(strings.NewReader(content))
			if err != nil {
				b.Fatalf("failed to load config: %v", err)
			}
			if _, err := schema.Settings(cfg); err != nil {
				b.Fatalf("failed to resolve settings: %v", err)
			}
		}
	})
}

func TestPerformanceRegression(t *testing.T) {
	t.Run("Tick", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		s, clk := newRobot(t)
		const iterations = 1000
		start := time.Now()
		for i := 0; i < iterations; i++ {
			clk.Advance(100 * time.Millisecond)
			if err := s.Tick(); err != nil {
				t.Fatalf("tick failed: %v", err)
			}
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdTick {
			t.Errorf("Tick too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdTick)
		}
		t.Logf("Tick: avg %d μs (threshold: %d μs)", avgUs, thresholdTick)
	})

	t.Run("Load", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		const iterations = 20
		start := time.Now()
		for i := 0; i < iterations; i++ {
			if _, err := loader.LoadFile(robotDefs, quietLogger()); err != nil {
				t.Fatal(err)
			}
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdLoad {
			t.Errorf("Load too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdLoad)
		}
		t.Logf("Load: avg %d μs (threshold: %d μs)", avgUs, thresholdLoad)
	})

	t.Run("ConfigParse", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping in short mode")
		}
		const iterations = 100
		start := time.Now()
		for i := 0; i < iterations; i++ {
			if _, err := config.LoadFromReader(strings.NewReader("tick.max 10\n[run]\ntrace true\n")); err != nil {
				t.Fatal(err)
			}
		}
		avgUs := time.Since(start).Microseconds() / iterations
		if avgUs > thresholdConfigParse {
			t.Errorf("Config parse too slow: avg %d μs (threshold: %d μs)", avgUs, thresholdConfigParse)
		}
	})
}

func TestMemoryUsageRegression(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping in short mode")
	}
	s, clk := newRobot(t)
	// warm up past the planner phase so the steady state is measured
	for i := 0; i < 50; i++ {
		clk.Advance(100 * time.Millisecond)
		if err := s.Tick(); err != nil {
			t.Fatal(err)
		}
	}
	allocs := testing.AllocsPerRun(200, func() {
		clk.Advance(100 * time.Millisecond)
		if err := s.Tick(); err != nil {
			t.Fatal(err)
		}
	})
	const maxAllocs = 64
	if allocs > maxAllocs {
		t.Errorf("steady-state tick allocates %.0f times (threshold: %d)", allocs, maxAllocs)
	}
	if got := s.Stack(); len(got) == 0 || got[len(got)-1] != behavior.ID("idle") {
		t.Errorf("expected the idle leaf in steady state, got %v", got)
	}
}
