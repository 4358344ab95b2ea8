// Command kernelsim runs the pressure-field kernel standalone against an
// in-memory or BoltDB-backed artifact, for demos and manual testing.
//
// Startup sequence:
//  1. Load and validate config from the given path (or built-in defaults).
//  2. Initialise structured logger (zap, configurable level/format).
//  3. Open the artifact (in-memory, or BoltDB if -db is set).
//  4. Start the Prometheus metrics server.
//  5. Build sensors and proposers, construct the coordinator.
//  6. Start the control socket (external tick-driver interface).
//  7. If -self-tick-ms > 0, drive ticks on an internal timer; otherwise
//     block, waiting for an external driver on the control socket.
//
// Shutdown (on SIGINT/SIGTERM): cancel the root context, stop the
// coordinator's actors, close the artifact store, flush the logger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pressurefield/kernel/internal/artifact"
	"github.com/pressurefield/kernel/internal/config"
	"github.com/pressurefield/kernel/internal/control"
	"github.com/pressurefield/kernel/internal/coordinator"
	"github.com/pressurefield/kernel/internal/metrics"
	"github.com/pressurefield/kernel/internal/proposer"
	"github.com/pressurefield/kernel/internal/proposer/heuristic"
	"github.com/pressurefield/kernel/internal/region"
	"github.com/pressurefield/kernel/internal/sensor"
	_ "github.com/pressurefield/kernel/internal/sensor/entropysensor"
	"github.com/pressurefield/kernel/internal/sensor/lintsensor"
	"github.com/pressurefield/kernel/internal/sensoractor"
)

func main() {
	configPath := flag.String("config", "", "Path to kernel.yaml (defaults built in if empty)")
	artifactPath := flag.String("source", "", "Path to a text file to load as the artifact's content")
	dbPath := flag.String("db", "", "BoltDB file path; if empty, the artifact is in-memory only")
	socketPath := flag.String("socket", "/tmp/kernelsim.sock", "Control socket path")
	selfTickMs := flag.Int64("self-tick-ms", 1000, "Drive ticks internally every N ms (0 disables, waits for external driver)")
	sensorNames := flag.String("sensors", "entropysensor", "Comma-separated sensor names to wire in")
	lintCommand := flag.String("lint-command", "", "If set, also wires lintsensor running this command, given as comma-separated argv (reads content on stdin)")
	printVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("kernelsim %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("kernelsim starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	content, err := loadContent(*artifactPath)
	if err != nil {
		log.Fatal("failed to load artifact content", zap.Error(err))
	}

	store, regionIDs, closeStore, err := openArtifact(*dbPath, content)
	if err != nil {
		log.Fatal("failed to open artifact", zap.Error(err))
	}
	defer closeStore()
	log.Info("artifact opened", zap.Int("regions", len(regionIDs)))

	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	sensors, err := resolveSensors(splitCSV(*sensorNames), *lintCommand)
	if err != nil {
		log.Fatal("failed to resolve sensors", zap.Error(err))
	}

	proposers := []proposer.Proposer{heuristic.New()}

	coord, err := coordinator.New(cfg, store, regionIDs, sensors, proposers, m, log)
	if err != nil {
		log.Fatal("failed to construct coordinator", zap.Error(err))
	}
	defer coord.Stop()

	coord.RegisterTickDriver(loggingDriver{log: log})

	ctrl := control.NewServer(*socketPath, coord, log)
	go func() {
		if err := ctrl.ListenAndServe(ctx); err != nil {
			log.Error("control server error", zap.Error(err))
		}
	}()
	log.Info("control socket started", zap.String("path", *socketPath))

	if *selfTickMs > 0 {
		go runSelfTick(ctx, coord, time.Duration(*selfTickMs)*time.Millisecond, log)
		log.Info("self-tick loop started", zap.Int64("interval_ms", *selfTickMs))
	} else {
		log.Info("self-tick disabled; waiting for an external driver on the control socket")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	log.Info("kernelsim shutdown complete")
}

// loggingDriver is the default registered TickDriver: it simply logs each
// tick's summary. External processes can also drive ticks over the control
// socket by sending {"cmd":"tick"} requests; each gets that tick's result
// as its response and is not registered as a driver.
type loggingDriver struct {
	log *zap.Logger
}

func (d loggingDriver) OnTickComplete(result coordinator.Result) {
	d.log.Info("tick complete",
		zap.Uint64("tick_id", result.TickID),
		zap.Float64("total_pressure", result.TotalPressure),
		zap.Int("applied", len(result.Applied)),
		zap.Int("rejected", len(result.Rejected)),
	)
}

func runSelfTick(ctx context.Context, coord *coordinator.Coordinator, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			coord.Tick(t.UnixMilli())
		}
	}
}

func loadContent(path string) ([]byte, error) {
	if path == "" {
		return []byte("line one\n\nline two\n\nline three"), nil
	}
	return os.ReadFile(path)
}

func openArtifact(dbPath string, content []byte) (regionactorStore, []region.ID, func(), error) {
	if dbPath == "" {
		mem := artifact.NewMem("kernelsim", "text", content)
		return mem, mem.RegionIDs(), func() {}, nil
	}
	b, err := artifact.OpenBolt(dbPath, "kernelsim", "text", content)
	if err != nil {
		return nil, nil, nil, err
	}
	return b, b.RegionIDs(), func() { _ = b.Close() }, nil
}

// regionactorStore mirrors regionactor.Store to avoid importing that
// package here just for a type alias.
type regionactorStore interface {
	ReadRegion(id region.ID) (region.View, error)
	ApplyPatch(p region.Patch) (region.View, error)
}

func resolveSensors(names []string, lintCommand string) ([]sensoractor.Sensor, error) {
	var out []sensoractor.Sensor
	for _, name := range names {
		if name == "" {
			continue
		}
		s, err := sensor.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if lintCommand != "" {
		out = append(out, lintsensor.New(splitCSV(lintCommand), 5*time.Second))
	}
	return out, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
