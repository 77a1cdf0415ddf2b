package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/worldland/linkbench/internal/adapters/nvml"
	"github.com/worldland/linkbench/internal/adapters/simgpu"
	"github.com/worldland/linkbench/internal/api"
	"github.com/worldland/linkbench/internal/cli"
	"github.com/worldland/linkbench/internal/domain"
	"github.com/worldland/linkbench/internal/fence"
	"github.com/worldland/linkbench/internal/logutil"
	"github.com/worldland/linkbench/internal/preflight"
	"github.com/worldland/linkbench/internal/services"
	"github.com/worldland/linkbench/internal/vram"
	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "bench", "What to run: bench, scan or all")
	listen := flag.String("listen", "", "Serve the HTTP API on this address instead of running once (e.g., :8480)")
	profileName := flag.String("profile", "host", "Device profile: host, discrete, thunderbolt or integrated")
	deviceMemMiB := flag.Uint64("device-memory", 0, "Device memory in MiB (0 = 1024 for the host profile, profile default otherwise)")

	sizeMiB := flag.Uint64("size", 256, "Transfer buffer size in MiB")
	copies := flag.Int("copies", 8, "Copies per timed batch")
	batches := flag.Int("batches", 32, "Timed batches per bandwidth test")
	iterations := flag.Int("iterations", 16, "Latency submissions per latency test")
	runs := flag.Int("runs", 1, "Number of suite runs")
	noBidir := flag.Bool("no-bidirectional", false, "Skip the bidirectional test")
	noLatency := flag.Bool("no-latency", false, "Skip the latency tests")
	device := flag.Int("device", -1, "Adapter index, negative selects the default")

	fullScan := flag.Bool("full-scan", false, "Scan 90% of video memory instead of 80%")
	seed := flag.Uint64("seed", vram.DefaultScanConfig().Seed, "Random pattern seed")
	scanBudget := flag.Duration("scan-budget", 0, "Stop the VRAM scan after this long (0 = no limit)")

	pcieGen := flag.Int("pcie-gen", 0, "Current PCIe generation (0 = ask NVML)")
	pcieWidth := flag.Int("pcie-width", 0, "Current PCIe lane count (0 = ask NVML)")
	tunnelled := flag.Bool("tunnelled", false, "Device is attached through Thunderbolt/USB4")
	integrated := flag.Bool("integrated", false, "Treat the device as an integrated GPU")
	systemMemGBs := flag.Float64("system-memory-gbs", 0, "System memory bandwidth in GB/s for integrated GPUs (0 = estimate)")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	devLog := flag.Bool("dev", false, "Human-readable development logging")
	checkOnly := flag.Bool("preflight", false, "Print host checks and exit")
	grace := flag.Duration("grace", services.DefaultShutdownGrace, "How long to wait for a running job on shutdown")

	flag.Parse()

	log, err := logutil.New(*logLevel, *devLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	profile, clock, err := selectProfile(*profileName, *deviceMemMiB<<20)
	if err != nil {
		log.Fatal("invalid profile", zap.Error(err))
	}
	if *checkOnly {
		cli.PrintHeader(os.Stdout, "Preflight")
		preflight.Run(profile.DeviceMemory).Print(os.Stdout)
		return
	}
	if *profileName == "host" {
		for _, warn := range preflight.Run(profile.DeviceMemory).Warnings {
			log.Warn("preflight", zap.String("warning", warn))
		}
	}
	if *mode == "scan" || *mode == "all" || *listen != "" {
		// patterns must be written and read back
		if profile.Backing == simgpu.BackingNone {
			profile.Backing = simgpu.BackingMmap
		}
	}

	benchCfg := domain.DefaultBenchmarkConfig()
	benchCfg.BufferSize = *sizeMiB << 20
	benchCfg.CopiesPerBatch = *copies
	benchCfg.BatchCount = *batches
	benchCfg.IterationCount = *iterations
	benchCfg.RunCount = *runs
	benchCfg.EnableBidirectional = !*noBidir
	benchCfg.EnableLatency = !*noLatency
	benchCfg.DeviceIndex = *device
	if err := benchCfg.Validate(); err != nil {
		log.Fatal("invalid benchmark configuration", zap.Error(err))
	}

	scanCfg := vram.DefaultScanConfig()
	scanCfg.FullScan = *fullScan
	scanCfg.Seed = *seed
	scanCfg.Budget = *scanBudget
	scanCfg.DeviceIndex = *device
	if err := scanCfg.Validate(); err != nil {
		log.Fatal("invalid scan configuration", zap.Error(err))
	}

	// Hardware hints: flags win, otherwise try real NVML
	hints := services.Hints{
		Tunnelled:       *tunnelled,
		ForceIntegrated: *integrated,
		SystemMemoryGBs: *systemMemGBs,
	}
	var hw *domain.HardwareInfo
	if *pcieGen > 0 && *pcieWidth > 0 {
		hints.Link = &domain.LinkInfo{Generation: *pcieGen, Lanes: *pcieWidth}
	} else if info, err := nvml.Lookup(nvml.NewNVMLProvider(), *device); err != nil {
		log.Info("NVML not available, classifying from bandwidth only", zap.Error(err))
	} else {
		hw = &info
		hints.Link = info.Link()
		log.Info("read device info from NVML",
			zap.String("name", info.Name),
			zap.Int("pcie_gen", info.PCIeGen),
			zap.Int("pcie_width", info.PCIeWidth))
	}

	factory := func(c mclock.Clock) (domain.GraphicsBackend, error) {
		return simgpu.New(profile, c, log.Named("simgpu")), nil
	}
	sup := services.NewSupervisor(factory, clock, fence.DefaultPolicy(), log)
	sup.SetHints(hints)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		serve(ctx, log, sup, api.NewHandler(sup, benchCfg, scanCfg, log), *listen, *grace)
		return
	}

	out := os.Stdout
	var jobs []func() error
	switch *mode {
	case "bench":
		jobs = append(jobs, func() error { return sup.StartBenchmark(benchCfg) })
	case "scan":
		jobs = append(jobs, func() error { return sup.StartScan(scanCfg) })
	case "all":
		jobs = append(jobs,
			func() error { return sup.StartBenchmark(benchCfg) },
			func() error { return sup.StartScan(scanCfg) })
	default:
		log.Fatal("unknown mode", zap.String("mode", *mode))
	}

	exitCode := 0
	for i, start := range jobs {
		if err := runJob(ctx, sup, start, *grace); err != nil {
			cli.PrintError(out, err.Error())
			exitCode = 1
			break
		}
		status := sup.Status()
		if i == 0 && status.Device != nil {
			cli.PrintDevice(out, *status.Device, hw)
		}
		if status.Kind == services.JobBenchmark {
			cli.PrintResults(out, sup.Results())
			if c, ok := sup.Classification(); ok {
				cli.PrintClassification(out, c)
			}
		} else if report := sup.ScanReport(); report != nil {
			cli.PrintScanReport(out, *report)
			if report.Outcome != domain.ScanPassed {
				exitCode = 1
			}
		}
		if status.State != services.JobStateFinished {
			if status.Error != "" {
				cli.PrintError(out, status.Error)
			}
			exitCode = 1
			break
		}
	}
	if exitCode != 0 {
		log.Sync()
		os.Exit(exitCode)
	}
}

// selectProfile returns the device profile and the clock it measures with
func selectProfile(name string, deviceMemory uint64) (simgpu.Profile, mclock.Clock, error) {
	var p simgpu.Profile
	switch name {
	case "host":
		if deviceMemory == 0 {
			deviceMemory = 1 << 30
		}
		return simgpu.HostProfile(deviceMemory), mclock.System{}, nil
	case "discrete":
		p = simgpu.DiscreteProfile()
	case "thunderbolt":
		p = simgpu.ThunderboltProfile()
	case "integrated":
		p = simgpu.IntegratedProfile()
	default:
		return simgpu.Profile{}, nil, fmt.Errorf("unknown profile %q", name)
	}
	if deviceMemory > 0 {
		p.DeviceMemory = deviceMemory
	}
	return p, &mclock.Simulated{}, nil
}

// runJob starts one job and waits for it. On a signal the job is cancelled and given
// grace to stop; partial results stay readable from the supervisor.
func runJob(ctx context.Context, sup *services.Supervisor, start func() error, grace time.Duration) error {
	if err := start(); err != nil {
		return err
	}
	if err := sup.Wait(ctx); err != nil {
		if !sup.Shutdown(grace) {
			return errors.New("job did not stop within the grace period")
		}
	}
	return nil
}

func serve(ctx context.Context, log *zap.Logger, sup *services.Supervisor, handler *api.Handler, addr string, grace time.Duration) {
	mux := http.NewServeMux()
	handler.Register(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting API server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	if !sup.Shutdown(grace) {
		log.Warn("exiting with an abandoned worker")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
}
