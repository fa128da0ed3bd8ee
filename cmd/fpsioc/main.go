// Command fpsioc serves FPS3010 interferometer sensors: it configures one
// port per device, runs the startup script and exposes the ports over
// HTTP, Server-Sent Events and an optional interactive shell.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssrf-beamline/fpsioc/internal/api"
	"github.com/ssrf-beamline/fpsioc/internal/audit"
	"github.com/ssrf-beamline/fpsioc/internal/auth"
	"github.com/ssrf-beamline/fpsioc/internal/command"
	"github.com/ssrf-beamline/fpsioc/internal/config"
	"github.com/ssrf-beamline/fpsioc/internal/discovery"
	"github.com/ssrf-beamline/fpsioc/internal/driver"
	"github.com/ssrf-beamline/fpsioc/internal/fps"
	"github.com/ssrf-beamline/fpsioc/internal/fps/libfps"
	"github.com/ssrf-beamline/fpsioc/internal/fps/sim"
	"github.com/ssrf-beamline/fpsioc/internal/shell"
	"github.com/ssrf-beamline/fpsioc/internal/telemetry"
	"github.com/ssrf-beamline/fpsioc/internal/trace"
)

// Version is set at build time.
var Version = "dev"

const discoveryRefresh = 10 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "YAML configuration file")
		script      = flag.String("script", "", "startup script, overrides the configured one")
		interactive = flag.Bool("i", false, "run an interactive shell after startup")
		showVersion = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	if err := run(*configPath, *script, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "fpsioc: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, script string, interactive bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if script != "" {
		cfg.Startup = script
	}

	logger, level, logCloser, err := setupLogging(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	var rotators []rotator
	if r, ok := logCloser.(rotator); ok {
		rotators = append(rotators, r)
	}
	logger.Info("starting fpsioc", "version", Version, "config", cfg.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sdk, err := newSDK(cfg)
	if err != nil {
		return err
	}
	ifaces, err := fps.ParseInterfaces(cfg.Interfaces)
	if err != nil {
		return err
	}

	opts := driver.Options{
		Interfaces:   ifaces,
		Trace:        cfg.Debug,
		PollInterval: cfg.PollInterval,
		PosAverage:   cfg.PosAverage,
		Logger:       logger,
	}
	if cfg.Trace.File != "" {
		tw, err := trace.Create(cfg.Trace.File)
		if err != nil {
			return fmt.Errorf("failed to open trace capture: %w", err)
		}
		defer closeLogged(logger, "trace capture", tw)
		opts.Recorder = tw
		logger.Info("capturing requests", "file", cfg.Trace.File)
	}

	manager := driver.NewManager(sdk, opts)
	defer closeLogged(logger, "ports", manager)

	orchestrator := command.NewOrchestrator(manager, cfg.RequestTimeout, logger)
	if cfg.Audit.Enabled {
		auditLogger, err := audit.NewLogger(audit.Options{
			File:       cfg.Audit.File,
			MaxSizeMB:  cfg.Audit.MaxSizeMB,
			MaxBackups: cfg.Audit.MaxBackups,
			MaxAgeDays: cfg.Audit.MaxAgeDays,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		defer closeLogged(logger, "audit log", auditLogger)
		orchestrator.SetAuditLogger(auditLogger)
		rotators = append(rotators, auditLogger)
	}

	hub := telemetry.NewHub(cfg.Telemetry, func() interface{} { return orchestrator.Ports() }, logger)
	defer hub.Stop()
	manager.Subscribe(hub.PublishUpdate)

	// configuration ports, then the startup script
	bootCtx := audit.WithUser(ctx, "startup")
	for _, p := range cfg.Ports {
		if err := orchestrator.Configure(bootCtx, p.Name, p.Device); err != nil {
			return fmt.Errorf("failed to configure port %s: %w", p.Name, err)
		}
	}

	sh := shell.New(os.Stdout, logger)
	if err := shell.RegisterFPS(sh, orchestrator, func(on bool) {
		if on {
			level.Set(slog.LevelDebug)
		} else {
			level.Set(cfg.Log.SlogLevel())
		}
	}); err != nil {
		return err
	}
	if cfg.Startup != "" {
		if err := runScript(bootCtx, sh, cfg.Startup); err != nil {
			// failed lines are logged; the IOC keeps serving the ports that did start
			logger.Warn("startup script finished with errors", "script", cfg.Startup, "error", err)
		}
	}

	serverErr := make(chan error, 1)
	if cfg.HTTP.Enabled {
		server, err := newAPIServer(cfg, hub, orchestrator, logger)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", cfg.HTTP.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
		}
		go func() {
			if err := server.Serve(ln); err != nil {
				serverErr <- err
			}
		}()
		defer func() {
			if err := server.Stop(context.Background()); err != nil {
				logger.Error("error stopping HTTP server", "error", err)
			}
		}()

		if cfg.Discovery.Enabled {
			adv := discovery.NewAdvertiser(cfg.Discovery, logger)
			info := func() discovery.Info {
				return discovery.Info{
					Port:    ln.Addr().(*net.TCPAddr).Port,
					Version: Version,
					SDK:     cfg.SDK,
					Ports:   portNames(orchestrator),
				}
			}
			if err := adv.Start(info()); err != nil {
				logger.Warn("mDNS advertisement disabled", "error", err)
			} else {
				defer adv.Stop()
				go refreshAdvertisement(ctx, adv, info, logger)
			}
		}
	}

	if interactive {
		go func() {
			if err := runInteractive(audit.WithUser(ctx, "shell"), sh, logger); err != nil {
				logger.Error("interactive shell failed", "error", err)
			}
			stop()
		}()
	}

	go rotateOnHangup(ctx, rotators, logger)

	logger.Info("fpsioc started", "ports", len(orchestrator.Ports()))
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serverErr:
		logger.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

func newSDK(cfg *config.Config) (fps.SDK, error) {
	switch cfg.SDK {
	case "sim":
		opts, err := sim.OptionsFromConfig(cfg.Simulation)
		if err != nil {
			return nil, fmt.Errorf("simulation: %w", err)
		}
		return sim.New(opts), nil
	default:
		lib, err := libfps.New()
		if err != nil {
			return nil, fmt.Errorf("vendor library: %w", err)
		}
		return lib, nil
	}
}

func newAPIServer(cfg *config.Config, hub *telemetry.Hub, orchestrator *command.Orchestrator, logger *slog.Logger) (*api.Server, error) {
	var mw *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(auth.VerifierConfig{
			Algorithm:     cfg.Auth.Algorithm,
			SecretKey:     cfg.Auth.Secret,
			PublicKeyFile: cfg.Auth.PublicKeyFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		mw = auth.NewMiddleware(verifier)
	}
	api.Version = Version
	return api.NewServer(hub, orchestrator, mw, cfg.HTTP, logger), nil
}

func runScript(ctx context.Context, sh *shell.Shell, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return sh.RunScript(ctx, f)
}

func portNames(o *command.Orchestrator) []string {
	ports := o.Ports()
	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Port)
	}
	return names
}

// refreshAdvertisement keeps the TXT port list in step with ports created
// through the API or the shell.
func refreshAdvertisement(ctx context.Context, adv *discovery.Advertiser, info func() discovery.Info, logger *slog.Logger) {
	ticker := time.NewTicker(discoveryRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := adv.Update(info()); err != nil && !errors.Is(err, discovery.ErrNotAdvertising) {
				logger.Warn("failed to update advertisement", "error", err)
			}
		}
	}
}

type rotator interface {
	Rotate() error
}

// rotateOnHangup reopens the log files on SIGHUP.
func rotateOnHangup(ctx context.Context, rotators []rotator, logger *slog.Logger) {
	if len(rotators) == 0 {
		return
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			rotateAll(rotators, logger)
		}
	}
}

func rotateAll(rotators []rotator, logger *slog.Logger) {
	for _, r := range rotators {
		if err := r.Rotate(); err != nil {
			logger.Error("log rotation failed", "error", err)
		}
	}
	logger.Info("log files rotated", "count", len(rotators))
}

func closeLogged(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Error("error closing "+what, "error", err)
	}
}
