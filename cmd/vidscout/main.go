// Vidscout is a local web client for a video semantic-search service.
//
// It serves a browser UI that uploads a video to the search backend for
// transcription and indexing, runs natural-language queries against it,
// jumps playback to matching excerpts, and exports the generated
// subtitles. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]); without one, built-in
// defaults and the VIDSCOUT_BACKEND_URL environment variable apply.
//
// Usage:
//
//	vidscout serve              Start the web UI
//	vidscout check              Probe the backend once and report
//	vidscout init [dir]         Write an example config.yaml
//	vidscout version            Print version and build information
//	vidscout -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"github.com/nugget/vidscout/internal/backend"
	"github.com/nugget/vidscout/internal/buildinfo"
	"github.com/nugget/vidscout/internal/config"
	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/preview"
	"github.com/nugget/vidscout/internal/session"
	"github.com/nugget/vidscout/internal/web"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so tests can drive it.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime;
// structured logs go to stdout; args is os.Args[1:]. Arguments are
// parsed by hand because the flag package's globals get in the way of
// calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "check":
		return runCheck(ctx, stdout, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "vidscout - search inside videos with natural language")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vidscout [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the web UI")
	fmt.Fprintln(w, "  check        Probe the search backend once")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/vidscout/config.yaml, /etc/vidscout/config.yaml")
	fmt.Fprintf(w, "Environment: %s overrides backend.url\n", config.BackendURLEnv)
	return nil
}

// runServe starts the web UI and blocks until ctx is cancelled or a
// signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting vidscout", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Validate has already accepted the level, so the error is unreachable.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"backend", cfg.Backend.URL,
		"listen", cfg.Listen.Addr(),
		"media_dir", cfg.MediaDir,
	)

	previews, err := preview.NewStore(cfg.MediaDir, logger)
	if err != nil {
		return err
	}

	bus := events.New()
	client := backend.NewClient(cfg.Backend.URL, backend.Options{
		Timeout:       cfg.Backend.Timeout,
		UploadTimeout: cfg.Backend.UploadTimeout,
		Logger:        logger,
	})
	sess := session.New(session.Config{
		Backend:       client,
		Previews:      previews,
		Bus:           bus,
		Logger:        logger,
		RetryInterval: cfg.Health.RetryInterval,
		PollInterval:  cfg.Health.PollInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
	})
	ui := web.NewServer(web.Config{
		Session:        sess,
		Previews:       previews,
		Bus:            bus,
		MaxUploadBytes: cfg.MaxUploadMB << 20,
		Logger:         logger,
	})

	// NotifyContext wraps the parent context so SIGINT/SIGTERM flow
	// through the same ctx used by every component.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := net.Listen("tcp", cfg.Listen.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen.Addr(), err)
	}

	httpServer := &http.Server{
		Handler:           ui.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sess.OnStart(ctx)
	go ui.Hub().Run(ctx)

	url := "http://" + ln.Addr().String()
	logger.Info("web UI listening", "url", url)
	if cfg.OpenBrowser {
		browser.Stdout = stderr
		browser.Stderr = stderr
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("could not open browser", "url", url, "error", err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("web server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("web server shutdown incomplete", "error", err)
	}
	sess.OnStop()

	logger.Info("vidscout stopped")
	return serveErr
}

// checkResult is the JSON output of the check command.
type checkResult struct {
	URL       string `json:"url"`
	Available bool   `json:"available"`
	Videos    *int   `json:"videos,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

// runCheck probes the backend once. It returns an error when the
// backend is unavailable so scripts can test the exit status.
func runCheck(ctx context.Context, stdout io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := backend.NewClient(cfg.Backend.URL, backend.Options{
		Timeout: cfg.Health.ProbeTimeout,
		Logger:  config.NewLogger(io.Discard, slog.LevelError, "text"),
	})

	res := checkResult{URL: client.BaseURL()}
	start := time.Now()
	probeErr := client.Health(ctx)
	res.ElapsedMS = time.Since(start).Milliseconds()
	res.Available = probeErr == nil
	if probeErr != nil {
		res.Error = probeErr.Error()
	} else if videos, err := client.ListVideos(ctx); err == nil {
		n := len(videos)
		res.Videos = &n
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Available {
		fmt.Fprintf(stdout, "backend %s is up (%dms)\n", res.URL, res.ElapsedMS)
		if res.Videos != nil {
			fmt.Fprintf(stdout, "  %d videos indexed\n", *res.Videos)
		}
	}

	if probeErr != nil {
		return fmt.Errorf("backend %s unavailable: %w", res.URL, probeErr)
	}
	return nil
}

// loadConfig locates and parses the YAML configuration file. An explicit
// path must exist. Without one, the default locations are searched and
// the built-in defaults apply when none is found. Returns the config and
// the path loaded ("" for defaults).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		cfg, err := config.LoadDefault()
		if err != nil {
			return nil, "", fmt.Errorf("default config: %w", err)
		}
		return cfg, "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
