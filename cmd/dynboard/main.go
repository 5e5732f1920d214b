package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dynboard/internal/runner"
	"github.com/ajitpratap0/dynboard/pkg/board"
	"github.com/ajitpratap0/dynboard/pkg/board/registry"
	"github.com/ajitpratap0/dynboard/pkg/board/vendors"
	"github.com/ajitpratap0/dynboard/pkg/config"
	"github.com/ajitpratap0/dynboard/pkg/errors"
	"github.com/ajitpratap0/dynboard/pkg/logger"
	"github.com/ajitpratap0/dynboard/pkg/models"
	"github.com/ajitpratap0/dynboard/pkg/observability"
)

var version = "0.1.0"

// globalFlags are shared by every command that touches a board
type globalFlags struct {
	configFile string
	logLevel   string
}

// sessionFlags select a board and its connection parameters
type sessionFlags struct {
	board            string
	libraryDir       string
	handshakeTimeout time.Duration
	params           models.InputParameters
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.board, "board", "b", "", "Board name, see 'dynboard list' (required)")
	cmd.Flags().StringVar(&f.libraryDir, "library-dir", "", "Directory containing the vendor library")
	cmd.Flags().DurationVar(&f.handshakeTimeout, "handshake-timeout", 0, "How long start waits for acquisition to confirm (default from config)")
	cmd.Flags().StringVar(&f.params.SerialPort, "serial-port", "", "Serial port")
	cmd.Flags().StringVar(&f.params.MACAddress, "mac-address", "", "MAC address")
	cmd.Flags().StringVar(&f.params.IPAddress, "ip-address", "", "IP address")
	cmd.Flags().IntVar(&f.params.IPPort, "ip-port", 0, "IP port")
	cmd.Flags().IntVar(&f.params.IPProtocol, "ip-protocol", 0, "IP protocol")
	cmd.Flags().StringVar(&f.params.OtherInfo, "other-info", "", "Vendor specific information")
	cmd.Flags().IntVar(&f.params.Timeout, "timeout", 0, "Vendor discovery timeout in seconds")
	cmd.Flags().StringVar(&f.params.SerialNumber, "serial-number", "", "Device serial number")
	cmd.Flags().StringVar(&f.params.File, "file", "", "Input file for playback boards")
	_ = cmd.MarkFlagRequired("board")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	globals := &globalFlags{}
	root := &cobra.Command{
		Use:   "dynboard",
		Short: "dynboard - host vendor acquisition libraries behind one lifecycle API",
		Long: `dynboard loads vendor-supplied native acquisition libraries at runtime and
drives them through prepare, start, stop and release. Boards are either built in
or declared in the configuration file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&globals.configFile, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&globals.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dynboard v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available boards",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(globals); err != nil {
				return err
			}
			fmt.Println("Available Boards:")
			for _, info := range registry.Catalog() {
				status := "supported"
				if !info.Supported {
					status = "unsupported on " + runtime.GOOS
				}
				fmt.Printf("  - %-20s %3d channels  %s\n", info.Name, info.Channels, status)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "info <board>",
		Short: "Show details of a board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := setup(globals); err != nil {
				return err
			}
			info, err := registry.Info(args[0])
			if err != nil {
				return err
			}
			data, err := gojson.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	root.AddCommand(newStreamCommand(globals))
	root.AddCommand(newConfigCommand(globals))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(int(errors.Status(err)))
	}
}

func newStreamCommand(globals *globalFlags) *cobra.Command {
	session := &sessionFlags{}
	run := runner.DefaultConfig()
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream data from a board",
		Long: `Prepare a board, stream until the duration elapses or the process is
interrupted, then stop and release it.

Example:
  dynboard stream --board gforce-pro --duration 30s --streamer file://emg.csv:w`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(globals)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Listen = metricsAddr
			}
			return runStream(cmd.Context(), cfg, session, run)
		},
	}
	session.register(cmd)
	cmd.Flags().IntVar(&run.BufferSize, "buffer-size", run.BufferSize, "Samples kept in the ring buffer")
	cmd.Flags().StringVar(&run.StreamerParams, "streamer", "", "Streamer: file://<path>:<w|a> or streaming_board://<ip>:<port>")
	cmd.Flags().DurationVar(&run.Duration, "duration", 0, "How long to stream; 0 streams until interrupted")
	cmd.Flags().DurationVar(&run.ReportInterval, "report-interval", run.ReportInterval, "Progress report period")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
	return cmd
}

func newConfigCommand(globals *globalFlags) *cobra.Command {
	session := &sessionFlags{}
	var command string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Send a configuration command to a board",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(globals)
			if err != nil {
				return err
			}
			adapter, err := createAdapter(cfg, session)
			if err != nil {
				return err
			}
			defer func() { _ = adapter.ReleaseSession() }()

			if err := adapter.PrepareSession(); err != nil {
				return err
			}
			response, err := adapter.ConfigBoard(command)
			if err != nil {
				return err
			}
			fmt.Println(response)
			return adapter.ReleaseSession()
		},
	}
	session.register(cmd)
	cmd.Flags().StringVar(&command, "command", "", "Configuration string passed to the vendor library")

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(globals)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})
	return cmd
}

// setup loads the configuration, initializes logging and registers the
// configured boards.
func setup(globals *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(globals.configFile)
	if err != nil {
		return nil, err
	}
	if globals.logLevel != "" {
		cfg.Log.Level = globals.logLevel
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Encoding:    cfg.Log.Encoding,
		Development: cfg.Log.Development,
	}); err != nil {
		return nil, err
	}
	if err := vendors.RegisterConfigured(registry.GetRegistry(), cfg.Boards); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createAdapter(cfg *config.Config, session *sessionFlags) (*board.Adapter, error) {
	opts := []board.Option{board.WithAdapterConfig(cfg.Adapter)}
	if session.libraryDir != "" {
		opts = append(opts, board.WithLibraryDir(session.libraryDir))
	}
	if session.handshakeTimeout > 0 {
		opts = append(opts, board.WithHandshakeTimeout(session.handshakeTimeout))
	}
	return registry.Create(session.board, session.params, opts...)
}

// runStream executes one streaming session with metrics and tracing wired in
func runStream(parent context.Context, cfg *config.Config, session *sessionFlags, run *runner.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Get().With(zap.String("component", "dynboard-cli"))

	if cfg.Tracing.Enabled {
		if err := observability.Initialize(observability.TracingConfig{
			ServiceName:    "dynboard",
			ServiceVersion: version,
			SamplingRate:   cfg.Tracing.SamplingRate,
			Writer:         os.Stderr,
		}); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", cfg.Metrics.Listen))
	}

	adapter, err := createAdapter(cfg, session)
	if err != nil {
		return err
	}

	result, err := runner.New(adapter, run, log).Run(ctx)
	if err != nil {
		return fmt.Errorf("streaming from %s failed (%s): %w", session.board, errors.Status(err), err)
	}

	fmt.Printf("Board: %s\n", session.board)
	fmt.Printf("Samples: %d (%.1f/s)\n", result.Samples, result.SamplesPerSec)
	fmt.Printf("Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.Interrupted {
		fmt.Println("Acquisition stopped before the requested duration")
	}
	return nil
}
