package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/embano1/transcribe-worker/internal/config"
	"github.com/embano1/transcribe-worker/internal/logging"
	"github.com/embano1/transcribe-worker/internal/server"
)

// errJobFailed is returned after a failed job's response has been printed.
var errJobFailed = errors.New("job failed")

// localTestEvent is run when the worker starts outside serverless mode.
const localTestEvent = `{"input":{"file_name":"test-audio.wav","model_size":"large-v3","language":"-","align":true}}`

type commandContext struct {
	configFlag *string

	once   sync.Once
	config *config.Config
	logger *slog.Logger
	err    error
}

func (c *commandContext) ensure() (*config.Config, *slog.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(*c.configFlag), os.Getenv)
		if err != nil {
			c.err = err
			return
		}
		logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: os.Stderr})
		if err != nil {
			c.err = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.err
}

func (c *commandContext) app(ctx context.Context) (*app, error) {
	cfg, logger, err := c.ensure()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, logger)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "transcribe-worker",
		Short:         "Serverless transcription worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			_, _, err := ctx.ensure()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, _ := ctx.ensure()
			logger.Info("initializing transcription worker",
				logging.String("engine", cfg.Engine),
				logging.Bool("serverless", cfg.ServerlessMode),
			)
			if cfg.ServerlessMode {
				return runServe(cmd, ctx, "")
			}
			return runEvent(cmd, ctx, []byte(localTestEvent), "json")
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newModelsCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the job endpoint over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides LISTEN_ADDR)")
	return cmd
}

func runServe(cmd *cobra.Command, cc *commandContext, addr string) error {
	sigCtx, stop := signalContext(cmd)
	defer stop()

	a, err := cc.app(sigCtx)
	if err != nil {
		return err
	}
	preflight(sigCtx, a.cfg, a.s3, nil, a.logger)

	if addr == "" {
		addr = a.cfg.ListenAddr
	}
	srv := server.New(a.handler, server.Options{
		Addr:              addr,
		MaxConcurrentJobs: a.cfg.MaxConcurrentJobs,
		Logger:            a.logger,
	})
	return srv.Run(sigCtx)
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		jobFile  string
		fileName string
		model    string
		language string
		align    bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single job and print the result",
		Example: `  transcribe-worker run --file clip.mp4 --model base --align
  transcribe-worker run --job job.json --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var event []byte
			switch {
			case jobFile != "":
				data, err := os.ReadFile(jobFile)
				if err != nil {
					return fmt.Errorf("read job file: %w", err)
				}
				event = data
			case fileName != "":
				var err error
				event, err = buildEvent(fileName, model, language, align)
				if err != nil {
					return err
				}
			default:
				return errors.New("either --job or --file is required")
			}
			return runEvent(cmd, ctx, event, output)
		},
	}
	cmd.Flags().StringVar(&jobFile, "job", "", "Path to a JSON job event ({\"input\": {...}})")
	cmd.Flags().StringVarP(&fileName, "file", "f", "", "Object key in the bucket")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model size (default large-v3)")
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language code, or - for auto-detect")
	cmd.Flags().BoolVar(&align, "align", false, "Align segments to word timings")
	cmd.Flags().StringVarP(&output, "output", "o", "auto", "Output format: auto, json or table")
	return cmd
}

func runEvent(cmd *cobra.Command, cc *commandContext, event []byte, format string) error {
	sigCtx, stop := signalContext(cmd)
	defer stop()

	a, err := cc.app(sigCtx)
	if err != nil {
		return err
	}
	preflight(sigCtx, a.cfg, a.s3, nil, a.logger)

	resp := a.handler.Handle(sigCtx, event)
	if err := printResponse(cmd.OutOrStdout(), resp, format); err != nil {
		return err
	}
	if resp.Failed() {
		return errJobFailed
	}
	return nil
}

func newModelsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and pre-warm the model cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported model sizes and their cache state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			out, err := renderModels(newProvider(cfg, logger))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "fetch <size>...",
		Short: "Download model artifacts into the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			sigCtx, stop := signalContext(cmd)
			defer stop()

			provider := newProvider(cfg, logger)
			for _, size := range args {
				if err := provider.Fetch(sigCtx, size); err != nil {
					return fmt.Errorf("fetch %s: %w", size, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ready\n", size)
			}
			return nil
		},
	})
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.VersionString())
		},
	}
}
