package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hazyhaar/shimmer/internal/browser"
	"github.com/hazyhaar/shimmer/internal/config"
	"github.com/hazyhaar/shimmer/internal/journal"
	"github.com/hazyhaar/shimmer/internal/sanitize"
	"github.com/hazyhaar/shimmer/shimmer"
)

var version = "dev"

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	flags      *pflag.FlagSet
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "shimmer",
		Short:         "Skeleton loading placeholders measured from real content",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "json", "log format: json or text")
	pf.String("shimmer-color", "", "ambient shimmer sweep colour")
	pf.String("background", "", "ambient block background colour")
	pf.Float64("duration", 0, "ambient sweep period in seconds")
	pf.Float64("radius", 0, "ambient fallback corner radius in px")

	root.AddCommand(
		newServeCmd(a),
		newMeasureCmd(a),
		newMCPCmd(a),
		newConfigCmd(a),
		newJournalCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.flags = cmd.Flags()
	cfg, err := config.Load(a.configPath, a.flags)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg, a.logger = cfg, logger
	return nil
}

// engineFlags adds the flags shared by commands that measure.
func engineFlags(fs *pflag.FlagSet) {
	fs.String("remote", "", "connect to a running Chrome at this DevTools URL")
	fs.String("chrome-bin", "", "Chrome binary to launch")
	fs.Bool("headful", false, "show the browser window")
	fs.Bool("stealth", false, "open stages with stealth evasions")
	fs.Int("max-stages", 4, "concurrent measurement pages")
	fs.Int("width", 1280, "default layout width in px")
	fs.Duration("retry-delay", 100*time.Millisecond, "wait before re-measuring")
	fs.Int("retry-budget", 3, "re-measurements per episode")
	fs.String("settle", config.SettleUnchanged, "when geometry is final: unchanged or non_empty")
	fs.String("journal", "", "journal database path")
	fs.Bool("no-journal", false, "do not journal episodes")
	fs.Bool("no-sanitize", false, "mount raw HTML without sanitizing")
}

// runtime is an Engine and the resources behind it.
type runtime struct {
	engine  *shimmer.Engine
	browser *browser.Manager
	journal *journal.Journal
}

// openRuntime builds the Engine from a.cfg. Chrome is not started; call
// rt.browser.Start.
func (a *app) openRuntime() (*runtime, error) {
	rt := &runtime{browser: browser.NewManager(a.cfg.BrowserManager(a.logger))}

	if a.cfg.Journal.Enabled {
		j, err := journal.Open(a.cfg.Journal.Path, a.cfg.JournalOptions(a.logger)...)
		if err != nil {
			return nil, err
		}
		rt.journal = j
	}

	ecfg := shimmer.Config{
		Stages:       shimmer.BrowserStages(rt.browser),
		Policy:       a.cfg.Policy(),
		Ambient:      a.cfg.Shimmer,
		DefaultWidth: a.cfg.Measure.DefaultWidth,
		Timeout:      a.cfg.Measure.Timeout,
		Journal:      rt.journal,
		Ready:        rt.browser.Ready,
		Logger:       a.logger,
	}
	if a.cfg.Sanitize.Enabled {
		ecfg.Sanitizer = sanitize.New()
	}
	rt.engine = shimmer.New(ecfg)
	return rt, nil
}

func (rt *runtime) Close() {
	if err := rt.browser.Close(); err != nil {
		slog.Warn("shimmer: close browser", "error", err)
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			slog.Warn("shimmer: close journal", "error", err)
		}
	}
}

func newMCPServer(e *shimmer.Engine) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "shimmer", Version: version}, nil)
	e.RegisterMCP(srv)
	return srv
}

func newMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the shimmer tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := a.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.browser.Start(ctx); err != nil {
				return err
			}
			a.logger.Info("shimmer: mcp stdio ready")
			return newMCPServer(rt.engine).Run(ctx, &mcp.StdioTransport{})
		},
	}
	engineFlags(cmd.Flags())
	return cmd
}

