package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
	"github.com/warpdl/warpload/common"
	hist "github.com/warpdl/warpload/internal/history"
	"github.com/warpdl/warpload/internal/manifest"
	"github.com/warpdl/warpload/internal/metrics"
	"github.com/warpdl/warpload/internal/server"
	"github.com/warpdl/warpload/pkg/fetch"
	"github.com/warpdl/warpload/pkg/loadsched"
	"github.com/warpdl/warpload/pkg/logger"
)

var errNoSecret = errors.New("--rpc-secret (or " + common.RPCSecretEnv + ") is required with --rpc-listen")

var (
	highLimit   int
	mediumLimit int
	lowLimit    int
	strictDeps  bool
	historyDB   string
	rpcListen   string
	rpcSecret   string
	quiet       bool
	proxyURL    string
	userAgent   string
	knownHosts  string
	sshKey      string
	metricsOut  string
	logFile     string

	runFlags = []cli.Flag{
		cli.IntFlag{
			Name:        "high",
			Usage:       "maximum in-flight high priority resources (default: manifest or 3)",
			Destination: &highLimit,
		},
		cli.IntFlag{
			Name:        "medium",
			Usage:       "maximum in-flight medium priority resources (default: manifest or 2)",
			Destination: &mediumLimit,
		},
		cli.IntFlag{
			Name:        "low",
			Usage:       "maximum in-flight low priority resources (default: manifest or 1)",
			Destination: &lowLimit,
		},
		cli.BoolFlag{
			Name:        "strict",
			Usage:       "refuse to start when a prerequisite is unknown or dependencies form a cycle",
			Destination: &strictDeps,
		},
		cli.StringFlag{
			Name:        "history",
			Usage:       "record the run in this SQLite database",
			EnvVar:      common.HistoryDBEnv,
			Destination: &historyDB,
		},
		cli.StringFlag{
			Name:        "rpc-listen",
			Usage:       "serve the control endpoint and metrics on this address, e.g. " + common.DefaultRPCListen,
			EnvVar:      common.RPCListenEnv,
			Destination: &rpcListen,
		},
		cli.StringFlag{
			Name:        "rpc-secret",
			Usage:       "bearer token required from control clients",
			EnvVar:      common.RPCSecretEnv,
			Destination: &rpcSecret,
		},
		cli.BoolFlag{
			Name:        "quiet, q",
			Usage:       "only print the summary",
			Destination: &quiet,
		},
		cli.StringFlag{
			Name:        "proxy",
			Usage:       "proxy for http(s) resources: http, https or socks5 URL (default: manifest or environment)",
			Destination: &proxyURL,
		},
		cli.StringFlag{
			Name:        "user-agent",
			Usage:       "HTTP user agent: warpload, firefox, chrome or a literal value (default: manifest or warpload)",
			Destination: &userAgent,
		},
		cli.StringFlag{
			Name:        "known-hosts",
			Usage:       "known_hosts file for sftp host keys (default: user config dir)",
			EnvVar:      common.KnownHostsEnv,
			Destination: &knownHosts,
		},
		cli.StringFlag{
			Name:        "ssh-key",
			Usage:       "private key for sftp (default: ~/.ssh/id_ed25519, ~/.ssh/id_rsa)",
			EnvVar:      common.SSHKeyEnv,
			Destination: &sshKey,
		},
		cli.StringFlag{
			Name:        "metrics-out",
			Usage:       "write the final metrics in Prometheus text format to this file",
			Destination: &metricsOut,
		},
		cli.StringFlag{
			Name:        "log-file",
			Usage:       "append the run log to this file",
			Destination: &logFile,
		},
	}
)

// runConfig is a run's settings after flags are read. Zero values defer to
// the manifest.
type runConfig struct {
	Manifest   string
	Limits     map[loadsched.Priority]int
	Strict     bool
	HistoryDB  string
	RPCListen  string
	RPCSecret  string
	Quiet      bool
	Proxy      string
	UserAgent  string
	KnownHosts string
	SSHKey     string
	MetricsOut string
	LogFile    string
	// started, when set, is called once the run and its control server are up.
	started func(*loadsched.Scheduler, *server.Server)
}

type runResult struct {
	Summary loadsched.Summary
	RunID   string
}

func run(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cmdcommon.PrintErrWithCmdHelp(
			ctx,
			errors.New("no manifest provided"),
		)
	} else if path == "help" {
		return cli.ShowCommandHelp(ctx, ctx.Command.Name)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runManifest(sigCtx, runConfig{
		Manifest: path,
		Limits: map[loadsched.Priority]int{
			loadsched.PriorityHigh:   highLimit,
			loadsched.PriorityMedium: mediumLimit,
			loadsched.PriorityLow:    lowLimit,
		},
		Strict:     strictDeps,
		HistoryDB:  historyDB,
		RPCListen:  rpcListen,
		RPCSecret:  rpcSecret,
		Quiet:      quiet,
		Proxy:      proxyURL,
		UserAgent:  userAgent,
		KnownHosts: knownHosts,
		SSHKey:     sshKey,
		MetricsOut: metricsOut,
		LogFile:    logFile,
	}, os.Stdout, os.Stderr)
	if err != nil {
		cmdcommon.PrintRuntimeErr(ctx, "run", "load", err)
		return cli.NewExitError("", 1)
	}
	if n := len(res.Summary.Failed); n > 0 {
		return cli.NewExitError(fmt.Sprintf("%s: %d resource(s) failed", ctx.App.HelpName, n), 1)
	}
	return nil
}

// runManifest loads the manifest in cfg and drives it to completion. Bars
// and the summary go to out; with cfg.Quiet set, log lines go to errOut
// only when a log file is not configured.
func runManifest(ctx context.Context, cfg runConfig, out, errOut io.Writer) (*runResult, error) {
	m, err := manifest.Load(afero.NewOsFs(), cfg.Manifest)
	if err != nil {
		return nil, err
	}
	opts, err := m.Options()
	if err != nil {
		return nil, err
	}
	resources, err := m.Build()
	if err != nil {
		return nil, err
	}
	for p, n := range cfg.Limits {
		if n <= 0 {
			continue
		}
		if opts.Concurrency == nil {
			opts.Concurrency = make(map[loadsched.Priority]int)
		}
		opts.Concurrency[p] = n
	}
	if cfg.Strict {
		opts.StrictDependencies = true
	}

	display := newRunDisplay(out, len(resources), cfg.Quiet)
	var console io.Writer
	if !cfg.Quiet {
		console = display.Writer()
	} else if cfg.LogFile == "" {
		console = errOut
	}
	l, err := newRunLogger(console, cfg.LogFile)
	if err != nil {
		display.Abort()
		return nil, err
	}
	defer l.Close()
	opts.Logger = l

	f, err := newFetcher(m, cfg, l)
	if err != nil {
		display.Abort()
		return nil, err
	}
	sched := loadsched.New(f, opts)
	defer sched.Close()
	for _, r := range resources {
		if err := sched.Register(r); err != nil {
			display.Abort()
			return nil, err
		}
	}

	collector := metrics.NewCollector()
	sched.Subscribe(collector)
	sched.Subscribe(display)

	var store *hist.Store
	if cfg.HistoryDB != "" {
		store, err = hist.Open(cfg.HistoryDB, l)
		if err != nil {
			display.Abort()
			return nil, err
		}
		defer store.Close()
		sched.Subscribe(store)
	}

	var srv *server.Server
	if cfg.RPCListen != "" {
		if cfg.RPCSecret == "" {
			display.Abort()
			return nil, errNoSecret
		}
		srv = server.New(server.Config{
			Listen:    cfg.RPCListen,
			Secret:    cfg.RPCSecret,
			Version:   currentBuildArgs.Version,
			Commit:    currentBuildArgs.Commit,
			BuildType: currentBuildArgs.BuildType,
		}, sched, collector.Handler(), l)
		sched.Subscribe(srv.Notifier())
		if err := srv.Start(); err != nil {
			display.Abort()
			return nil, err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), DEF_SHUTDOWN)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				l.Warning("control server shutdown: %v", err)
			}
		}()
		l.Info("control endpoint: ws://%s%s", srv.Addr(), server.RPCPath)
	}

	if !opts.StrictDependencies {
		if err := sched.Validate(); err != nil {
			for _, line := range strings.Split(err.Error(), "\n") {
				l.Warning("%s; the run will not complete", line)
			}
		}
	}
	if err := sched.Start(); err != nil {
		display.Abort()
		return nil, err
	}
	if cfg.started != nil {
		cfg.started(sched, srv)
	}

	summary, err := sched.Wait(ctx)
	if err != nil {
		_ = sched.Close()
		display.Abort()
		return nil, fmt.Errorf("run interrupted: %w", err)
	}
	display.Wait()

	res := &runResult{Summary: summary}
	if store != nil {
		res.RunID = store.RunID()
	}
	if cfg.MetricsOut != "" {
		if err := writeMetrics(collector, cfg.MetricsOut); err != nil {
			return res, err
		}
	}
	printSummary(out, res)
	return res, nil
}

func newFetcher(m *manifest.Manifest, cfg runConfig, l logger.Logger) (*fetch.Fetcher, error) {
	proxy := cfg.Proxy
	if proxy == "" {
		proxy = m.Proxy
	}
	client, err := fetch.NewHTTPClient(proxy)
	if err != nil {
		return nil, err
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = m.UserAgent
	}
	return fetch.New(fetch.Options{
		HTTPClient:     client,
		UserAgent:      getUserAgent(ua),
		Root:           m.Dir,
		KnownHostsPath: cfg.KnownHosts,
		SSHKeyPath:     cfg.SSHKey,
		Logger:         l,
	})
}

func writeMetrics(c *metrics.Collector, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := c.WriteText(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return f.Close()
}

func printSummary(w io.Writer, res *runResult) {
	s := res.Summary
	fmt.Fprintf(w, "\nLoaded %d, failed %d in %s\n",
		len(s.Success), len(s.Failed), s.Duration.Round(time.Millisecond))
	if len(s.Failed) > 0 {
		fmt.Fprintf(w, "Failed: %s\n", strings.Join(s.Failed, ", "))
	}
	if res.RunID != "" {
		fmt.Fprintf(w, "Run id: %s\n", res.RunID)
	}
}
