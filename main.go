package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/heungtae/codex-chat-bridge/internal/config"
	"github.com/heungtae/codex-chat-bridge/internal/logging"
	"github.com/heungtae/codex-chat-bridge/internal/metrics"
	"github.com/heungtae/codex-chat-bridge/internal/profile"
	"github.com/heungtae/codex-chat-bridge/internal/server"
	"github.com/heungtae/codex-chat-bridge/internal/upstream"
)

const shutdownTimeout = 5 * time.Second

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(cmdServe(args))
	case "init-config":
		os.Exit(cmdInitConfig(args))
	case "profiles":
		os.Exit(cmdProfiles(args))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Commands: serve, init-config, profiles")
		os.Exit(1)
	}
}

// serveFlags are the command-line settings. Only flags the user actually
// passed become part of the flag layer.
type serveFlags struct {
	fs *flag.FlagSet

	config        string
	profile       string
	logFile       string
	host          string
	port          int
	upstreamURL   string
	upstreamWire  string
	apiKeyEnv     string
	timeoutSecs   int
	streamOnly    bool
	serverInfo    string
	httpShutdown  bool
	verbose       bool
	dropToolTypes string
}

func newServeFlags(name string) *serveFlags {
	f := &serveFlags{fs: flag.NewFlagSet(name, flag.ExitOnError)}
	f.fs.StringVar(&f.config, "config", "", "Config file path (default ~/.config/codex-chat-bridge/conf.toml)")
	f.fs.StringVar(&f.profile, "profile", "", "Profile active at startup")
	f.fs.StringVar(&f.logFile, "log-file", "", "Also write logs to this rotating file")
	f.fs.StringVar(&f.host, "host", "", "Bind host")
	f.fs.IntVar(&f.port, "port", 0, "Listen port (0 picks a free port)")
	f.fs.StringVar(&f.upstreamURL, "upstream-url", "", "Upstream endpoint URL")
	f.fs.StringVar(&f.upstreamWire, "upstream-wire", "", "Upstream wire protocol (chat|responses)")
	f.fs.StringVar(&f.apiKeyEnv, "api-key-env", "", "Environment variable holding the upstream API key")
	f.fs.IntVar(&f.timeoutSecs, "upstream-timeout-secs", 0, "Upstream timeout in seconds")
	f.fs.BoolVar(&f.streamOnly, "upstream-stream-only", false, "Always request a streamed upstream reply")
	f.fs.StringVar(&f.serverInfo, "server-info", "", "Write {port,pid} JSON to this path after binding")
	f.fs.BoolVar(&f.httpShutdown, "http-shutdown", false, "Enable the /shutdown endpoint")
	f.fs.BoolVar(&f.verbose, "verbose", false, "Enable verbose logging")
	f.fs.StringVar(&f.dropToolTypes, "drop-tool-types", "", "Comma-separated tool types removed before forwarding")
	return f
}

func (f *serveFlags) overrides() config.Overrides {
	var o config.Overrides
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "host":
			o.Host = &f.host
		case "port":
			o.Port = &f.port
		case "upstream-url":
			o.UpstreamURL = &f.upstreamURL
		case "upstream-wire":
			o.UpstreamWire = &f.upstreamWire
		case "api-key-env":
			o.APIKeyEnv = &f.apiKeyEnv
		case "upstream-timeout-secs":
			o.UpstreamTimeoutSecs = &f.timeoutSecs
		case "upstream-stream-only":
			o.UpstreamStreamOnly = &f.streamOnly
		case "server-info":
			o.ServerInfo = &f.serverInfo
		case "http-shutdown":
			o.HTTPShutdown = &f.httpShutdown
		case "verbose":
			o.Verbose = &f.verbose
		case "drop-tool-types":
			o.DropToolTypes = []string{}
			for _, t := range strings.Split(f.dropToolTypes, ",") {
				if t = strings.TrimSpace(t); t != "" {
					o.DropToolTypes = append(o.DropToolTypes, t)
				}
			}
		}
	})
	return o
}

// loadProfiles reads the config file and stacks env and flag layers on it.
func (f *serveFlags) loadProfiles() (*config.File, *profile.Manager, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("config.dotenv_failed", "error", err)
	}

	path, err := config.ResolvePath(f.config)
	if err != nil {
		return nil, nil, err
	}
	if _, err := config.EnsureDefaultFile(path); err != nil {
		return nil, nil, err
	}
	file, err := config.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	initial := f.profile
	if initial == "" {
		initial = config.ProfileFromEnv()
	}
	mgr, err := profile.New(config.NewProfileSet(file, config.FromEnv(), f.overrides(), initial))
	if err != nil {
		return nil, nil, err
	}
	return file, mgr, nil
}

func cmdServe(args []string) int {
	f := newServeFlags("serve")
	f.fs.Parse(args)

	file, mgr, err := f.loadProfiles()
	if err != nil {
		slog.Error("config.load_failed", "error", err)
		return 1
	}
	active := mgr.Active()

	logFile := file.LogFile
	if f.logFile != "" {
		logFile = f.logFile
	}
	closer := logging.Setup(logging.Options{Verbose: active.Config.Verbose, File: logFile})
	defer closer.Close()

	m := metrics.New()
	m.SetActiveProfile(mgr.List(), active.Name)
	mgr.OnSwitch(m.ProfileSwitched)

	shutdownCh := make(chan struct{})
	var shutdownOnce sync.Once
	srv := server.New(server.Options{
		Profiles: mgr,
		Upstream: upstream.NewClient(nil),
		Metrics:  m,
		RequestShutdown: func() {
			shutdownOnce.Do(func() { close(shutdownCh) })
		},
	})

	addr, err := srv.Listen(active.Config.Host, active.Config.Port)
	if err != nil {
		slog.Error("server.listen_failed", "host", active.Config.Host, "port", active.Config.Port, "error", err)
		return 1
	}
	if path := active.Config.ServerInfoPath; path != "" {
		if err := server.WriteServerInfo(path, addr.Port); err != nil {
			slog.Error("server.info_write_failed", "path", path, "error", err)
			return 1
		}
	}
	slog.Info("server.listening",
		"addr", addr.String(),
		"profile", active.Name,
		"upstream_wire", active.Config.UpstreamWire,
		"upstream_url", active.Config.UpstreamURL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-shutdownCh:
		}
		slog.Info("server.shutting_down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server.error", "error", err)
		return 1
	}
	return 0
}

func cmdInitConfig(args []string) int {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path (default ~/.config/codex-chat-bridge/conf.toml)")
	fs.Parse(args)

	path, err := config.ResolvePath(*configPath)
	if err != nil {
		slog.Error("config.path_failed", "error", err)
		return 1
	}
	created, err := config.EnsureDefaultFile(path)
	if err != nil {
		slog.Error("config.create_failed", "path", path, "error", err)
		return 1
	}
	if created {
		fmt.Printf("Wrote %s\n", path)
	} else {
		fmt.Printf("%s already exists\n", path)
	}
	return 0
}

func cmdProfiles(args []string) int {
	f := newServeFlags("profiles")
	f.fs.Parse(args)

	_, mgr, err := f.loadProfiles()
	if err != nil {
		slog.Error("config.load_failed", "error", err)
		return 1
	}
	active := mgr.Active().Name
	for _, name := range mgr.List() {
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, name)
	}
	return 0
}
