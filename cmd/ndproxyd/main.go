// Command ndproxyd runs the ND proxy daemon: it binds the interfaces named
// in its configuration file into proxy groups and forwards Neighbor Discovery and
// unicast/multicast IPv6 traffic between them until it receives a
// termination signal.
//
// Flag parsing, logger setup, and signal handling are process scaffolding
// around the core engine in internal/proxyengine; spec §1 treats all of it
// as an external collaborator, so it is kept intentionally thin here.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"

	"github.com/ndproxyd/ndproxyd/internal/ndproxysvc"
)

// shutdownTimeout bounds how long Shutdown may take once a termination
// signal is received.
const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses args, starts the service, and blocks until a termination
// signal arrives or startup fails.  It returns the process exit code.
func run(args []string) (code int) {
	opts, err := parseOptions(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return osutil.ExitCodeArgumentError
	}

	logger := newLogger(opts.verbose)
	ctx := context.Background()

	conf, err := loadConfig(opts.confFile)
	if err != nil {
		logger.ErrorContext(ctx, "loading config", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}
	conf.Logger = logger

	svc, err := ndproxysvc.New(conf)
	if err != nil {
		logger.ErrorContext(ctx, "building service", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	if err = svc.Start(ctx); err != nil {
		logger.ErrorContext(ctx, "starting service", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return waitAndShutdown(ctx, logger, svc)
}

// waitAndShutdown blocks until a shutdown signal is received, then stops
// svc within shutdownTimeout.
func waitAndShutdown(ctx context.Context, logger *slog.Logger, svc ndproxysvc.Service) (code int) {
	sig := make(chan os.Signal, 1)

	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, sig)

	s := <-sig
	logger.InfoContext(ctx, "received signal", "signal", s)

	shutCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := svc.Shutdown(shutCtx); err != nil {
		logger.ErrorContext(ctx, "shutting down", slogutil.KeyError, err)

		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// newLogger returns the process's base structured logger.
func newLogger(verbose bool) (logger *slog.Logger) {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Format:       slogutil.FormatDefault,
		Level:        lvl,
		AddTimestamp: true,
	})
}

// options holds the daemon's command-line options.
type options struct {
	confFile string
	verbose  bool
}

// parseOptions parses the daemon's command-line flags.
func parseOptions(args []string) (opts *options, err error) {
	fs := flag.NewFlagSet("ndproxyd", flag.ContinueOnError)

	opts = &options{}
	fs.StringVar(&opts.confFile, "config", "/etc/ndproxyd.yaml", "path to the group/interface configuration file")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	if err = fs.Parse(args); err != nil {
		return nil, err
	}

	return opts, nil
}

// parseGroupSpec parses one line of the configuration file, whose shape is
// "group_name:iface1,iface2*" where a trailing "*" marks the upstream
// member, e.g. "wan:eth0*,vmtap0,vmtap1".
func parseGroupSpec(line string) (gc ndproxysvc.GroupConfig, err error) {
	name, rest, ok := strings.Cut(line, ":")
	if !ok {
		return gc, fmt.Errorf("malformed group line %q: missing ':'", line)
	}

	gc.Name = strings.TrimSpace(name)

	for _, tok := range strings.Split(rest, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		mc := ndproxysvc.MemberConfig{Interface: strings.TrimSuffix(tok, "*")}
		mc.Upstream = strings.HasSuffix(tok, "*")
		gc.Members = append(gc.Members, mc)
	}

	return gc, nil
}

// loadConfig reads the simple line-oriented group configuration at path;
// see [parseGroupSpec] for the line format. Blank lines and lines starting
// with '#' are ignored.
func loadConfig(path string) (conf *ndproxysvc.Config, err error) {
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, fmt.Errorf("reading %s: %w", path, rerr)
	}

	conf = &ndproxysvc.Config{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		gc, perr := parseGroupSpec(line)
		if perr != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, i+1, perr)
		}

		conf.Groups = append(conf.Groups, gc)
	}

	return conf, nil
}
