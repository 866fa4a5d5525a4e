// Command xipology transmits and receives short byte strings through the
// cache of a shared recursive DNS resolver.
//
// Both endpoints must agree out-of-band on a secret and a zone suffix. The
// secret comes from the XIPOLOGY_SECRET environment variable or an
// interactive prompt; everything else is flags, config file, or XIPOLOGY_*
// environment.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/oherrala/xipology/internal/config"
	"github.com/oherrala/xipology/internal/logging"
	"github.com/oherrala/xipology/internal/probe"
	"github.com/oherrala/xipology/internal/xip"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath  string
	send        string
	recv        bool
	wait        bool
	resolver    string
	suffix      string
	timeout     time.Duration
	threshold   time.Duration
	noCalibrate bool
	poll        time.Duration
	maxAttempts int
	jsonLogs    bool
	debug       bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.send, "send", "", "Transmit the given text (1-255 bytes)")
	flag.BoolVar(&f.recv, "recv", false, "Receive one message")
	flag.BoolVar(&f.wait, "wait", false, "Poll until a message arrives")
	flag.StringVar(&f.resolver, "resolver", "", "Override resolver HOST:PORT")
	flag.StringVar(&f.suffix, "suffix", "", "Override zone suffix")
	flag.DurationVar(&f.timeout, "timeout", 0, "Override per-query timeout")
	flag.DurationVar(&f.threshold, "threshold", 0, "Override cache latency threshold")
	flag.BoolVar(&f.noCalibrate, "no-calibrate", false, "Skip threshold calibration")
	flag.DurationVar(&f.poll, "poll", 0, "Override -wait polling interval")
	flag.IntVar(&f.maxAttempts, "max-attempts", -1, "Limit -wait polls (0 means unlimited)")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

// applyCLIOverrides applies command-line overrides to the loaded config.
func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.resolver != "" {
		cfg.Resolver.Server = f.resolver
	}
	if f.suffix != "" {
		cfg.Channel.Suffix = f.suffix
	}
	if f.timeout > 0 {
		cfg.Resolver.QueryTimeout = f.timeout
	}
	if f.threshold > 0 {
		cfg.Resolver.Threshold = f.threshold
	}
	if f.noCalibrate {
		cfg.Resolver.Calibrate = false
	}
	if f.poll > 0 {
		cfg.Receive.PollInterval = f.poll
	}
	if f.maxAttempts >= 0 {
		cfg.Receive.MaxAttempts = f.maxAttempts
	}
	if f.jsonLogs {
		cfg.Logging.JSON = true
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	modes := 0
	for _, on := range []bool{flags.send != "", flags.recv, flags.wait} {
		if on {
			modes++
		}
	}
	if modes != 1 {
		return errors.New("exactly one of -send, -recv, -wait is required")
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:       cfg.Logging.Level,
		JSON:        cfg.Logging.JSON,
		IncludePID:  cfg.Logging.IncludePID,
		ExtraFields: cfg.Logging.ExtraFields,
	})

	secret, err := readSecret()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resolver := probe.NewResolver(cfg.Resolver.Server, cfg.Resolver.QueryTimeout, cfg.Resolver.Threshold, logger)
	if cfg.Resolver.Calibrate {
		if err := resolver.Calibrate(ctx, cfg.Channel.Suffix); err != nil {
			return err
		}
	}
	logger.Info("xipology starting",
		"resolver", cfg.Resolver.Server,
		"suffix", cfg.Channel.Suffix,
		"threshold", resolver.Threshold(),
	)

	switch {
	case flags.send != "":
		return send(ctx, cfg, resolver, secret, []byte(flags.send))
	case flags.recv:
		return receiveOnce(ctx, cfg, resolver, secret)
	default:
		return waitForMessage(ctx, cfg, resolver, secret, logger)
	}
}

func send(ctx context.Context, cfg *config.Config, p probe.Prober, secret, payload []byte) error {
	w, err := xip.NewWriter(secret, cfg.Channel.Suffix, p, nil)
	if err != nil {
		return err
	}
	return w.Send(ctx, payload)
}

func receiveOnce(ctx context.Context, cfg *config.Config, p probe.Prober, secret []byte) error {
	r, err := xip.NewReader(secret, cfg.Channel.Suffix, p, nil)
	if err != nil {
		return err
	}
	payload, err := r.Receive(ctx)
	if err != nil {
		return err
	}
	return printMessage(payload)
}

func waitForMessage(ctx context.Context, cfg *config.Config, p probe.Prober, secret []byte, logger *slog.Logger) error {
	// Every poll opens a fresh reader so the name stream restarts from the
	// beginning; a no-byte poll would otherwise leave us eleven names ahead
	// of a writer that starts later.
	for attempt := 1; ; attempt++ {
		r, err := xip.NewReader(secret, cfg.Channel.Suffix, p, nil)
		if err != nil {
			return err
		}
		payload, err := r.Receive(ctx)
		if err == nil {
			return printMessage(payload)
		}
		if xip.Fatal(err) {
			return err
		}
		logger.Info("channel empty", "attempt", attempt)

		if cfg.Receive.MaxAttempts > 0 && attempt >= cfg.Receive.MaxAttempts {
			return fmt.Errorf("no message after %d attempts", attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Receive.PollInterval):
		}
	}
}

func printMessage(payload []byte) error {
	if _, err := os.Stdout.Write(payload); err != nil {
		return err
	}
	if !strings.HasSuffix(string(payload), "\n") {
		fmt.Println()
	}
	return nil
}

// readSecret takes the shared secret from XIPOLOGY_SECRET, or prompts
// without echo when stdin is a terminal, or reads one line from stdin.
func readSecret() ([]byte, error) {
	if s := os.Getenv("XIPOLOGY_SECRET"); s != "" {
		return []byte(s), nil
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret: %w", err)
		}
		return secret, nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("failed to read secret from stdin: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
