// Command dnsprobe sanity-checks a recursive resolver before trusting it
// with a channel session.
//
// It probes a name repeatedly and prints the round-trip time and cache
// classification of each probe. Against a caching resolver the first probe
// of a fresh name should classify uncached and the rest cached; a resolver
// that never flips to cached is unusable for the channel.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/oherrala/xipology/internal/name"
	"github.com/oherrala/xipology/internal/probe"
)

func main() {
	var (
		server    = flag.String("server", "8.8.8.8:53", "Resolver HOST:PORT")
		qname     = flag.String("name", "", "Name to probe (random under -suffix if empty)")
		suffix    = flag.String("suffix", name.DefaultSuffix, "Zone for calibration and random names")
		count     = flag.Int("count", 3, "Number of probes")
		timeout   = flag.Duration("timeout", probe.DefaultTimeout, "Per-query timeout")
		threshold = flag.Duration("threshold", probe.DefaultThreshold, "Cache latency threshold")
		calibrate = flag.Bool("calibrate", false, "Measure the threshold before probing")
		quiet     = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	if err := run(*server, *qname, *suffix, *count, *timeout, *threshold, *calibrate, *quiet); err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dnsprobe error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(server, qname, suffix string, count int, timeout, threshold time.Duration, calibrate, quiet bool) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	r := probe.NewResolver(server, timeout, threshold, logger)
	ctx := context.Background()

	if calibrate {
		if err := r.Calibrate(ctx, suffix); err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("calibrated threshold: %v\n", r.Threshold())
		}
	}

	if qname == "" {
		// A fresh random name demonstrates the miss-then-hit pattern.
		gen, err := name.NewGenerator(randomSecret(), suffix)
		if err != nil {
			return err
		}
		qname = gen.Next()
	}

	for i := 1; i <= count; i++ {
		rtt, err := r.RTT(ctx, qname)
		if err != nil {
			return err
		}
		if !quiet {
			fmt.Printf("probe %d: name=%s rtt=%v cached=%t\n", i, qname, rtt, rtt < r.Threshold())
		}
	}
	return nil
}

// randomSecret seeds a throwaway generator; the probed name only needs to be
// unpredictable, not reproducible.
func randomSecret() []byte {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return buf[:]
}
