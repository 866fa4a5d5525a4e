package probe

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// Resolver defaults.
const (
	DefaultTimeout   = 3 * time.Second
	DefaultThreshold = 10 * time.Millisecond

	calibrationRounds = 3
)

// Resolver probes names against a real recursive resolver over UDP and
// classifies each response as cached or uncached by round-trip latency.
//
// Classification is a heuristic: a cache hit is answered from the resolver's
// memory and returns in well under the time an upstream recursion takes. The
// threshold separating the two can be fixed at construction or measured with
// Calibrate. The resolver must actually cache (an authoritative-only server
// or a cache-bypassing transport breaks the protocol).
type Resolver struct {
	client    *dns.Client
	server    string // resolver HOST:PORT
	threshold time.Duration
	log       *slog.Logger
}

// NewResolver builds a Resolver for the given HOST:PORT. Non-positive
// timeout and threshold select DefaultTimeout and DefaultThreshold; a nil
// logger selects slog.Default.
func NewResolver(server string, timeout, threshold time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		client:    &dns.Client{Net: "udp", Timeout: timeout},
		server:    server,
		threshold: threshold,
		log:       logger,
	}
}

// Probe implements Prober. It issues one A query with recursion desired and
// classifies the response by latency. The answer content is discarded; for
// synthetic names the resolver typically returns NXDOMAIN, and the negative
// cache entry it creates is the state the protocol reads back.
func (r *Resolver) Probe(ctx context.Context, qname string) (bool, error) {
	resp, rtt, err := r.exchange(ctx, qname)
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", qname, err)
	}
	cached := rtt < r.threshold
	r.log.Debug("probe",
		"name", qname,
		"rtt", rtt,
		"rcode", dns.RcodeToString[resp.Rcode],
		"cached", cached,
	)
	return cached, nil
}

// Threshold returns the latency below which a response counts as cached.
func (r *Resolver) Threshold() time.Duration {
	return r.threshold
}

// RTT probes qname and returns the raw round-trip time without touching the
// classification threshold. Used by diagnostic tooling.
func (r *Resolver) RTT(ctx context.Context, qname string) (time.Duration, error) {
	_, rtt, err := r.exchange(ctx, qname)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", qname, err)
	}
	return rtt, nil
}

// Calibrate measures the resolver's hit/miss latency gap and derives the
// classification threshold from it.
//
// Each round queries a fresh random throwaway name under zone twice: the
// first query is necessarily a cache miss, the second a hit. The threshold
// is set midway between the median hit and median miss. If the medians do
// not separate, the resolver exhibits no usable cache signal and an error is
// returned; the previous threshold is kept.
func (r *Resolver) Calibrate(ctx context.Context, zone string) error {
	zone = dns.Fqdn(zone)
	misses := make([]time.Duration, 0, calibrationRounds)
	hits := make([]time.Duration, 0, calibrationRounds)

	for range calibrationRounds {
		qname, err := throwawayName(zone)
		if err != nil {
			return err
		}
		_, miss, err := r.exchange(ctx, qname)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", qname, err)
		}
		_, hit, err := r.exchange(ctx, qname)
		if err != nil {
			return fmt.Errorf("calibrate %s: %w", qname, err)
		}
		misses = append(misses, miss)
		hits = append(hits, hit)
	}

	miss := median(misses)
	hit := median(hits)
	if miss <= hit {
		return fmt.Errorf("calibrate: no latency gap at %s (miss %v, hit %v)", r.server, miss, hit)
	}

	r.threshold = hit + (miss-hit)/2
	r.log.Info("calibrated resolver",
		"server", r.server,
		"miss", miss,
		"hit", hit,
		"threshold", r.threshold,
	)
	return nil
}

func (r *Resolver) exchange(ctx context.Context, qname string) (*dns.Msg, time.Duration, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(qname), dns.TypeA)
	return r.client.ExchangeContext(ctx, m, r.server)
}

// throwawayName builds a random name shaped like a generated one. The label
// space is large enough that colliding with a keystream name is negligible.
func throwawayName(zone string) (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("calibrate: %w", err)
	}
	l1 := base64.RawURLEncoding.EncodeToString(buf[:16])
	l2 := base64.RawURLEncoding.EncodeToString(buf[16:])
	return l1 + "." + l2 + "." + zone, nil
}

func median(ds []time.Duration) time.Duration {
	s := make([]time.Duration, len(ds))
	copy(s, ds)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return s[len(s)/2]
}
