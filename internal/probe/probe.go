// Package probe turns DNS round-trips into one-bit cache observations.
//
// The channel encodes a bit as the cache state of one synthetic name at a
// shared recursive resolver: querying a name inserts it into the cache
// ("writes" the bit), and a later query that comes back fast enough reveals
// that the insertion happened ("reads" the bit). Because the read is itself a
// query, reading a bit also sets it; every bit can be observed at most once
// per cache lifetime. That destructive-read property is what the frame layout
// in the xip package leans on, so a Prober implementation must not bypass the
// resolver cache.
//
// Two implementations are provided: Resolver speaks real DNS to a recursive
// resolver and classifies hits by round-trip latency, and Memory simulates a
// resolver cache in-process for tests and offline experiments.
package probe

import "context"

// Prober is the single primitive the protocol core consumes.
//
// Probe resolves name and reports whether the response appears to have been
// served from the resolver's cache. The query itself caches the name as a
// side effect. A "write set" is a Probe with the result discarded; a "write
// clear" is no call at all.
//
// On error the bit is indeterminate and the enclosing byte fails.
type Prober interface {
	Probe(ctx context.Context, name string) (cached bool, err error)
}
