package xip

import (
	"context"
	"fmt"
	"math/bits"

	"golang.org/x/sync/errgroup"

	"github.com/oherrala/xipology/internal/name"
	"github.com/oherrala/xipology/internal/probe"
)

// takeFrame consumes the next eleven names from the stream. Taking the whole
// frame up front keeps the generator aligned even when a read bails out at
// the reservation or guard bit.
func takeFrame(gen *name.Generator) [frameNames]string {
	var frame [frameNames]string
	for i := range frame {
		frame[i] = gen.Next()
	}
	return frame
}

// parityBit returns the even-parity bit for v: set iff v has an odd number
// of set bits.
func parityBit(v byte) bool {
	return bits.OnesCount8(v)%2 == 1
}

// writeByte frames v onto the next eleven names.
//
// Set bits are probed concurrently: insertions into the resolver cache
// commute, and the writer has no timing to measure. The guard name is never
// queried, that would mark the byte as consumed before any reader saw it.
// All writes complete before writeByte returns.
func writeByte(ctx context.Context, gen *name.Generator, p probe.Prober, v byte) error {
	frame := takeFrame(gen)

	g, gctx := errgroup.WithContext(ctx)
	set := func(qname string) {
		g.Go(func() error {
			_, err := p.Probe(gctx, qname)
			return err
		})
	}

	set(frame[posReserve])
	for i := range dataBits {
		if v&(1<<(7-i)) != 0 {
			set(frame[posData+i])
		}
	}
	if parityBit(v) {
		set(frame[posParity])
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("write byte: %w", err)
	}
	return nil
}

// readByte decodes one framed byte from the next eleven names.
//
// Probes run strictly in stream order: the guard check must land before the
// data bits are touched, and latency classification gets noisy on a
// contended socket. Early exits (no byte, already consumed, probe failure)
// still leave the generator advanced by the full frame.
func readByte(ctx context.Context, gen *name.Generator, p probe.Prober) (byte, error) {
	frame := takeFrame(gen)

	set, err := p.Probe(ctx, frame[posReserve])
	if err != nil {
		return 0, fmt.Errorf("read reservation: %w", err)
	}
	if !set {
		return 0, ErrNoByte
	}

	set, err = p.Probe(ctx, frame[posGuard])
	if err != nil {
		return 0, fmt.Errorf("read guard: %w", err)
	}
	if set {
		return 0, ErrAlreadyConsumed
	}

	var v byte
	for i := range dataBits {
		set, err = p.Probe(ctx, frame[posData+i])
		if err != nil {
			return 0, fmt.Errorf("read data bit %d: %w", 7-i, err)
		}
		if set {
			v |= 1 << (7 - i)
		}
	}

	set, err = p.Probe(ctx, frame[posParity])
	if err != nil {
		return 0, fmt.Errorf("read parity: %w", err)
	}
	if set != parityBit(v) {
		return 0, ErrParity
	}
	return v, nil
}
