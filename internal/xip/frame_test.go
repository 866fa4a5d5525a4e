package xip

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oherrala/xipology/internal/name"
	"github.com/oherrala/xipology/internal/probe"
)

// flipProber inverts the observation for chosen names, simulating a cache
// eviction (set read as clear) or cross-talk (clear read as set).
type flipProber struct {
	inner probe.Prober
	flip  map[string]bool
}

func (f *flipProber) Probe(ctx context.Context, qname string) (bool, error) {
	cached, err := f.inner.Probe(ctx, qname)
	if f.flip[qname] {
		cached = !cached
	}
	return cached, err
}

// failProber fails every probe of the chosen names.
type failProber struct {
	inner probe.Prober
	fail  map[string]bool
}

func (f *failProber) Probe(ctx context.Context, qname string) (bool, error) {
	if f.fail[qname] {
		return false, errors.New("resolver unreachable")
	}
	return f.inner.Probe(ctx, qname)
}

// frameNamesFor returns the names of the n-th frame of the stream for a
// secret, via an independent generator.
func frameNamesFor(t *testing.T, secret []byte, n int) [frameNames]string {
	t.Helper()
	gen, err := name.NewGenerator(secret, "")
	require.NoError(t, err)
	for range n * frameNames {
		gen.Next()
	}
	return takeFrame(gen)
}

func newGen(t *testing.T, secret []byte) *name.Generator {
	t.Helper()
	gen, err := name.NewGenerator(secret, "")
	require.NoError(t, err)
	return gen
}

func TestParityLaw(t *testing.T) {
	// popcount(v) plus the written parity bit is even for every value.
	for v := range 256 {
		p := 0
		if parityBit(byte(v)) {
			p = 1
		}
		assert.Zero(t, (bits.OnesCount8(byte(v))+p)%2, "value %#02x", v)
	}
}

func TestWriteReadByte_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, v := range []byte{0x00, 0x01, 0x5A, 0x80, 0xFF} {
		t.Run(fmt.Sprintf("%#02x", v), func(t *testing.T) {
			secret := []byte(fmt.Sprintf("secret-%d", v))
			oracle := probe.NewMemory(0, 0)

			require.NoError(t, writeByte(ctx, newGen(t, secret), oracle, v))

			got, err := readByte(ctx, newGen(t, secret), oracle)
			require.NoError(t, err)
			assert.Equal(t, v, got)
		})
	}
}

func TestWriteByte_NeverTouchesGuard(t *testing.T) {
	ctx := context.Background()
	secret := []byte("guard")
	oracle := probe.NewMemory(0, 0)

	require.NoError(t, writeByte(ctx, newGen(t, secret), oracle, 0xFF))

	// Probing the guard name now must miss: the writer left it clear.
	frame := frameNamesFor(t, secret, 0)
	cached, err := oracle.Probe(ctx, frame[posGuard])
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestReadByte_NoByte(t *testing.T) {
	secret := []byte("hunter2")
	oracle := probe.NewMemory(0, 0)
	gen := newGen(t, secret)

	_, err := readByte(context.Background(), gen, oracle)
	assert.ErrorIs(t, err, ErrNoByte)

	// One probe paid, eleven names consumed.
	hits, misses := oracle.Stats()
	assert.Zero(t, hits)
	assert.Equal(t, 1, misses)
	assert.Equal(t, uint64(frameNames), gen.Count())
}

func TestReadByte_DestructiveRead(t *testing.T) {
	ctx := context.Background()
	secret := []byte("once")
	oracle := probe.NewMemory(0, 0)

	require.NoError(t, writeByte(ctx, newGen(t, secret), oracle, 0x42))

	got, err := readByte(ctx, newGen(t, secret), oracle)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), got)

	// A second reader aligned to the same frame finds the guard set.
	_, err = readByte(ctx, newGen(t, secret), oracle)
	assert.ErrorIs(t, err, ErrAlreadyConsumed)
}

func TestReadByte_SingleBitFlipDetected(t *testing.T) {
	// Flipping any one of the eight data bits or the parity bit between
	// write and read must surface as a parity mismatch.
	ctx := context.Background()
	for pos := posData; pos <= posParity; pos++ {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			secret := []byte(fmt.Sprintf("flip-%d", pos))
			oracle := probe.NewMemory(0, 0)
			require.NoError(t, writeByte(ctx, newGen(t, secret), oracle, 0x5A))

			frame := frameNamesFor(t, secret, 0)
			flipped := &flipProber{inner: oracle, flip: map[string]bool{frame[pos]: true}}

			_, err := readByte(ctx, newGen(t, secret), flipped)
			assert.ErrorIs(t, err, ErrParity)
		})
	}
}

func TestReadByte_ProbeErrorPropagates(t *testing.T) {
	ctx := context.Background()
	for _, pos := range []int{posReserve, posGuard, posData + 3, posParity} {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			secret := []byte(fmt.Sprintf("err-%d", pos))
			oracle := probe.NewMemory(0, 0)
			require.NoError(t, writeByte(ctx, newGen(t, secret), oracle, 0xA5))

			frame := frameNamesFor(t, secret, 0)
			failing := &failProber{inner: oracle, fail: map[string]bool{frame[pos]: true}}

			gen := newGen(t, secret)
			_, err := readByte(ctx, gen, failing)
			assert.Error(t, err)
			assert.False(t, errors.Is(err, ErrParity))
			assert.Equal(t, uint64(frameNames), gen.Count(), "failed read must still consume the frame")
		})
	}
}

func TestReadByte_StreamAlignment(t *testing.T) {
	// Whatever each read's outcome, the stream advances by exactly eleven
	// names per attempt.
	ctx := context.Background()
	secret := []byte("aligned")
	oracle := probe.NewMemory(0, 0)

	// Frame 0: nothing. Frame 1: a byte. Frame 2: a byte we corrupt.
	wgen := newGen(t, secret)
	for range frameNames {
		wgen.Next()
	}
	require.NoError(t, writeByte(ctx, wgen, oracle, 0x10))
	require.NoError(t, writeByte(ctx, wgen, oracle, 0x20))

	frame2 := frameNamesFor(t, secret, 2)
	p := &flipProber{inner: oracle, flip: map[string]bool{frame2[posData]: true}}

	gen := newGen(t, secret)
	attempts := 0

	_, err := readByte(ctx, gen, p) // no-byte
	assert.ErrorIs(t, err, ErrNoByte)
	attempts++

	got, err := readByte(ctx, gen, p) // the byte
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), got)
	attempts++

	_, err = readByte(ctx, gen, p) // corrupted
	assert.ErrorIs(t, err, ErrParity)
	attempts++

	assert.Equal(t, uint64(attempts*frameNames), gen.Count())
}

func TestWriteByte_ProbeErrorFailsWholeByte(t *testing.T) {
	ctx := context.Background()
	secret := []byte("werr")
	frame := frameNamesFor(t, secret, 0)
	failing := &failProber{
		inner: probe.NewMemory(0, 0),
		fail:  map[string]bool{frame[posReserve]: true},
	}

	gen := newGen(t, secret)
	err := writeByte(ctx, gen, failing, 0x00)
	assert.Error(t, err)
	assert.Equal(t, uint64(frameNames), gen.Count())
}
