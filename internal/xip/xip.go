// Package xip implements the covert channel core: framing single bytes onto
// resolver-cache bits and byte strings onto framed bytes.
//
// One data byte occupies eleven consecutive names from the shared name
// stream, consumed in a fixed order:
//
//	+---+---+-----------------+---+
//	| R | G | 7 6 5 4 3 2 1 0 | P |
//	+---+---+-----------------+---+
//
//   - R, reservation: set by the writer so a reader can tell with one probe
//     whether a byte is present at all.
//   - G, guard: left untouched by the writer. The first reader to probe it
//     sets it as a side effect, so a second reader finds it set and backs
//     off. The writer must never query this name.
//   - 7..0: the data bits, most significant first.
//   - P, parity: even parity over the data bits, catching single-bit flips
//     from cache evictions or cross-talk.
//
// A message is one framed length byte L in [1, 255] followed by L framed
// data bytes.
//
// Both endpoints must consume names in identical order, so every read
// advances the stream by exactly eleven names no matter how early it bails
// out. A session abandoned mid-byte is desynchronized for good; sessions are
// therefore one-shot.
package xip

import "errors"

// Message length bounds: the length prefix is a single framed byte and zero
// is not a message.
const (
	MinMessageLen = 1
	MaxMessageLen = 255
)

const (
	frameNames = 11 // names consumed per framed byte
	dataBits   = 8

	// Positions within the frame, in stream order.
	posReserve = 0
	posGuard   = 1
	posData    = 2 // MSB first
	posParity  = 10
)

var (
	// ErrNoByte reports a clear reservation bit: nothing was written here.
	// Normal when polling an idle channel.
	ErrNoByte = errors.New("xip: no byte present")

	// ErrAlreadyConsumed reports a set guard bit: another reader got here
	// first, or this stream position was read before.
	ErrAlreadyConsumed = errors.New("xip: byte already consumed")

	// ErrParity reports decoded data bits inconsistent with the parity bit.
	ErrParity = errors.New("xip: parity mismatch")

	// ErrTruncated reports a mid-message failure after a valid length byte.
	ErrTruncated = errors.New("xip: message truncated")

	// ErrMessageSize reports a Send payload outside [1, 255] bytes.
	ErrMessageSize = errors.New("xip: message length must be between 1 and 255 bytes")

	// ErrExhausted reports reuse of a one-shot session.
	ErrExhausted = errors.New("xip: session already used")
)

// Fatal reports whether a Receive error means the channel itself misbehaved,
// as opposed to there being nothing to read yet. Polling loops back off on
// non-fatal errors and abort on fatal ones. A truncated message is fatal even
// when the byte that cut it short was missing or already consumed.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTruncated) {
		return true
	}
	return !errors.Is(err, ErrNoByte) && !errors.Is(err, ErrAlreadyConsumed)
}
