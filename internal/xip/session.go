package xip

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/oherrala/xipology/internal/name"
	"github.com/oherrala/xipology/internal/probe"
)

// session binds one name stream to one probe. Both endpoints walk the stream
// in lockstep, so a session supports exactly one Send or Receive; after that
// (success or failure) the stream position is unknown to any correspondent
// and the session refuses further use.
type session struct {
	gen   *name.Generator
	probe probe.Prober
	log   *slog.Logger
	done  bool
}

func newSession(secret []byte, suffix string, p probe.Prober, logger *slog.Logger) (session, error) {
	gen, err := name.NewGenerator(secret, suffix)
	if err != nil {
		return session{}, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return session{
		gen:   gen,
		probe: p,
		log:   logger.With("session", uuid.New().String()[:8]),
	}, nil
}

// Consumed reports how many names this session has taken from the stream.
// Always a multiple of eleven.
func (s *session) Consumed() uint64 {
	return s.gen.Count()
}

// Writer is the sending half of a channel.
type Writer struct {
	session
}

// NewWriter builds a one-shot writer session. An empty suffix selects the
// default zone; a nil logger selects slog.Default.
func NewWriter(secret []byte, suffix string, p probe.Prober, logger *slog.Logger) (*Writer, error) {
	s, err := newSession(secret, suffix, p, logger)
	if err != nil {
		return nil, err
	}
	return &Writer{session: s}, nil
}

// Send transmits payload: one framed length byte, then the payload bytes in
// order. The payload must be 1 to 255 bytes. Any failure mid-message leaves
// the resolver cache in a partial state, so the session is spent either way.
func (w *Writer) Send(ctx context.Context, payload []byte) error {
	if w.done {
		return ErrExhausted
	}
	if len(payload) < MinMessageLen || len(payload) > MaxMessageLen {
		return fmt.Errorf("%w: got %d", ErrMessageSize, len(payload))
	}
	w.done = true

	if err := writeByte(ctx, w.gen, w.probe, byte(len(payload))); err != nil {
		return fmt.Errorf("send length: %w", err)
	}
	for i, b := range payload {
		if err := writeByte(ctx, w.gen, w.probe, b); err != nil {
			return fmt.Errorf("send byte %d/%d: %w", i+1, len(payload), err)
		}
	}

	w.log.Info("message sent", "bytes", len(payload), "names", w.Consumed())
	return nil
}

// Reader is the receiving half of a channel.
type Reader struct {
	session
}

// NewReader builds a one-shot reader session. An empty suffix selects the
// default zone; a nil logger selects slog.Default.
func NewReader(secret []byte, suffix string, p probe.Prober, logger *slog.Logger) (*Reader, error) {
	s, err := newSession(secret, suffix, p, logger)
	if err != nil {
		return nil, err
	}
	return &Reader{session: s}, nil
}

// Receive reads one message. ErrNoByte and ErrAlreadyConsumed at the length
// byte mean nothing is (still) there to read; any failure after a valid
// length byte wraps ErrTruncated. Use Fatal to tell the two classes apart
// when polling.
func (r *Reader) Receive(ctx context.Context) ([]byte, error) {
	if r.done {
		return nil, ErrExhausted
	}
	r.done = true

	length, err := readByte(ctx, r.gen, r.probe)
	if err != nil {
		return nil, fmt.Errorf("receive length: %w", err)
	}
	if length == 0 {
		// A writer cannot frame a zero length; only a multi-bit flip that
		// defeats parity can produce one.
		return nil, fmt.Errorf("receive length: %w", ErrParity)
	}

	payload := make([]byte, 0, length)
	for i := range int(length) {
		b, err := readByte(ctx, r.gen, r.probe)
		if err != nil {
			return nil, fmt.Errorf("%w: byte %d/%d: %w", ErrTruncated, i+1, length, err)
		}
		payload = append(payload, b)
	}

	r.log.Info("message received", "bytes", len(payload), "names", r.Consumed())
	return payload, nil
}
