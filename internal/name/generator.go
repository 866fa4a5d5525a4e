// Package name derives the deterministic stream of DNS names shared by both
// ends of a channel.
//
// Both endpoints seed a Generator with the same secret and consume names in
// lockstep. The k-th name depends only on the secret and on k, so two
// generators built from the same secret emit identical infinite sequences.
//
// Derivation:
//
//   - HKDF (RFC 5869) with SHA-512. Extract uses an empty salt.
//   - Expand produces 64-byte blocks; the info parameter of block n is the
//     8-byte big-endian encoding of n, starting at 0.
//   - Each name consumes 32 keystream bytes: two 16-byte chunks, each encoded
//     as an unpadded URL-safe base64 label (22 characters, DNS-legal).
//
// The emitted name is "<label1>.<label2>.<suffix>". Any implementation that
// wants to interoperate must match the salt, the per-block info, and the
// base64 alphabet exactly.
package name

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/miekg/dns"
	"golang.org/x/crypto/hkdf"
)

// DefaultSuffix is the zone appended to generated names when the session does
// not configure one. Both endpoints must use the same suffix.
const DefaultSuffix = "xipology.example.com."

const (
	chunkSize = 16            // keystream bytes per DNS label
	nameBytes = 2 * chunkSize // keystream bytes per emitted name
	blockSize = sha512.Size   // one HKDF-Expand block yields two names
)

// labelLen is the length of one encoded label: 16 bytes of keystream under
// unpadded base64.
const labelLen = 22

// Generator produces the infinite, deterministic DNS name sequence derived
// from a shared secret.
//
// A Generator only moves forward: each Next call consumes 32 keystream bytes
// and there is no way to rewind. A consumer that abandons a protocol step
// mid-byte is desynchronized and must discard the generator.
type Generator struct {
	prk    []byte // HKDF pseudorandom key (Extract output)
	suffix string // FQDN zone suffix, with trailing dot
	block  uint64 // next HKDF-Expand block counter
	buf    []byte // unconsumed keystream of the current block
	count  uint64 // names emitted so far
}

// NewGenerator builds a Generator from the shared secret and zone suffix.
// An empty suffix selects DefaultSuffix. An empty secret is permitted (HKDF
// accepts it) but offers no secrecy.
func NewGenerator(secret []byte, suffix string) (*Generator, error) {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	suffix = dns.Fqdn(suffix)
	if _, ok := dns.IsDomainName(suffix); !ok {
		return nil, fmt.Errorf("name: invalid zone suffix %q", suffix)
	}
	// Two 22-char labels plus separators must still fit in a 255-octet name.
	if 2*(labelLen+1)+len(suffix) > 255 {
		return nil, fmt.Errorf("name: zone suffix %q leaves no room for labels", suffix)
	}
	return &Generator{
		prk:    hkdf.Extract(sha512.New, secret, nil),
		suffix: suffix,
	}, nil
}

// Next returns the next name in the sequence and advances the stream.
func (g *Generator) Next() string {
	if len(g.buf) < nameBytes {
		g.refill()
	}
	l1 := base64.RawURLEncoding.EncodeToString(g.buf[:chunkSize])
	l2 := base64.RawURLEncoding.EncodeToString(g.buf[chunkSize:nameBytes])
	g.buf = g.buf[nameBytes:]
	g.count++
	return l1 + "." + l2 + "." + g.suffix
}

// Count reports how many names have been emitted so far.
func (g *Generator) Count() uint64 {
	return g.count
}

// Suffix returns the FQDN zone suffix this generator appends to every name.
func (g *Generator) Suffix() string {
	return g.suffix
}

// refill expands the next keystream block. Each block uses a fresh info
// parameter, so the RFC 5869 per-info output bound is never approached and
// the stream is unbounded in practice.
func (g *Generator) refill() {
	var info [8]byte
	binary.BigEndian.PutUint64(info[:], g.block)
	g.block++

	block := make([]byte, blockSize)
	if _, err := io.ReadFull(hkdf.Expand(sha512.New, g.prk, info[:]), block); err != nil {
		// Reading 64 bytes from a SHA-512 HKDF-Expand cannot fail.
		panic(fmt.Sprintf("name: hkdf expand: %v", err))
	}
	g.buf = append(g.buf, block...)
}
