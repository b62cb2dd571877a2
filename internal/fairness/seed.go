// Package fairness implements the commit-reveal outcome scheme.
//
// A seed pair binds a secret server seed (published only as its SHA-256
// commitment), a client-chosen seed, and a monotonic nonce. Outcomes are
// HMAC-SHA256(key=serverSeed, msg="clientSeed:nonce") truncated to 52 bits,
// so once the server seed is revealed any third party can recompute every
// outcome and check it against the commitment that was public before the
// bets were placed.
package fairness

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// OutcomeBits is the width of the primary outcome value: the first 13 hex
// characters of the HMAC digest, a uniform integer in [0, 2^52).
const OutcomeBits = 52

// OutcomeSpace is 2^52, the exclusive upper bound of Outcome values.
const OutcomeSpace = uint64(1) << OutcomeBits

// SeedPair is one commit-reveal generation for an account. ServerSeed stays
// secret until the pair is retired; ServerSeedHash is public from creation.
type SeedPair struct {
	ID             uuid.UUID
	Account        uuid.UUID
	ServerSeed     string // 64 hex chars, secret until revealed
	ServerSeedHash string // hex SHA-256 of the ServerSeed string
	ClientSeed     string
	NextNonce      int64
	Rounds         int64
	Active         bool
	CreatedAt      time.Time
	RevealedAt     *time.Time
}

// Revealed reports whether the server seed may be shown to callers.
func (p *SeedPair) Revealed() bool {
	return p.RevealedAt != nil
}

// NewServerSeed returns 32 bytes of crypto/rand entropy, hex encoded.
func NewServerSeed() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("fairness: read server seed: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// HashSeed computes the public commitment for a server seed. The hash is
// taken over the hex string itself, matching the published verifier.
func HashSeed(serverSeed string) string {
	sum := sha256.Sum256([]byte(serverSeed))
	return hex.EncodeToString(sum[:])
}

// DefaultClientSeed builds the client seed used until the player sets one.
func DefaultClientSeed(account uuid.UUID) string {
	var b [4]byte
	rand.Read(b[:])
	return fmt.Sprintf("%s-%d-%s", account.String()[:8], time.Now().Unix(), hex.EncodeToString(b[:]))
}

// Outcome derives the primary 52-bit outcome for one resolve.
func Outcome(serverSeed, clientSeed string, nonce int64) uint64 {
	digest := hmacHex(serverSeed, clientSeed+":"+strconv.FormatInt(nonce, 10))
	v, _ := strconv.ParseUint(digest[:13], 16, 64)
	return v
}

func hmacHex(serverSeed, message string) string {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes an outcome and the seed commitment from revealed
// material. Pure; usable by any third party.
func Verify(serverSeed, clientSeed string, nonce int64) (outcome uint64, seedHash string) {
	return Outcome(serverSeed, clientSeed, nonce), HashSeed(serverSeed)
}

// Stream expands a single (serverSeed, clientSeed, nonce) into an unbounded
// deterministic value sequence for games that need more than one draw per
// round (card sequences, keno boards, mine layouts). Each chunk is
// HMAC-SHA256(serverSeed, "clientSeed:nonce:chunk") consumed in 4-byte
// windows. The chunk message domain is disjoint from the primary outcome
// message, so the primary value is never part of the stream.
type Stream struct {
	serverSeed string
	clientSeed string
	nonce      int64
	chunk      int
	buf        []byte
	off        int
}

// NewStream starts the value stream for a resolved round.
func NewStream(serverSeed, clientSeed string, nonce int64) *Stream {
	return &Stream{serverSeed: serverSeed, clientSeed: clientSeed, nonce: nonce}
}

// Next returns the next 32-bit window as a uint64.
func (s *Stream) Next() uint64 {
	if s.off+4 > len(s.buf) {
		msg := fmt.Sprintf("%s:%d:%d", s.clientSeed, s.nonce, s.chunk)
		mac := hmac.New(sha256.New, []byte(s.serverSeed))
		mac.Write([]byte(msg))
		s.buf = mac.Sum(nil)
		s.off = 0
		s.chunk++
	}
	v := binary.BigEndian.Uint32(s.buf[s.off : s.off+4])
	s.off += 4
	return uint64(v)
}

// NextIn returns a value in [0, n) drawn from the stream.
func (s *Stream) NextIn(n int) int {
	return int(s.Next() % uint64(n))
}

// NextUnique draws values in [0, n) until count distinct ones have been
// produced, returning them in draw order.
func (s *Stream) NextUnique(n, count int) []int {
	seen := make(map[int]bool, count)
	out := make([]int, 0, count)
	for len(out) < count {
		v := s.NextIn(n)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
