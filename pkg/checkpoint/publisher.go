// Package checkpoint publishes signed Merkle anchors over the transparency
// ledger. A checkpoint commits to a prefix of the chain so external
// observers can detect retroactive rewrites without holding the full log.
package checkpoint

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
	"github.com/castellan-labs/recourse/pkg/ledger"
)

// ErrInvalidCheckpoint marks a checkpoint that fails verification.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// Checkpoint is a signed commitment to the first TreeSize ledger entries.
type Checkpoint struct {
	Origin    string    `json:"origin"`
	TreeSize  int       `json:"tree_size"`
	RootHash  string    `json:"root_hash"`
	Timestamp time.Time `json:"timestamp"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
}

// Publisher signs checkpoints over a ledger with a key derived from a
// configured seed, so every replica with the same seed anchors the same
// identity.
type Publisher struct {
	mu     sync.RWMutex
	latest *Checkpoint

	ledger *ledger.Ledger
	origin string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	clock  func() time.Time
	logger *slog.Logger
}

// NewPublisher creates a checkpoint publisher. With a non-empty seed the
// signing key is derived via HKDF-SHA256 with the origin as info; an empty
// seed yields an ephemeral random key.
func NewPublisher(led *ledger.Ledger, origin, seed string) (*Publisher, error) {
	if origin == "" {
		origin = "recourse-ledger"
	}

	var priv ed25519.PrivateKey
	if seed == "" {
		_, generated, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("checkpoint key generation failed: %w", err)
		}
		priv = generated
	} else {
		reader := hkdf.New(sha256.New, []byte(seed), []byte("recourse-checkpoint-kdf"), []byte(origin))
		keySeed := make([]byte, ed25519.SeedSize)
		if _, err := io.ReadFull(reader, keySeed); err != nil {
			return nil, fmt.Errorf("checkpoint key derivation failed: %w", err)
		}
		priv = ed25519.NewKeyFromSeed(keySeed)
	}

	return &Publisher{
		ledger: led,
		origin: origin,
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
		clock:  time.Now,
		logger: slog.Default(),
	}, nil
}

// WithClock overrides the clock for deterministic tests.
func (p *Publisher) WithClock(clock func() time.Time) *Publisher {
	p.clock = clock
	return p
}

// WithLogger sets the structured logger.
func (p *Publisher) WithLogger(logger *slog.Logger) *Publisher {
	p.logger = logger.With("component", "checkpoint")
	return p
}

// PublicKey returns the publisher's verification key, hex encoded.
func (p *Publisher) PublicKey() string {
	return hex.EncodeToString(p.pub)
}

// Publish computes the Merkle root over the current chain and signs it.
func (p *Publisher) Publish() (Checkpoint, error) {
	entries := p.ledger.All()
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.VerificationHash
	}

	cp := Checkpoint{
		Origin:    p.origin,
		TreeSize:  len(entries),
		RootHash:  merkleRoot(hashes),
		Timestamp: p.clock().UTC(),
		PublicKey: p.PublicKey(),
	}

	msg, err := signingBytes(cp)
	if err != nil {
		return Checkpoint{}, err
	}
	cp.Signature = hex.EncodeToString(ed25519.Sign(p.priv, msg))

	p.mu.Lock()
	p.latest = &cp
	p.mu.Unlock()

	p.logger.Info("checkpoint published",
		"origin", cp.Origin,
		"tree_size", cp.TreeSize,
		"root", cp.RootHash)

	return cp, nil
}

// Latest returns the most recently published checkpoint.
func (p *Publisher) Latest() (Checkpoint, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Checkpoint{}, false
	}
	return *p.latest, true
}

// Verify recomputes the root over the checkpoint's prefix of the current
// chain and checks the signature against the publisher's key.
func (p *Publisher) Verify(cp Checkpoint) error {
	if cp.Origin != p.origin {
		return fmt.Errorf("%w: origin %q does not match %q", ErrInvalidCheckpoint, cp.Origin, p.origin)
	}
	if cp.PublicKey != p.PublicKey() {
		return fmt.Errorf("%w: unknown public key", ErrInvalidCheckpoint)
	}

	sig, err := hex.DecodeString(cp.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature: %v", ErrInvalidCheckpoint, err)
	}
	msg, err := signingBytes(cp)
	if err != nil {
		return err
	}
	if !ed25519.Verify(p.pub, msg, sig) {
		return fmt.Errorf("%w: signature check failed", ErrInvalidCheckpoint)
	}

	entries := p.ledger.All()
	if cp.TreeSize > len(entries) {
		return fmt.Errorf("%w: tree size %d exceeds chain length %d", ErrInvalidCheckpoint, cp.TreeSize, len(entries))
	}
	hashes := make([]string, cp.TreeSize)
	for i := 0; i < cp.TreeSize; i++ {
		hashes[i] = entries[i].VerificationHash
	}
	if root := merkleRoot(hashes); root != cp.RootHash {
		return fmt.Errorf("%w: root mismatch (computed %s, checkpoint %s)", ErrInvalidCheckpoint, root, cp.RootHash)
	}
	return nil
}

// signingBytes is the canonical unsigned head: everything but the
// signature itself.
func signingBytes(cp Checkpoint) ([]byte, error) {
	return canonicalize.JCS(map[string]interface{}{
		"origin":     cp.Origin,
		"tree_size":  cp.TreeSize,
		"root_hash":  cp.RootHash,
		"timestamp":  cp.Timestamp.Format(time.RFC3339Nano),
		"public_key": cp.PublicKey,
	})
}
