// Package export assembles downloadable evidence packs for clawback
// proposals: a zip of the proposal record, its ledger sub-chain, comments,
// disputes, and integrity report, with a manifest of file digests. Export
// is read-only over governance state.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/oracle"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Pack is a sealed evidence bundle for one proposal.
type Pack struct {
	ID          string    `json:"id"`
	ProposalID  string    `json:"proposal_id"`
	Checksum    string    `json:"checksum"`
	GeneratedAt time.Time `json:"generated_at"`
	Data        []byte    `json:"-"`
}

// Exporter builds evidence packs from oracle state and uploads them to a
// pack store.
type Exporter struct {
	oracle *oracle.Oracle
	store  Store
	secret []byte
	clock  func() time.Time
	logger *slog.Logger
}

// NewExporter wires an exporter over the oracle. store may be nil when
// packs are only built in memory; tokenSecret may be empty when download
// tokens are not needed.
func NewExporter(o *oracle.Oracle, store Store, tokenSecret string) *Exporter {
	return &Exporter{
		oracle: o,
		store:  store,
		secret: []byte(tokenSecret),
		clock:  time.Now,
		logger: slog.Default().With("component", "export"),
	}
}

// WithClock replaces the time source and returns the exporter.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	if clock != nil {
		e.clock = clock
	}
	return e
}

// WithLogger replaces the logger and returns the exporter.
func (e *Exporter) WithLogger(logger *slog.Logger) *Exporter {
	if logger != nil {
		e.logger = logger.With("component", "export")
	}
	return e
}

// BuildPack assembles the zip for one proposal and returns it with its
// SHA-256 checksum. The integrity report is included even when the chain
// fails verification; the pack documents state, it does not vouch for it.
func (e *Exporter) BuildPack(proposalID string) (Pack, error) {
	prop, err := e.oracle.GetProposal(proposalID)
	if err != nil {
		return Pack{}, err
	}

	comments := e.oracle.Comments(proposalID)
	if comments == nil {
		comments = []proposal.PublicComment{}
	}
	disputes := e.oracle.Disputes(proposalID)
	if disputes == nil {
		disputes = []proposal.Dispute{}
	}

	files := []packFile{
		{"proposal.json", prop},
		{"ledger.json", e.oracle.ProposalLedger(proposalID)},
		{"comments.json", comments},
		{"disputes.json", disputes},
		{"integrity.json", e.oracle.VerifyIntegrity(proposalID)},
	}
	return sealPack(proposalID, e.clock().UTC(), files)
}

// BuildLedgerPack seals an archived ledger sub-chain into a pack without
// live oracle state, for offline export from the SQL archive. The report
// documents the verification of the full chain the entries came from.
func BuildLedgerPack(proposalID string, chain []ledger.Entry, report ledger.ChainReport) (Pack, error) {
	if len(chain) == 0 {
		return Pack{}, fmt.Errorf("no archived entries for proposal %s", proposalID)
	}
	files := []packFile{
		{"ledger.json", chain},
		{"integrity.json", report},
	}
	return sealPack(proposalID, time.Now().UTC(), files)
}

type packFile struct {
	name    string
	payload interface{}
}

func sealPack(proposalID string, generatedAt time.Time, files []packFile) (Pack, error) {
	packID := uuid.New().String()

	encoded := make([][]byte, len(files))
	digests := make(map[string]string, len(files))
	for i, f := range files {
		data, err := json.MarshalIndent(f.payload, "", "  ")
		if err != nil {
			return Pack{}, fmt.Errorf("export: marshal %s: %w", f.name, err)
		}
		encoded[i] = data
		digests[f.name] = sha256Hex(data)
	}

	manifest := struct {
		PackID      string            `json:"pack_id"`
		ProposalID  string            `json:"proposal_id"`
		Generator   string            `json:"generator"`
		GeneratedAt time.Time         `json:"generated_at"`
		Files       map[string]string `json:"files"`
	}{
		PackID:      packID,
		ProposalID:  proposalID,
		Generator:   "recourse",
		GeneratedAt: generatedAt,
		Files:       digests,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Pack{}, fmt.Errorf("export: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	for i, f := range files {
		zf, err := w.Create(f.name)
		if err != nil {
			return Pack{}, fmt.Errorf("export: add %s: %w", f.name, err)
		}
		_, _ = zf.Write(encoded[i])
	}

	zf, err := w.Create("manifest.json")
	if err != nil {
		return Pack{}, fmt.Errorf("export: add manifest.json: %w", err)
	}
	_, _ = zf.Write(manifestJSON)

	zf, err = w.Create("README.txt")
	if err != nil {
		return Pack{}, fmt.Errorf("export: add README.txt: %w", err)
	}
	_, _ = fmt.Fprintf(zf, "Evidence pack for clawback proposal %s\nPack %s generated at %s\n\nVerify each file against the SHA-256 digests in manifest.json.\n",
		proposalID, packID, generatedAt.Format(time.RFC3339))

	if err := w.Close(); err != nil {
		return Pack{}, fmt.Errorf("export: close pack: %w", err)
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)

	return Pack{
		ID:          packID,
		ProposalID:  proposalID,
		Checksum:    hex.EncodeToString(sum[:]),
		GeneratedAt: generatedAt,
		Data:        zipBytes,
	}, nil
}

// StorePack uploads a built pack under packs/<proposal-id>/<pack-id>.zip
// and returns the storage key.
func StorePack(ctx context.Context, s Store, p Pack) (string, error) {
	if s == nil {
		return "", errors.New("fail-closed: pack store not configured")
	}
	key := path.Join("packs", p.ProposalID, p.ID+".zip")
	if err := s.Put(ctx, key, p.Data); err != nil {
		return "", err
	}
	return key, nil
}

// Store uploads a built pack and returns its storage key.
func (e *Exporter) Store(ctx context.Context, p Pack) (string, error) {
	key, err := StorePack(ctx, e.store, p)
	if err != nil {
		return "", err
	}
	e.logger.Info("evidence pack stored",
		"proposal_id", p.ProposalID,
		"pack_id", p.ID,
		"key", key,
		"bytes", len(p.Data))
	return key, nil
}

type packClaims struct {
	jwt.RegisteredClaims
	Pack string `json:"pack"`
}

// AccessToken issues an HS256 token an outer server can require before
// serving a pack download.
func (e *Exporter) AccessToken(packID string, ttl time.Duration) (string, error) {
	if len(e.secret) == 0 {
		return "", errors.New("fail-closed: pack token secret not configured")
	}
	now := e.clock().UTC()
	claims := packClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Pack: packID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
}

// VerifyAccessToken validates a download token and returns the pack ID it
// grants.
func (e *Exporter) VerifyAccessToken(tokenStr string) (string, error) {
	if len(e.secret) == 0 {
		return "", errors.New("fail-closed: pack token secret not configured")
	}
	claims := &packClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return e.secret, nil
	}, jwt.WithTimeFunc(e.clock))
	if err != nil {
		return "", fmt.Errorf("pack token validation failed: %w", err)
	}
	if !token.Valid || claims.Pack == "" {
		return "", errors.New("invalid pack token")
	}
	return claims.Pack, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
