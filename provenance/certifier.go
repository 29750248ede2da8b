package provenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/recallgraph/blobstore"
	"github.com/hupe1980/recallgraph/store"
)

// JustificationReason classifies why a chunk belongs to an answer.
type JustificationReason string

const (
	ReasonSemanticMatch JustificationReason = "semantic_match"
	ReasonCausalLink    JustificationReason = "causal_link"
	ReasonPrerequisite  JustificationReason = "prerequisite"
	ReasonConstraint    JustificationReason = "constraint"
)

// Chunk is one retrieved candidate handed to certification.
type Chunk struct {
	ID        uint64
	Type      string
	Content   string
	Relevance float64
	Uplift    float64

	// Satisfies lists requirements this chunk is known to cover. Requirements
	// not listed are still matched against Content (see determineReason).
	Satisfies []string
}

// CertificateInput is everything CreateCertificate needs.
type CertificateInput struct {
	QueryID      string
	QueryText    string
	Chunks       []Chunk
	Requirements []string
	AccessLevel  string
}

// RecallCertificate is the immutable, externally auditable result of one
// retrieval. MerkleRoot commits to the content hash of every retrieved
// chunk, not just the minimal subset.
type RecallCertificate struct {
	ID                string        `json:"id"`
	QueryID           string        `json:"query_id"`
	QueryText         string        `json:"query_text"`
	ChunkIDs          []uint64      `json:"chunk_ids"`
	ChunkTypes        []string      `json:"chunk_types"`
	MinimalWhy        []uint64      `json:"minimal_why"`
	RedundancyRatio   float64       `json:"redundancy_ratio"`
	CompletenessScore float64       `json:"completeness_score"`
	MerkleRoot        string        `json:"merkle_root"`
	SourceHashes      []string      `json:"source_hashes"`
	ProofChain        []MerkleProof `json:"proof_chain"`
	AccessLevel       string        `json:"access_level"`
	PolicyProof       string        `json:"policy_proof,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// JustificationPath explains one minimalWhy chunk.
type JustificationPath struct {
	ChunkID        uint64              `json:"chunk_id"`
	ChunkType      string              `json:"chunk_type"`
	Reason         JustificationReason `json:"reason"`
	NecessityScore float64             `json:"necessity_score"`
	PathElements   []string            `json:"path_elements"`
}

// VerificationResult is the outcome of VerifyCertificate.
type VerificationResult struct {
	Valid  bool
	Issues []string
}

// AuditReport bundles everything an external auditor needs.
type AuditReport struct {
	Certificate    *RecallCertificate
	Justifications []JustificationPath
	Provenance     map[string][]string
	Quality        QualityStats
}

// QualityStats summarizes certificate quality.
type QualityStats struct {
	CompletenessScore float64
	RedundancyRatio   float64
	WarningCount      int
}

// Ledger is an append-only record of issued certificates.
type Ledger interface {
	Append(ctx context.Context, certificateID, merkleRoot string) error
}

// Options configures a Certifier.
type Options struct {
	// Archive, when non-nil, receives a JSON copy of every issued
	// certificate under "certificates/<id>".
	Archive blobstore.Store

	// Ledger, when non-nil, records (id, merkleRoot) on issuance.
	Ledger Ledger

	// Store, when non-nil, backs GetProvenanceLineage content walks.
	Store store.Store

	// Logger for issuance and audit events.
	Logger *slog.Logger
}

// Certifier issues and audits recall certificates. Issuance is a pure
// function of its inputs; the certifier only retains issued certificates and
// their inputs for later audit.
type Certifier struct {
	opts Options

	mu     sync.RWMutex
	certs  map[string]*RecallCertificate
	inputs map[string][]Chunk

	issued        int64
	sumComplete   float64
	sumRedundancy float64
}

// New creates a new certifier.
func New(optFns ...func(o *Options)) *Certifier {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Certifier{
		opts:   opts,
		certs:  make(map[string]*RecallCertificate),
		inputs: make(map[string][]Chunk),
	}
}

// WithArchive archives issued certificates to a blob store.
func WithArchive(s blobstore.Store) func(o *Options) {
	return func(o *Options) { o.Archive = s }
}

// WithLedger appends issued certificates to an external ledger.
func WithLedger(l Ledger) func(o *Options) {
	return func(o *Options) { o.Ledger = l }
}

// WithStore enables content lineage walks.
func WithStore(s store.Store) func(o *Options) {
	return func(o *Options) { o.Store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// CreateCertificate selects the greedy minimal justificatory subset, commits
// to all retrieved chunks with a Merkle root, and issues the certificate.
// Requirements no chunk covers become warnings and drop the completeness
// score below 1; they never fail the call.
func (c *Certifier) CreateCertificate(ctx context.Context, input CertificateInput) (*RecallCertificate, error) {
	sets := make([]coverageSet, len(input.Chunks))
	for i, chunk := range input.Chunks {
		sets[i] = coverageSet{
			chunk:     i,
			covers:    coveredRequirements(chunk, input.Requirements),
			relevance: chunk.Relevance,
		}
	}
	selected, unsatisfied := greedyHittingSet(sets, input.Requirements)

	minimalWhy := make([]uint64, len(selected))
	for i, idx := range selected {
		minimalWhy[i] = input.Chunks[idx].ID
	}

	chunkIDs := make([]uint64, len(input.Chunks))
	chunkTypes := make([]string, len(input.Chunks))
	sourceHashes := make([]string, len(input.Chunks))
	for i, chunk := range input.Chunks {
		chunkIDs[i] = chunk.ID
		chunkTypes[i] = chunk.Type
		sourceHashes[i] = hashContent([]byte(chunk.Content))
	}

	cert := &RecallCertificate{
		ID:           uuid.New().String(),
		QueryID:      input.QueryID,
		QueryText:    input.QueryText,
		ChunkIDs:     chunkIDs,
		ChunkTypes:   chunkTypes,
		MinimalWhy:   minimalWhy,
		MerkleRoot:   merkleRoot(sourceHashes),
		SourceHashes: sourceHashes,
		AccessLevel:  input.AccessLevel,
		CreatedAt:    time.Now().UTC(),
	}
	if len(input.Chunks) > 0 {
		cert.RedundancyRatio = float64(len(input.Chunks)-len(minimalWhy)) / float64(len(input.Chunks))
		cert.ProofChain = merkleProof(sourceHashes, 0)
	}
	if len(input.Requirements) > 0 {
		cert.CompletenessScore = float64(len(input.Requirements)-len(unsatisfied)) / float64(len(input.Requirements))
	} else {
		cert.CompletenessScore = 1
	}
	for _, r := range unsatisfied {
		cert.Warnings = append(cert.Warnings, fmt.Sprintf("requirement %q is unsatisfiable: no retrieved chunk covers it", r))
	}

	c.mu.Lock()
	c.certs[cert.ID] = cert
	chunks := make([]Chunk, len(input.Chunks))
	copy(chunks, input.Chunks)
	c.inputs[cert.ID] = chunks
	c.issued++
	c.sumComplete += cert.CompletenessScore
	c.sumRedundancy += cert.RedundancyRatio
	c.mu.Unlock()

	if c.opts.Archive != nil {
		if err := c.archive(ctx, cert); err != nil {
			return nil, fmt.Errorf("archive certificate: %w", err)
		}
	}
	if c.opts.Ledger != nil {
		if err := c.opts.Ledger.Append(ctx, cert.ID, cert.MerkleRoot); err != nil {
			return nil, fmt.Errorf("ledger append: %w", err)
		}
	}

	c.opts.Logger.Debug("certificate issued",
		slog.String("certificate_id", cert.ID),
		slog.String("query_id", cert.QueryID),
		slog.Int("chunks", len(cert.ChunkIDs)),
		slog.Int("minimal_why", len(cert.MinimalWhy)),
		slog.Float64("completeness", cert.CompletenessScore),
	)
	return cert, nil
}

func (c *Certifier) archive(ctx context.Context, cert *RecallCertificate) error {
	data, err := json.Marshal(cert)
	if err != nil {
		return err
	}
	return c.opts.Archive.Put(ctx, "certificates/"+cert.ID, bytes.NewReader(data))
}

// coveredRequirements associates a chunk with the requirements it satisfies:
// the explicit Satisfies list plus case-insensitive content matches.
func coveredRequirements(chunk Chunk, requirements []string) map[string]struct{} {
	covers := make(map[string]struct{})
	for _, r := range chunk.Satisfies {
		covers[r] = struct{}{}
	}
	content := strings.ToLower(chunk.Content)
	for _, r := range requirements {
		if _, ok := covers[r]; ok {
			continue
		}
		if r != "" && strings.Contains(content, strings.ToLower(r)) {
			covers[r] = struct{}{}
		}
	}
	return covers
}

// GetCertificate returns an issued certificate by id.
func (c *Certifier) GetCertificate(id string) (*RecallCertificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cert, ok := c.certs[id]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}

// GetMerkleProof returns the sibling path for one retrieved chunk,
// sufficient to recompute the certificate's root independently.
func (c *Certifier) GetMerkleProof(certificateID string, chunkID uint64) ([]MerkleProof, error) {
	cert, err := c.GetCertificate(certificateID)
	if err != nil {
		return nil, err
	}

	for i, id := range cert.ChunkIDs {
		if id == chunkID {
			return merkleProof(cert.SourceHashes, i), nil
		}
	}
	return nil, fmt.Errorf("chunk %d not part of certificate %s", chunkID, certificateID)
}

// VerifyCertificate recomputes the Merkle root from the recorded source
// hashes and checks the structural invariants. It reports issues instead of
// failing, so auditors see every problem at once.
func (c *Certifier) VerifyCertificate(id string) (*VerificationResult, error) {
	cert, err := c.GetCertificate(id)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{Valid: true}

	if got := merkleRoot(cert.SourceHashes); got != cert.MerkleRoot {
		result.Valid = false
		result.Issues = append(result.Issues,
			(&ErrCertificateIntegrity{CertificateID: id, Reason: "merkle root mismatch"}).Error())
	}

	if len(cert.ProofChain) > 0 && len(cert.SourceHashes) > 0 {
		if applyProof(cert.SourceHashes[0], cert.ProofChain) != cert.MerkleRoot {
			result.Valid = false
			result.Issues = append(result.Issues,
				(&ErrCertificateIntegrity{CertificateID: id, Reason: "proof chain does not reproduce root"}).Error())
		}
	}

	known := make(map[uint64]struct{}, len(cert.ChunkIDs))
	for _, cid := range cert.ChunkIDs {
		known[cid] = struct{}{}
	}
	for _, why := range cert.MinimalWhy {
		if _, ok := known[why]; !ok {
			result.Valid = false
			result.Issues = append(result.Issues,
				fmt.Sprintf("minimalWhy chunk %d is absent from chunkIds", why))
		}
	}

	return result, nil
}

// GetJustification derives the justification path for one minimalWhy chunk.
// Returns nil for chunks outside the minimal subset.
func (c *Certifier) GetJustification(certificateID string, chunkID uint64) (*JustificationPath, error) {
	cert, err := c.GetCertificate(certificateID)
	if err != nil {
		return nil, err
	}

	inMinimal := false
	for _, why := range cert.MinimalWhy {
		if why == chunkID {
			inMinimal = true
			break
		}
	}
	if !inMinimal {
		return nil, nil
	}

	c.mu.RLock()
	chunks := c.inputs[certificateID]
	c.mu.RUnlock()

	for _, chunk := range chunks {
		if chunk.ID != chunkID {
			continue
		}

		reason := ReasonSemanticMatch
		if chunk.Uplift > 0 {
			reason = ReasonCausalLink
		} else if len(chunk.Satisfies) > 0 {
			reason = ReasonConstraint
		}

		// Necessity: fraction of the minimal subset this chunk represents;
		// a singleton minimalWhy is fully necessary.
		necessity := 1.0 / float64(len(cert.MinimalWhy))

		path := []string{
			fmt.Sprintf("query:%s", cert.QueryID),
			fmt.Sprintf("chunk:%d", chunk.ID),
		}
		for _, r := range chunk.Satisfies {
			path = append(path, "requirement:"+r)
		}

		return &JustificationPath{
			ChunkID:        chunk.ID,
			ChunkType:      chunk.Type,
			Reason:         reason,
			NecessityScore: necessity,
			PathElements:   path,
		}, nil
	}
	return nil, nil
}

// AuditCertificate bundles the certificate, all justifications, the content
// lineage of every source hash, and quality stats. Read-only.
func (c *Certifier) AuditCertificate(ctx context.Context, id string) (*AuditReport, error) {
	cert, err := c.GetCertificate(id)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		Certificate: cert,
		Provenance:  make(map[string][]string),
		Quality: QualityStats{
			CompletenessScore: cert.CompletenessScore,
			RedundancyRatio:   cert.RedundancyRatio,
			WarningCount:      len(cert.Warnings),
		},
	}

	for _, chunkID := range cert.MinimalWhy {
		just, err := c.GetJustification(id, chunkID)
		if err != nil {
			return nil, err
		}
		if just != nil {
			report.Justifications = append(report.Justifications, *just)
		}
	}

	if c.opts.Store != nil {
		for _, hash := range cert.SourceHashes {
			lineage, err := c.GetProvenanceLineage(ctx, hash)
			if err != nil {
				return nil, err
			}
			if len(lineage) > 0 {
				report.Provenance[hash] = lineage
			}
		}
	}

	return report, nil
}

// GetProvenanceLineage walks the parent-hash chain of a content row back to
// its origin, newest first. Unknown hashes yield an empty lineage; the walk
// is a plain graph traversal, not itself cryptographically verified.
func (c *Certifier) GetProvenanceLineage(ctx context.Context, contentHash string) ([]string, error) {
	if c.opts.Store == nil {
		return nil, nil
	}

	var lineage []string
	seen := make(map[string]struct{})
	hash := contentHash
	for hash != "" {
		if _, ok := seen[hash]; ok {
			break // cycle guard
		}
		seen[hash] = struct{}{}

		row, err := c.opts.Store.GetContent(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, err
		}
		lineage = append(lineage, row.Hash)
		hash = row.ParentHash
	}
	return lineage, nil
}

// Stats is a read-only snapshot of certifier activity.
type Stats struct {
	Issued          int64
	AvgCompleteness float64
	AvgRedundancy   float64
}

// Stats collects issuance statistics.
func (c *Certifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Issued: c.issued}
	if c.issued > 0 {
		s.AvgCompleteness = c.sumComplete / float64(c.issued)
		s.AvgRedundancy = c.sumRedundancy / float64(c.issued)
	}
	return s
}
