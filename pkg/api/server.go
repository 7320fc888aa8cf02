package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/castellan-labs/recourse/pkg/checkpoint"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/oracle"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

// Server exposes the oracle facade 1:1 over HTTP.
type Server struct {
	oracle      *oracle.Oracle
	checkpoints *checkpoint.Publisher
	limiter     Limiter
	logger      *slog.Logger
}

// NewServer wraps the oracle. Checkpoint publishing and rate limiting are
// optional; attach them with the With methods.
func NewServer(orc *oracle.Oracle) *Server {
	return &Server{
		oracle: orc,
		logger: slog.Default().With("component", "api"),
	}
}

// WithCheckpoints attaches a checkpoint publisher and returns the server.
func (s *Server) WithCheckpoints(p *checkpoint.Publisher) *Server {
	s.checkpoints = p
	return s
}

// WithLimiter attaches a rate limiter and returns the server.
func (s *Server) WithLimiter(l Limiter) *Server {
	s.limiter = l
	return s
}

// WithLogger replaces the logger and returns the server.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	if logger != nil {
		s.logger = logger.With("component", "api")
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/proposals", s.handleCreateProposal)
	mux.HandleFunc("GET /v1/proposals", s.handleListProposals)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/cancel", s.handleCancelProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/comments", s.handleAddComment)
	mux.HandleFunc("GET /v1/proposals/{id}/comments", s.handleListComments)
	mux.HandleFunc("POST /v1/proposals/{id}/votes", s.handleCastVote)
	mux.HandleFunc("POST /v1/proposals/{id}/disputes", s.handleFileDispute)
	mux.HandleFunc("POST /v1/proposals/{id}/disputes/{did}/resolve", s.handleResolveDispute)
	mux.HandleFunc("POST /v1/proposals/{id}/execute", s.handleExecute)
	mux.HandleFunc("GET /v1/proposals/{id}/ledger", s.handleProposalLedger)
	mux.HandleFunc("GET /v1/proposals/{id}/integrity", s.handleIntegrity)
	mux.HandleFunc("GET /v1/ledger", s.handleLedger)
	mux.HandleFunc("GET /v1/ledger/checkpoint", s.handleGetCheckpoint)
	mux.HandleFunc("POST /v1/ledger/checkpoint", s.handlePublishCheckpoint)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return RateLimit(s.limiter)(mux)
}

// writeDomainError maps the governance error taxonomy onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proposal.ErrValidation):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, proposal.ErrUnauthorized):
		WriteForbidden(w, err.Error())
	case errors.Is(err, proposal.ErrNotFound):
		WriteNotFound(w, err.Error())
	case errors.Is(err, proposal.ErrDuplicateVote), errors.Is(err, proposal.ErrInvalidState):
		WriteConflict(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a request body of at most 1 MB into dst.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

type createProposalRequest struct {
	Initiator      string `json:"initiator"`
	Asset          string `json:"asset"`
	TargetWallet   string `json:"target_wallet"`
	Amount         string `json:"amount"`
	ReasonCategory string `json:"reason_category"`
	Justification  string `json:"justification"`
}

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := s.oracle.CreateClawbackProposal(r.Context(), req.Initiator, req.Asset,
		req.TargetWallet, req.Amount, proposal.ReasonCategory(req.ReasonCategory), req.Justification)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals := s.oracle.ListProposals()
	if proposals == nil {
		proposals = []*proposal.ClawbackProposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.oracle.GetProposal(r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type cancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleCancelProposal(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := s.oracle.CancelProposal(r.PathValue("id"), req.Actor, req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type commentRequest struct {
	Commenter       string `json:"commenter"`
	Text            string `json:"text"`
	SupportClawback bool   `json:"support_clawback"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !decode(w, r, &req) {
		return
	}

	c, err := s.oracle.AddComment(r.PathValue("id"), req.Commenter, req.Text, req.SupportClawback)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.oracle.GetProposal(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	comments := s.oracle.Comments(id)
	if comments == nil {
		comments = []proposal.PublicComment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

type voteRequest struct {
	Voter  string `json:"voter"`
	Choice string `json:"choice"`
	Reason string `json:"reason"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decode(w, r, &req) {
		return
	}

	v, err := s.oracle.CastVote(r.PathValue("id"), req.Voter, proposal.VoteChoice(req.Choice), req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type disputeRequest struct {
	Filer       string   `json:"filer"`
	Reason      string   `json:"reason"`
	Evidence    []string `json:"evidence"`
	StakeAmount float64  `json:"stake_amount"`
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := s.oracle.FileDispute(r.PathValue("id"), req.Filer, req.Reason, req.Evidence, req.StakeAmount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type resolveRequest struct {
	Resolvers     []string `json:"resolvers"`
	Decision      string   `json:"decision"`
	Justification string   `json:"justification"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := s.oracle.ResolveDispute(r.PathValue("id"), r.PathValue("did"),
		req.Resolvers, proposal.DisputeDecision(req.Decision), req.Justification)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type executeRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}

	p, err := s.oracle.ExecuteApproved(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProposalLedger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.oracle.GetProposal(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	entries := s.oracle.ProposalLedger(id)
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleIntegrity always answers 200; the report carries the verdict.
func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.oracle.VerifyIntegrity(r.PathValue("id")))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if expr := q.Get("expr"); expr != "" {
		entries, err := s.oracle.QueryLedgerExpr(expr)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if entries == nil {
			entries = []ledger.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	filter := ledger.QueryFilter{
		Type:       ledger.EntryType(q.Get("type")),
		ProposalID: q.Get("proposal_id"),
		Actor:      q.Get("actor"),
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.StartTime = &ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteBadRequest(w, "until must be an RFC 3339 timestamp")
			return
		}
		filter.EndTime = &ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	entries := s.oracle.QueryLedger(filter)
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Checkpoint publishing is not configured")
		return
	}
	cp, ok := s.checkpoints.Latest()
	if !ok {
		WriteNotFound(w, "No checkpoint published yet")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handlePublishCheckpoint(w http.ResponseWriter, r *http.Request) {
	if s.checkpoints == nil {
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "Checkpoint publishing is not configured")
		return
	}
	cp, err := s.checkpoints.Publish()
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.oracle.Stats())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
