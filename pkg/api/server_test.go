package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castellan-labs/recourse/pkg/api"
	"github.com/castellan-labs/recourse/pkg/checkpoint"
	"github.com/castellan-labs/recourse/pkg/config"
	"github.com/castellan-labs/recourse/pkg/executor"
	"github.com/castellan-labs/recourse/pkg/ledger"
	"github.com/castellan-labs/recourse/pkg/oracle"
	"github.com/castellan-labs/recourse/pkg/proposal"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestServer(t *testing.T) (*api.Server, *oracle.Oracle, *testClock) {
	t.Helper()
	clk := newTestClock()
	cfg := &config.Config{
		CommitteeMembers: []string{"alice", "bob", "carol"},
		Quorum:           2,
		RequiredMajority: 66,
		CommentPeriod:    72 * time.Hour,
		MinDisputeStake:  100,
	}
	orc, err := oracle.New(cfg,
		oracle.WithClock(clk.Now),
		oracle.WithExecutor(executor.NewMemory(nil)))
	if err != nil {
		t.Fatalf("oracle construction failed: %v", err)
	}
	return api.NewServer(orc), orc, clk
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func createProposal(t *testing.T, h http.Handler) string {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/v1/proposals", map[string]interface{}{
		"initiator":       "alice",
		"asset":           "REG-TOKEN",
		"target_wallet":   "0xfraudster",
		"amount":          "50000",
		"reason_category": "FRAUD_DETECTION",
		"justification":   "funds traced to compromised custody account",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create proposal returned %d: %s", w.Code, w.Body.String())
	}
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	return p.ID
}

func TestCreateAndFetchProposal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	id := createProposal(t, h)

	w := doRequest(t, h, http.MethodGet, "/v1/proposals/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fetch returned %d", w.Code)
	}
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	if p.ID != id || p.Status != proposal.StatusCommentPeriod {
		t.Errorf("fetched %+v", p)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list returned %d", w.Code)
	}
	var list []proposal.ClawbackProposal
	decodeInto(t, w, &list)
	if len(list) != 1 || list[0].ID != id {
		t.Errorf("list holds %+v", list)
	}
}

func TestProposalNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/v1/proposals/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var problem api.ProblemDetail
	decodeInto(t, w, &problem)
	if problem.Status != http.StatusNotFound {
		t.Errorf("problem.status = %d", problem.Status)
	}
}

func TestCreateProposalNonMember(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/v1/proposals", map[string]interface{}{
		"initiator":       "mallory",
		"asset":           "REG-TOKEN",
		"target_wallet":   "0xfraudster",
		"amount":          "50000",
		"reason_category": "FRAUD_DETECTION",
		"justification":   "not a member",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateProposalValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/v1/proposals", map[string]interface{}{
		"initiator":       "alice",
		"asset":           "REG-TOKEN",
		"target_wallet":   "0xfraudster",
		"amount":          "-5",
		"reason_category": "FRAUD_DETECTION",
		"justification":   "negative amount",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/proposals", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	huge := strings.Repeat("x", 2<<20)
	w := doRequest(t, h, http.MethodPost, "/v1/proposals", map[string]interface{}{
		"initiator":     "alice",
		"justification": huge,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", w.Code)
	}
}

func TestCommentRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/comments", map[string]interface{}{
		"commenter":        "dana",
		"text":             "I can corroborate the trace",
		"support_clawback": true,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add comment returned %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals/"+id+"/comments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list comments returned %d", w.Code)
	}
	var comments []proposal.PublicComment
	decodeInto(t, w, &comments)
	if len(comments) != 1 || comments[0].Commenter != "dana" {
		t.Errorf("comments = %+v", comments)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/proposals/missing/comments", map[string]interface{}{
		"commenter": "dana",
		"text":      "hello",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("comment on unknown proposal returned %d", w.Code)
	}
}

func TestVoteFlow(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	// The comment window is still open.
	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "approve",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("vote during comment period returned %d", w.Code)
	}

	clk.Advance(73 * time.Hour)

	for _, voter := range []string{"alice", "bob"} {
		w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
			"voter": voter, "choice": "approve", "reason": "evidence is conclusive",
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("vote by %s returned %d: %s", voter, w.Code, w.Body.String())
		}
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals/"+id, nil)
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	if p.Status != proposal.StatusApproved {
		t.Errorf("status = %s, want approved", p.Status)
	}

	// Terminal proposals reject further votes.
	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "carol", "choice": "approve",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("vote on approved proposal returned %d", w.Code)
	}
}

func TestDuplicateVoteConflict(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)
	clk.Advance(73 * time.Hour)

	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "approve",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("first vote returned %d", w.Code)
	}
	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "reject",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate vote returned %d", w.Code)
	}
}

func TestInvalidVoteChoice(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)
	clk.Advance(73 * time.Hour)

	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "abstain",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid choice returned %d", w.Code)
	}
}

func TestDisputeRoutes(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)
	clk.Advance(73 * time.Hour)

	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "approve",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("vote returned %d", w.Code)
	}

	// Stake below the configured minimum.
	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/disputes", map[string]interface{}{
		"filer": "0xfraudster", "reason": "the trace is wrong", "stake_amount": 10,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("underfunded dispute returned %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/disputes", map[string]interface{}{
		"filer":        "0xfraudster",
		"reason":       "the trace is wrong",
		"evidence":     []string{"ipfs://QmProof"},
		"stake_amount": 250,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("dispute returned %d: %s", w.Code, w.Body.String())
	}
	var d proposal.Dispute
	decodeInto(t, w, &d)

	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/disputes/"+d.ID+"/resolve", map[string]interface{}{
		"resolvers":     []string{"mallory"},
		"decision":      "clawback_cancelled",
		"justification": "outsiders cannot resolve",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-member resolution returned %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/disputes/"+d.ID+"/resolve", map[string]interface{}{
		"resolvers":     []string{"bob", "carol"},
		"decision":      "clawback_cancelled",
		"justification": "the evidence holds up",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("resolution returned %d: %s", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals/"+id, nil)
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	if p.Status != proposal.StatusCancelled {
		t.Errorf("status after resolution = %s, want cancelled", p.Status)
	}
}

func TestExecuteRoute(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	// Not approved yet.
	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/execute", map[string]interface{}{
		"actor": "alice",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("premature execute returned %d", w.Code)
	}

	clk.Advance(73 * time.Hour)
	for _, voter := range []string{"alice", "bob"} {
		doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
			"voter": voter, "choice": "approve",
		})
	}

	w = doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/execute", map[string]interface{}{
		"actor": "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("execute returned %d: %s", w.Code, w.Body.String())
	}
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	if p.Status != proposal.StatusExecuted || p.ExecutionHash == "" {
		t.Errorf("executed proposal = %+v", p)
	}
}

func TestCancelRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	w := doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/cancel", map[string]interface{}{
		"actor": "alice", "reason": "filed against the wrong wallet",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cancel returned %d: %s", w.Code, w.Body.String())
	}
	var p proposal.ClawbackProposal
	decodeInto(t, w, &p)
	if p.Status != proposal.StatusCancelled {
		t.Errorf("status = %s, want cancelled", p.Status)
	}
}

func TestProposalLedgerRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	w := doRequest(t, h, http.MethodGet, "/v1/proposals/"+id+"/ledger", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proposal ledger returned %d", w.Code)
	}
	var entries []ledger.Entry
	decodeInto(t, w, &entries)
	if len(entries) != 1 || entries[0].Type != ledger.EntryProposalCreated {
		t.Errorf("entries = %+v", entries)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals/missing/ledger", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown proposal ledger returned %d", w.Code)
	}
}

func TestLedgerFilters(t *testing.T) {
	srv, _, clk := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)
	clk.Advance(73 * time.Hour)
	doRequest(t, h, http.MethodPost, "/v1/proposals/"+id+"/votes", map[string]interface{}{
		"voter": "alice", "choice": "approve",
	})

	w := doRequest(t, h, http.MethodGet, "/v1/ledger", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ledger returned %d", w.Code)
	}
	var all []ledger.Entry
	decodeInto(t, w, &all)
	if len(all) != 3 { // genesis, creation, vote
		t.Errorf("full ledger has %d entries", len(all))
	}

	w = doRequest(t, h, http.MethodGet, "/v1/ledger?type=VOTE_CAST", nil)
	var votes []ledger.Entry
	decodeInto(t, w, &votes)
	if len(votes) != 1 || votes[0].Actor != "alice" {
		t.Errorf("vote filter returned %+v", votes)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/ledger?proposal_id="+id+"&limit=1", nil)
	var limited []ledger.Entry
	decodeInto(t, w, &limited)
	if len(limited) != 1 {
		t.Errorf("limit filter returned %d entries", len(limited))
	}

	w = doRequest(t, h, http.MethodGet, "/v1/ledger?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since returned %d", w.Code)
	}
}

func TestLedgerExpressionQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	createProposal(t, h)

	w := doRequest(t, h, http.MethodGet, "/v1/ledger?expr="+`entry.type+%3D%3D+"PROPOSAL_CREATED"`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expression query returned %d: %s", w.Code, w.Body.String())
	}
	var entries []ledger.Entry
	decodeInto(t, w, &entries)
	if len(entries) != 1 {
		t.Errorf("expression query returned %d entries", len(entries))
	}

	w = doRequest(t, h, http.MethodGet, "/v1/ledger?expr=this+is+not+cel", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed expression returned %d", w.Code)
	}
}

func TestIntegrityAlways200(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	id := createProposal(t, h)

	w := doRequest(t, h, http.MethodGet, "/v1/proposals/"+id+"/integrity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("integrity returned %d", w.Code)
	}
	var report oracle.IntegrityReport
	decodeInto(t, w, &report)
	if !report.Valid {
		t.Errorf("report = %+v", report)
	}

	w = doRequest(t, h, http.MethodGet, "/v1/proposals/missing/integrity", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("integrity for unknown proposal returned %d", w.Code)
	}
	decodeInto(t, w, &report)
	if report.Valid {
		t.Error("unknown proposal should report invalid")
	}
}

func TestCheckpointRoutes(t *testing.T) {
	srv, orc, _ := newTestServer(t)

	// Unconfigured publisher.
	h := srv.Handler()
	w := doRequest(t, h, http.MethodGet, "/v1/ledger/checkpoint", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured checkpoint returned %d", w.Code)
	}

	pub, err := checkpoint.NewPublisher(orc.Ledger(), "test-origin", "unit-test-seed")
	if err != nil {
		t.Fatal(err)
	}
	h = srv.WithCheckpoints(pub).Handler()

	w = doRequest(t, h, http.MethodGet, "/v1/ledger/checkpoint", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("checkpoint before publish returned %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/v1/ledger/checkpoint", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("publish returned %d: %s", w.Code, w.Body.String())
	}
	var published checkpoint.Checkpoint
	decodeInto(t, w, &published)

	w = doRequest(t, h, http.MethodGet, "/v1/ledger/checkpoint", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("checkpoint fetch returned %d", w.Code)
	}
	var fetched checkpoint.Checkpoint
	decodeInto(t, w, &fetched)
	if fetched.RootHash != published.RootHash || fetched.Signature != published.Signature {
		t.Errorf("fetched checkpoint differs from published one")
	}
	if err := pub.Verify(fetched); err != nil {
		t.Errorf("fetched checkpoint does not verify: %v", err)
	}
}

func TestStatsRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()
	createProposal(t, h)

	w := doRequest(t, h, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats returned %d", w.Code)
	}
	var stats oracle.Stats
	decodeInto(t, w, &stats)
	if stats.TotalProposals != 1 || stats.GovernanceCommitteeSize != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", w.Code)
	}
	var body map[string]string
	decodeInto(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("healthz body = %v", body)
	}
}

func TestRateLimitedHandler(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.WithLimiter(api.NewIPLimiter(1, 1)).Handler()

	w := doRequest(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("first request returned %d", w.Code)
	}
	w = doRequest(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request returned %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response is missing Retry-After")
	}
}
