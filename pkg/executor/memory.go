package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/castellan-labs/recourse/pkg/canonicalize"
)

// Receipt is the settlement acknowledgement returned by a ledger client.
type Receipt struct {
	Success bool
	Hash    string
}

// LedgerClient submits a settlement transaction to the underlying asset
// ledger and waits for it to finalize.
type LedgerClient interface {
	SubmitAndWait(ctx context.Context, tx map[string]interface{}) (Receipt, error)
}

// StubLedger is a LedgerClient that finalizes every transaction immediately
// with a deterministic hash derived from the transaction contents.
type StubLedger struct{}

func (StubLedger) SubmitAndWait(ctx context.Context, tx map[string]interface{}) (Receipt, error) {
	h, err := canonicalize.CanonicalHash(tx)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Success: true, Hash: "0x" + h}, nil
}

type clawbackState struct {
	asset        string
	targetWallet string
	amount       string
	reason       string
	status       string // pending, approved, executed
}

// Memory is an in-process executor used by the demo and by tests. It keeps
// clawback state in a map and settles through a LedgerClient.
type Memory struct {
	mu        sync.Mutex
	clawbacks map[string]*clawbackState
	ledger    LedgerClient
}

// NewMemory creates an in-process executor. A nil ledger client defaults to
// the stub ledger.
func NewMemory(led LedgerClient) *Memory {
	if led == nil {
		led = StubLedger{}
	}
	return &Memory{
		clawbacks: make(map[string]*clawbackState),
		ledger:    led,
	}
}

func (m *Memory) InitiateClawback(ctx context.Context, asset, targetWallet, amount, reason string) (Initiation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.clawbacks[id] = &clawbackState{
		asset:        asset,
		targetWallet: targetWallet,
		amount:       amount,
		reason:       reason,
		status:       "pending",
	}
	return Initiation{ID: id, Status: "pending"}, nil
}

func (m *Memory) AddGovernanceApproval(ctx context.Context, clawbackID string) (Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.clawbacks[clawbackID]
	if !ok {
		return Approval{}, fmt.Errorf("unknown clawback %s", clawbackID)
	}
	switch cb.status {
	case "pending":
		cb.status = "approved"
	case "approved":
		// Re-approval is a no-op so a failed execution can be retried.
	default:
		return Approval{}, fmt.Errorf("clawback %s is %s, approval requires pending", clawbackID, cb.status)
	}
	return Approval{Status: "approved"}, nil
}

func (m *Memory) ExecuteClawback(ctx context.Context, clawbackID string) (Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.clawbacks[clawbackID]
	if !ok {
		return Execution{}, fmt.Errorf("unknown clawback %s", clawbackID)
	}
	if cb.status != "approved" {
		return Execution{}, fmt.Errorf("clawback %s is %s, execution requires approved", clawbackID, cb.status)
	}

	rcpt, err := m.ledger.SubmitAndWait(ctx, map[string]interface{}{
		"type":          "clawback",
		"clawback_id":   clawbackID,
		"asset":         cb.asset,
		"target_wallet": cb.targetWallet,
		"amount":        cb.amount,
		"reason":        cb.reason,
	})
	if err != nil {
		return Execution{}, fmt.Errorf("ledger submission failed: %w", err)
	}
	if !rcpt.Success {
		return Execution{Success: false}, nil
	}

	cb.status = "executed"
	return Execution{Success: true, Hash: rcpt.Hash}, nil
}

// Status reports the executor-side state of a clawback. Used by the demo to
// show the end-to-end arc.
func (m *Memory) Status(clawbackID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.clawbacks[clawbackID]
	if !ok {
		return "", false
	}
	return cb.status, true
}
