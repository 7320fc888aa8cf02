// Package executor defines the client interface to the external clawback
// executor, the system that actually moves funds once governance approves.
// The oracle only ever talks to it at two points: registering a pending
// clawback at proposal creation, and driving execution after approval.
package executor

import "context"

// Initiation is the executor's acknowledgement of a pending clawback.
type Initiation struct {
	ID     string `json:"id"`
	Status string `json:"status"` // pending
}

// Approval records that governance sign-off reached the executor.
type Approval struct {
	Status string `json:"status"` // approved
}

// Execution is the result of driving a clawback to completion.
type Execution struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash"`
}

// Client is the boundary to the clawback executor. Implementations are
// expected to be safe for concurrent use.
type Client interface {
	// InitiateClawback registers a pending clawback and returns a reference
	// the oracle stores on the proposal.
	InitiateClawback(ctx context.Context, asset, targetWallet, amount, reason string) (Initiation, error)
	// AddGovernanceApproval attaches the governance decision to a pending
	// clawback.
	AddGovernanceApproval(ctx context.Context, clawbackID string) (Approval, error)
	// ExecuteClawback drives an approved clawback and returns the settlement
	// result.
	ExecuteClawback(ctx context.Context, clawbackID string) (Execution, error)
}

// Nop is a Client that accepts everything and settles nothing. It is the
// default wiring when no executor is configured.
type Nop struct{}

func (Nop) InitiateClawback(ctx context.Context, asset, targetWallet, amount, reason string) (Initiation, error) {
	return Initiation{ID: "noop", Status: "pending"}, nil
}

func (Nop) AddGovernanceApproval(ctx context.Context, clawbackID string) (Approval, error) {
	return Approval{Status: "approved"}, nil
}

func (Nop) ExecuteClawback(ctx context.Context, clawbackID string) (Execution, error) {
	return Execution{Success: true, Hash: ""}, nil
}
