package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// QueryFilter defines declarative filtering criteria for ledger reads.
// Zero values match everything.
type QueryFilter struct {
	Type       EntryType
	ProposalID string
	Actor      string
	StartTime  *time.Time
	EndTime    *time.Time
	StartSeq   uint64
	EndSeq     uint64
	Limit      int
}

func (f QueryFilter) matches(e Entry) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.ProposalID != "" && e.ProposalID != f.ProposalID {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter in insertion order.
func (l *Ledger) Query(filter QueryFilter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0)
	for _, e := range l.entries {
		if filter.matches(e) {
			out = append(out, e.clone())
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out
}

// QueryExpr returns entries for which the CEL expression evaluates to true.
// The expression sees each record as `entry` (a map of the entry's fields)
// and `now` (unix seconds), e.g.
//
//	entry.type == 'VOTE_CAST' && entry.actor == 'alice'
//
// Compiled programs are cached per expression string.
func (l *Ledger) QueryExpr(expr string) ([]Entry, error) {
	l.exprOnce.Do(func() {
		l.expr, l.exprErr = newExprEvaluator()
	})
	if l.exprErr != nil {
		return nil, l.exprErr
	}

	prg, err := l.expr.program(expr)
	if err != nil {
		return nil, err
	}

	now := l.clock().Unix()
	out := make([]Entry, 0)
	for _, e := range l.All() {
		val, _, err := prg.Eval(map[string]interface{}{
			"entry": entryMap(e),
			"now":   now,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadExpression, err)
		}
		if b, ok := val.Value().(bool); ok && b {
			out = append(out, e)
		}
	}
	return out, nil
}

func entryMap(e Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":                e.ID,
		"sequence":          int64(e.Sequence),
		"type":              string(e.Type),
		"proposal_id":       e.ProposalID,
		"action":            e.Action,
		"actor":             e.Actor,
		"timestamp":         e.Timestamp.Unix(),
		"previous_hash":     e.PreviousHash,
		"verification_hash": e.VerificationHash,
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	return m
}

// exprEvaluator compiles and caches CEL programs keyed by expression.
type exprEvaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newExprEvaluator() (*exprEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("entry", cel.DynType),
		cel.Variable("now", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}
	return &exprEvaluator{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (x *exprEvaluator) program(expr string) (cel.Program, error) {
	x.mu.RLock()
	prg, ok := x.cache[expr]
	x.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := x.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExpression, issues.Err())
	}
	prg, err := x.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExpression, err)
	}

	x.mu.Lock()
	x.cache[expr] = prg
	x.mu.Unlock()
	return prg, nil
}
