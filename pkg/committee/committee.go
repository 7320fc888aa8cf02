// Package committee defines the fixed governance roster and the decision
// policy applied to clawback votes.
package committee

import (
	"fmt"
	"strings"
)

// Committee is the ordered set of governance members together with the
// quorum and required-majority policy, configured once at startup.
// It is immutable for the lifetime of the process; changing membership or
// policy requires a new instance.
type Committee struct {
	members          []string
	index            map[string]struct{}
	quorum           int
	requiredMajority float64
}

// New validates the roster and policy numbers and builds the committee.
// Members must be unique and non-empty, quorum must fit the roster size,
// and the required majority is a percentage of cast votes in (0, 100].
func New(members []string, quorum int, requiredMajority float64) (*Committee, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("committee: at least one member required")
	}

	index := make(map[string]struct{}, len(members))
	ordered := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, fmt.Errorf("committee: empty member address")
		}
		if _, dup := index[m]; dup {
			return nil, fmt.Errorf("committee: duplicate member %s", m)
		}
		index[m] = struct{}{}
		ordered = append(ordered, m)
	}

	if quorum < 1 || quorum > len(ordered) {
		return nil, fmt.Errorf("committee: quorum %d out of range [1, %d]", quorum, len(ordered))
	}
	if requiredMajority <= 0 || requiredMajority > 100 {
		return nil, fmt.Errorf("committee: required majority %.2f out of range (0, 100]", requiredMajority)
	}

	return &Committee{
		members:          ordered,
		index:            index,
		quorum:           quorum,
		requiredMajority: requiredMajority,
	}, nil
}

// IsMember reports whether addr belongs to the roster.
func (c *Committee) IsMember(addr string) bool {
	_, ok := c.index[addr]
	return ok
}

// Members returns the roster in configuration order.
func (c *Committee) Members() []string {
	out := make([]string, len(c.members))
	copy(out, c.members)
	return out
}

// Size returns the number of committee members.
func (c *Committee) Size() int {
	return len(c.members)
}

// Quorum returns the minimum number of votes before an outcome can finalize.
func (c *Committee) Quorum() int {
	return c.quorum
}

// RequiredMajority returns the percentage of cast votes a side needs to win.
func (c *Committee) RequiredMajority() float64 {
	return c.requiredMajority
}
