package oracle

import "github.com/castellan-labs/recourse/pkg/proposal"

// Stats aggregates governance activity for dashboards and the CLI.
type Stats struct {
	TotalProposals          int                     `json:"total_proposals"`
	ByStatus                map[proposal.Status]int `json:"by_status"`
	GovernanceCommitteeSize int                     `json:"governance_committee_size"`
	TransparencyEntries     int                     `json:"transparency_entries"`
}

// Stats returns aggregate counts with proposal statuses evaluated lazily
// at the current clock.
func (o *Oracle) Stats() Stats {
	return Stats{
		TotalProposals:          o.table.Len(),
		ByStatus:                o.table.StatusCounts(o.clock().UTC()),
		GovernanceCommitteeSize: o.committee.Size(),
		TransparencyEntries:     o.ledger.Len(),
	}
}
