// Package backfill fills in the registration number of each case from the
// organisation directory.
package backfill

import (
	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/logging"
)

// Report summarises a backfill run.
type Report struct {
	Updated    int      `json:"updated"`
	Unresolved int      `json:"unresolved"`
	Names      []string `json:"unresolved_names"`
	UpdatedIDs []string `json:"updated_case_ids,omitempty"`
}

// Apply sets RNNumber on every case that lacks one but has SubmittedBy
// resolvable through dir. Cases are modified in place; unresolved names are
// reported once each in first-seen order.
func Apply(cases []domain.Case, dir Directory, logger *zap.Logger) Report {
	log := logging.OrNop(logger)
	var rep Report
	seen := map[string]bool{}
	for i := range cases {
		c := &cases[i]
		if c.RNNumber != "" || c.SubmittedBy == "" {
			continue
		}
		rn, ok := dir.Lookup(c.SubmittedBy)
		if !ok {
			rep.Unresolved++
			if !seen[c.SubmittedBy] {
				seen[c.SubmittedBy] = true
				rep.Names = append(rep.Names, c.SubmittedBy)
			}
			log.Warn("organisation not found", zap.String("case_id", c.CaseID), zap.String("submitted_by", c.SubmittedBy))
			continue
		}
		c.RNNumber = rn
		rep.Updated++
		rep.UpdatedIDs = append(rep.UpdatedIDs, c.CaseID)
	}
	return rep
}
