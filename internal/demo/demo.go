// Package demo reassigns a fixed number of cases per case type to the
// organisation used for demonstrations.
package demo

import (
	"sort"

	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/logging"
)

// Plan says which organisation receives cases and how many of each type.
type Plan struct {
	Organisation domain.Organisation
	Quotas       map[string]int
}

// Reassign moves cases to the plan's organisation in store order until
// each case type holds its quota. Cases it already owns count toward the
// quota, so repeated runs change nothing. It returns the mutated case ids
// in store order.
func Reassign(cases []domain.Case, plan Plan, logger *zap.Logger) []string {
	log := logging.OrNop(logger)
	owned := map[string]int{}
	for _, c := range cases {
		if c.RNNumber == plan.Organisation.RNNumber {
			owned[c.CaseType]++
		}
	}
	var changed []string
	for i := range cases {
		c := &cases[i]
		quota, ok := plan.Quotas[c.CaseType]
		if !ok || c.RNNumber == plan.Organisation.RNNumber {
			continue
		}
		if owned[c.CaseType] >= quota {
			continue
		}
		log.Debug("reassigning case",
			zap.String("case_id", c.CaseID),
			zap.String("case_type", c.CaseType),
			zap.String("from", c.SubmittedBy))
		c.SubmittedBy = plan.Organisation.Name
		c.RNNumber = plan.Organisation.RNNumber
		owned[c.CaseType]++
		changed = append(changed, c.CaseID)
	}
	for _, caseType := range sortedKeys(plan.Quotas) {
		if owned[caseType] < plan.Quotas[caseType] {
			log.Info("not enough cases to fill demo quota",
				zap.String("case_type", caseType),
				zap.Int("quota", plan.Quotas[caseType]),
				zap.Int("assigned", owned[caseType]))
		}
	}
	return changed
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
