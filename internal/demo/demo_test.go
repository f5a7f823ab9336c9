package demo_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"casework/internal/demo"
	"casework/internal/domain"
)

var plan = demo.Plan{
	Organisation: domain.Organisation{Name: "Assessment Partners UK", RNNumber: "RN5123"},
	Quotas:       map[string]int{"event notification": 4, "complaint": 1},
}

func sampleCases() []domain.Case {
	var cases []domain.Case
	for i := 1; i <= 6; i++ {
		cases = append(cases, domain.Case{
			CaseID:      fmt.Sprintf("EN%d", i),
			CaseType:    "event notification",
			SubmittedBy: "Acme Assurance",
			RNNumber:    "RN9001",
		})
	}
	cases = append(cases,
		domain.Case{CaseID: "CO1", CaseType: "complaint", SubmittedBy: "Assessment Partners UK", RNNumber: "RN5123"},
		domain.Case{CaseID: "CO2", CaseType: "complaint", SubmittedBy: "Acme Assurance"},
		domain.Case{CaseID: "RG1", CaseType: "registration", SubmittedBy: "Acme Assurance"},
	)
	return cases
}

func TestReassignHonoursQuota(t *testing.T) {
	cases := sampleCases()
	changed := demo.Reassign(cases, plan, nil)
	if diff := cmp.Diff([]string{"EN1", "EN2", "EN3", "EN4"}, changed); diff != "" {
		t.Fatalf("changed ids (-want +got):\n%s", diff)
	}
	counts := map[string]int{}
	for _, c := range cases {
		if c.RNNumber == "RN5123" {
			if c.SubmittedBy != "Assessment Partners UK" {
				t.Fatalf("case %s has rn but submitted by %s", c.CaseID, c.SubmittedBy)
			}
			counts[c.CaseType]++
		}
	}
	if counts["event notification"] != 4 || counts["complaint"] != 1 || counts["registration"] != 0 {
		t.Fatalf("unexpected ownership counts %v", counts)
	}
}

func TestReassignIsIdempotent(t *testing.T) {
	cases := sampleCases()
	demo.Reassign(cases, plan, nil)
	before := append([]domain.Case(nil), cases...)
	if changed := demo.Reassign(cases, plan, nil); len(changed) != 0 {
		t.Fatalf("second run changed %v", changed)
	}
	if diff := cmp.Diff(before, cases); diff != "" {
		t.Fatalf("second run mutated cases:\n%s", diff)
	}
}

func TestReassignShortSupply(t *testing.T) {
	cases := []domain.Case{{CaseID: "EN1", CaseType: "event notification"}}
	changed := demo.Reassign(cases, plan, nil)
	if len(changed) != 1 || cases[0].RNNumber != "RN5123" {
		t.Fatalf("expected the only case reassigned, got %v %+v", changed, cases[0])
	}
}
