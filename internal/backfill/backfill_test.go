package backfill_test

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"casework/internal/backfill"
	"casework/internal/domain"
)

func TestApplyResolvesNamesAndAcronyms(t *testing.T) {
	dir := backfill.NewDirectory([]domain.Organisation{
		{RNNumber: "RN9001", Name: "Acme Assurance"},
		{RNNumber: "RN5123", Name: "Assessment Partners UK", Acronym: "APUK"},
	}, nil)
	cases := []domain.Case{
		{CaseID: "C1", CaseType: "complaint", Status: domain.CaseReview, SubmittedBy: "Acme Assurance"},
		{CaseID: "C2", SubmittedBy: "APUK"},
		{CaseID: "C3", SubmittedBy: "Unknown Ltd"},
		{CaseID: "C4", SubmittedBy: "Unknown Ltd"},
		{CaseID: "C5"},
		{CaseID: "C6", SubmittedBy: "Nobody", RNNumber: "RN0001"},
	}
	rep := backfill.Apply(cases, dir, nil)

	want := backfill.Report{
		Updated:    2,
		Unresolved: 2,
		Names:      []string{"Unknown Ltd"},
		UpdatedIDs: []string{"C1", "C2"},
	}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
	if cases[0].RNNumber != "RN9001" || cases[1].RNNumber != "RN5123" {
		t.Fatalf("rn not written back: %+v %+v", cases[0], cases[1])
	}
	if cases[2].RNNumber != "" || cases[4].RNNumber != "" {
		t.Fatalf("unresolved cases must be left unmodified")
	}
	if cases[5].RNNumber != "RN0001" {
		t.Fatalf("existing rn overwritten: %s", cases[5].RNNumber)
	}
}

func TestDirectoryLastEntryWins(t *testing.T) {
	dir := backfill.NewDirectory([]domain.Organisation{
		{RNNumber: "RN1", Name: "Shared", Acronym: "SH"},
		{RNNumber: "RN2", Name: "Other", Acronym: "SH"},
	}, nil)
	if rn, _ := dir.Lookup("SH"); rn != "RN2" {
		t.Fatalf("expected later entry to win, got %s", rn)
	}
	if rn, _ := dir.Lookup("Shared"); rn != "RN1" {
		t.Fatalf("name lookup = %s", rn)
	}
	if _, ok := dir.Lookup(""); ok {
		t.Fatalf("empty key must not resolve")
	}
	if dir.Len() != 2 {
		t.Fatalf("expected 2 organisations, got %d", dir.Len())
	}
}

func TestPropertyNameAndAcronymAgree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "orgs")
		var orgs []domain.Organisation
		for i := 0; i < n; i++ {
			o := domain.Organisation{
				RNNumber: fmt.Sprintf("RN%04d", i),
				Name:     fmt.Sprintf("Organisation %d", i),
			}
			if rapid.Bool().Draw(rt, "has_acronym") {
				o.Acronym = fmt.Sprintf("ORG%d", i)
			}
			orgs = append(orgs, o)
		}
		dir := backfill.NewDirectory(orgs, nil)
		for _, o := range orgs {
			byName, ok := dir.Lookup(o.Name)
			if !ok || byName != o.RNNumber {
				rt.Fatalf("name %q resolved to %q", o.Name, byName)
			}
			if o.Acronym != "" {
				byAcronym, _ := dir.Lookup(o.Acronym)
				if byAcronym != byName {
					rt.Fatalf("acronym %q resolved to %q, name to %q", o.Acronym, byAcronym, byName)
				}
			}
		}
	})
}

func TestPropertyBackfillNoOpWhenRNSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := backfill.NewDirectory([]domain.Organisation{{RNNumber: "RN1", Name: "Known"}}, nil)
		rn := rapid.StringMatching(`RN[0-9]{1,5}`).Draw(rt, "rn")
		by := rapid.SampledFrom([]string{"Known", "Unknown", ""}).Draw(rt, "submitted_by")
		cases := []domain.Case{{CaseID: "C1", SubmittedBy: by, RNNumber: rn}}
		rep := backfill.Apply(cases, dir, nil)
		if rep.Updated != 0 || rep.Unresolved != 0 || cases[0].RNNumber != rn {
			rt.Fatalf("backfill touched a case with rn set: %+v %+v", rep, cases[0])
		}
	})
}
