package seeding_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"casework/internal/domain"
	"casework/internal/seeding"
)

func workflow() []domain.Stage {
	questions := []domain.Question{
		{ID: "decision", Label: "Decision", Type: domain.QuestionRadio, Options: []string{"Yes", "No"}},
		{ID: "route", Label: "Route", Type: domain.QuestionSelect, Options: []string{"Please select", "Fast track", "Standard"}},
		{ID: "summary", Label: "Summary", Type: domain.QuestionText},
		{ID: "notes", Type: domain.QuestionTextarea},
	}
	stage := func(id string) domain.Stage {
		return domain.Stage{ID: id, Tasks: []domain.Task{
			{ID: "check", Questions: questions},
			{ID: "assess", Questions: questions},
			{ID: "confirm", Questions: questions},
		}}
	}
	return []domain.Stage{stage("triage"), stage("review"), stage("outcome")}
}

func fixedGenerator(seed int64) *seeding.Generator {
	g := seeding.New(seed)
	g.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return g
}

func TestClosedCompletesEveryTask(t *testing.T) {
	g := fixedGenerator(1)
	statuses, data := g.Derive(domain.Case{CaseID: "C9", Status: domain.CaseClosed}, workflow())
	if len(statuses) != 9 {
		t.Fatalf("expected 9 statuses, got %d", len(statuses))
	}
	for k, s := range statuses {
		if s != domain.TaskCompleted {
			t.Fatalf("%s = %s, want completed", k, s)
		}
	}
	if len(data) != 9 {
		t.Fatalf("expected answers for every completed task, got %d", len(data))
	}
	d := data["C9_outcome_confirm"]
	if !d.Completed || d.LastSaved != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected task data %+v", d)
	}
}

func TestReceivedAndUnknownStartNothing(t *testing.T) {
	g := fixedGenerator(1)
	for _, status := range []string{domain.CaseReceived, "Withdrawn", ""} {
		statuses, data := g.Derive(domain.Case{CaseID: "C1", Status: status}, workflow())
		if len(statuses) != 0 || len(data) != 0 {
			t.Fatalf("%q: expected nothing started, got %v %v", status, statuses, data)
		}
	}
}

func TestStartedStageRule(t *testing.T) {
	for seed := int64(1); seed < 50; seed++ {
		g := fixedGenerator(seed)
		statuses := g.Statuses(domain.Case{CaseID: "C1", Status: domain.CaseReview}, workflow())
		for _, task := range []string{"check", "assess", "confirm"} {
			if statuses["triage_"+task] != domain.TaskCompleted {
				t.Fatalf("seed %d: triage_%s not completed", seed, task)
			}
		}
		if statuses["review_check"] != domain.TaskCompleted {
			t.Fatalf("seed %d: first review task not completed", seed)
		}
		if s, ok := statuses["review_assess"]; ok && s != domain.TaskInProgress {
			t.Fatalf("seed %d: second review task is %s", seed, s)
		}
		if _, ok := statuses["review_confirm"]; ok {
			t.Fatalf("seed %d: third task must never start", seed)
		}
		for k := range statuses {
			if strings.HasPrefix(k, "outcome_") {
				t.Fatalf("seed %d: outcome stage touched (%s)", seed, k)
			}
		}
	}
}

func TestProbabilityBounds(t *testing.T) {
	g := fixedGenerator(7)
	g.StartSecondTask = 1
	g.InProgressData = 1
	statuses, data := g.Derive(domain.Case{CaseID: "C1", Status: domain.CaseTriage}, workflow())
	if statuses["triage_assess"] != domain.TaskInProgress {
		t.Fatalf("expected second task in progress, got %v", statuses)
	}
	d, ok := data["C1_triage_assess"]
	if !ok || d.Completed {
		t.Fatalf("expected incomplete answers for in-progress task, got %+v (ok=%v)", d, ok)
	}

	g.StartSecondTask = 0
	statuses = g.Statuses(domain.Case{CaseID: "C1", Status: domain.CaseTriage}, workflow())
	if _, ok := statuses["triage_assess"]; ok {
		t.Fatalf("expected second task unstarted")
	}
}

func TestAnswers(t *testing.T) {
	g := fixedGenerator(3)
	_, data := g.Derive(domain.Case{CaseID: "C2", Status: domain.CaseClosed}, workflow())
	d := data["C2_triage_check"]
	want := map[string]string{
		"summary": "Sample response for Summary",
		"notes":   "Detailed notes recorded for notes on case C2.",
	}
	for k, v := range want {
		if d.FormData[k] != v {
			t.Fatalf("%s = %q, want %q", k, d.FormData[k], v)
		}
	}
	if r := d.FormData["decision"]; r != "Yes" && r != "No" {
		t.Fatalf("radio answer %q not an option", r)
	}
}

func TestSelectNeverPicksPlaceholder(t *testing.T) {
	stages := []domain.Stage{{ID: "triage", Tasks: []domain.Task{{ID: "t", Questions: []domain.Question{
		{ID: "s", Type: domain.QuestionSelect, Options: []string{"Please select", "A", "B"}},
		{ID: "single", Type: domain.QuestionSelect, Options: []string{"Only"}},
		{ID: "empty", Type: domain.QuestionRadio},
	}}}}}
	g := fixedGenerator(11)
	for i := 0; i < 200; i++ {
		_, data := g.Derive(domain.Case{CaseID: "C", Status: domain.CaseClosed}, stages)
		form := data["C_triage_t"].FormData
		if form["s"] == "Please select" {
			t.Fatalf("select answered with placeholder")
		}
		if form["single"] != "Only" {
			t.Fatalf("single-option select = %q", form["single"])
		}
		if _, ok := form["empty"]; ok {
			t.Fatalf("radio without options should be skipped")
		}
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	cases := []domain.Case{
		{CaseID: "C1", CaseType: "complaint", Status: domain.CaseReview},
		{CaseID: "C2", CaseType: "registration", Status: domain.CaseTriage},
		{CaseID: "C3", CaseType: "other", Status: domain.CaseOutcome},
		{CaseID: "C4", CaseType: "complaint", Status: domain.CaseReceived},
	}
	tc := domain.TaskConfig{domain.DefaultCaseType: {Stages: workflow()}}
	a := fixedGenerator(42).Generate(cases, tc)
	b := fixedGenerator(42).Generate(cases, tc)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different output (-a +b):\n%s", diff)
	}
	if got, ok := a.TaskStatuses["C4"]; !ok || len(got) != 0 {
		t.Fatalf("received case should have an empty entry, got %v (present=%v)", got, ok)
	}
}

func TestGenerateWithoutWorkflow(t *testing.T) {
	out := fixedGenerator(1).Generate([]domain.Case{{CaseID: "C1", CaseType: "x", Status: domain.CaseClosed}}, domain.TaskConfig{})
	if got := out.TaskStatuses["C1"]; got == nil || len(got) != 0 {
		t.Fatalf("expected empty statuses, got %v", got)
	}
	if len(out.TaskData) != 0 {
		t.Fatalf("expected no task data, got %d", len(out.TaskData))
	}
}

func TestPropertyTaskDataOnlyForStatusedTasks(t *testing.T) {
	statuses := []string{domain.CaseReceived, domain.CaseTriage, domain.CaseReview, domain.CaseOutcome, domain.CaseClosed}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "cases")
		var cases []domain.Case
		for i := 0; i < n; i++ {
			cases = append(cases, domain.Case{
				CaseID: fmt.Sprintf("C%d", i),
				Status: rapid.SampledFrom(statuses).Draw(rt, "status"),
			})
		}
		g := fixedGenerator(rapid.Int64Range(1, 1<<40).Draw(rt, "seed"))
		out := g.Generate(cases, domain.TaskConfig{domain.DefaultCaseType: {Stages: workflow()}})
		for _, c := range cases {
			st := out.TaskStatuses[c.CaseID]
			if c.Status == domain.CaseClosed {
				for _, stage := range workflow() {
					for _, task := range stage.Tasks {
						if st[domain.TaskKey(stage.ID, task.ID)] != domain.TaskCompleted {
							rt.Fatalf("closed case %s has incomplete %s_%s", c.CaseID, stage.ID, task.ID)
						}
					}
				}
			}
			if c.Status == domain.CaseReceived && len(st) != 0 {
				rt.Fatalf("received case %s has statuses %v", c.CaseID, st)
			}
		}
		for key, d := range out.TaskData {
			found := false
			for caseID, st := range out.TaskStatuses {
				for taskKey, s := range st {
					if caseID+"_"+taskKey == key {
						found = true
						if d.Completed != (s == domain.TaskCompleted) {
							rt.Fatalf("%s completed=%v but status %s", key, d.Completed, s)
						}
					}
				}
			}
			if !found {
				rt.Fatalf("task data %s has no status", key)
			}
		}
	})
}
