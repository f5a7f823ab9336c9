package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"casework/internal/config"
	"casework/internal/db"
	"casework/internal/domain"
	"casework/internal/engine"
	"casework/internal/events"
	"casework/internal/jsonstore"
	"casework/internal/migrate"
	"casework/internal/redirect"
	"casework/internal/repo"
)

var fixedNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Files  jsonstore.Store
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Seeding.Seed = 42
	files := jsonstore.New(dir, cfg)
	eng := engine.New(conn, files, cfg, nil)
	eng.Now = func() time.Time { return fixedNow }
	ctx := context.Background()
	seedFixtures(t, ctx, files)
	return testEnv{Engine: eng, Files: files, Ctx: ctx}
}

func workflow() domain.CaseTypeConfig {
	q := []domain.Question{
		{ID: "decision", Label: "Decision", Type: domain.QuestionRadio, Options: []string{"Yes", "No"}},
		{ID: "notes", Label: "Notes", Type: domain.QuestionTextarea},
	}
	return domain.CaseTypeConfig{Stages: []domain.Stage{
		{ID: "triage", Tasks: []domain.Task{{ID: "check", Questions: q}, {ID: "assess", Questions: q}}},
		{ID: "review", Tasks: []domain.Task{{ID: "read", Questions: q}, {ID: "consult", Questions: q}, {ID: "sign", Questions: q}}},
		{ID: "outcome", Tasks: []domain.Task{{ID: "decide", Questions: q}}},
	}}
}

func seedFixtures(t *testing.T, ctx context.Context, s jsonstore.Store) {
	t.Helper()
	orgs := []domain.Organisation{
		{Name: "Acme Assurance", RNNumber: "RN9001", Acronym: "AA"},
		{Name: "Assessment Partners UK", RNNumber: "RN5123", Acronym: "APUK"},
	}
	cases := []domain.Case{
		{CaseID: "C1", CaseType: "complaint", Status: domain.CaseReview, SubmittedBy: "Acme Assurance"},
		{CaseID: "C2", CaseType: "complaint", Status: domain.CaseClosed, SubmittedBy: "APUK"},
		{CaseID: "C3", CaseType: "registration", Status: domain.CaseReceived, SubmittedBy: "Unknown Org"},
		{CaseID: "C4", CaseType: "registration", Status: domain.CaseTriage, SubmittedBy: "Unknown Org", RNNumber: "RN0001"},
		{CaseID: "C5", CaseType: "complaint", Status: domain.CaseOutcome, SubmittedBy: "Other Org"},
	}
	msgs := []domain.Message{{ID: "msg-100", CaseID: "C2", Subject: "Closure letter"}}
	if err := s.ReplaceOrganisations(ctx, orgs); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceCases(ctx, cases); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceMessages(ctx, msgs); err != nil {
		t.Fatal(err)
	}
	if err := s.ReplaceTaskConfig(ctx, domain.TaskConfig{"complaint": workflow(), "default": workflow()}); err != nil {
		t.Fatal(err)
	}
}

func TestBackfillAndDeriveScenario(t *testing.T) {
	env := newTestEnv(t)
	rep, err := env.Engine.Backfill(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if rep.Updated != 2 || rep.Unresolved != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if diff := cmp.Diff([]string{"Unknown Org", "Other Org"}, rep.Names); diff != "" {
		t.Fatalf("unresolved names (-want +got):\n%s", diff)
	}
	c1, err := env.Files.GetCase(env.Ctx, "C1")
	if err != nil || c1.RNNumber != "RN9001" {
		t.Fatalf("C1 not backfilled: %+v %v", c1, err)
	}
	c4, _ := env.Files.GetCase(env.Ctx, "C4")
	if c4.RNNumber != "RN0001" {
		t.Fatalf("existing RN must be kept, got %s", c4.RNNumber)
	}

	if _, err := env.Engine.GenerateTaskData(env.Ctx, engine.SeedOptions{ActorID: "tester"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seeded, err := env.Files.SeededTaskData(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	st := seeded.TaskStatuses["C1"]
	if st["triage_check"] != domain.TaskCompleted || st["triage_assess"] != domain.TaskCompleted {
		t.Fatalf("triage should be complete: %v", st)
	}
	if st["review_read"] != domain.TaskCompleted {
		t.Fatalf("first review task should be complete: %v", st)
	}
	if s, ok := st["review_consult"]; ok && s != domain.TaskInProgress {
		t.Fatalf("second review task should be in progress or absent: %v", st)
	}
	if _, ok := st["review_sign"]; ok {
		t.Fatalf("third review task must not start: %v", st)
	}
	if _, ok := st["outcome_decide"]; ok {
		t.Fatalf("outcome must not start: %v", st)
	}
	if len(seeded.TaskStatuses["C3"]) != 0 {
		t.Fatalf("received case should have no statuses: %v", seeded.TaskStatuses["C3"])
	}
	for _, key := range []string{"triage_check", "triage_assess", "review_read", "review_consult", "review_sign", "outcome_decide"} {
		if seeded.TaskStatuses["C2"][key] != domain.TaskCompleted {
			t.Fatalf("closed case task %s not complete", key)
		}
	}
	d, ok := seeded.TaskData["C1_triage_check"]
	if !ok || !d.Completed || d.LastSaved != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected task data %+v", d)
	}
	if d.FormData["notes"] != "Detailed notes recorded for Notes on case C1." {
		t.Fatalf("unexpected textarea answer %q", d.FormData["notes"])
	}
}

func TestGenerateTaskDataIsDeterministic(t *testing.T) {
	env := newTestEnv(t)
	seed := int64(7)
	first, err := env.Engine.GenerateTaskData(env.Ctx, engine.SeedOptions{Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.GenerateTaskData(env.Ctx, engine.SeedOptions{Seed: &seed})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Data, second.Data); diff != "" {
		t.Fatalf("same seed and clock should match (-first +second):\n%s", diff)
	}
	if first.Seed != 7 || first.Cases != 5 {
		t.Fatalf("unexpected summary %+v", first)
	}
}

func TestReassignDemoCasesIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Demo.Quotas = map[string]int{"complaint": 2, "registration": 1}
	changed, err := env.Engine.ReassignDemoCases(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"C1", "C2", "C3"}, changed); diff != "" {
		t.Fatalf("changed ids (-want +got):\n%s", diff)
	}
	c1, _ := env.Files.GetCase(env.Ctx, "C1")
	if c1.SubmittedBy != "Assessment Partners UK" || c1.RNNumber != "RN5123" {
		t.Fatalf("C1 not reassigned: %+v", c1)
	}
	again, err := env.Engine.ReassignDemoCases(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("rerun should change nothing, got %v", again)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, repo.EventFilters{Type: events.CasesReassigned})
	if err != nil || len(evts) != 2 {
		t.Fatalf("expected two reassignment events, got %d %v", len(evts), err)
	}
}

func TestResolveReplyFromSession(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Demo.Quotas = map[string]int{"complaint": 1}
	if _, err := env.Engine.ReassignDemoCases(env.Ctx, "tester"); err != nil {
		t.Fatal(err)
	}
	// C1 now belongs to RN5123
	err := env.Engine.PutSentMessages(env.Ctx, "sess-1", "C1", []domain.SentMessage{{ID: "msg-001", Subject: "Further information"}})
	if err != nil {
		t.Fatalf("put sent messages: %v", err)
	}
	target, err := env.Engine.ResolveReply(env.Ctx, "RN5123", "msg-001", "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if target.Kind != redirect.KindReply || target.Path != "/organisation/RN5123/case/C1/messages/msg-001/reply" {
		t.Fatalf("expected reply view, got %+v", target)
	}
	other, err := env.Engine.ResolveReply(env.Ctx, "RN5123", "msg-001", "sess-2")
	if err != nil {
		t.Fatal(err)
	}
	if other.Path != "/organisation/RN5123/messages" {
		t.Fatalf("another session must fall back to the message list, got %+v", other)
	}
}

func TestSentMessagesRequireKnownCase(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.PutSentMessages(env.Ctx, "sess-1", "missing", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	msgs, err := env.Engine.SentMessages(env.Ctx, "sess-1", "C1")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty list, got %v %v", msgs, err)
	}
}

func TestCaseTasks(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.Engine.CaseTasks(env.Ctx, "C2")
	if err != nil {
		t.Fatal(err)
	}
	if view.Seeded || len(view.Stages) != 3 {
		t.Fatalf("unexpected unseeded view %+v", view)
	}
	if _, err := env.Engine.GenerateTaskData(env.Ctx, engine.SeedOptions{}); err != nil {
		t.Fatal(err)
	}
	view, err = env.Engine.CaseTasks(env.Ctx, "C2")
	if err != nil {
		t.Fatal(err)
	}
	first := view.Stages[0].Tasks[0]
	if !view.Seeded || first.Status != domain.TaskCompleted || first.Data == nil {
		t.Fatalf("unexpected seeded task %+v", first)
	}
	if _, err := env.Engine.CaseTasks(env.Ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportExportKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.GenerateTaskData(env.Ctx, engine.SeedOptions{}); err != nil {
		t.Fatal(err)
	}
	sqlite := env.Engine
	sqlite.Store = env.Engine.Repo
	rep, err := sqlite.ImportFrom(env.Ctx, env.Files, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if rep.Cases != 5 || rep.Organisations != 2 || !rep.Seeded || !rep.TaskConfig {
		t.Fatalf("unexpected import report %+v", rep)
	}
	want, _ := env.Files.ListCases(env.Ctx)
	got, err := env.Engine.Repo.ListCases(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("imported cases (-json +sqlite):\n%s", diff)
	}

	out := jsonstore.Store{Dir: t.TempDir(), Files: env.Files.Files}
	if _, err := sqlite.ExportTo(env.Ctx, out, "tester"); err != nil {
		t.Fatalf("export: %v", err)
	}
	exported, err := out.ListCases(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, exported); diff != "" {
		t.Fatalf("exported cases (-want +got):\n%s", diff)
	}
	wantSeeded, _ := env.Files.SeededTaskData(env.Ctx)
	gotSeeded, err := out.SeededTaskData(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantSeeded, gotSeeded); diff != "" {
		t.Fatalf("seeded data lost in transfer:\n%s", diff)
	}
}

func TestMissingCasesFileIsFatal(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Store = jsonstore.Store{Dir: t.TempDir(), Files: env.Files.Files}
	if _, err := env.Engine.Backfill(env.Ctx, "tester"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
