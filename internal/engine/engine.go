package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"casework/internal/backfill"
	"casework/internal/config"
	"casework/internal/demo"
	"casework/internal/domain"
	"casework/internal/events"
	"casework/internal/jsonstore"
	"casework/internal/logging"
	"casework/internal/redirect"
	"casework/internal/repo"
	"casework/internal/seeding"
	"casework/internal/session"
)

// Store is the case data contract shared by the JSON files and SQLite.
type Store interface {
	ListOrganisations(ctx context.Context) ([]domain.Organisation, error)
	ReplaceOrganisations(ctx context.Context, orgs []domain.Organisation) error
	ListCases(ctx context.Context) ([]domain.Case, error)
	GetCase(ctx context.Context, caseID string) (domain.Case, error)
	ReplaceCases(ctx context.Context, cases []domain.Case) error
	TaskConfig(ctx context.Context) (domain.TaskConfig, error)
	ReplaceTaskConfig(ctx context.Context, tc domain.TaskConfig) error
	ListMessages(ctx context.Context) ([]domain.Message, error)
	ReplaceMessages(ctx context.Context, msgs []domain.Message) error
	SeededTaskData(ctx context.Context) (domain.SeededTaskData, error)
	ReplaceSeededTaskData(ctx context.Context, data domain.SeededTaskData) error
}

var (
	_ Store = jsonstore.Store{}
	_ Store = repo.Repo{}
)

const DefaultActor = "local-user"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Store    Store
	Sessions session.Store
	Events   events.Writer
	Config   *config.Config
	Logger   *zap.Logger
	Now      func() time.Time
}

// New builds an engine over store. The database always holds the event
// log and session items; store may be the same database or the JSON files.
func New(db *sql.DB, store Store, cfg *config.Config, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Store:    store,
		Sessions: session.Store{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Logger:   logging.OrNop(logger),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	if actorID == "" {
		actorID = DefaultActor
	}
	w := e.Events
	w.Now = e.now
	if err := w.Record(ctx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return fmt.Errorf("record %s: %w", evtType, err)
	}
	return nil
}

// Backfill resolves missing registration numbers from the organisation
// directory and rewrites the case collection.
func (e Engine) Backfill(ctx context.Context, actorID string) (backfill.Report, error) {
	orgs, err := e.Store.ListOrganisations(ctx)
	if err != nil {
		return backfill.Report{}, fmt.Errorf("load organisations: %w", err)
	}
	cases, err := e.Store.ListCases(ctx)
	if err != nil {
		return backfill.Report{}, fmt.Errorf("load cases: %w", err)
	}
	dir := backfill.NewDirectory(orgs, e.log())
	rep := backfill.Apply(cases, dir, e.log())
	if err := e.Store.ReplaceCases(ctx, cases); err != nil {
		return rep, fmt.Errorf("save cases: %w", err)
	}
	e.log().Info("backfill complete",
		zap.Int("updated", rep.Updated),
		zap.Int("unresolved", rep.Unresolved),
		zap.Strings("unresolved_names", rep.Names))
	err = e.record(ctx, events.CasesBackfilled, "cases", "", actorID, events.EventPayload{
		"updated":          rep.Updated,
		"unresolved":       rep.Unresolved,
		"unresolved_names": rep.Names,
	})
	return rep, err
}

type SeedOptions struct {
	// Seed overrides seeding.seed from config when non-nil.
	Seed    *int64
	ActorID string
}

type SeedResult struct {
	Seed       int64                 `json:"seed"`
	Cases      int                   `json:"cases"`
	Tasks      int                   `json:"tasks"`
	Answered   int                   `json:"answered"`
	Data       domain.SeededTaskData `json:"-"`
	Generation string                `json:"generated_at" format:"date-time"`
}

// GenerateTaskData derives task progress for every case and overwrites the
// seeded task data.
func (e Engine) GenerateTaskData(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	cases, err := e.Store.ListCases(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("load cases: %w", err)
	}
	tc, err := e.Store.TaskConfig(ctx)
	if err != nil {
		return SeedResult{}, fmt.Errorf("load task configuration: %w", err)
	}
	seed := e.Config.Seeding.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	if seed == 0 {
		seed = e.now().UnixNano()
	}
	gen := seeding.New(seed)
	gen.Now = e.now
	gen.Logger = e.log()
	gen.StartSecondTask = e.Config.Seeding.StartSecondTask
	gen.InProgressData = e.Config.Seeding.InProgressData
	data := gen.Generate(cases, tc)
	if err := e.Store.ReplaceSeededTaskData(ctx, data); err != nil {
		return SeedResult{}, fmt.Errorf("save seeded task data: %w", err)
	}
	res := SeedResult{
		Seed:       seed,
		Cases:      len(data.TaskStatuses),
		Answered:   len(data.TaskData),
		Data:       data,
		Generation: e.now().UTC().Format(time.RFC3339),
	}
	for _, statuses := range data.TaskStatuses {
		res.Tasks += len(statuses)
	}
	e.log().Info("seeded task data",
		zap.Int64("seed", seed),
		zap.Int("cases", res.Cases),
		zap.Int("tasks", res.Tasks),
		zap.Int("answered", res.Answered))
	err = e.record(ctx, events.TasksSeeded, "seeded_task_data", "", opts.ActorID, events.EventPayload{
		"seed":     seed,
		"cases":    res.Cases,
		"tasks":    res.Tasks,
		"answered": res.Answered,
	})
	return res, err
}

// DemoPlan returns the reassignment plan from config.
func (e Engine) DemoPlan() demo.Plan {
	return demo.Plan{
		Organisation: domain.Organisation{
			Name:     e.Config.Demo.Organisation.Name,
			RNNumber: e.Config.Demo.Organisation.RNNumber,
		},
		Quotas: e.Config.Demo.Quotas,
	}
}

// ReassignDemoCases hands cases to the demo organisation up to each
// configured quota. The case collection is only rewritten when something
// changed.
func (e Engine) ReassignDemoCases(ctx context.Context, actorID string) ([]string, error) {
	cases, err := e.Store.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cases: %w", err)
	}
	plan := e.DemoPlan()
	changed := demo.Reassign(cases, plan, e.log())
	if len(changed) > 0 {
		if err := e.Store.ReplaceCases(ctx, cases); err != nil {
			return nil, fmt.Errorf("save cases: %w", err)
		}
	}
	e.log().Info("demo reassignment complete",
		zap.String("rn_number", plan.Organisation.RNNumber),
		zap.Int("reassigned", len(changed)))
	err = e.record(ctx, events.CasesReassigned, "organisation", plan.Organisation.RNNumber, actorID, events.EventPayload{
		"case_ids": changed,
	})
	return changed, err
}

// ResolveReply finds where a reply link for messageID under rn should go.
// An empty sessionID only searches the static messages.
func (e Engine) ResolveReply(ctx context.Context, rn, messageID, sessionID string) (redirect.Target, error) {
	if rn == "" || messageID == "" {
		return redirect.Target{}, errors.New("rn and message id are required")
	}
	cases, err := e.Store.ListCases(ctx)
	if err != nil {
		return redirect.Target{}, fmt.Errorf("load cases: %w", err)
	}
	msgs, err := e.Store.ListMessages(ctx)
	if err != nil {
		return redirect.Target{}, fmt.Errorf("load messages: %w", err)
	}
	r := redirect.Resolver{Cases: cases, Messages: msgs, Logger: e.log()}
	var local redirect.LocalStorage
	if sessionID != "" {
		local = e.Sessions.Scoped(sessionID)
	}
	return r.Resolve(ctx, rn, messageID, local)
}

// SentMessages returns the session's sent messages for a case. Unreadable
// items are reported as an error here since the caller asked for them.
func (e Engine) SentMessages(ctx context.Context, sessionID, caseID string) ([]domain.SentMessage, error) {
	if _, err := e.Store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	raw, ok, err := e.Sessions.Get(ctx, sessionID, domain.SentMessagesKey(caseID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.SentMessage{}, nil
	}
	var msgs []domain.SentMessage
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("parse sent messages for %s: %w", caseID, err)
	}
	return msgs, nil
}

func (e Engine) PutSentMessages(ctx context.Context, sessionID, caseID string, msgs []domain.SentMessage) error {
	if _, err := e.Store.GetCase(ctx, caseID); err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.SentMessage{}
	}
	for i, m := range msgs {
		if m.ID == "" {
			return fmt.Errorf("sent message %d: id is required", i)
		}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return e.Sessions.Put(ctx, sessionID, domain.SentMessagesKey(caseID), string(data))
}

func (e Engine) DeleteSentMessages(ctx context.Context, sessionID, caseID string) error {
	return e.Sessions.Delete(ctx, sessionID, domain.SentMessagesKey(caseID))
}
