// Package seeding derives demo task progress from a case's lifecycle status.
//
// Stages named triage, review and outcome follow the case status: earlier
// stages are complete, the current stage is started, later ones are
// untouched. A started stage has its first task completed and, by chance,
// its second task in progress. Answers are synthesised for tasks that
// carry a status so the demo forms look filled in.
package seeding

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/logging"
)

const (
	// DefaultStartSecondTask is the chance that the second task of the
	// current stage is in progress.
	DefaultStartSecondTask = 0.5
	// DefaultInProgressData is the chance that an in-progress task has
	// saved answers.
	DefaultInProgressData = 0.7
)

type progress struct {
	completed []string
	started   string
}

var progressByStatus = map[string]progress{
	domain.CaseClosed:  {completed: []string{domain.StageTriage, domain.StageReview, domain.StageOutcome}},
	domain.CaseOutcome: {completed: []string{domain.StageTriage, domain.StageReview}, started: domain.StageOutcome},
	domain.CaseReview:  {completed: []string{domain.StageTriage}, started: domain.StageReview},
	domain.CaseTriage:  {started: domain.StageTriage},
}

// Generator synthesises task statuses and answers. It is not safe for
// concurrent use because it owns its random source.
type Generator struct {
	Rand   *rand.Rand
	Now    func() time.Time
	Logger *zap.Logger

	// StartSecondTask is the chance the second task of a started stage is in progress.
	StartSecondTask float64
	// InProgressData is the chance an in-progress task gets answers.
	InProgressData float64
}

// New returns a Generator with default probabilities. A zero seed draws
// one from the clock.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		Rand:            rand.New(rand.NewSource(seed)),
		Now:             time.Now,
		StartSecondTask: DefaultStartSecondTask,
		InProgressData:  DefaultInProgressData,
	}
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) chance(p float64) bool {
	return g.Rand.Float64() < p
}

// Statuses returns the task statuses for c keyed by stageId_taskId.
func (g *Generator) Statuses(c domain.Case, stages []domain.Stage) map[string]domain.TaskStatus {
	out := map[string]domain.TaskStatus{}
	p, ok := progressByStatus[c.Status]
	if !ok {
		return out
	}
	completed := make(map[string]bool, len(p.completed))
	for _, id := range p.completed {
		completed[id] = true
	}
	for _, st := range stages {
		switch {
		case completed[st.ID]:
			for _, task := range st.Tasks {
				out[domain.TaskKey(st.ID, task.ID)] = domain.TaskCompleted
			}
		case st.ID == p.started:
			if len(st.Tasks) > 0 {
				out[domain.TaskKey(st.ID, st.Tasks[0].ID)] = domain.TaskCompleted
			}
			if len(st.Tasks) > 1 && g.chance(g.StartSecondTask) {
				out[domain.TaskKey(st.ID, st.Tasks[1].ID)] = domain.TaskInProgress
			}
		}
	}
	return out
}

// Derive returns the statuses for c and the answers for tasks that have
// one, keyed by caseId_stageId_taskId.
func (g *Generator) Derive(c domain.Case, stages []domain.Stage) (map[string]domain.TaskStatus, map[string]domain.TaskData) {
	statuses := g.Statuses(c, stages)
	data := map[string]domain.TaskData{}
	ts := g.now().UTC().Format(time.RFC3339)
	for _, st := range stages {
		for _, task := range st.Tasks {
			status, ok := statuses[domain.TaskKey(st.ID, task.ID)]
			if !ok {
				continue
			}
			if status == domain.TaskInProgress && !g.chance(g.InProgressData) {
				continue
			}
			data[domain.TaskDataKey(c.CaseID, st.ID, task.ID)] = domain.TaskData{
				FormData:  g.answers(c, task),
				Completed: status == domain.TaskCompleted,
				LastSaved: ts,
			}
		}
	}
	return statuses, data
}

// Generate derives progress for every case. Cases whose type has no
// workflow and no default get an empty status map.
func (g *Generator) Generate(cases []domain.Case, tc domain.TaskConfig) domain.SeededTaskData {
	log := logging.OrNop(g.Logger)
	out := domain.SeededTaskData{
		TaskStatuses: make(map[string]map[string]domain.TaskStatus, len(cases)),
		TaskData:     map[string]domain.TaskData{},
	}
	for _, c := range cases {
		wf, ok := tc.For(c.CaseType)
		if !ok {
			log.Warn("no task configuration for case type", zap.String("case_id", c.CaseID), zap.String("case_type", c.CaseType))
			out.TaskStatuses[c.CaseID] = map[string]domain.TaskStatus{}
			continue
		}
		statuses, data := g.Derive(c, wf.Stages)
		out.TaskStatuses[c.CaseID] = statuses
		for k, v := range data {
			out.TaskData[k] = v
		}
		log.Debug("derived case progress",
			zap.String("case_id", c.CaseID),
			zap.String("status", c.Status),
			zap.Int("tasks", len(statuses)),
			zap.Int("answered", len(data)))
	}
	return out
}

func (g *Generator) answers(c domain.Case, task domain.Task) map[string]string {
	form := make(map[string]string, len(task.Questions))
	for _, q := range task.Questions {
		switch q.Type {
		case domain.QuestionRadio:
			if len(q.Options) == 0 {
				continue
			}
			form[q.ID] = q.Options[g.Rand.Intn(len(q.Options))]
		case domain.QuestionSelect:
			switch len(q.Options) {
			case 0:
				continue
			case 1:
				form[q.ID] = q.Options[0]
			default:
				// the first option is the "please select" placeholder
				form[q.ID] = q.Options[1+g.Rand.Intn(len(q.Options)-1)]
			}
		case domain.QuestionText:
			form[q.ID] = fmt.Sprintf("Sample response for %s", label(q))
		case domain.QuestionTextarea:
			form[q.ID] = fmt.Sprintf("Detailed notes recorded for %s on case %s.", label(q), c.CaseID)
		}
	}
	return form
}

func label(q domain.Question) string {
	if q.Label != "" {
		return q.Label
	}
	return q.ID
}
