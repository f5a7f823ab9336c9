package engine

import (
	"context"
	"errors"
	"fmt"

	"casework/internal/domain"
)

// TaskProgress is one task of a case with its seeded status and answers.
type TaskProgress struct {
	ID     string            `json:"id"`
	Title  string            `json:"title,omitempty"`
	Status domain.TaskStatus `json:"status,omitempty"`
	Data   *domain.TaskData  `json:"data,omitempty"`
}

type StageProgress struct {
	ID    string         `json:"id"`
	Title string         `json:"title,omitempty"`
	Tasks []TaskProgress `json:"tasks"`
}

type CaseTasks struct {
	Case   domain.Case     `json:"case"`
	Stages []StageProgress `json:"stages"`
	// Seeded is false when no task data has been generated yet.
	Seeded bool `json:"seeded"`
}

// CaseTasks joins a case's workflow with its seeded progress.
func (e Engine) CaseTasks(ctx context.Context, caseID string) (CaseTasks, error) {
	c, err := e.Store.GetCase(ctx, caseID)
	if err != nil {
		return CaseTasks{}, err
	}
	tc, err := e.Store.TaskConfig(ctx)
	if err != nil {
		return CaseTasks{}, fmt.Errorf("load task configuration: %w", err)
	}
	out := CaseTasks{Case: c, Stages: []StageProgress{}}
	seeded, err := e.Store.SeededTaskData(ctx)
	switch {
	case err == nil:
		_, out.Seeded = seeded.TaskStatuses[caseID]
	case errors.Is(err, domain.ErrNotFound):
	default:
		return CaseTasks{}, fmt.Errorf("load seeded task data: %w", err)
	}
	wf, ok := tc.For(c.CaseType)
	if !ok {
		return out, nil
	}
	statuses := seeded.TaskStatuses[caseID]
	for _, st := range wf.Stages {
		sp := StageProgress{ID: st.ID, Title: st.Title, Tasks: make([]TaskProgress, 0, len(st.Tasks))}
		for _, task := range st.Tasks {
			tp := TaskProgress{ID: task.ID, Title: task.Title, Status: statuses[domain.TaskKey(st.ID, task.ID)]}
			if d, ok := seeded.TaskData[domain.TaskDataKey(caseID, st.ID, task.ID)]; ok {
				d := d
				tp.Data = &d
			}
			sp.Tasks = append(sp.Tasks, tp)
		}
		out.Stages = append(out.Stages, sp)
	}
	return out, nil
}
