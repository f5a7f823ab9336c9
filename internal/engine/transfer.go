package engine

import (
	"context"
	"errors"
	"fmt"

	"casework/internal/domain"
	"casework/internal/events"
)

// TransferReport counts the records copied between stores.
type TransferReport struct {
	Organisations int  `json:"organisations"`
	Cases         int  `json:"cases"`
	Messages      int  `json:"messages"`
	CaseTypes     int  `json:"case_types"`
	SeededCases   int  `json:"seeded_cases"`
	TaskConfig    bool `json:"task_config"`
	Seeded        bool `json:"seeded"`
}

// ImportFrom replaces the engine's store contents with src.
func (e Engine) ImportFrom(ctx context.Context, src Store, actorID string) (TransferReport, error) {
	rep, err := copyStore(ctx, src, e.Store)
	if err != nil {
		return rep, fmt.Errorf("import: %w", err)
	}
	return rep, e.record(ctx, events.StoreImported, "store", "", actorID, reportPayload(rep))
}

// ExportTo replaces dst's contents with the engine's store.
func (e Engine) ExportTo(ctx context.Context, dst Store, actorID string) (TransferReport, error) {
	rep, err := copyStore(ctx, e.Store, dst)
	if err != nil {
		return rep, fmt.Errorf("export: %w", err)
	}
	return rep, e.record(ctx, events.StoreExported, "store", "", actorID, reportPayload(rep))
}

// copyStore requires organisations and cases; the task configuration and
// seeded data are copied when present.
func copyStore(ctx context.Context, from, to Store) (TransferReport, error) {
	var rep TransferReport
	orgs, err := from.ListOrganisations(ctx)
	if err != nil {
		return rep, fmt.Errorf("read organisations: %w", err)
	}
	cases, err := from.ListCases(ctx)
	if err != nil {
		return rep, fmt.Errorf("read cases: %w", err)
	}
	msgs, err := from.ListMessages(ctx)
	if err != nil {
		return rep, fmt.Errorf("read messages: %w", err)
	}
	tc, err := from.TaskConfig(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return rep, fmt.Errorf("read task configuration: %w", err)
	}
	seeded, err := from.SeededTaskData(ctx)
	hasSeeded := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return rep, fmt.Errorf("read seeded task data: %w", err)
	}

	if err := to.ReplaceOrganisations(ctx, orgs); err != nil {
		return rep, fmt.Errorf("write organisations: %w", err)
	}
	rep.Organisations = len(orgs)
	if err := to.ReplaceCases(ctx, cases); err != nil {
		return rep, fmt.Errorf("write cases: %w", err)
	}
	rep.Cases = len(cases)
	if err := to.ReplaceMessages(ctx, msgs); err != nil {
		return rep, fmt.Errorf("write messages: %w", err)
	}
	rep.Messages = len(msgs)
	if tc != nil {
		if err := to.ReplaceTaskConfig(ctx, tc); err != nil {
			return rep, fmt.Errorf("write task configuration: %w", err)
		}
		rep.TaskConfig = true
		rep.CaseTypes = len(tc)
	}
	if hasSeeded {
		if err := to.ReplaceSeededTaskData(ctx, seeded); err != nil {
			return rep, fmt.Errorf("write seeded task data: %w", err)
		}
		rep.Seeded = true
		rep.SeededCases = len(seeded.TaskStatuses)
	}
	return rep, nil
}

func reportPayload(rep TransferReport) events.EventPayload {
	return events.EventPayload{
		"organisations": rep.Organisations,
		"cases":         rep.Cases,
		"messages":      rep.Messages,
		"case_types":    rep.CaseTypes,
		"seeded_cases":  rep.SeededCases,
	}
}
