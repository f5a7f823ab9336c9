// Package jsonstore keeps the case data in flat JSON files, one per
// collection, inside a data directory.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"casework/internal/config"
	"casework/internal/domain"
)

// Store reads and writes the JSON "database" files.
type Store struct {
	Dir   string
	Files config.Files
}

// New returns a store over the data directory configured for workspace.
func New(workspace string, cfg *config.Config) Store {
	return Store{
		Dir:   cfg.DataPath(workspace, ""),
		Files: cfg.Store.Files,
	}
}

func (s Store) path(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s Store) ListOrganisations(ctx context.Context) ([]domain.Organisation, error) {
	var orgs []domain.Organisation
	if err := s.read(s.Files.Organisations, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (s Store) ListCases(ctx context.Context) ([]domain.Case, error) {
	var cases []domain.Case
	if err := s.read(s.Files.Cases, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func (s Store) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	cases, err := s.ListCases(ctx)
	if err != nil {
		return domain.Case{}, err
	}
	for _, c := range cases {
		if c.CaseID == caseID {
			return c, nil
		}
	}
	return domain.Case{}, fmt.Errorf("case %s: %w", caseID, domain.ErrNotFound)
}

// ReplaceCases overwrites the case file with cases, in order.
func (s Store) ReplaceCases(ctx context.Context, cases []domain.Case) error {
	if cases == nil {
		cases = []domain.Case{}
	}
	return s.write(s.Files.Cases, cases)
}

func (s Store) ReplaceOrganisations(ctx context.Context, orgs []domain.Organisation) error {
	if orgs == nil {
		orgs = []domain.Organisation{}
	}
	return s.write(s.Files.Organisations, orgs)
}

func (s Store) TaskConfig(ctx context.Context) (domain.TaskConfig, error) {
	var tc domain.TaskConfig
	if err := s.read(s.Files.TaskConfig, &tc); err != nil {
		return nil, err
	}
	return tc, nil
}

func (s Store) ReplaceTaskConfig(ctx context.Context, tc domain.TaskConfig) error {
	if tc == nil {
		tc = domain.TaskConfig{}
	}
	return s.write(s.Files.TaskConfig, tc)
}

// ListMessages returns the static messages. A missing messages file is an
// empty collection since older data directories predate it.
func (s Store) ListMessages(ctx context.Context) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := s.read(s.Files.Messages, &msgs); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return msgs, nil
}

func (s Store) ReplaceMessages(ctx context.Context, msgs []domain.Message) error {
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return s.write(s.Files.Messages, msgs)
}

func (s Store) SeededTaskData(ctx context.Context) (domain.SeededTaskData, error) {
	var out domain.SeededTaskData
	if err := s.read(s.Files.SeededTaskData, &out); err != nil {
		return domain.SeededTaskData{}, err
	}
	return out, nil
}

// ReplaceSeededTaskData overwrites any previously generated file.
func (s Store) ReplaceSeededTaskData(ctx context.Context, data domain.SeededTaskData) error {
	return s.write(s.Files.SeededTaskData, data)
}

func (s Store) read(name string, v any) error {
	p := s.path(name)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", p, domain.ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", p, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", p, err)
	}
	return nil
}

// write replaces the file atomically so a failed run leaves the previous
// contents in place.
func (s Store) write(name string, v any) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(s.Dir, "."+name+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		return fmt.Errorf("write %s: %w", s.path(name), err)
	}
	return nil
}
