package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"casework/internal/domain"
)

// Repo is the SQLite-backed case store.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

func (r Repo) ListOrganisations(ctx context.Context) ([]domain.Organisation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT rn_number,name,COALESCE(acronym,'') FROM organisations ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organisation
	for rows.Next() {
		var o domain.Organisation
		if err := rows.Scan(&o.RNNumber, &o.Name, &o.Acronym); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) GetOrganisation(ctx context.Context, rn string) (domain.Organisation, error) {
	var o domain.Organisation
	err := r.DB.QueryRowContext(ctx, `SELECT rn_number,name,COALESCE(acronym,'') FROM organisations WHERE rn_number=?`, rn).
		Scan(&o.RNNumber, &o.Name, &o.Acronym)
	if err == sql.ErrNoRows {
		return o, fmt.Errorf("organisation %s: %w", rn, ErrNotFound)
	}
	return o, err
}

func (r Repo) ReplaceOrganisations(ctx context.Context, orgs []domain.Organisation) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM organisations`); err != nil {
			return err
		}
		for i, o := range orgs {
			// a repeated RN keeps the later record, as the directory lookup does
			if _, err := tx.ExecContext(ctx, `INSERT INTO organisations(rn_number,name,acronym,position) VALUES (?,?,?,?)
ON CONFLICT(rn_number) DO UPDATE SET name=excluded.name, acronym=excluded.acronym, position=excluded.position`,
				o.RNNumber, o.Name, nullable(o.Acronym), i); err != nil {
				return fmt.Errorf("insert organisation %s: %w", o.RNNumber, err)
			}
		}
		return nil
	})
}

const caseColumns = `case_id,case_type,status,COALESCE(submitted_by,''),COALESCE(rn_number,''),extra_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (domain.Case, error) {
	var c domain.Case
	var extra sql.NullString
	if err := row.Scan(&c.CaseID, &c.CaseType, &c.Status, &c.SubmittedBy, &c.RNNumber, &extra); err != nil {
		return c, err
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &c.Extra); err != nil {
			return c, fmt.Errorf("case %s extra fields: %w", c.CaseID, err)
		}
	}
	return c, nil
}

type CaseFilters struct {
	RNNumber string
	CaseType string
	Status   string
}

func (r Repo) ListCases(ctx context.Context) ([]domain.Case, error) {
	return r.FindCases(ctx, CaseFilters{})
}

func (r Repo) FindCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.RNNumber != "" {
		clauses = append(clauses, "rn_number=?")
		args = append(args, f.RNNumber)
	}
	if f.CaseType != "" {
		clauses = append(clauses, "case_type=?")
		args = append(args, f.CaseType)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + caseColumns + ` FROM cases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY position ASC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) GetCase(ctx context.Context, caseID string) (domain.Case, error) {
	c, err := scanCase(r.DB.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE case_id=?`, caseID))
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("case %s: %w", caseID, ErrNotFound)
	}
	return c, err
}

// ReplaceCases rewrites the whole collection, keeping the given order.
func (r Repo) ReplaceCases(ctx context.Context, cases []domain.Case) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cases`); err != nil {
			return err
		}
		for i, c := range cases {
			var extra any
			if len(c.Extra) > 0 {
				b, err := json.Marshal(c.Extra)
				if err != nil {
					return err
				}
				extra = string(b)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO cases(case_id,case_type,status,submitted_by,rn_number,extra_json,position) VALUES (?,?,?,?,?,?,?)`,
				c.CaseID, c.CaseType, c.Status, nullable(c.SubmittedBy), nullable(c.RNNumber), extra, i); err != nil {
				return fmt.Errorf("insert case %s: %w", c.CaseID, err)
			}
		}
		return nil
	})
}

func (r Repo) TaskConfig(ctx context.Context) (domain.TaskConfig, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT case_type,config_json FROM task_configs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tc := domain.TaskConfig{}
	for rows.Next() {
		var caseType, payload string
		if err := rows.Scan(&caseType, &payload); err != nil {
			return nil, err
		}
		var ct domain.CaseTypeConfig
		if err := json.Unmarshal([]byte(payload), &ct); err != nil {
			return nil, fmt.Errorf("task config %s: %w", caseType, err)
		}
		tc[caseType] = ct
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tc) == 0 {
		return nil, fmt.Errorf("task configuration: %w", ErrNotFound)
	}
	return tc, nil
}

func (r Repo) ReplaceTaskConfig(ctx context.Context, tc domain.TaskConfig) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_configs`); err != nil {
			return err
		}
		for caseType, ct := range tc {
			payload, err := json.Marshal(ct)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO task_configs(case_type,config_json) VALUES (?,?)`, caseType, string(payload)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r Repo) ListMessages(ctx context.Context) ([]domain.Message, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,COALESCE(sender,''),COALESCE(subject,''),COALESCE(body,''),COALESCE(sent_at,'') FROM messages ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.CaseID, &m.From, &m.Subject, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceMessages(ctx context.Context, msgs []domain.Message) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
			return err
		}
		for i, m := range msgs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO messages(id,case_id,sender,subject,body,sent_at,position) VALUES (?,?,?,?,?,?,?)`,
				m.ID, m.CaseID, nullable(m.From), nullable(m.Subject), nullable(m.Body), nullable(m.SentAt), i); err != nil {
				return fmt.Errorf("insert message %s: %w", m.ID, err)
			}
		}
		return nil
	})
}

// SeededTaskData returns the last generated task progress. A generation
// over zero cases reads back as empty maps, not ErrNotFound.
func (r Repo) SeededTaskData(ctx context.Context) (domain.SeededTaskData, error) {
	out := domain.SeededTaskData{
		TaskStatuses: map[string]map[string]domain.TaskStatus{},
		TaskData:     map[string]domain.TaskData{},
	}
	var generations int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM seed_generation`).Scan(&generations); err != nil {
		return out, err
	}
	if generations == 0 {
		return domain.SeededTaskData{}, fmt.Errorf("seeded task data: %w", ErrNotFound)
	}
	caseRows, err := r.DB.QueryContext(ctx, `SELECT case_id FROM seeded_cases`)
	if err != nil {
		return out, err
	}
	for caseRows.Next() {
		var id string
		if err := caseRows.Scan(&id); err != nil {
			caseRows.Close()
			return out, err
		}
		out.TaskStatuses[id] = map[string]domain.TaskStatus{}
	}
	caseRows.Close()
	if err := caseRows.Err(); err != nil {
		return out, err
	}

	statusRows, err := r.DB.QueryContext(ctx, `SELECT case_id,task_key,status FROM task_statuses`)
	if err != nil {
		return out, err
	}
	for statusRows.Next() {
		var caseID, key, status string
		if err := statusRows.Scan(&caseID, &key, &status); err != nil {
			statusRows.Close()
			return out, err
		}
		out.TaskStatuses[caseID][key] = domain.TaskStatus(status)
	}
	statusRows.Close()
	if err := statusRows.Err(); err != nil {
		return out, err
	}

	dataRows, err := r.DB.QueryContext(ctx, `SELECT data_key,form_json,completed,last_saved FROM task_data`)
	if err != nil {
		return out, err
	}
	defer dataRows.Close()
	for dataRows.Next() {
		var key, form, saved string
		var completed bool
		if err := dataRows.Scan(&key, &form, &completed, &saved); err != nil {
			return out, err
		}
		d := domain.TaskData{Completed: completed, LastSaved: saved}
		if err := json.Unmarshal([]byte(form), &d.FormData); err != nil {
			return out, fmt.Errorf("task data %s: %w", key, err)
		}
		out.TaskData[key] = d
	}
	return out, dataRows.Err()
}

// ReplaceSeededTaskData drops any previous generation before writing data.
func (r Repo) ReplaceSeededTaskData(ctx context.Context, data domain.SeededTaskData) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{`DELETE FROM task_statuses`, `DELETE FROM seeded_cases`, `DELETE FROM task_data`} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO seed_generation(singleton,generated_at) VALUES (1,strftime('%Y-%m-%dT%H:%M:%SZ','now'))
ON CONFLICT(singleton) DO UPDATE SET generated_at=excluded.generated_at`); err != nil {
			return err
		}
		for caseID, statuses := range data.TaskStatuses {
			if _, err := tx.ExecContext(ctx, `INSERT INTO seeded_cases(case_id) VALUES (?)`, caseID); err != nil {
				return err
			}
			for key, status := range statuses {
				if _, err := tx.ExecContext(ctx, `INSERT INTO task_statuses(case_id,task_key,status) VALUES (?,?,?)`, caseID, key, string(status)); err != nil {
					return err
				}
			}
		}
		for key, d := range data.TaskData {
			form, err := json.Marshal(d.FormData)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO task_data(data_key,form_json,completed,last_saved) VALUES (?,?,?,?)`,
				key, string(form), d.Completed, d.LastSaved); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r Repo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
