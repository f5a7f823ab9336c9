package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// Case lifecycle statuses, in order.
const (
	CaseReceived = "Received"
	CaseTriage   = "Triage"
	CaseReview   = "Review"
	CaseOutcome  = "Outcome"
	CaseClosed   = "Closed"
)

// Workflow stage ids that the lifecycle drives.
const (
	StageTriage  = "triage"
	StageReview  = "review"
	StageOutcome = "outcome"
)

type TaskStatus string

const (
	TaskCompleted  TaskStatus = "completed"
	TaskInProgress TaskStatus = "in-progress"
)

type QuestionType string

const (
	QuestionRadio    QuestionType = "radio"
	QuestionSelect   QuestionType = "select"
	QuestionText     QuestionType = "text"
	QuestionTextarea QuestionType = "textarea"
)

// DefaultCaseType keys the task configuration used when a case type has no entry.
const DefaultCaseType = "default"

type Organisation struct {
	RNNumber string `json:"RNNumber"`
	Name     string `json:"Name"`
	Acronym  string `json:"Acronym,omitempty"`
}

// Case is a unit of regulatory work. Fields not modelled here are kept in
// Extra and written back untouched.
type Case struct {
	CaseID      string `json:"CaseID"`
	CaseType    string `json:"CaseType"`
	Status      string `json:"Status" enum:"Received,Triage,Review,Outcome,Closed"`
	SubmittedBy string `json:"SubmittedBy,omitempty"`
	RNNumber    string `json:"RNNumber,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var caseFields = []string{"CaseID", "CaseType", "Status", "SubmittedBy", "RNNumber"}

// isCaseField reports whether key names a modelled field. encoding/json
// matches keys case-insensitively, so any spelling of a field is consumed.
func isCaseField(key string) bool {
	for _, f := range caseFields {
		if strings.EqualFold(key, f) {
			return true
		}
	}
	return false
}

func (c *Case) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type plain Case
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	for k, v := range raw {
		if isCaseField(k) {
			delete(raw, k)
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return err
		}
		raw[k] = buf.Bytes()
	}
	if len(raw) > 0 {
		p.Extra = raw
	} else {
		p.Extra = nil
	}
	*c = Case(p)
	return nil
}

func (c Case) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+len(caseFields))
	for k, v := range c.Extra {
		out[k] = v
	}
	out["CaseID"] = c.CaseID
	out["CaseType"] = c.CaseType
	out["Status"] = c.Status
	if c.SubmittedBy != "" {
		out["SubmittedBy"] = c.SubmittedBy
	}
	if c.RNNumber != "" {
		out["RNNumber"] = c.RNNumber
	}
	return json.Marshal(out)
}

type Question struct {
	ID      string       `json:"id"`
	Label   string       `json:"label,omitempty"`
	Type    QuestionType `json:"type" enum:"radio,select,text,textarea"`
	Options []string     `json:"options,omitempty"`
}

type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions,omitempty"`
}

type Stage struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Tasks []Task `json:"tasks"`
}

type CaseTypeConfig struct {
	Stages []Stage `json:"stages"`
}

// TaskConfig maps a case type to its workflow. The DefaultCaseType entry
// applies to unlisted types.
type TaskConfig map[string]CaseTypeConfig

// For returns the workflow for caseType, falling back to the default entry.
func (tc TaskConfig) For(caseType string) (CaseTypeConfig, bool) {
	if cfg, ok := tc[caseType]; ok {
		return cfg, true
	}
	cfg, ok := tc[DefaultCaseType]
	return cfg, ok
}

// TaskKey joins a stage and task id the way task statuses are keyed.
func TaskKey(stageID, taskID string) string {
	return stageID + "_" + taskID
}

// TaskDataKey joins a case, stage and task id the way task data is keyed.
func TaskDataKey(caseID, stageID, taskID string) string {
	return fmt.Sprintf("%s_%s_%s", caseID, stageID, taskID)
}

type TaskData struct {
	FormData  map[string]string `json:"formData"`
	Completed bool              `json:"completed"`
	LastSaved string            `json:"lastSaved" format:"date-time"`
}

// SeededTaskData is the generated demo progress for every case.
type SeededTaskData struct {
	TaskStatuses map[string]map[string]TaskStatus `json:"taskStatuses"`
	TaskData     map[string]TaskData              `json:"taskData"`
}

type Message struct {
	ID      string `json:"id"`
	CaseID  string `json:"caseId"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	SentAt  string `json:"sentAt,omitempty" format:"date-time"`
}

// SentMessage is an entry of a session-local sentMessages_<CaseID> list.
type SentMessage struct {
	ID      string `json:"id"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	SentAt  string `json:"sentAt,omitempty" format:"date-time"`
}

// SentMessagesKey is the session item key holding a case's sent messages.
func SentMessagesKey(caseID string) string {
	return "sentMessages_" + caseID
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
