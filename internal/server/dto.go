package server

import (
	"encoding/json"

	"casework/internal/backfill"
	"casework/internal/domain"
	"casework/internal/engine"
	"casework/internal/redirect"
)

// Request/response types for the HTTP API.

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Store  string `json:"store" example:"json"`
}

type CaseListResponse struct {
	Items []domain.Case `json:"items"`
}

type OrganisationListResponse struct {
	Items []domain.Organisation `json:"items"`
}

type BackfillResponse = backfill.Report

type SeedRequest struct {
	Seed *int64 `json:"seed,omitempty" doc:"Random seed; the configured seed is used when omitted"`
}

type SeedResponse = engine.SeedResult

type ReassignResponse struct {
	RNNumber string   `json:"rn_number"`
	CaseIDs  []string `json:"case_ids"`
}

type SentMessagesBody struct {
	Items []domain.SentMessage `json:"items"`
}

type ReplyTargetResponse = redirect.Target

type DevLoginRequest struct {
	ActorID   string `json:"actor_id" minLength:"1"`
	SessionID string `json:"session_id,omitempty"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
