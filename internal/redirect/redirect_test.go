package redirect_test

import (
	"context"
	"errors"
	"testing"

	"casework/internal/domain"
	"casework/internal/redirect"
)

type memStorage map[string]string

func (m memStorage) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

type failingStorage struct{}

func (failingStorage) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func resolver() redirect.Resolver {
	return redirect.Resolver{
		Cases: []domain.Case{
			{CaseID: "C1", RNNumber: "RN5123"},
			{CaseID: "C2", RNNumber: "RN5123"},
			{CaseID: "C3", RNNumber: "RN9001"},
		},
		Messages: []domain.Message{
			{ID: "msg-100", CaseID: "C2"},
			{ID: "msg-300", CaseID: "C3"},
		},
	}
}

func TestResolveStaticMessage(t *testing.T) {
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-100", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != redirect.KindReply || got.CaseID != "C2" || got.Source != redirect.SourceMessages {
		t.Fatalf("unexpected target %+v", got)
	}
	if got.Path != "/organisation/RN5123/case/C2/messages/msg-100/reply" {
		t.Fatalf("unexpected path %s", got.Path)
	}
}

func TestResolveIgnoresOtherOrganisations(t *testing.T) {
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-300", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != redirect.KindMessages || got.Path != "/organisation/RN5123/messages" {
		t.Fatalf("expected fallback to message list, got %+v", got)
	}
}

func TestResolveSessionSentMessage(t *testing.T) {
	local := memStorage{
		"sentMessages_C1": `[{"id":"msg-001","subject":"Re: notification"}]`,
	}
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-001", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != redirect.KindReply || got.CaseID != "C1" || got.Source != redirect.SourceSession {
		t.Fatalf("unexpected target %+v", got)
	}
}

func TestResolveStaticWinsOverSession(t *testing.T) {
	local := memStorage{"sentMessages_C1": `[{"id":"msg-100"}]`}
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-100", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.CaseID != "C2" || got.Source != redirect.SourceMessages {
		t.Fatalf("expected static match first, got %+v", got)
	}
}

func TestResolveMalformedSessionDataIsAMiss(t *testing.T) {
	local := memStorage{
		"sentMessages_C1": `{not json`,
		"sentMessages_C2": `[{"id":"msg-001"}]`,
	}
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-001", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.CaseID != "C2" {
		t.Fatalf("expected C2 after skipping malformed C1, got %+v", got)
	}

	local = memStorage{"sentMessages_C1": `"just a string"`}
	got, err = resolver().Resolve(context.Background(), "RN5123", "msg-001", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != redirect.KindMessages {
		t.Fatalf("expected fallback, got %+v", got)
	}
}

func TestResolveSessionOnlyForOwnedCases(t *testing.T) {
	local := memStorage{"sentMessages_C3": `[{"id":"msg-001"}]`}
	got, err := resolver().Resolve(context.Background(), "RN5123", "msg-001", local)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != redirect.KindMessages {
		t.Fatalf("message in another organisation's case must not match, got %+v", got)
	}
}

func TestResolveStorageError(t *testing.T) {
	if _, err := resolver().Resolve(context.Background(), "RN5123", "nope", failingStorage{}); err == nil {
		t.Fatalf("expected storage error")
	}
}
