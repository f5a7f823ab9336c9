// Package redirect works out where a message-reply link should land.
package redirect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"casework/internal/domain"
	"casework/internal/logging"
)

const (
	KindReply    = "reply"
	KindMessages = "messages"

	SourceMessages = "messages"
	SourceSession  = "session"
)

// LocalStorage reads items from the caller's session-local storage.
type LocalStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Target is where the reply link resolves to.
type Target struct {
	Kind      string `json:"kind" enum:"reply,messages"`
	RNNumber  string `json:"rn_number"`
	CaseID    string `json:"case_id,omitempty"`
	MessageID string `json:"message_id"`
	Source    string `json:"source,omitempty" enum:"messages,session"`
	Path      string `json:"path"`
}

// Resolver looks a message up among an organisation's cases.
type Resolver struct {
	Cases    []domain.Case
	Messages []domain.Message
	Logger   *zap.Logger
}

// Resolve finds the case owning messageID among the cases registered to rn.
// Static messages are searched first, then each case's sent messages in
// local storage; the first match wins. Unreadable local items count as a
// miss. Without a match the target is the organisation's message list.
func (r Resolver) Resolve(ctx context.Context, rn, messageID string, local LocalStorage) (Target, error) {
	log := logging.OrNop(r.Logger)
	var owned []string
	ownedSet := map[string]bool{}
	for _, c := range r.Cases {
		if c.RNNumber == rn && !ownedSet[c.CaseID] {
			ownedSet[c.CaseID] = true
			owned = append(owned, c.CaseID)
		}
	}

	for _, m := range r.Messages {
		if m.ID == messageID && ownedSet[m.CaseID] {
			return ReplyTarget(rn, m.CaseID, messageID, SourceMessages), nil
		}
	}

	if local != nil {
		for _, caseID := range owned {
			raw, ok, err := local.Get(ctx, domain.SentMessagesKey(caseID))
			if err != nil {
				return Target{}, fmt.Errorf("read sent messages for %s: %w", caseID, err)
			}
			if !ok {
				continue
			}
			var sent []domain.SentMessage
			if err := json.Unmarshal([]byte(raw), &sent); err != nil {
				log.Debug("ignoring unreadable sent messages", zap.String("case_id", caseID), zap.Error(err))
				continue
			}
			for _, m := range sent {
				if m.ID == messageID {
					return ReplyTarget(rn, caseID, messageID, SourceSession), nil
				}
			}
		}
	}
	return MessagesTarget(rn, messageID), nil
}

// ReplyTarget is the reply view of a message within a case.
func ReplyTarget(rn, caseID, messageID, source string) Target {
	return Target{
		Kind:      KindReply,
		RNNumber:  rn,
		CaseID:    caseID,
		MessageID: messageID,
		Source:    source,
		Path: fmt.Sprintf("/organisation/%s/case/%s/messages/%s/reply",
			url.PathEscape(rn), url.PathEscape(caseID), url.PathEscape(messageID)),
	}
}

// MessagesTarget is the organisation's message list.
func MessagesTarget(rn, messageID string) Target {
	return Target{
		Kind:      KindMessages,
		RNNumber:  rn,
		MessageID: messageID,
		Path:      fmt.Sprintf("/organisation/%s/messages", url.PathEscape(rn)),
	}
}
