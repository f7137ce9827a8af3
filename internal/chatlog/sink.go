package chatlog

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/ai-relay/internal/relay"
)

// Sink writes relay log entries straight to the database.
type Sink struct {
	repo *Repo
}

func NewSink(repo *Repo) *Sink {
	return &Sink{repo: repo}
}

func (s *Sink) Log(ctx context.Context, e relay.LogEntry) error {
	row, err := FromEntry(e)
	if err != nil {
		return err
	}
	return s.repo.Insert(ctx, row)
}

// FromEntry maps a relay entry onto a row. Metadata is stored as a JSON
// object so both MySQL and SQLite can hold it in a text column.
func FromEntry(e relay.LogEntry) (*MessageLog, error) {
	row := &MessageLog{
		SessionKey: e.SessionKey,
		UserID:     e.UserID,
		Message:    e.Message,
		Response:   e.Response,
		Provider:   e.Provider,
		Model:      e.Model,
		TokensUsed: e.TokensUsed,
		CreatedAt:  e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, err
		}
		row.Metadata = string(b)
	}
	return row, nil
}
