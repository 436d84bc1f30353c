package storage

import (
	"context"
	"errors"
	"time"
)

// UpsertToolConfig creates or replaces the configuration of one tool for a
// user. The tool id is the document id, so a user has at most one config per tool.
func (s *Store) UpsertToolConfig(ctx context.Context, c ToolConfig) (ToolConfig, error) {
	now := s.now()
	existing, err := s.GetToolConfig(ctx, c.UserID, c.ToolID)
	switch {
	case err == nil:
		c.CreatedAt = existing.CreatedAt
		if c.TestStatus == "" {
			c.TestStatus, c.TestMessage, c.LastTested = existing.TestStatus, existing.TestMessage, existing.LastTested
		}
	case errors.Is(err, ErrNotFound):
		c.CreatedAt = now
		if c.TestStatus == "" {
			c.TestStatus = TestNever
		}
	default:
		return ToolConfig{}, err
	}
	c.UpdatedAt = now

	m := docMeta{UserID: c.UserID, ID: c.ToolID, CreatedAt: c.CreatedAt, UpdatedAt: now}
	return c, s.upsertDoc(ctx, kindToolConfig, m, c)
}

func (s *Store) GetToolConfig(ctx context.Context, userID, toolID string) (ToolConfig, error) {
	return getDoc[ToolConfig](ctx, s, kindToolConfig, userID, toolID)
}

// ListToolConfigs returns every tool configuration of a user, most recently
// updated first.
func (s *Store) ListToolConfigs(ctx context.Context, userID string) ([]ToolConfig, error) {
	return listDocs[ToolConfig](ctx, s, kindToolConfig, userID, ListFilter{})
}

func (s *Store) DeleteToolConfig(ctx context.Context, userID, toolID string) error {
	return s.deleteDoc(ctx, kindToolConfig, userID, toolID)
}

// UpdateToolTestResult records the outcome of a connection test.
func (s *Store) UpdateToolTestResult(ctx context.Context, userID, toolID, status, message string, at time.Time) error {
	c, err := s.GetToolConfig(ctx, userID, toolID)
	if err != nil {
		return err
	}
	at = at.UTC()
	c.TestStatus, c.TestMessage, c.LastTested = status, message, &at
	c.UpdatedAt = s.now()
	m := docMeta{UserID: userID, ID: toolID, UpdatedAt: c.UpdatedAt}
	return s.updateDoc(ctx, kindToolConfig, m, c)
}
