package storage

import (
	"context"
	"crypto/subtle"
	"fmt"
)

func (s *Store) CreateAgent(ctx context.Context, a Agent) (Agent, error) {
	if a.Status == "" {
		a.Status = AgentEnabled
	}
	m := s.stampNew(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	m.UserID, m.ProductID = a.UserID, a.ProductID
	return a, s.insertDoc(ctx, kindAgent, m, a)
}

func (s *Store) GetAgent(ctx context.Context, userID, id string) (Agent, error) {
	return getDoc[Agent](ctx, s, kindAgent, userID, id)
}

// ListAgents returns a user's agents, optionally restricted to one product.
func (s *Store) ListAgents(ctx context.Context, userID, productID string) ([]Agent, error) {
	return listDocs[Agent](ctx, s, kindAgent, userID, ListFilter{ProductID: productID})
}

func (s *Store) UpdateAgent(ctx context.Context, a Agent) (Agent, error) {
	existing, err := s.GetAgent(ctx, a.UserID, a.ID)
	if err != nil {
		return Agent{}, err
	}
	a.CreatedAt, a.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: a.UserID, ID: a.ID, ProductID: a.ProductID, UpdatedAt: a.UpdatedAt}
	return a, s.updateDoc(ctx, kindAgent, m, a)
}

func (s *Store) DeleteAgent(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindAgent, userID, id)
}

// GetPublicAgent finds an agent by id regardless of owner. Agents whose
// configuration is not enabled are reported as ErrNotFound.
func (s *Store) GetPublicAgent(ctx context.Context, id string) (Agent, error) {
	a, err := findDoc[Agent](ctx, s, kindAgent, id)
	if err != nil {
		return Agent{}, err
	}
	if !a.Configuration.IsEnabled {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

// FindAgentByOAuthClient resolves the enabled agent owning the given A2A OAuth
// client credentials.
func (s *Store) FindAgentByOAuthClient(ctx context.Context, clientID, clientSecret string) (Agent, error) {
	if clientID == "" {
		return Agent{}, ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM documents_store
		WHERE kind = ? AND json_extract(data, '$.configuration.a2aOAuth.clientId') = ?`,
		string(kindAgent), clientID)
	if err != nil {
		return Agent{}, fmt.Errorf("looking up oauth client: %w", err)
	}
	defer rows.Close()

	agents, err := scanDocs[Agent](rows, kindAgent)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range agents {
		oauth := a.Configuration.A2AOAuth
		if oauth == nil || !a.Configuration.IsEnabled {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(oauth.ClientSecret), []byte(clientSecret)) == 1 {
			return a, nil
		}
	}
	return Agent{}, ErrNotFound
}
