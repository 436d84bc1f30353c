package storage

import (
	"context"
	"fmt"
)

// --- Collections ---

func (s *Store) CreateCollection(ctx context.Context, c Collection) (Collection, error) {
	if c.Status == "" {
		c.Status = StatusUploaded
	}
	m := s.stampNew(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	m.UserID, m.ProductID = c.UserID, c.ProductID
	return c, s.insertDoc(ctx, kindCollection, m, c)
}

func (s *Store) GetCollection(ctx context.Context, userID, id string) (Collection, error) {
	return getDoc[Collection](ctx, s, kindCollection, userID, id)
}

func (s *Store) ListCollections(ctx context.Context, userID, productID string) ([]Collection, error) {
	return listDocs[Collection](ctx, s, kindCollection, userID, ListFilter{ProductID: productID})
}

func (s *Store) UpdateCollection(ctx context.Context, c Collection) (Collection, error) {
	existing, err := s.GetCollection(ctx, c.UserID, c.ID)
	if err != nil {
		return Collection{}, err
	}
	c.CreatedAt, c.UpdatedAt = existing.CreatedAt, s.now()
	if c.Status == "" {
		c.Status = existing.Status
	}
	m := docMeta{UserID: c.UserID, ID: c.ID, ProductID: c.ProductID, UpdatedAt: c.UpdatedAt}
	return c, s.updateDoc(ctx, kindCollection, m, c)
}

// DeleteCollection removes a collection together with its documents and chunks.
func (s *Store) DeleteCollection(ctx context.Context, userID, id string) error {
	if err := s.deleteDoc(ctx, kindCollection, userID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents_store WHERE kind = ? AND user_id = ? AND parent_id = ?`,
		string(kindDocument), userID, id); err != nil {
		return fmt.Errorf("deleting documents of collection %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE user_id = ? AND collection_id = ?`, userID, id); err != nil {
		return fmt.Errorf("deleting chunks of collection %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetCollectionStatus(ctx context.Context, userID, id, status string) error {
	c, err := s.GetCollection(ctx, userID, id)
	if err != nil {
		return err
	}
	c.Status = status
	_, err = s.UpdateCollection(ctx, c)
	return err
}

// --- Documents ---

func (s *Store) CreateDocument(ctx context.Context, d Document) (Document, error) {
	if d.Status == "" {
		d.Status = StatusUploaded
	}
	if d.ChunkSize == 0 {
		d.ChunkSize = 1000
	}
	if d.Overlap == 0 {
		d.Overlap = 200
	}
	m := s.stampNew(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	m.UserID, m.ProductID, m.ParentID = d.UserID, d.ProductID, d.CollectionID
	return d, s.insertDoc(ctx, kindDocument, m, d)
}

func (s *Store) GetDocument(ctx context.Context, userID, id string) (Document, error) {
	return getDoc[Document](ctx, s, kindDocument, userID, id)
}

func (s *Store) ListDocuments(ctx context.Context, userID, collectionID string) ([]Document, error) {
	return listDocs[Document](ctx, s, kindDocument, userID, ListFilter{ParentID: collectionID})
}

func (s *Store) UpdateDocument(ctx context.Context, d Document) (Document, error) {
	existing, err := s.GetDocument(ctx, d.UserID, d.ID)
	if err != nil {
		return Document{}, err
	}
	d.CreatedAt, d.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: d.UserID, ID: d.ID, ProductID: d.ProductID, ParentID: d.CollectionID, UpdatedAt: d.UpdatedAt}
	return d, s.updateDoc(ctx, kindDocument, m, d)
}

func (s *Store) SetDocumentStatus(ctx context.Context, userID, id, status string) error {
	d, err := s.GetDocument(ctx, userID, id)
	if err != nil {
		return err
	}
	d.Status = status
	_, err = s.UpdateDocument(ctx, d)
	return err
}

// DeleteDocument removes a document and its chunks.
func (s *Store) DeleteDocument(ctx context.Context, userID, id string) error {
	if err := s.deleteDoc(ctx, kindDocument, userID, id); err != nil {
		return err
	}
	return s.DeleteDocumentChunks(ctx, id)
}

// --- Collection endpoints ---

func (s *Store) CreateEndpoint(ctx context.Context, e CollectionEndpoint) (CollectionEndpoint, error) {
	m := s.stampNew(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	m.UserID, m.ParentID = e.UserID, e.CollectionID
	return e, s.insertDoc(ctx, kindEndpoint, m, e)
}

func (s *Store) GetEndpoint(ctx context.Context, userID, id string) (CollectionEndpoint, error) {
	return getDoc[CollectionEndpoint](ctx, s, kindEndpoint, userID, id)
}

// GetEndpointPublic finds an endpoint by id regardless of owner.
func (s *Store) GetEndpointPublic(ctx context.Context, id string) (CollectionEndpoint, error) {
	return findDoc[CollectionEndpoint](ctx, s, kindEndpoint, id)
}

func (s *Store) ListEndpoints(ctx context.Context, userID, collectionID string) ([]CollectionEndpoint, error) {
	return listDocs[CollectionEndpoint](ctx, s, kindEndpoint, userID, ListFilter{ParentID: collectionID})
}

func (s *Store) UpdateEndpoint(ctx context.Context, e CollectionEndpoint) (CollectionEndpoint, error) {
	existing, err := s.GetEndpoint(ctx, e.UserID, e.ID)
	if err != nil {
		return CollectionEndpoint{}, err
	}
	e.CreatedAt, e.UpdatedAt = existing.CreatedAt, s.now()
	e.CollectionID = existing.CollectionID
	m := docMeta{UserID: e.UserID, ID: e.ID, ParentID: e.CollectionID, UpdatedAt: e.UpdatedAt}
	return e, s.updateDoc(ctx, kindEndpoint, m, e)
}

func (s *Store) DeleteEndpoint(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindEndpoint, userID, id)
}
