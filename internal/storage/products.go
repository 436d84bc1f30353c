package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// stampNew assigns an id (when empty) and both timestamps for a new document.
func (s *Store) stampNew(id *string, created, updated *time.Time) docMeta {
	if *id == "" {
		*id = uuid.NewString()
	}
	now := s.now()
	*created, *updated = now, now
	return docMeta{ID: *id, CreatedAt: now, UpdatedAt: now}
}

// --- Products ---

func (s *Store) CreateProduct(ctx context.Context, p Product) (Product, error) {
	m := s.stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	m.UserID = p.UserID
	return p, s.insertDoc(ctx, kindProduct, m, p)
}

func (s *Store) GetProduct(ctx context.Context, userID, id string) (Product, error) {
	return getDoc[Product](ctx, s, kindProduct, userID, id)
}

func (s *Store) ListProducts(ctx context.Context, userID string) ([]Product, error) {
	return listDocs[Product](ctx, s, kindProduct, userID, ListFilter{})
}

func (s *Store) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	existing, err := s.GetProduct(ctx, p.UserID, p.ID)
	if err != nil {
		return Product{}, err
	}
	p.CreatedAt, p.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: p.UserID, ID: p.ID, UpdatedAt: p.UpdatedAt}
	return p, s.updateDoc(ctx, kindProduct, m, p)
}

func (s *Store) DeleteProduct(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindProduct, userID, id)
}

// --- Tech stacks ---

func (s *Store) CreateTechStack(ctx context.Context, t TechStack) (TechStack, error) {
	m := s.stampNew(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	m.UserID, m.ProductID = t.UserID, t.ProductID
	return t, s.insertDoc(ctx, kindTechStack, m, t)
}

func (s *Store) GetTechStack(ctx context.Context, userID, id string) (TechStack, error) {
	return getDoc[TechStack](ctx, s, kindTechStack, userID, id)
}

func (s *Store) ListTechStacks(ctx context.Context, userID, productID string) ([]TechStack, error) {
	return listDocs[TechStack](ctx, s, kindTechStack, userID, ListFilter{ProductID: productID})
}

func (s *Store) UpdateTechStack(ctx context.Context, t TechStack) (TechStack, error) {
	existing, err := s.GetTechStack(ctx, t.UserID, t.ID)
	if err != nil {
		return TechStack{}, err
	}
	t.CreatedAt, t.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: t.UserID, ID: t.ID, ProductID: t.ProductID, UpdatedAt: t.UpdatedAt}
	return t, s.updateDoc(ctx, kindTechStack, m, t)
}

func (s *Store) DeleteTechStack(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindTechStack, userID, id)
}

// --- Notes ---

func (s *Store) CreateNote(ctx context.Context, n Note) (Note, error) {
	m := s.stampNew(&n.ID, &n.CreatedAt, &n.UpdatedAt)
	m.UserID, m.ProductID = n.UserID, n.ProductID
	return n, s.insertDoc(ctx, kindNote, m, n)
}

func (s *Store) GetNote(ctx context.Context, userID, id string) (Note, error) {
	return getDoc[Note](ctx, s, kindNote, userID, id)
}

func (s *Store) ListNotes(ctx context.Context, userID, productID string) ([]Note, error) {
	return listDocs[Note](ctx, s, kindNote, userID, ListFilter{ProductID: productID})
}

func (s *Store) UpdateNote(ctx context.Context, n Note) (Note, error) {
	existing, err := s.GetNote(ctx, n.UserID, n.ID)
	if err != nil {
		return Note{}, err
	}
	n.CreatedAt, n.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: n.UserID, ID: n.ID, ProductID: n.ProductID, UpdatedAt: n.UpdatedAt}
	return n, s.updateDoc(ctx, kindNote, m, n)
}

func (s *Store) DeleteNote(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindNote, userID, id)
}

// --- Questions ---

func (s *Store) CreateQuestion(ctx context.Context, q Question) (Question, error) {
	m := s.stampNew(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	m.UserID, m.ProductID = q.UserID, q.ProductID
	return q, s.insertDoc(ctx, kindQuestion, m, q)
}

func (s *Store) GetQuestion(ctx context.Context, userID, id string) (Question, error) {
	return getDoc[Question](ctx, s, kindQuestion, userID, id)
}

// ListQuestions returns the questions of a user, most recently updated first.
func (s *Store) ListQuestions(ctx context.Context, userID, productID string) ([]Question, error) {
	return listDocs[Question](ctx, s, kindQuestion, userID, ListFilter{ProductID: productID})
}

func (s *Store) UpdateQuestion(ctx context.Context, q Question) (Question, error) {
	existing, err := s.GetQuestion(ctx, q.UserID, q.ID)
	if err != nil {
		return Question{}, err
	}
	q.CreatedAt, q.UpdatedAt = existing.CreatedAt, s.now()
	m := docMeta{UserID: q.UserID, ID: q.ID, ProductID: q.ProductID, UpdatedAt: q.UpdatedAt}
	return q, s.updateDoc(ctx, kindQuestion, m, q)
}

func (s *Store) DeleteQuestion(ctx context.Context, userID, id string) error {
	return s.deleteDoc(ctx, kindQuestion, userID, id)
}
