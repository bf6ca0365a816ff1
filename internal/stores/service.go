package stores

import (
	"context"
	"strings"

	"github.com/bottlekeep/bottlekeep/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Store, error)
	GetCentral(ctx context.Context) (Store, error)
	List(ctx context.Context) ([]Store, error)
	Insert(ctx context.Context, store *Store) error
	SetCentral(ctx context.Context, id int64) error
}

// Service coordinates store master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds the store service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a store.
func (s *Service) Create(ctx context.Context, input CreateInput) (Store, error) {
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return Store{}, shared.Validationf("store code and name are required")
	}
	store := Store{Code: code, Name: name, IsCentral: input.IsCentral}
	if err := s.repo.Insert(ctx, &store); err != nil {
		return Store{}, err
	}
	return store, nil
}

// Get fetches one store.
func (s *Service) Get(ctx context.Context, id int64) (Store, error) {
	return s.repo.Get(ctx, id)
}

// GetCentral fetches the central warehouse store.
func (s *Service) GetCentral(ctx context.Context) (Store, error) {
	return s.repo.GetCentral(ctx)
}

// List returns active stores.
func (s *Service) List(ctx context.Context) ([]Store, error) {
	return s.repo.List(ctx)
}

// SetCentral designates the central warehouse.
func (s *Service) SetCentral(ctx context.Context, id int64) error {
	return s.repo.SetCentral(ctx, id)
}
