package brands

import (
	"context"
	"strconv"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log internalshared.AuditLog) error
}

type Service struct {
	repo  Repository
	audit AuditPort
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Brand, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Brand, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, brand Brand, actorID int64) (Brand, error) {
	created, err := s.repo.Create(ctx, brand, internalshared.NormalizeKey(brand.Name))
	if err != nil {
		return Brand{}, err
	}
	s.record(ctx, actorID, "masterdata:brand_create", created.ID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, brand Brand, actorID int64) (Brand, error) {
	if err := s.repo.Update(ctx, id, brand, internalshared.NormalizeKey(brand.Name)); err != nil {
		return Brand{}, err
	}
	s.record(ctx, actorID, "masterdata:brand_update", id)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "masterdata:brand_delete", id)
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "brand",
		EntityID: strconv.FormatInt(id, 10),
	})
}
