package companies

import (
	"context"
	"strconv"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// AuditPort records state changes.
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

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Company, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Company, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, company Company, actorID int64) (Company, error) {
	created, err := s.repo.Create(ctx, company, keysFor(company))
	if err != nil {
		return Company{}, err
	}
	s.record(ctx, actorID, "masterdata:company_create", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, company Company, actorID int64) (Company, error) {
	if err := s.repo.Update(ctx, id, company, keysFor(company)); err != nil {
		return Company{}, err
	}
	s.record(ctx, actorID, "masterdata:company_update", id, nil)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "masterdata:company_delete", id, nil)
	return nil
}

// keysFor derives the case- and width-insensitive uniqueness keys.
func keysFor(c Company) Keys {
	keys := Keys{Name: internalshared.NormalizeKey(c.Name)}
	if gst := internalshared.NormalizeCode(c.GSTNumber); gst != "" {
		keys.GSTNumber = &gst
	}
	if reg := internalshared.NormalizeCode(c.RegistrationNumber); reg != "" {
		keys.Registration = &reg
	}
	return keys
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, internalshared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "company",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
