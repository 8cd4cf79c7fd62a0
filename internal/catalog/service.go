package catalog

import (
	"context"
	"strconv"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

type Service struct {
	repo  Repository
	audit AuditPort
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, id int64) (Item, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, item Item, actorID int64) (Item, error) {
	item.SKU = shared.NormalizeCode(item.SKU)
	item.Tracking = TrackingSerialized
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	created, err := s.repo.Create(ctx, item, item.SKU)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actorID, "catalog:item_create", created.ID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, item Item, actorID int64) (Item, error) {
	item.SKU = shared.NormalizeCode(item.SKU)
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	if err := s.repo.Update(ctx, id, item, item.SKU); err != nil {
		return Item{}, err
	}
	s.record(ctx, actorID, "catalog:item_update", id)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "catalog:item_delete", id)
	return nil
}

// validateItem enforces the pricing rules the struct tags cannot express:
// rentable items need a positive daily rate, sellable items a positive sale
// price, and no money field may go negative.
func validateItem(item Item) error {
	fields := map[string]string{}
	if item.IsRentable {
		if !item.DailyRate.IsPositive() {
			fields["daily_rate"] = "rentable items need a daily rate above zero"
		}
		if item.DepositAmount.IsNegative() {
			fields["deposit_amount"] = "must not be negative"
		}
	}
	if item.IsSellable && !item.SalePrice.IsPositive() {
		fields["sale_price"] = "sellable items need a sale price above zero"
	}
	for field, value := range map[string]interface{ IsNegative() bool }{
		"sale_price":        item.SalePrice,
		"daily_rate":        item.DailyRate,
		"weekly_rate":       item.WeeklyRate,
		"monthly_rate":      item.MonthlyRate,
		"deposit_amount":    item.DepositAmount,
		"replacement_value": item.ReplacementValue,
		"late_fee_per_day":  item.LateFeePerDay,
	} {
		if value.IsNegative() {
			fields[field] = "must not be negative"
		}
	}
	if len(fields) > 0 {
		return &httpx.ValidationError{Message: "item pricing validation failed", Fields: fields}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "item",
		EntityID: strconv.FormatInt(id, 10),
	})
}
