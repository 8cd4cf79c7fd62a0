package customers

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	mdshared "github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns customer master data and the credit ledger used by orders and
// rentals.
type Service struct {
	repo  Repository
	audit AuditPort
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) List(ctx context.Context, filters mdshared.ListFilters) ([]Customer, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, customer Customer, actorID int64) (Customer, error) {
	customer.Code = shared.NormalizeCode(customer.Code)
	if customer.CreditLimit.IsNegative() {
		return Customer{}, httpx.NewValidationError("credit_limit", "must not be negative")
	}
	created, err := s.repo.Create(ctx, customer, customer.Code)
	if err != nil {
		return Customer{}, err
	}
	s.record(ctx, actorID, "sales:customer_create", created.ID)
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, customer Customer, actorID int64) (Customer, error) {
	customer.Code = shared.NormalizeCode(customer.Code)
	if customer.CreditLimit.IsNegative() {
		return Customer{}, httpx.NewValidationError("credit_limit", "must not be negative")
	}
	if err := s.repo.Update(ctx, id, customer, customer.Code); err != nil {
		return Customer{}, err
	}
	s.record(ctx, actorID, "sales:customer_update", id)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actorID, "sales:customer_delete", id)
	return nil
}

// CheckCredit verifies the customer is active and has headroom for amount.
// This is the advisory check at document creation; ReserveCredit is the
// binding one.
func (s *Service) CheckCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	customer, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !customer.IsActive {
		return fmt.Errorf("customer %d is inactive: %w", id, httpx.ErrValidation)
	}
	if customer.OutstandingBalance.Add(amount).GreaterThan(customer.CreditLimit) {
		return fmt.Errorf("customer %d over credit limit: %w", id, httpx.ErrCreditCheckFailed)
	}
	return nil
}

// ReserveCredit raises the customer's outstanding balance by amount, but only
// while it stays within the credit limit. The conditional update makes the
// check race-free under concurrent confirmations.
func (s *Service) ReserveCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return httpx.NewValidationError("amount", "must not be negative")
	}
	ok, err := s.repo.AdjustOutstanding(ctx, id, amount, true)
	if err != nil {
		return err
	}
	if !ok {
		// Either over the limit or the customer is gone/inactive; both read
		// as a failed credit check to the caller.
		return fmt.Errorf("customer %d over credit limit: %w", id, httpx.ErrCreditCheckFailed)
	}
	return nil
}

// ReleaseCredit lowers the outstanding balance, e.g. when an order is
// cancelled or a rental settles.
func (s *Service) ReleaseCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return httpx.NewValidationError("amount", "must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	_, err := s.repo.AdjustOutstanding(ctx, id, amount.Neg(), false)
	return err
}

// AddCharge raises the outstanding balance without a limit check, for
// settlement charges (late fees, damage) the customer already owes.
func (s *Service) AddCharge(ctx context.Context, id int64, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return httpx.NewValidationError("amount", "must not be negative")
	}
	if amount.IsZero() {
		return nil
	}
	_, err := s.repo.AdjustOutstanding(ctx, id, amount, false)
	return err
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "customer",
		EntityID: strconv.FormatInt(id, 10),
	})
}
