package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stockledger/backend/internal/cache"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store"
)

// moneyTolerance is the largest difference still treated as equal when
// comparing payment or refund amounts against a sale total.
var moneyTolerance = decimal.New(1, -2)

type Service struct {
	repo     store.Repository
	levels   cache.StockLevelCache
	cacheTTL time.Duration
	validate *validator.Validate
	log      *zap.Logger
	audit    *zap.Logger
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(repo store.Repository, levels cache.StockLevelCache, cacheTTL time.Duration, logger *zap.Logger, opts ...Option) *Service {
	if levels == nil {
		levels = cache.NoopStockLevelCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		repo:     repo,
		levels:   levels,
		cacheTTL: cacheTTL,
		validate: newValidator(),
		log:      logger.Named("service"),
		audit:    logger.Named("audit"),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) checkRequest(actor domain.ActorContext, req any) error {
	if !actor.Valid() {
		return fmt.Errorf("%w: actor tenant and user are required", store.ErrValidation)
	}
	if req == nil {
		return nil
	}
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s must satisfy %s", store.ErrValidation, fe.Namespace(), describeTag(fe))
		}
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

func checkMoney(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", store.ErrValidation, field)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than 2 decimal places", store.ErrValidation, field)
	}
	return nil
}

func (s *Service) invalidateLevels(ctx context.Context, tenantID int64, keys []domain.StockKey) {
	if len(keys) == 0 {
		return
	}
	if err := s.levels.Invalidate(ctx, tenantID, keys...); err != nil {
		s.log.Warn("stock level cache invalidation failed",
			zap.Int64("tenant_id", tenantID),
			zap.Int("keys", len(keys)),
			zap.Error(err),
		)
	}
}

func (s *Service) logAudit(actor domain.ActorContext, action string, entityType string, entityID int64, fields ...zap.Field) {
	base := []zap.Field{
		zap.Int64("tenant_id", actor.TenantID),
		zap.Int64("user_id", actor.UserID),
		zap.String("entity_type", entityType),
		zap.Int64("entity_id", entityID),
	}
	s.audit.Info(action, append(base, fields...)...)
}
