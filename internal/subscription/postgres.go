package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Subscription status values.
const (
	StatusActive    = "active"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Subscription is a row of the subscriptions table owned by the
// application's billing side. The engine only reads it.
type Subscription struct {
	ID           string    `gorm:"primaryKey"`
	UserID       string    `gorm:"column:user_id;index"`
	PlanType     string    `gorm:"column:plan_type;default:free"`
	PlanDuration string    `gorm:"column:plan_duration"`
	StartDate    time.Time `gorm:"column:start_date"`
	EndDate      time.Time `gorm:"column:end_date"`
	Status       string    `gorm:"column:status;default:active"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName implements gorm's tabler.
func (Subscription) TableName() string { return "subscriptions" }

// Postgres reads plan tiers from the subscriptions table.
type Postgres struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenPostgres connects to dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an open gorm handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// PlanTier implements Directory. The latest subscription decides; one that
// has ended or is not active counts as free.
func (p *Postgres) PlanTier(ctx context.Context, userID string) (types.PlanTier, error) {
	var sub Subscription
	err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("end_date DESC").
		Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.TierFree, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if sub.Status != StatusActive || !p.now().Before(sub.EndDate) {
		return types.TierFree, nil
	}
	tier, err := types.ParsePlanTier(sub.PlanType)
	if err != nil {
		klog.Settlement.Warn().Str("user", userID).Str("plan", sub.PlanType).Msg("Unknown plan type, treating as free")
		return types.TierFree, nil
	}
	return tier, nil
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
