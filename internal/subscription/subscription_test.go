package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

const selectSubscription = `(?s)^SELECT \* FROM "subscriptions" WHERE user_id = \$1 ORDER BY end_date DESC LIMIT`

var subscriptionColumns = []string{"id", "user_id", "plan_type", "plan_duration", "start_date", "end_date", "status", "created_at", "updated_at"}

func newDirectoryWithMock(t *testing.T, now time.Time) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open error: %v", err)
	}
	p := NewPostgres(db)
	p.now = func() time.Time { return now }
	return p, mock
}

func TestPostgresPlanTier(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, -1, 0)

	tests := []struct {
		name   string
		plan   string
		status string
		end    time.Time
		want   types.PlanTier
	}{
		{"active basic", "basic", StatusActive, now.AddDate(0, 0, 10), types.TierBasic},
		{"active premium", "premium", StatusActive, now.AddDate(1, 0, 0), types.TierPremium},
		{"ended", "premium", StatusActive, now.Add(-time.Second), types.TierFree},
		{"ends now", "basic", StatusActive, now, types.TierFree},
		{"cancelled", "premium", StatusCancelled, now.AddDate(0, 1, 0), types.TierFree},
		{"expired status", "basic", StatusExpired, now.AddDate(0, 1, 0), types.TierFree},
		{"unknown plan", "gold", StatusActive, now.AddDate(0, 1, 0), types.TierFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newDirectoryWithMock(t, now)
			rows := sqlmock.NewRows(subscriptionColumns).
				AddRow("sub-1", "alice", tt.plan, "monthly", start, tt.end, tt.status, start, start)
			mock.ExpectQuery(selectSubscription).WillReturnRows(rows)

			got, err := p.PlanTier(context.Background(), "alice")
			if err != nil {
				t.Fatalf("PlanTier() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("PlanTier() = %q, want %q", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresPlanTier_NoSubscription(t *testing.T) {
	p, mock := newDirectoryWithMock(t, time.Now())
	mock.ExpectQuery(selectSubscription).WillReturnRows(sqlmock.NewRows(subscriptionColumns))

	got, err := p.PlanTier(context.Background(), "bob")
	if err != nil {
		t.Fatalf("PlanTier() error: %v", err)
	}
	if got != types.TierFree {
		t.Errorf("PlanTier() = %q, want free", got)
	}
}

func TestPostgresPlanTier_DBError(t *testing.T) {
	p, mock := newDirectoryWithMock(t, time.Now())
	mock.ExpectQuery(selectSubscription).WillReturnError(errors.New("connection refused"))

	_, err := p.PlanTier(context.Background(), "bob")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("PlanTier() error = %v, want ErrUnavailable", err)
	}
}

func TestStatic(t *testing.T) {
	d := NewStatic(types.TierBasic)
	d.Set("alice", types.TierPremium)

	ctx := context.Background()
	if got, _ := d.PlanTier(ctx, "alice"); got != types.TierPremium {
		t.Errorf("alice = %q, want premium", got)
	}
	if got, _ := d.PlanTier(ctx, "bob"); got != types.TierBasic {
		t.Errorf("bob = %q, want basic", got)
	}

	if got, _ := NewStatic("").PlanTier(ctx, "bob"); got != types.TierFree {
		t.Errorf("invalid default = %q, want free", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := d.PlanTier(cancelled, "alice"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ctx error = %v", err)
	}
}
