package migration

import (
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return conn
}

func payment(id int64, status paymentdomain.Status) *paymentdomain.Payment {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	return &paymentdomain.Payment{
		ID:          snowflake.ID(id),
		PayerID:     1,
		ExpertID:    2,
		OrderID:     fmt.Sprintf("order-%d", id),
		PaymentType: paymentdomain.PaymentTypeProject,
		ReferenceID: 42,
		OrderName:   "Logo design",
		TotalPrice:  decimal.NewFromInt(100000),
		TotalFee:    decimal.Zero,
		Status:      status,
		PaymentDate: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAutoMigrateIsRepeatable(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, AutoMigrate(conn))
	require.NoError(t, AutoMigrate(conn))

	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model))
	}
}

func TestSuccessfulPaymentsAreUniquePerReference(t *testing.T) {
	conn := openTestDB(t)
	require.NoError(t, AutoMigrate(conn))

	require.NoError(t, conn.Create(payment(1, paymentdomain.StatusFailed)).Error)
	require.NoError(t, conn.Create(payment(2, paymentdomain.StatusAmountManipulated)).Error)
	require.NoError(t, conn.Create(payment(3, paymentdomain.StatusFailed)).Error)
	require.NoError(t, conn.Create(payment(4, paymentdomain.StatusPaid)).Error)

	err := conn.Create(payment(5, paymentdomain.StatusPaid)).Error
	require.Error(t, err)
	assert.True(t, db.IsDuplicateKeyErr(err))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(embeddedMigrations, migrationsDir+"/*.down.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
