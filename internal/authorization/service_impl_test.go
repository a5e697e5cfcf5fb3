package authorization

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	memberrepo "github.com/smallbiznis/expertly/internal/member/repository"
	"github.com/smallbiznis/expertly/internal/migration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (Service, *gorm.DB, memberdomain.Repository) {
	t.Helper()
	dsn := fmt.Sprintf("file:authz_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	enforcer, err := NewEnforcer(db)
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}

	members := memberrepo.Provide()
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, m := range []memberdomain.Member{
		{ID: 1, Name: "admin", Email: "admin@example.com", Role: memberdomain.RoleAdmin},
		{ID: 2, Name: "expert", Email: "expert@example.com", Role: memberdomain.RoleExpert},
		{ID: 3, Name: "client", Email: "client@example.com", Role: memberdomain.RoleClient},
	} {
		m.CreatedAt, m.UpdatedAt = now, now
		if err := members.Insert(context.Background(), db, &m); err != nil {
			t.Fatalf("insert member: %v", err)
		}
	}

	svc := NewService(Params{DB: db, Log: zap.NewNop(), Enforcer: enforcer, Members: members})
	return svc, db, members
}

func TestAuthorizeByMemberRole(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	cases := []struct {
		actor  string
		object string
		action string
		want   error
	}{
		{"member:1", ObjectRebate, ActionRebateVerify, nil},
		{"member:1", ObjectRebate, ActionRebateProcess, nil},
		{"member:2", ObjectRebate, ActionRebateStatement, nil},
		{"member:2", ObjectRebate, ActionRebateVerify, ErrForbidden},
		{"member:2", ObjectRebate, ActionRebateStatementAny, ErrForbidden},
		{"member:1", ObjectRebate, ActionRebateStatementAny, nil},
		{"member:3", ObjectPayment, ActionPaymentCancel, nil},
		{"member:3", ObjectPayment, ActionPaymentCancelAny, ErrForbidden},
		{"member:1", ObjectPayment, ActionPaymentCancelAny, nil},
		{"member:3", ObjectRebate, ActionRebateStatement, ErrForbidden},
		{"system", ObjectRebate, ActionRebateCreate, nil},
		{"system", ObjectPayment, ActionPaymentOrder, ErrForbidden},
		{"member:99", ObjectRebate, ActionRebateVerify, ErrForbidden},
		{"member:abc", ObjectRebate, ActionRebateVerify, ErrInvalidActor},
		{"api_key:1", ObjectRebate, ActionRebateVerify, ErrInvalidActor},
		{"", ObjectRebate, ActionRebateVerify, ErrInvalidActor},
		{"member:1", "", ActionRebateVerify, ErrInvalidObject},
		{"member:1", ObjectRebate, " ", ErrInvalidAction},
	}
	for _, tc := range cases {
		err := svc.Authorize(ctx, tc.actor, tc.object, tc.action)
		if tc.want == nil {
			assert.NoError(t, err, "%s %s", tc.actor, tc.action)
			continue
		}
		assert.ErrorIs(t, err, tc.want, "%s %s", tc.actor, tc.action)
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.Authorize(ctx, "member:2", ObjectRebate, ActionRebateProcess), ErrForbidden)

	require.NoError(t, db.Exec(`UPDATE members SET role = ? WHERE id = ?`, memberdomain.RoleAdmin, 2).Error)
	require.NoError(t, svc.Authorize(ctx, "member:2", ObjectRebate, ActionRebateProcess))

	impl := svc.(*ServiceImpl)
	links, err := impl.enforcer.GetFilteredGroupingPolicy(0, "member:2", "", DomainPlatform)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "role:admin", links[0][1])
}

func TestNewEnforcerIsRepeatable(t *testing.T) {
	_, db, _ := setupService(t)

	_, err := NewEnforcer(db)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Table("casbin_rule").Where("ptype = ?", "p").Count(&count).Error)
	assert.Equal(t, int64(16), count)
}
