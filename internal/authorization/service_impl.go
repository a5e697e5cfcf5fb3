package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// DomainPlatform is the single authorization domain; the marketplace has no tenants.
const DomainPlatform = "platform"

const (
	ObjectRebate  = "rebate"
	ObjectPayment = "payment"
)

const (
	ActionRebateVerify    = "rebate.verify"
	ActionRebateCreate    = "rebate.create"
	ActionRebateProcess   = "rebate.process"
	ActionRebateStatement = "rebate.statement"

	// Statements of other experts.
	ActionRebateStatementAny = "rebate.statement_any"

	ActionPaymentOrder  = "payment.order"
	ActionPaymentCancel = "payment.cancel"
	ActionPaymentView   = "payment.view"

	// Cancellations of payments made by other members.
	ActionPaymentCancelAny = "payment.cancel_any"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	Members  memberdomain.Repository
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	members  memberdomain.Repository
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		members:  p.Members,
	}
}

// Authorize accepts "system" or "member:<id>". Members are mapped to the
// casbin role named after their marketplace role.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.logDenied(actor, object, action, err)
		return err
	}

	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, DomainPlatform, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(actor, object, action, ErrForbidden)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if !strings.HasPrefix(actor, "member:") {
		return "", "", ErrInvalidActor
	}
	memberID, err := snowflake.ParseString(strings.TrimPrefix(actor, "member:"))
	if err != nil || memberID == 0 {
		return "", "", ErrInvalidActor
	}
	member, err := s.members.FindByID(ctx, s.db, memberID)
	if err != nil {
		if errors.Is(err, memberdomain.ErrNotFound) {
			return "", "", ErrForbidden
		}
		return "", "", err
	}
	role := strings.TrimSpace(string(member.Role))
	if role == "" {
		return "", "", ErrForbidden
	}
	return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
}

// ensureGrouping keeps exactly one role link per subject so that role
// changes on the member row take effect on the next request.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", DomainPlatform)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, DomainPlatform)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, DomainPlatform)
	return err
}

func (s *ServiceImpl) logDenied(actor string, object string, action string, reason error) {
	s.log.Info("authorization denied",
		zap.String("actor", actor),
		zap.String("object", object),
		zap.String("action", action),
		zap.Error(reason),
	)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Clients pay for consultations
		{"role:client", ObjectPayment, ActionPaymentOrder},
		{"role:client", ObjectPayment, ActionPaymentCancel},
		{"role:client", ObjectPayment, ActionPaymentView},

		// Experts see their own settlement
		{"role:expert", ObjectPayment, ActionPaymentView},
		{"role:expert", ObjectRebate, ActionRebateStatement},

		{"role:admin", ObjectPayment, ActionPaymentView},
		{"role:admin", ObjectPayment, ActionPaymentCancel},
		{"role:admin", ObjectPayment, ActionPaymentCancelAny},
		{"role:admin", ObjectRebate, ActionRebateVerify},
		{"role:admin", ObjectRebate, ActionRebateCreate},
		{"role:admin", ObjectRebate, ActionRebateProcess},
		{"role:admin", ObjectRebate, ActionRebateStatement},
		{"role:admin", ObjectRebate, ActionRebateStatementAny},

		// Scheduled settlement jobs
		{"role:system", ObjectRebate, ActionRebateCreate},
		{"role:system", ObjectRebate, ActionRebateProcess},
		{"role:system", ObjectRebate, ActionRebateVerify},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
