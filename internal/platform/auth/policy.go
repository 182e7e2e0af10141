package auth

import (
	"context"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/clinic/referrals/internal/platform/apperr"
)

// Resource names a protected object class.
type Resource string

const (
	ResourceReferral  Resource = "referral"
	ResourceDocument  Resource = "document"
	ResourceDirectory Resource = "directory"
	ResourceNote      Resource = "note"
	ResourceReport    Resource = "report"
	ResourceUser      Resource = "user"
)

// Action is an operation on a Resource.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Policy decides whether the caller in ctx may perform act on res. It returns
// apperr.ErrUnauthorized without a caller and apperr.ErrForbidden on denial.
type Policy interface {
	Authorize(ctx context.Context, res Resource, act Action) error
}

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// DefaultRules grants staff full access to clinical data and read access to
// reports. Admins may do everything, including user management.
var DefaultRules = [][]string{
	{string(RoleAdmin), "*", "*"},
	{string(RoleStaff), string(ResourceReferral), "*"},
	{string(RoleStaff), string(ResourceDocument), "*"},
	{string(RoleStaff), string(ResourceDirectory), "*"},
	{string(RoleStaff), string(ResourceNote), "*"},
	{string(RoleStaff), string(ResourceReport), string(ActionRead)},
}

// CasbinPolicy is a Policy evaluated by a casbin enforcer.
type CasbinPolicy struct {
	enforcer *casbin.Enforcer
}

// NewCasbinPolicy builds an enforcer from the in-code model and rules.
func NewCasbinPolicy(rules [][]string) (*CasbinPolicy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, fmt.Errorf("load policy model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	if len(rules) > 0 {
		if _, err := e.AddPolicies(rules); err != nil {
			return nil, fmt.Errorf("add policies: %w", err)
		}
	}
	return &CasbinPolicy{enforcer: e}, nil
}

func (p *CasbinPolicy) Authorize(ctx context.Context, res Resource, act Action) error {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return apperr.ErrUnauthorized
	}
	allowed, err := p.enforcer.Enforce(string(id.Role), string(res), string(act))
	if err != nil {
		return fmt.Errorf("evaluate policy: %w", err)
	}
	if !allowed {
		return fmt.Errorf("%s %s: %w", act, res, apperr.ErrForbidden)
	}
	return nil
}

// AllowAll authorizes any authenticated caller. Used in tests.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, _ Resource, _ Action) error {
	if _, ok := IdentityFromContext(ctx); !ok {
		return apperr.ErrUnauthorized
	}
	return nil
}
