// internal/service/economy/infrastructure/rule/cel_eligibility.go
package rule

import (
	"context"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"jeutaime/internal/service/economy/domain"
)

// CELEligibilityPolicy 是 port.EligibilityPolicy 的 CEL 实现。
// 表达式在启动时编译一次，可以引用以下变量：
// uid, coins, certified, premium, flagged, badges, inactive_hours
type CELEligibilityPolicy struct {
	expr string
	prg  cel.Program
	now  func() time.Time
}

// NewCELEligibilityPolicy 编译表达式，要求结果为 bool
func NewCELEligibilityPolicy(expr string) (*CELEligibilityPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("uid", cel.StringType),
		cel.Variable("coins", cel.IntType),
		cel.Variable("certified", cel.BoolType),
		cel.Variable("premium", cel.BoolType),
		cel.Variable("flagged", cel.BoolType),
		cel.Variable("badges", cel.ListType(cel.StringType)),
		cel.Variable("inactive_hours", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cel: create environment")
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(iss.Err(), "cel: compile %q", expr)
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("cel: expression %q must return bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "cel: build program %q", expr)
	}
	return &CELEligibilityPolicy{expr: expr, prg: prg, now: time.Now}, nil
}

// Eligible 对单个账户求值
func (p *CELEligibilityPolicy) Eligible(ctx context.Context, account *domain.Account) (bool, error) {
	badges := account.Badges
	if badges == nil {
		badges = []string{}
	}
	out, _, err := p.prg.ContextEval(ctx, map[string]any{
		"uid":            account.UID,
		"coins":          account.Coins,
		"certified":      account.Certified,
		"premium":        account.Premium,
		"flagged":        account.Flagged,
		"badges":         badges,
		"inactive_hours": p.now().Sub(account.LastActive).Hours(),
	})
	if err != nil {
		return false, errors.Wrapf(err, "cel: evaluate %q for %s", p.expr, account.UID)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("cel: expression %q returned %T", p.expr, out.Value())
	}
	return allowed, nil
}
