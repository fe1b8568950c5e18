package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/infrastructure"
	"jeutaime/internal/service/economy/infrastructure/dbtest"
)

// 测试库只有一个连接，真实的交错无法出现。下面的包装仓储让读返回"对手提交之前"的旧值，
// 写仍落到真实的条件更新和唯一索引上，从而走到并发失败方的分支。

// staleCodes 读到的兑换码总是未使用
type staleCodes struct {
	domain.CodeRepository
}

func (r staleCodes) FindByCodeForUpdate(ctx context.Context, code string) (*domain.RedeemableCode, error) {
	c, err := r.CodeRepository.FindByCodeForUpdate(ctx, code)
	if err != nil {
		return nil, err
	}
	c.Used, c.UsedBy = false, ""
	return c, nil
}

// staleCredits 看不到已提交的幂等记录
type staleCredits struct {
	domain.CreditRecordRepository
}

func (r staleCredits) Find(ctx context.Context, uid, key string) (*domain.CreditRecord, error) {
	return nil, errors.Wrapf(domain.ErrNotFound, "credit record %s/%s", uid, key)
}

// stalePurchases 读到的购买总是 pending
type stalePurchases struct {
	domain.PurchaseRepository
}

func (r stalePurchases) FindBySessionToken(ctx context.Context, token string) (*domain.Purchase, error) {
	p, err := r.PurchaseRepository.FindBySessionToken(ctx, token)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PurchaseStatusPending
	p.SettledAt = time.Time{}
	return p, nil
}

// staleGroups 看不到本周期已创建的小组
type staleGroups struct {
	domain.GroupRepository
}

func (r staleGroups) FindByBarAndCycle(ctx context.Context, barID, cycle string) (*domain.Group, error) {
	return nil, errors.Wrapf(domain.ErrNotFound, "group of bar %s in %s", barID, cycle)
}

func TestRedeemPromoLosesConditionalFlip(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "alice", "rival")
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "WELCOME20", Kind: domain.CodeKindPromo, Reward: 20}))
	_, err := f.codes.MarkUsed(ctx, "WELCOME20", "rival", time.Now().UTC())
	require.NoError(t, err)

	svc := application.NewRedemptionService(f.tx, staleCodes{f.codes}, f.admins, f.ledger(),
		application.RewardConfig{PromoDefault: 20, Referral: 10}, tracer)

	_, err = svc.RedeemPromo(ctx, "alice", "WELCOME20")
	require.True(t, errors.Is(err, domain.ErrAlreadyUsed), "got %v", err)
	assert.Zero(t, f.balance(t, "alice"))

	code, err := f.codes.FindByCode(ctx, "WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, "rival", code.UsedBy)
}

func TestRedeemReferralLosesConditionalFlip(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "owner", "newbie", "rival")
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "AB12CD", Kind: domain.CodeKindReferral, OwnerUID: "owner", Reward: 10}))
	_, err := f.codes.MarkUsed(ctx, "AB12CD", "rival", time.Now().UTC())
	require.NoError(t, err)

	svc := application.NewRedemptionService(f.tx, staleCodes{f.codes}, f.admins, f.ledger(),
		application.RewardConfig{PromoDefault: 20, Referral: 10}, tracer)

	err = svc.RedeemReferral(ctx, "newbie", "AB12CD")
	require.True(t, errors.Is(err, domain.ErrAlreadyUsed), "got %v", err)
	assert.Zero(t, f.balance(t, "newbie"))
	assert.Zero(t, f.balance(t, "owner"))
}

func TestCreditRecoversFromDuplicateIdempotencyRecord(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "alice")
	ctx := context.Background()

	// 对手先提交
	balance, err := f.ledger().Credit(ctx, "alice", 10, "promo:WELCOME20")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance)

	late := application.NewLedgerService(f.tx, f.accounts, staleCredits{f.credits}, f.purchases, f.gateway, tracer)

	balance, err = late.Credit(ctx, "alice", 10, "promo:WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)
	assert.Equal(t, int64(10), f.balance(t, "alice"))

	_, err = late.Credit(ctx, "alice", 25, "promo:WELCOME20")
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	assert.Equal(t, int64(10), f.balance(t, "alice"))
}

func TestSettlePurchaseLosesConditionalTransition(t *testing.T) {
	f := newFixture(t)
	settledAt := time.Now().UTC()
	dbtest.Seed(t, f.db,
		// 对手已经完成结算并入账
		&infrastructure.AccountModel{UID: "alice", Coins: 40},
		&infrastructure.PurchaseModel{ID: "p1", OwnerUID: "alice", Kind: "coins", Amount: 40, Status: "completed",
			SessionToken: "tok-1", CreatedAt: settledAt, SettledAt: &settledAt},
	)
	late := application.NewLedgerService(f.tx, f.accounts, f.credits, stalePurchases{f.purchases}, f.gateway, tracer)
	ctx := context.Background()

	p, err := late.SettlePurchase(ctx, "tok-1", domain.PurchaseStatusCompleted)
	require.True(t, errors.Is(err, domain.ErrAlreadySettled), "got %v", err)
	require.NotNil(t, p)
	// 失败方重新读取到赢家提交的终态
	assert.Equal(t, domain.PurchaseStatusCompleted, p.Status)
	assert.False(t, p.SettledAt.IsZero())
	assert.Equal(t, int64(40), f.balance(t, "alice"))

	require.NoError(t, late.ApplySettlement(ctx, &application.SettlementSignal{SessionToken: "tok-1", Outcome: "failed"}))
	assert.Equal(t, int64(40), f.balance(t, "alice"))
}

func TestComposeWeeklySkipsDuplicateCycle(t *testing.T) {
	f := newFixture(t)
	dbtest.Seed(t, f.db,
		&infrastructure.BarModel{ID: "bar-1", Name: "Le Zinc", Active: true},
		&infrastructure.BarModel{ID: "bar-2", Name: "Chez Paul", Active: true},
	)
	ctx := context.Background()

	report, err := newMembership(f).ComposeWeekly(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.JobReport{Processed: 2}, report)

	late := application.NewMembershipService(f.tx, staleGroups{f.groups}, f.bars, application.MembershipConfig{
		GroupTTL:    7 * 24 * time.Hour,
		Concurrency: 2,
	}, tracer)
	report, err = late.ComposeWeekly(ctx)
	require.NoError(t, err)
	// 唯一索引拒绝重复创建，计为跳过而不是失败
	assert.Equal(t, domain.JobReport{Skipped: 2}, report)

	var count int64
	require.NoError(t, f.db.Model(&infrastructure.GroupModel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
