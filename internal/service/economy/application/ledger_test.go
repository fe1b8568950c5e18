package application_test

import (
	"context"
	"fmt"
	"sync"
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

func TestCreditIsIdempotentPerKey(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	balance, err := ledger.Credit(ctx, "u1", 20, "promo:WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	balance, err = ledger.Credit(ctx, "u1", 20, "promo:WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
	assert.Equal(t, int64(20), f.balance(t, "u1"))

	_, err = ledger.Credit(ctx, "u1", 30, "promo:WELCOME20")
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, int64(20), f.balance(t, "u1"))
}

func TestCreditValidation(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	_, err := ledger.Credit(ctx, "u1", 0, "k")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = ledger.Credit(ctx, "u1", -5, "k")
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	_, err = ledger.Credit(ctx, "u1", 5, "")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = ledger.Credit(ctx, "ghost", 5, "k")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConcurrentCreditsSumUp(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Credit(ctx, "u1", 3, fmt.Sprintf("k-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	// 同一个键的并发重放只生效一次
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Credit(ctx, "u1", 7, "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(n*3+7), f.balance(t, "u1"))
}

func TestOpenPurchase(t *testing.T) {
	f := newFixture(t)
	ledger := f.ledger()
	ctx := context.Background()

	res, err := ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 100})
	require.NoError(t, err)
	assert.NotEmpty(t, res.PurchaseID)
	assert.NotEmpty(t, res.SessionToken)

	p, err := f.purchases.FindBySessionToken(ctx, res.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusPending, p.Status)
	assert.Equal(t, "u1", p.OwnerUID)

	_, err = ledger.OpenPurchase(ctx, "", &application.OpenPurchaseRequest{Kind: "coins", Amount: 100})
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 0})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))

	_, err = ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "gems", Amount: 5})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	f.gateway.err = errors.New("gateway down")
	_, err = ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 5})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestPurchaseSettledTwiceCreditsOnce(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	res, err := ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 100})
	require.NoError(t, err)

	p, err := ledger.SettlePurchase(ctx, res.SessionToken, domain.PurchaseStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCompleted, p.Status)
	assert.Equal(t, int64(100), f.balance(t, "u1"))

	p, err = ledger.SettlePurchase(ctx, res.SessionToken, domain.PurchaseStatusCompleted)
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
	require.NotNil(t, p)
	assert.Equal(t, domain.PurchaseStatusCompleted, p.Status)
	assert.Equal(t, int64(100), f.balance(t, "u1"))

	// 终态不会被后来的 failed 覆盖
	_, err = ledger.SettlePurchase(ctx, res.SessionToken, domain.PurchaseStatusFailed)
	assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
	stored, err := f.purchases.FindByID(ctx, res.PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusCompleted, stored.Status)
}

func TestConcurrentSettlementsCreditOnce(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	res, err := ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 50})
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.SettlePurchase(ctx, res.SessionToken, domain.PurchaseStatusCompleted)
			if err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, domain.ErrAlreadySettled))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, int64(50), f.balance(t, "u1"))
}

func TestSettlePremiumAndFailedPurchases(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1", "u2")
	ledger := f.ledger()
	ctx := context.Background()

	premium, err := ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "premium", Amount: 999})
	require.NoError(t, err)
	_, err = ledger.SettlePurchase(ctx, premium.SessionToken, domain.PurchaseStatusCompleted)
	require.NoError(t, err)
	acc, err := f.accounts.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acc.Premium)
	assert.Zero(t, acc.Coins)

	failed, err := ledger.OpenPurchase(ctx, "u2", &application.OpenPurchaseRequest{Kind: "coins", Amount: 40})
	require.NoError(t, err)
	p, err := ledger.SettlePurchase(ctx, failed.SessionToken, domain.PurchaseStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, domain.PurchaseStatusFailed, p.Status)
	assert.Zero(t, f.balance(t, "u2"))

	_, err = ledger.SettlePurchase(ctx, "unknown", domain.PurchaseStatusCompleted)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = ledger.SettlePurchase(ctx, failed.SessionToken, domain.PurchaseStatusPending)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestApplySettlementDropsUnknownAndReplayed(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "u1")
	ledger := f.ledger()
	ctx := context.Background()

	res, err := ledger.OpenPurchase(ctx, "u1", &application.OpenPurchaseRequest{Kind: "coins", Amount: 30})
	require.NoError(t, err)

	sig := &application.SettlementSignal{SessionToken: res.SessionToken, Outcome: "completed"}
	require.NoError(t, ledger.ApplySettlement(ctx, sig))
	require.NoError(t, ledger.ApplySettlement(ctx, sig))
	assert.Equal(t, int64(30), f.balance(t, "u1"))

	require.NoError(t, ledger.ApplySettlement(ctx, &application.SettlementSignal{SessionToken: "nobody", Outcome: "completed"}))

	err = ledger.ApplySettlement(ctx, &application.SettlementSignal{SessionToken: res.SessionToken, Outcome: "refunded"})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestApplySettlementSurfacesMissingOwner(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	dbtest.Seed(t, f.db,
		&infrastructure.PurchaseModel{ID: "p-coins", OwnerUID: "ghost", Kind: "coins", Amount: 40, Status: "pending", SessionToken: "tok-coins", CreatedAt: now},
		&infrastructure.PurchaseModel{ID: "p-premium", OwnerUID: "ghost", Kind: "premium", Amount: 999, Status: "pending", SessionToken: "tok-premium", CreatedAt: now},
	)
	ledger := f.ledger()
	ctx := context.Background()

	for _, token := range []string{"tok-coins", "tok-premium"} {
		err := ledger.ApplySettlement(ctx, &application.SettlementSignal{SessionToken: token, Outcome: "completed"})
		require.Error(t, err, token)
		assert.True(t, errors.Is(err, domain.ErrNotFound), token)
		assert.False(t, errors.Is(err, domain.ErrUnknownSession), token)
	}

	// 事务回滚，购买仍然等待结算，信号可以重投
	for _, id := range []string{"p-coins", "p-premium"} {
		p, err := f.purchases.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPending, p.Status, id)
	}

	_, err := ledger.SettlePurchase(ctx, "nobody", domain.PurchaseStatusCompleted)
	assert.True(t, errors.Is(err, domain.ErrUnknownSession))
}
