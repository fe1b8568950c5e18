package application_test

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/infrastructure"
	"jeutaime/internal/service/economy/infrastructure/dbtest"
)

func TestRedeemPromoWelcome20(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "alice", "bob")
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "WELCOME20", Kind: domain.CodeKindPromo, Reward: 20}))
	svc := f.redemption()

	reward, err := svc.RedeemPromo(ctx, "alice", " WELCOME20 ")
	require.NoError(t, err)
	assert.Equal(t, int64(20), reward)
	assert.Equal(t, int64(20), f.balance(t, "alice"))

	_, err = svc.RedeemPromo(ctx, "bob", "WELCOME20")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
	assert.Zero(t, f.balance(t, "bob"))

	_, err = svc.RedeemPromo(ctx, "alice", "WELCOME20")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
	assert.Equal(t, int64(20), f.balance(t, "alice"))

	code, err := f.codes.FindByCode(ctx, "WELCOME20")
	require.NoError(t, err)
	assert.Equal(t, "alice", code.UsedBy)
}

func TestRedeemPromoErrors(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "alice")
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "REF123", Kind: domain.CodeKindReferral, OwnerUID: "bob", Reward: 10}))
	svc := f.redemption()

	_, err := svc.RedeemPromo(ctx, "", "X")
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = svc.RedeemPromo(ctx, "alice", "  ")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = svc.RedeemPromo(ctx, "alice", "NOPE")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// 推荐码不能当促销码用
	_, err = svc.RedeemPromo(ctx, "alice", "REF123")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRedeemPromoRollsBackClaimWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "GHOST", Kind: domain.CodeKindPromo, Reward: 5}))

	_, err := f.redemption().RedeemPromo(ctx, "no-account", "GHOST")
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	code, err := f.codes.FindByCode(ctx, "GHOST")
	require.NoError(t, err)
	assert.False(t, code.Used)
}

func TestConcurrentPromoRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "RUSH", Kind: domain.CodeKindPromo, Reward: 20}))

	const n = 10
	uids := make([]string, n)
	for i := range uids {
		uids[i] = fmt.Sprintf("user-%d", i)
	}
	f.seedAccounts(t, uids...)
	svc := f.redemption()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []string
		rejected int
	)
	for _, uid := range uids {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := svc.RedeemPromo(ctx, uid, "RUSH")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, uid)
			case errors.Is(err, domain.ErrAlreadyUsed):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(uid)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, n-1, rejected)

	var total int64
	for _, uid := range uids {
		total += f.balance(t, uid)
	}
	assert.Equal(t, int64(20), total)
	assert.Equal(t, int64(20), f.balance(t, winners[0]))
}

func TestReferralAB12CD(t *testing.T) {
	f := newFixture(t)
	f.seedAccounts(t, "referrer", "newbie", "latecomer")
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{
		Code: "AB12CD", Kind: domain.CodeKindReferral, OwnerUID: "referrer", ReferredEmail: "newbie@example.com", Reward: 10,
	}))
	svc := f.redemption()

	err := svc.RedeemReferral(ctx, "referrer", "AB12CD")
	assert.True(t, errors.Is(err, domain.ErrSelfReferral))
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))

	require.NoError(t, svc.RedeemReferral(ctx, "newbie", "AB12CD"))
	assert.Equal(t, int64(10), f.balance(t, "newbie"))
	assert.Equal(t, int64(10), f.balance(t, "referrer"))

	err = svc.RedeemReferral(ctx, "latecomer", "AB12CD")
	assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
	assert.Zero(t, f.balance(t, "latecomer"))
	assert.Equal(t, int64(10), f.balance(t, "referrer"))

	err = svc.RedeemReferral(ctx, "newbie", "ZZZZZZ")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestConcurrentReferralRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.codes.Create(ctx, &domain.RedeemableCode{Code: "RACE01", Kind: domain.CodeKindReferral, OwnerUID: "owner", Reward: 10}))
	f.seedAccounts(t, "owner", "a", "b", "c", "d", "e")
	svc := f.redemption()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, uid := range []string{"a", "b", "c", "d", "e"} {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			if err := svc.RedeemReferral(ctx, uid, "RACE01"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.True(t, errors.Is(err, domain.ErrAlreadyUsed))
			}
		}(uid)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(10), f.balance(t, "owner"))
}

func TestCreateReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := f.redemption()

	code, err := svc.CreateReferral(ctx, "referrer", "friend@example.com")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), code)

	stored, err := f.codes.FindByCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.CodeKindReferral, stored.Kind)
	assert.Equal(t, "referrer", stored.OwnerUID)
	assert.Equal(t, int64(10), stored.Reward)
	assert.False(t, stored.Used)

	_, err = svc.CreateReferral(ctx, "", "friend@example.com")
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = svc.CreateReferral(ctx, "referrer", "not-an-email")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestIssuePromo(t *testing.T) {
	f := newFixture(t)
	dbtest.Seed(t, f.db, &infrastructure.AdminModel{UID: "admin"})
	ctx := context.Background()
	svc := f.redemption()

	require.NoError(t, svc.IssuePromo(ctx, "admin", &application.IssuePromoRequest{Code: "SUMMER"}))
	code, err := f.codes.FindByCode(ctx, "SUMMER")
	require.NoError(t, err)
	assert.Equal(t, int64(20), code.Reward)

	err = svc.IssuePromo(ctx, "admin", &application.IssuePromoRequest{Code: "SUMMER", Reward: 50})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = svc.IssuePromo(ctx, "someone", &application.IssuePromoRequest{Code: "WINTER"})
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied))

	err = svc.IssuePromo(ctx, "admin", &application.IssuePromoRequest{Code: "NEG", Reward: -1})
	assert.True(t, errors.Is(err, domain.ErrInvalidAmount))
}
