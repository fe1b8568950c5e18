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

func newMembership(f *fixture) *application.MembershipService {
	return application.NewMembershipService(f.tx, f.groups, f.bars, application.MembershipConfig{
		GroupTTL:    7 * 24 * time.Hour,
		Concurrency: 4,
	}, tracer)
}

func TestComposeWeeklyTwiceCreatesOneGroup(t *testing.T) {
	f := newFixture(t)
	dbtest.Seed(t, f.db,
		&infrastructure.BarModel{ID: "bar-1", Name: "Le Zinc", Active: true},
		&infrastructure.BarModel{ID: "bar-2", Name: "Chez Paul", Active: true},
		&infrastructure.BarModel{ID: "bar-3", Name: "Fermé", Active: false},
	)
	svc := newMembership(f)
	ctx := context.Background()

	report, err := svc.ComposeWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobReport{Processed: 2}, report)

	report, err = svc.ComposeWeekly(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobReport{Skipped: 2}, report)

	var count int64
	require.NoError(t, f.db.Model(&infrastructure.GroupModel{}).Where("bar_id = ?", "bar-1").Count(&count).Error)
	assert.Equal(t, int64(1), count)

	g, err := f.groups.FindActiveGroup(ctx, "bar-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, g.Members)
	assert.Contains(t, g.Name, "Le Zinc")
	assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), g.ExpiresAt, time.Minute)
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	f := newFixture(t)
	dbtest.Seed(t, f.db, &infrastructure.BarModel{ID: "bar-1", Name: "Le Zinc", Active: true})
	svc := newMembership(f)
	ctx := context.Background()
	_, err := svc.ComposeWeekly(ctx)
	require.NoError(t, err)

	groupID, err := svc.Join(ctx, "u1", "bar-1")
	require.NoError(t, err)
	again, err := svc.Join(ctx, "u1", "bar-1")
	require.NoError(t, err)
	assert.Equal(t, groupID, again)

	g, err := f.groups.FindByID(ctx, groupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, g.Members)

	_, err = svc.Leave(ctx, "u2", "bar-1")
	require.NoError(t, err)
	_, err = svc.Leave(ctx, "u1", "bar-1")
	require.NoError(t, err)
	_, err = svc.Leave(ctx, "u1", "bar-1")
	require.NoError(t, err)

	g, err = f.groups.FindByID(ctx, groupID)
	require.NoError(t, err)
	assert.Empty(t, g.Members)
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t)
	svc := newMembership(f)
	ctx := context.Background()

	_, err := svc.Join(ctx, "", "bar-1")
	assert.True(t, errors.Is(err, domain.ErrUnauthenticated))

	_, err = svc.Join(ctx, "u1", "")
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = svc.Join(ctx, "u1", "bar-without-group")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestJoinExpiredUnsweptGroupIsNotFound(t *testing.T) {
	f := newFixture(t)
	past := time.Now().UTC().Add(-8 * 24 * time.Hour)
	dbtest.Seed(t, f.db, &infrastructure.GroupModel{
		ID: "old", BarID: "bar-1", Cycle: domain.CycleKey(past), Name: "old",
		Active: true, ExpiresAt: past.Add(7 * 24 * time.Hour), CreatedAt: past,
	})
	svc := newMembership(f)

	_, err := svc.Join(context.Background(), "u1", "bar-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestSweepExpiredDeletesGroupsAndRosters(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	past := now.Add(-8 * 24 * time.Hour)
	dbtest.Seed(t, f.db,
		&infrastructure.GroupModel{ID: "old", BarID: "bar-1", Cycle: domain.CycleKey(past), Active: true, ExpiresAt: now.Add(-time.Hour), CreatedAt: past},
		&infrastructure.GroupModel{ID: "live", BarID: "bar-1", Cycle: domain.CycleKey(now), Active: true, ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		&infrastructure.GroupMemberModel{GroupID: "old", UID: "u1"},
		&infrastructure.GroupMemberModel{GroupID: "old", UID: "u2"},
		&infrastructure.GroupMemberModel{GroupID: "live", UID: "u3"},
	)
	svc := newMembership(f)
	ctx := context.Background()

	report, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobReport{Processed: 1}, report)

	_, err = f.groups.FindByID(ctx, "old")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	live, err := f.groups.FindByID(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, live.Members)

	var orphans int64
	require.NoError(t, f.db.Model(&infrastructure.GroupMemberModel{}).Where("group_id = ?", "old").Count(&orphans).Error)
	assert.Zero(t, orphans)

	report, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobReport{}, report)
}
