package rule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jeutaime/internal/service/economy/domain"
)

func TestDefaultPolicyExcludesFlagged(t *testing.T) {
	p, err := NewCELEligibilityPolicy("!flagged")
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := p.Eligible(ctx, &domain.Account{UID: "u1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Eligible(ctx, &domain.Account{UID: "u2", Flagged: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolicyUsesBadgesAndActivity(t *testing.T) {
	p, err := NewCELEligibilityPolicy(`"certified" in badges && inactive_hours < 48.0`)
	require.NoError(t, err)
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	ok, err := p.Eligible(context.Background(), &domain.Account{UID: "u1", Badges: []string{"certified"}, LastActive: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Eligible(context.Background(), &domain.Account{UID: "u1", LastActive: now.Add(-time.Hour)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPolicyRejectsBadExpressions(t *testing.T) {
	_, err := NewCELEligibilityPolicy("coins + 1")
	assert.Error(t, err)

	_, err = NewCELEligibilityPolicy("unknown_var")
	assert.Error(t, err)
}
