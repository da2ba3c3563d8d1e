package referral

import (
	"context"
	"testing"

	"stars-exchange/internal/store"
	"stars-exchange/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUserRepo struct {
	users map[string]*models.User
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

func (f *fakeUserRepo) GetReferrals(ctx context.Context, referrerID string) ([]*models.User, error) {
	var out []*models.User
	for _, u := range f.users {
		if u.ReferredBy != nil && *u.ReferredBy == referrerID {
			out = append(out, u)
		}
	}
	return out, nil
}

func TestStats(t *testing.T) {
	referrerID := "ref"
	repo := &fakeUserRepo{users: map[string]*models.User{
		"ref": {ID: "ref", ReferralCode: "abc12345", TotalReferralEarnings: 48},
		"u1":  {ID: "u1", ReferredBy: &referrerID},
		"u2":  {ID: "u2", ReferredBy: &referrerID},
		"u3":  {ID: "u3"},
	}}
	svc := NewService(repo, zap.NewNop())

	stats, err := svc.Stats(context.Background(), "ref")
	require.NoError(t, err)

	assert.Equal(t, "abc12345", stats.ReferralCode)
	assert.Equal(t, 2, stats.TotalReferrals)
	assert.Equal(t, 48, stats.TotalEarnings)
	assert.Len(t, stats.Referrals, 2)
}

func TestStatsNoReferrals(t *testing.T) {
	repo := &fakeUserRepo{users: map[string]*models.User{
		"u1": {ID: "u1", ReferralCode: "xyz"},
	}}
	svc := NewService(repo, zap.NewNop())

	stats, err := svc.Stats(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReferrals)
	assert.Zero(t, stats.TotalEarnings)

	_, err = svc.Stats(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}
