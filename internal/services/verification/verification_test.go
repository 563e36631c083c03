package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/verification-gate/internal/discord"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/lib/vault"
	"github.com/magabrotheeeer/verification-gate/internal/models"
	"github.com/magabrotheeeer/verification-gate/internal/storage/storagetest"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) CreateVerificationSession(ctx context.Context, meta models.SessionMetadata) (*models.VerificationSession, error) {
	args := m.Called(ctx, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationSession), args.Error(1)
}

type MockRoles struct {
	mock.Mock
}

func (m *MockRoles) GrantRole(ctx context.Context, communityID, memberID, roleID string) error {
	args := m.Called(ctx, communityID, memberID, roleID)
	return args.Error(0)
}

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *storagetest.Store
	provider *MockProvider
	roles    *MockRoles
	vault    *vault.Vault
	svc      *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	key, err := vault.GenerateKey()
	require.NoError(t, err)
	v, err := vault.New(key)
	require.NoError(t, err)

	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.ReservationTTL == 0 {
		cfg.ReservationTTL = time.Hour
	}
	f := &fixture{
		store:    storagetest.New(),
		provider: new(MockProvider),
		roles:    new(MockRoles),
		vault:    v,
	}
	f.svc = New(f.store, f.provider, f.roles, v, cfg, logger.Discard()).WithClock(func() time.Time { return testNow })
	return f
}

func activeCommunity(id string, quota int) models.Community {
	return models.Community{
		ID:                 id,
		RoleID:             "900",
		MinAge:             18,
		Tier:               models.Tier1,
		SubscriptionActive: true,
		QuotaRemaining:     quota,
	}
}

func (f *fixture) verifiedMember(t *testing.T, id string, dob models.DateOfBirth) {
	t.Helper()
	sealed, err := f.vault.EncryptDOB(dob)
	require.NoError(t, err)
	verifiedAt := testNow.Add(-24 * time.Hour)
	f.store.PutMember(models.Member{ID: id, Verified: true, EncryptedDOB: sealed, VerifiedAt: &verifiedAt})
}

func TestRequestVerificationPolicyDenials(t *testing.T) {
	tests := []struct {
		name      string
		community *models.Community
		want      DenialReason
	}{
		{name: "сообщество не настроено", want: ReasonCommunityNotConfigured},
		{name: "роль не задана", community: &models.Community{ID: "1", Tier: models.Tier1, SubscriptionActive: true, QuotaRemaining: 5}, want: ReasonRoleNotConfigured},
		{name: "подписка неактивна", community: &models.Community{ID: "1", RoleID: "9", Tier: models.Tier1, QuotaRemaining: 5}, want: ReasonSubscriptionInactive},
		{name: "неизвестный уровень", community: &models.Community{ID: "1", RoleID: "9", Tier: "gold", SubscriptionActive: true, QuotaRemaining: 5}, want: ReasonTierMisconfigured},
		{name: "tier_0 для нового участника", community: &models.Community{ID: "1", RoleID: "9", Tier: models.Tier0, SubscriptionActive: true, QuotaRemaining: 5}, want: ReasonTierNoNewVerifications},
		{name: "квота исчерпана", community: &models.Community{ID: "1", RoleID: "9", Tier: models.Tier1, SubscriptionActive: true}, want: ReasonQuotaExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			if tt.community != nil {
				f.store.PutCommunity(*tt.community)
			}

			res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "1", MemberID: "2", ChannelID: "3"})
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tt.want, res.Reason)
			assert.NotEmpty(t, res.Message)
			f.provider.AssertNotCalled(t, "CreateVerificationSession", mock.Anything, mock.Anything)
			assert.Empty(t, f.store.Usage())
		})
	}
}

func TestRequestVerificationHappyPath(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutCommunity(activeCommunity("10", 10))

	meta := models.SessionMetadata{CommunityID: "10", MemberID: "20", RoleID: "900", ChannelID: "30"}
	f.provider.On("CreateVerificationSession", mock.Anything, meta).
		Return(&models.VerificationSession{ID: "vs_1", URL: "https://verify.example/vs_1"}, nil)

	res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20", ChannelID: "30"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "https://verify.example/vs_1", res.SessionURL)
	assert.Contains(t, res.Message, "https://verify.example/vs_1")

	m, ok := f.store.Member("20")
	require.True(t, ok)
	assert.False(t, m.Verified)
	require.NotNil(t, m.LastAttemptAt)
	assert.True(t, testNow.Equal(*m.LastAttemptAt))

	usage := f.store.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, models.ActionVerify, usage[0].Action)

	c, _ := f.store.Community("10")
	assert.Equal(t, 10, c.QuotaRemaining, "quota is consumed only on confirmation")
	assert.Equal(t, 1, f.store.Reservations("10"))
	f.roles.AssertNotCalled(t, "GrantRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestVerificationProviderFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutCommunity(activeCommunity("10", 1))
	f.provider.On("CreateVerificationSession", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
	require.NoError(t, err)
	assert.Equal(t, ReasonProviderUnavailable, res.Reason)

	_, exists := f.store.Member("20")
	assert.False(t, exists, "attempt must not be recorded")
	assert.Empty(t, f.store.Usage())
	assert.Equal(t, 0, f.store.Reservations("10"), "reservation must be released")
}

func TestRequestVerificationStoreFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutCommunity(activeCommunity("10", 1))
	f.provider.On("CreateVerificationSession", mock.Anything, mock.Anything).
		Return(&models.VerificationSession{ID: "vs_1", URL: "https://verify.example/vs_1"}, nil)
	f.store.FailOn("RecordAttempt", errors.New("connection reset"))

	_, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
	require.Error(t, err)
	assert.Equal(t, 0, f.store.Reservations("10"))
}

func TestRequestVerificationCooldown(t *testing.T) {
	window := time.Minute
	tests := []struct {
		name   string
		last   time.Time
		denied bool
	}{
		{name: "за секунду до конца окна", last: testNow.Add(-window + time.Second), denied: true},
		{name: "через секунду после окна", last: testNow.Add(-window - time.Second), denied: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{Cooldown: window})
			f.store.PutCommunity(activeCommunity("10", 5))
			last := tt.last
			f.store.PutMember(models.Member{ID: "20", LastAttemptAt: &last})
			f.provider.On("CreateVerificationSession", mock.Anything, mock.Anything).
				Return(&models.VerificationSession{ID: "vs", URL: "https://verify.example/vs"}, nil)

			res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
			require.NoError(t, err)
			if tt.denied {
				assert.Equal(t, ReasonCooldown, res.Reason)
			} else {
				assert.True(t, res.OK)
			}
		})
	}
}

func TestRequestVerificationCooldownResetOnRestart(t *testing.T) {
	last := testNow.Add(-10 * time.Second)
	epoch := testNow.Add(-5 * time.Second)

	for _, reset := range []bool{false, true} {
		t.Run(fmt.Sprintf("reset=%t", reset), func(t *testing.T) {
			f := newFixture(t, Config{Cooldown: time.Minute, ResetCooldownOnRestart: reset, ProcessEpoch: epoch})
			f.store.PutCommunity(activeCommunity("10", 5))
			f.store.PutMember(models.Member{ID: "20", LastAttemptAt: &last})
			f.provider.On("CreateVerificationSession", mock.Anything, mock.Anything).
				Return(&models.VerificationSession{ID: "vs", URL: "https://verify.example/vs"}, nil)

			res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
			require.NoError(t, err)
			if reset {
				assert.True(t, res.OK)
			} else {
				assert.Equal(t, ReasonCooldown, res.Reason)
			}
		})
	}
}

func TestRequestVerificationRegrantBypassesQuota(t *testing.T) {
	f := newFixture(t, Config{})
	c := activeCommunity("10", 0)
	f.store.PutCommunity(c)
	f.verifiedMember(t, "20", models.DateOfBirth{Year: 1990, Month: time.January, Day: 1})
	f.roles.On("GrantRole", mock.Anything, "10", "20", "900").Return(nil)

	res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Regranted)
	f.roles.AssertExpectations(t)

	stored, _ := f.store.Community("10")
	assert.Equal(t, 0, stored.QuotaRemaining)
	usage := f.store.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, models.ActionRegrant, usage[0].Action)
	f.provider.AssertNotCalled(t, "CreateVerificationSession", mock.Anything, mock.Anything)
}

func TestRequestVerificationRegrantOnTierZero(t *testing.T) {
	f := newFixture(t, Config{})
	c := activeCommunity("10", 0)
	c.Tier = models.Tier0
	f.store.PutCommunity(c)
	f.verifiedMember(t, "20", models.DateOfBirth{Year: 1990, Month: time.January, Day: 1})
	f.roles.On("GrantRole", mock.Anything, "10", "20", "900").Return(nil)

	res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestRequestVerificationRegrantAgeFloor(t *testing.T) {
	tests := []struct {
		name   string
		minAge int
		dob    *models.DateOfBirth
		want   DenialReason
	}{
		{name: "младше порога", minAge: 21, dob: &models.DateOfBirth{Year: 2006, Month: time.May, Day: 11}, want: ReasonAgeBelowMinimum},
		{name: "день рождения сегодня", minAge: 18, dob: &models.DateOfBirth{Year: 2008, Month: time.May, Day: 10}},
		{name: "нет даты рождения", minAge: 18, want: ReasonAgeUnknown},
		{name: "без порога", minAge: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			c := activeCommunity("10", 3)
			c.MinAge = tt.minAge
			f.store.PutCommunity(c)
			if tt.dob != nil {
				f.verifiedMember(t, "20", *tt.dob)
			} else {
				f.store.PutMember(models.Member{ID: "20", Verified: true})
			}
			f.roles.On("GrantRole", mock.Anything, "10", "20", "900").Return(nil)

			res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
			require.NoError(t, err)
			if tt.want == "" {
				assert.True(t, res.OK)
				return
			}
			assert.Equal(t, tt.want, res.Reason)
			f.roles.AssertNotCalled(t, "GrantRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRequestVerificationRegrantRoleGone(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.PutCommunity(activeCommunity("10", 3))
	f.verifiedMember(t, "20", models.DateOfBirth{Year: 1990, Month: time.January, Day: 1})
	f.roles.On("GrantRole", mock.Anything, "10", "20", "900").Return(fmt.Errorf("wrap: %w", discord.ErrNotFound))

	res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: "20"})
	require.NoError(t, err)
	assert.Equal(t, ReasonRoleUnavailable, res.Reason)
	assert.Empty(t, f.store.Usage())
}

func TestRequestVerificationConcurrentQuota(t *testing.T) {
	const quota = 5
	f := newFixture(t, Config{})
	f.store.PutCommunity(activeCommunity("10", quota))
	f.provider.On("CreateVerificationSession", mock.Anything, mock.Anything).
		Return(&models.VerificationSession{ID: "vs", URL: "https://verify.example/vs"}, nil)

	var (
		wg        sync.WaitGroup
		proceeded atomic.Int32
		exhausted atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.RequestVerification(context.Background(), Request{CommunityID: "10", MemberID: fmt.Sprintf("m-%d", i)})
			if !assert.NoError(t, err) {
				return
			}
			switch {
			case res.OK:
				proceeded.Add(1)
			case res.Reason == ReasonQuotaExhausted:
				exhausted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(quota), proceeded.Load())
	assert.Equal(t, int32(25-quota), exhausted.Load())
}

func TestRequestVerificationCanceledContext(t *testing.T) {
	f := newFixture(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RequestVerification(ctx, Request{CommunityID: "10", MemberID: "20"})
	assert.ErrorIs(t, err, context.Canceled)
}
