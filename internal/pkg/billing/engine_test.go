package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenshot/lumenshot/app/models"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func newTestEngine(f *fakeRepository, opts ...Option) *Engine {
	return NewEngine(f, append([]Option{WithClock(testClock)}, opts...)...)
}

func seedUser(t *testing.T, f *fakeRepository, user models.User) {
	t.Helper()
	require.NoError(t, f.CreateUser(&user))
}

func seedSubscription(t *testing.T, f *fakeRepository, sub models.Subscription) {
	t.Helper()
	require.NoError(t, f.CreateSubscription(&sub))
}

func TestApplyPurchaseFirstPurchase(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	seedUser(t, f, models.User{Name: "Alice", Email: "alice@example.com", SubscriptionStatus: models.SubscriptionStatusNone})

	end := testNow.Add(30 * 24 * time.Hour)
	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "alice@example.com",
		PlanID:                "basic_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             end,
		GatewaySubscriptionID: "gw_sub_1",
		GatewayEventID:        "evt_1",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultNew, res.Kind)
	assert.Equal(t, TierBasic, res.Tier)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 50, res.Credits)
	assert.Equal(t, 1, res.Quota)
	assert.Equal(t, models.SubscriptionStatusActive, res.Status)
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(end))

	subs, err := f.ActiveSubscriptions("alice@example.com", testNow)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, models.RecordTypeNormal, subs[0].RecordType)
}

func TestApplyPurchaseCreatesMissingUser(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)

	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "new@example.com",
		PlanID:                "pro_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             testNow.Add(30 * 24 * time.Hour),
		GatewaySubscriptionID: "gw_sub_new",
		GatewayEventID:        "evt_new",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultNew, res.Kind)

	user, err := f.GetUserByEmail("new@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1000, user.Credits)
	assert.Equal(t, 3, user.Quota)
}

func TestApplyPurchaseUpgradeReplacesQuotaAccumulatesCredits(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	basicEnd := testNow.Add(20 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Bob", Email: "bob@example.com",
		Credits: 50, Quota: 1, PlanTier: TierBasic, PlanLevel: 1,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &basicEnd,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "bob@example.com", PlanTier: TierBasic, PlanLevel: 1,
		CreditsGranted: 50, QuotaGranted: 1,
		StartDate: testNow.Add(-10 * 24 * time.Hour), EndDate: basicEnd,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_basic", GatewayEventID: "evt_b",
	})

	proEnd := testNow.Add(30 * 24 * time.Hour)
	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "bob@example.com",
		PlanID:                "pro_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             proEnd,
		GatewaySubscriptionID: "gw_pro",
		GatewayEventID:        "evt_p",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultUpgrade, res.Kind)
	assert.Equal(t, TierPro, res.Tier)
	assert.Equal(t, 2, res.Level)
	assert.Equal(t, 3, res.Quota, "upgrade replaces quota with the new plan's grant")
	assert.Equal(t, 1050, res.Credits, "upgrade sums active grants plus the new grant")
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(proEnd))
}

func TestApplyPurchaseDowngradeKeepsTierAddsCredits(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	basicEnd := testNow.Add(20 * 24 * time.Hour)
	proEnd := testNow.Add(30 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Bob", Email: "bob@example.com",
		Credits: 1050, Quota: 3, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &proEnd,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "bob@example.com", PlanTier: TierBasic, PlanLevel: 1,
		CreditsGranted: 50, QuotaGranted: 1,
		StartDate: testNow.Add(-10 * 24 * time.Hour), EndDate: basicEnd,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_basic", GatewayEventID: "evt_b",
	})
	seedSubscription(t, f, models.Subscription{
		Email: "bob@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow, EndDate: proEnd,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "bob@example.com",
		PlanID:                "basic_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             testNow.Add(30 * 24 * time.Hour),
		GatewaySubscriptionID: "gw_basic_2",
		GatewayEventID:        "evt_b2",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultDowngradePoints, res.Kind)
	assert.Equal(t, TierPro, res.Tier, "downgrade keeps the highest active tier")
	assert.Equal(t, 2, res.Level)
	assert.Equal(t, 3, res.Quota, "downgrade pins quota to the highest active grant")
	assert.Equal(t, 1100, res.Credits, "downgrade adds only credits: 50+1000+50")
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(proEnd), "aggregate expiry follows the winning subscription")

	sub, err := f.SubscriptionByGatewayIDs("gw_basic_2", "evt_b2")
	require.NoError(t, err)
	assert.Equal(t, models.RecordTypePointsOnly, sub.RecordType)
}

func TestApplyPurchaseSameLevelAddsQuota(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	end := testNow.Add(20 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Cara", Email: "cara@example.com",
		Credits: 50, Quota: 1, PlanTier: TierBasic, PlanLevel: 1,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &end,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "cara@example.com", PlanTier: TierBasic, PlanLevel: 1,
		CreditsGranted: 50, QuotaGranted: 1,
		StartDate: testNow.Add(-10 * 24 * time.Hour), EndDate: end,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_b1", GatewayEventID: "evt_1",
	})

	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "cara@example.com",
		PlanID:                "basic_yearly",
		PeriodStart:           testNow,
		PeriodEnd:             testNow.Add(365 * 24 * time.Hour),
		GatewaySubscriptionID: "gw_b2",
		GatewayEventID:        "evt_2",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultSameLevel, res.Kind)
	assert.Equal(t, 2, res.Quota, "same level adds quota: 1+1")
	assert.Equal(t, 100, res.Credits, "same level adds credits: 50+50")
	assert.Equal(t, TierBasic, res.Tier)
}

func TestApplyPurchaseValidation(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)

	_, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email: "x@example.com", PlanID: "gold_plated",
		PeriodStart: testNow, PeriodEnd: testNow.Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrUnknownPlan)

	_, err = e.ApplyPurchase(context.Background(), PurchaseInput{
		Email: "x@example.com", PlanID: "basic_monthly",
		PeriodStart: testNow, PeriodEnd: testNow.Add(-time.Hour),
	})
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestApplyPurchaseRetryIsSafe(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)

	in := PurchaseInput{
		Email:                 "dora@example.com",
		PlanID:                "pro_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             testNow.Add(30 * 24 * time.Hour),
		GatewaySubscriptionID: "gw_pro",
		GatewayEventID:        "evt_once",
	}
	first, err := e.ApplyPurchase(context.Background(), in)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := e.ApplyPurchase(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Credits, second.Credits, "retry must not double-grant")

	subs, err := f.SubscriptionsByGatewayID("gw_pro")
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestApplyRenewalResetsQuotaKeepsCredits(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	end := testNow.Add(5 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Eve", Email: "eve@example.com",
		Credits: 730, Quota: 0, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &end,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "eve@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow.Add(-25 * 24 * time.Hour), EndDate: end,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	newEnd := end.Add(30 * 24 * time.Hour)
	res, err := e.ApplyRenewal(context.Background(), "eve@example.com", "gw_pro", newEnd)
	require.NoError(t, err)

	assert.Equal(t, ResultRenewal, res.Kind)
	assert.Equal(t, 3, res.Quota, "renewal resets quota to the plan's original grant")
	assert.Equal(t, 730, res.Credits, "credits persist across renewals")
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(newEnd))

	subs, err := f.SubscriptionsByGatewayID("gw_pro")
	require.NoError(t, err)
	require.Len(t, subs, 1, "renewal must not create a new subscription row")
	assert.True(t, subs[0].EndDate.Equal(newEnd))
}

func TestApplyRenewalRedeliveryIsNoop(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	end := testNow.Add(30 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Eve", Email: "eve@example.com",
		Credits: 730, Quota: 3, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &end,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "eve@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow.Add(-25 * 24 * time.Hour), EndDate: end,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	res, err := e.ApplyRenewal(context.Background(), "eve@example.com", "gw_pro", end)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, ResultNoop, res.Kind)
}

func TestApplyRenewalUnknownSubscription(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)

	_, err := e.ApplyRenewal(context.Background(), "ghost@example.com", "gw_missing", testNow.Add(time.Hour))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestApplyCancellationImmediateClearsEntitlements(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	end := testNow.Add(30 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Finn", Email: "finn@example.com",
		Credits: 1050, Quota: 3, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &end,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "finn@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow, EndDate: end,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	res, err := e.ApplyCancellation(context.Background(), "finn@example.com", "gw_pro")
	require.NoError(t, err)

	assert.Equal(t, ResultCancelled, res.Kind)
	assert.Equal(t, 0, res.Credits)
	assert.Equal(t, 0, res.Quota)
	assert.Equal(t, 0, res.Level)
	assert.Equal(t, models.SubscriptionStatusCancelled, res.Status)
	assert.Nil(t, res.Expiry)

	subs, err := f.SubscriptionsByGatewayID("gw_pro")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, subs[0].Status)
}

func TestApplyCancellationPeriodEndPolicyKeepsEntitlements(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f, WithCancelPolicy(CancelPolicyPeriodEnd))
	end := testNow.Add(30 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Gail", Email: "gail@example.com",
		Credits: 1000, Quota: 3, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &end,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "gail@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow, EndDate: end,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	res, err := e.ApplyCancellation(context.Background(), "gail@example.com", "gw_pro")
	require.NoError(t, err)

	assert.Equal(t, ResultCancelScheduled, res.Kind)
	assert.Equal(t, 1000, res.Credits, "paid period is honored until expiry")
	assert.Equal(t, models.SubscriptionStatusActive, res.Status)

	subs, err := f.SubscriptionsByGatewayID("gw_pro")
	require.NoError(t, err)
	assert.True(t, subs[0].CancelAtPeriodEnd)
	assert.Equal(t, models.SubscriptionStatusActive, subs[0].Status)
}

func TestApplyCancellationUnknownSubscription(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)

	_, err := e.ApplyCancellation(context.Background(), "ghost@example.com", "gw_missing")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestReconcileExpiryClearsWhenNothingActive(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	past := testNow.Add(-time.Hour)
	seedUser(t, f, models.User{
		Name: "Hana", Email: "hana@example.com",
		Credits: 320, Quota: 3, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &past,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "hana@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow.Add(-31 * 24 * time.Hour), EndDate: past,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_pro", GatewayEventID: "evt_p",
	})

	res, err := e.ReconcileExpiry(context.Background(), "hana@example.com")
	require.NoError(t, err)

	assert.Equal(t, ResultExpired, res.Kind)
	assert.Equal(t, 0, res.Credits)
	assert.Equal(t, 0, res.Quota)
	assert.Equal(t, models.SubscriptionStatusExpired, res.Status)

	subs, err := f.SubscriptionsByGatewayID("gw_pro")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, subs[0].Status)
}

func TestReconcileExpiryDowngradesToHighestRemaining(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	past := testNow.Add(-time.Hour)
	basicEnd := testNow.Add(10 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Iris", Email: "iris@example.com",
		Credits: 10050, Quota: 50, PlanTier: TierEnterprise, PlanLevel: 4,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &past,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "iris@example.com", PlanTier: TierEnterprise, PlanLevel: 4,
		CreditsGranted: 10000, QuotaGranted: 50,
		StartDate: testNow.Add(-31 * 24 * time.Hour), EndDate: past,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_ent", GatewayEventID: "evt_e",
	})
	seedSubscription(t, f, models.Subscription{
		Email: "iris@example.com", PlanTier: TierBasic, PlanLevel: 1,
		CreditsGranted: 50, QuotaGranted: 1,
		StartDate: testNow.Add(-20 * 24 * time.Hour), EndDate: basicEnd,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_basic", GatewayEventID: "evt_b",
	})

	res, err := e.ReconcileExpiry(context.Background(), "iris@example.com")
	require.NoError(t, err)

	assert.Equal(t, ResultDowngradeExpired, res.Kind)
	assert.Equal(t, TierBasic, res.Tier)
	assert.Equal(t, 1, res.Level)
	assert.Equal(t, 1, res.Quota)
	assert.Equal(t, 10050, res.Credits, "accumulated credits survive an expiry downgrade")
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(basicEnd))
}

func TestReconcileExpiryIsReentrant(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	past := testNow.Add(-time.Hour)
	seedUser(t, f, models.User{
		Name: "Jo", Email: "jo@example.com",
		Credits: 100, Quota: 1, PlanTier: TierBasic, PlanLevel: 1,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &past,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "jo@example.com", PlanTier: TierBasic, PlanLevel: 1,
		CreditsGranted: 50, QuotaGranted: 1,
		StartDate: testNow.Add(-31 * 24 * time.Hour), EndDate: past,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_b", GatewayEventID: "evt_b",
	})

	first, err := e.ReconcileExpiry(context.Background(), "jo@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResultExpired, first.Kind)

	second, err := e.ReconcileExpiry(context.Background(), "jo@example.com")
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, second.Kind)

	user, err := f.GetUserByEmail("jo@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, user.Credits)
	assert.Equal(t, models.SubscriptionStatusExpired, user.SubscriptionStatus)
}

func TestActiveSetTieBreakPrefersLatestEndDate(t *testing.T) {
	f := newFakeRepository()
	e := newTestEngine(f)
	endEarly := testNow.Add(5 * 24 * time.Hour)
	endLate := testNow.Add(25 * 24 * time.Hour)
	seedUser(t, f, models.User{
		Name: "Kim", Email: "kim@example.com",
		Credits: 2000, Quota: 6, PlanTier: TierPro, PlanLevel: 2,
		SubscriptionStatus: models.SubscriptionStatusActive,
		SubscriptionExpiry: &endLate,
	})
	seedSubscription(t, f, models.Subscription{
		Email: "kim@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow.Add(-25 * 24 * time.Hour), EndDate: endEarly,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_p1", GatewayEventID: "evt_1",
	})
	seedSubscription(t, f, models.Subscription{
		Email: "kim@example.com", PlanTier: TierPro, PlanLevel: 2,
		CreditsGranted: 1000, QuotaGranted: 3,
		StartDate: testNow.Add(-5 * 24 * time.Hour), EndDate: endLate,
		Status: models.SubscriptionStatusActive, GatewaySubscriptionID: "gw_p2", GatewayEventID: "evt_2",
	})

	// A downgrade purchase pins against the later-ending row of the two
	// same-level subscriptions.
	res, err := e.ApplyPurchase(context.Background(), PurchaseInput{
		Email:                 "kim@example.com",
		PlanID:                "basic_monthly",
		PeriodStart:           testNow,
		PeriodEnd:             testNow.Add(30 * 24 * time.Hour),
		GatewaySubscriptionID: "gw_b",
		GatewayEventID:        "evt_3",
	})
	require.NoError(t, err)

	assert.Equal(t, ResultDowngradePoints, res.Kind)
	require.NotNil(t, res.Expiry)
	assert.True(t, res.Expiry.Equal(endLate))
}
