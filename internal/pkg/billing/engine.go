package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lumenshot/lumenshot/app/models"
	"gorm.io/gorm"
)

// CancelPolicy decides what happens to entitlements when a subscription is
// cancelled. The historical behavior is an immediate hard stop; honoring the
// remaining paid period is available as an explicit configuration choice.
type CancelPolicy string

const (
	CancelPolicyImmediate CancelPolicy = "immediate"
	CancelPolicyPeriodEnd CancelPolicy = "period_end"
)

// Engine computes and persists a user's entitlement state from purchase,
// renewal, cancellation and expiry events. Every public operation runs as one
// atomic transaction with the target user row locked, so concurrent events for
// the same user serialize instead of losing updates.
type Engine struct {
	repo         Repository
	cancelPolicy CancelPolicy
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCancelPolicy overrides the default immediate-cancel behavior.
func WithCancelPolicy(p CancelPolicy) Option {
	return func(e *Engine) { e.cancelPolicy = p }
}

// WithClock injects a time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reconciliation engine from an injected repository.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:         repo,
		cancelPolicy: CancelPolicyImmediate,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEngineFromDB creates a reconciliation engine from a GORM DB handle.
func NewEngineFromDB(db *gorm.DB, opts ...Option) *Engine {
	return NewEngine(NewRepository(db), opts...)
}

// ApplyPurchase reconciles a purchased plan against the user's current active
// set and persists the result. Calling it again with the same gateway
// subscription/event ids returns the stored state without granting twice.
func (e *Engine) ApplyPurchase(ctx context.Context, in PurchaseInput) (*Result, error) {
	plan, ok := GetPlan(in.PlanID)
	if !ok {
		return nil, ErrUnknownPlan
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		return nil, ErrInvalidPeriod
	}

	var result *Result
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		result, err = e.applyPurchase(tx, plan, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyPurchase(tx Repository, plan Plan, in PurchaseInput) (*Result, error) {
	email := strings.TrimSpace(in.Email)

	// A purchase that was applied but whose ledger write failed leaves this
	// row behind; finding it means the grant already happened.
	if existing, err := tx.SubscriptionByGatewayIDs(in.GatewaySubscriptionID, in.GatewayEventID); err == nil && existing != nil {
		user, err := tx.GetUserByEmail(email)
		if err != nil {
			return nil, err
		}
		res := snapshotResult(ResultNoop, user)
		res.Duplicate = true
		return res, nil
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := e.now()
	user, err := tx.GetUserForUpdate(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Paying customers the identity provider has not delivered yet still
		// get a user row; login later attaches to it by email.
		user = &models.User{
			Name:               email,
			Email:              email,
			Role:               models.ROLE_USER,
			Status:             models.STATUS_ACTIVE,
			SubscriptionStatus: models.SubscriptionStatusNone,
		}
		if err := tx.CreateUser(user); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	active, err := tx.ActiveSubscriptions(email, now)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		Email:                 email,
		PlanTier:              plan.Tier,
		PlanLevel:             plan.Level,
		BillingCycle:          plan.BillingCycle,
		Price:                 plan.Price,
		CreditsGranted:        plan.Credits,
		QuotaGranted:          plan.Quota,
		StartDate:             in.PeriodStart,
		EndDate:               in.PeriodEnd,
		Status:                models.SubscriptionStatusActive,
		GatewaySubscriptionID: in.GatewaySubscriptionID,
		GatewayEventID:        in.GatewayEventID,
		RecordType:            models.RecordTypeNormal,
	}

	var kind ResultKind
	switch {
	case len(active) == 0:
		// First purchase (or everything lapsed): the plan's grants become the
		// whole entitlement state.
		kind = ResultNew
		user.Credits = plan.Credits
		user.Quota = plan.Quota
		user.PlanTier = plan.Tier
		user.PlanLevel = plan.Level
		user.SubscriptionExpiry = timePtr(in.PeriodEnd)

	default:
		highest := active[0] // ordered: level desc, end_date desc, id desc
		sumCredits := 0
		sumQuota := 0
		for _, s := range active {
			sumCredits += s.CreditsGranted
			sumQuota += s.QuotaGranted
		}

		switch {
		case plan.Level > highest.PlanLevel:
			// Upgrade: new quota replaces, credits accumulate across all
			// active grants plus the new one.
			kind = ResultUpgrade
			user.Credits = sumCredits + plan.Credits
			user.Quota = plan.Quota
			user.PlanTier = plan.Tier
			user.PlanLevel = plan.Level
			user.SubscriptionExpiry = timePtr(in.PeriodEnd)

		case plan.Level < highest.PlanLevel:
			// Downgrade: the user keeps their best active entitlement; the
			// purchase only adds credits. The row is tagged so reporting can
			// tell these grants apart.
			kind = ResultDowngradePoints
			sub.RecordType = models.RecordTypePointsOnly
			user.Credits = sumCredits + plan.Credits
			user.Quota = highest.QuotaGranted
			user.PlanTier = highest.PlanTier
			user.PlanLevel = highest.PlanLevel
			user.SubscriptionExpiry = timePtr(highest.EndDate)

		default:
			// Same level: quota is additive here, unlike the upgrade path.
			kind = ResultSameLevel
			user.Credits = sumCredits + plan.Credits
			user.Quota = sumQuota + plan.Quota
			user.PlanTier = plan.Tier
			user.PlanLevel = plan.Level
			user.SubscriptionExpiry = timePtr(in.PeriodEnd)
		}
	}

	user.SubscriptionStatus = models.SubscriptionStatusActive
	if err := tx.CreateSubscription(sub); err != nil {
		return nil, err
	}
	if err := tx.SaveUser(user); err != nil {
		return nil, err
	}
	return snapshotResult(kind, user), nil
}

// ApplyRenewal extends the billing period of the subscription identified by
// the gateway subscription id. Quota resets to the plan's original grant;
// credits are untouched. No new subscription row is created.
func (e *Engine) ApplyRenewal(ctx context.Context, email, gatewaySubscriptionID string, newPeriodEnd time.Time) (*Result, error) {
	var result *Result
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		result, err = e.applyRenewal(tx, email, gatewaySubscriptionID, newPeriodEnd)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyRenewal(tx Repository, email, gatewaySubscriptionID string, newPeriodEnd time.Time) (*Result, error) {
	subs, err := tx.SubscriptionsByGatewayID(gatewaySubscriptionID)
	if err != nil {
		return nil, err
	}
	sub := latestRenewable(subs)
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	if email != "" && !strings.EqualFold(sub.Email, email) {
		return nil, ErrSubscriptionNotFound
	}

	user, err := tx.GetUserForUpdate(sub.Email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	// Re-delivered renewal: the period was already extended, nothing to do.
	if !newPeriodEnd.After(sub.EndDate) {
		res := snapshotResult(ResultNoop, user)
		res.Duplicate = true
		return res, nil
	}

	sub.EndDate = newPeriodEnd
	sub.Status = models.SubscriptionStatusActive
	if err := tx.SaveSubscription(sub); err != nil {
		return nil, err
	}

	user.Quota = sub.QuotaGranted
	user.SubscriptionStatus = models.SubscriptionStatusActive
	user.SubscriptionExpiry = timePtr(newPeriodEnd)
	if err := tx.SaveUser(user); err != nil {
		return nil, err
	}
	return snapshotResult(ResultRenewal, user), nil
}

// ApplyCancellation terminates the subscription identified by the gateway
// subscription id. Under the immediate policy all entitlements are cleared on
// the spot; under the period-end policy the rows are flagged and the sweeper
// retires them when their period lapses.
func (e *Engine) ApplyCancellation(ctx context.Context, email, gatewaySubscriptionID string) (*Result, error) {
	var result *Result
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		result, err = e.applyCancellation(tx, email, gatewaySubscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) applyCancellation(tx Repository, email, gatewaySubscriptionID string) (*Result, error) {
	subs, err := tx.SubscriptionsByGatewayID(gatewaySubscriptionID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionNotFound
	}
	owner := subs[0].Email
	if email != "" && !strings.EqualFold(owner, email) {
		return nil, ErrSubscriptionNotFound
	}

	user, err := tx.GetUserForUpdate(owner)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	if e.cancelPolicy == CancelPolicyPeriodEnd {
		for i := range subs {
			if subs[i].Status != models.SubscriptionStatusActive || subs[i].CancelAtPeriodEnd {
				continue
			}
			subs[i].CancelAtPeriodEnd = true
			if err := tx.SaveSubscription(&subs[i]); err != nil {
				return nil, err
			}
		}
		return snapshotResult(ResultCancelScheduled, user), nil
	}

	for i := range subs {
		if subs[i].Status == models.SubscriptionStatusActive {
			subs[i].Status = models.SubscriptionStatusCancelled
			if err := tx.SaveSubscription(&subs[i]); err != nil {
				return nil, err
			}
		}
	}

	user.ClearEntitlements(models.SubscriptionStatusCancelled)
	if err := tx.SaveUser(user); err != nil {
		return nil, err
	}
	return snapshotResult(ResultCancelled, user), nil
}

// ReconcileExpiry retires lapsed subscription rows for the user and recomputes
// the aggregate from whatever active set remains. Running it on an
// already-corrected user is a no-op, so the sweeper can safely re-enter.
func (e *Engine) ReconcileExpiry(ctx context.Context, email string) (*Result, error) {
	var result *Result
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		var err error
		result, err = e.reconcileExpiry(tx, email)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) reconcileExpiry(tx Repository, email string) (*Result, error) {
	now := e.now()

	user, err := tx.GetUserForUpdate(email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	} else if err != nil {
		return nil, err
	}

	if _, err := tx.ExpireLapsedSubscriptions(email, now); err != nil {
		return nil, err
	}

	active, err := tx.ActiveSubscriptions(email, now)
	if err != nil {
		return nil, err
	}

	if len(active) == 0 {
		if user.SubscriptionStatus != models.SubscriptionStatusActive &&
			user.Credits == 0 && user.Quota == 0 && user.PlanLevel == 0 {
			return snapshotResult(ResultNoop, user), nil
		}
		user.ClearEntitlements(models.SubscriptionStatusExpired)
		if err := tx.SaveUser(user); err != nil {
			return nil, err
		}
		return snapshotResult(ResultExpired, user), nil
	}

	// An overlapping subscription is still valid: pin tier/quota to the
	// highest-level active row. Accumulated credits survive.
	highest := active[0]
	if user.SubscriptionStatus == models.SubscriptionStatusActive &&
		user.PlanLevel == highest.PlanLevel &&
		user.PlanTier == highest.PlanTier &&
		user.Quota == highest.QuotaGranted &&
		user.SubscriptionExpiry != nil &&
		user.SubscriptionExpiry.Equal(highest.EndDate) {
		return snapshotResult(ResultNoop, user), nil
	}

	user.PlanTier = highest.PlanTier
	user.PlanLevel = highest.PlanLevel
	user.Quota = highest.QuotaGranted
	user.SubscriptionStatus = models.SubscriptionStatusActive
	user.SubscriptionExpiry = timePtr(highest.EndDate)
	if err := tx.SaveUser(user); err != nil {
		return nil, err
	}
	return snapshotResult(ResultDowngradeExpired, user), nil
}

func latestRenewable(subs []models.Subscription) *models.Subscription {
	for i := range subs {
		if subs[i].Status != models.SubscriptionStatusCancelled {
			return &subs[i]
		}
	}
	return nil
}

func snapshotResult(kind ResultKind, user *models.User) *Result {
	return &Result{
		Kind:    kind,
		Email:   user.Email,
		Tier:    user.PlanTier,
		Level:   user.PlanLevel,
		Credits: user.Credits,
		Quota:   user.Quota,
		Status:  user.SubscriptionStatus,
		Expiry:  user.SubscriptionExpiry,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
