package billing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lumenshot/lumenshot/app/models"
	"gorm.io/gorm"
)

// fakeRepository is an in-memory Repository for engine and webhook tests.
// Transaction snapshots state up front and restores it when the callback
// fails, mirroring the rollback behavior of the real store.
type fakeRepository struct {
	mu    sync.Mutex
	users map[string]models.User
	subs  []models.Subscription
	txns  []models.ProcessedTransaction

	nextSubID  uint
	nextUserID uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:      make(map[string]models.User),
		nextSubID:  1,
		nextUserID: 1,
	}
}

func (f *fakeRepository) Transaction(_ context.Context, fn func(Repository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	usersBackup := make(map[string]models.User, len(f.users))
	for k, v := range f.users {
		usersBackup[k] = v
	}
	subsBackup := append([]models.Subscription(nil), f.subs...)
	txnsBackup := append([]models.ProcessedTransaction(nil), f.txns...)
	subID, userID := f.nextSubID, f.nextUserID

	if err := fn((*fakeTxRepository)(f)); err != nil {
		f.users = usersBackup
		f.subs = subsBackup
		f.txns = txnsBackup
		f.nextSubID, f.nextUserID = subID, userID
		return err
	}
	return nil
}

// fakeTxRepository is the transaction-scoped view; it shares state with the
// parent but must not re-lock the mutex.
type fakeTxRepository fakeRepository

func (f *fakeTxRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return fn(f)
}

func (f *fakeTxRepository) GetUserForUpdate(email string) (*models.User, error) {
	return f.getUser(email)
}

func (f *fakeTxRepository) GetUserByEmail(email string) (*models.User, error) {
	return f.getUser(email)
}

func (f *fakeTxRepository) getUser(email string) (*models.User, error) {
	u, ok := f.users[strings.ToLower(email)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := u
	return &copied, nil
}

func (f *fakeTxRepository) CreateUser(user *models.User) error {
	user.ID = f.nextUserID
	f.nextUserID++
	f.users[strings.ToLower(user.Email)] = *user
	return nil
}

func (f *fakeTxRepository) SaveUser(user *models.User) error {
	f.users[strings.ToLower(user.Email)] = *user
	return nil
}

func (f *fakeTxRepository) ActiveSubscriptions(email string, now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range f.subs {
		if strings.EqualFold(s.Email, email) && s.IsActiveAt(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlanLevel != out[j].PlanLevel {
			return out[i].PlanLevel > out[j].PlanLevel
		}
		if !out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].EndDate.After(out[j].EndDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeTxRepository) CreateSubscription(sub *models.Subscription) error {
	sub.ID = f.nextSubID
	f.nextSubID++
	f.subs = append(f.subs, *sub)
	return nil
}

func (f *fakeTxRepository) SaveSubscription(sub *models.Subscription) error {
	for i := range f.subs {
		if f.subs[i].ID == sub.ID {
			f.subs[i] = *sub
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeTxRepository) SubscriptionsByGatewayID(gatewaySubscriptionID string) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, s := range f.subs {
		if s.GatewaySubscriptionID == gatewaySubscriptionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].EndDate.After(out[j].EndDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (f *fakeTxRepository) SubscriptionByGatewayIDs(gatewaySubscriptionID, gatewayEventID string) (*models.Subscription, error) {
	for _, s := range f.subs {
		if s.GatewaySubscriptionID == gatewaySubscriptionID && s.GatewayEventID == gatewayEventID {
			copied := s
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeTxRepository) ExpireLapsedSubscriptions(email string, now time.Time) (int64, error) {
	var n int64
	for i := range f.subs {
		if strings.EqualFold(f.subs[i].Email, email) &&
			f.subs[i].Status == models.SubscriptionStatusActive &&
			!f.subs[i].EndDate.After(now) {
			f.subs[i].Status = models.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeTxRepository) IsEventProcessed(gatewayEventID, eventType string) (bool, error) {
	for _, t := range f.txns {
		if t.GatewayEventID == gatewayEventID && t.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTxRepository) RecordProcessedTransaction(txn *models.ProcessedTransaction) error {
	f.txns = append(f.txns, *txn)
	return nil
}

func (f *fakeTxRepository) EmailsNeedingExpiryCheck(now time.Time) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	add := func(email string) {
		key := strings.ToLower(email)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	for _, u := range f.users {
		if u.SubscriptionStatus == models.SubscriptionStatusActive &&
			u.SubscriptionExpiry != nil && !u.SubscriptionExpiry.After(now) {
			add(u.Email)
		}
	}
	for _, s := range f.subs {
		if s.Status == models.SubscriptionStatusActive && !s.EndDate.After(now) {
			add(s.Email)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Top-level (non-transactional) reads delegate to the tx view under the lock.

func (f *fakeRepository) GetUserForUpdate(email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).GetUserForUpdate(email)
}

func (f *fakeRepository) GetUserByEmail(email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).GetUserByEmail(email)
}

func (f *fakeRepository) CreateUser(user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).CreateUser(user)
}

func (f *fakeRepository) SaveUser(user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).SaveUser(user)
}

func (f *fakeRepository) ActiveSubscriptions(email string, now time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).ActiveSubscriptions(email, now)
}

func (f *fakeRepository) CreateSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).CreateSubscription(sub)
}

func (f *fakeRepository) SaveSubscription(sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).SaveSubscription(sub)
}

func (f *fakeRepository) SubscriptionsByGatewayID(id string) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).SubscriptionsByGatewayID(id)
}

func (f *fakeRepository) SubscriptionByGatewayIDs(subID, eventID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).SubscriptionByGatewayIDs(subID, eventID)
}

func (f *fakeRepository) ExpireLapsedSubscriptions(email string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).ExpireLapsedSubscriptions(email, now)
}

func (f *fakeRepository) IsEventProcessed(eventID, eventType string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).IsEventProcessed(eventID, eventType)
}

func (f *fakeRepository) RecordProcessedTransaction(txn *models.ProcessedTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).RecordProcessedTransaction(txn)
}

func (f *fakeRepository) EmailsNeedingExpiryCheck(now time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return (*fakeTxRepository)(f).EmailsNeedingExpiryCheck(now)
}
