package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

// fakeStore is an in-memory repository.Querier and QueryStore. Individual
// queries lock per call; RunInTx additionally serializes whole transaction
// bodies, which is enough isolation for the settlement paths under test.
// There is no rollback: a failing transaction body may leave partial writes,
// so tests only drive failure paths that write nothing before failing.
type fakeStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	users        map[uuid.UUID]*models.User
	transactions map[int64]*models.Transaction
	auditLog     []repository.AuditLogParams

	nextTxID int64
	clock    time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[uuid.UUID]*models.User),
		transactions: make(map[int64]*models.Transaction),
		clock:        time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) Queries() repository.Querier { return f }

func (f *fakeStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	return fn(f)
}

// tick advances the fake clock so every transaction gets a distinct dt.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) CreateUser(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Fullname == user.Fullname {
			return models.ErrUsernameTaken
		}
	}
	u := *user
	u.PasswordSetTime = f.clock
	u.CreatedAt = f.clock
	f.users[u.ID] = &u
	user.PasswordSetTime = u.PasswordSetTime
	user.CreatedAt = u.CreatedAt
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetUserByName(ctx context.Context, fullname string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Fullname == fullname {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (f *fakeStore) UpdateUserPassword(ctx context.Context, id uuid.UUID, hashedPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return models.ErrUserNotFound
	}
	u.HashedPassword = hashedPassword
	u.PasswordSetTime = f.tick()
	return nil
}

func (f *fakeStore) GetBalance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return decimal.Zero, models.ErrUserNotFound
	}
	return u.Balance, nil
}

func (f *fakeStore) GetBalanceForUpdate(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	return f.GetBalance(ctx, id)
}

func (f *fakeStore) DebitBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.Balance.LessThan(amount) {
		return 0, nil
	}
	u.Balance = u.Balance.Sub(amount)
	return 1, nil
}

func (f *fakeStore) CreditBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return 0, nil
	}
	u.Balance = u.Balance.Add(amount)
	return 1, nil
}

func (f *fakeStore) InsertTransaction(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal) (*models.TransferReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTxID++
	t := &models.Transaction{
		ID:         f.nextTxID,
		Dt:         f.tick(),
		FromUserID: uuid.NullUUID{UUID: from, Valid: true},
		ToUserID:   uuid.NullUUID{UUID: to, Valid: true},
		Amount:     amount,
		Status:     domain.TxStatusCreated,
	}
	f.transactions[t.ID] = t
	return &models.TransferReceipt{ID: t.ID, Dt: t.Dt, Status: t.Status}, nil
}

func (f *fakeStore) GetTransactionForUpdate(ctx context.Context, id int64) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, id int64, status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transactions[id]
	if !ok {
		return 0, nil
	}
	t.Status = status
	return 1, nil
}

func (f *fakeStore) CountTransactionsForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, t := range f.transactions {
		if (t.FromUserID.Valid && t.FromUserID.UUID == userID) ||
			(t.ToUserID.Valid && t.ToUserID.UUID == userID) {
			total++
		}
	}
	return total, nil
}

func (f *fakeStore) ListHistory(ctx context.Context, p repository.HistoryParams) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches := func(t *models.Transaction) bool {
		if p.DtStart != nil && t.Dt.Before(*p.DtStart) {
			return false
		}
		if p.DtEnd != nil && t.Dt.After(*p.DtEnd) {
			return false
		}
		if p.Status != nil && t.Status != *p.Status {
			return false
		}
		return true
	}

	var entries []models.HistoryEntry
	for _, t := range f.transactions {
		if !matches(t) {
			continue
		}
		if t.FromUserID.Valid && t.FromUserID.UUID == p.UserID {
			entries = append(entries, models.HistoryEntry{
				ID:        t.ID,
				Date:      t.Dt,
				Direction: domain.DirectionOutcome,
				Amount:    t.Amount.Neg(),
				Status:    t.Status,
			})
		}
		if t.ToUserID.Valid && t.ToUserID.UUID == p.UserID {
			entries = append(entries, models.HistoryEntry{
				ID:        t.ID,
				Date:      t.Dt,
				Direction: domain.DirectionIncome,
				Amount:    t.Amount,
				Status:    t.Status,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.After(entries[j].Date)
		}
		return entries[i].ID > entries[j].ID
	})

	start := int(p.Offset)
	if start > len(entries) {
		start = len(entries)
	}
	end := start + int(p.Limit)
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end], nil
}

func (f *fakeStore) ListUnsettledTransactionIDs(ctx context.Context, cutoff time.Time, limit int32) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, t := range f.transactions {
		if !domain.IsTerminalStatus(t.Status) && t.Dt.Before(cutoff) {
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if int32(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeStore) CountNegativeBalances(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, u := range f.users {
		if u.Balance.IsNegative() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountStuckSettlements(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.transactions {
		if t.Status == domain.TxStatusProcessed && t.Dt.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, p repository.AuditLogParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditLog = append(f.auditLog, p)
	return nil
}

var _ repository.Querier = (*fakeStore)(nil)
var _ QueryStore = (*fakeStore)(nil)

// seedUser inserts a user with a known balance and a weak test hash.
func seedUser(t *testing.T, f *fakeStore, name, balance string) uuid.UUID {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &models.User{
		ID:             uuid.New(),
		Fullname:       name,
		HashedPassword: string(hashed),
		Balance:        mustDecimal(t, balance),
	}
	if err := f.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u.ID
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}
