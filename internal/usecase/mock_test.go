//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"mpesa-settlement/internal/domain"
	"mpesa-settlement/internal/domain/model"
	"mpesa-settlement/internal/domain/ports/adapter"
	"mpesa-settlement/internal/domain/ports/repository"
	"mpesa-settlement/internal/infra/i18n"
	"mpesa-settlement/internal/infra/security"
)

// =============================
// Repositories
// =============================

// ---- MockPaymentRepo: in-memory ledger keyed by provider request id ----

type MockPaymentRepo struct {
	mu   sync.Mutex
	data map[string]*model.PaymentRecord

	UpsertFunc                 func(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error
	FindByProviderRequestIDErr error
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo() *MockPaymentRepo {
	return &MockPaymentRepo{data: map[string]*model.PaymentRecord{}}
}

func (r *MockPaymentRepo) Upsert(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) error {
	if r.UpsertFunc != nil {
		return r.UpsertFunc(ctx, tx, p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.data[p.ProviderRequestID]; ok {
		if cur.Status == model.PaymentStatusPending {
			cur.MerchantRequestID = p.MerchantRequestID
			cur.AttemptID = p.AttemptID
		}
		return nil
	}
	cp := *p
	r.data[p.ProviderRequestID] = &cp
	return nil
}

func (r *MockPaymentRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, p *model.PaymentRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[p.ProviderRequestID]; ok {
		return false, nil
	}
	cp := *p
	r.data[p.ProviderRequestID] = &cp
	return true, nil
}

func (r *MockPaymentRepo) FindByProviderRequestID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRecord, error) {
	if r.FindByProviderRequestIDErr != nil {
		return nil, r.FindByProviderRequestIDErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MockPaymentRepo) FindLatestByCorrelationID(ctx context.Context, tx repository.Tx, correlationID, attemptID string, since time.Time) (*model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *model.PaymentRecord
	for _, p := range r.data {
		if p.CorrelationID != correlationID || p.CreatedAt.Before(since) {
			continue
		}
		switch {
		case best == nil:
			best = p
		case (p.AttemptID == attemptID) != (best.AttemptID == attemptID):
			if p.AttemptID == attemptID {
				best = p
			}
		case p.CreatedAt.After(best.CreatedAt):
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MockPaymentRepo) UpdateOutcomeIfPending(ctx context.Context, tx repository.Tx, id string, o *model.CallbackOutcome) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.ApplyOutcome(o)
	p.DeliveryCount++
	return true, nil
}

func (r *MockPaymentRepo) MarkPossibleDuplicate(ctx context.Context, tx repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.PossibleDuplicate = true
	p.DeliveryCount++
	return nil
}

func (r *MockPaymentRepo) MarkSubjectApplied(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok || p.Status != model.PaymentStatusSuccess {
		return domain.ErrNotFound
	}
	p.SubjectApplied = true
	p.SubjectAppliedAt = &at
	return nil
}

func (r *MockPaymentRepo) ListUnappliedSuccess(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	return r.filter(func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusSuccess && !p.SubjectApplied && p.UpdatedAt.Before(olderThan)
	}), nil
}

func (r *MockPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error) {
	return r.filter(func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan)
	}), nil
}

func (r *MockPaymentRepo) Summarize(ctx context.Context, tx repository.Tx, since time.Time) (*model.LedgerStats, error) {
	stats := model.NewLedgerStats(since)
	for _, p := range r.filter(func(p *model.PaymentRecord) bool { return !p.CreatedAt.Before(since) }) {
		stats.ByStatus[p.Status]++
		if p.PossibleDuplicate {
			stats.PossibleDuplicates++
		}
		if p.Status != model.PaymentStatusSuccess {
			continue
		}
		if !p.SubjectApplied {
			stats.UnappliedSuccess++
		}
		stats.SettledByPurpose[p.Purpose] += settledAmount(p)
	}
	return stats, nil
}

func (r *MockPaymentRepo) SumSettledSince(ctx context.Context, tx repository.Tx, since time.Time) (int64, error) {
	var total int64
	for _, p := range r.filter(func(p *model.PaymentRecord) bool {
		return p.Status == model.PaymentStatusSuccess && !p.UpdatedAt.Before(since)
	}) {
		total += settledAmount(p)
	}
	return total, nil
}

func settledAmount(p *model.PaymentRecord) int64 {
	if p.PaidAmount > 0 {
		return p.PaidAmount
	}
	return p.Amount
}

func (r *MockPaymentRepo) filter(keep func(*model.PaymentRecord) bool) []*model.PaymentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PaymentRecord
	for _, p := range r.data {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *MockPaymentRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- MockAuditRepo ----

type MockAuditRepo struct {
	mu    sync.Mutex
	Saved []*model.CallbackAudit
}

var _ repository.CallbackAuditRepository = (*MockAuditRepo)(nil)

func (r *MockAuditRepo) Save(ctx context.Context, tx repository.Tx, a *model.CallbackAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Saved = append(r.Saved, a)
	return nil
}

func (r *MockAuditRepo) ListRecent(ctx context.Context, tx repository.Tx, limit int) ([]*model.CallbackAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]*model.CallbackAudit(nil), r.Saved...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockAuditRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.CallbackAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Saved {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockAuditRepo) ListReplayable(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.CallbackAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CallbackAudit
	for _, a := range r.Saved {
		if a.Reason == model.OutcomeInternalFailed && a.ReplayedAt == nil && a.ReceivedAt.Before(olderThan) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockAuditRepo) MarkReplayed(ctx context.Context, tx repository.Tx, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.Saved {
		if a.ID == id && a.ReplayedAt == nil {
			a.ReplayedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (r *MockAuditRepo) Reasons() []model.ReconcileOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ReconcileOutcome
	for _, a := range r.Saved {
		out = append(out, a.Reason)
	}
	return out
}

// ---- MockSubscriptionRepo ----

type MockSubscriptionRepo struct {
	mu      sync.Mutex
	data    map[string]*model.Subscription
	applied map[string]bool

	RecordAppliedPaymentErr error
	// OnMiss runs once after a FindByAccountAndPlan miss, standing in for a concurrent writer.
	OnMiss func()
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{data: map[string]*model.Subscription{}, applied: map[string]bool{}}
}

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.data {
		if cur.ID != s.ID && cur.AccountID == s.AccountID && cur.PlanID == s.PlanID {
			return domain.ErrAlreadyExists
		}
	}
	cp := *s
	r.data[s.ID] = &cp
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *MockSubscriptionRepo) FindByAccountAndPlan(ctx context.Context, tx repository.Tx, accountID, planID string) (*model.Subscription, error) {
	r.mu.Lock()
	for _, s := range r.data {
		if s.AccountID == accountID && s.PlanID == planID {
			cp := *s
			r.mu.Unlock()
			return &cp, nil
		}
	}
	onMiss := r.OnMiss
	r.OnMiss = nil
	r.mu.Unlock()
	if onMiss != nil {
		onMiss()
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListPeriodEndingBetween(ctx context.Context, tx repository.Tx, from, to time.Time) ([]*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.data {
		if !s.PeriodEnd.Before(from) && s.PeriodEnd.Before(to) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockSubscriptionRepo) RecordAppliedPayment(ctx context.Context, tx repository.Tx, subscriptionID, providerRequestID string, amount int64, at time.Time) (bool, error) {
	if r.RecordAppliedPaymentErr != nil {
		return false, r.RecordAppliedPaymentErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied[providerRequestID] {
		return false, nil
	}
	r.applied[providerRequestID] = true
	return true, nil
}

// ---- MockPlanRepo ----

type MockPlanRepo struct {
	mu   sync.Mutex
	data map[string]*model.SubscriptionPlan
}

var _ repository.SubscriptionPlanRepository = (*MockPlanRepo)(nil)

func NewMockPlanRepo() *MockPlanRepo {
	return &MockPlanRepo{data: map[string]*model.SubscriptionPlan{}}
}

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.SubscriptionPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[p.ID] = p
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.data[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *MockPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.SubscriptionPlan
	for _, p := range r.data {
		out = append(out, p)
	}
	return out, nil
}

// ---- MockNotificationLogRepo ----

type MockNotificationLogRepo struct {
	mu   sync.Mutex
	data map[string]bool
	Err  error
}

var _ repository.NotificationLogRepository = (*MockNotificationLogRepo)(nil)

func NewMockNotificationLogRepo() *MockNotificationLogRepo {
	return &MockNotificationLogRepo{data: map[string]bool{}}
}

func notificationKey(subscriptionID, kind string, periodEnd time.Time) string {
	return subscriptionID + "|" + kind + "|" + periodEnd.UTC().Format(time.RFC3339Nano)
}

func (r *MockNotificationLogRepo) Exists(ctx context.Context, tx repository.Tx, subscriptionID, kind string, periodEnd time.Time) (bool, error) {
	if r.Err != nil {
		return false, r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[notificationKey(subscriptionID, kind, periodEnd)], nil
}

func (r *MockNotificationLogRepo) Save(ctx context.Context, tx repository.Tx, subscriptionID, accountID, kind string, periodEnd time.Time) error {
	if r.Err != nil {
		return r.Err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[notificationKey(subscriptionID, kind, periodEnd)] = true
	return nil
}

func (r *MockNotificationLogRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

// ---- MockTxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Adapters
// =============================

// ---- MockGateway: push requests are scripted, callbacks use a tiny JSON shape ----

type testCallback struct {
	ID      string `json:"id"`
	Code    int    `json:"code"`
	Desc    string `json:"desc"`
	Amount  int64  `json:"amount"`
	Receipt string `json:"receipt"`
}

func callbackBody(id string, code int, amount int64) []byte {
	desc := "The service request is processed successfully."
	receipt := "RCP" + id
	if code != 0 {
		desc = "Request cancelled by user"
		receipt = ""
	}
	b, _ := json.Marshal(testCallback{ID: id, Code: code, Desc: desc, Amount: amount, Receipt: receipt})
	return b
}

type MockGateway struct {
	mu       sync.Mutex
	Requests []adapter.PushRequest

	RequestPushFunc func(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error)
}

var _ adapter.PushPaymentGateway = (*MockGateway)(nil)

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) RequestPush(ctx context.Context, req adapter.PushRequest) (*adapter.PushResponse, error) {
	g.mu.Lock()
	g.Requests = append(g.Requests, req)
	g.mu.Unlock()
	if g.RequestPushFunc != nil {
		return g.RequestPushFunc(ctx, req)
	}
	return &adapter.PushResponse{ProviderRequestID: "ws_CO_" + uuid.NewString(), MerchantRequestID: "m-1"}, nil
}

func (g *MockGateway) ParseCallback(raw []byte) (*model.CallbackOutcome, error) {
	var cb testCallback
	if err := json.Unmarshal(raw, &cb); err != nil || cb.ID == "" {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseablePayload, err)
	}
	return &model.CallbackOutcome{
		ProviderRequestID: cb.ID,
		ResultCode:        cb.Code,
		ResultDesc:        cb.Desc,
		Amount:            cb.Amount,
		ReceiptNumber:     cb.Receipt,
		ProviderTimestamp: time.Now().UTC().Truncate(time.Second),
	}, nil
}

// ---- MockSubject: idempotent on provider request id, like a real collaborator ----

type MockSubject struct {
	mu      sync.Mutex
	Calls   int
	Applied map[string]int64

	Err error
}

var _ adapter.SettlementSubject = (*MockSubject)(nil)

func NewMockSubject() *MockSubject { return &MockSubject{Applied: map[string]int64{}} }

func (s *MockSubject) ApplySuccessfulPayment(ctx context.Context, req adapter.SettlementRequest) (adapter.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if _, ok := s.Applied[req.ProviderRequestID]; ok {
		return adapter.ApplyAlreadyApplied, nil
	}
	s.Applied[req.ProviderRequestID] = req.Amount
	return adapter.ApplyApplied, nil
}

func (s *MockSubject) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, v := range s.Applied {
		sum += v
	}
	return sum
}

// ---- MockLocker ----

type MockLocker struct {
	mu   sync.Mutex
	held map[string]string
	Err  error
}

var _ adapter.Locker = (*MockLocker)(nil)

func NewMockLocker() *MockLocker { return &MockLocker{held: map[string]string{}} }

func (l *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", l.Err
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockBusy
	}
	tok := uuid.NewString()
	l.held[key] = tok
	return tok, nil
}

func (l *MockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("unlock token mismatch")
	}
	delete(l.held, key)
	return nil
}

// ---- MockRateLimiter ----

type MockRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	Err    error
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
	return m.counts[key] <= limit, nil
}

// ---- MockDeduper ----

type MockDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	Err  error
}

var _ adapter.Deduper = (*MockDeduper)(nil)

func (d *MockDeduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if d.Err != nil {
		return false, d.Err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

// ---- MockNotifier / MockAlerter ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []adapter.Notification
	Err  error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (n *MockNotifier) Notify(ctx context.Context, msg adapter.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Sent = append(n.Sent, msg)
	return nil
}

func (n *MockNotifier) Kinds() []adapter.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []adapter.NotificationKind
	for _, m := range n.Sent {
		out = append(out, m.Kind)
	}
	return out
}

type MockAlerter struct {
	mu     sync.Mutex
	Alerts []adapter.Alert
}

var _ adapter.Alerter = (*MockAlerter)(nil)

func (a *MockAlerter) Alert(ctx context.Context, al adapter.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Alerts = append(a.Alerts, al)
	return nil
}

func (a *MockAlerter) Titles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.Alerts {
		out = append(out, al.Title)
	}
	return out
}

// =============================
// Helpers
// =============================

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestTranslator() *i18n.Translator {
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		panic(err)
	}
	return tr
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCodec() (*security.TokenCodec, *testClock) {
	clock := &testClock{t: time.Now().Truncate(time.Second)}
	codec, err := security.NewTokenCodec([]byte("0123456789abcdef0123456789abcdef"), security.WithClock(clock.Now))
	if err != nil {
		panic(err)
	}
	return codec, clock
}

func newTestSealer() *security.PayloadCipher {
	c, err := security.NewPayloadCipher("0123456789abcdef0123456789abcdef")
	if err != nil {
		panic(err)
	}
	return c
}
