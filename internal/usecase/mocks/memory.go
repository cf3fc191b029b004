package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/iho/cashflow/internal/domain"
	"github.com/iho/cashflow/internal/usecase"
)

// Memory* types are in-memory implementations of the usecase interfaces.
// Each exported *Func field, when set, replaces the in-memory behavior of
// the method it is named after.

func cloneObligation(o domain.Obligation) domain.Obligation {
	switch v := o.(type) {
	case *domain.FixedItem:
		c := *v
		return &c
	case *domain.InstallmentPlan:
		c := *v
		return &c
	case *domain.Loan:
		c := *v
		return &c
	case *domain.Subscription:
		c := *v
		return &c
	default:
		return o
	}
}

// MemoryObligationRepository is an in-memory ObligationRepository.
type MemoryObligationRepository struct {
	mu          sync.RWMutex
	obligations map[string]domain.Obligation

	ListByOwnerFunc    func(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error)
	UpdateProgressFunc func(ctx context.Context, tx usecase.Transaction, id string, counter int, active bool, updatedAt time.Time) error
}

func NewMemoryObligationRepository(obligations ...domain.Obligation) *MemoryObligationRepository {
	m := &MemoryObligationRepository{obligations: make(map[string]domain.Obligation)}
	for _, o := range obligations {
		m.obligations[o.Common().ID] = cloneObligation(o)
	}
	return m
}

func (m *MemoryObligationRepository) Create(ctx context.Context, o domain.Obligation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obligations[o.Common().ID] = cloneObligation(o)
	return nil
}

func (m *MemoryObligationRepository) GetByID(ctx context.Context, id string) (domain.Obligation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if o, ok := m.obligations[id]; ok {
		return cloneObligation(o), nil
	}
	return nil, domain.ErrObligationNotFound
}

func (m *MemoryObligationRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (domain.Obligation, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryObligationRepository) ListByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]domain.Obligation, error) {
	if m.ListByOwnerFunc != nil {
		return m.ListByOwnerFunc(ctx, ownerID, activeOnly)
	}
	return m.list(func(o domain.Obligation) bool {
		return o.Common().OwnerID == ownerID && (!activeOnly || o.Common().Active)
	}), nil
}

func (m *MemoryObligationRepository) ListCounted(ctx context.Context) ([]domain.Obligation, error) {
	return m.list(func(o domain.Obligation) bool {
		_, counted := domain.Counter(o)
		return counted
	}), nil
}

func (m *MemoryObligationRepository) ListOwnersWithActive(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, o := range m.list(func(o domain.Obligation) bool { return o.Common().Active }) {
		seen[o.Common().OwnerID] = struct{}{}
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (m *MemoryObligationRepository) UpdateProgress(ctx context.Context, tx usecase.Transaction, id string, counter int, active bool, updatedAt time.Time) error {
	if m.UpdateProgressFunc != nil {
		return m.UpdateProgressFunc(ctx, tx, id, counter, active, updatedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.obligations[id]
	if !ok {
		return domain.ErrObligationNotFound
	}
	switch v := o.(type) {
	case *domain.InstallmentPlan:
		v.PeriodsCompleted = counter
	case *domain.Loan:
		v.PaymentsMade = counter
	}
	o.Common().Active = active
	o.Common().UpdatedAt = updatedAt
	return nil
}

func (m *MemoryObligationRepository) Deactivate(ctx context.Context, id string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.obligations[id]
	if !ok {
		return domain.ErrObligationNotFound
	}
	o.Common().Active = false
	o.Common().UpdatedAt = updatedAt
	return nil
}

func (m *MemoryObligationRepository) list(keep func(domain.Obligation) bool) []domain.Obligation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Obligation
	for _, o := range m.obligations {
		if keep(o) {
			out = append(out, cloneObligation(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Common().ID < out[j].Common().ID })
	return out
}

// MemoryLedgerRepository is an in-memory LedgerRepository that enforces the
// one-transaction-per-period rule.
type MemoryLedgerRepository struct {
	mu   sync.RWMutex
	txns map[string]*domain.LedgerTransaction

	DeleteFunc       func(ctx context.Context, tx usecase.Transaction, id string) error
	FindByPeriodFunc func(ctx context.Context, obligationID string, periodIndex int) (*domain.LedgerTransaction, error)
}

func NewMemoryLedgerRepository() *MemoryLedgerRepository {
	return &MemoryLedgerRepository{txns: make(map[string]*domain.LedgerTransaction)}
}

func (m *MemoryLedgerRepository) Create(ctx context.Context, tx usecase.Transaction, txn *domain.LedgerTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key, ok := txn.Key(); ok {
		for _, existing := range m.txns {
			if k, ok := existing.Key(); ok && k == key {
				return domain.ErrMaterializationConflict
			}
		}
	}
	c := *txn
	m.txns[txn.ID] = &c
	return nil
}

func (m *MemoryLedgerRepository) GetByID(ctx context.Context, id string) (*domain.LedgerTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.txns[id]; ok {
		c := *t
		return &c, nil
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *MemoryLedgerRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.LedgerTransaction, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryLedgerRepository) Delete(ctx context.Context, tx usecase.Transaction, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, tx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[id]; !ok {
		return domain.ErrTransactionNotFound
	}
	delete(m.txns, id)
	return nil
}

func (m *MemoryLedgerRepository) FindByPeriod(ctx context.Context, obligationID string, periodIndex int) (*domain.LedgerTransaction, error) {
	if m.FindByPeriodFunc != nil {
		return m.FindByPeriodFunc(ctx, obligationID, periodIndex)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := domain.PeriodKey{ObligationID: obligationID, PeriodIndex: periodIndex}
	for _, t := range m.txns {
		if k, ok := t.Key(); ok && k == want {
			c := *t
			return &c, nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

func (m *MemoryLedgerRepository) ListMaterializedPeriods(ctx context.Context, ownerID string, from, to time.Time) ([]domain.PeriodKey, error) {
	var keys []domain.PeriodKey
	for _, t := range m.All() {
		k, ok := t.Key()
		if !ok || t.OwnerID != ownerID || t.OccurredOn.Before(from) || t.OccurredOn.After(to) {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryLedgerRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*domain.LedgerTransaction, error) {
	var out []*domain.LedgerTransaction
	for _, t := range m.All() {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	slices.Reverse(out)
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *MemoryLedgerRepository) CountMaterialized(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, t := range m.All() {
		if k, ok := t.Key(); ok {
			counts[k.ObligationID]++
		}
	}
	return counts, nil
}

// All returns every stored transaction ordered by occurrence date and ID.
func (m *MemoryLedgerRepository) All() []*domain.LedgerTransaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.LedgerTransaction, 0, len(m.txns))
	for _, t := range m.txns {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredOn.Equal(out[j].OccurredOn) {
			return out[i].OccurredOn.Before(out[j].OccurredOn)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MemoryBalanceRepository is an in-memory BalanceRepository.
type MemoryBalanceRepository struct {
	mu        sync.RWMutex
	snapshots []*domain.BalanceSnapshot

	InsertFunc func(ctx context.Context, tx usecase.Transaction, snapshot *domain.BalanceSnapshot) error
}

func NewMemoryBalanceRepository(snapshots ...*domain.BalanceSnapshot) *MemoryBalanceRepository {
	m := &MemoryBalanceRepository{}
	for _, s := range snapshots {
		c := *s
		m.snapshots = append(m.snapshots, &c)
	}
	return m
}

func (m *MemoryBalanceRepository) LockScope(ctx context.Context, tx usecase.Transaction, ownerID, scope string) error {
	return nil
}

func (m *MemoryBalanceRepository) GetCurrent(ctx context.Context, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.IsCurrent && s.OwnerID == ownerID && s.Scope == scope {
			c := *s
			return &c, nil
		}
	}
	return nil, domain.ErrBalanceNotFound
}

func (m *MemoryBalanceRepository) GetCurrentTx(ctx context.Context, tx usecase.Transaction, ownerID, scope string) (*domain.BalanceSnapshot, error) {
	return m.GetCurrent(ctx, ownerID, scope)
}

func (m *MemoryBalanceRepository) ClearCurrent(ctx context.Context, tx usecase.Transaction, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.ID == id {
			s.IsCurrent = false
		}
	}
	return nil
}

func (m *MemoryBalanceRepository) Insert(ctx context.Context, tx usecase.Transaction, snapshot *domain.BalanceSnapshot) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, snapshot)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if snapshot.IsCurrent {
		for _, s := range m.snapshots {
			if s.IsCurrent && s.OwnerID == snapshot.OwnerID && s.Scope == snapshot.Scope {
				return domain.ErrDuplicateCurrentBalance
			}
		}
	}
	c := *snapshot
	m.snapshots = append(m.snapshots, &c)
	return nil
}

func (m *MemoryBalanceRepository) ListCurrent(ctx context.Context, ownerID string) ([]*domain.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.BalanceSnapshot
	for _, s := range m.snapshots {
		if s.IsCurrent && s.OwnerID == ownerID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (m *MemoryBalanceRepository) History(ctx context.Context, ownerID, scope string, limit, offset int) ([]*domain.BalanceSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.BalanceSnapshot
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		s := m.snapshots[i]
		if s.OwnerID == ownerID && s.Scope == scope {
			c := *s
			out = append(out, &c)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *MemoryBalanceRepository) FindMultipleCurrent(ctx context.Context) ([]usecase.CurrentBalanceCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[[2]string]int)
	for _, s := range m.snapshots {
		if s.IsCurrent {
			counts[[2]string{s.OwnerID, s.Scope}]++
		}
	}
	var out []usecase.CurrentBalanceCount
	for k, n := range counts {
		if n > 1 {
			out = append(out, usecase.CurrentBalanceCount{OwnerID: k[0], Scope: k[1], Count: n})
		}
	}
	return out, nil
}

// ForceCurrent appends a current snapshot without checking for an existing
// one, producing the state a broken writer would leave behind.
func (m *MemoryBalanceRepository) ForceCurrent(s *domain.BalanceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	c.IsCurrent = true
	m.snapshots = append(m.snapshots, &c)
}

// MemoryAlertRepository is an in-memory AlertRepository.
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*domain.Alert
	writes int
}

func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*domain.Alert)}
}

func (m *MemoryAlertRepository) Create(ctx context.Context, tx usecase.Transaction, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.OwnerID == alert.OwnerID && a.DedupKey == alert.DedupKey {
			return domain.ErrDuplicateAlert
		}
	}
	c := *alert
	m.alerts[alert.ID] = &c
	m.writes++
	return nil
}

func (m *MemoryAlertRepository) GetByID(ctx context.Context, id string) (*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.alerts[id]; ok {
		c := *a
		return &c, nil
	}
	return nil, domain.ErrAlertNotFound
}

func (m *MemoryAlertRepository) GetByDedupKey(ctx context.Context, ownerID, dedupKey string) (*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.OwnerID == ownerID && a.DedupKey == dedupKey {
			c := *a
			return &c, nil
		}
	}
	return nil, domain.ErrAlertNotFound
}

func (m *MemoryAlertRepository) UpdateComputed(ctx context.Context, tx usecase.Transaction, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alert.ID]
	if !ok {
		return domain.ErrAlertNotFound
	}
	a.Severity = alert.Severity
	a.Message = alert.Message
	a.Amount = alert.Amount
	a.DueDate = alert.DueDate
	a.UpdatedAt = alert.UpdatedAt
	m.writes++
	return nil
}

func (m *MemoryAlertRepository) UpdateState(ctx context.Context, alert *domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alert.ID]
	if !ok {
		return domain.ErrAlertNotFound
	}
	a.Read = alert.Read
	a.Dismissed = alert.Dismissed
	a.SnoozedUntil = alert.SnoozedUntil
	a.UpdatedAt = alert.UpdatedAt
	m.writes++
	return nil
}

func (m *MemoryAlertRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Alert
	for _, a := range m.alerts {
		if a.OwnerID == ownerID {
			c := *a
			out = append(out, &c)
		}
	}
	return out, nil
}

// Writes returns the number of stored creates and updates.
func (m *MemoryAlertRepository) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// MemoryThresholdRepository is an in-memory ThresholdRepository.
type MemoryThresholdRepository struct {
	mu         sync.RWMutex
	thresholds map[string]domain.AlertThresholds
}

func NewMemoryThresholdRepository() *MemoryThresholdRepository {
	return &MemoryThresholdRepository{thresholds: make(map[string]domain.AlertThresholds)}
}

func (m *MemoryThresholdRepository) Get(ctx context.Context, ownerID string) (*domain.AlertThresholds, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.thresholds[ownerID]; ok {
		return &t, nil
	}
	return nil, domain.ErrNoThresholds
}

func (m *MemoryThresholdRepository) Upsert(ctx context.Context, t *domain.AlertThresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[t.OwnerID] = *t
	return nil
}

// MemoryRunRepository is an in-memory RunRepository.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs []*domain.ProcessingRun
}

func NewMemoryRunRepository(runs ...*domain.ProcessingRun) *MemoryRunRepository {
	return &MemoryRunRepository{runs: runs}
}

func (m *MemoryRunRepository) Create(ctx context.Context, run *domain.ProcessingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *run
	m.runs = append(m.runs, &c)
	return nil
}

func (m *MemoryRunRepository) Update(ctx context.Context, run *domain.ProcessingRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.runs {
		if r.ID == run.ID {
			c := *run
			m.runs[i] = &c
			return nil
		}
	}
	return domain.ErrRunNotFound
}

func (m *MemoryRunRepository) GetByID(ctx context.Context, id string) (*domain.ProcessingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.runs {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrRunNotFound
}

func (m *MemoryRunRepository) List(ctx context.Context, limit, offset int) ([]*domain.ProcessingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Clone(m.runs)
	slices.Reverse(out)
	if offset >= len(out) {
		return nil, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (m *MemoryRunRepository) LastCompletedRunDate(ctx context.Context) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	found := false
	for _, r := range m.runs {
		if r.Status == domain.RunCompleted && (!found || r.RunDate.After(last)) {
			last, found = r.RunDate, true
		}
	}
	return last, found, nil
}

// MemoryOutboxRepository is an in-memory OutboxRepository.
type MemoryOutboxRepository struct {
	mu     sync.RWMutex
	events []*domain.OutboxEvent
}

func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{}
}

func (m *MemoryOutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if !e.Published && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
		}
	}
	return nil
}

func (m *MemoryOutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = slices.DeleteFunc(m.events, func(e *domain.OutboxEvent) bool {
		return e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before)
	})
	return nil
}

// EventTypes lists the types of stored events in insertion order.
func (m *MemoryOutboxRepository) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// MemoryAuditRepository is an in-memory AuditRepository.
type MemoryAuditRepository struct {
	mu   sync.RWMutex
	logs []*domain.AuditLog
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (m *MemoryAuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}

func (m *MemoryAuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AuditLog
	for _, l := range m.logs {
		if filter.Action != "" && l.Action != filter.Action {
			continue
		}
		if filter.ResourceID != "" && l.ResourceID != filter.ResourceID {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// MemoryTransactionManager hands out MemoryTransactions. Writes are applied
// immediately; Commit and Rollback only count.
type MemoryTransactionManager struct {
	mu        sync.Mutex
	commits   int
	rollbacks int

	BeginFunc func(ctx context.Context) (usecase.Transaction, error)
}

func NewMemoryTransactionManager() *MemoryTransactionManager {
	return &MemoryTransactionManager{}
}

func (m *MemoryTransactionManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	return &MemoryTransaction{manager: m}, nil
}

// Commits returns the number of committed transactions.
func (m *MemoryTransactionManager) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// MemoryTransaction is the Transaction of a MemoryTransactionManager.
type MemoryTransaction struct {
	manager *MemoryTransactionManager
	done    bool
}

func (t *MemoryTransaction) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.manager.mu.Lock()
	t.manager.commits++
	t.manager.mu.Unlock()
	return nil
}

func (t *MemoryTransaction) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.manager.mu.Lock()
	t.manager.rollbacks++
	t.manager.mu.Unlock()
	return nil
}

// SequenceIDGenerator returns "id-1", "id-2" and so on.
type SequenceIDGenerator struct {
	mu      sync.Mutex
	counter int
}

func NewSequenceIDGenerator() *SequenceIDGenerator {
	return &SequenceIDGenerator{}
}

func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("id-%d", g.counter)
}

// MemoryForecastCache is an in-memory ForecastCache.
type MemoryForecastCache struct {
	mu      sync.Mutex
	entries map[string][]domain.ForecastPoint
}

func NewMemoryForecastCache() *MemoryForecastCache {
	return &MemoryForecastCache{entries: make(map[string][]domain.ForecastPoint)}
}

func cacheKey(ownerID string, horizonDays int, asOf time.Time) string {
	return fmt.Sprintf("%s|%d|%s", ownerID, horizonDays, domain.FormatDate(asOf))
}

func (c *MemoryForecastCache) Get(ctx context.Context, ownerID string, horizonDays int, asOf time.Time) ([]domain.ForecastPoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	points, ok := c.entries[cacheKey(ownerID, horizonDays, asOf)]
	return points, ok, nil
}

func (c *MemoryForecastCache) Set(ctx context.Context, ownerID string, horizonDays int, asOf time.Time, points []domain.ForecastPoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(ownerID, horizonDays, asOf)] = points
	return nil
}

func (c *MemoryForecastCache) Invalidate(ctx context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) > len(ownerID) && k[:len(ownerID)+1] == ownerID+"|" {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len returns the number of cached projections.
func (c *MemoryForecastCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MemoryRunLocker is an in-process RunLocker. TTLs are ignored.
type MemoryRunLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryRunLocker() *MemoryRunLocker {
	return &MemoryRunLocker{held: make(map[string]bool)}
}

func (l *MemoryRunLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *MemoryRunLocker) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	CheckAndSetFunc func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{data: make(map[string][]byte)}
}

func (m *MemoryIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if m.CheckAndSetFunc != nil {
		return m.CheckAndSetFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return true, existing, nil
	}
	if response != nil {
		m.data[key] = response
	} else {
		m.data[key] = []byte("processing")
	}
	return false, nil, nil
}

func (m *MemoryIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

func (m *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
