package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

type ownerKey struct {
	ownerID int64
	kind    model.AccountKind
}

// MemoryRepository хранит данные в памяти процесса. Кампании блокируются
// пессимистично (по мьютексу на кампанию, до конца единицы работы), назначения
// и счета проверяются оптимистично по версии при фиксации.
type MemoryRepository struct {
	mu sync.RWMutex

	campaigns           map[int64]model.Campaign
	assignments         map[int64]model.Assignment
	campaignAssignments map[int64][]int64
	readerAssignments   map[int64][]int64
	accounts            map[int64]model.Account
	owners              map[ownerKey]int64
	transactions        map[int64]model.Transaction
	accountTransactions map[int64][]int64
	reversals           map[int64]int64

	campaignLocks *xsync.Map[int64, chan struct{}]
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		campaigns:           make(map[int64]model.Campaign),
		assignments:         make(map[int64]model.Assignment),
		campaignAssignments: make(map[int64][]int64),
		readerAssignments:   make(map[int64][]int64),
		accounts:            make(map[int64]model.Account),
		owners:              make(map[ownerKey]int64),
		transactions:        make(map[int64]model.Transaction),
		accountTransactions: make(map[int64][]int64),
		reversals:           make(map[int64]int64),
		campaignLocks:       xsync.NewMap[int64, chan struct{}](),
	}
}

// Close ничего не делает: ресурсов нет.
func (r *MemoryRepository) Close() error {
	return nil
}

// WithinTx выполняет fn как единицу работы.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx := newMemoryTx(r)
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// GetCampaign возвращает кампанию по идентификатору.
func (r *MemoryRepository) GetCampaign(_ context.Context, id int64) (*model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.campaigns[id]
	if !ok {
		return nil, apperr.ErrCampaignNotFound
	}
	return &c, nil
}

// ListCampaigns возвращает кампании в статусе status.
func (r *MemoryRepository) ListCampaigns(_ context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// ListCampaignsByAuthor возвращает кампании автора.
func (r *MemoryRepository) ListCampaignsByAuthor(_ context.Context, authorID int64) ([]model.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Campaign
	for _, c := range r.campaigns {
		if c.AuthorID == authorID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// GetAssignment возвращает назначение по идентификатору.
func (r *MemoryRepository) GetAssignment(_ context.Context, id int64) (*model.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assignments[id]
	if !ok {
		return nil, apperr.ErrAssignmentNotFound
	}
	return &a, nil
}

// ListAssignmentsByCampaign возвращает назначения кампании в порядке очереди.
func (r *MemoryRepository) ListAssignmentsByCampaign(_ context.Context, campaignID int64) ([]model.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.collect(r.campaignAssignments[campaignID]), nil
}

// ListAssignmentsByReader возвращает назначения читателя.
func (r *MemoryRepository) ListAssignmentsByReader(_ context.Context, readerID int64) ([]model.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := r.collect(r.readerAssignments[readerID])
	sort.Slice(res, func(i, j int) bool { return res[i].AppliedAt.Before(res[j].AppliedAt) })
	return res, nil
}

func (r *MemoryRepository) collect(ids []int64) []model.Assignment {
	res := make([]model.Assignment, 0, len(ids))
	for _, id := range ids {
		res = append(res, r.assignments[id])
	}
	sortByQueue(res)
	return res
}

// ListOverdueAssignments возвращает незавершённые назначения с истёкшим сроком,
// следующие за курсором after, в порядке (срок, идентификатор).
func (r *MemoryRepository) ListOverdueAssignments(_ context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Assignment
	for _, a := range r.assignments {
		if !a.State.Terminal() && a.Overdue(now) && after.Precedes(&a) {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return CursorOf(&res[i]).Precedes(&res[j]) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// GetAccount возвращает счёт по идентификатору.
func (r *MemoryRepository) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}
	return &a, nil
}

// GetAccountByOwner возвращает счёт владельца заданного типа.
func (r *MemoryRepository) GetAccountByOwner(_ context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.owners[ownerKey{ownerID, kind}]
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}
	a := r.accounts[id]
	return &a, nil
}

// ListTransactions возвращает журнал счёта в порядке записи.
func (r *MemoryRepository) ListTransactions(_ context.Context, accountID int64) ([]model.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.accountTransactions[accountID]
	res := make([]model.Transaction, 0, len(ids))
	for _, id := range ids {
		res = append(res, r.transactions[id])
	}
	return res, nil
}

func sortByQueue(as []model.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].CampaignID != as[j].CampaignID {
			return as[i].CampaignID < as[j].CampaignID
		}
		return as[i].QueuePosition < as[j].QueuePosition
	})
}

type memoryTx struct {
	r *MemoryRepository

	held []chan struct{}
	own  map[int64]bool

	campaigns      map[int64]*model.Campaign
	campaignRead   map[int64]int64
	assignments    map[int64]*model.Assignment
	assignmentRead map[int64]int64
	accounts       map[int64]*model.Account
	accountRead    map[int64]int64
	transactions   []*model.Transaction
}

// newVersion помечает запись, созданную внутри единицы работы.
const newVersion = -1

func newMemoryTx(r *MemoryRepository) *memoryTx {
	return &memoryTx{
		r:              r,
		own:            make(map[int64]bool),
		campaigns:      make(map[int64]*model.Campaign),
		campaignRead:   make(map[int64]int64),
		assignments:    make(map[int64]*model.Assignment),
		assignmentRead: make(map[int64]int64),
		accounts:       make(map[int64]*model.Account),
		accountRead:    make(map[int64]int64),
	}
}

func (t *memoryTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
}

func (t *memoryTx) lockCampaign(ctx context.Context, id int64) error {
	if t.own[id] {
		return nil
	}
	l, _ := t.r.campaignLocks.LoadOrStore(id, make(chan struct{}, 1))
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.held = append(t.held, l)
	t.own[id] = true
	return nil
}

func (t *memoryTx) LockCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	if c, ok := t.campaigns[id]; ok {
		cp := *c
		return &cp, nil
	}
	if err := t.lockCampaign(ctx, id); err != nil {
		return nil, err
	}

	t.r.mu.RLock()
	c, ok := t.r.campaigns[id]
	t.r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrCampaignNotFound
	}

	t.campaignRead[id] = c.Version
	t.campaigns[id] = &c
	cp := c
	return &cp, nil
}

func (t *memoryTx) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	if err := t.lockCampaign(ctx, c.ID); err != nil {
		return err
	}
	cp := *c
	cp.Version = 1
	c.Version = 1
	t.campaigns[c.ID] = &cp
	t.campaignRead[c.ID] = newVersion
	return nil
}

func (t *memoryTx) UpdateCampaign(_ context.Context, c *model.Campaign) error {
	staged, ok := t.campaigns[c.ID]
	if !ok {
		return fmt.Errorf("update campaign %d: not locked in this unit of work", c.ID)
	}
	if staged.Version != c.Version {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("campaign %d version %d, have %d", c.ID, staged.Version, c.Version))
	}
	c.Version++
	cp := *c
	t.campaigns[c.ID] = &cp
	return nil
}

func (t *memoryTx) LockAssignment(_ context.Context, id int64) (*model.Assignment, error) {
	if a, ok := t.assignments[id]; ok {
		cp := *a
		return &cp, nil
	}

	t.r.mu.RLock()
	a, ok := t.r.assignments[id]
	t.r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrAssignmentNotFound
	}

	t.assignmentRead[id] = a.Version
	t.assignments[id] = &a
	cp := a
	return &cp, nil
}

func (t *memoryTx) InsertAssignment(_ context.Context, a *model.Assignment) error {
	if _, ok := t.assignments[a.ID]; ok {
		return fmt.Errorf("insert assignment %d: duplicate id", a.ID)
	}
	a.Version = 1
	cp := *a
	t.assignments[a.ID] = &cp
	t.assignmentRead[a.ID] = newVersion
	return nil
}

func (t *memoryTx) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	if _, ok := t.assignments[a.ID]; !ok {
		if _, err := t.LockAssignment(ctx, a.ID); err != nil {
			return err
		}
	}
	staged := t.assignments[a.ID]
	if staged.Version != a.Version {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("assignment %d version %d, have %d", a.ID, staged.Version, a.Version))
	}
	a.Version++
	cp := *a
	t.assignments[a.ID] = &cp
	return nil
}

func (t *memoryTx) CampaignAssignments(_ context.Context, campaignID int64) ([]model.Assignment, error) {
	t.r.mu.RLock()
	ids := t.r.campaignAssignments[campaignID]
	res := make([]model.Assignment, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
		if staged, ok := t.assignments[id]; ok {
			res = append(res, *staged)
			continue
		}
		res = append(res, t.r.assignments[id])
	}
	t.r.mu.RUnlock()

	for id, a := range t.assignments {
		if a.CampaignID == campaignID && !seen[id] {
			res = append(res, *a)
		}
	}
	sortByQueue(res)
	return res, nil
}

func (t *memoryTx) LockAccount(_ context.Context, id int64) (*model.Account, error) {
	if a, ok := t.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}

	t.r.mu.RLock()
	a, ok := t.r.accounts[id]
	t.r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}

	t.accountRead[id] = a.Version
	t.accounts[id] = &a
	cp := a
	return &cp, nil
}

func (t *memoryTx) AccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	for _, a := range t.accounts {
		if a.OwnerID == ownerID && a.Kind == kind {
			cp := *a
			return &cp, nil
		}
	}

	t.r.mu.RLock()
	id, ok := t.r.owners[ownerKey{ownerID, kind}]
	t.r.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrAccountNotFound
	}
	return t.LockAccount(ctx, id)
}

func (t *memoryTx) InsertAccount(_ context.Context, a *model.Account) error {
	a.Version = 1
	cp := *a
	t.accounts[a.ID] = &cp
	t.accountRead[a.ID] = newVersion
	return nil
}

func (t *memoryTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	if _, ok := t.accounts[a.ID]; !ok {
		if _, err := t.LockAccount(ctx, a.ID); err != nil {
			return err
		}
	}
	staged := t.accounts[a.ID]
	if staged.Version != a.Version {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("account %d version %d, have %d", a.ID, staged.Version, a.Version))
	}
	a.Version++
	cp := *a
	t.accounts[a.ID] = &cp
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr *model.Transaction) error {
	cp := *tr
	t.transactions = append(t.transactions, &cp)
	return nil
}

func (t *memoryTx) GetTransaction(_ context.Context, id int64) (*model.Transaction, error) {
	for _, tr := range t.transactions {
		if tr.ID == id {
			cp := *tr
			return &cp, nil
		}
	}

	t.r.mu.RLock()
	defer t.r.mu.RUnlock()

	tr, ok := t.r.transactions[id]
	if !ok {
		return nil, apperr.ErrTransactionNotFound
	}
	return &tr, nil
}

func (t *memoryTx) ReversalOf(_ context.Context, id int64) (*model.Transaction, error) {
	for _, tr := range t.transactions {
		if tr.ReversesID != nil && *tr.ReversesID == id {
			cp := *tr
			return &cp, nil
		}
	}

	t.r.mu.RLock()
	defer t.r.mu.RUnlock()

	revID, ok := t.r.reversals[id]
	if !ok {
		return nil, nil
	}
	tr := t.r.transactions[revID]
	return &tr, nil
}

func (t *memoryTx) commit() error {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := t.validate(); err != nil {
		return err
	}

	for id, c := range t.campaigns {
		if t.campaignRead[id] != newVersion && c.Version == t.campaignRead[id] {
			continue
		}
		r.campaigns[id] = *c
	}

	for id, a := range t.assignments {
		read := t.assignmentRead[id]
		if read != newVersion && a.Version == read {
			continue
		}
		if read == newVersion {
			r.campaignAssignments[a.CampaignID] = append(r.campaignAssignments[a.CampaignID], id)
			r.readerAssignments[a.ReaderID] = append(r.readerAssignments[a.ReaderID], id)
		}
		r.assignments[id] = *a
	}

	for id, a := range t.accounts {
		read := t.accountRead[id]
		if read != newVersion && a.Version == read {
			continue
		}
		if read == newVersion {
			r.owners[ownerKey{a.OwnerID, a.Kind}] = id
		}
		r.accounts[id] = *a
	}

	for _, tr := range t.transactions {
		r.transactions[tr.ID] = *tr
		r.accountTransactions[tr.AccountID] = append(r.accountTransactions[tr.AccountID], tr.ID)
		if tr.ReversesID != nil {
			r.reversals[*tr.ReversesID] = tr.ID
		}
	}

	return nil
}

func (t *memoryTx) validate() error {
	r := t.r
	conflict := func(kind string, id int64) error {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("%s %d changed concurrently", kind, id))
	}

	for id, read := range t.campaignRead {
		cur, ok := r.campaigns[id]
		if read == newVersion {
			if ok {
				return conflict("campaign", id)
			}
			continue
		}
		if !ok || cur.Version != read {
			return conflict("campaign", id)
		}
	}

	for id, read := range t.assignmentRead {
		cur, ok := r.assignments[id]
		if read == newVersion {
			if ok {
				return conflict("assignment", id)
			}
			a := t.assignments[id]
			for _, other := range r.campaignAssignments[a.CampaignID] {
				o := r.assignments[other]
				if o.QueuePosition == a.QueuePosition {
					return conflict("assignment queue position", int64(a.QueuePosition))
				}
			}
			continue
		}
		if !ok || cur.Version != read {
			return conflict("assignment", id)
		}
	}

	for id, read := range t.accountRead {
		cur, ok := r.accounts[id]
		if read == newVersion {
			a := t.accounts[id]
			if _, exists := r.owners[ownerKey{a.OwnerID, a.Kind}]; ok || exists {
				return conflict("account", id)
			}
			continue
		}
		if !ok || cur.Version != read {
			return conflict("account", id)
		}
	}

	for _, tr := range t.transactions {
		if _, ok := r.transactions[tr.ID]; ok {
			return conflict("transaction", tr.ID)
		}
		if tr.ReversesID != nil {
			if _, ok := r.reversals[*tr.ReversesID]; ok {
				return conflict("reversal of transaction", *tr.ReversesID)
			}
		}
	}

	return nil
}
