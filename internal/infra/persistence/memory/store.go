// Package memory provides the in-memory implementation of the ledger
// persistence store used for tests, ephemeral environments, and as the
// transactional engine behind the durable backends.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"kittyledger/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Kitty aliases domain.Kitty for in-memory persistence operations.
	Kitty = domain.Kitty
	// EntityID aliases domain.EntityID.
	EntityID = domain.EntityID
	// AccountID aliases domain.AccountID.
	AccountID = domain.AccountID
	// ParentPair aliases domain.ParentPair.
	ParentPair = domain.ParentPair
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// memoryState holds every ledger index. Kitties live in an arena indexed by
// their dense ID; every relation is a separate ID-keyed map.
type memoryState struct {
	kitties  []Kitty
	owners   map[EntityID]AccountID
	holdings map[AccountID][]EntityID
	parents  map[EntityID]ParentPair
	children map[ParentPair][]EntityID
	siblings map[EntityID][]EntityID
	partners map[EntityID][]EntityID
}

// Snapshot captures a point-in-time clone of the store state in a
// JSON-encodable shape.
type Snapshot struct {
	Kitties  []Kitty                  `json:"kitties"`
	Owners   map[EntityID]AccountID   `json:"owners"`
	Holdings map[AccountID][]EntityID `json:"holdings"`
	Parents  map[EntityID]ParentPair  `json:"parents"`
	Children []domain.Brood           `json:"children"`
	Siblings map[EntityID][]EntityID  `json:"siblings"`
	Partners map[EntityID][]EntityID  `json:"partners"`
}

func newMemoryState() memoryState {
	return memoryState{
		owners:   make(map[EntityID]AccountID),
		holdings: make(map[AccountID][]EntityID),
		parents:  make(map[EntityID]ParentPair),
		children: make(map[ParentPair][]EntityID),
		siblings: make(map[EntityID][]EntityID),
		partners: make(map[EntityID][]EntityID),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Kitties:  append([]Kitty(nil), state.kitties...),
		Owners:   make(map[EntityID]AccountID, len(state.owners)),
		Holdings: make(map[AccountID][]EntityID, len(state.holdings)),
		Parents:  make(map[EntityID]ParentPair, len(state.parents)),
		Children: make([]domain.Brood, 0, len(state.children)),
		Siblings: make(map[EntityID][]EntityID, len(state.siblings)),
		Partners: make(map[EntityID][]EntityID, len(state.partners)),
	}
	for k, v := range state.owners {
		s.Owners[k] = v
	}
	for k, v := range state.holdings {
		s.Holdings[k] = cloneIDs(v)
	}
	for k, v := range state.parents {
		s.Parents[k] = v
	}
	for pair, ids := range state.children {
		s.Children = append(s.Children, domain.Brood{Parents: pair, Children: cloneIDs(ids)})
	}
	sort.Slice(s.Children, func(i, j int) bool {
		a, b := s.Children[i].Parents, s.Children[j].Parents
		if a.Father != b.Father {
			return a.Father < b.Father
		}
		return a.Mother < b.Mother
	})
	for k, v := range state.siblings {
		s.Siblings[k] = cloneIDs(v)
	}
	for k, v := range state.partners {
		s.Partners[k] = cloneIDs(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	state.kitties = append([]Kitty(nil), s.Kitties...)
	for k, v := range s.Owners {
		state.owners[k] = v
	}
	for k, v := range s.Holdings {
		state.holdings[k] = cloneIDs(v)
	}
	for k, v := range s.Parents {
		state.parents[k] = v
	}
	for _, brood := range s.Children {
		state.children[brood.Parents] = cloneIDs(brood.Children)
	}
	for k, v := range s.Siblings {
		state.siblings[k] = cloneIDs(v)
	}
	for k, v := range s.Partners {
		state.partners[k] = cloneIDs(v)
	}
	return state
}

// migrateSnapshot normalizes snapshots written by older builds or assembled by
// hand: nil buckets become empty and the arena is ordered by ID.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Owners == nil {
		snapshot.Owners = map[EntityID]AccountID{}
	}
	if snapshot.Holdings == nil {
		snapshot.Holdings = map[AccountID][]EntityID{}
	}
	if snapshot.Parents == nil {
		snapshot.Parents = map[EntityID]ParentPair{}
	}
	if snapshot.Siblings == nil {
		snapshot.Siblings = map[EntityID][]EntityID{}
	}
	if snapshot.Partners == nil {
		snapshot.Partners = map[EntityID][]EntityID{}
	}
	kitties := append([]Kitty(nil), snapshot.Kitties...)
	sort.Slice(kitties, func(i, j int) bool { return kitties[i].ID < kitties[j].ID })
	snapshot.Kitties = kitties
	return snapshot
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneIDs(ids []EntityID) []EntityID {
	if ids == nil {
		return nil
	}
	return append([]EntityID(nil), ids...)
}

func containsID(values []EntityID, id EntityID) bool {
	for _, existing := range values {
		if existing == id {
			return true
		}
	}
	return false
}

// removeFirst deletes the first element equal to id, preserving order.
func removeFirst(values []EntityID, id EntityID) ([]EntityID, bool) {
	for i, existing := range values {
		if existing == id {
			out := make([]EntityID, 0, len(values)-1)
			out = append(out, values[:i]...)
			return append(out, values[i+1:]...), true
		}
	}
	return values, false
}

func idString(id EntityID) string { return strconv.FormatUint(uint64(id), 10) }

// Option configures a Store.
type Option func(*Store)

// WithIDLimit caps the ID space; allocation fails once limit kitties exist.
// Defaults to domain.MaxEntityID.
func WithIDLimit(limit EntityID) Option {
	return func(s *Store) { s.idLimit = limit }
}

// WithNowFunc overrides the clock used to stamp transactions.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the ledger.
type Store struct {
	mu      sync.RWMutex
	state   memoryState
	engine  *RulesEngine
	nowFn   func() time.Time
	idLimit EntityID
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:   newMemoryState(),
		engine:  engine,
		nowFn:   func() time.Time { return time.Now().UTC() },
		idLimit: domain.MaxEntityID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ErrInvalidSnapshot reports a snapshot that cannot be installed as ledger state.
var ErrInvalidSnapshot = errors.New("invalid ledger snapshot")

// PersistFunc durably writes the state a commit is about to install. An error
// aborts the commit and leaves the committed state untouched.
type PersistFunc func(ctx context.Context, next Snapshot) error

// ImportState validates snapshot and replaces the committed state with it.
func (s *Store) ImportState(ctx context.Context, snapshot Snapshot) error {
	return s.ImportAndPersist(ctx, snapshot, nil)
}

// Import replaces the store state. Durable backends override it to persist
// the new state.
func (s *Store) Import(ctx context.Context, snapshot Snapshot) error {
	return s.ImportState(ctx, snapshot)
}

// ImportAndPersist installs snapshot once it passes the arena check and every
// registered rule, and persist (when non-nil) has written it.
func (s *Store) ImportAndPersist(ctx context.Context, snapshot Snapshot, persist PersistFunc) error {
	snapshot = migrateSnapshot(snapshot)
	for i, k := range snapshot.Kitties {
		if k.ID != EntityID(i) {
			return fmt.Errorf("%w: kitty at position %d has id %d", ErrInvalidSnapshot, i, k.ID)
		}
	}
	state := memoryStateFromSnapshot(snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&state), importChanges(state))
		if err != nil {
			return err
		}
		if res.HasBlocking() {
			return fmt.Errorf("%w: %w", ErrInvalidSnapshot, domain.RuleViolationError{Result: res})
		}
	}
	if persist != nil {
		if err := persist(ctx, snapshotFromMemoryState(state)); err != nil {
			return err
		}
	}
	s.state = state
	return nil
}

// importChanges describes every entry of state as a creation so rules check
// an imported snapshot the way they check a transition.
func importChanges(state memoryState) []Change {
	var changes []Change
	add := func(entity domain.EntityType, after any) {
		changes = append(changes, Change{Entity: entity, Action: domain.ActionCreate, After: after})
	}
	for _, k := range state.kitties {
		add(domain.EntityKitty, k)
	}
	for _, id := range sortedIDs(state.owners) {
		add(domain.EntityOwnership, domain.Ownership{ID: id, Owner: state.owners[id]})
	}
	owners := make([]AccountID, 0, len(state.holdings))
	for owner := range state.holdings {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for _, owner := range owners {
		add(domain.EntityHoldings, domain.Holdings{Owner: owner, IDs: cloneIDs(state.holdings[owner])})
	}
	for _, child := range sortedIDs(state.parents) {
		add(domain.EntityParents, domain.Lineage{Child: child, Parents: state.parents[child]})
	}
	for _, brood := range snapshotFromMemoryState(state).Children {
		add(domain.EntityChildren, brood)
	}
	return changes
}

func sortedIDs[V any](m map[EntityID]V) []EntityID {
	ids := make([]EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RulesEngine exposes the currently configured engine for integration points.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// IDLimit reports the configured size of the ID space.
func (s *Store) IDLimit() EntityID {
	return s.idLimit
}

// transaction represents a mutation set applied to a private copy of the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of state to rules and queries.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// KittiesCount returns the number of kitties, which is also the next ID.
func (v transactionView) KittiesCount() EntityID {
	return EntityID(len(v.state.kitties))
}

// ListKitties returns every kitty ordered by ID.
func (v transactionView) ListKitties() []Kitty {
	return append([]Kitty(nil), v.state.kitties...)
}

// FindKitty retrieves a kitty by ID from the snapshot.
func (v transactionView) FindKitty(id EntityID) (Kitty, bool) {
	return findKitty(v.state, id)
}

// OwnerOf returns the current owner of a kitty.
func (v transactionView) OwnerOf(id EntityID) (AccountID, bool) {
	owner, ok := v.state.owners[id]
	return owner, ok
}

// Holdings returns the kitties held by owner in insertion order.
func (v transactionView) Holdings(owner AccountID) []EntityID {
	return cloneIDs(v.state.holdings[owner])
}

// Parents returns the parent-pair recorded for a bred kitty.
func (v transactionView) Parents(id EntityID) (ParentPair, bool) {
	pair, ok := v.state.parents[id]
	return pair, ok
}

// Children returns the children recorded under an ordered parent-pair.
func (v transactionView) Children(pair ParentPair) []EntityID {
	return cloneIDs(v.state.children[pair])
}

// Siblings returns the sibling snapshot taken when id was born.
func (v transactionView) Siblings(id EntityID) []EntityID {
	return cloneIDs(v.state.siblings[id])
}

// Partners returns the kitties id has bred with.
func (v transactionView) Partners(id EntityID) []EntityID {
	return cloneIDs(v.state.partners[id])
}

func findKitty(state *memoryState, id EntityID) (Kitty, bool) {
	if int64(id) >= int64(len(state.kitties)) {
		return Kitty{}, false
	}
	return state.kitties[id], true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds and no rule
// reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	return s.RunAndPersist(ctx, fn, nil)
}

// RunAndPersist is RunInTransaction with a durable write folded into the
// commit: persist sees the state about to be installed, and the commit is
// abandoned when it fails.
func (s *Store) RunAndPersist(ctx context.Context, fn func(tx Transaction) error, persist PersistFunc) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if persist != nil {
		if err := persist(ctx, snapshotFromMemoryState(tx.state)); err != nil {
			return result, err
		}
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// AllocateID returns the next unused ID without consuming it. The counter
// only advances when InsertKitty stores the kitty.
func (tx *transaction) AllocateID() (EntityID, error) {
	next := EntityID(len(tx.state.kitties))
	if next >= tx.store.idLimit {
		return 0, domain.ErrCountOverflow
	}
	return next, nil
}

// InsertKitty appends a freshly allocated kitty to the arena.
func (tx *transaction) InsertKitty(k Kitty) error {
	next := EntityID(len(tx.state.kitties))
	if k.ID < next {
		return fmt.Errorf("kitty %d already exists", k.ID)
	}
	if k.ID != next {
		return fmt.Errorf("kitty %d was not allocated (next id %d)", k.ID, next)
	}
	tx.state.kitties = append(tx.state.kitties, k)
	tx.recordChange(Change{Entity: domain.EntityKitty, Action: domain.ActionCreate, After: k})
	return nil
}

// FindKitty exposes kitty lookup within the transaction scope.
func (tx *transaction) FindKitty(id EntityID) (Kitty, bool) {
	return findKitty(&tx.state, id)
}

// SetOwner overwrites the owner of id.
func (tx *transaction) SetOwner(id EntityID, owner AccountID) {
	change := Change{Entity: domain.EntityOwnership, Action: domain.ActionCreate, After: domain.Ownership{ID: id, Owner: owner}}
	if before, ok := tx.state.owners[id]; ok {
		change.Action = domain.ActionUpdate
		change.Before = domain.Ownership{ID: id, Owner: before}
	}
	tx.state.owners[id] = owner
	tx.recordChange(change)
}

// OwnerOf exposes ownership lookup within the transaction scope.
func (tx *transaction) OwnerOf(id EntityID) (AccountID, bool) {
	owner, ok := tx.state.owners[id]
	return owner, ok
}

// AddToHoldings appends id to the owner's list, creating it when absent.
func (tx *transaction) AddToHoldings(owner AccountID, id EntityID) {
	before := cloneIDs(tx.state.holdings[owner])
	tx.state.holdings[owner] = append(cloneIDs(before), id)
	tx.recordChange(Change{
		Entity: domain.EntityHoldings,
		Action: domain.ActionUpdate,
		Before: domain.Holdings{Owner: owner, IDs: before},
		After:  domain.Holdings{Owner: owner, IDs: cloneIDs(tx.state.holdings[owner])},
	})
}

// RemoveFromHoldings deletes the first occurrence of id from the owner's
// list. It reports whether an entry was removed.
func (tx *transaction) RemoveFromHoldings(owner AccountID, id EntityID) bool {
	before := tx.state.holdings[owner]
	after, removed := removeFirst(before, id)
	if !removed {
		return false
	}
	if len(after) == 0 {
		delete(tx.state.holdings, owner)
	} else {
		tx.state.holdings[owner] = after
	}
	tx.recordChange(Change{
		Entity: domain.EntityHoldings,
		Action: domain.ActionUpdate,
		Before: domain.Holdings{Owner: owner, IDs: cloneIDs(before)},
		After:  domain.Holdings{Owner: owner, IDs: cloneIDs(after)},
	})
	return true
}

// RecordParents writes the parent-pair for a bred kitty.
func (tx *transaction) RecordParents(child, father, mother EntityID) {
	pair := ParentPair{Father: father, Mother: mother}
	tx.state.parents[child] = pair
	tx.recordChange(Change{Entity: domain.EntityParents, Action: domain.ActionCreate, After: domain.Lineage{Child: child, Parents: pair}})
}

// RecordChild appends child to the list keyed by the ordered parent-pair.
func (tx *transaction) RecordChild(father, mother, child EntityID) {
	pair := ParentPair{Father: father, Mother: mother}
	before, existed := tx.state.children[pair]
	tx.state.children[pair] = append(cloneIDs(before), child)
	action := domain.ActionUpdate
	if !existed {
		action = domain.ActionCreate
	}
	tx.recordChange(Change{Entity: domain.EntityChildren, Action: action, After: domain.Brood{Parents: pair, Children: cloneIDs(tx.state.children[pair])}})
}

// RecordSiblings stores, for child, every other kitty currently recorded
// under its parent-pair. The list is a birth-time snapshot and is never
// revisited when later siblings arrive.
func (tx *transaction) RecordSiblings(child EntityID) error {
	pair, ok := tx.state.parents[child]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityParents, ID: idString(child)}
	}
	siblings := []EntityID{}
	for _, id := range tx.state.children[pair] {
		if id != child {
			siblings = append(siblings, id)
		}
	}
	tx.state.siblings[child] = siblings
	tx.recordChange(Change{Entity: domain.EntitySiblings, Action: domain.ActionCreate, After: domain.Relation{ID: child, Members: cloneIDs(siblings)}})
	return nil
}

// RecordPartners links a and b in both directions, skipping a direction that
// already holds the link.
func (tx *transaction) RecordPartners(a, b EntityID) {
	tx.addPartner(a, b)
	tx.addPartner(b, a)
}

func (tx *transaction) addPartner(id, partner EntityID) {
	current := tx.state.partners[id]
	if containsID(current, partner) {
		return
	}
	tx.state.partners[id] = append(cloneIDs(current), partner)
	tx.recordChange(Change{Entity: domain.EntityPartners, Action: domain.ActionUpdate, After: domain.Relation{ID: id, Members: cloneIDs(tx.state.partners[id])}})
}

// Read helpers ---------------------------------------------------------------

// KittiesCount returns the number of committed kitties.
func (s *Store) KittiesCount() EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EntityID(len(s.state.kitties))
}

// GetKitty retrieves a kitty by ID from committed state.
func (s *Store) GetKitty(id EntityID) (Kitty, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findKitty(&s.state, id)
}

// ListKitties returns all committed kitties ordered by ID.
func (s *Store) ListKitties() []Kitty {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Kitty(nil), s.state.kitties...)
}

// OwnerOf returns the committed owner of id.
func (s *Store) OwnerOf(id EntityID) (AccountID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.state.owners[id]
	return owner, ok
}

// Holdings returns the committed holdings of owner.
func (s *Store) Holdings(owner AccountID) []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIDs(s.state.holdings[owner])
}
