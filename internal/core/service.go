// Package core implements the kitty ledger transitions (Create, Transfer,
// Breed) on top of a transactional store, together with the stake gate,
// integrity rules, and observability hooks that surround them.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kittyledger/internal/infra/archive"
	archivecore "kittyledger/internal/infra/archive/core"
	"kittyledger/internal/infra/persistence/memory"
	"kittyledger/internal/infra/randomness"
	"kittyledger/pkg/domain"
)

// Operation names used for logging, metrics, tracing and audit entries.
const (
	OpCreate   = "create"
	OpTransfer = "transfer"
	OpBreed    = "breed"
	OpArchive  = "archive_snapshot"
	OpRestore  = "restore_snapshot"
)

// operationTargets maps an operation to the entity and action recorded in audit entries.
var operationTargets = map[string]struct {
	entity domain.EntityType
	action domain.Action
}{
	OpCreate:   {domain.EntityKitty, domain.ActionCreate},
	OpTransfer: {domain.EntityOwnership, domain.ActionUpdate},
	OpBreed:    {domain.EntityKitty, domain.ActionCreate},
}

// StateExporter is implemented by stores able to produce a full snapshot.
type StateExporter interface {
	ExportState() memory.Snapshot
}

// StateImporter is implemented by stores able to replace their state.
type StateImporter interface {
	Import(ctx context.Context, snapshot memory.Snapshot) error
}

// Service dispatches ledger transitions against a persistent store.
type Service struct {
	store      domain.PersistentStore
	engine     *domain.RulesEngine
	stake      StakeGate
	clock      Clock
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	events     domain.EventSink
	randomness domain.RandomnessSource

	mu        sync.Mutex
	extrinsic uint32
}

// NewService constructs a service backed by the supplied store. currency
// backs the stake gate.
func NewService(store domain.PersistentStore, currency domain.Currency, opts ...Option) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.randomness == nil {
		cfg.randomness = randomness.NewCollective(nil, randomness.DefaultWindow)
	}
	svc := &Service{
		store:      store,
		stake:      NewStakeGate(currency, cfg.stake),
		clock:      cfg.clock,
		logger:     cfg.logger,
		audit:      cfg.audit,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		events:     cfg.events,
		randomness: cfg.randomness,
	}
	if es, ok := store.(interface{ RulesEngine() *domain.RulesEngine }); ok {
		svc.engine = es.RulesEngine()
	}
	return svc
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *domain.RulesEngine, currency domain.Currency, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), currency, opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// RulesEngine returns the engine evaluated on every commit, when the store exposes one.
func (s *Service) RulesEngine() *domain.RulesEngine { return s.engine }

// StakeAmount reports the reservation taken by Create and Breed.
func (s *Service) StakeAmount() domain.Balance { return s.stake.Amount() }

func (s *Service) nextExtrinsic() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.extrinsic
	s.extrinsic++
	return n
}

func (s *Service) randomValue(ctx context.Context, account domain.AccountID) (domain.GeneticCode, error) {
	seed, err := s.randomness.Seed(ctx)
	if err != nil {
		return domain.GeneticCode{}, fmt.Errorf("randomness seed: %w", err)
	}
	return domain.RandomValue(seed, account, s.nextExtrinsic()), nil
}

// Create mints a kitty with a random genetic code for the signed caller.
func (s *Service) Create(ctx context.Context, origin domain.Origin) (domain.EntityID, error) {
	var id domain.EntityID
	var event domain.Event
	err := s.run(ctx, OpCreate, origin, func(ctx context.Context, caller domain.AccountID, stake *stakeHold) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			next, err := tx.AllocateID()
			if err != nil {
				return err
			}
			dna, err := s.randomValue(ctx, caller)
			if err != nil {
				return err
			}
			if err := stake.Reserve(ctx, caller); err != nil {
				return err
			}
			if err := tx.InsertKitty(domain.Kitty{ID: next, DNA: dna}); err != nil {
				return err
			}
			tx.SetOwner(next, caller)
			tx.AddToHoldings(caller, next)
			id = next
			return nil
		})
		if err != nil {
			return "", err
		}
		event = domain.Created(caller, id)
		return id.String(), nil
	})
	if err != nil {
		return 0, err
	}
	s.events.Deposit(ctx, event)
	return id, nil
}

// Transfer moves kitty id from the signed caller to the recipient.
func (s *Service) Transfer(ctx context.Context, origin domain.Origin, to domain.AccountID, id domain.EntityID) error {
	var event domain.Event
	err := s.run(ctx, OpTransfer, origin, func(ctx context.Context, caller domain.AccountID, _ *stakeHold) (string, error) {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			owner, ok := tx.OwnerOf(id)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityKitty, ID: id.String()}
			}
			if owner != caller {
				return domain.ErrNotOwner
			}
			if to == caller {
				return domain.ErrSelfTransfer
			}
			tx.SetOwner(id, to)
			tx.RemoveFromHoldings(caller, id)
			tx.AddToHoldings(to, id)
			return nil
		})
		if err != nil {
			return id.String(), err
		}
		event = domain.Transferred(caller, to, id)
		return id.String(), nil
	})
	if err != nil {
		return err
	}
	s.events.Deposit(ctx, event)
	return nil
}

// Breed produces a child of kitties a (father) and b (mother), both owned by
// the signed caller.
func (s *Service) Breed(ctx context.Context, origin domain.Origin, a, b domain.EntityID) (domain.EntityID, error) {
	var id domain.EntityID
	var event domain.Event
	err := s.run(ctx, OpBreed, origin, func(ctx context.Context, caller domain.AccountID, stake *stakeHold) (string, error) {
		if a == b {
			return "", domain.ErrIdenticalParents
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			if err := stake.Reserve(ctx, caller); err != nil {
				return err
			}
			father, ok := tx.FindKitty(a)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityKitty, ID: a.String()}
			}
			mother, ok := tx.FindKitty(b)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityKitty, ID: b.String()}
			}
			if owner, _ := tx.OwnerOf(a); owner != caller {
				return domain.ErrNotOwner
			}
			if owner, _ := tx.OwnerOf(b); owner != caller {
				return domain.ErrNotOwner
			}
			next, err := tx.AllocateID()
			if err != nil {
				return err
			}
			selector, err := s.randomValue(ctx, caller)
			if err != nil {
				return err
			}
			child := domain.Kitty{ID: next, DNA: domain.Combine(father.DNA, mother.DNA, selector)}
			if err := tx.InsertKitty(child); err != nil {
				return err
			}
			tx.SetOwner(next, caller)
			tx.AddToHoldings(caller, next)
			tx.RecordPartners(a, b)
			tx.RecordParents(next, a, b)
			tx.RecordChild(a, b, next)
			if err := tx.RecordSiblings(next); err != nil {
				return err
			}
			id = next
			return nil
		})
		if err != nil {
			return "", err
		}
		event = domain.Bred(caller, a, b, id)
		return id.String(), nil
	})
	if err != nil {
		return 0, err
	}
	s.events.Deposit(ctx, event)
	return id, nil
}

// run wraps a transition with origin checks, stake refunds, tracing, logging,
// metrics and audit. fn reserves through stake and returns the affected
// entity id for the audit trail. When fn fails, only the reservations it
// took are returned.
func (s *Service) run(ctx context.Context, op string, origin domain.Origin, fn func(context.Context, domain.AccountID, *stakeHold) (string, error)) (err error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	var caller domain.AccountID
	var entityID string
	defer func() {
		duration := s.clock.Now().Sub(start)
		s.metrics.Observe(ctx, op, err == nil, duration)
		s.recordAudit(ctx, op, caller, entityID, duration, err)
		span.End(err)
		if err != nil {
			s.logger.Error("ledger operation failed", "operation", op, "account", uint64(caller), "error", err)
			return
		}
		s.logger.Debug("ledger operation committed", "operation", op, "account", uint64(caller), "id", entityID, "duration", duration)
	}()

	caller, err = domain.EnsureSigned(origin)
	if err != nil {
		return err
	}
	stake := s.stake.hold()
	entityID, err = fn(ctx, caller, stake)
	if err != nil {
		if rerr := stake.release(ctx); rerr != nil {
			s.logger.Error("stake refund failed", "operation", op, "account", uint64(caller), "error", rerr)
		}
		var violation domain.RuleViolationError
		if errors.As(err, &violation) {
			for _, v := range violation.Result.Violations {
				s.logger.Warn("rule violation", "rule", v.Rule, "entity", string(v.Entity), "id", v.EntityID, "message", v.Message)
			}
		}
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, op string, caller domain.AccountID, entityID string, duration time.Duration, err error) {
	target, ok := operationTargets[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		ID:        uuid.NewString(),
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  entityID,
		Actor:     caller,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// Query helpers --------------------------------------------------------------

// Kitty returns the kitty stored under id.
func (s *Service) Kitty(ctx context.Context, id domain.EntityID) (domain.Kitty, error) {
	var out domain.Kitty
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		k, ok := view.FindKitty(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityKitty, ID: id.String()}
		}
		out = k
		return nil
	})
	return out, err
}

// OwnerOf returns the owner of id.
func (s *Service) OwnerOf(ctx context.Context, id domain.EntityID) (domain.AccountID, error) {
	var out domain.AccountID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		owner, ok := view.OwnerOf(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityKitty, ID: id.String()}
		}
		out = owner
		return nil
	})
	return out, err
}

// Holdings returns the kitties held by owner in acquisition order.
func (s *Service) Holdings(ctx context.Context, owner domain.AccountID) ([]domain.EntityID, error) {
	var out []domain.EntityID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.Holdings(owner)
		return nil
	})
	return out, err
}

// Parents returns the parent-pair of a bred kitty. ok is false for kitties
// produced by Create.
func (s *Service) Parents(ctx context.Context, id domain.EntityID) (pair domain.ParentPair, ok bool, err error) {
	err = s.store.View(ctx, func(view domain.TransactionView) error {
		pair, ok = view.Parents(id)
		return nil
	})
	return pair, ok, err
}

// Children returns the kitties bred from the ordered pair (father, mother).
func (s *Service) Children(ctx context.Context, father, mother domain.EntityID) ([]domain.EntityID, error) {
	var out []domain.EntityID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.Children(domain.ParentPair{Father: father, Mother: mother})
		return nil
	})
	return out, err
}

// Siblings returns the sibling snapshot taken when id was born.
func (s *Service) Siblings(ctx context.Context, id domain.EntityID) ([]domain.EntityID, error) {
	var out []domain.EntityID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.Siblings(id)
		return nil
	})
	return out, err
}

// Partners returns the kitties id has been bred with.
func (s *Service) Partners(ctx context.Context, id domain.EntityID) ([]domain.EntityID, error) {
	var out []domain.EntityID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.Partners(id)
		return nil
	})
	return out, err
}

// KittiesCount returns the number of kitties, which is also the next id.
func (s *Service) KittiesCount(ctx context.Context) (domain.EntityID, error) {
	var out domain.EntityID
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		out = view.KittiesCount()
		return nil
	})
	return out, err
}

// Snapshot archive -----------------------------------------------------------

// ArchiveSnapshot writes the full ledger state to the archive.
func (s *Service) ArchiveSnapshot(ctx context.Context, a *archive.Archive) (string, error) {
	exporter, ok := s.store.(StateExporter)
	if !ok {
		return "", fmt.Errorf("store %T cannot export state", s.store)
	}
	ctx, span := s.tracer.Start(ctx, OpArchive)
	snap := exporter.ExportState()
	info, err := a.Save(ctx, snap, map[string]string{
		"kitties": fmt.Sprintf("%d", len(snap.Kitties)),
	})
	span.End(err)
	if err != nil {
		s.logger.Error("snapshot archive failed", "error", err)
		return "", err
	}
	s.logger.Info("snapshot archived", "key", info.Key, "kitties", len(snap.Kitties))
	return info.Key, nil
}

// RestoreSnapshot replaces the ledger state with the snapshot stored at key.
// An empty key restores the most recent snapshot.
func (s *Service) RestoreSnapshot(ctx context.Context, a *archive.Archive, key string) (string, error) {
	importer, ok := s.store.(StateImporter)
	if !ok {
		return "", fmt.Errorf("store %T cannot import state", s.store)
	}
	ctx, span := s.tracer.Start(ctx, OpRestore)
	var err error
	defer func() { span.End(err) }()
	if key == "" {
		var latest archivecore.Info
		latest, err = a.Latest(ctx)
		if err != nil {
			return "", err
		}
		key = latest.Key
	}
	var snap memory.Snapshot
	if err = a.Load(ctx, key, &snap); err != nil {
		return "", err
	}
	if err = importer.Import(ctx, snap); err != nil {
		return "", fmt.Errorf("import snapshot %s: %w", key, err)
	}
	s.logger.Info("snapshot restored", "key", key, "kitties", len(snap.Kitties))
	return key, nil
}
