package alertstore

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const shardCount = 16

// Store keeps every user's alert rules in memory, bounded per owner. Owners
// are sharded across a fixed set of mutexes so alert edits for unrelated
// users do not serialize against each other; all mutations for one owner go
// through that owner's shard lock. Every operation completes without blocking
// on I/O — the optional snapshot file is written best-effort after the locks
// are released.
type Store struct {
	shards  [shardCount]shard
	cap     int
	path    string
	writeMu sync.Mutex
}

type shard struct {
	mu    sync.Mutex
	rules map[int64][]Rule
}

// NewStore creates a store that allows at most maxPerUser rules per owner.
// When path is non-empty, previously snapshotted rules are loaded from it and
// every mutation refreshes the snapshot.
func NewStore(maxPerUser int, path string) *Store {
	s := &Store{cap: maxPerUser, path: path}
	for i := range s.shards {
		s.shards[i].rules = make(map[int64][]Rule)
	}
	if path != "" {
		s.load()
	}
	return s
}

func (s *Store) shardFor(owner int64) *shard {
	return &s.shards[uint64(owner)%shardCount]
}

// Add creates a new active rule. The cap counts every rule the owner has,
// regardless of state, so a fired or disabled rule still occupies a slot
// until the user deletes it.
func (s *Store) Add(owner int64, slug string, direction Direction, threshold decimal.Decimal) (Rule, error) {
	if !threshold.IsPositive() {
		return Rule{}, ErrInvalidThreshold
	}

	sh := s.shardFor(owner)
	sh.mu.Lock()
	if len(sh.rules[owner]) >= s.cap {
		sh.mu.Unlock()
		return Rule{}, ErrCapacityExceeded
	}

	rule := Rule{
		ID:        uuid.New(),
		Owner:     owner,
		Slug:      slug,
		Direction: direction,
		Threshold: threshold,
		State:     StateActive,
		LastSide:  SideUnknown,
		CreatedAt: time.Now().UTC(),
	}
	sh.rules[owner] = append(sh.rules[owner], rule)
	sh.mu.Unlock()

	s.persist()
	return rule, nil
}

// List returns the owner's rules in creation order.
func (s *Store) List(owner int64) []Rule {
	sh := s.shardFor(owner)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	out := make([]Rule, len(sh.rules[owner]))
	copy(out, sh.rules[owner])
	return out
}

// Remove deletes the owner's rule with the given id.
func (s *Store) Remove(owner int64, id uuid.UUID) error {
	sh := s.shardFor(owner)
	sh.mu.Lock()
	rules := sh.rules[owner]
	idx := -1
	for i, r := range rules {
		if r.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		sh.mu.Unlock()
		return ErrNotFound
	}
	sh.rules[owner] = append(rules[:idx], rules[idx+1:]...)
	sh.mu.Unlock()

	s.persist()
	return nil
}

// MarkFired transitions an active rule to fired. The rule stays fired until
// the user re-arms it; it never re-fires on its own.
func (s *Store) MarkFired(id uuid.UUID, firedAt time.Time) error {
	err := s.update(id, func(r *Rule) {
		r.State = StateFired
		at := firedAt.UTC()
		r.FiredAt = &at
	})
	if err != nil {
		return err
	}
	s.persist()
	return nil
}

// Disable parks a rule without deleting it. It keeps its capacity slot.
func (s *Store) Disable(id uuid.UUID) error {
	err := s.update(id, func(r *Rule) {
		r.State = StateDisabled
	})
	if err != nil {
		return err
	}
	s.persist()
	return nil
}

// Arm re-activates a fired or disabled rule. The threshold side resets to
// unknown so the next evaluation establishes a fresh baseline.
func (s *Store) Arm(owner int64, id uuid.UUID) error {
	sh := s.shardFor(owner)
	sh.mu.Lock()
	var found bool
	rules := sh.rules[owner]
	for i := range rules {
		if rules[i].ID == id {
			rules[i].State = StateActive
			rules[i].LastSide = SideUnknown
			rules[i].FiredAt = nil
			found = true
			break
		}
	}
	sh.mu.Unlock()

	if !found {
		return ErrNotFound
	}
	s.persist()
	return nil
}

// ObserveSide records which side of the threshold the floor price was on when
// the rule was last evaluated. Called by the scheduler after each cycle; not
// part of the user-facing surface.
func (s *Store) ObserveSide(id uuid.UUID, side Side, evaluatedAt time.Time) error {
	return s.update(id, func(r *Rule) {
		r.LastSide = side
		r.LastEvaluatedAt = evaluatedAt.UTC()
	})
}

// ActiveRules returns a copy of every rule currently in active state, in a
// stable per-owner creation order. The copy means a cycle evaluates against a
// consistent view even while users keep editing their alerts.
func (s *Store) ActiveRules() []Rule {
	var out []Rule
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, rules := range sh.rules {
			for _, r := range rules {
				if r.State == StateActive {
					out = append(out, r)
				}
			}
		}
		sh.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Slugs returns the distinct collection slugs referenced by active rules.
func (s *Store) Slugs() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range s.ActiveRules() {
		if _, ok := seen[r.Slug]; ok {
			continue
		}
		seen[r.Slug] = struct{}{}
		out = append(out, r.Slug)
	}
	return out
}

func (s *Store) update(id uuid.UUID, apply func(*Rule)) error {
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for owner, rules := range sh.rules {
			for j := range rules {
				if rules[j].ID == id {
					apply(&rules[j])
					sh.rules[owner] = rules
					sh.mu.Unlock()
					return nil
				}
			}
		}
		sh.mu.Unlock()
	}
	return ErrNotFound
}

func (s *Store) snapshot() []Rule {
	var out []Rule
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, rules := range sh.rules {
			out = append(out, rules...)
		}
		sh.mu.Unlock()
	}
	return out
}

// persist writes the current rules to the snapshot file. Failures are logged
// and swallowed: losing the snapshot degrades restart behavior, never a
// running store operation.
func (s *Store) persist() {
	if s.path == "" {
		return
	}

	data, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		log.Errorf("failed to marshal alert snapshot: %v", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		log.Errorf("failed to write alert snapshot: %v", err)
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Errorf("failed to read alert snapshot: %v", err)
		}
		return
	}

	var rules []Rule
	if err := json.Unmarshal(data, &rules); err != nil {
		log.Errorf("failed to parse alert snapshot: %v", err)
		return
	}

	for _, r := range rules {
		sh := s.shardFor(r.Owner)
		sh.mu.Lock()
		sh.rules[r.Owner] = append(sh.rules[r.Owner], r)
		sh.mu.Unlock()
	}
	log.Debugf("loaded %d alert rules from snapshot", len(rules))
}
