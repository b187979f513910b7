// Package blockmap keeps an in-memory registry of memory blocks and the
// storage tier each block currently lives in. It is bookkeeping only: the
// decision of when to move a block belongs to the caller.
package blockmap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tier identifies a level of the memory hierarchy, fastest first.
type Tier string

const (
	TierL1 Tier = "L1" // primary device VRAM
	TierL2 Tier = "L2" // secondary device VRAM
	TierL3 Tier = "L3" // host RAM
	TierL4 Tier = "L4" // remote RAM
	TierL5 Tier = "L5" // local fast storage
	TierL6 Tier = "L6" // network storage
)

var tiers = []Tier{TierL1, TierL2, TierL3, TierL4, TierL5, TierL6}

func ValidTier(t Tier) bool {
	for _, k := range tiers {
		if k == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusFree      Status = "free"
	StatusReserved  Status = "reserved"
	StatusAllocated Status = "allocated"
)

var (
	ErrNotFound      = errors.New("blockmap: block not found")
	ErrInvalidTier   = errors.New("blockmap: invalid tier")
	ErrBadTransition = errors.New("blockmap: invalid status transition")
)

// Block is one tracked memory block.
type Block struct {
	ID        string    `json:"id"`
	SizeMB    int       `json:"size_mb"`
	Device    int       `json:"device"`
	Tier      Tier      `json:"tier"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Registry struct {
	log *slog.Logger
	now func() time.Time

	mu     sync.RWMutex
	blocks map[string]*Block
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		now:    time.Now,
		blocks: make(map[string]*Block),
	}
}

// Register adds a new block to the registry and returns its generated id.
func (r *Registry) Register(sizeMB, dev int, tier Tier) (Block, error) {
	if !ValidTier(tier) {
		return Block{}, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if sizeMB <= 0 {
		return Block{}, fmt.Errorf("blockmap: non-positive size %d", sizeMB)
	}
	b := &Block{
		ID:        uuid.NewString(),
		SizeMB:    sizeMB,
		Device:    dev,
		Tier:      tier,
		Status:    StatusFree,
		UpdatedAt: r.now(),
	}
	r.mu.Lock()
	r.blocks[b.ID] = b
	r.mu.Unlock()

	r.log.Debug("block registered", "block", short(b.ID), "tier", string(tier), "size_mb", sizeMB)
	return *b, nil
}

func (r *Registry) Get(id string) (Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blocks[id]
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *b, nil
}

// Migrate moves a block to another tier. Moving to the current tier is a
// no-op, mirroring register-then-migrate callers that re-place blocks.
func (r *Registry) Migrate(id string, target Tier) (Block, error) {
	if !ValidTier(target) {
		return Block{}, fmt.Errorf("%w: %q", ErrInvalidTier, target)
	}
	r.mu.Lock()
	b, ok := r.blocks[id]
	if !ok {
		r.mu.Unlock()
		return Block{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	prev := b.Tier
	if prev != target {
		b.Tier = target
		b.UpdatedAt = r.now()
	}
	out := *b
	r.mu.Unlock()

	if prev != target {
		r.log.Info("block migrated", "block", short(id), "from", string(prev), "to", string(target))
	}
	return out, nil
}

// Reserve marks a free block reserved; Allocate promotes a reserved block;
// Release returns a block to free. Any other transition fails.
func (r *Registry) Reserve(id string) error {
	return r.transition(id, StatusFree, StatusReserved)
}

func (r *Registry) Allocate(id string) error {
	return r.transition(id, StatusReserved, StatusAllocated)
}

func (r *Registry) Release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	b.Status = StatusFree
	b.UpdatedAt = r.now()
	return nil
}

func (r *Registry) transition(id string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blocks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if b.Status != from {
		return fmt.Errorf("%w: %s is %s, want %s", ErrBadTransition, short(id), b.Status, from)
	}
	b.Status = to
	b.UpdatedAt = r.now()
	return nil
}

// Summary reports block counts per tier.
type Summary struct {
	Tiers map[Tier]int `json:"tiers"`
	Count int          `json:"count"`
}

func (r *Registry) Summarize() Summary {
	s := Summary{Tiers: make(map[Tier]int, len(tiers))}
	for _, t := range tiers {
		s.Tiers[t] = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.blocks {
		s.Tiers[b.Tier]++
	}
	s.Count = len(r.blocks)
	return s
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
