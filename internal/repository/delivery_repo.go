package repository

import (
	"strings"

	"github.com/kursadbilgin/delivery-simulator/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
)

// DeliveryRepository is the in-process source of truth for deliveries.
// Every method is safe for concurrent use and never blocks longer than a
// single key's critical section. Returned values are copies.
type DeliveryRepository interface {
	Insert(d *domain.Delivery) bool
	GetByID(id string) (domain.Delivery, bool)
	GetByIdempotencyKey(key string) (domain.Delivery, bool)
	Update(d *domain.Delivery) bool
	CompareAndSwap(d *domain.Delivery) bool
	ListAll() []domain.Delivery
	ListNonTerminal() []domain.Delivery
	Count() int
}

var _ DeliveryRepository = (*MemoryDeliveryRepo)(nil)

// MemoryDeliveryRepo keeps deliveries in a per-key locked map with a second
// map indexing idempotency keys. State is lost on restart.
type MemoryDeliveryRepo struct {
	deliveries *xsync.MapOf[string, domain.Delivery]
	keys       *xsync.MapOf[string, string]
}

func NewMemoryDeliveryRepo() *MemoryDeliveryRepo {
	return &MemoryDeliveryRepo{
		deliveries: xsync.NewMapOf[string, domain.Delivery](),
		keys:       xsync.NewMapOf[string, string](),
	}
}

// Insert stores d if its ID is unused. When d carries an idempotency key the
// key is registered in the same critical section, and an insert whose key is
// already taken fails without side effects. On success d.Version is set.
func (r *MemoryDeliveryRepo) Insert(d *domain.Delivery) bool {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return false
	}

	record := d.Clone()
	record.Version = 1

	key := idempotencyKeyOf(record)
	if key == "" {
		if _, loaded := r.deliveries.LoadOrStore(record.ID, record); loaded {
			return false
		}
		d.Version = record.Version
		return true
	}

	inserted := false
	r.keys.Compute(key, func(existingID string, loaded bool) (string, bool) {
		if loaded {
			return existingID, false
		}
		if _, exists := r.deliveries.LoadOrStore(record.ID, record); exists {
			return "", true
		}
		inserted = true
		return record.ID, false
	})

	if inserted {
		d.Version = record.Version
	}
	return inserted
}

func (r *MemoryDeliveryRepo) GetByID(id string) (domain.Delivery, bool) {
	d, ok := r.deliveries.Load(id)
	if !ok {
		return domain.Delivery{}, false
	}
	return d.Clone(), true
}

func (r *MemoryDeliveryRepo) GetByIdempotencyKey(key string) (domain.Delivery, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Delivery{}, false
	}

	id, ok := r.keys.Load(key)
	if !ok {
		return domain.Delivery{}, false
	}
	return r.GetByID(id)
}

// Update replaces the stored delivery unconditionally (last write wins).
// ID, creation time, driver and idempotency key are kept from the stored
// record. Returns false if the ID is unknown.
func (r *MemoryDeliveryRepo) Update(d *domain.Delivery) bool {
	return r.replace(d, false)
}

// CompareAndSwap behaves like Update but only applies when d.Version matches
// the stored version.
func (r *MemoryDeliveryRepo) CompareAndSwap(d *domain.Delivery) bool {
	return r.replace(d, true)
}

func (r *MemoryDeliveryRepo) replace(d *domain.Delivery, checkVersion bool) bool {
	if d == nil {
		return false
	}

	next := d.Clone()
	applied := false
	r.deliveries.Compute(d.ID, func(current domain.Delivery, loaded bool) (domain.Delivery, bool) {
		if !loaded {
			return current, true
		}
		if checkVersion && current.Version != next.Version {
			return current, false
		}

		next.CreatedAt = current.CreatedAt
		next.Driver = current.Driver
		next.IdempotencyKey = current.IdempotencyKey
		next.Version = current.Version + 1
		applied = true
		return next, false
	})

	if applied {
		d.Version = next.Version
	}
	return applied
}

func (r *MemoryDeliveryRepo) ListAll() []domain.Delivery {
	return r.collect(func(domain.Delivery) bool { return true })
}

func (r *MemoryDeliveryRepo) ListNonTerminal() []domain.Delivery {
	return r.collect(func(d domain.Delivery) bool { return !d.Status.IsTerminal() })
}

func (r *MemoryDeliveryRepo) Count() int {
	return r.deliveries.Size()
}

func (r *MemoryDeliveryRepo) collect(keep func(domain.Delivery) bool) []domain.Delivery {
	out := make([]domain.Delivery, 0, r.deliveries.Size())
	r.deliveries.Range(func(_ string, d domain.Delivery) bool {
		if keep(d) {
			out = append(out, d.Clone())
		}
		return true
	})
	return out
}

func idempotencyKeyOf(d domain.Delivery) string {
	if d.IdempotencyKey == nil {
		return ""
	}
	return strings.TrimSpace(*d.IdempotencyKey)
}
