// Package memrepo 内存版 Store：db.driver=memory 时使用，也是服务层测试的夹具。
// InTx 串行执行，出错时整体回滚到进入前的快照。
package memrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ez-parking/internal/domain"
)

type table[T any] struct {
	rows map[uint]T
	seq  uint
}

func newTable[T any]() table[T] { return table[T]{rows: map[uint]T{}} }

func (t *table[T]) next() uint { t.seq++; return t.seq }

func (t *table[T]) clone() table[T] {
	c := table[T]{rows: make(map[uint]T, len(t.rows)), seq: t.seq}
	for k, v := range t.rows {
		c.rows[k] = v
	}
	return c
}

// find 返回副本，调用方修改不影响存储
func (t *table[T]) find(pred func(*T) bool) *T {
	for _, id := range t.ids() {
		v := t.rows[id]
		if pred(&v) {
			return &v
		}
	}
	return nil
}

func (t *table[T]) filter(pred func(*T) bool) []T {
	out := []T{}
	for _, id := range t.ids() {
		v := t.rows[id]
		if pred(&v) {
			out = append(out, v)
		}
	}
	return out
}

func (t *table[T]) ids() []uint {
	ids := make([]uint, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type data struct {
	users          table[domain.User]
	establishments table[domain.Establishment]
	vehicleTypes   table[domain.VehicleType]
	slots          table[domain.Slot]
	transactions   table[domain.Transaction]
	userBans       table[domain.UserBan]
	plateBans      table[domain.BannedPlate]
	audit          table[domain.AuditLog]
}

func (d *data) clone() *data {
	return &data{
		users:          d.users.clone(),
		establishments: d.establishments.clone(),
		vehicleTypes:   d.vehicleTypes.clone(),
		slots:          d.slots.clone(),
		transactions:   d.transactions.clone(),
		userBans:       d.userBans.clone(),
		plateBans:      d.plateBans.clone(),
		audit:          d.audit.clone(),
	}
}

type txKey struct{}

type Store struct {
	mu   sync.Mutex // 保护 d
	txMu sync.Mutex // 串行化 InTx
	d    *data
	Now  func() time.Time
}

func New() *Store {
	return &Store{
		d: &data{
			users:          newTable[domain.User](),
			establishments: newTable[domain.Establishment](),
			vehicleTypes:   newTable[domain.VehicleType](),
			slots:          newTable[domain.Slot](),
			transactions:   newTable[domain.Transaction](),
			userBans:       newTable[domain.UserBan](),
			plateBans:      newTable[domain.BannedPlate](),
			audit:          newTable[domain.AuditLog](),
		},
		Now: time.Now,
	}
}

func (s *Store) Repos(context.Context) domain.Repos {
	return domain.Repos{
		Users:          userRepo{s},
		Establishments: establishmentRepo{s},
		VehicleTypes:   vehicleTypeRepo{s},
		Slots:          slotRepo{s},
		Transactions:   transactionRepo{s},
		UserBans:       userBanRepo{s},
		PlateBans:      plateBanRepo{s},
		Audit:          auditRepo{s},
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, r domain.Repos) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx, s.Repos(ctx))
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.d.clone()
	s.mu.Unlock()

	txCtx := context.WithValue(ctx, txKey{}, true)
	if err := fn(txCtx, s.Repos(txCtx)); err != nil {
		s.mu.Lock()
		s.d = snap
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

// with 持锁访问数据
func (s *Store) with(fn func(d *data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.d)
}

func (s *Store) stamp(created, updated *time.Time) {
	now := s.Now()
	if created != nil && created.IsZero() {
		*created = now
	}
	*updated = now
}

type userRepo struct{ s *Store }

func (r userRepo) unique(d *data, u *domain.User) error {
	dup := d.users.find(func(o *domain.User) bool {
		if o.ID == u.ID {
			return false
		}
		return o.Email == u.Email || o.PhoneNumber == u.PhoneNumber || o.UUID == u.UUID ||
			(u.PlateNumber != nil && o.PlateNumber != nil && *o.PlateNumber == *u.PlateNumber) ||
			(u.VerificationToken != nil && o.VerificationToken != nil && *o.VerificationToken == *u.VerificationToken)
	})
	if dup != nil {
		return domain.ErrDuplicate
	}
	return nil
}

func (r userRepo) Create(u *domain.User) error {
	return r.s.with(func(d *data) error {
		if err := r.unique(d, u); err != nil {
			return err
		}
		u.ID = d.users.next()
		r.s.stamp(&u.CreatedAt, &u.UpdatedAt)
		d.users.rows[u.ID] = *u
		return nil
	})
}

func (r userRepo) by(pred func(*domain.User) bool) (*domain.User, error) {
	var out *domain.User
	_ = r.s.with(func(d *data) error { out = d.users.find(pred); return nil })
	return out, nil
}

func (r userRepo) FindByID(id uint) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.ID == id })
}

func (r userRepo) FindByUUID(uuid string) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.UUID == uuid })
}

func (r userRepo) FindByEmail(email string) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.Email == email })
}

func (r userRepo) FindByPhone(phone string) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.PhoneNumber == phone })
}

func (r userRepo) FindByPlate(plate string) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.PlateNumber != nil && *u.PlateNumber == plate })
}

func (r userRepo) FindByVerificationToken(token string) (*domain.User, error) {
	return r.by(func(u *domain.User) bool { return u.VerificationToken != nil && *u.VerificationToken == token })
}

func (r userRepo) Update(u *domain.User) error {
	return r.s.with(func(d *data) error {
		if err := r.unique(d, u); err != nil {
			return err
		}
		r.s.stamp(nil, &u.UpdatedAt)
		d.users.rows[u.ID] = *u
		return nil
	})
}

type establishmentRepo struct{ s *Store }

func (r establishmentRepo) Create(e *domain.Establishment) error {
	return r.s.with(func(d *data) error {
		e.ID = d.establishments.next()
		r.s.stamp(&e.CreatedAt, &e.UpdatedAt)
		e.Slots = nil
		d.establishments.rows[e.ID] = *e
		return nil
	})
}

func (r establishmentRepo) FindByID(id uint) (*domain.Establishment, error) {
	var out *domain.Establishment
	_ = r.s.with(func(d *data) error {
		out = d.establishments.find(func(e *domain.Establishment) bool { return e.ID == id })
		return nil
	})
	return out, nil
}

func (r establishmentRepo) FindByUUID(uuid string) (*domain.Establishment, error) {
	var out *domain.Establishment
	_ = r.s.with(func(d *data) error {
		out = d.establishments.find(func(e *domain.Establishment) bool { return e.UUID == uuid })
		return nil
	})
	return out, nil
}

func (r establishmentRepo) List(f domain.EstablishmentFilter) ([]domain.Establishment, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	var out []domain.Establishment
	_ = r.s.with(func(d *data) error {
		out = d.establishments.filter(func(e *domain.Establishment) bool {
			if f.Only24h && !e.Is24Hours {
				return false
			}
			if f.ManagerID != nil && !e.ManagedBy(*f.ManagerID) {
				return false
			}
			if search != "" &&
				!strings.Contains(strings.ToLower(e.Name), search) &&
				!strings.Contains(strings.ToLower(e.Address), search) {
				return false
			}
			return true
		})
		return nil
	})
	if f.Near() {
		lat, lon := *f.Latitude, *f.Longitude
		sort.SliceStable(out, func(i, j int) bool {
			return domain.HaversineKm(lat, lon, out[i].Latitude, out[i].Longitude) <
				domain.HaversineKm(lat, lon, out[j].Latitude, out[j].Longitude)
		})
	}
	return out, nil
}

func (r establishmentRepo) Update(e *domain.Establishment) error {
	return r.s.with(func(d *data) error {
		r.s.stamp(nil, &e.UpdatedAt)
		d.establishments.rows[e.ID] = *e
		return nil
	})
}

func (r establishmentRepo) Delete(id uint) error {
	return r.s.with(func(d *data) error {
		for sid, sl := range d.slots.rows {
			if sl.EstablishmentID == id {
				delete(d.slots.rows, sid)
			}
		}
		delete(d.establishments.rows, id)
		return nil
	})
}

type vehicleTypeRepo struct{ s *Store }

func (r vehicleTypeRepo) Create(v *domain.VehicleType) error {
	return r.s.with(func(d *data) error {
		if d.vehicleTypes.find(func(o *domain.VehicleType) bool { return o.Code == v.Code }) != nil {
			return domain.ErrDuplicate
		}
		v.ID = d.vehicleTypes.next()
		r.s.stamp(&v.CreatedAt, &v.UpdatedAt)
		d.vehicleTypes.rows[v.ID] = *v
		return nil
	})
}

func (r vehicleTypeRepo) FindByID(id uint) (*domain.VehicleType, error) {
	var out *domain.VehicleType
	_ = r.s.with(func(d *data) error {
		out = d.vehicleTypes.find(func(v *domain.VehicleType) bool { return v.ID == id })
		return nil
	})
	return out, nil
}

func (r vehicleTypeRepo) List() ([]domain.VehicleType, error) {
	var out []domain.VehicleType
	_ = r.s.with(func(d *data) error {
		out = d.vehicleTypes.filter(func(*domain.VehicleType) bool { return true })
		return nil
	})
	return out, nil
}

type slotRepo struct{ s *Store }

func (r slotRepo) Create(sl *domain.Slot) error {
	return r.s.with(func(d *data) error {
		dup := d.slots.find(func(o *domain.Slot) bool {
			return o.EstablishmentID == sl.EstablishmentID && o.SlotCode == sl.SlotCode
		})
		if dup != nil {
			return domain.ErrDuplicate
		}
		if sl.Status == "" {
			sl.Status = domain.SlotAvailable
		}
		sl.ID = d.slots.next()
		r.s.stamp(&sl.CreatedAt, &sl.UpdatedAt)
		d.slots.rows[sl.ID] = *sl
		return nil
	})
}

func (r slotRepo) FindByID(id uint) (*domain.Slot, error) {
	var out *domain.Slot
	_ = r.s.with(func(d *data) error {
		out = d.slots.find(func(sl *domain.Slot) bool { return sl.ID == id })
		return nil
	})
	return out, nil
}

func (r slotRepo) FindByCode(establishmentID uint, code string) (*domain.Slot, error) {
	var out *domain.Slot
	_ = r.s.with(func(d *data) error {
		out = d.slots.find(func(sl *domain.Slot) bool {
			return sl.EstablishmentID == establishmentID && sl.SlotCode == code
		})
		return nil
	})
	return out, nil
}

func (r slotRepo) ListByEstablishment(establishmentID uint, size domain.VehicleSize) ([]domain.Slot, error) {
	var out []domain.Slot
	_ = r.s.with(func(d *data) error {
		out = d.slots.filter(func(sl *domain.Slot) bool {
			if sl.EstablishmentID != establishmentID {
				return false
			}
			if size == "" {
				return true
			}
			vt, ok := d.vehicleTypes.rows[sl.VehicleTypeID]
			return ok && vt.Size == size
		})
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FloorLevel != out[j].FloorLevel {
			return out[i].FloorLevel < out[j].FloorLevel
		}
		return out[i].SlotCode < out[j].SlotCode
	})
	return out, nil
}

func (r slotRepo) Patch(id uint, p domain.SlotPatch) error {
	return r.s.with(func(d *data) error {
		sl, ok := d.slots.rows[id]
		if !ok {
			return nil
		}
		p.Apply(&sl)
		dup := d.slots.find(func(o *domain.Slot) bool {
			return o.ID != id && o.EstablishmentID == sl.EstablishmentID && o.SlotCode == sl.SlotCode
		})
		if dup != nil {
			return domain.ErrDuplicate
		}
		r.s.stamp(nil, &sl.UpdatedAt)
		d.slots.rows[id] = sl
		return nil
	})
}

func (r slotRepo) TransitionStatus(id uint, from []domain.SlotStatus, to domain.SlotStatus) (bool, error) {
	hit := false
	err := r.s.with(func(d *data) error {
		sl, ok := d.slots.rows[id]
		if !ok {
			return nil
		}
		for _, f := range from {
			if sl.Status == f {
				sl.Status = to
				r.s.stamp(nil, &sl.UpdatedAt)
				d.slots.rows[id] = sl
				hit = true
				break
			}
		}
		return nil
	})
	return hit, err
}

func (r slotRepo) CountAvailable(establishmentID uint) (int64, error) {
	var n int64
	_ = r.s.with(func(d *data) error {
		for _, sl := range d.slots.rows {
			if sl.EstablishmentID == establishmentID && sl.Status == domain.SlotAvailable {
				n++
			}
		}
		return nil
	})
	return n, nil
}

type transactionRepo struct{ s *Store }

func (r transactionRepo) Create(t *domain.Transaction) error {
	return r.s.with(func(d *data) error {
		t.ID = d.transactions.next()
		r.s.stamp(&t.CreatedAt, &t.UpdatedAt)
		d.transactions.rows[t.ID] = *t
		return nil
	})
}

func (r transactionRepo) FindByUUID(uuid string) (*domain.Transaction, error) {
	var out *domain.Transaction
	_ = r.s.with(func(d *data) error {
		out = d.transactions.find(func(t *domain.Transaction) bool { return t.UUID == uuid })
		return nil
	})
	return out, nil
}

func (r transactionRepo) list(pred func(*domain.Transaction) bool) []domain.Transaction {
	var out []domain.Transaction
	_ = r.s.with(func(d *data) error { out = d.transactions.filter(pred); return nil })
	// 新的在前
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r transactionRepo) ListByUser(userID uint) ([]domain.Transaction, error) {
	return r.list(func(t *domain.Transaction) bool { return t.UserID == userID }), nil
}

func (r transactionRepo) ListByPlate(plate string) ([]domain.Transaction, error) {
	return r.list(func(t *domain.Transaction) bool { return t.PlateNumber == plate }), nil
}

func (r transactionRepo) Transition(id uint, from domain.TransactionStatus, p domain.TransactionPatch) (bool, error) {
	hit := false
	err := r.s.with(func(d *data) error {
		t, ok := d.transactions.rows[id]
		if !ok || t.Status != from {
			return nil
		}
		t.Status = p.Status
		if p.EntryTime != nil {
			t.EntryTime = p.EntryTime
		}
		if p.ExitTime != nil {
			t.ExitTime = p.ExitTime
		}
		if p.AmountDue != nil {
			t.AmountDue = *p.AmountDue
		}
		r.s.stamp(nil, &t.UpdatedAt)
		d.transactions.rows[id] = t
		hit = true
		return nil
	})
	return hit, err
}

func (r transactionRepo) ListReservedBefore(before time.Time, limit int) ([]domain.Transaction, error) {
	var out []domain.Transaction
	_ = r.s.with(func(d *data) error {
		out = d.transactions.filter(func(t *domain.Transaction) bool {
			return t.Status == domain.TxReserved && t.CreatedAt.Before(before)
		})
		return nil
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r transactionRepo) CountLive(slotIDs []uint) (int64, error) {
	ids := map[uint]bool{}
	for _, id := range slotIDs {
		ids[id] = true
	}
	var n int64
	_ = r.s.with(func(d *data) error {
		for _, t := range d.transactions.rows {
			if ids[t.SlotID] && (t.Status == domain.TxReserved || t.Status == domain.TxActive) {
				n++
			}
		}
		return nil
	})
	return n, nil
}

type userBanRepo struct{ s *Store }

func (r userBanRepo) Create(b *domain.UserBan) error {
	return r.s.with(func(d *data) error {
		b.ID = d.userBans.next()
		r.s.stamp(&b.CreatedAt, &b.UpdatedAt)
		d.userBans.rows[b.ID] = *b
		return nil
	})
}

func (r userBanRepo) ActiveForUser(userID uint, at time.Time) (*domain.UserBan, error) {
	var out *domain.UserBan
	_ = r.s.with(func(d *data) error {
		out = d.userBans.find(func(b *domain.UserBan) bool { return b.UserID == userID && b.ActiveAt(at) })
		return nil
	})
	return out, nil
}

func (r userBanRepo) DeleteForUser(userID uint) (int64, error) {
	var n int64
	err := r.s.with(func(d *data) error {
		for id, b := range d.userBans.rows {
			if b.UserID == userID {
				delete(d.userBans.rows, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r userBanRepo) List(offset, limit int) ([]domain.UserBan, int64, error) {
	var all []domain.UserBan
	_ = r.s.with(func(d *data) error {
		all = d.userBans.filter(func(*domain.UserBan) bool { return true })
		return nil
	})
	return paged(all, offset, limit), int64(len(all)), nil
}

type plateBanRepo struct{ s *Store }

func (r plateBanRepo) Upsert(b *domain.BannedPlate) error {
	return r.s.with(func(d *data) error {
		if cur := d.plateBans.find(func(o *domain.BannedPlate) bool { return o.PlateNumber == b.PlateNumber }); cur != nil {
			b.ID, b.UUID, b.CreatedAt = cur.ID, cur.UUID, cur.CreatedAt
		} else {
			b.ID = d.plateBans.next()
		}
		r.s.stamp(&b.CreatedAt, &b.UpdatedAt)
		d.plateBans.rows[b.ID] = *b
		return nil
	})
}

func (r plateBanRepo) FindByPlate(plate string) (*domain.BannedPlate, error) {
	var out *domain.BannedPlate
	_ = r.s.with(func(d *data) error {
		out = d.plateBans.find(func(b *domain.BannedPlate) bool { return b.PlateNumber == plate })
		return nil
	})
	return out, nil
}

func (r plateBanRepo) Delete(plate string) (int64, error) {
	var n int64
	err := r.s.with(func(d *data) error {
		for id, b := range d.plateBans.rows {
			if b.PlateNumber == plate {
				delete(d.plateBans.rows, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r plateBanRepo) List(offset, limit int) ([]domain.BannedPlate, int64, error) {
	var all []domain.BannedPlate
	_ = r.s.with(func(d *data) error {
		all = d.plateBans.filter(func(*domain.BannedPlate) bool { return true })
		return nil
	})
	return paged(all, offset, limit), int64(len(all)), nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Create(a *domain.AuditLog) error {
	return r.s.with(func(d *data) error {
		a.ID = d.audit.next()
		if a.PerformedAt.IsZero() {
			a.PerformedAt = r.s.Now()
		}
		d.audit.rows[a.ID] = *a
		return nil
	})
}

// List 新的在前
func (r auditRepo) List(offset, limit int) ([]domain.AuditLog, int64, error) {
	var all []domain.AuditLog
	_ = r.s.with(func(d *data) error {
		all = d.audit.filter(func(*domain.AuditLog) bool { return true })
		return nil
	})
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return paged(all, offset, limit), int64(len(all)), nil
}

func paged[T any](all []T, offset, limit int) []T {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
