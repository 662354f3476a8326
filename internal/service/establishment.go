package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/cache"
	"ez-parking/internal/domain"
)

type EstablishmentService struct {
	store   domain.Store
	cache   *cache.Cache
	l       *zap.Logger
	infoTTL time.Duration
}

// EstablishmentItem 列表项，给了坐标时带距离
type EstablishmentItem struct {
	domain.Establishment
	AvailableSlots int64    `json:"available_slots"`
	DistanceKm     *float64 `json:"distance_km,omitempty"`
}

type EstablishmentInfo struct {
	Establishment  domain.Establishment `json:"establishment"`
	Slots          []domain.Slot        `json:"slots"`
	AvailableSlots int64                `json:"available_slots"`
}

func (s *EstablishmentService) List(ctx context.Context, f domain.EstablishmentFilter) ([]EstablishmentItem, error) {
	r := s.store.Repos(ctx)
	ests, err := r.Establishments.List(f)
	if err != nil {
		return nil, dbErr(err)
	}
	out := make([]EstablishmentItem, 0, len(ests))
	for _, e := range ests {
		n, err := r.Slots.CountAvailable(e.ID)
		if err != nil {
			return nil, dbErr(err)
		}
		it := EstablishmentItem{Establishment: e, AvailableSlots: n}
		if f.Near() {
			d := domain.HaversineKm(*f.Latitude, *f.Longitude, e.Latitude, e.Longitude)
			it.DistanceKm = &d
		}
		out = append(out, it)
	}
	return out, nil
}

// Info 带车位列表，redis 缓存 30s，写操作提交后换代失效。
// 代数在回源之前读取，并发写入之后的读取一定落在新代上
func (s *EstablishmentService) Info(ctx context.Context, uuid string) (*EstablishmentInfo, error) {
	key := cache.EstablishmentKey(uuid)
	key = cache.Versioned(key, s.cache.Gen(ctx, key))
	return cache.GetOrLoadJSON(s.cache, ctx, key, s.infoTTL, func(ctx context.Context) (*EstablishmentInfo, error) {
		r := s.store.Repos(ctx)
		e, err := findEstablishment(r, uuid)
		if err != nil {
			return nil, err
		}
		slots, err := r.Slots.ListByEstablishment(e.ID, "")
		if err != nil {
			return nil, dbErr(err)
		}
		info := &EstablishmentInfo{Establishment: *e, Slots: slots}
		for _, sl := range slots {
			if !sl.Taken() {
				info.AvailableSlots++
			}
		}
		return info, nil
	})
}

func (s *EstablishmentService) invalidate(ctx context.Context, uuid string) {
	if err := s.cache.Bump(ctx, cache.EstablishmentKey(uuid)); err != nil {
		s.l.Warn("cache invalidate failed", zap.String("establishment_uuid", uuid), zap.Error(err))
	}
}

type EstablishmentInput struct {
	Name          string  `json:"name" binding:"required,max=255"`
	Address       string  `json:"address" binding:"required,max=255"`
	ContactNumber string  `json:"contact_number" binding:"required,max=25"`
	OpeningTime   string  `json:"opening_time" binding:"omitempty,hhmm"`
	ClosingTime   string  `json:"closing_time" binding:"omitempty,hhmm"`
	Is24Hours     bool    `json:"is_24_hours"`
	HourlyRate    float64 `json:"hourly_rate" binding:"gte=0"`
	Longitude     float64 `json:"longitude" binding:"gte=-180,lte=180"`
	Latitude      float64 `json:"latitude" binding:"gte=-90,lte=90"`
	ManagerUUID   string  `json:"manager_uuid" binding:"omitempty,uuid"`
}

// EstablishmentPatch nil 字段不修改
type EstablishmentPatch struct {
	Name          *string  `json:"name" binding:"omitempty,max=255"`
	Address       *string  `json:"address" binding:"omitempty,max=255"`
	ContactNumber *string  `json:"contact_number" binding:"omitempty,max=25"`
	OpeningTime   *string  `json:"opening_time" binding:"omitempty,hhmm"`
	ClosingTime   *string  `json:"closing_time" binding:"omitempty,hhmm"`
	Is24Hours     *bool    `json:"is_24_hours"`
	HourlyRate    *float64 `json:"hourly_rate" binding:"omitempty,gte=0"`
	Longitude     *float64 `json:"longitude" binding:"omitempty,gte=-180,lte=180"`
	Latitude      *float64 `json:"latitude" binding:"omitempty,gte=-90,lte=90"`
	ManagerUUID   *string  `json:"manager_uuid" binding:"omitempty,uuid"`
}

func (s *EstablishmentService) Create(ctx context.Context, a Actor, in EstablishmentInput) (*domain.Establishment, error) {
	e := &domain.Establishment{
		UUID:          newUUID(),
		Name:          strings.TrimSpace(in.Name),
		Address:       strings.TrimSpace(in.Address),
		ContactNumber: strings.TrimSpace(in.ContactNumber),
		OpeningTime:   in.OpeningTime,
		ClosingTime:   in.ClosingTime,
		Is24Hours:     in.Is24Hours,
		HourlyRate:    in.HourlyRate,
		Longitude:     in.Longitude,
		Latitude:      in.Latitude,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if in.ManagerUUID != "" {
			id, err := managerID(r, in.ManagerUUID)
			if err != nil {
				return err
			}
			e.ManagerID = &id
		}
		if err := r.Establishments.Create(e); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionCreate, e.ManagerID,
			fmt.Sprintf("Created establishment %s", e.Name),
			map[string]any{"establishment_uuid": e.UUID})
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *EstablishmentService) Update(ctx context.Context, a Actor, uuid string, p EstablishmentPatch) (*domain.Establishment, error) {
	var e *domain.Establishment
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if e, err = findEstablishment(r, uuid); err != nil {
			return err
		}
		if p.Name != nil {
			e.Name = strings.TrimSpace(*p.Name)
		}
		if p.Address != nil {
			e.Address = strings.TrimSpace(*p.Address)
		}
		if p.ContactNumber != nil {
			e.ContactNumber = strings.TrimSpace(*p.ContactNumber)
		}
		if p.OpeningTime != nil {
			e.OpeningTime = *p.OpeningTime
		}
		if p.ClosingTime != nil {
			e.ClosingTime = *p.ClosingTime
		}
		if p.Is24Hours != nil {
			e.Is24Hours = *p.Is24Hours
		}
		if p.HourlyRate != nil {
			e.HourlyRate = *p.HourlyRate
		}
		if p.Longitude != nil {
			e.Longitude = *p.Longitude
		}
		if p.Latitude != nil {
			e.Latitude = *p.Latitude
		}
		if p.ManagerUUID != nil {
			id, err := managerID(r, *p.ManagerUUID)
			if err != nil {
				return err
			}
			e.ManagerID = &id
		}
		if err := r.Establishments.Update(e); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionUpdate, e.ManagerID,
			fmt.Sprintf("Updated establishment %s", e.Name),
			map[string]any{"establishment_uuid": e.UUID})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, uuid)
	return e, nil
}

func (s *EstablishmentService) Delete(ctx context.Context, a Actor, uuid string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		e, err := findEstablishment(r, uuid)
		if err != nil {
			return err
		}
		slots, err := r.Slots.ListByEstablishment(e.ID, "")
		if err != nil {
			return dbErr(err)
		}
		ids := make([]uint, 0, len(slots))
		for _, sl := range slots {
			ids = append(ids, sl.ID)
		}
		// 车位随停车场级联删除，进行中的交易会失去车位
		live, err := r.Transactions.CountLive(ids)
		if err != nil {
			return dbErr(err)
		}
		if live > 0 {
			return apperr.New(apperr.Conflict, "Establishment has live transactions.")
		}
		if err := r.Establishments.Delete(e.ID); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionDelete, e.ManagerID,
			fmt.Sprintf("Deleted establishment %s", e.Name),
			map[string]any{"establishment_uuid": e.UUID})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, uuid)
	s.l.Info("establishment deleted", zap.String("establishment_uuid", uuid), zap.Uint("by", a.UserID))
	return nil
}

// Managed admin 看全部，停车场管理员只看自己名下
func (s *EstablishmentService) Managed(ctx context.Context, a Actor) ([]domain.Establishment, error) {
	f := domain.EstablishmentFilter{}
	if !a.Admin() {
		id := a.UserID
		f.ManagerID = &id
	}
	out, err := s.store.Repos(ctx).Establishments.List(f)
	if err != nil {
		return nil, dbErr(err)
	}
	return out, nil
}

type OperatingHours struct {
	EstablishmentUUID string `json:"establishment_uuid"`
	Name              string `json:"name"`
	OpeningTime       string `json:"opening_time"`
	ClosingTime       string `json:"closing_time"`
	Is24Hours         bool   `json:"is_24_hours"`
}

func hoursOf(e *domain.Establishment) OperatingHours {
	return OperatingHours{
		EstablishmentUUID: e.UUID,
		Name:              e.Name,
		OpeningTime:       e.OpeningTime,
		ClosingTime:       e.ClosingTime,
		Is24Hours:         e.Is24Hours,
	}
}

func (s *EstablishmentService) OperatingHours(ctx context.Context, a Actor) ([]OperatingHours, error) {
	ests, err := s.Managed(ctx, a)
	if err != nil {
		return nil, err
	}
	out := make([]OperatingHours, 0, len(ests))
	for i := range ests {
		out = append(out, hoursOf(&ests[i]))
	}
	return out, nil
}

type OperatingHoursInput struct {
	EstablishmentUUID string `json:"establishment_uuid" binding:"required,uuid"`
	OpeningTime       string `json:"opening_time" binding:"omitempty,hhmm"`
	ClosingTime       string `json:"closing_time" binding:"omitempty,hhmm"`
	Is24Hours         bool   `json:"is_24_hours"`
}

func (s *EstablishmentService) UpdateOperatingHours(ctx context.Context, a Actor, in OperatingHoursInput) (*OperatingHours, error) {
	if !in.Is24Hours {
		if in.OpeningTime == "" || in.ClosingTime == "" {
			return nil, apperr.New(apperr.MissingFields, "Please provide opening and closing time.")
		}
		if err := checkHours(in.OpeningTime, in.ClosingTime); err != nil {
			return nil, err
		}
	}
	var e *domain.Establishment
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if e, err = findEstablishment(r, in.EstablishmentUUID); err != nil {
			return err
		}
		if !a.Admin() && !e.ManagedBy(a.UserID) {
			return apperr.New(apperr.EstablishmentEditsDenied, "")
		}
		e.Is24Hours = in.Is24Hours
		if in.Is24Hours {
			e.OpeningTime, e.ClosingTime = "00:00", "23:59"
		} else {
			e.OpeningTime, e.ClosingTime = in.OpeningTime, in.ClosingTime
		}
		if err := r.Establishments.Update(e); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionUpdate, e.ManagerID,
			fmt.Sprintf("Updated operating hours of %s", e.Name),
			map[string]any{"establishment_uuid": e.UUID, "opening_time": e.OpeningTime, "closing_time": e.ClosingTime})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, in.EstablishmentUUID)
	h := hoursOf(e)
	return &h, nil
}

func checkHours(opening, closing string) error {
	o, err1 := time.Parse("15:04", opening)
	c, err2 := time.Parse("15:04", closing)
	if err1 != nil || err2 != nil {
		return apperr.Validation([]string{"Error on field opening_time: must be HH:MM"})
	}
	if !c.After(o) {
		return apperr.Validation([]string{"Error on field closing_time: must be after opening_time"})
	}
	return nil
}

func findEstablishment(r domain.Repos, uuid string) (*domain.Establishment, error) {
	e, err := r.Establishments.FindByUUID(uuid)
	if err != nil {
		return nil, dbErr(err)
	}
	if e == nil {
		return nil, apperr.New(apperr.EstablishmentNotFound, "")
	}
	return e, nil
}

func managerID(r domain.Repos, uuid string) (uint, error) {
	u, err := r.Users.FindByUUID(uuid)
	if err != nil {
		return 0, dbErr(err)
	}
	if u == nil {
		return 0, apperr.New(apperr.UserNotFound, "")
	}
	if u.Role != domain.RoleParkingManager && u.Role != domain.RoleAdmin {
		return 0, apperr.New(apperr.Forbidden, "User is not a parking manager.")
	}
	return u.ID, nil
}
