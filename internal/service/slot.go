package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/domain"
)

type SlotService struct {
	store domain.Store
	est   *EstablishmentService
	pub   SlotPublisher
	l     *zap.Logger
}

type SlotInput struct {
	EstablishmentUUID string  `json:"establishment_uuid" binding:"required,uuid"`
	SlotCode          string  `json:"slot_code" binding:"required,max=45"`
	VehicleTypeID     uint    `json:"vehicle_type_id" binding:"required,gte=1"`
	FloorLevel        int     `json:"floor_level"`
	SlotMultiplier    float64 `json:"slot_multiplier" binding:"omitempty,gt=0,lte=9.99"`
	IsPremium         bool    `json:"is_premium"`
	IsCovered         bool    `json:"is_covered"`
	IsAccessible      bool    `json:"is_accessible"`
}

// SlotUpdate 以 (establishment_uuid, slot_code) 定位，nil 字段不修改
type SlotUpdate struct {
	EstablishmentUUID string             `json:"establishment_uuid" binding:"required,uuid"`
	SlotCode          string             `json:"slot_code" binding:"required,max=45"`
	NewSlotCode       *string            `json:"new_slot_code" binding:"omitempty,max=45"`
	VehicleTypeID     *uint              `json:"vehicle_type_id" binding:"omitempty,gte=1"`
	FloorLevel        *int               `json:"floor_level"`
	Status            *domain.SlotStatus `json:"status" binding:"omitempty,oneof=available reserved occupied"`
	SlotMultiplier    *float64           `json:"slot_multiplier" binding:"omitempty,gt=0,lte=9.99"`
	IsPremium         *bool              `json:"is_premium"`
	IsCovered         *bool              `json:"is_covered"`
	IsAccessible      *bool              `json:"is_accessible"`
}

func (s *SlotService) AddSlot(ctx context.Context, a Actor, in SlotInput) (*domain.Slot, error) {
	var (
		sl *domain.Slot
		e  *domain.Establishment
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if e, err = findEstablishment(r, in.EstablishmentUUID); err != nil {
			return err
		}
		if _, err := findVehicleType(r, in.VehicleTypeID); err != nil {
			return err
		}
		mult := in.SlotMultiplier
		if mult == 0 {
			mult = 1
		}
		sl = &domain.Slot{
			UUID:            newUUID(),
			EstablishmentID: e.ID,
			SlotCode:        strings.TrimSpace(in.SlotCode),
			VehicleTypeID:   in.VehicleTypeID,
			FloorLevel:      in.FloorLevel,
			Status:          domain.SlotAvailable,
			SlotMultiplier:  mult,
			IsPremium:       in.IsPremium,
			IsCovered:       in.IsCovered,
			IsAccessible:    in.IsAccessible,
		}
		if err := r.Slots.Create(sl); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return apperr.Wrap(apperr.Conflict, "Slot code already exists in this establishment.", err)
			}
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionCreate, nil,
			fmt.Sprintf("Added slot %s to %s", sl.SlotCode, e.Name),
			map[string]any{"establishment_uuid": e.UUID, "slot_uuid": sl.UUID})
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, e, sl)
	return sl, nil
}

func (s *SlotService) UpdateSlot(ctx context.Context, a Actor, in SlotUpdate) (*domain.Slot, error) {
	var (
		sl *domain.Slot
		e  *domain.Establishment
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if e, err = findEstablishment(r, in.EstablishmentUUID); err != nil {
			return err
		}
		if sl, err = findSlot(r, e.ID, in.SlotCode); err != nil {
			return err
		}
		p := domain.SlotPatch{
			VehicleTypeID:  in.VehicleTypeID,
			FloorLevel:     in.FloorLevel,
			SlotMultiplier: in.SlotMultiplier,
			IsPremium:      in.IsPremium,
			IsCovered:      in.IsCovered,
			IsAccessible:   in.IsAccessible,
		}
		if in.NewSlotCode != nil {
			code := strings.TrimSpace(*in.NewSlotCode)
			p.SlotCode = &code
		}
		if in.VehicleTypeID != nil {
			if _, err := findVehicleType(r, *in.VehicleTypeID); err != nil {
				return err
			}
		}
		if err := r.Slots.Patch(sl.ID, p); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return apperr.Wrap(apperr.Conflict, "Slot code already exists in this establishment.", err)
			}
			return dbErr(err)
		}
		p.Apply(sl)
		if in.Status != nil && *in.Status != sl.Status {
			if err := setSlotStatus(r, sl, *in.Status); err != nil {
				return err
			}
		}
		return writeAudit(r, a, domain.ActionUpdate, nil,
			fmt.Sprintf("Updated slot %s of %s", sl.SlotCode, e.Name),
			map[string]any{"establishment_uuid": e.UUID, "slot_uuid": sl.UUID})
	})
	if err != nil {
		return nil, err
	}
	s.changed(ctx, e, sl)
	return sl, nil
}

// setSlotStatus 手动改状态：有进行中的交易时拒绝，且以读到的状态为条件更新
func setSlotStatus(r domain.Repos, sl *domain.Slot, to domain.SlotStatus) error {
	n, err := r.Transactions.CountLive([]uint{sl.ID})
	if err != nil {
		return dbErr(err)
	}
	if n > 0 {
		return apperr.New(apperr.Conflict, "Slot has a reservation or a parked vehicle.")
	}
	ok, err := r.Slots.TransitionStatus(sl.ID, []domain.SlotStatus{sl.Status}, to)
	if err != nil {
		return dbErr(err)
	}
	if !ok {
		return apperr.New(apperr.Conflict, "Slot status changed, please retry.")
	}
	sl.Status = to
	return nil
}

// List establishment_id 必须 >= 1；size 为空不过滤
func (s *SlotService) List(ctx context.Context, establishmentID uint, size domain.VehicleSize) ([]domain.Slot, error) {
	if establishmentID < 1 {
		return nil, apperr.Validation([]string{"Error on field establishment_id: must be at least 1"})
	}
	if size != "" && !size.Valid() {
		return nil, apperr.Validation([]string{"Error on field vehicle_size: must be one of SMALL MEDIUM LARGE"})
	}
	r := s.store.Repos(ctx)
	e, err := r.Establishments.FindByID(establishmentID)
	if err != nil {
		return nil, dbErr(err)
	}
	if e == nil {
		return nil, apperr.New(apperr.EstablishmentNotFound, "")
	}
	slots, err := r.Slots.ListByEstablishment(establishmentID, size)
	if err != nil {
		return nil, dbErr(err)
	}
	if len(slots) == 0 {
		if size != "" {
			return nil, apperr.New(apperr.NoSlotsForVehicleType, "")
		}
		return nil, apperr.New(apperr.NoSlotsForEstablishment, "")
	}
	return slots, nil
}

// changed 提交后：失效缓存 + 推送
func (s *SlotService) changed(ctx context.Context, e *domain.Establishment, sl *domain.Slot) {
	s.est.invalidate(ctx, e.UUID)
	publishSlot(ctx, s.store, s.pub, s.l, e, sl)
}

func publishSlot(ctx context.Context, store domain.Store, pub SlotPublisher, l *zap.Logger, e *domain.Establishment, sl *domain.Slot) {
	n, err := store.Repos(ctx).Slots.CountAvailable(e.ID)
	if err != nil {
		l.Warn("count available failed", zap.Uint("establishment_id", e.ID), zap.Error(err))
		return
	}
	pub.Publish(domain.SlotEvent{
		EstablishmentUUID: e.UUID,
		SlotUUID:          sl.UUID,
		SlotCode:          sl.SlotCode,
		Status:            sl.Status,
		Available:         n,
	})
}

func findSlot(r domain.Repos, establishmentID uint, code string) (*domain.Slot, error) {
	sl, err := r.Slots.FindByCode(establishmentID, strings.TrimSpace(code))
	if err != nil {
		return nil, dbErr(err)
	}
	if sl == nil {
		return nil, apperr.New(apperr.NoSlotsForCode, "")
	}
	return sl, nil
}

func findVehicleType(r domain.Repos, id uint) (*domain.VehicleType, error) {
	vt, err := r.VehicleTypes.FindByID(id)
	if err != nil {
		return nil, dbErr(err)
	}
	if vt == nil {
		return nil, apperr.New(apperr.VehicleTypeNotFound, "")
	}
	return vt, nil
}

type VehicleTypeService struct{ store domain.Store }

type VehicleTypeInput struct {
	Code        string             `json:"code" binding:"required,max=45"`
	Name        string             `json:"name" binding:"required,max=125"`
	Size        domain.VehicleSize `json:"size" binding:"required,vehicle_size"`
	Description string             `json:"description" binding:"max=255"`
}

func (s *VehicleTypeService) List(ctx context.Context) ([]domain.VehicleType, error) {
	out, err := s.store.Repos(ctx).VehicleTypes.List()
	if err != nil {
		return nil, dbErr(err)
	}
	return out, nil
}

func (s *VehicleTypeService) Create(ctx context.Context, a Actor, in VehicleTypeInput) (*domain.VehicleType, error) {
	if !in.Size.Valid() {
		return nil, apperr.Validation([]string{"Error on field size: must be one of SMALL MEDIUM LARGE"})
	}
	vt := &domain.VehicleType{
		UUID:        newUUID(),
		Code:        strings.TrimSpace(in.Code),
		Name:        strings.TrimSpace(in.Name),
		Size:        in.Size,
		Description: in.Description,
	}
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if err := r.VehicleTypes.Create(vt); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return apperr.Wrap(apperr.Conflict, "Vehicle type code already exists.", err)
			}
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionCreate, nil,
			fmt.Sprintf("Created vehicle type %s", vt.Code),
			map[string]any{"vehicle_type_uuid": vt.UUID})
	})
	if err != nil {
		return nil, err
	}
	return vt, nil
}
