package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/domain"
)

// AdminService 封禁与审计；每次写入都在同一事务里追加审计记录
type AdminService struct {
	store domain.Store
	l     *zap.Logger
	now   func() time.Time
}

type BanPlateInput struct {
	PlateNumber string     `json:"plate_number" binding:"required,plate"`
	Reason      string     `json:"reason" binding:"required,max=255"`
	BanEnd      *time.Time `json:"ban_end"`
	IsPermanent bool       `json:"is_permanent"`
}

type BanUserInput struct {
	UserUUID    string     `json:"user_uuid" binding:"required,uuid"`
	Reason      string     `json:"reason" binding:"required,max=255"`
	BanEnd      *time.Time `json:"ban_end"`
	IsPermanent bool       `json:"is_permanent"`
}

func (s *AdminService) checkEnd(end *time.Time, permanent bool) error {
	if !permanent && end != nil && !end.After(s.now()) {
		return apperr.Validation([]string{"Error on field ban_end: must be in the future"})
	}
	return nil
}

func (s *AdminService) BanPlate(ctx context.Context, a Actor, in BanPlateInput) (*domain.BannedPlate, error) {
	plate := domain.NormalizePlate(in.PlateNumber)
	if plate == "" || strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.New(apperr.MissingFields, "")
	}
	if err := s.checkEnd(in.BanEnd, in.IsPermanent); err != nil {
		return nil, err
	}
	b := &domain.BannedPlate{
		UUID:        newUUID(),
		PlateNumber: plate,
		Reason:      strings.TrimSpace(in.Reason),
		BannedBy:    &a.UserID,
		IsPermanent: in.IsPermanent,
		BanEnd:      in.BanEnd,
	}
	if in.IsPermanent {
		b.BanEnd = nil
	}
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if err := r.PlateBans.Upsert(b); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionCreate, nil,
			"Banned plate number "+plate,
			map[string]any{"plate_number": plate, "reason": b.Reason, "is_permanent": b.IsPermanent})
	})
	if err != nil {
		return nil, err
	}
	s.l.Info("plate banned", zap.String("plate_number", plate), zap.Uint("banned_by", a.UserID))
	return b, nil
}

func (s *AdminService) UnbanPlate(ctx context.Context, a Actor, plate string) error {
	plate = domain.NormalizePlate(plate)
	if plate == "" {
		return apperr.New(apperr.MissingFields, "Please provide a plate number.")
	}
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		n, err := r.PlateBans.Delete(plate)
		if err != nil {
			return dbErr(err)
		}
		if n == 0 {
			return apperr.New(apperr.BanNotFound, "")
		}
		return writeAudit(r, a, domain.ActionDelete, nil,
			"Unbanned plate number "+plate,
			map[string]any{"plate_number": plate})
	})
	if err != nil {
		return err
	}
	s.l.Info("plate unbanned", zap.String("plate_number", plate), zap.Uint("unbanned_by", a.UserID))
	return nil
}

func (s *AdminService) ListBannedPlates(ctx context.Context, offset, limit int) (*Page[domain.BannedPlate], error) {
	items, total, err := s.store.Repos(ctx).PlateBans.List(offset, limit)
	if err != nil {
		return nil, dbErr(err)
	}
	return &Page[domain.BannedPlate]{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

func (s *AdminService) BanUser(ctx context.Context, a Actor, in BanUserInput) (*domain.UserBan, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.New(apperr.MissingFields, "")
	}
	if err := s.checkEnd(in.BanEnd, in.IsPermanent); err != nil {
		return nil, err
	}
	var b *domain.UserBan
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		u, err := findUser(r, in.UserUUID)
		if err != nil {
			return err
		}
		if u.ID == a.UserID {
			return apperr.New(apperr.Forbidden, "You cannot ban yourself.")
		}
		b = &domain.UserBan{
			UUID:        newUUID(),
			UserID:      u.ID,
			Reason:      strings.TrimSpace(in.Reason),
			BanStart:    s.now(),
			BanEnd:      in.BanEnd,
			IsPermanent: in.IsPermanent,
			BannedBy:    &a.UserID,
		}
		if in.IsPermanent {
			b.BanEnd = nil
		}
		if err := r.UserBans.Create(b); err != nil {
			return dbErr(err)
		}
		return writeAudit(r, a, domain.ActionCreate, &u.ID,
			fmt.Sprintf("Banned user %s", u.Email),
			map[string]any{"user_uuid": u.UUID, "reason": b.Reason, "is_permanent": b.IsPermanent})
	})
	if err != nil {
		return nil, err
	}
	s.l.Info("user banned", zap.Uint("user_id", b.UserID), zap.Uint("banned_by", a.UserID))
	return b, nil
}

// UnbanUser 删除该用户的全部封禁记录
func (s *AdminService) UnbanUser(ctx context.Context, a Actor, userUUID string) error {
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		u, err := findUser(r, userUUID)
		if err != nil {
			return err
		}
		n, err := r.UserBans.DeleteForUser(u.ID)
		if err != nil {
			return dbErr(err)
		}
		if n == 0 {
			return apperr.New(apperr.BanNotFound, "")
		}
		return writeAudit(r, a, domain.ActionDelete, &u.ID,
			fmt.Sprintf("Unbanned user %s", u.Email),
			map[string]any{"user_uuid": u.UUID, "removed": n})
	})
	if err != nil {
		return err
	}
	s.l.Info("user unbanned", zap.String("user_uuid", userUUID), zap.Uint("unbanned_by", a.UserID))
	return nil
}

func (s *AdminService) ListUserBans(ctx context.Context, offset, limit int) (*Page[domain.UserBan], error) {
	items, total, err := s.store.Repos(ctx).UserBans.List(offset, limit)
	if err != nil {
		return nil, dbErr(err)
	}
	return &Page[domain.UserBan]{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

func (s *AdminService) AuditLogs(ctx context.Context, offset, limit int) (*Page[domain.AuditLog], error) {
	items, total, err := s.store.Repos(ctx).Audit.List(offset, limit)
	if err != nil {
		return nil, dbErr(err)
	}
	return &Page[domain.AuditLog]{Items: items, Total: total, Offset: offset, Limit: limit}, nil
}

func findUser(r domain.Repos, uuid string) (*domain.User, error) {
	u, err := r.Users.FindByUUID(strings.TrimSpace(uuid))
	if err != nil {
		return nil, dbErr(err)
	}
	if u == nil {
		return nil, apperr.New(apperr.UserNotFound, "")
	}
	return u, nil
}
