package service

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/metrics"
	"ez-parking/internal/core/qrcode"
	"ez-parking/internal/domain"
)

// TransactionService 预约生命周期：reserved -> active -> completed，或 cancelled
type TransactionService struct {
	store  domain.Store
	qr     *qrcode.Signer
	est    *EstablishmentService
	pub    SlotPublisher
	l      *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func newTransactionService(d Deps, est *EstablishmentService) *TransactionService {
	return &TransactionService{
		store:  d.Store,
		qr:     d.QR,
		est:    est,
		pub:    d.Pub,
		l:      d.Log.Named("transaction"),
		tracer: otel.Tracer("ez-parking/service"),
		now:    time.Now,
	}
}

func (s *TransactionService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "TransactionService."+name, trace.WithAttributes(attrs...))
}

func endSpan(sp trace.Span, err error) {
	if err != nil {
		sp.RecordError(err)
		sp.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	sp.End()
}

// TransactionDetail 交易 + 车位 + 车型 + 停车场摘要
type TransactionDetail struct {
	domain.Transaction
	Slot          *domain.Slot                `json:"slot_info"`
	VehicleType   *domain.VehicleType         `json:"vehicle_type"`
	Establishment domain.EstablishmentSummary `json:"establishment"`
}

type TransactionView struct {
	TransactionData TransactionDetail `json:"transaction_data"`
	QRContent       string            `json:"qr_content,omitempty"`
	QRCode          string            `json:"qr_code,omitempty"` // base64 PNG
}

type ReserveInput struct {
	EstablishmentUUID string `json:"establishment_uuid" binding:"required,uuid"`
	SlotCode          string `json:"slot_code" binding:"required,max=45"`
	VehicleTypeID     uint   `json:"vehicle_type_id" binding:"omitempty,gte=1"`
	PlateNumber       string `json:"plate_number" binding:"omitempty,plate"`
}

// Reserve 车位用条件更新抢占 available -> occupied，与交易写入同一事务
func (s *TransactionService) Reserve(ctx context.Context, a Actor, in ReserveInput) (_ *domain.Transaction, err error) {
	ctx, sp := s.span(ctx, "Reserve",
		attribute.String("establishment_uuid", in.EstablishmentUUID),
		attribute.String("slot_code", in.SlotCode))
	defer func() { endSpan(sp, err) }()

	var (
		tx *domain.Transaction
		e  *domain.Establishment
		sl *domain.Slot
	)
	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if e, err = findEstablishment(r, in.EstablishmentUUID); err != nil {
			return err
		}
		if sl, err = findSlot(r, e.ID, in.SlotCode); err != nil {
			return err
		}
		u, err := r.Users.FindByID(a.UserID)
		if err != nil {
			return dbErr(err)
		}
		if u == nil {
			return apperr.New(apperr.UserNotFound, "")
		}
		plate := domain.NormalizePlate(in.PlateNumber)
		if plate == "" {
			plate = u.Plate()
		}
		if plate == "" {
			return apperr.New(apperr.MissingFields, "Please provide a plate number.")
		}
		vtID := sl.VehicleTypeID
		if in.VehicleTypeID != 0 {
			if _, err := findVehicleType(r, in.VehicleTypeID); err != nil {
				return err
			}
			vtID = in.VehicleTypeID
		}

		now := s.now()
		if b, err := r.PlateBans.FindByPlate(plate); err != nil {
			return dbErr(err)
		} else if b != nil && b.ActiveAt(now) {
			return apperr.New(apperr.PlateBanned, "")
		}
		if b, err := r.UserBans.ActiveForUser(u.ID, now); err != nil {
			return dbErr(err)
		} else if b != nil {
			return apperr.New(apperr.UserBanned, "")
		}

		ok, err := r.Slots.TransitionStatus(sl.ID, []domain.SlotStatus{domain.SlotAvailable}, domain.SlotOccupied)
		if err != nil {
			return dbErr(err)
		}
		if !ok {
			return apperr.New(apperr.SlotStatusTaken, "")
		}
		sl.Status = domain.SlotOccupied

		tx = &domain.Transaction{
			UUID:          newUUID(),
			SlotID:        sl.ID,
			VehicleTypeID: vtID,
			UserID:        u.ID,
			PlateNumber:   plate,
			PaymentStatus: domain.PaymentPending,
			Status:        domain.TxReserved,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return dbErr(r.Transactions.Create(tx))
	})
	if err != nil {
		metrics.Reservation(reserveResult(err))
		return nil, err
	}
	metrics.Reservation("ok")
	s.slotChanged(ctx, e, sl)
	s.l.Info("slot reserved",
		zap.String("transaction_uuid", tx.UUID),
		zap.Uint("slot_id", sl.ID),
		zap.String("plate_number", tx.PlateNumber))
	return tx, nil
}

func reserveResult(err error) string {
	switch apperr.KindOf(err) {
	case apperr.SlotStatusTaken:
		return "taken"
	case apperr.PlateBanned, apperr.UserBanned:
		return "banned"
	}
	return "error"
}

// View 进行中的交易附带二维码；普通用户只能看自己的
func (s *TransactionService) View(ctx context.Context, a Actor, uuid string) (_ *TransactionView, err error) {
	ctx, sp := s.span(ctx, "View", attribute.String("transaction_uuid", uuid))
	defer func() { endSpan(sp, err) }()

	r := s.store.Repos(ctx)
	tx, err := findTransaction(r, uuid)
	if err != nil {
		return nil, err
	}
	if a.Role == domain.RoleUser && tx.UserID != a.UserID {
		return nil, apperr.New(apperr.TransactionNotFound, "")
	}
	d, err := newDetailer(r).detail(tx)
	if err != nil {
		return nil, err
	}
	v := &TransactionView{TransactionData: *d}
	if tx.Status.ShowsQR() {
		if v.QRContent, err = s.qr.Sign(tx.UUID, string(tx.Status), tx.PlateNumber); err != nil {
			return nil, apperr.Wrap(apperr.UnexpectedError, "", err)
		}
		if v.QRCode, err = qrcode.PNGBase64(v.QRContent); err != nil {
			return nil, apperr.Wrap(apperr.UnexpectedError, "", err)
		}
	}
	return v, nil
}

// VerifyEntry 扫码入场：二维码内状态和库内状态都必须是 reserved
func (s *TransactionService) VerifyEntry(ctx context.Context, a Actor, content string) (_ *domain.Transaction, err error) {
	ctx, sp := s.span(ctx, "VerifyEntry")
	defer func() { endSpan(sp, err) }()

	p, err := s.qr.Verify(content)
	if err != nil {
		return nil, err
	}
	if p.Status != string(domain.TxReserved) {
		return nil, apperr.New(apperr.InvalidTransactionStatus, "")
	}
	var tx *domain.Transaction
	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if tx, _, _, err = s.scanned(r, a, p); err != nil {
			return err
		}
		now := s.now()
		ok, err := r.Transactions.Transition(tx.ID, domain.TxReserved, domain.TransactionPatch{
			Status:    domain.TxActive,
			EntryTime: &now,
		})
		if err != nil {
			return dbErr(err)
		}
		if !ok {
			return apperr.New(apperr.InvalidTransactionStatus, "")
		}
		tx.Status, tx.EntryTime = domain.TxActive, &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transition(string(domain.TxActive))
	s.l.Info("entry verified", zap.String("transaction_uuid", tx.UUID), zap.Uint("slot_id", tx.SlotID))
	return tx, nil
}

// VerifyExit 扫码离场：结算金额并释放车位
func (s *TransactionService) VerifyExit(ctx context.Context, a Actor, content string) (_ *domain.Transaction, err error) {
	ctx, sp := s.span(ctx, "VerifyExit")
	defer func() { endSpan(sp, err) }()

	p, err := s.qr.Verify(content)
	if err != nil {
		return nil, err
	}
	if p.Status != string(domain.TxActive) {
		return nil, apperr.New(apperr.InvalidTransactionStatus, "")
	}
	var (
		tx *domain.Transaction
		sl *domain.Slot
		e  *domain.Establishment
	)
	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if tx, sl, e, err = s.scanned(r, a, p); err != nil {
			return err
		}
		now := s.now()
		amount := AmountDue(tx.EntryTime, now, e.HourlyRate, sl.SlotMultiplier)
		ok, err := r.Transactions.Transition(tx.ID, domain.TxActive, domain.TransactionPatch{
			Status:    domain.TxCompleted,
			ExitTime:  &now,
			AmountDue: &amount,
		})
		if err != nil {
			return dbErr(err)
		}
		if !ok {
			return apperr.New(apperr.InvalidTransactionStatus, "")
		}
		if err := s.release(r, sl); err != nil {
			return err
		}
		tx.Status, tx.ExitTime, tx.AmountDue = domain.TxCompleted, &now, amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.Transition(string(domain.TxCompleted))
	s.slotChanged(ctx, e, sl)
	s.l.Info("exit verified",
		zap.String("transaction_uuid", tx.UUID),
		zap.Uint("slot_id", sl.ID),
		zap.Float64("amount_due", tx.AmountDue))
	return tx, nil
}

// scanned 取出二维码对应的交易、车位、停车场，并校验管理员权限
func (s *TransactionService) scanned(r domain.Repos, a Actor, p *qrcode.Payload) (*domain.Transaction, *domain.Slot, *domain.Establishment, error) {
	tx, err := findTransaction(r, p.UUID)
	if err != nil {
		return nil, nil, nil, err
	}
	if tx.PlateNumber != p.PlateNumber {
		return nil, nil, nil, apperr.New(apperr.InvalidQRContent, "")
	}
	sl, e, err := slotAndEstablishment(r, tx.SlotID)
	if err != nil {
		return nil, nil, nil, err
	}
	if a.Role == domain.RoleParkingManager && !e.ManagedBy(a.UserID) {
		return nil, nil, nil, apperr.New(apperr.Forbidden, "This transaction belongs to another establishment.")
	}
	return tx, sl, e, nil
}

// AmountDue 不足一小时按一小时计，四舍五入到分
func AmountDue(entry *time.Time, exit time.Time, hourlyRate, multiplier float64) float64 {
	start := exit
	if entry != nil {
		start = *entry
	}
	hours := math.Ceil(exit.Sub(start).Hours())
	if hours < 1 {
		hours = 1
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	return math.Round(hours*hourlyRate*multiplier*100) / 100
}

// Cancel 只能从 reserved / active 取消
func (s *TransactionService) Cancel(ctx context.Context, a Actor, uuid string) (_ *domain.Transaction, err error) {
	ctx, sp := s.span(ctx, "Cancel", attribute.String("transaction_uuid", uuid))
	defer func() { endSpan(sp, err) }()

	var (
		tx *domain.Transaction
		sl *domain.Slot
		e  *domain.Establishment
	)
	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if tx, err = findTransaction(r, uuid); err != nil {
			return err
		}
		if a.Role == domain.RoleUser && tx.UserID != a.UserID {
			return apperr.New(apperr.TransactionNotFound, "")
		}
		if sl, e, err = slotAndEstablishment(r, tx.SlotID); err != nil && !orphaned(err) {
			return err
		}
		if a.Role == domain.RoleParkingManager && (e == nil || !e.ManagedBy(a.UserID)) {
			return apperr.New(apperr.Forbidden, "This transaction belongs to another establishment.")
		}
		return s.cancel(r, tx, sl)
	})
	if err != nil {
		return nil, err
	}
	metrics.Transition(string(domain.TxCancelled))
	s.slotChanged(ctx, e, sl)
	s.l.Info("transaction cancelled", zap.String("transaction_uuid", tx.UUID), zap.Uint("slot_id", tx.SlotID))
	return tx, nil
}

func (s *TransactionService) cancel(r domain.Repos, tx *domain.Transaction, sl *domain.Slot) error {
	if !tx.Status.CanTransition(domain.TxCancelled) {
		return apperr.New(apperr.InvalidTransactionStatus, "")
	}
	ok, err := r.Transactions.Transition(tx.ID, tx.Status, domain.TransactionPatch{Status: domain.TxCancelled})
	if err != nil {
		return dbErr(err)
	}
	if !ok {
		return apperr.New(apperr.InvalidTransactionStatus, "")
	}
	tx.Status = domain.TxCancelled
	if sl == nil {
		return nil
	}
	return s.release(r, sl)
}

// orphaned 车位或停车场已被删除，交易只能取消，没有车位可释放
func orphaned(err error) bool {
	return apperr.Is(err, apperr.NoSlotsForCode) || apperr.Is(err, apperr.EstablishmentNotFound)
}

func (s *TransactionService) release(r domain.Repos, sl *domain.Slot) error {
	_, err := r.Slots.TransitionStatus(sl.ID,
		[]domain.SlotStatus{domain.SlotOccupied, domain.SlotReserved}, domain.SlotAvailable)
	if err != nil {
		return dbErr(err)
	}
	sl.Status = domain.SlotAvailable
	return nil
}

type QROverview struct {
	TransactionUUID string            `json:"transaction_uuid"`
	UserInfo        domain.UserInfo   `json:"user_info"`
	TransactionData TransactionDetail `json:"transaction_data"`
}

// Overview 扫码前给管理员确认车主和交易
func (s *TransactionService) Overview(ctx context.Context, a Actor, content string) (*QROverview, error) {
	p, err := s.qr.Verify(content)
	if err != nil {
		return nil, err
	}
	r := s.store.Repos(ctx)
	tx, _, _, err := s.scanned(r, a, p)
	if err != nil {
		return nil, err
	}
	u, err := r.Users.FindByID(tx.UserID)
	if err != nil {
		return nil, dbErr(err)
	}
	if u == nil {
		return nil, apperr.New(apperr.UserNotFound, "")
	}
	d, err := newDetailer(r).detail(tx)
	if err != nil {
		return nil, err
	}
	return &QROverview{TransactionUUID: tx.UUID, UserInfo: u.Info(), TransactionData: *d}, nil
}

type FormDetails struct {
	EstablishmentInfo domain.Establishment `json:"establishment_info"`
	SlotInfo          domain.Slot          `json:"slot_info"`
	VehicleType       *domain.VehicleType  `json:"vehicle_type"`
}

func (s *TransactionService) FormDetails(ctx context.Context, establishmentUUID, slotCode string) (*FormDetails, error) {
	r := s.store.Repos(ctx)
	e, err := findEstablishment(r, establishmentUUID)
	if err != nil {
		return nil, err
	}
	sl, err := findSlot(r, e.ID, slotCode)
	if err != nil {
		return nil, err
	}
	if sl.Taken() {
		return nil, apperr.New(apperr.SlotStatusTaken, "")
	}
	vt, err := r.VehicleTypes.FindByID(sl.VehicleTypeID)
	if err != nil {
		return nil, dbErr(err)
	}
	return &FormDetails{EstablishmentInfo: *e, SlotInfo: *sl, VehicleType: vt}, nil
}

func (s *TransactionService) ListForUser(ctx context.Context, a Actor) ([]TransactionDetail, error) {
	r := s.store.Repos(ctx)
	txs, err := r.Transactions.ListByUser(a.UserID)
	if err != nil {
		return nil, dbErr(err)
	}
	return newDetailer(r).details(txs)
}

func (s *TransactionService) ListByPlate(ctx context.Context, plate string) ([]TransactionDetail, error) {
	plate = domain.NormalizePlate(plate)
	if plate == "" {
		return nil, apperr.New(apperr.MissingFields, "Please provide a plate number.")
	}
	r := s.store.Repos(ctx)
	txs, err := r.Transactions.ListByPlate(plate)
	if err != nil {
		return nil, dbErr(err)
	}
	return newDetailer(r).details(txs)
}

// ExpireStale 取消 before 之前创建且仍未入场的预约，返回取消条数
func (s *TransactionService) ExpireStale(ctx context.Context, before time.Time, limit int) (_ int, err error) {
	ctx, sp := s.span(ctx, "ExpireStale")
	defer func() { endSpan(sp, err) }()

	txs, err := s.store.Repos(ctx).Transactions.ListReservedBefore(before, limit)
	if err != nil {
		return 0, dbErr(err)
	}
	n := 0
	for i := range txs {
		tx := &txs[i]
		var (
			sl *domain.Slot
			e  *domain.Establishment
		)
		err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
			var err error
			if sl, e, err = slotAndEstablishment(r, tx.SlotID); err != nil && !orphaned(err) {
				return err
			}
			return s.cancel(r, tx, sl)
		})
		if apperr.Is(err, apperr.InvalidTransactionStatus) {
			continue // 期间已入场或被取消
		}
		if err != nil {
			return n, err
		}
		n++
		s.slotChanged(ctx, e, sl)
		s.l.Info("reservation expired", zap.String("transaction_uuid", tx.UUID), zap.Uint("slot_id", tx.SlotID))
	}
	metrics.Expired(n)
	return n, nil
}

func (s *TransactionService) slotChanged(ctx context.Context, e *domain.Establishment, sl *domain.Slot) {
	if e == nil || sl == nil {
		return
	}
	s.est.invalidate(ctx, e.UUID)
	publishSlot(ctx, s.store, s.pub, s.l, e, sl)
}

func findTransaction(r domain.Repos, uuid string) (*domain.Transaction, error) {
	tx, err := r.Transactions.FindByUUID(uuid)
	if err != nil {
		return nil, dbErr(err)
	}
	if tx == nil {
		return nil, apperr.New(apperr.TransactionNotFound, "")
	}
	return tx, nil
}

func slotAndEstablishment(r domain.Repos, slotID uint) (*domain.Slot, *domain.Establishment, error) {
	sl, err := r.Slots.FindByID(slotID)
	if err != nil {
		return nil, nil, dbErr(err)
	}
	if sl == nil {
		return nil, nil, apperr.New(apperr.NoSlotsForCode, "")
	}
	e, err := r.Establishments.FindByID(sl.EstablishmentID)
	if err != nil {
		return nil, nil, dbErr(err)
	}
	if e == nil {
		return nil, nil, apperr.New(apperr.EstablishmentNotFound, "")
	}
	return sl, e, nil
}

// detailer 列表场景下复用已查过的车位 / 车型 / 停车场
type detailer struct {
	r      domain.Repos
	slots  map[uint]*domain.Slot
	vtypes map[uint]*domain.VehicleType
	ests   map[uint]*domain.Establishment
}

func newDetailer(r domain.Repos) *detailer {
	return &detailer{
		r:      r,
		slots:  map[uint]*domain.Slot{},
		vtypes: map[uint]*domain.VehicleType{},
		ests:   map[uint]*domain.Establishment{},
	}
}

func (d *detailer) detail(tx *domain.Transaction) (*TransactionDetail, error) {
	out := &TransactionDetail{Transaction: *tx}

	sl, ok := d.slots[tx.SlotID]
	if !ok {
		var err error
		if sl, err = d.r.Slots.FindByID(tx.SlotID); err != nil {
			return nil, dbErr(err)
		}
		d.slots[tx.SlotID] = sl
	}
	out.Slot = sl

	vt, ok := d.vtypes[tx.VehicleTypeID]
	if !ok {
		var err error
		if vt, err = d.r.VehicleTypes.FindByID(tx.VehicleTypeID); err != nil {
			return nil, dbErr(err)
		}
		d.vtypes[tx.VehicleTypeID] = vt
	}
	out.VehicleType = vt

	// 车位或停车场已被删除时只返回交易本身
	if sl == nil {
		return out, nil
	}
	e, ok := d.ests[sl.EstablishmentID]
	if !ok {
		var err error
		if e, err = d.r.Establishments.FindByID(sl.EstablishmentID); err != nil {
			return nil, dbErr(err)
		}
		d.ests[sl.EstablishmentID] = e
	}
	if e != nil {
		out.Establishment = e.Summary()
	}
	return out, nil
}

func (d *detailer) details(txs []domain.Transaction) ([]TransactionDetail, error) {
	out := make([]TransactionDetail, 0, len(txs))
	for i := range txs {
		dt, err := d.detail(&txs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *dt)
	}
	return out, nil
}
