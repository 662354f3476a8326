package service

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
	"ez-parking/internal/core/qrcode"
	"ez-parking/internal/domain"
	"ez-parking/internal/repo/memrepo"
)

type sentMail struct{ to, subject, body string }

type memMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *memMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *memMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type memPub struct {
	mu     sync.Mutex
	events []domain.SlotEvent
}

func (p *memPub) Publish(ev domain.SlotEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

type fixture struct {
	store *memrepo.Store
	svc   *Services
	mail  *memMailer
	pub   *memPub
	admin Actor
	est   *domain.Establishment
	vt    *domain.VehicleType
	slot  *domain.Slot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memrepo.New(), mail: &memMailer{}, pub: &memPub{}}
	f.svc = New(Deps{
		Store: f.store,
		JWT:   &auth.JWTer{Secret: []byte("jwt-secret"), Issuer: "ez-test", AccessTTL: 15 * time.Minute, RefreshTTL: time.Hour},
		QR:    &qrcode.Signer{Secret: []byte("qr-secret"), Issuer: "ez-test", TTL: 10 * time.Minute},
		Mail:  f.mail,
		Pub:   f.pub,
		Log:   zap.NewNop(),
		Auth:  AuthOptions{BaseURL: "http://localhost:8080"},
	})

	ctx := context.Background()
	r := f.store.Repos(ctx)
	adminUser := &domain.User{UUID: newUUID(), FirstName: "Ada", LastName: "Admin", Email: "admin@ez.test", PhoneNumber: "09170000000", Role: domain.RoleAdmin, IsVerified: true}
	if err := r.Users.Create(adminUser); err != nil {
		t.Fatal(err)
	}
	f.admin = Actor{UserID: adminUser.ID, UUID: adminUser.UUID, Role: domain.RoleAdmin, IP: "127.0.0.1"}

	var err error
	f.vt, err = f.svc.VehicleTypes.Create(ctx, f.admin, VehicleTypeInput{Code: "car", Name: "Car", Size: domain.SizeMedium})
	if err != nil {
		t.Fatal(err)
	}
	f.est, err = f.svc.Establishments.Create(ctx, f.admin, EstablishmentInput{
		Name: "North Lot", Address: "1 North St", ContactNumber: "0281234567",
		OpeningTime: "06:00", ClosingTime: "22:00", HourlyRate: 40, Latitude: 14.6, Longitude: 121.0,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.slot, err = f.svc.Slots.AddSlot(ctx, f.admin, SlotInput{
		EstablishmentUUID: f.est.UUID, SlotCode: "A1", VehicleTypeID: f.vt.ID, SlotMultiplier: 1.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

var otpRe = regexp.MustCompile(`\b\d{6}\b`)

// login 走完整的注册 -> 验证邮箱 -> 登录 -> OTP 流程
func (f *fixture) login(t *testing.T, email, phone, plate string) (Actor, auth.Pair) {
	t.Helper()
	ctx := context.Background()
	u, err := f.svc.Auth.SignUp(ctx, SignUpInput{FirstName: "Juan", LastName: "Cruz", Email: email, PhoneNumber: phone, PlateNumber: plate})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if err := f.svc.Auth.Login(ctx, email); !apperr.Is(err, apperr.AccountNotVerified) {
		t.Fatalf("login before verify: %v", err)
	}
	if err := f.svc.Auth.VerifyEmail(ctx, *u.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	if err := f.svc.Auth.Login(ctx, email); err != nil {
		t.Fatalf("login: %v", err)
	}
	code := otpRe.FindString(f.mail.last().body)
	if code == "" {
		t.Fatalf("no otp in mail %q", f.mail.last().body)
	}
	got, pair, err := f.svc.Auth.VerifyOTP(ctx, email, code)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" || pair.CSRF == "" {
		t.Fatalf("incomplete pair %+v", pair)
	}
	return Actor{UserID: got.ID, UUID: got.UUID, Role: got.Role}, pair
}

func TestReservationLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "juan@ez.test", "09171234567", "abc 1234")

	tx, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if tx.Status != domain.TxReserved || tx.PlateNumber != "ABC1234" {
		t.Fatalf("unexpected tx %+v", tx)
	}

	v, err := f.svc.Transactions.View(ctx, user, tx.UUID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.QRContent == "" || v.QRCode == "" {
		t.Fatalf("reserved transaction must carry a QR")
	}
	if v.TransactionData.Establishment.Name != "North Lot" || v.TransactionData.Slot.Status != domain.SlotOccupied {
		t.Fatalf("unexpected detail %+v", v.TransactionData)
	}

	// exit 只接受 active 的二维码
	if _, err := f.svc.Transactions.VerifyExit(ctx, f.admin, v.QRContent); !apperr.Is(err, apperr.InvalidTransactionStatus) {
		t.Fatalf("exit with reserved QR: %v", err)
	}

	entry := time.Now()
	f.svc.Transactions.now = func() time.Time { return entry }
	if _, err := f.svc.Transactions.VerifyEntry(ctx, f.admin, v.QRContent); err != nil {
		t.Fatalf("entry: %v", err)
	}
	// 同一张 reserved 二维码不能重复入场
	if _, err := f.svc.Transactions.VerifyEntry(ctx, f.admin, v.QRContent); !apperr.Is(err, apperr.InvalidTransactionStatus) {
		t.Fatalf("replayed entry: %v", err)
	}
	sl, _ := f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotOccupied {
		t.Fatalf("slot after entry: %s", sl.Status)
	}

	v, err = f.svc.Transactions.View(ctx, user, tx.UUID)
	if err != nil || v.TransactionData.Status != domain.TxActive {
		t.Fatalf("view after entry: %v %+v", err, v)
	}

	f.svc.Transactions.now = func() time.Time { return entry.Add(90 * time.Minute) }
	done, err := f.svc.Transactions.VerifyExit(ctx, f.admin, v.QRContent)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	// 2 小时 * 40 * 1.5
	if done.Status != domain.TxCompleted || done.AmountDue != 120 {
		t.Fatalf("unexpected completion %+v", done)
	}
	sl, _ = f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotAvailable {
		t.Fatalf("slot after exit: %s", sl.Status)
	}

	v, err = f.svc.Transactions.View(ctx, user, tx.UUID)
	if err != nil || v.QRContent != "" {
		t.Fatalf("completed transaction must not carry a QR: %v", err)
	}
	if _, err := f.svc.Transactions.Cancel(ctx, user, tx.UUID); !apperr.Is(err, apperr.InvalidTransactionStatus) {
		t.Fatalf("cancel completed: %v", err)
	}

	list, err := f.svc.Transactions.ListForUser(ctx, user)
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %d", err, len(list))
	}
	if len(f.pub.events) < 2 {
		t.Fatalf("expected slot events, got %d", len(f.pub.events))
	}
}

func TestConcurrentReserveSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	actors := make([]Actor, n)
	for i := range actors {
		u := &domain.User{UUID: newUUID(), FirstName: "U", LastName: "X", Email: newUUID() + "@ez.test", PhoneNumber: newUUID(), Role: domain.RoleUser, IsVerified: true}
		p := domain.NormalizePlate("CAR" + u.UUID[:8])
		u.PlateNumber = &p
		if err := f.store.Repos(ctx).Users.Create(u); err != nil {
			t.Fatal(err)
		}
		actors[i] = Actor{UserID: u.ID, UUID: u.UUID, Role: domain.RoleUser}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for _, a := range actors {
		wg.Add(1)
		go func(a Actor) {
			defer wg.Done()
			_, err := f.svc.Transactions.Reserve(ctx, a, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case apperr.Is(err, apperr.SlotStatusTaken):
				losses++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(a)
	}
	wg.Wait()
	if wins != 1 || losses != n-1 {
		t.Fatalf("wins=%d losses=%d", wins, losses)
	}
}

func TestOTPExpiredEvenIfCorrect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Auth.SignUp(ctx, SignUpInput{FirstName: "Ana", LastName: "Reyes", Email: "ana@ez.test", PhoneNumber: "+639171112222"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Auth.VerifyEmail(ctx, *u.VerificationToken); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Auth.GenerateOTP(ctx, "ana@ez.test"); err != nil {
		t.Fatal(err)
	}
	code := otpRe.FindString(f.mail.last().body)

	later := time.Now().Add(6 * time.Minute)
	f.svc.Auth.now = func() time.Time { return later }
	if _, _, err := f.svc.Auth.VerifyOTP(ctx, "ana@ez.test", code); !apperr.Is(err, apperr.ExpiredOTP) {
		t.Fatalf("got %v", err)
	}

	f.svc.Auth.now = time.Now
	if err := f.svc.Auth.GenerateOTP(ctx, "ana@ez.test"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.Auth.VerifyOTP(ctx, "ana@ez.test", "000000x"); !apperr.Is(err, apperr.IncorrectOTP) {
		t.Fatalf("got %v", err)
	}
}

func TestSignUpErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := SignUpInput{FirstName: "Li", LastName: "Wei", Email: "li@ez.test", PhoneNumber: "09179998888", PlateNumber: "XYZ999"}
	if _, err := f.svc.Auth.SignUp(ctx, base); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		mod  func(in *SignUpInput)
		kind apperr.Kind
	}{
		{"missing", func(in *SignUpInput) { in.FirstName = " " }, apperr.MissingFields},
		{"email", func(in *SignUpInput) { in.Email = "not-an-email" }, apperr.InvalidEmail},
		{"phone", func(in *SignUpInput) { in.PhoneNumber = "12ab" }, apperr.InvalidPhoneNumber},
		{"email taken", func(in *SignUpInput) { in.Email = "LI@ez.test"; in.PhoneNumber = "09170001111" }, apperr.EmailTaken},
		{"phone taken", func(in *SignUpInput) { in.Email = "other@ez.test" }, apperr.PhoneNumberTaken},
		{"plate taken", func(in *SignUpInput) {
			in.Email, in.PhoneNumber, in.PlateNumber = "third@ez.test", "09170002222", "xyz 999"
		}, apperr.PlateNumberTaken},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			in := base
			c.mod(&in)
			if _, err := f.svc.Auth.SignUp(ctx, in); !apperr.Is(err, c.kind) {
				t.Fatalf("got %v want %s", err, c.kind)
			}
		})
	}

	if err := f.svc.Auth.VerifyEmail(ctx, "nope"); !apperr.Is(err, apperr.InvalidVerificationToken) {
		t.Fatalf("got %v", err)
	}
	if err := f.svc.Auth.Login(ctx, "ghost@ez.test"); !apperr.Is(err, apperr.EmailNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestBansBlockReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "max@ez.test", "09175550000", "BAN001")

	if _, err := f.svc.Admin.BanPlate(ctx, f.admin, BanPlateInput{PlateNumber: "ban 001", Reason: "unpaid", IsPermanent: true}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if !apperr.Is(err, apperr.PlateBanned) {
		t.Fatalf("got %v", err)
	}
	// 失败的预约不占用车位
	sl, _ := f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotAvailable {
		t.Fatalf("slot leaked: %s", sl.Status)
	}

	if err := f.svc.Admin.UnbanPlate(ctx, f.admin, "BAN001"); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Admin.UnbanPlate(ctx, f.admin, "BAN001"); !apperr.Is(err, apperr.BanNotFound) {
		t.Fatalf("second unban: %v", err)
	}

	if _, err := f.svc.Admin.BanUser(ctx, f.admin, BanUserInput{UserUUID: user.UUID, Reason: "abuse"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"}); !apperr.Is(err, apperr.UserBanned) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.svc.Admin.BanUser(ctx, f.admin, BanUserInput{UserUUID: f.admin.UUID, Reason: "x"}); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("self ban: %v", err)
	}
	if err := f.svc.Admin.UnbanUser(ctx, f.admin, user.UUID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"}); err != nil {
		t.Fatalf("after unban: %v", err)
	}

	logs, err := f.svc.Admin.AuditLogs(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	actions := map[domain.ActionType]int{}
	for _, l := range logs.Items {
		actions[l.ActionType]++
	}
	if actions[domain.ActionDelete] != 2 || actions[domain.ActionCreate] < 5 {
		t.Fatalf("unexpected audit trail %v", actions)
	}
}

func TestManagerEditsDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.store.Repos(ctx)

	mgr := &domain.User{UUID: newUUID(), FirstName: "M", LastName: "G", Email: "mgr@ez.test", PhoneNumber: "09176660000", Role: domain.RoleParkingManager, IsVerified: true}
	if err := r.Users.Create(mgr); err != nil {
		t.Fatal(err)
	}
	a := Actor{UserID: mgr.ID, UUID: mgr.UUID, Role: domain.RoleParkingManager}
	in := OperatingHoursInput{EstablishmentUUID: f.est.UUID, OpeningTime: "07:00", ClosingTime: "21:00"}

	if _, err := f.svc.Establishments.UpdateOperatingHours(ctx, a, in); !apperr.Is(err, apperr.EstablishmentEditsDenied) {
		t.Fatalf("got %v", err)
	}
	mine, err := f.svc.Establishments.Managed(ctx, a)
	if err != nil || len(mine) != 0 {
		t.Fatalf("managed: %v %d", err, len(mine))
	}

	uuid := mgr.UUID
	if _, err := f.svc.Establishments.Update(ctx, f.admin, f.est.UUID, EstablishmentPatch{ManagerUUID: &uuid}); err != nil {
		t.Fatal(err)
	}
	h, err := f.svc.Establishments.UpdateOperatingHours(ctx, a, in)
	if err != nil || h.OpeningTime != "07:00" {
		t.Fatalf("own establishment: %v %+v", err, h)
	}
	in.OpeningTime = "22:00"
	if _, err := f.svc.Establishments.UpdateOperatingHours(ctx, a, in); !apperr.Is(err, apperr.ValidationError) {
		t.Fatalf("closing before opening: %v", err)
	}
	h, err = f.svc.Establishments.UpdateOperatingHours(ctx, a, OperatingHoursInput{EstablishmentUUID: f.est.UUID, Is24Hours: true})
	if err != nil || h.OpeningTime != "00:00" || h.ClosingTime != "23:59" {
		t.Fatalf("24h: %v %+v", err, h)
	}
}

func TestManagerCannotScanOtherEstablishment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "zoe@ez.test", "09173330000", "ZOE123")
	tx, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	v, err := f.svc.Transactions.View(ctx, user, tx.UUID)
	if err != nil {
		t.Fatal(err)
	}

	mgr := &domain.User{UUID: newUUID(), FirstName: "O", LastName: "T", Email: "other@ez.test", PhoneNumber: "09174440000", Role: domain.RoleParkingManager, IsVerified: true}
	_ = f.store.Repos(ctx).Users.Create(mgr)
	a := Actor{UserID: mgr.ID, Role: domain.RoleParkingManager}
	if _, err := f.svc.Transactions.VerifyEntry(ctx, a, v.QRContent); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.svc.Transactions.VerifyEntry(ctx, f.admin, "garbage"); !apperr.Is(err, apperr.InvalidQRContent) {
		t.Fatalf("got %v", err)
	}

	// 其他用户看不到
	stranger := Actor{UserID: 9999, Role: domain.RoleUser}
	if _, err := f.svc.Transactions.View(ctx, stranger, tx.UUID); !apperr.Is(err, apperr.TransactionNotFound) {
		t.Fatalf("got %v", err)
	}

	ov, err := f.svc.Transactions.Overview(ctx, f.admin, v.QRContent)
	if err != nil || ov.UserInfo.PlateNumber != "ZOE123" {
		t.Fatalf("overview: %v %+v", err, ov)
	}
	if _, err := f.svc.Transactions.FormDetails(ctx, f.est.UUID, "A1"); !apperr.Is(err, apperr.SlotStatusTaken) {
		t.Fatalf("form on taken slot: %v", err)
	}
}

func TestExpireStaleReleasesSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "kim@ez.test", "09172220000", "KIM001")
	tx, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.Transactions.ExpireStale(ctx, time.Now().Add(-time.Hour), 10)
	if err != nil || n != 0 {
		t.Fatalf("fresh reservation expired: %v %d", err, n)
	}
	n, err = f.svc.Transactions.ExpireStale(ctx, time.Now().Add(time.Second), 10)
	if err != nil || n != 1 {
		t.Fatalf("expire: %v %d", err, n)
	}
	got, _ := f.store.Repos(ctx).Transactions.FindByUUID(tx.UUID)
	if got.Status != domain.TxCancelled {
		t.Fatalf("status %s", got.Status)
	}
	sl, _ := f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotAvailable {
		t.Fatalf("slot %s", sl.Status)
	}
}

func TestSlotListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Slots.List(ctx, 0, ""); !apperr.Is(err, apperr.ValidationError) {
		t.Fatalf("got %v", err)
	}
	if _, err := f.svc.Slots.List(ctx, f.est.ID, domain.SizeLarge); !apperr.Is(err, apperr.NoSlotsForVehicleType) {
		t.Fatalf("got %v", err)
	}
	slots, err := f.svc.Slots.List(ctx, f.est.ID, domain.SizeMedium)
	if err != nil || len(slots) != 1 {
		t.Fatalf("got %v %d", err, len(slots))
	}
	if _, err := f.svc.Slots.AddSlot(ctx, f.admin, SlotInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1", VehicleTypeID: f.vt.ID}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("duplicate code: %v", err)
	}
	if _, err := f.svc.Slots.AddSlot(ctx, f.admin, SlotInput{EstablishmentUUID: f.est.UUID, SlotCode: "B1", VehicleTypeID: 42}); !apperr.Is(err, apperr.VehicleTypeNotFound) {
		t.Fatalf("unknown vehicle type: %v", err)
	}
	if _, err := f.svc.Slots.UpdateSlot(ctx, f.admin, SlotUpdate{EstablishmentUUID: f.est.UUID, SlotCode: "Z9"}); !apperr.Is(err, apperr.NoSlotsForCode) {
		t.Fatalf("unknown code: %v", err)
	}

	info, err := f.svc.Establishments.Info(ctx, f.est.UUID)
	if err != nil || len(info.Slots) != 1 || info.AvailableSlots != 1 {
		t.Fatalf("info: %v %+v", err, info)
	}
}

func TestAmountDue(t *testing.T) {
	entry := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	cases := []struct {
		exit time.Time
		rate float64
		mult float64
		want float64
	}{
		{entry.Add(10 * time.Minute), 40, 1, 40},
		{entry.Add(61 * time.Minute), 40, 1, 80},
		{entry.Add(3 * time.Hour), 25.5, 1.25, 95.63},
		{entry.Add(time.Hour), 50, 0, 50},
	}
	for _, c := range cases {
		if got := AmountDue(&entry, c.exit, c.rate, c.mult); got != c.want {
			t.Fatalf("exit %s: got %v want %v", c.exit.Sub(entry), got, c.want)
		}
	}
}

func TestUpdateSlotKeepsLiveStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "lea@ez.test", "09173330000", "LEA001")
	tx, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatal(err)
	}

	free := domain.SlotAvailable
	if _, err := f.svc.Slots.UpdateSlot(ctx, f.admin, SlotUpdate{EstablishmentUUID: f.est.UUID, SlotCode: "A1", Status: &free}); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("status override during reservation: %v", err)
	}
	sl, _ := f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotOccupied {
		t.Fatalf("slot %s", sl.Status)
	}

	// 只改楼层不能把状态写回读到的旧值
	floor := 2
	got, err := f.svc.Slots.UpdateSlot(ctx, f.admin, SlotUpdate{EstablishmentUUID: f.est.UUID, SlotCode: "A1", FloorLevel: &floor})
	if err != nil {
		t.Fatal(err)
	}
	sl, _ = f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if got.Status != domain.SlotOccupied || sl.Status != domain.SlotOccupied || sl.FloorLevel != 2 {
		t.Fatalf("after patch: returned %s stored %s floor %d", got.Status, sl.Status, sl.FloorLevel)
	}

	other, _ := f.login(t, "max@ez.test", "09173330001", "MAX001")
	if _, err := f.svc.Transactions.Reserve(ctx, other, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"}); !apperr.Is(err, apperr.SlotStatusTaken) {
		t.Fatalf("second reserve: %v", err)
	}

	if _, err := f.svc.Transactions.Cancel(ctx, user, tx.UUID); err != nil {
		t.Fatal(err)
	}
	held := domain.SlotReserved
	if got, err = f.svc.Slots.UpdateSlot(ctx, f.admin, SlotUpdate{EstablishmentUUID: f.est.UUID, SlotCode: "A1", Status: &held}); err != nil || got.Status != domain.SlotReserved {
		t.Fatalf("status change on idle slot: %v", err)
	}
	sl, _ = f.store.Repos(ctx).Slots.FindByID(f.slot.ID)
	if sl.Status != domain.SlotReserved || sl.FloorLevel != 2 {
		t.Fatalf("stored %+v", sl)
	}
}

func TestDeleteEstablishmentWithLiveTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, _ := f.login(t, "noe@ez.test", "09174440000", "NOE001")
	tx, err := f.svc.Transactions.Reserve(ctx, user, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Establishments.Delete(ctx, f.admin, f.est.UUID); !apperr.Is(err, apperr.Conflict) {
		t.Fatalf("delete with reservation: %v", err)
	}
	if _, err := f.svc.Establishments.Info(ctx, f.est.UUID); err != nil {
		t.Fatalf("establishment gone after rejected delete: %v", err)
	}
	if _, err := f.svc.Transactions.View(ctx, user, tx.UUID); err != nil {
		t.Fatalf("view: %v", err)
	}

	if _, err := f.svc.Transactions.Cancel(ctx, user, tx.UUID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Establishments.Delete(ctx, f.admin, f.est.UUID); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
	if _, err := f.svc.Establishments.Info(ctx, f.est.UUID); !apperr.Is(err, apperr.EstablishmentNotFound) {
		t.Fatalf("got %v", err)
	}
}

// 绕过服务层直接删掉停车场，遗留的预约仍然要能被取消和清理
func TestOrphanedReservationIsCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Slots.AddSlot(ctx, f.admin, SlotInput{EstablishmentUUID: f.est.UUID, SlotCode: "A2", VehicleTypeID: f.vt.ID}); err != nil {
		t.Fatal(err)
	}
	first, _ := f.login(t, "ivy@ez.test", "09175550000", "IVY001")
	second, _ := f.login(t, "oli@ez.test", "09175550001", "OLI001")
	stale, err := f.svc.Transactions.Reserve(ctx, first, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	mine, err := f.svc.Transactions.Reserve(ctx, second, ReserveInput{EstablishmentUUID: f.est.UUID, SlotCode: "A2"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Repos(ctx).Establishments.Delete(f.est.ID); err != nil {
		t.Fatal(err)
	}

	got, err := f.svc.Transactions.Cancel(ctx, second, mine.UUID)
	if err != nil || got.Status != domain.TxCancelled {
		t.Fatalf("owner cancel of orphan: %v", err)
	}

	n, err := f.svc.Transactions.ExpireStale(ctx, time.Now().Add(time.Second), 10)
	if err != nil || n != 1 {
		t.Fatalf("expire orphan: %v %d", err, n)
	}
	row, _ := f.store.Repos(ctx).Transactions.FindByUUID(stale.UUID)
	if row.Status != domain.TxCancelled {
		t.Fatalf("status %s", row.Status)
	}
	// 再扫一遍不会卡住
	if n, err = f.svc.Transactions.ExpireStale(ctx, time.Now().Add(time.Second), 10); err != nil || n != 0 {
		t.Fatalf("second sweep: %v %d", err, n)
	}
}

func TestOTPLockout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const email = "rio@ez.test"
	u, err := f.svc.Auth.SignUp(ctx, SignUpInput{FirstName: "Rio", LastName: "Santos", Email: email, PhoneNumber: "09176660000"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Auth.VerifyEmail(ctx, *u.VerificationToken); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Auth.GenerateOTP(ctx, email); err != nil {
		t.Fatal(err)
	}
	code := otpRe.FindString(f.mail.last().body)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < maxOTPAttempts; i++ {
		if _, _, err := f.svc.Auth.VerifyOTP(ctx, email, wrong); !apperr.Is(err, apperr.IncorrectOTP) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	// 次数用完后正确的验证码也作废
	if _, _, err := f.svc.Auth.VerifyOTP(ctx, email, code); !apperr.Is(err, apperr.IncorrectOTP) {
		t.Fatalf("correct code after lockout: %v", err)
	}
	row, _ := f.store.Repos(ctx).Users.FindByEmail(email)
	if row.OTPSecret != "" || row.OTPExpiry != nil || row.OTPAttempts != maxOTPAttempts {
		t.Fatalf("after lockout: attempts=%d secret cleared=%v", row.OTPAttempts, row.OTPSecret == "")
	}

	if err := f.svc.Auth.GenerateOTP(ctx, email); err != nil {
		t.Fatal(err)
	}
	code = otpRe.FindString(f.mail.last().body)
	wrong = "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < maxOTPAttempts-1; i++ {
		if _, _, err := f.svc.Auth.VerifyOTP(ctx, email, wrong); !apperr.Is(err, apperr.IncorrectOTP) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, _, err := f.svc.Auth.VerifyOTP(ctx, email, code); err != nil {
		t.Fatalf("correct code under the limit: %v", err)
	}
	row, _ = f.store.Repos(ctx).Users.FindByEmail(email)
	if row.OTPAttempts != 0 {
		t.Fatalf("attempts not reset: %d", row.OTPAttempts)
	}
}
