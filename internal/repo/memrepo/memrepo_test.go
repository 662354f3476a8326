package memrepo

import (
	"context"
	"errors"
	"testing"

	"ez-parking/internal/domain"
)

func TestInTxRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if err := r.VehicleTypes.Create(&domain.VehicleType{UUID: "v1", Code: "car", Size: domain.SizeMedium}); err != nil {
			return err
		}
		// 嵌套调用复用外层事务
		return s.InTx(ctx, func(context.Context, domain.Repos) error { return boom })
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	vts, _ := s.Repos(ctx).VehicleTypes.List()
	if len(vts) != 0 {
		t.Fatalf("rollback failed, %d rows", len(vts))
	}
}

func TestUniqueConstraints(t *testing.T) {
	s := New()
	r := s.Repos(context.Background())
	if err := r.Users.Create(&domain.User{UUID: "a", Email: "a@x.co", PhoneNumber: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Users.Create(&domain.User{UUID: "b", Email: "a@x.co", PhoneNumber: "2"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("got %v", err)
	}
	_ = r.Slots.Create(&domain.Slot{UUID: "s1", EstablishmentID: 1, SlotCode: "A1"})
	if err := r.Slots.Create(&domain.Slot{UUID: "s2", EstablishmentID: 1, SlotCode: "A1"}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("got %v", err)
	}
	if err := r.Slots.Create(&domain.Slot{UUID: "s3", EstablishmentID: 2, SlotCode: "A1"}); err != nil {
		t.Fatalf("same code in another establishment: %v", err)
	}
}

func TestSlotTransitionIsConditional(t *testing.T) {
	r := New().Repos(context.Background())
	sl := &domain.Slot{UUID: "s1", EstablishmentID: 1, SlotCode: "A1"}
	_ = r.Slots.Create(sl)

	from := []domain.SlotStatus{domain.SlotAvailable}
	if ok, _ := r.Slots.TransitionStatus(sl.ID, from, domain.SlotOccupied); !ok {
		t.Fatalf("first claim should win")
	}
	if ok, _ := r.Slots.TransitionStatus(sl.ID, from, domain.SlotOccupied); ok {
		t.Fatalf("second claim should lose")
	}
	if n, _ := r.Slots.CountAvailable(1); n != 0 {
		t.Fatalf("available=%d", n)
	}
}

func TestSlotPatchLeavesStatus(t *testing.T) {
	r := New().Repos(context.Background())
	a := &domain.Slot{UUID: "s1", EstablishmentID: 1, SlotCode: "A1"}
	b := &domain.Slot{UUID: "s2", EstablishmentID: 1, SlotCode: "A2"}
	_ = r.Slots.Create(a)
	_ = r.Slots.Create(b)
	if ok, _ := r.Slots.TransitionStatus(a.ID, []domain.SlotStatus{domain.SlotAvailable}, domain.SlotOccupied); !ok {
		t.Fatalf("claim failed")
	}

	floor := 3
	if err := r.Slots.Patch(a.ID, domain.SlotPatch{FloorLevel: &floor}); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Slots.FindByID(a.ID)
	if got.Status != domain.SlotOccupied || got.FloorLevel != 3 {
		t.Fatalf("got %+v", got)
	}
	code := "A2"
	if err := r.Slots.Patch(a.ID, domain.SlotPatch{SlotCode: &code}); !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("got %v", err)
	}
}

func TestCountLive(t *testing.T) {
	r := New().Repos(context.Background())
	for _, tx := range []domain.Transaction{
		{UUID: "t1", SlotID: 1, Status: domain.TxReserved},
		{UUID: "t2", SlotID: 1, Status: domain.TxCompleted},
		{UUID: "t3", SlotID: 2, Status: domain.TxActive},
		{UUID: "t4", SlotID: 3, Status: domain.TxCancelled},
	} {
		tx := tx
		_ = r.Transactions.Create(&tx)
	}
	if n, _ := r.Transactions.CountLive([]uint{1, 2, 3}); n != 2 {
		t.Fatalf("live=%d", n)
	}
	if n, _ := r.Transactions.CountLive([]uint{3}); n != 0 {
		t.Fatalf("live=%d", n)
	}
	if n, _ := r.Transactions.CountLive(nil); n != 0 {
		t.Fatalf("live=%d", n)
	}
}

func TestEstablishmentListNearestFirst(t *testing.T) {
	r := New().Repos(context.Background())
	_ = r.Establishments.Create(&domain.Establishment{UUID: "far", Name: "Far", Latitude: 10, Longitude: 10})
	_ = r.Establishments.Create(&domain.Establishment{UUID: "near", Name: "Near", Latitude: 0.1, Longitude: 0.1, Is24Hours: true})

	lat, lon := 0.0, 0.0
	out, _ := r.Establishments.List(domain.EstablishmentFilter{Latitude: &lat, Longitude: &lon})
	if len(out) != 2 || out[0].UUID != "near" {
		t.Fatalf("order %+v", out)
	}
	out, _ = r.Establishments.List(domain.EstablishmentFilter{Only24h: true})
	if len(out) != 1 || out[0].UUID != "near" {
		t.Fatalf("24h filter %+v", out)
	}
	out, _ = r.Establishments.List(domain.EstablishmentFilter{Search: "fa"})
	if len(out) != 1 || out[0].UUID != "far" {
		t.Fatalf("search %+v", out)
	}
}

func TestDeleteEstablishmentCascades(t *testing.T) {
	r := New().Repos(context.Background())
	e := &domain.Establishment{UUID: "e1"}
	_ = r.Establishments.Create(e)
	_ = r.Slots.Create(&domain.Slot{UUID: "s1", EstablishmentID: e.ID, SlotCode: "A1"})
	if err := r.Establishments.Delete(e.ID); err != nil {
		t.Fatal(err)
	}
	if sl, _ := r.Slots.FindByCode(e.ID, "A1"); sl != nil {
		t.Fatalf("slot survived delete")
	}
}

func TestPlateBanUpsert(t *testing.T) {
	r := New().Repos(context.Background())
	_ = r.PlateBans.Upsert(&domain.BannedPlate{UUID: "p1", PlateNumber: "ABC1", Reason: "first"})
	_ = r.PlateBans.Upsert(&domain.BannedPlate{UUID: "p2", PlateNumber: "ABC1", Reason: "second"})
	list, total, _ := r.PlateBans.List(0, 10)
	if total != 1 || list[0].Reason != "second" || list[0].UUID != "p1" {
		t.Fatalf("upsert wrong %+v", list)
	}
}
