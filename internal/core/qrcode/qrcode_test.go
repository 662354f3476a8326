package qrcode

import (
	"bytes"
	"encoding/base64"
	"testing"
	"time"

	"ez-parking/internal/apperr"
)

func signer(ttl time.Duration) *Signer {
	return &Signer{Secret: []byte("qr-secret"), Issuer: "ez-parking", TTL: ttl}
}

func TestSignVerify(t *testing.T) {
	s := signer(time.Minute)
	content, err := s.Sign("tx-1", "reserved", "ABC1234")
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Verify(content)
	if err != nil {
		t.Fatal(err)
	}
	if p.UUID != "tx-1" || p.Status != "reserved" || p.PlateNumber != "ABC1234" {
		t.Fatalf("payload %+v", p)
	}
}

func TestVerifyExpired(t *testing.T) {
	s := signer(-time.Minute)
	content, _ := s.Sign("tx-1", "reserved", "ABC1234")
	if _, err := s.Verify(content); !apperr.Is(err, apperr.QRCodeExpired) {
		t.Fatalf("got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	s := signer(time.Minute)
	for _, in := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := s.Verify(in); !apperr.Is(err, apperr.InvalidQRContent) {
			t.Fatalf("%q: got %v", in, err)
		}
	}
	other := signer(time.Minute)
	other.Secret = []byte("nope")
	content, _ := other.Sign("tx-1", "reserved", "X")
	if _, err := s.Verify(content); !apperr.Is(err, apperr.InvalidQRContent) {
		t.Fatalf("foreign signature accepted: %v", err)
	}
}

func TestPNGBase64(t *testing.T) {
	out, err := PNGBase64("hello")
	if err != nil {
		t.Fatal(err)
	}
	raw, err := base64.StdEncoding.DecodeString(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, []byte("\x89PNG")) {
		t.Fatalf("not a png")
	}
}
