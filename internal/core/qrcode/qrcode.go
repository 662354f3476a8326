// Package qrcode 交易二维码：内容是带过期时间的签名 token，图片为 base64 PNG
package qrcode

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"rsc.io/qr"

	"ez-parking/internal/apperr"
)

type Payload struct {
	UUID        string `json:"uuid"`
	Status      string `json:"status"`
	PlateNumber string `json:"plate_number"`
	jwt.RegisteredClaims
}

type Signer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign 生成扫码内容
func (s *Signer) Sign(uuid, status, plate string) (string, error) {
	now := s.now()
	p := Payload{
		UUID:        uuid,
		Status:      status,
		PlateNumber: plate,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, p).SignedString(s.Secret)
}

// Verify 过期 -> qr_code_expired，其余任何问题 -> invalid_qr_content
func (s *Signer) Verify(content string) (*Payload, error) {
	if content == "" {
		return nil, apperr.New(apperr.InvalidQRContent, "")
	}
	t, err := jwt.ParseWithClaims(content, &Payload{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg")
		}
		return s.Secret, nil
	}, jwt.WithIssuer(s.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Wrap(apperr.QRCodeExpired, "", err)
		}
		return nil, apperr.Wrap(apperr.InvalidQRContent, "", err)
	}
	p, ok := t.Claims.(*Payload)
	if !ok || !t.Valid || p.UUID == "" {
		return nil, apperr.New(apperr.InvalidQRContent, "")
	}
	return p, nil
}

// PNGBase64 中等纠错级别
func PNGBase64(content string) (string, error) {
	code, err := qr.Encode(content, qr.M)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(code.PNG()), nil
}
