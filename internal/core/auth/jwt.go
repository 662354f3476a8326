package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	AccessToken  TokenType = "access"
	RefreshToken TokenType = "refresh"
)

var ErrWrongTokenType = errors.New("auth: wrong token type")

// Claims Subject 存用户 uuid
type Claims struct {
	UserID uint      `json:"uid"`
	Email  string    `json:"email"`
	Role   string    `json:"role"`
	Type   TokenType `json:"typ"`
	CSRF   string    `json:"csrf"` // 双提交 cookie 校验用
	jwt.RegisteredClaims
}

func (c *Claims) UUID() string { return c.Subject }

// HasRole roles 为空表示只要登录即可
func (c *Claims) HasRole(roles ...string) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

type Identity struct {
	UserID uint
	UUID   string
	Email  string
	Role   string
}

// Pair 一次登录签出的 access + refresh，两者共享同一个 csrf 值
type Pair struct {
	Access     string
	Refresh    string
	CSRF       string
	AccessExp  time.Time
	RefreshExp time.Time
}

type JWTer struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (j *JWTer) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func (j *JWTer) IssuePair(id Identity) (Pair, error) {
	csrf, err := randomHex(16)
	if err != nil {
		return Pair{}, err
	}
	now := j.now()
	p := Pair{CSRF: csrf, AccessExp: now.Add(j.AccessTTL), RefreshExp: now.Add(j.RefreshTTL)}
	if p.Access, err = j.sign(id, AccessToken, csrf, now, p.AccessExp); err != nil {
		return Pair{}, err
	}
	if p.Refresh, err = j.sign(id, RefreshToken, csrf, now, p.RefreshExp); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func (j *JWTer) sign(id Identity, typ TokenType, csrf string, now, exp time.Time) (string, error) {
	claims := Claims{
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		Type:   typ,
		CSRF:   csrf,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UUID,
			Issuer:    j.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Parse 校验签名、issuer、过期以及 token 类型
func (j *JWTer) Parse(tokenStr string, want TokenType) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected alg")
		}
		return j.Secret, nil
	}, jwt.WithIssuer(j.Issuer), jwt.WithLeeway(30*time.Second), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if c.Type != want {
		return nil, ErrWrongTokenType
	}
	return c, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
