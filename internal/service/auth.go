package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"ez-parking/internal/apperr"
	"ez-parking/internal/core/auth"
	"ez-parking/internal/core/cache"
	"ez-parking/internal/core/mailer"
	"ez-parking/internal/domain"
	"ez-parking/pkg/utils"
)

var phoneRe = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

type AuthService struct {
	store    domain.Store
	jwt      *auth.JWTer
	mail     mailer.Sender
	cache    *cache.Cache
	validate *validator.Validate
	opt      AuthOptions
	l        *zap.Logger
	now      func() time.Time
}

func newAuthService(d Deps) *AuthService {
	opt := d.Auth
	if opt.OTPTTL <= 0 {
		opt.OTPTTL = 5 * time.Minute
	}
	if opt.VerifyTTL <= 0 {
		opt.VerifyTTL = 24 * time.Hour
	}
	if opt.OTPRateWindow <= 0 {
		opt.OTPRateWindow = 10 * time.Minute
	}
	return &AuthService{
		store:    d.Store,
		jwt:      d.JWT,
		mail:     d.Mail,
		cache:    d.Cache,
		validate: validator.New(),
		opt:      opt,
		l:        d.Log.Named("auth"),
		now:      time.Now,
	}
}

type SignUpInput struct {
	FirstName   string `json:"first_name" binding:"required,max=64"`
	LastName    string `json:"last_name" binding:"required,max=64"`
	Email       string `json:"email" binding:"required"`
	PhoneNumber string `json:"phone_number" binding:"required"`
	Nickname    string `json:"nickname" binding:"omitempty,max=64"`
	PlateNumber string `json:"plate_number" binding:"omitempty,plate"`
}

func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*domain.User, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.PhoneNumber == "" {
		return nil, apperr.New(apperr.MissingFields, "")
	}
	if s.validate.Var(in.Email, "email") != nil {
		return nil, apperr.New(apperr.InvalidEmail, "")
	}
	if !phoneRe.MatchString(in.PhoneNumber) {
		return nil, apperr.New(apperr.InvalidPhoneNumber, "")
	}

	token, err := utils.NewToken(32)
	if err != nil {
		return nil, apperr.Wrap(apperr.UnexpectedError, "", err)
	}
	exp := s.now().Add(s.opt.VerifyTTL)
	u := &domain.User{
		UUID:               newUUID(),
		Nickname:           strings.TrimSpace(in.Nickname),
		FirstName:          in.FirstName,
		LastName:           in.LastName,
		Email:              in.Email,
		PhoneNumber:        in.PhoneNumber,
		Role:               domain.RoleUser,
		VerificationToken:  &token,
		VerificationExpiry: &exp,
	}
	if p := domain.NormalizePlate(in.PlateNumber); p != "" {
		u.PlateNumber = &p
	}

	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		if got, err := r.Users.FindByEmail(u.Email); err != nil {
			return dbErr(err)
		} else if got != nil {
			return apperr.New(apperr.EmailTaken, "")
		}
		if got, err := r.Users.FindByPhone(u.PhoneNumber); err != nil {
			return dbErr(err)
		} else if got != nil {
			return apperr.New(apperr.PhoneNumberTaken, "")
		}
		if u.PlateNumber != nil {
			if got, err := r.Users.FindByPlate(*u.PlateNumber); err != nil {
				return dbErr(err)
			} else if got != nil {
				return apperr.New(apperr.PlateNumberTaken, "")
			}
		}
		return dbErr(r.Users.Create(u))
	})
	if err != nil {
		return nil, err
	}

	link := fmt.Sprintf("%s/v1/auth/verify-email?token=%s", strings.TrimRight(s.opt.BaseURL, "/"), token)
	if err := s.mail.Send(ctx, u.Email, "Verify your EZ Parking account", "Open this link to verify your account: "+link); err != nil {
		// 账号已创建，邮件失败只记录
		s.l.Warn("verification mail failed", zap.String("email", u.Email), zap.Error(err))
	}
	s.l.Info("user signed up", zap.String("email", u.Email), zap.String("user_uuid", u.UUID))
	return u, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return apperr.New(apperr.InvalidVerificationToken, "")
	}
	return s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		u, err := r.Users.FindByVerificationToken(token)
		if err != nil {
			return dbErr(err)
		}
		if u == nil || u.VerificationExpiry == nil || s.now().After(*u.VerificationExpiry) {
			return apperr.New(apperr.InvalidVerificationToken, "")
		}
		u.IsVerified = true
		u.VerificationToken = nil
		u.VerificationExpiry = nil
		return dbErr(r.Users.Update(u))
	})
}

// Login 第一步：邮箱存在且已验证则发送 OTP
func (s *AuthService) Login(ctx context.Context, email string) error {
	return s.sendOTP(ctx, email)
}

// GenerateOTP 重新发送验证码
func (s *AuthService) GenerateOTP(ctx context.Context, email string) error {
	return s.sendOTP(ctx, email)
}

func (s *AuthService) sendOTP(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return apperr.New(apperr.MissingFields, "")
	}
	ok, err := s.cache.FixedWindow(ctx, cache.OTPWindowKey(email), s.opt.OTPRateLimit, s.opt.OTPRateWindow)
	if err != nil {
		s.l.Warn("otp rate window unavailable", zap.Error(err))
	}
	if !ok {
		return apperr.New(apperr.TooManyRequests, "Too many OTP requests. Please try again later.")
	}

	code, err := utils.NewOTP()
	if err != nil {
		return apperr.Wrap(apperr.UnexpectedError, "", err)
	}
	hash, err := utils.HashSecret(code)
	if err != nil {
		return apperr.Wrap(apperr.UnexpectedError, "", err)
	}

	err = s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		u, err := r.Users.FindByEmail(email)
		if err != nil {
			return dbErr(err)
		}
		if u == nil {
			return apperr.New(apperr.EmailNotFound, "")
		}
		if !u.IsVerified {
			return apperr.New(apperr.AccountNotVerified, "")
		}
		exp := s.now().Add(s.opt.OTPTTL)
		u.OTPSecret = hash
		u.OTPExpiry = &exp
		u.OTPAttempts = 0
		return dbErr(r.Users.Update(u))
	})
	if err != nil {
		return err
	}
	minutes := int(s.opt.OTPTTL / time.Minute)
	body := fmt.Sprintf("Your EZ Parking login code is %s. It expires in %d minutes.", code, minutes)
	if err := s.mail.Send(ctx, email, "Your EZ Parking login code", body); err != nil {
		return apperr.Wrap(apperr.UnexpectedError, "", err)
	}
	s.l.Info("otp sent", zap.String("email", email))
	return nil
}

// 连续输错这么多次后验证码作废，需要重新获取
const maxOTPAttempts = 5

// VerifyOTP 过期优先于比对：过期的正确验证码同样失败
func (s *AuthService) VerifyOTP(ctx context.Context, email, otp string) (*domain.User, auth.Pair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return nil, auth.Pair{}, apperr.New(apperr.MissingFields, "")
	}
	var (
		u    *domain.User
		fail error
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		u, err = r.Users.FindByEmail(email)
		if err != nil {
			return dbErr(err)
		}
		if u == nil {
			return apperr.New(apperr.EmailNotFound, "")
		}
		if u.OTPSecret == "" || u.OTPExpiry == nil {
			return apperr.New(apperr.IncorrectOTP, "")
		}
		if s.now().After(*u.OTPExpiry) {
			return apperr.New(apperr.ExpiredOTP, "")
		}
		if !utils.CheckSecret(otp, u.OTPSecret) {
			// 错误次数要落库，事务正常提交，错误在外面返回
			u.OTPAttempts++
			fail = apperr.New(apperr.IncorrectOTP, "")
			if u.OTPAttempts >= maxOTPAttempts {
				u.OTPSecret = ""
				u.OTPExpiry = nil
				fail = apperr.New(apperr.IncorrectOTP, "Too many incorrect attempts. Please request a new OTP.")
			}
			return dbErr(r.Users.Update(u))
		}
		u.OTPSecret = ""
		u.OTPExpiry = nil
		u.OTPAttempts = 0
		return dbErr(r.Users.Update(u))
	})
	if err == nil && fail != nil {
		s.l.Warn("otp attempt failed", zap.String("email", email), zap.Int("attempts", u.OTPAttempts))
		err = fail
	}
	if err != nil {
		return nil, auth.Pair{}, err
	}
	pair, err := s.jwt.IssuePair(identity(u))
	if err != nil {
		return nil, auth.Pair{}, apperr.Wrap(apperr.UnexpectedError, "", err)
	}
	s.l.Info("user logged in", zap.String("email", u.Email), zap.String("role", string(u.Role)))
	return u, pair, nil
}

// Refresh 重新读取用户，角色变化会反映到新 token
func (s *AuthService) Refresh(ctx context.Context, c *auth.Claims) (auth.Pair, error) {
	u, err := s.store.Repos(ctx).Users.FindByID(c.UserID)
	if err != nil {
		return auth.Pair{}, dbErr(err)
	}
	if u == nil || u.UUID != c.UUID() {
		return auth.Pair{}, apperr.New(apperr.Unauthorized, "")
	}
	pair, err := s.jwt.IssuePair(identity(u))
	if err != nil {
		return auth.Pair{}, apperr.Wrap(apperr.UnexpectedError, "", err)
	}
	return pair, nil
}

func (s *AuthService) SetNickname(ctx context.Context, a Actor, nickname string) (*domain.User, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, apperr.New(apperr.MissingFields, "Please provide a nickname.")
	}
	if len([]rune(nickname)) < 3 {
		return nil, apperr.Validation([]string{"Error on field nickname: must be at least 3 characters"})
	}
	var u *domain.User
	err := s.store.InTx(ctx, func(ctx context.Context, r domain.Repos) error {
		var err error
		if u, err = r.Users.FindByID(a.UserID); err != nil {
			return dbErr(err)
		}
		if u == nil {
			return apperr.New(apperr.UserNotFound, "")
		}
		u.Nickname = nickname
		return dbErr(r.Users.Update(u))
	})
	return u, err
}

func (s *AuthService) Me(ctx context.Context, a Actor) (*domain.User, error) {
	u, err := s.store.Repos(ctx).Users.FindByID(a.UserID)
	if err != nil {
		return nil, dbErr(err)
	}
	if u == nil {
		return nil, apperr.New(apperr.UserNotFound, "")
	}
	return u, nil
}

func identity(u *domain.User) auth.Identity {
	return auth.Identity{UserID: u.ID, UUID: u.UUID, Email: u.Email, Role: string(u.Role)}
}
