package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"SignalCAD/internal/model"
	"SignalCAD/internal/pkg"
	"SignalCAD/internal/pkg/errs"
)

const (
	minUsername   = 3
	maxUsername   = 32
	minPassword   = 5
	maxPassword   = 72 // bcrypt 只取前 72 字节
	maxEmail      = 64
	userLogScope  = "service/user"
	dummyPassword = "signalcad-dummy-password"
)

var errInvalidCredentials = errs.New(errs.KindInvalidCredentials, "invalid email or password")

type UserService struct {
	users    IdentityStore
	hasher   *pkg.PasswordHasher
	tokens   *pkg.TokenManager
	sessions SessionStore
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService sessions 为 nil 时只校验 token 本身
func NewUserService(users IdentityStore, hasher *pkg.PasswordHasher, tokens *pkg.TokenManager, sessions SessionStore, logger *slog.Logger) *UserService {
	return &UserService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		logger:   ResolveLogger(logger),
	}
}

func (s *UserService) Signup(ctx context.Context, username, email, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if err := validateSignup(username, email, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "hash password", err)
	}
	user, err := s.users.Create(ctx, username, email, hash)
	if err != nil {
		if !errors.Is(err, errs.ErrDuplicateIdentity) {
			s.logger.Error("signup failed",
				"event", "user_signup_failed",
				"module", userLogScope,
				"error", err.Error(),
			)
		}
		return nil, err
	}
	s.logger.Info("user signed up",
		"event", "user_signup",
		"module", userLogScope,
		"user_id", user.ID,
	)
	return s.issue(ctx, user)
}

// Login 邮箱不存在和密码错误返回同一个错误
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, errInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errs.KindOf(err) != errs.KindNotFound {
			return nil, err
		}
		// 仍然做一次比较，响应时间不暴露邮箱是否注册
		s.hasher.Verify(password, s.dummy())
		return nil, errInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.Warn("login rejected",
			"event", "user_login_rejected",
			"module", userLogScope,
			"user_id", user.ID,
		)
		return nil, errInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *UserService) Logout(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return errs.Unauthorized("unauthorized")
	}
	if s.sessions == nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("user logged out",
		"event", "user_logout",
		"module", userLogScope,
		"user_id", userID,
	)
	return nil
}

// Authenticate 校验 token，并要求它是该用户当前登记的会话
func (s *UserService) Authenticate(ctx context.Context, token string) (uint64, error) {
	if token == "" {
		return 0, errs.Unauthorized("missing token")
	}
	userID, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, pkg.ErrTokenExpired) {
			return 0, errs.Wrap(errs.KindUnauthorized, "token expired", err)
		}
		return 0, errs.Wrap(errs.KindUnauthorized, "invalid token", err)
	}
	if s.sessions == nil {
		return userID, nil
	}
	current, err := s.sessions.Get(ctx, userID)
	if err != nil {
		if errs.KindOf(err) == errs.KindTransient {
			return 0, err
		}
		return 0, errs.Wrap(errs.KindUnauthorized, "session expired", err)
	}
	if current != token {
		return 0, errs.Unauthorized("session replaced")
	}
	return userID, nil
}

func (s *UserService) issue(ctx context.Context, user *model.User) (*AuthResult, error) {
	token, exp, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "issue token", err)
	}
	if s.sessions != nil {
		if err := s.sessions.Save(ctx, user.ID, token, s.tokens.TTL()); err != nil {
			return nil, err
		}
	}
	return &AuthResult{
		Token:     token,
		ExpiresAt: exp,
		User:      UserView{ID: user.ID, Username: user.Username, Email: user.Email},
	}, nil
}

func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash(dummyPassword)
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateSignup(username, email, password string) error {
	if n := utf8.RuneCountInString(username); n < minUsername || n > maxUsername {
		return errs.Validation("username must be 3 to 32 characters")
	}
	if len(email) > maxEmail {
		return errs.Validation("email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errs.Validation("invalid email address")
	}
	if len(password) < minPassword {
		return errs.Validation("password must be at least 5 characters")
	}
	if len(password) > maxPassword {
		return errs.Validation("password is too long")
	}
	return nil
}
