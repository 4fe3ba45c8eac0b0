// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"thesisflow/api/internal/auth"
	"thesisflow/api/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	codeDigits = 6
	codeTTL    = time.Hour
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrEmailNotVerified   = errors.New("email not confirmed")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
)

// ValidationError is returned for malformed sign-up or sign-in input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Service provides email/password authentication
type Service struct {
	store  UserStore
	sender CodeSender
	cost   int
	now    func() time.Time
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, email, passwordHash string) (store.User, error)
	SetVerificationCode(ctx context.Context, userID, codeHash string, expiresAt time.Time) error
	MarkEmailVerified(ctx context.Context, userID string) (store.User, error)
}

// CodeSender delivers the sign-up confirmation code.
type CodeSender interface {
	SendVerificationCode(ctx context.Context, email, code string) error
}

type Option func(*Service)

func WithCodeSender(sender CodeSender) Option {
	return func(s *Service) { s.sender = sender }
}

func NewService(users UserStore, opts ...Option) *Service {
	s := &Service{store: users, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SignUpRequest struct {
	Email    string
	Password string
}

// SignUpResult carries the new account and its confirmation code. Delivered
// is false when no mail could be sent; Code is then the only copy.
type SignUpResult struct {
	User      store.User
	Code      string
	Delivered bool
}

// SignUp creates an unconfirmed account with an empty profile and sends a
// six-digit confirmation code. The profile is completed after sign-in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (SignUpResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return SignUpResult{}, err
	}
	if len(req.Password) < 8 {
		return SignUpResult{}, &ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return SignUpResult{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return SignUpResult{}, ErrEmailTaken
		}
		return SignUpResult{}, fmt.Errorf("create user: %w", err)
	}

	code, delivered, err := s.issueCode(ctx, user)
	if err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{User: user, Code: code, Delivered: delivered}, nil
}

// ResendCode replaces the pending code of an unconfirmed account. Unknown or
// already confirmed addresses return an empty result without error.
func (s *Service) ResendCode(ctx context.Context, rawEmail string) (SignUpResult, error) {
	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return SignUpResult{}, err
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SignUpResult{}, nil
		}
		return SignUpResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return SignUpResult{}, nil
	}
	code, delivered, err := s.issueCode(ctx, user)
	if err != nil {
		return SignUpResult{}, err
	}
	return SignUpResult{User: user, Code: code, Delivered: delivered}, nil
}

func (s *Service) issueCode(ctx context.Context, user store.User) (string, bool, error) {
	code, err := generateCode()
	if err != nil {
		return "", false, fmt.Errorf("generate verification code: %w", err)
	}
	if err := s.store.SetVerificationCode(ctx, user.ID, auth.HashToken(code), s.now().Add(codeTTL)); err != nil {
		return "", false, fmt.Errorf("set verification code: %w", err)
	}
	if s.sender == nil {
		return code, false, nil
	}
	if err := s.sender.SendVerificationCode(ctx, user.Email, code); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("component", "authpw").Str("user_id", user.ID).Msg("verification code not sent")
		return code, false, nil
	}
	return code, true, nil
}

type VerifyRequest struct {
	Email string
	Code  string
}

// VerifyEmail confirms an account with the code it was sent. Confirming an
// already confirmed account succeeds.
func (s *Service) VerifyEmail(ctx context.Context, req VerifyRequest) (store.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return store.User{}, &ValidationError{Field: "code", Message: "code is required"}
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCode
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailVerified {
		return user, nil
	}
	if user.VerificationCodeHash == "" || !s.now().Before(user.VerificationExpiresAt) {
		return store.User{}, ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(auth.HashToken(code)), []byte(user.VerificationCodeHash)) != 1 {
		return store.User{}, ErrInvalidCode
	}
	verified, err := s.store.MarkEmailVerified(ctx, user.ID)
	if err != nil {
		return store.User{}, fmt.Errorf("mark email verified: %w", err)
	}
	return verified, nil
}

func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

type SignInRequest struct {
	Email    string
	Password string
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil || req.Password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return store.User{}, ErrEmailNotVerified
	}
	return user, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", &ValidationError{Field: "email", Message: "email is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &ValidationError{Field: "email", Message: "email is invalid"}
	}
	return email, nil
}
