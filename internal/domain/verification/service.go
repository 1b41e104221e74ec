// Package verification issues and checks one-time email codes.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carepoint/scheduler/internal/platform/cache"
	"github.com/carepoint/scheduler/internal/platform/notification"
)

var (
	ErrInvalidEmail    = errors.New("a valid email address is required")
	ErrInvalidCode     = errors.New("the code is incorrect")
	ErrNoActiveCode    = errors.New("no active code for this email, request a new one")
	ErrTooManyAttempts = errors.New("too many incorrect attempts, request a new code")
	ErrDelivery        = errors.New("the code could not be sent, please try again")
)

type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

// Issued describes a code that was sent.
type Issued struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	store     cache.Store
	sender    notification.EmailSender
	templates *notification.TemplateEngine
	cfg       Config
	now       func() time.Time
	random    io.Reader
	logger    zerolog.Logger
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithRandom replaces the entropy source for codes.
func WithRandom(r io.Reader) Option { return func(s *Service) { s.random = r } }

func NewService(store cache.Store, sender notification.EmailSender, cfg Config, opts ...Option) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	s := &Service{
		store:     store,
		sender:    sender,
		templates: notification.NewTemplateEngine(),
		cfg:       cfg,
		now:       time.Now,
		random:    rand.Reader,
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func codeKey(email string) string     { return "scheduler:otp:" + email }
func attemptsKey(email string) string { return "scheduler:otp:" + email + ":attempts" }

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}

// Issue sends a fresh code to email, replacing any earlier one and resetting
// the attempt counter. If delivery fails the code is withdrawn.
func (s *Service) Issue(ctx context.Context, email string) (*Issued, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	code, err := generateCode(s.random)
	if err != nil {
		return nil, err
	}

	if err := s.store.Set(ctx, codeKey(email), hashCode(code), s.cfg.TTL).Err(); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}
	if err := s.store.Set(ctx, attemptsKey(email), "0", s.cfg.TTL).Err(); err != nil {
		return nil, fmt.Errorf("reset attempts: %w", err)
	}

	subject, body, err := s.templates.Render(notification.TemplateVerificationCode, map[string]string{
		"code":    code,
		"minutes": strconv.Itoa(int(s.cfg.TTL.Minutes())),
	})
	if err != nil {
		return nil, err
	}
	if err := s.sender.SendEmail(ctx, email, subject, body); err != nil {
		s.logger.Error().Err(err).Str("email", email).Msg("verification email failed")
		s.burn(ctx, email)
		return nil, fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	s.logger.Info().Str("email", email).Msg("verification code issued")
	return &Issued{Email: email, ExpiresAt: s.now().Add(s.cfg.TTL)}, nil
}

// Verify succeeds once per issued code. Every wrong guess counts against
// the code; reaching the attempt limit burns it, after which the email has no
// active code until a new one is issued.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if len(code) != CodeLength {
		return ErrInvalidCode
	}

	hash, err := s.store.Get(ctx, codeKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrNoActiveCode
	}
	if err != nil {
		return fmt.Errorf("read code: %w", err)
	}

	attempts, err := s.store.Get(ctx, attemptsKey(email)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read attempts: %w", err)
	}
	if attempts >= s.cfg.MaxAttempts {
		s.burn(ctx, email)
		return ErrTooManyAttempts
	}

	if !codeMatches(hash, code) {
		n, err := s.store.Incr(ctx, attemptsKey(email)).Result()
		if err != nil {
			return fmt.Errorf("count attempt: %w", err)
		}
		if int(n) >= s.cfg.MaxAttempts {
			s.burn(ctx, email)
			s.logger.Warn().Str("email", email).Msg("verification code burned after too many attempts")
			return ErrTooManyAttempts
		}
		return ErrInvalidCode
	}

	// Only the caller that removes the code wins; a concurrent match that
	// finds it already gone is rejected.
	n, err := s.store.Del(ctx, codeKey(email)).Result()
	if err != nil {
		return fmt.Errorf("consume code: %w", err)
	}
	if n == 0 {
		return ErrNoActiveCode
	}
	if err := s.store.Del(ctx, attemptsKey(email)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("failed to delete verification attempts")
	}
	s.logger.Info().Str("email", email).Msg("verification code accepted")
	return nil
}

func (s *Service) burn(ctx context.Context, email string) {
	if err := s.store.Del(ctx, codeKey(email), attemptsKey(email)).Err(); err != nil {
		s.logger.Warn().Err(err).Str("email", email).Msg("failed to delete verification code")
	}
}
