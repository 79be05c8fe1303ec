package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// ValidationError describes a rejected username or password.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Reason }

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6

	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72

	tokenType = "Bearer"
)

// Session is what the app stores after login.
type Session struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	Username    string    `json:"username"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Service registers users and issues opaque session tokens, all in Redis.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	cost   int
	now    func() time.Time
}

func NewService(client *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Service{client: client, ttl: ttl, cost: bcrypt.DefaultCost, now: time.Now}
}

func userKey(username string) string    { return "user:" + username }
func sessionKey(token string) string    { return "session:" + token }
func normalizeUsername(u string) string { return strings.ToLower(strings.TrimSpace(u)) }

// Validate checks credentials before they reach Redis.
func Validate(username, password string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(username))
	switch {
	case n == 0:
		return &ValidationError{Field: "username", Reason: "required"}
	case n < minUsernameLen || n > maxUsernameLen:
		return &ValidationError{Field: "username", Reason: fmt.Sprintf("must be %d-%d characters", minUsernameLen, maxUsernameLen)}
	case strings.ContainsAny(username, ":/ \t\n"):
		return &ValidationError{Field: "username", Reason: "must not contain spaces, '/' or ':'"}
	case utf8.RuneCountInString(password) < minPasswordLen:
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLen)}
	case len(password) > maxPasswordBytes:
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)}
	}
	return nil
}

// Register creates the user and returns a fresh session.
func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	if err := Validate(username, password); err != nil {
		return Session{}, err
	}
	name := normalizeUsername(username)
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.client.HSetNX(ctx, userKey(name), "password", string(hash)).Result()
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}
	if !created {
		return Session{}, ErrUserExists
	}
	if err := s.client.HSet(ctx, userKey(name), "created_at", s.now().UTC().Format(time.RFC3339)).Err(); err != nil {
		log.Warn().Err(err).Str("user", name).Msg("failed to record user creation time")
	}
	log.Info().Str("user", name).Msg("user registered")
	return s.issue(ctx, name)
}

// Login verifies the password and returns a fresh session.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	name := normalizeUsername(username)
	if name == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}
	hash, err := s.client.HGet(ctx, userKey(name), "password").Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return s.issue(ctx, name)
}

// Authenticate resolves a bearer token to its username.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if _, err := uuid.Parse(token); err != nil {
		return "", ErrInvalidToken
	}
	name, err := s.client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return name, nil
}

// Exists reports whether username is registered.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	name := normalizeUsername(username)
	if name == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, userKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return n > 0, nil
}

// Logout revokes token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Service) issue(ctx context.Context, name string) (Session, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, sessionKey(token), name, s.ttl).Err(); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return Session{
		AccessToken: token,
		TokenType:   tokenType,
		Username:    name,
		ExpiresAt:   s.now().Add(s.ttl).UTC(),
	}, nil
}
