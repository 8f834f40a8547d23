// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/stembot/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// Validation and authentication failures. They are user feedback, not
// faults, and carry no detail about which check failed at login.
var (
	ErrEmptyFields        = errors.New("please fill in all fields")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidUsername    = errors.New("username contains invalid characters")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrTOTPRequired       = errors.New("authentication code required")
	ErrTooManyAttempts    = errors.New("too many login attempts, try again later")
	ErrUnknownUser        = errors.New("unknown user")
)

// =============================================================================
// USER RECORDS
// =============================================================================

// User is one stored account.
type User struct {
	Password   string `json:"password"`
	CreatedAt  string `json:"created_at"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// Issuer is the TOTP issuer shown in authenticator apps.
const Issuer = "STEMBot"

// Store persists accounts in a JSON file. It is safe for concurrent use
// within one process.
type Store struct {
	path    string
	cost    int
	now     func() time.Time
	limiter *Limiter
	logger  *slog.Logger

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithBcryptCost sets the bcrypt work factor.
func WithBcryptCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// WithLimiter replaces the login throttle.
func WithLimiter(l *Limiter) Option {
	return func(s *Store) { s.limiter = l }
}

// WithClock replaces time.Now for created_at stamps and TOTP checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for authentication events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open returns a Store over path, creating the file as "{}" when absent.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewLimiter(DefaultLoginRate, DefaultLoginBurst)
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := util.AtomicWriteFileWithDir(path, []byte("{}"), 0600, 0700); err != nil {
			return nil, fmt.Errorf("create users file: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat users file: %w", err)
	}
	return s, nil
}

// Path returns the users file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (map[string]User, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	users := map[string]User{}
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}
	return users, nil
}

func (s *Store) save(users map[string]User) error {
	data, err := json.MarshalIndent(users, "", "    ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(s.path, data, 0600, 0700); err != nil {
		return fmt.Errorf("write users file: %w", err)
	}
	return nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Register creates an account. Checks run in order: empty fields,
// confirmation mismatch, username shape, duplicate username.
func (s *Store) Register(username, password, confirm string) error {
	if username == "" || password == "" {
		return ErrEmptyFields
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	if !util.ValidPathElement(username) {
		return ErrInvalidUsername
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := users[username]; exists {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	users[username] = User{
		Password:  string(hash),
		CreatedAt: s.now().Format(time.RFC3339),
	}
	if err := s.save(users); err != nil {
		return err
	}

	s.logger.Info("user registered", "username", username)
	return nil
}

// Authenticate verifies a password and, for enrolled users, the TOTP code.
func (s *Store) Authenticate(username, password, code string) error {
	if !s.limiter.Allow(username) {
		s.logger.Warn("login throttled", "username", username)
		return ErrTooManyAttempts
	}

	s.mu.Lock()
	users, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	user, ok := users[username]
	if !ok || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		s.logger.Warn("login failed", "username", username)
		return ErrInvalidCredentials
	}

	if user.TOTPSecret != "" {
		if code == "" {
			return ErrTOTPRequired
		}
		valid, err := totp.ValidateCustom(code, user.TOTPSecret, s.now().UTC(), totp.ValidateOpts{
			Period: 30,
			Skew:   1,
			Digits: 6,
		})
		if err != nil || !valid {
			s.logger.Warn("login failed", "username", username, "reason", "totp")
			return ErrInvalidCredentials
		}
	}

	s.limiter.Reset(username)
	s.logger.Info("login succeeded", "username", username)
	return nil
}

// EnrollTOTP generates a TOTP secret for username, stores it and returns
// the otpauth:// URL to show as a QR code.
func (s *Store) EnrollTOTP(username string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.load()
	if err != nil {
		return "", err
	}
	user, ok := users[username]
	if !ok {
		return "", ErrUnknownUser
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: username,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp key: %w", err)
	}

	user.TOTPSecret = key.Secret()
	users[username] = user
	if err := s.save(users); err != nil {
		return "", err
	}

	s.logger.Info("totp enrolled", "username", username)
	return key.URL(), nil
}

// Usernames returns all account names, sorted.
func (s *Store) Usernames() ([]string, error) {
	s.mu.Lock()
	users, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(users))
	for name := range users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
