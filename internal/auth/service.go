package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"surveydesk/internal/db"
	"surveydesk/internal/entity"
)

// Groups gate the researcher-facing endpoints.
const (
	GroupAdmin             = "admin"
	GroupResearcher        = "researcher"
	GroupResearchAssistant = "research_assistant"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUserExists         = errors.New("user already exists")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

type Service struct {
	db         *sql.DB
	sessionTTL time.Duration
	bcryptCost int
	now        func() time.Time
}

type ServiceConfig struct {
	SessionTTL time.Duration
	BcryptCost int
}

type User struct {
	ID       int64    `json:"id"`
	Username string   `json:"username"`
	Email    *string  `json:"email,omitempty"`
	FullName string   `json:"full_name"`
	Groups   []string `json:"groups"`
	IsActive bool     `json:"is_active"`
}

// InGroup reports whether the user belongs to any of groups. Admins belong
// to every group.
func (u *User) InGroup(groups ...string) bool {
	if u == nil {
		return false
	}
	for _, have := range u.Groups {
		if have == GroupAdmin {
			return true
		}
		for _, want := range groups {
			if have == want {
				return true
			}
		}
	}
	return false
}

type CreateUserInput struct {
	Username string
	Email    string
	FullName string
	Password string
	Groups   []string
}

func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		sessionTTL: cfg.SessionTTL,
		bcryptCost: cfg.BcryptCost,
		now:        time.Now,
	}
}

func (s *Service) AuthenticatePassword(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, full_name, is_active, password_hash
		FROM users
		WHERE username = $1 OR email = $1
		LIMIT 1
	`, identifier)

	var u User
	var email sql.NullString
	var passwordHash string
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.IsActive, &passwordHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	if email.Valid {
		u.Email = &email.String
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}

	groups, err := loadGroups(ctx, s.db, u.ID)
	if err != nil {
		return nil, err
	}
	u.Groups = groups
	return &u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID int64, ipAddress, userAgent string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			user_id, session_token_hash, expires_at, ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`, userID, hashToken(token), expiresAt, nullableString(ipAddress), nullableString(userAgent), now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

func (s *Service) GetSessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.is_active, s.expires_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_token_hash = $1
		  AND s.revoked_at IS NULL
		LIMIT 1
	`, hashToken(token))

	var u User
	var email sql.NullString
	var rawExpires any
	if err := row.Scan(&u.ID, &u.Username, &email, &u.FullName, &u.IsActive, &rawExpires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	expires, err := entity.Normalize(expiresField, rawExpires)
	if err != nil {
		return nil, fmt.Errorf("session expiry: %w", err)
	}
	if t, ok := expires.(time.Time); !ok || !s.now().Before(t) {
		return nil, ErrUnauthorized
	}
	if !u.IsActive {
		return nil, ErrUnauthorized
	}
	if email.Valid {
		u.Email = &email.String
	}

	groups, err := loadGroups(ctx, s.db, u.ID)
	if err != nil {
		return nil, err
	}
	u.Groups = groups
	return &u, nil
}

var expiresField = entity.Field{Name: "expires_at", Type: entity.Time}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET revoked_at = $2
		WHERE session_token_hash = $1
		  AND revoked_at IS NULL
	`, hashToken(token), s.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// CreateUser stores a new active user with a bcrypt password hash.
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be lowercase letters, digits, '.', '_' or '-'", ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	groups, err := normalizeGroups(in.Groups)
	if err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if exists {
		return nil, ErrUserExists
	}

	u := User{Username: username, FullName: strings.TrimSpace(in.FullName), Groups: groups, IsActive: true}
	if email := strings.TrimSpace(in.Email); email != "" {
		u.Email = &email
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, password_hash, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, u.Username, nullableString(in.Email), u.FullName, string(hash), true).Scan(&u.ID); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	for _, g := range groups {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_groups (user_id, group_name) VALUES ($1, $2)`, u.ID, g); err != nil {
			return nil, fmt.Errorf("insert user group: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &u, nil
}

func loadGroups(ctx context.Context, q db.Querier, userID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT group_name FROM user_groups WHERE user_id = $1 ORDER BY group_name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user groups: %w", err)
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("scan user group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user groups: %w", err)
	}
	return groups, nil
}

func normalizeGroups(in []string) ([]string, error) {
	seen := map[string]bool{}
	out := []string{}
	for _, g := range in {
		g = strings.ToLower(strings.TrimSpace(g))
		if g == "" || seen[g] {
			continue
		}
		switch g {
		case GroupAdmin, GroupResearcher, GroupResearchAssistant:
		default:
			return nil, fmt.Errorf("%w: unknown group %q", ErrInvalidInput, g)
		}
		seen[g] = true
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func nullableString(s string) interface{} {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
