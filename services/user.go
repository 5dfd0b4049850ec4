package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"table-order/db"
	"table-order/models"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 6
	// telegramUsernamePrefix is reserved for accounts created by the bot.
	telegramUsernamePrefix = "tg_"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_.]{3,32}$`)

// UserService owns accounts: registration, password login and Telegram binding.
type UserService struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewUserService(store Store, log *zap.Logger) *UserService {
	return &UserService{store: store, log: log, now: time.Now}
}

// Register creates a CUSTOMER account. Passwords are stored as bcrypt hashes.
func (s *UserService) Register(ctx context.Context, username, password, name string) (models.Identity, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return models.Identity{}, invalid("username", "must be 3-32 characters of a-z, 0-9, '_' or '.'")
	}
	if strings.HasPrefix(username, telegramUsernamePrefix) {
		return models.Identity{}, invalid("username", fmt.Sprintf("the %q prefix is reserved", telegramUsernamePrefix))
	}
	if len(password) < minPasswordLen {
		return models.Identity{}, invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLen))
	}
	u, err := s.create(ctx, username, password, strings.TrimSpace(name), models.RoleCustomer, nil)
	if err != nil {
		return models.Identity{}, err
	}
	s.log.Info("user registered", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return u.Identity(), nil
}

func (s *UserService) create(ctx context.Context, username, password, name string, role models.Role, tgUserID *int64) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		Username:     username,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		TelegramID:   tgUserID,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks a username/password pair. Failed attempts put the
// username, as seen from clientIP, on an exponential cooldown; other clients
// can still log in to the same account. clientIP may be empty.
func (s *UserService) Authenticate(ctx context.Context, username, password, clientIP string) (models.Identity, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	key := throttleKey(username, clientIP)
	wait, err := s.throttleWait(ctx, key)
	if err != nil {
		return models.Identity{}, err
	}
	if wait > 0 {
		return models.Identity{}, &ThrottledError{Wait: wait}
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return models.Identity{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		if err := s.store.RecordLoginFailed(ctx, key); err != nil {
			s.log.Warn("record login failure", zap.String("username", username), zap.String("client_ip", clientIP), zap.Error(err))
		}
		return models.Identity{}, ErrInvalidCredentials
	}
	if err := s.store.RecordLoginSuccess(ctx, key); err != nil {
		s.log.Warn("reset login throttle", zap.String("username", username), zap.Error(err))
	}
	return u.Identity(), nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (models.Identity, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return models.Identity{}, &NotFoundError{Resource: "user", ID: userID}
	}
	return u.Identity(), nil
}

// TelegramID returns the Telegram user bound to the account, if any.
func (s *UserService) TelegramID(ctx context.Context, userID int64) (int64, bool, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, false, fmt.Errorf("get user: %w", err)
	}
	if u == nil || u.TelegramID == nil {
		return 0, false, nil
	}
	return *u.TelegramID, true, nil
}

// EnsureAdmin creates the ADMIN account if it does not exist yet. When
// password is empty a random one is generated and returned so the caller
// can show it once.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) (generated string, err error) {
	username = strings.ToLower(strings.TrimSpace(username))
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		if u.Role != models.RoleAdmin {
			return "", &ConflictError{Message: fmt.Sprintf("username %q belongs to a non-admin account", username)}
		}
		return "", nil
	}
	if password == "" {
		if password, err = GenerateSecurePassword(); err != nil {
			return "", fmt.Errorf("generate admin password: %w", err)
		}
		generated = password
	}
	u, err = s.create(ctx, username, password, "Administrator", models.RoleAdmin, nil)
	if err != nil {
		return "", err
	}
	s.log.Info("admin account created", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	return generated, nil
}

// ResolveTelegram returns the account bound to a Telegram user, creating it
// on first contact. admin decides the role of a newly created account.
func (s *UserService) ResolveTelegram(ctx context.Context, tgUserID int64, name string, admin bool) (models.Identity, error) {
	u, err := s.store.GetUserByTelegramID(ctx, tgUserID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("get telegram user: %w", err)
	}
	if u != nil {
		return u.Identity(), nil
	}

	role := models.RoleCustomer
	if admin {
		role = models.RoleAdmin
	}
	// Telegram accounts log in through the bot only; the password is never shown.
	secret, err := GenerateSecurePassword()
	if err != nil {
		return models.Identity{}, err
	}
	id := tgUserID
	u, err = s.create(ctx, telegramUsernamePrefix+strconv.FormatInt(tgUserID, 10), secret, strings.TrimSpace(name), role, &id)
	if err != nil {
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			return models.Identity{}, err
		}
		// Lost a race with another update from the same user.
		existing, lookupErr := s.store.GetUserByTelegramID(ctx, tgUserID)
		if lookupErr != nil {
			return models.Identity{}, fmt.Errorf("get telegram user: %w", lookupErr)
		}
		if existing == nil {
			return models.Identity{}, err
		}
		return existing.Identity(), nil
	}
	s.log.Info("telegram user linked", zap.Int64("user_id", u.ID), zap.Int64("tg_user_id", tgUserID))
	return u.Identity(), nil
}

const userColumns = `id, username, name, password_hash, role, tg_user_id, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &role, &u.TelegramID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (p pgQueries) CreateUser(ctx context.Context, u *models.User) error {
	err := p.q.QueryRow(ctx, `
		INSERT INTO users (username, name, password_hash, role, tg_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		u.Username, u.Name, u.PasswordHash, string(u.Role), u.TelegramID,
	).Scan(&u.ID, &u.CreatedAt)
	if db.IsUniqueViolation(err, "") {
		return &ConflictError{Message: fmt.Sprintf("username %q is already taken", u.Username)}
	}
	return err
}

func (p pgQueries) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p pgQueries) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func (p pgQueries) GetUserByTelegramID(ctx context.Context, tgUserID int64) (*models.User, error) {
	return scanUser(p.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE tg_user_id = $1`, tgUserID))
}
