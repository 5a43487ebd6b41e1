package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
)

const uniqueViolation = "23505"

// Auth 账户表上的认证服务，会话状态保存在本进程
type Auth struct {
	db        *pgxpool.Pool
	cost      int
	listeners *backend.SessionListeners
}

// NewAuth 创建认证服务，cost 为 0 时使用 bcrypt.DefaultCost
func NewAuth(db *pgxpool.Pool, cost int) *Auth {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Auth{
		db:        db,
		cost:      cost,
		listeners: backend.NewSessionListeners(),
	}
}

// SignIn 校验邮箱与密码
func (a *Auth) SignIn(ctx context.Context, email, password string) (*model.AuthUser, error) {
	query := `
		SELECT uid, email, password_hash, display_name, photo_url
		FROM accounts WHERE email = $1
	`
	var (
		user model.AuthUser
		hash string
	)
	err := a.db.QueryRow(ctx, query, normalizeEmail(email)).Scan(
		&user.UID,
		&user.Email,
		&hash,
		&user.DisplayName,
		&user.PhotoURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, backend.ErrInvalidCredentials
	}

	a.listeners.Publish(&user)
	return &user, nil
}

// SignUp 创建账户并登录
func (a *Auth) SignUp(ctx context.Context, email, password string) (*model.AuthUser, error) {
	if len(password) < backend.MinPasswordLength {
		return nil, backend.ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, err
	}

	user := model.AuthUser{UID: uuid.NewString(), Email: normalizeEmail(email)}
	_, err = a.db.Exec(ctx,
		`INSERT INTO accounts (uid, email, password_hash) VALUES ($1, $2, $3)`,
		user.UID, user.Email, string(hash),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, backend.ErrEmailExists
		}
		return nil, err
	}

	a.listeners.Publish(&user)
	return &user, nil
}

// SignOut 结束本进程的会话
func (a *Auth) SignOut(_ context.Context) error {
	a.listeners.Publish(nil)
	return nil
}

// UpdateProfile 更新账户资料
func (a *Auth) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) error {
	tag, err := a.db.Exec(ctx,
		`UPDATE accounts SET display_name = $2, photo_url = $3 WHERE uid = $1`,
		uid, displayName, photoURL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	a.listeners.UpdateCurrent(uid, displayName, photoURL)
	return nil
}

// OnSessionChange 订阅会话变化
func (a *Auth) OnSessionChange(handler backend.SessionHandler) backend.Subscription {
	return a.listeners.Subscribe(handler)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
