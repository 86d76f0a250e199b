package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/ids"
	"backoffice/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// Account is a login-capable identity from either directory.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
	Status       string
	Roles        []string
	Permissions  []string
}

// Directory finds accounts of one kind.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string) error
}

// TenantDirectory reads users of one tenant schema. db must be the
// tenant-scoped handle of the request.
type TenantDirectory struct {
	db *gorm.DB
}

func NewTenantDirectory(db *gorm.DB) *TenantDirectory { return &TenantDirectory{db: db} }

func userAccount(u *models.User) *Account {
	status := models.AccountActive
	if !u.IsActive {
		status = models.AccountDisabled
	}
	return &Account{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Status:       status,
		Roles:        u.RoleNames(),
		Permissions:  auth.FlattenPermissions(u.Roles),
	}
}

func (d *TenantDirectory) find(ctx context.Context, query string, arg any) (*Account, error) {
	var u models.User
	err := d.db.WithContext(ctx).Preload("Roles.Permissions").Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return userAccount(&u), nil
}

func (d *TenantDirectory) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return d.find(ctx, "username = ?", username)
}

func (d *TenantDirectory) FindByID(ctx context.Context, id string) (*Account, error) {
	return d.find(ctx, "id = ?", id)
}

func (d *TenantDirectory) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login_at", at).Error
}

func (d *TenantDirectory) UpdatePassword(ctx context.Context, id, hash string) error {
	return d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("password_hash", hash).Error
}

type NewUser struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Roles    []string `json:"roles"`
}

// CreateUser stores a user with the named roles. Unknown roles are rejected.
func (d *TenantDirectory) CreateUser(ctx context.Context, in NewUser) (*models.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return nil, apperr.E(apperr.BadRequest, "username and password are required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid password", err)
	}
	user := &models.User{Username: username, PasswordHash: hash, IsActive: true}
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.E(apperr.Conflict, "username already taken")
		}
		roles, err := rolesByName(tx, in.Roles)
		if err != nil {
			return err
		}
		user.Roles = roles
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, classify(err, "create user")
	}
	return user, nil
}

func (d *TenantDirectory) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	if err := d.db.WithContext(ctx).Preload("Roles").Order("username").Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list users", err)
	}
	return out, nil
}

type NewRole struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

// CreateRole stores a role; permissions that do not exist yet are created.
func (d *TenantDirectory) CreateRole(ctx context.Context, in NewRole) (*models.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.E(apperr.BadRequest, "role name is required")
	}
	role := &models.Role{Name: name, Description: in.Description}
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Role{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.E(apperr.Conflict, "role already exists")
		}
		for _, key := range in.Permissions {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			p := models.Permission{Key: key}
			if err := tx.Where(models.Permission{Key: key}).FirstOrCreate(&p).Error; err != nil {
				return err
			}
			role.Permissions = append(role.Permissions, p)
		}
		return tx.Create(role).Error
	})
	if err != nil {
		return nil, classify(err, "create role")
	}
	return role, nil
}

func (d *TenantDirectory) ListRoles(ctx context.Context) ([]models.Role, error) {
	var out []models.Role
	if err := d.db.WithContext(ctx).Preload("Permissions").Order("name").Find(&out).Error; err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list roles", err)
	}
	return out, nil
}

// AssignRoles replaces the roles of a user.
func (d *TenantDirectory) AssignRoles(ctx context.Context, userID string, names []string) (*models.User, error) {
	userID, ok := ids.ParseUUID(userID)
	if !ok {
		return nil, apperr.E(apperr.BadRequest, "invalid user id")
	}
	var user models.User
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.E(apperr.NotFound, "user not found")
			}
			return err
		}
		roles, err := rolesByName(tx, names)
		if err != nil {
			return err
		}
		if err := tx.Model(&user).Association("Roles").Replace(roles); err != nil {
			return err
		}
		user.Roles = roles
		return nil
	})
	if err != nil {
		return nil, classify(err, "assign roles")
	}
	return &user, nil
}

func rolesByName(tx *gorm.DB, names []string) ([]models.Role, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var roles []models.Role
	if err := tx.Where("name IN ?", names).Find(&roles).Error; err != nil {
		return nil, err
	}
	if len(roles) != len(dedupe(names)) {
		return nil, apperr.E(apperr.BadRequest, "unknown role")
	}
	return roles, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func classify(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Wrap(apperr.Internal, op, err)
}

// SystemDirectory reads operators from the shared schema.
type SystemDirectory struct {
	db *gorm.DB
}

func NewSystemDirectory(db *gorm.DB) *SystemDirectory { return &SystemDirectory{db: db} }

func (d *SystemDirectory) find(ctx context.Context, query string, arg any) (*Account, error) {
	var u models.SystemUser
	err := d.db.WithContext(ctx).Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load system user: %w", err)
	}
	return &Account{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Status:       u.Status,
		Roles:        []string(u.Roles),
	}, nil
}

func (d *SystemDirectory) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return d.find(ctx, "username = ?", username)
}

func (d *SystemDirectory) FindByID(ctx context.Context, id string) (*Account, error) {
	return d.find(ctx, "id = ?", id)
}

func (d *SystemDirectory) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return d.db.WithContext(ctx).Model(&models.SystemUser{}).Where("id = ?", id).Update("last_login_at", at).Error
}

func (d *SystemDirectory) UpdatePassword(ctx context.Context, id, hash string) error {
	return d.db.WithContext(ctx).Model(&models.SystemUser{}).Where("id = ?", id).Update("password_hash", hash).Error
}

// EnsureSystemAdmin creates the bootstrap operator when no operator with
// username exists yet.
func (d *SystemDirectory) EnsureSystemAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := d.FindByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return false, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	u := models.SystemUser{
		Username:     username,
		PasswordHash: hash,
		Status:       models.AccountActive,
		Roles:        models.StringList{auth.RoleSuperAdmin},
	}
	if err := d.db.WithContext(ctx).Create(&u).Error; err != nil {
		return false, fmt.Errorf("create system admin: %w", err)
	}
	return true, nil
}
