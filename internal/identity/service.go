package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/versuslab/versus/backend/internal/auth"
)

var (
	// ErrEmailTaken indicates another profile is already registered with the email.
	ErrEmailTaken = errors.New("identity: email already registered")
	// ErrInvalidCredentials indicates the email/password pair did not match.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrProfileNotFound indicates the requested profile does not exist.
	ErrProfileNotFound = errors.New("identity: profile not found")
	// ErrInvalidInput indicates an empty or oversized field.
	ErrInvalidInput = errors.New("identity: invalid input")
)

const maxIdentifierLength = 190

// ServiceConfig describes the dependencies required by the identity provider.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the injected identity provider: it owns profile creation,
// credential checks, and profile mutation. It is never a process-wide
// singleton so tests can substitute a fresh instance per case.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Register creates a new profile for the supplied credentials.
func (s *Service) Register(ctx context.Context, name, email, password string) (Profile, error) {
	name = normalize(name)
	email = normalize(email)
	if name == "" || email == "" || len(name) > maxIdentifierLength {
		return Profile{}, ErrInvalidInput
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Profile{}, err
	}

	profile := Profile{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		CreatedAt:    s.now().UTC(),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Profile{}, ErrEmailTaken
		}
		s.logger.Error("profile insert failed", zap.Error(err))
		return Profile{}, err
	}
	return profile, nil
}

// Authenticate verifies the email/password pair and returns the profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("email = ?", normalize(email)).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrInvalidCredentials
	}
	if err != nil {
		return Profile{}, err
	}
	if !auth.VerifyPassword(profile.PasswordHash, password) {
		return Profile{}, ErrInvalidCredentials
	}
	return profile, nil
}

// Lookup returns the profile with the supplied identifier.
func (s *Service) Lookup(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// IsAdmin reports whether the profile carries the admin role.
func (s *Service) IsAdmin(ctx context.Context, id string) (bool, error) {
	profile, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return profile.IsAdmin(), nil
}

// UpdateName changes the profile's display name. Notifications written before
// the change keep the old name: the actor name is denormalized at vote time.
func (s *Service) UpdateName(ctx context.Context, id, name string) error {
	name = normalize(name)
	if name == "" || len(name) > maxIdentifierLength {
		return ErrInvalidInput
	}
	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"name": name, "updated_at": s.now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// UpdateAvatar stores the new avatar object path and returns the path it
// replaced so the caller can remove the orphaned object from storage.
func (s *Service) UpdateAvatar(ctx context.Context, id, path string) (string, error) {
	return s.swapAvatarPath(ctx, id, path)
}

// ClearAvatar removes the avatar reference and returns the prior path.
func (s *Service) ClearAvatar(ctx context.Context, id string) (string, error) {
	return s.swapAvatarPath(ctx, id, "")
}

func (s *Service) swapAvatarPath(ctx context.Context, id, path string) (string, error) {
	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile Profile
		err := tx.Where("id = ?", id).Take(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		if err != nil {
			return err
		}
		previous = profile.AvatarPath
		return tx.Model(&Profile{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"avatar_path": path, "updated_at": s.now().UTC()}).
			Error
	})
	if err != nil {
		return "", err
	}
	return previous, nil
}

// ChangePassword replaces the stored password hash.
func (s *Service) ChangePassword(ctx context.Context, id, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	result := s.db.WithContext(ctx).Model(&Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"password_hash": hash, "updated_at": s.now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Delete removes the profile and cascades its ledger and notification rows.
// Targets of the departing voter lose the corresponding aggregate count so the
// votes column stays equal to the surviving ledger rows.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile Profile
		err := tx.Where("id = ?", id).Take(&profile).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProfileNotFound
		}
		if err != nil {
			return err
		}

		// Each (voter, target) pair is unique, so one decrement per target.
		if err := tx.Exec(
			"UPDATE profiles SET votes = votes - 1 WHERE id IN (SELECT voted_for_id FROM votes WHERE voter_id = ?)",
			id,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM votes WHERE voter_id = ? OR voted_for_id = ?", id, id).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM notifications WHERE user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Profile{}, "id = ?", id).Error
	})
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		s.logger.Error("profile delete failed", zap.String("profile_id", id), zap.Error(err))
	}
	return err
}
