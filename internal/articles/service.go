package articles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/versuslab/versus/backend/internal/storage"
)

var (
	// ErrNotAuthorized indicates the actor does not carry the admin role.
	ErrNotAuthorized = errors.New("articles: not authorized")
	// ErrArticleNotFound indicates the requested article does not exist.
	ErrArticleNotFound = errors.New("articles: article not found")
	// ErrMissingTitle indicates an upsert without a title.
	ErrMissingTitle = errors.New("articles: title is required")
)

// RoleChecker answers whether an actor may manage articles.
type RoleChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// ServiceConfig describes the dependencies of the article service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Roles    RoleChecker
	Store    storage.ObjectStore
	Logger   *zap.Logger
}

// Service owns blog articles: public reads, admin-gated writes, and the
// lifecycle of each article's header image in object storage.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	roles  RoleChecker
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewService constructs the article service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("articles: database connection required")
	}
	if cfg.Roles == nil {
		return nil, fmt.Errorf("articles: role checker required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		roles:  cfg.Roles,
		store:  cfg.Store,
		logger: logger,
	}, nil
}

// List returns all articles, newest first.
func (s *Service) List(ctx context.Context) ([]Article, error) {
	var rows []Article
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		s.logger.Error("article list failed", zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// Get returns the article with the supplied identifier.
func (s *Service) Get(ctx context.Context, id string) (Article, error) {
	var article Article
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Article{}, ErrArticleNotFound
	}
	if err != nil {
		return Article{}, err
	}
	return article, nil
}

// ImageUpload carries a new header image for an article.
type ImageUpload struct {
	FileName string
	Reader   io.Reader
}

// UpsertRequest describes an article create (empty ID) or update.
type UpsertRequest struct {
	ID          string
	Title       string
	Excerpt     string
	Content     string
	Image       *ImageUpload
	RemoveImage bool
}

// Upsert creates or updates an article. Admin only. A replaced or removed
// header image is deleted from object storage after the row change succeeds.
func (s *Service) Upsert(ctx context.Context, actorID string, req UpsertRequest) (Article, error) {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return Article{}, err
	}
	if req.Title == "" {
		return Article{}, ErrMissingTitle
	}

	var article Article
	if req.ID != "" {
		existing, err := s.Get(ctx, req.ID)
		if err != nil {
			return Article{}, err
		}
		article = existing
	} else {
		id, err := uuid.NewV7()
		if err != nil {
			return Article{}, err
		}
		article = Article{
			ID:        id.String(),
			AuthorID:  actorID,
			CreatedAt: s.clock().UTC(),
		}
	}

	previousImage := article.ImagePath
	if req.RemoveImage {
		article.ImagePath = ""
	}
	if req.Image != nil {
		newPath := objectPath(actorID, s.clock(), req.Image.FileName)
		if s.store == nil {
			return Article{}, fmt.Errorf("articles: object store not configured")
		}
		if err := s.store.Save(newPath, req.Image.Reader); err != nil {
			return Article{}, err
		}
		article.ImagePath = newPath
	}

	article.Title = req.Title
	article.Excerpt = req.Excerpt
	article.Content = req.Content
	article.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(&article).Error; err != nil {
		// The row change lost; a freshly uploaded image would be orphaned.
		if req.Image != nil && s.store != nil {
			_ = s.store.Remove(article.ImagePath)
		}
		s.logger.Error("article save failed", zap.String("article_id", article.ID), zap.Error(err))
		return Article{}, err
	}

	if previousImage != "" && previousImage != article.ImagePath && s.store != nil {
		if err := s.store.Remove(previousImage); err != nil {
			s.logger.Warn("stale article image not removed",
				zap.String("path", previousImage), zap.Error(err))
		}
	}
	return article, nil
}

// Delete removes an article and its stored image. Admin only.
func (s *Service) Delete(ctx context.Context, actorID, articleID string) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	article, err := s.Get(ctx, articleID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&Article{}, "id = ?", articleID).Error; err != nil {
		s.logger.Error("article delete failed", zap.String("article_id", articleID), zap.Error(err))
		return err
	}
	if article.ImagePath != "" && s.store != nil {
		if err := s.store.Remove(article.ImagePath); err != nil {
			s.logger.Warn("article image not removed",
				zap.String("path", article.ImagePath), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID string) error {
	isAdmin, err := s.roles.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return ErrNotAuthorized
	}
	return nil
}

func objectPath(ownerID string, now time.Time, fileName string) string {
	return fmt.Sprintf("%s/%d_%s", ownerID, now.UnixNano(), fileName)
}
