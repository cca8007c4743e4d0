package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase  = errors.New("database handle is required")
	errMissingRecipient = errors.New("recipient identifier is required")
	noOpLogger          = zap.NewNop()
)

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Service owns the durable notification table and its push channel.
// A notification's lifecycle is created -> unread -> read; nothing here ever
// deletes a row.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notifications: %w", errMissingDatabase)
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
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
	}, nil
}

// EmitTx writes a notification row inside the caller's transaction. The actor
// name is denormalized at write time so later renames leave history intact.
// The caller publishes the returned notification after its transaction commits.
func (s *Service) EmitTx(tx *gorm.DB, recipientID, actorName string) (Notification, error) {
	if recipientID == "" {
		return Notification{}, fmt.Errorf("notifications: %w", errMissingRecipient)
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return Notification{}, err
	}
	notification := Notification{
		ID:        id,
		UserID:    recipientID,
		ActorName: actorName,
		CreatedAt: s.clock().UTC(),
		IsRead:    false,
	}
	if err := tx.Create(&notification).Error; err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// Publish pushes a committed notification to the recipient's live subscribers.
// With no dispatcher configured this is a no-op; the row stays recoverable
// through ListRecent either way.
func (s *Service) Publish(n Notification) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.Publish(n)
}

// Subscribe opens a per-recipient push stream on the configured dispatcher.
func (s *Service) Subscribe(ctx context.Context, userID string) (<-chan Notification, func()) {
	if s.dispatcher == nil {
		ch := make(chan Notification)
		close(ch)
		return ch, func() {}
	}
	return s.dispatcher.Subscribe(ctx, userID)
}

// MarkAllRead transitions every unread notification of the user to read.
// Calling it twice has the same effect as calling it once.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("notifications: %w", errMissingRecipient)
	}
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true).
		Error
	if err != nil {
		s.logger.Error("mark read failed", zap.String("user_id", userID), zap.Error(err))
	}
	return err
}

// ListRecent returns the user's notifications created at or after since,
// newest first. It backfills feed state for events missed while offline.
func (s *Service) ListRecent(ctx context.Context, userID string, since time.Time) ([]Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("notifications: %w", errMissingRecipient)
	}
	var rows []Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since.UTC()).
		Order("created_at DESC").
		Find(&rows).
		Error
	if err != nil {
		s.logger.Error("list recent failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}
	return rows, nil
}

// CountUnread returns the number of unread notifications, used by the header badge.
func (s *Service) CountUnread(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("notifications: %w", errMissingRecipient)
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).
		Error
	return count, err
}
