package votes

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/versuslab/versus/backend/internal/identity"
	"github.com/versuslab/versus/backend/internal/notifications"
	"github.com/versuslab/versus/backend/internal/storage"
)

var (
	// ErrSelfVote indicates an attempt to vote for one's own profile.
	ErrSelfVote = errors.New("votes: cannot vote for yourself")
	// ErrDuplicateVote indicates this voter already voted for this target.
	// The ledger is append-only; repeats are rejected, not upserted.
	ErrDuplicateVote = errors.New("votes: already voted for this profile")
	// ErrInsufficientCandidates is the valid empty state when fewer than two
	// other profiles exist. It is not a failure.
	ErrInsufficientCandidates = errors.New("votes: not enough other profiles to start a vote")
	// ErrUnknownProfile indicates the vote target does not exist.
	ErrUnknownProfile = errors.New("votes: profile not found")

	errMissingDatabase      = errors.New("database handle is required")
	errMissingNotifications = errors.New("notification service is required")
	noOpLogger              = zap.NewNop()
)

const (
	opRecordVote  = "votes.record_vote"
	opSelectPair  = "votes.select_pair"
	opLeaderboard = "votes.leaderboard"

	leaderboardCacheKey = "leaderboard"
	defaultCacheTTL     = 30 * time.Second
)

// ServiceError carries an operation.reason code together with its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the voting service.
type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	Notifications *notifications.Service
	Media         storage.URLResolver
	Logger        *zap.Logger
	RandomIndex   func(n int) int
	CacheTTL      time.Duration
}

// Service implements pairing selection, the vote recorder with its aggregate
// counter, and the leaderboard read path.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	notifications *notifications.Service
	media         storage.URLResolver
	logger        *zap.Logger
	randomIndex   func(n int) int
	cache         *gocache.Cache
}

// NewService constructs the voting service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opRecordVote, "missing_database", errMissingDatabase)
	}
	if cfg.Notifications == nil {
		return nil, newServiceError(opRecordVote, "missing_notifications", errMissingNotifications)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	randomIndex := cfg.RandomIndex
	if randomIndex == nil {
		randomIndex = rand.Intn
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		db:            cfg.Database,
		clock:         clock,
		notifications: cfg.Notifications,
		media:         cfg.Media,
		logger:        logger,
		randomIndex:   randomIndex,
		cache:         gocache.New(ttl, 2*ttl),
	}, nil
}

// SelectPair draws two distinct profiles uniformly at random, excluding the
// caller. Pure read; no ordering guarantee between the two returned cards.
func (s *Service) SelectPair(ctx context.Context, excludeID string) (ProfileCard, ProfileCard, error) {
	var candidates []identity.Profile
	err := s.db.WithContext(ctx).
		Where("id <> ?", excludeID).
		Find(&candidates).
		Error
	if err != nil {
		s.logError(opSelectPair, "query_failed", err, zap.String("exclude_id", excludeID))
		return ProfileCard{}, ProfileCard{}, newServiceError(opSelectPair, "query_failed", err)
	}
	if len(candidates) < 2 {
		return ProfileCard{}, ProfileCard{}, ErrInsufficientCandidates
	}

	first := s.randomIndex(len(candidates))
	second := s.randomIndex(len(candidates))
	for second == first {
		second = s.randomIndex(len(candidates))
	}

	return s.card(candidates[first]), s.card(candidates[second]), nil
}

// RecordVote appends a vote to the ledger. The ledger insert, the aggregate
// increment, and the notification row share one transaction: a vote is never
// recorded without its side effects and vice versa. After commit the
// notification is pushed to the target's live subscribers and the leaderboard
// cache is invalidated.
func (s *Service) RecordVote(ctx context.Context, voterID, votedForID string) error {
	if voterID == votedForID {
		return ErrSelfVote
	}

	var created notifications.Notification
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var voter identity.Profile
		err := tx.Select("id", "name").Where("id = ?", voterID).Take(&voter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnknownProfile
		}
		if err != nil {
			return newServiceError(opRecordVote, "voter_select_failed", err)
		}

		vote := Vote{
			VoterID:    voterID,
			VotedForID: votedForID,
			CreatedAt:  s.clock().UTC(),
		}
		if err := tx.Create(&vote).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateVote
			}
			return newServiceError(opRecordVote, "vote_insert_failed", err)
		}

		// Atomic increment in the store; never read-modify-write here.
		result := tx.Model(&identity.Profile{}).
			Where("id = ?", votedForID).
			UpdateColumn("votes", gorm.Expr("votes + ?", 1))
		if result.Error != nil {
			return newServiceError(opRecordVote, "count_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrUnknownProfile
		}

		created, err = s.notifications.EmitTx(tx, votedForID, voter.Name)
		if err != nil {
			return newServiceError(opRecordVote, "notification_insert_failed", err)
		}
		return nil
	})

	if txErr != nil {
		switch {
		case errors.Is(txErr, ErrSelfVote), errors.Is(txErr, ErrDuplicateVote), errors.Is(txErr, ErrUnknownProfile):
			return txErr
		default:
			s.logError(opRecordVote, "transaction_failed", txErr,
				zap.String("voter_id", voterID),
				zap.String("voted_for_id", votedForID))
			return txErr
		}
	}

	s.cache.Delete(leaderboardCacheKey)
	s.notifications.Publish(created)
	return nil
}

// Leaderboard returns all profiles ranked by vote count, served from a short
// lived cache that RecordVote invalidates on every successful vote.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	if cached, ok := s.cache.Get(leaderboardCacheKey); ok {
		entries, ok := cached.([]LeaderboardEntry)
		if ok {
			return entries, nil
		}
	}

	var profiles []identity.Profile
	err := s.db.WithContext(ctx).
		Order("votes DESC, name ASC").
		Find(&profiles).
		Error
	if err != nil {
		s.logError(opLeaderboard, "query_failed", err)
		return nil, newServiceError(opLeaderboard, "query_failed", err)
	}

	entries := make([]LeaderboardEntry, 0, len(profiles))
	for index, profile := range profiles {
		entries = append(entries, LeaderboardEntry{
			Rank:      index + 1,
			ID:        profile.ID,
			Name:      profile.Name,
			AvatarURL: s.avatarURL(profile.AvatarPath),
			Votes:     profile.Votes,
		})
	}
	s.cache.SetDefault(leaderboardCacheKey, entries)
	return entries, nil
}

func (s *Service) card(profile identity.Profile) ProfileCard {
	return ProfileCard{
		ID:        profile.ID,
		Name:      profile.Name,
		AvatarURL: s.avatarURL(profile.AvatarPath),
		Votes:     profile.Votes,
	}
}

func (s *Service) avatarURL(path string) string {
	if path == "" || s.media == nil {
		return ""
	}
	return s.media.PublicURL(path)
}

// isDuplicateKey covers both gorm's translated error and the raw sqlite
// constraint text for drivers that do not translate.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("votes service error", attrs...)
}
