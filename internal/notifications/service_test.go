package notifications

import (
	"context"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, dispatcher *Dispatcher, clock func() time.Time) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Dispatcher: dispatcher,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func emit(t *testing.T, service *Service, db *gorm.DB, recipientID, actorName string) Notification {
	t.Helper()
	var created Notification
	err := db.Transaction(func(tx *gorm.DB) error {
		var emitErr error
		created, emitErr = service.EmitTx(tx, recipientID, actorName)
		return emitErr
	})
	if err != nil {
		t.Fatalf("unexpected emit error: %v", err)
	}
	return created
}

func TestEmitTxPersistsUnreadRow(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, func() time.Time { return time.Unix(1700000000, 0).UTC() })

	created := emit(t, service, db, "bob", "Alice")
	if created.ID == "" {
		t.Fatalf("expected generated notification id")
	}
	if created.Message() != "Alice voted for you!" {
		t.Fatalf("unexpected message %q", created.Message())
	}

	var stored Notification
	if err := db.Where("id = ?", created.ID).Take(&stored).Error; err != nil {
		t.Fatalf("expected stored row: %v", err)
	}
	if stored.IsRead {
		t.Fatalf("expected new notification to be unread")
	}
	if stored.ActorName != "Alice" {
		t.Fatalf("expected denormalized actor name, got %q", stored.ActorName)
	}
}

func TestMarkAllReadIsIdempotent(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, nil, nil)

	emit(t, service, db, "bob", "Alice")
	emit(t, service, db, "bob", "Carol")
	emit(t, service, db, "other", "Alice")

	count, err := service.CountUnread(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected two unread notifications, got %d", count)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if err := service.MarkAllRead(context.Background(), "bob"); err != nil {
			t.Fatalf("unexpected mark read error on attempt %d: %v", attempt, err)
		}
	}

	count, err = service.CountUnread(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no unread notifications, got %d", count)
	}

	// Other recipients are untouched.
	count, err = service.CountUnread(context.Background(), "other")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the other recipient to stay unread, got %d", count)
	}
}

func TestListRecentFiltersAndOrders(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Unix(1700000000, 0).UTC()
	current := base
	service := newTestService(t, db, nil, func() time.Time { return current })

	current = base
	old := emit(t, service, db, "bob", "Old")
	current = base.Add(5 * time.Minute)
	middle := emit(t, service, db, "bob", "Middle")
	current = base.Add(10 * time.Minute)
	newest := emit(t, service, db, "bob", "Newest")

	rows, err := service.ListRecent(context.Background(), "bob", base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two rows at or after the cutoff, got %d", len(rows))
	}
	if rows[0].ID != newest.ID || rows[1].ID != middle.ID {
		t.Fatalf("expected newest-first ordering, got %s then %s", rows[0].ID, rows[1].ID)
	}

	rows, err = service.ListRecent(context.Background(), "bob", base)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected the cutoff to be inclusive, got %d rows", len(rows))
	}
	if rows[2].ID != old.ID {
		t.Fatalf("expected the oldest row last, got %s", rows[2].ID)
	}
}

func TestMarkAllReadKeepsRowsListable(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Unix(1700000000, 0).UTC()
	service := newTestService(t, db, nil, func() time.Time { return base })

	created := emit(t, service, db, "bob", "Alice")
	if err := service.MarkAllRead(context.Background(), "bob"); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}

	rows, err := service.ListRecent(context.Background(), "bob", base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != created.ID {
		t.Fatalf("expected the read row to remain listable, got %d rows", len(rows))
	}
	if !rows[0].IsRead {
		t.Fatalf("expected the row to be marked read")
	}
}
