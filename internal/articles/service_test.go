package articles

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticRoles struct {
	admins map[string]bool
}

func (r *staticRoles) IsAdmin(_ context.Context, userID string) (bool, error) {
	return r.admins[userID], nil
}

type memoryStore struct {
	objects map[string][]byte
	removed []string
	saveErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Save(name string, r io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[name] = data
	return nil
}

func (s *memoryStore) Remove(name string) error {
	delete(s.objects, name)
	s.removed = append(s.removed, name)
	return nil
}

func (s *memoryStore) PublicURL(name string) string {
	return "/media/" + name
}

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
	if err := db.AutoMigrate(&Article{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, store *memoryStore, clock func() time.Time) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database: db,
		Roles:    &staticRoles{admins: map[string]bool{"admin": true}},
		Store:    store,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return service
}

func TestUpsertRequiresAdmin(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, newMemoryStore(), nil)

	_, err := service.Upsert(context.Background(), "regular-user", UpsertRequest{Title: "Hello"})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := service.Delete(context.Background(), "regular-user", "any"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestUpsertCreatesArticle(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, newMemoryStore(), nil)

	created, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		Title:   "First Post",
		Excerpt: "A short summary.",
		Content: "# Heading\n\nBody text.",
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated article id")
	}
	if created.AuthorID != "admin" {
		t.Fatalf("expected author to be the actor, got %q", created.AuthorID)
	}

	fetched, err := service.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if fetched.Content != created.Content {
		t.Fatalf("expected raw content to round-trip, got %q", fetched.Content)
	}
}

func TestUpsertRequiresTitle(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, newMemoryStore(), nil)

	if _, err := service.Upsert(context.Background(), "admin", UpsertRequest{}); !errors.Is(err, ErrMissingTitle) {
		t.Fatalf("expected ErrMissingTitle, got %v", err)
	}
}

func TestUpsertReplacesImageAndRemovesStale(t *testing.T) {
	db := openTestDatabase(t)
	store := newMemoryStore()
	service := newTestService(t, db, store, nil)

	created, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		Title: "With Image",
		Image: &ImageUpload{FileName: "first.png", Reader: strings.NewReader("first-bytes")},
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if created.ImagePath == "" {
		t.Fatalf("expected stored image path")
	}
	if _, ok := store.objects[created.ImagePath]; !ok {
		t.Fatalf("expected image object %q to exist", created.ImagePath)
	}

	updated, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		ID:    created.ID,
		Title: "With Image",
		Image: &ImageUpload{FileName: "second.png", Reader: strings.NewReader("second-bytes")},
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if updated.ImagePath == created.ImagePath {
		t.Fatalf("expected a new image path")
	}
	if _, ok := store.objects[created.ImagePath]; ok {
		t.Fatalf("expected the replaced image to be removed")
	}
	if _, ok := store.objects[updated.ImagePath]; !ok {
		t.Fatalf("expected the new image object to exist")
	}
}

func TestUpsertRemoveImageFlag(t *testing.T) {
	db := openTestDatabase(t)
	store := newMemoryStore()
	service := newTestService(t, db, store, nil)

	created, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		Title: "With Image",
		Image: &ImageUpload{FileName: "header.png", Reader: strings.NewReader("bytes")},
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	updated, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		ID:          created.ID,
		Title:       "With Image",
		RemoveImage: true,
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	if updated.ImagePath != "" {
		t.Fatalf("expected image path cleared, got %q", updated.ImagePath)
	}
	if _, ok := store.objects[created.ImagePath]; ok {
		t.Fatalf("expected the removed image object to be deleted")
	}
}

func TestDeleteRemovesArticleAndImage(t *testing.T) {
	db := openTestDatabase(t)
	store := newMemoryStore()
	service := newTestService(t, db, store, nil)

	created, err := service.Upsert(context.Background(), "admin", UpsertRequest{
		Title: "Doomed",
		Image: &ImageUpload{FileName: "header.png", Reader: strings.NewReader("bytes")},
	})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	if err := service.Delete(context.Background(), "admin", created.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.Get(context.Background(), created.ID); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
	if _, ok := store.objects[created.ImagePath]; ok {
		t.Fatalf("expected the article image to be deleted")
	}
}

func TestDeleteMissingArticle(t *testing.T) {
	db := openTestDatabase(t)
	service := newTestService(t, db, newMemoryStore(), nil)

	if err := service.Delete(context.Background(), "admin", "missing"); !errors.Is(err, ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestListReturnsNewestFirst(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Unix(1700000000, 0).UTC()
	current := base
	service := newTestService(t, db, newMemoryStore(), func() time.Time { return current })

	older, err := service.Upsert(context.Background(), "admin", UpsertRequest{Title: "Older"})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}
	current = base.Add(time.Hour)
	newer, err := service.Upsert(context.Background(), "admin", UpsertRequest{Title: "Newer"})
	if err != nil {
		t.Fatalf("unexpected upsert error: %v", err)
	}

	rows, err := service.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two articles, got %d", len(rows))
	}
	if rows[0].ID != newer.ID || rows[1].ID != older.ID {
		t.Fatalf("expected newest-first ordering, got %s then %s", rows[0].ID, rows[1].ID)
	}
}
