package sparks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sparks_test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to unwrap sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Spark{}, &Todo{}, &Attachment{}, &Tag{}, &SparkTag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   openTestDB(t),
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
		IDProvider: NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustSparkID(t *testing.T, value string) SparkID {
	t.Helper()
	id, err := NewSparkID(value)
	if err != nil {
		t.Fatalf("unexpected spark id error: %v", err)
	}
	return id
}

func createSpark(t *testing.T, service *Service, userID, title string) Spark {
	t.Helper()
	spark, err := service.CreateSpark(context.Background(), CreateSparkRequest{
		UserID:      mustUserID(t, userID),
		WorkspaceID: "w1",
		Title:       title,
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return spark
}

func TestCreateSparkDefaultsToSeedling(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "First idea")
	if spark.Stage != StageSeedling {
		t.Fatalf("expected seedling default, got %s", spark.Stage)
	}
	if spark.Level != 1 {
		t.Fatalf("expected level 1, got %d", spark.Level)
	}
	if spark.SparkID == "" {
		t.Fatal("expected a generated spark id")
	}
}

func TestCreateSparkRejectsEmptyTitle(t *testing.T) {
	service := newTestService(t)
	_, err := service.CreateSpark(context.Background(), CreateSparkRequest{
		UserID: mustUserID(t, "alice"),
		Title:  "   ",
	})
	if !errors.Is(err, ErrInvalidTitle) {
		t.Fatalf("expected ErrInvalidTitle, got %v", err)
	}
}

func TestGetSparkScopedToOwner(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Private idea")

	_, err := service.GetSpark(context.Background(), mustUserID(t, "bob"), mustSparkID(t, spark.SparkID))
	if !errors.Is(err, ErrSparkNotFound) {
		t.Fatalf("expected foreign spark to be invisible, got %v", err)
	}

	got, err := service.GetSpark(context.Background(), mustUserID(t, "alice"), mustSparkID(t, spark.SparkID))
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got.Title != "Private idea" {
		t.Fatalf("unexpected title: %s", got.Title)
	}
}

func TestUpdateSparkPartialFields(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Working title")

	newTitle := "Better title"
	stage := StageSapling
	updated, err := service.UpdateSpark(context.Background(), mustUserID(t, "alice"), mustSparkID(t, spark.SparkID), UpdateSparkRequest{
		Title: &newTitle,
		Stage: &stage,
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Title != "Better title" || updated.Stage != StageSapling {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Description != "" {
		t.Fatalf("untouched field changed: %q", updated.Description)
	}
}

func TestUpdateSparkRejectsUnknownStage(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Idea")
	bad := GrowthStage("bonsai")
	_, err := service.UpdateSpark(context.Background(), mustUserID(t, "alice"), mustSparkID(t, spark.SparkID), UpdateSparkRequest{Stage: &bad})
	if !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("expected ErrInvalidStage, got %v", err)
	}
}

func TestUpdatePositionPersistsDrag(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Movable idea")

	if err := service.UpdatePosition(context.Background(), mustUserID(t, "alice"), mustSparkID(t, spark.SparkID), 420.5, 87.25); err != nil {
		t.Fatalf("unexpected position error: %v", err)
	}
	got, err := service.GetSpark(context.Background(), mustUserID(t, "alice"), mustSparkID(t, spark.SparkID))
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if got.PositionX != 420.5 || got.PositionY != 87.25 {
		t.Fatalf("position not saved: (%v, %v)", got.PositionX, got.PositionY)
	}
}

func TestDeleteSparkRemovesDependents(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Doomed idea")
	owner := mustUserID(t, "alice")
	id := mustSparkID(t, spark.SparkID)

	if _, err := service.AddTodo(context.Background(), owner, id, "step one"); err != nil {
		t.Fatalf("unexpected todo error: %v", err)
	}
	if err := service.DeleteSpark(context.Background(), owner, id); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	if _, err := service.GetSpark(context.Background(), owner, id); !errors.Is(err, ErrSparkNotFound) {
		t.Fatalf("expected deleted spark to be gone, got %v", err)
	}
	listed, err := service.ListSparks(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("deleted spark still listed: %d", len(listed))
	}
}

func TestTodoLifecycle(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Idea with steps")
	owner := mustUserID(t, "alice")
	id := mustSparkID(t, spark.SparkID)

	first, err := service.AddTodo(context.Background(), owner, id, "sketch it")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	second, err := service.AddTodo(context.Background(), owner, id, "build it")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if first.Position != 0 || second.Position != 1 {
		t.Fatalf("positions not sequential: %d, %d", first.Position, second.Position)
	}

	toggled, err := service.ToggleTodo(context.Background(), owner, id, first.TodoID)
	if err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if !toggled.Completed {
		t.Fatal("expected todo to be completed after toggle")
	}

	if err := service.DeleteTodo(context.Background(), owner, id, second.TodoID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := service.DeleteTodo(context.Background(), owner, id, second.TodoID); err == nil {
		t.Fatal("expected deleting a missing todo to error")
	}
}

func TestTagAssignmentIsIdempotent(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Tagged idea")
	owner := mustUserID(t, "alice")
	id := mustSparkID(t, spark.SparkID)

	tag, err := service.CreateTag(context.Background(), owner, "urgent", "#ff0000")
	if err != nil {
		t.Fatalf("unexpected tag error: %v", err)
	}
	if err := service.AssignTag(context.Background(), owner, id, tag.TagID); err != nil {
		t.Fatalf("unexpected assign error: %v", err)
	}
	if err := service.AssignTag(context.Background(), owner, id, tag.TagID); err != nil {
		t.Fatalf("repeated assign must be a no-op, got %v", err)
	}

	got, err := service.GetSpark(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "urgent" {
		t.Fatalf("unexpected tags: %+v", got.Tags)
	}

	if err := service.UnassignTag(context.Background(), owner, id, tag.TagID); err != nil {
		t.Fatalf("unexpected unassign error: %v", err)
	}
	if err := service.UnassignTag(context.Background(), owner, id, tag.TagID); err != nil {
		t.Fatalf("unassigning an absent link must be a no-op, got %v", err)
	}
}

func TestAttachmentLifecycle(t *testing.T) {
	service := newTestService(t)
	spark := createSpark(t, service, "alice", "Documented idea")
	owner := mustUserID(t, "alice")
	id := mustSparkID(t, spark.SparkID)

	attachment, err := service.AddAttachment(context.Background(), owner, id, AttachmentRequest{
		Filename:    "sketch.png",
		URL:         "/uploads/sketch.png",
		ContentType: "image/png",
		SizeBytes:   2048,
	})
	if err != nil {
		t.Fatalf("unexpected attachment error: %v", err)
	}
	if err := service.RemoveAttachment(context.Background(), owner, id, attachment.AttachmentID); err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if err := service.RemoveAttachment(context.Background(), owner, id, attachment.AttachmentID); err == nil {
		t.Fatal("expected removing a missing attachment to error")
	}
}
