package sparks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrSparkNotFound indicates the spark does not exist or belongs to
	// another user.
	ErrSparkNotFound = errors.New("sparks: spark not found")
	// ErrTodoNotFound indicates the todo does not exist under the spark.
	ErrTodoNotFound = errors.New("sparks: todo not found")
	// ErrTagNotFound indicates the tag does not exist for the user.
	ErrTagNotFound = errors.New("sparks: tag not found")
)

// ServiceError wraps a failure with an operation.reason code.
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

// Code returns the structured error code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew       = "sparks.service.new"
	opCreateSpark      = "sparks.create"
	opGetSpark         = "sparks.get"
	opListSparks       = "sparks.list"
	opUpdateSpark      = "sparks.update"
	opUpdatePosition   = "sparks.update_position"
	opDeleteSpark      = "sparks.delete"
	opAddTodo          = "sparks.todo.add"
	opToggleTodo       = "sparks.todo.toggle"
	opDeleteTodo       = "sparks.todo.delete"
	opAddAttachment    = "sparks.attachment.add"
	opRemoveAttachment = "sparks.attachment.remove"
	opCreateTag        = "sparks.tag.create"
	opAssignTag        = "sparks.tag.assign"
	opUnassignTag      = "sparks.tag.unassign"
	opListTags         = "sparks.tag.list"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the spark store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the persistent store for sparks, todos, attachments, and tags.
// Every query is scoped by user id; a spark owned by someone else is
// indistinguishable from a missing one.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the spark store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateSparkRequest carries the client-supplied fields for a new spark.
type CreateSparkRequest struct {
	UserID      UserID
	WorkspaceID string
	Title       string
	Description string
	Content     string
	Stage       GrowthStage
	PositionX   float64
	PositionY   float64
}

// CreateSpark inserts a new spark owned by the requesting user.
func (s *Service) CreateSpark(ctx context.Context, req CreateSparkRequest) (Spark, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return Spark{}, newServiceError(opCreateSpark, "missing_title", ErrInvalidTitle)
	}
	stage := req.Stage
	if stage == "" {
		stage = StageSeedling
	}
	sparkID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateSpark, "id_generation_failed", err)
		return Spark{}, newServiceError(opCreateSpark, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	spark := Spark{
		SparkID:     sparkID,
		UserID:      req.UserID.String(),
		WorkspaceID: strings.TrimSpace(req.WorkspaceID),
		Title:       title,
		Description: req.Description,
		Content:     req.Content,
		Stage:       stage,
		PositionX:   req.PositionX,
		PositionY:   req.PositionY,
		Level:       1,
		CreatedAtS:  now,
		UpdatedAtS:  now,
	}
	if err := s.db.WithContext(ctx).Create(&spark).Error; err != nil {
		s.logError(opCreateSpark, "insert_failed", err, zap.String("user_id", spark.UserID))
		return Spark{}, newServiceError(opCreateSpark, "insert_failed", err)
	}
	return spark, nil
}

// GetSpark loads one spark with its todos, attachments, and tags.
func (s *Service) GetSpark(ctx context.Context, userID UserID, sparkID SparkID) (Spark, error) {
	var spark Spark
	err := s.db.WithContext(ctx).
		Preload("Todos", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Attachments").
		Preload("Tags").
		Where("user_id = ? AND spark_id = ? AND is_deleted = ?", userID.String(), sparkID.String(), false).
		Take(&spark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Spark{}, newServiceError(opGetSpark, "not_found", ErrSparkNotFound)
	}
	if err != nil {
		s.logError(opGetSpark, "query_failed", err, zap.String("spark_id", sparkID.String()))
		return Spark{}, newServiceError(opGetSpark, "query_failed", err)
	}
	return spark, nil
}

// ListSparks returns the user's live sparks, optionally filtered by
// workspace, most recently updated first.
func (s *Service) ListSparks(ctx context.Context, userID UserID, workspaceID string) ([]Spark, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND is_deleted = ?", userID.String(), false).
		Order("updated_at_s DESC")
	if workspaceID = strings.TrimSpace(workspaceID); workspaceID != "" {
		query = query.Where("workspace_id = ?", workspaceID)
	}
	var result []Spark
	if err := query.Find(&result).Error; err != nil {
		s.logError(opListSparks, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListSparks, "query_failed", err)
	}
	return result, nil
}

// UpdateSparkRequest carries partial updates; nil fields are left untouched.
type UpdateSparkRequest struct {
	Title       *string
	Description *string
	Content     *string
	Stage       *GrowthStage
}

// UpdateSpark applies a partial update to an owned spark.
func (s *Service) UpdateSpark(ctx context.Context, userID UserID, sparkID SparkID, req UpdateSparkRequest) (Spark, error) {
	updates := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return Spark{}, newServiceError(opUpdateSpark, "missing_title", ErrInvalidTitle)
		}
		updates["title"] = title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Content != nil {
		updates["content"] = *req.Content
	}
	if req.Stage != nil {
		if _, err := ParseStage(string(*req.Stage)); err != nil {
			return Spark{}, newServiceError(opUpdateSpark, "invalid_stage", err)
		}
		updates["stage"] = *req.Stage
	}
	if len(updates) == 0 {
		return s.GetSpark(ctx, userID, sparkID)
	}
	updates["updated_at_s"] = s.clock().UTC().Unix()

	tx := s.db.WithContext(ctx).Model(&Spark{}).
		Where("user_id = ? AND spark_id = ? AND is_deleted = ?", userID.String(), sparkID.String(), false).
		Updates(updates)
	if tx.Error != nil {
		s.logError(opUpdateSpark, "update_failed", tx.Error, zap.String("spark_id", sparkID.String()))
		return Spark{}, newServiceError(opUpdateSpark, "update_failed", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return Spark{}, newServiceError(opUpdateSpark, "not_found", ErrSparkNotFound)
	}
	return s.GetSpark(ctx, userID, sparkID)
}

// UpdatePosition persists a canvas drag.
func (s *Service) UpdatePosition(ctx context.Context, userID UserID, sparkID SparkID, x, y float64) error {
	tx := s.db.WithContext(ctx).Model(&Spark{}).
		Where("user_id = ? AND spark_id = ? AND is_deleted = ?", userID.String(), sparkID.String(), false).
		Updates(map[string]interface{}{
			"position_x":   x,
			"position_y":   y,
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if tx.Error != nil {
		s.logError(opUpdatePosition, "update_failed", tx.Error, zap.String("spark_id", sparkID.String()))
		return newServiceError(opUpdatePosition, "update_failed", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return newServiceError(opUpdatePosition, "not_found", ErrSparkNotFound)
	}
	return nil
}

// DeleteSpark soft-deletes a spark and removes its dependents in one
// transaction.
func (s *Service) DeleteSpark(ctx context.Context, userID UserID, sparkID SparkID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Spark{}).
			Where("user_id = ? AND spark_id = ? AND is_deleted = ?", userID.String(), sparkID.String(), false).
			Updates(map[string]interface{}{
				"is_deleted":   true,
				"updated_at_s": s.clock().UTC().Unix(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSparkNotFound
		}
		if err := tx.Where("spark_id = ?", sparkID.String()).Delete(&Todo{}).Error; err != nil {
			return err
		}
		if err := tx.Where("spark_id = ?", sparkID.String()).Delete(&Attachment{}).Error; err != nil {
			return err
		}
		return tx.Where("spark_id = ?", sparkID.String()).Delete(&SparkTag{}).Error
	})
	if errors.Is(err, ErrSparkNotFound) {
		return newServiceError(opDeleteSpark, "not_found", ErrSparkNotFound)
	}
	if err != nil {
		s.logError(opDeleteSpark, "delete_failed", err, zap.String("spark_id", sparkID.String()))
		return newServiceError(opDeleteSpark, "delete_failed", err)
	}
	return nil
}

// AddTodo appends a checklist entry to an owned spark.
func (s *Service) AddTodo(ctx context.Context, userID UserID, sparkID SparkID, title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Todo{}, newServiceError(opAddTodo, "missing_title", ErrInvalidTitle)
	}
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return Todo{}, newServiceError(opAddTodo, "spark_not_found", ErrSparkNotFound)
	}
	todoID, err := s.idProvider.NewID()
	if err != nil {
		return Todo{}, newServiceError(opAddTodo, "id_generation_failed", err)
	}

	var position int64
	if err := s.db.WithContext(ctx).Model(&Todo{}).
		Where("spark_id = ?", sparkID.String()).
		Count(&position).Error; err != nil {
		return Todo{}, newServiceError(opAddTodo, "count_failed", err)
	}

	now := s.clock().UTC().Unix()
	todo := Todo{
		TodoID:     todoID,
		SparkID:    sparkID.String(),
		Title:      title,
		Position:   int(position),
		CreatedAtS: now,
		UpdatedAtS: now,
	}
	if err := s.db.WithContext(ctx).Create(&todo).Error; err != nil {
		s.logError(opAddTodo, "insert_failed", err, zap.String("spark_id", sparkID.String()))
		return Todo{}, newServiceError(opAddTodo, "insert_failed", err)
	}
	return todo, nil
}

// ToggleTodo flips a todo's completion bit.
func (s *Service) ToggleTodo(ctx context.Context, userID UserID, sparkID SparkID, todoID string) (Todo, error) {
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return Todo{}, newServiceError(opToggleTodo, "spark_not_found", ErrSparkNotFound)
	}
	var todo Todo
	err := s.db.WithContext(ctx).
		Where("spark_id = ? AND todo_id = ?", sparkID.String(), todoID).
		Take(&todo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Todo{}, newServiceError(opToggleTodo, "not_found", ErrTodoNotFound)
	}
	if err != nil {
		return Todo{}, newServiceError(opToggleTodo, "query_failed", err)
	}
	todo.Completed = !todo.Completed
	todo.UpdatedAtS = s.clock().UTC().Unix()
	if err := s.db.WithContext(ctx).Save(&todo).Error; err != nil {
		s.logError(opToggleTodo, "update_failed", err, zap.String("todo_id", todoID))
		return Todo{}, newServiceError(opToggleTodo, "update_failed", err)
	}
	return todo, nil
}

// DeleteTodo removes a checklist entry.
func (s *Service) DeleteTodo(ctx context.Context, userID UserID, sparkID SparkID, todoID string) error {
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return newServiceError(opDeleteTodo, "spark_not_found", ErrSparkNotFound)
	}
	tx := s.db.WithContext(ctx).
		Where("spark_id = ? AND todo_id = ?", sparkID.String(), todoID).
		Delete(&Todo{})
	if tx.Error != nil {
		s.logError(opDeleteTodo, "delete_failed", tx.Error, zap.String("todo_id", todoID))
		return newServiceError(opDeleteTodo, "delete_failed", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return newServiceError(opDeleteTodo, "not_found", ErrTodoNotFound)
	}
	return nil
}

// AttachmentRequest carries metadata for an uploaded file reference.
type AttachmentRequest struct {
	Filename    string
	URL         string
	ContentType string
	SizeBytes   int64
}

// AddAttachment links an uploaded file to a spark.
func (s *Service) AddAttachment(ctx context.Context, userID UserID, sparkID SparkID, req AttachmentRequest) (Attachment, error) {
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.URL) == "" {
		return Attachment{}, newServiceError(opAddAttachment, "missing_fields", errors.New("filename and url are required"))
	}
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return Attachment{}, newServiceError(opAddAttachment, "spark_not_found", ErrSparkNotFound)
	}
	attachmentID, err := s.idProvider.NewID()
	if err != nil {
		return Attachment{}, newServiceError(opAddAttachment, "id_generation_failed", err)
	}
	attachment := Attachment{
		AttachmentID: attachmentID,
		SparkID:      sparkID.String(),
		Filename:     req.Filename,
		URL:          req.URL,
		ContentType:  req.ContentType,
		SizeBytes:    req.SizeBytes,
		CreatedAtS:   s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		s.logError(opAddAttachment, "insert_failed", err, zap.String("spark_id", sparkID.String()))
		return Attachment{}, newServiceError(opAddAttachment, "insert_failed", err)
	}
	return attachment, nil
}

// RemoveAttachment unlinks a file from a spark.
func (s *Service) RemoveAttachment(ctx context.Context, userID UserID, sparkID SparkID, attachmentID string) error {
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return newServiceError(opRemoveAttachment, "spark_not_found", ErrSparkNotFound)
	}
	tx := s.db.WithContext(ctx).
		Where("spark_id = ? AND attachment_id = ?", sparkID.String(), attachmentID).
		Delete(&Attachment{})
	if tx.Error != nil {
		return newServiceError(opRemoveAttachment, "delete_failed", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return newServiceError(opRemoveAttachment, "not_found", gorm.ErrRecordNotFound)
	}
	return nil
}

// CreateTag registers a tag for the user; the (user, name) pair is unique.
func (s *Service) CreateTag(ctx context.Context, userID UserID, name, color string) (Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tag{}, newServiceError(opCreateTag, "missing_name", errors.New("tag name is required"))
	}
	tagID, err := s.idProvider.NewID()
	if err != nil {
		return Tag{}, newServiceError(opCreateTag, "id_generation_failed", err)
	}
	tag := Tag{
		TagID:      tagID,
		UserID:     userID.String(),
		Name:       name,
		Color:      strings.TrimSpace(color),
		CreatedAtS: s.clock().UTC().Unix(),
	}
	if tag.Color == "" {
		tag.Color = "#888888"
	}
	if err := s.db.WithContext(ctx).Create(&tag).Error; err != nil {
		s.logError(opCreateTag, "insert_failed", err, zap.String("user_id", userID.String()))
		return Tag{}, newServiceError(opCreateTag, "insert_failed", err)
	}
	return tag, nil
}

// AssignTag links an owned tag to an owned spark; assigning twice is a no-op.
func (s *Service) AssignTag(ctx context.Context, userID UserID, sparkID SparkID, tagID string) error {
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return newServiceError(opAssignTag, "spark_not_found", ErrSparkNotFound)
	}
	var tag Tag
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND tag_id = ?", userID.String(), tagID).
		Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opAssignTag, "tag_not_found", ErrTagNotFound)
	}
	if err != nil {
		return newServiceError(opAssignTag, "query_failed", err)
	}
	link := SparkTag{SparkID: sparkID.String(), TagID: tagID}
	err = s.db.WithContext(ctx).Where(&link).FirstOrCreate(&link).Error
	if err != nil {
		s.logError(opAssignTag, "insert_failed", err, zap.String("tag_id", tagID))
		return newServiceError(opAssignTag, "insert_failed", err)
	}
	return nil
}

// UnassignTag removes a tag link; removing an absent link is a no-op.
func (s *Service) UnassignTag(ctx context.Context, userID UserID, sparkID SparkID, tagID string) error {
	if _, err := s.GetSpark(ctx, userID, sparkID); err != nil {
		return newServiceError(opUnassignTag, "spark_not_found", ErrSparkNotFound)
	}
	if err := s.db.WithContext(ctx).
		Where("spark_id = ? AND tag_id = ?", sparkID.String(), tagID).
		Delete(&SparkTag{}).Error; err != nil {
		return newServiceError(opUnassignTag, "delete_failed", err)
	}
	return nil
}

// ListTags returns the user's tags ordered by name.
func (s *Service) ListTags(ctx context.Context, userID UserID) ([]Tag, error) {
	var tags []Tag
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("name ASC").
		Find(&tags).Error; err != nil {
		s.logError(opListTags, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListTags, "query_failed", err)
	}
	return tags, nil
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
	s.logger.Error("sparks service error", attrs...)
}
