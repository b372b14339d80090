package sparks

import (
	"errors"
	"fmt"
	"strings"
)

// GrowthStage enumerates how far an idea has developed.
type GrowthStage string

const (
	StageSeedling GrowthStage = "seedling"
	StageSapling  GrowthStage = "sapling"
	StageTree     GrowthStage = "tree"
	StageForest   GrowthStage = "forest"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidSparkID indicates a spark identifier is empty or exceeds storage bounds.
	ErrInvalidSparkID = errors.New("sparks: invalid spark id")
	// ErrInvalidUserID indicates a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("sparks: invalid user id")
	// ErrInvalidStage indicates a growth stage outside the enumeration.
	ErrInvalidStage = errors.New("sparks: invalid growth stage")
	// ErrInvalidTitle indicates an empty spark title.
	ErrInvalidTitle = errors.New("sparks: title is required")
)

// SparkID represents a validated spark identifier.
type SparkID string

// NewSparkID validates raw input and returns a SparkID.
func NewSparkID(rawInput string) (SparkID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSparkID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidSparkID, maxIdentifierLength)
	}
	return SparkID(trimmed), nil
}

// String returns the underlying string identifier.
func (id SparkID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseStage validates a raw growth stage value.
func ParseStage(raw string) (GrowthStage, error) {
	switch GrowthStage(strings.ToLower(strings.TrimSpace(raw))) {
	case StageSeedling:
		return StageSeedling, nil
	case StageSapling:
		return StageSapling, nil
	case StageTree:
		return StageTree, nil
	case StageForest:
		return StageForest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, raw)
	}
}

// Spark models one idea card with its canvas position and growth metadata.
type Spark struct {
	SparkID     string      `gorm:"column:spark_id;primaryKey;size:190;not null" json:"id"`
	UserID      string      `gorm:"column:user_id;size:190;not null;index:idx_sparks_user_updated,priority:1" json:"user_id"`
	WorkspaceID string      `gorm:"column:workspace_id;size:190;not null;index" json:"workspace_id"`
	Title       string      `gorm:"column:title;size:320;not null" json:"title"`
	Description string      `gorm:"column:description;type:text;not null;default:''" json:"description"`
	Content     string      `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Stage       GrowthStage `gorm:"column:stage;size:32;not null;default:'seedling'" json:"stage"`
	PositionX   float64     `gorm:"column:position_x;not null;default:0" json:"position_x"`
	PositionY   float64     `gorm:"column:position_y;not null;default:0" json:"position_y"`
	Level       int         `gorm:"column:level;not null;default:1" json:"level"`
	TotalXP     int64       `gorm:"column:total_xp;not null;default:0" json:"total_xp"`
	IsDeleted   bool        `gorm:"column:is_deleted;not null;default:false;index:idx_sparks_user_updated,priority:2" json:"-"`
	CreatedAtS  int64       `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtS  int64       `gorm:"column:updated_at_s;not null;index:idx_sparks_user_updated,priority:3" json:"updated_at_s"`

	Todos       []Todo       `gorm:"foreignKey:SparkID;references:SparkID" json:"todos,omitempty"`
	Attachments []Attachment `gorm:"foreignKey:SparkID;references:SparkID" json:"attachments,omitempty"`
	Tags        []Tag        `gorm:"many2many:spark_tags;foreignKey:SparkID;joinForeignKey:SparkID;references:TagID;joinReferences:TagID" json:"tags,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Spark) TableName() string {
	return "sparks"
}

// Todo is one checklist entry attached to a spark.
type Todo struct {
	TodoID     string `gorm:"column:todo_id;primaryKey;size:190;not null" json:"id"`
	SparkID    string `gorm:"column:spark_id;size:190;not null;index" json:"spark_id"`
	Title      string `gorm:"column:title;size:320;not null" json:"title"`
	Completed  bool   `gorm:"column:completed;not null;default:false" json:"completed"`
	Position   int    `gorm:"column:position;not null;default:0" json:"position"`
	CreatedAtS int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtS int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Todo) TableName() string {
	return "spark_todos"
}

// Attachment references an uploaded file linked to a spark.
type Attachment struct {
	AttachmentID string `gorm:"column:attachment_id;primaryKey;size:190;not null" json:"id"`
	SparkID      string `gorm:"column:spark_id;size:190;not null;index" json:"spark_id"`
	Filename     string `gorm:"column:filename;size:512;not null" json:"filename"`
	URL          string `gorm:"column:url;size:1024;not null" json:"url"`
	ContentType  string `gorm:"column:content_type;size:190;not null;default:''" json:"content_type"`
	SizeBytes    int64  `gorm:"column:size_bytes;not null;default:0" json:"size_bytes"`
	CreatedAtS   int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Attachment) TableName() string {
	return "spark_attachments"
}

// Tag labels sparks; owned per user.
type Tag struct {
	TagID      string `gorm:"column:tag_id;primaryKey;size:190;not null" json:"id"`
	UserID     string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_tags_user_name,priority:1" json:"user_id"`
	Name       string `gorm:"column:name;size:190;not null;uniqueIndex:idx_tags_user_name,priority:2" json:"name"`
	Color      string `gorm:"column:color;size:32;not null;default:'#888888'" json:"color"`
	CreatedAtS int64  `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// SparkTag is the spark/tag join row.
type SparkTag struct {
	SparkID string `gorm:"column:spark_id;primaryKey;size:190;not null"`
	TagID   string `gorm:"column:tag_id;primaryKey;size:190;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SparkTag) TableName() string {
	return "spark_tags"
}
