package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("notes: invalid owner id")

	errEmptyTitle   = errors.New("title must not be empty")
	errEmptyContent = errors.New("content must not be empty")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed, err := validIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidNoteID, err)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// OwnerID represents the validated identity id that owns notes.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed, err := validIdentifier(rawInput)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOwnerID, err)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

func validIdentifier(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", errors.New("empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("exceeds %d characters", maxIdentifierLength)
	}
	return trimmed, nil
}

// Note is a persisted note. OwnerID is written once on insert.
type Note struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index:idx_notes_owner_created,priority:1"`
	Title     string    `gorm:"column:title;type:text;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Color     *string   `gorm:"column:color;size:64"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notes_owner_created,priority:2"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// NoteInput carries the client-supplied fields of a create or update.
// A nil Color leaves the stored color untouched on update; an empty one clears it.
type NoteInput struct {
	Title   string
	Content string
	Color   *string
}

func (in NoteInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return errEmptyTitle
	}
	if strings.TrimSpace(in.Content) == "" {
		return errEmptyContent
	}
	return nil
}

func normalizedColor(color *string) *string {
	if color == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*color)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
