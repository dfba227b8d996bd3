package notes

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
	// ErrNotFound covers notes that are absent or owned by another identity.
	ErrNotFound = errors.New("notes: not found")
	// ErrValidation indicates an empty title or content.
	ErrValidation = errors.New("notes: validation failed")
	// ErrPersistence indicates the store failed to complete the operation.
	ErrPersistence = errors.New("notes: persistence failed")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a machine-readable code of the form notes.<operation>.<reason>.
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

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "notes.service.new"
	opList       = "notes.list"
	opGet        = "notes.get"
	opCreate     = "notes.create"
	opUpdate     = "notes.update"
	opDelete     = "notes.delete"

	reasonNotFound         = "not_found"
	reasonValidationFailed = "validation_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func notFoundError(operation string, noteID string) error {
	return newServiceError(operation, reasonNotFound, fmt.Errorf("%w: %s", ErrNotFound, noteID))
}

func validationError(operation string, cause error) error {
	return newServiceError(operation, reasonValidationFailed, fmt.Errorf("%w: %w", ErrValidation, cause))
}

func persistenceError(operation, reason string, cause error) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrPersistence, cause))
}

// ServiceConfig describes the collaborators of the note store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// IDProvider issues identifiers for new notes.
type IDProvider interface {
	NewID() (string, error)
}

// Service is the ownership-enforcing note store. Every operation is scoped to an owner.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
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

// List returns the owner's notes, newest first. It never returns a nil slice on success.
func (s *Service) List(ctx context.Context, owner OwnerID) ([]Note, error) {
	notes := make([]Note, 0)
	if err := s.session(ctx).
		Where("owner_id = ?", owner.String()).
		Order("created_at DESC").
		Order("id DESC").
		Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("identity_id", owner.String()))
		return nil, persistenceError(opList, "query_failed", err)
	}
	return notes, nil
}

// Get returns the note only when it exists and belongs to owner.
func (s *Service) Get(ctx context.Context, owner OwnerID, noteID NoteID) (Note, error) {
	note, err := findOwned(s.session(ctx), owner, noteID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, notFoundError(opGet, noteID.String())
	}
	if err != nil {
		s.logError(opGet, "query_failed", err,
			zap.String("identity_id", owner.String()),
			zap.String("note_id", noteID.String()))
		return Note{}, persistenceError(opGet, "query_failed", err)
	}
	return note, nil
}

// Create validates and persists a new note owned by owner.
func (s *Service) Create(ctx context.Context, owner OwnerID, input NoteInput) (Note, error) {
	if err := input.validate(); err != nil {
		return Note{}, validationError(opCreate, err)
	}
	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("identity_id", owner.String()))
		return Note{}, persistenceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:        noteID,
		OwnerID:   owner.String(),
		Title:     strings.TrimSpace(input.Title),
		Content:   input.Content,
		Color:     normalizedColor(input.Color),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.session(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "insert_failed", err,
			zap.String("identity_id", owner.String()),
			zap.String("note_id", noteID))
		return Note{}, persistenceError(opCreate, "insert_failed", err)
	}
	return note, nil
}

// Update re-checks ownership, validates the input and writes it with a conditional update.
func (s *Service) Update(ctx context.Context, owner OwnerID, noteID NoteID, input NoteInput) (Note, error) {
	var updated Note
	txErr := s.session(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findOwned(tx, owner, noteID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError(opUpdate, noteID.String())
		}
		if err != nil {
			s.logError(opUpdate, "note_select_failed", err,
				zap.String("identity_id", owner.String()),
				zap.String("note_id", noteID.String()))
			return persistenceError(opUpdate, "note_select_failed", err)
		}
		if err := input.validate(); err != nil {
			return validationError(opUpdate, err)
		}

		updates := map[string]any{
			"title":      strings.TrimSpace(input.Title),
			"content":    input.Content,
			"updated_at": s.clock().UTC(),
		}
		if input.Color != nil {
			updates["color"] = normalizedColor(input.Color)
		}
		result := tx.Model(&Note{}).
			Where("id = ? AND owner_id = ?", noteID.String(), owner.String()).
			Updates(updates)
		if result.Error != nil {
			s.logError(opUpdate, "note_update_failed", result.Error,
				zap.String("identity_id", owner.String()),
				zap.String("note_id", noteID.String()))
			return persistenceError(opUpdate, "note_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFoundError(opUpdate, noteID.String())
		}

		existing.Title = updates["title"].(string)
		existing.Content = input.Content
		existing.UpdatedAt = updates["updated_at"].(time.Time)
		if input.Color != nil {
			existing.Color = normalizedColor(input.Color)
		}
		updated = existing
		return nil
	})
	if txErr != nil {
		return Note{}, asServiceError(opUpdate, txErr)
	}
	return updated, nil
}

// Delete removes the owned note permanently and returns the removed record.
func (s *Service) Delete(ctx context.Context, owner OwnerID, noteID NoteID) (Note, error) {
	var deleted Note
	txErr := s.session(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findOwned(tx, owner, noteID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError(opDelete, noteID.String())
		}
		if err != nil {
			s.logError(opDelete, "note_select_failed", err,
				zap.String("identity_id", owner.String()),
				zap.String("note_id", noteID.String()))
			return persistenceError(opDelete, "note_select_failed", err)
		}

		result := tx.Where("id = ? AND owner_id = ?", noteID.String(), owner.String()).Delete(&Note{})
		if result.Error != nil {
			s.logError(opDelete, "note_delete_failed", result.Error,
				zap.String("identity_id", owner.String()),
				zap.String("note_id", noteID.String()))
			return persistenceError(opDelete, "note_delete_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return notFoundError(opDelete, noteID.String())
		}
		deleted = existing
		return nil
	})
	if txErr != nil {
		return Note{}, asServiceError(opDelete, txErr)
	}
	return deleted, nil
}

// session detaches the data operation from client cancellation.
func (s *Service) session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(context.WithoutCancel(ctx))
}

func findOwned(db *gorm.DB, owner OwnerID, noteID NoteID) (Note, error) {
	var note Note
	err := db.Where("id = ? AND owner_id = ?", noteID.String(), owner.String()).Take(&note).Error
	return note, err
}

// asServiceError keeps errors raised inside a transaction and wraps commit failures.
func asServiceError(operation string, err error) error {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return persistenceError(operation, "transaction_failed", err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
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
	s.loggerOrDefault().Error("notes service error", attrs...)
}
