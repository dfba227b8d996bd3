package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/jotter/internal/auth"
	"github.com/MarcoPoloResearchLab/jotter/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type noteRequestPayload struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Color   *string `json:"color"`
}

type noteResponsePayload struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Color     *string   `json:"color"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newNoteResponse(note notes.Note) noteResponsePayload {
	return noteResponsePayload{
		ID:        note.ID,
		Title:     note.Title,
		Content:   note.Content,
		Color:     note.Color,
		CreatedAt: note.CreatedAt.UTC(),
		UpdatedAt: note.UpdatedAt.UTC(),
	}
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	owner, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	stored, err := h.notesService.List(c.Request.Context(), owner)
	if err != nil {
		h.respondNoteError(c, "list", owner, "", err)
		return
	}
	response := make([]noteResponsePayload, 0, len(stored))
	for _, note := range stored {
		response = append(response, newNoteResponse(note))
	}
	h.metrics.ObserveNoteOperation("list", "ok")
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	owner, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	noteID, ok := h.noteIDFromPath(c, "get")
	if !ok {
		return
	}
	note, err := h.notesService.Get(c.Request.Context(), owner, noteID)
	if err != nil {
		h.respondNoteError(c, "get", owner, noteID.String(), err)
		return
	}
	h.metrics.ObserveNoteOperation("get", "ok")
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	owner, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	input := bindNoteInput(c)
	note, err := h.notesService.Create(c.Request.Context(), owner, input)
	if err != nil {
		h.respondNoteError(c, "create", owner, "", err)
		return
	}
	h.metrics.ObserveNoteOperation("create", "ok")
	c.JSON(http.StatusCreated, newNoteResponse(note))
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	owner, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	noteID, ok := h.noteIDFromPath(c, "update")
	if !ok {
		return
	}
	input := bindNoteInput(c)
	note, err := h.notesService.Update(c.Request.Context(), owner, noteID, input)
	if err != nil {
		h.respondNoteError(c, "update", owner, noteID.String(), err)
		return
	}
	h.metrics.ObserveNoteOperation("update", "ok")
	c.JSON(http.StatusOK, newNoteResponse(note))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	owner, ok := h.ownerFromContext(c)
	if !ok {
		return
	}
	noteID, ok := h.noteIDFromPath(c, "delete")
	if !ok {
		return
	}
	note, err := h.notesService.Delete(c.Request.Context(), owner, noteID)
	if err != nil {
		h.respondNoteError(c, "delete", owner, noteID.String(), err)
		return
	}
	h.metrics.ObserveNoteOperation("delete", "ok")
	c.JSON(http.StatusOK, newNoteResponse(note))
}

// bindNoteInput leaves unparseable bodies empty so the store reports them after its ownership check.
func bindNoteInput(c *gin.Context) notes.NoteInput {
	var payload noteRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		return notes.NoteInput{}
	}
	return notes.NoteInput{Title: payload.Title, Content: payload.Content, Color: payload.Color}
}

func (h *httpHandler) ownerFromContext(c *gin.Context) (notes.OwnerID, bool) {
	identityID, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		h.rejectUnauthenticated(c)
		return "", false
	}
	owner, err := notes.NewOwnerID(identityID)
	if err != nil {
		h.rejectUnauthenticated(c)
		return "", false
	}
	return owner, true
}

func (h *httpHandler) noteIDFromPath(c *gin.Context, operation string) (notes.NoteID, bool) {
	noteID, err := notes.NewNoteID(c.Param("id"))
	if err != nil {
		h.metrics.ObserveNoteOperation(operation, "not_found")
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return "", false
	}
	return noteID, true
}

// respondNoteError maps store failures onto status codes. Persistence failures were logged by the store.
func (h *httpHandler) respondNoteError(c *gin.Context, operation string, owner notes.OwnerID, noteID string, err error) {
	status, reason := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, notes.ErrNotFound):
		status, reason = http.StatusNotFound, "not_found"
	case errors.Is(err, notes.ErrValidation):
		status, reason = http.StatusBadRequest, "validation_failed"
	}
	h.metrics.ObserveNoteOperation(operation, reason)

	body := gin.H{"error": reason}
	var serviceErr *notes.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	if status < http.StatusInternalServerError {
		h.logger.Warn("note request rejected",
			zap.String("operation", operation),
			zap.String("reason", reason),
			zap.String("identity_id", owner.String()),
			zap.String("note_id", noteID),
			zap.Error(err))
	} else if serviceErr == nil {
		h.logger.Error("note request failed",
			zap.String("operation", operation),
			zap.String("identity_id", owner.String()),
			zap.Error(err))
	}
	c.JSON(status, body)
}
