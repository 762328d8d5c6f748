package handler

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ondrasimku/file-intake/internal/domain"
	"github.com/ondrasimku/file-intake/internal/intake"
	"github.com/ondrasimku/file-intake/internal/validation"
)

const (
	filesField       = "files"
	legacyFilesField = "file"
)

type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type UploadResponse struct {
	OK       bool                `json:"ok"`
	Accepted []domain.FileRecord `json:"accepted"`
	Rejected []domain.Rejection  `json:"rejected"`
	Files    []domain.FileRecord `json:"files,omitempty"`
}

type ListResponse struct {
	OK    bool                `json:"ok"`
	Files []domain.FileRecord `json:"files"`
}

type FileResponse struct {
	OK   bool              `json:"ok"`
	File domain.FileRecord `json:"file"`
}

type RemoveResponse struct {
	OK      bool `json:"ok"`
	Removed bool `json:"removed"`
}

type Intaker interface {
	Intake(ctx context.Context, batch []validation.Descriptor) (*intake.Report, error)
}

type Registry interface {
	List(ctx context.Context, limit int) ([]domain.FileRecord, error)
	Get(ctx context.Context, name string) (domain.FileRecord, bool, error)
	Remove(ctx context.Context, name string) (bool, error)
	Clear(ctx context.Context) error
}

type FilesHandler struct {
	intake   Intaker
	registry Registry
	pageSize int
	logger   *slog.Logger
}

func NewFilesHandler(intake Intaker, registry Registry, pageSize int, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		intake:   intake,
		registry: registry,
		pageSize: pageSize,
		logger:   logger,
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Error: msg})
}

func descriptors(headers []*multipart.FileHeader) []validation.Descriptor {
	batch := make([]validation.Descriptor, 0, len(headers))
	for _, fh := range headers {
		batch = append(batch, validation.Descriptor{
			Name:              fh.Filename,
			DeclaredMediaType: fh.Header.Get("Content-Type"),
			SizeBytes:         fh.Size,
		})
	}
	return batch
}

// Upload registers every part of the "files" field, plus the legacy single
// "file" field, and reports which were accepted.
func (h *FilesHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Warn("Failed to parse multipart form", "error", err)
		fail(c, http.StatusBadRequest, "No files provided")
		return
	}

	headers := append([]*multipart.FileHeader{}, form.File[filesField]...)
	headers = append(headers, form.File[legacyFilesField]...)

	ctx := c.Request.Context()
	report, err := h.intake.Intake(ctx, descriptors(headers))
	if errors.Is(err, intake.ErrNoFiles) {
		fail(c, http.StatusBadRequest, "No files provided")
		return
	}
	if err != nil {
		h.logger.Error("Upload failed", "error", err)
		fail(c, http.StatusInternalServerError, "Upload failed")
		return
	}

	resp := UploadResponse{
		OK:       true,
		Accepted: report.Accepted,
		Rejected: report.Rejected,
	}
	if recent, err := h.registry.List(ctx, h.pageSize); err != nil {
		h.logger.Warn("Failed to list recent files after upload", "error", err)
	} else {
		resp.Files = recent
	}

	c.JSON(http.StatusOK, resp)
}

func (h *FilesHandler) List(c *gin.Context) {
	limit := h.pageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	files, err := h.registry.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list files", "error", err)
		fail(c, http.StatusInternalServerError, "Failed to list files")
		return
	}

	c.JSON(http.StatusOK, ListResponse{OK: true, Files: files})
}

func (h *FilesHandler) Get(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		fail(c, http.StatusBadRequest, "name required")
		return
	}

	file, found, err := h.registry.Get(c.Request.Context(), name)
	if err != nil {
		h.logger.Error("Failed to get file", "name", name, "error", err)
		fail(c, http.StatusInternalServerError, "Failed to get file")
		return
	}
	if !found {
		fail(c, http.StatusNotFound, "File not found")
		return
	}

	c.JSON(http.StatusOK, FileResponse{OK: true, File: file})
}

// Delete removes the most recent file with the name given in the path or in
// the "name" query parameter. Deleting an absent name still succeeds.
func (h *FilesHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		name = c.Query("name")
	}
	if name == "" {
		fail(c, http.StatusBadRequest, "name required")
		return
	}

	removed, err := h.registry.Remove(c.Request.Context(), name)
	if err != nil {
		h.logger.Error("Failed to remove file", "name", name, "error", err)
		fail(c, http.StatusInternalServerError, "Failed to remove file")
		return
	}

	h.logger.Info("File removal processed", "name", name, "removed", removed)
	c.JSON(http.StatusOK, RemoveResponse{OK: true, Removed: removed})
}

func (h *FilesHandler) Clear(c *gin.Context) {
	if err := h.registry.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear registry", "error", err)
		fail(c, http.StatusInternalServerError, "Failed to clear registry")
		return
	}

	h.logger.Info("Registry cleared")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
