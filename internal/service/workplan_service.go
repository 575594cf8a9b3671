package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/pkg/config"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/storage"
)

const workPlanScheme = "doc://"

// WorkPlanDocument describes a stored work plan returned after upload.
type WorkPlanDocument struct {
	Ref         string    `json:"ref"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// SignedWorkPlanURL carries a time-limited download token for a document.
type SignedWorkPlanURL struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WorkPlanService stores uploaded work-plan documents and resolves doc://
// references attached to approvals. References outside the doc:// scheme are
// treated as opaque external pointers and accepted as-is.
type WorkPlanService struct {
	store  *storage.LocalStorage
	signer *storage.SignedURLSigner
	cfg    config.WorkPlansConfig
	audit  auditLogger
	logger *zap.Logger
}

// NewWorkPlanService constructs the service.
func NewWorkPlanService(store *storage.LocalStorage, signer *storage.SignedURLSigner, cfg config.WorkPlansConfig, audit auditLogger, logger *zap.Logger) *WorkPlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkPlanService{store: store, signer: signer, cfg: cfg, audit: audit, logger: logger}
}

// Upload validates and persists an uploaded document, returning its doc:// ref.
func (s *WorkPlanService) Upload(ctx context.Context, header *multipart.FileHeader, actorID string) (*WorkPlanDocument, error) {
	if header == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document file is required")
	}
	if s.cfg.MaxFileSizeBytes > 0 && header.Size > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("document exceeds the %d byte limit", s.cfg.MaxFileSizeBytes))
	}

	file, err := header.Open()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open uploaded document")
	}
	defer file.Close() //nolint:errcheck

	contentType, err := s.sniffContentType(file, header)
	if err != nil {
		return nil, err
	}
	if !s.mimeAllowed(contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("content type %s is not allowed", contentType))
	}

	name := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	relPath := filepath.Join("workplans", name)
	if _, err := s.store.SaveStream(relPath, file); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}

	doc := &WorkPlanDocument{
		Ref:         workPlanScheme + name,
		FileName:    header.Filename,
		ContentType: contentType,
		SizeBytes:   header.Size,
		UploadedAt:  time.Now().UTC(),
	}
	s.logger.Info("work plan stored",
		zap.String("ref", doc.Ref),
		zap.Int64("size", doc.SizeBytes))

	if s.audit != nil {
		ref := doc.Ref
		log := &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionWorkPlanUpload,
			Resource:   "work_plan",
			ResourceID: &ref,
			IPAddress:  "system",
			UserAgent:  "workplan-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return doc, nil
}

// Resolvable reports whether a work-plan reference can be attached to an
// approval. doc:// refs must point at a stored document; other schemes are
// opaque and always pass.
func (s *WorkPlanService) Resolvable(ref string) bool {
	name, ok := strings.CutPrefix(ref, workPlanScheme)
	if !ok {
		return true
	}
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return false
	}
	return s.store.Exists(filepath.Join("workplans", name))
}

// SignedDownloadURL issues a time-limited token for a doc:// reference.
func (s *WorkPlanService) SignedDownloadURL(ref string) (*SignedWorkPlanURL, error) {
	name, ok := strings.CutPrefix(ref, workPlanScheme)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reference is not a stored document")
	}
	relPath := filepath.Join("workplans", name)
	if !s.store.Exists(relPath) {
		return nil, appErrors.ErrNotFound
	}
	token, expiresAt, err := s.signer.Generate(name, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return &SignedWorkPlanURL{Token: token, ExpiresAt: expiresAt}, nil
}

// OpenByToken validates a signed token and opens the referenced document.
func (s *WorkPlanService) OpenByToken(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, "", appErrors.ErrNotFound
	}
	return file, filepath.Base(relPath), nil
}

func (s *WorkPlanService) sniffContentType(file multipart.File, header *multipart.FileHeader) (string, error) {
	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read uploaded document")
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rewind uploaded document")
	}
	contentType := http.DetectContentType(buf[:n])
	// DetectContentType cannot tell office formats apart from zip archives.
	if contentType == "application/zip" || contentType == "application/octet-stream" {
		if declared := header.Header.Get("Content-Type"); declared != "" {
			contentType = declared
		}
	}
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType), nil
}

func (s *WorkPlanService) mimeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}
