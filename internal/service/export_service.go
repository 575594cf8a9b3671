package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/export"
)

// ExportFormat selects the report output encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered report.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
}

type deploymentLister interface {
	List(ctx context.Context, query dto.DeploymentQuery, actor *models.JWTClaims) ([]models.Deployment, error)
}

// ExportService renders deployment reports as CSV or PDF.
type ExportService struct {
	deployments deploymentLister
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	audit       auditLogger
	logger      *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(deployments deploymentLister, audit auditLogger, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		deployments: deployments,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		audit:       audit,
		logger:      logger,
	}
}

var deploymentReportHeaders = []string{
	"ID", "Entry Request", "Equipment", "Worker", "Site",
	"Start", "Planned End", "Actual End", "Status",
}

// DeploymentReport lists the deployments visible to the actor and renders
// them in the requested format.
func (s *ExportService) DeploymentReport(ctx context.Context, query dto.DeploymentQuery, format ExportFormat, actor *models.JWTClaims) (*ExportResult, error) {
	deployments, err := s.deployments.List(ctx, query, actor)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{Headers: deploymentReportHeaders}
	for _, d := range deployments {
		actualEnd := ""
		if d.ActualEndDate != nil {
			actualEnd = d.ActualEndDate.Format("2006-01-02")
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":            d.ID,
			"Entry Request": d.EntryRequestID,
			"Equipment":     d.EquipmentID,
			"Worker":        d.WorkerID,
			"Site":          d.SiteName,
			"Start":         d.StartDate.Format("2006-01-02"),
			"Planned End":   d.PlannedEndDate.Format("2006-01-02"),
			"Actual End":    actualEnd,
			"Status":        string(d.Status),
		})
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	result := &ExportResult{}
	switch format {
	case ExportFormatCSV:
		data, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv report")
		}
		result.FileName = "deployments-" + stamp + ".csv"
		result.ContentType = "text/csv"
		result.Data = data
	case ExportFormatPDF:
		data, err := s.pdf.Render(dataset, "Deployment Report")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf report")
		}
		result.FileName = "deployments-" + stamp + ".pdf"
		result.ContentType = "application/pdf"
		result.Data = data
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	if s.audit != nil {
		log := &models.AuditLog{
			UserID:    &actor.UserID,
			Action:    models.AuditActionDeploymentExport,
			Resource:  "deployment",
			IPAddress: "system",
			UserAgent: "export-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return result, nil
}
