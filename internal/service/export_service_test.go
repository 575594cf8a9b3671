package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

type deploymentListerStub struct {
	deployments []models.Deployment
}

func (s *deploymentListerStub) List(ctx context.Context, query dto.DeploymentQuery, actor *models.JWTClaims) ([]models.Deployment, error) {
	return s.deployments, nil
}

func TestExportServiceDeploymentReportCSV(t *testing.T) {
	actualEnd := time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC)
	lister := &deploymentListerStub{deployments: []models.Deployment{{
		ID:             "dep-1",
		EntryRequestID: "req-1",
		EquipmentID:    "eq-1",
		WorkerID:       "wk-1",
		SiteName:       "north yard",
		StartDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PlannedEndDate: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		ActualEndDate:  &actualEnd,
		Status:         models.DeploymentStatusCompleted,
	}}}
	audit := &auditStub{}
	svc := NewExportService(lister, audit, nil)

	result, err := svc.DeploymentReport(context.Background(), dto.DeploymentQuery{}, ExportFormatCSV, finalClaims())
	require.NoError(t, err)
	require.Equal(t, "text/csv", result.ContentType)
	require.True(t, strings.HasSuffix(result.FileName, ".csv"))

	body := string(result.Data)
	require.Contains(t, body, "dep-1,req-1,eq-1,wk-1,north yard,2026-03-01,2026-03-31,2026-03-25,COMPLETED")
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionDeploymentExport, audit.logs[0].Action)
}

func TestExportServiceDeploymentReportPDF(t *testing.T) {
	svc := NewExportService(&deploymentListerStub{}, &auditStub{}, nil)

	result, err := svc.DeploymentReport(context.Background(), dto.DeploymentQuery{}, ExportFormatPDF, finalClaims())
	require.NoError(t, err)
	require.Equal(t, "application/pdf", result.ContentType)
	require.True(t, strings.HasPrefix(string(result.Data), "%PDF"))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&deploymentListerStub{}, &auditStub{}, nil)

	_, err := svc.DeploymentReport(context.Background(), dto.DeploymentQuery{}, ExportFormat("xml"), finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
