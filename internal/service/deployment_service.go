package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/repository"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

type deploymentStore interface {
	Create(ctx context.Context, deployment *models.Deployment) error
	GetByID(ctx context.Context, id string) (*models.Deployment, error)
	List(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error)
	Extend(ctx context.Context, id string, newEndDate, oldEndDate time.Time, reason, actorID string) error
	ChangeWorker(ctx context.Context, id, oldWorkerID, newWorkerID string, start, end time.Time, reason, actorID string) error
	Complete(ctx context.Context, id string, actualEndDate time.Time, actorID string) error
}

type approvedRequestLoader interface {
	GetByID(ctx context.Context, id string) (*models.EntryRequest, error)
}

// DeploymentService manages the lifecycle of site deployments created from
// approved entry requests.
type DeploymentService struct {
	repo     deploymentStore
	requests approvedRequestLoader
	events   eventPublisher
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
}

// DeploymentServiceOption configures the service.
type DeploymentServiceOption func(*DeploymentService)

// WithDeploymentMetrics records lifecycle transitions on the metrics registry.
func WithDeploymentMetrics(metrics *MetricsService) DeploymentServiceOption {
	return func(s *DeploymentService) {
		s.metrics = metrics
	}
}

// NewDeploymentService constructs the service.
func NewDeploymentService(repo deploymentStore, requests approvedRequestLoader, events eventPublisher, audit auditLogger, logger *zap.Logger, opts ...DeploymentServiceOption) *DeploymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &DeploymentService{
		repo:     repo,
		requests: requests,
		events:   events,
		audit:    audit,
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create turns an approved entry request into an active deployment. The
// repository performs the overlap check and the insert atomically; a caller
// supplied idempotency key makes retries return the original deployment
// instead of double-booking.
func (s *DeploymentService) Create(ctx context.Context, req dto.CreateDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.EntryRequestID) == "" || strings.TrimSpace(req.EquipmentID) == "" || strings.TrimSpace(req.WorkerID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "entry request, equipment and worker are required")
	}
	if req.StartDate.IsZero() || req.PlannedEndDate.IsZero() || !req.PlannedEndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrDateRangeInvalid, "planned end date must be after start date")
	}

	request, err := s.requests.GetByID(ctx, req.EntryRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry request")
	}
	if request.Status != models.EntryRequestStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrNotApproved, "entry request is not approved")
	}
	if request.FinalCompanyID == nil || *request.FinalCompanyID != req.FinalCompanyID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "final company does not match the approving company")
	}
	if actor.CompanyType == models.CompanyTypeFinal && actor.CompanyID != req.FinalCompanyID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "actor company is not the final company")
	}
	if !request.HasEquipment(req.EquipmentID) {
		return nil, appErrors.Clone(appErrors.ErrItemNotInRequest, "equipment is not part of the entry request")
	}
	if !request.HasWorker(req.WorkerID) {
		return nil, appErrors.Clone(appErrors.ErrItemNotInRequest, "worker is not part of the entry request")
	}

	deployment := &models.Deployment{
		EntryRequestID: req.EntryRequestID,
		EquipmentID:    req.EquipmentID,
		WorkerID:       req.WorkerID,
		FinalCompanyID: req.FinalCompanyID,
		SiteName:       strings.TrimSpace(req.SiteName),
		SiteAddress:    strings.TrimSpace(req.SiteAddress),
		RateSchedule:   append([]byte(nil), req.RateSchedule...),
		StartDate:      req.StartDate,
		PlannedEndDate: req.PlannedEndDate,
		Status:         models.DeploymentStatusActive,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
		CreatedBy:      actor.UserID,
	}
	if err := s.repo.Create(ctx, deployment); err != nil {
		if errors.Is(err, repository.ErrDeploymentConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflictingDeployment, "equipment or worker already deployed in an overlapping window")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create deployment")
	}

	s.emitEvent(models.EventDeploymentCreated, deployment.ID, actor.UserID, map[string]interface{}{
		"entry_request_id": deployment.EntryRequestID,
		"equipment_id":     deployment.EquipmentID,
		"worker_id":        deployment.WorkerID,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionDeploymentCreate, deployment.ID)
	return deployment, nil
}

// Extend pushes the planned end date out. The new date must strictly increase
// the window; anything else leaves the deployment untouched.
func (s *DeploymentService) Extend(ctx context.Context, id string, req dto.ExtendDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "extension reason is required")
	}
	if req.NewEndDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new end date is required")
	}

	deployment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardActor(deployment, actor); err != nil {
		return nil, err
	}
	if !deployment.Status.Mutable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment is completed")
	}
	if !req.NewEndDate.After(deployment.PlannedEndDate) {
		return nil, appErrors.Clone(appErrors.ErrDateRangeInvalid, "new end date must be after the current planned end date")
	}

	if err := s.repo.Extend(ctx, id, req.NewEndDate, deployment.PlannedEndDate, reason, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to extend deployment")
	}

	oldEnd := deployment.PlannedEndDate
	deployment.PlannedEndDate = req.NewEndDate
	deployment.Status = models.DeploymentStatusExtended

	s.emitEvent(models.EventDeploymentExtended, deployment.ID, actor.UserID, map[string]interface{}{
		"old_end_date": oldEnd,
		"new_end_date": req.NewEndDate,
		"reason":       reason,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionDeploymentMutate, deployment.ID)
	return deployment, nil
}

// ChangeWorker substitutes the assigned worker. The replacement must belong to
// the originating entry request and must be free of overlapping non-terminal
// deployments.
func (s *DeploymentService) ChangeWorker(ctx context.Context, id string, req dto.ChangeWorkerRequest, actor *models.JWTClaims) (*models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "substitution reason is required")
	}
	newWorkerID := strings.TrimSpace(req.NewWorkerID)
	if newWorkerID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new worker is required")
	}

	deployment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardActor(deployment, actor); err != nil {
		return nil, err
	}
	if !deployment.Status.Mutable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment is completed")
	}
	if newWorkerID == deployment.WorkerID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "new worker already assigned")
	}

	request, err := s.requests.GetByID(ctx, deployment.EntryRequestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry request")
	}
	if !request.HasWorker(newWorkerID) {
		return nil, appErrors.Clone(appErrors.ErrItemNotInRequest, "worker is not part of the entry request")
	}

	oldWorkerID := deployment.WorkerID
	if err := s.repo.ChangeWorker(ctx, id, oldWorkerID, newWorkerID, deployment.StartDate, deployment.PlannedEndDate, reason, actor.UserID); err != nil {
		if errors.Is(err, repository.ErrDeploymentConflict) {
			return nil, appErrors.Clone(appErrors.ErrConflictingDeployment, "worker already deployed in an overlapping window")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment changed concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change worker")
	}

	deployment.WorkerID = newWorkerID

	s.emitEvent(models.EventWorkerChanged, deployment.ID, actor.UserID, map[string]interface{}{
		"old_worker_id": oldWorkerID,
		"new_worker_id": newWorkerID,
		"reason":        reason,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionDeploymentMutate, deployment.ID)
	return deployment, nil
}

// Complete closes the deployment; after that every mutation fails.
func (s *DeploymentService) Complete(ctx context.Context, id string, req dto.CompleteDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if req.ActualEndDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "actual end date is required")
	}

	deployment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardActor(deployment, actor); err != nil {
		return nil, err
	}
	if !deployment.Status.Mutable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment is already completed")
	}
	if req.ActualEndDate.Before(deployment.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrDateRangeInvalid, "actual end date must not precede the start date")
	}

	if err := s.repo.Complete(ctx, id, req.ActualEndDate, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "deployment is already completed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete deployment")
	}

	actualEnd := req.ActualEndDate
	deployment.ActualEndDate = &actualEnd
	deployment.Status = models.DeploymentStatusCompleted

	s.emitEvent(models.EventDeploymentCompleted, deployment.ID, actor.UserID, map[string]interface{}{
		"actual_end_date": actualEnd,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionDeploymentMutate, deployment.ID)
	return deployment, nil
}

// Get returns a deployment with its audit trail, enforcing company scope.
func (s *DeploymentService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	deployment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.visibleTo(ctx, deployment, actor) {
		return nil, appErrors.ErrForbidden
	}
	return deployment, nil
}

// List returns deployments visible to the actor's company.
func (s *DeploymentService) List(ctx context.Context, query dto.DeploymentQuery, actor *models.JWTClaims) ([]models.Deployment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.DeploymentFilter{
		Status:         query.Status,
		EquipmentID:    query.EquipmentID,
		WorkerID:       query.WorkerID,
		EntryRequestID: query.EntryRequestID,
	}
	switch actor.CompanyType {
	case models.CompanyTypeFinal:
		filter.FinalCompanyID = actor.CompanyID
	case models.CompanyTypeOwner, models.CompanyTypeIntermediate:
		if filter.EntryRequestID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "entry request filter is required")
		}
		request, err := s.requests.GetByID(ctx, filter.EntryRequestID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.ErrNotFound
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry request")
		}
		if !requestVisibleTo(request, actor) {
			return nil, appErrors.ErrForbidden
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	if query.Size > 0 {
		filter.Limit = query.Size
		if query.Page > 1 {
			filter.Offset = (query.Page - 1) * query.Size
		}
	}
	deployments, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deployments")
	}
	return deployments, nil
}

func (s *DeploymentService) load(ctx context.Context, id string) (*models.Deployment, error) {
	deployment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load deployment")
	}
	return deployment, nil
}

// guardActor restricts mutations to users of the final-authorizer company the
// deployment runs under.
func (s *DeploymentService) guardActor(deployment *models.Deployment, actor *models.JWTClaims) error {
	if actor.CompanyID != deployment.FinalCompanyID {
		return appErrors.Clone(appErrors.ErrUnauthorized, "actor company is not the final company")
	}
	return nil
}

func (s *DeploymentService) visibleTo(ctx context.Context, deployment *models.Deployment, actor *models.JWTClaims) bool {
	if actor.CompanyID == deployment.FinalCompanyID {
		return true
	}
	request, err := s.requests.GetByID(ctx, deployment.EntryRequestID)
	if err != nil {
		return false
	}
	return requestVisibleTo(request, actor)
}

func (s *DeploymentService) emitEvent(name models.EventName, resourceID, actorID string, payload map[string]interface{}) {
	if s.metrics != nil {
		s.metrics.ObserveTransition("deployment", string(name))
	}
	if s.events == nil {
		return
	}
	s.events.Publish(models.DomainEvent{
		Name:       name,
		Resource:   "deployment",
		ResourceID: resourceID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (s *DeploymentService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "deployment",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "deployment-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
