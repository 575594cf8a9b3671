package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/repository"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

type entryRequestStore interface {
	Create(ctx context.Context, request *models.EntryRequest) error
	GetByID(ctx context.Context, id string) (*models.EntryRequest, error)
	List(ctx context.Context, filter models.EntryRequestFilter) ([]models.EntryRequest, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
}

type identityCatalog interface {
	OwnedByCompany(ctx context.Context, identityType models.IdentityType, identityID, companyID string) (bool, error)
}

type companyCatalog interface {
	ExistsWithType(ctx context.Context, id string, companyType models.CompanyType) (bool, error)
}

type eventPublisher interface {
	Publish(event models.DomainEvent)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// WorkPlanResolver reports whether a work-plan reference points at a known
// document. References outside the local doc:// scheme are opaque and pass.
type WorkPlanResolver interface {
	Resolvable(ref string) bool
}

type requestCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const entryRequestCacheTTL = 5 * time.Minute

func entryRequestCacheKey(id string) string {
	return "entry_request:" + id
}

// ApprovalService drives the two-stage entry request approval workflow.
type ApprovalService struct {
	repo      entryRequestStore
	identity  identityCatalog
	companies companyCatalog
	workPlans WorkPlanResolver
	events    eventPublisher
	audit     auditLogger
	cache     requestCache
	metrics   *MetricsService
	logger    *zap.Logger
}

// ApprovalServiceOption configures the service.
type ApprovalServiceOption func(*ApprovalService)

// WithRequestCache enables read-through caching of entry request lookups.
func WithRequestCache(cache requestCache) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.cache = cache
	}
}

// WithApprovalMetrics records workflow transitions on the metrics registry.
func WithApprovalMetrics(metrics *MetricsService) ApprovalServiceOption {
	return func(s *ApprovalService) {
		s.metrics = metrics
	}
}

// NewApprovalService constructs the service.
func NewApprovalService(repo entryRequestStore, identity identityCatalog, companies companyCatalog, workPlans WorkPlanResolver, events eventPublisher, audit auditLogger, logger *zap.Logger, opts ...ApprovalServiceOption) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ApprovalService{
		repo:      repo,
		identity:  identity,
		companies: companies,
		workPlans: workPlans,
		events:    events,
		audit:     audit,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a new entry request in REQUESTED state. Every referenced
// identity must belong to the requesting company; pairing references must
// resolve within the submitted item list.
func (s *ApprovalService) Submit(ctx context.Context, req dto.SubmitEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.CompanyType != models.CompanyTypeOwner {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "only owner companies submit entry requests")
	}
	if len(req.Items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one item is required")
	}
	if strings.TrimSpace(req.Purpose) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "purpose is required")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.StartDate.After(req.EndDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start date must not be after end date")
	}
	if strings.TrimSpace(req.IntermediateCompanyID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "intermediate company is required")
	}

	resolvable, err := s.companies.ExistsWithType(ctx, req.IntermediateCompanyID, models.CompanyTypeIntermediate)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve intermediate company")
	}
	if !resolvable {
		return nil, appErrors.Clone(appErrors.ErrValidation, "intermediate company is unknown")
	}

	items, err := s.buildItems(ctx, req.Items, actor.CompanyID)
	if err != nil {
		return nil, err
	}

	request := &models.EntryRequest{
		RequesterCompanyID:    actor.CompanyID,
		RequesterUserID:       actor.UserID,
		IntermediateCompanyID: req.IntermediateCompanyID,
		Purpose:               strings.TrimSpace(req.Purpose),
		StartDate:             req.StartDate,
		EndDate:               req.EndDate,
		Status:                models.EntryRequestStatusRequested,
		Items:                 items,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create entry request")
	}

	s.emitEvent(models.EventRequestSubmitted, "entry_request", request.ID, actor.UserID, map[string]interface{}{
		"request_number": request.RequestNumber,
		"status":         request.Status,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestSubmit, request.ID)
	return request, nil
}

func (s *ApprovalService) buildItems(ctx context.Context, payloads []dto.EntryRequestItemPayload, companyID string) ([]models.EntryRequestItem, error) {
	items := make([]models.EntryRequestItem, len(payloads))
	for i, payload := range payloads {
		identityType := models.IdentityTypeWorker
		switch payload.ItemType {
		case models.EntryRequestItemEquipment:
			identityType = models.IdentityTypeEquipment
		case models.EntryRequestItemWorker:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d: unsupported item type", i))
		}
		if strings.TrimSpace(payload.IdentityID) == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d: identity is required", i))
		}

		owned, err := s.identity.OwnedByCompany(ctx, identityType, payload.IdentityID, companyID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check identity ownership")
		}
		if !owned {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d: identity does not belong to the requesting company", i))
		}

		items[i] = models.EntryRequestItem{
			ID:         uuid.NewString(),
			ItemType:   payload.ItemType,
			IdentityID: payload.IdentityID,
		}
	}

	// Pairing resolves by position and must stay inside this request.
	for i, payload := range payloads {
		if payload.PairedIndex == nil {
			continue
		}
		target := *payload.PairedIndex
		if target < 0 || target >= len(items) || target == i {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d: paired index out of range", i))
		}
		if items[target].ItemType == payloads[i].ItemType {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %d: pairing requires one equipment and one worker", i))
		}
		pairedID := items[target].ID
		items[i].PairedItemID = &pairedID
	}
	return items, nil
}

// IntermediateApprove forwards a reviewable request to the final company.
func (s *ApprovalService) IntermediateApprove(ctx context.Context, id string, req dto.IntermediateApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.CompanyID != request.IntermediateCompanyID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "actor company is not the reviewing company")
	}
	if !request.Status.Reviewable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s", request.Status))
	}
	workPlanRef := strings.TrimSpace(req.WorkPlanRef)
	if workPlanRef == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "work plan reference is required")
	}
	if s.workPlans != nil && !s.workPlans.Resolvable(workPlanRef) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "work plan reference does not resolve")
	}
	if strings.TrimSpace(req.FinalCompanyID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "final company is required")
	}
	resolvable, err := s.companies.ExistsWithType(ctx, req.FinalCompanyID, models.CompanyTypeFinal)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve final company")
	}
	if !resolvable {
		return nil, appErrors.Clone(appErrors.ErrValidation, "final company is unknown")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:             request.ID,
		FromStatuses:   []models.EntryRequestStatus{models.EntryRequestStatusRequested, models.EntryRequestStatusIntermediateReviewing},
		ToStatus:       models.EntryRequestStatusFinalReviewing,
		ReviewerID:     actor.UserID,
		ReviewedAt:     now,
		Comment:        optionalString(req.Comment),
		FinalCompanyID: &req.FinalCompanyID,
		WorkPlanRef:    &workPlanRef,
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request was already reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to forward entry request")
	}

	request.Status = models.EntryRequestStatusFinalReviewing
	s.invalidate(ctx, request.ID)
	request.FinalCompanyID = &req.FinalCompanyID
	request.WorkPlanRef = &workPlanRef
	request.IntermediateReviewerID = &actor.UserID
	request.IntermediateReviewedAt = &now
	request.IntermediateComment = optionalString(req.Comment)

	s.emitEvent(models.EventIntermediateApproved, "entry_request", request.ID, actor.UserID, map[string]interface{}{
		"final_company_id": req.FinalCompanyID,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReview, request.ID)
	return request, nil
}

// IntermediateReject terminates a reviewable request with a mandatory reason.
func (s *ApprovalService) IntermediateReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.CompanyID != request.IntermediateCompanyID {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "actor company is not the reviewing company")
	}
	if !request.Status.Reviewable() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s", request.Status))
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:              request.ID,
		FromStatuses:    []models.EntryRequestStatus{models.EntryRequestStatusRequested, models.EntryRequestStatusIntermediateReviewing},
		ToStatus:        models.EntryRequestStatusRejected,
		ReviewerID:      actor.UserID,
		ReviewedAt:      now,
		RejectionReason: &reason,
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request was already reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject entry request")
	}

	request.Status = models.EntryRequestStatusRejected
	s.invalidate(ctx, request.ID)
	request.RejectionReason = &reason
	request.IntermediateReviewerID = &actor.UserID
	request.IntermediateReviewedAt = &now

	s.emitEvent(models.EventIntermediateRejected, "entry_request", request.ID, actor.UserID, map[string]interface{}{
		"reason": reason,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReview, request.ID)
	return request, nil
}

// FinalApprove grants site entry. Approval is the sole unlock for deployment
// creation against the request.
func (s *ApprovalService) FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardFinalActor(request, actor); err != nil {
		return nil, err
	}
	if request.Status != models.EntryRequestStatusFinalReviewing {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s", request.Status))
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:           request.ID,
		FromStatuses: []models.EntryRequestStatus{models.EntryRequestStatusFinalReviewing},
		ToStatus:     models.EntryRequestStatusApproved,
		ReviewerID:   actor.UserID,
		ReviewedAt:   now,
		Comment:      optionalString(req.Comment),
		FinalStage:   true,
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request was already reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve entry request")
	}

	request.Status = models.EntryRequestStatusApproved
	s.invalidate(ctx, request.ID)
	request.FinalReviewerID = &actor.UserID
	request.FinalReviewedAt = &now
	request.FinalComment = optionalString(req.Comment)

	s.emitEvent(models.EventFinalApproved, "entry_request", request.ID, actor.UserID, nil)
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReview, request.ID)
	return request, nil
}

// FinalReject terminates the request at the final stage.
func (s *ApprovalService) FinalReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.guardFinalActor(request, actor); err != nil {
		return nil, err
	}
	if request.Status != models.EntryRequestStatusFinalReviewing {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("request is %s", request.Status))
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:              request.ID,
		FromStatuses:    []models.EntryRequestStatus{models.EntryRequestStatusFinalReviewing},
		ToStatus:        models.EntryRequestStatusRejected,
		ReviewerID:      actor.UserID,
		ReviewedAt:      now,
		RejectionReason: &reason,
		FinalStage:      true,
	}
	if err := s.repo.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "request was already reviewed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject entry request")
	}

	request.Status = models.EntryRequestStatusRejected
	s.invalidate(ctx, request.ID)
	request.RejectionReason = &reason
	request.FinalReviewerID = &actor.UserID
	request.FinalReviewedAt = &now

	s.emitEvent(models.EventFinalRejected, "entry_request", request.ID, actor.UserID, map[string]interface{}{
		"reason": reason,
	})
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestReview, request.ID)
	return request, nil
}

// Get returns the request with its items, enforcing company scope.
func (s *ApprovalService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.EntryRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.cache != nil {
		var cached models.EntryRequest
		if err := s.cache.Get(ctx, entryRequestCacheKey(id), &cached); err == nil {
			if !requestVisibleTo(&cached, actor) {
				return nil, appErrors.ErrForbidden
			}
			return &cached, nil
		}
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !requestVisibleTo(request, actor) {
		return nil, appErrors.ErrForbidden
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, entryRequestCacheKey(id), request, entryRequestCacheTTL); err != nil {
			s.logger.Warn("failed to cache entry request", zap.Error(err))
		}
	}
	return request, nil
}

// List returns requests visible to the actor's company, respecting its role in
// the chain.
func (s *ApprovalService) List(ctx context.Context, query dto.EntryRequestQuery, actor *models.JWTClaims) ([]models.EntryRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.EntryRequestFilter{Status: query.Status}
	switch actor.CompanyType {
	case models.CompanyTypeOwner:
		filter.RequesterCompanyID = actor.CompanyID
	case models.CompanyTypeIntermediate:
		filter.IntermediateCompanyID = actor.CompanyID
	case models.CompanyTypeFinal:
		filter.FinalCompanyID = actor.CompanyID
	default:
		return nil, appErrors.ErrForbidden
	}
	if query.Size > 0 {
		filter.Limit = query.Size
		if query.Page > 1 {
			filter.Offset = (query.Page - 1) * query.Size
		}
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list entry requests")
	}
	return requests, nil
}

func (s *ApprovalService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, entryRequestCacheKey(id)); err != nil {
		s.logger.Warn("failed to invalidate entry request cache", zap.Error(err))
	}
}

func (s *ApprovalService) load(ctx context.Context, id string) (*models.EntryRequest, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load entry request")
	}
	return request, nil
}

func (s *ApprovalService) guardFinalActor(request *models.EntryRequest, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if request.FinalCompanyID == nil {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "request has not reached final review")
	}
	if actor.CompanyID != *request.FinalCompanyID {
		return appErrors.Clone(appErrors.ErrUnauthorized, "actor company is not the final company")
	}
	return nil
}

func requestVisibleTo(request *models.EntryRequest, actor *models.JWTClaims) bool {
	if actor.CompanyID == request.RequesterCompanyID || actor.CompanyID == request.IntermediateCompanyID {
		return true
	}
	return request.FinalCompanyID != nil && actor.CompanyID == *request.FinalCompanyID
}

func (s *ApprovalService) emitEvent(name models.EventName, resource, resourceID, actorID string, payload map[string]interface{}) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(resource, string(name))
	}
	if s.events == nil {
		return
	}
	s.events.Publish(models.DomainEvent{
		Name:       name,
		Resource:   resource,
		ResourceID: resourceID,
		ActorID:    actorID,
		Payload:    payload,
	})
}

func (s *ApprovalService) emitAudit(ctx context.Context, userID, action, resourceID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "entry_request",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "approval-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
