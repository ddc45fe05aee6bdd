package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

// suspensionKeyword flags sanctions that suspend the student. Matched
// case-insensitively as a substring of the sanction text.
const suspensionKeyword = "skorsing"

type caseStore interface {
	FindByID(ctx context.Context, id string) (*models.FollowUpCase, error)
	List(ctx context.Context, filter models.FollowUpCaseFilter) ([]models.FollowUpCase, int, error)
	Create(ctx context.Context, fc *models.FollowUpCase) error
	UpdateFields(ctx context.Context, fc *models.FollowUpCase) error
	Approve(ctx context.Context, id, approvedBy string) error
	Reject(ctx context.Context, id, approvedBy, reason string) error
	MarkInProgress(ctx context.Context, id, startedBy string) error
	MarkCompleted(ctx context.Context, id, completedBy string) error
	SoftDelete(ctx context.Context, id string) error
	CountActiveByStudent(ctx context.Context, studentID, excludeCaseID string) (int, error)
}

type studentStatusStore interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error
}

type caseNotifier interface {
	CaseEvent(ctx context.Context, fc *models.FollowUpCase, event string)
}

// CaseService drives the follow-up case state machine.
//
//	NEW → PENDING_APPROVAL → APPROVED | REJECTED
//	NEW | APPROVED → IN_PROGRESS → COMPLETED
//
// Transitions execute as guarded single-row updates in the store; losing a
// race surfaces as an invalid-state error, never as silent clobbering.
// Student-status side effects (suspension on creation, restoration on
// completion or deletion) are best-effort and logged on failure.
type CaseService struct {
	cases     caseStore
	students  studentStatusStore
	notifier  caseNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCaseService constructs the service.
func NewCaseService(cases caseStore, students studentStatusStore, notifier caseNotifier, validate *validator.Validate, logger *zap.Logger) *CaseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseService{cases: cases, students: students, notifier: notifier, validator: validate, logger: logger}
}

// CreateCaseRequest describes the create payload.
type CreateCaseRequest struct {
	StudentID          string     `json:"student_id" validate:"required"`
	TriggerDescription string     `json:"trigger_description" validate:"required"`
	Sanction           string     `json:"sanction" validate:"required"`
	Fine               *string    `json:"fine"`
	Status             string     `json:"status"`
	MeetingDate        *time.Time `json:"meeting_date"`
}

// UpdateCaseRequest describes the update payload. Nil fields are left
// unchanged.
type UpdateCaseRequest struct {
	TriggerDescription *string    `json:"trigger_description"`
	Sanction           *string    `json:"sanction"`
	Fine               *string    `json:"fine"`
	Status             *string    `json:"status"`
	MeetingDate        *time.Time `json:"meeting_date"`
}

// Create opens a case manually. Allowed for unrestricted-case roles and
// the headmaster, who may pick any initial status; it defaults to NEW.
func (s *CaseService) Create(ctx context.Context, req CreateCaseRequest, actor models.Actor) (*models.FollowUpCase, error) {
	if !actor.Role.CanManageCases() && actor.Role != models.RoleHeadmaster {
		s.denied(actor, "case.create")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not create follow-up cases")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	status := models.CaseStatusNew
	if req.Status != "" {
		status = models.CaseStatus(req.Status)
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown case status %q", req.Status))
		}
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	fc := &models.FollowUpCase{
		StudentID:          req.StudentID,
		TriggerDescription: req.TriggerDescription,
		Sanction:           req.Sanction,
		Fine:               req.Fine,
		Status:             status,
		MeetingDate:        req.MeetingDate,
		CreatedBy:          actor.UserID,
	}
	if err := s.open(ctx, fc, student); err != nil {
		return nil, err
	}
	s.notify(ctx, fc, "created")
	return fc, nil
}

// Open persists an automatically triggered case and applies the suspension
// side effect. Used by the violation pipeline; role guards do not apply
// because the trigger is a matched frequency rule, not a user decision.
func (s *CaseService) Open(ctx context.Context, fc *models.FollowUpCase) error {
	student, err := s.students.FindByID(ctx, fc.StudentID)
	if err != nil {
		if IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if fc.Status == "" {
		fc.Status = models.CaseStatusPendingApproval
	}
	if err := s.open(ctx, fc, student); err != nil {
		return err
	}
	s.notify(ctx, fc, "created")
	return nil
}

func (s *CaseService) open(ctx context.Context, fc *models.FollowUpCase, student *models.Student) error {
	if err := s.cases.Create(ctx, fc); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create case")
	}
	if SanctionSuspends(fc.Sanction) && student.Status != models.StudentStatusSuspended {
		if err := s.students.UpdateStatus(ctx, student.ID, models.StudentStatusSuspended); err != nil {
			s.logger.Error("failed to suspend student",
				zap.String("case_id", fc.ID),
				zap.String("student_id", student.ID),
				zap.Error(err))
		} else {
			s.logger.Info("student suspended by sanction",
				zap.String("case_id", fc.ID),
				zap.String("student_id", student.ID))
		}
	}
	return nil
}

// Approve transitions PENDING_APPROVAL → APPROVED.
func (s *CaseService) Approve(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error) {
	fc, err := s.loadForApproval(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if err := s.cases.Approve(ctx, id, actor.UserID); err != nil {
		return nil, s.transitionErr(err, models.CaseStatusPendingApproval, "approve case")
	}
	fc, err = s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, fc, "approved")
	return fc, nil
}

// Reject transitions PENDING_APPROVAL → REJECTED with a reason.
func (s *CaseService) Reject(ctx context.Context, id, reason string, actor models.Actor) (*models.FollowUpCase, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	if _, err := s.loadForApproval(ctx, id, actor); err != nil {
		return nil, err
	}
	if err := s.cases.Reject(ctx, id, actor.UserID, reason); err != nil {
		return nil, s.transitionErr(err, models.CaseStatusPendingApproval, "reject case")
	}
	fc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, fc, "rejected")
	return fc, nil
}

// Start transitions NEW or APPROVED → IN_PROGRESS, defaulting the meeting
// date to now when unset.
func (s *CaseService) Start(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error) {
	fc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayHandle(fc, actor) {
		s.denied(actor, "case.start")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not handle this case")
	}
	if fc.Status != models.CaseStatusNew && fc.Status != models.CaseStatusApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("case status is not %s or %s", models.CaseStatusNew, models.CaseStatusApproved))
	}
	if err := s.cases.MarkInProgress(ctx, id, actor.UserID); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState,
				fmt.Sprintf("case status is not %s or %s", models.CaseStatusNew, models.CaseStatusApproved))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start case")
	}
	fc, err = s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, fc, "started")
	return fc, nil
}

// Complete transitions IN_PROGRESS → COMPLETED and restores the student's
// status when no other active case remains.
func (s *CaseService) Complete(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error) {
	fc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayHandle(fc, actor) {
		s.denied(actor, "case.complete")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not handle this case")
	}
	if fc.Status != models.CaseStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("case status is not %s", models.CaseStatusInProgress))
	}
	if err := s.cases.MarkCompleted(ctx, id, actor.UserID); err != nil {
		return nil, s.transitionErr(err, models.CaseStatusInProgress, "complete case")
	}
	s.restoreStudentStatus(ctx, fc)
	fc, err = s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, fc, "completed")
	return fc, nil
}

// Update edits case fields. Unrestricted roles and the headmaster may edit
// any case; others only cases they created. Setting the status to
// COMPLETED through an edit fires the restoration side effect too.
func (s *CaseService) Update(ctx context.Context, id string, req UpdateCaseRequest, actor models.Actor) (*models.FollowUpCase, error) {
	fc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := actor.Role.CanManageCases() || actor.Role == models.RoleHeadmaster || fc.CreatedBy == actor.UserID
	if !allowed {
		s.denied(actor, "case.update")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not edit this case")
	}
	if fc.Status.Terminal() && !actor.Role.CanManageCases() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "case is closed")
	}
	if req.TriggerDescription != nil {
		fc.TriggerDescription = *req.TriggerDescription
	}
	if req.Sanction != nil {
		fc.Sanction = *req.Sanction
	}
	if req.Fine != nil {
		fc.Fine = req.Fine
	}
	if req.MeetingDate != nil {
		fc.MeetingDate = req.MeetingDate
	}
	completing := false
	if req.Status != nil {
		next := models.CaseStatus(*req.Status)
		if !next.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown case status %q", *req.Status))
		}
		completing = next == models.CaseStatusCompleted && fc.Status != models.CaseStatusCompleted
		fc.Status = next
	}
	if err := s.cases.UpdateFields(ctx, fc); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update case")
	}
	if completing {
		s.restoreStudentStatus(ctx, fc)
	}
	return fc, nil
}

// Delete soft-deletes a case and fires the restoration side effect.
// Unrestricted-case roles only.
func (s *CaseService) Delete(ctx context.Context, id string, actor models.Actor) error {
	if !actor.Role.CanManageCases() {
		s.denied(actor, "case.delete")
		return appErrors.Clone(appErrors.ErrForbidden, "role may not delete follow-up cases")
	}
	fc, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.cases.SoftDelete(ctx, id); err != nil {
		if IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete case")
	}
	s.restoreStudentStatus(ctx, fc)
	return nil
}

// Get returns a single case.
func (s *CaseService) Get(ctx context.Context, id string) (*models.FollowUpCase, error) {
	return s.get(ctx, id)
}

// List returns cases with pagination.
func (s *CaseService) List(ctx context.Context, filter models.FollowUpCaseFilter) ([]models.FollowUpCase, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	cases, total, err := s.cases.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cases")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return cases, pagination, nil
}

// SanctionSuspends reports whether the sanction text suspends the student.
func SanctionSuspends(sanction string) bool {
	return strings.Contains(strings.ToLower(sanction), suspensionKeyword)
}

func (s *CaseService) get(ctx context.Context, id string) (*models.FollowUpCase, error) {
	fc, err := s.cases.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "case not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load case")
	}
	return fc, nil
}

// loadForApproval checks the approval guard: headmaster and student-affairs
// approve unconditionally, a program head only for students of their own
// department.
func (s *CaseService) loadForApproval(ctx context.Context, id string, actor models.Actor) (*models.FollowUpCase, error) {
	fc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fc.Status != models.CaseStatusPendingApproval {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("case status is not %s", models.CaseStatusPendingApproval))
	}
	switch actor.Role {
	case models.RoleAdmin, models.RoleHeadmaster, models.RoleStudentAffairs:
		return fc, nil
	case models.RoleProgramHead:
		student, err := s.students.FindByID(ctx, fc.StudentID)
		if err != nil {
			if IsNotFound(err) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		}
		if actor.DepartmentID == "" || student.DepartmentID != actor.DepartmentID {
			s.denied(actor, "case.approve")
			return nil, appErrors.Clone(appErrors.ErrForbidden, "program head may only approve cases in their own department")
		}
		return fc, nil
	default:
		s.denied(actor, "case.approve")
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not approve or reject cases")
	}
}

// mayHandle gates start/complete: unrestricted roles, headmaster, the
// creator, or whoever started the case.
func (s *CaseService) mayHandle(fc *models.FollowUpCase, actor models.Actor) bool {
	if actor.Role.CanManageCases() || actor.Role == models.RoleHeadmaster {
		return true
	}
	if fc.CreatedBy == actor.UserID {
		return true
	}
	return fc.StartedBy != nil && *fc.StartedBy == actor.UserID
}

// restoreStudentStatus resets a suspended student to ACTIVE when the given
// case was their last active one. Best effort.
func (s *CaseService) restoreStudentStatus(ctx context.Context, fc *models.FollowUpCase) {
	remaining, err := s.cases.CountActiveByStudent(ctx, fc.StudentID, fc.ID)
	if err != nil {
		s.logger.Error("failed to count active cases",
			zap.String("student_id", fc.StudentID), zap.Error(err))
		return
	}
	if remaining > 0 {
		return
	}
	if err := s.students.UpdateStatus(ctx, fc.StudentID, models.StudentStatusActive); err != nil {
		s.logger.Error("failed to restore student status",
			zap.String("student_id", fc.StudentID), zap.Error(err))
		return
	}
	s.logger.Info("student status restored",
		zap.String("student_id", fc.StudentID),
		zap.String("case_id", fc.ID))
}

func (s *CaseService) transitionErr(err error, expected models.CaseStatus, op string) error {
	if IsNotFound(err) {
		return appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("case status is not %s", expected))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+op)
}

func (s *CaseService) notify(ctx context.Context, fc *models.FollowUpCase, event string) {
	if s.notifier == nil {
		return
	}
	s.notifier.CaseEvent(ctx, fc, event)
}

func (s *CaseService) denied(actor models.Actor, action string) {
	s.logger.Warn("authorization denied",
		zap.String("actor_id", actor.UserID),
		zap.String("role", string(actor.Role)),
		zap.String("action", action))
}
