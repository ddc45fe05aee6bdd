package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type violationStore interface {
	FindByID(ctx context.Context, id string) (*models.ViolationRecord, error)
	List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecord, int, error)
	Create(ctx context.Context, rec *models.ViolationRecord) error
	Update(ctx context.Context, rec *models.ViolationRecord) error
	SoftDelete(ctx context.Context, id string) error
}

type typeCatalog interface {
	FindWithRules(ctx context.Context, id string) (*models.ViolationType, error)
}

type studentDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type recordClassifier interface {
	Classify(ctx context.Context, rec *models.ViolationRecord, vtype *models.ViolationType) (models.PointsResult, error)
	StudentTotal(ctx context.Context, studentID string) (*models.StudentPoints, error)
}

type escalator interface {
	Evaluate(ctx context.Context, studentID string) (*models.Recommendation, error)
	SyncCoaching(ctx context.Context, studentID string, rec *models.Recommendation) (*models.CoachingStatus, error)
}

type caseOpener interface {
	Open(ctx context.Context, fc *models.FollowUpCase) error
}

type violationNotifier interface {
	ViolationRecorded(ctx context.Context, student *models.Student, rec *models.ViolationRecord, result *models.PointsResult, recommendation *models.Recommendation)
}

// ViolationService is the recording pipeline: persist the record, classify
// it against the catalog, open a follow-up case when the matched rule calls
// for a letter, and synchronize coaching status. Everything after the
// record insert is best-effort; the committed record is the primary fact
// and later reads re-derive points from it.
type ViolationService struct {
	records    violationStore
	types      typeCatalog
	students   studentDirectory
	calculator recordClassifier
	escalation escalator
	cases      caseOpener
	notifier   violationNotifier
	editWindow time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewViolationService constructs the service. editWindow bounds how long
// non-admin recorders may edit or delete their own records.
func NewViolationService(
	records violationStore,
	types typeCatalog,
	students studentDirectory,
	calculator recordClassifier,
	escalation escalator,
	cases caseOpener,
	notifier violationNotifier,
	editWindow time.Duration,
	validate *validator.Validate,
	logger *zap.Logger,
) *ViolationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if editWindow <= 0 {
		editWindow = 72 * time.Hour
	}
	return &ViolationService{
		records:    records,
		types:      types,
		students:   students,
		calculator: calculator,
		escalation: escalation,
		cases:      cases,
		notifier:   notifier,
		editWindow: editWindow,
		validator:  validate,
		logger:     logger,
	}
}

// RecordViolationRequest describes the create payload.
type RecordViolationRequest struct {
	StudentID       string     `json:"student_id" validate:"required"`
	ViolationTypeID string     `json:"violation_type_id" validate:"required"`
	OccurredAt      *time.Time `json:"occurred_at"`
	Note            *string    `json:"note"`
	EvidencePath    *string    `json:"evidence_path"`
}

// UpdateViolationRequest describes the update payload. Student and type of
// a committed record never change; correcting those means delete and
// re-record.
type UpdateViolationRequest struct {
	OccurredAt   *time.Time `json:"occurred_at"`
	Note         *string    `json:"note"`
	EvidencePath *string    `json:"evidence_path"`
}

// RecordedViolation is the pipeline outcome returned to the caller.
type RecordedViolation struct {
	Record         *models.ViolationRecord `json:"record"`
	Result         *models.PointsResult    `json:"result,omitempty"`
	Recommendation *models.Recommendation  `json:"recommendation,omitempty"`
}

// Record persists a violation and runs the post-commit pipeline.
func (s *ViolationService) Record(ctx context.Context, req RecordViolationRequest, actor models.Actor) (*RecordedViolation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	vtype, err := s.types.FindWithRules(ctx, req.ViolationTypeID)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation type not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation type")
	}
	if !vtype.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "violation type is inactive")
	}
	occurredAt := time.Now().UTC()
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}
	if occurredAt.After(time.Now().UTC().Add(time.Minute)) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "occurred_at cannot be in the future")
	}
	rec := &models.ViolationRecord{
		StudentID:       req.StudentID,
		ViolationTypeID: req.ViolationTypeID,
		RecordedBy:      actor.UserID,
		OccurredAt:      occurredAt,
		Note:            req.Note,
		EvidencePath:    req.EvidencePath,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record violation")
	}

	out := &RecordedViolation{Record: rec}
	result, err := s.calculator.Classify(ctx, rec, vtype)
	if err != nil {
		s.logger.Warn("violation classification failed",
			zap.String("record_id", rec.ID), zap.Error(err))
	} else {
		out.Result = &result
		if result.Rule != nil && result.Rule.TriggersLetter {
			s.openTriggeredCase(ctx, student, vtype, result, actor)
		}
	}
	out.Recommendation = s.resyncCoaching(ctx, rec.StudentID)
	if s.notifier != nil {
		s.notifier.ViolationRecorded(ctx, student, rec, out.Result, out.Recommendation)
	}
	return out, nil
}

// Update modifies a committed record within the edit window, then
// re-synchronizes coaching since earlier-record edits can reshuffle the
// ordinals of everything after them.
func (s *ViolationService) Update(ctx context.Context, id string, req UpdateViolationRequest, actor models.Actor) (*models.ViolationRecord, error) {
	rec, err := s.loadEditable(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.OccurredAt != nil {
		rec.OccurredAt = req.OccurredAt.UTC()
	}
	if req.Note != nil {
		rec.Note = req.Note
	}
	if req.EvidencePath != nil {
		rec.EvidencePath = req.EvidencePath
	}
	if err := s.records.Update(ctx, rec); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update violation record")
	}
	s.resyncCoaching(ctx, rec.StudentID)
	return rec, nil
}

// Delete soft-deletes a record and re-synchronizes coaching.
func (s *ViolationService) Delete(ctx context.Context, id string, actor models.Actor) error {
	rec, err := s.loadEditable(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.records.SoftDelete(ctx, id); err != nil {
		if IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete violation record")
	}
	s.resyncCoaching(ctx, rec.StudentID)
	return nil
}

// Get returns a single record.
func (s *ViolationService) Get(ctx context.Context, id string) (*models.ViolationRecord, error) {
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation record")
	}
	return rec, nil
}

// List returns records with pagination.
func (s *ViolationService) List(ctx context.Context, filter models.ViolationRecordFilter) ([]models.ViolationRecord, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list violation records")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return records, pagination, nil
}

// StudentPoints recomputes the full breakdown for a student.
func (s *ViolationService) StudentPoints(ctx context.Context, studentID string) (*models.StudentPoints, error) {
	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	points, err := s.calculator.StudentTotal(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute student points")
	}
	return points, nil
}

// loadEditable fetches a record and enforces ownership plus the edit
// window. Admins are exempt from both.
func (s *ViolationService) loadEditable(ctx context.Context, id string, actor models.Actor) (*models.ViolationRecord, error) {
	rec, err := s.records.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "violation record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load violation record")
	}
	if actor.Role == models.RoleAdmin {
		return rec, nil
	}
	if rec.RecordedBy != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the recorder may modify this record")
	}
	if time.Since(rec.CreatedAt) > s.editWindow {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "edit window for this record has passed")
	}
	return rec, nil
}

// openTriggeredCase opens a follow-up case for a letter-triggering rule
// match. Failure is logged, never propagated: the violation record is the
// primary entity and a missed case can be opened manually.
func (s *ViolationService) openTriggeredCase(ctx context.Context, student *models.Student, vtype *models.ViolationType, result models.PointsResult, actor models.Actor) {
	if s.cases == nil {
		return
	}
	fc := &models.FollowUpCase{
		StudentID: student.ID,
		TriggerDescription: fmt.Sprintf("%s (pelanggaran ke-%d: %s)",
			vtype.Name, result.Ordinal, result.Rule.Sanction),
		Sanction:  result.Rule.Sanction,
		Status:    models.CaseStatusPendingApproval,
		CreatedBy: actor.UserID,
	}
	if err := s.cases.Open(ctx, fc); err != nil {
		s.logger.Error("failed to open triggered case",
			zap.String("student_id", student.ID),
			zap.String("violation_type_id", vtype.ID),
			zap.Int("ordinal", result.Ordinal),
			zap.Error(err))
		return
	}
	s.logger.Info("follow-up case opened from frequency rule",
		zap.String("case_id", fc.ID),
		zap.String("student_id", student.ID),
		zap.Int("ordinal", result.Ordinal))
}

// resyncCoaching re-evaluates the student's total and ensures a coaching
// record for the matched range. Best effort.
func (s *ViolationService) resyncCoaching(ctx context.Context, studentID string) *models.Recommendation {
	if s.escalation == nil {
		return nil
	}
	recommendation, err := s.escalation.Evaluate(ctx, studentID)
	if err != nil {
		s.logger.Warn("escalation evaluation failed",
			zap.String("student_id", studentID), zap.Error(err))
		return nil
	}
	if recommendation == nil {
		return nil
	}
	if _, err := s.escalation.SyncCoaching(ctx, studentID, recommendation); err != nil {
		s.logger.Warn("coaching sync failed",
			zap.String("student_id", studentID), zap.Error(err))
	}
	return recommendation
}
