package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type escalationRangeReader interface {
	ListActive(ctx context.Context) ([]models.EscalationRange, error)
	FindByID(ctx context.Context, id string) (*models.EscalationRange, error)
}

type coachingStore interface {
	FindByID(ctx context.Context, id string) (*models.CoachingStatus, error)
	List(ctx context.Context, filter models.CoachingStatusFilter) ([]models.CoachingStatus, int, error)
	CreateIfAbsent(ctx context.Context, cs *models.CoachingStatus) (bool, error)
	MarkInProgress(ctx context.Context, id, startedBy string) error
	MarkCompleted(ctx context.Context, id, completedBy, outcome string) error
}

type studentPointsProvider interface {
	StudentTotal(ctx context.Context, studentID string) (*models.StudentPoints, error)
}

type coachingNotifier interface {
	CoachingCreated(ctx context.Context, cs *models.CoachingStatus, roles []models.Role, departmentID string)
}

// EscalationService is the threshold engine plus the coaching-status
// synchronizer. A student's recomputed point total is classified against
// the configured ranges; totals falling between two bands are intentional
// no-action zones and produce no recommendation.
type EscalationService struct {
	ranges   escalationRangeReader
	coaching coachingStore
	points   studentPointsProvider
	students studentDirectory
	notifier coachingNotifier
	logger   *zap.Logger
}

// NewEscalationService constructs the service. students and notifier may
// be nil, in which case newly created coaching records notify nobody.
func NewEscalationService(ranges escalationRangeReader, coaching coachingStore, points studentPointsProvider, students studentDirectory, notifier coachingNotifier, logger *zap.Logger) *EscalationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{ranges: ranges, coaching: coaching, points: points, students: students, notifier: notifier, logger: logger}
}

// MatchEscalationRange returns the first range, by display order, covering
// the total, or nil when none matches.
func MatchEscalationRange(ranges []models.EscalationRange, total int) *models.EscalationRange {
	sorted := make([]models.EscalationRange, len(ranges))
	copy(sorted, ranges)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DisplayOrder != sorted[j].DisplayOrder {
			return sorted[i].DisplayOrder < sorted[j].DisplayOrder
		}
		return sorted[i].MinPoints < sorted[j].MinPoints
	})
	for i := range sorted {
		if !sorted[i].Active {
			continue
		}
		if sorted[i].Matches(total) {
			er := sorted[i]
			return &er
		}
	}
	return nil
}

// Evaluate recomputes the student's total and classifies it. Returns nil
// when no range matches.
func (s *EscalationService) Evaluate(ctx context.Context, studentID string) (*models.Recommendation, error) {
	points, err := s.points.StudentTotal(ctx, studentID)
	if err != nil {
		return nil, err
	}
	ranges, err := s.ranges.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load escalation ranges")
	}
	matched := MatchEscalationRange(ranges, points.Total)
	if matched == nil {
		return nil, nil
	}
	return &models.Recommendation{
		RangeID:     matched.ID,
		Label:       matched.Label,
		Guidance:    matched.Guidance,
		Roles:       matched.Roles,
		TotalPoints: points.Total,
	}, nil
}

// SyncCoaching idempotently ensures a tracking record exists for the
// matched range. An existing non-completed record is left untouched; a
// new one freezes the point total and recommendation text at creation
// time. Returns the created record, or nil when nothing was created.
func (s *EscalationService) SyncCoaching(ctx context.Context, studentID string, rec *models.Recommendation) (*models.CoachingStatus, error) {
	if rec == nil {
		return nil, nil
	}
	cs := &models.CoachingStatus{
		StudentID:      studentID,
		RangeID:        rec.RangeID,
		PointsSnapshot: rec.TotalPoints,
		Recommendation: recommendationSnapshot(rec),
	}
	created, err := s.coaching.CreateIfAbsent(ctx, cs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sync coaching status")
	}
	if !created {
		return nil, nil
	}
	s.logger.Info("coaching status created",
		zap.String("student_id", studentID),
		zap.String("range_id", rec.RangeID),
		zap.Int("points", rec.TotalPoints))
	s.notifyCreated(ctx, cs, rec)
	return cs, nil
}

// notifyCreated tells the range's required roles about a new coaching
// record, scoped to the student's department when the student resolves.
func (s *EscalationService) notifyCreated(ctx context.Context, cs *models.CoachingStatus, rec *models.Recommendation) {
	if s.notifier == nil {
		return
	}
	departmentID := ""
	if s.students != nil {
		student, err := s.students.FindByID(ctx, cs.StudentID)
		if err != nil {
			s.logger.Warn("student lookup for coaching notification failed",
				zap.String("student_id", cs.StudentID), zap.Error(err))
		} else {
			departmentID = student.DepartmentID
		}
	}
	s.notifier.CoachingCreated(ctx, cs, rec.Roles, departmentID)
}

// List returns coaching records.
func (s *EscalationService) List(ctx context.Context, filter models.CoachingStatusFilter) ([]models.CoachingStatus, *models.Pagination, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	records, total, err := s.coaching.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list coaching statuses")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return records, pagination, nil
}

// Start transitions a coaching record to IN_PROGRESS. The acting user's
// role must be among the range's required roles.
func (s *EscalationService) Start(ctx context.Context, id string, actor models.Actor) (*models.CoachingStatus, error) {
	cs, err := s.coaching.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coaching status not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coaching status")
	}
	if cs.State != models.CoachingNeeded {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("coaching status is not %s", models.CoachingNeeded))
	}
	if err := s.requireRangeRole(ctx, cs.RangeID, actor); err != nil {
		return nil, err
	}
	if err := s.coaching.MarkInProgress(ctx, id, actor.UserID); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState,
				fmt.Sprintf("coaching status is not %s", models.CoachingNeeded))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to start coaching")
	}
	return s.coaching.FindByID(ctx, id)
}

// Complete transitions a coaching record to COMPLETED with an outcome.
// Allowed for the user who started it or any holder of a required role.
func (s *EscalationService) Complete(ctx context.Context, id, outcome string, actor models.Actor) (*models.CoachingStatus, error) {
	if strings.TrimSpace(outcome) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "outcome is required")
	}
	cs, err := s.coaching.FindByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "coaching status not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coaching status")
	}
	if cs.State != models.CoachingInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidState,
			fmt.Sprintf("coaching status is not %s", models.CoachingInProgress))
	}
	isStarter := cs.StartedBy != nil && *cs.StartedBy == actor.UserID
	if !isStarter {
		if err := s.requireRangeRole(ctx, cs.RangeID, actor); err != nil {
			return nil, err
		}
	}
	if err := s.coaching.MarkCompleted(ctx, id, actor.UserID, strings.TrimSpace(outcome)); err != nil {
		if IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState,
				fmt.Sprintf("coaching status is not %s", models.CoachingInProgress))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete coaching")
	}
	return s.coaching.FindByID(ctx, id)
}

func (s *EscalationService) requireRangeRole(ctx context.Context, rangeID string, actor models.Actor) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	er, err := s.ranges.FindByID(ctx, rangeID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load escalation range")
	}
	if !models.RolesContain(er.Roles, actor.Role) {
		s.logger.Warn("coaching action denied",
			zap.String("actor_id", actor.UserID),
			zap.String("role", string(actor.Role)),
			zap.String("range_id", rangeID))
		return appErrors.Clone(appErrors.ErrForbidden, "role is not involved in this coaching range")
	}
	return nil
}

func recommendationSnapshot(rec *models.Recommendation) string {
	roles := make([]string, len(rec.Roles))
	for i, r := range rec.Roles {
		roles[i] = string(r)
	}
	return fmt.Sprintf("%s: %s (pembina: %s)", rec.Label, rec.Guidance, strings.Join(roles, ", "))
}
