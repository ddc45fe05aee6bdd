package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	"github.com/noah-isme/sma-tatib-api/pkg/jobs"
)

// RecipientResolver resolves the users holding the given roles for a
// student's department. Empty departmentID means school-wide.
type RecipientResolver interface {
	ListUserIDsByRole(ctx context.Context, role models.Role, departmentID string) ([]string, error)
}

// NotificationServiceConfig tunes the dispatch queue.
type NotificationServiceConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// NotificationService fans discipline events out to the staff who need to
// act on them. Dispatch is asynchronous and best-effort: enqueue failures
// are logged and never surfaced to the operation that produced the event.
// The sender only logs; actual delivery channels live outside this system.
type NotificationService struct {
	resolver RecipientResolver
	queue    *jobs.Queue
	logger   *zap.Logger
	enabled  bool
}

// NewNotificationService constructs the service and its queue. Call Start
// before enqueueing and Stop on shutdown.
func NewNotificationService(resolver RecipientResolver, cfg NotificationServiceConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{resolver: resolver, logger: logger, enabled: cfg.Enabled}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return s
}

// Start launches the dispatch workers.
func (s *NotificationService) Start(ctx context.Context) {
	if !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	if !s.enabled {
		return
	}
	s.queue.Stop()
}

// ViolationRecorded notifies the roles named by the matched escalation
// range, falling back to the homeroom teacher when no range matched.
func (s *NotificationService) ViolationRecorded(ctx context.Context, student *models.Student, rec *models.ViolationRecord, result *models.PointsResult, recommendation *models.Recommendation) {
	if !s.enabled {
		return
	}
	roles := []models.Role{models.RoleHomeroom}
	message := fmt.Sprintf("Pelanggaran baru tercatat untuk siswa %s", student.FullName)
	if recommendation != nil {
		roles = recommendation.Roles
		message = fmt.Sprintf("Siswa %s mencapai %d poin: %s",
			student.FullName, recommendation.TotalPoints, recommendation.Label)
	}
	recipients := s.resolve(ctx, roles, student.DepartmentID)
	s.enqueue(models.Notification{
		Event:      "violation.recorded",
		StudentID:  student.ID,
		Message:    message,
		Recipients: recipients,
	})
}

// CaseEvent notifies the approval chain about a case lifecycle event.
func (s *NotificationService) CaseEvent(ctx context.Context, fc *models.FollowUpCase, event string) {
	if !s.enabled {
		return
	}
	roles := []models.Role{models.RoleCounselor}
	if fc.Status == models.CaseStatusPendingApproval {
		roles = []models.Role{models.RoleHeadmaster, models.RoleStudentAffairs, models.RoleProgramHead}
	}
	recipients := s.resolve(ctx, roles, "")
	s.enqueue(models.Notification{
		Event:      "case." + event,
		StudentID:  fc.StudentID,
		CaseID:     fc.ID,
		Message:    fmt.Sprintf("Kasus tindak lanjut %s: %s", event, fc.TriggerDescription),
		Recipients: recipients,
	})
}

// CoachingCreated notifies the roles the matched range requires.
func (s *NotificationService) CoachingCreated(ctx context.Context, cs *models.CoachingStatus, roles []models.Role, departmentID string) {
	if !s.enabled {
		return
	}
	recipients := s.resolve(ctx, roles, departmentID)
	s.enqueue(models.Notification{
		Event:      "coaching.needed",
		StudentID:  cs.StudentID,
		Message:    cs.Recommendation,
		Recipients: recipients,
	})
}

func (s *NotificationService) resolve(ctx context.Context, roles []models.Role, departmentID string) []string {
	seen := make(map[string]struct{})
	var recipients []string
	for _, role := range roles {
		ids, err := s.resolver.ListUserIDsByRole(ctx, role, departmentID)
		if err != nil {
			s.logger.Warn("recipient resolution failed",
				zap.String("role", string(role)), zap.Error(err))
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			recipients = append(recipients, id)
		}
	}
	return recipients
}

func (s *NotificationService) enqueue(n models.Notification) {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	job := jobs.Job{ID: n.ID, Kind: n.Event, Payload: n}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("event", n.Event),
			zap.String("student_id", n.StudentID),
			zap.Error(err))
	}
}

// deliver is the queue handler. Delivery channels (email, app push) are
// external collaborators; here the event is logged as handed off.
func (s *NotificationService) deliver(_ context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	s.logger.Info("notification dispatched",
		zap.String("event", n.Event),
		zap.String("student_id", n.StudentID),
		zap.String("case_id", n.CaseID),
		zap.Int("recipients", len(n.Recipients)),
		zap.String("message", n.Message))
	return nil
}
