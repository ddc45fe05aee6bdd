package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-tatib-api/internal/models"
	appErrors "github.com/noah-isme/sma-tatib-api/pkg/errors"
)

type caseStoreStub struct {
	items map[string]*models.FollowUpCase
	seq   int
}

func newCaseStoreStub() *caseStoreStub {
	return &caseStoreStub{items: map[string]*models.FollowUpCase{}}
}

func (s *caseStoreStub) FindByID(ctx context.Context, id string) (*models.FollowUpCase, error) {
	fc, ok := s.items[id]
	if !ok || fc.DeletedAt != nil {
		return nil, sql.ErrNoRows
	}
	copied := *fc
	return &copied, nil
}

func (s *caseStoreStub) List(ctx context.Context, filter models.FollowUpCaseFilter) ([]models.FollowUpCase, int, error) {
	result := []models.FollowUpCase{}
	for _, fc := range s.items {
		if fc.DeletedAt == nil {
			result = append(result, *fc)
		}
	}
	return result, len(result), nil
}

func (s *caseStoreStub) Create(ctx context.Context, fc *models.FollowUpCase) error {
	s.seq++
	fc.ID = fmt.Sprintf("case-%d", s.seq)
	stored := *fc
	s.items[fc.ID] = &stored
	return nil
}

func (s *caseStoreStub) UpdateFields(ctx context.Context, fc *models.FollowUpCase) error {
	if _, ok := s.items[fc.ID]; !ok {
		return sql.ErrNoRows
	}
	stored := *fc
	s.items[fc.ID] = &stored
	return nil
}

func (s *caseStoreStub) Approve(ctx context.Context, id, approvedBy string) error {
	return s.transition(id, models.CaseStatusPendingApproval, func(fc *models.FollowUpCase) {
		fc.Status = models.CaseStatusApproved
		fc.ApprovedBy = &approvedBy
	})
}

func (s *caseStoreStub) Reject(ctx context.Context, id, approvedBy, reason string) error {
	return s.transition(id, models.CaseStatusPendingApproval, func(fc *models.FollowUpCase) {
		fc.Status = models.CaseStatusRejected
		fc.ApprovedBy = &approvedBy
		fc.RejectionReason = &reason
	})
}

func (s *caseStoreStub) MarkInProgress(ctx context.Context, id, startedBy string) error {
	fc, ok := s.items[id]
	if !ok || (fc.Status != models.CaseStatusNew && fc.Status != models.CaseStatusApproved) {
		return sql.ErrNoRows
	}
	fc.Status = models.CaseStatusInProgress
	fc.StartedBy = &startedBy
	return nil
}

func (s *caseStoreStub) MarkCompleted(ctx context.Context, id, completedBy string) error {
	return s.transition(id, models.CaseStatusInProgress, func(fc *models.FollowUpCase) {
		fc.Status = models.CaseStatusCompleted
		fc.CompletedBy = &completedBy
	})
}

func (s *caseStoreStub) SoftDelete(ctx context.Context, id string) error {
	fc, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := fc.CreatedAt
	fc.DeletedAt = &now
	return nil
}

func (s *caseStoreStub) CountActiveByStudent(ctx context.Context, studentID, excludeCaseID string) (int, error) {
	count := 0
	for _, fc := range s.items {
		if fc.DeletedAt != nil || fc.StudentID != studentID || fc.ID == excludeCaseID {
			continue
		}
		for _, st := range models.ActiveCaseStatuses() {
			if fc.Status == st {
				count++
				break
			}
		}
	}
	return count, nil
}

func (s *caseStoreStub) transition(id string, expected models.CaseStatus, apply func(*models.FollowUpCase)) error {
	fc, ok := s.items[id]
	if !ok || fc.Status != expected {
		return sql.ErrNoRows
	}
	apply(fc)
	return nil
}

type studentStatusStoreStub struct {
	students map[string]*models.Student
	updates  []models.StudentStatus
}

func newStudentStatusStoreStub() *studentStatusStoreStub {
	return &studentStatusStoreStub{students: map[string]*models.Student{
		"st-1": {ID: "st-1", FullName: "Budi Santoso", DepartmentID: "dep-1", Status: models.StudentStatusActive},
	}}
}

func (s *studentStatusStoreStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	st, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *st
	return &copied, nil
}

func (s *studentStatusStoreStub) UpdateStatus(ctx context.Context, id string, status models.StudentStatus) error {
	st, ok := s.students[id]
	if !ok {
		return sql.ErrNoRows
	}
	st.Status = status
	s.updates = append(s.updates, status)
	return nil
}

type caseNotifierStub struct {
	events []string
}

func (s *caseNotifierStub) CaseEvent(ctx context.Context, fc *models.FollowUpCase, event string) {
	s.events = append(s.events, event)
}

type caseFixture struct {
	store    *caseStoreStub
	students *studentStatusStoreStub
	notifier *caseNotifierStub
	svc      *CaseService
}

func newCaseFixture() *caseFixture {
	f := &caseFixture{
		store:    newCaseStoreStub(),
		students: newStudentStatusStoreStub(),
		notifier: &caseNotifierStub{},
	}
	f.svc = NewCaseService(f.store, f.students, f.notifier, nil, nil)
	return f
}

func (f *caseFixture) seedCase(status models.CaseStatus) *models.FollowUpCase {
	fc := &models.FollowUpCase{StudentID: "st-1", TriggerDescription: "Kedisiplinan",
		Sanction: "Pembinaan", Status: status, CreatedBy: "u-creator"}
	_ = f.store.Create(context.Background(), fc)
	f.store.items[fc.ID].Status = status
	return fc
}

func TestSanctionSuspends(t *testing.T) {
	assert.True(t, SanctionSuspends("Skorsing 3 hari"))
	assert.True(t, SanctionSuspends("dikenakan SKORSING"))
	assert.False(t, SanctionSuspends("Teguran tertulis"))
	assert.False(t, SanctionSuspends(""))
}

func TestCreateCaseForbiddenForTeacher(t *testing.T) {
	f := newCaseFixture()
	_, err := f.svc.Create(context.Background(), CreateCaseRequest{
		StudentID: "st-1", TriggerDescription: "x", Sanction: "Pembinaan",
	}, models.Actor{UserID: "u-1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCreateCaseDefaultsToNew(t *testing.T) {
	f := newCaseFixture()
	fc, err := f.svc.Create(context.Background(), CreateCaseRequest{
		StudentID: "st-1", TriggerDescription: "Perkelahian", Sanction: "Pembinaan",
	}, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusNew, fc.Status)
	assert.Equal(t, "u-bk", fc.CreatedBy)
	assert.Equal(t, []string{"created"}, f.notifier.events)
}

func TestCreateCaseSuspensionSanctionSuspendsStudent(t *testing.T) {
	f := newCaseFixture()
	_, err := f.svc.Create(context.Background(), CreateCaseRequest{
		StudentID: "st-1", TriggerDescription: "Perkelahian berat", Sanction: "Skorsing 5 hari",
	}, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusSuspended, f.students.students["st-1"].Status)
}

func TestCreateCaseUnknownStatus(t *testing.T) {
	f := newCaseFixture()
	_, err := f.svc.Create(context.Background(), CreateCaseRequest{
		StudentID: "st-1", TriggerDescription: "x", Sanction: "Pembinaan", Status: "ARCHIVED",
	}, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestOpenDefaultsToPendingApproval(t *testing.T) {
	f := newCaseFixture()
	fc := &models.FollowUpCase{StudentID: "st-1", TriggerDescription: "Terlambat (pelanggaran ke-4)",
		Sanction: "Surat peringatan", CreatedBy: "u-1"}
	require.NoError(t, f.svc.Open(context.Background(), fc))
	assert.Equal(t, models.CaseStatusPendingApproval, fc.Status)
	assert.NotEmpty(t, fc.ID)
}

func TestApproveByHeadmaster(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	approved, err := f.svc.Approve(context.Background(), fc.ID, models.Actor{UserID: "u-ks", Role: models.RoleHeadmaster})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "u-ks", *approved.ApprovedBy)
}

func TestApproveByProgramHeadSameDepartment(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	approved, err := f.svc.Approve(context.Background(), fc.ID,
		models.Actor{UserID: "u-kaprodi", Role: models.RoleProgramHead, DepartmentID: "dep-1"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusApproved, approved.Status)
}

func TestApproveByProgramHeadOtherDepartmentForbidden(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	_, err := f.svc.Approve(context.Background(), fc.ID,
		models.Actor{UserID: "u-kaprodi", Role: models.RoleProgramHead, DepartmentID: "dep-2"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.CaseStatusPendingApproval, f.store.items[fc.ID].Status)
}

func TestApproveByTeacherForbidden(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	_, err := f.svc.Approve(context.Background(), fc.ID, models.Actor{UserID: "u-1", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApproveWrongState(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusNew)

	_, err := f.svc.Approve(context.Background(), fc.ID, models.Actor{UserID: "u-ks", Role: models.RoleHeadmaster})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.CaseStatusNew, f.store.items[fc.ID].Status)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	_, err := f.svc.Reject(context.Background(), fc.ID, "   ", models.Actor{UserID: "u-ks", Role: models.RoleHeadmaster})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestRejectRecordsReason(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	rejected, err := f.svc.Reject(context.Background(), fc.ID, "Bukti tidak cukup",
		models.Actor{UserID: "u-waka", Role: models.RoleStudentAffairs})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "Bukti tidak cukup", *rejected.RejectionReason)
	// The trigger description never absorbs the rejection reason.
	assert.Equal(t, "Kedisiplinan", rejected.TriggerDescription)
}

func TestStartFromNewAndApproved(t *testing.T) {
	f := newCaseFixture()
	actor := models.Actor{UserID: "u-bk", Role: models.RoleCounselor}

	fresh := f.seedCase(models.CaseStatusNew)
	started, err := f.svc.Start(context.Background(), fresh.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusInProgress, started.Status)

	approved := f.seedCase(models.CaseStatusApproved)
	started, err = f.svc.Start(context.Background(), approved.ID, actor)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusInProgress, started.Status)
}

func TestStartFromPendingApprovalFails(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusPendingApproval)

	_, err := f.svc.Start(context.Background(), fc.ID, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.CaseStatusPendingApproval, f.store.items[fc.ID].Status)
}

func TestCompleteRestoresStudentStatus(t *testing.T) {
	f := newCaseFixture()
	f.students.students["st-1"].Status = models.StudentStatusSuspended
	fc := f.seedCase(models.CaseStatusInProgress)

	completed, err := f.svc.Complete(context.Background(), fc.ID, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusCompleted, completed.Status)
	assert.Equal(t, models.StudentStatusActive, f.students.students["st-1"].Status)
}

func TestCompleteLeavesSuspensionWhileOtherCaseActive(t *testing.T) {
	f := newCaseFixture()
	f.students.students["st-1"].Status = models.StudentStatusSuspended
	fc := f.seedCase(models.CaseStatusInProgress)
	f.seedCase(models.CaseStatusApproved)

	_, err := f.svc.Complete(context.Background(), fc.ID, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusSuspended, f.students.students["st-1"].Status)
	assert.Empty(t, f.students.updates)
}

func TestCompleteFromWrongStateLeavesCaseUntouched(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusNew)

	_, err := f.svc.Complete(context.Background(), fc.ID, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.CaseStatusNew, f.store.items[fc.ID].Status)
	assert.Empty(t, f.students.updates)
}

func TestCompleteByUninvolvedTeacherForbidden(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusInProgress)

	_, err := f.svc.Complete(context.Background(), fc.ID, models.Actor{UserID: "u-x", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestUpdateByCreator(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusNew)
	sanction := "Pembinaan khusus"

	updated, err := f.svc.Update(context.Background(), fc.ID, UpdateCaseRequest{Sanction: &sanction},
		models.Actor{UserID: "u-creator", Role: models.RoleTeacher})
	require.NoError(t, err)
	assert.Equal(t, sanction, updated.Sanction)
}

func TestUpdateTerminalCaseBlockedForNonManagers(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusCompleted)
	sanction := "x"

	_, err := f.svc.Update(context.Background(), fc.ID, UpdateCaseRequest{Sanction: &sanction},
		models.Actor{UserID: "u-creator", Role: models.RoleTeacher})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestUpdateStatusToCompletedRestoresStudent(t *testing.T) {
	f := newCaseFixture()
	f.students.students["st-1"].Status = models.StudentStatusSuspended
	fc := f.seedCase(models.CaseStatusInProgress)
	completed := string(models.CaseStatusCompleted)

	_, err := f.svc.Update(context.Background(), fc.ID, UpdateCaseRequest{Status: &completed},
		models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, f.students.students["st-1"].Status)
}

func TestDeleteRequiresManageRole(t *testing.T) {
	f := newCaseFixture()
	fc := f.seedCase(models.CaseStatusNew)

	err := f.svc.Delete(context.Background(), fc.ID, models.Actor{UserID: "u-ks", Role: models.RoleHeadmaster})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeleteLastActiveCaseRestoresStudent(t *testing.T) {
	f := newCaseFixture()
	f.students.students["st-1"].Status = models.StudentStatusSuspended
	fc := f.seedCase(models.CaseStatusPendingApproval)

	err := f.svc.Delete(context.Background(), fc.ID, models.Actor{UserID: "u-bk", Role: models.RoleCounselor})
	require.NoError(t, err)
	assert.Equal(t, models.StudentStatusActive, f.students.students["st-1"].Status)
}
