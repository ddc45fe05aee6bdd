package models

import "time"

// CaseStatus is the lifecycle state of a follow-up case.
//
//	New → PendingApproval → Approved | Rejected
//	New | Approved → InProgress → Completed
//
// Rejected and Completed are terminal.
type CaseStatus string

const (
	CaseStatusNew             CaseStatus = "NEW"
	CaseStatusPendingApproval CaseStatus = "PENDING_APPROVAL"
	CaseStatusApproved        CaseStatus = "APPROVED"
	CaseStatusRejected        CaseStatus = "REJECTED"
	CaseStatusInProgress      CaseStatus = "IN_PROGRESS"
	CaseStatusCompleted       CaseStatus = "COMPLETED"
)

// Valid reports whether the status is a known member of the closed set.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusNew, CaseStatusPendingApproval, CaseStatusApproved,
		CaseStatusRejected, CaseStatusInProgress, CaseStatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusRejected || s == CaseStatusCompleted
}

// ActiveCaseStatuses are the statuses that keep a case "open" for the
// purposes of the student-status restoration side effect.
func ActiveCaseStatuses() []CaseStatus {
	return []CaseStatus{
		CaseStatusNew,
		CaseStatusPendingApproval,
		CaseStatusApproved,
		CaseStatusInProgress,
	}
}

// FollowUpCase (tindak lanjut) is a formal disciplinary case with a
// multi-role approval workflow.
type FollowUpCase struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	// TriggerDescription records why the case exists. Rejection reasons
	// live in RejectionReason, never here.
	TriggerDescription string     `db:"trigger_description" json:"trigger_description"`
	Sanction           string     `db:"sanction" json:"sanction"`
	Fine               *string    `db:"fine" json:"fine,omitempty"`
	Status             CaseStatus `db:"status" json:"status"`
	MeetingDate        *time.Time `db:"meeting_date" json:"meeting_date,omitempty"`
	ApprovedBy         *string    `db:"approved_by" json:"approved_by,omitempty"`
	RejectionReason    *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	StartedBy          *string    `db:"started_by" json:"started_by,omitempty"`
	StartedAt          *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedBy        *string    `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt        *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedBy          string     `db:"created_by" json:"created_by"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// FollowUpCaseFilter allows listing cases.
type FollowUpCaseFilter struct {
	StudentID string
	Status    CaseStatus
	Page      int
	PageSize  int
}
