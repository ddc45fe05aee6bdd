package models

import "time"

// EscalationRange (pembinaan rule) is a points-total band that recommends
// coaching involvement by specific roles. MaxPoints nil means open-ended.
// Ranges are seeded non-overlapping and ordered; gaps between bands are
// intentional no-action zones.
type EscalationRange struct {
	ID           string    `db:"id" json:"id"`
	Label        string    `db:"label" json:"label"`
	MinPoints    int       `db:"min_points" json:"min_points"`
	MaxPoints    *int      `db:"max_points" json:"max_points,omitempty"`
	Roles        []Role    `db:"-" json:"roles"`
	Guidance     string    `db:"guidance" json:"guidance"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Matches reports whether the range covers the given point total.
func (r EscalationRange) Matches(total int) bool {
	if total < r.MinPoints {
		return false
	}
	return r.MaxPoints == nil || total <= *r.MaxPoints
}

// Recommendation is the threshold engine's output for a matched range.
type Recommendation struct {
	RangeID     string `json:"range_id"`
	Label       string `json:"label"`
	Guidance    string `json:"guidance"`
	Roles       []Role `json:"roles"`
	TotalPoints int    `json:"total_points"`
}

// CoachingState is the lifecycle state of a coaching tracking record.
type CoachingState string

const (
	CoachingNeeded     CoachingState = "NEEDS_COACHING"
	CoachingInProgress CoachingState = "IN_PROGRESS"
	CoachingCompleted  CoachingState = "COMPLETED"
)

// CoachingStatus tracks one (student, matched range) pairing. The point
// total and recommendation text are frozen at creation time; later point
// changes never retroactively alter an existing record. At most one
// non-completed record exists per (student, range).
type CoachingStatus struct {
	ID             string        `db:"id" json:"id"`
	StudentID      string        `db:"student_id" json:"student_id"`
	RangeID        string        `db:"range_id" json:"range_id"`
	PointsSnapshot int           `db:"points_snapshot" json:"points_snapshot"`
	Recommendation string        `db:"recommendation" json:"recommendation"`
	State          CoachingState `db:"state" json:"state"`
	StartedBy      *string       `db:"started_by" json:"started_by,omitempty"`
	StartedAt      *time.Time    `db:"started_at" json:"started_at,omitempty"`
	CompletedBy    *string       `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt    *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Outcome        *string       `db:"outcome" json:"outcome,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// CoachingStatusFilter allows listing coaching records.
type CoachingStatusFilter struct {
	StudentID string
	State     CoachingState
	Page      int
	PageSize  int
}
