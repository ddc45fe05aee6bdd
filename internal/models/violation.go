package models

import "time"

// ViolationType is a catalog entry describing a kind of disciplinary
// violation and how it contributes points.
type ViolationType struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Category string `db:"category" json:"category"`
	// Points is the flat value awarded when the type does not use
	// frequency rules.
	Points             int       `db:"points" json:"points"`
	UsesFrequencyRules bool      `db:"uses_frequency_rules" json:"uses_frequency_rules"`
	Active             bool      `db:"active" json:"active"`
	Keywords           []string  `db:"-" json:"keywords,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`

	Rules []FrequencyRule `db:"-" json:"rules,omitempty"`
}

// FrequencyRule maps an occurrence ordinal band of a violation type to a
// point value and sanction. MaxCount nil means open-ended.
type FrequencyRule struct {
	ID              string    `db:"id" json:"id"`
	ViolationTypeID string    `db:"violation_type_id" json:"violation_type_id"`
	MinCount        int       `db:"min_count" json:"min_count"`
	MaxCount        *int      `db:"max_count" json:"max_count,omitempty"`
	Points          int       `db:"points" json:"points"`
	Sanction        string    `db:"sanction" json:"sanction"`
	TriggersLetter  bool      `db:"triggers_letter" json:"triggers_letter"`
	Roles           []Role    `db:"-" json:"roles"`
	DisplayOrder    int       `db:"display_order" json:"display_order"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Matches reports whether the rule covers the given 1-based ordinal.
func (r FrequencyRule) Matches(ordinal int) bool {
	if ordinal < r.MinCount {
		return false
	}
	return r.MaxCount == nil || ordinal <= *r.MaxCount
}

// ViolationRecord is an immutable-once-created fact of a disciplinary
// incident. Points are never stored on the record; they are re-derived
// from committed records so edits and deletions of earlier records change
// the classification of later ones.
type ViolationRecord struct {
	ID              string     `db:"id" json:"id"`
	StudentID       string     `db:"student_id" json:"student_id"`
	ViolationTypeID string     `db:"violation_type_id" json:"violation_type_id"`
	RecordedBy      string     `db:"recorded_by" json:"recorded_by"`
	OccurredAt      time.Time  `db:"occurred_at" json:"occurred_at"`
	Note            *string    `db:"note" json:"note,omitempty"`
	EvidencePath    *string    `db:"evidence_path" json:"evidence_path,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ViolationRecordFilter allows listing records.
type ViolationRecordFilter struct {
	StudentID       string
	ViolationTypeID string
	DateFrom        *time.Time
	DateTo          *time.Time
	Page            int
	PageSize        int
}

// PointsResult is the outcome of classifying one violation record.
type PointsResult struct {
	Points  int  `json:"points"`
	Ordinal int  `json:"ordinal,omitempty"`
	Matched bool `json:"matched"`
	// Rule is the frequency rule that matched, nil for flat-point types
	// and for ordinals no rule covers.
	Rule *FrequencyRule `json:"rule,omitempty"`
}

// StudentPointsBreakdown pairs a record with its computed contribution.
type StudentPointsBreakdown struct {
	Record ViolationRecord `json:"record"`
	Result PointsResult    `json:"result"`
}

// StudentPoints aggregates the recomputed total for a student.
type StudentPoints struct {
	StudentID string                   `json:"student_id"`
	Total     int                      `json:"total"`
	Breakdown []StudentPointsBreakdown `json:"breakdown,omitempty"`
}
