package models

import "time"

// StudentStatus captures the discipline-relevant standing of a student.
type StudentStatus string

const (
	StudentStatusActive    StudentStatus = "ACTIVE"
	StudentStatusSuspended StudentStatus = "SUSPENDED"
)

// Student represents a learner registered in the institution.
type Student struct {
	ID           string        `db:"id" json:"id"`
	NIS          string        `db:"nis" json:"nis"`
	FullName     string        `db:"full_name" json:"full_name"`
	ClassID      string        `db:"class_id" json:"class_id"`
	DepartmentID string        `db:"department_id" json:"department_id"`
	Status       StudentStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}
