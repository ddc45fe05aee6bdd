package models

import "time"

// Setting is a configurable discipline parameter. Rule holds an optional
// validation rule in the form "int:<min>:<max>" applied on every write.
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	Category  string    `db:"category" json:"category"`
	Rule      string    `db:"rule" json:"rule,omitempty"`
	Label     string    `db:"label" json:"label"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SettingHistory is one entry of the append-only audit log. Rows are
// never mutated or deleted.
type SettingHistory struct {
	ID        string    `db:"id" json:"id"`
	Key       string    `db:"key" json:"key"`
	OldValue  string    `db:"old_value" json:"old_value"`
	NewValue  string    `db:"new_value" json:"new_value"`
	ChangedBy string    `db:"changed_by" json:"changed_by"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}
