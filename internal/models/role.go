package models

// Role represents the closed set of staff roles participating in the
// discipline workflow. Guard logic switches exhaustively over these
// constants; free-text role names are never compared.
type Role string

const (
	// RoleAdmin is the unrestricted back-office role.
	RoleAdmin Role = "ADMIN"
	// RoleCounselor (guru BK) owns the counseling process and may manage
	// follow-up cases without restriction.
	RoleCounselor Role = "GURU_BK"
	// RoleHeadmaster (kepala sekolah) approves formal cases school-wide.
	RoleHeadmaster Role = "KEPALA_SEKOLAH"
	// RoleStudentAffairs (waka kesiswaan) coordinates discipline across
	// departments and approves cases unconditionally.
	RoleStudentAffairs Role = "WAKA_KESISWAAN"
	// RoleProgramHead (kaprodi) approves cases for students of their own
	// department only.
	RoleProgramHead Role = "KAPRODI"
	// RoleHomeroom (wali kelas) handles first-line coaching.
	RoleHomeroom Role = "WALI_KELAS"
	// RoleTeacher records violations but holds no case authority.
	RoleTeacher Role = "GURU"
)

// Valid reports whether the role is a known member of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCounselor, RoleHeadmaster, RoleStudentAffairs,
		RoleProgramHead, RoleHomeroom, RoleTeacher:
		return true
	}
	return false
}

// CanManageCases reports whether the role may create, edit, or delete
// follow-up cases without ownership checks.
func (r Role) CanManageCases() bool {
	switch r {
	case RoleAdmin, RoleCounselor:
		return true
	default:
		return false
	}
}

// RolesContain reports whether the needle appears in the haystack.
func RolesContain(roles []Role, needle Role) bool {
	for _, r := range roles {
		if r == needle {
			return true
		}
	}
	return false
}

// RoleStrings converts a role slice to plain strings for persistence.
func RoleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// RolesFromStrings converts persisted role names back to the closed type.
func RolesFromStrings(values []string) []Role {
	out := make([]Role, len(values))
	for i, v := range values {
		out[i] = Role(v)
	}
	return out
}

// Actor identifies who is performing an operation. Every service method
// that mutates state takes an Actor explicitly; there is no ambient
// current-user lookup.
type Actor struct {
	UserID       string `json:"user_id"`
	Role         Role   `json:"role"`
	DepartmentID string `json:"department_id,omitempty"`
}
