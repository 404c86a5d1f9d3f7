package models

// LegacyIdentity is the read-only projection of the external directory used
// to provision shadow accounts on first bridge login.
type LegacyIdentity struct {
	UserID        string  `db:"user_id"`
	UserName      string  `db:"user_name"`
	Email         string  `db:"email"`
	FirstName     string  `db:"first_name"`
	LastName      string  `db:"last_name"`
	PhoneNumber   *string `db:"phone_number"`
	InstitutionID *string `db:"institution_id"`
	Active        bool    `db:"active"`
	Deleted       bool    `db:"deleted"`
}

// LegacyRoleAssignment links a legacy user to a directory role name.
type LegacyRoleAssignment struct {
	UserID   string `db:"user_id"`
	RoleName string `db:"role_name"`
}
