package models

// AdminDashboard summarises the institution.
type AdminDashboard struct {
	Teachers int `json:"teachers"`
	Students int `json:"students"`
	Groups   int `json:"groups"`
	Projects int `json:"projects"`
}

// TeacherDashboard lists the teacher's groups and projects.
type TeacherDashboard struct {
	Groups   []GroupSummary `json:"groups"`
	Projects int            `json:"projects"`
	Pending  int            `json:"pending_reviews"`
}

// LearnerDashboard shows the learner's cohort and workload.
type LearnerDashboard struct {
	Group       *Group `json:"group,omitempty"`
	Projects    int    `json:"projects"`
	Submissions int    `json:"submissions"`
}

// Dashboard is the role dispatched home payload. Exactly one section is set.
type Dashboard struct {
	Role    Role              `json:"role"`
	Admin   *AdminDashboard   `json:"admin,omitempty"`
	Teacher *TeacherDashboard `json:"teacher,omitempty"`
	Learner *LearnerDashboard `json:"learner,omitempty"`
}
