package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/questplus-school-api/internal/middleware"
	"github.com/noah-isme/questplus-school-api/internal/models"
)

// Handlers groups every HTTP handler mounted by Register.
type Handlers struct {
	Auth      *AuthHandler
	Bridge    *BridgeHandler
	Accounts  *AccountHandler
	Grades    *GradeHandler
	Groups    *GroupHandler
	Imports   *ImportHandler
	Schedules *ScheduleHandler
	Projects  *ProjectHandler
	Dashboard *DashboardHandler
}

// Guards carries the collaborators the route middleware needs.
type Guards struct {
	Tokens interface {
		ValidateToken(token string) (*models.JWTClaims, error)
	}
	Access  middleware.Authorizer
	Members middleware.MembershipChecker
	Audit   middleware.AuditWriter
	Logger  *zap.Logger
}

// Register mounts the API under every prefix so /api/v1 and /api/v2 serve
// the same routes.
func Register(r gin.IRouter, prefixes []string, h Handlers, g Guards) {
	if len(prefixes) == 0 {
		prefixes = []string{"/api/v1"}
	}
	for _, prefix := range prefixes {
		registerAPI(r.Group(prefix), h, g)
	}
}

func registerAPI(api *gin.RouterGroup, h Handlers, g Guards) {
	anyRole := middleware.RequireRoles(g.Access, models.Roles...)
	admin := middleware.RequireRoles(g.Access, models.RoleAdmin)
	staff := middleware.RequireRoles(g.Access, models.RoleAdmin, models.RoleTeacher)
	teacher := middleware.RequireRoles(g.Access, models.RoleTeacher)
	learner := middleware.RequireRoles(g.Access, models.RoleLearner)
	groupGate := middleware.RequireGroupAccess(g.Members, "id")
	audit := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(g.Audit, g.Logger, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/forgot-password", h.Auth.ForgotPassword)
	auth.POST("/reset-password", h.Auth.ResetPassword)
	auth.POST("/admin-signup", h.Auth.AdminSignup)

	accounts := api.Group("/accounts")
	accounts.POST("/universal-login", h.Bridge.UniversalLogin)
	accounts.POST("/universal-logout", h.Bridge.UniversalLogout)

	api.GET("/assets/download", h.Projects.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(g.Tokens))

	secured.POST("/auth/logout", anyRole, h.Auth.Logout)
	secured.POST("/auth/change-password", anyRole, h.Auth.ChangePassword)
	secured.POST("/accounts/student/sso-login/:mission", anyRole, h.Bridge.SSOLogin)
	secured.GET("/dashboard/home", anyRole, h.Dashboard.Home)

	teachers := secured.Group("/teachers", admin)
	teachers.POST("", h.Accounts.CreateTeacher)
	teachers.GET("", h.Accounts.ListTeachers)
	teachers.GET("/:id", h.Accounts.GetTeacher)
	teachers.PUT("/:id", h.Accounts.UpdateTeacher)
	teachers.DELETE("/:id", h.Accounts.DeleteTeacher)

	students := secured.Group("/students", admin)
	students.POST("", h.Accounts.CreateStudent)
	students.GET("", h.Accounts.ListStudents)
	students.POST("/bulk-upload", audit(models.AuditActionStudentImport, "student"), h.Imports.Upload)
	students.GET("/bulk-upload/:task_id", h.Imports.Status)
	students.GET("/:id", h.Accounts.GetStudent)
	students.PUT("/:id", h.Accounts.UpdateStudent)
	students.DELETE("/:id", h.Accounts.DeleteStudent)

	users := secured.Group("/users", admin)
	users.PATCH("/:id/role", h.Accounts.ChangeRole)
	users.PATCH("/:id/status", h.Accounts.SetStatus)
	users.GET("/:id/groups", h.Groups.History)

	grades := secured.Group("/grades", admin)
	grades.GET("", h.Grades.ListGrades)
	grades.POST("", audit(models.AuditActionGradeWrite, "grade"), h.Grades.CreateGrade)
	grades.GET("/:id", h.Grades.GetGrade)
	grades.PUT("/:id", audit(models.AuditActionGradeWrite, "grade"), h.Grades.UpdateGrade)
	grades.DELETE("/:id", h.Grades.DeleteGrade)
	grades.PUT("/:id/divisions", h.Grades.ReplaceDivisions)

	divisions := secured.Group("/divisions", admin)
	divisions.GET("", h.Grades.ListDivisions)
	divisions.POST("", audit(models.AuditActionDivisionWrite, "division"), h.Grades.CreateDivision)
	divisions.GET("/:id", h.Grades.GetDivision)
	divisions.PUT("/:id", audit(models.AuditActionDivisionWrite, "division"), h.Grades.UpdateDivision)
	divisions.DELETE("/:id", h.Grades.DeleteDivision)

	mappings := secured.Group("/grade-division-mappings", admin)
	mappings.GET("", h.Grades.ListMappings)
	mappings.POST("", h.Grades.CreateMapping)
	mappings.DELETE("", h.Grades.DeleteMapping)

	groups := secured.Group("/groups")
	groups.GET("", admin, h.Groups.List)
	groups.GET("/mine", anyRole, h.Groups.Mine)
	groups.GET("/:id/students", staff, groupGate, h.Groups.Students)
	groups.GET("/:id/roster", staff, groupGate, h.Groups.Roster)
	groups.GET("/:id/schedule", staff, groupGate, h.Schedules.Group)

	schedules := secured.Group("/schedules", admin)
	schedules.POST("/bulk-upload", audit(models.AuditActionScheduleImport, "schedule"), h.Schedules.Upload)
	schedules.GET("/bulk-upload/:task_id", h.Schedules.Status)

	projects := secured.Group("/classroom-projects")
	projects.POST("", staff, audit(models.AuditActionProjectWrite, "project"), h.Projects.Create)
	projects.GET("", admin, h.Projects.List)
	projects.GET("/:id", anyRole, h.Projects.Get)
	projects.PUT("/:id", staff, audit(models.AuditActionProjectWrite, "project"), h.Projects.Update)
	projects.POST("/:id/assets", staff, h.Projects.AddAssets)
	projects.POST("/:id/quizzes", staff, h.Projects.CreateQuizzes)
	projects.GET("/:id/quizzes", anyRole, h.Projects.ListQuizzes)
	projects.POST("/:id/quiz-answers", learner, h.Projects.SubmitQuizAnswers)
	projects.POST("/:id/submissions", learner, h.Projects.Submit)
	projects.GET("/:id/submissions", staff, h.Projects.ListSubmissions)
	projects.POST("/:id/sessions", staff, audit(models.AuditActionProjectWrite, "project"), h.Projects.CreateSession)
	projects.GET("/:id/sessions", staff, h.Projects.ListSessions)
	projects.PUT("/:id/sessions/:session_id", staff, audit(models.AuditActionProjectWrite, "project"), h.Projects.UpdateSession)
	projects.PATCH("/:id/sessions/:session_id", staff, audit(models.AuditActionProjectWrite, "project"), h.Projects.UpdateSession)

	secured.GET("/teacher/projects", teacher, h.Projects.TeacherProjects)
	secured.GET("/teacher/schedule", teacher, h.Schedules.Mine)
	secured.GET("/student/projects", learner, h.Projects.StudentProjects)
	secured.PATCH("/submissions/:id/review", teacher, audit(models.AuditActionReview, "submission"), h.Projects.Review)
}
