package access

import "github.com/openshs/enrollment-api/internal/models"

// Capability describes one navigable action surface. The same descriptors
// gate server-side routes and drive UI menu rendering; there is no separate
// per-route whitelist.
type Capability struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

// Capability names.
const (
	CapDashboard        = "dashboard"
	CapProfile          = "profile"
	CapEnrollSubmit     = "enrollment.submit"
	CapEnrollViewOwn    = "enrollment.view-own"
	CapEnrollReview     = "enrollment.review"
	CapEnrollArchive    = "enrollment.archive"
	CapEnrollExport     = "enrollment.export"
	CapDocumentsView    = "documents.view"
	CapUsersManage      = "users.manage"
	CapRolesManage      = "roles.manage"
	CapImpersonate      = "impersonate"
	CapAnnouncements    = "ssg.announcements"
	CapEvents           = "ssg.events"
	CapForumModeration  = "moderation.forum"
)

// baseCapabilities is granted to every authenticated identity.
var baseCapabilities = []Capability{
	{Name: CapDashboard, Label: "Dashboard", Path: "/dashboard"},
	{Name: CapProfile, Label: "My Profile", Path: "/profile"},
}

// roleCapabilities maps each role to its own capability set. Built once at
// process start and treated as immutable afterwards.
var roleCapabilities = map[models.Role][]Capability{
	models.RoleUser: {},
	models.RoleStudent: {
		{Name: CapEnrollSubmit, Label: "Apply for Enrollment", Path: "/enrollment/apply"},
		{Name: CapEnrollViewOwn, Label: "My Application", Path: "/enrollment/me"},
	},
	models.RoleRegistrar: {
		{Name: CapEnrollReview, Label: "Review Applications", Path: "/registrar/enrollment"},
		{Name: CapEnrollArchive, Label: "Archive Applications", Path: "/registrar/enrollment/archive"},
		{Name: CapEnrollExport, Label: "Export Roster", Path: "/registrar/enrollment/export"},
		{Name: CapDocumentsView, Label: "Submitted Documents", Path: "/registrar/documents"},
	},
	models.RoleAdmin: {
		{Name: CapEnrollReview, Label: "Review Applications", Path: "/registrar/enrollment"},
		{Name: CapEnrollArchive, Label: "Archive Applications", Path: "/registrar/enrollment/archive"},
		{Name: CapEnrollExport, Label: "Export Roster", Path: "/registrar/enrollment/export"},
		{Name: CapDocumentsView, Label: "Submitted Documents", Path: "/registrar/documents"},
		{Name: CapUsersManage, Label: "Manage Users", Path: "/admin/users"},
		{Name: CapRolesManage, Label: "Manage Roles", Path: "/admin/roles"},
	},
	models.RoleSuperAdmin: {
		{Name: CapImpersonate, Label: "Impersonate User", Path: "/superadmin/impersonate"},
	},
	models.RoleSSG: {
		{Name: CapAnnouncements, Label: "Announcements", Path: "/ssg/announcements"},
		{Name: CapEvents, Label: "School Events", Path: "/ssg/events"},
	},
	models.RoleModerator: {
		{Name: CapForumModeration, Label: "Forum Moderation", Path: "/moderation/forum"},
	},
}
