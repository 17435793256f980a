// Package model contains the persistent entities of the meal-request system.
package model

import "time"

// UserSource identifies where a user account originated.
type UserSource string

const (
	// UserSourceHRIS marks accounts replicated from the external HR system.
	UserSourceHRIS UserSource = "hris"
	// UserSourceManual marks accounts created by administrators.
	UserSourceManual UserSource = "manual"
)

// User is an application identity. HRIS-sourced users are owned by the
// replicator unless StatusOverride is set; manual users are never touched by it.
type User struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	PasswordHash  *string    `json:"-"`
	IsSuperAdmin  bool       `json:"is_super_admin"`
	IsActive      bool       `json:"is_active"`
	IsBlocked     bool       `json:"is_blocked"`
	UserSource    UserSource `json:"user_source"`
	PreferredLang *string    `json:"preferred_lang,omitempty"`

	// StatusOverride pins IsActive against replication. OverrideReason is
	// required whenever StatusOverride is true.
	StatusOverride bool       `json:"status_override"`
	OverrideReason *string    `json:"override_reason,omitempty"`
	OverrideSetBy  *string    `json:"override_set_by,omitempty"`
	OverrideSetAt  *time.Time `json:"override_set_at,omitempty"`

	EmployeeID *int64 `json:"employee_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateStubUserParams pre-creates an inactive HRIS-sourced account during
// replication. The status-sync phase in the same transaction may activate it.
type CreateStubUserParams struct {
	ID         string
	Username   string
	EmployeeID int64
}

// Role is a named capability grouping with bilingual names.
type Role struct {
	ID            string    `json:"id"`
	NameEn        string    `json:"name_en"`
	NameAr        string    `json:"name_ar"`
	DescriptionEn *string   `json:"description_en,omitempty"`
	DescriptionAr *string   `json:"description_ar,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RolePermission links a role to a user. The (role_id, user_id) pair is unique.
type RolePermission struct {
	ID        string    `json:"id"`
	RoleID    string    `json:"role_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NavType describes how a page participates in navigation.
type NavType string

// Page is a navigable UI surface with bilingual labels. ParentID forms an
// adjacency list; cycles are rejected at write time, hierarchies are
// reconstructed from the flat list via a parent map.
type Page struct {
	ID            string  `json:"id"`
	Key           string  `json:"key"`
	NameEn        string  `json:"name_en"`
	NameAr        string  `json:"name_ar"`
	DescriptionEn *string `json:"description_en,omitempty"`
	DescriptionAr *string `json:"description_ar,omitempty"`
	ParentID      *string `json:"parent_id,omitempty"`
	NavType       NavType `json:"nav_type"`
	Order         int     `json:"order"`
	ShowInNav     bool    `json:"show_in_nav"`
	IsMenuGroup   bool    `json:"is_menu_group"`
	Icon          *string `json:"icon,omitempty"`
	// VisibleWhen is an opaque JSON visibility predicate evaluated by the boundary.
	VisibleWhen []byte    `json:"visible_when,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// PagePermission grants a role access to a page. (role_id, page_id) is unique.
type PagePermission struct {
	ID        string    `json:"id"`
	RoleID    string    `json:"role_id"`
	PageID    string    `json:"page_id"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}
