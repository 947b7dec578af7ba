package server

import (
	"fmt"
	"net/http"
)

const (
	RolePublic = "PUBLIC"
	RoleUser   = "USER"
	RoleAdmin  = "ADMIN"
)

type AccessRule struct {
	Method string
	Path   string
	Roles  []string
}

var endpointAccess = []AccessRule{
	{Method: http.MethodPost, Path: "/api/register", Roles: []string{RolePublic}},
	{Method: http.MethodGet, Path: "/api/register", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/email", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/verify-email", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/resend-code", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/profile", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/username", Roles: []string{RolePublic}},
	{Method: http.MethodGet, Path: "/api/register/username-available", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/password", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/complete", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/back", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/register/cancel", Roles: []string{RolePublic}},

	{Method: http.MethodPost, Path: "/api/auth/login", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/login/method", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/login/verify", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/login/resend-code", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/auth/logout", Roles: []string{RolePublic}},

	{Method: http.MethodPost, Path: "/api/forgot-password", Roles: []string{RolePublic}},
	{Method: http.MethodPost, Path: "/api/reset-password", Roles: []string{RolePublic}},

	{Method: http.MethodGet, Path: "/api/auth/me", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodGet, Path: "/api/sessions", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodDelete, Path: "/api/sessions", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodGet, Path: "/api/sessions/current", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodGet, Path: "/api/trusted-devices", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodDelete, Path: "/api/trusted-devices/{id}", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/two-factor/setup-start", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/two-factor/setup-finalize", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/two-factor/disable", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/two-factor/send-email-code", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/two-factor/step-up", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodPost, Path: "/api/profile/change-password", Roles: []string{RoleUser, RoleAdmin}},
	{Method: http.MethodDelete, Path: "/api/profile/delete-account", Roles: []string{RoleUser, RoleAdmin}},
}

func accessRoles(method, path string) []string {
	for _, rule := range endpointAccess {
		if rule.Method == method && rule.Path == path {
			return rule.Roles
		}
	}
	panic(fmt.Sprintf("missing access roles for %s %s", method, path))
}

func roleAllowed(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func isPublicAccess(roles []string) bool {
	return roleAllowed(roles, RolePublic)
}
