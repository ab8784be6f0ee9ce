// pkg/auth/roles.go
package auth

import (
	"clearbill/pkg/autherr"
)

// Role is the closed set of privilege levels. String-typed comparisons are
// deliberately absent; everything routes through the transition table.
type Role int

const (
	RoleGuest Role = iota
	RoleTenantAdmin
	RoleSuperAdmin
)

func (r Role) String() string {
	switch r {
	case RoleGuest:
		return "guest"
	case RoleTenantAdmin:
		return "tenant_admin"
	case RoleSuperAdmin:
		return "super_admin"
	}
	return "invalid"
}

func (r Role) known() bool {
	return r == RoleGuest || r == RoleTenantAdmin || r == RoleSuperAdmin
}

// transition describes what a role change demands.
type transition struct {
	// elevation requires a valid super-admin context or fresh credential
	// validation, and passes through the fixed-window limiter.
	elevation bool
	// downgrade from SuperAdmin is never blocked but always audited.
	auditedDowngrade bool
}

// planTransition is the exhaustive table over {Guest, TenantAdmin,
// SuperAdmin}². Unknown roles on either side are an invalid-state error.
func planTransition(from, to Role) (transition, error) {
	if !from.known() || !to.known() {
		return transition{}, autherr.New(autherr.Authentication, "auth.planTransition", "", autherr.ErrInvalidState)
	}
	var t transition
	if to == RoleSuperAdmin && from != RoleSuperAdmin {
		t.elevation = true
	}
	if from == RoleSuperAdmin && to != RoleSuperAdmin {
		t.auditedDowngrade = true
	}
	return t, nil
}
