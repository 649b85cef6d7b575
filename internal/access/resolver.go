// Package access resolves an identity's effective capability set. The
// resolver is a pure function over immutable tables: both route
// authorization and menu rendering consume the same resolved set.
package access

import "github.com/openshs/enrollment-api/internal/models"

// EffectiveMenu computes the ordered capability set for an identity:
// the universal base set, the role's own set (or every role's set for a
// super admin), any defined extra-role sets, and the SSG set when the SSG
// role is carried. Duplicates are removed keeping first-seen order.
func EffectiveMenu(identity models.IdentitySnapshot) []Capability {
	menu := make([]Capability, 0, len(baseCapabilities)+8)
	seen := make(map[string]struct{}, len(baseCapabilities)+8)

	add := func(caps []Capability) {
		for _, cap := range caps {
			if _, ok := seen[cap.Name]; ok {
				continue
			}
			seen[cap.Name] = struct{}{}
			menu = append(menu, cap)
		}
	}

	add(baseCapabilities)

	if identity.Role == models.RoleSuperAdmin {
		for _, role := range models.AllRoles {
			add(roleCapabilities[role])
		}
	} else {
		add(roleCapabilities[identity.Role])
	}

	for _, extra := range identity.ExtraRoles {
		if caps, ok := roleCapabilities[extra]; ok {
			add(caps)
		}
	}

	if carriesSSG(identity) {
		add(roleCapabilities[models.RoleSSG])
	}

	return menu
}

// Can reports whether the identity's resolved capability set contains the
// named capability.
func Can(identity models.IdentitySnapshot, name string) bool {
	for _, cap := range EffectiveMenu(identity) {
		if cap.Name == name {
			return true
		}
	}
	return false
}

func carriesSSG(identity models.IdentitySnapshot) bool {
	if identity.Role == models.RoleSSG {
		return true
	}
	for _, extra := range identity.ExtraRoles {
		if extra == models.RoleSSG {
			return true
		}
	}
	return false
}
