package rbac

import "github.com/cleaninghouse/escrow/internal/models"

// Permission constants
const (
	PermCreateOrder       = "create_order"
	PermInvite            = "invite"
	PermRespondInvitation = "respond_invitation"
	PermCompleteOrder     = "complete_order"
	PermConfirmOrder      = "confirm_order"
	PermCancelOrder       = "cancel_order"
	PermViewEarnings      = "view_earnings"
	PermManageHolds       = "manage_holds"
	PermManagePayouts     = "manage_payouts"
)

// RolePermissions is the coarse route-level gate. Ownership of the
// particular order or invitation is checked by the services.
var RolePermissions = map[string][]string{
	models.RoleCustomer: {
		PermCreateOrder, PermInvite, PermConfirmOrder, PermCancelOrder,
	},
	models.RoleContractor: {
		PermRespondInvitation, PermCompleteOrder, PermCancelOrder, PermViewEarnings,
	},
	models.RoleAdmin: {
		PermConfirmOrder, PermCancelOrder, PermManageHolds, PermManagePayouts,
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

// IsFinancialOperation: moves money outside the normal order flow (admin only).
func IsFinancialOperation(permission string) bool {
	return permission == PermManageHolds || permission == PermManagePayouts
}
