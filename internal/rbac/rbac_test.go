package rbac

import (
	"testing"

	"github.com/cleaninghouse/escrow/internal/models"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{models.RoleCustomer, PermCreateOrder, true},
		{models.RoleCustomer, PermCompleteOrder, false},
		{models.RoleContractor, PermRespondInvitation, true},
		{models.RoleContractor, PermConfirmOrder, false},
		{models.RoleContractor, PermCancelOrder, true},
		{models.RoleAdmin, PermManagePayouts, true},
		{models.RoleAdmin, PermCreateOrder, false},
		{"stranger", PermCancelOrder, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestFinancialOperationsAreAdminOnly(t *testing.T) {
	for role, perms := range RolePermissions {
		for _, p := range perms {
			if IsFinancialOperation(p) && role != models.RoleAdmin {
				t.Errorf("role %s has financial permission %s", role, p)
			}
		}
	}
}
