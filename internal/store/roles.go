package store

import "rms/restaurant-service/internal/models"

// Capability names, one per API operation. A manager is a staff member with
// extra capabilities, not a separate entity.
const (
	CapQueryAvailability = "query_availability"
	CapCreateReservation = "create_reservation"
	CapListDishes        = "list_dishes"
	CapPlaceOrder        = "place_order"
	CapViewReservation   = "view_reservation"
	CapListAssignments   = "list_assignments"
	CapAssignServer      = "assign_server"
	CapFinalizeBill      = "finalize_bill"
)

var capabilityMap = map[string][]string{
	CapQueryAvailability: {models.RoleServer, models.RoleManager},
	CapCreateReservation: {models.RoleServer, models.RoleManager},
	CapListDishes:        {models.RoleServer, models.RoleManager},
	CapPlaceOrder:        {models.RoleServer, models.RoleManager},
	CapViewReservation:   {models.RoleServer, models.RoleManager},
	CapListAssignments:   {models.RoleManager},
	CapAssignServer:      {models.RoleManager},
	CapFinalizeBill:      {models.RoleManager},
}

func Allows(role, capability string) bool {
	allowed, ok := capabilityMap[capability]
	if !ok {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
