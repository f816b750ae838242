package status

// Три словаря статусов. Каждый обслуживает своего потребителя,
// маппинг между ними — чистые тотальные функции.

// Vehicle status (driver-facing, fine-grained).
const (
	VehicleScheduled = "SCHEDULED"
	VehicleBoarding  = "BOARDING"
	VehicleEnRoute   = "EN_ROUTE"
	VehicleArrived   = "ARRIVED"
	VehicleDelayed   = "DELAYED"
	VehicleEmergency = "EMERGENCY"
	VehicleCompleted = "COMPLETED"
)

// Departure status (scheduling-facing, coarse).
const (
	DepartureScheduled = "SCHEDULED"
	DepartureBoarding  = "BOARDING"
	DepartureInTransit = "IN_TRANSIT"
	DepartureDelayed   = "DELAYED"
	DepartureCompleted = "COMPLETED"
)

// Live status (customer-facing).
const (
	LiveScheduled = "SCHEDULED"
	LiveBoarding  = "BOARDING"
	LiveEnRoute   = "EN_ROUTE"
	LiveArrived   = "ARRIVED"
	LiveDelayed   = "DELAYED"
	LiveCompleted = "COMPLETED"
)

// forwardRank задаёт монотонный порядок основных (не overlay) статусов.
var forwardRank = map[string]int{
	VehicleScheduled: 0,
	VehicleBoarding:  1,
	VehicleEnRoute:   2,
	VehicleArrived:   3,
	VehicleCompleted: 4,
}

// ParseVehicle normalizes a driver-supplied status. Unknown input maps to
// SCHEDULED so that an unrecognized value never blocks an update.
func ParseVehicle(s string) string {
	switch s {
	case VehicleScheduled, VehicleBoarding, VehicleEnRoute, VehicleArrived,
		VehicleDelayed, VehicleEmergency, VehicleCompleted:
		return s
	default:
		return VehicleScheduled
	}
}

// DepartureFor maps a vehicle status to the coarse departure vocabulary.
// EN_ROUTE and ARRIVED collapse to IN_TRANSIT, EMERGENCY to DELAYED.
// Total: unknown input maps to SCHEDULED.
func DepartureFor(vehicle string) string {
	switch vehicle {
	case VehicleBoarding:
		return DepartureBoarding
	case VehicleEnRoute, VehicleArrived:
		return DepartureInTransit
	case VehicleDelayed, VehicleEmergency:
		return DepartureDelayed
	case VehicleCompleted:
		return DepartureCompleted
	default:
		return DepartureScheduled
	}
}

// LiveFor maps a vehicle status to the customer-facing vocabulary.
// Mirrors the vehicle status except EMERGENCY collapses to DELAYED.
// Total: unknown input maps to SCHEDULED.
func LiveFor(vehicle string) string {
	switch vehicle {
	case VehicleBoarding:
		return LiveBoarding
	case VehicleEnRoute:
		return LiveEnRoute
	case VehicleArrived:
		return LiveArrived
	case VehicleDelayed, VehicleEmergency:
		return LiveDelayed
	case VehicleCompleted:
		return LiveCompleted
	default:
		return LiveScheduled
	}
}

// IsOverlay reports whether the status is the DELAYED/EMERGENCY overlay,
// which may be entered and exited from any forward state except COMPLETED.
func IsOverlay(vehicle string) bool {
	return vehicle == VehicleDelayed || vehicle == VehicleEmergency
}

// Resolve picks the status that actually gets stored for a driver report.
// floor is the last non-overlay status written for the record; while the
// record sits in the DELAYED/EMERGENCY overlay it anchors the monotonic
// order, so exiting the overlay can only resume the forward sequence, never
// drop below it. A regressing next keeps current; COMPLETED is terminal.
func Resolve(current, floor, next string) string {
	base := current
	if IsOverlay(current) {
		base = floor
	}
	if IsOverlay(next) {
		if base == VehicleCompleted {
			return current
		}
		return next
	}
	if forwardRank[next] >= forwardRank[base] {
		return next
	}
	return current
}

// Message renders the customer-facing status line for the projection.
// Total: unknown statuses get the SCHEDULED wording.
func Message(vehicle, origin, dest string) string {
	switch vehicle {
	case VehicleBoarding:
		return "Boarding at " + origin
	case VehicleEnRoute:
		return "On the way from " + origin + " to " + dest
	case VehicleArrived:
		return "Arrived at " + dest
	case VehicleDelayed:
		return "Running late on the way to " + dest
	case VehicleEmergency:
		return "Running late on the way to " + dest
	case VehicleCompleted:
		return "Trip to " + dest + " completed"
	default:
		return "Scheduled to depart from " + origin
	}
}

// Notifies reports whether a transition to this vehicle status triggers
// rider notification fan-out.
func Notifies(vehicle string) bool {
	switch vehicle {
	case VehicleBoarding, VehicleEnRoute, VehicleDelayed, VehicleArrived:
		return true
	default:
		return false
	}
}
