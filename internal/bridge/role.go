package bridge

import "strings"

// Role tags.
const (
	RoleReachable   = "indicator.reachable"
	RoleMotion      = "sensor.motion"
	RoleDoor        = "sensor.door"
	RoleIndicator   = "indicator"
	RoleTemperature = "value.temperature"
	RoleHumidity    = "value.humidity"
	RolePressure    = "value.pressure"
	RoleBattery     = "value.battery"
	RoleLevel       = "level"
	RoleValue       = "value"
	RoleText        = "text"
)

type roleRule struct {
	substrings []string
	role       string
}

// Evaluated top to bottom; the first rule containing a substring of the
// property wins.
var (
	booleanRoles = []roleRule{
		{[]string{"available", "online"}, RoleReachable},
		{[]string{"motion"}, RoleMotion},
		{[]string{"door", "window"}, RoleDoor},
	}
	numberRoles = []roleRule{
		{[]string{"temp"}, RoleTemperature},
		{[]string{"humidity"}, RoleHumidity},
		{[]string{"pressure"}, RolePressure},
		{[]string{"battery"}, RoleBattery},
		{[]string{"level"}, RoleLevel},
	}
)

// InferRole derives the role of a property from its name and the type of
// its current value.
func InferRole(property string, value any) string {
	prop := strings.ToLower(property)

	switch valueType(value) {
	case "boolean":
		return firstRole(prop, booleanRoles, RoleIndicator)
	case "number":
		return firstRole(prop, numberRoles, RoleValue)
	default:
		return RoleText
	}
}

func firstRole(prop string, rules []roleRule, fallback string) string {
	for _, r := range rules {
		for _, s := range r.substrings {
			if strings.Contains(prop, s) {
				return r.role
			}
		}
	}
	return fallback
}
