package routes

const version = "v0"

// Version returns the current API version string used in routing (e.g., "v0").
func Version() string {
	return version
}

// Base returns the versioned API base path (e.g., "/api/v0").
func Base() string {
	return "/api/" + version
}

// Tasks returns the tasks base path (e.g., "/api/v0/tasks").
func Tasks() string {
	return Base() + "/tasks"
}

// Groups returns the groups base path (e.g., "/api/v0/groups").
func Groups() string {
	return Base() + "/groups"
}

// Healthz returns the unversioned liveness/readiness probe path.
func Healthz() string {
	return "/healthz"
}
