package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthRefresh  = "/auth/refresh"
	RouteAuthLogout   = "/auth/logout"

	// User Routes
	RouteUserMe        = "/users/me"
	RouteUserAdminData = "/users/admin-data"

	RouteHealth = "/healthz"

	// SPA route the callback redirects to, relative to the SPA base URL
	SPARouteAuthCallback = "/auth-callback"
)
