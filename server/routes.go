package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// AUTH
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshHandler(), s.AuthMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.AuthMiddleware()...))

	// USERS (bearer protected)
	s.RegisterRouteHandler("GET "+RouteUserMe, ChainMiddleware(s.MeHandler(), s.RequireAuth()))
	s.RegisterRouteHandler("GET "+RouteUserAdminData, ChainMiddleware(s.AdminDataHandler(), s.RequireAuth(), s.RequireRole(adminRole)))
}

// AuthMiddleware is the extra middleware applied to the /auth/* routes.
func (s *Server) AuthMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.RateLimitMiddleware,
		s.NoStoreMiddleware,
	}
}
