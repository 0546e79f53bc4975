package server

import (
	"context"
	"net/http"

	"formulacost/internal/handlers"
	applog "formulacost/internal/log"
)

func newRouter() http.Handler {
	mux := http.NewServeMux()
	applog.Debug(context.Background(), "registering http routes")
	mux.HandleFunc("/healthz", handlers.Health)
	applog.Debug(context.Background(), "route registered", "path", "/healthz")
	mux.HandleFunc("/login", handlers.Login)
	applog.Debug(context.Background(), "route registered", "path", "/login")
	mux.HandleFunc("/logout", handlers.Logout)
	applog.Debug(context.Background(), "route registered", "path", "/logout")
	mux.HandleFunc("/signup", handlers.Signup)
	applog.Debug(context.Background(), "route registered", "path", "/signup")

	protected := []struct {
		path    string
		handler http.HandlerFunc
	}{
		{"/api/groups", handlers.GroupResource},
		{"/api/groups/", handlers.GroupResource},
		{"/api/members/", handlers.MemberResource},
		{"/api/substitutions", handlers.SubstitutionResource},
		{"/api/substitutions/", handlers.SubstitutionResource},
		{"/api/optimize", handlers.Optimize},
		{"/api/optimizations", handlers.OptimizationResource},
		{"/api/optimizations/", handlers.OptimizationResource},
		{"/api/formulas", handlers.FormulaResource},
		{"/api/formulas/", handlers.FormulaResource},
		{"/api/materials", handlers.Materials},
		{"/api/prices", handlers.Prices},
		{"/api/assistant/", handlers.AssistantResource},
	}
	for _, route := range protected {
		mux.Handle(route.path, handlers.RequireAuthentication(route.handler))
		applog.Debug(context.Background(), "route registered", "path", route.path, "protected", true)
	}
	return mux
}
