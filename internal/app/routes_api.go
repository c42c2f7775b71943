package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/gonglijing/iotconsole/internal/access"
	"github.com/gonglijing/iotconsole/internal/auth"
	"github.com/gonglijing/iotconsole/internal/catalog"
	"github.com/gonglijing/iotconsole/internal/handlers"
)

func registerAPIRoutes(r *mux.Router, h *handlers.Handler, authManager *auth.Manager, gate *access.Gate, loginLimiter *handlers.RateLimiter) {
	public := r.PathPrefix("/api/auth").Subrouter()
	public.Handle("/login", handlers.RateLimitMiddleware(loginLimiter)(http.HandlerFunc(h.LoginPost))).Methods("POST")
	public.HandleFunc("/logout", h.LogoutAPI).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authManager.RequireAuth)

	api.HandleFunc("/auth/me", h.Me).Methods("GET")
	api.HandleFunc("/runtime", h.RuntimeMetrics).Methods("GET")

	// 具体路由需先于实体的 /{id} 注册
	registerMQTTRoutes(api, h, gate)
	registerReportRoutes(api, h, gate)
	for _, e := range h.Catalog().Entities() {
		registerEntityRoutes(api, h, gate, e)
	}
}

func registerMQTTRoutes(api *mux.Router, h *handlers.Handler, gate *access.Gate) {
	probe := gate.Require(access.MQTTProbe)
	api.Handle("/mqtt/brokers/probe", probe(http.HandlerFunc(h.ProbeDraft))).Methods("POST")
	api.Handle("/mqtt/brokers/{id:[0-9]+}/probe", probe(http.HandlerFunc(h.ProbeBroker))).Methods("POST")
	api.HandleFunc("/emqx/acl/check", h.CheckACL).Methods("GET")
}

func registerReportRoutes(api *mux.Router, h *handlers.Handler, gate *access.Gate) {
	api.HandleFunc("/dashboard", h.Dashboard).Methods("GET")
	api.HandleFunc("/reports/readings", h.ReadingsReport).Methods("GET")
	api.Handle("/reports/readings.xlsx", gate.Require(access.ReportsExport)(http.HandlerFunc(h.ReadingsReportXLSX))).Methods("GET")
}

// registerEntityRoutes 为实体集合注册 CRUD 路由，按能力把关
func registerEntityRoutes(api *mux.Router, h *handlers.Handler, gate *access.Gate, e catalog.Entity) {
	caps := e.Caps()
	base := "/" + e.Route()
	item := base + "/{id:[0-9]+}"

	api.Handle(base, guard(gate, caps.View, h.ListEntity(e))).Methods("GET")
	api.Handle(item, guard(gate, caps.View, h.GetEntity(e))).Methods("GET")
	api.Handle(base, guard(gate, caps.Create, h.CreateEntity(e))).Methods("POST")
	api.Handle(item, guard(gate, caps.Update, h.UpdateEntity(e))).Methods("PATCH")
	api.Handle(item, guard(gate, caps.Delete, h.DeleteEntity(e))).Methods("DELETE")
}

func guard(gate *access.Gate, capability string, next http.Handler) http.Handler {
	if capability == "" {
		return next
	}
	return gate.Require(capability)(next)
}
