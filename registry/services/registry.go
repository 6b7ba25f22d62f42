package services

import (
	"log"
	"net/http"
	"os"

	"pkgregistry/registry/auth"
	"pkgregistry/registry/core"
	"pkgregistry/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Registry bundles the HTTP services over the transition engine.
type Registry struct {
	packages    PackageService
	collections CollectionService

	jwt      *auth.JwtManager
	auditLog auth.AuditLogger
}

func NewRegistry(db *gorm.DB, engine *core.Engine, jwt *auth.JwtManager, auditLog auth.AuditLogger) Registry {
	return Registry{
		packages:    PackageService{db: db, engine: engine},
		collections: CollectionService{db: db, engine: engine},
		jwt:         jwt,
		auditLog:    auditLog,
	}
}

func (reg *Registry) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Group(func(r chi.Router) {
		r.Use(reg.jwt.AuthMiddleware()...)
		r.Use(reg.auditLog.Middleware)

		r.Mount("/packages", reg.packages.Routes())
		r.Mount("/collections", reg.collections.Routes())
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
