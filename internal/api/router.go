package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sydlexius/rcindex/internal/api/middleware"
	"github.com/sydlexius/rcindex/internal/backup"
	"github.com/sydlexius/rcindex/internal/catalog"
	"github.com/sydlexius/rcindex/internal/event"
	"github.com/sydlexius/rcindex/internal/ingest"
	"github.com/sydlexius/rcindex/internal/logging"
	"github.com/sydlexius/rcindex/internal/maintenance"
	"github.com/sydlexius/rcindex/internal/provenance"
	"github.com/sydlexius/rcindex/internal/rclone"
)

// Browser lists the immediate children of a remote directory.
type Browser interface {
	List(ctx context.Context, remote, path string) ([]rclone.Entry, error)
}

// RemoteLister returns the configured rclone remotes.
type RemoteLister interface {
	List() ([]rclone.Remote, error)
}

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	ScanService        *ingest.Service
	CatalogService     *catalog.Service
	ProvenanceService  *provenance.Service
	MaintenanceService *maintenance.Service
	BackupService      *backup.Service
	LogManager         *logging.Manager
	EventBus           *event.Bus
	Browser            Browser
	Remotes            RemoteLister
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	BasePath           string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	scanService        *ingest.Service
	catalogService     *catalog.Service
	provenanceService  *provenance.Service
	maintenanceService *maintenance.Service
	backupService      *backup.Service
	logManager         *logging.Manager
	eventBus           *event.Bus
	browser            Browser
	remotes            RemoteLister
	rateLimiter        *middleware.RateLimiter
	logger             *slog.Logger
	basePath           string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		scanService:        deps.ScanService,
		catalogService:     deps.CatalogService,
		provenanceService:  deps.ProvenanceService,
		maintenanceService: deps.MaintenanceService,
		backupService:      deps.BackupService,
		logManager:         deps.LogManager,
		eventBus:           deps.EventBus,
		browser:            deps.Browser,
		remotes:            deps.Remotes,
		rateLimiter:        deps.RateLimiter,
		logger:             deps.Logger.With(slog.String("component", "api")),
		basePath:           deps.BasePath,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/v1/health", r.handleHealth)

	// Scan routes
	mux.HandleFunc("POST "+bp+"/api/v1/scan", r.limited(r.handleScanStart))
	mux.HandleFunc("POST "+bp+"/api/v1/scan/stop", r.limited(r.handleScanStop))
	mux.HandleFunc("GET "+bp+"/api/v1/scan/progress", r.handleScanProgress)
	mux.HandleFunc("GET "+bp+"/api/v1/scan/status", r.handleScanStatus)

	// Catalog routes
	mux.HandleFunc("GET "+bp+"/api/v1/search", r.handleSearch)
	mux.HandleFunc("GET "+bp+"/api/v1/files", r.handleListFiles)
	mux.HandleFunc("GET "+bp+"/api/v1/files/count", r.handleFileCount)
	mux.HandleFunc("POST "+bp+"/api/v1/catalog/clear", r.limited(r.handleCatalogClear))
	mux.HandleFunc("POST "+bp+"/api/v1/catalog/rebuild-index", r.limited(r.handleRebuildIndex))

	// Remote routes
	mux.HandleFunc("GET "+bp+"/api/v1/remotes", r.handleListRemotes)
	mux.HandleFunc("GET "+bp+"/api/v1/browse", r.handleBrowse)
	mux.HandleFunc("GET "+bp+"/api/v1/remotes/{remote}/scans", r.handleRemoteScans)

	// Maintenance routes
	mux.HandleFunc("GET "+bp+"/api/v1/maintenance/status", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/optimize", r.limited(r.handleMaintenanceOptimize))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/vacuum", r.limited(r.handleMaintenanceVacuum))
	mux.HandleFunc("POST "+bp+"/api/v1/maintenance/check-index", r.limited(r.handleMaintenanceCheckIndex))

	// Backup routes
	mux.HandleFunc("GET "+bp+"/api/v1/backups", r.handleListBackups)
	mux.HandleFunc("POST "+bp+"/api/v1/backups", r.limited(r.handleCreateBackup))
	mux.HandleFunc("DELETE "+bp+"/api/v1/backups/{name}", r.limited(r.handleDeleteBackup))

	// Logging routes
	mux.HandleFunc("GET "+bp+"/api/v1/settings/logging", r.handleGetLogging)
	mux.HandleFunc("PUT "+bp+"/api/v1/settings/logging", r.handleUpdateLogging)

	return middleware.Logging(r.logger)(middleware.SecurityHeaders(mux))
}

// limited applies the per-client rate limiter to mutating endpoints.
func (r *Router) limited(fn http.HandlerFunc) http.HandlerFunc {
	if r.rateLimiter == nil {
		return fn
	}
	return r.rateLimiter.Middleware(fn).ServeHTTP
}
