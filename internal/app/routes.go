package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/davstore/davstore/internal/auth"
	"github.com/davstore/davstore/internal/config"
	"github.com/davstore/davstore/internal/dav"
	mwlogger "github.com/davstore/davstore/internal/delivery/http/middleware/logger"
	"github.com/davstore/davstore/internal/filter"
	"github.com/davstore/davstore/internal/props"
	"github.com/davstore/davstore/internal/resource"
	"github.com/davstore/davstore/pkg/logger"
)

// SetupRouter wires middleware, auth and the DAV handler into a chi
// router.
func SetupRouter(l *logger.Logger, cfg *config.Config) (http.Handler, error) {
	for _, method := range []string{
		"PROPFIND",
		"PROPPATCH",
		"REPORT",
		"MKCOL",
		"MKCALENDAR",
		"COPY",
		"MOVE",
		"LOCK",
		"UNLOCK",
		"OPTIONS",
	} {
		chi.RegisterMethod(method)
	}

	s := chi.NewRouter()
	s.Use(middleware.RequestID)
	s.Use(mwlogger.New(l))
	s.Use(middleware.Recoverer)
	s.Use(corsMiddleware(cfg))

	authProvider, err := auth.NewFromURL(cfg, cfg.HTTP.AuthURL)
	if err != nil {
		return nil, err
	}
	s.Use(authProvider.Middleware())

	handler := &dav.Handler{
		Logger:  l,
		Backend: resource.NewBackend(cfg.Storage.DataRoot, cfg.Storage.Autocreate),
		Props:   props.NewRegistry(),
		Filters: filter.NewManager(cfg.Storage.IndexThreshold),
		Prefix:  cfg.HTTP.RoutePrefix,
		Strict:  cfg.Storage.Strict,
	}

	root := "/"
	if cfg.HTTP.RoutePrefix != "" {
		root = strings.TrimSuffix(cfg.HTTP.RoutePrefix, "/") + "/"
	}
	wellKnown := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, root, http.StatusMovedPermanently)
	}
	s.Get("/.well-known/caldav", wellKnown)
	s.Get("/.well-known/carddav", wellKnown)

	s.Mount("/", handler)
	return s, nil
}

func corsMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods:     cfg.HTTP.CORS.AllowedMethods,
		AllowedOrigins:     cfg.HTTP.CORS.AllowedOrigins,
		AllowCredentials:   cfg.HTTP.CORS.AllowCredentials,
		AllowedHeaders:     cfg.HTTP.CORS.AllowedHeaders,
		OptionsPassthrough: cfg.HTTP.CORS.OptionsPassthrough,
		ExposedHeaders:     cfg.HTTP.CORS.ExposedHeaders,
		Debug:              cfg.HTTP.CORS.Debug,
	})
	return c.Handler
}
