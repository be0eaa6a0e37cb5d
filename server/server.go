// Package server exposes the classifier over HTTP.
//
// The server holds the serving classifier and the rules engine behind
// atomic pointers. Publishing a new model or ruleset swaps the pointer;
// in-flight requests finish on the instance they already loaded, and
// nothing is ever mutated in place.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/mailclass"
	"github.com/hupe1980/mailclass/msgstore"
	"github.com/hupe1980/mailclass/rules"
)

// Config wires the server's dependencies. Everything is optional:
// endpoints whose dependency is missing answer 503 instead of failing
// startup, so the server can come up before the first model is trained.
type Config struct {
	// Classifier serves predictions until the next SwapClassifier.
	Classifier *mailclass.Classifier

	// Rules evaluates ingested messages until the next ruleset upload.
	Rules *rules.Engine

	// Messages receives one record per ingested message and backs the
	// message listing.
	Messages *msgstore.NDJSONStore

	// TaxonomyDoc and RulesDoc back the document endpoints.
	TaxonomyDoc *msgstore.DocStore
	RulesDoc    *msgstore.DocStore

	// Logger receives one line per request. Nil disables request
	// logging.
	Logger *slog.Logger

	// RateRPS and RateBurst shape the token bucket guarding the
	// classify endpoints. Zero RateRPS disables rate limiting.
	RateRPS   float64
	RateBurst int
}

// Server routes HTTP requests to the classifier, the rules engine and
// the message stores. It is safe for concurrent use.
type Server struct {
	router *gin.Engine
	logger *slog.Logger

	clf    atomic.Pointer[mailclass.Classifier]
	engine atomic.Pointer[rules.Engine]

	messages    *msgstore.NDJSONStore
	taxonomyDoc *msgstore.DocStore
	rulesDoc    *msgstore.DocStore
}

// New builds the server and its routes.
func New(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:      cfg.Logger,
		messages:    cfg.Messages,
		taxonomyDoc: cfg.TaxonomyDoc,
		rulesDoc:    cfg.RulesDoc,
	}

	if cfg.Classifier != nil {
		s.clf.Store(cfg.Classifier)
	}

	if cfg.Rules != nil {
		s.engine.Store(cfg.Rules)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.Logger != nil {
		router.Use(RequestLogger(cfg.Logger))
	}

	router.GET("/healthz", s.health)

	v1 := router.Group("/v1")
	{
		v1.GET("/model", s.getModel)
		v1.GET("/messages", s.listMessages)
		v1.GET("/taxonomy", s.getTaxonomy)
		v1.PUT("/taxonomy", s.putTaxonomy)
		v1.GET("/rules", s.getRules)
		v1.PUT("/rules", s.putRules)

		classify := v1.Group("")
		if cfg.RateRPS > 0 {
			classify.Use(RateLimit(cfg.RateRPS, cfg.RateBurst))
		}

		classify.POST("/classify", s.classify)
		classify.POST("/messages", s.ingestMessage)
	}

	s.router = router

	return s
}

// Handler returns the server's HTTP handler for use with http.Server
// or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SwapClassifier atomically replaces the serving classifier. In-flight
// requests finish with the instance they already loaded.
func (s *Server) SwapClassifier(clf *mailclass.Classifier) {
	s.clf.Store(clf)
}

// SwapRules atomically replaces the rules engine.
func (s *Server) SwapRules(e *rules.Engine) {
	s.engine.Store(e)
}

func (s *Server) classifier() *mailclass.Classifier {
	return s.clf.Load()
}
