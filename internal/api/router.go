package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/runtime/internal/api/handlers"
	"github.com/agentoven/runtime/internal/api/middleware"
	"github.com/agentoven/runtime/internal/auth"
	"github.com/agentoven/runtime/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAPIKeyProvider())
	chain.RegisterProvider(auth.NewServiceAccountProvider())
	authMW := middleware.NewAuthMiddleware(chain)

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.TenantExtractor)
	r.Use(middleware.Telemetry)
	r.Use(authMW.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Kitchen-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health & info
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Agents (the Menu)
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.ListAgents)
			r.Post("/", h.RegisterAgent)
			r.Route("/{agentName}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Put("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Post("/bake", h.BakeAgent)
				r.Post("/cool", h.CoolAgent)

				// Agent versions
				r.Route("/versions", func(r chi.Router) {
					r.Get("/", h.ListAgentVersions)
					r.Get("/{version}", h.GetAgentVersion)
				})

				// Reasoning-loop task submission/polling (agentic agents only)
				r.Route("/tasks", func(r chi.Router) {
					r.Post("/", h.SubmitAgentTask)
					r.Get("/{taskId}", h.GetAgentTask)
				})
			})
		})

		// Recipes (workflows)
		r.Route("/recipes", func(r chi.Router) {
			r.Get("/", h.ListRecipes)
			r.Post("/", h.CreateRecipe)
			r.Route("/{recipeName}", func(r chi.Router) {
				r.Get("/", h.GetRecipe)
				r.Put("/", h.UpdateRecipe)
				r.Delete("/", h.DeleteRecipe)
				r.Post("/bake", h.BakeRecipe)
				r.Get("/history", h.RecipeHistory)
				r.Get("/runs/{runId}", h.GetRecipeRun)
			})
		})

		// Model Router
		r.Route("/models", func(r chi.Router) {
			r.Get("/providers", h.ListProviders)
			r.Post("/route", h.RouteModel)
			r.Get("/cost", h.GetCostSummary)
		})

		// Traces & Observability
		r.Route("/traces", func(r chi.Router) {
			r.Get("/", h.ListTraces)
			r.Get("/{traceId}", h.GetTrace)
		})

		// Kitchens (workspaces)
		r.Route("/kitchens", func(r chi.Router) {
			r.Get("/", h.ListKitchens)
			r.Post("/", h.CreateKitchen)
			r.Get("/{kitchenId}", h.GetKitchen)
		})

		// Retrieval-augmented generation
		r.Route("/rag", func(r chi.Router) {
			r.Post("/query", h.RAGQuery)
			r.Post("/ingest", h.RAGIngest)
		})

		// Embedding drivers
		r.Route("/embeddings", func(r chi.Router) {
			r.Get("/", h.ListEmbeddingDrivers)
			r.Get("/health", h.EmbeddingHealth)
			r.Post("/{driver}/embed", h.EmbedText)
		})

		// Vector store drivers
		r.Route("/vectorstores", func(r chi.Router) {
			r.Get("/", h.ListVectorStoreDrivers)
			r.Get("/health", h.VectorStoreHealth)
		})

		// Data connectors (Pro)
		r.Route("/connectors", func(r chi.Router) {
			r.Get("/", h.ListConnectors)
		})
	})

	// A2A Gateway — agent-to-agent protocol endpoint
	r.Route("/a2a", func(r chi.Router) {
		r.Post("/", h.A2AEndpoint)
		r.Get("/.well-known/agent-card.json", h.ServeAgentCard)
	})

	// Per-agent A2A endpoints
	r.Route("/agents/{agentName}/a2a", func(r chi.Router) {
		r.Post("/", h.A2AAgentEndpoint)
		r.Get("/.well-known/agent-card.json", h.ServeAgentSpecificCard)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"service": "agentoven-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentoven-control-plane",
		})
	}
}
