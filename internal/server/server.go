package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/policylens/policylens/internal/database"
	"github.com/policylens/policylens/internal/pipeline"
	"github.com/policylens/policylens/internal/scheduler"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server exposes the trigger/status/query API plus a small HTML dashboard.
type Server struct {
	db        *database.DB
	sched     *scheduler.Scheduler
	pipe      *pipeline.Pipeline
	mux       *http.ServeMux
	dashboard *template.Template
}

// New creates a Server.
func New(db *database.DB, sched *scheduler.Scheduler, pipe *pipeline.Pipeline) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
	}

	dashboard, err := template.New("dashboard.html").Funcs(funcMap).ParseFS(templateFS, "templates/dashboard.html")
	if err != nil {
		return nil, fmt.Errorf("parsing dashboard template: %w", err)
	}

	s := &Server{db: db, sched: sched, pipe: pipe, mux: http.NewServeMux(), dashboard: dashboard}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/trigger-scrape", s.handleTriggerScrape)
	s.mux.HandleFunc("/retry-analysis", s.handleRetryAnalysis)
	s.mux.HandleFunc("/scraper/status", s.handleScraperStatus)
	s.mux.HandleFunc("/scraper/toggle", s.handleScraperToggle)
	s.mux.HandleFunc("/policies", s.handlePolicies)
	s.mux.HandleFunc("/policies/", s.handlePolicyByID)
	s.mux.HandleFunc("/categories", s.handleCategories)
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/dashboard", s.handleDashboard)
}

// corsMiddleware allows cross-origin reads; the original frontend is served
// from a different origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	status := s.sched.GetStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "PolicyLens API",
		"version": "1.0.0",
		"status":  "running",
		"scraper": map[string]any{
			"enabled":          status.Enabled,
			"interval_seconds": status.IntervalSeconds,
			"run_on_startup":   status.RunOnStartup,
			"total_runs":       status.TotalRuns,
		},
		"endpoints": map[string]string{
			"health":         "GET /health",
			"trigger_scrape": "POST /trigger-scrape",
			"retry_analysis": "POST /retry-analysis?limit=50",
			"scraper_status": "GET /scraper/status",
			"scraper_toggle": "POST /scraper/toggle?enabled=true",
			"policies":       "GET /policies?limit=50&offset=0&category=food",
			"policy_by_id":   "GET /policies/{id}",
			"categories":     "GET /categories",
			"stats":          "GET /stats",
			"dashboard":      "GET /dashboard",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.sched.GetStatus()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": now(),
		"scraper": map[string]any{
			"is_running": status.IsRunning,
			"last_run":   status.LastRun,
			"total_runs": status.TotalRuns,
		},
	})
}

func (s *Server) handleTriggerScrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Fire and forget: outcomes are observable via /scraper/status only.
	if !s.sched.Trigger(context.Background()) {
		writeError(w, http.StatusConflict, "Scraper is already running. Please wait for it to complete.")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Scraper started in background",
		"status":    "started",
		"timestamp": now(),
	})
}

func (s *Server) handleRetryAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	go func() {
		result, err := s.pipe.RetryUnanalyzed(context.Background(), limit)
		if err != nil {
			log.Printf("Error in retry analysis: %v", err)
			return
		}
		log.Printf("Retry analysis completed: %d analyzed, %d failed", result.Analyzed, result.Failed)
	}()

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   fmt.Sprintf("AI analysis retry started for up to %d unanalyzed policies", limit),
		"status":    "started",
		"timestamp": now(),
	})
}

func (s *Server) handleScraperStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.GetStatus())
}

func (s *Server) handleScraperToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	enabled, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "enabled must be true or false")
		return
	}

	s.sched.SetEnabled(enabled)
	verb := "disabled"
	if enabled {
		verb = "enabled"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Scheduled scraping " + verb,
		"enabled":   enabled,
		"timestamp": now(),
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ListFilter{
		Category: q.Get("category"),
		Limit:    50,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("analyzed"); v != "" {
		analyzed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "analyzed must be true or false")
			return
		}
		filter.Analyzed = &analyzed
	}

	items, err := s.db.Policies(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	data := make([]policyJSON, 0, len(items))
	for _, it := range items {
		data = append(data, toPolicyJSON(it))
	}

	limit := filter.Limit
	if limit > database.MaxListLimit {
		limit = database.MaxListLimit
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   data,
		"count":  len(data),
		"offset": filter.Offset,
		"limit":  limit,
	})
}

func (s *Server) handlePolicyByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/policies/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy ID")
		return
	}

	it, err := s.db.PolicyByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if it == nil {
		writeError(w, http.StatusNotFound, "Policy not found")
		return
	}

	writeJSON(w, http.StatusOK, toPolicyJSON(*it))
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CategoryCounts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	categories := make([]string, 0, len(counts))
	total := 0
	for cat, n := range counts {
		categories = append(categories, cat)
		total += n
	}
	sort.Strings(categories)

	writeJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"counts":     counts,
		"total":      total,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rate := "0%"
	if stats.TotalPolicies > 0 {
		rate = fmt.Sprintf("%.1f%%", float64(stats.AnalyzedPolicies)/float64(stats.TotalPolicies)*100)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_policies":      stats.TotalPolicies,
		"analyzed_policies":   stats.AnalyzedPolicies,
		"recent_policies_24h": stats.Recent24h,
		"analysis_rate":       rate,
		"timestamp":           now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
