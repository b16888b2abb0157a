package server

import (
	"bytes"
	"html/template"
	"log"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/policylens/policylens/internal/database"
)

var md = goldmark.New()

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	policies, err := s.db.Policies(database.ListFilter{Limit: 50})
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	counts, _ := s.db.CategoryCounts()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = s.dashboard.Execute(w, map[string]any{
		"Stats":    stats,
		"Policies": policies,
		"Counts":   counts,
		"Status":   s.sched.GetStatus(),
	})
	if err != nil {
		log.Printf("Error rendering dashboard: %v", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}
