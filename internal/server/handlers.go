package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iabetor/newslens/internal/insight"
	"github.com/iabetor/newslens/internal/news"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	items, err := s.deps.News.Aggregate(r.Context())
	if err != nil {
		requestLogger(r).Errorf("[server] 聚合失败: %v", err)
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch RSS feeds"})
		return
	}
	if items == nil {
		items = []news.NewsItem{}
	}
	writeJSON(w, r, http.StatusOK, items)
}

func (s *Server) handleInsight(w http.ResponseWriter, r *http.Request) {
	var req insight.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	resp, err := s.deps.Insight.Generate(r.Context(), req)
	if errors.Is(err, insight.ErrMissingTitle) {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "title and perspective are required"})
		return
	}
	if err != nil {
		requestLogger(r).Errorf("[server] 解读生成失败: %v", err)
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "Failed to generate insight"})
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(r).Warnf("[server] 写入响应失败: %v", err)
	}
}
