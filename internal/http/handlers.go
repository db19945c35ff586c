package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"glideview/internal/cache"
	"glideview/internal/config"
)

// ImageLister supplies the ordered location list of the browsing session.
type ImageLister interface {
	Locations() []string
}

// ImageLoader resolves a location to a displayable bitmap.
type ImageLoader interface {
	Load(ctx context.Context, key string) (cache.Bitmap, error)
}

// PositionSink receives the UI's position signals.
type PositionSink interface {
	OnPositionChanged(ctx context.Context, index int)
	RemoveFromQueue(index int)
	CurrentIndex() int
}

// encoded is implemented by bitmaps that carry an encoded representation.
type encoded interface {
	Data() []byte
}

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	lister    ImageLister
	loader    ImageLoader
	preloader PositionSink
}

func New(config *config.Config, logger *zap.Logger, lister ImageLister, loader ImageLoader, preloader PositionSink) *Handlers {
	return &Handlers{
		config:    config,
		logger:    logger,
		lister:    lister,
		loader:    loader,
		preloader: preloader,
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytesWritten += int64(n)
	return n, err
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.AllowedOrigin != "" {
			allowedOrigin = h.config.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type imageEntry struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	locations := h.lister.Locations()
	entries := make([]imageEntry, len(locations))
	for i, loc := range locations {
		entries[i] = imageEntry{Index: i, Name: filepath.Base(loc)}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// HandleImageRoutes serves GET /api/images/{index}: the UI's direct fetch for
// the visible image. Serving an index is also a position signal, so the
// preloader warms the window around it in the background.
func (h *Handlers) HandleImageRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, ok := parseIndex(strings.TrimPrefix(r.URL.Path, "/api/images/"))
	if !ok {
		http.Error(w, "Invalid image index", http.StatusBadRequest)
		return
	}

	locations := h.lister.Locations()
	if index >= len(locations) {
		http.Error(w, "Image not found", http.StatusNotFound)
		return
	}

	h.preloader.OnPositionChanged(r.Context(), index)

	bm, err := h.loader.Load(r.Context(), locations[index])
	if err != nil {
		h.logger.Warn("Image load failed", zap.Int("index", index), zap.Error(err))
		http.Error(w, "No image available", http.StatusBadGateway)
		return
	}

	frame, ok := bm.(encoded)
	if !ok {
		http.Error(w, "Image not servable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data())))
	w.Write(frame.Data())
}

type positionRequest struct {
	Index int `json:"index"`
}

// HandlePosition exposes the position signal: POST reports a new visible
// index, GET reads the current one.
func (h *Handlers) HandlePosition(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(positionRequest{Index: h.preloader.CurrentIndex()})
	case http.MethodPost:
		var req positionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Index < 0 {
			http.Error(w, "Invalid image index", http.StatusBadRequest)
			return
		}
		h.preloader.OnPositionChanged(r.Context(), req.Index)
		w.WriteHeader(http.StatusAccepted)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleQueue serves DELETE /api/queue/{index}: a hint that an index
// scrolled off-screen. It never evicts cached pixels.
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, ok := parseIndex(strings.TrimPrefix(r.URL.Path, "/api/queue/"))
	if !ok {
		http.Error(w, "Invalid image index", http.StatusBadRequest)
		return
	}

	h.preloader.RemoveFromQueue(index)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func parseIndex(raw string) (int, bool) {
	index, err := strconv.Atoi(strings.Trim(raw, "/"))
	if err != nil || index < 0 {
		return 0, false
	}
	return index, true
}

func (h *Handlers) extractIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
