package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ownrealm/pkg/core"
)

func setupLogging() {
	logDir := "./logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("log dir: %v", err)
		return
	}
	fInfo, err := os.OpenFile(filepath.Join(logDir, "server.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("server.log: %v", err)
		return
	}
	fErr, err := os.OpenFile(filepath.Join(logDir, "error.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Printf("error.log: %v", err)
		return
	}
	InfoLog = log.New(io.MultiWriter(os.Stdout, fInfo), "INFO: ", log.Ldate|log.Ltime|log.Lshortfile)
	ErrorLog = log.New(io.MultiWriter(os.Stderr, fErr), "ERROR: ", log.Ldate|log.Ltime|log.Lshortfile)
}

func (a *app) getLimiter(ip string) *rate.Limiter {
	a.ipLock.Lock()
	defer a.ipLock.Unlock()
	limiter, exists := a.ipLimiters[ip]
	if !exists {
		// 10 req/s with a burst of 20 keeps predictor polling under the limit
		limiter = rate.NewLimiter(10, 20)
		a.ipLimiters[ip] = limiter
	}
	return limiter
}

// middlewareCORS adds headers to allow browser clients
func middlewareCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *app) middlewareSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !a.getLimiter(ip).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit")
			return
		}

		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Status stays reachable so operators can see the node is up.
		if strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/api/status" && !a.cfg.CommandControl {
			writeJSONError(w, http.StatusServiceUnavailable, "node is in infrastructure mode (no player API)")
			return
		}

		// Bodies must be JSON; lazy clients that send nothing are fine.
		contentType := r.Header.Get("Content-Type")
		if r.Method == http.MethodGet || r.Method == http.MethodDelete || contentType == "" ||
			strings.Contains(contentType, "application/json") {
			next.ServeHTTP(w, r)
			return
		}

		writeJSONError(w, http.StatusUnsupportedMediaType, "bad content type: "+contentType)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// middlewareRequestID tags every request with an X-Request-ID and writes an
// access log line.
func middlewareRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		InfoLog.Printf("%s %s %d %s id=%s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Microsecond), id)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ErrorLog.Printf("encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps the engine's error kinds onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case core.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrConflict):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, core.ErrTransientStore):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	default:
		ErrorLog.Printf("internal: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Invalid("bad json: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, core.Invalid("bad %s %q", name, r.PathValue(name))
	}
	return id, nil
}
