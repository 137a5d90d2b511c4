// Package httpapi exposes walls, blobs and the signature codec over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ipfs/go-cid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/internal/wallsvc"
	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/wall"
)

// maxBodySize bounds request bodies. An encode request for a full payload is
// well below it.
const maxBodySize = 1 << 20

const (
	cacheLatest = "public, max-age=30"
	cacheClosed = "public, max-age=31536000, immutable"
)

var httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wallsign_http_requests_total",
	Help: "HTTP requests by status code and method",
}, []string{"code", "method"})

// Walls is the part of wallsvc.Service the API serves.
type Walls interface {
	LatestWall(ctx context.Context) (*wallsvc.View, error)
	Wall(ctx context.Context, index uint64) (*wallsvc.View, error)
	RenderPNG(ctx context.Context, v *wallsvc.View) ([]byte, cid.Cid, error)
	Export(ctx context.Context, w io.Writer, v *wallsvc.View) error
}

type Server struct {
	walls Walls
	blobs storage.CAS
}

// NewRouter builds the HTTP handler.
func NewRouter(walls Walls, blobs storage.CAS) http.Handler {
	s := &Server{walls: walls, blobs: blobs}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/walls/{ref}", s.getWall)
	r.Get("/blobs/{cid}", s.getBlob)

	r.Route("/signatures", func(api chi.Router) {
		api.Post("/encode", s.encode)
		api.Post("/decode", s.decode)
	})

	return promhttp.InstrumentHandlerCounter(httpRequests, r)
}

// wallRef is a parsed /walls/{ref} path element: "latest" or an index, with
// an optional .png or .tar suffix.
type wallRef struct {
	latest bool
	index  uint64
	ext    string
}

func parseWallRef(s string) (wallRef, error) {
	var ref wallRef
	for _, ext := range []string{".png", ".tar", ".json"} {
		if strings.HasSuffix(s, ext) {
			ref.ext = ext
			s = strings.TrimSuffix(s, ext)
			break
		}
	}
	if s == "latest" {
		ref.latest = true
		return ref, nil
	}
	idx, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return ref, fmt.Errorf("invalid wall %q", s)
	}
	ref.index = idx
	return ref, nil
}

func (s *Server) getWall(w http.ResponseWriter, r *http.Request) {
	ref, err := parseWallRef(chi.URLParam(r, "ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_WALL", err.Error())
		return
	}

	var v *wallsvc.View
	if ref.latest {
		v, err = s.walls.LatestWall(r.Context())
	} else {
		v, err = s.walls.Wall(r.Context(), ref.index)
	}
	if err != nil {
		writeWallError(w, err)
		return
	}

	etag := `"` + v.Fingerprint + ref.ext + `"`
	w.Header().Set("ETag", etag)
	if v.Closed && !ref.latest {
		w.Header().Set("Cache-Control", cacheClosed)
	} else {
		w.Header().Set("Cache-Control", cacheLatest)
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	switch ref.ext {
	case ".png":
		png, _, err := s.walls.RenderPNG(r.Context(), v)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "RENDER_FAILED", err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		_, _ = w.Write(png)
	case ".tar":
		w.Header().Set("Content-Type", "application/x-tar")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="wall-%d.tar"`, v.Window.Index))
		if err := s.walls.Export(r.Context(), w, v); err != nil {
			// Headers are gone; the truncated archive fails to import.
			log.WithError(err).WithField("wall", v.Window.Index).Warn("wall export failed")
		}
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func writeWallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wall.ErrZeroCapacity):
		writeError(w, http.StatusInternalServerError, "BAD_LAYOUT", err.Error())
	case reconcile.IsKind(err, reconcile.KindStrict):
		writeError(w, http.StatusUnprocessableEntity, "STRICT_REJECTED", err.Error())
	case reconcile.IsKind(err, reconcile.KindInvalidOptions):
		writeError(w, http.StatusInternalServerError, "BAD_OPTIONS", err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, "EVENTS_UNAVAILABLE", err.Error())
	}
}

func (s *Server) getBlob(w http.ResponseWriter, r *http.Request) {
	id, err := cidutil.Parse(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_CID", err.Error())
		return
	}
	b, err := s.blobs.Get(r.Context(), id)
	switch {
	case storage.IsNotFound(err):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "STORAGE_ERROR", err.Error())
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(b))
	w.Header().Set("Cache-Control", cacheClosed)
	w.Header().Set("ETag", `"`+id.String()+`"`)
	_, _ = w.Write(b)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = msg
	writeJSON(w, status, body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start),
			"request":  middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
