package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ShoshinNikita/filepreview/pkg/rlog"
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/ShoshinNikita/filepreview/session"
	"github.com/ShoshinNikita/filepreview/static"
	"github.com/ShoshinNikita/filepreview/thumbnails"
	"github.com/gildas/go-core"
	"github.com/gildas/go-errors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	blobsPathPrefix = "/api/blobs/"

	maxUploadSize       = 100 << 20 // 100 MiB
	maxUploadMemorySize = 32 << 20  // 32 MiB
	maxPropsBodySize    = 64 << 10  // 64 KiB
)

type Server struct {
	cfg preview.Config

	httpServer *http.Server
	router     *mux.Router

	resolver    session.Resolver
	thumbnailer session.Thumbnailer
	blobs       *session.BlobStore
	sessions    *sessionRegistry
}

func NewServer(cfg preview.Config, resolver session.Resolver, thumbnailer session.Thumbnailer) *Server {
	s := &Server{
		cfg: cfg,
		//
		resolver:    resolver,
		thumbnailer: thumbnailer,
		blobs:       session.NewBlobStore(blobsPathPrefix),
		sessions:    newSessionRegistry(cfg.SessionTTL),
	}

	router := mux.NewRouter()

	// API
	api := router.PathPrefix("/api").Subrouter()
	api.Methods(http.MethodPost).Path("/sessions").HandlerFunc(s.handleCreateSession)
	api.Methods(http.MethodGet).Path("/sessions/{id}").HandlerFunc(s.handleGetSession)
	api.Methods(http.MethodPut).Path("/sessions/{id}").HandlerFunc(s.handleUpdateSession)
	api.Methods(http.MethodDelete).Path("/sessions/{id}").HandlerFunc(s.handleDeleteSession)
	api.Methods(http.MethodGet).Path("/blobs/{id}").HandlerFunc(s.handleBlob)
	api.Methods(http.MethodGet).Path("/resolve").HandlerFunc(s.handleResolve)
	api.Methods(http.MethodGet).Path("/thumbnail").HandlerFunc(s.handleThumbnail)

	// Static
	staticHandler := http.FileServer(http.FS(static.NewImagesFS(cfg.ReadStaticFilesFromDisk)))
	if !cfg.ReadStaticFilesFromDisk {
		staticHandler = cacheMiddleware(30*24*time.Hour, cfg.BuildInfo.ShortGitHash, staticHandler)
	}
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", staticHandler))

	// Debug
	router.Methods(http.MethodGet).Path("/debug/metrics").Handler(promhttp.Handler())

	router.Use(loggingMiddleware)

	s.router = router
	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler returns the http handler of the server. It is useful for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	if s.cfg.SessionTTL > 0 {
		s.sessions.StartJanitor(min(s.cfg.SessionTTL, time.Minute))
	}

	rlog.Infof("start web server on %q", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.sessions.Close()
	return err
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	props, err := s.parseProps(w, r)
	if err != nil {
		core.RespondWithError(w, http.StatusBadRequest, err)
		return
	}

	sess := session.New(s.resolver, s.thumbnailer, s.blobs, session.Options{
		DefaultClarity: s.cfg.Clarity,
	})
	if err := sess.SetSource(props); err != nil {
		sess.Close()
		writeInternalServerError(w, fmt.Errorf("couldn't set source: %w", err))
		return
	}
	id := s.sessions.Add(sess)

	s.respondWithSession(w, r, http.StatusCreated, id, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, ok := s.sessions.Get(id)
	if !ok {
		core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("session", id))
		return
	}
	s.respondWithSession(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, ok := s.sessions.Get(id)
	if !ok {
		core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("session", id))
		return
	}

	props, err := s.parseProps(w, r)
	if err != nil {
		core.RespondWithError(w, http.StatusBadRequest, err)
		return
	}
	if err := sess.SetSource(props); err != nil {
		if errors.Is(err, session.ErrClosed) {
			// The session was purged in the meantime.
			core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("session", id))
			return
		}
		writeInternalServerError(w, fmt.Errorf("couldn't set source: %w", err))
		return
	}

	s.respondWithSession(w, r, http.StatusOK, id, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.sessions.Delete(id) {
		core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("session", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondWithSession writes the current state of the session. With "wait" query param
// it waits until the session settles, but no longer than the request timeout.
func (s *Server) respondWithSession(w http.ResponseWriter, r *http.Request, code int, id string, sess *session.Session) {
	snap := sess.Snapshot()

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx := r.Context()
		if s.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
			defer cancel()
		}

		var err error
		snap, err = sess.Wait(ctx)
		switch {
		case errors.Is(err, session.ErrClosed):
			core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("session", id))
			return
		case err != nil:
			// Return the current state, the client can poll again.
			rlog.Debugf("couldn't wait for session %q: %s", id, err)
		}
	}

	core.RespondWithJSON(w, code, newSessionResponse(id, snap))
}

func (s *Server) parseProps(w http.ResponseWriter, r *http.Request) (session.Props, error) {
	var (
		req  PropsRequest
		blob *preview.Blob
	)

	mediaType := r.Header.Get("Content-Type")
	if strings.HasPrefix(mediaType, "multipart/form-data") {
		var err error
		req, blob, err = parseMultipartProps(w, r)
		if err != nil {
			return session.Props{}, err
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxPropsBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return session.Props{}, errors.ArgumentInvalid.With("body", err.Error())
		}
	}

	if req.Source == "" && blob == nil {
		return session.Props{}, errors.ArgumentMissing.With("source")
	}
	if req.Clarity < 0 {
		return session.Props{}, errors.ArgumentInvalid.With("clarity", strconv.Itoa(req.Clarity))
	}

	props := session.Props{
		Source:           preview.URLSource(req.Source),
		Type:             req.Type,
		PlaceholderImage: req.PlaceholderImage,
		ErrorImage:       req.ErrorImage,
		Clarity:          req.Clarity,
	}
	if blob != nil {
		props.Source = preview.BlobSource(blob)
	}
	if props.PlaceholderImage == "" {
		props.PlaceholderImage = s.cfg.PlaceholderImage
	}
	if props.ErrorImage == "" {
		props.ErrorImage = s.cfg.ErrorImage
	}
	return props, nil
}

func parseMultipartProps(w http.ResponseWriter, r *http.Request) (PropsRequest, *preview.Blob, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadMemorySize); err != nil {
		return PropsRequest{}, nil, errors.ArgumentInvalid.With("body", err.Error())
	}

	req := PropsRequest{
		Source:           r.FormValue("source"),
		PlaceholderImage: r.FormValue("placeholder_image"),
		ErrorImage:       r.FormValue("error_image"),
	}
	if v := r.FormValue("type"); v != "" {
		if err := req.Type.UnmarshalText([]byte(v)); err != nil {
			return PropsRequest{}, nil, errors.ArgumentInvalid.With("type", v)
		}
	}
	if v := r.FormValue("clarity"); v != "" {
		clarity, err := strconv.Atoi(v)
		if err != nil {
			return PropsRequest{}, nil, errors.ArgumentInvalid.With("clarity", v)
		}
		req.Clarity = clarity
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil, nil
		}
		return PropsRequest{}, nil, errors.ArgumentInvalid.With("file", err.Error())
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return PropsRequest{}, nil, errors.ArgumentInvalid.With("file", err.Error())
	}

	blob := &preview.Blob{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Data:      data,
	}
	return req, blob, nil
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	blob, ok := s.blobs.Open(id)
	if !ok {
		core.RespondWithError(w, http.StatusNotFound, errors.NotFound.With("blob", id))
		return
	}

	if blob.MediaType != "" {
		w.Header().Set("Content-Type", blob.MediaType)
	}
	// ServeContent handles range requests, they are required for video seeking.
	http.ServeContent(w, r, blob.Name, time.Time{}, bytes.NewReader(blob.Data))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	source := query.Get("source")
	if source == "" {
		core.RespondWithError(w, http.StatusBadRequest, errors.ArgumentMissing.With("source"))
		return
	}

	var hint preview.FileType
	if v := query.Get("type"); v != "" {
		if err := hint.UnmarshalText([]byte(v)); err != nil {
			core.RespondWithError(w, http.StatusBadRequest, errors.ArgumentInvalid.With("type", v))
			return
		}
	}

	fileType := s.resolver.Resolve(r.Context(), hint, preview.URLSource(source), nil)

	core.RespondWithJSON(w, http.StatusOK, ResolveResponse{Type: fileType})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	source := query.Get("source")
	if source == "" {
		core.RespondWithError(w, http.StatusBadRequest, errors.ArgumentMissing.With("source"))
		return
	}
	u, err := s.resolver.NormalizeURL(source)
	if err != nil || !u.IsAbs() {
		core.RespondWithError(w, http.StatusBadRequest, errors.ArgumentInvalid.With("source", source))
		return
	}

	clarity := s.cfg.Clarity
	if v := query.Get("clarity"); v != "" {
		clarity, err = strconv.Atoi(v)
		if err != nil || clarity <= 0 {
			core.RespondWithError(w, http.StatusBadRequest, errors.ArgumentInvalid.With("clarity", v))
			return
		}
	}

	thumbnail, err := s.thumbnailer.Generate(r.Context(), preview.URLSource(u.String()), nil, clarity)
	if err != nil {
		var code int
		switch {
		case errors.Is(err, thumbnails.ErrNoopThumbnailer):
			code = http.StatusNotFound
		case errors.Is(err, thumbnails.ErrPDFTooLarge):
			code = http.StatusRequestEntityTooLarge
		case errors.Is(err, preview.ErrTransport):
			code = http.StatusBadGateway
		case errors.Is(err, preview.ErrParse), errors.Is(err, preview.ErrRender):
			code = http.StatusUnprocessableEntity
		default:
			code = http.StatusInternalServerError
		}
		core.RespondWithError(w, code, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(thumbnail.PNG)))
	w.Write(thumbnail.PNG)
}

func writeInternalServerError(w http.ResponseWriter, err error) {
	rlog.Error(err)
	core.RespondWithError(w, http.StatusInternalServerError, err)
}
