package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/db"
	"github.com/Cypherspark/mailing/internal/service"
)

type Server struct {
	Svc         *service.Service
	DB          *db.DB
	Redis       *redis.Client // optional; checked by /readyz when set
	Log         logrus.FieldLogger
	CORSOrigins []string
}

func NewServer(svc *service.Service, database *db.DB, log logrus.FieldLogger) *Server {
	return &Server{Svc: svc, DB: database, Log: log, CORSOrigins: []string{"*"}}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer, instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-User-ID", "X-Request-Id"},
		MaxAge:         300,
	}))

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Post("/users", s.registerUser)

	r.Group(func(r chi.Router) {
		r.Use(s.identify)

		r.Get("/home", s.home)

		r.Route("/recipients", func(r chi.Router) {
			r.Get("/", s.listRecipients)
			r.Post("/", s.createRecipient)
			r.Get("/{id}", s.getRecipient)
			r.Put("/{id}", s.updateRecipient)
			r.Delete("/{id}", s.deleteRecipient)
		})
		r.Route("/messages", func(r chi.Router) {
			r.Get("/", s.listMessages)
			r.Post("/", s.createMessage)
			r.Get("/{id}", s.getMessage)
			r.Put("/{id}", s.updateMessage)
			r.Delete("/{id}", s.deleteMessage)
		})
		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.listCampaigns)
			r.Post("/", s.createCampaign)
			r.Get("/{id}", s.getCampaign)
			r.Put("/{id}", s.updateCampaign)
			r.Delete("/{id}", s.deleteCampaign)
			r.Post("/{id}/dispatch", s.dispatchCampaign)
			r.Get("/{id}/attempts", s.listAttempts)
		})
		r.Route("/manager", func(r chi.Router) {
			r.Get("/users", s.listUsers)
			r.Post("/users/{id}/toggle-block", s.toggleUserBlock)
			r.Post("/campaigns/{id}/toggle", s.toggleCampaign)
			r.Post("/campaigns/{id}/disable", s.disableCampaign)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{core.ErrNotFound, http.StatusNotFound, "not_found"},
	{core.ErrUserBlocked, http.StatusForbidden, "user_blocked"},
	{core.ErrForbidden, http.StatusForbidden, "forbidden"},
	{core.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{core.ErrValidation, http.StatusBadRequest, "validation_error"},
	{core.ErrConflict, http.StatusConflict, "conflict"},
	{core.ErrOutOfWindow, http.StatusConflict, "out_of_window"},
	{core.ErrNoRecipients, http.StatusConflict, "no_recipients"},
	{core.ErrCampaignDisabled, http.StatusConflict, "campaign_disabled"},
	{core.ErrDispatchInProgress, http.StatusConflict, "dispatch_in_progress"},
	{core.ErrNoAttempts, http.StatusInternalServerError, "no_attempts"},
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			writeJSON(w, e.status, errorBody{Error: e.code, Message: err.Error()})
			return
		}
	}
	s.Log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error"})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, err.Error())
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return 0, false
	}
	return id, true
}

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	u, err := s.Svc.RegisterUser(r.Context(), in.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	st, err := s.Svc.HomeStats(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
