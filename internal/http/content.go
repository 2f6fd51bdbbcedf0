package httpapi

import (
	"net/http"

	"github.com/Cypherspark/mailing/internal/core"
)

type recipientBody struct {
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	Comment  *string `json:"comment"`
}

func (b recipientBody) input() core.RecipientInput {
	return core.RecipientInput{Email: b.Email, FullName: b.FullName, Comment: b.Comment}
}

func (s *Server) listRecipients(w http.ResponseWriter, r *http.Request) {
	items, err := s.Svc.ListRecipients(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createRecipient(w http.ResponseWriter, r *http.Request) {
	var in recipientBody
	if !decode(w, r, &in) {
		return
	}
	rec, err := s.Svc.CreateRecipient(r.Context(), actorFrom(r.Context()), in.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := s.Svc.GetRecipient(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in recipientBody
	if !decode(w, r, &in) {
		return
	}
	rec, err := s.Svc.UpdateRecipient(r.Context(), actorFrom(r.Context()), id, in.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) deleteRecipient(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.Svc.DeleteRecipient(r.Context(), actorFrom(r.Context()), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageBody struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (b messageBody) input() core.MessageInput {
	return core.MessageInput{Subject: b.Subject, Body: b.Body}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	items, err := s.Svc.ListMessages(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) createMessage(w http.ResponseWriter, r *http.Request) {
	var in messageBody
	if !decode(w, r, &in) {
		return
	}
	m, err := s.Svc.CreateMessage(r.Context(), actorFrom(r.Context()), in.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	m, err := s.Svc.GetMessage(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in messageBody
	if !decode(w, r, &in) {
		return
	}
	m, err := s.Svc.UpdateMessage(r.Context(), actorFrom(r.Context()), id, in.input())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.Svc.DeleteMessage(r.Context(), actorFrom(r.Context()), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
