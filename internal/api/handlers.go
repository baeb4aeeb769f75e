package api

import (
	"context"
	"errors"
	"net/http"

	"grimm.is/warden/internal/controller"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/i18n"
	"grimm.is/warden/internal/policy"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Passes run detached from the request; a client disconnect must not roll
// one back halfway through.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	s.logger.Audit("enable", "policy", map[string]any{"remote": r.RemoteAddr})
	if err := s.ctrl.Enable(context.WithoutCancel(r.Context())); err != nil {
		s.writePassError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	s.logger.Audit("disable", "policy", map[string]any{"remote": r.RemoteAddr})
	if err := s.ctrl.Disable(context.WithoutCancel(r.Context())); err != nil {
		s.writePassError(w, r, err)
		return
	}
	s.writeStatus(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writePassError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// PolicySummary is the compact form of a compiled plan.
type PolicySummary struct {
	FirewallRules int             `json:"firewall_rules"`
	DomainRules   int             `json:"domain_rules"`
	DenyDomains   int             `json:"deny_domains"`
	Reports       []policy.Report `json:"reports"`
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	plan, err := s.ctrl.Compile(r.Context())
	if err != nil {
		s.logger.Error("compile failed", "error", err)
		WriteError(w, http.StatusInternalServerError,
			i18n.GetPrinter(r.Context()).Sprintf(i18n.MsgCompileFailed), err.Error())
		return
	}
	if full := r.URL.Query().Get("full"); full == "1" || full == "true" {
		WriteJSON(w, http.StatusOK, plan)
		return
	}

	sum := PolicySummary{
		FirewallRules: len(plan.Firewall),
		DomainRules:   len(plan.Domain),
		Reports:       plan.Reports,
	}
	for _, rule := range plan.Domain {
		sum.DenyDomains += len(rule.Deny)
	}
	WriteJSON(w, http.StatusOK, sum)
}

type stageErrorDetails struct {
	Stage  policy.Stage `json:"stage"`
	PassID string       `json:"pass_id"`
}

func (s *Server) writePassError(w http.ResponseWriter, r *http.Request, err error) {
	p := i18n.GetPrinter(r.Context())
	var stageErr *controller.StageError
	switch {
	case errors.Is(err, firewall.ErrBackendUnavailable):
		WriteError(w, http.StatusServiceUnavailable, p.Sprintf(i18n.MsgBackendUnavailable), err.Error())
	case errors.Is(err, firewall.ErrUnauthorized):
		WriteError(w, http.StatusForbidden, p.Sprintf(i18n.MsgNotAuthorized), err.Error())
	case errors.As(err, &stageErr):
		WriteError(w, http.StatusInternalServerError, err.Error(),
			stageErrorDetails{Stage: stageErr.Stage, PassID: stageErr.PassID})
	default:
		s.logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
