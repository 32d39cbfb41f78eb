package httpapi

import (
	"net/http"

	"todoapp.io/internal/audit"
	"todoapp.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type partnerTokenRequest struct {
	PartnerID     string `json:"partnerId"`
	PartnerSecret string `json:"partnerSecret"`
	RefreshToken  string `json:"refreshToken"`
}

type partnerRegisterRequest struct {
	PartnerID string `json:"partnerId"`
	Email     string `json:"email"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if a.svc.Issuer == nil {
		writeError(w, r, http.StatusInternalServerError, "Server misconfigured")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := a.upstreamContext(r)
	defer cancel()
	pair, err := a.svc.Issuer.Login(ctx, req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", nil)
	writeData(w, http.StatusOK, pair)
}

func (a *API) handlePartnerToken(w http.ResponseWriter, r *http.Request) {
	if a.svc.Issuer == nil {
		writeError(w, r, http.StatusInternalServerError, "Server misconfigured")
		return
	}
	var req partnerTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := a.upstreamContext(r)
	defer cancel()
	pair, err := a.svc.Issuer.PartnerToken(ctx, auth.PartnerTokenRequest{
		PartnerID:     req.PartnerID,
		PartnerSecret: req.PartnerSecret,
		RefreshToken:  req.RefreshToken,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	flow := "client_credentials"
	if req.RefreshToken != "" {
		flow = "refresh"
	}
	_ = audit.LogEvent(r.Context(), "partner.token.issued", map[string]any{
		"partnerId": req.PartnerID,
		"flow":      flow,
	})
	writeData(w, http.StatusOK, pair)
}

func (a *API) handlePartnerRegister(w http.ResponseWriter, r *http.Request) {
	if a.svc.Provisioner == nil {
		writeError(w, r, http.StatusInternalServerError, "Server misconfigured")
		return
	}
	// The admin key is checked before the body is even read.
	adminKey := r.Header.Get(adminKeyName)
	if err := a.svc.Provisioner.Authorize(adminKey); err != nil {
		_ = audit.LogEvent(r.Context(), "partner.register.denied", nil)
		writeAuthError(w, r, err)
		return
	}

	var req partnerRegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := a.upstreamContext(r)
	defer cancel()
	identity, err := a.svc.Provisioner.Register(ctx, adminKey, req.PartnerID, req.Email)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "partner.registered", map[string]any{
		"partnerId": identity.PartnerID,
	})
	writeData(w, http.StatusCreated, identity)
}
