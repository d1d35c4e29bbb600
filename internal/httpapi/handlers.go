package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/identity"
	"github.com/MrEthical07/goAccount/middleware"
	"github.com/MrEthical07/goAccount/store"
)

var (
	errStateMismatch   = &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "invalid_state", Message: "login request expired or was tampered with"}
	errProviderDenied  = &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "provider_denied", Message: "the provider did not authorize the login"}
	errUnknownProvider = &goAccount.Error{Kind: goAccount.KindNotFound, Code: "unknown_provider", Message: "identity provider not configured"}
	errMissingRefresh  = &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "invalid_credentials", Message: "invalid credentials"}
)

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	for _, check := range a.health {
		if err := check(r.Context()); err != nil {
			a.logger.WarnContext(r.Context(), "goAccount: healthcheck failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// session sets the refresh cookie and writes the public half of s.
func (a *API) session(w http.ResponseWriter, status int, s *goAccount.Session) {
	a.cookies.setRefresh(w, s.RefreshToken)
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, s)
}

func (a *API) signup(w http.ResponseWriter, r *http.Request) {
	var req goAccount.SignupRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	res, err := a.svc.Signup(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	s, err := a.svc.VerifyEmail(r.Context(), req.Email, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session(w, http.StatusOK, s)
}

func (a *API) resendCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email   string `json:"email"`
		Purpose string `json:"purpose"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	purpose := store.Purpose(req.Purpose)
	if purpose == "" {
		purpose = store.PurposeEmailVerify
	}
	outcome, err := a.svc.ResendOTP(r.Context(), req.Email, purpose)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": outcome.String()})
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	s, err := a.svc.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session(w, http.StatusOK, s)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	token := a.cookies.refresh(r)
	if token == "" {
		a.writeError(w, r, errMissingRefresh)
		return
	}
	s, err := a.svc.Refresh(r.Context(), token)
	if err != nil {
		if goAccount.KindOf(err) == goAccount.KindAuthentication {
			a.cookies.clearRefresh(w)
		}
		a.writeError(w, r, err)
		return
	}
	a.session(w, http.StatusOK, s)
}

// logout always clears the cookie and answers 204. Revocation failures are
// logged by the service and never reach the client.
func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	if token := a.cookies.refresh(r); token != "" {
		_ = a.svc.Logout(r.Context(), token)
	}
	a.cookies.clearRefresh(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	if err := a.svc.ForgotPassword(r.Context(), req.Identifier); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Code       string `json:"code"`
		Password   string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	if err := a.svc.ResetPassword(r.Context(), req.Identifier, req.Code, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.cookies.clearRefresh(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createGuest(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.CreateGuest(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session(w, http.StatusCreated, s)
}

/*
====================================
EXTERNAL IDENTITY
====================================
*/

func (a *API) verifier(w http.ResponseWriter, r *http.Request) (identity.Verifier, bool) {
	v, ok := a.identities.Get(chi.URLParam(r, "provider"))
	if !ok {
		a.writeError(w, r, errUnknownProvider)
		return nil, false
	}
	return v, true
}

func (a *API) oauthStart(w http.ResponseWriter, r *http.Request) {
	v, ok := a.verifier(w, r)
	if !ok {
		return
	}
	state, err := identity.NewState()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.cookies.setState(w, state)
	http.Redirect(w, r, v.AuthURL(state), http.StatusFound)
}

func (a *API) oauthCallback(w http.ResponseWriter, r *http.Request) {
	v, ok := a.verifier(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	expected := a.cookies.takeState(w, r)
	if q.Get("error") != "" {
		a.writeError(w, r, errProviderDenied)
		return
	}
	p, err := a.exchange(r.Context(), v, expected, q.Get("state"), q.Get("code"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	s, err := a.svc.LoginWithIdentity(r.Context(), *p)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.session(w, http.StatusOK, s)
}

func (a *API) exchange(ctx context.Context, v identity.Verifier, expected, got, code string) (*identity.Profile, error) {
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		return nil, errStateMismatch
	}
	p, err := v.Exchange(ctx, code)
	if err != nil {
		return nil, identityError(err)
	}
	return p, nil
}

func identityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCode):
		return &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "invalid_code", Message: "authorization code rejected", Err: err}
	case errors.Is(err, identity.ErrUnverifiedEmail):
		return &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "unverified_email", Message: "the provider has not verified this email", Err: err}
	case errors.Is(err, identity.ErrIncompleteProfile):
		return &goAccount.Error{Kind: goAccount.KindAuthentication, Code: "incomplete_profile", Message: "the provider returned an incomplete profile", Err: err}
	default:
		return &goAccount.Error{Kind: goAccount.KindUnavailable, Code: "provider_unavailable", Message: "identity provider unavailable", Err: err}
	}
}

/*
====================================
AUTHENTICATED
====================================
*/

func caller(r *http.Request) *goAccount.Profile {
	p, _ := middleware.ProfileFromContext(r.Context())
	return p
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Profile(r.Context(), caller(r).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updateUsername(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	p, err := a.svc.UpdateUsername(r.Context(), caller(r).ID, req.Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) upgradeGuest(w http.ResponseWriter, r *http.Request) {
	var req goAccount.SignupRequest
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	if err := a.svc.UpgradeGuest(r.Context(), caller(r).ID, req); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) linkIdentity(w http.ResponseWriter, r *http.Request) {
	v, ok := a.verifier(w, r)
	if !ok {
		return
	}
	var req struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	p, err := a.exchange(r.Context(), v, a.cookies.takeState(w, r), req.State, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.svc.LinkIdentity(r.Context(), caller(r).ID, *p); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) requestDeletion(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.RequestAccountDeletion(r.Context(), caller(r).ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decode(r, &req); err != nil {
		a.badRequest(w, "malformed request body")
		return
	}
	if err := a.svc.DeleteAccount(r.Context(), caller(r).ID, req.Code); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.cookies.clearRefresh(w)
	w.WriteHeader(http.StatusNoContent)
}
