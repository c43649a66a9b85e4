package server

import (
	"errors"
	"net/http"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/directory"
	"github.com/mikey73/onecareer/oauth"
	"github.com/mikey73/onecareer/ratelimit"
)

type accountResponse struct {
	AccountID int64  `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Verified  bool   `json:"verified"`
	// VerificationToken is only echoed in dev mode.
	VerificationToken string `json:"verification_token,omitempty"`
}

func (a *App) newAccountResponse(acc *directory.Account, token string) accountResponse {
	resp := accountResponse{
		AccountID: acc.ID,
		Email:     acc.Email,
		Role:      string(acc.Role),
		Verified:  acc.Verified,
	}
	if a.Config.Server.DevMode {
		resp.VerificationToken = token
	}
	return resp
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("register", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}

	acc, token, err := a.Accounts.Register(r.Context(), directory.RegisterRequest{
		ClientID: client.ID,
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
		FullName: r.PostForm.Get("fullname"),
		Role:     r.PostForm.Get("role"),
	})
	if errors.Is(err, directory.ErrDelivery) && acc != nil {
		// The account exists; the user can ask for the email again.
		a.Logger.Warn("verification delivery failed", "account_id", acc.ID, "error", err)
		err = nil
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), acc.ID)
	writeJSON(w, http.StatusCreated, a.newAccountResponse(acc, token))
}

func (a *App) handleValidate(w http.ResponseWriter, r *http.Request) {
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	token := r.Form.Get("vhash")
	if token == "" {
		a.writeError(w, r, apierr.ErrInvalidVerification)
		return
	}
	acc, err := a.Accounts.Verify(r.Context(), token, client.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), acc.ID)
	writeJSON(w, http.StatusOK, a.newAccountResponse(acc, ""))
}

func (a *App) handleResend(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("resend", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	token, err := a.Accounts.Resend(r.Context(), r.PostForm.Get("email"), client.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := map[string]string{"status": "sent"}
	if a.Config.Server.DevMode {
		resp["verification_token"] = token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleLogin checks credentials and discards the account's tokens for the
// calling client. No code is issued.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("login", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	email, password := r.PostForm.Get("email"), r.PostForm.Get("password")
	if email == "" || password == "" {
		a.writeError(w, r, apierr.ErrSchemaInvalid.WithMessage("email and password are required"))
		return
	}

	login, err := a.Provider.Login(r.Context(), oauth.LoginRequest{
		ClientID: client.ID,
		Email:    email,
		Password: password,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), login.AccountID())
	acc, err := a.Repo.AccountByID(r.Context(), login.AccountID())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.newAccountResponse(acc, ""))
}

func (a *App) handleRecover(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("recover", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	token, err := a.Accounts.Recover(r.Context(), r.PostForm.Get("email"), client.ID)
	if errors.Is(err, directory.ErrDelivery) {
		a.Logger.Warn("password reset delivery failed", "client_id", client.ID, "error", err)
		err = nil
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	resp := map[string]string{"status": "sent"}
	if a.Config.Server.DevMode {
		resp["reset_token"] = token
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleResetHash reports whether a reset token is still usable.
func (a *App) handleResetHash(w http.ResponseWriter, r *http.Request) {
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	token := r.PostForm.Get("vhash")
	if token == "" {
		a.writeError(w, r, apierr.ErrInvalidVerification)
		return
	}
	if err := a.Accounts.CheckReset(r.Context(), token, client.ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) handleReset(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("reset", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	acc, err := a.Accounts.ResetPassword(r.Context(), directory.ResetRequest{
		ClientID: client.ID,
		Token:    r.PostForm.Get("vhash"),
		Password: r.PostForm.Get("password"),
		Confirm:  r.PostForm.Get("confirm"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), acc.ID)
	writeJSON(w, http.StatusOK, a.newAccountResponse(acc, ""))
}
