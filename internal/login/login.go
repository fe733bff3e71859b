// Package login signs a user in against the connected chat server and
// turns server rejections into user-facing failure messages.
package login

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"serverlink/internal/models"
	"serverlink/internal/rest"
)

// ErrBusy is returned when a sign-in is already running or was tapped too
// soon after the previous one.
var ErrBusy = errors.New("sign-in already in progress")

// Server error ids that carry meaning for the login flow.
var (
	MFAExpectedErrors = []string{
		"mfa.validate_token.authenticate.app_error",
		"ent.mfa.validate_token.authenticate.app_error",
	}
	userNotFoundErrors = []string{
		"store.sql_user.get_for_login.app_error",
		"ent.ldap.do_login.user_not_registered.app_error",
	}
	invalidPasswordErrors = []string{
		"api.user.check_user_password.invalid.app_error",
		"ent.ldap.do_login.invalid_password.app_error",
	}
)

// Authenticator performs the login call.
type Authenticator interface {
	Login(ctx context.Context, loginID, password, mfaToken string) (*rest.User, error)
}

// ServerInfo exposes the connected server's client config and license.
type ServerInfo interface {
	Config() map[string]string
	License() map[string]string
}

// Limiter debounces repeated sign-in taps.
type Limiter interface {
	Allow() bool
}

// Credentials is what the user typed.
type Credentials struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
	MFAToken string `json:"token,omitempty"`
}

// Failure is a message the UI layer can localize. Message carries raw
// server text when no message id applies.
type Failure struct {
	MessageID      string            `json:"id,omitempty"`
	DefaultMessage string            `json:"default_message,omitempty"`
	Values         map[string]string `json:"values,omitempty"`
	Message        string            `json:"message,omitempty"`
}

// Result is the outcome of a sign-in.
type Result struct {
	User        *rest.User `json:"user,omitempty"`
	MFARequired bool       `json:"mfa_required"`
	Failure     *Failure   `json:"error,omitempty"`
}

// OK reports whether the user is signed in.
func (r *Result) OK() bool { return r.User != nil && r.Failure == nil && !r.MFARequired }

// Service signs users in.
type Service struct {
	auth     Authenticator
	info     ServerInfo
	limiter  Limiter
	log      *slog.Logger
	inFlight atomic.Bool
}

// NewService creates a Service. limiter may be nil.
func NewService(auth Authenticator, info ServerInfo, limiter Limiter, log *slog.Logger) *Service {
	return &Service{auth: auth, info: info, limiter: limiter, log: log}
}

// SignIn validates the credentials, calls the server and classifies the
// response. Rejections are reported in the Result; the error return is
// reserved for ErrBusy.
func (s *Service) SignIn(ctx context.Context, creds Credentials) (*Result, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, ErrBusy
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.inFlight.Store(false)

	if creds.LoginID == "" {
		return &Result{Failure: s.missingLoginID()}, nil
	}
	if creds.Password == "" {
		return &Result{Failure: &Failure{
			MessageID:      "login.noPassword",
			DefaultMessage: "Please enter your password",
		}}, nil
	}

	loginID := strings.ToLower(creds.LoginID)
	user, err := s.auth.Login(ctx, loginID, creds.Password, creds.MFAToken)
	if err != nil {
		desc := models.Describe(err)
		if slices.Contains(MFAExpectedErrors, desc.ServerErrorID) {
			s.log.Info("login requires mfa", "login_id", loginID)
			return &Result{MFARequired: true}, nil
		}
		s.log.Info("login rejected", "login_id", loginID, "server_error_id", desc.ServerErrorID)
		return &Result{Failure: ClassifyServerError(desc)}, nil
	}

	s.log.Info("login succeeded", "user_id", user.ID)
	return &Result{User: user}, nil
}

// ClassifyServerError maps a server error onto a login failure message.
func ClassifyServerError(desc *models.ErrorDescriptor) *Failure {
	if desc == nil {
		return nil
	}
	switch {
	case desc.ServerErrorID == "":
		return &Failure{Message: desc.Message}
	case slices.Contains(userNotFoundErrors, desc.ServerErrorID):
		return &Failure{
			MessageID:      "login.userNotFound",
			DefaultMessage: "We couldn't find an account matching your login credentials.",
		}
	case slices.Contains(invalidPasswordErrors, desc.ServerErrorID):
		return &Failure{
			MessageID:      "login.invalidPassword",
			DefaultMessage: "Your password is incorrect.",
		}
	}
	return &Failure{Message: desc.Message}
}

// missingLoginID names the sign-in methods the server accepts, e.g.
// login.noEmailUsername.
func (s *Service) missingLoginID() *Failure {
	cfg := s.info.Config()
	license := s.info.License()

	id := "login.no"
	if cfg["EnableSignInWithEmail"] == "true" {
		id += "Email"
	}
	if cfg["EnableSignInWithUsername"] == "true" {
		id += "Username"
	}
	if license["IsLicensed"] == "true" && cfg["EnableLdap"] == "true" {
		id += "LdapUsername"
	}

	ldapName := cfg["LdapLoginFieldName"]
	if ldapName == "" {
		ldapName = "AD/LDAP username"
	}
	return &Failure{
		MessageID: id,
		Values:    map[string]string{"ldapUsername": ldapName},
	}
}
