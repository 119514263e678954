package admin

// AuthKind is the trust level a validated admin credential grants (§4.9,
// §6). httpapi maps AuthView down to "GET-only" at the HTTP layer; this
// package only knows about credential validity.
type AuthKind int

const (
	// AuthNone means the presented token matched nothing.
	AuthNone AuthKind = iota
	// AuthView is the read-only view token.
	AuthView
	// AuthFull is the permanent admin token or a currently valid OTP temp
	// token, both of which may mutate state.
	AuthFull
)

// Authenticator validates admin credentials against the configured
// permanent/view tokens and the Trust temp-token table (§4.9 "Admin
// authentication accepts three token types").
type Authenticator struct {
	permanentToken string
	viewToken      string
	trust          *Trust
}

// NewAuthenticator builds an Authenticator. Either token may be empty to
// disable that credential type.
func NewAuthenticator(permanentToken, viewToken string, trust *Trust) *Authenticator {
	return &Authenticator{permanentToken: permanentToken, viewToken: viewToken, trust: trust}
}

// Authorize classifies token, consulting the requester's ip only for the
// temp-token case (its IP-binding check).
func (a *Authenticator) Authorize(token, ip string) AuthKind {
	if token == "" {
		return AuthNone
	}
	if a.permanentToken != "" && token == a.permanentToken {
		return AuthFull
	}
	if a.viewToken != "" && token == a.viewToken {
		return AuthView
	}
	if a.trust != nil && a.trust.CheckTempToken(token, ip) {
		return AuthFull
	}
	return AuthNone
}

// OtpEnabled reports whether OTP issuance is available. §6: "OTP: ...
// disabled when a permanent admin token is configured."
func (a *Authenticator) OtpEnabled() bool {
	return a.permanentToken == ""
}
