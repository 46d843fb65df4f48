package oauth

// StateKeyPrefix namespaces OAuth state entries in the cache.
const StateKeyPrefix = "oauth:state:"

// OAuthState is the payload stored for an issued login state token.
type OAuthState struct {
	Token          string `json:"token"`
	IssuedAtMillis int64  `json:"issuedAtMillis"`
}

// CallbackParams are the query parameters Discord sends back on the redirect.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	RedirectURI      string
}

// CallbackOutcome is the terminal result of the callback flow. Exactly one of
// Token or ErrorCode is set; RedirectURL is always populated.
type CallbackOutcome struct {
	RedirectURL string
	Token       string
	ErrorCode   string
	Description string
}

// Failed reports whether the flow ended on an error redirect.
func (o CallbackOutcome) Failed() bool {
	return o.ErrorCode != ""
}

// Error codes placed on the frontend error redirect.
const (
	ErrorCodeInvalidRedirectURI = "invalid_redirect_uri"
	ErrorCodeInvalidState       = "invalid_state"
	ErrorCodeNoCode             = "no_code"
	ErrorCodeOAuthFailed        = "oauth_failed"
)

// ExchangedToken is the token pair returned by the Discord token endpoint.
type ExchangedToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ExpiresIn    int64
}
