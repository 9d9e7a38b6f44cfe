package telephony

import (
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// Validator checks X-Twilio-Signature on webhook requests. A Validator without an auth token
// accepts everything, for local development.
type Validator struct {
	validator *client.RequestValidator
	publicURL string
}

// NewValidator signs against publicURL when set, else against the request's own host.
func NewValidator(authToken, publicURL string) *Validator {
	v := &Validator{publicURL: strings.TrimRight(publicURL, "/")}
	if strings.TrimSpace(authToken) != "" {
		rv := client.NewRequestValidator(authToken)
		v.validator = &rv
	}
	return v
}

func (v *Validator) Enabled() bool { return v != nil && v.validator != nil }

// Validate parses the form body of r and verifies its signature.
func (v *Validator) Validate(r *http.Request) bool {
	if !v.Enabled() {
		return true
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return v.validator.Validate(v.requestURL(r), params, r.Header.Get("X-Twilio-Signature"))
}

func (v *Validator) requestURL(r *http.Request) string {
	if v.publicURL != "" {
		return v.publicURL + r.URL.RequestURI()
	}
	return BaseURL(r) + r.URL.RequestURI()
}

// BaseURL reconstructs the externally visible scheme and host of r, honouring proxy headers.
func BaseURL(r *http.Request) string {
	scheme := "https"
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
		if strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1") {
			scheme = "http"
		}
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + host
}
