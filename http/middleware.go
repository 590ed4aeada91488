package http

import (
	"encoding/json"
	"net/http"
)

// requestAdapter exposes a *http.Request to the gate
type requestAdapter struct {
	req *http.Request
}

// NewRequestAdapter wraps a standard library request as an HTTPAdapter
func NewRequestAdapter(req *http.Request) HTTPAdapter {
	return &requestAdapter{req: req}
}

func (a *requestAdapter) GetHeader(name string) string { return a.req.Header.Get(name) }
func (a *requestAdapter) GetMethod() string            { return a.req.Method }
func (a *requestAdapter) GetPath() string              { return a.req.URL.Path }
func (a *requestAdapter) GetAcceptHeader() string      { return a.req.Header.Get("Accept") }
func (a *requestAdapter) GetUserAgent() string         { return a.req.Header.Get("User-Agent") }

func (a *requestAdapter) GetURL() string {
	scheme := "http"
	if a.req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + a.req.Host + a.req.URL.RequestURI()
}

// PaymentMiddleware protects next with gate
func PaymentMiddleware(gate *PaymentGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result := gate.ProcessHTTPRequest(r.Context(), NewRequestAdapter(r))

			switch result.Type {
			case ResultNoPaymentRequired:
				next.ServeHTTP(w, r)
			case ResultPaymentVerified:
				for k, v := range result.Headers {
					w.Header().Set(k, v)
				}
				next.ServeHTTP(w, r)
			default:
				WriteResponseInstructions(w, result.Response)
			}
		})
	}
}

// WriteResponseInstructions writes a gate response to w
func WriteResponseInstructions(w http.ResponseWriter, instructions *HTTPResponseInstructions) {
	if instructions == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for k, v := range instructions.Headers {
		w.Header().Set(k, v)
	}

	if instructions.IsHTML {
		if html, ok := instructions.Body.(string); ok {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(instructions.Status)
			_, _ = w.Write([]byte(html))
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(instructions.Status)
	_ = json.NewEncoder(w).Encode(instructions.Body)
}
