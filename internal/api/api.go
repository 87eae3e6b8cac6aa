// Package api defines the HTTP surface of the rastermask server: request and
// response types, query parameter binding, and chi route wiring.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// HealthStatus is the reported health state.
type HealthStatus string

// Health states.
const (
	Healthy HealthStatus = "healthy"
)

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    *int         `json:"uptime,omitempty"`
	Version   *string      `json:"version,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	RequestId *string                 `json:"request_id,omitempty"`
	Details   *map[string]interface{} `json:"details,omitempty"`
}

// CreateMaskParams holds the query parameters of the mask endpoint.
type CreateMaskParams struct {
	// Threshold is the threshold fraction (0.4 means 40%).
	Threshold *float64 `form:"threshold" json:"threshold,omitempty"`

	// Downsample is the integer decimation factor for the output grid.
	Downsample *int `form:"downsample" json:"downsample,omitempty"`

	// Compress selects the output tile compression (lzw or deflate).
	Compress *string `form:"compress" json:"compress,omitempty"`
}

// BindCreateMaskParams binds the mask endpoint's query parameters.
func BindCreateMaskParams(r *http.Request) (CreateMaskParams, error) {
	var params CreateMaskParams
	q := r.URL.Query()

	if err := runtime.BindQueryParameter("form", true, false, "threshold", q, &params.Threshold); err != nil {
		return params, fmt.Errorf("invalid format for parameter threshold: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "downsample", q, &params.Downsample); err != nil {
		return params, fmt.Errorf("invalid format for parameter downsample: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "compress", q, &params.Compress); err != nil {
		return params, fmt.Errorf("invalid format for parameter compress: %w", err)
	}
	return params, nil
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// GetHealth returns the service health.
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)

	// CreateMask converts an uploaded GeoTIFF into a binary mask.
	// (POST /mask)
	CreateMask(w http.ResponseWriter, r *http.Request)
}

// ChiServerOptions configures route mounting.
type ChiServerOptions struct {
	BaseURL    string
	BaseRouter chi.Router
}

// HandlerWithOptions mounts all routes on the configured router.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health", si.GetHealth)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/mask", si.CreateMask)
	})
	return r
}
