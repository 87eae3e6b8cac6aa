package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kiesman99/rastermask/internal/api"
	"github.com/kiesman99/rastermask/internal/mask"
	"github.com/kiesman99/rastermask/pkg/geotiff"
	"github.com/kiesman99/rastermask/pkg/raster"
)

// maxUploadBytes caps the request body of the mask endpoint.
const maxUploadBytes = 512 << 20

// Server implements api.ServerInterface.
type Server struct {
	startTime time.Time
	version   string
}

// NewServer creates a new server instance
func NewServer(version string) *Server {
	return &Server{
		startTime: time.Now(),
		version:   version,
	}
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error encoding health response: %v", err)
	}
}

// CreateMask implements the mask conversion endpoint. The request body is a
// GeoTIFF; the response is the thresholded mask GeoTIFF, produced entirely
// in memory.
func (s *Server) CreateMask(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	params, err := api.BindCreateMaskParams(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER",
			err.Error(), &requestID, nil)
		return
	}

	opts, err := convertToMaskOptions(params)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_PARAMETER",
			err.Error(), &requestID, nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE",
				"Request body exceeds the upload limit", &requestID, nil)
			return
		}
		s.writeErrorResponse(w, http.StatusBadRequest, "BODY_READ_ERROR",
			"Failed to read request body", &requestID, nil)
		return
	}
	if len(body) == 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "EMPTY_BODY",
			"Request body must contain a GeoTIFF", &requestID, nil)
		return
	}

	src, err := geotiff.NewReader(bytes.NewReader(body))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_TIFF",
			err.Error(), &requestID, nil)
		return
	}

	out := geotiff.NewMemFile(nil)
	result, err := mask.Run(src, func(p raster.Profile) (raster.Writer, error) {
		return geotiff.NewWriter(out, p)
	}, opts)
	if err != nil {
		s.handleMaskError(w, err, &requestID)
		return
	}

	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-Rastermask-Sampled-Max", strconv.FormatFloat(result.Estimate.SampledMax, 'g', -1, 64))
	w.Header().Set("X-Rastermask-Scale", strconv.FormatFloat(result.Estimate.Scale, 'g', -1, 64))
	w.Header().Set("X-Rastermask-Threshold", strconv.FormatFloat(result.Estimate.Threshold, 'g', -1, 64))
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Bytes()); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// convertToMaskOptions converts the bound query parameters to pipeline
// options, applying the same defaults as the CLI.
func convertToMaskOptions(params api.CreateMaskParams) (mask.Options, error) {
	opts := mask.Options{
		Fraction:    mask.DefaultFraction,
		Compression: raster.CompressionLZW,
	}

	if params.Threshold != nil {
		if *params.Threshold <= 0 {
			return opts, fmt.Errorf("threshold must be positive")
		}
		opts.Fraction = *params.Threshold
	}

	if params.Downsample != nil {
		if *params.Downsample < 0 {
			return opts, fmt.Errorf("downsample must not be negative")
		}
		opts.Downsample = *params.Downsample
	}

	if params.Compress != nil {
		c, err := raster.ParseCompression(*params.Compress)
		if err != nil {
			return opts, err
		}
		opts.Compression = c
	}
	return opts, nil
}

// handleMaskError maps pipeline failures to API error responses.
func (s *Server) handleMaskError(w http.ResponseWriter, err error, requestID *string) {
	switch {
	case errors.Is(err, mask.ErrEmptySource):
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, "EMPTY_SOURCE",
			"Source raster has no block windows", requestID, nil)
	case errors.Is(err, geotiff.ErrUnsupported):
		s.writeErrorResponse(w, http.StatusBadRequest, "UNSUPPORTED_TIFF",
			err.Error(), requestID, nil)
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"Internal server error", requestID, nil)
	}
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := api.ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
