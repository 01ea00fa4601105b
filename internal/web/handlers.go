package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/captionset/internal/core"
	"github.com/JonMunkholm/captionset/internal/logging"
)

// previewSampleSize is how many parsed records a preview returns.
const previewSampleSize = 20

// IngestResponse is returned by a successful ingestion.
type IngestResponse struct {
	core.IngestResult
	Summary string `json:"summary"`
}

// PreviewResponse describes what an upload would ingest.
type PreviewResponse struct {
	Format            core.Format        `json:"format"`
	Records           int                `json:"records"`
	Skipped           core.SkipReport    `json:"skipped"`
	DimensionWarnings int                `json:"dimensionWarnings"`
	Sample            []core.ImageRecord `json:"sample"`
}

// ImageListResponse is a page of a dataset's stored images.
type ImageListResponse struct {
	DatasetID string             `json:"datasetId"`
	Total     int64              `json:"total"`
	Offset    int                `json:"offset"`
	Images    []core.ImageRecord `json:"images"`
}

type listQuery struct {
	Limit  int `validate:"gte=0,lte=10000"`
	Offset int `validate:"gte=0"`
}

// handleIngest replaces a dataset's images with the uploaded file.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	datasetID, err := datasetParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	body, err := s.uploadBody(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := s.service.IngestUpload(r.Context(), datasetID, body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, IngestResponse{IngestResult: *result, Summary: result.Summary()})
}

// handlePreview parses an upload without storing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	body, err := s.uploadBody(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	parsed, err := s.service.Preview(r.Context(), body)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sample := parsed.Records
	if len(sample) > previewSampleSize {
		sample = sample[:previewSampleSize]
	}
	writeJSON(w, r, http.StatusOK, PreviewResponse{
		Format:            parsed.Format,
		Records:           len(parsed.Records),
		Skipped:           parsed.Skipped,
		DimensionWarnings: parsed.DimensionWarnings,
		Sample:            sample,
	})
}

// handleListImages returns a dataset's images in ingestion order.
// Optional limit and offset query parameters page the result.
func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	datasetID, err := datasetParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Message: "Invalid paging parameters",
			Action:  "Use a non-negative offset and a limit of at most 10000",
			Code:    "REQ004",
		})
		return
	}

	total, err := s.images.CountImages(r.Context(), datasetID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	images, err := s.images.ListImages(r.Context(), datasetID, core.Page{Limit: q.Limit, Offset: q.Offset})
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Debug("images listed", "dataset_id", datasetID, "total", total, "returned", len(images))
	writeJSON(w, r, http.StatusOK, ImageListResponse{
		DatasetID: datasetID,
		Total:     total,
		Offset:    q.Offset,
		Images:    images,
	})
}

func parseListQuery(r *http.Request) (listQuery, error) {
	var q listQuery
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}
	if err := paramValidator().Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// handleCountImages returns how many images a dataset holds.
func (s *Server) handleCountImages(w http.ResponseWriter, r *http.Request) {
	datasetID, err := datasetParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	n, err := s.images.CountImages(r.Context(), datasetID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"datasetId": datasetID, "count": n})
}

// handleUploadStatus reports upload slot usage.
func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.UploadStatus())
}

// handleHealth checks the image store connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.images.Ping(ctx); err != nil {
		respondError(w, r, fmt.Errorf("%w: %w", errUnavailable, err))
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":  "ok",
		"uploads": s.service.UploadStatus(),
	})
}
