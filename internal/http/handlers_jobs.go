// Package httpx provides HTTP handlers and utilities for the scenesmith job API.
package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/scenesmith/scenesmith/config"
	"github.com/scenesmith/scenesmith/internal/core"
	"github.com/scenesmith/scenesmith/internal/domain/model"
	apperrors "github.com/scenesmith/scenesmith/internal/errors"
	"github.com/scenesmith/scenesmith/internal/service"
)

// allowedImageTypes lists the content types a submission image may sniff to.
var allowedImageTypes = map[string]struct{}{ //nolint:gochecknoglobals // read-only lookup table
	"image/png":  {},
	"image/jpeg": {},
	"image/webp": {},
}

// JobHandlers provides HTTP handlers for job submission and lifecycle operations.
type JobHandlers struct {
	Svc    *service.JobService
	Status *service.StatusService
	Config config.HTTPConfig
	Logger *slog.Logger
}

// CreateJob handles multipart job submissions: one floorplan plus one or more
// photos. Photos that do not sniff to a supported image type are skipped with
// a warning; the submission fails only when no valid photo remains.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteAppError(w, apperrors.InvalidInputf("parse multipart form: %v", err))
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger().WarnContext(r.Context(), "remove multipart temp files", "error", err)
		}
	}()

	req, closers, err := h.buildSubmitRequest(r)
	for _, c := range closers {
		defer c.Close()
	}
	if err != nil {
		WriteAppError(w, err)
		return
	}

	result, err := h.Svc.Submit(r.Context(), *req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// buildSubmitRequest validates the multipart fields and wires the file readers
// into a service request. The returned closers must be closed after Submit has
// consumed the readers.
func (h *JobHandlers) buildSubmitRequest(r *http.Request) (*service.SubmitRequest, []io.Closer, error) {
	var closers []io.Closer

	floorplans := r.MultipartForm.File["floorplan"]
	if len(floorplans) != 1 {
		return nil, closers, apperrors.InvalidInput("exactly one floorplan file is required")
	}
	photos := r.MultipartForm.File["photos"]
	if len(photos) == 0 {
		return nil, closers, apperrors.InvalidInput("at least one photo is required")
	}
	if len(photos) > h.Config.MaxPhotos {
		return nil, closers, apperrors.InvalidInputf("at most %d photos are accepted", h.Config.MaxPhotos)
	}

	fpReader, fpType, fpClose, err := openSniffed(floorplans[0])
	if err != nil {
		return nil, closers, apperrors.InvalidInputf("read floorplan: %v", err)
	}
	closers = append(closers, fpClose)
	if _, ok := allowedImageTypes[fpType]; !ok {
		return nil, closers, apperrors.InvalidInputf("floorplan content type %s is not supported", fpType)
	}

	req := &service.SubmitRequest{
		Floorplan: &service.Upload{Filename: floorplans[0].Filename, Content: fpReader},
	}
	for _, fh := range photos {
		reader, contentType, closer, err := openSniffed(fh)
		if err != nil {
			return nil, closers, apperrors.InvalidInputf("read photo %s: %v", fh.Filename, err)
		}
		closers = append(closers, closer)
		if _, ok := allowedImageTypes[contentType]; !ok {
			h.logger().WarnContext(r.Context(), "skipping photo with unsupported content type",
				"filename", fh.Filename, "content_type", contentType)
			continue
		}
		req.Photos = append(req.Photos, service.Upload{Filename: fh.Filename, Content: reader})
	}
	if len(req.Photos) == 0 {
		return nil, closers, apperrors.InvalidInput("no photo passed image validation")
	}
	return req, closers, nil
}

// openSniffed opens a multipart file and sniffs its content type from the
// first 512 bytes, returning a reader that replays the sniffed prefix.
func openSniffed(fh *multipart.FileHeader) (io.Reader, string, io.Closer, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, "", nil, err
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		f.Close()
		return nil, "", nil, err
	}
	head = head[:n]

	return io.MultiReader(bytes.NewReader(head), f), http.DetectContentType(head), f, nil
}

// GetStatus handles status polls for a job.
func (h *JobHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Status.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, status)
}

// ListJobs handles the admin listing, newest first. Supports limit and state
// filter query params.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	opts := core.ListOptions{Limit: parseIntQuery(r, "limit", 0)}
	if raw := r.URL.Query().Get("state"); raw != "" {
		var state model.JobState
		if err := state.UnmarshalText([]byte(raw)); err != nil {
			WriteAppError(w, apperrors.InvalidInputf("invalid state filter: %v", err))
			return
		}
		opts.State = state
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	statuses := make([]*model.Status, 0, len(jobs))
	for _, job := range jobs {
		statuses = append(statuses, service.Project(job))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": statuses})
}

// DownloadArtifact streams a stored artifact with its recorded filename.
func (h *JobHandlers) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	kind := model.ArtifactKind(r.PathValue("kind"))
	rc, ref, err := h.Svc.OpenArtifact(r.Context(), r.PathValue("id"), kind)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.Filename))
	if _, err := io.Copy(w, rc); err != nil {
		// Headers are already out; nothing to do but note the broken stream.
		h.logger().WarnContext(r.Context(), "artifact stream interrupted",
			"job_id", ref.JobID, "kind", ref.Kind, "error", err)
	}
}

// DeleteJob removes a terminal job and its artifacts.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), r.PathValue("id")); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *JobHandlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
