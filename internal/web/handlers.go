package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/campaign-tools/inquiry-ingest/internal/ingest"
	"github.com/campaign-tools/inquiry-ingest/internal/logging"
	"github.com/campaign-tools/inquiry-ingest/internal/schema"
	"github.com/campaign-tools/inquiry-ingest/internal/store"
)

// SubmissionStore is the persistence surface the handlers need.
// Satisfied by *store.Store; tests substitute a fake.
type SubmissionStore interface {
	Submit(ctx context.Context, fileName string, fileSize int64, rows []schema.Row) (uuid.UUID, error)
	ListSubmissions(ctx context.Context, limit int) ([]store.Submission, error)
	SubmissionRows(ctx context.Context, id uuid.UUID) ([]schema.Row, error)
}

// slotResponse is the JSON view of a slot, combining the controller
// snapshot with the mapped user message when the slot holds a failure.
type slotResponse struct {
	ingest.Snapshot
	UserMessage *ingest.UserMessage `json:"userMessage,omitempty"`
}

func toSlotResponse(snap ingest.Snapshot) slotResponse {
	resp := slotResponse{Snapshot: snap}
	switch {
	case snap.State == ingest.StateErrored:
		msg := ingest.SelectionMessage(snap.SelectionError)
		resp.UserMessage = &msg
	case snap.Result != nil && snap.Result.Err != nil:
		msg := ingest.MessageFor(snap.Result.Err)
		resp.UserMessage = &msg
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleDownloadTemplate serves the blank inquiry workbook with the
// expected header row.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	buf, err := schema.Template()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build template")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="inquiry_template.xlsx"`)
	w.Write(buf.Bytes())
}

// handleCreateSlot allocates a new upload slot.
func (s *Server) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	id := s.manager.Create()
	logging.FromContext(r.Context()).Info("slot created", "slot_id", id)

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]string{"slotId": id})
}

// slotController resolves the slot ID in the URL to its controller.
// Writes the error response itself when the slot cannot be resolved.
func (s *Server) slotController(w http.ResponseWriter, r *http.Request) (*ingest.Controller, string, bool) {
	id := chi.URLParam(r, "slotID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing slot ID")
		return nil, "", false
	}
	ctrl, ok := s.manager.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "slot not found or expired")
		return nil, "", false
	}
	return ctrl, id, true
}

func (s *Server) handleSlotState(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.slotController(w, r)
	if !ok {
		return
	}
	writeJSON(w, toSlotResponse(ctrl.Snapshot()))
}

// handleSlotFile accepts a workbook upload for a slot. Selection checks
// happen here, before any engine runs: only .xlsx files within the size
// limit reach the parser. A rejected selection still transitions the slot
// so the client sees the errored state on the next snapshot.
func (s *Server) handleSlotFile(w http.ResponseWriter, r *http.Request) {
	ctrl, slotID, ok := s.slotController(w, r)
	if !ok {
		return
	}

	maxSize := s.cfg.Ingest.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+4096)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	sel := ingest.FileSelection{
		Name: header.Filename,
		Size: header.Size,
	}
	switch {
	case !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx"):
		sel.RejectReason = "Only .xlsx files are accepted"
	case header.Size > maxSize:
		sel.RejectReason = fmt.Sprintf("File exceeds the %d byte limit", maxSize)
	default:
		payload, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}
		sel.Payload = payload
	}

	logging.FromContext(r.Context()).Info("file selected",
		"slot_id", slotID,
		"file_name", sel.Name,
		"file_size", sel.Size,
		"rejected", sel.RejectReason != "",
	)

	ctrl.SubmitFile(sel)

	w.WriteHeader(http.StatusAccepted)
	writeJSON(w, toSlotResponse(ctrl.Snapshot()))
}

// handleSlotProgress streams parse progress via Server-Sent Events. The
// stream ends with a state event carrying the final slot snapshot once
// the task leaves the parsing state.
func (s *Server) handleSlotProgress(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.slotController(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates := ctrl.Subscribe()
	for {
		select {
		case progress, ok := <-updates:
			if !ok {
				// Task finished or slot cleared; send the terminal snapshot.
				data, _ := json.Marshal(toSlotResponse(ctrl.Snapshot()))
				fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", progress.Percent, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleSlotCancel clears the slot, killing any in-flight parse.
func (s *Server) handleSlotCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, slotID, ok := s.slotController(w, r)
	if !ok {
		return
	}

	ctrl.Cancel()
	logging.FromContext(r.Context()).Info("slot cancelled", "slot_id", slotID)

	writeJSON(w, map[string]string{"status": "cancelled"})
}

// handleSlotSubmit persists a successfully parsed workbook. Only a
// resolved slot holding a successful result can be submitted.
func (s *Server) handleSlotSubmit(w http.ResponseWriter, r *http.Request) {
	ctrl, slotID, ok := s.slotController(w, r)
	if !ok {
		return
	}

	snap := ctrl.Snapshot()
	if snap.State != ingest.StateResolved || snap.Result == nil || !snap.Result.Success {
		writeError(w, http.StatusConflict, "slot has no successful parse result to submit")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	id, err := s.store.Submit(ctx, snap.File.Name, snap.Result.FileSize, snap.Result.FullRows)
	if err != nil {
		logging.FromContext(r.Context()).Error("submission failed",
			"slot_id", slotID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to persist submission")
		return
	}

	logging.FromContext(r.Context()).Info("submission stored",
		"slot_id", slotID,
		"submission_id", id.String(),
		"rows", snap.Result.TotalRowCount,
	)

	// The slot served its purpose; clear it so the file payload is freed.
	ctrl.Cancel()

	writeJSON(w, map[string]any{
		"submissionId": id.String(),
		"rowCount":     snap.Result.TotalRowCount,
	})
}

// handleDeleteSlot removes a slot entirely. A busy slot must be cancelled
// first so the client acknowledges killing the in-flight parse.
func (s *Server) handleDeleteSlot(w http.ResponseWriter, r *http.Request) {
	ctrl, slotID, ok := s.slotController(w, r)
	if !ok {
		return
	}

	if ctrl.IsBusy() {
		writeError(w, http.StatusConflict, "slot is parsing; cancel before deleting")
		return
	}

	s.manager.Delete(slotID)
	w.WriteHeader(http.StatusNoContent)
}

// handleListSubmissions returns recent submission headers.
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	subs, err := s.store.ListSubmissions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	if subs == nil {
		subs = []store.Submission{}
	}
	writeJSON(w, subs)
}

// handleSubmissionRows returns the stored rows of one submission.
func (s *Server) handleSubmissionRows(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission ID")
		return
	}

	rows, err := s.store.SubmissionRows(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load submission rows")
		return
	}
	if rows == nil {
		rows = []schema.Row{}
	}
	writeJSON(w, rows)
}
