package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"rivalcast/internal/control"
	"rivalcast/internal/queue"
	"rivalcast/internal/recording"
)

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", errBadRequest, name)
	}
	return id, nil
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	db, err := h.store.CheckHealth(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	counts, err := h.store.Stats(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := HealthResponse{
		Status: "ok",
		Database: DatabaseStatus{
			Path:          db.DBPath,
			Readable:      db.DatabaseReadable,
			SchemaVersion: db.SchemaVersion,
			Integrity:     db.IntegrityCheck,
			Error:         db.Error,
		},
		Tasks: make(map[string]int, len(counts)),
	}
	for st, n := range counts {
		resp.Tasks[string(st)] = n
	}
	if h.dispatcher != nil {
		resp.Dispatcher = FromStatusSummary(h.dispatcher.Status(ctx))
		for _, stage := range resp.Dispatcher.StageHealth {
			if !stage.Ready {
				resp.Status = "degraded"
			}
		}
	}
	code := http.StatusOK
	if !db.DatabaseReadable || !db.IntegrityCheck {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req control.IntakeRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.control.Intake(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handlers) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req control.EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.control.EnqueueTask(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TaskResponse{TaskID: id})
}

func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	reclaimed, err := h.control.Reconcile(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ids := make([]int64, 0, len(reclaimed))
	for _, task := range reclaimed {
		ids = append(ids, task.ID)
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"reclaimed_task_ids": ids})
}

func (h *handlers) startAnalysis(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.control.StartAnalysis(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) stopAnalysis(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.control.StopAnalysis(r.Context(), orderID, r.URL.Query().Get("reason"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) orderProgress(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	progress, err := h.status.OrderProgress(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handlers) recordingProgress(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "orderID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	views, err := h.status.RecordingProgress(r.Context(), orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handlers) startRecording(w http.ResponseWriter, r *http.Request) {
	h.recordingCommand(w, r, func(id int64) (queue.RecordingStatus, error) {
		return queue.RecordingActive, h.control.StartRecording(r.Context(), id)
	})
}

func (h *handlers) stopRecording(w http.ResponseWriter, r *http.Request) {
	h.recordingCommand(w, r, func(id int64) (queue.RecordingStatus, error) {
		return h.control.StopRecording(r.Context(), id)
	})
}

func (h *handlers) resetRecording(w http.ResponseWriter, r *http.Request) {
	h.recordingCommand(w, r, func(id int64) (queue.RecordingStatus, error) {
		return queue.RecordingPending, h.control.ResetRecording(r.Context(), id)
	})
}

func (h *handlers) recordingCommand(w http.ResponseWriter, r *http.Request, run func(int64) (queue.RecordingStatus, error)) {
	fileID, err := pathID(r, "fileID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	st, err := run(fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RecordingStateResponse{VideoFileID: fileID, RecordingStatus: string(st)})
}

func (h *handlers) recordingHeartbeat(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathID(r, "fileID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.control.RecordHeartbeat(r.Context(), recording.Event{
		VideoFileID:    fileID,
		Message:        req.Message,
		ElapsedSeconds: req.ElapsedSeconds,
		BytesWritten:   req.BytesWritten,
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
