package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mediamask/mediamask/pkg/models"
	"github.com/mediamask/mediamask/pkg/pipeline"
)

// ProcessVideoWS runs one streaming anonymization session over a
// WebSocket connection. The client sends a single submit message; the
// server streams progress and ends the session with exactly one
// terminal message (video or error).
func (h *Handler) ProcessVideoWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	defer conn.Close()

	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()

	session := models.NewSession(uuid.New().String())

	// Base64 inflates the payload by 4/3 plus message envelope
	conn.SetReadLimit(h.maxUploadBytes + h.maxUploadBytes/2)

	var submit models.SubmitMessage
	if err := conn.ReadJSON(&submit); err != nil {
		h.abortSession(conn, session, "invalid submit message: "+err.Error())
		return
	}
	if submit.VideoData == "" {
		h.abortSession(conn, session, "missing video_data")
		return
	}
	video, err := base64.StdEncoding.DecodeString(submit.VideoData)
	if err != nil {
		h.abortSession(conn, session, "video_data is not valid base64")
		return
	}
	filename := submit.Filename
	if filename == "" {
		filename = "input.mp4"
	}
	if err := pipeline.ValidateFilename(filename); err != nil {
		h.abortSession(conn, session, err.Error())
		return
	}
	opts := submit.Options()
	if err := opts.Validate(); err != nil {
		h.abortSession(conn, session, err.Error())
		return
	}

	h.transition(session, models.SessionReceiving)

	if h.logger != nil {
		h.logger.Info("Session started", map[string]interface{}{
			"job_id":   session.JobID,
			"filename": filename,
			"bytes":    len(video),
		})
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Disconnect watcher. The protocol allows no further client
	// messages, so extra ones are ignored; a read error means the peer
	// is gone and the job must stop.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	h.transition(session, models.SessionProcessing)
	start := time.Now()

	reporter := pipeline.NewChannelReporter(16)
	type outcome struct {
		result *models.JobResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.runner.Process(ctx, video, filename, opts, reporter)
		reporter.Close()
		done <- outcome{result: result, err: err}
	}()

	// Forward progress until the job finishes. On a write failure the
	// job is cancelled but the events channel keeps draining so the
	// pipeline never blocks on a dead peer.
	writeFailed := false
	for ev := range reporter.Events() {
		if writeFailed {
			continue
		}
		var preview string
		if len(ev.Preview) > 0 {
			preview = base64.StdEncoding.EncodeToString(ev.Preview)
		}
		if err := conn.WriteJSON(models.NewProgressMessage(ev, preview)); err != nil {
			writeFailed = true
			cancel()
		}
	}

	res := <-done
	if res.err != nil {
		h.metrics.RecordJob(statusLabel(res.err), time.Since(start).Seconds())
		h.abortSession(conn, session, res.err.Error())
		return
	}

	msg := &models.VideoMessage{
		Type:      models.MessageVideo,
		VideoData: base64.StdEncoding.EncodeToString(res.result.Video),
		Stats:     res.result.Stats,
	}
	if err := conn.WriteJSON(msg); err != nil {
		h.metrics.RecordJob("canceled", time.Since(start).Seconds())
		h.transition(session, models.SessionAborted)
		return
	}
	h.transition(session, models.SessionComplete)

	h.metrics.RecordJob("completed", time.Since(start).Seconds())
	h.metrics.AddFrames(res.result.Stats.FramesProcessed)
	h.metrics.AddDetections("face", res.result.Stats.TotalFaces)
	h.metrics.AddDetections("plate", res.result.Stats.TotalPlates)

	if h.logger != nil {
		h.logger.Info("Session complete", map[string]interface{}{
			"job_id":  session.JobID,
			"frames":  res.result.Stats.FramesProcessed,
			"elapsed": time.Since(start).String(),
		})
	}
}

// transition advances the session FSM. A rejected transition is a
// session-handling bug, not a client error; the session keeps its state
// and the violation is logged.
func (h *Handler) transition(session *models.Session, to models.SessionState) {
	if err := session.Transition(to); err != nil && h.logger != nil {
		h.logger.Error("Invalid session transition", map[string]interface{}{
			"job_id": session.JobID,
			"from":   string(session.State()),
			"to":     string(to),
			"error":  err.Error(),
		})
	}
}

// abortSession delivers the terminal error message and moves the FSM to
// its aborted state
func (h *Handler) abortSession(conn *websocket.Conn, session *models.Session, msg string) {
	if !session.Terminal() {
		h.transition(session, models.SessionAborted)
	}
	if h.logger != nil {
		h.logger.Warn("Session aborted", map[string]interface{}{
			"job_id": session.JobID,
			"reason": msg,
		})
	}
	conn.WriteJSON(models.NewErrorMessage(msg))
}
