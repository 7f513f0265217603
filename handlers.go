package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Tutortoise/damage-inspection-service/blueprint"
	"github.com/Tutortoise/damage-inspection-service/config"
	"github.com/Tutortoise/damage-inspection-service/emitter"
	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/Tutortoise/damage-inspection-service/pipeline"
	"github.com/Tutortoise/damage-inspection-service/recording"
	"github.com/Tutortoise/damage-inspection-service/render"
	"github.com/Tutortoise/damage-inspection-service/source"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type AppState struct {
	Config *config.Config
	// Pipeline is nil when the models failed to load.
	Pipeline *pipeline.Pipeline
	Pools    map[string]*ModelSessionPool
	LoadErr  error
	Sessions *SessionRegistry
	MQTT     *emitter.MQTT
	// Format is the negotiated recording container; FormatErr is set when
	// no codec could be opened.
	Format    recording.Format
	FormatErr error
	Log       logrus.FieldLogger

	ctx     context.Context
	started time.Time

	openCamera func(source.Devices, source.Facing) (pipeline.Source, error)
	openVideo  func(path string) (pipeline.Source, error)
	openFrames func(dir string) (pipeline.Source, error)
}

type InspectResponse struct {
	Damaged    bool                `json:"damaged"`
	Vehicle    *models.Detection   `json:"vehicle,omitempty"`
	Damage     *models.Detection   `json:"damage,omitempty"`
	Point      *models.Point       `json:"point,omitempty"`
	Boxes      []models.OverlayBox `json:"boxes"`
	Panels     []string            `json:"panels"`
	PanelCount int                 `json:"panel_count"`
	Summary    string              `json:"summary"`
	Message    string              `json:"message"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type CreateSessionRequest struct {
	Source string `json:"source"`
	Facing string `json:"facing"`
	Path   string `json:"path"`
	Record *bool  `json:"record"`
}

func (s *AppState) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/inspect", s.handleInspect).Methods("POST")
	r.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	r.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	r.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	r.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/stop", s.handleStopSession).Methods("POST")
	r.HandleFunc("/sessions/{id}/pause", s.handlePauseSession).Methods("POST")
	r.HandleFunc("/sessions/{id}/camera/toggle", s.handleToggleCamera).Methods("POST")
	r.HandleFunc("/sessions/{id}/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/sessions/{id}/recording", s.handleRecording).Methods("GET")
	s.addMonitoringRoutes(r)
	return r
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func (s *AppState) requirePipeline(w http.ResponseWriter) bool {
	if s.Pipeline != nil {
		return true
	}
	details := ""
	if s.LoadErr != nil {
		details = s.LoadErr.Error()
	}
	sendError(w, "model_unavailable", MsgModelUnavailable, details, http.StatusServiceUnavailable)
	return false
}

func (s *AppState) handleInspect(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	requestID := fmt.Sprintf("%d", time.Now().UnixNano())

	if !s.requirePipeline(w) {
		return
	}

	imgBytes, err := readImageBody(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	decodeStart := time.Now()
	img, err := decodeImage(imgBytes)
	decodeTime := time.Since(decodeStart)
	if err != nil {
		sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
		return
	}

	var canvas *render.Canvas
	wantJPEG := r.URL.Query().Get("format") == "jpeg"
	if wantJPEG {
		canvas = render.NewCanvas(img.Bounds().Dx(), img.Bounds().Dy())
	}

	report, err := s.Pipeline.Process(r.Context(), img, canvas)
	if err != nil {
		sendError(w, "processing_error", "Failed to process image", err.Error(), http.StatusInternalServerError)
		return
	}

	report.Timings.RequestID = requestID
	report.Timings.ImageDecode = decodeTime
	report.Timings.Total = time.Since(startTotal)
	pipeline.LogTimings(s.Log, report.Timings)

	if wantJPEG {
		w.Header().Set("Content-Type", "image/jpeg")
		jpeg.Encode(w, canvas.Snapshot(), &jpeg.Options{Quality: 85})
		return
	}

	board := blueprint.NewBoard(blueprint.ClearOnMiss)
	board.Apply(report.Panels)

	response := InspectResponse{
		Damaged:    report.Damaged(),
		Vehicle:    report.Vehicle,
		Damage:     report.Damage,
		Point:      report.DamagePoint,
		Boxes:      report.Boxes,
		Panels:     report.Panels.Strings(),
		PanelCount: report.Panels.Count(),
		Summary:    board.Summary(),
		Message:    inspectMessage(s.Pipeline.Stages(), report),
	}
	if response.Boxes == nil {
		response.Boxes = []models.OverlayBox{}
	}

	writeJSON(w, http.StatusOK, response)
}

func inspectMessage(stages int, report models.FrameReport) string {
	switch {
	case report.Damaged():
		return MsgDamageFound
	case stages == 2 && report.Vehicle == nil:
		return MsgNoVehicle
	default:
		return MsgNoDamage
	}
}

func (s *AppState) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.requirePipeline(w) {
		return
	}

	req, upload, err := s.readSessionRequest(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	sess := newSession(req.Source)
	sess.upload = upload
	sess.record = s.Config.Recording.Enabled
	if req.Record != nil {
		sess.record = *req.Record && s.Config.Recording.Enabled
	}

	src, err := s.openSource(sess, req)
	if err != nil {
		if upload != "" {
			os.Remove(upload)
		}
		if errors.Is(err, source.ErrCaptureUnavailable) && req.Source == SourceCamera {
			sendError(w, "camera_unavailable", MsgUploadVideo, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		sendError(w, "source_error", "Failed to open video source", err.Error(), http.StatusBadRequest)
		return
	}

	sess.Orch = s.newOrchestrator(sess)
	if err := s.Sessions.Add(sess); err != nil {
		src.Close()
		sess.cleanup()
		sendErrorResponse(w, "too_many_sessions", err.Error(), http.StatusTooManyRequests)
		return
	}

	if err := sess.Orch.Attach(src, s.newRecorder(sess, src)); err != nil {
		s.Sessions.Remove(sess.ID)
		sendErrorResponse(w, "session_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if err := sess.Orch.Start(s.ctx); err != nil {
		s.Sessions.Remove(sess.ID)
		sendErrorResponse(w, "session_error", err.Error(), http.StatusInternalServerError)
		return
	}

	s.Log.WithFields(logrus.Fields{"session": sess.ID, "source": sess.Kind}).Info("session started")
	writeJSON(w, http.StatusCreated, sess.View())
}

func (s *AppState) readSessionRequest(r *http.Request) (CreateSessionRequest, string, error) {
	var req CreateSessionRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		path, err := s.saveUpload(r)
		if err != nil {
			return req, "", err
		}
		req.Source = SourceVideo
		req.Path = path
		if v := r.FormValue("record"); v != "" {
			record := v == "true" || v == "1"
			req.Record = &record
		}
		return req, path, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, "", fmt.Errorf("invalid session request: %w", err)
	}
	if req.Source == "" {
		req.Source = SourceCamera
	}
	switch req.Source {
	case SourceCamera:
	case SourceFrames, SourceVideo:
		if req.Path == "" {
			return req, "", fmt.Errorf("source %q needs a path", req.Source)
		}
	default:
		return req, "", fmt.Errorf("unknown source %q", req.Source)
	}
	return req, "", nil
}

func (s *AppState) saveUpload(r *http.Request) (string, error) {
	limit := s.Config.Server.MaxUploadMB << 20
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", err
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := os.MkdirAll(s.Config.Server.UploadDir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	out, err := os.CreateTemp(s.Config.Server.UploadDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", err
	}
	defer out.Close()

	n, err := io.Copy(out, io.LimitReader(file, limit+1))
	if err == nil && n > limit {
		err = fmt.Errorf("upload exceeds %d MB", s.Config.Server.MaxUploadMB)
	}
	if err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

func (s *AppState) openSource(sess *Session, req CreateSessionRequest) (pipeline.Source, error) {
	switch req.Source {
	case SourceCamera:
		facing := source.Facing(s.Config.Camera.Facing)
		if req.Facing != "" {
			f, err := source.ParseFacing(req.Facing)
			if err != nil {
				return nil, err
			}
			facing = f
		}
		sess.setFacing(facing)
		return s.openCamera(s.devices(), facing)
	case SourceVideo:
		return s.openVideo(req.Path)
	case SourceFrames:
		return s.openFrames(req.Path)
	}
	return nil, fmt.Errorf("unknown source %q", req.Source)
}

func (s *AppState) devices() source.Devices {
	return source.Devices{
		Environment: s.Config.Camera.EnvironmentDevice,
		User:        s.Config.Camera.UserDevice,
	}
}

func (s *AppState) newOrchestrator(sess *Session) *pipeline.Orchestrator {
	policy, _ := blueprint.ParseMissPolicy(s.Config.Pipeline.MissPolicy)

	var sink pipeline.Sink = sess.Sink
	if s.MQTT != nil {
		sink = pipeline.MultiSink{sess.Sink, s.MQTT.Session(sess.ID)}
	}

	return pipeline.NewOrchestrator(s.Pipeline, pipeline.Options{
		ID:          sess.ID,
		RefreshRate: s.Config.Pipeline.RefreshHz,
		MissPolicy:  policy,
		Sink:        sink,
		Logger:      s.Log,
	})
}

// framer is implemented by sources that know their native frame rate.
type framer interface {
	FPS() float64
}

// newRecorder returns nil when the session does not record or no codec is
// available. Uploaded videos are recorded at their own frame rate.
func (s *AppState) newRecorder(sess *Session, src pipeline.Source) pipeline.Recorder {
	if !sess.record {
		return nil
	}
	if s.FormatErr != nil {
		s.Log.WithError(s.FormatErr).WithField("session", sess.ID).Warn("recording unavailable")
		sess.setRecordErr(s.FormatErr)
		return nil
	}

	fps := s.Config.Recording.FPS
	if f, ok := src.(framer); ok && sess.Kind == SourceVideo && f.FPS() > 0 {
		fps = f.FPS()
	}
	return recording.New(recording.Options{
		Dir:    s.Config.Recording.Dir,
		Prefix: s.Config.Recording.Prefix,
		Format: s.Format,
		FPS:    fps,
	})
}

func (s *AppState) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := mux.Vars(r)["id"]
	sess, ok := s.Sessions.Get(id)
	if !ok {
		sendErrorResponse(w, "not_found", fmt.Sprintf("session %s not found", id), http.StatusNotFound)
	}
	return sess, ok
}

func (s *AppState) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	views := make([]SessionView, 0)
	for _, sess := range s.Sessions.List() {
		views = append(views, sess.View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *AppState) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *AppState) handleStopSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Orch.Stop()
	writeJSON(w, http.StatusOK, sess.View())
}

// handlePauseSession pauses the source, which ends the scan as complete and
// finalizes the recording.
func (s *AppState) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Orch.Pause(); err != nil {
		sendErrorResponse(w, "invalid_state", err.Error(), http.StatusConflict)
		return
	}
	sess.Orch.Wait()
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *AppState) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.Sessions.Remove(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// handleToggleCamera swaps a camera session to the other facing mode. The
// current capture is stopped and released before the new one opens.
func (s *AppState) handleToggleCamera(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if sess.Kind != SourceCamera {
		sendErrorResponse(w, "invalid_request", "only camera sessions can toggle facing", http.StatusConflict)
		return
	}

	next := sess.Facing().Toggle()
	sess.Orch.Stop()

	src, err := s.openCamera(s.devices(), next)
	if err != nil {
		sess.Sink.Status(MsgUploadVideo)
		sendError(w, "camera_unavailable", MsgUploadVideo, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	sess.setFacing(next)

	if err := sess.Orch.Swap(s.ctx, src, s.newRecorder(sess, src)); err != nil {
		src.Close()
		sendErrorResponse(w, "session_error", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

// handleStream serves the overlay canvas as MJPEG until the session ends or
// the client goes away.
func (s *AppState) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendErrorResponse(w, "stream_unsupported", "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	slot := sess.Orch.Frames()
	var seq uint64
	var buf bytes.Buffer
	for {
		frame, next, err := slot.Wait(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		buf.Reset()
		if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 75}); err != nil {
			s.Log.WithError(err).Warn("encoding stream frame")
			return
		}

		w.Write([]byte("--frame\r\n"))
		w.Write([]byte("Content-Type: image/jpeg\r\n\r\n"))
		w.Write(buf.Bytes())
		w.Write([]byte("\r\n"))
		flusher.Flush()

		if sess.Orch.State() == pipeline.Stopped {
			return
		}
	}
}

func recorderOf(o *pipeline.Orchestrator) (*recording.Recorder, bool) {
	rec, ok := o.Recorder().(*recording.Recorder)
	return rec, ok && rec != nil
}

func (s *AppState) handleRecording(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	rec, ok := recorderOf(sess.Orch)
	if !ok {
		sendErrorResponse(w, "no_recording", pipeline.StatusNoRecording, http.StatusNotFound)
		return
	}
	if !rec.Ready() {
		sendErrorResponse(w, "recording_pending", MsgRecordingPending, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", rec.Format().MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename()))
	http.ServeFile(w, r, rec.Path())
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	pools := make(map[string]PoolSnapshot, len(s.Pools))
	for name, p := range s.Pools {
		pools[name] = p.GetMetrics()
	}

	sessions := make(map[string]pipeline.Stats)
	for _, sess := range s.Sessions.List() {
		sessions[sess.ID] = sess.Orch.Stats()
	}

	response := map[string]interface{}{
		"pools":      pools,
		"sessions":   sessions,
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(s.started).String(),
	}
	if s.MQTT != nil {
		response["mqtt"] = s.MQTT.Stats()
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code := "ok", http.StatusOK
	if s.Pipeline == nil {
		status, code = MsgModelUnavailable, http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":    status,
		"stages":    s.Config.Pipeline.Stages,
		"recording": s.FormatErr == nil,
		"format":    s.Format.Name,
	})
}

// readImageBody accepts base64 JSON, a multipart "file" field or a raw body.
func readImageBody(r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		return handleJSONRequest(r)
	case "multipart/form-data":
		return handleMultipartRequest(r)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	return io.ReadAll(r.Body)
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendError(w, code, message, "", status)
}

func sendError(w http.ResponseWriter, code, message, details string, status int) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}
