package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/meshalign/dentalreg/registration"
	"github.com/meshalign/dentalreg/registration/diagnostics"
)

// renderDiagnostics writes an SVG of a registration attempt to path when
// path is non-empty. It never fails the caller's response: a render
// error is logged and swallowed, since diagnostics output sits off the
// hot path (spec §5).
func renderDiagnostics(path string, attempt diagnostics.Attempt) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		log.Printf("[DIAGNOSTICS] could not create %s: %v", path, err)
		return
	}
	defer f.Close()
	if err := diagnostics.NewRenderer().RenderToSVG(f, attempt); err != nil {
		log.Printf("[DIAGNOSTICS] render to %s failed: %v", path, err)
	}
}

// newHTTPServer creates an HTTP server with every registration endpoint.
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"timestamp": time.Now(),
		})
	})

	mux.HandleFunc("/register/manual", app.handleManual)
	mux.HandleFunc("/register/apply", app.handleApply)
	mux.HandleFunc("/register/auto", app.handleAuto)
	mux.HandleFunc("/register/icp", app.handleICP)
	mux.HandleFunc("/register/semi_auto/suggest_points", app.handleSuggestPoints)
	mux.HandleFunc("/register/semi_auto/profiles", handleProfiles)
	mux.HandleFunc("/register/similarity-check", app.handleSimilarityCheck)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pointCloudFromRequest builds a *registration.PointCloud from raw
// points/normals, validating the points-normals length invariant up
// front with a clear HTTP-facing error rather than a panic.
func pointCloudFromRequest(points, normals []registration.Vec3) (*registration.PointCloud, error) {
	if len(points) < 3 {
		return nil, &registration.InputMissingError{Field: "points", Reason: "fewer than 3 points"}
	}
	if len(normals) != 0 && len(normals) != len(points) {
		return nil, &registration.InputMissingError{Field: "normals", Reason: "length does not match points"}
	}
	return registration.NewPointCloud(points, normals, nil), nil
}

type manualRequest struct {
	SourceLandmarks []registration.Vec3 `json:"source_landmarks"`
	TargetLandmarks []registration.Vec3 `json:"target_landmarks"`
}

func (a *App) handleManual(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req manualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := registration.ManualLandmarkRegister(req.SourceLandmarks, req.TargetLandmarks, a.EngineConfig)
	if err != nil {
		status := http.StatusInternalServerError
		var missing *registration.InputMissingError
		if errors.As(err, &missing) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type applyRequest struct {
	Transform registration.RigidTransform `json:"transform"`
	Points    []registration.Vec3         `json:"points"`
	SavePath  string                      `json:"save_path"`
}

// handleApply applies a transform to a point set and, when save_path is
// given, persists it via the App's MeshWriter (the default NopMeshWriter
// returns ErrNotImplemented; a deployment's real PLY/STL writer is out
// of scope here per spec §1).
func (a *App) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req applyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.SavePath != "" {
		if err := a.MeshWriter.WriteTransform(req.SavePath, req.Transform); err != nil {
			writeError(w, http.StatusNotImplemented, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"points": req.Transform.ApplyAll(req.Points),
	})
}

type autoRequest struct {
	SourcePoints    []registration.Vec3 `json:"source_points"`
	TargetPoints    []registration.Vec3 `json:"target_points"`
	SourceNormals   []registration.Vec3 `json:"source_normals"`
	TargetNormals   []registration.Vec3 `json:"target_normals"`
	Profile         string              `json:"profile"`
	Device          string              `json:"device"`
	DiagnosticsPath string              `json:"diagnostics_path"`
}

func (a *App) handleAuto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req autoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := pointCloudFromRequest(req.SourcePoints, req.SourceNormals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dst, err := pointCloudFromRequest(req.TargetPoints, req.TargetNormals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	profile := registration.Profile(req.Profile)
	if profile == "" {
		profile = registration.ProfileDefault
	}
	device := registration.DeviceProfile(req.Device)
	if device == "" {
		device = registration.DeviceStandard
	}

	result := registration.AutoRegister(src, dst, a.EngineConfig, profile, device)

	_ = a.Telemetry.Record(telemetryEvent("refine_icp", map[string]any{
		"passed": result.Passed,
		"rmse":   result.Report.RMSE,
	}))

	renderDiagnostics(req.DiagnosticsPath, diagnostics.Attempt{
		Source: result.Transform.ApplyAll(req.SourcePoints),
		Target: req.TargetPoints,
	})

	writeJSON(w, http.StatusOK, result)
}

type icpRequest struct {
	SourcePoints    []registration.Vec3          `json:"source_points"`
	TargetPoints    []registration.Vec3          `json:"target_points"`
	TargetNormals   []registration.Vec3          `json:"target_normals"`
	Init            *registration.RigidTransform `json:"init"`
	DiagnosticsPath string                       `json:"diagnostics_path"`
}

func (a *App) handleICP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req icpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.SourcePoints) < 3 || len(req.TargetPoints) < 3 {
		writeError(w, http.StatusBadRequest, &registration.InputMissingError{Field: "points", Reason: "fewer than 3 points"})
		return
	}
	init := registration.Identity()
	if req.Init != nil {
		init = *req.Init
	}

	source := registration.NewPointCloud(req.SourcePoints, nil, nil)
	target := registration.NewPointCloud(req.TargetPoints, req.TargetNormals, nil)
	result := registration.RefineICP(source, target, init, a.EngineConfig)

	_ = a.Telemetry.Record(telemetryEvent("refine_icp", map[string]any{
		"passed": result.Passed,
		"rmse":   result.Report.RMSE,
		"branch": string(result.Branch),
	}))

	renderDiagnostics(req.DiagnosticsPath, diagnostics.Attempt{
		Source: result.Transform.ApplyAll(req.SourcePoints),
		Target: req.TargetPoints,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"transform": result.Transform,
		"report":    result.Report,
		"passed":    result.Passed,
		"branch":    result.Branch,
	})
}

type suggestRequest struct {
	SourcePoints  []registration.Vec3 `json:"source_points"`
	TargetPoints  []registration.Vec3 `json:"target_points"`
	K             int                 `json:"k"`
	ForceMouthROI bool                `json:"force_mouth_roi"`
}

func (a *App) handleSuggestPoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req suggestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	src, err := pointCloudFromRequest(req.SourcePoints, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dst, err := pointCloudFromRequest(req.TargetPoints, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	k := req.K
	if k <= 0 {
		k = 8
	}

	result, err := registration.SuggestCorrespondences(src, dst, k, req.ForceMouthROI, a.EngineConfig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_ = a.Telemetry.Record(telemetryEvent("semi_auto_suggest", map[string]any{
		"pair_count": len(result.Pairs),
	}))

	writeJSON(w, http.StatusOK, result)
}

func handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": registration.ProfileTable(),
		"devices":  registration.DeviceAdjustTable(),
	})
}

type similarityRequest struct {
	SourcePoints []registration.Vec3 `json:"source_points"`
	TargetPoints []registration.Vec3 `json:"target_points"`
}

// handleSimilarityCheck establishes its own source/target correspondence
// by nearest-neighbor matching (registration.CheckSimilarity), so unlike
// the other endpoints it does not require source_points and
// target_points to already be paired or equal length (spec §6).
func (a *App) handleSimilarityCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req similarityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(req.SourcePoints) < 3 || len(req.TargetPoints) < 3 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("source_points and target_points must each have at least 3 points"))
		return
	}
	result, err := registration.CheckSimilarity(req.SourcePoints, req.TargetPoints, a.EngineConfig)
	if err != nil {
		status := http.StatusInternalServerError
		var missing *registration.InputMissingError
		var degenerate *registration.DegenerateInputError
		if errors.As(err, &missing) || errors.As(err, &degenerate) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
