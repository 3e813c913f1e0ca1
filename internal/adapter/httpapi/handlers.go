package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/flood-monitor-service/internal/auth"
	"github.com/couchcryptid/flood-monitor-service/internal/domain"
	"github.com/couchcryptid/flood-monitor-service/internal/engine"
)

// --- readings ---

func (s *Server) handleSubmitReading(w http.ResponseWriter, r *http.Request) {
	var sub engine.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if sub.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	reading, err := s.deps.Ingestor.Ingest(r.Context(), sub)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound,
				fmt.Sprintf("Device '%s' not found. Register it first.", sub.DeviceID))
			return
		}
		s.logger.Error("ingest failed", "device_id", sub.DeviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}

	writeJSON(w, http.StatusCreated, reading)
}

func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	limit := queryInt(r, "limit", 50)

	readings, err := s.deps.Readings.List(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("list readings failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list readings")
		return
	}
	if readings == nil {
		readings = []domain.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	reading, err := s.deps.Readings.Latest(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNoReadings) {
			writeError(w, http.StatusNotFound, "No readings found for this device")
			return
		}
		s.logger.Error("latest reading failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch reading")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// --- devices ---

type deviceCreateRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Devices.List(r.Context())
	if err != nil {
		s.logger.Error("list devices failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Location == "" {
		writeError(w, http.StatusBadRequest, "id, name, and location are required")
		return
	}

	device, err := s.deps.Devices.Create(r.Context(), domain.Device{
		ID:       req.ID,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		if errors.Is(err, domain.ErrDeviceExists) {
			writeError(w, http.StatusConflict, "Device ID already exists")
			return
		}
		s.logger.Error("create device failed", "device_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create device")
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	device, err := s.deps.Devices.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			writeError(w, http.StatusNotFound, "Device not found")
			return
		}
		s.logger.Error("get device failed", "device_id", deviceID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch device")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// --- incidents ---

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := domain.IncidentFilter{
		DeviceID: r.URL.Query().Get("device_id"),
		OpenOnly: r.URL.Query().Get("open_only") == "true",
		Limit:    queryInt(r, "limit", 100),
	}

	incidents, err := s.deps.Incidents.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list incidents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []domain.Incident{}
	}
	writeJSON(w, http.StatusOK, incidents)
}

// --- auth ---

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	token, err := s.deps.Auth.Login(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Incorrect username or password")
			return
		}
		s.logger.Error("login failed", "username", username, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.deps.Auth.Register(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			writeError(w, http.StatusConflict, "Username already exists")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": fmt.Sprintf("User '%s' created successfully", req.Username),
	})
}

// --- dashboard ---

type dashboardDevice struct {
	Device        domain.Device     `json:"device"`
	LatestReading *domain.Reading   `json:"latest_reading,omitempty"`
	OpenIncidents []domain.Incident `json:"open_incidents"`
}

type dashboardResponse struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Devices     []dashboardDevice `json:"devices"`
}

// handleDashboard assembles a per-device overview: the latest reading and any
// open incidents, for a monitoring UI to render.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	devices, err := s.deps.Devices.List(r.Context())
	if err != nil {
		s.logger.Error("dashboard device list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build dashboard")
		return
	}

	resp := dashboardResponse{
		GeneratedAt: time.Now().UTC(),
		Devices:     make([]dashboardDevice, 0, len(devices)),
	}
	for _, device := range devices {
		entry := dashboardDevice{Device: device, OpenIncidents: []domain.Incident{}}

		latest, err := s.deps.Readings.Latest(r.Context(), device.ID)
		switch {
		case err == nil:
			entry.LatestReading = &latest
		case !errors.Is(err, domain.ErrNoReadings):
			s.logger.Error("dashboard latest reading failed", "device_id", device.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to build dashboard")
			return
		}

		open, err := s.deps.Incidents.List(r.Context(), domain.IncidentFilter{
			DeviceID: device.ID,
			OpenOnly: true,
		})
		if err != nil {
			s.logger.Error("dashboard incident list failed", "device_id", device.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to build dashboard")
			return
		}
		if open != nil {
			entry.OpenIncidents = open
		}

		resp.Devices = append(resp.Devices, entry)
	}

	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
