package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"wlink-bridge/internal/apperr"
	"wlink-bridge/internal/models"
)

type instanceView struct {
	InstanceName string       `json:"instance_name"`
	InstanceID   string       `json:"instance_id,omitempty"`
	CustomName   string       `json:"custom_name"`
	State        string       `json:"state"`
	Settings     models.JSONB `json:"settings,omitempty"`
}

func viewOf(inst models.Instance) instanceView {
	return instanceView{
		InstanceName: inst.InstanceName,
		InstanceID:   inst.InstanceID,
		CustomName:   inst.CustomName,
		State:        string(inst.State),
		Settings:     inst.Settings,
	}
}

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}
	instances, err := h.instances.List(r.Context(), rc.LocationID)
	if err != nil {
		respondError(w, err)
		return
	}
	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, viewOf(inst))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"instances": views,
	})
}

// createInstanceRequest tolerates the field aliases the various frontend
// versions have used.
type createInstanceRequest struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
	APIToken     string `json:"apiToken"`
	Token        string `json:"token"`
	Name         string `json:"name"`
	CustomName   string `json:"customName"`
	LocationID   string `json:"locationId"`
}

func (req createInstanceRequest) instanceName() string {
	if req.InstanceID != "" {
		return req.InstanceID
	}
	return req.InstanceName
}

func (req createInstanceRequest) apiToken() string {
	if req.APIToken != "" {
		return req.APIToken
	}
	return req.Token
}

func (req createInstanceRequest) customName() string {
	if req.CustomName != "" {
		return req.CustomName
	}
	return req.Name
}

func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.BadRequest("invalid JSON body"))
		return
	}
	// A payload naming a different tenant than the authenticated context is
	// a spoofing attempt, not a validation slip.
	if req.LocationID != "" && req.LocationID != rc.LocationID {
		respondError(w, apperr.Forbidden("location ID does not match authenticated context"))
		return
	}

	inst, err := h.instances.Register(r.Context(), rc.LocationID, req.instanceName(), req.apiToken(), req.customName())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"instance": viewOf(*inst),
	})
}

func (h *Handler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		CustomName string `json:"customName"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperr.BadRequest("invalid JSON body"))
		return
	}
	customName := req.CustomName
	if customName == "" {
		customName = req.Name
	}
	if customName == "" {
		respondError(w, apperr.Validation("customName is required"))
		return
	}

	inst, err := h.instances.Rename(r.Context(), rc.LocationID, mux.Vars(r)["id"], customName)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"instance": viewOf(*inst),
	})
}

func (h *Handler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.instances.Remove(r.Context(), rc.LocationID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) LogoutInstance(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.instances.Logout(r.Context(), rc.LocationID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) InstanceQR(w http.ResponseWriter, r *http.Request) {
	rc, err := h.authContext(r)
	if err != nil {
		respondError(w, err)
		return
	}
	pairing, err := h.instances.Pairing(r.Context(), rc.LocationID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pairing": pairing,
	})
}
