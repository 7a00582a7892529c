// Package api exposes the daemon over HTTP so the cli and other
// local tools can drive a running bridge. All endpoints live under
// /v1 and speak JSON.
package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/eehut/uart2wifi/internal/bridge"
	"github.com/eehut/uart2wifi/internal/config"
	"github.com/eehut/uart2wifi/internal/repo"
	"github.com/eehut/uart2wifi/internal/wifi"
	"github.com/eehut/uart2wifi/version"
)

var log = logging.Logger("api")

const (
	defaultScanTimeout = time.Second * 10
	maxScanTimeout     = time.Second * 30
)

// Handler serves the daemon control API.
type Handler struct {
	station  *wifi.Station
	bridge   *bridge.Bridge
	repo     repo.Repo
	shutdown func()
	mux      *http.ServeMux
}

// NewHandler wires the control surface. shutdown is invoked by the
// /v1/shutdown endpoint and may be nil.
func NewHandler(station *wifi.Station, b *bridge.Bridge, r repo.Repo, shutdown func()) *Handler {
	h := &Handler{
		station:  station,
		bridge:   b,
		repo:     r,
		shutdown: shutdown,
		mux:      http.NewServeMux(),
	}
	h.mux.HandleFunc("/v1/info", h.handleInfo)
	h.mux.HandleFunc("/v1/status", h.handleStatus)
	h.mux.HandleFunc("/v1/connect", h.handleConnect)
	h.mux.HandleFunc("/v1/disconnect", h.handleDisconnect)
	h.mux.HandleFunc("/v1/scan", h.handleScan)
	h.mux.HandleFunc("/v1/networks", h.handleNetworks)
	h.mux.HandleFunc("/v1/networks/reset", h.handleNetworksReset)
	h.mux.HandleFunc("/v1/autoconnect", h.handleAutoConnect)
	h.mux.HandleFunc("/v1/autoconnect/once", h.handleAutoConnectOnce)
	h.mux.HandleFunc("/v1/stats", h.handleStats)
	h.mux.HandleFunc("/v1/stats/reset", h.handleStatsReset)
	h.mux.HandleFunc("/v1/bridge", h.handleBridge)
	h.mux.HandleFunc("/v1/baud", h.handleBaud)
	h.mux.HandleFunc("/v1/port", h.handlePort)
	h.mux.HandleFunc("/v1/server/start", h.handleServerStart)
	h.mux.HandleFunc("/v1/server/stop", h.handleServerStop)
	h.mux.HandleFunc("/v1/shutdown", h.handleShutdown)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log.Debug("ServeHTTP : ", r.URL.String())
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("A panic occurred in the api handler!")
			log.Error(rec)
			debug.PrintStack()
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}()
	h.mux.ServeHTTP(w, r)
}

type result struct {
	Status string `json:"status"`
}

var okResult = result{Status: "ok"}

type credentialRequest struct {
	SSID   string `json:"ssid"`
	Secret string `json:"secret"`
}

type ssidRequest struct {
	SSID string `json:"ssid"`
}

type autoConnectState struct {
	Enabled bool `json:"enabled"`
}

type baudRequest struct {
	BaudRate int `json:"baudrate"`
}

type portRequest struct {
	Port int `json:"port"`
}

type scanStatus struct {
	Done     bool               `json:"done"`
	Networks []wifi.NetworkInfo `json:"networks,omitempty"`
}

// Info is the composite daemon snapshot served by /v1/info.
type Info struct {
	Version      string        `json:"version"`
	Config       config.Config `json:"config"`
	StateCounter uint64        `json:"state_counter"`
	Wifi         wifi.Status   `json:"wifi"`
	Bridge       bridge.Status `json:"bridge"`
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response : %s", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		webError(w, "invalid request body", err, http.StatusBadRequest)
		return false
	}
	return true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method "+r.Method+" not allowed: bad request for "+r.URL.Path,
			http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func webError(w http.ResponseWriter, message string, err error, defaultCode int) {
	switch err {
	case wifi.ErrInvalidSSID, wifi.ErrInvalidSecret:
		webErrorWithCode(w, message, err, http.StatusBadRequest)
	case wifi.ErrRecordNotFound, wifi.ErrNoScanResult:
		webErrorWithCode(w, message, err, http.StatusNotFound)
	case wifi.ErrConnectTimeout, wifi.ErrScanTimeout:
		webErrorWithCode(w, message, err, http.StatusRequestTimeout)
	case wifi.ErrScanInProgress:
		webErrorWithCode(w, message, err, http.StatusConflict)
	case wifi.ErrConnectFailed:
		webErrorWithCode(w, message, err, http.StatusBadGateway)
	case bridge.ErrBridgeClosed, repo.ErrorRepoClosed:
		webErrorWithCode(w, message, err, http.StatusServiceUnavailable)
	default:
		webErrorWithCode(w, message, err, defaultCode)
	}
}

func webErrorWithCode(w http.ResponseWriter, message string, err error, code int) {
	http.Error(w, message+": "+err.Error(), code)
	if code >= 500 {
		log.Warnf("server error: %s", err)
	}
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	cfg, err := h.repo.Config()
	if err != nil {
		webError(w, "unable to read config", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, Info{
		Version:      version.LibVersion,
		Config:       *cfg,
		StateCounter: h.repo.State(),
		Wifi:         h.station.Status(),
		Bridge:       h.bridge.Status(),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, h.station.Status())
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req credentialRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.station.Connect(req.SSID, req.Secret); err != nil {
		webError(w, "connect failed", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.station.Status())
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.station.Disconnect(); err != nil {
		webError(w, "disconnect failed", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, okResult)
}

// handleScan runs a blocking scan on POST and reports the last scan
// on GET.
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		timeout := defaultScanTimeout
		if v := r.URL.Query().Get("timeout"); v != "" {
			secs, err := strconv.Atoi(v)
			if err != nil || secs <= 0 {
				webErrorWithCode(w, "invalid timeout", err, http.StatusBadRequest)
				return
			}
			timeout = time.Duration(secs) * time.Second
			if timeout > maxScanTimeout {
				timeout = maxScanTimeout
			}
		}
		networks, err := h.station.ScanAndWait(timeout)
		if err != nil {
			webError(w, "scan failed", err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, scanStatus{Done: true, Networks: networks})
	case http.MethodGet:
		networks, err := h.station.ScanResult()
		if err != nil {
			writeJSON(w, scanStatus{Done: h.station.IsScanDone()})
			return
		}
		writeJSON(w, scanStatus{Done: true, Networks: networks})
	default:
		requireMethod(w, r, http.MethodGet)
	}
}

func (h *Handler) handleNetworks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.station.Records())
	case http.MethodPost:
		var req credentialRequest
		if !readJSON(w, r, &req) {
			return
		}
		if err := h.station.AddRecord(req.SSID, req.Secret); err != nil {
			webError(w, "add network failed", err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, okResult)
	case http.MethodDelete:
		ssid := r.URL.Query().Get("ssid")
		if err := h.station.DeleteRecord(ssid); err != nil {
			webError(w, "delete network failed", err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, okResult)
	default:
		requireMethod(w, r, http.MethodGet)
	}
}

func (h *Handler) handleNetworksReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req ssidRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.station.ResetNetworkStatus(req.SSID); err != nil {
		webError(w, "reset network failed", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, okResult)
}

func (h *Handler) handleAutoConnect(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, autoConnectState{Enabled: h.station.AutoConnect()})
	case http.MethodPost:
		var req autoConnectState
		if !readJSON(w, r, &req) {
			return
		}
		h.station.SetAutoConnect(req.Enabled)
		writeJSON(w, okResult)
	default:
		requireMethod(w, r, http.MethodGet)
	}
}

func (h *Handler) handleAutoConnectOnce(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	h.station.TryAutoConnectOnce()
	writeJSON(w, okResult)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, h.bridge.Stats())
}

func (h *Handler) handleStatsReset(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	h.bridge.ResetStats()
	writeJSON(w, okResult)
}

func (h *Handler) handleBridge(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, h.bridge.Status())
}

func (h *Handler) handleBaud(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req baudRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.bridge.SetBaudRate(req.BaudRate); err != nil {
		webError(w, "set baudrate failed", err, http.StatusBadRequest)
		return
	}
	writeJSON(w, okResult)
}

func (h *Handler) handlePort(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req portRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.bridge.SetTCPPort(req.Port); err != nil {
		webError(w, "set port failed", err, http.StatusBadRequest)
		return
	}
	writeJSON(w, okResult)
}

func (h *Handler) handleServerStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.bridge.StartTCPServer(); err != nil {
		webError(w, "server start failed", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.bridge.Status())
}

func (h *Handler) handleServerStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := h.bridge.StopTCPServer(); err != nil {
		webError(w, "server stop failed", err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.bridge.Status())
}

func (h *Handler) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, okResult)
	if h.shutdown != nil {
		// let the response flush before the daemon goes away
		go h.shutdown()
	}
}
