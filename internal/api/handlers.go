package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"serverlink/internal/login"
	"serverlink/internal/models"
	"serverlink/internal/resolver"
	"serverlink/internal/storage"
	"serverlink/internal/urlutil"
)

// Connector drives the login screen's connection state.
type Connector interface {
	Connect(ctx context.Context, candidate string) *resolver.Attempt
	Status() resolver.Status
	Cancel() bool
}

// SignInService signs a user in against the connected server.
type SignInService interface {
	SignIn(ctx context.Context, creds login.Credentials) (*login.Result, error)
}

// TapGuard rejects user actions repeated too quickly.
type TapGuard interface {
	Allow() bool
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store    storage.Storer
	resolver Connector
	login    SignInService
	tap      TapGuard
	log      *slog.Logger
}

// NewHandlers creates a new Handlers struct. tap may be nil.
func NewHandlers(store storage.Storer, res Connector, signIn SignInService, tap TapGuard, log *slog.Logger) *Handlers {
	return &Handlers{store: store, resolver: res, login: signIn, tap: tap, log: log}
}

type urlRequest struct {
	URL string `json:"url"`
}

// Connect starts a connection attempt. With ?wait=true the response carries
// the settled outcome instead of the attempt id.
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	var reqBody urlRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if h.tap != nil && !h.tap.Allow() {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	attempt := h.resolver.Connect(r.Context(), reqBody.URL)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		outcome, err := attempt.Wait(r.Context())
		if err != nil {
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
		return
	}

	writeJSON(w, http.StatusAccepted, struct {
		AttemptID string                 `json:"attempt_id"`
		State     models.ConnectionState `json:"state"`
	}{
		AttemptID: attempt.ID,
		State:     models.StateConnecting,
	})
}

// ConnectionStatus reports the resolver's current state.
func (h *Handlers) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.resolver.Status())
}

// CancelConnection aborts the attempt in flight, if any.
func (h *Handlers) CancelConnection(w http.ResponseWriter, r *http.Request) {
	if h.resolver.Cancel() {
		h.log.Info("connection attempt cancelled")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Login signs in against the connected server.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var creds login.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if h.resolver.Status().State != models.StateConnected {
		http.Error(w, "not connected to a server", http.StatusConflict)
		return
	}

	result, err := h.login.SignIn(r.Context(), creds)
	if errors.Is(err, login.ErrBusy) {
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}
	if err != nil {
		h.log.Error("sign-in error", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !result.OK() {
		statusCode = http.StatusUnauthorized
	}
	writeJSON(w, statusCode, result)
}

// CreateServer registers a server for monitoring.
func (h *Handlers) CreateServer(w http.ResponseWriter, r *http.Request) {
	var reqBody urlRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	origin, err := urlutil.NormalizeOrigin(reqBody.URL, false)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	server := &models.Server{
		ID:        storage.NewID("s_"),
		Origin:    origin,
		Host:      urlutil.Hostname(origin),
		CreatedAt: time.Now().UTC(),
	}

	created, err := h.store.CreateServer(r.Context(), server)
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		h.log.Error("error creating server", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusCreated
	if errors.Is(err, storage.ErrDuplicateKey) {
		statusCode = http.StatusOK
	}
	writeJSON(w, statusCode, created)
}

// ListServers handles listing servers with pagination.
func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}
	host := strings.ToLower(strings.TrimSpace(q.Get("host")))

	afterTime, afterID := decodePageToken(q.Get("page_token"))

	items, err := h.store.ListServers(r.Context(), storage.ListServersParams{
		Host:      host,
		AfterTime: afterTime,
		AfterID:   afterID,
		Limit:     limit,
	})
	if err != nil {
		h.log.Error("list servers error", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []models.Server{}
	}

	resp := struct {
		Items         []models.Server `json:"items"`
		NextPageToken string          `json:"next_page_token"`
	}{
		Items: items,
	}
	if len(items) == limit {
		last := items[len(items)-1]
		resp.NextPageToken = encodePageToken(last.CreatedAt, last.ID)
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListProbes handles listing probe results for a server.
func (h *Handlers) ListProbes(w http.ResponseWriter, r *http.Request) {
	serverID := mux.Vars(r)["server_id"]

	if _, err := h.store.GetServerByID(r.Context(), serverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "server not found", http.StatusNotFound)
			return
		}
		h.log.Error("get server error", "server_id", serverID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}

	var sincePtr *time.Time
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			utc := t.UTC()
			sincePtr = &utc
		}
	}

	results, err := h.store.ListProbeResultsByServerID(r.Context(), storage.ListProbeResultsParams{
		ServerID: serverID,
		Since:    sincePtr,
		Limit:    limit,
	})
	if err != nil {
		h.log.Error("list probes error", "server_id", serverID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if results == nil {
		results = []models.ProbeResult{}
	}

	writeJSON(w, http.StatusOK, struct {
		Items []models.ProbeResult `json:"items"`
	}{Items: results})
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// page tokens are base64 of "<rfc3339nano>|<id>"
func encodePageToken(createdAt time.Time, id string) string {
	cursor := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(cursor))
}

func decodePageToken(token string) (time.Time, string) {
	if token == "" {
		return time.Time{}, ""
	}
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, ""
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, ""
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, ""
	}
	return t, parts[1]
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
