package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caffeinestack/caffeinestack/server/internal/alerts"
	"github.com/caffeinestack/caffeinestack/server/internal/auth"
	"github.com/caffeinestack/caffeinestack/server/internal/config"
	"github.com/caffeinestack/caffeinestack/server/internal/metrics"
	"github.com/caffeinestack/caffeinestack/server/internal/plot"
	"github.com/caffeinestack/caffeinestack/server/internal/store"
)

const (
	maxStringLen = 100

	// maxAtAhead is how far past the server clock an ?at= reference may lie.
	maxAtAhead = 24 * time.Hour
)

// Options wires a Handler to its dependencies.
type Options struct {
	Store  *store.Store
	Levels *Levels

	// Alerts backs GET /alerts. May be nil.
	Alerts *alerts.Engine

	// Metrics backs GET /metrics and request counting. May be nil.
	Metrics *metrics.Registry

	// Auth selects whether POST /user/login issues tokens.
	Auth config.AuthConfig

	// Now is the server clock. Defaults to time.Now.
	Now func() time.Time
}

// Handler serves the REST API.
type Handler struct {
	store   *store.Store
	levels  *Levels
	alerts  *alerts.Engine
	metrics *metrics.Registry
	auth    config.AuthConfig
	now     func() time.Time
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	h := &Handler{
		store:   opts.Store,
		levels:  opts.Levels,
		alerts:  opts.Alerts,
		metrics: opts.Metrics,
		auth:    opts.Auth,
		now:     opts.Now,
		mux:     http.NewServeMux(),
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.levels == nil {
		h.levels = NewLevels(opts.Store, 0, opts.Alerts, opts.Metrics)
	}

	// Subtree patterns carry path parameters: /machine/{id},
	// /coffee/buy/{user_id}/{machine_id}, /stats/coffee/{machine|user}/{id}
	// and /stats/level/user/{id}[/detail|/plot.png].
	h.handle("/health", h.health)
	h.handle("/metrics", h.metricsText)
	h.handle("/alerts", h.listAlerts)
	h.handle("/user/request", h.createUser)
	h.handle("/user/login", h.login)
	h.handle("/machine", h.machines)
	h.handle("/machine/", h.updateMachine)
	h.handle("/coffee/buy/", h.buy)
	h.handle("/stats/coffee", h.statsAll)
	h.handle("/stats/coffee/", h.statsFiltered)
	h.handle("/stats/level/user/", h.levelRoutes)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// IsPublic reports whether r may bypass authentication.
func IsPublic(r *http.Request) bool {
	switch {
	case r.URL.Path == "/health", r.URL.Path == "/metrics":
		return true
	case r.URL.Path == "/user/request" && r.Method == http.MethodPut:
		return true
	case r.URL.Path == "/user/login" && r.Method == http.MethodPost:
		return true
	}
	return false
}

// handle registers fn under pattern. Every response carries an X-Request-ID
// (echoed when the client sent one) and is counted by pattern and status.
func (h *Handler) handle(pattern string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		fn(rec, r)

		if h.metrics != nil {
			h.metrics.IncRequest(pattern, rec.code)
		}
		slog.Debug("api: request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"code", rec.code,
			"duration", time.Since(start),
		)
	})
}

// --- service routes ---------------------------------------------------------

// health returns GET /health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// metricsText returns GET /metrics in the Prometheus text format.
func (h *Handler) metricsText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.metrics == nil {
		jsonErr(w, http.StatusNotFound, "metrics disabled")
		return
	}

	counts, err := h.store.Counts(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	h.metrics.SetGauge("caffeinestack_users", "Registered users.", float64(counts.Users))
	h.metrics.SetGauge("caffeinestack_machines", "Registered coffee machines.", float64(counts.Machines))
	h.metrics.SetGauge("caffeinestack_purchases", "Stored coffee purchases.", float64(counts.Purchases))
	if h.alerts != nil {
		firing := 0
		for _, a := range h.alerts.Active() {
			if a.State == alerts.StateFiring {
				firing++
			}
		}
		h.metrics.SetGauge("caffeinestack_alerts_firing", "Alerts currently firing.", float64(firing))
	}

	w.Header().Set("Content-Type", string(metrics.ContentType()))
	if err := h.metrics.WriteText(w); err != nil {
		slog.Error("api: write metrics", "err", err)
	}
}

// listAlerts returns GET /alerts: firing alerts plus those resolved in the
// last hour.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out := []*alerts.Alert{}
	if h.alerts != nil {
		out = append(out, h.alerts.Active()...)
	}
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: out})
}

// --- users ------------------------------------------------------------------

// createUser handles PUT /user/request.
func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	args, ok := readArgs(r, "login", "password", "email")
	if !ok {
		missingArguments(w)
		return
	}
	vals := make(map[string]string, 3)
	for _, key := range []string{"login", "password", "email"} {
		s, ok := stringArg(args[key])
		if !ok {
			invalidArgument(w, key)
			return
		}
		vals[key] = s
	}

	u, err := h.store.CreateUser(r.Context(), vals["login"], vals["password"], vals["email"])
	switch {
	case errors.Is(err, store.ErrLoginTaken):
		conflictNonUnique(w, "User", "login")
		return
	case errors.Is(err, store.ErrEmailTaken):
		conflictNonUnique(w, "User", "email")
		return
	case err != nil:
		internalError(w, err)
		return
	}

	slog.Info("api: user created", "user_id", u.ID)
	jsonResp(w, http.StatusOK, UserCreated{UserID: u.ID})
}

// login handles POST /user/login. Tokens are only issued in jwt auth mode.
func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if h.auth.Mode != "jwt" {
		jsonErr(w, http.StatusNotFound, "login is only available in jwt auth mode")
		return
	}
	args, ok := readArgs(r, "login", "password")
	if !ok {
		missingArguments(w)
		return
	}
	login, ok := stringArg(args["login"])
	if !ok {
		invalidArgument(w, "login")
		return
	}
	password, ok := stringArg(args["password"])
	if !ok {
		invalidArgument(w, "password")
		return
	}

	u, err := h.store.Authenticate(r.Context(), login, password)
	if errors.Is(err, store.ErrInvalidCredentials) {
		jsonErr(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	now := h.now()
	token, err := auth.IssueToken(h.auth.JWTSecret(), u.ID, u.Login, h.auth.TokenTTL, now)
	if err != nil {
		internalError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: now.Add(h.auth.TokenTTL).UTC().Format(time.RFC3339),
	})
}

// --- machines ---------------------------------------------------------------

// machines handles POST /machine (create) and GET /machine (list).
func (h *Handler) machines(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.store.ListMachines(r.Context())
		if err != nil {
			internalError(w, err)
			return
		}
		out := make([]MachineResponse, 0, len(list))
		for _, m := range list {
			out = append(out, toMachineResponse(&m))
		}
		jsonResp(w, http.StatusOK, out)

	case http.MethodPost:
		name, caffeine, ok := readMachineArgs(w, r)
		if !ok {
			return
		}
		m, err := h.store.CreateMachine(r.Context(), name, caffeine)
		if err != nil {
			internalError(w, err)
			return
		}
		slog.Info("api: machine created", "machine_id", m.ID, "caffeine", m.Caffeine)
		jsonResp(w, http.StatusOK, MachineCreated{CoffeeMachineID: m.ID})

	default:
		methodNotAllowed(w)
	}
}

// updateMachine handles PUT /machine/{id}.
func (h *Handler) updateMachine(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(strings.TrimPrefix(r.URL.Path, "/machine/"), 1)
	if !ok {
		notFound(w)
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	name, caffeine, ok := readMachineArgs(w, r)
	if !ok {
		return
	}

	m, err := h.store.UpdateMachine(r.Context(), ids[0], name, caffeine)
	if errors.Is(err, store.ErrMachineNotFound) {
		conflictMissing(w, "CoffeeMachine", ids[0])
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}
	jsonResp(w, http.StatusOK, toMachineResponse(m))
}

// readMachineArgs decodes and validates {name, caffeine}, writing the error
// response itself when ok is false.
func readMachineArgs(w http.ResponseWriter, r *http.Request) (name string, caffeine int, ok bool) {
	args, ok := readArgs(r, "name", "caffeine")
	if !ok {
		missingArguments(w)
		return "", 0, false
	}
	name, ok = stringArg(args["name"])
	if !ok {
		invalidArgument(w, "name")
		return "", 0, false
	}
	raw := args["caffeine"]
	if err := json.Unmarshal(raw, &caffeine); err != nil || caffeine < 0 || string(raw) == "null" {
		invalidArgument(w, "caffeine")
		return "", 0, false
	}
	return name, caffeine, true
}

// --- purchases --------------------------------------------------------------

// buy handles GET (now) and PUT (explicit timestamp) on
// /coffee/buy/{user_id}/{machine_id}.
func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	ids, ok := pathIDs(strings.TrimPrefix(r.URL.Path, "/coffee/buy/"), 2)
	if !ok {
		notFound(w)
		return
	}
	userID, machineID := ids[0], ids[1]
	if !h.callerMay(w, r, userID, "cannot buy coffee for another user") {
		return
	}

	var at time.Time
	switch r.Method {
	case http.MethodGet:
		at = h.now()
	case http.MethodPut:
		args, ok := readArgs(r, "timestamp")
		if !ok {
			missingArguments(w)
			return
		}
		raw, ok := stringArg(args["timestamp"])
		if !ok {
			invalidArgument(w, "timestamp")
			return
		}
		at, ok = parseTimestamp(raw)
		if !ok {
			invalidArgument(w, "timestamp")
			return
		}
	default:
		methodNotAllowed(w)
		return
	}

	p, err := h.store.CreatePurchase(r.Context(), userID, machineID, at)
	switch {
	case errors.Is(err, store.ErrUserNotFound):
		conflictMissing(w, "User", userID)
		return
	case errors.Is(err, store.ErrMachineNotFound):
		conflictMissing(w, "CoffeeMachine", machineID)
		return
	case err != nil:
		internalError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncPurchases()
	}

	if err := h.levels.Evaluate(r.Context(), userID, h.now()); err != nil {
		slog.Warn("api: alert evaluation failed", "user_id", userID, "err", err)
	}

	jsonResp(w, http.StatusOK, PurchaseCreated{CoffeePurchaseID: p.ID})
}

// statsAll handles GET /stats/coffee.
func (h *Handler) statsAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	h.writePurchases(w, r, store.PurchaseFilter{})
}

// statsFiltered handles GET /stats/coffee/machine/{id} and
// GET /stats/coffee/user/{id}.
func (h *Handler) statsFiltered(w http.ResponseWriter, r *http.Request) {
	kind, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/stats/coffee/"), "/")
	ids, ok := pathIDs(rest, 1)
	if !ok || (kind != "machine" && kind != "user") {
		notFound(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	id := ids[0]
	var err error
	var filter store.PurchaseFilter
	if kind == "machine" {
		_, err = h.store.GetMachine(r.Context(), id)
		filter.MachineID = id
	} else {
		if !h.callerMay(w, r, id, "cannot read another user's purchases") {
			return
		}
		_, err = h.store.GetUser(r.Context(), id)
		filter.UserID = id
	}
	switch {
	case errors.Is(err, store.ErrMachineNotFound):
		conflictMissing(w, "Machine", id)
		return
	case errors.Is(err, store.ErrUserNotFound):
		conflictMissing(w, "User", id)
		return
	case err != nil:
		internalError(w, err)
		return
	}
	h.writePurchases(w, r, filter)
}

func (h *Handler) writePurchases(w http.ResponseWriter, r *http.Request, f store.PurchaseFilter) {
	list, err := h.store.ListPurchases(r.Context(), f)
	if err != nil {
		internalError(w, err)
		return
	}
	out := make([]PurchaseResponse, 0, len(list))
	for _, p := range list {
		out = append(out, PurchaseResponse{
			UserID:    p.UserID,
			MachineID: p.MachineID,
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// --- levels -----------------------------------------------------------------

// levelRoutes dispatches GET /stats/level/user/{id}[/detail|/plot.png].
func (h *Handler) levelRoutes(w http.ResponseWriter, r *http.Request) {
	idPart, view, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/stats/level/user/"), "/")
	ids, ok := pathIDs(idPart, 1)
	if !ok || (view != "" && view != "detail" && view != "plot.png") {
		notFound(w)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := ids[0]

	if !h.callerMay(w, r, userID, "cannot read another user's level") {
		return
	}

	now := h.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, ok := parseTimestamp(raw)
		if !ok || at.After(now.Add(maxAtAhead)) {
			invalidArgument(w, "at")
			return
		}
		now = at
	}

	res, doses, err := h.levels.Trace(r.Context(), userID, now)
	if errors.Is(err, store.ErrUserNotFound) {
		conflictMissing(w, "User", userID)
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}

	switch view {
	case "":
		jsonResp(w, http.StatusOK, res.Report.Slice())
	case "detail":
		jsonResp(w, http.StatusOK, newLevelDetail(userID, res, doses, now))
	case "plot.png":
		w.Header().Set("Content-Type", "image/png")
		title := fmt.Sprintf("user %d caffeine level (mg)", userID)
		if err := plot.Render(w, res.Minutes, res.Start, plot.Options{Title: title}); err != nil {
			slog.Error("api: render plot", "user_id", userID, "err", err)
		}
	}
}

// --- helpers ----------------------------------------------------------------

// callerMay reports whether the authenticated caller may act on userID's
// data and writes a 403 when not. Requests without a token user (auth modes
// none and apikey) may act on anyone.
func (h *Handler) callerMay(w http.ResponseWriter, r *http.Request, userID uint, denied string) bool {
	if caller, ok := auth.UserIDFromContext(r.Context()); ok && caller != userID {
		jsonErr(w, http.StatusForbidden, denied)
		return false
	}
	return true
}

// readArgs decodes a JSON object body and reports whether every key is present.
func readArgs(r *http.Request, keys ...string) (map[string]json.RawMessage, bool) {
	var args map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args == nil {
		return nil, false
	}
	for _, k := range keys {
		if _, ok := args[k]; !ok {
			return nil, false
		}
	}
	return args, true
}

// stringArg accepts a non-empty JSON string of at most maxStringLen characters.
func stringArg(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if s == "" || len([]rune(s)) > maxStringLen {
		return "", false
	}
	return s, true
}

// timestampLayouts are tried in order. Layouts without a zone are read in
// the server's local time.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp accepts RFC 3339 or a zone-less ISO 8601 date/time.
func parseTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// pathIDs parses exactly n "/"-separated positive integers from rest.
func pathIDs(rest string, n int) ([]uint, bool) {
	parts := strings.Split(strings.TrimSuffix(rest, "/"), "/")
	if len(parts) != n {
		return nil, false
	}
	ids := make([]uint, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 0)
		if err != nil {
			return nil, false
		}
		ids[i] = uint(v)
	}
	return ids, true
}

func toMachineResponse(m *store.CoffeeMachine) MachineResponse {
	return MachineResponse{ID: m.ID, Name: m.Name, Caffeine: m.Caffeine}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Code: code, Text: msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter) {
	jsonErr(w, http.StatusNotFound, "not found")
}

func missingArguments(w http.ResponseWriter) {
	jsonErr(w, http.StatusBadRequest, "Missing one or more arguments")
}

func invalidArgument(w http.ResponseWriter, arg string) {
	jsonErr(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid %s value", arg))
}

func conflictNonUnique(w http.ResponseWriter, class, arg string) {
	jsonErr(w, http.StatusConflict, fmt.Sprintf(
		"Could not create new %s because there already exists %s with this %s", class, class, arg))
}

func conflictMissing(w http.ResponseWriter, class string, id uint) {
	jsonErr(w, http.StatusConflict, fmt.Sprintf(
		"Could not process request because there is no %s with id = %d", class, id))
}

func internalError(w http.ResponseWriter, err error) {
	slog.Error("api: request failed", "err", err)
	jsonErr(w, http.StatusInternalServerError, "internal server error")
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}
