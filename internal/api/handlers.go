// Package api exposes HTTP handlers for the attendance service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/observability"
	"example.com/attendance/internal/persistence"
)

const maxBodyBytes = 1 << 16

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/attendance", h.attendance)
	mux.HandleFunc("/v1/attendance/punch-in", h.punchIn)
	mux.HandleFunc("/v1/attendance/punch-out", h.punchOut)
	mux.HandleFunc("/v1/attendance/breaks", h.breaks)
	mux.HandleFunc("/v1/attendance/work-hours", h.workHours)
	mux.HandleFunc("/v1/attendance/history", h.history)
	mux.HandleFunc("/v1/admin/attendance/sync-status", h.syncStatus)
	mux.HandleFunc("/v1/admin/attendance/snapshots/refresh", h.refreshSnapshot)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) punchIn(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireMethodAndScope(w, r, http.MethodPost, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	var req PunchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TZOffsetMinutes == nil {
		writeDomainError(w, &domain.ValidationError{Field: "tz_offset_minutes", Message: "is required"})
		return
	}

	result, err := h.service.PunchIn(r.Context(), domain.PunchInput{
		TenantID:        claims.TenantID,
		EmployeeID:      claims.Subject,
		TZOffsetMinutes: *req.TZOffsetMinutes,
		OccurredAt:      req.OccurredAt,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, result, http.StatusCreated)
}

func (h *Handler) punchOut(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireMethodAndScope(w, r, http.MethodPost, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	var req PunchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.PunchOut(r.Context(), domain.PunchInput{
		TenantID:       claims.TenantID,
		EmployeeID:     claims.Subject,
		OccurredAt:     req.OccurredAt,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.writeMutation(w, result, http.StatusOK)
}

func (h *Handler) breaks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.recordBreak(w, r)
	case http.MethodGet:
		h.listBreaks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) recordBreak(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	var req BreakRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Break(r.Context(), domain.BreakInput{
		TenantID:       claims.TenantID,
		EmployeeID:     claims.Subject,
		Type:           req.Type,
		Action:         req.Action,
		OccurredAt:     req.OccurredAt,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if domain.BreakAction(req.Action) == domain.BreakActionStart {
		status = http.StatusCreated
	}
	h.writeMutation(w, result, status)
}

func (h *Handler) listBreaks(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}
	items, err := h.service.Breaks(r.Context(), q.tenantID, q.employeeID, q.offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	zone := domain.Zone(q.offset)
	resp := BreaksResponse{EmployeeID: q.employeeID, Items: make([]BreakView, 0, len(items))}
	for _, b := range items {
		resp.Items = append(resp.Items, toBreakView(b, zone, h.service.Now()))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) attendance(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}
	view, err := h.service.Attendance(r.Context(), q.tenantID, q.employeeID, q.offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := AttendanceResponse{
		EmployeeID: q.employeeID,
		State:      string(view.State),
		Metrics:    toMetricsView(view.Metrics, zoneFor(view.Record, q.offset)),
	}
	if view.Record != nil {
		rv := toRecordView(*view.Record, h.service.Now())
		resp.Record = &rv
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) workHours(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	metrics, err := h.service.WorkHours(r.Context(), q.tenantID, q.employeeID, date, q.offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if date == "" {
		date, _ = domain.LocalDate(h.service.Now(), q.offset)
	}
	writeJSON(w, http.StatusOK, WorkHoursResponse{
		EmployeeID: q.employeeID,
		LocalDate:  date,
		Metrics:    toMetricsView(metrics, domain.Zone(q.offset)),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	q, ok := h.readQuery(w, r)
	if !ok {
		return
	}

	limit := 31
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.History(r.Context(), q.tenantID, q.employeeID, cursor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	now := h.service.Now()
	resp := HistoryResponse{Items: make([]DayView, 0, len(records)), NextCursor: persistence.EncodeCursor(next)}
	for i := range records {
		rec := records[i]
		resp.Items = append(resp.Items, DayView{
			Record:  toRecordView(rec, now),
			Metrics: toMetricsView(domain.Aggregate(&rec, now, h.service.Policy()), domain.Zone(rec.TZOffsetMinutes)),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireMethodAndScope(w, r, http.MethodGet, auth.ScopeAttendanceAdmin)
	if !ok {
		return
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing employee_id parameter")
		return
	}
	offset, err := parseOffset(r.URL.Query().Get("tz_offset_minutes"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := h.service.SyncStatus(r.Context(), claims.TenantID, employeeID, r.URL.Query().Get("date"), offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	observability.RecordSyncVerdict(string(report.Verdict))

	resp := SyncStatusResponse{
		EmployeeID:         employeeID,
		Verdict:            string(report.Verdict),
		DivergingFields:    report.Diverging,
		SnapshotAgeSeconds: int64(report.SnapshotAge / time.Second),
		Live:               toMetricsView(report.Live, domain.Zone(offset)),
		Snapshot:           report.Snapshot,
	}
	if resp.DivergingFields == nil {
		resp.DivergingFields = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) refreshSnapshot(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireMethodAndScope(w, r, http.MethodPost, auth.ScopeAttendanceAdmin)
	if !ok {
		return
	}

	var req RefreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.EmployeeID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "employee_id is required")
		return
	}

	snap, err := h.service.RefreshSnapshot(r.Context(), claims.TenantID, req.EmployeeID, req.Date, req.TZOffsetMinutes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type readQuery struct {
	tenantID   string
	employeeID string
	offset     int
}

// readQuery resolves the target employee of a read. Reading someone else needs the admin scope.
func (h *Handler) readQuery(w http.ResponseWriter, r *http.Request) (readQuery, bool) {
	claims, ok := requireMethodAndScope(w, r, http.MethodGet, auth.ScopeAttendanceRead)
	if !ok {
		return readQuery{}, false
	}
	employeeID := strings.TrimSpace(r.URL.Query().Get("employee_id"))
	if employeeID == "" {
		employeeID = claims.Subject
	}
	if employeeID != claims.Subject && !claims.HasScope(auth.ScopeAttendanceAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope attendance:admin required to read other employees")
		return readQuery{}, false
	}
	offset, err := parseOffset(r.URL.Query().Get("tz_offset_minutes"))
	if err != nil {
		writeDomainError(w, err)
		return readQuery{}, false
	}
	return readQuery{tenantID: claims.TenantID, employeeID: employeeID, offset: offset}, true
}

func requireMethodAndScope(w http.ResponseWriter, r *http.Request, method, scope string) (*auth.Claims, bool) {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return nil, false
	}
	return requireScope(w, r, scope)
}

// requireScope accepts attendance:admin in place of any other scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) && !claims.HasScope(auth.ScopeAttendanceAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("scope %s required", scope))
		return nil, false
	}
	return claims, true
}

func parseOffset(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: "tz_offset_minutes", Message: "must be an integer"}
	}
	return offset, domain.ValidateOffset(offset)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	return true
}

func (h *Handler) writeMutation(w http.ResponseWriter, result *domain.MutationResult, status int) {
	now := h.service.Now()
	resp := MutationResponse{
		Record:  toRecordView(*result.Record, now),
		State:   string(result.Record.State()),
		Metrics: toMetricsView(domain.Aggregate(result.Record, now, h.service.Policy()), domain.Zone(result.Record.TZOffsetMinutes)),
		Replay:  result.Replay,
	}
	if result.Break != nil {
		bv := toBreakView(*result.Break, domain.Zone(result.Record.TZOffsetMinutes), now)
		resp.Break = &bv
	}
	if result.Replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain failures onto the HTTP error contract.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		observability.RecordEventRejected(conflict.Reason)
		writeError(w, http.StatusConflict, conflict.Reason, conflict.Message)
	case errors.Is(err, domain.ErrValidation):
		observability.RecordEventRejected("validation_failed")
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found", "attendance record not found")
	default:
		log.Printf("api: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}
