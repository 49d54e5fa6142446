package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/murmur/pkg/audit"
	"github.com/platinummonkey/murmur/pkg/httputil"
	"github.com/platinummonkey/murmur/pkg/middleware"
	"github.com/platinummonkey/murmur/pkg/observability"
)

// requireAdmin lets only configured admin users through
func (s *Server) requireAdmin(next middleware.HandlerFunc) middleware.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
		if _, ok := s.admins[pc.UserID()]; !ok {
			observability.FromContext(r.Context(), s.deps.Logger).WithField("user_id", pc.UserID()).
				Warn("non-admin user attempted admin access")
			httputil.WriteForbidden(w, "admin access required")
			return nil
		}
		return next(w, r, pc)
	}
}

// listAuditLogs handles GET /api/admin/audit-logs. format=csv|ndjson|json
// selects an export encoding.
func (s *Server) listAuditLogs(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	filter := audit.LogFilter{
		UserIDs:  splitList(r.URL.Query().Get("userId")),
		Action:   r.URL.Query().Get("action"),
		Resource: r.URL.Query().Get("resource"),
	}

	var err error
	if filter.Allowed, err = httputil.ParseQueryBool(r, "allowed"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	if filter.StartTime, filter.EndTime, err = parseWindow(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	if filter.Limit, filter.Offset, err = parsePage(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	entries := s.deps.Audit.GetAuditLogs(r.Context(), filter)

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		return httputil.WriteSuccess(w, map[string]interface{}{"logs": entries})
	}

	data, err := audit.Export(entries, format)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	return err
}

// listSecurityAlerts handles GET /api/admin/security-alerts
func (s *Server) listSecurityAlerts(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	filter := audit.AlertFilter{UserID: r.URL.Query().Get("userId")}
	for _, t := range splitList(r.URL.Query().Get("type")) {
		filter.AlertTypes = append(filter.AlertTypes, audit.AlertType(t))
	}
	for _, sev := range splitList(r.URL.Query().Get("severity")) {
		severity := audit.Severity(sev)
		if !severity.Valid() {
			httputil.WriteBadRequest(w, "invalid severity: "+sev)
			return nil
		}
		filter.Severities = append(filter.Severities, severity)
	}

	var err error
	if filter.Resolved, err = httputil.ParseQueryBool(r, "resolved"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	if filter.StartTime, filter.EndTime, err = parseWindow(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	if filter.Limit, filter.Offset, err = parsePage(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	alerts := s.deps.Audit.GetSecurityAlerts(r.Context(), filter)
	return httputil.WriteSuccess(w, map[string]interface{}{"alerts": alerts})
}

// resolveSecurityAlert handles POST /api/admin/security-alerts/{alertID}/resolve
func (s *Server) resolveSecurityAlert(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	id := mux.Vars(r)["alertID"]
	err := s.deps.Audit.ResolveSecurityAlert(r.Context(), id)
	if errors.Is(err, audit.ErrAlertNotFound) {
		httputil.WriteNotFound(w, err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	return httputil.WriteSuccess(w, map[string]interface{}{"id": id, "resolved": true})
}

// listUsageMetrics handles GET /api/admin/usage-metrics
func (s *Server) listUsageMetrics(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	filter := audit.UsageFilter{
		UserID:   r.URL.Query().Get("userId"),
		UserType: r.URL.Query().Get("userType"),
	}

	var err error
	if filter.StartTime, filter.EndTime, err = parseWindow(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}
	if filter.Limit, _, err = parsePage(r); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return nil
	}

	metrics := s.deps.Audit.GetUsageMetrics(r.Context(), filter)
	return httputil.WriteSuccess(w, map[string]interface{}{"metrics": metrics})
}

// listAlertDeliveries handles GET /api/admin/alert-deliveries
func (s *Server) listAlertDeliveries(w http.ResponseWriter, r *http.Request, pc *middleware.PermissionContext) error {
	return httputil.WriteSuccess(w, map[string]interface{}{"deliveries": s.deps.Notifier.Deliveries()})
}

func parseWindow(r *http.Request) (start, end *time.Time, err error) {
	if start, err = httputil.ParseQueryTime(r, "start"); err != nil {
		return nil, nil, err
	}
	if end, err = httputil.ParseQueryTime(r, "end"); err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	if limit, err = httputil.ParseQueryInt(r, "limit", audit.DefaultLimit); err != nil {
		return 0, 0, err
	}
	if offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// splitList parses a comma-separated query value
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
