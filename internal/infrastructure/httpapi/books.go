package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ersonp/continuity/internal/application/handlers"
	"github.com/ersonp/continuity/internal/domain/entities"
	"github.com/ersonp/continuity/internal/domain/services"
)

func bookID(r *http.Request) string {
	return chi.URLParam(r, "bookID")
}

// POST /books/{bookID}/scan
func (a *API) startScan(w http.ResponseWriter, r *http.Request) {
	h, err := a.engine.StartScan(r.Context(), bookID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.Status())
}

// GET /books/{bookID}/scan
func (a *API) scanStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.ScanStatus(r.Context(), bookID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// DELETE /books/{bookID}/scan
func (a *API) cancelScan(w http.ResponseWriter, r *http.Request) {
	if err := a.engine.CancelScan(r.Context(), bookID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /books/{bookID}/facts?category=&subject=
func (a *API) facts(w http.ResponseWriter, r *http.Request) {
	category, err := filterParam(r, "category", entities.ParseCategory)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	facts, err := a.engine.Facts(r.Context(), bookID(r), entities.FactFilter{
		Category: category,
		Subject:  r.URL.Query().Get("subject"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(facts))
}

// GET /books/{bookID}/search?q=&category=&limit=
func (a *API) search(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	var result *handlers.QueryResult
	query := r.URL.Query().Get("q")
	if raw := r.URL.Query().Get("category"); raw != "" {
		category, perr := entities.ParseCategory(raw)
		if perr != nil {
			a.fail(w, r, fmt.Errorf("%v: %w", perr, entities.ErrInvalidRequest))
			return
		}
		result, err = a.queries.HandleByCategory(r.Context(), bookID(r), query, category, limit)
	} else {
		result, err = a.queries.Handle(r.Context(), bookID(r), query, limit)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	result.Facts = nonNil(result.Facts)
	writeJSON(w, http.StatusOK, result)
}

// GET /books/{bookID}/events
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	events, err := a.engine.Events(r.Context(), bookID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(events))
}

// GET /books/{bookID}/analysis
func (a *API) analysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := a.engine.Analysis(r.Context(), bookID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// GET /books/{bookID}/audit/{targetID}
func (a *API) audit(w http.ResponseWriter, r *http.Request) {
	entries, err := a.engine.AuditLog(r.Context(), bookID(r), chi.URLParam(r, "targetID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// POST /books/{bookID}/check
func (a *API) check(w http.ResponseWriter, r *http.Request) {
	var req services.CheckRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.engine.Check(r.Context(), bookID(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /books/{bookID}/sessions/{sessionID}/edits
func (a *API) submitEdit(w http.ResponseWriter, r *http.Request) {
	var req services.CheckRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := a.engine.SubmitEdit(r.Context(), bookID(r), sessionID, req); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

// GET /books/{bookID}/sessions/{sessionID}
func (a *API) sessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.CheckStatus(r.Context(), bookID(r), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GET /books/{bookID}/issues?severity=&status=&type=
func (a *API) issues(w http.ResponseWriter, r *http.Request) {
	filter, err := issueFilter(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	issues, err := a.engine.Issues(r.Context(), bookID(r), filter)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(issues))
}

func issueFilter(r *http.Request) (entities.IssueFilter, error) {
	severity, err := filterParam(r, "severity", entities.ParseSeverity)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	status, err := filterParam(r, "status", entities.ParseIssueStatus)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	issueType, err := filterParam(r, "type", entities.ParseIssueType)
	if err != nil {
		return entities.IssueFilter{}, err
	}
	return entities.IssueFilter{Severity: severity, Status: status, Type: issueType}, nil
}

// GET /books/{bookID}/issues/{issueID}
func (a *API) issue(w http.ResponseWriter, r *http.Request) {
	issue, err := a.engine.Issue(r.Context(), bookID(r), chi.URLParam(r, "issueID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// POST /books/{bookID}/issues/{issueID}/resolve
func (a *API) resolveIssue(w http.ResponseWriter, r *http.Request) {
	var req services.ResolveRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	issue, err := a.engine.ResolveIssue(r.Context(), bookID(r), chi.URLParam(r, "issueID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type transitionRequest struct {
	Notes string `json:"notes,omitempty"`
}

type transitionFunc func(ctx context.Context, bookID, issueID, notes string) (entities.ConsistencyIssue, error)

// transitionIssue serves acknowledge, dismiss and reopen. The body is optional.
func (a *API) transitionIssue(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if r.ContentLength != 0 {
			if err := decode(w, r, &req); err != nil {
				a.fail(w, r, err)
				return
			}
		}
		issue, err := fn(r.Context(), bookID(r), chi.URLParam(r, "issueID"), req.Notes)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, issue)
	}
}

type aliasRequest struct {
	Alias     string `json:"alias"`
	Canonical string `json:"canonical"`
}

// POST /books/{bookID}/aliases
func (a *API) registerAlias(w http.ResponseWriter, r *http.Request) {
	var req aliasRequest
	if err := decode(w, r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.engine.RegisterAlias(r.Context(), bookID(r), req.Alias, req.Canonical); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /books/{bookID}/import?format=json|csv&dry_run=&on_conflict=
// The body is the story bible file.
func (a *API) importFacts(w http.ResponseWriter, r *http.Request) {
	dryRun, err := queryBool(r, "dry_run")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	onConflict, err := services.ParseConflictStrategy(r.URL.Query().Get("on_conflict"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = formatFromContentType(r.Header.Get("Content-Type"))
	}

	res, err := a.imports.HandleReader(r.Context(), bookID(r), http.MaxBytesReader(w, r.Body, maxBodyBytes), handlers.ImportOptions{
		Format:     format,
		DryRun:     dryRun,
		OnConflict: onConflict,
	})
	if err != nil {
		a.fail(w, r, fmt.Errorf("importing story bible: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func formatFromContentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return "json"
	case strings.HasPrefix(contentType, "text/csv"):
		return "csv"
	default:
		return ""
	}
}

// nonNil turns a nil slice into an empty one so that it encodes as [].
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
