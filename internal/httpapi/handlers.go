package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carecue/internal/caregiving"
	"carecue/internal/eventbus"
	"carecue/internal/reminder"
	logx "carecue/pkg/logx"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBody = 64 << 10

// Reminders is the part of the scheduler the API drives.
type Reminders interface {
	Settings(ctx context.Context) reminder.Settings
	UpdateSettings(ctx context.Context, patch reminder.SettingsPatch) (reminder.Settings, error)
	ResetSettings(ctx context.Context) (reminder.Settings, error)
	Snapshot() []reminder.Entry
	Refresh(ctx context.Context) error
}

// Records is the write side of the event store.
type Records interface {
	AppendEvent(ctx context.Context, e caregiving.Event) error
	PutVaccine(ctx context.Context, v caregiving.Vaccine) error
}

// Submitter runs work on the scheduling queue.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

type Deps struct {
	ChildID   string
	Location  *time.Location
	Reminders Reminders
	Records   Records
	Queue     Submitter
	Bus       eventbus.Bus
	Log       logx.Logger
	// Health returns extra fields for /healthz.
	Health func() map[string]any
}

type api struct {
	Deps
	validate *validator.Validate
}

// NewHandler builds the router.
func NewHandler(d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	a := &api{Deps: d, validate: newValidator()}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.CleanPath,
		a.logRequests,
		middleware.Timeout(30*time.Second),
	)
	r.Get("/healthz", a.health)
	r.Route("/settings", func(r chi.Router) {
		r.Get("/", a.getSettings)
		r.Patch("/", a.patchSettings)
		r.Delete("/", a.resetSettings)
	})
	r.Post("/events", a.postEvent)
	r.Post("/vaccines", a.postVaccine)
	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", a.listReminders)
		r.Post("/refresh", a.refresh)
	})
	return r
}

func (a *api) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.Log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("req_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if a.Health != nil {
		for k, v := range a.Health() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Reminders.Settings(r.Context()))
}

func (a *api) patchSettings(w http.ResponseWriter, r *http.Request) {
	var patch reminder.SettingsPatch
	if !a.decode(w, r, &patch) {
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "empty patch")
		return
	}

	next, err := a.Reminders.UpdateSettings(r.Context(), patch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, next)
	case errors.Is(err, reminder.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		// Settings are applied in memory even when persisting or scheduling failed.
		a.Log.Warn("settings update incomplete", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"settings": next, "error": err.Error()})
	}
}

func (a *api) resetSettings(w http.ResponseWriter, r *http.Request) {
	next, err := a.Reminders.ResetSettings(r.Context())
	if err != nil {
		a.Log.Warn("settings reset incomplete", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"settings": next, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, next)
}

type eventRequest struct {
	Type    string    `json:"type" validate:"required,max=32"`
	SubType string    `json:"sub_type,omitempty" validate:"max=64"`
	At      time.Time `json:"at"`
}

func (a *api) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !a.decode(w, r, &req) {
		return
	}
	typ, err := caregiving.ParseEventType(req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}
	ev := caregiving.Event{ID: uuid.NewString(), ChildID: a.ChildID, Type: typ, SubType: req.SubType, At: at}
	if err := a.Records.AppendEvent(r.Context(), ev); err != nil {
		a.Log.Error("append event failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "event not stored")
		return
	}
	if a.Bus != nil {
		a.Bus.Publish(eventbus.Event{Type: eventbus.TypeEventLogged, Data: ev})
	}
	writeJSON(w, http.StatusCreated, ev)
}

type vaccineRequest struct {
	Occasion string `json:"occasion" validate:"required,max=64"`
	Name     string `json:"name" validate:"max=128"`
	// DueDate is YYYY-MM-DD in the reminder timezone, or RFC 3339.
	DueDate string `json:"due_date" validate:"required"`
}

func (a *api) postVaccine(w http.ResponseWriter, r *http.Request) {
	var req vaccineRequest
	if !a.decode(w, r, &req) {
		return
	}
	occasion := strings.TrimSpace(req.Occasion)
	if occasion == "" {
		writeError(w, http.StatusBadRequest, "occasion required")
		return
	}
	due, err := parseDate(req.DueDate, a.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v := caregiving.Vaccine{ChildID: a.ChildID, Occasion: occasion, Name: req.Name, DueDate: due}
	if err := a.Records.PutVaccine(r.Context(), v); err != nil {
		a.Log.Error("put vaccine failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "vaccine not stored")
		return
	}
	a.submitRefresh("vaccine.added")
	writeJSON(w, http.StatusCreated, v)
}

func (a *api) listReminders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Reminders.Snapshot())
}

func (a *api) refresh(w http.ResponseWriter, _ *http.Request) {
	if !a.submitRefresh("api.refresh") {
		writeError(w, http.StatusServiceUnavailable, reminder.ErrQueueFull.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (a *api) submitRefresh(name string) bool {
	if a.Queue == nil {
		return false
	}
	return a.Queue.Submit(name, a.Reminders.Refresh)
}

// decode reads a strict JSON body and runs struct validation.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("due_date: expected YYYY-MM-DD or RFC 3339, got %q", raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
