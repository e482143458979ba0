package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"go.uber.org/zap"

	"go-rdm-bridge-ui/internal/view"
)

var errBadForm = errors.New("malformed form")

type actionFunc func(ctx context.Context, c *view.Controller, r *nethttp.Request) error

// sessionActions maps the POST routes under /s/{session}/ to controller
// operations.
var sessionActions = map[string]actionFunc{
	"select": func(_ context.Context, c *view.Controller, r *nethttp.Request) error {
		return c.Select(r.PostFormValue("control"), r.PostFormValue("value"))
	},
	"refresh": func(ctx context.Context, c *view.Controller, _ *nethttp.Request) error {
		return c.Refresh(ctx)
	},
	"filter": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		typ := c.Snapshot().Selection.FilterType
		if r.PostForm.Has("type") {
			typ = strings.TrimSpace(r.PostFormValue("type"))
		}
		return c.FilterByType(ctx, typ)
	},
	"reset": func(ctx context.Context, c *view.Controller, _ *nethttp.Request) error {
		return c.Reset(ctx)
	},
	"metadata": func(_ context.Context, c *view.Controller, r *nethttp.Request) error {
		return c.ToggleMetadata(r.PostFormValue("id"))
	},
	"platforms": func(ctx context.Context, c *view.Controller, _ *nethttp.Request) error {
		return c.FetchPlatforms(ctx)
	},
	"platform/types": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		if r.PostForm.Has("platform") {
			if err := c.Select(view.ControlPlatform, r.PostFormValue("platform")); err != nil {
				return err
			}
		}
		return c.ConnectToPlatform(ctx)
	},
	"platform/data": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		if r.PostForm.Has("type") {
			if err := c.Select(view.ControlPlatformType, r.PostFormValue("type")); err != nil {
				return err
			}
		}
		return c.FetchPlatformData(ctx)
	},
	"import": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		id := strings.TrimSpace(r.PostFormValue("id"))
		if id == "" {
			return errBadForm
		}
		return c.Import(ctx, id)
	},
	"export": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		if r.PostForm.Has("id") {
			if err := c.Select(view.ControlExport, r.PostFormValue("id")); err != nil {
				return err
			}
		}
		return c.Export(ctx)
	},
	"simulation": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		if r.PostForm.Has("id") {
			if err := c.Select(view.ControlSimulation, r.PostFormValue("id")); err != nil {
				return err
			}
		}
		return c.RunRemoteSimulation(ctx)
	},
	"simulation/export": func(ctx context.Context, c *view.Controller, _ *nethttp.Request) error {
		return c.ExportSimulationResult(ctx)
	},
	"crates": func(ctx context.Context, c *view.Controller, _ *nethttp.Request) error {
		return c.FetchCrates(ctx)
	},
	"crate": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		if r.PostForm.Has("name") {
			if err := c.Select(view.ControlCrate, r.PostFormValue("name")); err != nil {
				return err
			}
		}
		return c.ShowCrate(ctx)
	},
	"upload": func(ctx context.Context, c *view.Controller, r *nethttp.Request) error {
		file, header, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, nethttp.ErrMissingFile) || errors.Is(err, nethttp.ErrNotMultipart) {
				return c.Upload(ctx, "", nil)
			}
			return errBadForm
		}
		defer file.Close()
		return c.Upload(ctx, header.Filename, file)
	},
}

func indexHandler(sessions *sessionStore, logger *zap.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path != "/" {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		if r.Method != nethttp.MethodGet && r.Method != nethttp.MethodHead {
			writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}

		id, c := sessions.Create()
		if err := c.Load(r.Context()); err != nil {
			logger.Debug("initial load incomplete", zap.String("session", id), zap.Error(err))
		}

		if wantsJSON(r) {
			writeJSON(w, nethttp.StatusCreated, map[string]any{
				"meta": map[string]any{"session": id},
				"data": c.Render(),
			})
			return
		}
		nethttp.Redirect(w, r, sessionPath(id), nethttp.StatusSeeOther)
	}
}

func sessionRouter(sessions *sessionStore, maxUploadBytes int64, logger *zap.Logger) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, r *nethttp.Request) {
		trimmed := strings.TrimPrefix(r.URL.Path, "/s/")
		id, action, _ := strings.Cut(trimmed, "/")
		action = strings.Trim(action, "/")
		if id == "" {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}

		c, ok := sessions.Get(id)
		if !ok {
			if wantsJSON(r) {
				writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "unknown or expired session"})
				return
			}
			nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
			return
		}

		switch action {
		case "":
			if !allowMethod(w, r, nethttp.MethodGet) {
				return
			}
			renderPage(w, id, c.Render(), logger)
			return
		case "state":
			if !allowMethod(w, r, nethttp.MethodGet) {
				return
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{
				"meta": map[string]any{"session": id},
				"data": c.Render(),
			})
			return
		case "events":
			serveEvents(w, r, id, c, logger)
			return
		}

		run, ok := sessionActions[action]
		if !ok {
			writeJSON(w, nethttp.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		if !allowMethod(w, r, nethttp.MethodPost) {
			return
		}
		if err := parseActionForm(w, r, action, maxUploadBytes); err != nil {
			writeActionError(w, r, nethttp.StatusBadRequest, err)
			return
		}

		err := run(r.Context(), c, r)
		if status := actionStatus(err); status != nethttp.StatusOK {
			writeActionError(w, r, status, err)
			return
		}
		if err != nil {
			logger.Debug("action surfaced an error",
				zap.String("session", id),
				zap.String("action", action),
				zap.Error(err),
			)
		}

		if wantsJSON(r) {
			meta := map[string]any{"session": id, "action": action}
			if err != nil {
				meta["error"] = err.Error()
			}
			writeJSON(w, nethttp.StatusOK, map[string]any{"meta": meta, "data": c.Render()})
			return
		}
		nethttp.Redirect(w, r, sessionPath(id), nethttp.StatusSeeOther)
	}
}

func parseActionForm(w nethttp.ResponseWriter, r *nethttp.Request, action string, maxUploadBytes int64) error {
	if action != "upload" {
		if err := r.ParseForm(); err != nil {
			return errBadForm
		}
		return nil
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 16 << 20
	}
	r.Body = nethttp.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *nethttp.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errors.New("upload exceeds size limit")
		}
		if errors.Is(err, nethttp.ErrNotMultipart) {
			return nil
		}
		return errBadForm
	}
	return nil
}

// actionStatus maps controller errors to HTTP status codes. Gateway failures
// are surfaced in the view state, so they still answer 200.
func actionStatus(err error) int {
	switch {
	case err == nil:
		return nethttp.StatusOK
	case errors.Is(err, errBadForm),
		errors.Is(err, view.ErrUnknownControl),
		errors.Is(err, view.ErrInvalidSelection),
		errors.Is(err, view.ErrUnknownRecord):
		return nethttp.StatusBadRequest
	case errors.Is(err, view.ErrFeatureDisabled):
		return nethttp.StatusNotFound
	default:
		return nethttp.StatusOK
	}
}

func writeActionError(w nethttp.ResponseWriter, r *nethttp.Request, status int, err error) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	nethttp.Error(w, err.Error(), status)
}

func allowMethod(w nethttp.ResponseWriter, r *nethttp.Request, method string) bool {
	if r.Method == method || (method == nethttp.MethodGet && r.Method == nethttp.MethodHead) {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	return false
}

func wantsJSON(r *nethttp.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func sessionPath(id string) string {
	return "/s/" + id + "/"
}
