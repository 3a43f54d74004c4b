package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mbientlab/metabase/internal/core/domain"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/core/service"
	"go.uber.org/zap"
)

const actorRequestTimeout = 10 * time.Second

type startActionBody struct {
	Action      string                 `json:"action"`
	Devices     []string               `json:"devices"`
	Selection   domain.SensorSelection `json:"selection"`
	Mode        domain.RecordingMode   `json:"mode,omitempty"`
	SessionName string                 `json:"session_name"`
	GroupId     string                 `json:"group_id,omitempty"`
}

type legalBody struct {
	Devices []string `json:"devices"`
}

type nameBody struct {
	Name string `json:"name"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/version", s.VersionHandler)
	e.GET("/ws", s.WebSocketHandler)

	api := e.Group("/api")
	api.GET("/devices", s.DevicesHandler)
	api.POST("/legal", s.LegalHandler)

	api.POST("/action", s.StartActionHandler)
	api.GET("/action", s.ActionStateHandler)
	api.POST("/action/stop", s.StopStreamingHandler)
	api.POST("/action/cancel", s.CancelHandler)
	api.POST("/action/retry/:mac", s.RetryHandler)
	api.POST("/action/restart", s.RestartFailuresHandler)

	api.GET("/sessions", s.SessionsHandler)
	api.GET("/sessions/:id/files", s.SessionFilesHandler)
	api.GET("/sessions/:id/files/:fid", s.FileHandler)
	api.PATCH("/sessions/:id", s.RenameSessionHandler)
	api.DELETE("/sessions/:id", s.DeleteSessionHandler)
	api.POST("/sessions/:id/duplicate", s.DuplicateSessionHandler)

	api.GET("/tokens", s.TokensHandler)
	api.POST("/import/:mac", s.ImportHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, actorRequestTimeout).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) VersionHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"version":     versioninfo.Short(),
		"revision":    versioninfo.Revision,
		"last_commit": versioninfo.LastCommit,
		"dirty":       versioninfo.DirtyBuild,
	})
}

func (s *Server) DevicesHandler(c echo.Context) error {
	ctx := c.Request().Context()
	devices, err := s.backend.Devices.Devices(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	groups, err := s.backend.Devices.Groups(ctx)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"devices": devices,
		"groups":  groups,
	})
}

func (s *Server) LegalHandler(c echo.Context) error {
	var body legalBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	metas, err := s.resolve(c.Request().Context(), body.Devices)
	if err != nil {
		return s.fail(c, err)
	}
	modules := make([]domain.DeviceModules, 0, len(metas))
	for _, meta := range metas {
		modules = append(modules, meta.Modules)
	}
	return c.JSON(http.StatusOK, service.NewLegalSensorParameters(modules))
}

func (s *Server) StartActionHandler(c echo.Context) error {
	var body startActionBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	action, err := domain.ParseActionType(body.Action)
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: %s", domain.ErrIllegalParameter, err))
	}
	macs := body.Devices
	if len(macs) == 0 && body.GroupId != "" {
		if macs, err = s.groupMACs(c.Request().Context(), body.GroupId); err != nil {
			return s.fail(c, err)
		}
	}
	metas, err := s.resolve(c.Request().Context(), macs)
	if err != nil {
		return s.fail(c, err)
	}
	return s.ask(c, domain.StartActionRequest{
		Action:      action,
		Devices:     metas,
		Selection:   body.Selection,
		Mode:        body.Mode,
		SessionName: body.SessionName,
		GroupId:     body.GroupId,
		Date:        time.Now(),
	})
}

func (s *Server) ActionStateHandler(c echo.Context) error {
	return s.ask(c, domain.GetActionStateRequest{})
}

func (s *Server) StopStreamingHandler(c echo.Context) error {
	return s.ask(c, domain.StopStreamingRequest{})
}

func (s *Server) CancelHandler(c echo.Context) error {
	return s.ask(c, domain.CancelAndUndoRequest{})
}

func (s *Server) RetryHandler(c echo.Context) error {
	return s.ask(c, domain.RetryDeviceRequest{MAC: strings.ToUpper(c.Param("mac"))})
}

func (s *Server) RestartFailuresHandler(c echo.Context) error {
	return s.ask(c, domain.RestartFailuresRequest{})
}

func (s *Server) SessionsHandler(c echo.Context) error {
	sessions, err := s.backend.Store.FetchSessions(c.Request().Context(), port.SessionQuery{
		GroupId:   c.QueryParam("group"),
		DeviceMAC: strings.ToUpper(c.QueryParam("device")),
		Name:      c.QueryParam("name"),
	})
	if err != nil {
		return s.fail(c, err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) SessionFilesHandler(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	files, err := s.backend.Store.FetchFiles(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, files)
}

func (s *Server) FileHandler(c echo.Context) error {
	fid, err := uuidParam(c, "fid")
	if err != nil {
		return err
	}
	file, err := s.backend.Store.FetchFile(c.Request().Context(), fid)
	if err != nil {
		return s.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Blob(http.StatusOK, "text/csv", file.CSV)
}

func (s *Server) RenameSessionHandler(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body nameBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	if strings.TrimSpace(body.Name) == "" {
		return s.fail(c, fmt.Errorf("%w: empty name", domain.ErrIllegalParameter))
	}
	session, err := s.backend.Store.RenameSession(c.Request().Context(), id, body.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

func (s *Server) DeleteSessionHandler(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	if err := s.backend.Store.DeleteSession(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) DuplicateSessionHandler(c echo.Context) error {
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}
	var body nameBody
	if err := c.Bind(&body); err != nil {
		return err
	}
	session, err := s.backend.Store.DuplicateSession(c.Request().Context(), id, body.Name)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

func (s *Server) TokensHandler(c echo.Context) error {
	tokens, err := s.backend.Store.Tokens(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	if tokens == nil {
		tokens = []domain.LoggingToken{}
	}
	return c.JSON(http.StatusOK, tokens)
}

func (s *Server) ImportHandler(c echo.Context) error {
	if s.backend.Importer == nil {
		return c.JSON(http.StatusNotImplemented, errorBody{Error: "import is disabled"})
	}
	res, err := s.backend.Importer.Import(c.Request().Context(), c.Param("mac"))
	if err != nil {
		return s.fail(c, err)
	}
	sessions := res.Sessions
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"mac":      res.MAC,
		"sessions": sessions,
		"skipped":  res.Skipped,
	})
}

// ask forwards a request to the master and writes the actor's answer.
func (s *Server) ask(c echo.Context, req domain.ActionRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, req, actorRequestTimeout).Result()
	if err != nil {
		return s.fail(c, fmt.Errorf("%w: %s", domain.ErrTimeout, err))
	}
	if resp, ok := res.(domain.ActorResponse); ok && resp.HasResponseError() {
		return s.fail(c, resp.GetResponseError())
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) resolve(ctx context.Context, macs []string) ([]domain.DeviceMeta, error) {
	metas := make([]domain.DeviceMeta, 0, len(macs))
	for _, mac := range macs {
		dev, err := s.backend.Devices.Resolve(ctx, strings.ToUpper(mac))
		if err != nil {
			return nil, err
		}
		metas = append(metas, dev.Meta())
	}
	return metas, nil
}

// groupMACs addresses every board of a group.
func (s *Server) groupMACs(ctx context.Context, groupId string) ([]string, error) {
	groups, err := s.backend.Devices.Groups(ctx)
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if g.Id == groupId {
			return g.MACs, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown group %q", domain.ErrIllegalParameter, groupId)
}

func (s *Server) fail(c echo.Context, err error) error {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrIllegalParameter), errors.Is(err, domain.ErrModuleMissing):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrFileNotFound),
		errors.Is(err, domain.ErrDeviceUnavailable), errors.Is(err, domain.ErrNoDataToImport):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrActionRunning), errors.Is(err, domain.ErrNoAction),
		errors.Is(err, domain.ErrAlreadyImported):
		return http.StatusConflict
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func uuidParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}
