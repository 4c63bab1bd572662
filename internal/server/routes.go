package server

import (
	"net/http"
	"time"

	"github.com/berfenger/meterlink/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)

	api := e.Group("/api")
	api.GET("/snapshot", s.SnapshotHandler)
	api.GET("/snapshot/latest", s.LatestSnapshotHandler)
	api.GET("/registers", s.ScanRegistersHandler)
	api.GET("/registers/last", s.LastScanHandler)
	api.GET("/metadata", s.MetadataHandler)
	api.GET("/relevant", s.RelevantHandler)
	api.GET("/connection", s.ConnectionHandler)
	api.POST("/reconnect", s.ReconnectHandler)

	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	return e
}

type errorBody struct {
	Error string `json:"error"`
}

// request asks the master actor and checks the response type.
func request[R domain.ActorResponse](s *Server, req any, timeout time.Duration) (R, error) {
	var zero R
	res, err := s.rootContext.RequestFuture(s.masterActor, req, timeout).Result()
	if err != nil {
		return zero, err
	}
	resp, ok := res.(R)
	if !ok {
		return zero, echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if resp.HasResponseError() {
		return resp, resp.GetResponseError()
	}
	return resp, nil
}

func unavailable(c echo.Context, err error) error {
	return c.JSON(http.StatusServiceUnavailable, errorBody{Error: err.Error()})
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) SnapshotHandler(c echo.Context) error {
	resp, err := request[domain.GetSnapshotResponse](s, domain.GetSnapshotRequest{}, s.requestTimeout)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Snapshot)
}

func (s *Server) LatestSnapshotHandler(c echo.Context) error {
	resp, err := request[domain.GetLatestSnapshotResponse](s, domain.GetLatestSnapshotRequest{}, 5*time.Second)
	if err != nil {
		return unavailable(c, err)
	}
	if resp.Snapshot == nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: "no snapshot taken yet"})
	}
	return c.JSON(http.StatusOK, resp.Snapshot)
}

func (s *Server) ScanRegistersHandler(c echo.Context) error {
	resp, err := request[domain.ScanRegistersResponse](s, domain.ScanRegistersRequest{}, s.requestTimeout)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Rows)
}

func (s *Server) LastScanHandler(c echo.Context) error {
	resp, err := request[domain.GetLastScanResponse](s, domain.GetLastScanRequest{}, 5*time.Second)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Rows)
}

func (s *Server) MetadataHandler(c echo.Context) error {
	resp, err := request[domain.GetMeterInfoResponse](s, domain.GetMeterInfoRequest{}, 5*time.Second)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Metadata)
}

func (s *Server) RelevantHandler(c echo.Context) error {
	resp, err := request[domain.GetMeterInfoResponse](s, domain.GetMeterInfoRequest{}, 5*time.Second)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Relevant)
}

func (s *Server) ConnectionHandler(c echo.Context) error {
	resp, err := request[domain.GetMeterInfoResponse](s, domain.GetMeterInfoRequest{}, 5*time.Second)
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, resp.Connection)
}

func (s *Server) ReconnectHandler(c echo.Context) error {
	resp, err := request[domain.ReconnectResponse](s, domain.ReconnectRequest{}, s.requestTimeout)
	if err != nil {
		return c.JSON(http.StatusBadGateway, struct {
			errorBody
			Connection any `json:"connection"`
		}{errorBody{Error: err.Error()}, resp.Connection})
	}
	return c.JSON(http.StatusOK, resp.Connection)
}
