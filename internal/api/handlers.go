package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dokzlo13/lifxd/internal/lifx"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type queryResponse struct {
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields"`
	Light  lifx.Snapshot  `json:"light"`
}

// queries maps URL names to light query methods
var queries = map[string]func(*lifx.Light, ...any) error{
	"state":            (*lifx.Light).GetState,
	"power":            (*lifx.Light).GetPower,
	"label":            (*lifx.Light).GetLabel,
	"hardware":         (*lifx.Light).GetHardware,
	"firmware_version": (*lifx.Light).GetFirmwareVersion,
	"firmware_info":    (*lifx.Light).GetFirmwareInfo,
	"wifi_info":        (*lifx.Light).GetWifiInfo,
	"wifi_version":     (*lifx.Light).GetWifiVersion,
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"lights":   len(s.client.Lights()),
		"queued":   s.client.QueueLen(),
		"pending":  s.client.HandlerLen(),
		"cycle":    s.client.Cycle(),
		"source":   s.client.Source(),
		"datetime": time.Now().UTC(),
	})
}

func (s *Server) discover(c *gin.Context) {
	if err := s.client.Discover(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cycle": s.client.Cycle()})
}

func (s *Server) listLights(c *gin.Context) {
	lights := s.client.Lights()
	out := make([]lifx.Snapshot, 0, len(lights))
	for _, l := range lights {
		out = append(out, l.Snapshot())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getLight(c *gin.Context) {
	l, err := s.client.Lookup(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l.Snapshot())
}

func (s *Server) setState(c *gin.Context) {
	l, err := s.client.Lookup(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	var cmd lifx.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_json", Message: err.Error()})
		return
	}
	if err := l.Apply(cmd); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, l.Snapshot())
}

// query issues a device query and waits for its callback
func (s *Server) query(c *gin.Context) {
	method, ok := queries[c.Param("query")]
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "unknown query " + c.Param("query")})
		return
	}
	l, err := s.client.Lookup(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	type result struct {
		reply *lifx.Reply
		err   error
	}
	done := make(chan result, 1)
	err = method(l, lifx.Callback(func(reply *lifx.Reply, err error) {
		done <- result{reply: reply, err: err}
	}))
	if err != nil {
		writeError(c, err)
		return
	}

	timer := time.NewTimer(s.queryTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			writeError(c, res.err)
			return
		}
		c.JSON(http.StatusOK, queryResponse{
			Type:   res.reply.Type.String(),
			Fields: res.reply.Fields(),
			Light:  l.Snapshot(),
		})
	case <-timer.C:
		writeError(c, lifx.ErrTimeout)
	case <-c.Request.Context().Done():
	}
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifx.ErrUnknownLight):
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, lifx.ErrRange), errors.Is(err, lifx.ErrType):
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_argument", Message: err.Error()})
	case errors.Is(err, lifx.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "timeout", Message: err.Error()})
	case errors.Is(err, lifx.ErrClientClosed), errors.Is(err, lifx.ErrSequenceExhausted):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal", Message: err.Error()})
	}
}
