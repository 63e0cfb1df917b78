package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"mcp-core/internal/handler"
	"mcp-core/internal/mcp"
	"mcp-core/internal/message"
	"mcp-core/internal/queue"
	"mcp-core/internal/router"
	"mcp-core/internal/signal"
	"mcp-core/internal/state"
	"mcp-core/pkg/db"
)

// respond writes the common {"status", "message", "id"} envelope.
func respond(c *gin.Context, code int, msg, id string) {
	body := gin.H{"status": "success", "message": msg}
	if code >= http.StatusBadRequest {
		body["status"] = "error"
	}
	if id != "" {
		body["id"] = id
	}
	c.JSON(code, body)
}

func respondError(c *gin.Context, err error) {
	respond(c, statusFor(err), err.Error(), "")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, mcp.ErrNoRouter), errors.Is(err, queue.ErrUnknownQueue):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrSignalNotFound), errors.Is(err, db.ErrNotFound),
		errors.Is(err, handler.ErrHandlerNotFound):
		return http.StatusNotFound
	case errors.Is(err, signal.ErrTerminalStatus):
		return http.StatusConflict
	case errors.Is(err, router.ErrNoAvailableBrokers), errors.Is(err, router.ErrBrokerUnavailable):
		return http.StatusConflict
	case errors.Is(err, message.ErrInvalidPayload), errors.Is(err, handler.ErrMissingType),
		errors.Is(err, router.ErrUnknownStrategy),
		errors.Is(err, signal.ErrMissingSymbol), errors.Is(err, signal.ErrInvalidSide),
		errors.Is(err, signal.ErrInvalidPrice), errors.Is(err, signal.ErrInvalidStatus):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// readRaw decodes a JSON object body, keeping numbers exact.
func readRaw(c *gin.Context) (handler.Raw, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(body)))
	dec.UseNumber()
	var raw handler.Raw
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return nil, errors.Join(message.ErrInvalidPayload, errors.New("body must be a JSON object"))
	}
	return raw, nil
}

type signalSubmitter interface {
	Submit(ctx context.Context, raw handler.Raw) (*signal.TradeSignal, error)
}

// tradingViewWebhook accepts a TradingView alert body. TradingView may send
// the JSON as text/plain, so the content type is not checked.
func (s *Server) tradingViewWebhook(c *gin.Context) {
	raw, err := readRaw(c)
	if err != nil {
		respondError(c, err)
		return
	}
	h, ok := s.MCP.Handlers().Handler(handler.TradingViewID)
	if !ok {
		respondError(c, handler.ErrHandlerNotFound)
		return
	}
	tv, ok := h.(signalSubmitter)
	if !ok {
		if err := h.HandleMessage(c.Request.Context(), raw); err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusAccepted, "signal accepted", "")
		return
	}
	sig, err := tv.Submit(c.Request.Context(), raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("tradingview webhook rejected")
		respondError(c, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.IncrementSignals()
	}
	respond(c, http.StatusAccepted, "signal accepted", sig.ID)
}

// postMessage classifies a generic message onto its queue. The sending
// client is taken from X-Client-ID.
func (s *Server) postMessage(c *gin.Context) {
	raw, err := readRaw(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if t, _ := raw["type"].(string); strings.TrimSpace(t) == "" {
		respondError(c, handler.ErrMissingType)
		return
	}
	clientID := c.GetHeader("X-Client-ID")
	if clientID == "" {
		clientID = "http:" + c.ClientIP()
	}
	res, err := s.MCP.HandleClientMessage(c.Request.Context(), clientID, raw)
	if err != nil {
		respondError(c, err)
		return
	}
	if res == nil {
		respond(c, http.StatusOK, "handled", "")
		return
	}
	respond(c, http.StatusAccepted, "queued on "+res.Queue, res.MessageID)
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.MCP.Status())
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respond(c, http.StatusServiceUnavailable, "metrics not available", "")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) getQueues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queues": s.MCP.Queues().Stats()})
}

// listSignals returns the cached active signals, or stored signals of the
// requested status when a database is configured.
func (s *Server) listSignals(c *gin.Context) {
	status := strings.ToLower(c.Query("status"))
	if status == "" || status == string(signal.StatusActive) {
		views := make([]signal.View, 0)
		for _, sig := range s.MCP.Signals().ActiveSignals() {
			views = append(views, sig.View())
		}
		c.JSON(http.StatusOK, gin.H{"signals": views, "count": len(views)})
		return
	}
	if _, err := signal.ParseStatus(status); err != nil && status != "all" {
		respondError(c, err)
		return
	}
	if s.DB == nil {
		respond(c, http.StatusServiceUnavailable, "storage not available", "")
		return
	}
	if status == "all" {
		status = ""
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	stored, err := s.DB.ListSignals(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]signal.View, 0, len(stored))
	for _, sig := range stored {
		views = append(views, sig.View())
	}
	c.JSON(http.StatusOK, gin.H{"signals": views, "count": len(views)})
}

func (s *Server) getSignal(c *gin.Context) {
	sig, err := s.MCP.Signals().Signal(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sig.View())
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	PnL    any    `json:"pnl"`
}

func (s *Server) updateSignalStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Join(message.ErrInvalidPayload, err))
		return
	}
	status, err := signal.ParseStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	pnl, err := signal.ParsePrice(req.PnL)
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("id")
	ok, err := s.MCP.Signals().UpdateSignalStatus(c.Request.Context(), id, status, pnl)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, state.ErrSignalNotFound)
		return
	}
	respond(c, http.StatusOK, "status updated to "+string(status), id)
}

type routingRequest struct {
	SignalID string `json:"signalId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	Strategy string `json:"strategy"`
}

func (s *Server) routeSignal(c *gin.Context) {
	var req routingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Join(message.ErrInvalidPayload, err))
		return
	}
	strategy, err := router.ParseStrategy(req.Strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := s.MCP.RouteSignal(c.Request.Context(), req.SignalID, req.UserID, strategy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listRouting(c *gin.Context) {
	if s.DB == nil {
		respond(c, http.StatusServiceUnavailable, "storage not available", "")
		return
	}
	records, err := s.DB.ListRoutingResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routing": records, "count": len(records)})
}

// systemCommand queues a command for the system processor.
func (s *Server) systemCommand(c *gin.Context) {
	cmd := strings.ToLower(c.Param("command"))
	msg := message.New(message.PriorityHighest, message.SystemPayload{Command: cmd},
		message.WithSource("http:"+c.ClientIP()))
	if err := s.MCP.Queues().Enqueue(message.QueueSystem, msg); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "command "+cmd+" queued", msg.ID)
}
