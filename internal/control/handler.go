package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/config"
)

// Client is the subset of mqtt.Client the handler uses
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// CommandCallbacks contains callback functions for commands
type CommandCallbacks struct {
	OnGetStatus func() map[string]interface{}
	OnPlay      func() error
	OnPause     func() error
	OnRewind    func() error
	OnSeek      func(positionUs int64) error
	OnConfigure func(mediaPath, eventLogPath, metadataPath string) error
	OnShutdown  func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      *config.Config
	client   Client
	commands chan Command

	// shutdownDelay lets the shutdown response leave before the callback runs
	shutdownDelay time.Duration

	mu        sync.Mutex
	stopped   bool
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg *config.Config, client Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:           cfg,
		client:        client,
		commands:      make(chan Command, 10),
		shutdownDelay: 500 * time.Millisecond,
		callbacks:     callbacks,
	}
}

// Start subscribes to the control topic and processes commands until ctx ends
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.MQTT.Topics.Control
	qos := h.cfg.MQTT.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes and stops command processing
func (h *Handler) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	close(h.commands)
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.MQTT.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.handleCommand(cmd)
		}
	}
}

// handleCommand executes a command
func (h *Handler) handleCommand(cmd Command) {
	var resp Response
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if h.callbacks.OnGetStatus != nil {
			resp.Status = "success"
			resp.Data = h.callbacks.OnGetStatus()
		} else {
			resp.Status = "error"
			resp.Error = "get_status not implemented"
		}

	case "play":
		h.simple(&resp, h.callbacks.OnPlay, map[string]interface{}{"reading": true})

	case "pause":
		h.simple(&resp, h.callbacks.OnPause, map[string]interface{}{"reading": false})

	case "rewind":
		h.simple(&resp, h.callbacks.OnRewind, map[string]interface{}{"position_us": 0})

	case "seek":
		if h.callbacks.OnSeek == nil {
			resp.Status = "error"
			resp.Error = "seek not implemented"
			break
		}
		// JSON numbers decode as float64; float64(MaxInt64) rounds up to 2^63
		pos, ok := cmd.Params["position_us"].(float64)
		if !ok || pos < 0 || pos >= math.MaxInt64 {
			resp.Status = "error"
			resp.Error = "missing or invalid 'position_us' parameter (expected non-negative int64)"
			break
		}
		if err := h.callbacks.OnSeek(int64(pos)); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{"position_us": int64(pos)}

	case "configure":
		if h.callbacks.OnConfigure == nil {
			resp.Status = "error"
			resp.Error = "configure not implemented"
			break
		}
		mediaPath, okMedia := cmd.Params["media_path"].(string)
		logPath, okLog := cmd.Params["event_log_path"].(string)
		metaPath, okMeta := cmd.Params["metadata_path"].(string)
		if !okMedia || !okLog || !okMeta {
			resp.Status = "error"
			resp.Error = "configure requires 'media_path', 'event_log_path' and 'metadata_path' (strings)"
			break
		}
		if err := h.callbacks.OnConfigure(mediaPath, logPath, metaPath); err != nil {
			resp.Status = "error"
			resp.Error = err.Error()
			break
		}
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"media_path": mediaPath,
			"message":    "session configured (paused at 0)",
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			resp.Status = "error"
			resp.Error = "shutdown not implemented"
			break
		}
		slog.Warn("shutdown command received via MQTT control plane")
		resp.Status = "success"
		resp.Data = map[string]interface{}{
			"shutdown_initiated": true,
			"message":            "graceful shutdown in progress",
		}
		// Respond before triggering shutdown
		h.sendResponse(resp)

		go func() {
			time.Sleep(h.shutdownDelay)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	h.sendResponse(resp)
}

func (h *Handler) simple(resp *Response, fn func() error, data map[string]interface{}) {
	if fn == nil {
		resp.Status = "error"
		resp.Error = resp.CommandAck + " not implemented"
		return
	}
	if err := fn(); err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
	resp.Data = data
}

// sendResponse publishes a response on the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	topic := h.cfg.MQTT.Topics.Status
	qos := h.cfg.MQTT.QoS["status"]

	token := h.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
