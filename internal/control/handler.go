// Package control implements the MQTT control plane: remote open, close,
// retry and status commands for try-on sessions.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/meit-swami/jewellery/internal/config"
)

// Command represents a control plane command
type Command struct {
	Command string `json:"command"`
	Params  Params `json:"params"`
}

// Params carries the session addressed by a command.
type Params struct {
	ViewerID string `json:"viewer_id,omitempty"`
	Category string `json:"category,omitempty"`
	ModelURL string `json:"model_url,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string `json:"command_ack"`
	Status     string `json:"status"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// CommandCallbacks connect commands to the session manager.
type CommandCallbacks struct {
	OnOpen      func(ctx context.Context, p Params) (any, error)
	OnClose     func(viewerID string) error
	OnRetry     func(ctx context.Context, viewerID string) error
	OnGetStatus func() any
	OnSnapshot  func(viewerID string) (string, error)
	OnShutdown  func() error
}

// Handler handles control plane commands
type Handler struct {
	cfg      config.MQTTConfig
	client   mqtt.Client
	commands chan Command

	callbacks CommandCallbacks

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// Start subscribes to the control topic and processes commands until ctx
// is done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("control: handler already started")
	}

	topic := h.cfg.Topics.Control
	slog.Info("control: subscribing", "topic", topic, "qos", h.cfg.QoS)

	token := h.client.Subscribe(topic, h.cfg.QoS, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control: subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control: subscription failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.started = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processCommands(ctx)
	}()

	slog.Info("control: handler started")
	return nil
}

// Stop unsubscribes and waits for the command goroutine. Idempotent.
func (h *Handler) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.started = false
	cancel := h.cancel
	h.mu.Unlock()

	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	cancel()
	h.wg.Wait()

	slog.Info("control: handler stopped")
	return nil
}

// messageHandler is called by the MQTT client for each control message.
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("control: failed to parse command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control: command received", "command", cmd.Command, "viewer_id", cmd.Params.ViewerID)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("control: command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		}
	}
}

// handleCommand executes a command and publishes its acknowledgement.
func (h *Handler) handleCommand(ctx context.Context, cmd Command) {
	resp := Response{CommandAck: cmd.Command}

	fail := func(err error) {
		resp.Status = "error"
		resp.Error = err.Error()
	}
	needViewer := func() bool {
		if cmd.Params.ViewerID == "" {
			fail(fmt.Errorf("missing 'viewer_id' parameter"))
			return false
		}
		return true
	}
	unimplemented := func() {
		fail(fmt.Errorf("%s not implemented", cmd.Command))
	}

	switch cmd.Command {
	case "open":
		switch {
		case h.callbacks.OnOpen == nil:
			unimplemented()
		case !needViewer():
		default:
			data, err := h.callbacks.OnOpen(ctx, cmd.Params)
			if err != nil {
				fail(err)
				break
			}
			resp.Status = "success"
			resp.Data = data
		}

	case "close":
		switch {
		case h.callbacks.OnClose == nil:
			unimplemented()
		case !needViewer():
		default:
			if err := h.callbacks.OnClose(cmd.Params.ViewerID); err != nil {
				fail(err)
				break
			}
			resp.Status = "success"
			resp.Data = map[string]any{"viewer_id": cmd.Params.ViewerID, "closed": true}
		}

	case "retry":
		switch {
		case h.callbacks.OnRetry == nil:
			unimplemented()
		case !needViewer():
		default:
			if err := h.callbacks.OnRetry(ctx, cmd.Params.ViewerID); err != nil {
				fail(err)
				break
			}
			resp.Status = "success"
			resp.Data = map[string]any{"viewer_id": cmd.Params.ViewerID, "retrying": true}
		}

	case "get_status":
		if h.callbacks.OnGetStatus == nil {
			unimplemented()
			break
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case "snapshot":
		switch {
		case h.callbacks.OnSnapshot == nil:
			unimplemented()
		case !needViewer():
		default:
			path, err := h.callbacks.OnSnapshot(cmd.Params.ViewerID)
			if err != nil {
				fail(err)
				break
			}
			resp.Status = "success"
			resp.Data = map[string]any{"path": path}
		}

	case "shutdown":
		if h.callbacks.OnShutdown == nil {
			unimplemented()
			break
		}
		slog.Warn("control: shutdown command received")
		resp.Status = "success"
		resp.Data = map[string]any{"shutdown_initiated": true}
		// Acknowledge before the daemon starts tearing down.
		h.sendResponse(resp)
		go func() {
			time.Sleep(500 * time.Millisecond)
			if err := h.callbacks.OnShutdown(); err != nil {
				slog.Error("control: shutdown callback failed", "error", err)
			}
		}()
		return

	default:
		fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	h.sendResponse(resp)
}

// sendResponse publishes resp on the status topic.
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("control: failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Status, h.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("control: response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("control: failed to publish response", "error", err)
		return
	}

	slog.Debug("control: response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
