package websocket

import (
	"encoding/json"
	"fmt"

	"booth/internal/logger"
	"booth/internal/service/params"

	"github.com/gorilla/websocket"
)

// Message is the JSON envelope of the control channel.
type Message struct {
	Type   string `json:"type"`
	Data   any    `json:"data,omitempty"`
	ID     string `json:"id,omitempty"`
	Value  any    `json:"value,omitempty"`
	Action string `json:"action,omitempty"`
}

// Message types.
const (
	TypeParams  = "params"
	TypeScene   = "scene"
	TypeJob     = "job"
	TypeSlider  = "slider"
	TypeTrigger = "trigger"
	TypeError   = "error"

	ActionRecord = "record"
)

// CaptureFunc requests a recording and returns the response payload.
type CaptureFunc func() any

// ControlService implements the remote-control protocol on top of a hub:
// sliders update runtime params, triggers start a capture and scene or job
// changes are pushed to every control client.
type ControlService struct {
	hub     *HubService
	params  *params.Store
	capture CaptureFunc
	logger  *logger.Logger
}

// NewControlService creates a control service. SetCapture must be called
// before record triggers are accepted.
func NewControlService(hub *HubService, store *params.Store, logger *logger.Logger) *ControlService {
	return &ControlService{hub: hub, params: store, logger: logger}
}

// SetCapture installs the capture callback.
func (c *ControlService) SetCapture(fn CaptureFunc) {
	c.capture = fn
}

// Hub returns the underlying hub.
func (c *ControlService) Hub() *HubService {
	return c.hub
}

// Welcome sends the current parameters to a newly registered client.
func (c *ControlService) Welcome(client *websocket.Conn) {
	if data, err := encode(TypeParams, c.params.Snapshot()); err == nil {
		c.hub.SendTo(client, data)
	}
}

// HandleMessage applies one client message.
func (c *ControlService) HandleMessage(client *websocket.Conn, raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warning("Invalid control message: %v", err)
		c.reply(client, TypeError, "invalid message")
		return
	}

	switch msg.Type {
	case TypeSlider:
		if err := c.params.Set(msg.ID, msg.Value); err != nil {
			c.reply(client, TypeError, err.Error())
			return
		}
		c.logger.Info("Param %s set to %v", msg.ID, msg.Value)
	case TypeTrigger:
		if msg.Action != ActionRecord {
			c.reply(client, TypeError, fmt.Sprintf("unknown action %q", msg.Action))
			return
		}
		if c.capture == nil {
			c.reply(client, TypeError, "capture unavailable")
			return
		}
		c.JobUpdate(c.capture())
	default:
		c.reply(client, TypeError, fmt.Sprintf("unknown type %q", msg.Type))
		return
	}

	c.BroadcastParams()
}

// BroadcastParams pushes the full parameter set to every client.
func (c *ControlService) BroadcastParams() {
	c.publish(TypeParams, c.params.Snapshot())
}

// SetScene announces the on-screen scene.
func (c *ControlService) SetScene(name string) {
	c.publish(TypeScene, name)
}

// JobUpdate announces a job status change.
func (c *ControlService) JobUpdate(status any) {
	c.publish(TypeJob, status)
}

func (c *ControlService) publish(kind string, data any) {
	payload, err := encode(kind, data)
	if err != nil {
		c.logger.Error("Failed to encode %s message: %v", kind, err)
		return
	}
	c.hub.Broadcast(payload)
}

func (c *ControlService) reply(client *websocket.Conn, kind string, data any) {
	if payload, err := encode(kind, data); err == nil {
		c.hub.SendTo(client, payload)
	}
}

func encode(kind string, data any) ([]byte, error) {
	return json.Marshal(Message{Type: kind, Data: data})
}
