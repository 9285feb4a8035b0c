package polyglot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
)

// Transport carries raw payloads between the node server and Polyglot.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, handler func(payload []byte)) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

// Handlers receive the messages Polyglot sends to the node server. Handlers run on
// the transport's goroutine and must not block on I/O.
type Handlers struct {
	OnConfig       func(Config)
	OnCustomParams func(map[string]string)
	OnQuery        func(address string)
	OnCommand      func(Command)
	OnPoll         func(PollKind)
	OnDiscover     func()
	OnStop         func()
	OnDelete       func()
}

var errNoTransport = errors.New("polyglot transport not configured")

// Interface speaks the Polyglot v3 message envelope on top of a Transport.
type Interface struct {
	id      string
	tr      Transport
	logger  *slog.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	handlers Handlers
	notices  map[string]string
}

// NewInterface builds an Interface for the node server id "<uuid>_<profileNum>".
func NewInterface(id string, tr Transport, metrics *observability.Metrics, logger *slog.Logger) *Interface {
	return &Interface{
		id:      id,
		tr:      tr,
		logger:  logger.With("component", "polyglot"),
		metrics: metrics,
		notices: make(map[string]string),
	}
}

// ID returns the node server id used in topics.
func (p *Interface) ID() string { return p.id }

// InputTopic is where Polyglot publishes messages for this node server.
func (p *Interface) InputTopic() string {
	return "udi/pg3/ns/clients/" + p.id
}

func (p *Interface) outputTopic(kind string) string {
	return fmt.Sprintf("udi/pg3/ns/%s/%s", kind, p.id)
}

// SetHandlers installs the message handlers. Call before Start.
func (p *Interface) SetHandlers(h Handlers) {
	p.mu.Lock()
	p.handlers = h
	p.mu.Unlock()
}

// Start connects the transport and subscribes to the input topic.
func (p *Interface) Start(ctx context.Context) error {
	if p.tr == nil {
		return errNoTransport
	}
	if err := p.tr.Subscribe(p.InputTopic(), p.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", p.InputTopic(), err)
	}
	if err := p.tr.Connect(ctx); err != nil {
		return err
	}
	p.logger.Info("connected to polyglot", "id", p.id)
	return nil
}

// Connected reports whether the transport is up.
func (p *Interface) Connected() bool {
	return p.tr != nil && p.tr.IsConnected()
}

// Stop disconnects from Polyglot.
func (p *Interface) Stop() {
	if p.tr != nil {
		p.tr.Disconnect()
	}
}

// HandleMessage decodes one incoming payload and dispatches each top-level key.
func (p *Interface) HandleMessage(payload []byte) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.logger.Warn("failed to parse polyglot message", "error", err, "payload", string(payload))
		return
	}

	p.mu.RLock()
	h := p.handlers
	p.mu.RUnlock()

	for key, raw := range msg {
		p.metrics.HubMessages.WithLabelValues("in", key).Inc()
		p.logger.Debug("received polyglot message", "kind", key, "size", len(raw))

		switch key {
		case "config":
			var cfg Config
			if err := json.Unmarshal(raw, &cfg); err != nil {
				p.logger.Warn("invalid config message", "error", err)
				continue
			}
			if h.OnConfig != nil {
				h.OnConfig(cfg)
			}
		case "customparams":
			params, err := decodeParams(raw)
			if err != nil {
				p.logger.Warn("invalid customparams message", "error", err)
				continue
			}
			if h.OnCustomParams != nil {
				h.OnCustomParams(params)
			}
		case "query":
			var q struct {
				Address string `json:"address"`
			}
			_ = json.Unmarshal(raw, &q)
			if h.OnQuery != nil {
				h.OnQuery(q.Address)
			}
		case "command":
			var cmd Command
			if err := json.Unmarshal(raw, &cmd); err != nil || cmd.Cmd == "" {
				p.logger.Warn("invalid command message", "error", err, "payload", string(raw))
				continue
			}
			if h.OnCommand != nil {
				h.OnCommand(cmd)
			}
		case "shortPoll":
			if h.OnPoll != nil {
				h.OnPoll(ShortPoll)
			}
		case "longPoll":
			if h.OnPoll != nil {
				h.OnPoll(LongPoll)
			}
		case "discover":
			if h.OnDiscover != nil {
				h.OnDiscover()
			}
		case "stop":
			if h.OnStop != nil {
				h.OnStop()
			}
		case "delete":
			if h.OnDelete != nil {
				h.OnDelete()
			}
		default:
			p.logger.Debug("ignoring polyglot message", "kind", key)
		}
	}
}

func (p *Interface) send(kind string, v any) error {
	if p.tr == nil {
		return errNoTransport
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", kind, err)
	}
	if err := p.tr.Publish(p.outputTopic(kind), data); err != nil {
		return fmt.Errorf("publish %s message: %w", kind, err)
	}
	p.metrics.HubMessages.WithLabelValues("out", kind).Inc()
	return nil
}

// SetDriver publishes a single driver value for a node.
func (p *Interface) SetDriver(address string, d Driver) error {
	return p.ReportDrivers(address, []Driver{d})
}

// ReportDrivers publishes several driver values for a node in one message.
func (p *Interface) ReportDrivers(address string, drivers []Driver) error {
	if len(drivers) == 0 {
		return nil
	}
	set := make([]driverSet, 0, len(drivers))
	for _, d := range drivers {
		set = append(set, driverSet{Address: address, Driver: d})
	}
	return p.send(KindStatus, map[string]any{"set": set})
}

// AddNode asks Polyglot to create a node.
func (p *Interface) AddNode(n NodeDef) error {
	return p.send(KindCommand, map[string]any{"addnode": []NodeDef{n}})
}

// UpdateProfile asks Polyglot to reinstall the node server profile on the hub.
func (p *Interface) UpdateProfile() error {
	return p.send(KindCommand, map[string]any{"installprofile": map[string]bool{"reboot": false}})
}

// SetCustomParams replaces the custom parameters shown in the Polyglot UI.
func (p *Interface) SetCustomParams(params map[string]string) error {
	return p.send(KindCustom, map[string]any{"set": []keyValue{{Key: "customparams", Value: params}}})
}

// SetCustomParamsDoc publishes the markdown help shown next to the custom parameters.
func (p *Interface) SetCustomParamsDoc(doc string) error {
	return p.send(KindCustom, map[string]any{"set": []keyValue{{Key: "customparamsdoc", Value: doc}}})
}

// AddNotice shows a notice in the Polyglot UI.
func (p *Interface) AddNotice(key, text string) error {
	p.mu.Lock()
	p.notices[key] = text
	snapshot := p.noticesLocked()
	p.mu.Unlock()
	return p.sendNotices(snapshot)
}

// RemoveNotice removes one notice.
func (p *Interface) RemoveNotice(key string) error {
	p.mu.Lock()
	delete(p.notices, key)
	snapshot := p.noticesLocked()
	p.mu.Unlock()
	return p.sendNotices(snapshot)
}

// RemoveNoticesAll clears every notice.
func (p *Interface) RemoveNoticesAll() error {
	p.mu.Lock()
	p.notices = make(map[string]string)
	p.mu.Unlock()
	return p.sendNotices(map[string]string{})
}

// Notices returns the keys of the notices currently shown, sorted.
func (p *Interface) Notices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.notices))
	for k := range p.notices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Interface) noticesLocked() map[string]string {
	out := make(map[string]string, len(p.notices))
	for k, v := range p.notices {
		out[k] = v
	}
	return out
}

func (p *Interface) sendNotices(notices map[string]string) error {
	return p.send(KindCustom, map[string]any{"set": []keyValue{{Key: "notices", Value: notices}}})
}
