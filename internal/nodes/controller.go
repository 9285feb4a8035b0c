package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weatherapi-nodeserver/internal/observability"
	"github.com/i474232898/weatherapi-nodeserver/internal/polyglot"
	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

const (
	ControllerAddress   = "controller"
	ControllerNodeDefID = "controller"
	ControllerName      = "Weather Controller"

	ParamAPIKey   = "api_key"
	ParamLocation = "location"

	APIKeyPlaceholder   = "Enter your Weather API key"
	LocationPlaceholder = "Enter location (ZIP, city,state, or lat,lon)"

	noticeAPIKey   = "Please enter your Weather API key"
	noticeLocation = "Please enter a valid location"
)

// Commands accepted by the controller node.
const (
	CmdQuery            = "QUERY"
	CmdDiscover         = "DISCOVER"
	CmdUpdateProfile    = "UPDATE_PROFILE"
	CmdRemoveNoticesAll = "REMOVE_NOTICES_ALL"
)

// ParamsDoc is shown by Polyglot next to the custom parameters.
const ParamsDoc = `# WeatherAPI node server

* **api_key** - your weatherapi.com API key.
* **location** - one of:
  * a ZIP or postal code, e.g. ` + "`80301`" + `
  * a city and state, e.g. ` + "`Denver,CO`" + `
  * a latitude and longitude, e.g. ` + "`40.01,-105.27`" + `

Short polls reuse a reading younger than five minutes. Long polls always query weatherapi.com.
`

// ErrStopRequested is returned by Run after the hub asked the node server to stop.
var ErrStopRequested = errors.New("stop requested by polyglot")

// Options configure a Controller.
type Options struct {
	// APIKey and Location are used when the hub has no value for the parameter.
	APIKey   string
	Location string
	// PollTimeout bounds a single poll, including rate limit waits and retries.
	PollTimeout time.Duration
	// QueueSize is the capacity of the event queue.
	QueueSize int
	Logger    *slog.Logger
}

type eventKind int

const (
	evConfig eventKind = iota + 1
	evParams
	evPoll
	evQuery
	evCommand
	evDiscover
	evStop
	evDelete
)

type event struct {
	kind    eventKind
	config  polyglot.Config
	params  map[string]string
	poll    polyglot.PollKind
	address string
	cmd     polyglot.Command
}

// Controller is the primary node. It owns the weather node and serialises every
// hub message and poll through Run.
type Controller struct {
	node
	svc    WeatherService
	logger *slog.Logger
	opts   Options
	events chan event
	online atomic.Bool

	// Owned by the Run goroutine.
	params     map[string]string
	configured bool
	restored   bool
	// paramsSeen is set once Polyglot has sent the stored customparams.
	paramsSeen bool
	weather    *WeatherNode
}

// NewController creates the controller node.
func NewController(hub Hub, svc WeatherService, metrics *observability.Metrics, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &Controller{
		node: newNode(hub, metrics, polyglot.NodeDef{
			Address:     ControllerAddress,
			Name:        ControllerName,
			NodeDefID:   ControllerNodeDefID,
			PrimaryNode: ControllerAddress,
			Drivers:     []polyglot.Driver{{Driver: "ST", Value: "0", UOM: polyglot.UOMBoolean}},
		}),
		svc:    svc,
		logger: opts.Logger.With("node", ControllerAddress),
		opts:   opts,
		events: make(chan event, opts.QueueSize),
	}
}

// Handlers returns the Polyglot handlers that feed the controller queue.
func (c *Controller) Handlers() polyglot.Handlers {
	return polyglot.Handlers{
		OnConfig:       func(cfg polyglot.Config) { c.enqueue(event{kind: evConfig, config: cfg}) },
		OnCustomParams: func(p map[string]string) { c.enqueue(event{kind: evParams, params: p}) },
		OnQuery:        func(addr string) { c.enqueue(event{kind: evQuery, address: addr}) },
		OnCommand:      func(cmd polyglot.Command) { c.enqueue(event{kind: evCommand, cmd: cmd}) },
		OnPoll:         c.Poll,
		OnDiscover:     func() { c.enqueue(event{kind: evDiscover}) },
		OnStop:         func() { c.enqueue(event{kind: evStop}) },
		OnDelete:       func() { c.enqueue(event{kind: evDelete}) },
	}
}

// Poll queues a short or long poll. It is also called by the local scheduler.
func (c *Controller) Poll(kind polyglot.PollKind) {
	c.enqueue(event{kind: evPoll, poll: kind})
}

// Online reports the controller ST value.
func (c *Controller) Online() bool {
	return c.online.Load()
}

func (c *Controller) enqueue(ev event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("controller queue full, dropping event", "event", int(ev.kind))
	}
}

// Run starts the controller and processes events until ctx is cancelled or the
// hub sends stop or delete. The controller is left offline on return.
func (c *Controller) Run(ctx context.Context) error {
	c.start(ctx)
	defer c.setOnline(false)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller shutting down")
			return nil
		case ev := <-c.events:
			if err := c.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) start(ctx context.Context) {
	c.logger.Info("starting weatherapi node server controller")
	if err := c.hub.SetCustomParamsDoc(ParamsDoc); err != nil {
		c.logger.Warn("failed to publish custom params doc", "error", err)
	}
	if err := c.reportDrivers(); err != nil {
		c.logger.Warn("failed to report controller drivers", "error", err)
	}
	c.applyParams(ctx, nil)
}

func (c *Controller) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case evConfig:
		c.logger.Info("received config",
			"short_poll_s", ev.config.ShortPoll,
			"long_poll_s", ev.config.LongPoll,
			"nodes", len(ev.config.Nodes),
		)
	case evParams:
		params := ev.params
		if params == nil {
			params = map[string]string{}
		}
		c.applyParams(ctx, params)
	case evPoll:
		c.poll(ctx, ev.poll)
	case evQuery:
		c.query(ev.address)
	case evCommand:
		c.command(ev.cmd)
	case evDiscover:
		c.discover()
	case evStop:
		c.logger.Info("stop received from polyglot")
		c.setOnline(false)
		return ErrStopRequested
	case evDelete:
		c.logger.Info("node server deleted from polyglot")
		c.setOnline(false)
		return ErrStopRequested
	}
	return nil
}

// applyParams stores the hub parameters and re-checks the configuration.
// Placeholders wait for the stored parameters so a saved key is never replaced.
func (c *Controller) applyParams(ctx context.Context, params map[string]string) {
	if params != nil {
		c.params = maps.Clone(params)
		c.paramsSeen = true
	}

	missing := map[string]string{}
	if _, ok := c.params[ParamAPIKey]; !ok && c.opts.APIKey == "" {
		missing[ParamAPIKey] = APIKeyPlaceholder
	}
	if _, ok := c.params[ParamLocation]; !ok && c.opts.Location == "" {
		missing[ParamLocation] = LocationPlaceholder
	}
	if c.paramsSeen && len(missing) > 0 {
		out := maps.Clone(c.params)
		if out == nil {
			out = map[string]string{}
		}
		maps.Copy(out, missing)
		if err := c.hub.SetCustomParams(out); err != nil {
			c.logger.Warn("failed to publish default params", "error", err)
		}
	}

	if !c.checkConfig() {
		return
	}
	if !c.restored {
		if err := c.svc.Restore(ctx); err != nil {
			c.logger.Warn("could not restore last reading", "error", err)
		}
		c.restored = true
	}
	c.discover()
	c.poll(ctx, polyglot.ShortPoll)
}

// param returns the hub value for key, falling back to the environment default.
func (c *Controller) param(key, fallback string) string {
	if v := strings.TrimSpace(c.params[key]); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

// checkConfig validates the parameters, posts notices for what is missing and
// configures the weather service. ST follows the result.
func (c *Controller) checkConfig() bool {
	if err := c.hub.RemoveNoticesAll(); err != nil {
		c.logger.Warn("failed to clear notices", "error", err)
	}

	apiKey := c.param(ParamAPIKey, c.opts.APIKey)
	location := c.param(ParamLocation, c.opts.Location)
	ok := true

	if apiKey == "" || apiKey == APIKeyPlaceholder {
		c.logger.Error("api key is not set")
		c.notice(ParamAPIKey, noticeAPIKey)
		ok = false
	}
	switch {
	case location == "" || location == LocationPlaceholder:
		c.logger.Error("location is not set")
		c.notice(ParamLocation, noticeLocation)
		ok = false
	default:
		if _, err := weather.ParseLocation(location); err != nil {
			c.logger.Error("location is invalid", "location", location, "error", err)
			c.notice(ParamLocation, fmt.Sprintf("%s: %q is not a ZIP code, City,State or lat,lon", noticeLocation, location))
			ok = false
		}
	}

	if ok {
		if err := c.svc.Configure(apiKey, location); err != nil {
			c.logger.Error("failed to configure weather service", "error", err)
			ok = false
		}
	}

	c.configured = ok
	c.setOnline(ok)
	return ok
}

func (c *Controller) notice(key, text string) {
	if err := c.hub.AddNotice(key, text); err != nil {
		c.logger.Warn("failed to publish notice", "key", key, "error", err)
	}
}

// discover adds the weather node once the configuration is valid.
func (c *Controller) discover() {
	if !c.configured {
		c.logger.Warn("discover skipped, configuration is incomplete")
		return
	}
	if c.weather != nil {
		return
	}
	w := NewWeatherNode(c.hub, c.svc, c.metrics, c.logger)
	if err := c.hub.AddNode(w.Def()); err != nil {
		c.logger.Error("failed to add weather node", "error", err)
		return
	}
	c.weather = w
	c.logger.Info("weather node added", "address", w.Address())
}

func (c *Controller) poll(ctx context.Context, kind polyglot.PollKind) {
	if !c.configured {
		c.logger.Debug("poll skipped, configuration is incomplete", "poll", kind.String())
		return
	}
	if c.weather == nil {
		c.discover()
		if c.weather == nil {
			return
		}
	}

	logger := c.logger.With("poll_id", uuid.NewString(), "poll", kind.String())
	pctx, cancel := context.WithTimeout(ctx, c.opts.PollTimeout)
	defer cancel()

	start := time.Now()
	if err := c.weather.Poll(pctx, kind); err != nil {
		logger.Error("weather update failed", "error", err)
		c.setOnline(false)
		return
	}
	logger.Debug("weather updated", "duration", time.Since(start))
	c.setOnline(true)
}

func (c *Controller) query(address string) {
	var errs []error
	if address == "" || address == ControllerAddress {
		errs = append(errs, c.reportDrivers())
		if c.weather != nil {
			errs = append(errs, c.weather.Query())
		}
	} else if address == WeatherAddress && c.weather != nil {
		errs = append(errs, c.weather.Query())
	} else {
		c.logger.Warn("query for unknown node", "address", address)
	}
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("query failed", "address", address, "error", err)
	}
}

func (c *Controller) command(cmd polyglot.Command) {
	c.logger.Debug("command received", "address", cmd.Address, "cmd", cmd.Cmd)
	switch cmd.Cmd {
	case CmdQuery:
		c.query(cmd.Address)
	case CmdDiscover:
		c.discover()
	case CmdUpdateProfile:
		if err := c.hub.UpdateProfile(); err != nil {
			c.logger.Error("profile update failed", "error", err)
		}
	case CmdRemoveNoticesAll:
		if err := c.hub.RemoveNoticesAll(); err != nil {
			c.logger.Warn("failed to clear notices", "error", err)
		}
	default:
		c.logger.Warn("unknown command", "address", cmd.Address, "cmd", cmd.Cmd)
	}
}

func (c *Controller) setOnline(v bool) {
	value := "0"
	if v {
		value = "1"
	}
	c.online.Store(v)
	if v {
		c.metrics.ControllerOnline.Set(1)
	} else {
		c.metrics.ControllerOnline.Set(0)
	}
	if err := c.setDriver("ST", value, "", false); err != nil {
		c.logger.Warn("failed to publish controller status", "error", err)
	}
}
