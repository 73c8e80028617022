package broadcast

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"paperscope/pkg/logging"
	"paperscope/settings"
)

// Pusher protocol constants.
const (
	DefaultAppKey = "cxu73Avj8Kny2gpEQeLqD4fXTVFPhzMR"
	AuthPath      = "api/broadcasting/auth"
	PingInterval  = 30 * time.Second

	// a session without any message for this long is considered dead
	healthTimeout = 2*PingInterval + 10*time.Second
	minBackoff    = time.Second
	maxBackoff    = 30 * time.Second
	eventBuffer   = 32
)

var errStale = errors.New("websocket went quiet")

// Poster is the part of API used for channel authentication.
type Poster interface {
	Post(ctx context.Context, path string, body any, done func(map[string]any))
}

// Event is a message received on a subscribed channel. Channel and Name
// have the "private-" and "client-" prefixes removed.
type Event struct {
	Channel string
	Name    string
	Data    map[string]any
}

type envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Channel keeps a Pusher websocket session alive and subscribed to the
// private channel of the current project.
type Channel struct {
	auth   Poster
	url    string
	clock  clock.Clock
	logger *zap.SugaredLogger

	events chan Event
	resub  chan struct{}

	mu           sync.Mutex
	project      string
	socketID     string
	restartCount int
}

// NewChannel connects to wsURL, see WebsocketURL.
func NewChannel(auth Poster, wsURL string, clk clock.Clock, logger *zap.SugaredLogger) *Channel {
	return &Channel{
		auth:   auth,
		url:    wsURL,
		clock:  clk,
		logger: logging.Named(logger, logging.BROADCAST),
		events: make(chan Event, eventBuffer),
		resub:  make(chan struct{}, 1),
	}
}

// WebsocketURL derives the Pusher endpoint from the API base URL.
func WebsocketURL(apiBase, appKey string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", errors.Wrap(err, "parse api url")
	}
	if u.Host == "" {
		return "", errors.Errorf("api url %q has no host", apiBase)
	}
	scheme := "wss"
	if u.Scheme == "http" || u.Scheme == "ws" {
		scheme = "ws"
	}
	q := url.Values{}
	q.Set("protocol", "7")
	q.Set("client", "js")
	q.Set("version", "8.4.0-rc2")
	q.Set("flash", "false")
	out := url.URL{Scheme: scheme, Host: u.Host, Path: "/app/" + appKey, RawQuery: q.Encode()}
	return out.String(), nil
}

// Events delivers channel messages. Events are dropped when the buffer is
// full.
func (c *Channel) Events() <-chan Event { return c.events }

// Subscribe switches the channel to project id, effective immediately when
// connected.
func (c *Channel) Subscribe(projectID string) {
	c.mu.Lock()
	c.project = projectID
	c.mu.Unlock()
	select {
	case c.resub <- struct{}{}:
	default:
	}
}

// Run keeps the session up until ctx ends, reconnecting with capped
// exponential backoff.
func (c *Channel) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.mu.Lock()
		c.socketID = ""
		c.restartCount++
		attempt := c.restartCount
		c.mu.Unlock()

		delay := backoff(attempt)
		c.logger.Warnw("websocket closed, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(delay):
		}
	}
}

// backoff doubles from minBackoff per attempt up to maxBackoff.
func backoff(attempt int) time.Duration {
	d := minBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func (c *Channel) session(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.CloseNow()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := c.clock.Ticker(PingInterval)
	defer ticker.Stop()
	lastMessage := c.clock.Now()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutdown")
			return ctx.Err()
		case err := <-readErr:
			return errors.Wrap(err, "read")
		case data := <-msgs:
			lastMessage = c.clock.Now()
			c.handle(ctx, conn, data)
		case <-c.resub:
			c.subscribeCurrent(ctx, conn)
		case <-ticker.C:
			if c.clock.Since(lastMessage) > healthTimeout {
				return errStale
			}
			if c.connected() {
				if err := wsjson.Write(ctx, conn, map[string]any{"event": "pusher:ping", "data": map[string]any{}}); err != nil {
					return errors.Wrap(err, "ping")
				}
			}
		}
	}
}

func (c *Channel) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID != ""
}

func (c *Channel) handle(ctx context.Context, conn *websocket.Conn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debugw("unparsable message", "error", err)
		return
	}
	payload := decodeData(env.Data)

	switch {
	case env.Event == "pusher:connection_established":
		id, _ := payload["socket_id"].(string)
		c.mu.Lock()
		c.socketID = id
		c.restartCount = 0
		c.mu.Unlock()
		c.logger.Infow("websocket connected", "socket", id)
		c.subscribeCurrent(ctx, conn)
	case env.Event == "pusher:pong" || strings.HasPrefix(env.Event, "pusher_internal:"):
		c.logger.Debugw("pusher message", "event", env.Event, "channel", env.Channel)
	case env.Event == "pusher:error":
		c.logger.Warnw("pusher error", "data", payload)
	case env.Channel != "":
		ev := Event{
			Channel: strings.TrimPrefix(env.Channel, "private-"),
			Name:    strings.TrimPrefix(env.Event, "client-"),
			Data:    payload,
		}
		select {
		case c.events <- ev:
		default:
			c.logger.Warnw("dropping channel event", "event", ev.Name)
		}
	default:
		c.logger.Debugw("unknown websocket message", "event", env.Event)
	}
}

// decodeData accepts both an object and the JSON-in-a-string encoding
// Pusher uses for most events.
func decodeData(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// subscribeCurrent authenticates and joins the project channel. The auth
// reply arrives asynchronously; the subscribe is written from there.
func (c *Channel) subscribeCurrent(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	project, socketID := c.project, c.socketID
	c.mu.Unlock()
	if project == "" || socketID == "" {
		return
	}
	name := "private-project." + project
	body := map[string]any{"socket_id": socketID, "channel_name": name}
	c.auth.Post(ctx, AuthPath, body, func(resp map[string]any) {
		auth, _ := resp["auth"].(string)
		if auth == "" {
			c.logger.Warnw("channel authentication failed", "channel", name)
			return
		}
		msg := map[string]any{
			"event": "pusher:subscribe",
			"data":  map[string]any{"auth": auth, "channel": name},
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			c.logger.Warnw("subscribe failed", "channel", name, "error", err)
			return
		}
		c.logger.Infow("subscribed", "channel", name)
	})
}

// ProjectRefresher updates the project setting when the server announces
// a change.
type ProjectRefresher struct {
	api    *API
	store  settings.Store
	logger *zap.SugaredLogger
}

// NewProjectRefresher stores refreshed projects in store.
func NewProjectRefresher(api *API, store settings.Store, logger *zap.SugaredLogger) *ProjectRefresher {
	return &ProjectRefresher{api: api, store: store, logger: logging.Named(logger, logging.BROADCAST)}
}

func (p *ProjectRefresher) save(project map[string]any) {
	if err := p.store.Set(settings.KeyProject, project); err != nil {
		p.logger.Warnw("cannot store project", "error", err)
		return
	}
	p.logger.Infow("project refreshed", "ratio", project["ratio"])
}

// Handle reacts to ProjectUpdated events of project channels. Events that
// carry the project are applied directly, others trigger a fetch.
func (p *ProjectRefresher) Handle(ctx context.Context, ev Event) bool {
	if ev.Name != "ProjectUpdated" || !strings.HasPrefix(ev.Channel, "project.") {
		return false
	}
	if project, ok := ev.Data["project"].(map[string]any); ok {
		p.save(project)
		return true
	}
	id := strings.TrimPrefix(ev.Channel, "project.")
	p.api.Get(ctx, "api/project/"+id, func(resp map[string]any) {
		if resp == nil {
			return
		}
		if project, ok := resp["project"].(map[string]any); ok {
			resp = project
		}
		p.save(resp)
	})
	return true
}
