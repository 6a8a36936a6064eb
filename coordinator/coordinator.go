package coordinator

import (
	"context"
	"errors"
	"net/http"
	"time"

	"synapse/syncer"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultRetryDelay   = 10 * time.Second
	DefaultMailboxSize  = 64
)

// ErrStopped is returned when posting to a coordinator that has shut down.
var ErrStopped = errors.New("coordinator stopped")

// Port is one connected tab. Send is called from the coordinator loop and
// must not block; a slow tab should drop or buffer on its own side.
type Port interface {
	ID() string
	Send(msg Message) error
}

// Puller fetches and applies remote changes for one user. *syncer.Engine
// satisfies it.
type Puller interface {
	Pull(ctx context.Context) (*syncer.PullResult, error)
	UserID() string
}

type Options struct {
	PollInterval time.Duration
	RetryDelay   time.Duration
	MailboxSize  int
}

type eventKind int

const (
	evMessage eventKind = iota
	evConnect
	evDisconnect
	evPullDone
)

type event struct {
	kind   eventKind
	from   string
	port   Port
	msg    Message
	result *syncer.PullResult
	err    error
	retry  bool // the finished pull was the network retry
}

// Coordinator is the per-device actor that owns the remote poll and fans
// results out to every connected tab. All of its state lives in the run
// goroutine; the outside world talks to it only through the mailbox.
type Coordinator struct {
	puller  Puller
	opts    Options
	mailbox chan event

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a coordinator. Start must be called before messages are
// processed; until then posts queue up to the mailbox size.
func New(puller Puller, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = DefaultMailboxSize
	}
	return &Coordinator{
		puller:  puller,
		opts:    opts,
		mailbox: make(chan event, opts.MailboxSize),
		done:    make(chan struct{}),
	}
}

// Start launches the actor loop.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	logger.Info("Coordinator started", "poll_interval", c.opts.PollInterval.String())
}

// Stop ends the loop and waits for it to exit. An in-flight pull is
// cancelled with the loop; the checkpoint only moves past fully applied
// pages, so the interrupted page is fetched again by the next pull.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// Connect registers a tab.
func (c *Coordinator) Connect(ctx context.Context, p Port) error {
	return c.enqueue(ctx, event{kind: evConnect, from: p.ID(), port: p})
}

// Disconnect removes a tab. The last disconnect tears the poll down.
func (c *Coordinator) Disconnect(ctx context.Context, portID string) error {
	return c.enqueue(ctx, event{kind: evDisconnect, from: portID})
}

// Post delivers a tab's message. It blocks while the mailbox is full, until
// ctx ends or the coordinator stops.
func (c *Coordinator) Post(ctx context.Context, from string, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.enqueue(ctx, event{kind: evMessage, from: from, msg: msg})
}

func (c *Coordinator) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.mailbox <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return serr.Wrap(ctx.Err(), "coordinator mailbox full")
	}
}

// ============================================================================
// Actor loop
// ============================================================================

// loopState is owned by run and never shared.
type loopState struct {
	ports  map[string]Port
	order  []string // connection order, for deterministic fan-out
	userID string

	ticker *time.Ticker
	retry  *time.Timer

	pulling   bool
	pollAgain bool
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	st := &loopState{ports: map[string]Port{}}
	defer c.teardown(st)

	for {
		var tick, retry <-chan time.Time
		if st.ticker != nil {
			tick = st.ticker.C
		}
		if st.retry != nil {
			retry = st.retry.C
		}

		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.poll(ctx, st, false)
		case <-retry:
			st.retry = nil
			c.poll(ctx, st, true)
		case ev := <-c.mailbox:
			c.handle(ctx, st, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, st *loopState, ev event) {
	switch ev.kind {
	case evConnect:
		if _, ok := st.ports[ev.from]; !ok {
			st.order = append(st.order, ev.from)
		}
		st.ports[ev.from] = ev.port
		logger.Debug("Tab connected", "port", ev.from, "tabs", len(st.ports))

	case evDisconnect:
		if _, ok := st.ports[ev.from]; !ok {
			return
		}
		delete(st.ports, ev.from)
		for i, id := range st.order {
			if id == ev.from {
				st.order = append(st.order[:i], st.order[i+1:]...)
				break
			}
		}
		logger.Debug("Tab disconnected", "port", ev.from, "tabs", len(st.ports))
		if len(st.ports) == 0 {
			c.teardown(st)
			st.userID = ""
			logger.Info("Last tab left, coordinator idle")
		}

	case evPullDone:
		st.pulling = false
		c.report(st, ev)
		if st.pollAgain && st.ticker != nil {
			st.pollAgain = false
			c.poll(ctx, st, false)
		}

	case evMessage:
		c.handleMessage(ctx, st, ev.from, ev.msg)
	}
}

func (c *Coordinator) handleMessage(ctx context.Context, st *loopState, from string, msg Message) {
	switch msg.Type {
	case MsgInit:
		if msg.UserID != c.puller.UserID() {
			c.sendTo(st, from, Message{Type: MsgSyncError, Message: "user " + msg.UserID + " is not served by this device"})
			return
		}
		first := st.ticker == nil
		st.userID = msg.UserID
		if first {
			st.ticker = time.NewTicker(c.opts.PollInterval)
			logger.Info("Coordinator polling", "user_id", st.userID)
		}
		c.sendTo(st, from, Message{Type: MsgInitSuccess})
		if first {
			c.poll(ctx, st, false)
		}

	case MsgSyncNow:
		if st.ticker == nil {
			c.sendTo(st, from, Message{Type: MsgSyncError, Message: "coordinator not initialized"})
			return
		}
		c.poll(ctx, st, false)

	case MsgBroadcast:
		for _, id := range st.order {
			if id != from {
				c.sendTo(st, id, msg)
			}
		}

	case MsgStop:
		c.teardown(st)
		logger.Info("Coordinator poll stopped", "user_id", st.userID)
	}
}

// teardown stops the timers. The user stays bound so a later INIT for the
// same user resumes.
func (c *Coordinator) teardown(st *loopState) {
	if st.ticker != nil {
		st.ticker.Stop()
		st.ticker = nil
	}
	if st.retry != nil {
		st.retry.Stop()
		st.retry = nil
	}
	st.pollAgain = false
}

// poll starts a pull unless one is already in flight. A request that
// arrives mid-pull is folded into one follow-up poll.
func (c *Coordinator) poll(ctx context.Context, st *loopState, isRetry bool) {
	if st.pulling {
		st.pollAgain = true
		return
	}
	st.pulling = true

	go func() {
		res, err := c.puller.Pull(ctx)
		ev := event{kind: evPullDone, result: res, err: err, retry: isRetry}
		select {
		case c.mailbox <- ev:
		case <-c.done:
		}
	}()
}

// report turns a pull outcome into tab messages.
func (c *Coordinator) report(st *loopState, ev event) {
	err := ev.err
	if err == nil {
		if ev.result != nil && len(ev.result.Applied) > 0 {
			c.sendAll(st, Message{Type: MsgSyncUpdate, Changes: ev.result.Applied})
		}
		return
	}

	var (
		authErr *syncer.AuthError
		httpErr *syncer.HTTPError
		netErr  *syncer.NetworkError
	)
	switch {
	case errors.Is(err, syncer.ErrSyncInProgress):
		// a full sync owns the engine; the session announces its result
	case errors.Is(err, context.Canceled):
	case errors.As(err, &authErr):
		logger.LogErr(err, "coordinator pull unauthorized")
		c.sendAll(st, Message{Type: MsgSyncError, Status: authErr.Status,
			StatusText: http.StatusText(authErr.Status), Message: authErr.Error()})
		c.sendAll(st, Message{Type: MsgAuthError, Message: authErr.Error()})
	case errors.As(err, &httpErr):
		logger.LogErr(err, "coordinator pull failed", "status", httpErr.Status)
		c.sendAll(st, Message{Type: MsgSyncError, Status: httpErr.Status,
			StatusText: httpErr.StatusText, Message: httpErr.Error()})
	case errors.As(err, &netErr):
		logger.LogErr(err, "coordinator pull unreachable", "retry", !ev.retry)
		c.sendAll(st, Message{Type: MsgSyncError, Message: netErr.Error(), IsNetworkError: true})
		if !ev.retry && st.retry == nil && st.ticker != nil {
			st.retry = time.NewTimer(c.opts.RetryDelay)
		}
	default:
		logger.LogErr(err, "coordinator pull failed")
		c.sendAll(st, Message{Type: MsgSyncError, Message: err.Error()})
	}
}

func (c *Coordinator) sendTo(st *loopState, id string, msg Message) {
	p, ok := st.ports[id]
	if !ok {
		return
	}
	if err := p.Send(msg); err != nil {
		logger.LogErr(err, "failed to deliver to tab", "port", id, "type", msg.Type)
	}
}

func (c *Coordinator) sendAll(st *loopState, msg Message) {
	for _, id := range st.order {
		c.sendTo(st, id, msg)
	}
}
