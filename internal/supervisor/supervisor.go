// Package supervisor owns the platform session: login with retry, event
// listening with reconnects, startup announcements and periodic
// maintenance.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/command"
	"github.com/zulandar/warden/internal/metrics"
	"github.com/zulandar/warden/internal/state"
	"golang.org/x/time/rate"
)

// EventHandler processes one platform event.
type EventHandler interface {
	Handle(ctx context.Context, cli client.Client, ev client.Event)
}

// Timings are the supervisor's fixed delays and limits.
type Timings struct {
	LoginRetry       time.Duration // wait before retrying a failed login
	ListenerRetry    time.Duration // wait before resuming a failed listener
	ReconnectCeiling int           // listener failures before a full re-login
	SettleDelay      time.Duration // wait after login before announcing
	Throttle         time.Duration // pause between conversations on startup
	ThreadLimit      int           // conversations fetched per refresh
}

// DefaultTimings returns the production timings.
func DefaultTimings() Timings {
	return Timings{
		LoginRetry:       10 * time.Second,
		ListenerRetry:    5 * time.Second,
		ReconnectCeiling: 5,
		SettleDelay:      5 * time.Second,
		Throttle:         500 * time.Millisecond,
		ThreadLimit:      100,
	}
}

// DefaultSaveSchedule persists credentials every ten minutes.
const DefaultSaveSchedule = "@every 10m"

// Supervisor drives the session lifecycle. Start hands it credentials; Run
// does the work until its context ends.
type Supervisor struct {
	auth     client.Authenticator
	handler  EventHandler
	settings *state.Settings
	persona  *state.Persona
	joined   *state.JoinedSet
	store    *state.FileStore
	cat      *command.Catalogue
	timings  Timings
	saveSpec string
	nickSpec string
	out      io.Writer

	startMu sync.Mutex
	startCh chan client.Credentials

	mu        sync.RWMutex
	cli       client.Client
	cliCancel context.CancelFunc
	creds     client.Credentials
	status    Status
}

// Opts holds parameters for creating a Supervisor.
type Opts struct {
	Authenticator client.Authenticator
	Handler       EventHandler
	Settings      *state.Settings
	Persona       *state.Persona
	Joined        *state.JoinedSet
	StateFile     *state.FileStore   // nil disables periodic saves
	Catalogue     *command.Catalogue // defaults to command.DefaultCatalogue()
	Timings       Timings            // zero fields take DefaultTimings values
	SaveSchedule  string             // cron spec; defaults to DefaultSaveSchedule
	// PersonaSchedule re-asserts the persona everywhere on a cron
	// schedule. Empty means only at login.
	PersonaSchedule string
	Out             io.Writer // defaults to os.Stdout
}

// New creates a Supervisor.
func New(opts Opts) (*Supervisor, error) {
	if opts.Authenticator == nil {
		return nil, fmt.Errorf("supervisor: authenticator is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("supervisor: event handler is required")
	}
	if opts.Settings == nil || opts.Persona == nil || opts.Joined == nil {
		return nil, fmt.Errorf("supervisor: settings, persona and joined set are required")
	}
	cat := opts.Catalogue
	if cat == nil {
		cat = command.DefaultCatalogue()
	}
	saveSpec := opts.SaveSchedule
	if saveSpec == "" {
		saveSpec = DefaultSaveSchedule
	}
	for _, spec := range []string{saveSpec, opts.PersonaSchedule} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return nil, fmt.Errorf("supervisor: schedule %q: %w", spec, err)
		}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	s := &Supervisor{
		auth:     opts.Authenticator,
		handler:  opts.Handler,
		settings: opts.Settings,
		persona:  opts.Persona,
		joined:   opts.Joined,
		store:    opts.StateFile,
		cat:      cat,
		timings:  withDefaults(opts.Timings),
		saveSpec: saveSpec,
		nickSpec: opts.PersonaSchedule,
		out:      out,
		startCh:  make(chan client.Credentials, 1),
		status:   Status{State: StateLoggedOut},
	}
	metrics.SetSupervisorState(string(StateLoggedOut), States)
	return s, nil
}

func withDefaults(t Timings) Timings {
	d := DefaultTimings()
	if t.LoginRetry <= 0 {
		t.LoginRetry = d.LoginRetry
	}
	if t.ListenerRetry <= 0 {
		t.ListenerRetry = d.ListenerRetry
	}
	if t.ReconnectCeiling <= 0 {
		t.ReconnectCeiling = d.ReconnectCeiling
	}
	if t.SettleDelay < 0 {
		t.SettleDelay = 0
	}
	if t.Throttle < 0 {
		t.Throttle = 0
	}
	if t.ThreadLimit <= 0 {
		t.ThreadLimit = d.ThreadLimit
	}
	return t
}

// Start hands new credentials to the supervisor. It does not wait for the
// login; a pending, unconsumed Start is replaced.
func (s *Supervisor) Start(creds client.Credentials) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	s.mu.Lock()
	s.creds = creds.Clone()
	s.mu.Unlock()
	select {
	case <-s.startCh:
	default:
	}
	s.startCh <- creds.Clone()
}

// Started reports whether a platform session is live.
func (s *Supervisor) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cli != nil
}

// Status returns the state machine's current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Client returns the live client, or nil.
func (s *Supervisor) Client() client.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cli
}

// SendMessage sends through the live client. Timed sessions use it so they
// survive re-logins.
func (s *Supervisor) SendMessage(ctx context.Context, msg client.Message, conversationID string) error {
	cli := s.Client()
	if cli == nil {
		return client.ErrNotConnected
	}
	return cli.SendMessage(ctx, msg, conversationID)
}

// fire feeds trigger to the state machine and records the result.
func (s *Supervisor) fire(t Trigger) Action {
	s.mu.Lock()
	prev := s.status
	next, action := Next(prev, t, s.timings.ReconnectCeiling)
	s.status = next
	s.mu.Unlock()

	metrics.SetSupervisorState(string(next.State), States)
	metrics.ReconnectAttempts.Set(float64(next.Attempts))
	if next.State != prev.State {
		log.Printf("supervisor: %s -> %s (%s, attempts %d)", prev.State, next.State, t, next.Attempts)
	}
	return action
}

// loop steps that are not state machine actions.
const (
	actionConsume Action = "consume"
	actionExit    Action = "exit"
)

// Run drives the session until ctx is cancelled. It waits for the first
// Start before logging in.
func (s *Supervisor) Run(ctx context.Context) error {
	sched, err := s.schedule()
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		<-sched.Stop().Done()
		s.dropClient()
	}()

	var (
		creds  client.Credentials
		events <-chan client.Event
		action = ActionNone
	)
	for {
		switch action {
		case ActionNone:
			select {
			case <-ctx.Done():
				action = actionExit
			case creds = <-s.startCh:
				action = s.fire(TriggerStart)
			}
		case ActionLogin:
			action = s.login(ctx, creds)
		case ActionRetryLogin:
			action, creds = s.sleep(ctx, s.timings.LoginRetry, ActionLogin, creds)
		case ActionListen:
			events, action = s.listen(ctx)
		case actionConsume:
			action, creds = s.consume(ctx, events, creds)
		case ActionResume:
			s.stopListener()
			action, creds = s.sleep(ctx, s.timings.ListenerRetry, ActionListen, creds)
			if action == ActionListen && s.Client() == nil {
				action = ActionLogin
			}
		case ActionRelogin:
			s.dropClient()
			action = ActionLogin
		case actionExit:
			fmt.Fprintf(s.out, "Supervisor stopped\n")
			return nil
		default:
			return fmt.Errorf("supervisor: unknown action %q", action)
		}
	}
}

// sleep waits d and then returns next. New credentials cut the wait short
// and restart the login; a cancelled ctx exits.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration, next Action, creds client.Credentials) (Action, client.Credentials) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return actionExit, creds
	case c := <-s.startCh:
		s.dropClient()
		return s.fire(TriggerStart), c
	case <-t.C:
		return next, creds
	}
}

func (s *Supervisor) login(ctx context.Context, creds client.Credentials) Action {
	fmt.Fprintf(s.out, "Logging in...\n")
	cli, err := s.auth.Login(ctx, creds)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("failed").Inc()
		log.Printf("supervisor: login failed, retrying in %s: %v", s.timings.LoginRetry, err)
		return s.fire(TriggerLoginFailed)
	}
	metrics.LoginsTotal.WithLabelValues("ok").Inc()

	cliCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cli, s.cliCancel = cli, cancel
	s.mu.Unlock()
	log.Printf("supervisor: logged in as %s", cli.CurrentUserID())

	s.refreshJoined(cliCtx, cli)
	go s.announce(cliCtx, cli)
	return s.fire(TriggerLoginOK)
}

func (s *Supervisor) listen(ctx context.Context) (<-chan client.Event, Action) {
	cli := s.Client()
	if cli == nil {
		return nil, ActionLogin
	}
	events, err := cli.Listen(ctx)
	if err != nil {
		metrics.ListenerFailures.Inc()
		log.Printf("supervisor: listen failed: %v", err)
		return nil, s.fire(TriggerListenerFailed)
	}
	s.fire(TriggerListening)
	fmt.Fprintf(s.out, "Listening for events\n")
	return events, actionConsume
}

// consume feeds events to the handler one at a time until the listener
// fails, new credentials arrive or ctx ends.
func (s *Supervisor) consume(ctx context.Context, events <-chan client.Event, creds client.Credentials) (Action, client.Credentials) {
	cli := s.Client()
	for {
		select {
		case <-ctx.Done():
			return actionExit, creds
		case c := <-s.startCh:
			s.dropClient()
			return s.fire(TriggerStart), c
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return actionExit, creds
				}
				ev = client.Event{Type: client.EventListenerError, Err: errors.New("event stream closed")}
			}
			if ev.Type == client.EventListenerError {
				metrics.ListenerFailures.Inc()
				log.Printf("supervisor: listener failed: %v", ev.Err)
				return s.fire(TriggerListenerFailed), creds
			}
			s.handler.Handle(ctx, cli, ev)
		}
	}
}

// stopListener stops the current listener; errors are logged only.
func (s *Supervisor) stopListener() {
	cli := s.Client()
	if cli == nil {
		return
	}
	if err := cli.StopListening(); err != nil {
		log.Printf("supervisor: stop listener: %v", err)
	}
}

// dropClient closes the live session and cancels its background work.
func (s *Supervisor) dropClient() {
	s.mu.Lock()
	cli, cancel := s.cli, s.cliCancel
	s.cli, s.cliCancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if cli == nil {
		return
	}
	if err := cli.StopListening(); err != nil {
		log.Printf("supervisor: stop listener: %v", err)
	}
	if err := cli.Close(); err != nil {
		log.Printf("supervisor: close client: %v", err)
	}
}

// refreshJoined replaces the joined set with the platform's list.
func (s *Supervisor) refreshJoined(ctx context.Context, cli client.Client) {
	threads, err := cli.ThreadList(ctx, s.timings.ThreadLimit)
	if err != nil {
		log.Printf("supervisor: failed to update joined conversations: %v", err)
		return
	}
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	s.joined.Replace(ids)
	log.Printf("supervisor: joined conversations updated (%d)", len(ids))
}

// announce waits for the settle delay, then asserts the persona and sends
// the startup message in every joined conversation.
func (s *Supervisor) announce(ctx context.Context, cli client.Client) {
	t := time.NewTimer(s.timings.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
	}
	s.assertPersona(ctx, cli)

	body := command.Expand(s.cat.Replies.Startup,
		"nickname", s.persona.Nickname(), "prefix", s.settings.Prefix())
	s.eachJoined(ctx, func(conv string) {
		if err := cli.SendMessage(ctx, client.Message{Body: body}, conv); err != nil {
			log.Printf("supervisor: startup message to %s failed: %v", conv, err)
		}
	})
}

// assertPersona sets the bot's nickname wherever it differs from the
// persona. A failure in one conversation does not stop the rest.
func (s *Supervisor) assertPersona(ctx context.Context, cli client.Client) {
	botID := cli.CurrentUserID()
	s.eachJoined(ctx, func(conv string) {
		nick := s.persona.Nickname()
		info, err := cli.ThreadInfo(ctx, conv)
		if err != nil {
			log.Printf("supervisor: thread info %s: %v", conv, err)
			return
		}
		if info.Nicknames[botID] == nick {
			return
		}
		if err := cli.ChangeNickname(ctx, nick, conv, botID); err != nil {
			log.Printf("supervisor: set nickname in %s failed: %v", conv, err)
			return
		}
		log.Printf("supervisor: nickname set in %s", conv)
	})
}

// eachJoined calls fn for every joined conversation, pausing between
// conversations to stay under platform rate limits.
func (s *Supervisor) eachJoined(ctx context.Context, fn func(conv string)) {
	limit := rate.Inf
	if s.timings.Throttle > 0 {
		limit = rate.Every(s.timings.Throttle)
	}
	limiter := rate.NewLimiter(limit, 1)
	for _, conv := range s.joined.Snapshot() {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		fn(conv)
	}
}

// Save writes the persona and the live session's credentials to the state
// file. Failures are logged and returned.
func (s *Supervisor) Save() error {
	if s.store == nil {
		return nil
	}
	s.mu.RLock()
	cli, creds := s.cli, s.creds
	s.mu.RUnlock()
	if cli != nil {
		creds = cli.AppState()
	}
	snap := state.Snapshot{BotNickname: s.persona.Nickname(), Cookies: creds}
	if err := s.store.Save(snap); err != nil {
		log.Printf("supervisor: save %s failed: %v", s.store.Path(), err)
		return err
	}
	log.Printf("supervisor: state saved to %s", s.store.Path())
	return nil
}

// schedule builds the cron jobs for saving and persona re-assertion.
func (s *Supervisor) schedule() (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(s.saveSpec, func() {
		if s.Client() == nil {
			return
		}
		s.Save()
	}); err != nil {
		return nil, fmt.Errorf("supervisor: save schedule: %w", err)
	}
	if s.nickSpec != "" {
		if _, err := c.AddFunc(s.nickSpec, func() {
			if cli := s.Client(); cli != nil {
				s.assertPersona(context.Background(), cli)
			}
		}); err != nil {
			return nil, fmt.Errorf("supervisor: persona schedule: %w", err)
		}
	}
	return c, nil
}
