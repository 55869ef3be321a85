// Package slack implements client.Client for Slack using Socket Mode.
//
// A conversation is a channel and its title is the channel name. Slack has
// no per-channel nicknames or channel photos, so those operations return
// client.ErrUnsupported.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/warden/internal/client"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// pageSize is the page size for conversation and member listing.
	pageSize = 200
)

var mentionRe = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	RenameConversation(channelID, channelName string) (*slackapi.Channel, error)
	GetConversationsForUser(params *slackapi.GetConversationsForUserParameters) ([]slackapi.Channel, string, error)
	GetConversationInfo(input *slackapi.GetConversationInfoInput) (*slackapi.Channel, error)
	GetUsersInConversation(params *slackapi.GetUsersInConversationParameters) ([]string, string, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Authenticator logs in to Slack with the "bot_token" and "app_token"
// cookies of a credential snapshot.
type Authenticator struct {
	// For testing: inject mock clients instead of the real Slack API.
	Client    slackClient
	NewSocket func() socketClient
}

// Login creates an Adapter and verifies the bot token.
func (au Authenticator) Login(ctx context.Context, creds client.Credentials) (client.Client, error) {
	opts := AdapterOpts{Client: au.Client, NewSocket: au.NewSocket, Credentials: creds}
	if opts.Client == nil {
		botToken, _ := creds.Get("bot_token")
		appToken, _ := creds.Get("app_token")
		if botToken == "" || appToken == "" {
			return nil, fmt.Errorf("slack: login: %w: bot_token and app_token cookies are required", client.ErrInvalidCredentials)
		}
		api := slackapi.New(botToken, slackapi.OptionAppLevelToken(appToken))
		opts.Client = api
		opts.NewSocket = func() socketClient { return &realSocketClient{client: socketmode.New(api)} }
	}
	a, err := New(opts)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Adapter implements client.Client for Slack Socket Mode.
type Adapter struct {
	client    slackClient
	newSocket func() socketClient
	creds     client.Credentials
	botUserID string

	mu        sync.Mutex
	closed    bool
	listening bool
	events    chan client.Event
	done      chan struct{}
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	Client      slackClient
	NewSocket   func() socketClient
	Credentials client.Credentials
}

var _ client.Client = (*Adapter)(nil)

// New creates a Slack Adapter and resolves the bot user ID.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("slack: client is required")
	}
	if opts.NewSocket == nil {
		return nil, fmt.Errorf("slack: socket factory is required")
	}
	auth, err := opts.Client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	log.Printf("slack: logged in as %s (ID: %s)", auth.User, auth.UserID)
	return &Adapter{
		client:    opts.Client,
		newSocket: opts.NewSocket,
		creds:     opts.Credentials.Clone(),
		botUserID: auth.UserID,
	}, nil
}

// CurrentUserID returns the bot's Slack user ID.
func (a *Adapter) CurrentUserID() string { return a.botUserID }

// AppState returns the credential snapshot used to log in.
func (a *Adapter) AppState() client.Credentials { return a.creds.Clone() }

// Listen starts a Socket Mode connection and pumps its events.
func (a *Adapter) Listen(ctx context.Context) (<-chan client.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, client.ErrNotConnected
	}
	if a.listening {
		return a.events, nil
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.events = make(chan client.Event, 100)
	a.done = make(chan struct{})
	a.cancel = cancel
	a.listening = true

	socket := a.newSocket()
	go a.run(listenCtx, socket)
	go a.pumpEvents(listenCtx, socket)
	return a.events, nil
}

// StopListening cancels the Socket Mode connection.
func (a *Adapter) StopListening() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.listening {
		return nil
	}
	a.listening = false
	a.cancel()
	close(a.done)
	return nil
}

// Close ends the session.
func (a *Adapter) Close() error {
	err := a.StopListening()
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return err
}

// run reports the end of the Socket Mode connection as a listener failure
// unless listening was stopped deliberately.
func (a *Adapter) run(ctx context.Context, socket socketClient) {
	err := socket.RunContext(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("socket mode connection closed")
	}
	a.emit(client.Event{Type: client.EventListenerError, Err: fmt.Errorf("slack: %w", err)})
}

// pumpEvents reads Socket Mode events and converts them to client events.
func (a *Adapter) pumpEvents(ctx context.Context, socket socketClient) {
	events := socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(socket, evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(socket socketClient, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		a.handleMessage(ev)
	case *slackevents.MemberJoinedChannelEvent:
		a.emit(client.Event{
			Type:           client.EventParticipantAdded,
			ConversationID: ev.Channel,
			AuthorID:       ev.Inviter,
			AddedIDs:       []string{ev.User},
		})
	}
}

// handleMessage converts a Slack message event. Plain messages become
// message events; the channel_name subtype becomes a title change.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	switch ev.SubType {
	case "":
	case "channel_name":
		a.handleRename(ev)
		return
	default:
		return
	}
	if ev.User == "" || ev.User == a.botUserID || ev.BotID != "" {
		return
	}
	out := client.Event{
		Type:           client.EventMessage,
		ConversationID: ev.Channel,
		SenderID:       ev.User,
		Body:           ev.Text,
		Mentions:       parseMentions(ev.Text),
		Timestamp:      parseSlackTimestamp(ev.TimeStamp),
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		out.Type = client.EventMessageReply
	}
	a.emit(out)
}

func (a *Adapter) handleRename(ev *slackevents.MessageEvent) {
	ch, err := a.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: ev.Channel})
	if err != nil {
		log.Printf("slack: rename in %s: conversation info: %v", ev.Channel, err)
		return
	}
	a.emit(client.Event{
		Type:           client.EventTitleChanged,
		ConversationID: ev.Channel,
		AuthorID:       ev.User,
		NewTitle:       ch.Name,
		Timestamp:      parseSlackTimestamp(ev.TimeStamp),
	})
}

// emit delivers ev unless listening stopped first.
func (a *Adapter) emit(ev client.Event) {
	a.mu.Lock()
	if !a.listening {
		a.mu.Unlock()
		return
	}
	events, done := a.events, a.done
	a.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case events <- ev:
	case <-done:
	}
}

// SendMessage posts msg with mentions rendered as <@id> tokens.
func (a *Adapter) SendMessage(ctx context.Context, msg client.Message, conversationID string) error {
	text := client.RenderMentions(msg, func(id string) string { return "<@" + id + ">" })
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(conversationID, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// ChangeNickname is not supported by Slack.
func (a *Adapter) ChangeNickname(ctx context.Context, nickname, conversationID, userID string) error {
	return fmt.Errorf("slack: change nickname: %w", client.ErrUnsupported)
}

// SetTitle renames the channel.
func (a *Adapter) SetTitle(ctx context.Context, title, conversationID string) error {
	if title == "" {
		return fmt.Errorf("slack: set title: channel names cannot be empty: %w", client.ErrUnsupported)
	}
	err := retryOnRateLimit(ctx, func() error {
		_, apiErr := a.client.RenameConversation(conversationID, title)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("slack: set title: %w", err)
	}
	return nil
}

// SetPhoto is not supported by Slack.
func (a *Adapter) SetPhoto(ctx context.Context, conversationID, ref string) error {
	return fmt.Errorf("slack: set photo: %w", client.ErrUnsupported)
}

// ThreadList returns the channels the bot is a member of.
func (a *Adapter) ThreadList(ctx context.Context, limit int) ([]client.ThreadInfo, error) {
	var out []client.ThreadInfo
	cursor := ""
	for {
		var chans []slackapi.Channel
		var next string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			chans, next, apiErr = a.client.GetConversationsForUser(&slackapi.GetConversationsForUserParameters{
				UserID:          a.botUserID,
				Cursor:          cursor,
				Types:           []string{"public_channel", "private_channel"},
				Limit:           pageSize,
				ExcludeArchived: true,
			})
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: list conversations: %w", err)
		}
		for _, ch := range chans {
			out = append(out, client.ThreadInfo{ID: ch.ID, Name: ch.Name})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// ThreadInfo describes a channel and its members.
func (a *Adapter) ThreadInfo(ctx context.Context, conversationID string) (*client.ThreadInfo, error) {
	ch, err := a.client.GetConversationInfo(&slackapi.GetConversationInfoInput{ChannelID: conversationID})
	if err != nil {
		return nil, fmt.Errorf("slack: conversation info %s: %w", conversationID, err)
	}
	info := &client.ThreadInfo{ID: ch.ID, Name: ch.Name, Nicknames: make(map[string]string)}
	cursor := ""
	for {
		var members []string
		var next string
		err := retryOnRateLimit(ctx, func() error {
			var apiErr error
			members, next, apiErr = a.client.GetUsersInConversation(&slackapi.GetUsersInConversationParameters{
				ChannelID: conversationID,
				Cursor:    cursor,
				Limit:     pageSize,
			})
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversation members %s: %w", conversationID, err)
		}
		info.ParticipantIDs = append(info.ParticipantIDs, members...)
		if next == "" {
			return info, nil
		}
		cursor = next
	}
}

// UserInfo resolves a user's display name, falling back to the real name.
func (a *Adapter) UserInfo(ctx context.Context, userID string) (*client.UserInfo, error) {
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return nil, fmt.Errorf("slack: user %s: %w", userID, err)
	}
	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	return &client.UserInfo{ID: user.ID, Name: name}, nil
}

func parseMentions(text string) []string {
	var ids []string
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(strings.SplitN(ts, ".", 2)[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
