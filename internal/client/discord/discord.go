// Package discord implements client.Client for Discord using the Gateway WebSocket.
//
// A conversation is a guild. The guild name is the conversation title, the
// guild icon hash is the photo reference, and nicknames are guild member
// nicknames. Outbound messages go to the guild's most recently active text
// channel, falling back to its system channel.
package discord

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/warden/internal/client"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// guildPageSize is the page size for the current user's guild list.
	guildPageSize = 200
	// memberPageSize is the page size for guild member listing.
	memberPageSize = 1000
	// auditLookback is how many audit entries are scanned to attribute a change.
	auditLookback = 5
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserGuilds(limit int, beforeID, afterID string, withCounts bool, options ...discordgo.RequestOption) ([]*discordgo.UserGuild, error)
	Guild(guildID string) (*discordgo.Guild, error)
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error
	GuildEdit(guildID string, g *discordgo.GuildParams, options ...discordgo.RequestOption) (*discordgo.Guild, error)
	GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) UserGuilds(limit int, beforeID, afterID string, withCounts bool, options ...discordgo.RequestOption) ([]*discordgo.UserGuild, error) {
	return r.s.UserGuilds(limit, beforeID, afterID, withCounts, options...)
}
func (r *realSession) Guild(guildID string) (*discordgo.Guild, error) {
	if g, err := r.s.State.Guild(guildID); err == nil {
		return g, nil
	}
	return r.s.Guild(guildID)
}
func (r *realSession) GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	return r.s.GuildMembers(guildID, after, limit, options...)
}
func (r *realSession) GuildMemberNickname(guildID, userID, nickname string, options ...discordgo.RequestOption) error {
	return r.s.GuildMemberNickname(guildID, userID, nickname, options...)
}
func (r *realSession) GuildEdit(guildID string, g *discordgo.GuildParams, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	return r.s.GuildEdit(guildID, g, options...)
}
func (r *realSession) GuildAuditLog(guildID, userID, beforeID string, actionType, limit int, options ...discordgo.RequestOption) (*discordgo.GuildAuditLog, error) {
	return r.s.GuildAuditLog(guildID, userID, beforeID, actionType, limit, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}

// newRealSession creates a gateway session. discordgo's own reconnect is
// disabled; a dropped gateway is reported to the caller as a listener error.
func newRealSession(token string) (session, error) {
	if !strings.HasPrefix(token, "Bot ") {
		token = "Bot " + token
	}
	dg, err := discordgo.New(token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	dg.ShouldReconnectOnError = false
	return &realSession{s: dg}, nil
}

// Authenticator logs in to Discord with the "token" cookie of a credential
// snapshot.
type Authenticator struct {
	// NewSession overrides session creation, for tests.
	NewSession func(token string) (session, error)
}

// Login creates an Adapter for the bot token in creds.
func (au Authenticator) Login(ctx context.Context, creds client.Credentials) (client.Client, error) {
	token, ok := creds.Get("token")
	if !ok || token == "" {
		return nil, fmt.Errorf("discord: login: %w: missing token cookie", client.ErrInvalidCredentials)
	}
	newSession := au.NewSession
	if newSession == nil {
		newSession = newRealSession
	}
	sess, err := newSession(token)
	if err != nil {
		return nil, err
	}
	a, err := New(AdapterOpts{Session: sess, Credentials: creds})
	if err != nil {
		return nil, err
	}
	return a, nil
}

type guildState struct {
	name string
	icon string
}

// Adapter implements client.Client for Discord.
type Adapter struct {
	sess        session
	creds       client.Credentials
	botID       string
	fetchIcon   func(ctx context.Context, url string) ([]byte, error)
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu          sync.Mutex
	closed      bool
	open        bool
	listening   bool
	events      chan client.Event
	done        chan struct{}
	removers    []func()
	gotReady    bool
	ready       map[string]bool
	guilds      map[string]guildState
	nicks       map[string]string // guildID:userID
	lastChannel map[string]string
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	Session     session
	Credentials client.Credentials
	// FetchIcon downloads a guild icon; defaults to an HTTP GET.
	FetchIcon func(ctx context.Context, url string) ([]byte, error)
}

var _ client.Client = (*Adapter)(nil)

// New creates an Adapter and resolves the bot's own user ID.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil {
		return nil, fmt.Errorf("discord: session is required")
	}
	me, err := opts.Session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("discord: login: %w", err)
	}
	a := &Adapter{
		sess:        opts.Session,
		creds:       opts.Credentials.Clone(),
		botID:       me.ID,
		fetchIcon:   opts.FetchIcon,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		ready:       make(map[string]bool),
		guilds:      make(map[string]guildState),
		nicks:       make(map[string]string),
		lastChannel: make(map[string]string),
	}
	if a.fetchIcon == nil {
		a.fetchIcon = httpGet
	}
	log.Printf("discord: logged in as %s (ID: %s)", me.Username, me.ID)
	return a, nil
}

// CurrentUserID returns the bot's Discord user ID.
func (a *Adapter) CurrentUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botID
}

// AppState returns the credential snapshot used to log in. Bot tokens do
// not rotate, so this is the login snapshot.
func (a *Adapter) AppState() client.Credentials {
	return a.creds.Clone()
}

// Listen registers gateway handlers and opens the gateway.
func (a *Adapter) Listen(ctx context.Context) (<-chan client.Event, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, client.ErrNotConnected
	}
	if a.listening {
		ch := a.events
		a.mu.Unlock()
		return ch, nil
	}
	events := make(chan client.Event, 100)
	done := make(chan struct{})
	a.events, a.done, a.listening = events, done, true
	a.gotReady = false
	a.mu.Unlock()

	removers := []func(){
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) { a.onReady(r) }),
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { a.onMessage(m) }),
		a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) { a.onGuildCreate(g) }),
		a.sess.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildUpdate) { a.onGuildUpdate(g) }),
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) { a.onMemberUpdate(m) }),
		a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) { a.onDisconnect() }),
	}
	a.mu.Lock()
	a.removers = removers
	a.mu.Unlock()

	if err := a.sess.Open(); err != nil {
		a.StopListening()
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	a.mu.Lock()
	a.open = true
	a.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			a.StopListening()
		case <-done:
		}
	}()
	return events, nil
}

// StopListening removes handlers and closes the gateway.
func (a *Adapter) StopListening() error {
	a.mu.Lock()
	if !a.listening {
		a.mu.Unlock()
		return nil
	}
	a.listening = false
	close(a.done)
	removers := a.removers
	a.removers = nil
	wasOpen := a.open
	a.open = false
	a.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if wasOpen {
		if err := a.sess.Close(); err != nil {
			return fmt.Errorf("discord: close gateway: %w", err)
		}
	}
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

// SendMessage posts msg to the guild's home channel with mentions rendered
// as <@id> tokens.
func (a *Adapter) SendMessage(ctx context.Context, msg client.Message, conversationID string) error {
	channelID, err := a.homeChannel(conversationID)
	if err != nil {
		return err
	}
	data := &discordgo.MessageSend{
		Content: client.RenderMentions(msg, func(id string) string { return "<@" + id + ">" }),
	}
	if ids := client.MentionIDs(msg); len(ids) > 0 {
		data.AllowedMentions = &discordgo.MessageAllowedMentions{Users: ids}
	}
	err = a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// ChangeNickname sets a guild member's nickname.
func (a *Adapter) ChangeNickname(ctx context.Context, nickname, conversationID, userID string) error {
	target := userID
	if userID == a.CurrentUserID() {
		target = "@me"
	}
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.GuildMemberNickname(conversationID, target, nickname)
	})
	if err != nil {
		return fmt.Errorf("discord: change nickname: %w", err)
	}
	a.mu.Lock()
	a.nicks[conversationID+":"+userID] = nickname
	a.mu.Unlock()
	return nil
}

// SetTitle renames the guild.
func (a *Adapter) SetTitle(ctx context.Context, title, conversationID string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.GuildEdit(conversationID, &discordgo.GuildParams{Name: title})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: set title: %w", err)
	}
	a.mu.Lock()
	st := a.guilds[conversationID]
	st.name = title
	a.guilds[conversationID] = st
	a.mu.Unlock()
	return nil
}

// SetPhoto re-uploads the guild icon identified by the hash ref.
func (a *Adapter) SetPhoto(ctx context.Context, conversationID, ref string) error {
	if ref == "" {
		return fmt.Errorf("discord: set photo: empty icon reference")
	}
	img, err := a.fetchIcon(ctx, discordgo.EndpointGuildIcon(conversationID, ref))
	if err != nil {
		return fmt.Errorf("discord: set photo: fetch icon: %w", err)
	}
	uri := "data:" + http.DetectContentType(img) + ";base64," + base64.StdEncoding.EncodeToString(img)
	var updated *discordgo.Guild
	err = a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		updated, apiErr = a.sess.GuildEdit(conversationID, &discordgo.GuildParams{Icon: uri})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: set photo: %w", err)
	}
	if updated != nil {
		a.mu.Lock()
		st := a.guilds[conversationID]
		st.icon = updated.Icon
		a.guilds[conversationID] = st
		a.mu.Unlock()
	}
	return nil
}

// ThreadList returns the guilds the bot belongs to.
func (a *Adapter) ThreadList(ctx context.Context, limit int) ([]client.ThreadInfo, error) {
	var out []client.ThreadInfo
	after := ""
	for {
		page := guildPageSize
		if limit > 0 && limit-len(out) < page {
			page = limit - len(out)
		}
		if page <= 0 {
			break
		}
		var guilds []*discordgo.UserGuild
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			guilds, apiErr = a.sess.UserGuilds(page, "", after, false)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: list guilds: %w", err)
		}
		for _, g := range guilds {
			out = append(out, client.ThreadInfo{ID: g.ID, Name: g.Name, ImageSrc: g.Icon})
		}
		if len(guilds) < page {
			break
		}
		after = guilds[len(guilds)-1].ID
	}
	return out, nil
}

// ThreadInfo describes a guild and its members.
func (a *Adapter) ThreadInfo(ctx context.Context, conversationID string) (*client.ThreadInfo, error) {
	g, err := a.sess.Guild(conversationID)
	if err != nil {
		return nil, fmt.Errorf("discord: guild %s: %w", conversationID, err)
	}
	info := &client.ThreadInfo{
		ID:        g.ID,
		Name:      g.Name,
		ImageSrc:  g.Icon,
		Nicknames: make(map[string]string),
	}
	after := ""
	for {
		var members []*discordgo.Member
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			members, apiErr = a.sess.GuildMembers(conversationID, after, memberPageSize)
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: guild members %s: %w", conversationID, err)
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			info.ParticipantIDs = append(info.ParticipantIDs, m.User.ID)
			if m.Nick != "" {
				info.Nicknames[m.User.ID] = m.Nick
			}
		}
		if len(members) < memberPageSize {
			break
		}
		after = members[len(members)-1].User.ID
	}
	return info, nil
}

// UserInfo resolves a user's display name.
func (a *Adapter) UserInfo(ctx context.Context, userID string) (*client.UserInfo, error) {
	u, err := a.sess.User(userID)
	if err != nil {
		return nil, fmt.Errorf("discord: user %s: %w", userID, err)
	}
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return &client.UserInfo{ID: u.ID, Name: name}, nil
}

// --- Gateway handlers ---

func (a *Adapter) onReady(r *discordgo.Ready) {
	a.mu.Lock()
	a.gotReady = true
	for _, g := range r.Guilds {
		a.ready[g.ID] = true
	}
	if r.User != nil {
		a.botID = r.User.ID
	}
	a.mu.Unlock()
	log.Printf("discord: gateway ready (%d guilds)", len(r.Guilds))
}

func (a *Adapter) onDisconnect() {
	a.emit(client.Event{Type: client.EventListenerError, Err: errors.New("discord: gateway disconnected")})
}

func (a *Adapter) onMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	if m.Author.ID == a.CurrentUserID() {
		return
	}
	a.mu.Lock()
	a.lastChannel[m.GuildID] = m.ChannelID
	a.mu.Unlock()

	ev := client.Event{
		Type:           client.EventMessage,
		ConversationID: m.GuildID,
		SenderID:       m.Author.ID,
		Body:           m.Content,
		Timestamp:      m.Timestamp,
	}
	if m.MessageReference != nil {
		ev.Type = client.EventMessageReply
	}
	for _, u := range m.Mentions {
		ev.Mentions = append(ev.Mentions, u.ID)
	}
	a.emit(ev)
}

func (a *Adapter) onGuildCreate(g *discordgo.GuildCreate) {
	if g.Guild == nil {
		return
	}
	a.mu.Lock()
	known := a.ready[g.ID] || !a.gotReady
	a.ready[g.ID] = true
	a.guilds[g.ID] = guildState{name: g.Name, icon: g.Icon}
	for _, m := range g.Members {
		if m.User != nil {
			a.nicks[g.ID+":"+m.User.ID] = m.Nick
		}
	}
	botID := a.botID
	a.mu.Unlock()

	if !known {
		a.emit(client.Event{
			Type:           client.EventParticipantAdded,
			ConversationID: g.ID,
			AddedIDs:       []string{botID},
		})
	}
}

func (a *Adapter) onGuildUpdate(g *discordgo.GuildUpdate) {
	if g.Guild == nil {
		return
	}
	a.mu.Lock()
	prev, seen := a.guilds[g.ID]
	a.guilds[g.ID] = guildState{name: g.Name, icon: g.Icon}
	a.mu.Unlock()
	if !seen {
		return
	}

	if prev.name != g.Name {
		a.emit(client.Event{
			Type:           client.EventTitleChanged,
			ConversationID: g.ID,
			AuthorID:       a.auditAuthor(g.ID, discordgo.AuditLogActionGuildUpdate, g.ID),
			NewTitle:       g.Name,
		})
	}
	if prev.icon != g.Icon {
		a.emit(client.Event{
			Type:           client.EventPhotoChanged,
			ConversationID: g.ID,
			AuthorID:       a.auditAuthor(g.ID, discordgo.AuditLogActionGuildUpdate, g.ID),
			PhotoRef:       g.Icon,
		})
	}
}

func (a *Adapter) onMemberUpdate(m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.User == nil {
		return
	}
	key := m.GuildID + ":" + m.User.ID
	a.mu.Lock()
	prev, seen := a.nicks[key]
	a.nicks[key] = m.Nick
	a.mu.Unlock()
	if seen && prev == m.Nick {
		return
	}
	a.emit(client.Event{
		Type:           client.EventNicknameChanged,
		ConversationID: m.GuildID,
		AuthorID:       a.auditAuthor(m.GuildID, discordgo.AuditLogActionMemberUpdate, m.User.ID),
		ParticipantID:  m.User.ID,
		NewNickname:    m.Nick,
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

// auditAuthor attributes the most recent change of the given kind on target.
// Returns "" when the audit log is unavailable.
func (a *Adapter) auditAuthor(guildID string, action discordgo.AuditLogAction, targetID string) string {
	entries, err := a.sess.GuildAuditLog(guildID, "", "", int(action), auditLookback)
	if err != nil {
		log.Printf("discord: audit log %s: %v", guildID, err)
		return ""
	}
	for _, e := range entries.AuditLogEntries {
		if e.TargetID == targetID {
			return e.UserID
		}
	}
	return ""
}

// homeChannel picks the text channel that stands in for a guild.
func (a *Adapter) homeChannel(guildID string) (string, error) {
	a.mu.Lock()
	ch := a.lastChannel[guildID]
	a.mu.Unlock()
	if ch != "" {
		return ch, nil
	}
	g, err := a.sess.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("discord: guild %s: %w", guildID, err)
	}
	if g.SystemChannelID != "" {
		return g.SystemChannelID, nil
	}
	for _, c := range g.Channels {
		if c.Type == discordgo.ChannelTypeGuildText {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("discord: guild %s has no text channel", guildID)
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
