// Package codriver relays chat messages from a Discord channel to the most
// recent cockpit as spoken commands.
package codriver

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/voice-drive-lab/internal/bridge"
	"github.com/voice-drive-lab/internal/logging"
	"github.com/voice-drive-lab/internal/voice"
)

// Sayer classifies an utterance for one cockpit.
type Sayer interface {
	Say(ctx context.Context, text string, confidence float64) (voice.Decision, error)
}

// Relay listens to one channel and forwards prefixed messages.
type Relay struct {
	session   *discordgo.Session
	channelID string
	prefix    string
	route     func() (Sayer, bool)
	timeout   time.Duration
}

// New creates a relay bound to hub. Call Open to connect.
func New(token, channelID, prefix string, hub *bridge.Hub) (*Relay, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	r := newRelay(channelID, prefix, func() (Sayer, bool) {
		c, ok := hub.Latest()
		if !ok {
			return nil, false
		}
		return c, true
	})
	r.session = dg
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		r.onMessage(s, m)
	})
	dg.AddHandler(func(s *discordgo.Session, ready *discordgo.Ready) {
		logging.Infow("discord relay ready", "user", ready.User.Username, "channel.id", r.channelID, "channel.name", channelName(s, r.channelID))
	})
	return r, nil
}

func newRelay(channelID, prefix string, route func() (Sayer, bool)) *Relay {
	if prefix == "" {
		prefix = "!drive"
	}
	return &Relay{channelID: channelID, prefix: prefix, route: route, timeout: 5 * time.Second}
}

func (r *Relay) Open() error { return r.session.Open() }

func (r *Relay) Close() error { return r.session.Close() }

func (r *Relay) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	reply, ok := r.handle(ctx, m.ChannelID, m.Author.Bot, m.Content)
	if !ok {
		return
	}
	logging.Debugw("relayed chat command", "author", m.Author.Username, "content", m.Content, "reply", reply)
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		logging.Warnw("discord reply failed", "channel.id", m.ChannelID, "err", err)
	}
}

// handle returns the reply for a message, or false when the message is not
// meant for the relay.
func (r *Relay) handle(ctx context.Context, channelID string, fromBot bool, content string) (string, bool) {
	if fromBot || channelID != r.channelID {
		return "", false
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), r.prefix)
	if !ok {
		return "", false
	}
	if first, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(first) {
		return "", false
	}
	text := strings.TrimSpace(rest)
	if text == "" {
		return "usage: " + r.prefix + " <command>", true
	}
	target, ok := r.route()
	if !ok {
		return "no cockpit connected", true
	}
	d, err := target.Say(ctx, text, 1)
	if err != nil {
		logging.Warnw("relay say failed", "err", err)
		return "cockpit unavailable", true
	}
	if d.Accepted() {
		return "command: " + d.Command.String(), true
	}
	return "ignored: " + d.Reason.String(), true
}

func channelName(s *discordgo.Session, id string) string {
	if s.State != nil {
		if c, err := s.State.Channel(id); err == nil && c != nil {
			return c.Name
		}
	}
	if c, err := s.Channel(id); err == nil && c != nil {
		return c.Name
	}
	return ""
}
