package gateway

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordLimit is the longest message Discord accepts.
const discordLimit = 2000

type DiscordGateway struct {
	Session *discordgo.Session
	runner  *ChatRunner
	logger  *zap.Logger
}

func NewDiscordGateway(token string, runner *ChatRunner, logger *zap.Logger) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordGateway{Session: s, runner: runner, logger: logger}, nil
}

func (dg *DiscordGateway) Start(ctx context.Context) error {
	remove := dg.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		// In guild channels only react when mentioned.
		if m.GuildID != "" && !mentions(m.Message, s) {
			return
		}
		dg.logger.Debug("discord message", zap.String("user", m.Author.Username), zap.String("text", m.Content))
		go dg.runner.Handle(ctx, dg, "discord", m.ChannelID, m.Content)
	})
	defer remove()

	if err := dg.Session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	if dg.Session.State != nil && dg.Session.State.User != nil {
		dg.logger.Info("discord authorized", zap.String("account", dg.Session.State.User.Username))
	}

	<-ctx.Done()
	return nil
}

func mentions(m *discordgo.Message, s *discordgo.Session) bool {
	if s.State == nil || s.State.User == nil {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			return true
		}
	}
	return false
}

func (dg *DiscordGateway) Send(chatID string, text string) error {
	for _, chunk := range splitMessage(text, discordLimit) {
		if _, err := dg.Session.ChannelMessageSend(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (dg *DiscordGateway) SendImage(chatID string, png []byte, caption string) error {
	_, err := dg.Session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        "screenshot.png",
			ContentType: "image/png",
			Reader:      bytes.NewReader(png),
		}},
	})
	return err
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
