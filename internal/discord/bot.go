// Package discord adapts a Discord voice channel to the transcription
// pipeline via the bwmarrin/discordgo library: it joins a voice channel,
// demuxes per-SSRC Opus into per-user 48 kHz stereo PCM, forwards chat
// messages, and resolves display names.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Pipeline is the boundary the adapter pushes captured media into. The
// session coordinator implements it.
type Pipeline interface {
	IngestStereo48(participantID string, pcm []byte)
	FlushAll()
	LogText(userID, displayName string, createdTS float64, text string)
}

// Config holds the gateway and channel bindings.
type Config struct {
	// Token is the bot token.
	Token string

	// GuildID and VoiceChannelID identify the voice channel to capture.
	GuildID        string
	VoiceChannelID string

	// TextChannelID optionally restricts which channel's messages feed the
	// session log. Empty means all channels of the guild.
	TextChannelID string
}

// Bot owns the gateway session and the voice capture loop.
type Bot struct {
	cfg      Config
	pipeline Pipeline
	session  *discordgo.Session

	mu       sync.RWMutex
	ssrcUser map[uint32]string
}

// New creates a bot bound to the pipeline. Call [Bot.Run] to connect.
func New(cfg Config, pipeline Pipeline) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: token must not be empty")
	}
	if cfg.GuildID == "" || cfg.VoiceChannelID == "" {
		return nil, fmt.Errorf("discord: guild and voice channel ids must not be empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	return &Bot{
		cfg:      cfg,
		pipeline: pipeline,
		session:  session,
		ssrcUser: make(map[uint32]string),
	}, nil
}

// Directory returns the display-name resolver backed by this session.
func (b *Bot) Directory() *Directory {
	return &Directory{session: b.session, guildID: b.cfg.GuildID}
}

// Run connects the gateway, joins the voice channel, and captures audio
// until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.session.AddHandler(b.onMessage)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	defer b.session.Close()

	// mute=true (we never send audio), deaf=false (we receive it).
	vc, err := b.session.ChannelVoiceJoin(b.cfg.GuildID, b.cfg.VoiceChannelID, true, false)
	if err != nil {
		return fmt.Errorf("discord: join voice channel %q: %w", b.cfg.VoiceChannelID, err)
	}
	defer vc.Disconnect()

	vc.AddHandler(b.onSpeakingUpdate)
	slog.Info("discord: capturing voice channel", "guild", b.cfg.GuildID, "channel", b.cfg.VoiceChannelID)

	b.recvLoop(ctx, vc)
	return nil
}

// onSpeakingUpdate learns the SSRC→user mapping and flushes segmenters when
// someone stops talking, so trailing utterances finalize without waiting for
// the silence gap.
func (b *Bot) onSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	b.mu.Lock()
	b.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	b.mu.Unlock()

	if !vs.Speaking {
		b.pipeline.FlushAll()
	}
}

// userForSSRC maps an RTP source to a participant id. Packets arriving
// before the speaking update are attributed to a synthetic ssrc id; the
// original speaker mapping catches up on the next update.
func (b *Bot) userForSSRC(ssrc uint32) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id, ok := b.ssrcUser[ssrc]; ok {
		return id
	}
	return fmt.Sprintf("ssrc:%d", ssrc)
}

// onMessage feeds guild chat into the session log.
func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return
	}
	if m.GuildID != b.cfg.GuildID {
		return
	}
	if b.cfg.TextChannelID != "" && m.ChannelID != b.cfg.TextChannelID {
		return
	}
	b.pipeline.LogText(
		m.Author.ID,
		displayName(m.Member, m.Author),
		float64(m.Timestamp.UnixNano())/1e9,
		m.Content,
	)
}

// displayName prefers the guild nickname, then the global name, then the
// account username.
func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
