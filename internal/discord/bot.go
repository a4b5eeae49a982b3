package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/KetaVip/license-bot/internal/domain"
	"github.com/KetaVip/license-bot/internal/service"
)

// Bot is the chat front end for the license store. It doubles as the
// sweeper's RoleManager and Notifier so expiry side effects land in the
// same guild the commands operate on.
type Bot struct {
	session    *discordgo.Session
	store      *service.LicenseStore
	cache      service.UnknownHWIDCache
	guildID    string
	vipRoleID  string
	prefix     string
	operators  map[string]struct{}
	defaultTTL time.Duration
	logger     *slog.Logger
}

type Config struct {
	Token      string
	Prefix     string
	GuildID    string
	VIPRoleID  string
	Operators  []string
	DefaultTTL time.Duration
}

func New(cfg Config, store *service.LicenseStore, cache service.UnknownHWIDCache, logger *slog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	b := newBot(cfg, store, cache, logger)
	b.session = session
	session.AddHandler(b.onMessage)
	return b, nil
}

func newBot(cfg Config, store *service.LicenseStore, cache service.UnknownHWIDCache, logger *slog.Logger) *Bot {
	ops := make(map[string]struct{}, len(cfg.Operators))
	for _, id := range cfg.Operators {
		ops[id] = struct{}{}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}
	return &Bot{
		store:      store,
		cache:      cache,
		guildID:    cfg.GuildID,
		vipRoleID:  cfg.VIPRoleID,
		prefix:     prefix,
		operators:  ops,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}
}

// Run opens the gateway connection and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	b.logger.Info("discord bot connected", "guild_id", b.guildID)
	<-ctx.Done()
	if err := b.session.Close(); err != nil {
		b.logger.Warn("discord session close failed", "error", err)
	}
	return nil
}

// GrantRole implements service.RoleManager.
func (b *Bot) GrantRole(_ context.Context, subjectID uint64) error {
	if b.session == nil {
		return errors.New("discord session not connected")
	}
	return b.session.GuildMemberRoleAdd(b.guildID, strconv.FormatUint(subjectID, 10), b.vipRoleID)
}

// RevokeRole implements service.RoleManager.
func (b *Bot) RevokeRole(_ context.Context, subjectID uint64) error {
	if b.session == nil {
		return errors.New("discord session not connected")
	}
	return b.session.GuildMemberRoleRemove(b.guildID, strconv.FormatUint(subjectID, 10), b.vipRoleID)
}

// NotifySubject implements service.Notifier via DM.
func (b *Bot) NotifySubject(_ context.Context, subjectID uint64, message string) error {
	if b.session == nil {
		return errors.New("discord session not connected")
	}
	channel, err := b.session.UserChannelCreate(strconv.FormatUint(subjectID, 10))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	_, err = b.session.ChannelMessageSend(channel.ID, message)
	return err
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, b.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, b.prefix))
	if len(fields) == 0 {
		return
	}

	mentions := make([]uint64, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		if id, err := strconv.ParseUint(u.ID, 10, 64); err == nil {
			mentions = append(mentions, id)
		}
	}

	reply := b.handleCommand(context.Background(), m.Author.ID, fields[0], fields[1:], mentions)
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		b.logger.Warn("reply failed", "channel_id", m.ChannelID, "error", err)
	}
}

// handleCommand resolves a prefix command to its reply text. Store state is
// authoritative; Discord side effects are best-effort and never undo a
// mutation that already committed.
func (b *Bot) handleCommand(ctx context.Context, authorID, cmd string, args []string, mentions []uint64) string {
	switch cmd {
	case "ping":
		return "pong"
	case "setvip":
		return b.cmdSetVIP(ctx, authorID, args, mentions)
	case "renewvip":
		return b.cmdRenewVIP(ctx, authorID, args, mentions)
	case "removevip":
		return b.cmdRemoveVIP(ctx, authorID, mentions)
	case "resetip":
		return b.cmdResetIP(ctx, authorID, mentions)
	case "listvip":
		return b.cmdListVIP(ctx, authorID)
	default:
		return ""
	}
}

func (b *Bot) cmdSetVIP(ctx context.Context, authorID string, args []string, mentions []uint64) string {
	if !b.isOperator(authorID) {
		return "you are not allowed to do that"
	}
	if len(mentions) == 0 {
		return "usage: " + b.prefix + "setvip @user [days]"
	}
	subjectID := mentions[0]

	ttl := b.defaultTTL
	if days, ok := trailingDays(args); ok {
		ttl = time.Duration(days) * 24 * time.Hour
	}

	rec, err := b.store.Issue(ctx, subjectID, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTTL) {
			return "days must be a positive number"
		}
		b.logger.Error("issue failed", "subject_id", subjectID, "error", err)
		return "could not issue the license"
	}

	if err := b.GrantRole(ctx, subjectID); err != nil {
		b.logger.Warn("role grant failed", "subject_id", subjectID, "error", err)
	}
	if err := b.NotifySubject(ctx, subjectID, "Your VIP key: `"+rec.HWID+"` (expires "+rec.ExpiresAt.Format("2006-01-02")+")"); err != nil {
		b.logger.Warn("hwid dm failed", "subject_id", subjectID, "error", err)
	}
	if err := b.cache.Flush(ctx); err != nil {
		b.logger.Warn("negative cache flush failed", "error", err)
	}

	return fmt.Sprintf("<@%d> is VIP until %s, key sent by DM", subjectID, rec.ExpiresAt.Format("2006-01-02"))
}

func (b *Bot) cmdRenewVIP(ctx context.Context, authorID string, args []string, mentions []uint64) string {
	if !b.isOperator(authorID) {
		return "you are not allowed to do that"
	}
	if len(mentions) == 0 {
		return "usage: " + b.prefix + "renewvip @user <days>"
	}
	days, ok := trailingDays(args)
	if !ok {
		return "usage: " + b.prefix + "renewvip @user <days>"
	}
	subjectID := mentions[0]

	expiresAt, err := b.store.Renew(ctx, subjectID, time.Duration(days)*24*time.Hour)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fmt.Sprintf("<@%d> has no license", subjectID)
		case errors.Is(err, domain.ErrInvalidTTL):
			return "days must be a positive number"
		default:
			b.logger.Error("renew failed", "subject_id", subjectID, "error", err)
			return "could not renew the license"
		}
	}
	return fmt.Sprintf("<@%d> renewed until %s", subjectID, expiresAt.Format("2006-01-02"))
}

func (b *Bot) cmdRemoveVIP(ctx context.Context, authorID string, mentions []uint64) string {
	if !b.isOperator(authorID) {
		return "you are not allowed to do that"
	}
	if len(mentions) == 0 {
		return "usage: " + b.prefix + "removevip @user"
	}
	subjectID := mentions[0]

	if err := b.store.Revoke(ctx, subjectID); err != nil {
		b.logger.Error("revoke failed", "subject_id", subjectID, "error", err)
		return "could not revoke the license"
	}
	if err := b.RevokeRole(ctx, subjectID); err != nil {
		b.logger.Warn("role revocation failed", "subject_id", subjectID, "error", err)
	}
	return fmt.Sprintf("<@%d> is no longer VIP", subjectID)
}

// cmdResetIP is self-service with the daily cap. Operators bypass the cap
// on every reset, their own binding included, and may target any subject.
func (b *Bot) cmdResetIP(ctx context.Context, authorID string, mentions []uint64) string {
	subjectID, err := strconv.ParseUint(authorID, 10, 64)
	if err != nil {
		return ""
	}
	asOwner := b.isOperator(authorID)
	if len(mentions) > 0 {
		if !asOwner {
			return "you are not allowed to reset someone else's binding"
		}
		subjectID = mentions[0]
	}

	if err := b.store.ResetBinding(ctx, subjectID, asOwner); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return fmt.Sprintf("<@%d> has no license", subjectID)
		case errors.Is(err, domain.ErrRateLimited):
			return "daily reset limit reached, try again tomorrow"
		default:
			b.logger.Error("reset binding failed", "subject_id", subjectID, "error", err)
			return "could not reset the binding"
		}
	}
	return fmt.Sprintf("IP binding cleared for <@%d>", subjectID)
}

func (b *Bot) cmdListVIP(ctx context.Context, authorID string) string {
	if !b.isOperator(authorID) {
		return "you are not allowed to do that"
	}
	recs, err := b.store.ListActive(ctx)
	if err != nil {
		b.logger.Error("list active failed", "error", err)
		return "could not list licenses"
	}
	if len(recs) == 0 {
		return "no active licenses"
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d active license(s):\n", len(recs)))
	for _, rec := range recs {
		ip := "unbound"
		if rec.BoundIP != nil {
			ip = *rec.BoundIP
		}
		sb.WriteString(fmt.Sprintf("<@%d> until %s, key %s…, ip %s\n",
			rec.SubjectID, rec.ExpiresAt.Format("2006-01-02"), shortHWID(rec.HWID), ip))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) isOperator(userID string) bool {
	_, ok := b.operators[userID]
	return ok
}

// trailingDays pulls the last numeric argument, skipping mention tokens.
func trailingDays(args []string) (int, bool) {
	for i := len(args) - 1; i >= 0; i-- {
		if strings.HasPrefix(args[i], "<@") {
			continue
		}
		n, err := strconv.Atoi(args[i])
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func shortHWID(hwid string) string {
	if len(hwid) <= 8 {
		return hwid
	}
	return hwid[:8]
}
