package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/akotadi/Lockout-Bot/internal/challonge"
	"github.com/akotadi/Lockout-Bot/internal/codeforces"
	"github.com/akotadi/Lockout-Bot/internal/config"
	"github.com/akotadi/Lockout-Bot/internal/contest"
	"github.com/akotadi/Lockout-Bot/internal/poller"
	"github.com/akotadi/Lockout-Bot/internal/rating"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// Bot represents the Discord bot instance
type Bot struct {
	config    *config.Config
	session   *discordgo.Session
	repo      *storage.Repository
	cf        *codeforces.Client
	brackets  *challonge.Client
	collector *Collector

	guard      *contest.Guard
	challenges *contest.ChallengeNegotiator
	rounds     *contest.RoundNegotiator
	lifecycle  *contest.Lifecycle

	poller   *poller.Poller
	commands []*discordgo.ApplicationCommand
}

// New creates a new Bot instance
func New(cfg *config.Config) (*Bot, error) {
	// Create Discord session
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Set intents: negotiation prompts are answered with plain messages
	// and reactions
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	// Initialize storage
	repo, err := storage.NewRepository(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	cf := codeforces.NewClient()
	brackets := challonge.NewClient(cfg.ChallongeUser, cfg.ChallongeAPIKey)
	collector := NewCollector(session)

	announce := func(channelID, message string) {
		if _, err := session.ChannelMessageSend(channelID, message); err != nil {
			slog.Error("Failed to send announcement", "channel", channelID, "error", err)
		}
	}

	limits := contest.Limits{
		MinRating:   cfg.MinProblemRating,
		MaxRating:   cfg.MaxProblemRating,
		MinDuration: cfg.MinDurationMin,
		MaxDuration: cfg.MaxDurationMin,
	}

	lifecycle := contest.NewLifecycle(repo, collector, rating.New(), brackets)

	b := &Bot{
		config:     cfg,
		session:    session,
		repo:       repo,
		cf:         cf,
		brackets:   brackets,
		collector:  collector,
		guard:      contest.NewGuard(repo),
		challenges: contest.NewChallengeNegotiator(repo, collector, cf, announce, limits),
		rounds:     contest.NewRoundNegotiator(repo, collector, cf, brackets, limits),
		lifecycle:  lifecycle,
	}
	b.poller = poller.New(repo, cf, lifecycle, announce, cfg.PollingIntervalSeconds)

	// Register command handlers
	b.registerHandlers()

	return b, nil
}

// Store exposes the repository for read-only surfaces built on top of the
// bot, such as the HTTP API.
func (b *Bot) Store() *storage.Repository {
	return b.repo
}

// Start opens the Discord connection and starts background tasks
func (b *Bot) Start(ctx context.Context) error {
	// Open Discord connection
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	slog.Info("Connected to Discord", "user", b.session.State.User.Username)

	// Register slash commands
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}

	// Start the contest poller
	go b.poller.Start(ctx)

	return nil
}

// Stop gracefully shuts down the bot
func (b *Bot) Stop() error {
	if b.poller != nil {
		b.poller.Stop()
	}

	// Close storage
	if b.repo != nil {
		b.repo.Close()
	}

	// Close Discord session
	if b.session != nil {
		return b.session.Close()
	}

	return nil
}

// registerHandlers sets up Discord event handlers
func (b *Bot) registerHandlers() {
	b.session.AddHandler(b.handleInteraction)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("Bot is ready", "guilds", len(r.Guilds))
	})
}

// handleInteraction processes slash command interactions
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	slog.Debug("Received command", "command", data.Name, "guild", i.GuildID)

	switch data.Name {
	case "handle":
		b.handleHandle(s, i)
	case "challenge":
		b.handleChallenge(s, i)
	case "round":
		b.handleRound(s, i)
	case "match":
		b.handleMatch(s, i)
	case "tournament":
		b.handleTournament(s, i)
	case "ongoing":
		b.handleOngoing(s, i)
	case "recent":
		b.handleRecent(s, i)
	case "ranklist":
		b.handleRanklist(s, i)
	default:
		slog.Warn("Unknown command", "command", data.Name)
	}
}
