package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/akotadi/Lockout-Bot/internal/contest"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

// identifyWait is how long a user gets to prove handle ownership.
const identifyWait = 60 * time.Second

// Slash command definitions
func (b *Bot) getCommandDefinitions() []*discordgo.ApplicationCommand {
	userOpt := func(name, desc string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionUser,
			Name:        name,
			Description: desc,
			Required:    required,
		}
	}
	sub := func(name, desc string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
			Options:     opts,
		}
	}

	roundUsers := []*discordgo.ApplicationCommandOption{}
	for n := 1; n <= 4; n++ {
		roundUsers = append(roundUsers,
			userOpt(fmt.Sprintf("user%d", n), "Participant to challenge", n == 1))
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        "handle",
			Description: "Codeforces handle registration",
			Options: []*discordgo.ApplicationCommandOption{
				sub("set", "Set someone's handle (privileged)",
					userOpt("user", "Member to register", true),
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "handle",
						Description: "Codeforces handle", Required: true,
					}),
				sub("identify", "Register your own handle",
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "handle",
						Description: "Codeforces handle", Required: true,
					}),
				sub("remove", "Remove someone's handle (privileged)", userOpt("user", "Member", true)),
				sub("get", "Show someone's handle", userOpt("user", "Member", true)),
				sub("list", "List registered handles"),
			},
		},
		{
			Name:        "challenge",
			Description: "1v1 match negotiation",
			Options: []*discordgo.ApplicationCommandOption{
				sub("propose", "Challenge someone to a match",
					userOpt("user", "Opponent", true),
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionInteger, Name: "rating",
						Description: "Lowest problem rating", Required: true,
					}),
				sub("withdraw", "Withdraw your challenge"),
				sub("decline", "Decline a challenge"),
				sub("accept", "Accept a challenge"),
				sub("invalidate", "Invalidate someone's match (privileged)", userOpt("user", "Member", true)),
			},
		},
		{
			Name:        "round",
			Description: "Multi-party round negotiation",
			Options: []*discordgo.ApplicationCommandOption{
				sub("propose", "Challenge users to a round", roundUsers...),
				sub("custom", "Challenge users to a round with a custom problemset", roundUsers...),
				sub("invalidate", "Invalidate someone's round (privileged)", userOpt("user", "Member", true)),
				sub("problems", "Show the problems of an ongoing round", userOpt("user", "Member", false)),
			},
		},
		{
			Name:        "match",
			Description: "Operations on your ongoing match",
			Options: []*discordgo.ApplicationCommandOption{
				sub("draw", "Offer to draw the match"),
				sub("forfeit", "Offer to forfeit the match"),
				sub("problems", "Show the problems of an ongoing match", userOpt("user", "Member", false)),
			},
		},
		{
			Name:        "tournament",
			Description: "Challonge bracket linkage",
			Options: []*discordgo.ApplicationCommandOption{
				sub("set", "Link this server to a bracket (privileged)",
					&discordgo.ApplicationCommandOption{
						Type: discordgo.ApplicationCommandOptionString, Name: "id",
						Description: "Challonge tournament id or url slug", Required: true,
					}),
				sub("off", "Unlink the bracket (privileged)"),
			},
		},
		{Name: "ongoing", Description: "Show ongoing matches and rounds"},
		{
			Name:        "recent",
			Description: "Show recently finished contests",
			Options:     []*discordgo.ApplicationCommandOption{userOpt("user", "Member", false)},
		},
		{Name: "ranklist", Description: "Show lockout ratings of all rated users"},
	}
}

// registerCommands registers all slash commands with Discord
func (b *Bot) registerCommands() error {
	slog.Info("Registering slash commands")

	commandDefinitions := b.getCommandDefinitions()
	registeredCommands := make([]*discordgo.ApplicationCommand, 0, len(commandDefinitions))

	for _, cmd := range commandDefinitions {
		registered, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", cmd)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		registeredCommands = append(registeredCommands, registered)
		slog.Debug("Registered command", "name", cmd.Name)
	}

	b.commands = registeredCommands
	slog.Info("Slash commands registered", "count", len(registeredCommands))
	return nil
}

// Option plumbing

func subcommand(i *discordgo.InteractionCreate) (string, []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return "", nil
	}
	return opts[0].Name, opts[0].Options
}

func optUser(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.Value.(string)
		}
	}
	return ""
}

func optString(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

func optInt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) int {
	for _, o := range opts {
		if o.Name == name {
			return int(o.IntValue())
		}
	}
	return 0
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		slog.Error("Failed to respond to interaction", "error", err)
	}
}

func (b *Bot) send(channelID, content string) {
	if _, err := b.session.ChannelMessageSend(channelID, content); err != nil {
		slog.Error("Failed to send message", "channel", channelID, "error", err)
	}
}

func (b *Bot) sendEmbed(channelID string, embed *discordgo.MessageEmbed) {
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		slog.Error("Failed to send embed", "channel", channelID, "error", err)
	}
}

// hasPrivilege reports whether the caller may run privileged commands:
// Manage Server, or one of the configured roles.
func (b *Bot) hasPrivilege(s *discordgo.Session, i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if i.Member.Permissions&discordgo.PermissionManageServer != 0 {
		return true
	}

	roles, err := s.GuildRoles(i.GuildID)
	if err != nil {
		slog.Error("Failed to fetch guild roles", "guild", i.GuildID, "error", err)
		return false
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	for _, id := range i.Member.Roles {
		for _, allowed := range b.config.PrivilegedRoles {
			if names[id] == allowed {
				return true
			}
		}
	}
	return false
}

// errMessage renders a negotiation error for the channel.
func errMessage(err error) string {
	var external *contest.ExternalError
	switch {
	case errors.As(err, &external):
		return external.Reason
	case errors.Is(err, contest.ErrTimeout):
		return "you took too long to decide, request cancelled"
	case errors.Is(err, contest.ErrPermission):
		return "you need 'manage server' permission or a lockout manager role to do that"
	case errors.Is(err, contest.ErrValidation),
		errors.Is(err, contest.ErrConflict),
		errors.Is(err, contest.ErrNotFound):
		return err.Error()
	default:
		slog.Error("Command failed", "error", err)
		return "something went wrong, please try again"
	}
}

// Handle commands

func (b *Bot) handleHandle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name, opts := subcommand(i)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch name {
	case "set":
		if !b.hasPrivilege(s, i) {
			respond(s, i, errMessage(contest.ErrPermission))
			return
		}
		respond(s, i, "checking handle...")
		b.setHandle(ctx, i, optUser(opts, "user"), optString(opts, "handle"))

	case "identify":
		respond(s, i, "checking handle...")
		b.identifyHandle(ctx, i, optString(opts, "handle"))

	case "remove":
		if !b.hasPrivilege(s, i) {
			respond(s, i, errMessage(contest.ErrPermission))
			return
		}
		userID := optUser(opts, "user")
		if kind, engaged, _ := b.guard.Engaged(i.GuildID, userID); engaged {
			respond(s, i, fmt.Sprintf("<@%s> is currently %s, try again later", userID, kind))
			return
		}
		if err := b.repo.RemoveHandle(i.GuildID, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				respond(s, i, fmt.Sprintf("handle for <@%s> not set", userID))
				return
			}
			respond(s, i, errMessage(err))
			return
		}
		respond(s, i, fmt.Sprintf("handle for <@%s> removed successfully", userID))

	case "get":
		userID := optUser(opts, "user")
		h, err := b.repo.GetHandle(i.GuildID, userID)
		if err != nil {
			respond(s, i, fmt.Sprintf("handle for <@%s> is not set currently", userID))
			return
		}
		respond(s, i, fmt.Sprintf("handle for <@%s> is [%s](https://codeforces.com/profile/%s), %s (%d)",
			userID, h.Handle, h.Handle, h.Rank, h.Rating))

	case "list":
		handles, err := b.repo.ListHandles(i.GuildID)
		if err != nil || len(handles) == 0 {
			respond(s, i, "no one has set their handle yet")
			return
		}
		var sb strings.Builder
		for _, h := range handles {
			fmt.Fprintf(&sb, "<@%s> %s (%d)\n", h.UserID, h.Handle, h.Rating)
		}
		respond(s, i, sb.String())
	}
}

// setHandle validates a handle with the Codeforces API and registers it.
func (b *Bot) setHandle(ctx context.Context, i *discordgo.InteractionCreate, userID, handle string) {
	info, err := b.cf.CheckHandle(ctx, handle)
	if err != nil {
		b.send(i.ChannelID, errMessage(err))
		return
	}
	if existing, err := b.repo.GetHandleByName(i.GuildID, info.Handle); err == nil {
		b.send(i.ChannelID, fmt.Sprintf("handle %s is already in use by <@%s>", info.Handle, existing.UserID))
		return
	}

	rank := info.Rank
	if rank == "" {
		rank = "unrated"
	}
	h := &storage.Handle{
		GuildID: i.GuildID,
		UserID:  userID,
		Handle:  info.Handle,
		Rating:  info.Rating,
		Rank:    rank,
	}
	if err := b.repo.SetHandle(h); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			b.send(i.ChannelID, fmt.Sprintf("handle for <@%s> already set", userID))
			return
		}
		b.send(i.ChannelID, errMessage(err))
		return
	}
	b.sendEmbed(i.ChannelID, handleEmbed(userID, h))
}

// identifyHandle registers the caller's own handle after they prove
// ownership by temporarily putting a token in their profile's first name.
func (b *Bot) identifyHandle(ctx context.Context, i *discordgo.InteractionCreate, handle string) {
	callerID := i.Member.User.ID
	if _, err := b.repo.GetHandle(i.GuildID, callerID); err == nil {
		b.send(i.ChannelID, "your handle is already set, ask an admin to remove it first")
		return
	}

	token := strings.ToUpper(uuid.NewString()[:13])
	b.send(i.ChannelID, fmt.Sprintf(
		"<@%s> change your first name on <https://codeforces.com/settings/social> to `%s` within %d seconds",
		callerID, token, int(identifyWait.Seconds())))

	select {
	case <-time.After(identifyWait):
	case <-ctx.Done():
		return
	}

	info, err := b.cf.CheckHandle(ctx, handle)
	if err != nil {
		b.send(i.ChannelID, errMessage(err))
		return
	}
	if info.FirstName != token {
		b.send(i.ChannelID, fmt.Sprintf("unable to verify handle, please try again <@%s>", callerID))
		return
	}
	b.setHandle(ctx, i, callerID, handle)
}

// Challenge commands

func (b *Bot) handleChallenge(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name, opts := subcommand(i)
	actorID := i.Member.User.ID
	ctx := context.Background()

	switch name {
	case "propose":
		targetID := optUser(opts, "user")
		respond(s, i, fmt.Sprintf("<@%s> is setting up a challenge against <@%s>...", actorID, targetID))
		c, err := b.challenges.Propose(ctx, i.GuildID, i.ChannelID, actorID, targetID, optInt(opts, "rating"))
		if err != nil {
			b.send(i.ChannelID, errMessage(err))
			return
		}
		b.send(i.ChannelID, fmt.Sprintf(
			"<@%s> has challenged <@%s> to a match with problem ratings from %d to %d lasting %d minutes. "+
				"Use `/challenge accept` within 60 seconds to accept",
			c.ProposerID, c.TargetID, c.Rating, c.Rating+400, c.DurationMin))

	case "withdraw":
		if err := b.challenges.Withdraw(i.GuildID, actorID); err != nil {
			respond(s, i, errMessage(err))
			return
		}
		respond(s, i, fmt.Sprintf("challenge by <@%s> has been removed", actorID))

	case "decline":
		if err := b.challenges.Decline(i.GuildID, actorID); err != nil {
			respond(s, i, errMessage(err))
			return
		}
		respond(s, i, fmt.Sprintf("challenge to <@%s> has been removed", actorID))

	case "accept":
		respond(s, i, "preparing to start the match...")
		m, err := b.challenges.Accept(ctx, i.GuildID, actorID)
		if err != nil {
			b.send(i.ChannelID, errMessage(err))
			return
		}
		b.sendEmbed(m.ChannelID, matchProblemsEmbed(m))

	case "invalidate":
		targetID := optUser(opts, "user")
		if err := b.lifecycle.InvalidateMatch(i.GuildID, targetID, b.hasPrivilege(s, i)); err != nil {
			respond(s, i, errMessage(err))
			return
		}
		respond(s, i, "match has been invalidated")
	}
}

// Round commands

func (b *Bot) handleRound(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name, opts := subcommand(i)
	actorID := i.Member.User.ID
	ctx := context.Background()

	switch name {
	case "propose", "custom":
		var participants []string
		for n := 1; n <= 4; n++ {
			if id := optUser(opts, fmt.Sprintf("user%d", n)); id != "" {
				participants = append(participants, id)
			}
		}
		respond(s, i, fmt.Sprintf("<@%s> is setting up a round...", actorID))
		rd, err := b.rounds.Propose(ctx, i.GuildID, i.ChannelID, actorID, participants, name == "custom")
		if err != nil {
			b.send(i.ChannelID, errMessage(err))
			return
		}
		b.sendEmbed(rd.ChannelID, roundProblemsEmbed(rd))

	case "invalidate":
		targetID := optUser(opts, "user")
		if err := b.lifecycle.InvalidateRound(i.GuildID, targetID, b.hasPrivilege(s, i)); err != nil {
			respond(s, i, errMessage(err))
			return
		}
		respond(s, i, "round has been invalidated")

	case "problems":
		userID := optUser(opts, "user")
		if userID == "" {
			userID = actorID
		}
		rd, err := b.repo.GetRound(i.GuildID, userID)
		if err != nil {
			respond(s, i, fmt.Sprintf("<@%s> is not in a round", userID))
			return
		}
		respond(s, i, "problems left in the round:")
		b.sendEmbed(i.ChannelID, roundProblemsEmbed(rd))
	}
}

// Match commands

func (b *Bot) handleMatch(s *discordgo.Session, i *discordgo.InteractionCreate) {
	name, opts := subcommand(i)
	actorID := i.Member.User.ID
	ctx := context.Background()

	switch name {
	case "draw":
		respond(s, i, fmt.Sprintf("<@%s> has proposed a draw", actorID))
		standings, err := b.lifecycle.DrawMatch(ctx, i.GuildID, i.ChannelID, actorID)
		if err != nil {
			if errors.Is(err, contest.ErrTimeout) {
				b.send(i.ChannelID, fmt.Sprintf("<@%s> your opponent didn't respond in time", actorID))
				return
			}
			b.send(i.ChannelID, errMessage(err))
			return
		}
		b.sendEmbed(i.ChannelID, standingsEmbed("Match over! Final standings", standings))

	case "forfeit":
		respond(s, i, fmt.Sprintf("<@%s> has proposed to forfeit", actorID))
		if err := b.lifecycle.ForfeitMatch(ctx, i.GuildID, i.ChannelID, actorID); err != nil {
			if errors.Is(err, contest.ErrTimeout) {
				b.send(i.ChannelID, fmt.Sprintf("<@%s> your opponent didn't respond in time", actorID))
				return
			}
			b.send(i.ChannelID, errMessage(err))
			return
		}
		b.send(i.ChannelID, "match has been invalidated")

	case "problems":
		userID := optUser(opts, "user")
		if userID == "" {
			userID = actorID
		}
		m, err := b.repo.GetMatch(i.GuildID, userID)
		if err != nil {
			respond(s, i, fmt.Sprintf("<@%s> is not in a match", userID))
			return
		}
		respond(s, i, "problems left in the match:")
		b.sendEmbed(i.ChannelID, matchProblemsEmbed(m))
	}
}

// Tournament linkage

func (b *Bot) handleTournament(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !b.hasPrivilege(s, i) {
		respond(s, i, errMessage(contest.ErrPermission))
		return
	}
	name, opts := subcommand(i)
	switch name {
	case "set":
		b.brackets.SetTournament(i.GuildID, optString(opts, "id"))
		respond(s, i, "bracket linked, paired rounds can now count toward it")
	case "off":
		b.brackets.SetTournament(i.GuildID, "")
		respond(s, i, "bracket unlinked")
	}
}

// Listings

func (b *Bot) handleOngoing(s *discordgo.Session, i *discordgo.InteractionCreate) {
	matches, err := b.repo.ListMatches(i.GuildID)
	if err != nil {
		respond(s, i, errMessage(err))
		return
	}
	rounds, err := b.repo.ListRounds(i.GuildID)
	if err != nil {
		respond(s, i, errMessage(err))
		return
	}
	if len(matches) == 0 && len(rounds) == 0 {
		respond(s, i, "no ongoing contests")
		return
	}

	var sb strings.Builder
	for _, m := range matches {
		a, bb := m.Scores()
		fmt.Fprintf(&sb, "match: <@%s> %d - %d <@%s>, %d mins\n", m.P1ID, a, bb, m.P2ID, m.DurationMin)
	}
	for _, rd := range rounds {
		sb.WriteString("round: ")
		for idx, u := range rd.Users {
			if idx > 0 {
				sb.WriteString(" vs ")
			}
			fmt.Fprintf(&sb, "<@%s> (%d)", u, rd.Scores[idx])
		}
		fmt.Fprintf(&sb, ", %d mins\n", rd.DurationMin)
	}
	respond(s, i, sb.String())
}

func (b *Bot) handleRecent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	// /recent takes its user option at the top level, no subcommand
	userID := optUser(i.ApplicationCommandData().Options, "user")

	matches, err := b.repo.ListFinishedMatches(i.GuildID, userID)
	if err != nil {
		respond(s, i, errMessage(err))
		return
	}
	rounds, err := b.repo.ListFinishedRounds(i.GuildID, userID)
	if err != nil {
		respond(s, i, errMessage(err))
		return
	}
	if len(matches) == 0 && len(rounds) == 0 {
		respond(s, i, "no recent contests")
		return
	}

	const limit = 10
	var sb strings.Builder
	for idx, fm := range matches {
		if idx == limit {
			break
		}
		fmt.Fprintf(&sb, "match: <@%s> %d - %d <@%s>\n", fm.P1ID, fm.P1Score, fm.P2Score, fm.P2ID)
	}
	for idx, fr := range rounds {
		if idx == limit {
			break
		}
		sb.WriteString("round: ")
		for j, u := range fr.Users {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "<@%s> #%d (%d)", u, fr.Standings[j], fr.Scores[j])
		}
		sb.WriteString("\n")
	}
	respond(s, i, sb.String())
}

func (b *Bot) handleRanklist(s *discordgo.Session, i *discordgo.InteractionCreate) {
	entries, err := b.repo.Ranklist(i.GuildID)
	if err != nil {
		respond(s, i, errMessage(err))
		return
	}
	if len(entries) == 0 {
		respond(s, i, "no user has played a rated contest so far")
		return
	}
	var sb strings.Builder
	for idx, e := range entries {
		fmt.Fprintf(&sb, "%d. <@%s> %d\n", idx+1, e.UserID, e.Rating)
	}
	respond(s, i, sb.String())
}
