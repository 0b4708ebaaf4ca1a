package bot

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/akotadi/Lockout-Bot/internal/contest"
	"github.com/akotadi/Lockout-Bot/internal/storage"
)

const embedColor = 0x00ADD8

func problemLink(p storage.Problem) string {
	return fmt.Sprintf("[%s](https://codeforces.com/problemset/problem/%d/%s)",
		p.Name, p.ContestID, p.Index)
}

func handleEmbed(userID string, h *storage.Handle) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Handle set",
		Color: embedColor,
		Description: fmt.Sprintf("<@%s> is now [%s](https://codeforces.com/profile/%s)",
			userID, h.Handle, h.Handle),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Rank", Value: h.Rank, Inline: true},
			{Name: "Rating", Value: fmt.Sprintf("%d", h.Rating), Inline: true},
		},
	}
}

func matchProblemsEmbed(m *storage.Match) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, 0, len(m.Problems))
	for i, p := range m.Problems {
		if i < len(m.Status) && m.Status[i] != '0' {
			continue
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%d points", 100*(i+1)),
			Value: fmt.Sprintf("%s (%d)", problemLink(p), p.Rating),
		})
	}
	return &discordgo.MessageEmbed{
		Title: "Match problems",
		Color: embedColor,
		Description: fmt.Sprintf("<@%s> vs <@%s>, %d minutes",
			m.P1ID, m.P2ID, m.DurationMin),
		Fields: fields,
	}
}

func roundProblemsEmbed(rd *storage.Round) *discordgo.MessageEmbed {
	var users strings.Builder
	for i, u := range rd.Users {
		if i > 0 {
			users.WriteString(" vs ")
		}
		fmt.Fprintf(&users, "<@%s>", u)
	}

	fields := make([]*discordgo.MessageEmbedField, 0, len(rd.Problems))
	for i, p := range rd.Problems {
		if rd.Status[i] != 0 {
			continue
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%d points", rd.Points[i]),
			Value: fmt.Sprintf("%s (%d)", problemLink(p), p.Rating),
		})
	}
	return &discordgo.MessageEmbed{
		Title:       "Round problems",
		Color:       embedColor,
		Description: fmt.Sprintf("%s, %d minutes", users.String(), rd.DurationMin),
		Fields:      fields,
	}
}

func standingsEmbed(title string, s *contest.Standings) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, o := range s.Outcomes {
		fmt.Fprintf(&sb, "%d. <@%s>", o.Rank, o.UserID)
		if s.Changes != nil {
			c := s.Changes[o.UserID]
			fmt.Fprintf(&sb, " %d (%+d)", c.NewRating, c.Delta)
		}
		sb.WriteString("\n")
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Color:       embedColor,
		Description: sb.String(),
	}
}
