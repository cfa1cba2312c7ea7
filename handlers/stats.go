package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"support-bot/stats"
	"support-bot/ticket"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func statsCommands() *discordgo.ApplicationCommand {
	minDays, minMonth := 1.0, 1.0
	return &discordgo.ApplicationCommand{
		Name:                     "stats",
		Description:              "Support statistics",
		DefaultMemberPermissions: &staffPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{Name: "summary", Description: "General summary", Type: discordgo.ApplicationCommandOptionSubCommand},
			{Name: "staff", Description: "Staff performance", Type: discordgo.ApplicationCommandOptionSubCommand},
			{
				Name: "period", Description: "Tickets created per period",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "period", Description: "Bucket size", Required: true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "day", Value: string(stats.Day)},
							{Name: "week", Value: string(stats.Week)},
							{Name: "month", Value: string(stats.Month)},
						},
					},
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "How many days back (default 30)", MinValue: &minDays, MaxValue: 365},
				},
			},
			{
				Name: "monthly", Description: "Monthly report",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "month", Description: "Month (1-12), current by default", MinValue: &minMonth, MaxValue: 12},
					{Type: discordgo.ApplicationCommandOptionInteger, Name: "year", Description: "Year, current by default"},
				},
			},
			{
				Name: "export", Description: "Export statistics as CSV",
				Type: discordgo.ApplicationCommandOptionSubCommand,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type: discordgo.ApplicationCommandOptionString, Name: "kind", Description: "Table to export", Required: true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "tickets", Value: string(stats.ExportTickets)},
							{Name: "staff", Value: string(stats.ExportStaff)},
							{Name: "daily", Value: string(stats.ExportDaily)},
						},
					},
				},
			},
			{Name: "alerts", Description: "Active performance alerts", Type: discordgo.ApplicationCommandOptionSubCommand},
		},
	}
}

func (h *Handler) handleStatsCommand(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !h.actor(i).Staff {
		h.fail(s, i, "stats", ticket.ErrNotStaff)
		return
	}
	sub, opts := subcommand(i)
	om := subOptMap(opts)
	switch sub {
	case "summary":
		respondEmbed(s, i, h.summaryEmbed(i), true)
	case "staff":
		respondEmbed(s, i, h.staffEmbed(i), true)
	case "period":
		h.handleStatsPeriod(s, i, optStr(om, "period", "day"), int(optInt(om, "days", 30)))
	case "monthly":
		now := h.clock.Now()
		h.handleStatsMonthly(s, i, int(optInt(om, "year", int64(now.Year()))), time.Month(optInt(om, "month", int64(now.Month()))))
	case "export":
		h.handleStatsExport(s, i, stats.ExportKind(optStr(om, "kind", "")))
	case "alerts":
		respondEmbed(s, i, h.alertsEmbed(i), true)
	}
}

func (h *Handler) summaryEmbed(i *discordgo.InteractionCreate) *discordgo.MessageEmbed {
	sum := h.stats.Summary()
	return &discordgo.MessageEmbed{
		Title: h.t(i, "stats.summary.title"),
		Color: colorPanel,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "stats.field.total"), Value: fmt.Sprint(sum.TotalTickets), Inline: true},
			{Name: h.t(i, "stats.field.open"), Value: fmt.Sprint(sum.OpenTickets), Inline: true},
			{Name: h.t(i, "stats.field.closed"), Value: fmt.Sprint(sum.ClosedTickets), Inline: true},
			{Name: h.t(i, "stats.field.response"), Value: sum.AvgResponseTime, Inline: true},
			{Name: h.t(i, "stats.field.resolution"), Value: sum.AvgResolutionTime, Inline: true},
			{Name: h.t(i, "stats.field.satisfaction"), Value: fmt.Sprintf("%.1f/5", sum.CustomerSatisfaction), Inline: true},
			{Name: h.t(i, "stats.field.top_category"), Value: h.categoryLabel(sum.TopCategory), Inline: true},
			{Name: h.t(i, "stats.field.top_staff"), Value: sum.TopStaff, Inline: true},
			{Name: h.t(i, "stats.field.escalation_rate"), Value: fmt.Sprintf("%.1f%%", sum.EscalationRate), Inline: true},
		},
	}
}

func (h *Handler) staffEmbed(i *discordgo.InteractionCreate) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: h.t(i, "stats.staff.title"), Color: colorPanel}
	report := h.stats.StaffReport()
	if len(report) == 0 {
		embed.Description = h.t(i, "stats.empty")
		return embed
	}
	// Discord caps an embed at 25 fields.
	for n, p := range report[:min(len(report), 25)] {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: fmt.Sprintf("#%d", n+1),
			Value: h.t(i, "stats.staff.line",
				"staff", "<@"+p.StaffID+">",
				"handled", fmt.Sprint(p.TicketsHandled),
				"response", p.AvgResponseTime,
				"satisfaction", fmt.Sprintf("%.1f", p.AvgSatisfaction),
			),
			Inline: true,
		})
	}
	return embed
}

func (h *Handler) handleStatsPeriod(s *discordgo.Session, i *discordgo.InteractionCreate, raw string, days int) {
	p, err := stats.ParsePeriod(raw)
	if err != nil {
		h.fail(s, i, "stats", ticket.ErrInvalidInput)
		return
	}
	counts := h.stats.ByPeriod(p, days)
	values := make([]int, len(counts))
	var sb strings.Builder
	for n, c := range counts {
		values[n] = c.Count
		sb.WriteString(fmt.Sprintf("`%s` %s %d\n", c.Key, bar(c.Count), c.Count))
	}
	trend := stats.Trends(values)
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       h.t(i, "stats.period.title", "period", string(p), "days", fmt.Sprint(days)),
		Description: truncate(sb.String(), 4000),
		Color:       colorPanel,
		Footer: &discordgo.MessageEmbedFooter{Text: h.t(i, "stats.trend",
			"trend", trend.Trend,
			"change", fmt.Sprintf("%+.1f", trend.PercentChange),
		)},
	}, true)
}

// bar draws a tiny histogram bar, capped at 20 blocks.
func bar(n int) string {
	return strings.Repeat("▇", min(n, 20))
}

func (h *Handler) handleStatsMonthly(s *discordgo.Session, i *discordgo.InteractionCreate, year int, month time.Month) {
	r, err := h.stats.MonthlyReport(year, month)
	if err != nil {
		h.log.Warn("monthly report failed", zap.Error(err))
		h.fail(s, i, "stats", ticket.ErrInvalidInput)
		return
	}
	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: h.t(i, "stats.monthly.title", "period", r.Period),
		Color: colorPanel,
		Fields: []*discordgo.MessageEmbedField{
			{Name: h.t(i, "stats.field.total"), Value: fmt.Sprint(r.TotalTickets), Inline: true},
			{Name: h.t(i, "stats.monthly.avg_per_day"), Value: fmt.Sprintf("%.1f", r.AvgTicketsPerDay), Inline: true},
			{Name: h.t(i, "stats.monthly.peak_day"), Value: fmt.Sprint(r.PeakDay), Inline: true},
			{Name: h.t(i, "stats.monthly.trend"), Value: fmt.Sprintf("%s (%+.1f%%)", r.Trends.Trend, r.Trends.PercentChange), Inline: true},
		},
	}, true)
}

func (h *Handler) handleStatsExport(s *discordgo.Session, i *discordgo.InteractionCreate, kind stats.ExportKind) {
	data, err := h.stats.ExportCSV(kind)
	if err != nil {
		h.fail(s, i, "export", ticket.ErrInvalidInput)
		return
	}
	name := fmt.Sprintf("%s-%s.csv", kind, h.clock.Now().Format("20060102"))
	respondFile(s, i, h.t(i, "stats.export.done", "kind", string(kind)), name, data)
}

func (h *Handler) alertsEmbed(i *discordgo.InteractionCreate) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Title: h.t(i, "stats.alerts.title"), Color: colorSuccess}
	alerts := h.stats.Alerts()
	if len(alerts) == 0 {
		embed.Description = h.t(i, "stats.alerts.none")
		return embed
	}
	embed.Color = colorClosed
	for _, a := range alerts {
		icon := "⚠️"
		if a.Type == "error" {
			icon = "🚨"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  icon + " " + a.Metric,
			Value: fmt.Sprintf("%s: **%s**", a.Message, a.Value),
		})
	}
	return embed
}
