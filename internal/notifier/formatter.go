package notifier

import (
	"fmt"
	"html"
	"strings"

	"chitfund/internal/model"
)

// FormatSummary renders the fund summary.
func FormatSummary(sum model.Summary) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📦 <b>%s</b> (%s)\n\n", html.EscapeString(sum.Name), sum.ID))
	b.WriteString(fmt.Sprintf("Status: %s | %s\n", sum.Status, sum.Phase))
	if sum.Phase == model.PhaseRunning {
		b.WriteString(fmt.Sprintf("Cycle: %d of %d\n", sum.CurrentCycle+1, sum.ElapsedCycles+sum.RemainingCycles))
	}
	if sum.NextRecipient != "" {
		b.WriteString(fmt.Sprintf("Recipient: <code>%s</code>\n", html.EscapeString(sum.NextRecipient)))
	}
	b.WriteString(fmt.Sprintf("Contribution: %d × %d participants\n", sum.ContributionPerCycle, sum.ParticipantCount))
	b.WriteString(fmt.Sprintf("Collateral: %d\n", sum.CollateralAmount))
	b.WriteString(fmt.Sprintf("Pool: %d / circulation %d\n", sum.PoolBalance, sum.TotalInCirculation))
	b.WriteString(fmt.Sprintf("Cycles: %d elapsed, %d remaining\n", sum.ElapsedCycles, sum.RemainingCycles))
	b.WriteString(fmt.Sprintf("Ends: %s\n", sum.EndsAt.Format("2006-01-02 15:04")))
	return b.String()
}

// FormatSnapshot renders the summary followed by every participant's standing.
func FormatSnapshot(snap model.Snapshot) string {
	var b strings.Builder
	b.WriteString(FormatSummary(snap.Summary))
	b.WriteString("\n👥 <b>Participants</b>\n")
	for i, p := range snap.Participants {
		b.WriteString(fmt.Sprintf("%d. <code>%s</code> %s%s%s\n", i+1, html.EscapeString(p.Address),
			mark(p.HasStakedCollateral, "staked"), mark(p.HasContributedCurrentCycle, "paid"), mark(p.HasClaimed, "claimed")))
	}
	if len(snap.Defaults) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatDefaults(snap.Defaults))
	}
	return b.String()
}

func mark(ok bool, label string) string {
	if ok {
		return " ✅" + label
	}
	return " ▫️" + label
}

// FormatDefaults renders a defaulter list.
func FormatDefaults(defaults []model.Defaulter) string {
	if len(defaults) == 0 {
		return "No defaults recorded ✅"
	}
	var b strings.Builder
	b.WriteString("⚠️ <b>Defaulters</b>\n")
	for _, d := range defaults {
		b.WriteString(fmt.Sprintf("  cycle %d: <code>%s</code> missed %s, due %d\n", d.Cycle,
			html.EscapeString(d.Participant), d.MissedAt.Format("2006-01-02 15:04"), d.AmountDue))
	}
	return b.String()
}

// FormatFundList renders one line per fund.
func FormatFundList(sums []model.Summary) string {
	if len(sums) == 0 {
		return "No funds registered"
	}
	var b strings.Builder
	b.WriteString("📋 <b>Funds</b>\n")
	for _, s := range sums {
		b.WriteString(fmt.Sprintf("• %s <code>%s</code> %s, pool %d\n", html.EscapeString(s.Name), s.ID, s.Status, s.PoolBalance))
	}
	return b.String()
}

// FormatTick renders what a sweep changed for one fund. It returns "" when
// nothing worth announcing happened.
func FormatTick(sum model.Summary, activated bool, flagged []model.Defaulter) string {
	if !activated && len(flagged) == 0 {
		return ""
	}
	var b strings.Builder
	if activated {
		b.WriteString(fmt.Sprintf("🚀 <b>%s</b> is now active. First recipient: <code>%s</code>\n",
			html.EscapeString(sum.Name), html.EscapeString(sum.NextRecipient)))
	}
	if len(flagged) > 0 {
		b.WriteString(fmt.Sprintf("<b>%s</b>: new missed contributions\n", html.EscapeString(sum.Name)))
		b.WriteString(FormatDefaults(flagged))
	}
	return b.String()
}
