package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"PointsLedger/internal/model"
)

// ProgramStatus is the operator view of one program.
type ProgramStatus struct {
	Name                string
	Snapshot            *model.Snapshot
	ConsecutiveFailures int
	LastError           string
}

// FormatRefreshFailure formats an alert for a program that keeps failing.
func FormatRefreshFailure(program string, failures int, err error) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("❌ <b>Refresh failing</b> | %s\n\n", program))
	b.WriteString(fmt.Sprintf("Consecutive failures: %d\n", failures))
	b.WriteString(fmt.Sprintf("Last error: %s\n", err))
	b.WriteString("The previous snapshot is still being served.")
	return b.String()
}

// FormatRecovery formats the message sent when a failing program succeeds again.
func FormatRecovery(program string, failures int, snap *model.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("✅ <b>Refresh recovered</b> | %s\n\n", program))
	b.WriteString(fmt.Sprintf("Failed cycles before recovery: %d\n", failures))
	if snap != nil {
		b.WriteString(fmt.Sprintf("Entries: %d | Real total: %s\n", len(snap.Entries), snap.RealTotal.String()))
	}
	return b.String()
}

// FormatStatus formats the state of every program.
func FormatStatus(statuses []ProgramStatus, now time.Time) string {
	var b strings.Builder
	b.WriteString("📦 <b>Programs</b>\n")
	for _, st := range statuses {
		b.WriteString(fmt.Sprintf("\n<b>%s</b>\n", st.Name))
		if st.Snapshot == nil {
			b.WriteString("  no snapshot yet\n")
		} else {
			s := st.Snapshot
			b.WriteString(fmt.Sprintf("  entries: %d | real total: %s\n", len(s.Entries), s.RealTotal.String()))
			b.WriteString(fmt.Sprintf("  built: %s (%s ago)\n",
				s.BuiltAt.UTC().Format("2006-01-02 15:04:05"), now.Sub(s.BuiltAt).Truncate(time.Second)))
			for _, token := range sortedTokens(s.Tokens) {
				tt := s.Tokens[token]
				stale := ""
				if tt.OracleStale {
					stale = " ⚠️ stale total"
				}
				b.WriteString(fmt.Sprintf("  %s: %s (dust %s)%s\n", token, tt.RealTotal.String(), tt.Dust.String(), stale))
			}
		}
		if st.ConsecutiveFailures > 0 {
			b.WriteString(fmt.Sprintf("  failing: %d cycles, %s\n", st.ConsecutiveFailures, st.LastError))
		}
	}
	return b.String()
}

// FormatPoints formats one address's real points across programs.
func FormatPoints(address string, snaps []*model.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔎 <b>%s</b>\n", address))
	found := false
	for _, s := range snaps {
		for _, e := range s.Entries {
			if !strings.EqualFold(e.Address, address) {
				continue
			}
			found = true
			b.WriteString(fmt.Sprintf("  %s/%s: %s\n", s.Program, e.Token, e.RealPoints.String()))
		}
	}
	if !found {
		b.WriteString("  no points")
	}
	return b.String()
}

// FormatMilestone summarizes a season allocation per category.
func FormatMilestone(season string, rewards []model.MilestoneReward) string {
	type summary struct {
		users int
		total decimal.Decimal
	}
	byCategory := make(map[string]*summary)
	var names []string
	for _, r := range rewards {
		s, ok := byCategory[r.Category]
		if !ok {
			s = &summary{}
			byCategory[r.Category] = s
			names = append(names, r.Category)
		}
		s.users++
		s.total = s.total.Add(r.Reward)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("🏁 <b>Milestone allocation</b> | %s\n\n", season))
	for _, name := range names {
		s := byCategory[name]
		b.WriteString(fmt.Sprintf("%s: %d users, %s allocated\n", name, s.users, s.total.String()))
	}
	if len(names) == 0 {
		b.WriteString("no eligible users")
	}
	return b.String()
}

func sortedTokens(m map[string]model.TokenTotals) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
