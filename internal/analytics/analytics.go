package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"edulearn/internal/storage"
)

// DailyStats summarizes the exchanges of one day.
type DailyStats struct {
	Date           string                  `json:"date"`
	Exchanges      int                     `json:"exchanges"`
	UniqueSessions int                     `json:"unique_sessions"`
	Compactions    int                     `json:"compactions"`
	ByMode         map[string]int          `json:"by_mode"`
	SessionStats   map[string]SessionStats `json:"session_stats"`
}

type SessionStats struct {
	SessionID   string `json:"session_id"`
	Exchanges   int    `json:"exchanges"`
	Compactions int    `json:"compactions"`
}

// AnalyzeDailyLogs aggregates the events that fall on the calendar day of
// targetDate, in targetDate's location.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.AddDate(0, 0, 1)

	stats := &DailyStats{
		Date:         startOfDay.Format("2006-01-02"),
		ByMode:       make(map[string]int),
		SessionStats: make(map[string]SessionStats),
	}

	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.Question == "" {
			continue
		}
		stats.Exchanges++
		stats.ByMode[event.Mode]++

		ss, ok := stats.SessionStats[event.SessionID]
		if !ok {
			ss = SessionStats{SessionID: event.SessionID}
		}
		ss.Exchanges++
		if event.Compacted {
			ss.Compactions++
			stats.Compactions++
		}
		stats.SessionStats[event.SessionID] = ss
	}

	stats.UniqueSessions = len(stats.SessionStats)
	return stats
}

// GenerateReportSummary renders the stats as a short plain-text report.
func (ds *DailyStats) GenerateReportSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "EduLearnAI usage for %s:\n\n", ds.Date)
	fmt.Fprintf(&b, "- Exchanges: %d\n- Active sessions: %d\n- Compactions: %d\n", ds.Exchanges, ds.UniqueSessions, ds.Compactions)

	if len(ds.ByMode) > 0 {
		b.WriteString("\nBy mode:\n")
		for _, mode := range sortedKeys(ds.ByMode) {
			fmt.Fprintf(&b, "- %s: %d\n", mode, ds.ByMode[mode])
		}
	}

	if len(ds.SessionStats) > 0 {
		b.WriteString("\nBusiest sessions:\n")
		sessions := make([]SessionStats, 0, len(ds.SessionStats))
		for _, s := range ds.SessionStats {
			sessions = append(sessions, s)
		}
		sort.Slice(sessions, func(i, j int) bool {
			if sessions[i].Exchanges != sessions[j].Exchanges {
				return sessions[i].Exchanges > sessions[j].Exchanges
			}
			return sessions[i].SessionID < sessions[j].SessionID
		})
		if len(sessions) > 5 {
			sessions = sessions[:5]
		}
		for _, s := range sessions {
			fmt.Fprintf(&b, "- %s: %d exchanges", s.SessionID, s.Exchanges)
			if s.Compactions > 0 {
				fmt.Fprintf(&b, ", %d compactions", s.Compactions)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func (ds *DailyStats) ToJSON() (string, error) {
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
