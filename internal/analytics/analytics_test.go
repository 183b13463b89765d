package analytics

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"edulearn/internal/storage"
)

func testEvents(day time.Time) []storage.Event {
	return []storage.Event{
		{Timestamp: day.Add(2 * time.Hour), SessionID: "a", Mode: "stream", Question: "q1", Answer: "a1"},
		{Timestamp: day.Add(3 * time.Hour), SessionID: "a", Mode: "stream", Question: "q2", Answer: "a2", Compacted: true},
		{Timestamp: day.Add(4 * time.Hour), SessionID: "b", Mode: "blocking", Question: "q3", Answer: "a3"},
		// next day
		{Timestamp: day.AddDate(0, 0, 1), SessionID: "c", Mode: "blocking", Question: "q4", Answer: "a4"},
		// no question
		{Timestamp: day.Add(5 * time.Hour), SessionID: "a", Mode: "stream"},
	}
}

func TestAnalyzeDailyLogs(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	stats := AnalyzeDailyLogs(testEvents(day), day.Add(13*time.Hour))

	if stats.Date != "2024-01-15" {
		t.Fatalf("unexpected date %q", stats.Date)
	}
	if stats.Exchanges != 3 || stats.UniqueSessions != 2 || stats.Compactions != 1 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.ByMode["stream"] != 2 || stats.ByMode["blocking"] != 1 {
		t.Fatalf("unexpected by-mode counts %v", stats.ByMode)
	}
	if a := stats.SessionStats["a"]; a.Exchanges != 2 || a.Compactions != 1 {
		t.Fatalf("unexpected session a stats %+v", a)
	}
}

func TestAnalyzeDailyLogs_Empty(t *testing.T) {
	stats := AnalyzeDailyLogs(nil, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
	if stats.Exchanges != 0 || stats.UniqueSessions != 0 || len(stats.ByMode) != 0 {
		t.Fatalf("expected empty stats, got %+v", stats)
	}
	if !strings.Contains(stats.GenerateReportSummary(), "Exchanges: 0") {
		t.Fatalf("summary missing totals")
	}
}

func TestGenerateReportSummary(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	summary := AnalyzeDailyLogs(testEvents(day), day).GenerateReportSummary()

	for _, want := range []string{"2024-01-15", "Exchanges: 3", "Active sessions: 2", "- blocking: 1", "- stream: 2", "- a: 2 exchanges, 1 compactions"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Index(summary, "- a:") > strings.Index(summary, "- b:") {
		t.Fatalf("sessions not ordered by activity:\n%s", summary)
	}
}

func TestToJSON(t *testing.T) {
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	out, err := AnalyzeDailyLogs(testEvents(day), day).ToJSON()
	if err != nil {
		t.Fatalf("to json: %v", err)
	}
	var back DailyStats
	if err := json.Unmarshal([]byte(out), &back); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if back.Exchanges != 3 || back.SessionStats["b"].Exchanges != 1 {
		t.Fatalf("unexpected decoded stats %+v", back)
	}
}
