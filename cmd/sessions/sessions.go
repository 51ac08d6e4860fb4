// Package sessions implements the eumbeacon sessions CLI (collector inspection).
package sessions

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"eumbeacon/internal/rpc"
	"eumbeacon/internal/store"
	"eumbeacon/pkg/config"
)

// Run lists sessions known to a running collector. With a session ID in args
// it prints that session's records as a beacon document instead.
func Run(configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := rpc.NewClient(cfg.Sessions.RPCSocket)
	if err != nil {
		return fmt.Errorf("connecting to collector: %w\nIs 'eumbeacon server' running?", err)
	}
	defer client.Close()

	all := false
	var sessionID string
	for _, a := range args {
		switch a {
		case "--all", "-a":
			all = true
		default:
			sessionID = a
		}
	}

	if sessionID != "" {
		b, err := client.SessionRecords(sessionID)
		if err != nil {
			return fmt.Errorf("fetching records for %s: %w", sessionID, err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}

	list, err := client.ListSessions(!all)
	if err != nil {
		return fmt.Errorf("fetching sessions: %w", err)
	}

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return json.NewEncoder(os.Stdout).Encode(list)
	}

	if len(list) == 0 {
		fmt.Println("No sessions recorded. Make sure agents or browsers are sending beacons.")
		return nil
	}
	fmt.Printf("\n  Sessions (%d found)\n\n", len(list))
	displaySessionTable(os.Stdout, list)
	return nil
}

func displaySessionTable(w io.Writer, list []store.SessionRecord) {
	fmt.Fprintf(w, "  %-4s %-28s %-16s %-8s %-8s %-10s %-6s %s\n",
		"#", "Session", "Agent", "Beacons", "Records", "Last Seen", "Active", "Kinds")
	fmt.Fprintf(w, "  %s %s %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 28),
		strings.Repeat("─", 16),
		strings.Repeat("─", 8),
		strings.Repeat("─", 8),
		strings.Repeat("─", 10),
		strings.Repeat("─", 6),
		strings.Repeat("─", 20))

	for i, s := range list {
		active := "✗"
		if s.Active {
			active = "✓"
		}
		fmt.Fprintf(w, "  %-4d %-28s %-16s %-8d %-8d %-10s %-6s %s\n",
			i+1,
			truncate(s.SessionID, 28),
			truncate(s.AgentID, 16),
			s.BeaconCount,
			s.RecordCount,
			s.LastSeen.Format("15:04:05"),
			active,
			kindSummary(s.Kinds),
		)
	}
}

// kindSummary renders per-kind counts as "kind=n" pairs in name order.
func kindSummary(kinds map[string]uint64) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%d", k, kinds[k])
	}
	return strings.Join(parts, " ")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
