// ABOUTME: Dispatcher for privileged operator commands embedded in inbound messages
// ABOUTME: Recognizes /admin stats, cleanup and help for configured admin senders only

package admin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wagateway/internal/store"
)

const helpReply = `Admin commands:
/admin stats - conversation and message totals
/admin cleanup - remove conversations idle past the retention window
/admin help - this message`

const unknownReply = "Unknown admin command. Send /admin help for the list of commands."

// Store is the subset of conversation storage the dispatcher needs.
type Store interface {
	Stats(ctx context.Context) (*store.Stats, error)
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Dispatcher recognizes and executes admin commands. Senders outside the
// configured admin set always fall through to normal chat handling, so the
// command surface is invisible to them.
type Dispatcher struct {
	store     Store
	retention time.Duration
	admins    map[string]struct{}
	logger    *slog.Logger
}

// New creates a Dispatcher for the given admin sender IDs.
func New(st Store, retention time.Duration, adminUsers []string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	admins := make(map[string]struct{}, len(adminUsers))
	for _, u := range adminUsers {
		if u = strings.TrimSpace(u); u != "" {
			admins[u] = struct{}{}
		}
	}
	return &Dispatcher{
		store:     st,
		retention: retention,
		admins:    admins,
		logger:    logger.With("component", "admin"),
	}
}

// Dispatch returns the admin reply for text, or handled=false when the
// message should flow through normal chat handling instead. That covers
// non-admin senders (always, regardless of what they typed), text that is
// not an /admin command, and a bare /admin with no subcommand.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, text string) (string, bool) {
	if _, ok := d.admins[userID]; !ok {
		return "", false
	}

	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "/admin") {
		return "", false
	}
	if len(fields) < 2 {
		return "", false
	}

	cmd := strings.ToLower(fields[1])
	d.logger.Info("admin command", "user_id", userID, "command", cmd)

	switch cmd {
	case "stats":
		return d.stats(ctx), true
	case "cleanup":
		return d.cleanup(ctx), true
	case "help":
		return helpReply, true
	default:
		return unknownReply, true
	}
}

func (d *Dispatcher) stats(ctx context.Context) string {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		d.logger.Error("stats command failed", "error", err)
		return "Stats are unavailable right now."
	}
	return fmt.Sprintf("Conversations: %d\nMessages: %d\nActive in last 24h: %d",
		stats.TotalConversations, stats.TotalMessages, stats.ActiveLast24h)
}

func (d *Dispatcher) cleanup(ctx context.Context) string {
	deleted, err := d.store.CleanupOlderThan(ctx, time.Now().Add(-d.retention))
	if err != nil {
		d.logger.Error("cleanup command failed", "error", err)
		return "Cleanup failed. Check the server logs."
	}
	return fmt.Sprintf("Cleanup complete. Removed %d inactive conversations.", deleted)
}
