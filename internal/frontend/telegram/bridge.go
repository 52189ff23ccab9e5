// Package telegram is one concrete frontend collaborator: it turns
// Telegram messages into orchestrator.Core calls and orchestrator state
// changes into Telegram replies.
//
// Grounded on internal/channels/telegram/adapter.go + bot_client.go's
// bot.New/RegisterHandler/SendMessage wiring, collapsed from the teacher's
// full multi-channel gateway adapter (streaming replies, attachments,
// webhook mode, health/metrics tracking) down to the single inbound ->
// parsed command -> facade call -> outbound reply path spec.md §1 draws
// as the frontend boundary.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/nexora-run/taskorch/internal/domain"
	"github.com/nexora-run/taskorch/internal/entitystore"
	"github.com/nexora-run/taskorch/internal/orchestrator"
)

// Config configures the Telegram bridge.
type Config struct {
	BotToken     string
	AllowedChats []string // empty means no restriction
}

// Bridge owns a Telegram bot instance and routes its messages to Core.
type Bridge struct {
	core    *orchestrator.Core
	bot     *bot.Bot
	allowed map[int64]bool
	logger  *slog.Logger
}

// New creates a Bridge and registers its text-message handler. Start must
// be called to begin long polling.
func New(cfg Config, core *orchestrator.Core) (*Bridge, error) {
	br := &Bridge{
		core:   core,
		logger: slog.Default().With("component", "frontend.telegram"),
	}
	if len(cfg.AllowedChats) > 0 {
		br.allowed = make(map[int64]bool, len(cfg.AllowedChats))
		for _, raw := range cfg.AllowedChats {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				continue
			}
			br.allowed[id] = true
		}
	}

	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(br.handleUpdate))
	if err != nil {
		return nil, domain.Wrap(domain.KindSchemaInvalid, err, "create telegram bot")
	}
	br.bot = b
	return br, nil
}

// Start begins long polling; it blocks until ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

func (b *Bridge) handleUpdate(ctx context.Context, tb *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	if b.allowed != nil && !b.allowed[chatID] {
		b.reply(ctx, chatID, "this chat is not authorized")
		return
	}

	reply := b.dispatch(ctx, strings.TrimSpace(update.Message.Text))
	b.reply(ctx, chatID, reply)
}

// dispatch parses one command line and calls the matching Core operation,
// returning the text to send back.
func (b *Bridge) dispatch(ctx context.Context, line string) string {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "/task":
		if rest == "" {
			return "usage: /task <description>"
		}
		task, err := b.core.CreateTask(ctx, rest, domain.PriorityMedium, nil)
		if err != nil {
			return fmt.Sprintf("failed to create task: %v", err)
		}
		return fmt.Sprintf("created task %s", task.ID)

	case "/goal":
		desc, criteria, _ := strings.Cut(rest, "|")
		desc = strings.TrimSpace(desc)
		criteria = strings.TrimSpace(criteria)
		if desc == "" {
			return "usage: /goal <description> [| success criteria]"
		}
		goal, err := b.core.CreateGoal(ctx, desc, criteria)
		if err != nil {
			return fmt.Sprintf("failed to create goal: %v", err)
		}
		return fmt.Sprintf("created goal %s", goal.ID)

	case "/activate":
		if rest == "" {
			return "usage: /activate <goal_id>"
		}
		if err := b.core.ActivateGoal(ctx, rest); err != nil {
			return fmt.Sprintf("failed to activate goal: %v", err)
		}
		return "goal activated"

	case "/run":
		if rest == "" {
			return "usage: /run <task_id>"
		}
		if err := b.core.RunTask(ctx, rest); err != nil {
			return fmt.Sprintf("failed to run task: %v", err)
		}
		return "task dispatched"

	case "/cancel":
		if rest == "" {
			return "usage: /cancel <task_id>"
		}
		if err := b.core.Cancel(ctx, rest); err != nil {
			return fmt.Sprintf("failed to cancel task: %v", err)
		}
		return "task cancelled"

	case "/approve", "/reject":
		if rest == "" {
			return fmt.Sprintf("usage: %s <approval_id>", cmd)
		}
		decision := domain.DecisionApproved
		if strings.EqualFold(cmd, "/reject") {
			decision = domain.DecisionRejected
		}
		if _, err := b.core.Decide(ctx, rest, decision, "telegram"); err != nil {
			return fmt.Sprintf("failed to record decision: %v", err)
		}
		return fmt.Sprintf("approval %s recorded as %s", rest, decision)

	case "/status":
		status := b.core.Status()
		return fmt.Sprintf("running=%v queue=%d pending_approvals=%d", status.Running, status.QueueLength, status.PendingApprovals)

	case "/tasks":
		tasks := b.core.ListTasks(entitystore.Filter{})
		var sb strings.Builder
		for _, t := range tasks {
			fmt.Fprintf(&sb, "%s [%s] %s\n", t.ID, t.Status, t.Description)
		}
		if sb.Len() == 0 {
			return "no tasks"
		}
		return sb.String()

	default:
		return "unrecognized command; try /task, /goal, /activate, /run, /cancel, /approve, /reject, /status, /tasks"
	}
}

func (b *Bridge) reply(ctx context.Context, chatID int64, text string) {
	_, err := b.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		b.logger.Warn("failed to send telegram reply", "chat_id", chatID, "error", err)
	}
}
