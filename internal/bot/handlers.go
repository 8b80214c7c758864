package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	profileHistoryLimit = 5
	historyLimit        = 10
)

func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	b.withUser(ctx, msg.From, msg.Chat.ID, func(user *models.User) {
		chatID := msg.Chat.ID
		userID := user.TelegramID
		text := strings.TrimSpace(msg.Text)

		b.logger.Infof("Processing message from user %d: %q", userID, text)

		if msg.IsCommand() {
			b.resetStage(userID)
			b.handleCommand(ctx, msg, user)
			return
		}

		if len(msg.Photo) > 0 {
			b.handleProof(ctx, chatID, user, msg.Photo)
			return
		}

		draft := b.sessions.get(userID)
		switch draft.Stage {
		case StageAwaitingProof:
			b.sendMessage(chatID, "📸 Please send a screenshot as a photo, or /cancel.", nil)
			return
		case StageAwaitingMethod:
			b.sendMessage(chatID, "Please choose a withdrawal method above, or /cancel.", nil)
			return
		case StageAwaitingAmount:
			b.handleWithdrawAmount(ctx, chatID, user, draft, text)
			return
		case StageAwaitingAccountDetails:
			b.handleWithdrawDetails(ctx, chatID, user, draft, text)
			return
		case StageAwaitingTaskInput:
			b.handleTaskInput(ctx, chatID, userID, text)
			return
		case StageAwaitingChannelInput:
			b.handleChannelInput(ctx, chatID, userID, text)
			return
		}

		switch text {
		case btnTasks:
			b.handleTasks(ctx, chatID, user)
		case btnBalance:
			b.handleBalance(chatID, user)
		case btnProfile:
			b.handleProfile(ctx, chatID, user)
		case btnWithdraw:
			b.handleWithdrawRequest(ctx, chatID, user)
		case btnSupport:
			b.handleSupport(chatID)
		case btnHistory:
			b.handleHistory(ctx, chatID, user)
		default:
			b.sendMessage(chatID, "Unknown command. Use the menu below.", GetMainMenu())
		}
	})
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *models.User) {
	chatID := msg.Chat.ID
	command := msg.Command()

	if strings.HasPrefix(command, "submit_") {
		taskID, err := strconv.ParseUint(strings.TrimPrefix(command, "submit_"), 10, 32)
		if err != nil {
			b.sendMessage(chatID, "Invalid task ID format", nil)
			return
		}
		b.startSubmission(ctx, chatID, user, uint(taskID))
		return
	}

	switch command {
	case "start":
		b.handleStart(ctx, chatID, user)
	case "tasks":
		b.handleTasks(ctx, chatID, user)
	case "profile":
		b.handleProfile(ctx, chatID, user)
	case "withdraw":
		b.handleWithdrawRequest(ctx, chatID, user)
	case "cancel":
		b.sendMessage(chatID, "❌ Operation cancelled.", GetMainMenu())
	case "admin":
		b.withOperator(chatID, user.TelegramID, func(service.Operator) {
			b.sendAdminPanel(chatID)
		})
	default:
		if isAdminCommand(command) {
			b.withOperator(chatID, user.TelegramID, func(op service.Operator) {
				b.handleAdminCommand(ctx, chatID, op, msg.Text)
			})
			return
		}
		b.sendMessage(chatID, "Unknown command. Use the menu below.", GetMainMenu())
	}
}

func (b *Bot) handleStart(ctx context.Context, chatID int64, user *models.User) {
	if b.ensureAuthorized(ctx, chatID, user.TelegramID) {
		b.sendMainMenu(chatID, user)
	}
}

func (b *Bot) sendMainMenu(chatID int64, user *models.User) {
	text := fmt.Sprintf(
		"👋 Welcome back, %s!\n\n"+
			"💰 Balance: %s\n"+
			"✅ Completed Tasks: %d\n"+
			"⏳ Pending Tasks: %d\n\n"+
			"Use the buttons below to navigate.",
		utils.EscapeMarkdown(user.FirstName), utils.FormatMoney(user.Balance), user.CompletedTasks, user.PendingTasks,
	)
	b.sendMessage(chatID, text, GetMainMenu())
}

// ensureAuthorized runs the gate and walks the user through whatever step
// is missing. It reports whether the user may proceed.
func (b *Bot) ensureAuthorized(ctx context.Context, chatID, userID int64) bool {
	err := b.service.Authorize(ctx, userID)
	if err == nil {
		return true
	}

	var denied *service.UnauthorizedError
	if !errors.As(err, &denied) {
		b.logger.Errorf("Gate check for user %d failed: %v", userID, err)
		b.sendMessage(chatID, "❌ Something went wrong. Please try again later.", nil)
		return false
	}

	switch {
	case len(denied.MissingChannels) > 0:
		b.sendChannelPrompt(ctx, chatID, denied.MissingChannels)
	case strings.HasPrefix(denied.Reason, "network address"):
		b.sendVerifyPrompt(chatID, userID)
	case denied.Reason == "user is blocked":
		b.sendMessage(chatID, "⛔ Your account has been blocked. Contact support if you think this is a mistake.", nil)
	default:
		b.sendMessage(chatID, "❌ Please complete verification first using /start", nil)
	}
	return false
}

func (b *Bot) sendChannelPrompt(ctx context.Context, chatID int64, missing []string) {
	channels, err := b.service.ListChannels(ctx)
	if err != nil {
		b.logger.Errorf("Failed to list channels: %v", err)
	}
	byName := make(map[string]models.Channel, len(channels))
	for _, c := range channels {
		byName[c.DisplayName()] = c
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var lines []string
	for _, name := range missing {
		lines = append(lines, "• "+utils.EscapeMarkdown(name))
		if url := channelURL(byName[name].ChannelID); url != "" {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Join "+name, url)))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ I've Joined", "verify_channels")))

	text := "🔒 *Channel Verification Required*\n\n" +
		"To use this bot, you must join our channels:\n" +
		strings.Join(lines, "\n") + "\n\n" +
		"After joining all channels, click the verification button below."
	b.sendMessage(chatID, text, tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) sendVerifyPrompt(chatID, userID int64) {
	link, err := b.links.Link(userID)
	if err != nil {
		b.logger.Errorf("Failed to issue verification link for user %d: %v", userID, err)
		b.sendMessage(chatID, "⚠️ Verification is temporarily unavailable. Please try again later.", nil)
		return
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🌐 Verify IP Address", link)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🔄 I've verified", "verify_channels")),
	)
	b.sendMessage(chatID,
		"🔐 *IP Verification Required*\n\n"+
			"For security reasons, we need to verify your IP address.\n"+
			"This ensures one account per user and prevents fraud.\n\n"+
			"Open the link below, then press \"I've verified\".",
		keyboard,
	)
}

func (b *Bot) handleTasks(ctx context.Context, chatID int64, user *models.User) {
	if !b.ensureAuthorized(ctx, chatID, user.TelegramID) {
		return
	}

	tasks, err := b.service.ListActiveTasks(ctx)
	if err != nil {
		b.logger.Errorf("Failed to list tasks: %v", err)
		b.sendMessage(chatID, "❌ Failed to load tasks. Please try again later.", nil)
		return
	}
	if len(tasks) == 0 {
		b.sendMessage(chatID, "📭 No tasks available at the moment. Check back later!", nil)
		return
	}

	for _, task := range tasks {
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Submit Task", fmt.Sprintf("submit_%d", task.ID)),
			),
		)
		b.sendMessage(chatID, formatTask(task), keyboard)
	}
}

func formatTask(task *models.Task) string {
	requirements := task.Requirements
	if requirements == "" {
		requirements = "None"
	}
	link := task.Link
	if link == "" {
		link = "N/A"
	}
	return fmt.Sprintf(
		"📌 *Task #%d*\n\n📝 %s\n💰 Reward: %s\n📋 Requirements: %s\n🔗 Link: %s\n\nTo submit: /submit\\_%d",
		task.ID, utils.EscapeMarkdown(task.Description), utils.FormatMoney(task.Reward),
		utils.EscapeMarkdown(requirements), utils.EscapeMarkdown(link), task.ID,
	)
}

func (b *Bot) startSubmission(ctx context.Context, chatID int64, user *models.User, taskID uint) {
	if !b.ensureAuthorized(ctx, chatID, user.TelegramID) {
		return
	}

	task, err := b.service.GetTask(ctx, taskID)
	if err != nil || !task.IsActive {
		b.sendMessage(chatID, "❌ Task not found or inactive", nil)
		return
	}

	b.setStage(user.TelegramID, Draft{Stage: StageAwaitingProof, TaskID: taskID})
	b.sendMessage(chatID, fmt.Sprintf(
		"📸 Please send a screenshot of your task completion for Task #%d\n\n"+
			"Make sure the screenshot clearly shows the completion proof.", taskID), nil)
}

func (b *Bot) handleProof(ctx context.Context, chatID int64, user *models.User, photos []tgbotapi.PhotoSize) {
	draft := b.sessions.get(user.TelegramID)
	if draft.Stage != StageAwaitingProof {
		b.sendMessage(chatID, "Please start a task submission first using /tasks", nil)
		return
	}

	// The last size is the largest one.
	proof := photos[len(photos)-1].FileID
	_, err := b.service.Submit(ctx, user.TelegramID, draft.TaskID, proof, user.VerifiedAddress)
	b.resetStage(user.TelegramID)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), GetMainMenu())
		return
	}

	b.sendMessage(chatID,
		"✅ *Task Submitted Successfully!*\n\n"+
			"Your submission is pending admin approval.\n"+
			"You'll be notified once it's reviewed.",
		GetMainMenu(),
	)
}

func (b *Bot) handleBalance(chatID int64, user *models.User) {
	b.sendMessage(chatID, fmt.Sprintf(
		"💰 *Your Balance*\n\nCurrent Balance: %s\nTotal Earned: %s\nTotal Withdrawn: %s",
		utils.FormatMoney(user.Balance), utils.FormatMoney(user.TotalEarned), utils.FormatMoney(user.TotalWithdrawn),
	), GetMainMenu())
}

func (b *Bot) handleProfile(ctx context.Context, chatID int64, user *models.User) {
	entries, err := b.service.History(ctx, user.TelegramID, profileHistoryLimit)
	if err != nil {
		b.logger.Errorf("Failed to load history for user %d: %v", user.TelegramID, err)
	}

	username := user.Username
	if username == "" {
		username = "Not set"
	}
	verified := "❌"
	if user.IsVerified {
		verified = "✅"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("👤 *Profile - %s*\n\n", utils.EscapeMarkdown(user.FirstName)))
	sb.WriteString(fmt.Sprintf("🆔 User ID: `%d`\n", user.TelegramID))
	sb.WriteString(fmt.Sprintf("📛 Username: @%s\n", utils.EscapeMarkdown(username)))
	sb.WriteString(fmt.Sprintf("🔐 Verified: %s\n", verified))
	sb.WriteString(fmt.Sprintf("📅 Joined: %s\n\n", user.JoinedAt.Format("2006-01-02")))
	sb.WriteString("💰 *Financial Stats*\n")
	sb.WriteString(fmt.Sprintf("Current Balance: %s\n", utils.FormatMoney(user.Balance)))
	sb.WriteString(fmt.Sprintf("Total Earned: %s\n", utils.FormatMoney(user.TotalEarned)))
	sb.WriteString(fmt.Sprintf("Total Withdrawn: %s\n\n", utils.FormatMoney(user.TotalWithdrawn)))
	sb.WriteString("📊 *Task Stats*\n")
	sb.WriteString(fmt.Sprintf("Completed Tasks: %d\n", user.CompletedTasks))
	sb.WriteString(fmt.Sprintf("Pending Tasks: %d\n\n", user.PendingTasks))
	sb.WriteString("📜 *Recent Transactions*\n")
	writeTransactions(&sb, entries)

	b.sendMessage(chatID, sb.String(), GetMainMenu())
}

func (b *Bot) handleHistory(ctx context.Context, chatID int64, user *models.User) {
	entries, err := b.service.History(ctx, user.TelegramID, historyLimit)
	if err != nil {
		b.logger.Errorf("Failed to load history for user %d: %v", user.TelegramID, err)
		b.sendMessage(chatID, "❌ Failed to load history. Please try again later.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 *Your History*\n\n💸 *Recent Transactions*\n")
	writeTransactions(&sb, entries)
	b.sendMessage(chatID, sb.String(), GetMainMenu())
}

func writeTransactions(sb *strings.Builder, entries []*models.Transaction) {
	if len(entries) == 0 {
		sb.WriteString("No transactions yet\n")
		return
	}
	for _, e := range entries {
		sign := "➖"
		if e.Type.Inflow() {
			sign = "➕"
		}
		description := e.Description
		if len([]rune(description)) > 30 {
			description = string([]rune(description)[:30]) + "..."
		}
		sb.WriteString(fmt.Sprintf("%s %s - %s (%s)\n",
			sign, utils.FormatMoney(e.Amount), utils.EscapeMarkdown(description), e.CreatedAt.Format("2006-01-02")))
	}
}

func (b *Bot) handleSupport(chatID int64) {
	contact := b.support
	if contact == "" {
		contact = "the bot administrators"
	}
	b.sendMessage(chatID, fmt.Sprintf(
		"📞 *Support*\n\nFor any issues or questions, contact:\n%s\n\nResponse time: 24-48 hours",
		utils.EscapeMarkdown(contact),
	), GetMainMenu())
}

// describeError turns a service error into a message for the user.
func (b *Bot) describeError(err error) string {
	var (
		rejected *service.RejectionError
		denied   *service.UnauthorizedError
		invalid  *service.ValidationError
	)
	switch {
	case errors.As(err, &rejected):
		switch rejected.Reason {
		case service.ReasonPendingExists:
			return "⚠️ You already have a pending submission for this task"
		case service.ReasonAlreadyCompleted:
			return "❌ You have already completed this task"
		case service.ReasonTaskInactive:
			return "❌ Task not found or inactive"
		}
		return "❌ Submission rejected: " + rejected.Reason
	case errors.As(err, &denied):
		return "❌ Please complete verification first using /start"
	case errors.As(err, &invalid):
		return "❌ " + utils.EscapeMarkdown(invalid.Message)
	case errors.Is(err, service.ErrInsufficientBalance):
		return "❌ Insufficient balance."
	case errors.Is(err, service.ErrBelowMinimum):
		return "❌ " + utils.EscapeMarkdown(err.Error())
	case errors.Is(err, service.ErrNotFound):
		return "❌ Not found."
	case errors.Is(err, service.ErrAlreadyProcessed):
		return "⚠️ Already processed."
	case errors.Is(err, service.ErrForbidden):
		return "⛔ Unauthorized access"
	}
	b.logger.Errorf("Unexpected error: %v", err)
	return "❌ Something went wrong. Please try again later."
}
