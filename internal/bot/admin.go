package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
)

const (
	adminListLimit = 20
	taskInputHelp  = "Description | Reward | Requirements | Link"
)

var adminUsage = map[string]string{
	"approve":          "/approve SUBMISSION_ID",
	"reject":           "/reject SUBMISSION_ID [reason]",
	"approve_withdraw": "/approve_withdraw WITHDRAWAL_ID [reference]",
	"reject_withdraw":  "/reject_withdraw WITHDRAWAL_ID [reason]",
	"addpoints":        "/addpoints USER_ID AMOUNT [reason]",
	"deductpoints":     "/deductpoints USER_ID AMOUNT [reason]",
	"removetask":       "/removetask TASK_ID",
	"block":            "/block USER_ID",
	"unblock":          "/unblock USER_ID",
	"addchannel":       "/addchannel @channel [name]",
	"removechannel":    "/removechannel @channel",
	"stats":            "/stats",
	"sysstats":         "/sysstats",
	"users":            "/users",
	"pending":          "/pending",
	"withdrawals":      "/withdrawals",
	"alltasks":         "/alltasks",
	"reconcile":        "/reconcile USER_ID",
}

// UsageError reports a malformed operator command together with its usage line.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "usage: " + e.Usage }

// Commands with the id glued on, as printed in notifications.
var inlineIDCommands = []string{"approve_withdraw_", "reject_withdraw_", "approve_", "reject_"}

// splitCommand returns the command name without slash or bot mention and its
// arguments. "/approve_12 ok" becomes "approve", ["12", "ok"].
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	args := fields[1:]

	for _, prefix := range inlineIDCommands {
		if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
			if _, err := strconv.ParseUint(rest, 10, 64); err == nil {
				return strings.TrimSuffix(prefix, "_"), append([]string{rest}, args...)
			}
		}
	}
	return name, args
}

func isAdminCommand(command string) bool {
	name, _ := splitCommand("/" + command)
	_, ok := adminUsage[name]
	return ok
}

// parseAdminCommand turns an operator's command message into an action.
func parseAdminCommand(text string) (service.AdminAction, error) {
	name, args := splitCommand(text)
	usage, ok := adminUsage[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	bad := &UsageError{Usage: usage}

	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	switch name {
	case "stats":
		return service.ShowFinancialStats{}, nil
	case "sysstats":
		return service.ShowSystemStats{}, nil
	case "users":
		return service.ListUsersAction{Limit: adminListLimit}, nil
	case "pending":
		return service.ListPendingSubmissionsAction{Limit: adminListLimit}, nil
	case "withdrawals":
		return service.ListPendingWithdrawalsAction{}, nil
	case "alltasks":
		return service.ListTasksAction{}, nil
	}

	if len(args) == 0 {
		return nil, bad
	}

	switch name {
	case "addchannel":
		return service.AddChannel{ChannelID: args[0], Name: rest(1)}, nil
	case "removechannel":
		return service.RemoveChannel{ChannelID: args[0]}, nil
	case "reconcile":
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, bad
		}
		return service.ReconcileUser{UserID: userID}, nil
	case "block", "unblock":
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, bad
		}
		if name == "block" {
			return service.BlockUser{UserID: userID}, nil
		}
		return service.UnblockUser{UserID: userID}, nil
	case "addpoints", "deductpoints":
		if len(args) < 2 {
			return nil, bad
		}
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return nil, bad
		}
		amount, err := utils.ParseAmount(args[1])
		if err != nil || !amount.IsPositive() {
			return nil, bad
		}
		if name == "deductpoints" {
			amount = amount.Neg()
		}
		return service.AdjustBalance{UserID: userID, Amount: amount, Reason: rest(2)}, nil
	}

	id, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return nil, bad
	}
	switch name {
	case "approve":
		return service.ApproveSubmissionAction{SubmissionID: uint(id)}, nil
	case "reject":
		return service.RejectSubmissionAction{SubmissionID: uint(id), Reason: rest(1)}, nil
	case "approve_withdraw":
		return service.ApproveWithdrawalAction{WithdrawalID: uint(id), ExternalRef: rest(1)}, nil
	case "reject_withdraw":
		return service.RejectWithdrawalAction{WithdrawalID: uint(id), Reason: rest(1)}, nil
	case "removetask":
		return service.RemoveTask{TaskID: uint(id)}, nil
	}
	return nil, bad
}

// parseTaskInput reads "Description | Reward | Requirements | Link"; the last
// two parts are optional.
func parseTaskInput(text string) (service.NewTask, error) {
	parts := strings.Split(text, "|")
	if len(parts) < 2 {
		return service.NewTask{}, &UsageError{Usage: taskInputHelp}
	}
	reward, err := utils.ParseAmount(parts[1])
	if err != nil {
		return service.NewTask{}, &UsageError{Usage: taskInputHelp}
	}

	task := service.NewTask{
		Description: strings.TrimSpace(parts[0]),
		Reward:      reward,
	}
	if len(parts) > 2 {
		task.Requirements = strings.TrimSpace(parts[2])
	}
	if len(parts) > 3 {
		task.Link = strings.TrimSpace(strings.Join(parts[3:], "|"))
	}
	return task, nil
}

// parseChannelInput reads "Channel ID | Channel Name".
func parseChannelInput(text string) (service.AddChannel, error) {
	parts := strings.Split(text, "|")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		return service.AddChannel{}, &UsageError{Usage: "Channel ID | Channel Name"}
	}
	action := service.AddChannel{ChannelID: id}
	if len(parts) > 1 {
		action.Name = strings.TrimSpace(parts[1])
	}
	return action, nil
}

func (b *Bot) handleAdminCommand(ctx context.Context, chatID int64, op service.Operator, text string) {
	action, err := parseAdminCommand(text)
	if err != nil {
		var usage *UsageError
		if errors.As(err, &usage) {
			b.sendMessage(chatID, "❌ Usage: "+utils.EscapeMarkdown(usage.Usage), nil)
			return
		}
		b.sendMessage(chatID, "Unknown command.", nil)
		return
	}
	b.runAdminAction(ctx, chatID, op, action)
}

func (b *Bot) runAdminAction(ctx context.Context, chatID int64, op service.Operator, action service.AdminAction) {
	res, err := b.service.Execute(ctx, op, action)
	if err != nil {
		b.sendMessage(chatID, b.describeError(err), nil)
		return
	}

	if _, ok := action.(service.ListPendingWithdrawalsAction); ok {
		b.sendWithdrawalsPage(chatID, res.Withdrawals, 0)
		return
	}
	b.sendMessage(chatID, renderAdminResult(action, res), nil)

	if _, ok := action.(service.AddTask); ok && res.Task != nil {
		b.broadcastTask(op, res.Task)
	}
}

func renderAdminResult(action service.AdminAction, res *service.AdminResult) string {
	switch a := action.(type) {
	case service.AddTask:
		return fmt.Sprintf("✅ Task #%d added successfully!", res.Task.ID)
	case service.RemoveTask:
		return fmt.Sprintf("✅ Task #%d deactivated.", a.TaskID)
	case service.AdjustBalance:
		return fmt.Sprintf("✅ %s %s for user `%d`. New balance: %s",
			verbFor(res.Transaction.Type), utils.FormatMoney(res.Transaction.Amount), a.UserID, utils.FormatMoney(res.Transaction.BalanceAfter))
	case service.BlockUser:
		return fmt.Sprintf("⛔ User `%d` blocked.", a.UserID)
	case service.UnblockUser:
		return fmt.Sprintf("✅ User `%d` unblocked.", a.UserID)
	case service.AddChannel:
		return fmt.Sprintf("✅ Channel %s added successfully!", utils.EscapeMarkdown(res.Channel.DisplayName()))
	case service.RemoveChannel:
		return fmt.Sprintf("✅ Channel %s removed.", utils.EscapeMarkdown(a.ChannelID))
	case service.ApproveSubmissionAction:
		return fmt.Sprintf("✅ Submission #%d approved. Credited %s to user `%d`.",
			res.Submission.ID, utils.FormatMoney(res.Transaction.Amount), res.Submission.UserID)
	case service.RejectSubmissionAction:
		return fmt.Sprintf("❌ Submission #%d rejected.", res.Submission.ID)
	case service.ApproveWithdrawalAction:
		return fmt.Sprintf("✅ Withdrawal #%d marked as paid (ref %s).", res.Withdrawal.ID, utils.EscapeMarkdown(res.Withdrawal.ExternalRef))
	case service.RejectWithdrawalAction:
		return fmt.Sprintf("❌ Withdrawal #%d rejected, %s refunded.", res.Withdrawal.ID, utils.FormatMoney(res.Withdrawal.Amount))
	case service.ShowFinancialStats:
		return renderFinancialStats(res)
	case service.ShowSystemStats:
		return renderSystemStats(res)
	case service.ListUsersAction:
		return renderUsers(res.Users)
	case service.ListPendingSubmissionsAction:
		return renderSubmissions(res.Submissions)
	case service.ListTasksAction:
		return renderTasks(res.Tasks)
	case service.ReconcileUser:
		r := res.Reconciliation
		status := "✅ Consistent"
		if !r.Consistent() {
			status = "⚠️ Drift detected"
		}
		return fmt.Sprintf("🧮 *Ledger check for* `%d`\n\nBalance: %s\nLedger sum: %s\n%s",
			r.UserID, utils.FormatMoney(r.Balance), utils.FormatMoney(r.LedgerSum), status)
	}
	return "✅ Done."
}

func verbFor(t models.TransactionType) string {
	if t.Inflow() {
		return "Added"
	}
	return "Deducted"
}

func renderFinancialStats(res *service.AdminResult) string {
	f := res.Financial
	credits := decimal.Zero
	debits := decimal.Zero
	types := make([]string, 0, len(f.Since))
	for t, amount := range f.Since {
		types = append(types, string(t))
		if t.Inflow() {
			credits = credits.Add(amount)
		} else {
			debits = debits.Add(amount)
		}
	}
	sort.Strings(types)

	var sb strings.Builder
	sb.WriteString("💰 *Financial Statistics*\n\n")
	sb.WriteString(fmt.Sprintf("💵 Total User Balance: %s\n", utils.FormatMoney(f.TotalUserBalance)))
	sb.WriteString(fmt.Sprintf("💸 Total Paid Out: %s\n", utils.FormatMoney(f.TotalPaidOut)))
	sb.WriteString(fmt.Sprintf("⏳ Pending Withdrawals: %s\n", utils.FormatMoney(f.PendingWithdrawals)))
	sb.WriteString(fmt.Sprintf("🎁 Rewards Given: %s\n", utils.FormatMoney(f.RewardsGiven)))
	sb.WriteString(fmt.Sprintf("👥 Verified Users: %d\n", f.VerifiedUsers))
	sb.WriteString(fmt.Sprintf("📋 Active Tasks: %d\n\n", f.ActiveTasks))
	sb.WriteString("📅 *Today*\n")
	for _, t := range types {
		sb.WriteString(fmt.Sprintf("%s: %s\n", utils.EscapeMarkdown(t), utils.FormatMoney(f.Since[models.TransactionType(t)])))
	}
	sb.WriteString(fmt.Sprintf("Credits: %s\nDebits: %s\nNet: %s\n",
		utils.FormatMoney(credits), utils.FormatMoney(debits), utils.FormatMoney(credits.Sub(debits))))
	return sb.String()
}

func renderSystemStats(res *service.AdminResult) string {
	s := res.System
	return fmt.Sprintf(
		"📊 *System Statistics*\n\n"+
			"👥 Users: %d (verified %d, blocked %d)\n"+
			"📋 Active Tasks: %d\n"+
			"📝 Submissions: %d pending, %d approved\n"+
			"💳 Withdrawals: %d pending, %d completed\n"+
			"📢 Channels: %d",
		s.Users, s.VerifiedUsers, s.BlockedUsers, s.ActiveTasks,
		s.PendingSubmissions, s.ApprovedSubmissions,
		s.PendingWithdrawals, s.CompletedWithdrawals, s.Channels,
	)
}

func renderUsers(users []*models.User) string {
	if len(users) == 0 {
		return "ℹ️ No users yet."
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("👥 *Users* (latest %d)\n\n", len(users)))
	for _, u := range users {
		flags := ""
		if u.IsVerified {
			flags += "✅"
		}
		if u.IsBlocked {
			flags += "⛔"
		}
		sb.WriteString(fmt.Sprintf("`%d` @%s %s\n💰 %s | ✔️ %d tasks\n\n",
			u.TelegramID, utils.EscapeMarkdown(u.Username), flags, utils.FormatMoney(u.Balance), u.CompletedTasks))
	}
	return sb.String()
}

func renderSubmissions(submissions []*models.Submission) string {
	if len(submissions) == 0 {
		return "ℹ️ No pending submissions."
	}
	var sb strings.Builder
	sb.WriteString("📝 *Pending Submissions*\n\n")
	for _, s := range submissions {
		sb.WriteString(fmt.Sprintf("#%d | user `%d` | task #%d | %s\n/approve\\_%d | /reject\\_%d\n\n",
			s.ID, s.UserID, s.TaskID, s.SubmittedAt.Format("2006-01-02 15:04"), s.ID, s.ID))
	}
	return sb.String()
}

func renderTasks(tasks []*models.Task) string {
	if len(tasks) == 0 {
		return "ℹ️ No tasks yet."
	}
	var sb strings.Builder
	sb.WriteString("📋 *All Tasks*\n\n")
	for _, t := range tasks {
		status := "🟢"
		if !t.IsActive {
			status = "🔴"
		}
		sb.WriteString(fmt.Sprintf("%s #%d %s - %s\n", status, t.ID, utils.EscapeMarkdown(t.Description), utils.FormatMoney(t.Reward)))
	}
	return sb.String()
}

func (b *Bot) sendAdminPanel(chatID int64) {
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Add Task", "admin_add_task")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ Remove Task", "admin_remove_task")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 All Tasks", "admin_list_tasks")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("👥 All Users", "admin_list_users")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Pending Withdrawals", "admin_pending_withdrawals")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📝 Pending Submissions", "admin_pending_submissions")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💰 Financial Stats", "admin_financial_stats")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Add Channel", "admin_add_channel")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ Remove Channel", "admin_remove_channel")),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 System Stats", "admin_system_stats")),
	)
	b.sendMessage(chatID, "🔐 *Admin Panel*\n\nChoose an action:", keyboard)
}

func (b *Bot) handleTaskInput(ctx context.Context, chatID, userID int64, text string) {
	b.withOperator(chatID, userID, func(op service.Operator) {
		task, err := parseTaskInput(text)
		if err != nil {
			b.sendMessage(chatID, "❌ Invalid format. Please use:\n"+taskInputHelp, nil)
			return
		}
		b.resetStage(userID)
		b.runAdminAction(ctx, chatID, op, service.AddTask{Task: task})
	})
}

func (b *Bot) handleChannelInput(ctx context.Context, chatID, userID int64, text string) {
	b.withOperator(chatID, userID, func(op service.Operator) {
		action, err := parseChannelInput(text)
		if err != nil {
			b.sendMessage(chatID, "❌ Invalid format. Please use:\nChannel ID | Channel Name", nil)
			return
		}
		b.resetStage(userID)
		b.runAdminAction(ctx, chatID, op, action)
	})
}

// broadcastTask announces a new task to every verified user. It runs in the
// background; individual delivery failures are only logged.
func (b *Bot) broadcastTask(op service.Operator, task *models.Task) {
	text := fmt.Sprintf(
		"🆕 *New Task Available!*\n\n📌 Task #%d\n📝 %s\n💰 Reward: %s\n\nCheck /tasks to view and submit!",
		task.ID, utils.EscapeMarkdown(task.Description), utils.FormatMoney(task.Reward),
	)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx := context.Background()
		ids, err := b.service.ListVerifiedUserIDs(ctx, op)
		if err != nil {
			b.logger.Errorf("Failed to load broadcast audience: %v", err)
			return
		}
		sent := 0
		for _, id := range ids {
			msg := tgbotapi.NewMessage(id, text)
			msg.ParseMode = tgbotapi.ModeMarkdown
			if _, err := b.API.Send(msg); err != nil {
				b.logger.Warnf("Failed to announce task #%d to %d: %v", task.ID, id, err)
				continue
			}
			sent++
		}
		b.logger.Infof("Announced task #%d to %d of %d users", task.ID, sent, len(ids))
	}()
}
