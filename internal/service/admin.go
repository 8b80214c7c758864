package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/repository"
	"github.com/Fi44er/task_bot/utils"
	"github.com/shopspring/decimal"
)

// Adjust moves a user's balance by a signed amount on an operator's behalf.
// Positive amounts post admin_credit, negative ones admin_debit.
func (s *Service) Adjust(ctx context.Context, op Operator, userID int64, signedAmount decimal.Decimal, reason string) (*models.Transaction, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	if signedAmount.IsZero() {
		return nil, invalid("amount", "must not be zero")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Manual adjustment"
	}

	operatorID := op.ID()
	p := posting{
		txType:      models.TxAdminCredit,
		amount:      signedAmount.Abs(),
		description: reason,
		operatorID:  &operatorID,
		earned:      true,
	}
	if signedAmount.IsNegative() {
		p.txType = models.TxAdminDebit
		p.earned = false
	}

	entry, err := s.postLocked(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	s.logger.Infof("Operator %d posted %s of %s for user %d: %s", operatorID, entry.Type, entry.Amount.StringFixed(2), userID, reason)
	verb := "added to"
	if entry.Type == models.TxAdminDebit {
		verb = "deducted from"
	}
	s.notify(ctx, userID, fmt.Sprintf("ℹ️ %s %s your balance.\nReason: %s\nNew Balance: %s",
		utils.FormatMoney(entry.Amount), verb, utils.EscapeMarkdown(reason), utils.FormatMoney(entry.BalanceAfter)))
	return entry, nil
}

func (s *Service) setBlocked(ctx context.Context, op Operator, userID int64, blocked bool) error {
	if err := requireOperator(op); err != nil {
		return err
	}
	if _, err := s.GetUser(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.UpdateUserFields(ctx, nil, userID, map[string]interface{}{"is_blocked": blocked}); err != nil {
		return err
	}
	s.logger.Infof("Operator %d set blocked=%t for user %d", op.ID(), blocked, userID)
	return nil
}

func (s *Service) BlockUser(ctx context.Context, op Operator, userID int64) error {
	return s.setBlocked(ctx, op, userID, true)
}

func (s *Service) UnblockUser(ctx context.Context, op Operator, userID int64) error {
	return s.setBlocked(ctx, op, userID, false)
}

func (s *Service) AddChannel(ctx context.Context, op Operator, channelID, name string) (*models.Channel, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return nil, invalid("channel_id", "must not be empty")
	}
	if !strings.HasPrefix(channelID, "@") && !strings.HasPrefix(channelID, "-") {
		return nil, invalid("channel_id", "use @username or a numeric chat id")
	}

	channel := &models.Channel{
		ChannelID:  channelID,
		Name:       strings.TrimSpace(name),
		IsRequired: true,
		AddedBy:    op.ID(),
		AddedAt:    s.now(),
	}
	if err := s.repo.UpsertChannel(ctx, channel); err != nil {
		return nil, err
	}
	s.logger.Infof("Operator %d added required channel %s", op.ID(), channelID)
	return channel, nil
}

func (s *Service) RemoveChannel(ctx context.Context, op Operator, channelID string) error {
	if err := requireOperator(op); err != nil {
		return err
	}
	deleted, err := s.repo.DeleteChannel(ctx, strings.TrimSpace(channelID))
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	s.logger.Infof("Operator %d removed channel %s", op.ID(), channelID)
	return nil
}

func (s *Service) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return s.repo.ListChannels(ctx, false)
}

// FinancialStats reports the ledger totals with today's movements broken
// down by transaction type.
func (s *Service) FinancialStats(ctx context.Context, op Operator) (*repository.FinancialStats, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.repo.GetFinancialStats(ctx, startOfDay)
}

func (s *Service) SystemStats(ctx context.Context, op Operator) (*repository.SystemStats, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.GetSystemStats(ctx)
}

func (s *Service) ListUsers(ctx context.Context, op Operator, limit int) ([]*models.User, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx, limit)
}

// ListVerifiedUserIDs returns the audience of new-task announcements.
func (s *Service) ListVerifiedUserIDs(ctx context.Context, op Operator) ([]int64, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}
	return s.repo.ListVerifiedUserIDs(ctx)
}

// AdminAction is one of the operator commands below. The set is closed:
// only types in this package implement it.
type AdminAction interface {
	adminAction()
}

type (
	AddTask struct {
		Task NewTask
	}
	RemoveTask struct {
		TaskID uint
	}
	AdjustBalance struct {
		UserID int64
		Amount decimal.Decimal // signed
		Reason string
	}
	BlockUser struct {
		UserID int64
	}
	UnblockUser struct {
		UserID int64
	}
	AddChannel struct {
		ChannelID string
		Name      string
	}
	RemoveChannel struct {
		ChannelID string
	}
	ApproveSubmissionAction struct {
		SubmissionID uint
	}
	RejectSubmissionAction struct {
		SubmissionID uint
		Reason       string
	}
	ApproveWithdrawalAction struct {
		WithdrawalID uint
		ExternalRef  string
	}
	RejectWithdrawalAction struct {
		WithdrawalID uint
		Reason       string
	}
	ShowFinancialStats struct{}
	ShowSystemStats    struct{}
	ListUsersAction    struct {
		Limit int
	}
	ListPendingSubmissionsAction struct {
		Limit int
	}
	ListPendingWithdrawalsAction struct {
		Limit int
	}
	ListTasksAction struct{}
	ReconcileUser   struct {
		UserID int64
	}
)

func (AddTask) adminAction()                      {}
func (RemoveTask) adminAction()                   {}
func (AdjustBalance) adminAction()                {}
func (BlockUser) adminAction()                    {}
func (UnblockUser) adminAction()                  {}
func (AddChannel) adminAction()                   {}
func (RemoveChannel) adminAction()                {}
func (ApproveSubmissionAction) adminAction()      {}
func (RejectSubmissionAction) adminAction()       {}
func (ApproveWithdrawalAction) adminAction()      {}
func (RejectWithdrawalAction) adminAction()       {}
func (ShowFinancialStats) adminAction()           {}
func (ShowSystemStats) adminAction()              {}
func (ListUsersAction) adminAction()              {}
func (ListPendingSubmissionsAction) adminAction() {}
func (ListPendingWithdrawalsAction) adminAction() {}
func (ListTasksAction) adminAction()              {}
func (ReconcileUser) adminAction()                {}

// AdminResult carries whatever the executed action produced; fields that do
// not apply stay nil.
type AdminResult struct {
	Task        *models.Task
	Tasks       []*models.Task
	Submission  *models.Submission
	Submissions []*models.Submission
	Withdrawal  *models.Withdrawal
	Withdrawals []*models.Withdrawal
	Transaction *models.Transaction
	Channel     *models.Channel
	Users       []*models.User
	Financial   *repository.FinancialStats
	System      *repository.SystemStats

	Reconciliation *Reconciliation
}

func (s *Service) Execute(ctx context.Context, op Operator, action AdminAction) (*AdminResult, error) {
	if err := requireOperator(op); err != nil {
		return nil, err
	}

	res := &AdminResult{}
	var err error
	switch a := action.(type) {
	case AddTask:
		res.Task, err = s.CreateTask(ctx, op, a.Task)
	case RemoveTask:
		err = s.DeactivateTask(ctx, op, a.TaskID)
	case AdjustBalance:
		res.Transaction, err = s.Adjust(ctx, op, a.UserID, a.Amount, a.Reason)
	case BlockUser:
		err = s.BlockUser(ctx, op, a.UserID)
	case UnblockUser:
		err = s.UnblockUser(ctx, op, a.UserID)
	case AddChannel:
		res.Channel, err = s.AddChannel(ctx, op, a.ChannelID, a.Name)
	case RemoveChannel:
		err = s.RemoveChannel(ctx, op, a.ChannelID)
	case ApproveSubmissionAction:
		res.Submission, res.Transaction, err = s.ApproveSubmission(ctx, op, a.SubmissionID)
	case RejectSubmissionAction:
		res.Submission, err = s.RejectSubmission(ctx, op, a.SubmissionID, a.Reason)
	case ApproveWithdrawalAction:
		res.Withdrawal, err = s.ApproveWithdrawal(ctx, op, a.WithdrawalID, a.ExternalRef)
	case RejectWithdrawalAction:
		res.Withdrawal, res.Transaction, err = s.RejectWithdrawal(ctx, op, a.WithdrawalID, a.Reason)
	case ShowFinancialStats:
		res.Financial, err = s.FinancialStats(ctx, op)
	case ShowSystemStats:
		res.System, err = s.SystemStats(ctx, op)
	case ListUsersAction:
		res.Users, err = s.ListUsers(ctx, op, a.Limit)
	case ListPendingSubmissionsAction:
		res.Submissions, err = s.ListPendingSubmissions(ctx, op, a.Limit)
	case ListPendingWithdrawalsAction:
		res.Withdrawals, err = s.ListPendingWithdrawals(ctx, op, a.Limit)
	case ListTasksAction:
		res.Tasks, err = s.ListTasks(ctx, op)
	case ReconcileUser:
		var report Reconciliation
		report, err = s.Reconcile(ctx, a.UserID)
		res.Reconciliation = &report
	default:
		return nil, fmt.Errorf("unsupported admin action %T", action)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
