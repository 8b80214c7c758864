package service

import (
	"context"
	"time"

	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/repository"
	"github.com/Fi44er/task_bot/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	InTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	GetUser(ctx context.Context, tx *gorm.DB, telegramID int64) (*models.User, error)
	LockUser(ctx context.Context, tx *gorm.DB, telegramID int64) (*models.User, error)
	CreateUserIfAbsent(ctx context.Context, user *models.User) (bool, error)
	UpdateUserFields(ctx context.Context, tx *gorm.DB, telegramID int64, fields map[string]interface{}) error
	ListUsers(ctx context.Context, limit int) ([]*models.User, error)
	ListVerifiedUserIDs(ctx context.Context) ([]int64, error)

	InsertAddressIfAbsent(ctx context.Context, tx *gorm.DB, record *models.NetworkAddress) error
	GetAddress(ctx context.Context, tx *gorm.DB, address string) (*models.NetworkAddress, error)
	TouchAddress(ctx context.Context, tx *gorm.DB, address string, seen time.Time) error
	MarkTokenUsed(ctx context.Context, tx *gorm.DB, token *models.VerificationToken) (bool, error)

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, tx *gorm.DB, id uint) (*models.Task, error)
	ListTasks(ctx context.Context, activeOnly bool) ([]*models.Task, error)
	DeactivateTask(ctx context.Context, id uint) (bool, error)

	CreateSubmission(ctx context.Context, tx *gorm.DB, submission *models.Submission) error
	GetSubmission(ctx context.Context, tx *gorm.DB, id uint) (*models.Submission, error)
	HasSubmission(ctx context.Context, tx *gorm.DB, userID int64, taskID uint, status models.SubmissionStatus) (bool, error)
	TransitionSubmission(ctx context.Context, tx *gorm.DB, id uint, to models.SubmissionStatus, fields map[string]interface{}) (bool, error)
	ListSubmissions(ctx context.Context, status models.SubmissionStatus, limit int) ([]*models.Submission, error)

	CreateWithdrawal(ctx context.Context, tx *gorm.DB, withdrawal *models.Withdrawal) error
	GetWithdrawalByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id uint, to models.WithdrawalStatus, fields map[string]interface{}) (bool, error)
	ListWithdrawals(ctx context.Context, status models.WithdrawalStatus, limit int) ([]*models.Withdrawal, error)

	CreateTransaction(ctx context.Context, tx *gorm.DB, entry *models.Transaction) error
	ListTransactions(ctx context.Context, tx *gorm.DB, userID int64, limit int) ([]*models.Transaction, error)

	UpsertChannel(ctx context.Context, channel *models.Channel) error
	DeleteChannel(ctx context.Context, channelID string) (bool, error)
	ListChannels(ctx context.Context, requiredOnly bool) ([]models.Channel, error)

	GetFinancialStats(ctx context.Context, since time.Time) (*repository.FinancialStats, error)
	GetSystemStats(ctx context.Context) (*repository.SystemStats, error)
}

// MembershipChecker asks the chat platform whether a user joined the given
// channels. It returns the display names of the channels the user is missing.
type MembershipChecker interface {
	CheckMembership(ctx context.Context, userID int64, channels []models.Channel) (bool, []string, error)
}

// Notifier delivers a text message to a user or operator chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Options struct {
	Operators     OperatorSet
	Minimums      map[models.WithdrawalMethod]decimal.Decimal
	NotifyTimeout time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

type Service struct {
	repo          Repository
	membership    MembershipChecker
	notifier      Notifier
	operators     OperatorSet
	minimums      map[models.WithdrawalMethod]decimal.Decimal
	notifyTimeout time.Duration
	now           func() time.Time
	logger        *utils.Logger
}

func NewService(repo Repository, membership MembershipChecker, notifier Notifier, opts Options, logger *utils.Logger) *Service {
	s := &Service{
		repo:          repo,
		membership:    membership,
		notifier:      notifier,
		operators:     opts.Operators,
		minimums:      opts.Minimums,
		notifyTimeout: opts.NotifyTimeout,
		now:           opts.Now,
		logger:        logger,
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.minimums == nil {
		s.minimums = map[models.WithdrawalMethod]decimal.Decimal{
			models.MethodUPI:     decimal.NewFromInt(10),
			models.MethodGateway: decimal.NewFromInt(1),
		}
	}
	return s
}

func (s *Service) Operators() OperatorSet {
	return s.operators
}
