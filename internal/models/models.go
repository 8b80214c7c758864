package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	TelegramID int64  `gorm:"primaryKey;autoIncrement:false" json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`

	Balance        decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	TotalEarned    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_earned"`
	TotalWithdrawn decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"total_withdrawn"`
	CompletedTasks int             `gorm:"not null;default:0" json:"completed_tasks"`
	PendingTasks   int             `gorm:"not null;default:0" json:"pending_tasks"`

	IsVerified      bool   `gorm:"not null;default:false;index" json:"is_verified"`
	IsBlocked       bool   `gorm:"not null;default:false" json:"is_blocked"`
	VerifiedAddress string `json:"verified_address"`

	JoinedAt     time.Time `json:"joined_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NetworkAddress binds an address to the first user that claimed it.
type NetworkAddress struct {
	Address   string    `gorm:"primaryKey" json:"address"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// VerificationToken records a verification link that has been redeemed.
// Each link binds at most one address.
type VerificationToken struct {
	ID      string    `gorm:"primaryKey" json:"id"`
	UserID  int64     `gorm:"not null;index" json:"user_id"`
	Address string    `gorm:"not null" json:"address"`
	UsedAt  time.Time `json:"used_at"`
}

type Task struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	Description  string          `gorm:"not null" json:"description"`
	Reward       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"reward"`
	Requirements string          `json:"requirements"`
	Link         string          `json:"link"`
	IsActive     bool            `gorm:"not null;default:true;index" json:"is_active"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

type Submission struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	UserID   int64  `gorm:"not null;index:idx_submission_pending,unique,where:status = 'pending'" json:"user_id"`
	TaskID   uint   `gorm:"not null;index:idx_submission_pending,unique,where:status = 'pending'" json:"task_id"`
	ProofRef string `json:"proof_ref"`
	Address  string `json:"address"`

	Status      SubmissionStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	SubmittedAt time.Time        `json:"submitted_at"`
	ReviewedBy  *int64           `json:"reviewed_by"`
	ReviewedAt  *time.Time       `json:"reviewed_at"`
	Notes       string           `json:"notes"`
}

type WithdrawalMethod string

const (
	MethodUPI     WithdrawalMethod = "upi"
	MethodGateway WithdrawalMethod = "gateway"
)

func (m WithdrawalMethod) Valid() bool {
	return m == MethodUPI || m == MethodGateway
}

func (m WithdrawalMethod) Title() string {
	switch m {
	case MethodUPI:
		return "UPI"
	case MethodGateway:
		return "Instant Gateway"
	default:
		return string(m)
	}
}

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
)

type Withdrawal struct {
	ID             uint             `gorm:"primaryKey" json:"id"`
	UserID         int64            `gorm:"not null;index" json:"user_id"`
	Amount         decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"amount"`
	Method         WithdrawalMethod `gorm:"type:varchar(16);not null" json:"method"`
	AccountDetails string           `json:"account_details"`

	Status      WithdrawalStatus `gorm:"type:varchar(16);not null;default:pending;index" json:"status"`
	RequestedAt time.Time        `json:"requested_at"`
	ProcessedAt *time.Time       `json:"processed_at"`
	ProcessedBy *int64           `json:"processed_by"`
	ExternalRef string           `json:"external_ref"`
	AdminNotes  string           `json:"admin_notes"`
}

type TransactionType string

const (
	TxCredit            TransactionType = "credit"
	TxDebit             TransactionType = "debit"
	TxWithdrawalRequest TransactionType = "withdrawal_request"
	TxRefund            TransactionType = "refund"
	TxAdminCredit       TransactionType = "admin_credit"
	TxAdminDebit        TransactionType = "admin_debit"
)

// Inflow reports whether the type increases the balance.
func (t TransactionType) Inflow() bool {
	switch t {
	case TxCredit, TxRefund, TxAdminCredit:
		return true
	default:
		return false
	}
}

// Transaction is the append-only audit row written for every balance change.
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        int64           `gorm:"not null;index" json:"user_id"`
	Type          TransactionType `gorm:"type:varchar(32);not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Description   string          `json:"description"`
	OperatorID    *int64          `json:"operator_id"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}

func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type.Inflow() {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Channel is a chat the user must join before transacting.
type Channel struct {
	ChannelID  string    `gorm:"primaryKey" json:"channel_id"`
	Name       string    `json:"name"`
	IsRequired bool      `gorm:"not null;default:true" json:"is_required"`
	AddedBy    int64     `json:"added_by"`
	AddedAt    time.Time `json:"added_at"`
}

func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ChannelID
}

func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&NetworkAddress{},
		&VerificationToken{},
		&Task{},
		&Submission{},
		&Withdrawal{},
		&Transaction{},
		&Channel{},
	}
}
