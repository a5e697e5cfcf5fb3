package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeProject PaymentType = "PROJECT"
	PaymentTypeOrder   PaymentType = "ORDER"
	PaymentTypeEtc     PaymentType = "ETC"
)

// ParsePaymentType accepts any enum value, including ones with no handler.
func ParsePaymentType(value string) (PaymentType, bool) {
	switch PaymentType(value) {
	case PaymentTypeProject, PaymentTypeOrder, PaymentTypeEtc:
		return PaymentType(value), true
	default:
		return "", false
	}
}

type Status string

const (
	StatusPaid              Status = "PAID"
	StatusPartiallyCanceled Status = "PARTIALLY_CANCELED"
	StatusFullyCanceled     Status = "FULLY_CANCELED"
	StatusFailed            Status = "FAILED"
	StatusAmountManipulated Status = "AMOUNT_MANIPULATED"
)

// SuccessfulStatuses are the statuses of payments that moved money.
var SuccessfulStatuses = []Status{StatusPaid, StatusPartiallyCanceled, StatusFullyCanceled}

type MetadataType string

const (
	MetadataTypePayment      MetadataType = "PAYMENT"
	MetadataTypeCancellation MetadataType = "CANCELLATION"
	MetadataTypeFailed       MetadataType = "FAILED"
	MetadataTypeViolated     MetadataType = "VIOLATED"
)

type Payment struct {
	ID             snowflake.ID        `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PayerID        snowflake.ID        `json:"payer_id" gorm:"not null;index"`
	ExpertID       snowflake.ID        `json:"expert_id" gorm:"not null;index"`
	PaymentKey     *string             `json:"payment_key,omitempty" gorm:"type:varchar(200)"`
	OrderID        string              `json:"order_id" gorm:"type:varchar(64);not null;index"`
	PaymentType    PaymentType         `json:"payment_type" gorm:"type:varchar(20);not null"`
	ReferenceID    snowflake.ID        `json:"reference_id" gorm:"not null;index"`
	OrderName      string              `json:"order_name" gorm:"type:varchar(200);not null"`
	TotalPrice     decimal.Decimal     `json:"total_price" gorm:"type:numeric(18,2);not null"`
	TotalFee       decimal.Decimal     `json:"total_fee" gorm:"type:numeric(18,2);not null"`
	CanceledAmount decimal.NullDecimal `json:"canceled_amount" gorm:"type:numeric(18,2)"`
	Status         Status              `json:"status" gorm:"type:varchar(20);not null;index"`
	PaymentDate    time.Time           `json:"payment_date" gorm:"not null;index"`
	Version        int64               `json:"version" gorm:"not null;default:0"`
	CreatedAt      time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time           `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

type PaymentDetail struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentID snowflake.ID    `json:"payment_id" gorm:"not null;index"`
	Name      string          `json:"name" gorm:"type:varchar(200);not null"`
	Quantity  int64           `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(18,2);not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

func (PaymentDetail) TableName() string { return "payment_details" }

type PaymentMetadata struct {
	ID        snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentID snowflake.ID   `json:"payment_id" gorm:"not null;index"`
	Type      MetadataType   `json:"type" gorm:"type:varchar(20);not null"`
	Payload   datatypes.JSON `json:"payload" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"not null"`
}

func (PaymentMetadata) TableName() string { return "payment_metadata" }

type PaymentCancellationDetail struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentID      snowflake.ID    `json:"payment_id" gorm:"not null;index"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	RemainingAfter decimal.Decimal `json:"remaining_after" gorm:"type:numeric(18,2);not null"`
	Reason         string          `json:"reason" gorm:"type:varchar(500);not null"`
	IsFull         bool            `json:"is_full" gorm:"not null"`
	TransactionKey string          `json:"transaction_key" gorm:"type:varchar(200)"`
	CanceledAt     time.Time       `json:"canceled_at" gorm:"not null"`
}

func (PaymentCancellationDetail) TableName() string { return "payment_cancellation_details" }

type PaymentManipulationDetail struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PaymentID       snowflake.ID    `json:"payment_id" gorm:"not null;index"`
	OrderID         string          `json:"order_id" gorm:"type:varchar(64);not null"`
	ExpectedAmount  decimal.Decimal `json:"expected_amount" gorm:"type:numeric(18,2);not null"`
	RequestedAmount decimal.Decimal `json:"requested_amount" gorm:"type:numeric(18,2);not null"`
	IPAddress       string          `json:"ip_address" gorm:"type:varchar(64)"`
	UserAgent       string          `json:"user_agent" gorm:"type:varchar(500)"`
	DetectedAt      time.Time       `json:"detected_at" gorm:"not null"`
}

func (PaymentManipulationDetail) TableName() string { return "payment_manipulation_details" }
