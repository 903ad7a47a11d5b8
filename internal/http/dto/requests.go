package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cleaninghouse/escrow/internal/money"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Check runs the struct tags and returns the first problem as a client message,
// or "" when the request is well-formed.
func Check(req any) string {
	err := validate.Struct(req)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "uuid":
		return "invalid " + fe.Field()
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gt":
		return fe.Field() + " must be positive"
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}

type CreateOrderRequest struct {
	ContractorID        string     `json:"contractorId" validate:"required,uuid"`
	Title               string     `json:"title" validate:"required,max=200"`
	Description         string     `json:"description" validate:"max=5000"`
	Budget              string     `json:"budget" validate:"required"`
	Address             string     `json:"address" validate:"required,max=500"`
	Phone               string     `json:"phone" validate:"max=32"`
	ScheduledDate       *time.Time `json:"scheduledDate,omitempty"`
	SpecialInstructions *string    `json:"specialInstructions,omitempty" validate:"omitempty,max=2000"`
	EstimatedDuration   *int       `json:"estimatedDuration,omitempty" validate:"omitempty,gt=0"`
}

// Validate checks shape only; business rules live in the services.
func (r *CreateOrderRequest) Validate() (uuid.UUID, decimal.Decimal, string) {
	if problem := Check(r); problem != "" {
		return uuid.Nil, decimal.Zero, problem
	}
	if strings.TrimSpace(r.Title) == "" {
		return uuid.Nil, decimal.Zero, "title is required"
	}
	if strings.TrimSpace(r.Address) == "" {
		return uuid.Nil, decimal.Zero, "address is required"
	}
	budget, err := money.Parse(r.Budget)
	if err != nil {
		return uuid.Nil, decimal.Zero, "budget must be a positive amount with at most 2 decimals"
	}
	return uuid.MustParse(r.ContractorID), budget, ""
}

type CreateInvitationRequest struct {
	ContractorID        string  `json:"contractorId" validate:"required,uuid"`
	PersonalizedOrderID string  `json:"personalizedOrderId" validate:"required,uuid"`
	Message             *string `json:"message,omitempty" validate:"omitempty,max=2000"`
}

type RejectInvitationRequest struct {
	RejectionReason string `json:"rejectionReason" validate:"max=1000"`
}

type RefundRequest struct {
	// Amount is optional; empty refunds everything still refundable.
	Amount string `json:"amount"`
	Reason string `json:"reason" validate:"max=500"`
}
