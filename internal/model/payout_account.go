package model

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// PayoutAccount is the bank account a tutor's earnings are paid out to.
type PayoutAccount struct {
	TutorID   int64     `json:"tutor_id"`
	Name      string    `json:"name"`    // владелец счёта
	Account   string    `json:"account"` // номер счёта
	Bank      string    `json:"bank"`    // код банка, например "bca"
	Email     string    `json:"email"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *PayoutAccount) Clone() *PayoutAccount {
	c := *a
	return &c
}

// Validate trims the fields in place and reports every missing or malformed one.
func (a *PayoutAccount) Validate() error {
	a.Name = strings.TrimSpace(a.Name)
	a.Account = strings.TrimSpace(a.Account)
	a.Bank = strings.ToLower(strings.TrimSpace(a.Bank))
	a.Email = strings.TrimSpace(a.Email)

	var fields []FieldError
	if a.Name == "" {
		fields = append(fields, FieldError{Field: "name", Error: "is required"})
	}
	if a.Account == "" {
		fields = append(fields, FieldError{Field: "account", Error: "is required"})
	} else if strings.Trim(a.Account, "0123456789") != "" {
		fields = append(fields, FieldError{Field: "account", Error: "must contain digits only"})
	}
	if a.Bank == "" {
		fields = append(fields, FieldError{Field: "bank", Error: "is required"})
	}
	if a.Email != "" {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			fields = append(fields, FieldError{Field: "email", Error: "is not a valid address"})
		}
	}

	if len(fields) > 0 {
		return NewValidationError(errors.New("invalid payout account"), fields...)
	}
	return nil
}
