package uas

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// RegisterAccountMessage is the input of a self-service registration.
type RegisterAccountMessage struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (m RegisterAccountMessage) Type() string { return "account.register" }

// Validate checks the payload. Email domains listed in blocked are refused.
func (m RegisterAccountMessage) Validate(blocked ...string) error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required, validation.Length(3, 255), is.Email,
			validation.By(notBlockedDomain(blocked))),
		validation.Field(&m.Username, validation.Required, validation.Length(3, 100), is.Alphanumeric),
		validation.Field(&m.Password, validation.Required, validation.Length(6, 100)),
	)
	if err != nil {
		return validationError(err, "invalid registration")
	}
	return nil
}

// LoginMessage carries credentials submitted to the login endpoint.
type LoginMessage struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (m LoginMessage) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Email, validation.Required),
		validation.Field(&m.Password, validation.Required),
	)
	if err != nil {
		return validationError(err, "invalid login request")
	}
	return nil
}

// newPasswordRules is shared by every flow that sets a password.
func newPasswordRules(password, confirm *string) []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(password, validation.Required, validation.Length(6, 100)),
		validation.Field(confirm, validation.Required, validation.By(equalsString(*password))),
	}
}

func equalsString(expected string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != expected {
			return errors.New("passwords do not match")
		}
		return nil
	}
}

func notBlockedDomain(blocked []string) validation.RuleFunc {
	return func(value any) error {
		email, _ := value.(string)
		at := strings.LastIndex(email, "@")
		if at < 0 || len(blocked) == 0 {
			return nil
		}
		domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
		for _, b := range blocked {
			if strings.EqualFold(strings.TrimSpace(b), domain) {
				return errors.New("email domain is not allowed")
			}
		}
		return nil
	}
}
