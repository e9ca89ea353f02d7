package uas_test

import (
	"testing"

	"github.com/goliatone/go-uas"
	"github.com/stretchr/testify/assert"
)

func TestRegisterAccountMessageValidate(t *testing.T) {
	valid := uas.RegisterAccountMessage{Email: "a@x.com", Username: "alice", Password: "secret1"}

	tests := []struct {
		name    string
		mutate  func(*uas.RegisterAccountMessage)
		blocked []string
		wantErr bool
	}{
		{"valid", func(*uas.RegisterAccountMessage) {}, nil, false},
		{"missing email", func(m *uas.RegisterAccountMessage) { m.Email = "" }, nil, true},
		{"short username", func(m *uas.RegisterAccountMessage) { m.Username = "al" }, nil, true},
		{"symbols in username", func(m *uas.RegisterAccountMessage) { m.Username = "al_ice" }, nil, true},
		{"five char password", func(m *uas.RegisterAccountMessage) { m.Password = "12345" }, nil, true},
		{"six char password", func(m *uas.RegisterAccountMessage) { m.Password = "123456" }, nil, false},
		{"blocked domain", func(*uas.RegisterAccountMessage) {}, []string{"X.com"}, true},
		{"other domain blocked", func(*uas.RegisterAccountMessage) {}, []string{"example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := valid
			tt.mutate(&msg)
			err := msg.Validate(tt.blocked...)
			if tt.wantErr {
				assert.True(t, uas.HasTextCode(err, uas.TextCodeValidation), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPasswordMessagesValidate(t *testing.T) {
	assert.NoError(t, uas.FinalizePasswordResetMessage{Token: "t", Password: "secret1", ConfirmPassword: "secret1"}.Validate())
	assert.Error(t, uas.FinalizePasswordResetMessage{Password: "secret1", ConfirmPassword: "secret1"}.Validate())
	assert.Error(t, uas.FinalizePasswordResetMessage{Token: "t", Password: "secret1", ConfirmPassword: "secret2"}.Validate())

	assert.NoError(t, uas.ChangePasswordMessage{OldPassword: "old", NewPassword: "secret1", ConfirmPassword: "secret1"}.Validate())
	assert.Error(t, uas.ChangePasswordMessage{NewPassword: "secret1", ConfirmPassword: "secret1"}.Validate())

	assert.NoError(t, uas.InitializePasswordResetMessage{Email: "a@x.com"}.Validate())
	assert.Error(t, uas.InitializePasswordResetMessage{Email: "nope"}.Validate())

	assert.Error(t, uas.LoginMessage{Email: "a@x.com"}.Validate())
}
