package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type registration struct {
	Username  string `json:"username" validate:"required,username"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
	FirstName string `json:"first_name" validate:"max=4"`
}

func TestValidateStructSuccess(t *testing.T) {
	payload := registration{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct horse",
	}

	require.NoError(t, ValidateStruct(payload))
}

func TestValidateStructFailures(t *testing.T) {
	err := ValidateStruct(registration{Username: "", Email: "invalid", Password: "short", FirstName: "Alexandra"})
	require.Error(t, err)

	var vErrs ValidationErrors
	require.True(t, errors.As(err, &vErrs), "expected ValidationErrors, got %T", err)
	require.Len(t, vErrs, 4)

	fields := map[string]string{}
	for _, v := range vErrs {
		fields[v.Field] = v.Tag
	}
	require.Equal(t, "required", fields["username"])
	require.Equal(t, "email", fields["email"])
	require.Equal(t, "password", fields["password"])
	require.Equal(t, "max", fields["first_name"])

	msg := vErrs.Error()
	require.Contains(t, msg, "username is required")
	require.Contains(t, msg, "email must be a valid email address")
	require.Contains(t, msg, "first name must be at most 4 characters")
}

func TestUsernameRule(t *testing.T) {
	cases := map[string]bool{
		"alice":        true,
		"bob.smith-01": true,
		"ab":           false,
		"-alice":       false,
		"has space":    false,
	}
	for name, ok := range cases {
		err := ValidateStruct(registration{Username: name, Email: "a@example.com", Password: "long enough"})
		if ok {
			require.NoError(t, err, name)
		} else {
			require.Error(t, err, name)
		}
	}
}

func TestPasswordRule(t *testing.T) {
	cases := []struct {
		password string
		ok       bool
	}{
		{"long enough", true},
		{strings.Repeat("a", MaxPasswordBytes), true},
		{strings.Repeat("a", MaxPasswordBytes+1), false},
		{"1234567", false},
		{"          ", false},
	}
	for _, tc := range cases {
		err := ValidateStruct(registration{Username: "alice", Email: "a@example.com", Password: tc.password})
		if tc.ok {
			require.NoError(t, err, tc.password)
		} else {
			require.Error(t, err, tc.password)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("accounts", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "accounts"
	})
	require.NoError(t, err)

	type custom struct {
		Value string `validate:"accounts"`
	}

	require.NoError(t, ValidateStruct(custom{Value: "accounts"}))
	require.Error(t, ValidateStruct(custom{Value: "other"}))

	var vErrs ValidationErrors
	require.True(t, errors.As(ValidateStruct(custom{Value: "other"}), &vErrs))
	require.Equal(t, "Value failed on accounts", vErrs[0].Message())
}
