package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{}
		wantErr string
	}{
		{"login by email", LoginRequest{Email: "a@b.com", Password: "x"}, ""},
		{"login by id", LoginRequest{Login: "jdoe", Password: "x"}, ""},
		{"login without identifier", LoginRequest{Password: "x"}, "validation failed: email: required when login is empty"},
		{"register bad login id", RegisterRequest{Email: "a@b.com", Login: "a b", Password: "x"}, "validation failed: login:"},
		{"register dotted login id", RegisterRequest{Email: "a@b.com", Login: "j.doe-2", Password: "x"}, ""},
		{"reset bad email", PasswordResetRequest{Email: "nope"}, "validation failed: email: must be a valid email address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
