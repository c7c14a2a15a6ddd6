package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signup struct {
	Username string   `json:"username" validate:"required,min=3,max=50"`
	Email    string   `json:"email" validate:"omitempty,email"`
	Role     string   `json:"role" validate:"required,oneof=admin viewer"`
	IPs      []string `json:"allowed_ips" validate:"omitempty,dive,ip|cidr"`
}

func TestValidatorIsShared(t *testing.T) {
	assert.Same(t, Validator(), Validator())
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&signup{Username: "alice", Role: "admin", IPs: []string{"10.0.0.0/8", "1.2.3.4"}}))
}

func TestStruct_Messages(t *testing.T) {
	tests := []struct {
		name string
		in   signup
		want string
	}{
		{"missing", signup{Role: "admin"}, "username is required"},
		{"short", signup{Username: "al", Role: "admin"}, "username must be at least 3 characters"},
		{"email", signup{Username: "alice", Email: "nope", Role: "admin"}, "email must be a valid email address"},
		{"oneof", signup{Username: "alice", Role: "root"}, "role must be one of: admin, viewer"},
		{"ips", signup{Username: "alice", Role: "admin", IPs: []string{"bogus"}}, "allowed_ips[0] must be an IP address or CIDR block"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(&tt.in)
			require.Error(t, err)
			var ve *Error
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.want, ve.Error())
		})
	}
}
