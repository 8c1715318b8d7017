package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "login:1.2.3.4:a@x.com", LoginKey("1.2.3.4", " A@X.com "))
	assert.Equal(t, "api:user:42", APIKey("42", "1.2.3.4"))
	assert.Equal(t, "api:ip:1.2.3.4", APIKey("", "1.2.3.4"))
	assert.Equal(t, "password_reset:1.2.3.4:b@y.com", PasswordResetKey("1.2.3.4", "b@y.com"))
	assert.Equal(t, "register:1.2.3.4", RegisterKey("1.2.3.4"))
}

func TestKeys_IPv6AndUnknown(t *testing.T) {
	assert.Equal(t, "register:2001:db8::/64", RegisterKey("2001:db8::1"))
	assert.Equal(t, RegisterKey("2001:db8::1"), RegisterKey("2001:db8::ffff"))
	assert.Equal(t, "register:unknown", RegisterKey(""))
	assert.Equal(t, "login:unknown:bob", LoginKey("garbage", "bob"))
}
