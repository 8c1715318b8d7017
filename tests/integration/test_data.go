//go:build integration

package integration

import (
	"fmt"
	"time"
)

const testPassword = "TestPassword123!"

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, login, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	login = fmt.Sprintf("u%d%s", ts, suffix)
	return email, login, testPassword
}
