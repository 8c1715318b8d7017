package ratelimit

import (
	"strings"

	pkghttp "github.com/BradenHooton/assetdesk/pkg/http"
)

// Surface names, also used as key prefixes and metric labels
const (
	SurfaceLogin         = "login"
	SurfaceAPI           = "api"
	SurfacePasswordReset = "password_reset"
	SurfaceRegister      = "register"
)

// LoginKey buckets by client address and identifier together
func LoginKey(ip, identifier string) string {
	return SurfaceLogin + ":" + pkghttp.ClientKey(ip) + ":" + normalize(identifier)
}

// LoginGroup collects the login windows of one identifier across addresses
func LoginGroup(identifier string) string {
	return SurfaceLogin + "-identifier:" + normalize(identifier)
}

// APIKey buckets by user id when authenticated, else by client address
func APIKey(userID, ip string) string {
	if userID != "" {
		return SurfaceAPI + ":user:" + userID
	}
	return SurfaceAPI + ":ip:" + pkghttp.ClientKey(ip)
}

func PasswordResetKey(ip, email string) string {
	return SurfacePasswordReset + ":" + pkghttp.ClientKey(ip) + ":" + normalize(email)
}

func RegisterKey(ip string) string {
	return SurfaceRegister + ":" + pkghttp.ClientKey(ip)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
