package main

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/MrEthical07/tokenguard/jwt"
)

const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
)

var errCSRFMismatch = errors.New("csrf token mismatch")

// doubleSubmit accepts a request whose CSRF header equals its CSRF cookie.
type doubleSubmit struct{}

func (doubleSubmit) VerifyCSRF(r *http.Request, _ *jwt.Claims) error {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return errCSRFMismatch
	}
	header := r.Header.Get(csrfHeaderName)
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
		return errCSRFMismatch
	}
	return nil
}
