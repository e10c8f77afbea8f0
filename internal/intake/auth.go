package intake

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/rescuenet/dispatch/pkg/core"
)

// Gateway source tags.
const (
	SourceFixed  = "lora-gateway-fixed"
	SourceMobile = "lora-gateway-mobile"
)

// ErrUnauthorized is returned when a gateway presents an unknown source tag or a wrong key.
var ErrUnauthorized = errors.New("unauthorized gateway")

var sourceChannels = map[string]core.Channel{
	SourceFixed:  core.ChannelLoraFixed,
	SourceMobile: core.ChannelLoraMobile,
}

// Authenticator checks the shared gateway credential.
type Authenticator struct {
	key []byte
}

// NewAuthenticator creates an authenticator. An empty key rejects every gateway.
func NewAuthenticator(key string) *Authenticator {
	return &Authenticator{key: []byte(key)}
}

// CheckKey compares key with the shared credential in constant time.
func (a *Authenticator) CheckKey(key string) error {
	if len(a.key) == 0 {
		return fmt.Errorf("%w: gateway key not configured", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare(a.key, []byte(key)) != 1 {
		return fmt.Errorf("%w: invalid gateway key", ErrUnauthorized)
	}
	return nil
}

// Authenticate validates the source tag and key and returns the channel the gateway reports on.
func (a *Authenticator) Authenticate(source, key string) (core.Channel, error) {
	channel, ok := sourceChannels[source]
	if !ok {
		return "", fmt.Errorf("%w: source must be one of %s, %s", ErrUnauthorized, SourceFixed, SourceMobile)
	}
	if err := a.CheckKey(key); err != nil {
		return "", err
	}
	return channel, nil
}
