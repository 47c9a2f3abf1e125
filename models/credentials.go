package models

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// Credentials are the Twitch application credentials entered by the user.
// They are held in memory only.
type Credentials struct {
	ClientID     string `json:"clientId" validate:"required"`
	ClientSecret string `json:"clientSecret" validate:"required"`
	StreamKey    string `json:"streamKey,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func credentialsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate reports whether both the client id and secret are present.
func (c Credentials) Validate() error {
	return credentialsValidator().Struct(c)
}

// Complete is Validate without the error detail.
func (c Credentials) Complete() bool {
	return c.Validate() == nil
}
