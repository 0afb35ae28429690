package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// ChatParams is the body of POST /api/klaus.
type ChatParams struct {
	Message     string        `json:"message" validate:"required"`
	History     []ChatMessage `json:"history"`
	PageContext string        `json:"pageUrl" validate:"max=2048"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *ChatParams) Validate() map[string]string {
	return validationErrors(validate.Struct(params))
}

func (m *ChatMessage) Validate() map[string]string {
	return validationErrors(validate.Struct(m))
}

func validationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}
	errors := make(map[string]string)
	for _, e := range errs {
		errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return errors
}

// ValidHistory drops history entries with an unknown role or empty content.
func ValidHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for i := range history {
		if len(history[i].Validate()) == 0 {
			out = append(out, history[i])
		}
	}
	return out
}

type ChatReply struct {
	Reply string `json:"reply"`
}

type HealthReport struct {
	OK             bool   `json:"ok"`
	HasKey         bool   `json:"hasKey"`
	Model          string `json:"model"`
	ProviderStatus int    `json:"providerStatus,omitempty"`
	Note           string `json:"note,omitempty"`
}

type KBStats struct {
	Facts         int `json:"facts"`
	EmbeddedFacts int `json:"embedded_facts"`
	Dimension     int `json:"dimension"`
}
