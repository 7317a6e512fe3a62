// Package queue defines the at-least-once message queue used between
// pipeline stages and the payload decoding shared by every consumer.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed marks a message whose body cannot be decoded into the payload
// a consumer expects
var ErrMalformed = errors.New("malformed message")

// Message is one delivery of a queued payload
type Message struct {
	ID           string
	Body         string
	Handle       string
	ReceiveCount int
}

// Queue is a long-polled, at-least-once delivery queue. A received message
// stays invisible until it is deleted or its visibility timeout expires, after
// which it is delivered again.
type Queue interface {
	// Name identifies the queue in logs and metrics
	Name() string
	// Receive waits for up to the configured long-poll time and returns zero or
	// more messages
	Receive(ctx context.Context) ([]Message, error)
	// ReceiveUpTo is Receive returning no more than limit messages
	ReceiveUpTo(ctx context.Context, limit int) ([]Message, error)
	// Delete acknowledges a message by its delivery handle
	Delete(ctx context.Context, handle string) error
}

// envelope is the outer notification layer added when a topic fans out to a queue
type envelope struct {
	Type    string  `json:"Type"`
	Message *string `json:"Message"`
}

var validate = validator.New()

// Decode unmarshals a message body into v, unwrapping a notification envelope
// if present, and validates required fields
func Decode(body string, v any) error {
	payload := []byte(body)

	var env envelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Message != nil {
		payload = []byte(*env.Message)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Encode marshals a payload for publishing
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}
