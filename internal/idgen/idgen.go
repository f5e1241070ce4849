// Package idgen generates subscriber connection ids.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// SubscriberPrefix marks ids handed to live subscribers.
const SubscriberPrefix = "sub-"

// Alphabet is URL- and NATS-subject-safe.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters after the prefix.
const Length = 12

// Subscriber returns a new subscriber id.
func Subscriber() (string, error) {
	return WithPrefix(SubscriberPrefix)
}

// WithPrefix returns a random id with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
