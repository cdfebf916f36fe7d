package domain

import (
	"strings"

	"github.com/google/uuid"
)

type RefKind string

const (
	RefBrand    RefKind = "brand"
	RefCategory RefKind = "category"
)

// Reference is a lookup entity (brand, category) products point at.
type Reference struct {
	ID   uuid.UUID `json:"id"`
	Kind RefKind   `json:"kind"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// RefKey is the case-insensitive lookup key for a reference name.
func RefKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func Slugify(name string) string {
	return strings.ReplaceAll(RefKey(name), " ", "-")
}
