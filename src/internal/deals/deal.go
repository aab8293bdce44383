// Package deals serves the investment deal listings.
package deals

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no deal has the requested id.
var ErrNotFound = errors.New("deal not found")

// Deal is a fractional investment offering.
type Deal struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Ticket       float64   `json:"ticket"`
	YieldPercent float64   `json:"yield_percent"`
	SoldPercent  float64   `json:"sold_percent"`
	DaysLeft     *int      `json:"days_left"`
	ImageURL     *string   `json:"image_url"`
	Description  *string   `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store reads deals.
type Store interface {
	// List returns all deals, oldest first.
	List(ctx context.Context) ([]Deal, error)

	// Get returns one deal or ErrNotFound.
	Get(ctx context.Context, id string) (*Deal, error)
}
