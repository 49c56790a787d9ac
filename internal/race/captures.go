package race

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"timing-backend/internal/models"
)

// Capture records a finish-line timestamp now; the rider number is
// attached later. Captures live in memory only.
func (c *Controller) Capture() models.PendingFinishCapture {
	c.mu.Lock()
	defer c.mu.Unlock()

	capture := models.PendingFinishCapture{ID: uuid.NewString(), CapturedAt: c.clock.Now()}
	c.captures = append(c.captures, capture)
	return capture
}

// Captures returns the open captures, newest first.
func (c *Controller) Captures() []models.PendingFinishCapture {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.PendingFinishCapture, 0, len(c.captures))
	for i := len(c.captures) - 1; i >= 0; i-- {
		out = append(out, c.captures[i])
	}
	return out
}

func (c *Controller) captureIndex(id string) int {
	for i := range c.captures {
		if c.captures[i].ID == id {
			return i
		}
	}
	return -1
}

// AssignCapture sets the rider number on an open capture.
func (c *Controller) AssignCapture(id, number string) (models.PendingFinishCapture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.captureIndex(id)
	if i < 0 {
		return models.PendingFinishCapture{}, NewNotFoundError(fmt.Sprintf("capture %s not found", id))
	}
	c.captures[i].RiderNumber = strings.TrimSpace(number)
	return c.captures[i], nil
}

// ResolveCapture finishes the assigned rider at the captured instant. The
// capture is removed only if the finish succeeds.
func (c *Controller) ResolveCapture(ctx context.Context, id string) (models.Rider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.captureIndex(id)
	if i < 0 {
		return models.Rider{}, NewNotFoundError(fmt.Sprintf("capture %s not found", id))
	}
	capture := c.captures[i]
	if capture.RiderNumber == "" {
		return models.Rider{}, NewInvalidArgumentError("assign a rider number before saving the capture")
	}

	rider, err := c.finishLocked(ctx, capture.RiderNumber, capture.CapturedAt)
	if err != nil {
		return models.Rider{}, err
	}
	c.captures = append(c.captures[:i], c.captures[i+1:]...)
	return rider, nil
}

// DiscardCapture drops an open capture without finishing anyone.
func (c *Controller) DiscardCapture(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.captureIndex(id)
	if i < 0 {
		return NewNotFoundError(fmt.Sprintf("capture %s not found", id))
	}
	c.captures = append(c.captures[:i], c.captures[i+1:]...)
	return nil
}
