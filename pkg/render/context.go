package render

import (
	"errors"
	"image"
	"sync"
)

// ErrContextDestroyed is returned by a context used after Destroy.
var ErrContextDestroyed = errors.New("render: context destroyed")

// Context is an offscreen graphics context owning one framebuffer.
type Context interface {
	// Display clears the framebuffer and runs draw against it
	Display(draw func(fb *Framebuffer) error) error

	// ReadPixels copies the framebuffer, optionally flipped to a top-left origin
	ReadPixels(flip bool) (*image.RGBA, error)

	// Destroy releases the context. It is safe to call more than once.
	Destroy() error
}

// SoftwareContext is a Context backed by process memory.
type SoftwareContext struct {
	mu        sync.Mutex
	fb        *Framebuffer
	destroyed bool
}

// NewSoftwareContext creates a context with a width×height framebuffer.
func NewSoftwareContext(width, height int) *SoftwareContext {
	return &SoftwareContext{fb: NewFramebuffer(width, height)}
}

func (c *SoftwareContext) Display(draw func(fb *Framebuffer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrContextDestroyed
	}
	c.fb.Clear()
	return draw(c.fb)
}

func (c *SoftwareContext) ReadPixels(flip bool) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, ErrContextDestroyed
	}
	return c.fb.Image(flip), nil
}

func (c *SoftwareContext) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	c.fb = nil
	return nil
}

// Destroyed reports whether Destroy has been called.
func (c *SoftwareContext) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
