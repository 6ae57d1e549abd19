package client

import (
	"context"
	"net/http"

	"southwinds.dev/courier"
)

// Call performs req and returns the typed data, or the normalized error the
// UI should show. Exactly one of the two results is meaningful.
func Call[T any](ctx context.Context, c *Client, req Request) (T, *courier.NormalizedError) {
	var out T
	if err := c.Do(ctx, req, &out); err != nil {
		var zero T
		normalized := courier.Normalize(err)
		return zero, &normalized
	}
	return out, nil
}

// Get is Call with method GET and no body
func Get[T any](ctx context.Context, c *Client, path string) (T, *courier.NormalizedError) {
	return Call[T](ctx, c, Request{Method: http.MethodGet, Path: path})
}

// Post is Call with method POST and body
func Post[T any](ctx context.Context, c *Client, path string, body interface{}) (T, *courier.NormalizedError) {
	return Call[T](ctx, c, Request{Method: http.MethodPost, Path: path, Body: body})
}
