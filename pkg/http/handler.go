package http

import "github.com/labstack/echo/v4"

// Handler registers a route group on the server. The status handler is the
// only implementation; the server stays agnostic of what it serves.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
