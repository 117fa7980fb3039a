package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/labstack/echo/v4"
)

const userContextKey = "tts.user"

// Auth requires the identity header and stores its value for handlers.
func Auth(header string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := strings.TrimSpace(c.Request().Header.Get(header))
			if user == "" {
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "missing " + header + " header"})
			}

			c.Set(userContextKey, user)

			return next(c)
		}
	}
}

// UserFrom returns the identity stored by Auth, or "".
func UserFrom(c echo.Context) string {
	user, _ := c.Get(userContextKey).(string)

	return user
}

func accessLog(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			if log != nil {
				if err != nil {
					c.Error(err)
				}

				log.Info("HTTP %s %s -> %d in %s (request %s)",
					c.Request().Method, c.Request().URL.Path, c.Response().Status,
					time.Since(start).Round(time.Millisecond), c.Response().Header().Get(echo.HeaderXRequestID))

				return nil
			}

			return err
		}
	}
}
