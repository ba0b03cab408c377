package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

const problemContentType = "application/problem+json"

// Problem is an RFC 7807 problem details body. Table, FailedStep and Field
// are extension members set by purge and submission failures.
type Problem struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Instance   string `json:"instance,omitempty"`
	Table      string `json:"table,omitempty"`
	FailedStep string `json:"failed_step,omitempty"`
	Field      string `json:"field,omitempty"`
}

func newProblem(status int, detail string) *Problem {
	return &Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

func writeProblem(c echo.Context, p *Problem) error {
	p.Instance = c.Request().URL.Path
	c.Response().Header().Set(echo.HeaderContentType, problemContentType)
	return c.JSON(p.Status, p)
}

// problemErrorHandler renders every unhandled error as a problem.
func problemErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		p := newProblem(http.StatusInternalServerError, "internal error")
		var he *echo.HTTPError
		if errors.As(err, &he) {
			p = newProblem(he.Code, http.StatusText(he.Code))
			if msg, ok := he.Message.(string); ok {
				p.Detail = msg
			}
		} else {
			logger.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(p.Status)
		} else {
			err = writeProblem(c, p)
		}
		if err != nil {
			logger.Error("write problem", "error", err)
		}
	}
}
