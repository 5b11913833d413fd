package http

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// QueryInt reads an integer query parameter clamped to [lo, hi].
func QueryInt(c echo.Context, name string, def, lo, hi int) int {
	v := ParseIntDefault(c.QueryParam(name), def)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
