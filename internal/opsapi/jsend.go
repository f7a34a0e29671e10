package opsapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return c.JSON(code, jsendResponse{
		Status: "success",
		Data:   data,
	})
}

func fail(c echo.Context, code int, message string, data any) error {
	resp := jsendResponse{
		Status:  "fail",
		Message: message,
	}
	if data != nil {
		resp.Data = data
	}
	return c.JSON(code, resp)
}

func internalError(c echo.Context, message string) error {
	return errorWithStatus(c, http.StatusInternalServerError, message)
}

func errorWithStatus(c echo.Context, code int, message string) error {
	return c.JSON(code, jsendResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}
