package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the standard envelope. The envelope status always
// matches the HTTP status.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// ListResponse wraps rows with their count.
func ListResponse(c echo.Context, rows interface{}, total int64) error {
	return DataResponse(c, http.StatusOK, &ListDataResponse{Rows: rows, Total: total})
}

// BadRequestResponse renders validation errors as returned by
// ReadAndValidateRequest.
func BadRequestResponse(c echo.Context, errs interface{}) error {
	return DataResponse(c, http.StatusBadRequest, errs)
}

// AppErrorResponse renders err with its own status, or a bare 500 when err
// carries no AppError.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = InternalError("something went wrong").WithError(err)
	}
	return DataResponse(c, appErr.Status, []*AppError{appErr})
}
