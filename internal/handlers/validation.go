package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/inspectsync/internal/models"
	"github.com/charlesng35/inspectsync/internal/readpath"
	appErrors "github.com/charlesng35/inspectsync/pkg/errors"
	"github.com/charlesng35/inspectsync/pkg/response"
	appValidator "github.com/charlesng35/inspectsync/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return "invalid request payload"
	}
	return failures.Error()
}

// parseFilter reads ?status=a,b&inspector=&search= into a read-path filter.
func parseFilter(c *gin.Context) (readpath.Filter, error) {
	filter := readpath.Filter{
		InspectorID: strings.TrimSpace(c.Query("inspector")),
		Search:      strings.TrimSpace(c.Query("search")),
	}

	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, ok := models.ParseInspectionStatus(part)
			if !ok {
				return readpath.Filter{}, appErrors.NewBadRequest(fmt.Sprintf("unknown status %q", part))
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	return filter, nil
}

func parseUintParam(c *gin.Context, key string) (uint64, bool) {
	value := strings.TrimSpace(c.Param(key))
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		response.Error(c, appErrors.NewBadRequest(fmt.Sprintf("%s must be a positive integer", key)))
		return 0, false
	}
	return parsed, true
}
