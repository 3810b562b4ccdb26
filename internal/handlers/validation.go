package handlers

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/accounts/pkg/errors"
	"github.com/charlesng35/accounts/pkg/response"
	appValidator "github.com/charlesng35/accounts/pkg/validator"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When either step fails a MALFORMED response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		message := "Invalid JSON payload"
		if errors.Is(err, io.EOF) {
			message = "Request body is required"
		}
		response.Error(c, appErrors.NewMalformed(message).WithInternal(err))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		var failures appValidator.ValidationErrors
		if errors.As(err, &failures) && len(failures) > 0 {
			response.Error(c, appErrors.NewMalformed(failures.Error()))
			return false
		}
		response.Error(c, appErrors.NewMalformed("Invalid request payload").WithInternal(err))
		return false
	}

	return true
}

// pagination reads page and per_page, falling back to the first page of
// defaultPerPage items on missing or out-of-range values.
func pagination(c *gin.Context) (page, perPage int) {
	page = queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage = queryInt(c, "per_page", defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage
}

func queryInt(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
