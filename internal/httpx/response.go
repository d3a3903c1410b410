// Package httpx holds the JSON reply shapes shared by the API handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ageniuscoder/mmchat/convsync/internal/utils"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

// Err replies {"error": msg}.
func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// BindErr answers a failed ShouldBind call with 400. Validation failures
// are listed per field; anything else (bad JSON) is passed through as text.
func BindErr(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		Err(c, http.StatusBadRequest, utils.ValidationErr(verrs))
		return
	}
	Err(c, http.StatusBadRequest, err.Error())
}
