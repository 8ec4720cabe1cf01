package validation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BindJSON binds the JSON body into out.
// If binding fails, it writes a 400 response and returns an error for the handler to short-circuit.
func BindJSON(c *gin.Context, out interface{}) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request_body",
			"message": "the request body could not be read",
		})
		return err
	}
	return nil
}

// WriteValidationError renders a ValidationError as a 400 naming the offending field.
func WriteValidationError(c *gin.Context, ve *ValidationError) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "validation_failed",
		"field":   ve.Field,
		"message": ve.Message,
		"fields":  ve.Fields,
	})
}
