package controllers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"custody_tracker/internal/apperr"
)

// respondError writes err as {"error", "code"[, "details"]}. extra is merged
// into the body (the stored record on duplicates).
func respondError(c *gin.Context, err error, extra gin.H) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	body := gin.H{"code": code}
	if typed := apperr.As(err); typed != nil {
		body["error"] = typed.Message()
		if d := typed.Details(); d != nil {
			body["details"] = d
		}
	} else {
		body["error"] = "internal error"
	}
	for k, v := range extra {
		body[k] = v
	}

	if meta.HTTPStatus >= 500 {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed.")
	}
	c.JSON(meta.HTTPStatus, body)
}

func bindError(c *gin.Context, err error) {
	respondError(c, apperr.Wrap(apperr.CodeValidation, err, "invalid request body: "+err.Error()), nil)
}

func taskIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperr.Validation("invalid task id %q", c.Param("id")), nil)
		return 0, false
	}
	return uint(id), true
}
