package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"Cornucopia/pkg/model"
)

var statusByKind = map[model.ErrorKind]int{
	model.KindUnknownSecurity:      http.StatusUnprocessableEntity,
	model.KindDuplicateKey:         http.StatusConflict,
	model.KindInvalidRange:         http.StatusBadRequest,
	model.KindInvalidDate:          http.StatusBadRequest,
	model.KindNotFound:             http.StatusNotFound,
	model.KindNoData:               http.StatusNotFound,
	model.KindInsufficientPosition: http.StatusUnprocessableEntity,
	model.KindConcurrencyConflict:  http.StatusConflict,
	model.KindAlreadyDelisted:      http.StatusConflict,
	model.KindLedgerDiverged:       http.StatusConflict,
	model.KindLedgerHalted:         http.StatusLocked,
}

// statusOf 错误分类对应的HTTP状态码
func statusOf(kind model.ErrorKind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	kind := model.KindOf(err)
	msg := err.Error()
	if kind == model.KindInternal {
		msg = "内部错误"
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(statusOf(kind), gin.H{
		"error":     msg,
		"kind":      kind,
		"retryable": model.Retryable(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": msg,
		"kind":  model.KindInvalidRange,
	})
}
