package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/image-moderation/internal/codec"
	"github.com/Brownie44l1/image-moderation/internal/middleware"
)

// Response is the envelope every endpoint answers with. EC is 0 on success and
// the HTTP status otherwise.
type Response struct {
	EC int    `json:"EC"`
	EM string `json:"EM"`
	DT any    `json:"DT"`
}

const (
	msgServerRunning = "Server is running..."
	msgPredicted     = "Prediction successful"
	msgInternal      = "Internal server error"
	msgNotFound      = "Not found"
	msgTooLarge      = "Request body too large"
	msgNoImage       = "No image found in the request"
)

// internalErrorBody is sent when the envelope itself cannot be serialized.
var internalErrorBody = []byte(`{"EC":500,"EM":"Internal server error","DT":null}`)

func success(message string, data any) Response {
	return Response{EC: 0, EM: message, DT: data}
}

func failure(status int, message string) Response {
	return Response{EC: status, EM: message}
}

func (h *Handler) respond(c *gin.Context, status int, resp Response) {
	body, err := codec.Marshal(resp)
	if err != nil {
		h.log.WithField("request_id", middleware.GetRequestID(c)).
			Error("[Handler] Couldn't serialize response: ", err.Error())
		_ = c.Error(err)
		c.Data(http.StatusInternalServerError, codec.ContentType, internalErrorBody)
		return
	}
	c.Data(status, codec.ContentType, body)
}
