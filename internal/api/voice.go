package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wellness-service/internal/ivr"
)

const twimlContentType = "application/xml; charset=utf-8"

func (h *Handler) VoiceGreeting(c *gin.Context) {
	resp := h.Voice.Greeting(c.Request.Context(), c.Query("alert_id"))
	c.Data(http.StatusOK, twimlContentType, []byte(resp.Document))
}

func (h *Handler) VoiceGather(c *gin.Context) {
	call := ivr.Call{
		AlertID: c.Query("alert_id"),
		Digits:  c.PostForm("Digits"),
		Caller:  ivr.SupporterNumber(c.PostForm("Direction"), c.PostForm("To"), c.PostForm("From")),
		CallSid: c.PostForm("CallSid"),
	}
	resp := h.Voice.Gather(c.Request.Context(), call)
	c.Data(http.StatusOK, twimlContentType, []byte(resp.Document))
}

// VoiceStatus records call progress. It always answers 200 so the gateway
// does not retry.
func (h *Handler) VoiceStatus(c *gin.Context) {
	cb := ivr.StatusCallback{
		AlertID:    c.Query("alert_id"),
		CallSid:    c.PostForm("CallSid"),
		CallStatus: c.PostForm("CallStatus"),
		Duration:   c.PostForm("CallDuration"),
		To:         c.PostForm("To"),
		From:       c.PostForm("From"),
		Direction:  c.PostForm("Direction"),
	}
	if err := h.Voice.RecordStatus(c.Request.Context(), cb); err != nil {
		h.logger.Errorf("Voice status callback for call %s: %v", cb.CallSid, err)
	}
	c.Status(http.StatusOK)
}
