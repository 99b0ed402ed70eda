package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/viralcut/viralcut-backend/internal/pkg/ctxutil"
	"github.com/viralcut/viralcut-backend/internal/sse"
)

type EventsHandler struct {
	hub *sse.Hub
}

func NewEventsHandler(hub *sse.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

// Stream holds the connection open and pushes the caller's pipeline
// progress events as server-sent events.
func (eh *EventsHandler) Stream(c *gin.Context) {
	userID := ctxutil.UserID(c.Request.Context())
	client := eh.hub.Subscribe(userID)
	defer eh.hub.Unsubscribe(client)

	eh.hub.Serve(c.Writer, c.Request, client)
}
