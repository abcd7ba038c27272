package controllers

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/brandbridge/brandbridge/internal/pkg/apperror"
	"github.com/brandbridge/brandbridge/internal/pkg/notify"
	"github.com/brandbridge/brandbridge/internal/pkg/usercontext"
)

const streamKeepAlive = 25 * time.Second

// NotificationSubscriber opens a live feed of a user's notifications.
type NotificationSubscriber interface {
	Subscribe(ctx context.Context, userID string) *redis.PubSub
}

// NotificationController serves the notification inbox and its live stream.
type NotificationController struct {
	notifications *notify.Service
	subscriber    NotificationSubscriber
}

// NewNotificationController creates the controller. A nil subscriber
// disables the stream endpoint.
func NewNotificationController(n *notify.Service, subscriber NotificationSubscriber) *NotificationController {
	return &NotificationController{notifications: n, subscriber: subscriber}
}

// HandleList returns the caller's notifications, newest first.
func (nc *NotificationController) HandleList(c *fiber.Ctx) error {
	limit, offset := pagination(c)
	list, err := nc.notifications.List(c.UserContext(), usercontext.GetUserID(c), c.QueryBool("unread", false), limit, offset)
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(list)
}

// HandleMarkRead marks one notification read. Marking it again is a no-op.
func (nc *NotificationController) HandleMarkRead(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return apperror.Respond(c, apperror.InvalidRequest("Invalid notification id"))
	}
	if err := nc.notifications.MarkRead(c.UserContext(), usercontext.GetUserID(c), uint(id)); err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "id": id})
}

// HandleMarkAllRead marks every unread notification of the caller read.
func (nc *NotificationController) HandleMarkAllRead(c *fiber.Ctx) error {
	n, err := nc.notifications.MarkAllRead(c.UserContext(), usercontext.GetUserID(c))
	if err != nil {
		return apperror.Respond(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "updated": n})
}

// HandleStream pushes new notifications to the caller as server-sent events.
func (nc *NotificationController) HandleStream(c *fiber.Ctx) error {
	if nc.subscriber == nil {
		return apperror.Respond(c, apperror.Upstream("Notification stream unavailable", nil))
	}
	userID := usercontext.GetUserID(c)

	var unread int64
	if list, err := nc.notifications.List(c.UserContext(), userID, true, 1, 0); err == nil {
		unread = list.Unread
	}

	// The stream outlives the request handler, so it gets its own context.
	ctx, cancel := context.WithCancel(context.Background())
	sub := nc.subscriber.Subscribe(ctx, userID)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()

		fmt.Fprintf(w, "event: ready\ndata: {\"unread\":%d}\n\n", unread)
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		messages := sub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg.Payload)
			case <-ticker.C:
				fmt.Fprint(w, ": keepalive\n\n")
			}
			if err := w.Flush(); err != nil {
				log.Debugf("[Notify] Stream for %s closed: %v", userID, err)
				return
			}
		}
	}))
	return nil
}
