package http

import (
	"github.com/gofiber/fiber/v2"
)

type delayReportBody struct {
	Reason        string `json:"reason"`
	CustomMessage string `json:"custom_message"`
}

// SubmitDelayReportHandler files a driver delay report against the caller's
// In-Route trip and notifies the trip admin.
func SubmitDelayReportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body delayReportBody
		if err := c.BodyParser(&body); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		report, deliveries, err := deps.Reports.Submit(c.UserContext(), callerFrom(c), body.Reason, body.CustomMessage)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"report":     report,
			"deliveries": deliveries,
		})
	}
}

// DriverDelayReportsHandler lists a driver's delay reports.
func DriverDelayReportsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		driverID, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		reports, err := deps.Reports.ListByDriver(c.UserContext(), callerFrom(c), driverID)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"data": reports, "count": len(reports)})
	}
}

// DriverReportsHandler ranks drivers by their delay report count.
func DriverReportsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ranked, err := deps.Reports.RankDrivers(c.UserContext())
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(fiber.Map{"data": ranked, "count": len(ranked)})
	}
}

// AcknowledgeDelayReportHandler stamps a report as seen and resolves the
// episode it opened.
func AcknowledgeDelayReportHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		report, err := deps.Reports.Acknowledge(c.UserContext(), id)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(report)
	}
}

// ListNotificationsHandler returns the caller's inbox, newest first.
func ListNotificationsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 20)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		items, total, err := deps.Inbox.List(c.UserContext(), callerFrom(c).ID, offset, limit)
		if err != nil {
			return writeDomainError(c, err)
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		c.Set("Cache-Control", "no-store")
		return c.JSON(PaginatedResponse{Data: items, Pagination: pg})
	}
}

// MarkNotificationReadHandler flags one of the caller's notifications read.
func MarkNotificationReadHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c, "id")
		if err != nil {
			return writeDomainError(c, err)
		}
		if err := deps.Inbox.MarkRead(c.UserContext(), callerFrom(c).ID, id); err != nil {
			return writeDomainError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}
