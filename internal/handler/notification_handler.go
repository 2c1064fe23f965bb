package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-pipeline/internal/auth"
	"github.com/kursadbilgin/notify-pipeline/internal/domain"
)

const (
	defaultPage     = 1
	defaultPageSize = 10
	maxPageSize     = 100
)

type NotificationService interface {
	Initiate(ctx context.Context, correlationID, routingKey string, payload []byte) (*domain.Notification, error)
}

type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.HistoryEntry, int64, error)
}

type NotificationHandler struct {
	service NotificationService
	history HistoryReader
}

func NewNotificationHandler(service NotificationService, history HistoryReader) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history reader is required")
	}
	return &NotificationHandler{service: service, history: history}, nil
}

func RegisterNotificationRoutes(
	router fiber.Router,
	service NotificationService,
	history HistoryReader,
	verifier *auth.Verifier,
) error {
	h, err := NewNotificationHandler(service, history)
	if err != nil {
		return err
	}
	if verifier == nil {
		return fmt.Errorf("token verifier is required")
	}

	v1 := router.Group("/api/v1/notify-email")
	v1.Post("/user-sign-up", h.UserSignUp)
	v1.Get("/history", authenticated(verifier), h.History)

	return nil
}

type initiateResponse struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

type historyItem struct {
	ID          string    `json:"id"`
	ContentID   string    `json:"contentId"`
	RoutingKey  string    `json:"routingKey"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
	SentAt      time.Time `json:"sentAt"`
}

type historyResponse struct {
	Data []historyItem `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

// UserSignUp initiates the registration email. The user id is the
// correlation id, so a repeated sign-up is rejected with 409.
func (h *NotificationHandler) UserSignUp(c *fiber.Ctx) error {
	decoded, err := domain.DecodePayload(domain.RoutingKeyRegistered, c.Body())
	if err != nil {
		return toHTTPError(err)
	}
	user := decoded.(domain.UserRegistered)

	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	n, err := h.service.Initiate(c.UserContext(), user.UserID, domain.RoutingKeyRegistered, payload)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(initiateResponse{
		CorrelationID: n.ContentID,
		Status:        n.Status.String(),
	})
}

// History lists the emails sent to the authenticated user, newest first.
func (h *NotificationHandler) History(c *fiber.Ctx) error {
	page, pageSize, err := parsePage(c)
	if err != nil {
		return toHTTPError(err)
	}

	entries, total, err := h.history.ListByUser(c.UserContext(), auth.UserID(c), page, pageSize)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]historyItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, historyItem{
			ID:          e.ID,
			ContentID:   e.ContentID,
			RoutingKey:  e.RoutingKey,
			Subject:     e.Subject,
			HTMLContent: e.HTMLContent,
			SentAt:      e.SentAt,
		})
	}

	return c.JSON(historyResponse{
		Data: items,
		Meta: listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

func authenticated(verifier *auth.Verifier) fiber.Handler {
	next := auth.Middleware(verifier)
	return func(c *fiber.Ctx) error {
		return toHTTPError(next(c))
	}
}

func parsePage(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return page, pageSize, nil
}

func toHTTPError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
