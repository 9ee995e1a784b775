package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lumenshot/lumenshot/app/models"
)

// WebhookHandler verifies, deduplicates and dispatches inbound payment
// gateway events. The entitlement mutation and the ledger record are written
// in the same transaction, so a crash can never leave a grant unrecorded
// without also rolling the grant back.
type WebhookHandler struct {
	engine *Engine
	repo   Repository
	secret string
	now    func() time.Time
}

// NewWebhookHandler wires a webhook handler to the engine and its repository.
func NewWebhookHandler(engine *Engine, repo Repository, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		engine: engine,
		repo:   repo,
		secret: webhookSecret,
		now:    time.Now,
	}
}

// HandleOutcome reports what Handle did with an event.
type HandleOutcome struct {
	Event     Event
	Result    *Result
	Duplicate bool
	Ignored   bool
}

// Handle processes one raw gateway delivery. Calling it twice with the same
// (event id, event type) applies the entitlement change at most once.
func (h *WebhookHandler) Handle(ctx context.Context, payload []byte, signatureHeader string) (*HandleOutcome, error) {
	if !VerifyGatewaySignature(payload, signatureHeader, h.secret, h.now()) {
		return nil, ErrInvalidSignature
	}

	event, err := ParseEvent(payload)
	if err != nil {
		return nil, err
	}

	if unknown, ok := event.(*UnknownEvent); ok {
		log.Infof("[Webhook] ignoring unrecognized gateway event type=%q id=%s", unknown.Type, unknown.ID)
		return &HandleOutcome{Event: event, Ignored: true}, nil
	}

	// Cheap pre-check outside the transaction; the authoritative check runs
	// again inside it.
	processed, err := h.repo.IsEventProcessed(event.EventID(), event.EventType())
	if err != nil {
		return nil, err
	}
	if processed {
		return &HandleOutcome{Event: event, Duplicate: true}, nil
	}

	outcome := &HandleOutcome{Event: event}
	err = h.repo.Transaction(ctx, func(tx Repository) error {
		processed, err := tx.IsEventProcessed(event.EventID(), event.EventType())
		if err != nil {
			return err
		}
		if processed {
			outcome.Duplicate = true
			return nil
		}

		result, err := h.dispatch(tx, event)
		if err != nil {
			return err
		}
		outcome.Result = result

		return tx.RecordProcessedTransaction(&models.ProcessedTransaction{
			Email:                 strings.ToLower(strings.TrimSpace(ownerEmail(event, result))),
			GatewayEventID:        event.EventID(),
			EventType:             event.EventType(),
			GatewaySubscriptionID: gatewaySubscriptionID(event),
			AmountCents:           amountCents(event),
			Currency:              currency(event),
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (h *WebhookHandler) dispatch(tx Repository, event Event) (*Result, error) {
	switch ev := event.(type) {
	case *PurchaseEvent:
		plan, ok := GetPlan(ev.PlanID)
		if !ok {
			return nil, ErrUnknownPlan
		}
		if !ev.PeriodEnd.After(ev.PeriodStart) {
			return nil, ErrInvalidPeriod
		}
		return h.engine.applyPurchase(tx, plan, PurchaseInput{
			Email:                 ev.Email,
			PlanID:                ev.PlanID,
			PeriodStart:           ev.PeriodStart,
			PeriodEnd:             ev.PeriodEnd,
			GatewaySubscriptionID: ev.GatewaySubscriptionID,
			GatewayEventID:        ev.ID,
			AmountCents:           ev.AmountCents,
		})
	case *RenewalEvent:
		return h.engine.applyRenewal(tx, ev.Email, ev.GatewaySubscriptionID, ev.PeriodEnd)
	case *CancellationEvent:
		return h.engine.applyCancellation(tx, ev.Email, ev.GatewaySubscriptionID)
	default:
		return nil, fmt.Errorf("billing: no dispatch for event type %q", event.EventType())
	}
}

func ownerEmail(event Event, result *Result) string {
	if result != nil && result.Email != "" {
		return result.Email
	}
	return event.UserEmail()
}

func gatewaySubscriptionID(event Event) string {
	switch ev := event.(type) {
	case *PurchaseEvent:
		return ev.GatewaySubscriptionID
	case *RenewalEvent:
		return ev.GatewaySubscriptionID
	case *CancellationEvent:
		return ev.GatewaySubscriptionID
	}
	return ""
}

func amountCents(event Event) int64 {
	switch ev := event.(type) {
	case *PurchaseEvent:
		return ev.AmountCents
	case *RenewalEvent:
		return ev.AmountCents
	}
	return 0
}

func currency(event Event) string {
	cur := ""
	switch ev := event.(type) {
	case *PurchaseEvent:
		cur = ev.Currency
	case *RenewalEvent:
		cur = ev.Currency
	}
	if cur == "" {
		cur = "usd"
	}
	return strings.ToLower(cur)
}
