package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Gateway event types the engine consumes. Anything else is logged and
// ignored so new gateway event types do not break delivery.
const (
	EventPurchaseCompleted     = "purchase-completed"
	EventRenewalPaid           = "renewal-paid"
	EventSubscriptionUpdated   = "subscription-updated"
	EventSubscriptionCancelled = "subscription-cancelled"
)

// Event is the tagged variant produced from a raw gateway payload. The
// concrete type identifies the operation; shared identity lives on the
// interface.
type Event interface {
	EventID() string
	EventType() string
	UserEmail() string
}

// PurchaseEvent covers first purchases, upgrades and downgrades. Both
// purchase-completed and subscription-updated carry this shape.
type PurchaseEvent struct {
	ID                    string
	Type                  string
	Email                 string
	PlanID                string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	GatewaySubscriptionID string
	AmountCents           int64
	Currency              string
}

func (e *PurchaseEvent) EventID() string   { return e.ID }
func (e *PurchaseEvent) EventType() string { return e.Type }
func (e *PurchaseEvent) UserEmail() string { return e.Email }

// RenewalEvent extends an existing subscription's billing period.
type RenewalEvent struct {
	ID                    string
	Email                 string
	GatewaySubscriptionID string
	PeriodEnd             time.Time
	AmountCents           int64
	Currency              string
}

func (e *RenewalEvent) EventID() string   { return e.ID }
func (e *RenewalEvent) EventType() string { return EventRenewalPaid }
func (e *RenewalEvent) UserEmail() string { return e.Email }

// CancellationEvent terminates a gateway subscription.
type CancellationEvent struct {
	ID                    string
	Email                 string
	GatewaySubscriptionID string
}

func (e *CancellationEvent) EventID() string   { return e.ID }
func (e *CancellationEvent) EventType() string { return EventSubscriptionCancelled }
func (e *CancellationEvent) UserEmail() string { return e.Email }

// UnknownEvent preserves identity for event types we do not handle.
type UnknownEvent struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

func (e *UnknownEvent) EventID() string   { return e.ID }
func (e *UnknownEvent) EventType() string { return e.Type }
func (e *UnknownEvent) UserEmail() string { return "" }

// gatewayEnvelope is the wire shape of a gateway webhook payload. Only the
// fields the reconciliation engine depends on are decoded.
type gatewayEnvelope struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Email          string `json:"email"`
	PlanID         string `json:"plan_id"`
	PeriodStart    int64  `json:"period_start"`
	PeriodEnd      int64  `json:"period_end"`
	SubscriptionID string `json:"subscription_id"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

// ParseEvent decodes a raw gateway payload into its tagged variant. Unknown
// event types parse successfully into UnknownEvent; malformed payloads and
// missing required fields are errors.
func ParseEvent(raw []byte) (Event, error) {
	var env gatewayEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, errors.New("billing: gateway event id missing")
	}

	switch strings.ToLower(strings.TrimSpace(env.Type)) {
	case EventPurchaseCompleted, EventSubscriptionUpdated:
		if env.Email == "" || env.PlanID == "" || env.SubscriptionID == "" {
			return nil, errors.New("billing: purchase event missing email, plan_id or subscription_id")
		}
		return &PurchaseEvent{
			ID:                    env.ID,
			Type:                  strings.ToLower(strings.TrimSpace(env.Type)),
			Email:                 env.Email,
			PlanID:                env.PlanID,
			PeriodStart:           time.Unix(env.PeriodStart, 0).UTC(),
			PeriodEnd:             time.Unix(env.PeriodEnd, 0).UTC(),
			GatewaySubscriptionID: env.SubscriptionID,
			AmountCents:           env.AmountCents,
			Currency:              env.Currency,
		}, nil
	case EventRenewalPaid:
		if env.SubscriptionID == "" {
			return nil, errors.New("billing: renewal event missing subscription_id")
		}
		return &RenewalEvent{
			ID:                    env.ID,
			Email:                 env.Email,
			GatewaySubscriptionID: env.SubscriptionID,
			PeriodEnd:             time.Unix(env.PeriodEnd, 0).UTC(),
			AmountCents:           env.AmountCents,
			Currency:              env.Currency,
		}, nil
	case EventSubscriptionCancelled:
		if env.SubscriptionID == "" {
			return nil, errors.New("billing: cancellation event missing subscription_id")
		}
		return &CancellationEvent{
			ID:                    env.ID,
			Email:                 env.Email,
			GatewaySubscriptionID: env.SubscriptionID,
		}, nil
	default:
		return &UnknownEvent{ID: env.ID, Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// ResultKind classifies what a reconciliation did.
type ResultKind string

const (
	ResultNew              ResultKind = "new"
	ResultUpgrade          ResultKind = "upgrade"
	ResultDowngradePoints  ResultKind = "downgrade_points"
	ResultSameLevel        ResultKind = "same_level"
	ResultRenewal          ResultKind = "renewal"
	ResultCancelled        ResultKind = "cancelled"
	ResultCancelScheduled  ResultKind = "cancel_scheduled"
	ResultExpired          ResultKind = "expired"
	ResultDowngradeExpired ResultKind = "downgrade_to_highest"
	ResultNoop             ResultKind = "noop"
)

// Result is the entitlement snapshot after a reconciliation, as persisted on
// the user row.
type Result struct {
	Kind      ResultKind `json:"kind"`
	Email     string     `json:"email"`
	Tier      string     `json:"tier"`
	Level     int        `json:"level"`
	Credits   int        `json:"credits"`
	Quota     int        `json:"quota"`
	Status    string     `json:"status"`
	Expiry    *time.Time `json:"expiry,omitempty"`
	Duplicate bool       `json:"duplicate,omitempty"`
}

// PurchaseInput is the normalized input for ApplyPurchase.
type PurchaseInput struct {
	Email                 string
	PlanID                string
	PeriodStart           time.Time
	PeriodEnd             time.Time
	GatewaySubscriptionID string
	GatewayEventID        string
	AmountCents           int64
}
