package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	mqcontracts "trustfund/contracts/mq"
	"trustfund/pkg/logger"
	"trustfund/pkg/metrics"
	"trustfund/pkg/mq"
	"trustfund/pkg/util"
)

var ErrMissingEventID = errors.New("event has no event_id")

// EscrowAuditHandler 把总线上的托管事件写成结构化审计日志
// 同一 event_id 只记录一次（outbox 至少一次投递，重放也会重复）
type EscrowAuditHandler struct {
	deduper *util.Deduper
	logger  *zap.Logger
}

func NewEscrowAuditHandler(deduper *util.Deduper, logger *zap.Logger) *EscrowAuditHandler {
	return &EscrowAuditHandler{
		deduper: deduper,
		logger:  logger,
	}
}

func (h *EscrowAuditHandler) Handle(ctx context.Context, d mq.Delivery) error {
	var env mqcontracts.Envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		metrics.IncrementEventConsumed(d.RoutingKey, "invalid")
		return err
	}
	if env.EventID == "" {
		metrics.IncrementEventConsumed(d.RoutingKey, "invalid")
		return ErrMissingEventID
	}

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, "audit", env.EventID) {
		metrics.IncrementEventConsumed(d.RoutingKey, "duplicate")
		return nil
	}

	fields, err := auditFields(d.RoutingKey, d.Body)
	if err != nil {
		metrics.IncrementEventConsumed(d.RoutingKey, "invalid")
		return err
	}
	fields = append(fields,
		zap.String("event_id", env.EventID),
		zap.String("routing_key", d.RoutingKey),
		zap.Time("occurred_at", env.OccurredAt),
	)

	logger.WithTrace(ctx, h.logger).Info("Escrow event", fields...)
	metrics.IncrementEventConsumed(d.RoutingKey, "recorded")
	return nil
}

func auditFields(routingKey string, body json.RawMessage) ([]zap.Field, error) {
	switch routingKey {
	case mqcontracts.RoutingProjectInitialized:
		var p mqcontracts.ProjectInitializedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []zap.Field{
			zap.String("project", p.Project),
			zap.String("owner", p.Owner),
			zap.String("project_id", p.ProjectID),
			zap.String("vault", p.Vault),
			zap.String("mint", p.Mint),
		}, nil
	case mqcontracts.RoutingMilestoneAdded:
		var p mqcontracts.MilestoneAddedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []zap.Field{
			zap.String("project", p.Project),
			zap.String("milestone", p.Milestone),
			zap.Uint8("milestone_id", p.MilestoneID),
			zap.Uint64("amount", p.Amount),
			zap.String("source", p.Source),
		}, nil
	case mqcontracts.RoutingProjectAccepted:
		var p mqcontracts.ProjectAcceptedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []zap.Field{
			zap.String("project", p.Project),
			zap.String("assignee", p.Assignee),
		}, nil
	case mqcontracts.RoutingFundsReleased:
		var p mqcontracts.FundsReleasedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []zap.Field{
			zap.String("project", p.Project),
			zap.String("milestone", p.Milestone),
			zap.Uint8("milestone_id", p.MilestoneID),
			zap.Uint64("amount", p.Amount),
			zap.String("destination", p.Destination),
		}, nil
	case mqcontracts.RoutingTokensMinted:
		var p mqcontracts.TokensMintedPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, err
		}
		return []zap.Field{
			zap.String("mint", p.Mint),
			zap.String("owner", p.Owner),
			zap.String("destination", p.Destination),
			zap.Uint64("amount", p.Amount),
		}, nil
	default:
		return []zap.Field{zap.ByteString("payload", body)}, nil
	}
}
