package health

import (
	"context"
	"fmt"
	"time"

	"github.com/glimte/rpcbridge/bridge"
	"github.com/glimte/rpcbridge/internal/rabbitmq"
	"github.com/glimte/rpcbridge/remote"
)

// BridgeChecker reports the handshake phase of a bridge. An unstarted
// bridge is healthy since it launches lazily.
type BridgeChecker struct {
	bridge *bridge.Bridge
}

// NewBridgeChecker creates a checker for b
func NewBridgeChecker(b *bridge.Bridge) *BridgeChecker {
	return &BridgeChecker{bridge: b}
}

func (c *BridgeChecker) Name() string {
	return "bridge"
}

func (c *BridgeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	phase := c.bridge.State()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"phase":      phase.String(),
			"pending":    c.bridge.PendingCount(),
			"configured": c.bridge.IsConfigured(),
		},
	}

	switch {
	case !c.bridge.IsConfigured():
		result.Status = StatusDegraded
		result.Message = "Remote endpoint is not configured"
	case phase == bridge.PhaseFailed:
		result.Status = StatusUnhealthy
		result.Message = "Handshake failed"
	case phase == bridge.PhaseAwaitingReady:
		result.Status = StatusDegraded
		result.Message = "Waiting for ready-signal"
	default:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Bridge is %s", phase)
	}

	result.Duration = time.Since(start)
	return result
}

// ResponderChecker reports whether a responder has methods to serve
type ResponderChecker struct {
	responder *remote.Responder
}

// NewResponderChecker creates a checker for responder
func NewResponderChecker(responder *remote.Responder) *ResponderChecker {
	return &ResponderChecker{responder: responder}
}

func (c *ResponderChecker) Name() string {
	return "responder"
}

func (c *ResponderChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	methods := c.responder.Methods()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Status:    StatusHealthy,
		Message:   fmt.Sprintf("%d methods registered", len(methods)),
		Details:   map[string]any{"methods": methods},
	}
	if len(methods) == 0 {
		result.Status = StatusDegraded
		result.Message = "No methods registered"
	}

	result.Duration = time.Since(start)
	return result
}

// BrokerChecker checks the RabbitMQ connection behind the amqp transport
type BrokerChecker struct {
	connManager *rabbitmq.ConnectionManager
}

// NewBrokerChecker creates a new broker health checker
func NewBrokerChecker(connManager *rabbitmq.ConnectionManager) *BrokerChecker {
	return &BrokerChecker{connManager: connManager}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"url": rabbitmq.SanitizeURL(c.connManager.URL())},
	}

	conn, err := c.connManager.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to get connection"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	ch, err := conn.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to create channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	result.Status = StatusHealthy
	result.Message = "Connection is healthy"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// QueueChecker checks that the service queue exists and has a consumer
type QueueChecker struct {
	queueName   string
	connManager *rabbitmq.ConnectionManager
}

// NewQueueChecker creates a new queue health checker
func NewQueueChecker(queueName string, connManager *rabbitmq.ConnectionManager) *QueueChecker {
	return &QueueChecker{queueName: queueName, connManager: connManager}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	ch, err := c.connManager.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to get channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	queue, err := ch.QueueDeclarePassive(c.queueName, false, true, false, false, nil)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers
	if queue.Consumers == 0 {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has no consumer", c.queueName)
	}

	result.Duration = time.Since(start)
	return result
}

// CheckerFunc adapts a function to Checker
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) (Status, string, error)
}

// NewCheckerFunc creates a checker for a custom component
func NewCheckerFunc(name string, fn func(ctx context.Context) (Status, string, error)) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

func (c *CheckerFunc) Name() string {
	return c.name
}

func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.fn(ctx)

	result := CheckResult{
		Name:      c.name,
		Status:    status,
		Message:   message,
		Timestamp: start,
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}
