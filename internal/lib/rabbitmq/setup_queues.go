package rabbitmq

// RoutingKeyPlanChanged ключ маршрутизации уведомлений о смене тарифа.
const RoutingKeyPlanChanged = "plan.changed"

// QueueConfig очередь и её ключ маршрутизации.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// BillingQueues очереди, которые слушают воркеры биллинга.
func BillingQueues(planChangedQueue string) []QueueConfig {
	return []QueueConfig{
		{QueueName: planChangedQueue, RoutingKey: RoutingKeyPlanChanged},
	}
}
