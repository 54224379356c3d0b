package logfields

import "go.uber.org/zap"

func EventProvider(val string) zap.Field {
	return zap.String("event_provider", val)
}

func Event(val string) zap.Field {
	return zap.String("event", val)
}

// EventType is the type of a normalized merge-queue event, e.g. approval_granted.
func EventType(val string) zap.Field {
	return zap.String("event_type", val)
}

func DeliveryID(val string) zap.Field {
	return zap.String("delivery_id", val)
}
