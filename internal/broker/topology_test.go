package broker

import "testing"

func TestDeliveryQueueArgs(t *testing.T) {
	args := deliveryQueueArgs()
	if ttl, _ := args["x-message-ttl"].(int32); ttl != 3600000 {
		t.Errorf("delivery queue TTL = %v, want 3600000", args["x-message-ttl"])
	}
	if args["x-dead-letter-exchange"] != ExchangeMessages {
		t.Errorf("delivery DLX = %v, want %s", args["x-dead-letter-exchange"], ExchangeMessages)
	}
	if args["x-dead-letter-routing-key"] != KeyMessageNew {
		t.Errorf("delivery DLX key = %v, want %s", args["x-dead-letter-routing-key"], KeyMessageNew)
	}
}

func TestDeadLetterArgs(t *testing.T) {
	args := deadLetterArgs()
	if args["x-dead-letter-exchange"] != "" {
		t.Errorf("DLX should be the default exchange, got %v", args["x-dead-letter-exchange"])
	}
	if args["x-dead-letter-routing-key"] != QueueDeadLetter {
		t.Errorf("DLX key = %v, want %s", args["x-dead-letter-routing-key"], QueueDeadLetter)
	}
}
