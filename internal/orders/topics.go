package orders

// TopicOrderEvents carries every lifecycle event of every order.
const TopicOrderEvents = "order.events"

// Partition key = order id, so the events of one order stay in sequence.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
