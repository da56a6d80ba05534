package domain

const (
	TopicOrderCreated   = "order-created"
	TopicOrderCancelled = "order-cancelled"
)

// StockAdjusted is the payload of both stock events. The topic carries the
// direction: order-created decrements stock, order-cancelled increments it.
type StockAdjusted struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// EventKey correlates a stock event with the order line that caused it.
func EventKey(orderReference, productID string) string {
	return orderReference + "-" + productID
}
