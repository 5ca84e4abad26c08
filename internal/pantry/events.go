package pantry

// EventType enumerates the server-to-client change notifications. Clients
// never send events; all writes go through HTTP.
type EventType string

const (
	EventState          EventType = "state"
	EventProductCreated EventType = "product_created"
	EventProductUpdated EventType = "product_updated"
	EventProductDeleted EventType = "product_deleted"
	EventRecipeCreated  EventType = "recipe_created"
	EventRecipeUpdated  EventType = "recipe_updated"
	EventRecipeDeleted  EventType = "recipe_deleted"
	EventPriceUpdated   EventType = "price_updated"
	EventPriceDeleted   EventType = "price_deleted"
)

type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// EventSink receives exactly one event per committed mutation, after the
// persistence write has returned. Delivery is best effort.
type EventSink interface {
	Publish(workspaceID string, event Event)
}

type noopSink struct{}

func (noopSink) Publish(string, Event) {}
