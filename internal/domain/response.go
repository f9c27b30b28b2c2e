package domain

// ResponseType tags the one shape a Response carries.
type ResponseType string

const (
	ResponseOrder        ResponseType = "order"
	ResponseNavigate     ResponseType = "navigate"
	ResponseDisambiguate ResponseType = "disambiguate"
	ResponseEvents       ResponseType = "events"
	ResponseChat         ResponseType = "chat"
)

// LocationOption is one selectable location, used both for navigation
// targets and disambiguation choices.
type LocationOption struct {
	LocationCode string `json:"location_code"`
	Label        string `json:"label"`
}

// OrderResult is the payload of an "order" response: the validated items,
// their derived specs, and the human-facing display labels. Items marked
// ForDerivation stay in Items for the raw data but never appear in Display.
type OrderResult struct {
	Items   []OrderItem   `json:"items"`
	Derived []DerivedSpec `json:"derived,omitempty"`
	Display []string      `json:"display_items"`
}

// Response is the single tagged result of a query. Exactly one payload
// matches Type; the field names are a stable contract with the frontend.
type Response struct {
	Type ResponseType `json:"type"`

	// order
	Order   *OrderResult       `json:"order,omitempty"`
	GeoJSON *FeatureCollection `json:"geojson,omitempty"`

	// navigate
	Locations []LocationOption `json:"locations,omitempty"`

	// disambiguate
	Options []LocationOption `json:"options,omitempty"`
	Query   string           `json:"query,omitempty"` // original query, for retry

	// events
	TimeData    TimeData   `json:"time_data,omitempty"`
	TimeRange   *TimeRange `json:"time_range,omitempty"`
	Granularity string     `json:"granularity,omitempty"`

	// chat
	Message string `json:"message,omitempty"`

	Summary  string   `json:"summary,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ChatResponse builds a terminal chat-kind response. Collaborator failures
// use this path; no partial order is ever returned.
func ChatResponse(message string) *Response {
	return &Response{Type: ResponseChat, Message: message}
}

// Conversation is the caller-held state passed back in on follow-up
// queries. The engine treats it as an opaque list of prior disambiguation
// options; it never stores conversation state itself.
type Conversation struct {
	PriorOptions []LocationOption `json:"prior_options,omitempty"`
	History      []string         `json:"history,omitempty"`
}

// QueryRequest is one pipeline invocation.
type QueryRequest struct {
	Query        string        `json:"query"`
	Viewport     *Viewport     `json:"viewport,omitempty"`
	Conversation *Conversation `json:"conversation,omitempty"`
}
