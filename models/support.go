package models

// SupportLoginRequest carries the ticketing portal credentials.
type SupportLoginRequest struct {
	User  string `json:"user" binding:"required,email"`
	Token string `json:"token" binding:"required"`
}

// TicketCreateRequest opens a new support ticket.
type TicketCreateRequest struct {
	Subject     string   `json:"subject" binding:"required,max=255"`
	Body        string   `json:"body" binding:"required"`
	Version     string   `json:"version,omitempty"`
	Severity    string   `json:"severity" binding:"required,oneof=severity_1 severity_2 severity_3 severity_4"`
	Attachments []string `json:"attachments,omitempty"`
}

// TicketUpdateRequest adds a comment to a ticket and optionally solves it.
type TicketUpdateRequest struct {
	Body        string   `json:"body" binding:"required"`
	Solved      bool     `json:"solved,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}
