package api

// ChatProcessRequest is the HTTP request body for POST /api/chat/process.
// An empty session_id starts a new conversation.
type ChatProcessRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ConfirmOrderRequest is the HTTP request body for POST /api/order/confirm.
// Accepted defaults to true when omitted; selected_product_index picks a
// fallback (1-based) instead of the suggested product.
type ConfirmOrderRequest struct {
	SessionID            string `json:"session_id"`
	Accepted             *bool  `json:"accepted,omitempty"`
	SelectedProductIndex int    `json:"selected_product_index,omitempty"`
}

// CancelRequest is the HTTP request body for POST /api/cancel.
type CancelRequest struct {
	SessionID string `json:"session_id"`
}

// OTPRequest is the HTTP request body for POST /api/otp.
type OTPRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}
