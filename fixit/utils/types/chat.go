// fixit/utils/types/chat.go
package types

// ChatMessage is one conversation entry as sent by the client.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	UserID   string        `json:"userId"`
}

// UsageSummary is the quota tail attached to every successful chat reply.
type UsageSummary struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
	Used      int `json:"used"`
}

type ChatResponse struct {
	Content string       `json:"content"`
	Usage   UsageSummary `json:"usage"`
}
