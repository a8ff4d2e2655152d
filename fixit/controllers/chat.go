// fixit/controllers/chat.go
package controllers

import (
	"context"
	"errors"
	"fixit/fixit/services/llm"
	"fixit/fixit/services/quota"
	"fixit/fixit/sources/usage"
	"fixit/fixit/utils/logging"
	"fixit/fixit/utils/types"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// SystemPrompt is prepended to every conversation sent upstream.
const SystemPrompt = "You are Fix It AI, a helpful problem-solving assistant. " +
	"You solve problems directly and efficiently with clear step-by-step solutions. " +
	"You never mention that you are powered by Groq, xAI, or any other AI service. " +
	"You always refer to yourself as Fix It AI only."

const (
	MaxContentChars = 10000
	MaxMessages     = 50

	// SettleTimeout bounds the store writes that run after the upstream
	// call, detached from the request context.
	SettleTimeout = 5 * time.Second
)

// Completer is the upstream completion API.
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, systemPrompt string, msgs []llm.Message) (string, error)
}

type ChatController struct {
	policy       *quota.Policy
	upstream     Completer
	systemPrompt string
}

type ChatOption func(*ChatController)

// WithSystemPrompt replaces SystemPrompt. Blank values are ignored.
func WithSystemPrompt(p string) ChatOption {
	return func(c *ChatController) {
		if strings.TrimSpace(p) != "" {
			c.systemPrompt = p
		}
	}
}

func NewChatController(policy *quota.Policy, upstream Completer, opts ...ChatOption) *ChatController {
	c := &ChatController{policy: policy, upstream: upstream, systemPrompt: SystemPrompt}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat validates req, claims a quota slot, forwards the sanitized
// conversation and counts the message only if the upstream answered.
func (c *ChatController) Chat(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if err := validateChat(req.Messages, userID); err != nil {
		return nil, err
	}

	res, err := c.policy.Admit(ctx, userID)
	if errors.Is(err, quota.ErrQuotaExceeded) {
		snap, serr := c.policy.Snapshot(ctx, userID)
		if serr != nil {
			return nil, serr
		}
		// In-flight reservations can fill the limit while used is still
		// below it. Nothing is sendable right now either way.
		snap.Remaining = 0
		logging.AppLogger.Info("daily limit reached",
			zap.String("user_id", userID),
			zap.Int("used", snap.Used),
			zap.Int("limit", snap.Limit),
		)
		return nil, &QuotaExceededError{UserID: userID, Snapshot: snap}
	}
	if err != nil {
		logging.ErrorLogger.Error("quota check failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	if !c.upstream.Configured() {
		c.release(ctx, res)
		logging.ErrorLogger.Error("upstream API key missing")
		return nil, ErrUpstreamNotConfigured
	}

	reply, err := c.upstream.Complete(ctx, c.systemPrompt, SanitizeMessages(req.Messages))
	if err != nil {
		c.release(ctx, res)
		logging.ErrorLogger.Error("upstream completion failed", zap.String("user_id", userID), zap.Error(err))
		return nil, err
	}

	// The message is counted from here on, so the client gets its reply
	// even if it has stopped waiting.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SettleTimeout)
	defer cancel()
	if err := c.policy.Commit(settleCtx, res); err != nil {
		logging.ErrorLogger.Error("record usage failed", zap.String("user_id", userID), zap.Error(err))
		c.release(ctx, res)
		return nil, err
	}

	snap, err := c.policy.Snapshot(settleCtx, userID)
	if err != nil {
		return nil, err
	}
	return &types.ChatResponse{
		Content: reply,
		Usage: types.UsageSummary{
			Remaining: snap.Remaining,
			Limit:     snap.Limit,
			Used:      snap.Used,
		},
	}, nil
}

// release frees the slot even when the request context is already gone.
func (c *ChatController) release(ctx context.Context, res usage.Reservation) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SettleTimeout)
	defer cancel()
	if err := c.policy.Release(settleCtx, res); err != nil {
		logging.ErrorLogger.Error("release quota slot failed", zap.String("user_id", res.UserID), zap.Error(err))
	}
}

func validateChat(msgs []types.ChatMessage, userID string) error {
	var details []types.FieldError
	if len(msgs) == 0 {
		details = append(details, types.FieldError{Path: "messages", Msg: "Messages must be a non-empty array"})
	}
	for i, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			details = append(details, types.FieldError{Path: fieldPath(i, "content"), Msg: "Message content is required"})
		}
		if !llm.ValidRole(m.Role) {
			details = append(details, types.FieldError{Path: fieldPath(i, "role"), Msg: "Invalid message role"})
		}
	}
	if userID == "" {
		details = append(details, types.FieldError{Path: "userId", Msg: "User ID is required"})
	}
	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

func fieldPath(i int, field string) string {
	return "messages[" + strconv.Itoa(i) + "]." + field
}

// SanitizeMessages drops incomplete entries, caps each content at
// MaxContentChars runes and keeps the first MaxMessages entries in order.
func SanitizeMessages(msgs []types.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, min(len(msgs), MaxMessages))
	for _, m := range msgs {
		if len(out) == MaxMessages {
			break
		}
		if m.Role == "" || m.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: m.Role, Content: truncateRunes(m.Content, MaxContentChars)})
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
