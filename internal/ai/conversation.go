package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxConversationMessages bounds how much history a Conversation carries.
const MaxConversationMessages = 20

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn in the wire shape of the completions API.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the chat history owned by the caller. Chat never mutates
// the value it receives; it returns the extended copy.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// With returns a copy of c with msgs appended, trimmed to the newest
// MaxConversationMessages entries.
func (c Conversation) With(msgs ...Message) Conversation {
	merged := make([]Message, 0, len(c.Messages)+len(msgs))
	merged = append(merged, c.Messages...)
	merged = append(merged, msgs...)
	if len(merged) > MaxConversationMessages {
		merged = merged[len(merged)-MaxConversationMessages:]
	}
	return Conversation{Messages: merged}
}

// Workspace summarises the catalog so answers can refer to real materials.
type Workspace struct {
	MaterialCount   int
	FormulaCount    int
	RecentMaterials []string
}

// Chat sends message together with the prior conversation and returns the
// reply and the extended conversation.
func (c *Client) Chat(ctx context.Context, message string, conv Conversation, ws Workspace) (string, Conversation, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", conv, errors.New("ai: message must not be empty")
	}

	user := Message{Role: RoleUser, Content: message}
	messages := make([]Message, 0, len(conv.Messages)+2)
	messages = append(messages, Message{Role: RoleSystem, Content: chatSystemPrompt(ws)})
	messages = append(messages, conv.Messages...)
	messages = append(messages, user)

	reply, err := c.chat(ctx, messages)
	if err != nil {
		return "", conv, err
	}
	reply = normaliseText(reply)
	if reply == "" {
		return "", conv, errors.New("ai: empty reply")
	}
	return reply, conv.With(user, Message{Role: RoleAssistant, Content: reply}), nil
}

func chatSystemPrompt(ws Workspace) string {
	var b strings.Builder
	b.WriteString("You help a manufacturing quoting team reduce raw-material cost. ")
	b.WriteString("Suggest substitutions only between materials that are functionally equivalent and explain conversion factors. ")
	fmt.Fprintf(&b, "The catalog holds %d materials and %d quotation formulas.", ws.MaterialCount, ws.FormulaCount)
	if len(ws.RecentMaterials) > 0 {
		b.WriteString(" Some materials: ")
		b.WriteString(strings.Join(ws.RecentMaterials, ", "))
		b.WriteString(".")
	}
	return b.String()
}
