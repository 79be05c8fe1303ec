package responder

import (
	"strings"

	"github.com/local/smartgarden/internal/ai"
)

const queryPlaceholder = "{query}"

// Prompts holds the templates sent to the model. TextOnly and ImageWithText
// have {query} replaced with the user's text.
type Prompts struct {
	TextOnly      string
	ImageWithText string
	ImageOnly     string
	Greeting      string
	GreetingReply string
}

func DefaultPrompts() Prompts {
	return Prompts{
		TextOnly:      "Hãy trả lời ngắn gọn về cây trồng: {query}",
		ImageWithText: "Phân tích ảnh cây trồng này. {query}",
		ImageOnly:     "Phân tích ảnh cây trồng này và cho lời khuyên.",
		Greeting:      "Xin chào, bạn có thể giúp tôi chăm sóc cây trồng không?",
		GreetingReply: "Chào bạn! Tôi là SmartBot của ứng dụng SmartGarden. Tôi rất vui được giúp bạn chăm sóc cây trồng. Bạn cần hỗ trợ về vấn đề gì?",
	}
}

func (p Prompts) textPrompt(text string) string {
	return strings.ReplaceAll(p.TextOnly, queryPlaceholder, text)
}

func (p Prompts) imagePrompt(text string) string {
	if strings.TrimSpace(text) == "" {
		return p.ImageOnly
	}
	return strings.ReplaceAll(p.ImageWithText, queryPlaceholder, text)
}

// seed is the fixed greeting exchange that opens every text-only chat.
func (p Prompts) seed() []ai.Turn {
	return []ai.Turn{
		{Role: ai.RoleUser, Text: p.Greeting},
		{Role: ai.RoleModel, Text: p.GreetingReply},
	}
}
