package responder

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	greetingReply   = BotPrefix + "Xin chào! Tôi là SmartBot của ứng dụng SmartGarden. Tôi có thể giúp gì cho bạn về cây trồng và vườn của bạn?"
	thanksReply     = BotPrefix + "Không có gì! Rất vui khi được giúp đỡ bạn. Nếu có thắc mắc gì thêm, đừng ngại hỏi nhé!"
	wateringReply   = BotPrefix + "Để tưới cây hiệu quả, bạn nên tưới vào buổi sáng sớm hoặc chiều muộn. Luôn kiểm tra độ ẩm của đất trước khi tưới để tránh tưới quá nhiều nước."
	fertilizerReply = BotPrefix + "Cây trồng cần được bón phân định kỳ. Phân hữu cơ thường an toàn hơn phân hóa học. Hãy tuân theo hướng dẫn liều lượng trên bao bì."
	pestReply       = BotPrefix + "Kiểm tra cây thường xuyên để phát hiện sâu bệnh sớm. Các biện pháp tự nhiên như xà phòng, dầu neem hoặc các loài thiên địch có thể giúp kiểm soát sâu bệnh."

	// DefaultFallback is returned when no keyword matches.
	DefaultFallback = BotPrefix + "Hiện tại tôi đang gặp khó khăn trong việc kết nối với dịch vụ. Tôi có thể giúp gì cho bạn về các vấn đề cơ bản như tưới cây, phân bón, hoặc phòng trừ sâu bệnh?"
)

type fallbackRule struct {
	keyword string
	reply   string
}

// fallbackRules is matched in order; the first keyword contained in the query wins.
var fallbackRules = []fallbackRule{
	{"chào", greetingReply},
	{"hello", greetingReply},
	{"hi", greetingReply},
	{"cảm ơn", thanksReply},
	{"thanks", thanksReply},
	{"tưới cây", wateringReply},
	{"phân bón", fertilizerReply},
	{"sâu bệnh", pestReply},
}

// GetFallbackResponse returns a canned reply for query. Input is normalized to
// NFC first so decomposed Vietnamese diacritics still match.
func GetFallbackResponse(query string) string {
	q := strings.ToLower(norm.NFC.String(query))
	for _, r := range fallbackRules {
		if strings.Contains(q, r.keyword) {
			return r.reply
		}
	}
	return DefaultFallback
}
