package gpt

import (
	"fmt"
	"regexp"
	"strings"

	"aichat/models"
)

// Message 上下文窗口中的一条记录。Content 是纯文本或图片引用块，
// 每次请求临时组装，从不落库
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// imageContent 图片引用的内容块（OpenAI 兼容格式）
func imageContent(url string, detail string) []map[string]interface{} {
	image := map[string]interface{}{"url": url}
	if detail != "" {
		image["detail"] = detail
	}
	return []map[string]interface{}{
		{"type": "image_url", "image_url": image},
	}
}

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]+>`)
	markdownSynRe = regexp.MustCompile("[*_`#>~\\[\\]()!-]")
	punctuationRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// cleanAndSplitText 去掉 HTML/Markdown 标记和标点后，取前 wordLimit 个词的集合。
// 小写比较，集合相等即认为两段文本开头一致
func cleanAndSplitText(text string, wordLimit int) map[string]struct{} {
	clean := htmlTagRe.ReplaceAllString(text, " ")
	clean = markdownSynRe.ReplaceAllString(clean, " ")
	clean = punctuationRe.ReplaceAllString(clean, "")
	clean = strings.ToLower(clean)

	words := strings.Fields(clean)
	if len(words) > wordLimit {
		words = words[:wordLimit]
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func wordSetsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for w := range a {
		if _, ok := b[w]; !ok {
			return false
		}
	}
	return true
}

// historyTurn 参与窗口组装的一轮历史问答
type historyTurn struct {
	Question       string
	QuestionTokens int
	ImageURL       string
	Answer         string
	AnswerTokens   int
}

// promptWindow 组装中的上下文窗口
type promptWindow struct {
	entries []Message
}

func (w *promptWindow) insert(role string, content interface{}) {
	w.entries = append([]Message{{Role: role, Content: content}}, w.entries...)
}

func (w *promptWindow) append(role string, content interface{}) {
	w.entries = append(w.entries, Message{Role: role, Content: content})
}

// removeMatching 删除最近一条角色为 role 且前 15 个规范化词与 text 一致的记录，
// 避免模型刚生成过的内容在窗口里重复出现。没有匹配时不做任何事
func (w *promptWindow) removeMatching(role, text string) {
	target := cleanAndSplitText(text, replyToWordLimit)
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].Role != role {
			continue
		}
		content, ok := w.entries[i].Content.(string)
		if !ok {
			continue
		}
		if wordSetsEqual(cleanAndSplitText(content, replyToWordLimit), target) {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
		}
		return
	}
}

const replyToWordLimit = 15

// 推理系模型不接受独立的 system 角色，身份说明降级为 user 开场白
var userRolePromptPrefixes = []string{"o1", "o3"}

// systemEntry 返回身份说明的角色与内容
func systemEntry(modelTitle, promptText string) (string, string) {
	for _, prefix := range userRolePromptPrefixes {
		if strings.HasPrefix(modelTitle, prefix) {
			return "user", "# AI permanent identity, behavior, and style\n" + promptText
		}
	}
	return "system", promptText
}

// buildWindow 组装 token 受限的上下文窗口。
//
// 规则：
//   - 联网搜索变体模型不带历史，窗口只有身份说明和当前问题
//   - 历史从最新往旧累加，每轮计 question+answer+11 个 token；
//     累加值达到 context_window 时停止，造成越界的那一轮整轮丢弃
//   - 带 reply_to 时删除与其开头一致的最近一条 assistant 记录，
//     并追加一条明确的分析目标记录
//   - 窗口顺序固定为：身份说明 → 旧到新的历史 → (图片) → 当前问题
func (e *Engine) buildWindow(st *answerState) error {
	var w promptWindow

	systemRole, systemPrompt := systemEntry(st.model.Title, st.promptText)

	// 搜索变体按无状态单轮处理
	if st.model.IsSearchVariant() {
		w.insert(systemRole, systemPrompt)
		w.append("user", st.req.QueryText)
		st.window = w.entries
		return nil
	}

	var history []historyTurn
	if st.req.User != nil {
		rows, err := e.readHistory(st)
		if err != nil {
			return wrapError(KindUnhandled, err, "读取历史失败")
		}
		history = rows
	}

	// queryTokens 此时已包含 reply_to 的份额，窗口组装阶段只读不写
	tokenCounter := st.queryTokens + st.promptTokens
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		tokenCounter += turn.QuestionTokens + turn.AnswerTokens + turnTokenOverhead
		if tokenCounter >= st.model.ContextWindow {
			break
		}
		w.insert("assistant", turn.Answer)
		w.insert("user", turn.Question)
		if turn.ImageURL != "" {
			w.insert("user", imageContent(turn.ImageURL, ""))
		}
	}

	if st.req.ReplyToText != "" {
		w.removeMatching("assistant", st.req.ReplyToText)
		w.append("assistant", fmt.Sprintf("A message to analyze that you are asked to respond to: %s", st.req.ReplyToText))
	}

	w.insert(systemRole, systemPrompt)
	if st.req.ImageURL != "" {
		w.append("user", imageContent(st.req.ImageURL, "high"))
	}
	w.append("user", st.req.QueryText)

	st.window = w.entries
	return nil
}

// readHistory 读取时间窗口内该用户、该来源的已完成问答，按时间升序
func (e *Engine) readHistory(st *answerState) ([]historyTurn, error) {
	var rows []models.TextTransaction
	err := e.db.Model(&models.TextTransaction{}).
		Select("question", "question_tokens", "image_url", "answer", "answer_tokens").
		Where("user_id = ? AND consumer = ? AND created_at BETWEEN ? AND ?",
			st.req.User.ID, st.req.Consumer, st.timeStart, st.now).
		Where("answer <> ''").
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	turns := make([]historyTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, historyTurn{
			Question:       row.Question,
			QuestionTokens: row.QuestionTokens,
			ImageURL:       row.ImageURL,
			Answer:         row.Answer,
			AnswerTokens:   row.AnswerTokens,
		})
	}
	return turns, nil
}
