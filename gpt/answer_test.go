package gpt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"aichat/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sinkEvent 收集到的一次输出事件
type sinkEvent struct {
	text    string
	isStart bool
	isEnd   bool
}

// collectSink 把输出事件收进切片
type collectSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (s *collectSink) SendChunk(_ context.Context, text string, isStart, isEnd bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{text: text, isStart: isStart, isEnd: isEnd})
	return nil
}

// newTestEngine 组装带 sqlmock、miniredis 和假 token 计数器的引擎
func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *miniredis.Miniredis) {
	e, mock := newMockEngine(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	e.gate = NewGate(rdb)
	e.balance = NewBalanceChecker(e.db)
	e.recorder = NewRecorder(e.db, nil, 8)
	e.assistantName = "Mira"
	e.anonPrompt = "你是旅行助手。"
	return e, mock, mr
}

// gptModelColumns 默认模型查询的返回列
var gptModelColumns = []string{
	"id", "provider", "public_name", "title", "base_url", "api_key", "proxy_id",
	"is_default", "is_free", "incoming_price", "outgoing_price",
	"context_window", "max_request_token", "time_window", "consumer",
}

func expectDefaultModel(mock sqlmock.Sqlmock, baseURL string, maxRequestToken int) {
	mock.ExpectQuery("SELECT .* FROM `gpt_models`").
		WillReturnRows(sqlmock.NewRows(gptModelColumns).
			AddRow(1, models.ProviderOpenAI, "GPT-4o", "gpt-4o", baseURL, "test-key", nil,
				true, true, 0, 0, 2000, maxRequestToken, 30, models.ConsumerFastChat))
}

func TestEngine_GenerateAnswer_Stream(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world…\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	e, mock, mr := newTestEngine(t)
	expectDefaultModel(mock, srv.URL, 500)

	sink := &collectSink{}
	req := &Request{
		QueryText:  "打个招呼",
		Room:       "room1",
		Consumer:   models.ConsumerFastChat,
		Creativity: map[string]interface{}{"temperature": 0.7},
		Stream:     true,
	}
	require.NoError(t, e.GenerateAnswer(context.Background(), req, sink))

	// 请求体带流式标记和采样参数
	assert.Equal(t, true, gotBody["stream"])
	assert.Equal(t, 0.7, gotBody["temperature"])
	assert.Equal(t, "gpt-4o", gotBody["model"])

	// 片段已规范化；首个非空片段带 isStart，结尾是空哨兵事件
	require.Len(t, sink.events, 4)
	assert.Equal(t, sinkEvent{text: "Hello ", isStart: true}, sink.events[0])
	assert.Equal(t, sinkEvent{text: ""}, sink.events[1])
	assert.Equal(t, sinkEvent{text: "world..."}, sink.events[2])
	assert.Equal(t, sinkEvent{text: "", isEnd: true}, sink.events[3])

	// 成功后历史进入落库队列
	select {
	case rec := <-e.recorder.queue:
		assert.Equal(t, "打个招呼", rec.Question)
		assert.Equal(t, "Hello world...", rec.Answer)
		assert.Equal(t, models.ConsumerFastChat, rec.Consumer)
		assert.Nil(t, rec.UserID)
		require.NotNil(t, rec.GptModelID)
		// OpenAI 流式没有用量事件，token 为本地重算结果
		assert.Greater(t, rec.QuestionTokens, 0)
		assert.Greater(t, rec.AnswerTokens, 0)
	default:
		t.Fatal("落库队列中没有记录")
	}

	// 进行中标记已释放
	assert.False(t, mr.Exists(inWorkKey(0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

// 带 reply_to 的流式请求反复走完整路径。reply_to 的 token 统计发生在
// 余额校验与窗口组装并发开始之前，竞态检测下多次迭代必须干净
func TestEngine_GenerateAnswer_ReplyToStream(t *testing.T) {
	var mu sync.Mutex
	var lastBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		require.NoError(t, json.Unmarshal(raw, &lastBody))
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"好的\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	e, mock, mr := newTestEngine(t)

	const rounds = 5
	for i := 0; i < rounds; i++ {
		expectDefaultModel(mock, srv.URL, 500)
	}

	req := &Request{
		QueryText:   "展开讲讲",
		Room:        "room1",
		Consumer:    models.ConsumerFastChat,
		ReplyToText: "巴黎是法国的首都。",
		Stream:      true,
	}
	for i := 0; i < rounds; i++ {
		sink := &collectSink{}
		require.NoError(t, e.GenerateAnswer(context.Background(), req, sink))
		require.NotEmpty(t, sink.events)
		assert.True(t, sink.events[len(sink.events)-1].isEnd)

		select {
		case rec := <-e.recorder.queue:
			assert.Equal(t, "好的", rec.Answer)
		default:
			t.Fatal("落库队列中没有记录")
		}
	}

	// 窗口里带明确的分析目标记录
	mu.Lock()
	msgs, ok := lastBody["messages"].([]interface{})
	mu.Unlock()
	require.True(t, ok)
	var found bool
	for _, m := range msgs {
		entry := m.(map[string]interface{})
		if entry["role"] == "assistant" {
			content, _ := entry["content"].(string)
			if strings.Contains(content, "A message to analyze") {
				found = true
			}
		}
	}
	assert.True(t, found, "窗口缺少分析目标记录")

	assert.False(t, mr.Exists(inWorkKey(0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_GenerateAnswer_LongQueryNoNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("超长问题不应触发提供商调用")
	}))
	defer srv.Close()

	e, mock, mr := newTestEngine(t)
	expectDefaultModel(mock, srv.URL, 5)

	sink := &collectSink{}
	req := &Request{
		QueryText: "这个问题远远超出了五个 token 的模型单次请求上限",
		Consumer:  models.ConsumerFastChat,
		Stream:    true,
	}
	err := e.GenerateAnswer(context.Background(), req, sink)
	require.Error(t, err)
	assert.Equal(t, KindLongQuery, KindOf(err))
	assert.Empty(t, sink.events)

	// 失败路径同样释放进行中标记
	assert.False(t, mr.Exists(inWorkKey(0)))
}

func TestEngine_GenerateAnswer_DuplicateInWork(t *testing.T) {
	e, mock, mr := newTestEngine(t)
	expectDefaultModel(mock, "http://127.0.0.1:0", 500)

	// 相同文本已在处理中
	query := "重复的问题"
	_, err := mr.Lpush(inWorkKey(0), query)
	require.NoError(t, err)

	req := &Request{QueryText: query, Consumer: models.ConsumerFastChat, Stream: true}
	genErr := e.GenerateAnswer(context.Background(), req, &collectSink{})
	require.Error(t, genErr)
	assert.Equal(t, KindInWork, KindOf(genErr))

	// 未注册成功的调用不能释放别人的标记
	items, err := mr.List(inWorkKey(0))
	require.NoError(t, err)
	assert.Equal(t, []string{query}, items)
}

func TestEngine_GenerateFinalAnswer_Buffered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "这是“最终”答案…"}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 42, "completion_tokens": 17},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, mock, _ := newTestEngine(t)
	expectDefaultModel(mock, srv.URL, 500)

	answer, err := e.GenerateFinalAnswer(context.Background(), &Request{
		QueryText: "给我一个答案",
		Consumer:  models.ConsumerFastChat,
	})
	require.NoError(t, err)
	// 整体返回的文本同样走规范化
	assert.Equal(t, `这是"最终"答案...`, answer)

	// 有用量事件时直接采用提供商统计
	select {
	case rec := <-e.recorder.queue:
		assert.Equal(t, 42, rec.QuestionTokens)
		assert.Equal(t, 17, rec.AnswerTokens)
	default:
		t.Fatal("落库队列中没有记录")
	}
}

// Anthropic 搜索变体强制走非流式回退时，流式客户端仍收到一对起止事件，
// 整体答案作为单个片段下发
func TestEngine_GenerateAnswer_SearchFallbackEmitsFrames(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "搜索到的“答案”"}},
			},
			"usage": map[string]interface{}{"prompt_tokens": 30, "completion_tokens": 9},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, mock, mr := newTestEngine(t)
	mock.ExpectQuery("SELECT .* FROM `gpt_models`").
		WillReturnRows(sqlmock.NewRows(gptModelColumns).
			AddRow(2, models.ProviderAnthropic, "Claude 搜索", "claude-3-7-search-preview", srv.URL, "test-key", nil,
				true, true, 0, 0, 2000, 500, 30, models.ConsumerFastChat))

	sink := &collectSink{}
	req := &Request{
		QueryText:  "今天有什么新闻",
		Room:       "room1",
		Consumer:   models.ConsumerFastChat,
		Creativity: map[string]interface{}{"temperature": 0.7},
		Stream:     true,
	}
	require.NoError(t, e.GenerateAnswer(context.Background(), req, sink))

	// 实际请求是非流式的 OpenAI 兼容调用，采样参数被联网检索参数替换
	assert.NotContains(t, gotBody, "stream")
	assert.NotContains(t, gotBody, "temperature")
	assert.Contains(t, gotBody, "web_search_options")

	// 起止事件各一次，文本已规范化
	require.Len(t, sink.events, 2)
	assert.Equal(t, sinkEvent{text: `搜索到的"答案"`, isStart: true}, sink.events[0])
	assert.Equal(t, sinkEvent{text: "", isEnd: true}, sink.events[1])

	// 用量事件直接采用，记录照常入队
	select {
	case rec := <-e.recorder.queue:
		assert.Equal(t, 30, rec.QuestionTokens)
		assert.Equal(t, 9, rec.AnswerTokens)
	default:
		t.Fatal("落库队列中没有记录")
	}

	assert.False(t, mr.Exists(inWorkKey(0)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_GenerateAnswer_ProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, mock, mr := newTestEngine(t)
	expectDefaultModel(mock, srv.URL, 500)

	err := e.GenerateAnswer(context.Background(), &Request{
		QueryText: "你好",
		Consumer:  models.ConsumerFastChat,
		Stream:    true,
	}, &collectSink{})
	require.Error(t, err)
	assert.Equal(t, KindProviderResponse, KindOf(err))

	// 失败后标记同样释放
	assert.False(t, mr.Exists(inWorkKey(0)))
}

func TestPrepareCreativity(t *testing.T) {
	e := &Engine{}

	// 普通模型原样透传
	st := &answerState{
		req:   &Request{Creativity: map[string]interface{}{"temperature": 0.5, "top_p": 0.9}},
		model: &models.GptModel{Title: "gpt-4o"},
	}
	e.prepareCreativity(st)
	assert.Equal(t, 0.5, st.creativity["temperature"])
	assert.Equal(t, 0.9, st.creativity["top_p"])

	// 推理系模型整组丢弃
	for _, title := range []string{"o1-mini", "o3", "deepseek-reasoner", "o4-mini", "gpt-5-turbo"} {
		st = &answerState{
			req:   &Request{Creativity: map[string]interface{}{"temperature": 0.5}},
			model: &models.GptModel{Title: title},
		}
		e.prepareCreativity(st)
		assert.Empty(t, st.creativity, "模型 %s 应丢弃采样参数", title)
	}

	// 搜索变体替换为联网检索参数
	st = &answerState{
		req:   &Request{Creativity: map[string]interface{}{"temperature": 0.5}},
		model: &models.GptModel{Title: "gpt-4o-search-preview"},
	}
	e.prepareCreativity(st)
	assert.NotContains(t, st.creativity, "temperature")
	assert.Contains(t, st.creativity, "web_search_options")
}
