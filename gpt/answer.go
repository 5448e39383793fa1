package gpt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"aichat/models"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// excludedCreativityModels 推理系模型不接受采样参数，命中子串时整组丢弃
var excludedCreativityModels = []string{"o1", "reasoner", "o3", "o4", "gpt-5"}

// Sink 部分回答的输出端。text 为本次片段（已规范化），isStart 仅在第一个
// 非空片段为 true，isEnd 仅在最后一个空哨兵事件为 true
type Sink interface {
	SendChunk(ctx context.Context, text string, isStart, isEnd bool) error
}

// BalanceChecker 余额校验边界。余额策略由计费模块负责，
// 引擎只在被告知不足时以 KindLowTokensBalance 中止
type BalanceChecker interface {
	Check(ctx context.Context, user *models.User, model *models.GptModel, questionTokens int) error
}

// Request 一次答案生成请求
type Request struct {
	QueryText   string
	User        *models.User // nil 表示匿名用户
	Room        string
	Consumer    string
	Creativity  map[string]interface{} // temperature / top_p / 惩罚系数等
	ImageURL    string
	ReplyToText string
	Stream      bool
}

// answerState 单次调用的全部中间状态，按阶段依次填充，不跨请求存活
type answerState struct {
	ctx  context.Context
	req  *Request
	sink Sink

	now       time.Time
	timeStart time.Time

	userState  *models.UserGptModel
	model      *models.GptModel
	promptText string

	queryTokens  int
	promptTokens int

	window     []Message
	creativity map[string]interface{}

	returnText   string
	returnTokens int
}

// Engine 答案生成引擎。依赖全部显式注入，不持有任何请求级状态
type Engine struct {
	db            *gorm.DB
	gate          *Gate
	tokens        TokenCounter
	balance       BalanceChecker
	recorder      *Recorder
	assistantName string
	anonPrompt    string
}

// NewEngine 创建引擎
func NewEngine(db *gorm.DB, rdb *redis.Client, tokens TokenCounter, balance BalanceChecker, recorder *Recorder, assistantName, anonPrompt string) *Engine {
	return &Engine{
		db:            db,
		gate:          NewGate(rdb),
		tokens:        tokens,
		balance:       balance,
		recorder:      recorder,
		assistantName: assistantName,
		anonPrompt:    anonPrompt,
	}
}

// Gate 暴露闸门供传输层在消息到达时做限流检查
func (e *Engine) Gate() *Gate {
	return e.gate
}

func userID(req *Request) uint {
	if req.User == nil {
		return 0
	}
	return req.User.ID
}

// GenerateAnswer 核心入口：组装上下文窗口，调用提供商，流式或整体返回答案，
// 成功后异步落一条历史。所有失败在这里收敛为带分类的 *Error
func (e *Engine) GenerateAnswer(ctx context.Context, req *Request, sink Sink) error {
	st := &answerState{ctx: ctx, req: req, sink: sink, now: time.Now()}

	err := e.generate(st)
	if err == nil {
		return nil
	}
	ge := AsError(err)
	if logWorthy(ge.Kind) {
		log.Printf("答案生成失败 [%s] user=%d: %v", ge.Kind, userID(req), ge)
	}
	return ge
}

func (e *Engine) generate(st *answerState) error {
	if err := e.initUserModel(st); err != nil {
		return err
	}

	// token 统计与进行中标记并发执行
	acquired := false
	g, gctx := errgroup.WithContext(st.ctx)
	g.Go(func() error {
		n, err := e.tokens.Count(gctx, st.req.QueryText, st.model.Title, queryTokenOverhead)
		if err != nil {
			return wrapError(KindUnhandled, err, "计算问题 token 失败")
		}
		st.queryTokens = n
		return nil
	})
	g.Go(func() error {
		n, err := e.tokens.Count(gctx, st.promptText, st.model.Title, promptTokenOverhead)
		if err != nil {
			return wrapError(KindUnhandled, err, "计算提示词 token 失败")
		}
		st.promptTokens = n
		return nil
	})
	g.Go(func() error {
		if err := e.gate.AcquireInFlight(gctx, userID(st.req), st.req.QueryText); err != nil {
			return err
		}
		acquired = true
		return nil
	})
	err := g.Wait()
	if acquired {
		// 无论后续成败，进行中标记都要恰好释放一次
		defer e.gate.ReleaseInFlight(userID(st.req), st.req.QueryText)
	}
	if err != nil {
		return err
	}

	if st.queryTokens > st.model.MaxRequestToken {
		return newError(KindLongQuery, "问题 %d tokens 超出模型上限 %d", st.queryTokens, st.model.MaxRequestToken)
	}

	// reply_to 计入问题 token 预算。在并发阶段开始前算完，
	// 余额校验和窗口组装随后只读 queryTokens
	if st.req.ReplyToText != "" {
		n, err := e.tokens.Count(st.ctx, st.req.ReplyToText, st.model.Title, queryTokenOverhead)
		if err != nil {
			return wrapError(KindUnhandled, err, "计算 reply_to token 失败")
		}
		st.queryTokens += n
	}

	// 余额校验与窗口组装并发执行
	g2, _ := errgroup.WithContext(st.ctx)
	g2.Go(func() error {
		return e.balance.Check(st.ctx, st.req.User, st.model, st.queryTokens+st.promptTokens)
	})
	g2.Go(func() error {
		return e.buildWindow(st)
	})
	if err := g2.Wait(); err != nil {
		return err
	}

	if err := e.dispatch(st); err != nil {
		return err
	}

	e.record(st)
	return nil
}

// initUserModel 解析本次请求的模型、提示词与历史窗口起点。
// 登录用户取（或惰性创建）个人选择状态；匿名用户直接用该来源的默认模型
func (e *Engine) initUserModel(st *answerState) error {
	if st.req.User != nil {
		state, created, err := models.GetOrCreateUserGptModel(e.db, st.req.User.ID, st.req.Consumer, st.now)
		if err != nil {
			return wrapError(KindUnhandled, err, "初始化用户模型状态失败")
		}
		st.userState = state

		if state.ActiveModel == nil {
			return newError(KindUnhandled, "来源 %s 未配置默认模型", st.req.Consumer)
		}
		st.model = state.ActiveModel

		if state.ActivePrompt == nil {
			// 配置错误而不是运行时错误，直接失败
			return newError(KindUnhandled, "来源 %s 未配置默认提示词", st.req.Consumer)
		}
		st.promptText = strings.TrimSpace(fmt.Sprintf("Your name is %s. %s", e.assistantName, state.ActivePrompt.PromptText))

		if !created {
			windowStart := st.now.Add(-time.Duration(st.model.TimeWindow) * time.Minute)
			if windowStart.Before(state.TimeStart) {
				windowStart = state.TimeStart
			}
			st.timeStart = windowStart
		} else {
			st.timeStart = st.now
		}
		return nil
	}

	var defaultModel models.GptModel
	err := e.db.Preload("Proxy").
		Where("is_default = ? AND consumer = ?", true, st.req.Consumer).
		First(&defaultModel).Error
	if err != nil {
		return wrapError(KindUnhandled, err, "来源 %s 未配置默认模型", st.req.Consumer)
	}
	st.model = &defaultModel
	st.promptText = strings.TrimSpace(fmt.Sprintf("Your name is %s. %s", e.assistantName, e.anonPrompt))
	st.timeStart = st.now
	return nil
}

// webSearchOptions 搜索变体模型的联网检索参数（近似位置）
func webSearchOptions() map[string]interface{} {
	return map[string]interface{}{
		"web_search_options": map[string]interface{}{
			"user_location": map[string]interface{}{
				"type": "approximate",
				"approximate": map[string]interface{}{
					"country":  "CN",
					"timezone": "Asia/Shanghai",
				},
			},
			"search_context_size": "medium",
		},
	}
}

// prepareCreativity 按模型名裁剪采样参数：推理系模型丢弃全部采样参数，
// 搜索变体改为注入联网检索参数
func (e *Engine) prepareCreativity(st *answerState) {
	title := st.model.Title
	for _, sub := range excludedCreativityModels {
		if strings.Contains(title, sub) {
			st.creativity = map[string]interface{}{}
			return
		}
	}

	st.creativity = make(map[string]interface{}, len(st.req.Creativity))
	for k, v := range st.req.Creativity {
		st.creativity[k] = v
	}

	if st.model.IsSearchVariant() {
		st.creativity = webSearchOptions()
	}
}

// dispatch 提供商调度状态机：选协议 → 建传输 → 发送 → 流式累加或整体读取 → 定稿用量
func (e *Engine) dispatch(st *answerState) error {
	e.prepareCreativity(st)

	stream := st.req.Stream
	provider := providerFor(st.model)

	// 搜索变体不支持 Anthropic 流式协议，强制回退到非流式的 OpenAI 兼容路径
	forcedBuffered := false
	if stream && st.model.Provider == models.ProviderAnthropic && st.model.IsSearchVariant() {
		stream = false
		forcedBuffered = true
		provider = &openaiProvider{}
	}

	preq := &providerRequest{
		model:      st.model,
		messages:   st.window,
		creativity: st.creativity,
	}

	if !stream {
		res, err := provider.send(st.ctx, preq)
		if err != nil {
			return err
		}
		st.returnText = res.text
		st.queryTokens = res.promptTokens
		st.returnTokens = res.completionTokens

		// 回退路径上流式客户端仍在等事件，整体答案压成一对起止片段下发
		if forcedBuffered && st.sink != nil {
			if text := Normalize(res.text); text != "" {
				if err := st.sink.SendChunk(st.ctx, text, true, false); err != nil {
					return wrapError(KindUnhandled, err, "发送答案失败")
				}
			}
			if err := st.sink.SendChunk(st.ctx, "", false, true); err != nil {
				return wrapError(KindUnhandled, err, "发送结束事件失败")
			}
		}
		return nil
	}

	first := true
	res, err := provider.stream(st.ctx, preq, func(piece string) error {
		normalized := Normalize(piece)
		st.returnText += normalized
		isStart := first && normalized != ""
		if isStart {
			first = false
		}
		return st.sink.SendChunk(st.ctx, normalized, isStart, false)
	})
	if err != nil {
		return err
	}
	if err := st.sink.SendChunk(st.ctx, "", false, true); err != nil {
		return wrapError(KindUnhandled, err, "发送结束事件失败")
	}

	if res.hasUsage {
		st.queryTokens = res.promptTokens
		st.returnTokens = res.completionTokens
		return nil
	}
	return e.finalizeTokens(st)
}

// finalizeTokens OpenAI 兼容流式路径没有用量事件，事后对序列化的完整窗口
// 和答案文本本地重算 token
func (e *Engine) finalizeTokens(st *answerState) error {
	windowJSON, err := json.Marshal(st.window)
	if err != nil {
		return wrapError(KindUnhandled, err, "序列化窗口失败")
	}

	g, gctx := errgroup.WithContext(st.ctx)
	g.Go(func() error {
		n, err := e.tokens.Count(gctx, string(windowJSON), st.model.Title, 0)
		if err == nil {
			st.queryTokens = n
		}
		return err
	})
	g.Go(func() error {
		n, err := e.tokens.Count(gctx, st.returnText, st.model.Title, queryTokenOverhead)
		if err == nil {
			st.returnTokens = n
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return wrapError(KindUnhandled, err, "重算 token 失败")
	}
	return nil
}

// record 成功后把这轮问答异步交给落库队列，失败由队列自己的重试与告警兜底，
// 不影响已经拿到答案的用户
func (e *Engine) record(st *answerState) {
	record := &models.TextTransaction{
		Room:               st.req.Room,
		Question:           st.req.QueryText,
		QuestionTokens:     st.queryTokens,
		QuestionTokenPrice: st.model.IncomingPrice,
		ImageURL:           st.req.ImageURL,
		Answer:             st.returnText,
		AnswerTokens:       st.returnTokens,
		AnswerTokenPrice:   st.model.OutgoingPrice,
		Consumer:           st.req.Consumer,
		GptModelID:         &st.model.ID,
	}
	if st.req.User != nil {
		id := st.req.User.ID
		record.UserID = &id
	}
	e.recorder.Enqueue(record)
}

// Answer 非流式调用的最终文本（流式时为累加后的完整答案）
func (st *answerState) Answer() string {
	return st.returnText
}

// GenerateFinalAnswer 非流式入口，供 REM/IMG 这类一次性消费完整答案的
// 来源调用（聊天之外的后台任务没有增量输出端），返回清洗后的完整文本
func (e *Engine) GenerateFinalAnswer(ctx context.Context, req *Request) (string, error) {
	req.Stream = false
	st := &answerState{ctx: ctx, req: req, now: time.Now()}
	if err := e.generate(st); err != nil {
		ge := AsError(err)
		if logWorthy(ge.Kind) {
			log.Printf("答案生成失败 [%s] user=%d: %v", ge.Kind, userID(req), ge)
		}
		return "", ge
	}
	return Normalize(st.returnText), nil
}
