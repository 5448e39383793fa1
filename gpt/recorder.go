package gpt

import (
	"fmt"
	"log"
	"sync"
	"time"

	"aichat/models"

	"gorm.io/gorm"
)

// Alerter 死信告警通道（运维邮件等），失败只记日志
type Alerter interface {
	SendOpsAlert(subject, body string) error
}

// Recorder 历史落库队列。问答成功后记录经显式队列移交，由后台 worker
// 带重试写库；重试耗尽的记录进入死信处理（日志 + 告警），失败永远不会
// 传导回已经拿到答案的请求
type Recorder struct {
	db      *gorm.DB
	alerter Alerter

	queue chan *models.TextTransaction
	wg    sync.WaitGroup
	once  sync.Once

	retries int
	backoff time.Duration
}

// NewRecorder 创建落库队列，queueSize 为缓冲长度
func NewRecorder(db *gorm.DB, alerter Alerter, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{
		db:      db,
		alerter: alerter,
		queue:   make(chan *models.TextTransaction, queueSize),
		retries: 3,
		backoff: time.Second,
	}
}

// Start 启动后台 worker
func (r *Recorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for record := range r.queue {
			r.persist(record)
		}
	}()
}

// Close 停止接收并等待队列排空
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.queue)
	})
	r.wg.Wait()
}

// Enqueue 把一条已完成的问答交给队列。队列满时丢弃并告警，绝不阻塞请求路径
func (r *Recorder) Enqueue(record *models.TextTransaction) {
	select {
	case r.queue <- record:
	default:
		log.Printf("历史落库队列已满，丢弃记录 user=%v", record.UserID)
		r.alert("历史落库队列已满", fmt.Sprintf("丢弃问答记录，question: %.100s", record.Question))
	}
}

// persist 带重试写库，重试耗尽进入死信处理
func (r *Recorder) persist(record *models.TextTransaction) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(r.backoff * time.Duration(attempt))
		}
		if err := r.db.Create(record).Error; err != nil {
			lastErr = err
			continue
		}
		return
	}

	log.Printf("历史落库重试耗尽 user=%v: %v", record.UserID, lastErr)
	r.alert("历史落库失败", fmt.Sprintf("重试 %d 次后仍无法写入问答记录: %v\nquestion: %.200s", r.retries, lastErr, record.Question))
}

func (r *Recorder) alert(subject, body string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.SendOpsAlert(subject, body); err != nil {
		log.Printf("发送运维告警失败: %v", err)
	}
}
