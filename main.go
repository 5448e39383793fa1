package main

import (
	"flag"
	"log"
	"strings"

	"aichat/cache"
	"aichat/config"
	"aichat/database"
	"aichat/gpt"
	"aichat/middleware"
	"aichat/router"
	"aichat/service"
)

// @title AI聊天服务 API
// @version 1.0
// @description AI问答引擎服务，支持流式对话、历史上下文、多模型调度和用量计费
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var (
	configFile  string
	port        string
	showVersion bool
)

func init() {
	flag.StringVar(&configFile, "config", "", "外部配置文件路径（可选）")
	flag.StringVar(&configFile, "c", "", "外部配置文件路径（简写）")
	flag.StringVar(&port, "port", "", "监听端口，如: 8080 或 :8080")
	flag.StringVar(&port, "p", "", "监听端口（简写）")
	flag.BoolVar(&showVersion, "version", false, "显示版本信息")
	flag.BoolVar(&showVersion, "v", false, "显示版本信息（简写）")
}

func main() {
	flag.Parse()

	if showVersion {
		log.Println("AI聊天服务 v1.0.0")
		return
	}

	// 加载配置（内置配置 + 可选的外部配置覆盖）
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 命令行参数覆盖端口配置
	if port != "" {
		// 自动添加冒号前缀
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Server.Port = port
		log.Printf("命令行指定端口: %s", port)
	}

	// 打印配置信息
	config.PrintConfig()

	// 初始化数据库
	if err := database.Init(cfg); err != nil {
		log.Fatalf("数据库初始化失败: %v", err)
	}

	// 初始化 Redis
	if err := cache.Init(cfg); err != nil {
		log.Fatalf("Redis初始化失败: %v", err)
	}

	// 初始化 JWT
	middleware.InitJWT(cfg)

	// 历史落库队列（失败重试 + 死信邮件告警）
	emailService := service.NewEmailService(&cfg.Email)
	recorder := gpt.NewRecorder(database.DB, emailService, cfg.AI.RecordQueue)
	recorder.Start()
	defer recorder.Close()

	// 回答引擎
	engine := gpt.NewEngine(
		database.DB,
		cache.Client,
		gpt.NewTokenCounter(),
		gpt.NewBalanceChecker(database.DB),
		recorder,
		cfg.AI.AssistantName,
		cfg.AI.AnonPrompt,
	)

	// 设置路由
	r := router.SetupRouter(cfg, engine)

	// 启动服务器
	log.Printf("==========================================")
	log.Printf("  🤖 AI聊天服务已启动")
	log.Printf("==========================================")
	log.Printf("  Swagger:  http://localhost%s/swagger/index.html", cfg.Server.Port)
	log.Printf("  API接口:  http://localhost%s/api/v1/", cfg.Server.Port)
	log.Printf("==========================================")

	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatalf("服务器启动失败: %v", err)
	}
}
