package database

import (
	"fmt"
	"log"

	"aichat/config"
	"aichat/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init 初始化数据库连接
func Init(cfg *config.Config) error {
	// 构建 MySQL DSN 连接字符串
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.Database.Username,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.DBName,
		cfg.Database.Charset,
	)

	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return fmt.Errorf("连接数据库失败: %w", err)
	}

	// 获取底层 *sql.DB 连接池配置
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	// 设置连接池参数
	sqlDB.SetMaxIdleConns(10)  // 最大空闲连接数
	sqlDB.SetMaxOpenConns(100) // 最大打开连接数

	// 自动迁移数据库表
	if err := DB.AutoMigrate(
		&models.User{},
		&models.Proxy{},
		&models.GptModel{},
		&models.UserPrompt{},
		&models.UserGptModel{},
		&models.TextTransaction{},
	); err != nil {
		return err
	}

	// 初始化默认提示词（仅当表为空时），保证 UserGptModel 惰性创建时有默认可用
	var promptCount int64
	DB.Model(&models.UserPrompt{}).Count(&promptCount)
	if promptCount == 0 {
		defaults := []models.UserPrompt{
			{
				Title:      "默认助手",
				PromptText: "You are a professional, friendly and concise assistant.",
				IsDefault:  true,
				Consumer:   models.ConsumerFastChat,
			},
			{
				Title:      "系统提醒",
				PromptText: "You generate short, actionable reminders.",
				IsDefault:  true,
				Consumer:   models.ConsumerReminder,
			},
		}
		if err := DB.Create(&defaults).Error; err != nil {
			log.Printf("警告: 初始化默认提示词失败: %v", err)
		}
	}

	log.Println("数据库初始化成功")
	return nil
}

// GetDB 获取数据库连接
func GetDB() *gorm.DB {
	return DB
}
