package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"LeadPilot/internal/config"
	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/knowledge"
)

// NewGormDB 打开 MySQL 连接，按配置自动迁移知识条目与会话消息表
func NewGormDB(conf config.MysqlConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(conf.DSN()), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open mysql %s:%d: %w", conf.Host, conf.Port, err)
	}
	if conf.AutoMigrate {
		if err := db.AutoMigrate(&knowledge.KnowledgeItem{}, &conversation.Message{}); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}
