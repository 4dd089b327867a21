package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/internal/model"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
)

var db *gorm.DB

const (
	retryAttempts = 5
	retryBase     = 50 * time.Millisecond
	retryMax      = 500 * time.Millisecond
)

// Stats 连接池统计
type Stats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
}

// sqliteDSN 使用 modernc.org/sqlite 的 _pragma 参数开启 WAL 与忙等待
func sqliteDSN(path string) string {
	pragmas := []string{"busy_timeout(15000)", "journal_mode(WAL)", "synchronous(NORMAL)", "foreign_keys(ON)"}
	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// InitSQLite 初始化记录库并迁移表结构
func InitSQLite(cfg config.SQLiteConfig) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: sqliteDSN(cfg.Path)}, &gorm.Config{
		Logger: gormLogger.New(logger.GetLogger(), gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
		// 每次写入默认开启事务会放大 SQLite 写锁争用
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.Path, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// 写入方只有一个，PRAGMA 按连接生效
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(max(cfg.MaxIdleConns, 1), maxOpen))
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := conn.AutoMigrate(&model.Run{}, &model.CommandRecord{}); err != nil {
		return fmt.Errorf("failed to migrate records schema: %w", err)
	}

	db = conn
	logger.Infof("Record store ready at %s (max_open=%d)", cfg.Path, maxOpen)
	return nil
}

// GetDB 获取数据库实例，未初始化时为 nil
func GetDB() *gorm.DB {
	return db
}

// IsBusyError 判断是否为 SQLite 并发锁错误
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"database is locked", "sqlite_busy", "cannot start a transaction within a transaction"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry 遇到锁错误时指数退避重试
func withRetry(fn func(*gorm.DB) error) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	wait := retryBase
	var err error
	for i := 0; i < retryAttempts; i++ {
		if err = fn(db); err == nil || !IsBusyError(err) {
			return err
		}
		logger.Debugf("SQLite busy, retry %d/%d in %s", i+1, retryAttempts, wait)
		time.Sleep(wait)
		wait = min(wait*2, retryMax)
	}
	return err
}

// Close 关闭数据库连接
func Close() error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连通性
func Health() error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// GetStats 获取连接池统计，未初始化时返回 nil
func GetStats() *Stats {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil
	}
	s := sqlDB.Stats()
	return &Stats{
		OpenConnections: s.OpenConnections,
		InUse:           s.InUse,
		Idle:            s.Idle,
		WaitCount:       s.WaitCount,
		WaitDuration:    s.WaitDuration,
	}
}
