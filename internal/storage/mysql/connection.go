package mysql

import (
	"context"
	"database/sql"
	sqldriver "database/sql/driver"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Config 描述 MySQL 连接池参数，零值字段使用 poolDefaults 中的取值。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

var poolDefaults = Config{
	MaxOpenConns:    20,
	MaxIdleConns:    10,
	ConnMaxLifetime: 30 * time.Minute,
}

const defaultDialTimeout = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = poolDefaults.MaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = poolDefaults.MaxIdleConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = poolDefaults.ConnMaxLifetime
	}
	return c
}

// connector 解析 DSN 并补齐拨号超时，错误信息只携带地址与库名。
func connector(dsn string) (sqldriver.Connector, *driver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	parsed, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "MySQL DSN 格式错误")
	}
	if parsed.Timeout <= 0 {
		parsed.Timeout = defaultDialTimeout
	}
	conn, err := driver.NewConnector(parsed)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 MySQL 连接器失败")
	}
	return conn, parsed, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	conn, parsed, err := connector(cfg.DSN)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL",
			xerrors.WithMetadata("addr", parsed.Addr),
			xerrors.WithMetadata("database", parsed.DBName))
	}
	return db, nil
}

// Open 建立连接池并执行全部待执行的迁移，账本与轮次存储共享返回的连接池。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
