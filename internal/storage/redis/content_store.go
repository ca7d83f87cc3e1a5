package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

// Config 描述 Redis 内容存储的连接参数。
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL 为 0 表示永久保存。
	TTL time.Duration
}

type kvClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Close() error
}

// ContentStore 使用 Redis 保存包内容。
type ContentStore struct {
	client kvClient
	prefix string
	ttl    time.Duration
}

// NewContentStore 连接 Redis 并创建内容存储。
func NewContentStore(ctx context.Context, cfg Config) (*ContentStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return newContentStore(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newContentStore(client kvClient, prefix string, ttl time.Duration) *ContentStore {
	if prefix == "" {
		prefix = "dvn:poa:"
	}
	return &ContentStore{client: client, prefix: prefix, ttl: ttl}
}

// Put 以内容地址为键写入包，键已存在时不覆盖。
func (s *ContentStore) Put(ctx context.Context, pkg *poa.Package) (string, error) {
	data, address, err := contentstore.EncodeForStore(pkg)
	if err != nil {
		return "", err
	}
	if err := s.client.SetNX(ctx, s.prefix+address, data, s.ttl).Err(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 写入失败", xerrors.WithMetadata("address", address))
	}
	return address, nil
}

// Get 读取并校验包。
func (s *ContentStore) Get(ctx context.Context, address string) (*poa.Package, error) {
	if err := contentstore.CheckAddress(address); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.prefix+address).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, xerrors.New(xerrors.CodeNotFound, "内容不存在", xerrors.WithMetadata("address", address))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 读取失败", xerrors.WithMetadata("address", address))
	}
	return contentstore.DecodeFromStore(address, data)
}

// Close 关闭连接。
func (s *ContentStore) Close() error {
	return s.client.Close()
}
