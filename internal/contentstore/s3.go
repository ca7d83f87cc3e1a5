package contentstore

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config 描述 S3 兼容存储的连接参数。
type S3Config struct {
	Bucket string
	Region string
	// Endpoint 为空时使用 AWS 默认端点，设置后启用 path-style（MinIO、LocalStack）。
	Endpoint string
	Prefix   string
}

// S3Store 将包以内容地址为键存入 S3 兼容存储。
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store 使用默认凭证链创建 S3Store。
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置 S3 bucket")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载 AWS 配置失败")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(address string) string {
	return s.prefix + address + ".json"
}

// Put 上传包，已存在的对象不会重复写入。
func (s *S3Store) Put(ctx context.Context, pkg *poa.Package) (string, error) {
	data, address, err := EncodeForStore(pkg)
	if err != nil {
		return "", err
	}
	key := s.key(address)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)}); err == nil {
		return address, nil
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"submission-id": pkg.SubmissionID,
			"package-hash":  pkg.PackageHash,
		},
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "S3 写入失败", xerrors.WithMetadata("key", key))
	}
	return address, nil
}

// Get 下载并校验包。
func (s *S3Store) Get(ctx context.Context, address string) (*poa.Package, error) {
	if err := CheckAddress(address); err != nil {
		return nil, err
	}
	key := s.key(address)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "内容不存在", xerrors.WithMetadata("address", address))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "S3 读取失败", xerrors.WithMetadata("key", key))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 S3 对象失败")
	}
	return DecodeFromStore(address, data)
}
