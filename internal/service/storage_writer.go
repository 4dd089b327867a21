package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
)

// StorageWriter 会话记录写入器
type StorageWriter interface {
	Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error)
}

// TranscriptMeta 写入元数据
type TranscriptMeta struct {
	RunID     string
	Target    string
	Host      string
	Port      int
	Username  string
	StartedAt time.Time
}

// label 文件名标签；未命名目标带上端口与用户，避免同一主机的多个目标互相覆盖
func (m TranscriptMeta) label() string {
	if strings.TrimSpace(m.Target) != "" {
		return m.Target
	}
	label := m.Host
	if m.Port > 0 {
		label += fmt.Sprintf("_%d", m.Port)
	}
	if m.Username != "" {
		label += "_" + m.Username
	}
	return label
}

// StoredObject 写入结果
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

const transcriptContentType = "text/plain; charset=utf-8"

// NewStorageWriter 根据 storage.backend 创建写入器，"none" 或空返回 nil
func NewStorageWriter(cfg *config.Config) StorageWriter {
	local := &LocalStorageWriter{storage: cfg.Storage, filter: cfg.OutputFilter}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "local":
		return local
	case "minio":
		return &DelegatingStorageWriter{local: local, minio: initMinioWriter(cfg)}
	default:
		return nil
	}
}

// DelegatingStorageWriter 优先写入 MinIO，失败时回退本地
type DelegatingStorageWriter struct {
	local *LocalStorageWriter
	minio *MinioStorageWriter
}

// Write 实现 StorageWriter
func (w *DelegatingStorageWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	if w.minio == nil {
		logger.Warnf("MinIO backend selected but client not initialized; falling back to local")
		return w.local.Write(ctx, meta, content)
	}
	obj, err := w.minio.Write(ctx, meta, content)
	if err == nil {
		return obj, nil
	}
	logger.Warnf("MinIO write failed; falling back to local: %v", err)
	objLocal, lerr := w.local.Write(ctx, meta, content)
	if lerr != nil {
		return StoredObject{}, fmt.Errorf("minio write failed: %v; local fallback failed: %w", err, lerr)
	}
	return objLocal, nil
}

// objectPath 相对路径：prefix/date/run/target_HHMMSS.txt
func objectPath(prefix string, meta TranscriptMeta) []string {
	started := meta.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	var parts []string
	if p := strings.TrimSpace(prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, started.Format("20060102"))
	if id := strings.TrimSpace(meta.RunID); id != "" {
		parts = append(parts, id)
	}
	parts = append(parts, fmt.Sprintf("%s_%s.txt", slug(meta.label()), started.Format("150405")))
	return parts
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// LocalStorageWriter 本地文件写入
type LocalStorageWriter struct {
	storage config.StorageConfig
	filter  config.OutputFilterConfig
}

// Write 实现 StorageWriter
func (w *LocalStorageWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	baseDir := strings.TrimSpace(w.storage.Local.BaseDir)
	if baseDir == "" {
		baseDir = "./data"
	}
	fullPath := filepath.Join(append([]string{baseDir}, objectPath(w.storage.Prefix, meta)...)...)

	if w.storage.Local.MkdirIfMissing {
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
		}
	}

	data := []byte(applyLineFilter(w.filter, content))
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: transcriptContentType,
	}, nil
}

// MinioStorageWriter MinIO 对象存储写入
type MinioStorageWriter struct {
	storage  config.StorageConfig
	filter   config.OutputFilterConfig
	client   *minio.Client
	endpoint string

	mu            sync.Mutex
	bucketEnsured bool
}

// initMinioWriter 初始化 MinIO 写入器，配置不完整时返回 nil
func initMinioWriter(cfg *config.Config) *MinioStorageWriter {
	mc := cfg.Storage.Minio
	host := strings.TrimSpace(mc.Host)
	if host == "" || mc.Port <= 0 {
		logger.Warnf("MinIO configuration incomplete; host/port missing")
		return nil
	}
	endpoint := net.JoinHostPort(host, fmt.Sprintf("%d", mc.Port))

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   32,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure:    mc.Secure,
		Transport: transport,
	})
	if err != nil {
		logger.Errorf("MinIO client initialization failed: %v", err)
		return nil
	}
	return &MinioStorageWriter{
		storage:  cfg.Storage,
		filter:   cfg.OutputFilter,
		client:   client,
		endpoint: endpoint,
	}
}

// ObjectName 对象在 bucket 中的路径
func (w *MinioStorageWriter) ObjectName(meta TranscriptMeta) string {
	return path.Join(objectPath(w.storage.Prefix, meta)...)
}

// Write 实现 StorageWriter
func (w *MinioStorageWriter) Write(ctx context.Context, meta TranscriptMeta, content string) (StoredObject, error) {
	bucket := strings.TrimSpace(w.storage.Minio.Bucket)
	if bucket == "" {
		return StoredObject{}, fmt.Errorf("minio bucket not configured")
	}
	if err := w.ensureBucket(ctx, bucket); err != nil {
		return StoredObject{}, fmt.Errorf("minio ensure bucket on %s failed: %w", w.endpoint, err)
	}

	data := []byte(applyLineFilter(w.filter, content))
	objectName := w.ObjectName(meta)

	// 指数退避重试
	var lastErr error
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := w.client.PutObject(attemptCtx, bucket, objectName, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: transcriptContentType})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return StoredObject{}, ctx.Err()
		case <-time.After(d):
		}
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}

	return StoredObject{
		URI:         "minio://" + path.Join(bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    checksum(data),
		ContentType: transcriptContentType,
	}, nil
}

// ensureBucket 校验并创建 bucket，成功后不再重复检查
func (w *MinioStorageWriter) ensureBucket(ctx context.Context, bucket string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.bucketEnsured {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	exists, err := w.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := w.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return err
		}
	}
	w.bucketEnsured = true
	return nil
}

// applyLineFilter 按前缀/包含过滤分页提示等行
func applyLineFilter(f config.OutputFilterConfig, s string) string {
	if s == "" {
		return s
	}
	norm := func(v string) string {
		if f.TrimSpace {
			v = strings.TrimSpace(v)
		}
		if f.CaseInsensitive {
			v = strings.ToLower(v)
		}
		return v
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		cmp := norm(ln)
		matched := false
		for _, p := range f.Prefixes {
			if np := norm(p); np != "" && strings.HasPrefix(cmp, np) {
				matched = true
				break
			}
		}
		for _, c := range f.Contains {
			if matched {
				break
			}
			nc := norm(c)
			matched = nc != "" && strings.Contains(cmp, nc)
		}
		if !matched {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(s)
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
