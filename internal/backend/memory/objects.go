package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"sudooom.im.ripple/internal/backend"
)

const defaultChunkSize = 64 * 1024

type object struct {
	meta backend.ObjectMeta
	data []byte
}

// Objects 内存对象存储
type Objects struct {
	mu      sync.RWMutex
	objects map[string]*object
	baseURL string
	clock   func() time.Time

	// ChunkSize 每次写入的分块大小，决定进度回调粒度
	ChunkSize int
	// FailStat 路径在集合中时 Stat/ResolveURL 失败（测试用）
	FailStat map[string]error
	// FailPut 非空时 Put 返回该错误（测试用）
	FailPut error
	// BeforeChunk 每个分块写入前调用，可用于在测试中阻塞或取消
	BeforeChunk func(written int64)
}

// NewObjects 创建内存对象存储，baseURL 用于生成下载地址
func NewObjects(baseURL string) *Objects {
	return &Objects{
		objects:   make(map[string]*object),
		baseURL:   strings.TrimRight(baseURL, "/"),
		clock:     time.Now,
		ChunkSize: defaultChunkSize,
		FailStat:  make(map[string]error),
	}
}

// SetClock 替换时钟（测试用）
func (o *Objects) SetClock(clock func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clock = clock
}

// Put 分块写入，ctx 取消时中止且不留下对象
func (o *Objects) Put(ctx context.Context, p string, body io.Reader, size int64, contentType string, progress backend.ProgressFunc) (*backend.ObjectMeta, error) {
	if o.FailPut != nil {
		return nil, o.FailPut
	}
	chunk := o.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	var buf bytes.Buffer
	tmp := make([]byte, chunk)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if o.BeforeChunk != nil {
			o.BeforeChunk(written)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n, err := body.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
			written += int64(n)
			if progress != nil {
				progress(written, size)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read upload body: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	meta := backend.ObjectMeta{
		Name:        path.Base(p),
		Path:        p,
		Size:        written,
		ContentType: contentType,
		CreatedAt:   o.clock(),
	}
	o.objects[p] = &object{meta: meta, data: buf.Bytes()}
	return &meta, nil
}

// PutBytes 直接写入对象并指定创建时间（测试与种子数据用）
func (o *Objects) PutBytes(p string, data []byte, contentType string, createdAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[p] = &object{
		meta: backend.ObjectMeta{
			Name:        path.Base(p),
			Path:        p,
			Size:        int64(len(data)),
			ContentType: contentType,
			CreatedAt:   createdAt,
		},
		data: append([]byte(nil), data...),
	}
}

// ResolveURL 生成下载地址
func (o *Objects) ResolveURL(_ context.Context, p string) (string, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if err := o.FailStat[p]; err != nil {
		return "", err
	}
	if _, ok := o.objects[p]; !ok {
		return "", backend.ErrNotFound
	}
	return o.baseURL + "/files/" + p, nil
}

// List 列出 prefix 下的直接子目录与对象
func (o *Objects) List(_ context.Context, prefix string) (*backend.Listing, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	prefixes := make(map[string]struct{})
	listing := &backend.Listing{Prefixes: []string{}, Items: []string{}}
	for p := range o.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			prefixes[prefix+rest[:i+1]] = struct{}{}
			continue
		}
		listing.Items = append(listing.Items, p)
	}
	for p := range prefixes {
		listing.Prefixes = append(listing.Prefixes, p)
	}
	sort.Strings(listing.Prefixes)
	sort.Strings(listing.Items)
	return listing, nil
}

// Stat 读取对象元数据
func (o *Objects) Stat(_ context.Context, p string) (*backend.ObjectMeta, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if err := o.FailStat[p]; err != nil {
		return nil, err
	}
	obj, ok := o.objects[p]
	if !ok {
		return nil, backend.ErrNotFound
	}
	meta := obj.meta
	return &meta, nil
}

// Open 打开对象内容
func (o *Objects) Open(_ context.Context, p string) (io.ReadCloser, *backend.ObjectMeta, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	obj, ok := o.objects[p]
	if !ok {
		return nil, nil, backend.ErrNotFound
	}
	meta := obj.meta
	return io.NopCloser(bytes.NewReader(obj.data)), &meta, nil
}

// Len 对象数量
func (o *Objects) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.objects)
}
