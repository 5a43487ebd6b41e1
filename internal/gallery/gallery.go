// Package gallery 媒体库：汇总对象存储中各目录的文件，单个文件失败不影响整体。
package gallery

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/model"
	"sudooom.im.ripple/internal/workerpool"
	appErrors "sudooom.im.ripple/pkg/errors"
)

// 命名子集
const (
	SubsetAll     = "all"
	SubsetChat    = "chat"
	SubsetStories = "stories"
)

// subsetPrefixes 子集名到路径前缀
var subsetPrefixes = map[string]string{
	SubsetChat:    "chat-attachments/",
	SubsetStories: "stories/",
}

// PrefixFor 子集对应的前缀，all 为空前缀
func PrefixFor(subset string) (string, bool) {
	if subset == "" || subset == SubsetAll {
		return "", true
	}
	p, ok := subsetPrefixes[subset]
	return p, ok
}

// Listing 一次列表结果，按前缀划分的子集共享同一份数据
type Listing struct {
	All      []model.FileDescriptor            `json:"all"`
	ByFolder map[string][]model.FileDescriptor `json:"byFolder"`
}

// Subset 按子集名取文件，未知子集返回 nil
func (l *Listing) Subset(name string) []model.FileDescriptor {
	prefix, ok := PrefixFor(name)
	if !ok {
		return nil
	}
	if prefix == "" {
		return l.All
	}
	if files, ok := l.ByFolder[prefix]; ok {
		return files
	}
	return Filter(l.All, prefix)
}

// Aggregator 媒体库汇总
type Aggregator struct {
	objects backend.ObjectStore
	pool    *workerpool.Pool
	folders []string
	logger  *slog.Logger
}

// NewAggregator 创建汇总器，pool 为空时逐个获取元数据
func NewAggregator(objects backend.ObjectStore, pool *workerpool.Pool, folders []string) *Aggregator {
	normalized := make([]string, 0, len(folders))
	for _, f := range folders {
		if f = strings.Trim(f, "/"); f != "" {
			normalized = append(normalized, f+"/")
		}
	}
	return &Aggregator{
		objects: objects,
		pool:    pool,
		folders: normalized,
		logger:  slog.Default(),
	}
}

// ListAll 列出全部文件，按创建时间倒序
func (a *Aggregator) ListAll(ctx context.Context) (*Listing, error) {
	if a.objects == nil {
		return nil, appErrors.ErrStorageUnavailable
	}

	root, err := a.objects.List(ctx, "")
	if err != nil {
		a.logger.Error("Failed to list object store", "error", err)
		return nil, appErrors.ErrListing.Wrap(err)
	}

	paths := append([]string(nil), root.Items...)
	for _, prefix := range root.Prefixes {
		paths = append(paths, a.walk(ctx, prefix)...)
	}
	if err := ctx.Err(); err != nil {
		return nil, appErrors.ErrListing.Wrap(err)
	}

	files := a.describe(ctx, paths)
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Path < files[j].Path
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})

	listing := &Listing{
		All:      files,
		ByFolder: make(map[string][]model.FileDescriptor, len(a.folders)),
	}
	for _, prefix := range a.folders {
		listing.ByFolder[prefix] = Filter(files, prefix)
	}
	return listing, nil
}

// walk 递归列出前缀下的对象，子目录失败只跳过该目录
func (a *Aggregator) walk(ctx context.Context, prefix string) []string {
	if ctx.Err() != nil {
		return nil
	}
	listing, err := a.objects.List(ctx, prefix)
	if err != nil {
		a.logger.Warn("Failed to list folder", "prefix", prefix, "error", err)
		return nil
	}
	paths := append([]string(nil), listing.Items...)
	for _, sub := range listing.Prefixes {
		paths = append(paths, a.walk(ctx, sub)...)
	}
	return paths
}

// describe 并发获取元数据与下载地址，失败项被排除。
// ctx 结束或协程池关闭时不再等待未完成的任务，返回已获取的部分。
func (a *Aggregator) describe(ctx context.Context, paths []string) []model.FileDescriptor {
	var (
		mu       sync.Mutex
		results  = make([]*model.FileDescriptor, len(paths))
		finished bool
		wg       sync.WaitGroup
	)

	for i, p := range paths {
		i, p := i, p
		job := func() {
			defer wg.Done()
			f := a.describeOne(ctx, p)
			mu.Lock()
			if !finished {
				results[i] = f
			}
			mu.Unlock()
		}
		wg.Add(1)
		if a.pool == nil {
			job()
			continue
		}
		if err := a.pool.Submit(ctx, job); err != nil {
			wg.Done()
			a.logger.Warn("File metadata skipped", "path", p, "error", appErrors.ErrPartialListing.Wrap(err))
		}
	}

	if a.pool != nil {
		all := make(chan struct{})
		go func() {
			wg.Wait()
			close(all)
		}()
		select {
		case <-all:
		case <-ctx.Done():
			a.logger.Warn("File metadata interrupted", "error", appErrors.ErrPartialListing.Wrap(ctx.Err()))
		case <-a.pool.Done():
			a.logger.Warn("File metadata interrupted", "error", appErrors.ErrPartialListing.Wrap(workerpool.ErrPoolClosed))
		}
	}

	mu.Lock()
	defer mu.Unlock()
	finished = true
	files := make([]model.FileDescriptor, 0, len(paths))
	for _, f := range results {
		if f != nil {
			files = append(files, *f)
		}
	}
	return files
}

func (a *Aggregator) describeOne(ctx context.Context, p string) *model.FileDescriptor {
	meta, err := a.objects.Stat(ctx, p)
	if err != nil {
		a.logger.Warn("File metadata unavailable", "path", p, "error", appErrors.ErrPartialListing.Wrap(err))
		return nil
	}
	url, err := a.objects.ResolveURL(ctx, p)
	if err != nil {
		a.logger.Warn("File URL unavailable", "path", p, "error", appErrors.ErrPartialListing.Wrap(err))
		return nil
	}
	return &model.FileDescriptor{
		Name:        meta.Name,
		Path:        p,
		URL:         url,
		Size:        meta.Size,
		ContentType: meta.ContentType,
		CreatedAt:   meta.CreatedAt,
	}
}

// Filter 按路径前缀筛选，保持原有顺序
func Filter(files []model.FileDescriptor, prefix string) []model.FileDescriptor {
	out := make([]model.FileDescriptor, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Path, prefix) {
			out = append(out, f)
		}
	}
	return out
}
