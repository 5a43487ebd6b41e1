// Package blob 基于 MongoDB GridFS 的对象存储，文件名即以 / 分隔的对象路径。
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/config"
)

const defaultChunkSize = 255 * 1024

// fileDoc GridFS files 集合中的文档
type fileDoc struct {
	Filename   string    `bson:"filename"`
	Length     int64     `bson:"length"`
	UploadDate time.Time `bson:"uploadDate"`
	Metadata   struct {
		ContentType string `bson:"contentType"`
	} `bson:"metadata"`
}

func (d *fileDoc) meta() *backend.ObjectMeta {
	return &backend.ObjectMeta{
		Name:        path.Base(d.Filename),
		Path:        d.Filename,
		Size:        d.Length,
		ContentType: d.Metadata.ContentType,
		CreatedAt:   d.UploadDate,
	}
}

// Store GridFS 对象存储
type Store struct {
	client    *mongo.Client
	bucket    *gridfs.Bucket
	files     *mongo.Collection
	baseURL   string
	chunkSize int
	logger    *slog.Logger
}

// Connect 连接 MongoDB
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout)
	}
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return cli, nil
}

// NewStore 创建对象存储
func NewStore(client *mongo.Client, cfg config.MongoConfig, baseURL string, chunkSize int) (*Store, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	db := client.Database(cfg.Database)
	bucketName := cfg.Bucket
	if bucketName == "" {
		bucketName = options.DefaultName
	}

	bucket, err := gridfs.NewBucket(db,
		options.GridFSBucket().
			SetName(bucketName).
			SetChunkSizeBytes(int32(chunkSize)),
	)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:    client,
		bucket:    bucket,
		files:     db.Collection(bucketName + ".files"),
		baseURL:   strings.TrimRight(baseURL, "/"),
		chunkSize: chunkSize,
		logger:    slog.Default(),
	}, nil
}

// Put 分块写入上传流，ctx 取消时中止上传并删除已写入的分块
func (s *Store) Put(ctx context.Context, p string, body io.Reader, size int64, contentType string, progress backend.ProgressFunc) (*backend.ObjectMeta, error) {
	stream, err := s.bucket.OpenUploadStream(p,
		options.GridFSUpload().SetMetadata(bson.D{{Key: "contentType", Value: contentType}}),
	)
	if err != nil {
		return nil, err
	}

	abort := func(cause error) error {
		if err := stream.Abort(); err != nil {
			s.logger.Warn("Failed to abort upload", "path", p, "error", err)
		}
		return cause
	}

	buf := make([]byte, s.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, abort(err)
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := stream.Write(buf[:n]); err != nil {
				return nil, abort(err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, size)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, abort(fmt.Errorf("read upload body: %w", readErr))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, abort(err)
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}

	return s.Stat(ctx, p)
}

// ResolveURL 下载地址：<public_base_url>/files/<path>
func (s *Store) ResolveURL(ctx context.Context, p string) (string, error) {
	if _, err := s.Stat(ctx, p); err != nil {
		return "", err
	}
	return s.baseURL + "/files/" + escapePath(p), nil
}

// List 列出 prefix 下的直接子目录与对象
func (s *Store) List(ctx context.Context, prefix string) (*backend.Listing, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	filter := bson.D{}
	if prefix != "" {
		filter = bson.D{{Key: "filename", Value: bson.D{
			{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)},
		}}}
	}
	cursor, err := s.files.Find(ctx, filter, options.Find().SetProjection(bson.D{{Key: "filename", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	prefixes := make(map[string]struct{})
	items := make(map[string]struct{})
	for cursor.Next(ctx) {
		var doc fileDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(doc.Filename, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			prefixes[prefix+rest[:i+1]] = struct{}{}
			continue
		}
		items[doc.Filename] = struct{}{}
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}

	listing := &backend.Listing{
		Prefixes: sortedKeys(prefixes),
		Items:    sortedKeys(items),
	}
	return listing, nil
}

// Stat 读取最新一次上传的元数据
func (s *Store) Stat(ctx context.Context, p string) (*backend.ObjectMeta, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx,
		bson.D{{Key: "filename", Value: p}},
		options.FindOne().SetSort(bson.D{{Key: "uploadDate", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, backend.ErrNotFound
		}
		return nil, err
	}
	return doc.meta(), nil
}

// Open 打开对象内容
func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, *backend.ObjectMeta, error) {
	meta, err := s.Stat(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	stream, err := s.bucket.OpenDownloadStreamByName(p)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, nil, backend.ErrNotFound
		}
		return nil, nil, err
	}
	return stream, meta, nil
}

// Ping 检查 MongoDB 连通性
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
