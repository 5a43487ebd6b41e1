package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.ripple/internal/backend/memory"
	"sudooom.im.ripple/internal/config"
	"sudooom.im.ripple/internal/model"
	appErrors "sudooom.im.ripple/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T) (*Pipeline, *memory.Objects) {
	objects := memory.NewObjects("http://localhost")
	objects.ChunkSize = 4
	p := NewPipeline(objects, config.Defaults().Upload)
	p.SetClock(func() time.Time { return fixedNow })
	return p, objects
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: 200, G: 40, B: 90, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	require.NoError(t, enc.Encode(&buf, img))
	return buf.Bytes()
}

// waitTask 等待任务结束
func waitTask(t *testing.T, task *Task) {
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("upload did not finish")
	}
}

func TestScaleSize(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{4000, 2000, 1280, 1280, 640},
		{2000, 4000, 1280, 640, 1280},
		{800, 600, 1280, 800, 600},
		{1280, 1280, 1280, 1280, 1280},
		{3000, 1, 1280, 1280, 1},
	}
	for _, tt := range tests {
		w, h := ScaleSize(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}

func TestRecompress_PreservesAspectRatio(t *testing.T) {
	data := encodePNG(t, solidImage(4000, 2000))

	out, name, ct, err := Recompress(data, "wide.png", "image/png", 1280, 90)
	require.NoError(t, err)
	assert.Equal(t, "wide.png", name)
	assert.Equal(t, "image/png", ct)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 640, cfg.Height)
}

func TestRecompress_JPEGStaysJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(100, 50), &jpeg.Options{Quality: 100}))

	out, _, ct, err := Recompress(buf.Bytes(), "p.jpg", "image/jpeg", 1280, 90)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestRecompress_UndecodablePassesThrough(t *testing.T) {
	data := []byte("<svg></svg>")
	out, name, ct, err := Recompress(data, "logo.svg", "image/svg+xml", 1280, 90)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "logo.svg", name)
	assert.Equal(t, "image/svg+xml", ct)
}

func TestAttachmentPath(t *testing.T) {
	assert.Equal(t,
		"chat-attachments/a_b/1714564800000_photo.png",
		AttachmentPath("a_b", fixedNow, "photo.png"))
	assert.Equal(t,
		"chat-attachments/a_b/1714564800000_evil.txt",
		AttachmentPath("a_b", fixedNow, "../../evil.txt"))
}

func TestPipeline_Complete(t *testing.T) {
	p, objects := newPipeline(t)
	data := []byte("hello attachment")

	var mu sync.Mutex
	var progress []Progress
	completed := make(chan *model.Attachment, 1)
	task, err := p.Start(context.Background(), "a_b", File{Name: "notes.txt", ContentType: "text/plain", Data: data}, Callbacks{
		OnProgress: func(pr Progress) {
			mu.Lock()
			progress = append(progress, pr)
			mu.Unlock()
		},
		OnComplete: func(att *model.Attachment) { completed <- att },
		OnError:    func(err error) { t.Errorf("unexpected error: %v", err) },
	})
	require.NoError(t, err)
	waitTask(t, task)

	att := <-completed
	assert.Equal(t, "http://localhost/files/chat-attachments/a_b/1714564800000_notes.txt", att.URL)
	assert.Equal(t, "text/plain", att.ContentType)
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, 1, objects.Len())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i].Transferred, progress[i-1].Transferred)
	}
	last := progress[len(progress)-1]
	assert.Equal(t, int64(len(data)), last.Transferred)
	assert.InDelta(t, 100.0, last.Percent(), 0.001)
}

func TestPipeline_ImageRecompressedBeforeUpload(t *testing.T) {
	p, objects := newPipeline(t)
	objects.ChunkSize = 64 * 1024

	task, err := p.Start(context.Background(), "a_b", File{
		Name: "wide.png", ContentType: "image/png", Data: encodePNG(t, solidImage(4000, 2000)),
	}, Callbacks{})
	require.NoError(t, err)
	waitTask(t, task)

	att, err := task.Result()
	require.NoError(t, err)
	rc, meta, err := objects.Open(context.Background(), task.Path())
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Equal(t, "image/png", att.ContentType)

	cfg, _, err := image.DecodeConfig(rc)
	require.NoError(t, err)
	assert.Equal(t, 1280, cfg.Width)
	assert.Equal(t, 640, cfg.Height)
}

func TestPipeline_ConvertedImageStoredUnderNewName(t *testing.T) {
	p, objects := newPipeline(t)
	objects.ChunkSize = 64 * 1024

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, solidImage(40, 20), nil))

	task, err := p.Start(context.Background(), "a_b", File{
		Name: "anim.gif", ContentType: "image/gif", Data: buf.Bytes(),
	}, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "chat-attachments/a_b/1714564800000_anim.png", task.Path())
	waitTask(t, task)

	att, err := task.Result()
	require.NoError(t, err)
	assert.Equal(t, "anim.png", att.Name)
	assert.Equal(t, "http://localhost/files/chat-attachments/a_b/1714564800000_anim.png", att.URL)

	rc, meta, err := objects.Open(context.Background(), "chat-attachments/a_b/1714564800000_anim.png")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "image/png", meta.ContentType)
	_, format, err := image.DecodeConfig(rc)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
}

func TestPipeline_FailureReported(t *testing.T) {
	p, objects := newPipeline(t)
	objects.FailPut = errors.New("quota exceeded")

	failed := make(chan error, 1)
	task, err := p.Start(context.Background(), "a_b", File{Name: "x.bin", Data: []byte{1, 2, 3}}, Callbacks{
		OnComplete: func(*model.Attachment) { t.Error("unexpected completion") },
		OnError:    func(err error) { failed <- err },
	})
	require.NoError(t, err)
	waitTask(t, task)

	err = <-failed
	assert.True(t, appErrors.Is(err, appErrors.ErrUploadFailed))
	assert.False(t, appErrors.Is(err, appErrors.ErrUploadCancelled))
}

func TestPipeline_ContextCancelledIsCancellation(t *testing.T) {
	p, objects := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	objects.BeforeChunk = func(written int64) {
		if written >= 4 {
			cancel()
		}
	}

	failed := make(chan error, 1)
	task, err := p.Start(ctx, "a_b", File{Name: "x.bin", Data: bytes.Repeat([]byte{7}, 32)}, Callbacks{
		OnComplete: func(*model.Attachment) { t.Error("unexpected completion") },
		OnError:    func(err error) { failed <- err },
	})
	require.NoError(t, err)
	waitTask(t, task)

	assert.True(t, appErrors.Is(<-failed, appErrors.ErrUploadCancelled))
	assert.Equal(t, 0, objects.Len())
}

func TestSlot_SingleActiveAndCancel(t *testing.T) {
	p, objects := newPipeline(t)
	block := make(chan struct{})
	entered := make(chan struct{}, 1)
	objects.BeforeChunk = func(written int64) {
		if written == 0 {
			entered <- struct{}{}
			<-block
		}
	}

	slot := NewSlot(p)
	var calls int
	var mu sync.Mutex
	count := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}
	task, err := slot.Start(context.Background(), "a_b", File{Name: "a.bin", Data: []byte("abcdefgh")}, Callbacks{
		OnProgress: func(Progress) { count() },
		OnComplete: func(*model.Attachment) { count() },
		OnError:    func(error) { count() },
	})
	require.NoError(t, err)
	<-entered
	assert.True(t, slot.Busy())

	_, err = slot.Start(context.Background(), "a_b", File{Name: "b.bin", Data: []byte("x")}, Callbacks{})
	assert.True(t, appErrors.Is(err, appErrors.ErrUploadInFlight))

	assert.True(t, slot.Cancel())
	assert.False(t, slot.Busy())
	close(block)
	waitTask(t, task)

	mu.Lock()
	assert.Equal(t, 0, calls)
	mu.Unlock()
	assert.True(t, task.Cancelled())
	assert.Equal(t, 0, objects.Len())

	// 释放后可以开始新的上传
	objects.BeforeChunk = nil
	next, err := slot.Start(context.Background(), "a_b", File{Name: "c.bin", Data: []byte("ok")}, Callbacks{})
	require.NoError(t, err)
	waitTask(t, next)
	assert.False(t, slot.Busy())
	assert.Equal(t, 1, objects.Len())
}
