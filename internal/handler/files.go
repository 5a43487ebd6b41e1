package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sudooom.im.ripple/internal/app"
	"sudooom.im.ripple/internal/backend"
	"sudooom.im.ripple/internal/gallery"
	appErrors "sudooom.im.ripple/pkg/errors"
	"sudooom.im.ripple/pkg/response"
)

// FileHandler 文件列表与下载
type FileHandler struct {
	client *app.Client
}

// NewFileHandler 创建文件处理器
func NewFileHandler(client *app.Client) *FileHandler {
	return &FileHandler{client: client}
}

// List 文件列表，folder 取 all / chat / stories
func (h *FileHandler) List(c *gin.Context) {
	folder := c.DefaultQuery("folder", gallery.SubsetAll)
	if _, ok := gallery.PrefixFor(folder); !ok {
		response.Error(c, appErrors.ErrInvalidParams)
		return
	}

	listing, err := h.client.Gallery(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, listing.Subset(folder))
}

// Download 按存储路径输出对象内容
func (h *FileHandler) Download(c *gin.Context) {
	objects := h.client.Backend().Objects
	if objects == nil {
		response.Error(c, appErrors.ErrStorageUnavailable)
		return
	}
	p := strings.TrimPrefix(c.Param("path"), "/")
	if p == "" {
		response.Error(c, appErrors.ErrInvalidParams)
		return
	}

	body, meta, err := objects.Open(c.Request.Context(), p)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		response.Error(c, appErrors.ErrStorageUnavailable.Wrap(err))
		return
	}
	defer body.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	if meta.Size > 0 {
		c.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}
