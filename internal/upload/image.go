package upload

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path"
	"strings"

	// 注册解码器
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	appErrors "sudooom.im.ripple/pkg/errors"
)

// IsImage 是否需要压缩处理的图片类型
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "image/")
}

// ScaleSize 按最长边不超过 maxWidth 等比缩放
func ScaleSize(w, h, maxWidth int) (int, int) {
	longest := w
	if h > longest {
		longest = h
	}
	if maxWidth <= 0 || longest <= maxWidth {
		return w, h
	}
	ratio := float64(maxWidth) / float64(longest)
	sw := int(math.Round(float64(w) * ratio))
	sh := int(math.Round(float64(h) * ratio))
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return sw, sh
}

// Recompress 解码、缩放并重新编码图片
// JPEG 按 quality 重新编码，PNG 保持 PNG，其余可解码格式转为 PNG；无法解码时原样返回
func Recompress(data []byte, name, contentType string, maxWidth, quality int) ([]byte, string, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, name, contentType, nil
	}

	b := src.Bounds()
	w, h := ScaleSize(b.Dx(), b.Dy(), maxWidth)
	var img image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		img = dst
	}

	if quality <= 0 || quality > 100 {
		quality = 90
	}

	var out bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: quality})
		contentType = "image/jpeg"
	default:
		err = png.Encode(&out, img)
		if format != "png" {
			name = withExt(name, ".png")
		}
		contentType = "image/png"
	}
	if err != nil {
		return nil, name, contentType, appErrors.ErrImageProcessing.Wrap(err)
	}
	return out.Bytes(), name, contentType, nil
}

func withExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}
