package imageloader

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// Image 是解码校验后的图片摘要，原始字节由 Result.Data 携带。
type Image struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ContentType 返回对应格式的 MIME 类型。
func (img *Image) ContentType() string {
	switch img.Format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// ImageDecoder 通过完整解码校验字节是否为 JPEG/PNG/GIF。
type ImageDecoder struct{}

// Decode 满足 Decoder[*Image]。
func (ImageDecoder) Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image data", ErrInvalidPayload)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	bounds := img.Bounds()
	return &Image{
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
