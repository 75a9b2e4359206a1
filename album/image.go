package album

import (
	"bytes"

	"github.com/disintegration/imaging"
	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

const placeholderTitle = "Somewhere"

// Title is the heading of a pin's album
func Title(p *md.Pin) string {
	if p == nil || p.Title == "" {
		return "Photos From " + placeholderTitle
	}
	return "Photos From " + p.Title
}

// Thumbnail scales the image down to fit into a size x size square, cropping it to the square's aspect
// ratio, and encodes the result as JPEG.
func Thumbnail(b []byte, size int) ([]byte, *pe.Err) {
	if size <= 0 {
		return nil, pe.NewBadInput("thumbnail size must be positive")
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, pe.NewServiceFailure("error decoding image").WithCause(err)
	}
	thumb := imaging.Thumbnail(img, size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, pe.NewServiceFailure("error encoding thumbnail").WithCause(err)
	}
	return buf.Bytes(), nil
}
