package cv

import (
	"fmt"
	"image"
	"image/draw"
	"sync"

	"gocv.io/x/gocv"
)

// YCbCr to RGB lookup tables (BT.601 full range), shared by every frame.
var (
	ycbcrOnce  sync.Once
	ycbcrTable struct {
		cr2r [256]int32
		cb2b [256]int32
		cr2g [256]int32
		cb2g [256]int32
	}
)

// toMat copies a captured frame into a BGR Mat. Camera drivers hand out
// YCbCr (YUYV, I420, NV12) or RGBA images; anything else goes through
// image/draw. The caller owns the returned Mat.
func toMat(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("cv: nil image")
	}
	if img.Bounds().Empty() {
		return gocv.NewMat(), fmt.Errorf("cv: empty image bounds")
	}

	switch im := img.(type) {
	case *image.YCbCr:
		return ycbcrToMat(im)
	case *image.Gray:
		return packedToMat(im.Pix, im.Stride, im.Rect, 1, gocv.MatTypeCV8UC1, gocv.ColorGrayToBGR)
	case *image.NRGBA:
		return packedToMat(im.Pix, im.Stride, im.Rect, 4, gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR)
	case *image.RGBA:
		// Opaque camera frames have no premultiplication to undo.
		return packedToMat(im.Pix, im.Stride, im.Rect, 4, gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR)
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
		return packedToMat(rgba.Pix, rgba.Stride, rgba.Rect, 4, gocv.MatTypeCV8UC4, gocv.ColorRGBAToBGR)
	}
}

// packedToMat builds a Mat from an interleaved pixel buffer, repacking rows
// when the stride or origin does not match a tight layout.
func packedToMat(pix []byte, stride int, rect image.Rectangle, channels int, matType gocv.MatType, code gocv.ColorConversionCode) (gocv.Mat, error) {
	w, h := rect.Dx(), rect.Dy()
	buf := pix
	if stride != channels*w || !rect.Min.Eq(image.Point{}) {
		buf = make([]byte, channels*w*h)
		for y := 0; y < h; y++ {
			src := y * stride
			copy(buf[y*channels*w:(y+1)*channels*w], pix[src:src+channels*w])
		}
	} else {
		buf = buf[:channels*w*h]
	}

	mat, err := gocv.NewMatFromBytes(h, w, matType, buf)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("cv: failed to create Mat: %w", err)
	}
	defer mat.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, code)
	if bgr.Empty() {
		bgr.Close()
		return gocv.NewMat(), fmt.Errorf("cv: colour conversion produced an empty Mat")
	}
	return bgr, nil
}

// ycbcrToMat converts any YCbCr subsampling ratio through lookup tables.
func ycbcrToMat(im *image.YCbCr) (gocv.Mat, error) {
	initYCbCrTables()

	bounds := im.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)

	data, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("cv: failed to get Mat data pointer: %w", err)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yi := im.YOffset(x+bounds.Min.X, y+bounds.Min.Y)
			ci := im.COffset(x+bounds.Min.X, y+bounds.Min.Y)

			yy := int32(im.Y[yi])
			cb := im.Cb[ci]
			cr := im.Cr[ci]

			idx := (y*w + x) * 3
			data[idx+0] = clamp(yy + ycbcrTable.cb2b[cb])
			data[idx+1] = clamp(yy - ycbcrTable.cb2g[cb] - ycbcrTable.cr2g[cr])
			data[idx+2] = clamp(yy + ycbcrTable.cr2r[cr])
		}
	}
	return mat, nil
}

func initYCbCrTables() {
	ycbcrOnce.Do(func() {
		for i := 0; i < 256; i++ {
			c := int32(i) - 128
			ycbcrTable.cr2r[i] = (91881*c + (1 << 15)) >> 16
			ycbcrTable.cb2b[i] = (116130*c + (1 << 15)) >> 16
			ycbcrTable.cr2g[i] = (46802*c + (1 << 15)) >> 16
			ycbcrTable.cb2g[i] = (22554*c + (1 << 15)) >> 16
		}
	})
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
