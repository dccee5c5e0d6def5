package kmsdisplay_test

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srlehn/kmsdisplay"
	"github.com/srlehn/kmsdisplay/display"
	"github.com/srlehn/kmsdisplay/internal/fimg"
	"github.com/srlehn/kmsdisplay/internal/kmstest"
	"github.com/srlehn/kmsdisplay/kms"
	"github.com/srlehn/kmsdisplay/resize/xdraw"
)

var (
	red   = color.RGBA{R: 0xff, A: 0xff}
	green = color.RGBA{G: 0xff, A: 0xff}
	blue  = color.RGBA{B: 0xff, A: 0xff}
	white = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
)

func TestCoverSize(t *testing.T) {
	tests := []struct {
		src, dst, want image.Point
	}{
		{image.Pt(2, 2), image.Pt(4, 4), image.Pt(4, 4)},
		{image.Pt(4, 2), image.Pt(2, 2), image.Pt(4, 2)},
		{image.Pt(1920, 1080), image.Pt(1024, 768), image.Pt(1366, 768)},
		{image.Pt(100, 400), image.Pt(200, 200), image.Pt(200, 800)},
		{image.Pt(0, 0), image.Pt(20, 10), image.Pt(20, 10)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kmsdisplay.CoverSize(tt.src, tt.dst), `%v -> %v`, tt.src, tt.dst)
	}
}

func TestResizerByName(t *testing.T) {
	r, err := kmsdisplay.ResizerByName(``)
	require.NoError(t, err)
	assert.Equal(t, kmsdisplay.DefaultResizer(), r)
	for _, name := range kmsdisplay.Resizers() {
		r, err := kmsdisplay.ResizerByName(name)
		assert.NoError(t, err, name)
		assert.NotNil(t, r, name)
	}
	_, err = kmsdisplay.ResizerByName(`NFNT`)
	assert.NoError(t, err)
	_, err = kmsdisplay.ResizerByName(`nope`)
	assert.Error(t, err)
}

func quadrants() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, red)
	img.Set(1, 0, green)
	img.Set(0, 1, blue)
	img.Set(1, 1, white)
	return img
}

func TestWallpaperDraw(t *testing.T) {
	wp, err := kmsdisplay.NewWallpaper(quadrants(), xdraw.NearestNeighbor())
	require.NoError(t, err)

	canvas := fimg.NewXRGB(image.Rect(0, 0, 4, 4))
	require.NoError(t, wp.Draw(canvas))
	assert.Equal(t, red, canvas.At(0, 0))
	assert.Equal(t, green, canvas.At(3, 0))
	assert.Equal(t, blue, canvas.At(0, 3))
	assert.Equal(t, white, canvas.At(3, 3))

	// other draw.Image types go through image/draw
	rgba := image.NewRGBA(image.Rect(0, 0, 4, 4))
	require.NoError(t, wp.Draw(rgba))
	assert.Equal(t, white, rgba.At(2, 2))
}

func TestWallpaperCropsCenter(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 2))
	cols := []color.RGBA{red, green, blue, white}
	for x, c := range cols {
		src.Set(x, 0, c)
		src.Set(x, 1, c)
	}
	wp, err := kmsdisplay.NewWallpaper(src, xdraw.NearestNeighbor())
	require.NoError(t, err)
	canvas := fimg.NewXRGB(image.Rect(0, 0, 2, 2))
	require.NoError(t, wp.Draw(canvas))
	assert.Equal(t, green, canvas.At(0, 1))
	assert.Equal(t, blue, canvas.At(1, 1))
}

func TestNewWallpaperInvalid(t *testing.T) {
	_, err := kmsdisplay.NewWallpaper(nil, nil)
	assert.Error(t, err)
	_, err = kmsdisplay.NewWallpaper(image.NewRGBA(image.Rectangle{}), nil)
	assert.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	pngPath := filepath.Join(dir, `quadrants.png`)
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, quadrants()))
	require.NoError(t, f.Close())

	img, err := kmsdisplay.LoadImage(pngPath)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(2, 2), img.Bounds().Size())

	txtPath := filepath.Join(dir, `notes.txt`)
	require.NoError(t, os.WriteFile(txtPath, []byte(`not an image`), 0o600))
	_, err = kmsdisplay.LoadImage(txtPath)
	assert.Error(t, err)

	_, err = kmsdisplay.LoadImage(filepath.Join(dir, `missing.png`))
	assert.Error(t, err)
}

// scanout returns the pixels and pitch crtcID currently shows.
func scanout(t *testing.T, dev *kmstest.Device, crtcID uint32) ([]byte, int) {
	t.Helper()
	fbID := dev.ScanoutFB(crtcID)
	for _, fb := range dev.Framebuffers() {
		if fb.ID == fbID {
			return dev.DumbData(fb.Handle), int(fb.Pitch)
		}
	}
	t.Fatalf(`crtc %d shows unknown framebuffer %d`, crtcID, fbID)
	return nil, 0
}

// presentFrames shows frames frames on a 64x48 output and hands the
// scanout buffer of the last one to check.
func presentFrames(t *testing.T, frameFunc display.FrameFunc, frames int, check func(scan *fimg.XRGB)) {
	t.Helper()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	dev := kmstest.New()
	dev.AddCRTCs(100)
	dev.AddEncoder(200, 0b1)
	dev.AddConnector(300, true, []uint32{200}, kmstest.Mode(64, 48, true))
	lease, err := kms.Acquire(dev)
	require.NoError(t, err)
	acks := make(chan display.FrameAck, 16)
	m, err := display.New(lease, kmsdisplay.DefaultConfig, display.SetSLogger(nil, false),
		display.SetFrameFunc(frameFunc), display.SetFrameAcks(acks))
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.UpdateConnections())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := 0; i < frames; i++ {
		require.Eventually(t, func() bool { return dev.PendingFlips() == 1 }, 2*time.Second, time.Millisecond)
		dev.CompleteFlips()
		require.NoError(t, m.HandleEvent(ctx))
		select {
		case ack := <-acks:
			assert.Equal(t, uint64(i+1), ack.Frame)
		case <-ctx.Done():
			t.Fatal(`no frame ack`)
		}
	}
	pix, pitch := scanout(t, dev, 100)
	check(fimg.WrapXRGB(pix, 64, 48, pitch))
}

func TestWallpaperOnOutput(t *testing.T) {
	wp, err := kmsdisplay.NewWallpaper(quadrants(), xdraw.NearestNeighbor())
	require.NoError(t, err)
	presentFrames(t, wp.FrameFunc(), 2, func(scan *fimg.XRGB) {
		assert.Equal(t, red, scan.At(0, 0))
		assert.Equal(t, green, scan.At(63, 0))
		assert.Equal(t, blue, scan.At(0, 47))
		assert.Equal(t, white, scan.At(63, 47))
	})
}

func TestPatternOnOutput(t *testing.T) {
	presentFrames(t, kmsdisplay.TestPattern(), 2, func(scan *fimg.XRGB) {
		// first bar
		assert.Equal(t, color.RGBA{R: 0xbf, G: 0xbf, B: 0xbf, A: 0xff}, scan.At(1, 1))
		// last bar
		assert.Equal(t, color.RGBA{B: 0xbf, A: 0xff}, scan.At(62, 1))
	})
}

func ExampleResizers() {
	fmt.Println(kmsdisplay.Resizers())
	// Output: [bild bilinear caire catmullrom default gift imaging nearest nfnt rez]
}
