package render_test

import (
	"errors"
	"image/color"
	"log/slog"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/kmstest"
	"github.com/srlehn/kmsdisplay/render"
	_ "github.com/srlehn/kmsdisplay/render/soft"
)

func setup(t *testing.T, backend render.Backend) (*kmstest.Device, *alloc.Device, *render.Display) {
	t.Helper()
	runtime.LockOSThread()
	t.Cleanup(runtime.UnlockOSThread)
	dev := kmstest.New()
	require.NoError(t, dev.SetMaster())
	ad, err := alloc.NewDevice(dev)
	require.NoError(t, err)
	if backend == nil {
		backend, err = render.GetBackendByName(`soft`)
		require.NoError(t, err)
	}
	d, err := render.OpenDisplay(backend, ad, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = d.Close()
		_ = ad.Close()
	})
	return dev, ad, d
}

func newTarget(t *testing.T, ad *alloc.Device) *alloc.Surface {
	t.Helper()
	s, err := ad.NewSurface(16, 8, alloc.FormatXRGB8888, alloc.UseScanout|alloc.UseRendering, 0)
	require.NoError(t, err)
	return s
}

func TestBackendRegistry(t *testing.T) {
	b, err := render.GetBackendByName(`SOFT`)
	require.NoError(t, err)
	assert.Equal(t, `soft`, b.Name())
	assert.NotEmpty(t, render.Backends())

	_, err = render.GetBackendByName(`nonexistent`)
	assert.ErrorIs(t, err, render.ErrNoBackend)
}

func TestOpenDisplay(t *testing.T) {
	_, _, d := setup(t, nil)
	major, minor := d.Version()
	assert.Equal(t, 1, major)
	assert.Equal(t, 5, minor)
	assert.NotEmpty(t, d.Vendor())
	assert.NotEmpty(t, d.Extensions())
}

func TestFindConfig(t *testing.T) {
	_, _, d := setup(t, nil)
	cfg, err := render.FindConfig(d)
	require.NoError(t, err)
	assert.Zero(t, cfg.AlphaSize)
	assert.NotZero(t, cfg.SurfaceType&render.SurfaceWindow)
	assert.NotZero(t, cfg.RenderableType&render.RenderableGLES3)
	assert.Equal(t, alloc.FormatXRGB8888, cfg.NativeVisualID)
}

func TestDrawableContextPresents(t *testing.T) {
	_, ad, d := setup(t, nil)
	target := newTarget(t, ad)
	dc, err := render.NewDrawableContext(d, target, nil)
	require.NoError(t, err)
	defer dc.Close()

	cur := dc.Current()
	require.NoError(t, cur.Clear(color.RGBA{G: 0xff, A: 0xff}))
	require.NoError(t, cur.SwapBuffers())

	front, err := target.LockFrontBuffer()
	require.NoError(t, err)
	defer front.Release()
	assert.Equal(t, color.RGBA{G: 0xff, A: 0xff}, front.BufferObject().Image().At(3, 3))
}

func TestCurrentWrongThreadPanics(t *testing.T) {
	_, ad, d := setup(t, nil)
	dc, err := render.NewDrawableContext(d, newTarget(t, ad), nil)
	require.NoError(t, err)
	defer dc.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		assert.Panics(t, func() { _ = dc.Current().SwapBuffers() })
		assert.Panics(t, func() { _ = dc.Current().Release() })
	}()
	<-done
	assert.NoError(t, dc.Current().SwapBuffers())
}

func TestBindOnOtherThreadIsBadAccess(t *testing.T) {
	_, ad, d := setup(t, nil)
	dc, err := render.NewDrawableContext(d, newTarget(t, ad), nil)
	require.NoError(t, err)
	defer dc.Close()

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		_, err := render.Bind(dc.Context(), dc.Surface())
		errCh <- err
	}()
	assert.ErrorIs(t, <-errCh, render.ErrBadAccess)
}

func TestSurfacelessContext(t *testing.T) {
	_, ad, d := setup(t, nil)
	master, err := render.NewSurfacelessContext(d)
	require.NoError(t, err)
	defer master.Close()

	// only one current context per thread
	cfg, err := render.FindConfig(d)
	require.NoError(t, err)
	other, err := render.NewContext(d, cfg, nil)
	require.NoError(t, err)
	defer other.Close()
	_, err = render.BindSurfaceless(other)
	assert.ErrorIs(t, err, render.ErrAlreadyCurrent)

	masterObjs, err := master.Context().Objects()
	require.NoError(t, err)
	masterObjs.Store(`program`, 42)

	type result struct {
		val any
		err error
	}
	resCh := make(chan result, 1)
	target := newTarget(t, ad)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		child, err := master.CreateChildContext(target)
		if err != nil {
			resCh <- result{err: err}
			return
		}
		defer child.Close()
		assert.Same(t, master.Context(), child.Context().Shares())
		objs, err := child.Context().Objects()
		if err != nil {
			resCh <- result{err: err}
			return
		}
		v, _ := objs.Load(`program`)
		resCh <- result{val: v, err: child.Current().SwapBuffers()}
	}()
	res := <-resCh
	require.NoError(t, res.err)
	assert.Equal(t, 42, res.val)
}

func TestRebindAfterSameThreadSwitch(t *testing.T) {
	_, ad, d := setup(t, nil)
	t1, t2 := newTarget(t, ad), newTarget(t, ad)
	dc1, err := render.NewDrawableContext(d, t1, nil)
	require.NoError(t, err)
	defer dc1.Close()
	dc2, err := render.NewDrawableContext(d, t2, nil)
	require.NoError(t, err)
	defer dc2.Close()

	require.NoError(t, dc1.Current().Clear(color.White))
	require.NoError(t, dc1.Current().SwapBuffers())
	_, err = t1.LockFrontBuffer()
	assert.NoError(t, err)
	_, err = t2.LockFrontBuffer()
	assert.ErrorIs(t, err, alloc.ErrNoFrontBuffer)
}

func TestCurrentReleaseTwice(t *testing.T) {
	_, ad, d := setup(t, nil)
	dc, err := render.NewDrawableContext(d, newTarget(t, ad), nil)
	require.NoError(t, err)
	defer dc.Close()
	require.NoError(t, dc.Current().Release())
	assert.ErrorIs(t, dc.Current().Release(), render.ErrContextReleased)
	assert.Panics(t, func() { _ = dc.Current().SwapBuffers() })
}

type failingBackend struct {
	render.Backend
	destroyed *[]render.ContextID
}

type failingConn struct {
	render.Conn
	destroyed *[]render.ContextID
}

func (b failingBackend) Open(dev *alloc.Device) (render.Conn, error) {
	c, err := b.Backend.Open(dev)
	if err != nil {
		return nil, err
	}
	return failingConn{Conn: c, destroyed: b.destroyed}, nil
}

func (c failingConn) CreateWindowSurface(render.ConfigID, *alloc.Surface) (render.SurfaceID, error) {
	return render.NoSurface, errors.New(`out of memory`)
}

func (c failingConn) DestroyContext(id render.ContextID) error {
	*c.destroyed = append(*c.destroyed, id)
	return c.Conn.DestroyContext(id)
}

func TestDrawableContextReleasesPartialResources(t *testing.T) {
	soft, err := render.GetBackendByName(`soft`)
	require.NoError(t, err)
	var destroyed []render.ContextID
	_, ad, d := setup(t, failingBackend{Backend: soft, destroyed: &destroyed})

	dc, err := render.NewDrawableContext(d, newTarget(t, ad), nil)
	assert.Nil(t, dc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `couldn't create window surface`)
	assert.Len(t, destroyed, 1)
	assert.Equal(t, render.NoContext, d.Conn().CurrentContext())
}
