package render

import (
	"log/slog"
	"sync"

	"github.com/srlehn/kmsdisplay/alloc"
	"github.com/srlehn/kmsdisplay/internal/errors"
	"github.com/srlehn/kmsdisplay/internal/logx"
)

const glesClientVersion = 3

var _ logx.LoggerProvider = (*Display)(nil)

// Display is an initialized connection to a rendering backend.
type Display struct {
	conn       Conn
	backend    string
	alloc      *alloc.Device
	logger     *slog.Logger
	major      int
	minor      int
	vendor     string
	version    string
	extensions string
	closeOnce  sync.Once
}

// OpenDisplay connects backend to dev, negotiates the version and binds the
// OpenGL ES API. The backend's diagnostic strings are logged, not parsed.
func OpenDisplay(backend Backend, dev *alloc.Device, logger *slog.Logger) (*Display, error) {
	if backend == nil || dev == nil {
		return nil, errors.NilParam()
	}
	conn, err := backend.Open(dev)
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't open rendering backend `+backend.Name())
	}
	major, minor, err := conn.Initialize()
	if err != nil {
		return nil, errors.WrapPrefix(err, `couldn't initialize rendering backend`)
	}
	d := &Display{
		conn:    conn,
		backend: backend.Name(),
		alloc:   dev,
		logger:  logger,
		major:   major,
		minor:   minor,
	}
	if err := conn.BindAPI(APIOpenGLES); err != nil {
		_ = conn.Terminate()
		return nil, errors.WrapPrefix(err, `couldn't bind OpenGL ES api`)
	}
	d.vendor, _ = conn.QueryString(StringVendor)
	d.version, _ = conn.QueryString(StringVersion)
	d.extensions, _ = conn.QueryString(StringExtensions)
	logx.Info(`rendering backend initialized`, d,
		`backend`, d.backend,
		`version`, d.version,
		`vendor`, d.vendor,
		`extensions`, d.extensions)
	return d, nil
}

func (d *Display) Conn() Conn                 { return d.conn }
func (d *Display) Backend() string            { return d.backend }
func (d *Display) AllocDevice() *alloc.Device { return d.alloc }
func (d *Display) Version() (major, minor int) {
	return d.major, d.minor
}
func (d *Display) VersionString() string { return d.version }
func (d *Display) Vendor() string        { return d.vendor }
func (d *Display) Extensions() string    { return d.extensions }

func (d *Display) Logger() *slog.Logger {
	if d == nil {
		return nil
	}
	return d.logger
}

// Close terminates the connection.
func (d *Display) Close() error {
	if d == nil {
		return nil
	}
	var err error
	d.closeOnce.Do(func() {
		if e := d.conn.Terminate(); e != nil {
			err = errors.WrapPrefix(e, `couldn't terminate rendering backend`)
		}
	})
	return err
}

// FindConfig picks the first configuration that renders OpenGL ES 3 into
// windows of the scan-out format with at least one bit per color channel and
// no alpha.
func FindConfig(d *Display) (ConfigInfo, error) {
	if d == nil {
		return ConfigInfo{}, errors.NilParam()
	}
	cfgs, err := d.conn.Configs()
	if err != nil {
		return ConfigInfo{}, errors.WrapPrefix(err, `couldn't list configs`)
	}
	for _, c := range cfgs {
		if c.SurfaceType&SurfaceWindow == 0 ||
			c.RenderableType&RenderableGLES3 == 0 ||
			c.RedSize < 1 || c.GreenSize < 1 || c.BlueSize < 1 ||
			c.AlphaSize != 0 {
			continue
		}
		if c.NativeVisualID != 0 && c.NativeVisualID != alloc.FormatXRGB8888 {
			continue
		}
		return c, nil
	}
	return ConfigInfo{}, errors.New(ErrNoConfig)
}
