package display

import (
	"log/slog"

	"github.com/google/btree"

	"github.com/srlehn/kmsdisplay/internal/logx"
	"github.com/srlehn/kmsdisplay/kms"
)

// crtcPool is the ordered set of CRTCs not assigned to an Output.
type crtcPool struct {
	free *btree.BTreeG[uint32]
}

func newCRTCPool(crtcs []uint32) *crtcPool {
	p := &crtcPool{free: btree.NewOrderedG[uint32](4)}
	for _, c := range crtcs {
		p.free.ReplaceOrInsert(c)
	}
	return p
}

func (p *crtcPool) isFree(crtcID uint32) bool { return p.free.Has(crtcID) }
func (p *crtcPool) take(crtcID uint32)        { p.free.Delete(crtcID) }
func (p *crtcPool) put(crtcID uint32)         { p.free.ReplaceOrInsert(crtcID) }
func (p *crtcPool) len() int                  { return p.free.Len() }

func (p *crtcPool) list() []uint32 {
	l := make([]uint32, 0, p.free.Len())
	p.free.Ascend(func(c uint32) bool {
		l = append(l, c)
		return true
	})
	return l
}

// FindCRTC returns the first CRTC, in snapshot order, that one of the
// connector's encoders can drive and that isFree accepts. Encoders that
// cannot be resolved are skipped.
func FindCRTC(dev kms.Device, res *kms.Resources, conn *kms.Connector, isFree func(crtcID uint32) bool, logProv logx.LoggerProvider) (uint32, bool) {
	if dev == nil || res == nil || conn == nil || isFree == nil {
		return 0, false
	}
	crtcs := res.CRTCs()
	for _, encID := range conn.Encoders() {
		enc, err := kms.GetEncoder(dev, encID)
		if logx.IsErr(err, logProv, slog.LevelWarn, `connector`, conn.ID(), `encoder`, encID) {
			continue
		}
		for i, crtcID := range crtcs {
			if enc.HasCRTC(i) && isFree(crtcID) {
				return crtcID, true
			}
		}
	}
	return 0, false
}
