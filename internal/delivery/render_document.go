package delivery

import (
	"net/url"
	"strings"

	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/messaging"
	"github.com/coachpo/adslot/internal/surface"
)

const (
	defaultDocumentWidth  = 300
	defaultDocumentHeight = 250
)

func (o *Orchestrator) renderDocument(st *slotState) {
	ad := st.ad
	content := strings.TrimSpace(ad.ContentRef)
	if content == "" {
		o.degrade(st, errs.New("delivery/document", errs.CodeAborted, errs.WithSlot(st.id),
			errs.WithMessage("document content source missing")))
		return
	}

	size := surface.Size{Width: ad.Dimensions.Width, Height: ad.Dimensions.Height}
	if size.Width <= 0 {
		size.Width = defaultDocumentWidth
	}
	if size.Height <= 0 {
		size.Height = defaultDocumentHeight
	}
	spec := surface.DocumentSpec{
		Size:    size,
		Sandbox: surface.DocumentSandbox,
		OnMessage: func(_ string, data []byte) {
			if messaging.DecodeSignal(data) != messaging.SignalRendered {
				return
			}
			o.guard(st, o.documentRendered)()
		},
	}
	if isAbsoluteURL(content) {
		spec.URL = content
	} else {
		spec.Inline = content
	}

	o.after(st, timerRender, o.cfg.RenderTimeout, o.documentTimedOut)
	st.document = st.container.ShowDocument(spec)

	if ad.ClickThrough != "" {
		st.container.AddControl(surface.ControlClickArea, "", o.guard(st, func(cur *slotState) {
			o.clickThrough(cur, ad.ClickThrough, adClickURLs(ad))
		}))
	}
}

func (o *Orchestrator) documentRendered(st *slotState) {
	if st.rendered || st.phase == PhaseFailed {
		return
	}
	o.markRendered(st)
	o.startSkip(st)
	o.impression(st, st.ad.TrackingURLs("impression"))
	o.settle(st, StatusSuccess, nil)
}

func (o *Orchestrator) documentTimedOut(st *slotState) {
	if st.rendered || st.phase == PhaseFailed {
		return
	}
	o.degrade(st, errs.New("delivery/document", errs.CodeRenderTimeout, errs.WithSlot(st.id),
		errs.WithMessage("document render timeout")))
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
