package delivery

import (
	"github.com/coachpo/adslot/errs"
	"github.com/coachpo/adslot/internal/surface"
)

func (o *Orchestrator) renderImage(st *slotState) {
	ad := st.ad
	var img surface.Image
	img = st.container.ShowImage(ad.ContentRef, surface.ImageHandlers{
		OnLoad: func(natural surface.Size) {
			o.guard(st, func(cur *slotState) { o.imageLoaded(cur, img, natural) })()
		},
		OnError: func(err error) {
			o.guard(st, func(cur *slotState) {
				if cur.rendered {
					return
				}
				o.degrade(cur, errs.New("delivery/image", errs.CodeAborted, errs.WithSlot(cur.id),
					errs.WithMessage("image load error: "+ad.ContentRef), errs.WithCause(err)))
			})()
		},
		OnClick: o.guard(st, func(cur *slotState) {
			o.clickThrough(cur, ad.ClickThrough, adClickURLs(ad))
		}),
	})
}

func (o *Orchestrator) imageLoaded(st *slotState, img surface.Image, natural surface.Size) {
	if st.rendered {
		return
	}
	content := surface.Size{Width: st.ad.Dimensions.Width, Height: st.ad.Dimensions.Height}
	if content.Empty() {
		content = natural
	}
	fit := func(cur *slotState) {
		if cur.container == nil {
			return
		}
		placed := surface.Fit(content, cur.container.Size())
		img.Place(placed)
		if cur.closeButton != nil {
			cur.closeButton.Place(surface.CornerControl(placed,
				surface.Size{Width: closeButtonSize, Height: closeButtonSize}, -closeButtonSize/2))
		}
	}
	fit(st)
	st.listeners = append(st.listeners, st.element.OnResize(o.guard(st, fit)))

	o.markRendered(st)
	o.startSkip(st)
	o.impression(st, st.ad.TrackingURLs("impression"))
	o.settle(st, StatusSuccess, nil)
}
