package observer

import "github.com/hazyhaar/subtrack/subwatch/mutation"

// handleNavigation compares every batch's address with the last one seen.
// Route changes in a single-page app arrive as ordinary DOM mutations; each
// distinct change schedules exactly one rescan after the settle delay,
// regardless of how many batches follow on the new address.
func (o *Observer) handleNavigation(b mutation.Batch) {
	if o.stopped || o.cancelNavigation == nil {
		return
	}
	if b.URL == "" || b.URL == o.lastURL {
		return
	}

	o.logger.Info("observer: SPA navigation detected", "from", o.lastURL, "to", b.URL)
	o.lastURL = b.URL

	o.settleSeq++
	id := o.settleSeq
	o.settles[id] = o.cfg.Scheduler.AfterFunc(o.cfg.SettleDelay, func() {
		if _, ok := o.settles[id]; !ok {
			return
		}
		delete(o.settles, id)
		if o.stopped {
			return
		}
		o.cfg.OnNavigate()
	})
}
