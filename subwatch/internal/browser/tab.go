package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds the initial navigation of a tab.
const NavigateTimeout = 30 * time.Second

// Tab is a Rod page opened for one watched URL.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Stealth StealthLevel

	stopBlocking func() error
}

// TabSetup runs on the blank tab before navigation, so anything it
// installs is in place for the first document.
type TabSetup func(p *rod.Page) error

// OpenTab opens a blank tab with stealth and resource blocking, runs setup,
// then navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, level StealthLevel, setup TabSetup) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, PageURL: pageURL, PageID: pageID, Stealth: level}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.stopBlocking = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if setup != nil {
		if err := setup(page); err != nil {
			t.Close()
			return nil, fmt.Errorf("browser: tab setup: %w", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}
	return t, nil
}

// Close stops interception and closes the tab.
func (t *Tab) Close() error {
	if t.stopBlocking != nil {
		_ = t.stopBlocking()
		t.stopBlocking = nil
	}
	if t.Page == nil {
		return nil
	}
	err := t.Page.Close()
	t.Page = nil
	return err
}
