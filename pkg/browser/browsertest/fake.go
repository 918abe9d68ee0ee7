// Copyright 2025 HireSignal LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package browsertest provides a scripted in-memory browser driver for tests.
// Pages are registered by URL; list pages release their cards in batches, one
// batch per scroll, mimicking lazy loading.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/hiresignal/leadgen-engine/pkg/browser"
)

// PageScript describes what the fake browser serves for one URL.
type PageScript struct {
	// ResolvedURL is the post-redirect URL; empty means the requested URL.
	ResolvedURL string
	// BodyText is what Page.InnerText returns.
	BodyText string
	// HTML is what Page.Content returns.
	HTML string
	// Batches are card elements released incrementally: batch 0 is visible
	// after load, each wheel event reveals one further batch.
	Batches [][]*Element
}

// Driver is a scripted browser.Driver. Safe for concurrent use.
type Driver struct {
	mtx      sync.Mutex
	pages    map[string]*PageScript
	launched []browser.ContextOptions

	// LaunchErr, when set, fails every LaunchContext call.
	LaunchErr error
}

// NewDriver returns an empty scripted driver.
func NewDriver() *Driver {
	return &Driver{pages: map[string]*PageScript{}}
}

// AddPage registers the script served for url.
func (d *Driver) AddPage(url string, ps *PageScript) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.pages[url] = ps
}

// Launched returns the context options of every launch, in order.
func (d *Driver) Launched() []browser.ContextOptions {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return append([]browser.ContextOptions(nil), d.launched...)
}

// LaunchContext implements browser.Driver.
func (d *Driver) LaunchContext(_ context.Context, opts browser.ContextOptions) (browser.Context, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	d.launched = append(d.launched, opts)
	return &fakeContext{driver: d}, nil
}

type fakeContext struct {
	driver *Driver
	closed bool
}

func (c *fakeContext) NewPage(context.Context) (browser.Page, error) {
	if c.closed {
		return nil, errors.New("context closed")
	}
	return &fakePage{driver: c.driver}, nil
}

func (c *fakeContext) Close() error {
	c.closed = true
	return nil
}

type fakePage struct {
	driver *Driver

	mtx      sync.Mutex
	script   *PageScript
	url      string
	revealed int
}

func (p *fakePage) Goto(_ context.Context, url string, _ time.Duration) error {
	p.driver.mtx.Lock()
	ps, ok := p.driver.pages[url]
	p.driver.mtx.Unlock()
	if !ok {
		return errors.Errorf("navigation to %q failed: no such page scripted", url)
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.script = ps
	p.url = url
	if ps.ResolvedURL != "" {
		p.url = ps.ResolvedURL
	}
	p.revealed = 1
	return nil
}

func (p *fakePage) URL() string {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.url
}

func (p *fakePage) Content(context.Context) (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.script == nil {
		return "", errors.New("no page loaded")
	}
	return p.script.HTML, nil
}

func (p *fakePage) InnerText(context.Context) (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.script == nil {
		return "", errors.New("no page loaded")
	}
	return p.script.BodyText, nil
}

// QuerySelectorAll returns all cards revealed so far regardless of selector;
// the selector contract is exercised at the element level.
func (p *fakePage) QuerySelectorAll(context.Context, string) ([]browser.Element, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.script == nil {
		return nil, errors.New("no page loaded")
	}
	var out []browser.Element
	for i := 0; i < p.revealed && i < len(p.script.Batches); i++ {
		for _, el := range p.script.Batches[i] {
			out = append(out, el)
		}
	}
	return out, nil
}

// Wheel reveals the next card batch, emulating lazy loading on scroll.
func (p *fakePage) Wheel(context.Context, float64, float64) error {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.script == nil {
		return errors.New("no page loaded")
	}
	if p.revealed < len(p.script.Batches) {
		p.revealed++
	}
	return nil
}

// Element is a scripted DOM element. Descendants are looked up by exact
// selector string.
type Element struct {
	Text       string
	Attrs      map[string]string
	BySelector map[string][]*Element
	ScrollErr  error

	mtx      sync.Mutex
	scrolled int
}

func (e *Element) InnerText(context.Context) (string, error) {
	return e.Text, nil
}

func (e *Element) GetAttribute(_ context.Context, name string) (string, error) {
	return e.Attrs[name], nil
}

func (e *Element) QuerySelectorAll(_ context.Context, selector string) ([]browser.Element, error) {
	kids := e.BySelector[selector]
	out := make([]browser.Element, 0, len(kids))
	for _, k := range kids {
		out = append(out, k)
	}
	return out, nil
}

func (e *Element) ScrollIntoView(context.Context) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	e.scrolled++
	return e.ScrollErr
}

// Scrolled reports how often the element was scrolled into view.
func (e *Element) Scrolled() int {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.scrolled
}
