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

// Package browser defines the headless-browser capability consumed by the
// fetch engine. The engine drives whatever implementation is injected; this
// repository ships only the interfaces and a scripted fake for tests. The
// production driver is an external collaborator.
package browser

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Cookie is an opaque session token injected into a browser context at
// creation time.
type Cookie struct {
	Name     string `yaml:"name" json:"name"`
	Value    string `yaml:"value" json:"value"`
	Domain   string `yaml:"domain" json:"domain"`
	Path     string `yaml:"path" json:"path"`
	HTTPOnly bool   `yaml:"httpOnly" json:"httpOnly"`
	Secure   bool   `yaml:"secure" json:"secure"`
	SameSite string `yaml:"sameSite" json:"sameSite"`
}

// ContextOptions configure a new browser context.
type ContextOptions struct {
	ProfileDir     string
	ViewportWidth  int
	ViewportHeight int
	UserAgent      string
	Cookies        []Cookie
	// ProxyURL routes the context's traffic through the given endpoint.
	// Empty means a direct connection.
	ProxyURL string
}

// Driver launches browser contexts.
type Driver interface {
	LaunchContext(ctx context.Context, opts ContextOptions) (Context, error)
}

// Context is an authenticated browsing session. It is owned exclusively by
// one campaign's fetch loop and never shared.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	// Goto navigates and waits for domcontentloaded, bounded by timeout.
	Goto(ctx context.Context, url string, timeout time.Duration) error
	// URL returns the resolved URL after redirects.
	URL() string
	// Content returns the full rendered HTML.
	Content(ctx context.Context) (string, error)
	// InnerText returns the rendered body text.
	InnerText(ctx context.Context) (string, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	// Wheel dispatches a mouse wheel event.
	Wheel(ctx context.Context, deltaX, deltaY float64) error
}

// Element is a DOM element handle.
type Element interface {
	InnerText(ctx context.Context) (string, error)
	// GetAttribute returns "" for absent attributes.
	GetAttribute(ctx context.Context, name string) (string, error)
	QuerySelectorAll(ctx context.Context, selector string) ([]Element, error)
	ScrollIntoView(ctx context.Context) error
}

// ErrNoDriver is returned by the placeholder driver wired when no production
// driver has been linked into the binary.
var ErrNoDriver = errors.New("no browser driver configured")

// Unavailable returns a Driver whose LaunchContext always fails with
// ErrNoDriver. It keeps the composition root total while the production
// driver is provided by a separate build.
func Unavailable() Driver {
	return unavailableDriver{}
}

type unavailableDriver struct{}

func (unavailableDriver) LaunchContext(context.Context, ContextOptions) (Context, error) {
	return nil, ErrNoDriver
}
