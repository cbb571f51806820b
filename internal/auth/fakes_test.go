// File: internal/auth/fakes_test.go
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/authgate/api/schemas"
)

// fakePage is a scripted PageDriver. Probe consumes the probes slice one
// entry per call and repeats the last entry once exhausted, which lets a
// test describe a page as a sequence of snapshots.
type fakePage struct {
	mu       sync.Mutex
	probes   []schemas.PageProbe
	probeIdx int

	cookies    []schemas.Cookie
	setCookies [][]schemas.Cookie
	navigated  []string
	fills      []string
	clicks     int
	enters     int
	closes     int

	onFill  func(candidates []string, value string) error
	onClick func(candidates []string) error
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) Probe(ctx context.Context) (schemas.PageProbe, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.probes) == 0 {
		return schemas.PageProbe{}, fmt.Errorf("no probes scripted")
	}
	probe := p.probes[p.probeIdx]
	if p.probeIdx < len(p.probes)-1 {
		p.probeIdx++
	}
	return probe, nil
}

func (p *fakePage) FillFirst(ctx context.Context, candidates []string, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fills = append(p.fills, value)
	if p.onFill != nil {
		return p.onFill(candidates, value)
	}
	return nil
}

func (p *fakePage) ClickFirst(ctx context.Context, candidates []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks++
	if p.onClick != nil {
		return p.onClick(candidates)
	}
	return nil
}

func (p *fakePage) PressEnter(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enters++
	return nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setCookies = append(p.setCookies, cookies)
	return nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// fakeFactory hands out scripted pages in order and counts requests.
type fakeFactory struct {
	mu    sync.Mutex
	pages []*fakePage
	calls int
}

func (f *fakeFactory) NewPage(ctx context.Context) (schemas.PageDriver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.pages) {
		return nil, fmt.Errorf("no page scripted for call %d", f.calls)
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

// fakeStore is an in-memory SessionStore.
type fakeStore struct {
	mu       sync.Mutex
	records  map[string]*schemas.Session
	saves    int
	saveErr  error
	loadErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*schemas.Session)}
}

func (s *fakeStore) Save(sess *schemas.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.records[sess.TargetDomain] = sess
	return nil
}

func (s *fakeStore) Load(domain string) (*schemas.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.records[domain], nil
}

// fakeValidator returns a scripted verdict and records what it saw.
type fakeValidator struct {
	mu       sync.Mutex
	ok       bool
	err      error
	calls    int
	lastSess *schemas.Session
}

func (v *fakeValidator) Validate(ctx context.Context, sess *schemas.Session, probeURL string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	v.lastSess = sess
	return v.ok, v.err
}
