package render

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// fakeDriver is an in-memory Driver for registry, saver and converter tests
type fakeDriver struct {
	name    string
	hasVis  bool
	online  bool
	result  string // JSON passed to done
	execErr error

	mu       sync.Mutex
	visited  []string
	pages    []string
	lastArgs []any
	closed   int32
}

func newFakeDriver(result string) *fakeDriver {
	return &fakeDriver{name: "fake", hasVis: true, online: true, result: result}
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.mu.Lock()
	d.visited = append(d.visited, url)
	d.mu.Unlock()

	if url == "about:blank" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.pages = append(d.pages, string(body))
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) HasElement(ctx context.Context, id string) (bool, error) {
	return d.hasVis && id == "vis", nil
}

func (d *fakeDriver) Online(ctx context.Context) (bool, error) {
	return d.online, nil
}

func (d *fakeDriver) ExecuteAsync(ctx context.Context, script string, args ...any) (json.RawMessage, error) {
	d.mu.Lock()
	d.lastArgs = args
	d.mu.Unlock()
	if d.execErr != nil {
		return nil, d.execErr
	}
	return json.RawMessage(d.result), nil
}

func (d *fakeDriver) Close() error {
	atomic.AddInt32(&d.closed, 1)
	return nil
}

// fakeFactory returns a factory that always hands out d and counts constructions
func fakeFactory(d *fakeDriver, built *int32) DriverFactory {
	return func(opts DriverOptions) (Driver, error) {
		atomic.AddInt32(built, 1)
		return d, nil
	}
}
