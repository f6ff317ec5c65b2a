package render

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type pageResource struct {
	contentType string
	body        []byte
}

// pageServer serves rendering pages to the local browser
type pageServer struct {
	mu      sync.Mutex
	pages   map[string]map[string]pageResource
	baseURL string
	srv     *http.Server

	startOnce sync.Once
	startErr  error
}

func newPageServer() *pageServer {
	return &pageServer{pages: make(map[string]map[string]pageResource)}
}

func (s *pageServer) start() error {
	s.startOnce.Do(func() {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			s.startErr = fmt.Errorf("failed to start page server: %w", err)
			return
		}

		r := chi.NewRouter()
		r.Get("/{page}/{name}", s.handle)

		s.baseURL = "http://" + ln.Addr().String()
		s.srv = &http.Server{Handler: r}
		go func() {
			if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.Printf("[RENDER] ERROR: Page server stopped: %v", err)
			}
		}()
		log.Printf("[RENDER] DEBUG: Page server listening on %s", s.baseURL)
	})
	return s.startErr
}

func (s *pageServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	res, ok := s.pages[chi.URLParam(r, "page")][chi.URLParam(r, "name")]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", res.contentType)
	w.Write(res.body)
}

// serve publishes html and its scripts under a fresh path and returns the page URL.
// release removes the page.
func (s *pageServer) serve(html string, scripts map[string][]byte) (string, func(), error) {
	if err := s.start(); err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	files := map[string]pageResource{
		"index.html": {contentType: "text/html; charset=utf-8", body: []byte(html)},
	}
	for name, body := range scripts {
		files[name] = pageResource{contentType: "application/javascript", body: body}
	}

	s.mu.Lock()
	s.pages[id] = files
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.pages, id)
		s.mu.Unlock()
	}
	return s.baseURL + "/" + id + "/index.html", release, nil
}

func (s *pageServer) close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}
