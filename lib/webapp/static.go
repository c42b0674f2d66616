// Copyright 2026 The Remedy Authors
// SPDX-License-Identifier: Apache-2.0

package webapp

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// staticFallbackPorts are tried in order for the static file server.
var staticFallbackPorts = []int{8090, 8091, 8092, 8093, 8094, 8095, 8096, 8097, 8098, 8099}

// StaticServer serves one directory of prebuilt files. It exists for
// repositories with no runnable dev server but a committed build
// output.
type StaticServer struct {
	// URL is the reachable root address.
	URL string

	server   *http.Server
	listener net.Listener
}

// StartStatic serves dir on the first free fallback port. The handler
// refuses any path that resolves outside dir.
func StartStatic(dir string) (*StaticServer, error) {
	absolute, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("static server: %w", err)
	}

	var listener net.Listener
	var port int
	for _, candidate := range staticFallbackPorts {
		listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", candidate))
		if err == nil {
			port = candidate
			break
		}
	}
	if listener == nil {
		return nil, errors.New("static server: no fallback port available")
	}

	server := &http.Server{
		Handler:           staticHandler(absolute),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = server.Serve(listener) }()

	return &StaticServer{
		URL:      fmt.Sprintf("http://127.0.0.1:%d/", port),
		server:   server,
		listener: listener,
	}, nil
}

// Close stops the server. Idempotent.
func (s *StaticServer) Close() {
	if s.server != nil {
		_ = s.server.Close()
		s.server = nil
	}
}

// staticHandler serves files under root, guarding against path
// traversal: the cleaned, resolved target must remain inside root.
func staticHandler(root string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relative := strings.TrimPrefix(r.URL.Path, "/")
		if relative == "" {
			relative = "index.html"
		}

		target := filepath.Join(root, filepath.FromSlash(relative))
		cleaned, err := filepath.Abs(target)
		if err != nil || cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		info, err := os.Stat(cleaned)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if info.IsDir() {
			cleaned = filepath.Join(cleaned, "index.html")
			if _, err := os.Stat(cleaned); err != nil {
				http.NotFound(w, r)
				return
			}
		}

		http.ServeFile(w, r, cleaned)
	})
}
