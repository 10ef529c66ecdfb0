package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzhttp"
	"github.com/sambeau/sorrel/config"
	"github.com/sambeau/sorrel/pkg/errcat"
	"github.com/sambeau/sorrel/pkg/script"
)

func largeHandler(contentType string) http.Handler {
	body := strings.Repeat("<p>Hello, World!</p>", 200)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	})
}

func gzipRequest() *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	return req
}

func TestCompressionHandler_Disabled(t *testing.T) {
	for _, cfg := range []config.CompressionConfig{
		{Enabled: false, Level: "default", MinSize: 0},
		{Enabled: true, Level: "none", MinSize: 0},
	} {
		rec := httptest.NewRecorder()
		newCompressionHandler(largeHandler("text/html"), cfg).ServeHTTP(rec, gzipRequest())
		if rec.Header().Get("Content-Encoding") == "gzip" {
			t.Errorf("%+v: expected uncompressed response", cfg)
		}
	}
}

func TestCompressionHandler_GzipResponse(t *testing.T) {
	for _, level := range []string{"fastest", "default", "best"} {
		cfg := config.CompressionConfig{Enabled: true, Level: level, MinSize: 100}
		rec := httptest.NewRecorder()
		newCompressionHandler(largeHandler("text/html"), cfg).ServeHTTP(rec, gzipRequest())

		if rec.Header().Get("Content-Encoding") != "gzip" {
			t.Fatalf("%s: expected gzip encoding", level)
		}
		gr, err := gzip.NewReader(rec.Body)
		if err != nil {
			t.Fatalf("%s: gzip.NewReader: %v", level, err)
		}
		data, _ := io.ReadAll(gr)
		if !strings.HasPrefix(string(data), "<p>Hello, World!</p>") {
			t.Errorf("%s: unexpected body %q", level, data[:20])
		}
	}
}

func TestCompressionHandler_SmallResponse(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("tiny"))
	})
	cfg := config.CompressionConfig{Enabled: true, Level: "default", MinSize: 1024}

	rec := httptest.NewRecorder()
	newCompressionHandler(handler, cfg).ServeHTTP(rec, gzipRequest())
	if rec.Header().Get("Content-Encoding") == "gzip" {
		t.Error("responses under min_size should not be compressed")
	}
	if rec.Body.String() != "tiny" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestCompressionHandler_PlainTextCompressed(t *testing.T) {
	cfg := config.CompressionConfig{Enabled: true, Level: "default", MinSize: 0}
	rec := httptest.NewRecorder()
	newCompressionHandler(largeHandler("text/plain; charset=utf-8"), cfg).ServeHTTP(rec, gzipRequest())
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Error("text/plain pages should be compressed")
	}
}

func TestCompressionHandler_FaultReportUncompressed(t *testing.T) {
	faults := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFaults(w, []script.RuntimeFault{{Code: errcat.DivisionByZero, Message: strings.Repeat("x", 2000)}})
	})
	for _, cfg := range []config.CompressionConfig{
		{Enabled: true, Level: "default", MinSize: 0},
		{Enabled: false},
	} {
		rec := httptest.NewRecorder()
		newCompressionHandler(faults, cfg).ServeHTTP(rec, gzipRequest())
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%+v: status = %d", cfg, rec.Code)
		}
		if rec.Header().Get("Content-Encoding") == "gzip" {
			t.Errorf("%+v: fault report should not be compressed", cfg)
		}
		if _, ok := rec.Header()[gzhttp.HeaderNoCompression]; ok {
			t.Errorf("%+v: %s header leaked", cfg, gzhttp.HeaderNoCompression)
		}
		if !strings.Contains(rec.Body.String(), "xxxx") {
			t.Errorf("%+v: body = %q", cfg, rec.Body.String())
		}
	}
}
