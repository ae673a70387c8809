package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUploadMultipartShape(t *testing.T) {
	payload := []byte(`{"transactions":[],"assets":[],"categories":[]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.URL.Query().Get("uploadType"); got != "multipart" {
			t.Errorf("uploadType = %q, want multipart", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}

		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Fatalf("parse content type: %v", err)
		}
		if mediaType != "multipart/related" {
			t.Errorf("media type = %q, want multipart/related", mediaType)
		}

		mr := multipart.NewReader(r.Body, params["boundary"])

		meta, err := mr.NextPart()
		if err != nil {
			t.Fatalf("read metadata part: %v", err)
		}
		if ct := meta.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
			t.Errorf("metadata content type = %q", ct)
		}
		metaBody, _ := io.ReadAll(meta)
		if !strings.Contains(string(metaBody), `"name":"ledger.json"`) {
			t.Errorf("metadata missing file name: %s", metaBody)
		}
		if !strings.Contains(string(metaBody), `"mimeType":"application/json"`) {
			t.Errorf("metadata missing mime type: %s", metaBody)
		}

		content, err := mr.NextPart()
		if err != nil {
			t.Fatalf("read content part: %v", err)
		}
		if ct := content.Header.Get("Content-Type"); ct != "application/octet-stream" {
			t.Errorf("content part type = %q", ct)
		}
		contentBody, _ := io.ReadAll(content)
		if !bytes.Equal(contentBody, payload) {
			t.Errorf("content part = %s, want %s", contentBody, payload)
		}

		if _, err := mr.NextPart(); err != io.EOF {
			t.Errorf("want exactly two parts, got a third (err %v)", err)
		}

		w.Write([]byte(`{"id":"file-42"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.URL, "ledger.json", WithHTTPClient(srv.Client()))
	id, err := client.Upload(context.Background(), "tok-123", payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if id != "file-42" {
		t.Fatalf("file id = %q, want file-42", id)
	}
}

func TestDownloadByteRoundTrip(t *testing.T) {
	payload := []byte(`{"transactions":[{"uid":"t1"}],"assets":[],"categories":[]}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/file-42" {
			t.Errorf("path = %q, want /file-42", r.URL.Path)
		}
		if got := r.URL.Query().Get("alt"); got != "media" {
			t.Errorf("alt = %q, want media", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("authorization = %q", got)
		}
		w.Write(payload)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.URL, "ledger.json", WithHTTPClient(srv.Client()))
	got, err := client.Download(context.Background(), "tok-123", "file-42")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("downloaded bytes differ:\n got %s\nwant %s", got, payload)
	}
}

func TestUploadThenDownloadPreservesBytes(t *testing.T) {
	var stored []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if err != nil {
				t.Fatalf("parse content type: %v", err)
			}
			mr := multipart.NewReader(r.Body, params["boundary"])
			if _, err := mr.NextPart(); err != nil {
				t.Fatalf("metadata part: %v", err)
			}
			content, err := mr.NextPart()
			if err != nil {
				t.Fatalf("content part: %v", err)
			}
			stored, _ = io.ReadAll(content)
			w.Write([]byte(`{"id":"file-1"}`))
		case http.MethodGet:
			w.Write(stored)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.URL, "ledger.json", WithHTTPClient(srv.Client()))
	payload := []byte(`{"transactions":[],"assets":[{"uid":"a1","name":"X"}],"categories":[]}`)

	id, err := client.Upload(context.Background(), "tok", payload)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := client.Download(context.Background(), "tok", id)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("bytes not preserved across upload/download")
	}
}

func TestTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.URL, "ledger.json", WithHTTPClient(srv.Client()))

	_, err := client.Upload(context.Background(), "expired", []byte(`{}`))
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if terr.StatusCode != http.StatusUnauthorized || terr.Op != "upload" {
		t.Fatalf("unexpected error fields: %+v", terr)
	}
	if !strings.Contains(terr.Body, "invalid_grant") {
		t.Fatalf("error body not captured: %q", terr.Body)
	}

	_, err = client.Download(context.Background(), "expired", "file-1")
	if !errors.As(err, &terr) {
		t.Fatalf("want TransportError, got %v", err)
	}
	if terr.Op != "download" {
		t.Fatalf("op = %q, want download", terr.Op)
	}
}
