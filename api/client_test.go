package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"chatsync/models"
)

func TestFetchConversationPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/conversation" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("user1") != "me" || q.Get("user2") != "peer-1" || q.Get("limit") != "50" || q.Get("skip") != "100" {
			t.Errorf("unexpected query %v", q)
		}

		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m1", From: "peer-1", To: "me", Type: models.MessageTypeText, Text: "old"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "token-123")
	messages, err := client.FetchConversationPage(context.Background(), "me", "peer-1", 50, 100)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(messages) != 1 || messages[0].ID != "m1" {
		t.Fatalf("unexpected page: %+v", messages)
	}
}

func TestFetchConversationPageRequiresParticipants(t *testing.T) {
	client := NewClient("http://unused", "")
	if _, err := client.FetchConversationPage(context.Background(), "", "peer-1", 50, 0); err == nil {
		t.Fatalf("expected participant validation error")
	}
	if _, err := client.SearchConversation(context.Background(), "me", "", "q", 100); err == nil {
		t.Fatalf("expected participant validation error")
	}
}

func TestSearchConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "needle in haystack" || q.Get("limit") != "100" {
			t.Errorf("unexpected query %v", q)
		}

		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "m1", Type: models.MessageTypeText, Text: "needle in haystack"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	results, err := client.SearchConversation(context.Background(), "me", "peer-1", "needle in haystack", 100)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestErrorStatusIncludesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"conversation not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.FetchConversationPage(context.Background(), "me", "peer-1", 50, 0)
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	if !strings.Contains(err.Error(), "status 404") || !strings.Contains(err.Error(), "conversation not found") {
		t.Fatalf("error lost status or body: %v", err)
	}
}

func TestUploadAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/upload" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.FormValue("from") != "me" || r.FormValue("to") != "peer-1" {
			t.Errorf("unexpected participants: from=%q to=%q", r.FormValue("from"), r.FormValue("to"))
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)

		_ = json.NewEncoder(w).Encode(Attachment{
			FileURL:  "/files/" + header.Filename,
			FileName: header.Filename,
			FileSize: int64(len(content)),
			FileType: "text/plain",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	attachment, err := client.UploadAttachment(context.Background(), "me", "peer-1", "notes.txt", bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if attachment.FileURL != "/files/notes.txt" || attachment.FileSize != 5 || attachment.FileType != "text/plain" {
		t.Fatalf("unexpected attachment: %+v", attachment)
	}
}

func TestUploadAttachmentValidation(t *testing.T) {
	client := NewClient("http://unused", "")
	if _, err := client.UploadAttachment(context.Background(), "", "peer-1", "a.txt", bytes.NewReader(nil)); err == nil {
		t.Fatalf("expected sender validation error")
	}
	if _, err := client.UploadAttachment(context.Background(), "me", "peer-1", "", bytes.NewReader(nil)); err == nil {
		t.Fatalf("expected filename validation error")
	}
}
