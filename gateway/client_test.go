package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"taskboard/domain"
)

func TestClientListTasksForAssignee(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/tasks" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("assignee")
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `[{"id":"t1","title":"Fix login","status":"pending","priority":"high","dueDate":"2026-05-01","assignee":{"id":"dev 1","name":"Ada"},"project":{"id":"p","name":"Portal"}}]`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL+"/", "secret", time.Second)
	tasks, err := c.ListTasksForAssignee(context.Background(), "dev 1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotQuery != "dev 1" {
		t.Fatalf("assignee query = %q", gotQuery)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Status != domain.StatusPending {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].DueDate.String() != "2026-05-01" || tasks[0].Assignee.Name != "Ada" {
		t.Fatalf("unexpected task fields %+v", tasks[0])
	}
}

func TestClientListTasksEnvelopeAndManagerView(t *testing.T) {
	var rawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, `{"tasks":null}`)
	}))
	t.Cleanup(srv.Close)

	tasks, err := NewClient(srv.URL, "", 0).ListTasksForAssignee(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if rawQuery != "" {
		t.Fatalf("manager view should not filter, query = %q", rawQuery)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tasks)
	}
}

func TestClientSetTaskStatus(t *testing.T) {
	var body, key, method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		key = r.Header.Get("Idempotency-Key")
		method, path = r.Method, r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	if err := NewClient(srv.URL, "", time.Second).SetTaskStatus(context.Background(), "t/1", domain.StatusOnHold); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if method != http.MethodPut || path != "/api/tasks/t%2F1/status" {
		t.Fatalf("unexpected request %s %s", method, path)
	}
	if !strings.Contains(body, `"status":"on-hold"`) {
		t.Fatalf("unexpected body %s", body)
	}
	if _, err := uuid.Parse(key); err != nil {
		t.Fatalf("idempotency key %q is not a uuid: %v", key, err)
	}
}

func TestClientServiceError(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"json error", `{"error":"task locked"}`, "task locked"},
		{"json message", `{"message":"forbidden"}`, "forbidden"},
		{"plain", "boom", "boom"},
		{"empty", "", "409 Conflict"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				_, _ = io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, "", time.Second).SetTaskStatus(context.Background(), "t1", domain.StatusCompleted)
			var se *ServiceError
			if !errors.As(err, &se) {
				t.Fatalf("expected ServiceError, got %v", err)
			}
			if se.StatusCode != http.StatusConflict || se.Message != tc.want {
				t.Fatalf("unexpected error %+v", se)
			}
			if IsNetwork(err) {
				t.Fatal("service error classified as network error")
			}
		})
	}
}

func TestClientNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, "", time.Second).ListTasksForAssignee(context.Background(), "dev")
	if !IsNetwork(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if IsService(err) {
		t.Fatal("network error classified as service error")
	}
}

func TestClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":`)
	}))
	t.Cleanup(srv.Close)

	_, err := NewClient(srv.URL, "", time.Second).ListTasksForAssignee(context.Background(), "dev")
	if !IsService(err) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
}
