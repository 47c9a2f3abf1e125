package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EasyDarwin/StreamStudio/models"
)

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/health" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"healthy","active_streams":1,"websocket_connections":0}`))
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !h.Healthy() || h.ActiveStreams != 1 {
		t.Fatalf("health = %+v", h)
	}
}

func TestValidateCredentialsSendsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/validate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var creds models.Credentials
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			t.Fatal(err)
		}
		if creds.ClientID != "id" || creds.ClientSecret != "secret" {
			t.Errorf("creds = %+v", creds)
		}
		w.Write([]byte(`{"valid":false,"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).ValidateCredentials(context.Background(), models.Credentials{ClientID: "id", ClientSecret: "secret"})
	if err != nil {
		t.Fatalf("ValidateCredentials: %v", err)
	}
	if res.Valid || res.Error != "Invalid credentials" {
		t.Fatalf("res = %+v", res)
	}
}

func TestStartStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.StartStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.StreamConfig != models.DefaultStreamConfig() {
			t.Errorf("stream config = %+v", req.StreamConfig)
		}
		w.Write([]byte(`{"success":true,"message":"Stream started successfully","streamUrl":"https://twitch.tv"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).StartStream(context.Background(), models.StartStreamRequest{
		Credentials:  models.Credentials{ClientID: "id", ClientSecret: "secret"},
		StreamConfig: models.DefaultStreamConfig(),
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if !res.Success || res.StreamURL != "https://twitch.tv" {
		t.Fatalf("res = %+v", res)
	}
}

func TestStartStreamDetailError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"Invalid Twitch credentials"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartStream(context.Background(), models.StartStreamRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Error() != "Invalid Twitch credentials" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestValidationDetailList(t *testing.T) {
	got := decodeDetail([]byte(`{"detail":[{"loc":["body","clientId"],"msg":"field required"},{"msg":"value is not a valid integer"}]}`))
	if got != "field required; value is not a valid integer" {
		t.Fatalf("decodeDetail = %q", got)
	}
}

func TestStopStreamReturnsBodyWithError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/stream/stop" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"boom"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).StopStream(context.Background())
	if res == nil {
		t.Fatal("StopStream returned nil response")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("err = %v", err)
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewClient(url).Health(context.Background()); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestStatusURL(t *testing.T) {
	u, err := NewClient("http://127.0.0.1:8001/").StatusURL()
	if err != nil {
		t.Fatal(err)
	}
	if u != "ws://127.0.0.1:8001/api/ws/stream" {
		t.Fatalf("StatusURL = %q", u)
	}
}

func TestWatchStatus(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]interface{}{"type": "hello"})
		conn.WriteJSON(models.StatusUpdate{Type: "status_update", Data: models.BackendStatus{ActiveStreams: 2, TotalSessions: 2}})
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []models.BackendStatus
	)
	done := make(chan error, 1)
	go func() {
		done <- NewClient(srv.URL).WatchStatus(ctx, func(s models.BackendStatus) {
			mu.Lock()
			got = append(got, s)
			mu.Unlock()
			cancel()
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("WatchStatus returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WatchStatus did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ActiveStreams != 2 {
		t.Fatalf("updates = %+v", got)
	}
}

func TestAPIErrorWithoutDetail(t *testing.T) {
	err := &APIError{StatusCode: 502}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("Error() = %q", err.Error())
	}
}
