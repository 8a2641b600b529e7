// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/HearthCore/services/voicecore/events"
	"github.com/AleutianAI/HearthCore/services/voicecore/pipeline"
	"github.com/AleutianAI/HearthCore/services/voicecore/session"
)

// stubEngines answers every pipeline stage with canned results.
type stubEngines struct{}

func (stubEngines) Recognize(ctx context.Context, audio []byte, userID string) (*pipeline.RecognitionResult, error) {
	return &pipeline.RecognitionResult{Text: "what time is it", Confidence: 0.95}, nil
}

func (stubEngines) ClassifyIntent(ctx context.Context, text string, turns []pipeline.ConversationTurn) (*pipeline.IntentResult, error) {
	return &pipeline.IntentResult{Intent: "time.query", Confidence: 0.9}, nil
}

func (stubEngines) RouteCommand(ctx context.Context, intent *pipeline.IntentResult, userID string) (*pipeline.CommandResult, error) {
	return &pipeline.CommandResult{Success: true, Response: "3:00 PM"}, nil
}

func (stubEngines) GenerateResponse(ctx context.Context, result *pipeline.CommandResult, rc pipeline.ResponseContext) (string, error) {
	return "It's three o'clock!", nil
}

func (stubEngines) Synthesize(ctx context.Context, text string, opts pipeline.SynthesisOptions) ([]byte, error) {
	return []byte("audio:" + text), nil
}

func (stubEngines) ValidateInput(ctx context.Context, text, userID string) (*pipeline.InputSafetyResult, error) {
	return &pipeline.InputSafetyResult{IsAllowed: true}, nil
}

func (stubEngines) ValidateOutput(ctx context.Context, text, userID string) (*pipeline.OutputSafetyResult, error) {
	return &pipeline.OutputSafetyResult{IsAllowed: true}, nil
}

type testServer struct {
	srv      *Server
	sessions *session.Manager
	bus      *events.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	bus := events.New()
	sessions, err := session.NewManager(session.DefaultConfig(), session.WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}

	var eng stubEngines
	pcfg := pipeline.DefaultConfig()
	pcfg.Retry = pipeline.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}
	orch, err := pipeline.New(pcfg, pipeline.Engines{
		Recognizer:  eng,
		Classifier:  eng,
		Router:      eng,
		Generator:   eng,
		Synthesizer: eng,
		Safety:      eng,
	}, sessions, pipeline.WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	if err := orch.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orch.Stop)

	srv, err := New(DefaultConfig(), orch, sessions, WithBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	return &testServer{srv: srv, sessions: sessions, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	pl, ok := resp["pipeline"].(map[string]any)
	if !ok || pl["is_active"] != true {
		t.Fatalf("body = %v", resp)
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"dad"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d body=%s", w.Code, w.Body.String())
	}
	created := decode[session.State](t, w)
	if created.UserID != "dad" || created.SessionID == "" {
		t.Fatalf("created = %+v", created)
	}

	w = ts.do(t, http.MethodGet, "/v1/sessions/"+created.SessionID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get = %d", w.Code)
	}

	w = ts.do(t, http.MethodDelete, "/v1/sessions/"+created.SessionID+"?reason=user_request", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete = %d body=%s", w.Code, w.Body.String())
	}

	if w = ts.do(t, http.MethodGet, "/v1/sessions/"+created.SessionID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", w.Code)
	}
}

func TestUserSessionsListing(t *testing.T) {
	ts := newTestServer(t)

	if w := ts.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"dad"}`); w.Code != http.StatusCreated {
		t.Fatalf("create = %d body=%s", w.Code, w.Body.String())
	}

	w := ts.do(t, http.MethodGet, "/v1/users/dad/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d body=%s", w.Code, w.Body.String())
	}
	var listed struct {
		Sessions []session.State `json:"sessions"`
		Count    int             `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if listed.Count != 1 || len(listed.Sessions) != 1 || listed.Sessions[0].UserID != "dad" {
		t.Fatalf("listed = %+v", listed)
	}

	w = ts.do(t, http.MethodGet, "/v1/users/stranger/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty list = %d", w.Code)
	}
}

func TestCreateSessionRequiresUserID(t *testing.T) {
	ts := newTestServer(t)
	if w := ts.do(t, http.MethodPost, "/v1/sessions", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestSessionLimitMapsTo429(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"user_id":"user-%d"}`, i)
		if w := ts.do(t, http.MethodPost, "/v1/sessions", body); w.Code != http.StatusCreated {
			t.Fatalf("create %d = %d", i, w.Code)
		}
	}
	if w := ts.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"user-6"}`); w.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit code = %d body=%s", w.Code, w.Body.String())
	}
}

func TestSessionStats(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/v1/sessions", `{"user_id":"mom"}`)

	w := ts.do(t, http.MethodGet, "/v1/sessions", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	stats := decode[session.Statistics](t, w)
	if stats.ActiveSessions != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestEventsEndpointFilters(t *testing.T) {
	ts := newTestServer(t)

	ts.bus.Publish(events.Event{
		Type:     events.TypeSafetyAudit,
		Source:   "pipeline",
		UserID:   "kid",
		Priority: events.PriorityHigh,
	})
	ts.bus.Publish(events.Event{
		Type:     events.TypeTurnCompleted,
		Source:   "pipeline",
		Priority: events.PriorityLow,
	})

	w := ts.do(t, http.MethodGet, "/v1/events?type=safety-audit", "")
	if w.Code != http.StatusOK {
		t.Fatalf("events = %d", w.Code)
	}
	resp := decode[map[string][]events.Event](t, w)
	if len(resp["events"]) != 1 || resp["events"][0].Type != events.TypeSafetyAudit {
		t.Fatalf("filtered events = %+v", resp)
	}

	if w = ts.do(t, http.MethodGet, "/v1/events?limit=bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	resp := decode[map[string]any](t, w)
	if _, ok := resp["pipeline"]; !ok {
		t.Fatalf("body = %v", resp)
	}
	if _, ok := resp["sessions"]; !ok {
		t.Fatalf("body = %v", resp)
	}
}

func TestWebsocketVoiceTurn(t *testing.T) {
	ts := newTestServer(t)

	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/audio/stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// Two audio chunks, then end of utterance.
	for _, chunk := range [][]byte{[]byte("pcm-1"), []byte("pcm-2")} {
		if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			t.Fatal(err)
		}
	}
	if err := ws.WriteJSON(wsControl{Type: "end_of_utterance", UserID: "dad"}); err != nil {
		t.Fatal(err)
	}

	var resp wsResponse
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != "response" || resp.Text != "It's three o'clock!" {
		t.Fatalf("response = %+v", resp)
	}
	if resp.SessionID == "" || resp.TurnID == "" {
		t.Fatalf("missing identifiers: %+v", resp)
	}

	msgType, audio, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read audio frame: %v", err)
	}
	if msgType != websocket.BinaryMessage || string(audio) != "audio:It's three o'clock!" {
		t.Fatalf("audio frame = %d %q", msgType, audio)
	}
}

func TestWebsocketUnknownControl(t *testing.T) {
	ts := newTestServer(t)

	httpSrv := httptest.NewServer(ts.srv.Handler())
	defer httpSrv.Close()

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/audio/stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(wsControl{Type: "rewind"}); err != nil {
		t.Fatal(err)
	}
	var resp wsResponse
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != "error" || resp.Code != "unknown_control" {
		t.Fatalf("response = %+v", resp)
	}
}
