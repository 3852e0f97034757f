// Copyright 2024-2026 Chad Ouming
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/database"
	"maunium.net/go/mautrix/bridgev2/networkid"

	"github.com/chadouming/mautrix-groupme/pkg/groupme"
)

// mockEventSender captures queued remote events for test assertions.
type mockEventSender struct {
	mu     sync.Mutex
	events []bridgev2.RemoteEvent
}

func (m *mockEventSender) QueueRemoteEvent(_ *bridgev2.UserLogin, evt bridgev2.RemoteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEventSender) Events() []bridgev2.RemoteEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]bridgev2.RemoteEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockEventSender) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

// pushCall records one Publish invocation on the fake transport.
type pushCall struct {
	Channel string
	Data    any
}

// fakePush is an in-memory pushTransport. It records subscriptions and
// publishes, and lets tests deliver frames into registered handlers.
type fakePush struct {
	mu             sync.Mutex
	connectCalls   int
	connectErr     error
	subscribeErrs  map[string]error
	subscribeCalls []string
	handlers       map[string]groupme.PushHandler
	publishes      []pushCall
	disconnects    int
}

func newFakePush() *fakePush {
	return &fakePush{
		subscribeErrs: make(map[string]error),
		handlers:      make(map[string]groupme.PushHandler),
	}
}

func (f *fakePush) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}

func (f *fakePush) Subscribe(_ context.Context, channel string, handler groupme.PushHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls = append(f.subscribeCalls, channel)
	if err := f.subscribeErrs[channel]; err != nil {
		return err
	}
	f.handlers[channel] = handler
	return nil
}

func (f *fakePush) Publish(_ context.Context, channel string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishes = append(f.publishes, pushCall{Channel: channel, Data: data})
	return nil
}

func (f *fakePush) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

// Deliver invokes the handler registered for a channel with a raw frame.
func (f *fakePush) Deliver(channel string, data []byte) bool {
	f.mu.Lock()
	handler, ok := f.handlers[channel]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(json.RawMessage(data))
	return true
}

func (f *fakePush) SubscribeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.subscribeCalls))
	copy(cp, f.subscribeCalls)
	return cp
}

func (f *fakePush) Publishes() []pushCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]pushCall, len(f.publishes))
	copy(cp, f.publishes)
	return cp
}

func (f *fakePush) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeGroupMe wraps an httptest.Server simulating all five GroupMe service
// hosts behind a single listener. It records calls and serves canned data.
type fakeGroupMe struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	Me             *groupme.User
	Groups         []*groupme.Group
	Chats          []*groupme.Chat
	GroupMessages  map[string][]*groupme.Message
	DirectMessages map[string][]*groupme.Message
	FileInfos      map[string]*groupme.FileInfo
	// FileStatuses and VideoStatuses are consumed one per poll.
	FileStatuses  []string
	VideoStatuses []*groupme.VideoJobResult
	FailEndpoints map[string]bool

	// OnPostMessage runs synchronously while a message post is being
	// handled, before the response is written.
	OnPostMessage func(msg *groupme.OutgoingMessage)

	nextMessageID int
}

func newFakeGroupMe() *fakeGroupMe {
	f := &fakeGroupMe{
		Me:             &groupme.User{UserID: "1000", ID: "1000", Name: "Test User"},
		GroupMessages:  make(map[string][]*groupme.Message),
		DirectMessages: make(map[string][]*groupme.Message),
		FileInfos:      make(map[string]*groupme.FileInfo),
		FailEndpoints:  make(map[string]bool),
		nextMessageID:  5000,
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeGroupMe) Close() {
	f.Server.Close()
}

func (f *fakeGroupMe) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeGroupMe) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeGroupMe) CalledPath(path string) bool {
	for _, call := range f.Calls() {
		if call.Path == path {
			return true
		}
	}
	return false
}

func writeEnvelope(w http.ResponseWriter, v any) {
	resp := map[string]any{
		"response": v,
		"meta":     map[string]any{"code": 200},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGroupMe) handler(w http.ResponseWriter, r *http.Request) {
	bodyBytes, _ := io.ReadAll(r.Body)
	body := string(bodyBytes)
	path := r.URL.Path
	f.record(r.Method, path, body)

	f.mu.Lock()
	fail := f.FailEndpoints[path]
	f.mu.Unlock()
	if fail {
		http.Error(w, "simulated failure", http.StatusInternalServerError)
		return
	}

	switch {
	case path == "/users/me":
		writeEnvelope(w, f.Me)
	case path == "/groups" && r.Method == http.MethodGet:
		writeEnvelope(w, f.Groups)
	case path == "/chats":
		writeEnvelope(w, f.Chats)
	case path == "/direct_messages" && r.Method == http.MethodGet:
		otherUserID := r.URL.Query().Get("other_user_id")
		writeEnvelope(w, map[string]any{
			"count":           len(f.DirectMessages[otherUserID]),
			"direct_messages": f.DirectMessages[otherUserID],
		})
	case path == "/direct_messages" && r.Method == http.MethodPost:
		var req struct {
			DirectMessage *groupme.OutgoingMessage `json:"direct_message"`
		}
		_ = json.Unmarshal(bodyBytes, &req)
		sent := f.acceptMessage(req.DirectMessage)
		writeEnvelope(w, map[string]any{"direct_message": sent})
	case strings.HasPrefix(path, "/groups/") && strings.HasSuffix(path, "/messages"):
		groupID := strings.TrimSuffix(strings.TrimPrefix(path, "/groups/"), "/messages")
		if r.Method == http.MethodPost {
			var req struct {
				Message *groupme.OutgoingMessage `json:"message"`
			}
			_ = json.Unmarshal(bodyBytes, &req)
			sent := f.acceptMessage(req.Message)
			sent.GroupID = groupID
			writeEnvelope(w, map[string]any{"message": sent})
			return
		}
		writeEnvelope(w, map[string]any{
			"count":    len(f.GroupMessages[groupID]),
			"messages": f.GroupMessages[groupID],
		})
	case strings.HasPrefix(path, "/groups/"):
		groupID := strings.TrimPrefix(path, "/groups/")
		for _, group := range f.Groups {
			if group.ID == groupID {
				writeEnvelope(w, group)
				return
			}
		}
		http.Error(w, "not found", http.StatusNotFound)
	case strings.HasPrefix(path, "/messages/"):
		// like and unlike
		writeEnvelope(w, nil)
	case path == "/read_receipts":
		writeJSON(w, map[string]any{"ok": true})
	case path == "/pictures":
		writeJSON(w, map[string]any{
			"payload": map[string]string{"url": "https://i.groupme.com/test.jpeg"},
		})
	case path == "/transcode":
		writeJSON(w, map[string]string{"status_url": f.Server.URL + "/status?job=video-job-1"})
	case path == "/status":
		f.mu.Lock()
		var status *groupme.VideoJobResult
		if len(f.VideoStatuses) > 0 {
			status = f.VideoStatuses[0]
			f.VideoStatuses = f.VideoStatuses[1:]
		} else {
			status = &groupme.VideoJobResult{Status: "complete", URL: "https://v.groupme.com/test.mp4"}
		}
		f.mu.Unlock()
		writeJSON(w, status)
	case strings.HasSuffix(path, "/files") && r.Method == http.MethodPost:
		writeJSON(w, map[string]string{"status_url": f.Server.URL + "/x/uploadStatus?job=file-job-1"})
	case strings.HasSuffix(path, "/uploadStatus"):
		f.mu.Lock()
		status := "completed"
		if len(f.FileStatuses) > 0 {
			status = f.FileStatuses[0]
			f.FileStatuses = f.FileStatuses[1:]
		}
		f.mu.Unlock()
		writeJSON(w, map[string]string{"status": status, "file_id": "file-job-1"})
	case strings.HasSuffix(path, "/fileData"):
		var req struct {
			FileIDs []string `json:"file_ids"`
		}
		_ = json.Unmarshal(bodyBytes, &req)
		var infos []*groupme.FileInfo
		for _, id := range req.FileIDs {
			if info, ok := f.FileInfos[id]; ok {
				infos = append(infos, info)
			}
		}
		writeJSON(w, infos)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// acceptMessage assigns an id to a posted message and records it.
func (f *fakeGroupMe) acceptMessage(out *groupme.OutgoingMessage) *groupme.Message {
	f.mu.Lock()
	f.nextMessageID++
	id := strconv.Itoa(f.nextMessageID)
	f.mu.Unlock()

	if f.OnPostMessage != nil {
		f.OnPostMessage(out)
	}
	if out == nil {
		out = &groupme.OutgoingMessage{}
	}
	return &groupme.Message{
		ID:          id,
		SourceGUID:  out.SourceGUID,
		Text:        out.Text,
		UserID:      "1000",
		RecipientID: out.RecipientID,
		Attachments: out.Attachments,
		CreatedAt:   time.Now().Unix(),
	}
}

// newTestClient builds a GroupMeClient wired to a fake REST server, a fake
// push transport and a mock event sender.
func newTestClient(fake *fakeGroupMe) *GroupMeClient {
	log := zerolog.Nop()
	conn := &GroupMeConnector{Config: Config{}}

	rest := groupme.NewClient("test-token")
	rest.APIBase = fake.Server.URL
	rest.OldAPIBase = fake.Server.URL
	rest.FileBase = fake.Server.URL
	rest.ImageBase = fake.Server.URL
	rest.VideoBase = fake.Server.URL

	gm := &GroupMeClient{
		connector:   conn,
		eventSender: &mockEventSender{},
		rest:        rest,
		push:        newFakePush(),
		userID:      "1000",
		dedup:       newMessageDeduplicator(defaultDedupWindow),
		subscribed:  make(map[string]struct{}),
		stopChan:    make(chan struct{}),
		log:         log,
	}
	gm.typing = newTypingHeartbeats(10*time.Millisecond, gm.publishTyping)
	return gm
}

// testMock returns the mockEventSender from a test client.
func testMock(gm *GroupMeClient) *mockEventSender {
	return gm.eventSender.(*mockEventSender)
}

// testPush returns the fakePush from a test client.
func testPush(gm *GroupMeClient) *fakePush {
	return gm.push.(*fakePush)
}

// makeTestPortal creates a minimal bridgev2.Portal for testing.
func makeTestPortal(conversationID string) *bridgev2.Portal {
	return &bridgev2.Portal{
		Portal: &database.Portal{
			PortalKey: networkid.PortalKey{
				ID: MakePortalID(conversationID),
			},
		},
	}
}
