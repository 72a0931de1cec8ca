package hivehttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/colonyops/hive/internal/auth"
	"github.com/colonyops/hive/internal/bus"
	"github.com/colonyops/hive/internal/ingest"
	"github.com/colonyops/hive/internal/notebook"
	"github.com/colonyops/hive/internal/presence"
	"github.com/colonyops/hive/internal/ratelimit"
	"github.com/colonyops/hive/internal/scheduler"
	"github.com/colonyops/hive/internal/ssrf"
	"github.com/colonyops/hive/internal/store"
	"github.com/colonyops/hive/internal/store/mem"
	"github.com/colonyops/hive/internal/wake"
	"github.com/colonyops/hive/internal/webhook"
)

const superToken = "super-secret-token-0123456789"

type testServer struct {
	mux    *http.ServeMux
	stores *store.Stores
	auth   *auth.Service
	bus    *bus.Bus
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := mem.New()
	b := bus.New()
	tracker := presence.NewTracker()
	guard := ssrf.NewGuard(nil)
	dispatcher := webhook.NewDispatcher(st.Tokens, guard)
	authSvc := auth.New(st.Users, st.Tokens, st.Invites, superToken, "queen")
	ingestSvc := ingest.New(st.Broadcast, b, dispatcher, 3*time.Hour)
	wakeSvc := wake.New(st, tracker, "")
	sched := scheduler.New(st.Recurring, st.Swarm, b)
	nbManager := notebook.NewManager(st.Notebook)
	nbWS := notebook.NewWSHandler(nbManager, st.Notebook, authSvc)

	gate := &Gate{Auth: authSvc, Presence: tracker, Limiter: ratelimit.New(ratelimit.DefaultRules())}

	mux := http.NewServeMux()
	NewAuthHandler(gate, authSvc, st, dispatcher).RegisterRoutes(mux)
	NewMailboxHandler(gate, st.Messages, b, dispatcher).RegisterRoutes(mux)
	NewChatHandler(gate, st.Chat, b, dispatcher).RegisterRoutes(mux)
	NewSwarmHandler(gate, st, b, sched, guard).RegisterRoutes(mux)
	NewBroadcastHandler(gate, st.Broadcast, ingestSvc).RegisterRoutes(mux)
	NewNotebookHandler(gate, st.Notebook, nbManager, nbWS).RegisterRoutes(mux)
	NewGatewayHandler(gate, tracker, st, wakeSvc).RegisterRoutes(mux)
	NewStreamHandler(gate, b, tracker, wakeSvc).RegisterRoutes(mux)

	return &testServer{mux: mux, stores: st, auth: authSvc, bus: b}
}

// do runs one request and decodes the JSON response into out when non-nil.
func (ts *testServer) do(t *testing.T, method, path, token string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, r)
	if out != nil && w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w
}

// registerAgent runs the invite flow and returns the minted bearer token.
func (ts *testServer) registerAgent(t *testing.T, identity string) string {
	t.Helper()
	var inv store.Invite
	if w := ts.do(t, "POST", "/api/invites", superToken, map[string]any{"maxUses": 1}, &inv); w.Code != http.StatusCreated {
		t.Fatalf("invite create: %d %s", w.Code, w.Body.String())
	}
	var reg struct {
		Identity string `json:"identity"`
		Token    string `json:"token"`
	}
	w := ts.do(t, "POST", "/api/auth/register", "", map[string]any{"code": inv.Code, "identity": identity}, &reg)
	if w.Code != http.StatusCreated || reg.Token == "" {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	return reg.Token
}

func TestRegisterSendReceiveFlow(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")

	var verify struct {
		Identity string `json:"identity"`
		IsAdmin  bool   `json:"isAdmin"`
	}
	if w := ts.do(t, "POST", "/api/auth/verify", scout, nil, &verify); w.Code != http.StatusOK {
		t.Fatalf("verify: %d", w.Code)
	}
	if verify.Identity != "scout" || verify.IsAdmin {
		t.Fatalf("verify = %+v", verify)
	}

	var sent struct {
		Message store.Message `json:"message"`
	}
	w := ts.do(t, "POST", "/api/mailboxes/queen/messages", scout, map[string]any{"title": "found nectar", "body": "east field"}, &sent)
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", w.Code, w.Body.String())
	}

	var page struct {
		Messages []store.Message `json:"messages"`
		Total    int             `json:"total"`
	}
	if w := ts.do(t, "GET", "/api/mailboxes/me/messages?status=unread", superToken, nil, &page); w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	if page.Total != 1 || len(page.Messages) != 1 || page.Messages[0].Title != "found nectar" {
		t.Fatalf("page = %+v", page)
	}

	ackPath := fmt.Sprintf("/api/mailboxes/me/messages/%d/ack", page.Messages[0].ID)
	var acked struct {
		Message store.Message `json:"message"`
	}
	if w := ts.do(t, "POST", ackPath, superToken, nil, &acked); w.Code != http.StatusOK {
		t.Fatalf("ack: %d %s", w.Code, w.Body.String())
	}
	if acked.Message.Status != store.MessageRead || acked.Message.ViewedAt == nil {
		t.Fatalf("acked = %+v", acked.Message)
	}
}

func TestSendDedupeIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")

	body := map[string]any{"title": "hourly report", "dedupeKey": "report-07"}
	var first struct {
		Message store.Message `json:"message"`
	}
	if w := ts.do(t, "POST", "/api/mailboxes/queen/messages", scout, body, &first); w.Code != http.StatusCreated {
		t.Fatalf("first send: %d", w.Code)
	}

	var second struct {
		Message   store.Message `json:"message"`
		Duplicate bool          `json:"duplicate"`
	}
	if w := ts.do(t, "POST", "/api/mailboxes/queen/messages", scout, body, &second); w.Code != http.StatusOK {
		t.Fatalf("second send: %d", w.Code)
	}
	if !second.Duplicate || second.Message.ID != first.Message.ID {
		t.Fatalf("second = %+v, want duplicate of id %d", second, first.Message.ID)
	}
}

func TestUnreadListFloatsUrgentFirst(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")

	for _, m := range []map[string]any{
		{"title": "routine one"},
		{"title": "hive on fire", "urgent": true},
		{"title": "routine two"},
	} {
		if w := ts.do(t, "POST", "/api/mailboxes/queen/messages", scout, m, nil); w.Code != http.StatusCreated {
			t.Fatalf("send %v: %d", m, w.Code)
		}
	}

	var page struct {
		Messages []store.Message `json:"messages"`
	}
	ts.do(t, "GET", "/api/mailboxes/me/messages?status=unread", superToken, nil, &page)
	if len(page.Messages) != 3 || page.Messages[0].Title != "hive on fire" {
		t.Fatalf("order = %+v", titles(page.Messages))
	}
	if page.Messages[1].Title != "routine one" || page.Messages[2].Title != "routine two" {
		t.Fatalf("non-urgent should stay oldest-first: %v", titles(page.Messages))
	}
}

func titles(msgs []store.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Title
	}
	return out
}

func TestReplyThreadsAndClearsPending(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")

	var sent struct {
		Message store.Message `json:"message"`
	}
	ts.do(t, "POST", "/api/mailboxes/queen/messages", scout, map[string]any{"title": "need directions"}, &sent)
	id := sent.Message.ID

	// Queen commits to answering later, then replies.
	if w := ts.do(t, "POST", fmt.Sprintf("/api/mailboxes/me/messages/%d/pending", id), superToken, map[string]any{}, nil); w.Code != http.StatusOK {
		t.Fatalf("pending: %d", w.Code)
	}
	var pending struct {
		Messages []store.Message `json:"messages"`
	}
	ts.do(t, "GET", "/api/mailboxes/me/pending", superToken, nil, &pending)
	if len(pending.Messages) != 1 {
		t.Fatalf("pending list = %+v", pending)
	}

	var reply struct {
		Message store.Message `json:"message"`
	}
	w := ts.do(t, "POST", fmt.Sprintf("/api/mailboxes/me/messages/%d/reply", id), superToken, map[string]any{"body": "third flower south"}, &reply)
	if w.Code != http.StatusCreated {
		t.Fatalf("reply: %d %s", w.Code, w.Body.String())
	}
	if reply.Message.Recipient != "scout" || !strings.HasPrefix(reply.Message.Title, "Re: ") {
		t.Fatalf("reply = %+v", reply.Message)
	}
	if reply.Message.ThreadID != fmt.Sprint(id) || reply.Message.ReplyToMessageID == nil || *reply.Message.ReplyToMessageID != id {
		t.Fatalf("threading = %+v", reply.Message)
	}

	ts.do(t, "GET", "/api/mailboxes/me/pending", superToken, nil, &pending)
	if len(pending.Messages) != 0 {
		t.Fatalf("pending survived the reply: %+v", pending)
	}

	// Replying to someone else's message is a NotFound, not a Forbidden.
	if w := ts.do(t, "POST", fmt.Sprintf("/api/mailboxes/me/messages/%d/reply", reply.Message.ID), superToken, map[string]any{"body": "x"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign reply: %d, want 404", w.Code)
	}
}

func TestWakeBuzzIsEphemeralPerIdentity(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.registerAgent(t, "bob")
	alice := ts.registerAgent(t, "alice")

	var created struct {
		Webhook   store.BroadcastWebhook `json:"webhook"`
		IngestURL string                 `json:"ingestUrl"`
	}
	w := ts.do(t, "POST", "/api/broadcast/webhooks", superToken, map[string]any{
		"appName": "ci", "title": "CI", "wakeAgent": "bob", "notifyAgent": "alice",
	}, &created)
	if w.Code != http.StatusCreated || created.IngestURL == "" {
		t.Fatalf("webhook create: %d %s", w.Code, w.Body.String())
	}

	var ing struct {
		OK         bool   `json:"ok"`
		EventID    string `json:"eventId"`
		Suppressed bool   `json:"suppressed"`
	}
	r := httptest.NewRequest("POST", created.IngestURL, strings.NewReader("build 1421 is red"))
	r.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ing); err != nil || !ing.OK || ing.Suppressed {
		t.Fatalf("ingest result = %+v err=%v", ing, err)
	}

	var resp wake.Response
	ts.do(t, "GET", "/api/wake", bob, nil, &resp)
	if n := countBuzzes(resp.Items, wake.RoleWake); n != 1 {
		t.Fatalf("bob first wake buzzes = %d, want 1", n)
	}
	ts.do(t, "GET", "/api/wake", bob, nil, &resp)
	if n := countBuzzes(resp.Items, wake.RoleWake); n != 0 {
		t.Fatal("buzz delivered twice to bob")
	}

	// Alice's notify copy is independent of bob's delivery.
	ts.do(t, "GET", "/api/wake", alice, nil, &resp)
	if n := countBuzzes(resp.Items, wake.RoleNotify); n != 1 {
		t.Fatalf("alice notify = %d, want 1", n)
	}
	ts.do(t, "GET", "/api/wake", alice, nil, &resp)
	if n := countBuzzes(resp.Items, wake.RoleNotify); n != 0 {
		t.Fatal("notify delivered twice to alice")
	}
}

func countBuzzes(items []wake.Item, role string) int {
	n := 0
	for _, it := range items {
		if it.Source == wake.SourceBuzz && it.Role == role {
			n++
		}
	}
	return n
}

func TestIngestJSONOverridesAndDedupe(t *testing.T) {
	ts := newTestServer(t)
	var created struct {
		IngestURL string `json:"ingestUrl"`
	}
	ts.do(t, "POST", "/api/broadcast/webhooks", superToken, map[string]any{"appName": "pager", "title": "Pager"}, &created)

	post := func(body, contentType string) (int, map[string]any) {
		r := httptest.NewRequest("POST", created.IngestURL, strings.NewReader(body))
		r.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		ts.mux.ServeHTTP(w, r)
		var out map[string]any
		json.Unmarshal(w.Body.Bytes(), &out)
		return w.Code, out
	}

	code, out := post(`{"title": "disk full", "body": "sda1 at 98%"}`, "application/json")
	if code != http.StatusOK || out["suppressed"] != false {
		t.Fatalf("json ingest: %d %v", code, out)
	}
	firstID := out["eventId"]

	// Same JSON with shuffled keys is a repeat within the cooldown.
	code, out = post(`{"body": "sda1 at 98%", "title": "disk full"}`, "application/json")
	if code != http.StatusOK || out["suppressed"] != true || out["eventId"] != firstID {
		t.Fatalf("repeat ingest: %d %v", code, out)
	}

	var events struct {
		Events []store.BroadcastEvent `json:"events"`
	}
	ts.do(t, "GET", "/api/broadcast/events?appName=pager", superToken, nil, &events)
	if len(events.Events) != 1 || events.Events[0].Title != "disk full" {
		t.Fatalf("events = %+v", events.Events)
	}

	// Unknown token means the capability URL does not exist: 404.
	r := httptest.NewRequest("POST", "/api/ingest/pager/wrong-token", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("bad token ingest: %d, want 404", w.Code)
	}
}

func TestSwarmTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.registerAgent(t, "bob")

	var task store.Task
	w := ts.do(t, "POST", "/api/swarm/tasks", superToken, map[string]any{
		"title": "inspect comb", "assigneeUserId": "bob", "status": "ready",
	}, &task)
	if w.Code != http.StatusCreated || task.Status != store.TaskReady {
		t.Fatalf("create: %d %+v", w.Code, task)
	}

	var updated store.Task
	w = ts.do(t, "POST", "/api/swarm/tasks/"+task.ID.String()+"/status", bob, map[string]any{"status": "complete"}, &updated)
	if w.Code != http.StatusOK || updated.Status != store.TaskComplete || updated.CompletedAt == nil {
		t.Fatalf("complete: %d %+v", w.Code, updated)
	}

	// Reopening clears completedAt. Reset the decode target so the omitted
	// completedAt field is not masked by the previous response's value.
	updated = store.Task{}
	ts.do(t, "POST", "/api/swarm/tasks/"+task.ID.String()+"/status", bob, map[string]any{"status": "in_progress"}, &updated)
	if updated.CompletedAt != nil {
		t.Fatalf("reopen kept completedAt: %+v", updated)
	}

	var events struct {
		Events []store.TaskEvent `json:"events"`
	}
	ts.do(t, "GET", "/api/swarm/tasks/"+task.ID.String()+"/events", bob, nil, &events)
	kinds := make([]string, len(events.Events))
	for i, ev := range events.Events {
		kinds[i] = ev.Kind
	}
	want := []string{store.TaskEventCreated, store.TaskEventStatusChanged, store.TaskEventStatusChanged}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}

	// Completed tasks fall out of the default listing.
	ts.do(t, "POST", "/api/swarm/tasks/"+task.ID.String()+"/status", bob, map[string]any{"status": "complete"}, nil)
	var list struct {
		Tasks []store.Task `json:"tasks"`
	}
	ts.do(t, "GET", "/api/swarm/tasks", bob, nil, &list)
	if len(list.Tasks) != 0 {
		t.Fatalf("complete task still listed: %+v", list.Tasks)
	}
	ts.do(t, "GET", "/api/swarm/tasks?includeCompleted=true", bob, nil, &list)
	if len(list.Tasks) != 1 {
		t.Fatalf("includeCompleted missed the task: %+v", list.Tasks)
	}
}

func TestOversizedJSONBodyRejected(t *testing.T) {
	ts := newTestServer(t)

	big := strings.Repeat("x", 51<<10)
	w := ts.do(t, "POST", "/api/mailboxes/queen/messages", superToken, map[string]any{
		"title": "big", "body": big,
	}, nil)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: %d, want 413", w.Code)
	}
}

func TestProjectPatchSetsLeads(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.registerAgent(t, "bob")

	var project store.Project
	w := ts.do(t, "POST", "/api/swarm/projects", superToken, map[string]any{"title": "comb"}, &project)
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: %d", w.Code)
	}

	var updated store.Project
	w = ts.do(t, "PATCH", "/api/swarm/projects/"+project.ID.String(), bob, map[string]any{
		"projectLeadUserId": "queen", "developerLeadUserId": "bob",
	}, &updated)
	if w.Code != http.StatusOK {
		t.Fatalf("patch project: %d", w.Code)
	}
	if updated.ProjectLeadUserID != "queen" || updated.DevLeadUserID != "bob" {
		t.Fatalf("leads = %q/%q, want queen/bob", updated.ProjectLeadUserID, updated.DevLeadUserID)
	}

	var fetched store.Project
	ts.do(t, "GET", "/api/swarm/projects/"+project.ID.String(), bob, nil, &fetched)
	if fetched.DevLeadUserID != "bob" {
		t.Fatalf("dev lead not persisted: %+v", fetched)
	}
}

func TestChatDMFlow(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.registerAgent(t, "bob")
	alice := ts.registerAgent(t, "alice")

	var ch store.ChatChannel
	w := ts.do(t, "POST", "/api/chat/channels", bob, map[string]any{"type": "dm", "with": "alice"}, &ch)
	if w.Code != http.StatusCreated {
		t.Fatalf("dm create: %d %s", w.Code, w.Body.String())
	}
	// Same pair resolves to the same channel.
	var again store.ChatChannel
	if w := ts.do(t, "POST", "/api/chat/channels", alice, map[string]any{"type": "dm", "with": "bob"}, &again); w.Code != http.StatusOK || again.ID != ch.ID {
		t.Fatalf("dm dedupe: %d %v vs %v", w.Code, again.ID, ch.ID)
	}

	var chatEvents []bus.Event
	ts.bus.Subscribe("alice", func(ev bus.Event) { chatEvents = append(chatEvents, ev) })

	if w := ts.do(t, "POST", "/api/chat/channels/"+ch.ID.String()+"/messages", bob, map[string]any{"body": "waggle?"}, nil); w.Code != http.StatusCreated {
		t.Fatalf("chat send: %d", w.Code)
	}
	if len(chatEvents) != 1 || chatEvents[0].Type != bus.EventChatMessage {
		t.Fatalf("alice events = %+v", chatEvents)
	}

	var channels struct {
		Channels []store.ChatChannel `json:"channels"`
	}
	ts.do(t, "GET", "/api/chat/channels", alice, nil, &channels)
	if len(channels.Channels) != 1 || channels.Channels[0].Unread != 1 {
		t.Fatalf("alice channels = %+v", channels.Channels)
	}

	ts.do(t, "POST", "/api/chat/channels/"+ch.ID.String()+"/read", alice, nil, nil)
	// Reset the decode target so the omitted unread field is not masked by
	// the previous response's value.
	channels.Channels = nil
	ts.do(t, "GET", "/api/chat/channels", alice, nil, &channels)
	if channels.Channels[0].Unread != 0 {
		t.Fatalf("unread after read = %d", channels.Channels[0].Unread)
	}

	// Outsiders cannot see the room.
	outsider := ts.registerAgent(t, "wasp")
	if w := ts.do(t, "GET", "/api/chat/channels/"+ch.ID.String()+"/messages", outsider, nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("outsider read: %d, want 404", w.Code)
	}
}

func TestAdminGuards(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")

	if w := ts.do(t, "POST", "/api/invites", scout, map[string]any{}, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin invite: %d, want 403", w.Code)
	}
	if w := ts.do(t, "POST", "/api/broadcast/webhooks", scout, map[string]any{"appName": "x"}, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-admin webhook: %d, want 403", w.Code)
	}
	if w := ts.do(t, "GET", "/api/wake", "bogus-token", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("bogus token: %d, want 401", w.Code)
	}
}

func TestRateLimitHeadersAndExhaustion(t *testing.T) {
	ts := newTestServer(t)

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		last = ts.do(t, "POST", "/api/auth/register", "", map[string]any{"code": "nope", "identity": "x"}, nil)
		if last.Code == http.StatusTooManyRequests {
			t.Fatalf("limited early at attempt %d", i+1)
		}
		if last.Header().Get("X-RateLimit-Limit") != "5" {
			t.Fatalf("limit header = %q", last.Header().Get("X-RateLimit-Limit"))
		}
	}
	last = ts.do(t, "POST", "/api/auth/register", "", map[string]any{"code": "nope", "identity": "x"}, nil)
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth register = %d, want 429", last.Code)
	}
	if last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("remaining = %q", last.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestSSEFraming(t *testing.T) {
	w := httptest.NewRecorder()
	ev := bus.NewEvent(bus.EventMessage, "bob", map[string]string{"title": "hi"})
	if err := writeSSE(w, w, ev); err != nil {
		t.Fatal(err)
	}
	got := w.Body.String()
	if !strings.HasPrefix(got, "event: message\ndata: ") || !strings.HasSuffix(got, "\n\n") {
		t.Fatalf("framing = %q", got)
	}
	dataLine := strings.TrimSuffix(strings.TrimPrefix(got, "event: message\n"), "\n\n")
	if strings.Contains(strings.TrimPrefix(dataLine, "data: "), "\n") {
		t.Fatalf("data is not single-line: %q", dataLine)
	}
}

func TestPresenceReflectsActivity(t *testing.T) {
	ts := newTestServer(t)
	scout := ts.registerAgent(t, "scout")
	ts.do(t, "POST", "/api/mailboxes/scout/messages", superToken, map[string]any{"title": "status?"}, nil)
	ts.do(t, "POST", "/api/auth/verify", scout, nil, nil)

	var out map[string]presenceEntry
	if w := ts.do(t, "GET", "/api/presence", superToken, nil, &out); w.Code != http.StatusOK {
		t.Fatalf("presence: %d", w.Code)
	}
	entry, ok := out["scout"]
	if !ok || !entry.Online || entry.Source != presence.SourceAPI {
		t.Fatalf("scout presence = %+v", entry)
	}
	if entry.Unread != 1 {
		t.Fatalf("scout unread = %d, want 1", entry.Unread)
	}
}
