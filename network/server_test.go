package network

import (
	"net/http"
	"testing"

	"chatsync/models"

	"github.com/google/uuid"
)

func loginOverHTTP(t *testing.T, server *Server, externalID, name string) string {
	t.Helper()

	status, raw := doJSON(t, server, http.MethodPost, "/v1/profiles", map[string]string{
		"external_id": externalID,
		"name":        name,
		"email":       externalID + "@example.com",
	})
	if status != http.StatusOK {
		t.Fatalf("upsert profile returned %d: %s", status, raw)
	}
	var resp struct {
		UserID string `json:"user_id"`
	}
	decodeInto(t, raw, &resp)
	return resp.UserID
}

func TestHTTPConversationFlow(t *testing.T) {
	server := newTestServer(t)
	alice := loginOverHTTP(t, server, "ext-alice", "Alice")
	bob := loginOverHTTP(t, server, "ext-bob", "Bob")

	status, raw := doJSON(t, server, http.MethodPost, "/v1/conversations", map[string]string{"user_a": alice, "user_b": bob})
	if status != http.StatusOK {
		t.Fatalf("create conversation returned %d: %s", status, raw)
	}
	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	decodeInto(t, raw, &conv)

	status, raw = doJSON(t, server, http.MethodPost, "/v1/conversations/"+conv.ConversationID+"/messages",
		map[string]string{"sender_id": alice, "content": "hi bob"})
	if status != http.StatusCreated {
		t.Fatalf("send message returned %d: %s", status, raw)
	}
	var sent struct {
		MessageID string `json:"message_id"`
	}
	decodeInto(t, raw, &sent)

	status, raw = doJSON(t, server, http.MethodGet, "/v1/conversations/"+conv.ConversationID+"/unread?user_id="+bob, nil)
	if status != http.StatusOK {
		t.Fatalf("unread returned %d: %s", status, raw)
	}
	var unread struct {
		UnreadCount int `json:"unread_count"`
	}
	decodeInto(t, raw, &unread)
	if unread.UnreadCount != 1 {
		t.Fatalf("expected 1 unread, got %d", unread.UnreadCount)
	}

	if status, raw = doJSON(t, server, http.MethodDelete, "/v1/messages/"+sent.MessageID, nil); status != http.StatusNoContent {
		t.Fatalf("delete returned %d: %s", status, raw)
	}

	status, raw = doJSON(t, server, http.MethodGet, "/v1/conversations/"+conv.ConversationID+"/messages", nil)
	if status != http.StatusOK {
		t.Fatalf("list messages returned %d: %s", status, raw)
	}
	var messages []models.Message
	decodeInto(t, raw, &messages)
	if len(messages) != 1 || messages[0].Content != models.DeletedPlaceholder {
		t.Fatalf("expected masked message, got %+v", messages)
	}

	status, raw = doJSON(t, server, http.MethodGet, "/v1/users/"+bob+"/conversations", nil)
	if status != http.StatusOK {
		t.Fatalf("list conversations returned %d: %s", status, raw)
	}
	var summaries []models.ConversationSummary
	decodeInto(t, raw, &summaries)
	if len(summaries) != 1 || summaries[0].OtherUser.UserID != alice || summaries[0].UnreadCount != 0 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	if status, raw = doJSON(t, server, http.MethodPost, "/v1/conversations/"+conv.ConversationID+"/read",
		map[string]string{"user_id": bob}); status != http.StatusNoContent {
		t.Fatalf("mark read returned %d: %s", status, raw)
	}
}

func TestHTTPTypingRoutes(t *testing.T) {
	server := newTestServer(t)
	alice := loginOverHTTP(t, server, "ext-alice", "Alice")
	bob := loginOverHTTP(t, server, "ext-bob", "Bob")

	_, raw := doJSON(t, server, http.MethodPost, "/v1/conversations", map[string]string{"user_a": alice, "user_b": bob})
	var conv struct {
		ConversationID string `json:"conversation_id"`
	}
	decodeInto(t, raw, &conv)
	base := "/v1/conversations/" + conv.ConversationID + "/typing"

	if status, raw := doJSON(t, server, http.MethodPut, base, map[string]string{"user_id": alice}); status != http.StatusNoContent {
		t.Fatalf("set typing returned %d: %s", status, raw)
	}

	_, raw = doJSON(t, server, http.MethodGet, base+"?exclude="+bob, nil)
	var typing []models.User
	decodeInto(t, raw, &typing)
	if len(typing) != 1 || typing[0].UserID != alice {
		t.Fatalf("expected alice typing, got %+v", typing)
	}

	if status, raw := doJSON(t, server, http.MethodDelete, base+"?user_id="+alice, nil); status != http.StatusNoContent {
		t.Fatalf("clear typing returned %d: %s", status, raw)
	}

	_, raw = doJSON(t, server, http.MethodGet, base+"?exclude="+bob, nil)
	typing = nil
	decodeInto(t, raw, &typing)
	if len(typing) != 0 {
		t.Fatalf("expected nobody typing after clear, got %+v", typing)
	}
}

func TestHTTPProfileRoutes(t *testing.T) {
	server := newTestServer(t)
	loginOverHTTP(t, server, "ext-alice", "Alice")
	loginOverHTTP(t, server, "ext-bob", "Bob")

	if status, raw := doJSON(t, server, http.MethodPut, "/v1/profiles/ext-alice/online", map[string]bool{"is_online": false}); status != http.StatusNoContent {
		t.Fatalf("set online returned %d: %s", status, raw)
	}
	if status, raw := doJSON(t, server, http.MethodPut, "/v1/profiles/ext-ghost/online", map[string]bool{"is_online": true}); status != http.StatusNoContent {
		t.Fatalf("set online for unknown user returned %d: %s", status, raw)
	}

	status, raw := doJSON(t, server, http.MethodGet, "/v1/profiles/ext-alice", nil)
	if status != http.StatusOK {
		t.Fatalf("get profile returned %d: %s", status, raw)
	}
	var user models.User
	decodeInto(t, raw, &user)
	if user.Name != "Alice" || user.IsOnline {
		t.Fatalf("unexpected profile: %+v", user)
	}

	_, raw = doJSON(t, server, http.MethodGet, "/v1/profiles/ext-alice/others", nil)
	var others []models.User
	decodeInto(t, raw, &others)
	if len(others) != 1 || others[0].ExternalID != "ext-bob" {
		t.Fatalf("unexpected others: %+v", others)
	}

	status, raw = doJSON(t, server, http.MethodGet, "/v1/health", nil)
	if status != http.StatusOK {
		t.Fatalf("health returned %d: %s", status, raw)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	server := newTestServer(t)
	alice := loginOverHTTP(t, server, "ext-alice", "Alice")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown profile", http.MethodGet, "/v1/profiles/ext-nobody", nil, http.StatusNotFound},
		{"self conversation", http.MethodPost, "/v1/conversations", map[string]string{"user_a": alice, "user_b": alice}, http.StatusBadRequest},
		{"unknown peer", http.MethodPost, "/v1/conversations", map[string]string{"user_a": alice, "user_b": uuid.NewString()}, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/v1/conversations/not-a-uuid/messages", nil, http.StatusBadRequest},
		{"unknown conversation", http.MethodGet, "/v1/conversations/" + uuid.NewString() + "/messages", nil, http.StatusNotFound},
		{"empty content", http.MethodPost, "/v1/conversations/" + uuid.NewString() + "/messages", map[string]string{"sender_id": alice, "content": " "}, http.StatusBadRequest},
		{"live without upgrade", http.MethodGet, "/v1/live", nil, http.StatusUpgradeRequired},
	}

	for _, tc := range cases {
		status, raw := doJSON(t, server, tc.method, tc.path, tc.body)
		if status != tc.want {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.want, status, raw)
		}
		var body struct {
			Error string `json:"error"`
		}
		decodeInto(t, raw, &body)
		if body.Error == "" {
			t.Fatalf("%s: expected error body, got %s", tc.name, raw)
		}
	}
}
