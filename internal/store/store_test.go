package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	db := testDB(t)

	s, tok, err := db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if s != "" || tok != "" {
		t.Fatalf("fresh db has credentials %q %q", s, tok)
	}

	if err := db.SaveCredentials("default", "tok-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveCredentials("default", "tok-2"); err != nil {
		t.Fatal(err)
	}
	s, tok, err = db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if s != "default" || tok != "tok-2" {
		t.Errorf("credentials = %q %q, want default tok-2", s, tok)
	}

	if err := db.ClearCredentials(); err != nil {
		t.Fatal(err)
	}
	s, tok, _ = db.LoadCredentials()
	if s != "" || tok != "" {
		t.Errorf("credentials survived clear: %q %q", s, tok)
	}
}

func TestHalfCredentialsTreatedAsNone(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`INSERT INTO credentials (key, value) VALUES ('wpp_session', 'orphan')`); err != nil {
		t.Fatal(err)
	}
	s, tok, err := db.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if s != "" || tok != "" {
		t.Errorf("half credentials returned: %q %q", s, tok)
	}
}

func TestReplaceChatsAndList(t *testing.T) {
	db := testDB(t)

	if err := db.ReplaceChats([]Chat{
		{ID: "5511111111111@c.us", Name: "Old", LastMessageAt: 10},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceContacts([]Contact{
		{ID: "5522222222222@c.us", FormattedName: "Bia", IsMyContact: true},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceChats([]Chat{
		{ID: "5522222222222@c.us", LastMessageAt: 100, LastMessagePreview: "oi"},
		{ID: "5533333333333@c.us", Name: "Caio", LastMessageAt: 200},
	}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 {
		t.Fatalf("got %d chats, want 2 (replace must drop old rows)", len(chats))
	}
	if chats[0].ID != "5533333333333@c.us" {
		t.Errorf("first chat = %q, want newest first", chats[0].ID)
	}
	if chats[1].Name != "Bia" {
		t.Errorf("name = %q, want contact fallback Bia", chats[1].Name)
	}
}

func TestUpsertChatKeepsNewestPreview(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{ID: "a@c.us", Name: "A", LastMessageAt: 200, LastMessagePreview: "new"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "a@c.us", LastMessageAt: 100, LastMessagePreview: "old"}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetChat("a@c.us")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "A" || c.LastMessagePreview != "new" || c.LastMessageAt != 200 {
		t.Errorf("chat = %+v", c)
	}

	missing, err := db.GetChat("missing@c.us")
	if err != nil || missing != nil {
		t.Errorf("GetChat(missing) = %v, %v", missing, err)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatID: "chat@c.us", MsgID: "msg1", Body: "hello", MessageType: "chat", Timestamp: 1000, Ack: 2}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = "hello updated"
	msg.Ack = 1
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("chat@c.us", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", msgs[0].Body)
	}
	if msgs[0].Ack != 2 {
		t.Errorf("ack = %d, want 2 (never lowered)", msgs[0].Ack)
	}

	if err := db.UpdateMessageAck("msg1", 3); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListMessages("chat@c.us", 0, 100)
	if msgs[0].Ack != 3 {
		t.Errorf("ack = %d after update, want 3", msgs[0].Ack)
	}
}

func TestListMessagesKeyset(t *testing.T) {
	db := testDB(t)
	var batch []Message
	for i := int64(1); i <= 5; i++ {
		batch = append(batch, Message{ChatID: "c@c.us", MsgID: string(rune('a' + i)), Timestamp: i * 100})
	}
	if err := db.UpsertMessages(batch); err != nil {
		t.Fatal(err)
	}

	page, err := db.ListMessages("c@c.us", 300, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Timestamp != 200 {
		t.Errorf("page = %+v, want timestamps 200, 100", page)
	}
}

func TestDeleteMessage(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessages([]Message{
		{ChatID: "c@c.us", MsgID: "keep", Timestamp: 100},
		{ChatID: "c@c.us", MsgID: "gone", Timestamp: 200},
		{ChatID: "d@c.us", MsgID: "gone", Timestamp: 200},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("c@c.us", "gone"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := db.ListMessages("c@c.us", 0, 10)
	if len(msgs) != 1 || msgs[0].MsgID != "keep" {
		t.Errorf("c@c.us messages = %+v", msgs)
	}
	if other, _ := db.ListMessages("d@c.us", 0, 10); len(other) != 1 {
		t.Errorf("message of another chat deleted")
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatID: "chat@c.us", MsgID: "m1", Body: "Hello world", MessageType: "chat", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "chat@c.us", MsgID: "m2", Body: "goodbye world", MessageType: "chat", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatID: "other@c.us", MsgID: "m3", Body: "100% hello", MessageType: "chat", Timestamp: 3000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "chat@c.us", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m1" {
		t.Fatalf("results = %+v, want only m1", results)
	}
	if results[0].Snippet != "<<Hello>> world" {
		t.Errorf("snippet = %q", results[0].Snippet)
	}

	results, err = db.SearchMessages("100%", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.MsgID != "m3" {
		t.Errorf("literal %% search = %+v", results)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.QueueOutbox("client1", "chat@c.us", "test msg", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.QueueOutbox("client2", "chat@c.us", "reply", "false_chat@c.us_Q"); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ClientMsgID != "client1" || pending[1].QuotedMsgID != "false_chat@c.us_Q" {
		t.Errorf("pending = %+v", pending)
	}

	if err := db.MarkOutboxSending("client1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSent("client1", "server1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("client2"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("client2", "boom"); err != nil {
		t.Fatal(err)
	}

	pending, err = db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("got %d pending after sent/failed, want 0", len(pending))
	}

	if err := db.RequeueOutbox("client2"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 1 || pending[0].ErrorMessage != "" {
		t.Errorf("requeue = %+v", pending)
	}
}

func TestRecoverOutbox(t *testing.T) {
	db := testDB(t)
	if err := db.QueueOutbox("c1", "chat@c.us", "x", ""); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxSending("c1"); err != nil {
		t.Fatal(err)
	}
	n, err := db.RecoverOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
}

func TestAvatarCache(t *testing.T) {
	db := testDB(t)

	if _, _, ok, err := db.Avatar("5511999999999"); err != nil || ok {
		t.Fatalf("empty cache returned ok=%v err=%v", ok, err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := db.PutAvatar("5511999999999", "https://pps.example/a.jpg", old); err != nil {
		t.Fatal(err)
	}
	url, at, ok, err := db.Avatar("5511999999999")
	if err != nil || !ok || url != "https://pps.example/a.jpg" {
		t.Fatalf("Avatar = %q %v %v", url, ok, err)
	}
	if at.UnixMilli() != old.UnixMilli() {
		t.Errorf("fetched_at = %v, want %v", at, old)
	}

	n, err := db.PruneAvatars(time.Now().Add(-24 * time.Hour))
	if err != nil || n != 1 {
		t.Errorf("PruneAvatars = %d, %v", n, err)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)

	v, err := db.Checkpoint("last_bulk_load")
	if err != nil || v != "" {
		t.Fatalf("unset checkpoint = %q %v", v, err)
	}
	if err := db.SetCheckpoint("last_bulk_load", "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	v, _ = db.Checkpoint("last_bulk_load")
	if v != "2026-01-01T00:00:00Z" {
		t.Errorf("checkpoint = %q", v)
	}
}

func TestClearCacheKeepsCredentials(t *testing.T) {
	db := testDB(t)
	if err := db.SaveCredentials("s", "t"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{ID: "a@c.us"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearCache(); err != nil {
		t.Fatal(err)
	}
	n, _ := db.ChatCount()
	if n != 0 {
		t.Errorf("chat count = %d after clear", n)
	}
	s, tok, _ := db.LoadCredentials()
	if s != "s" || tok != "t" {
		t.Error("ClearCache removed credentials")
	}
}
