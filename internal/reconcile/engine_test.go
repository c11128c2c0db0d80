package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/rfdias/zapagent/internal/domain"
	"github.com/rfdias/zapagent/internal/provider"
	"github.com/rfdias/zapagent/internal/repo"
)

func newReconcileDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("reconcile_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// fakeDirectory serves scripted pull-sync responses; messages are keyed by
// chat JID and served in syncPageSize pages.
type fakeDirectory struct {
	contacts []provider.ContactRecord
	chats    []provider.ChatRecord
	messages map[string][]provider.MessageRecord

	findMessagesCalls int
}

func (f *fakeDirectory) FindContacts(ctx context.Context, instance string) ([]provider.ContactRecord, error) {
	return f.contacts, nil
}

func (f *fakeDirectory) FindChats(ctx context.Context, instance string) ([]provider.ChatRecord, error) {
	return f.chats, nil
}

func (f *fakeDirectory) FindMessages(ctx context.Context, instance, remoteJID string, page, pageSize int) ([]provider.MessageRecord, error) {
	f.findMessagesCalls++
	all := f.messages[remoteJID]
	lo := (page - 1) * pageSize
	if lo >= len(all) {
		return nil, nil
	}
	hi := lo + pageSize
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi], nil
}

func seedInstance(t *testing.T, db *gorm.DB) *domain.Instance {
	t.Helper()
	inst, err := repo.CreateInstance(context.Background(), db, "shop")
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst
}

func textMessage(id, jid, text string, ts int64) provider.MessageRecord {
	return provider.MessageRecord{
		Key:       provider.MessageKey{ID: id, RemoteJID: jid},
		Message:   &provider.MessageBody{Conversation: text},
		Timestamp: ts,
	}
}

func TestMapConnectionState(t *testing.T) {
	cases := map[string]string{
		"open":       domain.InstanceConnected,
		"OPEN":       domain.InstanceConnected,
		"connecting": domain.InstanceConnecting,
		"close":      domain.InstanceDisconnected,
		"closed":     domain.InstanceDisconnected,
		"banana":     domain.InstanceDisconnected,
		"":           domain.InstanceDisconnected,
	}
	for state, want := range cases {
		if got := MapConnectionState(state); got != want {
			t.Errorf("MapConnectionState(%q) = %q; want %q", state, got, want)
		}
	}
}

func TestUpsertContacts_InsertAndUpdate(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	n := e.UpsertContacts(ctx, inst.ID, []provider.ContactRecord{
		{JID: "5511999@s.whatsapp.net", PushName: "Ana"},
		{JID: ""}, // no identity, skipped
	})
	if n != 1 {
		t.Fatalf("applied = %d; want 1", n)
	}

	c, err := repo.GetContactByJID(ctx, db, "5511999@s.whatsapp.net", inst.ID)
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if c.Phone != "5511999" || c.PushName != "Ana" {
		t.Fatalf("contact fields: %#v", c)
	}

	// A later observation updates the same row.
	e.UpsertContacts(ctx, inst.ID, []provider.ContactRecord{
		{JID: "5511999@s.whatsapp.net", PushName: "Ana Maria", IsBusiness: true},
	})
	again, _ := repo.GetContactByJID(ctx, db, "5511999@s.whatsapp.net", inst.ID)
	if again.ID != c.ID {
		t.Fatal("upsert must not create a second row")
	}
	if again.PushName != "Ana Maria" || !again.IsBusiness {
		t.Fatalf("contact not updated: %#v", again)
	}
}

func TestUpsertChats_AutoCreatesContact(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	n := e.UpsertChats(ctx, inst.ID, []provider.ChatRecord{
		{RemoteJID: "5511888@s.whatsapp.net", Name: "Bruno", UnreadCount: 2, LastMsgTime: 1700000000, Preview: "see you"},
	})
	if n != 1 {
		t.Fatalf("applied = %d; want 1", n)
	}

	contact, err := repo.GetContactByJID(ctx, db, "5511888@s.whatsapp.net", inst.ID)
	if err != nil {
		t.Fatalf("contact should be auto-created first: %v", err)
	}
	chat, err := repo.GetChatByJID(ctx, db, "5511888@s.whatsapp.net", inst.ID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if chat.ContactID != contact.ID {
		t.Fatal("chat must reference the auto-created contact")
	}
	if chat.UnreadCount != 2 || chat.LastMessageText != "see you" || chat.LastMessageAt == nil {
		t.Fatalf("chat fields: %#v", chat)
	}
}

func TestUpsertMessages_AutoCreateOrdering(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	// A bare message with no prior contact or chat observation.
	n := e.UpsertMessages(ctx, inst.ID, []provider.MessageRecord{
		textMessage("M1", "5511777@s.whatsapp.net", "first contact", 1700000100),
	})
	if n != 1 {
		t.Fatalf("applied = %d; want 1", n)
	}

	contact, err := repo.GetContactByJID(ctx, db, "5511777@s.whatsapp.net", inst.ID)
	if err != nil {
		t.Fatalf("contact auto-create: %v", err)
	}
	chat, err := repo.GetChatByJID(ctx, db, "5511777@s.whatsapp.net", inst.ID)
	if err != nil {
		t.Fatalf("chat auto-create: %v", err)
	}
	if chat.ContactID != contact.ID {
		t.Fatal("chat must reference its contact")
	}
	msg, err := repo.GetMessageByProviderID(ctx, db, "M1", inst.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.ChatID != chat.ID || msg.Content != "first contact" || msg.Type != provider.KindText {
		t.Fatalf("message fields: %#v", msg)
	}
	if msg.SentAt == nil || msg.SentAt.Unix() != 1700000100 {
		t.Fatalf("sent_at = %v", msg.SentAt)
	}
	// Chat preview follows the message.
	if chat2, _ := repo.GetChatByJID(ctx, db, "5511777@s.whatsapp.net", inst.ID); chat2.LastMessageText != "first contact" {
		t.Fatalf("chat preview not touched: %#v", chat2)
	}
}

func TestUpsertMessages_ReplayConverges(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	rec := textMessage("M2", "jid@s.whatsapp.net", "hello", 1700000200)
	e.UpsertMessages(ctx, inst.ID, []provider.MessageRecord{rec})

	rec.Status = "READ"
	e.UpsertMessages(ctx, inst.ID, []provider.MessageRecord{rec})

	chat, _ := repo.GetChatByJID(ctx, db, "jid@s.whatsapp.net", inst.ID)
	n, err := repo.CountMessages(ctx, db, chat.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("replay must converge to one row, got %d", n)
	}
	msg, _ := repo.GetMessageByProviderID(ctx, db, "M2", inst.ID)
	if msg.Status != "READ" {
		t.Fatalf("replay must carry the newer status, got %q", msg.Status)
	}
}

func TestUpsertMessages_MediaCaption(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	e.UpsertMessages(ctx, inst.ID, []provider.MessageRecord{{
		Key:     provider.MessageKey{ID: "M3", RemoteJID: "jid@s.whatsapp.net"},
		Message: &provider.MessageBody{Image: &provider.MediaMessage{Caption: "our storefront", URL: "https://cdn/front.jpg"}},
	}})

	msg, err := repo.GetMessageByProviderID(ctx, db, "M3", inst.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if msg.Type != provider.KindImage || msg.Caption != "our storefront" || msg.Content != "" {
		t.Fatalf("media message fields: %#v", msg)
	}
	if msg.MediaURL != "https://cdn/front.jpg" {
		t.Fatalf("media url = %q", msg.MediaURL)
	}
}

func TestUpsertMessages_SkipsRecordsWithoutKey(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})

	n := e.UpsertMessages(context.Background(), inst.ID, []provider.MessageRecord{
		{Key: provider.MessageKey{ID: "", RemoteJID: "jid"}},
		{Key: provider.MessageKey{ID: "M4", RemoteJID: ""}},
	})
	if n != 0 {
		t.Fatalf("keyless records must be skipped, applied = %d", n)
	}
}

func TestApplyStatusUpdates(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	e.UpsertMessages(ctx, inst.ID, []provider.MessageRecord{
		textMessage("M5", "jid@s.whatsapp.net", "visible", 1700000300),
	})

	applied := e.ApplyStatusUpdates(ctx, inst.ID, []StatusUpdate{
		{Key: provider.MessageKey{ID: "M5"}, Status: "DELIVERED"},
		{Key: provider.MessageKey{ID: ""}, Status: "READ"},       // no key
		{Key: provider.MessageKey{ID: "ghost"}, Status: "READ"},  // never seen; repo treats as no-op
		{Key: provider.MessageKey{ID: "M5"}, Revoked: true},
	})
	if applied < 2 {
		t.Fatalf("applied = %d; want at least the status and the revoke", applied)
	}

	msg, _ := repo.GetMessageByProviderID(ctx, db, "M5", inst.ID)
	if !msg.Deleted || msg.Content != repo.RedactedContent {
		t.Fatalf("revoked message not redacted: %#v", msg)
	}
}

func TestApplyConnection(t *testing.T) {
	db := newReconcileDB(t)
	seedInstance(t, db)
	e := NewEngine(db, &fakeDirectory{})
	ctx := context.Background()

	if err := e.ApplyConnection(ctx, "shop", "open", "5511999999999@s.whatsapp.net"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	inst, _ := repo.GetInstanceByName(ctx, db, "shop")
	if inst.Status != domain.InstanceConnected {
		t.Fatalf("status = %q", inst.Status)
	}
	if inst.Number != "5511999999999" {
		t.Fatalf("number = %q; want the paired number with the JID suffix stripped", inst.Number)
	}

	if err := e.ApplyConnection(ctx, "shop", "close", ""); err != nil {
		t.Fatalf("apply: %v", err)
	}
	inst, _ = repo.GetInstanceByName(ctx, db, "shop")
	if inst.Status != domain.InstanceDisconnected {
		t.Fatalf("status = %q", inst.Status)
	}
	if inst.Number != "5511999999999" {
		t.Fatalf("number = %q; an empty observation must keep the stored number", inst.Number)
	}

	if err := e.ApplyConnection(ctx, "nope", "open", ""); err == nil {
		t.Fatal("unknown instance must error")
	}
}

func TestPullSync_FullMirror(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)

	dir := &fakeDirectory{
		contacts: []provider.ContactRecord{
			{JID: "a@s.whatsapp.net", PushName: "A"},
			{JID: "b@s.whatsapp.net", PushName: "B"},
		},
		chats: []provider.ChatRecord{
			{RemoteJID: "a@s.whatsapp.net"},
			{RemoteJID: "b@s.whatsapp.net"},
		},
		messages: map[string][]provider.MessageRecord{
			"a@s.whatsapp.net": {
				textMessage("A1", "a@s.whatsapp.net", "hi", 1700000400),
				textMessage("A2", "a@s.whatsapp.net", "there", 1700000401),
			},
			"b@s.whatsapp.net": {
				textMessage("B1", "b@s.whatsapp.net", "yo", 1700000402),
			},
		},
	}
	e := NewEngine(db, dir)

	sum, err := e.PullSync(context.Background(), inst)
	if err != nil {
		t.Fatalf("pull sync: %v", err)
	}
	if sum.Contacts != 2 || sum.Chats != 2 || sum.Messages != 3 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestPullSync_PagesUntilShortPage(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)

	// One full page plus a short one: exactly two FindMessages calls.
	var msgs []provider.MessageRecord
	for i := 0; i < syncPageSize+5; i++ {
		msgs = append(msgs, textMessage(fmt.Sprintf("P%d", i), "a@s.whatsapp.net", "m", 1700000500+int64(i)))
	}
	dir := &fakeDirectory{
		chats:    []provider.ChatRecord{{RemoteJID: "a@s.whatsapp.net"}},
		messages: map[string][]provider.MessageRecord{"a@s.whatsapp.net": msgs},
	}
	e := NewEngine(db, dir)

	sum, err := e.PullSync(context.Background(), inst)
	if err != nil {
		t.Fatalf("pull sync: %v", err)
	}
	if sum.Messages != syncPageSize+5 {
		t.Fatalf("messages = %d; want %d", sum.Messages, syncPageSize+5)
	}
	if dir.findMessagesCalls != 2 {
		t.Fatalf("FindMessages called %d times; want 2", dir.findMessagesCalls)
	}
}

func TestPullSync_ReRunIsIdempotent(t *testing.T) {
	db := newReconcileDB(t)
	inst := seedInstance(t, db)

	dir := &fakeDirectory{
		contacts: []provider.ContactRecord{{JID: "a@s.whatsapp.net"}},
		chats:    []provider.ChatRecord{{RemoteJID: "a@s.whatsapp.net"}},
		messages: map[string][]provider.MessageRecord{
			"a@s.whatsapp.net": {textMessage("A1", "a@s.whatsapp.net", "hi", 1700000600)},
		},
	}
	e := NewEngine(db, dir)
	ctx := context.Background()

	if _, err := e.PullSync(ctx, inst); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if _, err := e.PullSync(ctx, inst); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	var contacts, chats int64
	db.Model(&domain.Contact{}).Count(&contacts)
	db.Model(&domain.Chat{}).Count(&chats)
	if contacts != 1 || chats != 1 {
		t.Fatalf("re-run duplicated rows: contacts=%d chats=%d", contacts, chats)
	}
	chat, _ := repo.GetChatByJID(ctx, db, "a@s.whatsapp.net", inst.ID)
	if n, _ := repo.CountMessages(ctx, db, chat.ID); n != 1 {
		t.Fatalf("re-run duplicated messages: %d", n)
	}
}
