package recipientresolve

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poppins-pipeline/internal/common/logger"
	"poppins-pipeline/internal/common/store"
	"poppins-pipeline/internal/events"
	"poppins-pipeline/internal/models"
)

// ==========================
// Test Helpers
// ==========================

func newTestHandler(t *testing.T) (*Handler, *store.Memory) {
	st := store.NewMemory()
	handler := NewHandler(DefaultConfig(), st, logger.NewTestLogger(t))
	handler.newID = func() string { return "notif-test" }
	return handler, st
}

func seedMessage(t *testing.T, st *store.Memory, id string, msg models.MessageRecord) events.Event {
	require.NoError(t, st.Set(context.Background(), models.CollectionMessages, id, msg))

	var doc json.RawMessage
	require.NoError(t, st.Get(context.Background(), models.CollectionMessages, id, &doc))
	return events.Event{Collection: models.CollectionMessages, ID: id, Doc: doc}
}

func seedTenantWithChild(t *testing.T, st *store.Memory, tenantID string, childID string, child models.ChildRecord) {
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, models.CollectionTenants, tenantID, models.TenantRecord{
		Name:       "Les Lutins",
		OwnerEmail: "owner@creche.fr",
	}))
	require.NoError(t, st.Set(ctx, models.ChildrenCollection(tenantID), childID, child))
}

func getCreatedNotification(t *testing.T, st *store.Memory) models.NotificationRecord {
	var record models.NotificationRecord
	require.NoError(t, st.Get(context.Background(), models.CollectionNotifications, "notif-test", &record))
	return record
}

func messageFrom(role, childID, content string) models.MessageRecord {
	return models.MessageRecord{
		ChildID:    childID,
		SenderRole: role,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
}

// ==========================
// Handler Tests
// ==========================

func TestHandler_Handle_ParentMessageNotifiesAssignedStaff(t *testing.T) {
	handler, st := newTestHandler(t)
	seedTenantWithChild(t, st, "tenant-1", "child-1", models.ChildRecord{
		FirstName:          "Emma",
		ParentEmail:        "parent@example.com",
		AssignedStaffEmail: "Nounou@Creche.fr ",
	})
	ev := seedMessage(t, st, "msg-1", messageFrom(models.SenderRoleParent, "child-1", "Emma sera absente demain"))

	require.NoError(t, handler.Handle(context.Background(), ev))

	record := getCreatedNotification(t, st)
	assert.Equal(t, "nounou@creche.fr", record.RecipientID)
	assert.Equal(t, "Nouveau message d'un parent", record.Title)
	assert.Equal(t, "Emma sera absente demain", record.Body)
	assert.Equal(t, "msg-1", record.Data["messageId"])
	assert.False(t, record.Sent)

	var msg models.MessageRecord
	require.NoError(t, st.Get(context.Background(), models.CollectionMessages, "msg-1", &msg))
	assert.True(t, msg.NotificationSent)
}

func TestHandler_Handle_ParentMessageFallsBackToTenantOwner(t *testing.T) {
	handler, st := newTestHandler(t)
	seedTenantWithChild(t, st, "tenant-1", "child-1", models.ChildRecord{
		ParentEmail: "parent@example.com",
	})
	ev := seedMessage(t, st, "msg-2", messageFrom(models.SenderRoleParent, "child-1", "Bonjour"))

	require.NoError(t, handler.Handle(context.Background(), ev))

	assert.Equal(t, "owner@creche.fr", getCreatedNotification(t, st).RecipientID)
}

func TestHandler_Handle_AssistantMessageNotifiesLinkedParent(t *testing.T) {
	handler, st := newTestHandler(t)
	ctx := context.Background()
	seedTenantWithChild(t, st, "tenant-1", "child-1", models.ChildRecord{
		ParentEmail: "Stale.Address@example.com",
	})
	require.NoError(t, st.Set(ctx, models.CollectionUsers, "parent@example.com", models.UserRecord{
		DeviceToken: "token-1",
		ChildIDs:    []string{"child-9", "child-1"},
	}))
	ev := seedMessage(t, st, "msg-3", messageFrom(models.SenderRoleAssistant, "child-1", "Emma a bien mangé"))

	require.NoError(t, handler.Handle(ctx, ev))

	record := getCreatedNotification(t, st)
	assert.Equal(t, "parent@example.com", record.RecipientID)
	assert.Equal(t, "Nouveau message des Lutins", record.Title)
}

func TestHandler_Handle_AssistantMessageFallsBackToChildRecord(t *testing.T) {
	handler, st := newTestHandler(t)
	seedTenantWithChild(t, st, "tenant-1", "child-1", models.ChildRecord{
		ParentEmail: " Parent@Example.com",
	})
	ev := seedMessage(t, st, "msg-4", messageFrom(models.SenderRoleAssistant, "child-1", ""))

	require.NoError(t, handler.Handle(context.Background(), ev))

	record := getCreatedNotification(t, st)
	assert.Equal(t, "parent@example.com", record.RecipientID)
	assert.Equal(t, "Vous avez reçu un nouveau message", record.Body)
}

func TestHandler_Handle_UsesReverseIndexWhenPresent(t *testing.T) {
	handler, st := newTestHandler(t)
	ctx := context.Background()

	// Two tenants; the index points straight at the second one.
	seedTenantWithChild(t, st, "tenant-a", "other-child", models.ChildRecord{ParentEmail: "x@example.com"})
	require.NoError(t, st.Set(ctx, models.CollectionTenants, "tenant-b", models.TenantRecord{OwnerEmail: "owner-b@creche.fr"}))
	require.NoError(t, st.Set(ctx, models.ChildrenCollection("tenant-b"), "child-1", models.ChildRecord{
		ParentEmail:        "parent@example.com",
		AssignedStaffEmail: "staff-b@creche.fr",
	}))
	require.NoError(t, st.Set(ctx, models.CollectionChildIndex, "child-1", models.ChildIndexEntry{TenantID: "tenant-b"}))

	ev := seedMessage(t, st, "msg-5", messageFrom(models.SenderRoleParent, "child-1", "Bonjour"))
	require.NoError(t, handler.Handle(ctx, ev))

	assert.Equal(t, "staff-b@creche.fr", getCreatedNotification(t, st).RecipientID)
}

func TestHandler_Handle_UnknownChildLeavesMessageUnresolved(t *testing.T) {
	handler, st := newTestHandler(t)
	ev := seedMessage(t, st, "msg-6", messageFrom(models.SenderRoleParent, "missing-child", "Bonjour"))

	require.NoError(t, handler.Handle(context.Background(), ev))

	exists, err := st.Exists(context.Background(), models.CollectionNotifications, "notif-test")
	require.NoError(t, err)
	assert.False(t, exists)

	var msg models.MessageRecord
	require.NoError(t, st.Get(context.Background(), models.CollectionMessages, "msg-6", &msg))
	assert.False(t, msg.NotificationSent)
}

func TestHandler_Handle_AlreadyNotifiedIsSkipped(t *testing.T) {
	handler, st := newTestHandler(t)
	msg := messageFrom(models.SenderRoleParent, "child-1", "Bonjour")
	msg.NotificationSent = true
	ev := seedMessage(t, st, "msg-7", msg)

	require.NoError(t, handler.Handle(context.Background(), ev))

	exists, err := st.Exists(context.Background(), models.CollectionNotifications, "notif-test")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHandler_Handle_UnknownSenderRoleIsSkipped(t *testing.T) {
	handler, st := newTestHandler(t)
	ev := seedMessage(t, st, "msg-8", messageFrom("robot", "child-1", "Bonjour"))

	require.NoError(t, handler.Handle(context.Background(), ev))

	exists, err := st.Exists(context.Background(), models.CollectionNotifications, "notif-test")
	require.NoError(t, err)
	assert.False(t, exists)
}

// ==========================
// Unresolved Sweep Tests
// ==========================

func TestHandler_SweepUnresolved_RetriesOldMessagesOnly(t *testing.T) {
	handler, st := newTestHandler(t)
	ctx := context.Background()

	seedTenantWithChild(t, st, "tenant-1", "child-1", models.ChildRecord{
		ParentEmail:        "parent@example.com",
		AssignedStaffEmail: "staff@creche.fr",
	})

	old := messageFrom(models.SenderRoleParent, "child-1", "Bonjour")
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	seedMessage(t, st, "msg-old", old)

	fresh := messageFrom(models.SenderRoleParent, "child-1", "Bonjour")
	seedMessage(t, st, "msg-fresh", fresh)

	require.NoError(t, handler.SweepUnresolved(ctx))

	var oldMsg, freshMsg models.MessageRecord
	require.NoError(t, st.Get(ctx, models.CollectionMessages, "msg-old", &oldMsg))
	require.NoError(t, st.Get(ctx, models.CollectionMessages, "msg-fresh", &freshMsg))
	assert.True(t, oldMsg.NotificationSent)
	assert.False(t, freshMsg.NotificationSent)
}
