package main

import (
	"bytes"
	"supportchat/backend/internal/models"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortByUrgency(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rooms := []models.ChatRoom{
		{RoomID: "low", Priority: models.PriorityLow, AgentUnread: 9, LastActivity: base.Add(time.Hour)},
		{RoomID: "normal-old", Priority: models.PriorityNormal, LastActivity: base},
		{RoomID: "urgent", Priority: models.PriorityUrgent, LastActivity: base},
		{RoomID: "normal-new", Priority: models.PriorityNormal, LastActivity: base.Add(time.Minute)},
		{RoomID: "normal-unread", Priority: models.PriorityNormal, AgentUnread: 1, LastActivity: base},
	}

	var got []string
	for _, r := range sortByUrgency(rooms) {
		got = append(got, r.RoomID)
	}
	assert.Equal(t, []string{"urgent", "normal-unread", "normal-new", "normal-old", "low"}, got)
}

func TestPrintRooms(t *testing.T) {
	var buf bytes.Buffer
	printRooms(&buf, nil)
	assert.Equal(t, "No rooms.\n", buf.String())

	buf.Reset()
	agent := "agent-1"
	printRooms(&buf, []models.ChatRoom{{
		RoomID:       "r1",
		CustomerID:   "cust-1",
		AgentID:      &agent,
		Status:       models.RoomOpen,
		Priority:     models.PriorityHigh,
		AgentUnread:  2,
		LastActivity: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "PRIORITY")
	assert.Contains(t, out, "agent-1")
	assert.Contains(t, out, "2 unread")
	assert.Contains(t, out, "2024-05-01 10:30")
	assert.Contains(t, out, "(no subject)")
}
