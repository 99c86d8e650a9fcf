package main

import (
	"fmt"
	"io"
	"sort"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"text/tabwriter"
)

// sortByUrgency orders rooms by priority, then by unread agent messages,
// then by most recent activity.
func sortByUrgency(rooms []models.ChatRoom) []models.ChatRoom {
	sort.SliceStable(rooms, func(i, j int) bool {
		a, b := rooms[i], rooms[j]
		if wa, wb := config.PriorityWeights[string(a.Priority)], config.PriorityWeights[string(b.Priority)]; wa != wb {
			return wa > wb
		}
		if a.AgentUnread != b.AgentUnread {
			return a.AgentUnread > b.AgentUnread
		}
		return a.LastActivity.After(b.LastActivity)
	})
	return rooms
}

func printRooms(out io.Writer, rooms []models.ChatRoom) {
	if len(rooms) == 0 {
		fmt.Fprintln(out, "No rooms.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATUS\tCUSTOMER\tAGENT\tUNREAD\tLAST ACTIVITY\tSUBJECT")
	for _, room := range rooms {
		fmt.Fprintln(w, describe(room))
	}
	w.Flush()
}
