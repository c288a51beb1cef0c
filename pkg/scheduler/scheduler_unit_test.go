package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/types"
)

// TestRankCandidates tests candidate filtering and ordering
func TestRankCandidates(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		workers  []*types.Worker
		expected []string
	}{
		{
			name: "most free capacity first",
			workers: []*types.Worker{
				{ID: "w-1", Capacity: 2, Status: types.WorkerStatusIdle, Jobs: []string{"a"}, LastHeartbeat: now},
				{ID: "w-2", Capacity: 4, Status: types.WorkerStatusIdle, Jobs: []string{"b"}, LastHeartbeat: now},
			},
			expected: []string{"w-2", "w-1"},
		},
		{
			name: "tie broken by most recent heartbeat",
			workers: []*types.Worker{
				{ID: "w-1", Capacity: 2, Status: types.WorkerStatusIdle, LastHeartbeat: now.Add(-10 * time.Second)},
				{ID: "w-2", Capacity: 2, Status: types.WorkerStatusIdle, LastHeartbeat: now},
			},
			expected: []string{"w-2", "w-1"},
		},
		{
			name: "full identical workers ordered by id",
			workers: []*types.Worker{
				{ID: "w-b", Capacity: 1, Status: types.WorkerStatusIdle, LastHeartbeat: now},
				{ID: "w-a", Capacity: 1, Status: types.WorkerStatusIdle, LastHeartbeat: now},
			},
			expected: []string{"w-a", "w-b"},
		},
		{
			name: "busy and offline workers filtered out",
			workers: []*types.Worker{
				{ID: "w-1", Capacity: 1, Status: types.WorkerStatusBusy, Jobs: []string{"a"}, LastHeartbeat: now},
				{ID: "w-2", Capacity: 3, Status: types.WorkerStatusOffline, LastHeartbeat: now},
				{ID: "w-3", Capacity: 1, Status: types.WorkerStatusIdle, LastHeartbeat: now},
			},
			expected: []string{"w-3"},
		},
		{
			name:     "empty worker list",
			workers:  []*types.Worker{},
			expected: nil,
		},
		{
			name:     "nil worker list",
			workers:  nil,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, w := range rankCandidates(tt.workers) {
				got = append(got, w.ID)
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestWakesScheduler(t *testing.T) {
	tests := []struct {
		event    events.EventType
		expected bool
	}{
		{events.EventJobPending, true},
		{events.EventWorkerRegistered, true},
		{events.EventWorkerIdle, true},
		{events.EventJobRunning, false},
		{events.EventJobProgress, false},
		{events.EventWorkerOffline, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			assert.Equal(t, tt.expected, wakesScheduler(tt.event))
		})
	}
}
