package a2a

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// taskRecord is one agent's participation in one game. A task is created
// on the first accepted join and lives until the agent leaves, is ejected
// out of the server, or the game ends and the session is reaped.
type taskRecord struct {
	TaskID    string
	AgentID   string
	Address   string
	SessionID string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// taskStore keeps task records in memory, indexed by task id and by
// agent. One live task per agent; a new join after leaving replaces the
// agent index entry while the old record stays readable by id.
type taskStore struct {
	mu      sync.RWMutex
	byID    map[string]*taskRecord
	byAgent map[string]string
	now     func() time.Time
}

func newTaskStore() *taskStore {
	return &taskStore{
		byID:    make(map[string]*taskRecord),
		byAgent: make(map[string]string),
		now:     time.Now,
	}
}

// create registers a new working task for the agent.
func (s *taskStore) create(agentID, address, sessionID string) *taskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &taskRecord{
		TaskID:    uuid.NewString(),
		AgentID:   agentID,
		Address:   address,
		SessionID: sessionID,
		State:     TaskStateWorking,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.byID[rec.TaskID] = rec
	s.byAgent[agentID] = rec.TaskID
	return rec
}

// get returns a copy of the record for the given task id.
func (s *taskStore) get(taskID string) (taskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[taskID]
	if !ok {
		return taskRecord{}, false
	}
	return *rec, true
}

// forAgent returns a copy of the agent's current task record.
func (s *taskStore) forAgent(agentID string) (taskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAgent[agentID]
	if !ok {
		return taskRecord{}, false
	}
	rec, ok := s.byID[id]
	if !ok {
		return taskRecord{}, false
	}
	return *rec, true
}

// setState moves a task to a terminal or working state. The agent index
// entry is dropped on terminal states so a later join starts fresh.
func (s *taskStore) setState(taskID, state string) (taskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[taskID]
	if !ok {
		return taskRecord{}, false
	}
	rec.State = state
	rec.UpdatedAt = s.now()
	if state != TaskStateWorking && s.byAgent[rec.AgentID] == taskID {
		delete(s.byAgent, rec.AgentID)
	}
	return *rec, true
}

// completeSession marks every working task of a session terminal. Used
// when a game ends or its session is reaped.
func (s *taskStore) completeSession(sessionID, state string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.byID {
		if rec.SessionID != sessionID || rec.State != TaskStateWorking {
			continue
		}
		rec.State = state
		rec.UpdatedAt = s.now()
		if s.byAgent[rec.AgentID] == rec.TaskID {
			delete(s.byAgent, rec.AgentID)
		}
		n++
	}
	return n
}
