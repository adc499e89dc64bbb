package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ragcore/internal/logpipeline"
)

type fakeLogger struct {
	logs     []logpipeline.InteractionRecord
	sessions []logpipeline.SessionUpdate
}

func (f *fakeLogger) EnqueueLog(rec logpipeline.InteractionRecord) { f.logs = append(f.logs, rec) }
func (f *fakeLogger) EnqueueSessionUpdate(u logpipeline.SessionUpdate) {
	f.sessions = append(f.sessions, u)
}

func TestLogTurn_EnqueuesUserAssistantAndSessionUpdate(t *testing.T) {
	logger := &fakeLogger{}
	o := &Orchestrator{}
	o.LogTurn(logger,
		logpipeline.InteractionRecord{MessageType: "user"},
		logpipeline.InteractionRecord{MessageType: "assistant"},
		logpipeline.SessionUpdate{SessionID: "s1", DeltaMessages: 2},
	)
	assert.Len(t, logger.logs, 2)
	assert.Len(t, logger.sessions, 1)
}

func TestLogTurn_NilLoggerIsNoop(t *testing.T) {
	o := &Orchestrator{}
	assert.NotPanics(t, func() {
		o.LogTurn(nil, logpipeline.InteractionRecord{}, logpipeline.InteractionRecord{}, logpipeline.SessionUpdate{})
	})
}
