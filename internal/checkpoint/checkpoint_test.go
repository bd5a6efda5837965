package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaypoint/crmagent/internal/agent"
	"github.com/relaypoint/crmagent/pkg/models"
)

func sampleEvent() *agent.Event {
	return &agent.Event{Kind: agent.EventToolResult, ToolCallID: "call-1", ToolName: "execute_soql_query", ToolOK: true}
}

func sampleState() *agent.WorkflowState {
	state := agent.NewWorkflowState("conv_1", "conn-1", 0.85, 10)
	state.Messages = append(state.Messages,
		models.Message{Role: models.RoleUser, Content: "how many accounts?"},
		models.Message{Role: models.RoleAssistant, Content: "42"},
	)
	state.AppendClientResult("call-1", "execute_soql_query", []byte(`{"records":[]}`))
	state.Conversation.Summary = &models.ConversationSummary{
		ObjectResolution: models.ObjectResolution{
			APINames: []string{"Account"},
		},
	}
	return state
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	loaded, err := store.Load(ctx, "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Fatal("absent conversation should load nil")
	}

	if err := store.Save(ctx, "conv_1", sampleState()); err != nil {
		t.Fatal(err)
	}
	loaded, err = store.Load(ctx, "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("saved conversation should load")
	}
	if loaded.Meta.ConversationID != "conv_1" || loaded.Meta.ConnectionID != "conn-1" {
		t.Errorf("meta mismatch: %+v", loaded.Meta)
	}
	if loaded.Conversation.Summary == nil || len(loaded.Conversation.Summary.ObjectResolution.APINames) != 1 {
		t.Error("summary not persisted")
	}
}

func TestSaveClearsTurnScopedFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	state := sampleState()
	if err := store.Save(ctx, "conv_1", state); err != nil {
		t.Fatal(err)
	}

	// The caller's state is untouched.
	if len(state.Messages) != 2 || len(state.ClientResults) != 1 {
		t.Error("Save mutated the caller's state")
	}

	loaded, err := store.Load(ctx, "conv_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Messages) != 0 {
		t.Errorf("persisted messages = %d, want 0", len(loaded.Messages))
	}
	if len(loaded.ClientResults) != 0 {
		t.Errorf("persisted client results = %d, want 0", len(loaded.ClientResults))
	}
}

func TestLoadReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Save(ctx, "conv_1", sampleState()); err != nil {
		t.Fatal(err)
	}

	first, _ := store.Load(ctx, "conv_1")
	first.Conversation.Summary.ObjectResolution.APINames[0] = "Mutated"

	second, _ := store.Load(ctx, "conv_1")
	if second.Conversation.Summary.ObjectResolution.APINames[0] != "Account" {
		t.Error("Load shares state between callers")
	}
}

func TestMemoryWritesLog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	events := []*agent.Event{
		{Kind: agent.EventStart},
		{Kind: agent.EventThought, ToolName: "search_for_sobjects", ToolCallID: "call-1"},
		{Kind: agent.EventFinal, Text: "done"},
	}
	for _, ev := range events {
		if err := store.WritesLog(ctx, "conv_1", ev); err != nil {
			t.Fatal(err)
		}
	}

	entries := store.Log("conv_1")
	if len(entries) != 3 {
		t.Fatalf("log entries = %d, want 3", len(entries))
	}
	if entries[1].Event.ToolName != "search_for_sobjects" {
		t.Errorf("entry = %+v", entries[1])
	}
}

func TestLocalLockerSerializes(t *testing.T) {
	locker := NewLocalLocker(time.Second)
	ctx := context.Background()

	if err := locker.Lock(ctx, "conv_1"); err != nil {
		t.Fatal(err)
	}

	// A different conversation is independent.
	if err := locker.Lock(ctx, "conv_2"); err != nil {
		t.Fatalf("independent conversation blocked: %v", err)
	}
	locker.Unlock("conv_2")

	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := locker.Lock(ctx, "conv_1"); err != nil {
			t.Errorf("second lock failed: %v", err)
			return
		}
		close(acquired)
		locker.Unlock("conv_1")
	}()

	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	locker.Unlock("conv_1")
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("waiter did not acquire after release")
	}
}

func TestLocalLockerTimeout(t *testing.T) {
	locker := NewLocalLocker(50 * time.Millisecond)
	ctx := context.Background()

	if err := locker.Lock(ctx, "conv_1"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("conv_1")

	if err := locker.Lock(ctx, "conv_1"); err != ErrLockTimeout {
		t.Errorf("err = %v, want ErrLockTimeout", err)
	}
}

func TestLocalLockerContextCancel(t *testing.T) {
	locker := NewLocalLocker(time.Minute)
	if err := locker.Lock(context.Background(), "conv_1"); err != nil {
		t.Fatal(err)
	}
	defer locker.Unlock("conv_1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := locker.Lock(ctx, "conv_1"); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
