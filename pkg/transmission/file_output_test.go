package transmission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/relay/internal/persist"
)

func newTestStore(t *testing.T, capacityKB int64) *persist.Store {
	t.Helper()
	store, err := persist.NewStore(t.TempDir(), capacityKB, nil)
	require.NoError(t, err)
	return store
}

func startFileOutput(t *testing.T, store *persist.Store, policy *PolicyManager, tracker *Tracker) *FileOutput {
	t.Helper()
	out := NewFileOutput(FileOutputConfig{Workers: 1}, store, policy, tracker, nil)
	out.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = out.Stop(ctx)
	})
	return out
}

func TestFileOutputPersistsTransmission(t *testing.T) {
	store := newTestStore(t, 1024)
	policy := NewPolicyManager(NewExponentialBackoff(), true, nil)
	tracker := NewTracker()
	out := startFileOutput(t, store, policy, tracker)

	tr := New([]byte("payload"), ContentTypeJSONStream, ContentEncodingGzip)
	require.True(t, out.Send(tr))

	require.Eventually(t, func() bool { return tracker.Persists(tr.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	loaded, err := store.TakeOldest()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []byte("payload"), loaded.Frame.Content)
	assert.Equal(t, ContentTypeJSONStream, loaded.Frame.ContentType)
	assert.Equal(t, ContentEncodingGzip, loaded.Frame.ContentEncoding)
	store.Complete(loaded)
}

func TestFileOutputRefusesWhenPersistenceIsBlocked(t *testing.T) {
	store := newTestStore(t, 1024)
	policy := NewPolicyManager(NewExponentialBackoff(), true, nil)
	out := startFileOutput(t, store, policy, NewTracker())

	policy.SuspendInSeconds(StateBlockedAndCannotBePersist, time.Hour)
	assert.False(t, out.Send(New([]byte("payload"), ContentTypeJSONStream, "")))
}

func TestFileOutputRefusesAtCapacity(t *testing.T) {
	store := newTestStore(t, 1)
	policy := NewPolicyManager(NewExponentialBackoff(), true, nil)
	tracker := NewTracker()
	out := startFileOutput(t, store, policy, tracker)

	big := make([]byte, 1100)
	tr := New(big, ContentTypeJSONStream, "")
	require.True(t, out.Send(tr))
	require.Eventually(t, func() bool { return store.CapacityReached() }, 2*time.Second, 10*time.Millisecond)

	assert.False(t, out.Send(New(big, ContentTypeJSONStream, "")))
}
