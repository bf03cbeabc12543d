package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/boundary"
	"github.com/getvergo/autoflow/pkg/browser/browsertest"
	"github.com/getvergo/autoflow/pkg/contracts"
)

func testPolicy() boundary.Policy {
	return boundary.Policy{BaseDomain: "getvergo.com"}
}

func TestCapture_RecordsOrderedLog(t *testing.T) {
	m := NewManager(DefaultConfig())
	page := browsertest.New()

	s, err := m.StartCapture(context.Background(), "rec-1", "https://app.getvergo.com", page, testPolicy())
	require.NoError(t, err)
	require.True(t, m.IsActive("rec-1"))

	ctx := context.Background()
	_, err = s.Observe(ctx, Observed{Type: contracts.ActionNavigate, URL: "https://app.getvergo.com/orders"})
	require.NoError(t, err)
	_, err = s.Observe(ctx, Observed{Type: contracts.ActionClick, Selector: "#new-order", TagName: "button", ElementText: "New order"})
	require.NoError(t, err)
	_, err = s.Observe(ctx, Observed{Type: contracts.ActionTypeText, Selector: "input[name=\"customer\"]", Value: "ACME"})
	require.NoError(t, err)

	actions := m.StopCapture("rec-1")
	require.Len(t, actions, 3)
	for i, a := range actions {
		assert.Equal(t, i, a.Order)
		assert.NotEmpty(t, a.ID)
	}
	assert.Equal(t, contracts.ActionClick, actions[1].Type)
	assert.Equal(t, "New order", actions[1].Metadata.ElementText)
	require.NoError(t, contracts.ValidateLog(actions))
	assert.True(t, page.Closed())
}

func TestStopCapture_Idempotent(t *testing.T) {
	m := NewManager(DefaultConfig())
	page := browsertest.New()

	s, err := m.StartCapture(context.Background(), "rec-1", "https://getvergo.com", page, testPolicy())
	require.NoError(t, err)
	_, err = s.Observe(context.Background(), Observed{Type: contracts.ActionClick, Selector: "#x"})
	require.NoError(t, err)

	first := m.StopCapture("rec-1")
	assert.Len(t, first, 1)

	second := m.StopCapture("rec-1")
	assert.NotNil(t, second)
	assert.Empty(t, second)
	assert.False(t, m.IsActive("rec-1"))
}

func TestCapture_DeniedNavigationPausesSession(t *testing.T) {
	m := NewManager(DefaultConfig())
	s, err := m.StartCapture(context.Background(), "rec-1", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)

	_, err = s.Observe(context.Background(), Observed{Type: contracts.ActionNavigate, URL: "https://gmail.com"})
	require.ErrorIs(t, err, boundary.ErrNavigationDenied)

	meta, ok := m.GetSession("rec-1")
	require.True(t, ok)
	assert.True(t, meta.Paused)
	assert.Contains(t, meta.PauseReason, "gmail.com")
	assert.Zero(t, meta.ActionCount) // denied navigation produces no action

	// Returning to sanctioned territory clears the pause.
	_, err = s.Observe(context.Background(), Observed{Type: contracts.ActionNavigate, URL: "https://app.getvergo.com"})
	require.NoError(t, err)
	meta, _ = m.GetSession("rec-1")
	assert.False(t, meta.Paused)
}

func TestCapture_EvictsIdleThenOldest(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cfg := DefaultConfig()
	cfg.MaxSessions = 2
	cfg.IdleTimeout = time.Minute
	m := NewManager(cfg).WithClock(clock)

	_, err := m.StartCapture(context.Background(), "a", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)

	now = now.Add(10 * time.Second)
	_, err = m.StartCapture(context.Background(), "b", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)

	// "a" has been idle past the timeout; it goes first.
	now = now.Add(2 * time.Minute)
	_, err = m.StartCapture(context.Background(), "c", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)
	assert.False(t, m.IsActive("a"))
	assert.False(t, m.IsActive("b")) // b was idle too
	assert.True(t, m.IsActive("c"))

	// Nobody idle: the oldest by creation time is evicted.
	_, err = m.StartCapture(context.Background(), "d", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)
	_, err = m.StartCapture(context.Background(), "e", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)
	assert.False(t, m.IsActive("c"))
	assert.True(t, m.IsActive("d"))
	assert.True(t, m.IsActive("e"))
	assert.Equal(t, 2, m.ActiveCount())
}

func TestCapture_DuplicateKeyRejected(t *testing.T) {
	m := NewManager(DefaultConfig())
	_, err := m.StartCapture(context.Background(), "dup", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)
	_, err = m.StartCapture(context.Background(), "dup", "https://getvergo.com", browsertest.New(), testPolicy())
	assert.ErrorIs(t, err, ErrSessionExists)
}

type screenshotRecorder struct {
	saved int
}

func (s *screenshotRecorder) Save(_ context.Context, _ []byte) (string, error) {
	s.saved++
	return "shots/1.png", nil
}

func TestCapture_ScreenshotByReference(t *testing.T) {
	shots := &screenshotRecorder{}
	cfg := DefaultConfig()
	cfg.Screenshots = shots
	m := NewManager(cfg)

	s, err := m.StartCapture(context.Background(), "rec", "https://getvergo.com", browsertest.New(), testPolicy())
	require.NoError(t, err)

	a, err := s.Observe(context.Background(), Observed{Type: contracts.ActionClick, Selector: "#x", Screenshot: true})
	require.NoError(t, err)
	assert.Equal(t, "shots/1.png", a.Metadata.ScreenshotRef)
	assert.Equal(t, 1, shots.saved)
}
