package auditctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActorRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := WithActor(context.Background(), Actor{UserID: "donor-1", IPAddress: "10.0.0.1", RequestID: "req-1"})
	actor, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "donor-1", actor.UserID)
	require.False(t, actor.IsJob())
}

func TestForJob(t *testing.T) {
	actor, ok := FromContext(ForJob(context.Background(), "expiry-sweep"))
	require.True(t, ok)
	require.True(t, actor.IsJob())
	require.Equal(t, "expiry-sweep", actor.Job)
	require.Equal(t, "lifelink/expiry-sweep", actor.UserAgent)
}
