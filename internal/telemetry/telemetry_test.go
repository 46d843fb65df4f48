package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/guildauth/internal/config"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	p, err := New(context.Background(), config.Config{ServiceName: "guildauth"}, zap.NewNop())
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "test")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	var nilProvider *Provider
	require.NotNil(t, nilProvider.Tracer())
	require.NoError(t, nilProvider.Shutdown(context.Background()))
}
