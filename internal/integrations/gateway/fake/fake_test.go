package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFake_Deterministic(t *testing.T) {
	f := New()
	ctx := context.Background()

	r1, err1 := f.Send(ctx, "SMS", "+15550001111", "hello")
	r2, err2 := f.Send(ctx, "SMS", "+15550001111", "different body")

	require.Equal(t, err1 == nil, err2 == nil)
	require.Equal(t, r1.ProviderID, r2.ProviderID)
}

func TestFake_ProviderIDOnSuccess(t *testing.T) {
	f := New()

	// Хотя бы один из адресов обязан доставиться.
	delivered := false
	for _, to := range []string{"+15550000001", "+15550000002", "+15550000003"} {
		if res, err := f.Send(context.Background(), "SMS", to, "x"); err == nil {
			require.NotEmpty(t, res.ProviderID)
			delivered = true
		}
	}
	require.True(t, delivered)
}
