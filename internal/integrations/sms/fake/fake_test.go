package fake

import (
	"context"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"
)

// phoneWithHashMod finds a phone number whose fnv32a hash has the given
// remainder mod 10.
func phoneWithHashMod(t *testing.T, want uint32) string {
	t.Helper()
	for i := 0; i < 10000; i++ {
		phone := "+5730000" + string(rune('0'+i%10)) + string(rune('0'+(i/10)%10)) + string(rune('0'+(i/100)%10))
		h := fnv.New32a()
		_, _ = h.Write([]byte(phone))
		if h.Sum32()%10 == want {
			return phone
		}
	}
	t.Fatal("no candidate phone found")
	return ""
}

func TestSend_SequentialIDs(t *testing.T) {
	c := NewAlwaysOK()
	ctx := context.Background()

	r1, err := c.Send(ctx, "+57300", "uno")
	require.NoError(t, err)
	r2, err := c.Send(ctx, "+57300", "dos")
	require.NoError(t, err)

	require.Equal(t, "fake-1", r1.ProviderID)
	require.Equal(t, "fake-2", r2.ProviderID)
}

func TestSend_DeterministicFailure(t *testing.T) {
	c := New()
	ctx := context.Background()

	bad := phoneWithHashMod(t, 0)
	_, err := c.Send(ctx, bad, "hola")
	require.Error(t, err)
	require.Contains(t, err.Error(), bad)

	// Same number fails the same way every time.
	_, err = c.Send(ctx, bad, "hola")
	require.Error(t, err)

	good := phoneWithHashMod(t, 1)
	_, err = c.Send(ctx, good, "hola")
	require.NoError(t, err)
}

func TestNewAlwaysOK_NeverFails(t *testing.T) {
	c := NewAlwaysOK()
	bad := phoneWithHashMod(t, 0)

	res, err := c.Send(context.Background(), bad, "hola")
	require.NoError(t, err)
	require.Contains(t, res.ProviderID, "fake-")
}
