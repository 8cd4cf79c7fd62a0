package webhooks

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/meridian-rms/meridian-rms/testing"
)

func TestSignKnownVector(t *testing.T) {
	body := []byte(`{"id":"evt_1","type":"rental.returned"}`)
	sig := Sign("whsec_0123456789abcdef", body)
	require.Equal(t, "06a946357c783ef3e459ba68dd84bbe5454f8487e403f43420daa1c3c96c13f6", sig)
}

func TestSignDependsOnSecretAndBody(t *testing.T) {
	body := []byte(`{"id":"evt_1"}`)
	require.NotEqual(t, Sign("secret-a", body), Sign("secret-b", body))
	require.NotEqual(t, Sign("secret-a", body), Sign("secret-a", []byte(`{"id":"evt_2"}`)))
}

func TestVerifySignature(t *testing.T) {
	body := []byte("hello")
	require.True(t, VerifySignature("k", body, "406e4b43f87095aa86ca6299d25e875921fefa180f02043bb29bec5681c0c2d0"))
	require.False(t, VerifySignature("k", body, "deadbeef"))
	require.False(t, VerifySignature("wrong", body, "406e4b43f87095aa86ca6299d25e875921fefa180f02043bb29bec5681c0c2d0"))
}

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "****cdef", maskSecret("whsec_0123456789abcdef"))
	require.Equal(t, "****", maskSecret("ab"))
}
