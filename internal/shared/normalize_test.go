package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, "acme gmbh", NormalizeKey("  ACME   GmbH "))
	require.Equal(t, NormalizeKey("Café Nord"), NormalizeKey("Café NORD"))
	require.Equal(t, "", NormalizeKey("   "))
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "SKU-100", NormalizeCode(" sku-100 "))
	require.Equal(t, "AB12", NormalizeCode("a b 1 2"))
}
