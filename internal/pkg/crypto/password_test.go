package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	digest, err := HashPassword("s3cret42")
	require.NoError(t, err)
	require.NotEmpty(t, digest)

	require.True(t, VerifyPassword(digest, "s3cret42"))
	require.False(t, VerifyPassword(digest, "wrong"))
	require.False(t, VerifyPassword(digest, ""))
}

func TestHashPasswordSalted(t *testing.T) {
	a, err := HashPassword("same-password1")
	require.NoError(t, err)
	b, err := HashPassword("same-password1")
	require.NoError(t, err)

	// bcrypt salts, so two digests of the same password differ but both verify.
	require.NotEqual(t, a, b)
	require.True(t, VerifyPassword(a, "same-password1"))
	require.True(t, VerifyPassword(b, "same-password1"))
}

func TestLegacyDigest(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{name: "deterministic", a: "admin123", b: "admin123", same: true},
		{name: "distinct inputs", a: "admin123", b: "admin124", same: false},
		{name: "empty input", a: "", b: "", same: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			da, db := LegacyDigest(tt.a), LegacyDigest(tt.b)
			if tt.same {
				require.Equal(t, da, db)
			} else {
				require.NotEqual(t, da, db)
			}
		})
	}
}

func TestVerifyPasswordLegacyRecords(t *testing.T) {
	stored := LegacyPrefix + LegacyDigest("oldpassword1")

	require.True(t, VerifyPassword(stored, "oldpassword1"))
	require.False(t, VerifyPassword(stored, "newpassword1"))

	// The raw digest without the prefix must not verify as bcrypt.
	require.False(t, VerifyPassword(LegacyDigest("oldpassword1"), "oldpassword1"))
}
