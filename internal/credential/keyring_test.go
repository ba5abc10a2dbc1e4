package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/require"
)

func TestMailboxKey(t *testing.T) {
	require.Equal(t, "mailbox-me@corp.example", MailboxKey(" Me@Corp.example "))
}

func TestStoreRoundTrip(t *testing.T) {
	t.Setenv(PasswordEnv, "")
	s := &Store{Ring: keyring.NewArrayKeyring(nil)}

	_, err := s.Password("me@corp.example")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(MailboxKey("me@corp.example"), "s3cret"))

	pw, err := s.Password("ME@corp.example")
	require.NoError(t, err)
	require.Equal(t, "s3cret", pw)

	require.NoError(t, s.Delete(MailboxKey("me@corp.example")))
}

func TestPasswordEnvOverride(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")
	s := &Store{Ring: keyring.NewArrayKeyring(nil)}

	pw, err := s.Password("me@corp.example")
	require.NoError(t, err)
	require.Equal(t, "from-env", pw)
}
