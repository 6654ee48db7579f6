package blocklist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListBlocked(t *testing.T) {
	t.Parallel()

	l := New([]string{" Internal.Example.com ", "*.corp.test", ".gov", "", "*."})
	require.NotNil(t, l)

	tests := []struct {
		host string
		want bool
	}{
		{"internal.example.com", true},
		{"INTERNAL.example.com.", true},
		{"internal.example.com:8443", true},
		{"www.example.com", false},
		{"corp.test", true},
		{"a.b.corp.test", true},
		{"notcorp.test", false},
		{"whitehouse.gov", true},
		{"", false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, l.Blocked(tt.host), tt.host)
	}
}

func TestListBlockedURL(t *testing.T) {
	t.Parallel()

	l := New([]string{"*.corp.test"})
	require.True(t, l.BlockedURL("https://wiki.corp.test/pricing"))
	require.False(t, l.BlockedURL("https://rival.example/pricing"))
	require.False(t, l.BlockedURL("://bad"))
}

func TestNilList(t *testing.T) {
	t.Parallel()

	var l *List
	require.Nil(t, New(nil))
	require.Nil(t, New([]string{" ", "*."}))
	require.False(t, l.Blocked("anything.test"))
	require.False(t, l.BlockedURL("https://anything.test"))
}
