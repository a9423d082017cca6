package sftpops

import (
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoinRemote(t *testing.T) {
	require.Equal(t, "/home/user/file.txt", joinRemote("/home/user", "file.txt"))
	require.Equal(t, "/home/user/file.txt", joinRemote("/home/user/", "file.txt"))
}

func TestPermString(t *testing.T) {
	require.Equal(t, "0755", permString(os.FileMode(0o755)))
	require.Equal(t, "0600", permString(os.FileMode(0o600)))
}

func TestSortDirsFirstThenCaseInsensitive(t *testing.T) {
	entries := []Entry{
		{Name: "zebra.txt", IsDir: false},
		{Name: "Apple", IsDir: true},
		{Name: "banana.txt", IsDir: false},
		{Name: "aardvark", IsDir: true},
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})

	want := []string{"aardvark", "Apple", "banana.txt", "zebra.txt"}
	for i, e := range entries {
		require.Equal(t, want[i], e.Name)
	}
}
