// Package sftpops implements the flat list/read/write/rename/delete/mkdir
// operation surface over an already-open SFTP session.
package sftpops

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "sftpops")

// Entry describes one directory listing row.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDir       bool   `json:"is_dir"`
	Permissions string `json:"permissions,omitempty"`
	Modified    int64  `json:"modified"`
}

// List returns the contents of remotePath, "."/".." stripped, directories
// first, then case-insensitive name ascending.
func List(client *sftp.Client, remotePath string) ([]Entry, error) {
	items, err := client.ReadDir(remotePath)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		name := item.Name()
		if name == "." || name == ".." {
			continue
		}
		if !utf8.ValidString(name) {
			name = strings.ToValidUTF8(name, "�")
		}

		entries = append(entries, Entry{
			Name:        name,
			Path:        joinRemote(remotePath, name),
			Size:        item.Size(),
			IsDir:       item.IsDir(),
			Permissions: permString(item.Mode()),
			Modified:    item.ModTime().Unix(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

func joinRemote(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}

func permString(mode os.FileMode) string {
	return fmt.Sprintf("%04s", strconv.FormatUint(uint64(mode.Perm()), 8))
}

// Read downloads remotePath in full.
func Read(client *sftp.Client, remotePath string) ([]byte, error) {
	f, err := client.Open(remotePath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// Write overwrites remotePath with data.
func Write(client *sftp.Client, remotePath string, data []byte) error {
	f, err := client.Create(remotePath)
	if err != nil {
		return trace.Wrap(err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Delete removes remotePath, choosing rmdir or unlink based on isDir. No
// recursive delete.
func Delete(client *sftp.Client, remotePath string, isDir bool) error {
	var err error
	if isDir {
		err = client.RemoveDirectory(remotePath)
	} else {
		err = client.Remove(remotePath)
	}
	if err != nil {
		log.WithError(err).WithField("path", remotePath).Debug("delete failed")
		return trace.Wrap(err)
	}
	return nil
}

// Rename moves oldPath to newPath.
func Rename(client *sftp.Client, oldPath, newPath string) error {
	if err := client.Rename(oldPath, newPath); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Mkdir creates remotePath. The parent must already exist; there is no
// mkdir -p behavior.
func Mkdir(client *sftp.Client, remotePath string) error {
	if err := client.Mkdir(remotePath); err != nil {
		return trace.Wrap(err)
	}
	return nil
}
