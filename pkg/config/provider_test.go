package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	s := Defaults()
	s.Location = "/opt/a"
	p := NewStaticProvider(s)
	assert.Equal(t, "/opt/a", p.Current().Location)

	// Unchanged settings are not announced.
	p.Set(s)
	select {
	case <-p.Changes():
		t.Fatal("unexpected change")
	default:
	}

	// Only the latest unread change is kept.
	s.Location = "/opt/b"
	p.Set(s)
	s.Location = "/opt/c"
	p.Set(s)

	got := <-p.Changes()
	assert.Equal(t, "/opt/c", got.Location)
	select {
	case <-p.Changes():
		t.Fatal("stale change still queued")
	default:
	}
}

func TestFileProviderOverride(t *testing.T) {
	path := writeConfig(t, "pqhost.yaml", "location: /opt/file\n")
	p, err := NewFileProvider(path, func(s *Settings) { s.Framing = "line" })
	require.NoError(t, err)

	assert.Equal(t, "/opt/file", p.Current().Location)
	assert.Equal(t, "line", p.Current().Framing)
	assert.Equal(t, path, p.Path())
}

func TestFileProviderWatch(t *testing.T) {
	path := writeConfig(t, "pqhost.yaml", "location: /opt/one\n")
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Watch(ctx)

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("location: /opt/two\n"), 0600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case s := <-p.Changes():
		assert.Equal(t, "/opt/two", s.Location)
	case <-time.After(5 * time.Second):
		t.Fatal("change not announced")
	}
	assert.Equal(t, "/opt/two", p.Current().Location)
}

func TestFileProviderKeepsSettingsOnInvalidFile(t *testing.T) {
	path := writeConfig(t, "pqhost.yaml", "location: /opt/one\n")
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("location: [\n"), 0600))
	p.reload()
	assert.Equal(t, "/opt/one", p.Current().Location)
}
