package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lanshare/logging"
	"lanshare/models"
	"lanshare/network"
	"lanshare/relay"
	"lanshare/session"
	"lanshare/storage"
	"lanshare/transfer"
)

func TestParseCommand(t *testing.T) {
	req := require.New(t)

	cmd, err := parseCommand("  msg 2   hello   there  ")
	req.NoError(err)
	req.Equal("msg", cmd.name)
	req.Equal("2", cmd.target)
	req.Equal("hello   there", cmd.text)

	cmd, err = parseCommand("files * a.txt b.png")
	req.NoError(err)
	req.Equal("*", cmd.target)
	req.Equal([]string{"a.txt", "b.png"}, cmd.paths)

	cmd, err = parseCommand("history")
	req.NoError(err)
	req.Equal(defaultHistoryLimit, cmd.limit)

	cmd, err = parseCommand("HISTORY 5")
	req.NoError(err)
	req.Equal("history", cmd.name)
	req.Equal(5, cmd.limit)

	cmd, err = parseCommand("exit")
	req.NoError(err)
	req.Equal("quit", cmd.name)

	cmd, err = parseCommand("   ")
	req.NoError(err)
	req.Empty(cmd.name)

	for _, line := range []string{"msg", "msg 1", "files *", "history zero", "history -1"} {
		_, err := parseCommand(line)
		req.ErrorIs(err, errUsage, line)
	}
	cmd, err = parseCommand("save 2  /tmp/my notes.txt")
	req.NoError(err)
	req.Equal("save", cmd.name)
	req.Equal(2, cmd.index)
	req.Equal("/tmp/my notes.txt", cmd.path)

	for _, line := range []string{"save", "save 1", "save 0 out.txt", "save x out.txt"} {
		_, err := parseCommand(line)
		req.ErrorIs(err, errUsage, line)
	}
	_, err = parseCommand("dance")
	req.ErrorIs(err, errUnknownCommand)
}

func TestResolveTarget(t *testing.T) {
	req := require.New(t)
	peers := []models.PeerInfo{
		{ID: "client_self00001", DisplayName: "Red Fox", IsSelf: true},
		{ID: "client_abc123456", DisplayName: "Blue Whale"},
		{ID: "client_abd999999", DisplayName: "Amber Albatross"},
	}
	others := peers[1:]

	for token, want := range map[string]string{
		"*":                "",
		"all":              "",
		"1":                "client_abc123456",
		"2":                "client_abd999999",
		"client_abc123456": "client_abc123456",
		"bluewhale":        "client_abc123456",
		"Amber-Albatross":  "client_abd999999",
		"client_abd":       "client_abd999999",
		"client_self":      "client_self00001",
	} {
		got, err := resolveTarget(peers, others, token)
		req.NoError(err, token)
		req.Equal(want, got, token)
	}

	for _, token := range []string{"0", "3", "client_ab", "nobody"} {
		_, err := resolveTarget(peers, others, token)
		req.ErrorIs(err, errUnknownPeer, token)
	}
}

func TestFormatPeersNumbersOthers(t *testing.T) {
	out := formatPeers([]models.PeerInfo{
		{ID: "a1", DisplayName: "Red Fox", IsSelf: true},
		{ID: "b2", DisplayName: "Blue Whale", IP: "192.168.1.4", OS: "Linux", Browser: "lanshare"},
		{ID: "c3"},
	})

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "  *. Red Fox (a1) [you]", lines[0])
	require.Equal(t, "  1. Blue Whale (b2) 192.168.1.4 Linux lanshare", lines[1])
	require.Equal(t, "  2. c3 (c3)", lines[2])
	require.Equal(t, "no peers connected", formatPeers(nil))
}

func TestFormatNotification(t *testing.T) {
	req := require.New(t)
	from := models.PeerInfo{ID: "b2", DisplayName: "Blue Whale"}

	req.Empty(formatNotification(nil))
	req.Equal("Blue Whale: hi", formatNotification(&models.InboundNotification{Message: "hi", From: from}))
	req.Equal("Blue Whale is sending a.txt", formatNotification(&models.InboundNotification{
		Message: "a.txt", From: from, DataType: network.DataTypeLoadingFiles,
	}))
	req.Contains(formatNotification(&models.InboundNotification{
		Message: "a.txt", From: from, DataType: network.DataTypeFilesFailed, Error: "timed out",
	}), "failed: a.txt (timed out)")

	files := formatNotification(&models.InboundNotification{
		Message:  "a.txt",
		From:     from,
		DataType: network.DataTypeFiles,
		Data:     []models.DecodedFile{{Name: "a.txt", Type: "text/plain", Size: 2, URL: "file:///tmp/x"}},
	})
	req.Equal("Blue Whale sent 1 file(s):\n  a.txt (text/plain, 2 bytes) file:///tmp/x", files)
}

func TestFormatHistory(t *testing.T) {
	req := require.New(t)
	at := time.Date(2026, 3, 4, 10, 11, 12, 0, time.Local).UnixMilli()

	out := formatHistory([]storage.Message{
		{Kind: storage.MessageKindInfo, Content: "Blue Whale joined", ReceivedAt: at},
		{Kind: storage.MessageKindMessage, FromName: "Blue Whale", Content: "hi", ReceivedAt: at},
		{Kind: storage.MessageKindFiles, FromID: "b2", Content: "a.txt", ReceivedAt: at},
	})
	req.Equal("Mar 04 10:11:12  -- Blue Whale joined\n"+
		"Mar 04 10:11:12  Blue Whale: hi\n"+
		"Mar 04 10:11:12  b2 [files] a.txt", out)
	req.Equal("no history", formatHistory(nil))
}

func TestUserAgentIdentifiesClient(t *testing.T) {
	agent := relay.ParseUserAgent(userAgent())
	require.Equal(t, "lanshare", agent.Browser)
}

// syncBuffer is a bytes.Buffer safe for the console's writer goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startTestRelay(t *testing.T) string {
	t.Helper()

	hub := relay.NewHub(relay.Options{Logger: logging.Discard()})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func newTestSession(t *testing.T, url, id, name string) (*session.Session, *storage.Store, *transfer.BlobStore) {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blobs, err := transfer.NewBlobStore(transfer.BlobStoreOptions{
		Dir:    t.TempDir(),
		Ledger: store,
		Logger: logging.Discard(),
	})
	require.NoError(t, err)

	sess, err := session.New(session.Options{
		Identity:      models.ClientIdentity{ID: id, DisplayName: name},
		RelayURL:      url,
		RetryInterval: 20 * time.Millisecond,
		Blobs:         blobs,
		History:       store,
		Logger:        logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Start())
	t.Cleanup(func() { _ = sess.Close() })
	return sess, store, blobs
}

func TestConsoleSendsMessagesAndFiles(t *testing.T) {
	req := require.New(t)
	url := startTestRelay(t)

	alice, aliceStore, aliceBlobs := newTestSession(t, url, "client_alice0001", "Red Fox")
	req.Eventually(func() bool { return len(alice.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)

	bob, _, _ := newTestSession(t, url, "client_bob000001", "Blue Whale")
	req.Eventually(func() bool {
		return alice.Connected() && len(alice.Peers()) == 2 && len(bob.Peers()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	in, feed := io.Pipe()
	defer feed.Close()
	out := &syncBuffer{}
	c := newConsole(alice, aliceStore, aliceBlobs, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, in) }()

	_, err := io.WriteString(feed, "msg bluewhale hello   bob\n")
	req.NoError(err)
	req.Eventually(func() bool {
		n := bob.Notification()
		return n != nil && n.Message == "hello   bob" && n.From.ID == "client_alice0001"
	}, 5*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "notes.txt")
	req.NoError(os.WriteFile(path, []byte("some notes"), 0o600))
	_, err = io.WriteString(feed, "files 1 "+path+"\n")
	req.NoError(err)
	req.Eventually(func() bool {
		n := bob.Notification()
		return n != nil && n.DataType == network.DataTypeFiles && len(n.Data) == 1
	}, 5*time.Second, 10*time.Millisecond)
	req.Equal("notes.txt", bob.Notification().Data[0].Name)

	_, err = io.WriteString(feed, "msg nobody hi\npeers\nhistory\nquit\n")
	req.NoError(err)
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("console did not stop on quit")
	}

	req.Eventually(func() bool { return strings.Contains(out.String(), "sent 1 file(s)") }, 5*time.Second, 10*time.Millisecond)
	text := out.String()
	req.Contains(text, "connected to relay")
	req.Contains(text, "1. Blue Whale (client_bob000001)")
	req.Contains(text, errUnknownPeer.Error())
	req.Contains(text, "-- Blue Whale joined")
}

func TestConsoleStopsOnEOF(t *testing.T) {
	url := startTestRelay(t)
	sess, _, _ := newTestSession(t, url, "client_eof000001", "Green Owl")

	c := newConsole(sess, nil, nil, &syncBuffer{})
	err := c.run(context.Background(), strings.NewReader("history\n"))
	require.NoError(t, err)
}

func TestConsoleHistoryWithoutStore(t *testing.T) {
	url := startTestRelay(t)
	sess, _, _ := newTestSession(t, url, "client_nostore01", "Green Owl")

	c := newConsole(sess, nil, nil, &syncBuffer{})
	_, err := c.exec(context.Background(), "history")
	require.Error(t, err)

	quit, err := c.exec(context.Background(), "quit")
	require.NoError(t, err)
	require.True(t, quit)

	_, err = c.exec(context.Background(), "files * /does/not/exist.txt")
	require.Error(t, err)

	_, err = c.exec(context.Background(), "save 1 "+t.TempDir())
	require.ErrorIs(t, err, errNoSuchFile)
}

func TestConsoleSavesReceivedFile(t *testing.T) {
	req := require.New(t)
	url := startTestRelay(t)

	alice, _, _ := newTestSession(t, url, "client_alice0001", "Red Fox")
	req.Eventually(func() bool { return len(alice.Peers()) == 1 }, 5*time.Second, 10*time.Millisecond)
	bob, _, bobBlobs := newTestSession(t, url, "client_bob000001", "Blue Whale")
	req.Eventually(func() bool { return len(alice.Others()) == 1 && len(bob.Others()) == 1 }, 5*time.Second, 10*time.Millisecond)

	upload, err := alice.SendFiles("client_bob000001",
		transfer.BytesFile("a.txt", "text/plain", []byte("first")),
		transfer.BytesFile("b.txt", "text/plain", []byte("second")),
	)
	req.NoError(err)
	req.NoError(upload.Err())
	req.Eventually(func() bool {
		n := bob.Notification()
		return n != nil && n.DataType == network.DataTypeFiles && len(n.Data) == 2
	}, 5*time.Second, 10*time.Millisecond)

	out := &syncBuffer{}
	c := newConsole(bob, nil, bobBlobs, out)

	dir := t.TempDir()
	_, err = c.exec(context.Background(), "save 2 "+dir)
	req.NoError(err)
	saved, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	req.NoError(err)
	req.Equal("second", string(saved))

	target := filepath.Join(dir, "renamed.txt")
	_, err = c.exec(context.Background(), "save 1 "+target)
	req.NoError(err)
	saved, err = os.ReadFile(target)
	req.NoError(err)
	req.Equal("first", string(saved))
	req.Contains(out.String(), "saved a.txt to "+target)

	_, err = c.exec(context.Background(), "save 3 "+dir)
	req.ErrorIs(err, errNoSuchFile)
}
