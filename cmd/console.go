package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"lanshare/models"
	"lanshare/network"
	"lanshare/session"
	"lanshare/storage"
	"lanshare/transfer"
)

const defaultHistoryLimit = 20

var (
	errUnknownCommand = errors.New("unknown command, type help")
	errUnknownPeer    = errors.New("no such peer, type peers")
	errNoSuchFile     = errors.New("no such received file")
	errUsage          = errors.New("usage")
)

const helpText = `commands:
  peers                        list connected devices
  msg <peer|*> <text>          send a text message
  files <peer|*> <path>...     send one or more files
  save <n> <path>              copy the nth received file to path (a file or directory)
  clear                        dismiss the current notification
  history [n]                  show the last n history entries
  quit                         disconnect and exit
peers are addressed by list number, client id (or a unique prefix) or name without spaces`

type command struct {
	name   string
	target string
	text   string
	paths  []string
	limit  int
	index  int
	path   string
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0])}

	switch cmd.name {
	case "peers", "clear", "help":
		return cmd, nil
	case "quit", "exit":
		cmd.name = "quit"
		return cmd, nil
	case "history":
		cmd.limit = defaultHistoryLimit
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n <= 0 {
				return command{}, fmt.Errorf("%w: history [n]", errUsage)
			}
			cmd.limit = n
		}
		return cmd, nil
	case "msg":
		if len(fields) < 3 {
			return command{}, fmt.Errorf("%w: msg <peer|*> <text>", errUsage)
		}
		cmd.target = fields[1]
		cmd.text = restAfter(line, 2)
		return cmd, nil
	case "files":
		if len(fields) < 3 {
			return command{}, fmt.Errorf("%w: files <peer|*> <path>...", errUsage)
		}
		cmd.target = fields[1]
		cmd.paths = fields[2:]
		return cmd, nil
	case "save":
		if len(fields) < 3 {
			return command{}, fmt.Errorf("%w: save <n> <path>", errUsage)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return command{}, fmt.Errorf("%w: save <n> <path>", errUsage)
		}
		cmd.index = n
		cmd.path = restAfter(line, 2)
		return cmd, nil
	default:
		return command{}, errUnknownCommand
	}
}

// restAfter returns line without its first n fields, keeping the inner spacing.
func restAfter(line string, n int) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		field := strings.Fields(rest)[0]
		rest = strings.TrimSpace(rest[len(field):])
	}
	return rest
}

// resolveTarget maps a peer token to a client id. "*" and "all" mean broadcast.
// Numbers index others, the roster without self, as listed by formatPeers.
func resolveTarget(peers, others []models.PeerInfo, token string) (string, error) {
	if token == "*" || strings.EqualFold(token, "all") {
		return "", nil
	}

	if n, err := strconv.Atoi(token); err == nil {
		if n < 1 || n > len(others) {
			return "", errUnknownPeer
		}
		return others[n-1].ID, nil
	}

	if peer, ok := lo.Find(peers, func(peer models.PeerInfo) bool { return peer.ID == token }); ok {
		return peer.ID, nil
	}
	if peer, ok := lo.Find(peers, func(peer models.PeerInfo) bool { return compactName(peer.DisplayName) == compactName(token) }); ok {
		return peer.ID, nil
	}
	prefixed := lo.Filter(peers, func(peer models.PeerInfo, _ int) bool { return strings.HasPrefix(peer.ID, token) })
	if len(prefixed) == 1 {
		return prefixed[0].ID, nil
	}
	return "", errUnknownPeer
}

func compactName(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(name)
}

func formatPeers(peers []models.PeerInfo) string {
	if len(peers) == 0 {
		return "no peers connected"
	}
	var b strings.Builder
	n := 0
	for _, peer := range peers {
		label := "  *"
		if !peer.IsSelf {
			n++
			label = fmt.Sprintf("%3d", n)
		}
		fmt.Fprintf(&b, "%s. %s (%s)", label, displayOrID(peer), peer.ID)
		details := lo.Compact([]string{peer.IP, peer.OS, peer.Browser, peer.Device})
		if len(details) > 0 {
			fmt.Fprintf(&b, " %s", strings.Join(details, " "))
		}
		if peer.IsSelf {
			b.WriteString(" [you]")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatNotification(n *models.InboundNotification) string {
	if n == nil {
		return ""
	}
	from := displayOrID(n.From)
	switch n.DataType {
	case network.DataTypeLoadingFiles:
		return fmt.Sprintf("%s is sending %s", from, n.Message)
	case network.DataTypeFilesFailed:
		return fmt.Sprintf("files from %s failed: %s (%s)", from, n.Message, n.Error)
	case network.DataTypeFiles, network.DataTypeFile:
		var b strings.Builder
		fmt.Fprintf(&b, "%s sent %d file(s):", from, len(n.Data))
		for _, file := range n.Data {
			fmt.Fprintf(&b, "\n  %s (%s, %d bytes) %s", file.Name, file.Type, file.Size, file.URL)
		}
		return b.String()
	default:
		return fmt.Sprintf("%s: %s", from, n.Message)
	}
}

func formatHistory(messages []storage.Message) string {
	if len(messages) == 0 {
		return "no history"
	}
	lines := lo.Map(messages, func(m storage.Message, _ int) string {
		at := time.UnixMilli(m.ReceivedAt).Format("Jan 02 15:04:05")
		from := m.FromName
		if from == "" {
			from = m.FromID
		}
		switch m.Kind {
		case storage.MessageKindInfo:
			return fmt.Sprintf("%s  -- %s", at, m.Content)
		case storage.MessageKindMessage:
			return fmt.Sprintf("%s  %s: %s", at, from, m.Content)
		default:
			return fmt.Sprintf("%s  %s [%s] %s", at, from, m.Kind, m.Content)
		}
	})
	return strings.Join(lines, "\n")
}

func displayOrID(peer models.PeerInfo) string {
	if peer.DisplayName != "" {
		return peer.DisplayName
	}
	return peer.ID
}

type historyReader interface {
	RecentMessages(limit int) ([]storage.Message, error)
}

type blobOpener interface {
	Open(blobURL string) (io.ReadCloser, error)
}

// saveFile copies a received blob to path. A directory path keeps the sender's file name.
func saveFile(blobs blobOpener, file models.DecodedFile, path string) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, filepath.Base(file.Name))
	}

	src, err := blobs.Open(file.URL)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, dst.Close()
}

// console drives a session from line commands and prints its state changes.
type console struct {
	sess    *session.Session
	history historyReader
	blobs   blobOpener
	out     io.Writer

	mu        sync.Mutex
	connected bool
	peers     string
	note      string
	uploads   sync.WaitGroup
}

func newConsole(sess *session.Session, history historyReader, blobs blobOpener, out io.Writer) *console {
	return &console{sess: sess, history: history, blobs: blobs, out: out}
}

// Write serializes progress bar output with the rest of the console.
func (c *console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run reads commands from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.sess.Updates():
			c.render()
		case err := <-c.sess.Errors():
			c.printf("error: %v\n", err)
		case line, ok := <-lines:
			if !ok {
				c.uploads.Wait()
				return nil
			}
			quit, err := c.exec(ctx, line)
			if err != nil {
				c.printf("%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *console) render() {
	connected := c.sess.Connected()
	peers := formatPeers(c.sess.Peers())
	note := formatNotification(c.sess.Notification())

	c.mu.Lock()
	defer c.mu.Unlock()
	if connected != c.connected {
		c.connected = connected
		if connected {
			fmt.Fprintln(c.out, "connected to relay")
		} else {
			fmt.Fprintln(c.out, "relay connection lost, retrying")
		}
	}
	if peers != c.peers {
		c.peers = peers
		fmt.Fprintf(c.out, "peers:\n%s\n", peers)
	}
	if note != c.note {
		c.note = note
		if note != "" {
			fmt.Fprintln(c.out, note)
		}
	}
}

func (c *console) exec(ctx context.Context, line string) (bool, error) {
	cmd, err := parseCommand(line)
	if err != nil {
		return false, err
	}

	switch cmd.name {
	case "":
		return false, nil
	case "quit":
		return true, nil
	case "help":
		c.printf("%s\n", helpText)
	case "peers":
		c.printf("%s\n", formatPeers(c.sess.Peers()))
	case "clear":
		c.sess.Clear()
	case "history":
		if c.history == nil {
			return false, errors.New("history unavailable without storage")
		}
		messages, err := c.history.RecentMessages(cmd.limit)
		if err != nil {
			return false, err
		}
		c.printf("%s\n", formatHistory(messages))
	case "msg":
		to, err := resolveTarget(c.sess.Peers(), c.sess.Others(), cmd.target)
		if err != nil {
			return false, err
		}
		return false, c.sess.SendText(to, cmd.text)
	case "files":
		to, err := resolveTarget(c.sess.Peers(), c.sess.Others(), cmd.target)
		if err != nil {
			return false, err
		}
		return false, c.sendFiles(ctx, to, cmd.paths)
	case "save":
		note := c.sess.Notification()
		if note == nil || cmd.index > len(note.Data) {
			return false, errNoSuchFile
		}
		if c.blobs == nil {
			return false, errors.New("received files unavailable")
		}
		file := note.Data[cmd.index-1]
		saved, err := saveFile(c.blobs, file, cmd.path)
		if err != nil {
			return false, err
		}
		c.printf("saved %s to %s\n", file.Name, saved)
	}
	return false, nil
}

func (c *console) sendFiles(ctx context.Context, to string, paths []string) error {
	sources := lo.Map(paths, func(path string, _ int) transfer.Source { return transfer.LocalFile(path) })
	batch, err := transfer.Describe(sources...)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(
		batch.TotalSize(),
		progressbar.OptionSetWriter(c),
		progressbar.OptionSetDescription(fmt.Sprintf("sending %d file(s)", len(batch.Files))),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	var (
		progressMu sync.Mutex
		perFile    = make([]int64, len(batch.Files))
	)
	progress := func(index int, done int64) {
		progressMu.Lock()
		defer progressMu.Unlock()
		if index < 0 || index >= len(perFile) {
			return
		}
		perFile[index] = done
		_ = bar.Set64(lo.Sum(perFile))
	}

	upload, err := c.sess.SendBatch(to, progress, batch)
	if err != nil {
		_ = bar.Exit()
		return err
	}

	c.uploads.Add(1)
	go func() {
		defer c.uploads.Done()
		select {
		case <-upload.Done():
		case <-ctx.Done():
			return
		}
		progressMu.Lock()
		_ = bar.Finish()
		progressMu.Unlock()
		if err := upload.Err(); err != nil {
			c.printf("\nsending %s failed: %v\n", strings.Join(paths, ", "), err)
			return
		}
		c.printf("\nsent %d file(s)\n", len(upload.Files))
	}()
	return nil
}
