package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"lanshare/logging"
	"lanshare/models"
	"lanshare/network"
	"lanshare/storage"
	"lanshare/transfer"
)

const (
	// DefaultLoadingTimeout bounds how long a file batch placeholder stays pending.
	DefaultLoadingTimeout = 2 * time.Minute

	frameQueueSize  = 64
	actionQueueSize = 64
	errorQueueSize  = 32
)

var (
	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("session: closed")
	// ErrNotDelivered indicates a frame was dropped because the relay connection was not open.
	ErrNotDelivered = errors.New("session: relay not connected, frame dropped")
)

// History receives every surfaced notification and roster change. *storage.Store implements it.
type History interface {
	SaveMessage(message storage.Message) error
}

// Options configures a Session.
type Options struct {
	Identity       models.ClientIdentity
	RelayURL       string
	RetryInterval  time.Duration
	LoadingTimeout time.Duration
	Blobs          *transfer.BlobStore
	History        History
	Header         http.Header
	Dialer         *websocket.Dialer
	Logger         *logrus.Logger
}

// Session is the single object the application observes: roster, latest notification,
// transfer state and connectivity.
type Session struct {
	identity       models.ClientIdentity
	log            *logrus.Entry
	transport      *network.Transport
	blobs          *transfer.BlobStore
	history        History
	loadingTimeout time.Duration

	// loop-owned
	roster       *Roster
	loadingTimer *time.Timer
	loadingC     <-chan time.Time

	frames  chan []byte
	actions chan func()
	updates chan struct{}
	errs    chan error

	stateMu      sync.RWMutex
	peers        []models.PeerInfo
	others       []models.PeerInfo
	notification *models.InboundNotification
	filesLoading bool
	connected    bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	encodes   sync.WaitGroup
	uploadsMu sync.Mutex
	uploads   map[*Upload]struct{}
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New builds a session. Call Start to connect.
func New(options Options) (*Session, error) {
	if options.Identity.ID == "" {
		return nil, errors.New("identity is required")
	}
	if options.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if options.LoadingTimeout <= 0 {
		options.LoadingTimeout = DefaultLoadingTimeout
	}
	logger := logging.OrDefault(options.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity:       options.Identity,
		log:            logger.WithFields(logrus.Fields{"component": "session", "client": options.Identity.ID}),
		blobs:          options.Blobs,
		history:        options.History,
		loadingTimeout: options.LoadingTimeout,
		roster:         NewRoster(options.Identity.ID),
		frames:         make(chan []byte, frameQueueSize),
		actions:        make(chan func(), actionQueueSize),
		updates:        make(chan struct{}, 1),
		errs:           make(chan error, errorQueueSize),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		uploads:        make(map[*Upload]struct{}),
	}

	transport, err := network.NewTransport(network.TransportOptions{
		URL:           options.RelayURL,
		Identity:      options.Identity,
		RetryInterval: options.RetryInterval,
		Header:        options.Header,
		Dialer:        options.Dialer,
		Logger:        logger,
		OnStateChange: s.onTransportState,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	transport.OnFrame(s.enqueueFrame)
	s.transport = transport

	return s, nil
}

// Start sweeps stale blobs, starts the event loop and connects to the relay.
func (s *Session) Start() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}

	var err error
	s.startOnce.Do(func() {
		if removed, sweepErr := s.blobs.Sweep(); sweepErr != nil {
			s.log.WithError(sweepErr).Warn("sweep stale blobs failed")
		} else if removed > 0 {
			s.log.WithField("removed", removed).Info("swept stale blobs")
		}

		go s.loop()
		err = s.transport.Connect()
	})
	return err
}

// Close disposes the transport, stops the loop and releases every blob. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.uploadsMu.Lock()
		s.closed = true
		s.uploadsMu.Unlock()

		s.cancel()
		s.transport.Dispose()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
		s.encodes.Wait()

		// completion frames queued behind the stopped loop never go out
		s.uploadsMu.Lock()
		for upload := range s.uploads {
			upload.finish(ErrClosed)
		}
		s.uploads = map[*Upload]struct{}{}
		s.uploadsMu.Unlock()

		s.disarmLoading()
		s.stateMu.Lock()
		s.notification = nil
		s.filesLoading = false
		s.connected = false
		s.stateMu.Unlock()

		err = s.blobs.ReleaseAll()
		s.notify()
	})
	return err
}

// Identity returns the identity announced to the relay.
func (s *Session) Identity() models.ClientIdentity {
	return s.identity
}

// Peers returns the current roster, self included.
func (s *Session) Peers() []models.PeerInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return append([]models.PeerInfo(nil), s.peers...)
}

// Others returns the current roster without the local client.
func (s *Session) Others() []models.PeerInfo {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return append([]models.PeerInfo(nil), s.others...)
}

// Notification returns the latest inbound notification, or nil.
func (s *Session) Notification() *models.InboundNotification {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.notification.Clone()
}

// FilesLoading reports whether a file batch placeholder is pending.
func (s *Session) FilesLoading() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.filesLoading
}

// Connected reports whether the relay connection is open.
func (s *Session) Connected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.connected
}

// Updates signals that published state changed. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Errors reports non-fatal operational errors: dropped frames, abandoned batches.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Send queues an envelope. Only validation errors are returned; delivery is best effort.
func (s *Session) Send(envelope network.Envelope) error {
	if err := network.ValidateEnvelope(envelope); err != nil {
		return err
	}
	if !s.post(func() { s.sendEnvelope(envelope) }) {
		return ErrClosed
	}
	return nil
}

// SendText sends a text message to one peer, or to everyone when to is empty.
func (s *Session) SendText(to, text string) error {
	return s.Send(envelopeFor(to, text, ""))
}

// Clear retires the current notification and releases its blobs.
func (s *Session) Clear() {
	s.post(func() {
		s.disarmLoading()
		s.install(nil, false)
	})
}

// Upload tracks one outbound file batch.
type Upload struct {
	Files []transfer.Descriptor

	done chan struct{}
	once sync.Once
	err  error
}

// Done is closed once the batch was sent or abandoned.
func (u *Upload) Done() <-chan struct{} { return u.done }

// Err returns the batch outcome after Done is closed.
func (u *Upload) Err() error {
	<-u.done
	return u.err
}

func (u *Upload) finish(err error) {
	u.once.Do(func() {
		u.err = err
		close(u.done)
	})
}

// SendFiles sends a batch to one peer, or to everyone when to is empty.
func (s *Session) SendFiles(to string, files ...transfer.Source) (*Upload, error) {
	return s.SendFilesWithProgress(to, nil, files...)
}

// SendFilesWithProgress is SendFiles with per-file encode progress.
//
// Describe failures are returned before anything is sent. The placeholder frame is
// queued immediately; the completion frame follows once every file has been encoded.
func (s *Session) SendFilesWithProgress(to string, progress transfer.ProgressFunc, files ...transfer.Source) (*Upload, error) {
	batch, err := transfer.Describe(files...)
	if err != nil {
		return nil, err
	}
	return s.SendBatch(to, progress, batch)
}

// SendBatch sends an already described batch, for callers that need its sizes up front.
func (s *Session) SendBatch(to string, progress transfer.ProgressFunc, batch *transfer.Batch) (*Upload, error) {
	if batch == nil || len(batch.Files) == 0 {
		return nil, &transfer.EncodeError{Err: transfer.ErrEmptyBatch}
	}

	placeholder, err := network.PlaceholderContent(batch.Meta())
	if err != nil {
		return nil, err
	}

	upload := &Upload{Files: batch.Files, done: make(chan struct{})}
	s.uploadsMu.Lock()
	if s.closed {
		s.uploadsMu.Unlock()
		return nil, ErrClosed
	}
	s.uploads[upload] = struct{}{}
	s.encodes.Add(1)
	s.uploadsMu.Unlock()

	if !s.post(func() { s.sendEnvelope(envelopeFor(to, placeholder, network.DataTypeLoadingFiles)) }) {
		s.forgetUpload(upload)
		s.encodes.Done()
		return nil, ErrClosed
	}

	go func() {
		defer s.encodes.Done()

		encoded, err := batch.Encode(s.ctx, progress)
		if err != nil {
			defer s.forgetUpload(upload)
			if s.ctx.Err() != nil {
				upload.finish(ErrClosed)
				return
			}
			s.report(err)
			upload.finish(err)
			return
		}

		content, err := network.BatchContent(encoded)
		if err != nil {
			defer s.forgetUpload(upload)
			s.report(&transfer.EncodeError{Err: err})
			upload.finish(err)
			return
		}

		posted := s.post(func() {
			defer s.forgetUpload(upload)
			if s.sendEnvelope(envelopeFor(to, content, network.DataTypeFiles)) {
				upload.finish(nil)
				return
			}
			upload.finish(ErrNotDelivered)
		})
		if !posted {
			upload.finish(ErrClosed)
		}
	}()

	return upload, nil
}

func (s *Session) forgetUpload(upload *Upload) {
	s.uploadsMu.Lock()
	delete(s.uploads, upload)
	s.uploadsMu.Unlock()
}

func envelopeFor(to, content, dataType string) network.Envelope {
	envelope := network.Envelope{Type: network.TypeBroadcast, Content: content, DataType: dataType}
	if to != "" {
		envelope.Type = network.TypeUnicast
		envelope.To = to
	}
	return envelope
}

func (s *Session) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.frames:
			s.handleFrame(frame)
		case action := <-s.actions:
			action()
		case <-s.loadingC:
			s.expireLoading()
		}
	}
}

func (s *Session) post(action func()) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.actions <- action:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) enqueueFrame(frame []byte) {
	select {
	case s.frames <- frame:
	case <-s.ctx.Done():
	}
}

func (s *Session) sendEnvelope(envelope network.Envelope) bool {
	if self, ok := s.roster.Self(); ok {
		self.IsSelf = false
		envelope.From = &self
	}

	frame, err := network.EncodeEnvelope(envelope)
	if err != nil {
		s.report(err)
		return false
	}
	if !s.transport.Send(frame) {
		s.log.WithFields(logrus.Fields{"type": envelope.Type, "dataType": envelope.DataType}).Warn("relay not connected, frame dropped")
		return false
	}
	return true
}

func (s *Session) handleFrame(frame []byte) {
	event, err := network.DecodeFrame(frame)
	if err != nil {
		s.log.WithError(err).Debug("dropping inbound frame")
		s.report(err)
		return
	}

	switch ev := event.(type) {
	case network.RosterFullSync:
		s.roster.Replace(ev.Peers)
		s.publishRoster()
	case network.PeerJoined:
		// the relay lists a newcomer in the full sync before announcing it
		s.roster.Join(ev.Peer)
		if ev.Peer.ID != s.identity.ID {
			s.record(storage.MessageKindInfo, ev.Peer, "", displayName(ev.Peer)+" joined")
		}
		s.publishRoster()
	case network.PeerLeft:
		if peer, ok := s.roster.Leave(ev.PeerID); ok {
			s.record(storage.MessageKindInfo, peer, "", displayName(peer)+" left")
			s.publishRoster()
		}
	case network.InboundMessage:
		s.handleMessage(ev)
	}
}

func (s *Session) handleMessage(msg network.InboundMessage) {
	from := msg.From
	if known, ok := s.roster.Get(from.ID); ok && from.DisplayName == "" {
		from = known
	}
	from.IsSelf = from.ID == s.identity.ID

	switch payload := msg.Payload.(type) {
	case network.FileBatchPlaceholderPayload:
		files := lo.Map(payload.Files, func(meta models.FileMeta, _ int) models.DecodedFile {
			return models.DecodedFile{Name: meta.Name, Type: meta.Type}
		})
		s.install(&models.InboundNotification{
			Message:  fileNames(files),
			From:     from,
			DataType: network.DataTypeLoadingFiles,
			Data:     files,
		}, true)
		s.armLoading()
		s.record(storage.MessageKindLoading, from, msg.DataType, fileNames(files))
	case network.FileBatchPayload:
		decoded, err := s.blobs.AllocateBatch(payload.Files, from.ID)
		if err != nil {
			s.report(&network.ProtocolParseError{FrameType: msg.Type, DataType: msg.DataType, Err: err})
			return
		}
		s.disarmLoading()
		s.install(&models.InboundNotification{
			Message:  fileNames(decoded),
			From:     from,
			DataType: network.DataTypeFiles,
			Data:     decoded,
		}, false)
		s.record(storage.MessageKindFiles, from, network.DataTypeFiles, fileNames(decoded))
	case network.TextPayload:
		s.disarmLoading()
		s.install(&models.InboundNotification{
			Message:  payload.Text,
			From:     from,
			DataType: msg.DataType,
		}, false)
		s.record(storage.MessageKindMessage, from, msg.DataType, payload.Text)
	}
}

// install releases the previous notification's blobs, then publishes next.
func (s *Session) install(next *models.InboundNotification, loading bool) {
	s.stateMu.RLock()
	previous := s.notification
	s.stateMu.RUnlock()

	for _, url := range previous.URLs() {
		if err := s.blobs.Release(url); err != nil && !errors.Is(err, transfer.ErrUnknownBlob) {
			s.log.WithError(err).WithField("url", url).Warn("release blob failed")
		}
	}

	s.stateMu.Lock()
	s.notification = next
	s.filesLoading = loading
	s.stateMu.Unlock()
	s.notify()
}

func (s *Session) armLoading() {
	s.disarmLoading()
	s.loadingTimer = time.NewTimer(s.loadingTimeout)
	s.loadingC = s.loadingTimer.C
}

func (s *Session) disarmLoading() {
	if s.loadingTimer != nil {
		s.loadingTimer.Stop()
	}
	s.loadingTimer = nil
	s.loadingC = nil
}

func (s *Session) expireLoading() {
	s.loadingTimer = nil
	s.loadingC = nil

	s.stateMu.Lock()
	current := s.notification
	if !s.filesLoading || current == nil || current.DataType != network.DataTypeLoadingFiles {
		s.stateMu.Unlock()
		return
	}
	failed := current.Clone()
	failed.DataType = network.DataTypeFilesFailed
	failed.Error = fmt.Sprintf("file transfer did not complete within %s", s.loadingTimeout)
	s.notification = failed
	s.filesLoading = false
	s.stateMu.Unlock()

	s.log.WithField("from", failed.From.ID).Warn("file batch timed out")
	s.record(storage.MessageKindFailed, failed.From, failed.DataType, failed.Message)
	s.notify()
}

func (s *Session) publishRoster() {
	peers, others := s.roster.Peers(), s.roster.Others()
	s.stateMu.Lock()
	s.peers, s.others = peers, others
	s.stateMu.Unlock()
	s.notify()
}

func (s *Session) onTransportState(state network.TransportState) {
	connected := state == network.StateOpen
	s.stateMu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.stateMu.Unlock()
	if changed {
		s.notify()
	}
}

func (s *Session) record(kind string, from models.PeerInfo, dataType, content string) {
	if s.history == nil {
		return
	}
	err := s.history.SaveMessage(storage.Message{
		MessageID:  uuid.NewString(),
		Kind:       kind,
		FromID:     from.ID,
		FromName:   from.DisplayName,
		DataType:   dataType,
		Content:    content,
		ReceivedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		s.log.WithError(err).Warn("record history failed")
	}
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *Session) report(err error) {
	select {
	case s.errs <- err:
	default:
		s.log.WithError(err).Warn("error channel full, dropping error")
	}
}

func fileNames(files []models.DecodedFile) string {
	return strings.Join(lo.Map(files, func(file models.DecodedFile, _ int) string { return file.Name }), ", ")
}

func displayName(peer models.PeerInfo) string {
	if peer.DisplayName != "" {
		return peer.DisplayName
	}
	return peer.ID
}
