// Package fluentdforward implements base.Transporter over fluentd's Forward protocol, in
// PackedForward mode: one pre-packed msgpack event stream per message (gzip-compressed when
// Config.UseCompression is set), with a
// synchronous ack per send. Grounded on output/fluentdforward's client/session/messagepacker.
package fluentdforward

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/relex/eventbuf/base"
	"github.com/relex/eventbuf/defs"
	"github.com/relex/fluentlib/protocol/forwardprotocol"
	"github.com/relex/gotils/logger"
	"github.com/vmihailenco/msgpack/v4"
)

var errRequiredAddress = errors.New("fluentdforward: address is required")

const gzipCompressionLevel = gzip.BestSpeed

// Transporter is a base.Transporter that forwards each chunk as one fluentd PackedForward message
// over a single, lazily (re)established, mutex-serialized connection.
type Transporter struct {
	logger logger.Logger
	config Config

	mu       sync.Mutex
	conn     net.Conn
	sequence int64
}

// New creates a Transporter; the connection is established on first Transport call
func New(parentLogger logger.Logger, config Config) *Transporter {
	return &Transporter{
		logger: parentLogger.WithField(defs.LabelComponent, "FluentdForwardTransporter"),
		config: config,
	}
}

// Transport implements base.Transporter: encode data as one PackedForward message under tag and
// wait for the matching ack, reconnecting once on any I/O failure before giving up.
func (t *Transporter) Transport(tag string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.sendAndAck(tag, data); err != nil {
		t.closeLocked()
		if err2 := t.sendAndAck(tag, data); err2 != nil {
			return base.NewIOError("fluentdforward.Transport", tag, err2)
		}
	}
	return nil
}

// Close tears down the connection, if any
func (t *Transporter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *Transporter) sendAndAck(tag string, data []byte) error {
	conn, err := t.connLocked()
	if err != nil {
		return err
	}

	chunkID := t.nextChunkIDLocked()
	message, merr := encodeMessage(tag, data, chunkID, t.config.UseCompression)
	if merr != nil {
		return merr
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defs.ForwarderBatchSendTimeoutBase)); err != nil {
		return err
	}
	if _, err := conn.Write(message); err != nil {
		return err
	}

	if err := conn.SetReadDeadline(time.Now().Add(defs.ForwarderBatchSendTimeoutBase)); err != nil {
		return err
	}
	ack := forwardprotocol.Ack{}
	if err := msgpack.NewDecoder(conn).Decode(&ack); err != nil {
		return err
	}
	if ack.Ack != chunkID {
		return fmt.Errorf("fluentdforward: ack mismatch, expected %s got %s", chunkID, ack.Ack)
	}
	return nil
}

func (t *Transporter) connLocked() (net.Conn, error) {
	if t.conn != nil {
		return t.conn, nil
	}

	var conn net.Conn
	var err error
	if t.config.TLS {
		dialer := &net.Dialer{Timeout: defs.ForwarderConnectionTimeout}
		conn, err = tls.DialWithDialer(dialer, "tcp", t.config.Address, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	} else {
		conn, err = net.DialTimeout("tcp", t.config.Address, defs.ForwarderConnectionTimeout)
	}
	if err != nil {
		return nil, err
	}

	success, reason, herr := forwardprotocol.DoClientHandshake(conn, t.config.Secret, defs.ForwarderHandshakeTimeout)
	if herr != nil {
		conn.Close()
		return nil, herr
	}
	if !success {
		conn.Close()
		return nil, fmt.Errorf("fluentdforward: handshake rejected: %s", reason)
	}

	t.conn = conn
	return conn, nil
}

func (t *Transporter) closeLocked() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Close(); err != nil {
		t.logger.Warnf("fluentdforward: error closing connection: %s", err.Error())
	}
	t.conn = nil
}

func (t *Transporter) nextChunkIDLocked() string {
	t.sequence++
	return fmt.Sprintf("%019d-%08d.eb", time.Now().UnixNano(), t.sequence)
}

// encodeMessage builds one PackedForward [tag, data, option] message, with data gzip-compressed
// when compress is set
func encodeMessage(tag string, data []byte, chunkID string, compress bool) ([]byte, error) {
	packed, cerr := packEventStream(data, compress)
	if cerr != nil {
		return nil, cerr
	}

	buf := bytes.NewBuffer(make([]byte, 0, len(packed)+128))
	enc := msgpack.NewEncoder(buf)

	if err := enc.EncodeArrayLen(3); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(tag); err != nil {
		return nil, err
	}
	if err := enc.EncodeBytes(packed); err != nil {
		return nil, err
	}

	option := forwardprotocol.TransportOption{Size: 0, Chunk: chunkID}
	if compress {
		option.Compressed = forwardprotocol.CompressionFormat
	}
	if err := enc.Encode(option); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func packEventStream(data []byte, compress bool) ([]byte, error) {
	if !compress {
		return data, nil
	}
	buf := &bytes.Buffer{}
	gz, err := gzip.NewWriterLevel(buf, gzipCompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
