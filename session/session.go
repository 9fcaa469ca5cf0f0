// Package session implements the FCP v2 wire protocol: the magic handshake,
// line-oriented message framing, and the chunked binary payload
// buffering/restart handling.
//
// Grounded on original_source/freenet.py's _connect/_handshake/_send*/_recv*
// methods. Connection lifecycle (dial, read loop) follows
// backend/sftp/sftp.go's dial/pooled-conn idiom.
package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcplog"
)

// magic is the 4-byte handshake sequence sent as the first bytes of every
// new TCP connection to the node.
var magic = []byte{0x00, 0x00, 0x00, 0x02}

// HelloInfo is what the node reports during ClientHello/NodeHello.
type HelloInfo struct {
	MaxFileSize int64
	NodeType    string
	NodeVersion string
	Protocol    string
	// SSKSuffix is "BCMA" iff NodeType is "entropy" (case-insensitive),
	// otherwise "PAgM".
	SSKSuffix string
}

// Session is one FCP connection to a node, carrying one request/response
// cycle at a time; after a cycle it is Closed or returned to a pool for
// reuse.
type Session struct {
	conn net.Conn
	r    *bufio.Reader

	// recvBuf holds bytes read past a DataChunk boundary that a caller has
	// not yet consumed via RecvKeyData -- the node's chunk boundaries don't
	// align with the metadata/data split, so this buffer lets RecvKeyData
	// pull exactly the number of bytes requested regardless of chunking.
	recvBuf []byte

	log fcplog.Logger
}

// Dial opens a new TCP connection to addr, sends the handshake magic, and
// returns a ready-to-use Session. Does not perform ClientHello -- callers
// that need node info should call Handshake on a dedicated throwaway
// Session, since a handshake disconnects the socket once complete.
func Dial(ctx context.Context, addr string, timeout time.Duration, log fcplog.Logger) (*Session, error) {
	if log == nil {
		log = fcplog.Discard()
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrConnect, "dial %s: %v", addr, err)
	}
	s := &Session{conn: conn, r: bufio.NewReaderSize(conn, 32*1024), log: log}
	if _, err := conn.Write(magic); err != nil {
		_ = conn.Close()
		return nil, errs.Wrapf(errs.ErrConnect, "send handshake magic to %s: %v", addr, err)
	}
	return s, nil
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// SetDeadline applies a network deadline derived from ctx, if ctx carries
// one, so every blocking read/write is bounded.
func (s *Session) SetDeadline(ctx context.Context) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(dl)
	} else {
		_ = s.conn.SetDeadline(time.Time{})
	}
}

// SendLine writes line + "\n" to the node.
func (s *Session) SendLine(line string) error {
	s.log.Debugf("fcp> %s", line)
	_, err := s.conn.Write([]byte(line + "\n"))
	if err != nil {
		return errs.Wrapf(errs.ErrConnect, "send line: %v", err)
	}
	return nil
}

// SendField writes "field=value\n".
func (s *Session) SendField(field, value string) error {
	return s.SendLine(field + "=" + value)
}

// SendBytes writes raw bytes with no added framing (used for metadata/data
// payload bodies which are announced by a preceding DataLength/Data line).
func (s *Session) SendBytes(buf []byte) error {
	_, err := s.conn.Write(buf)
	if err != nil {
		return errs.Wrapf(errs.ErrConnect, "send bytes: %v", err)
	}
	return nil
}

// RecvLine reads one '\n'-terminated line, the '\n' stripped.
func (s *Session) RecvLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", errs.Wrapf(errs.ErrProtocol, "recv line: %v", err)
	}
	line = strings.TrimRight(line, "\n")
	line = strings.TrimRight(line, "\r")
	s.log.Debugf("fcp< %s", line)
	return line, nil
}

// RecvField reads a line and splits it on the first "=".
func (s *Session) RecvField() (field, value string, err error) {
	line, err := s.RecvLine()
	if err != nil {
		return "", "", err
	}
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", errs.Wrapf(errs.ErrProtocol, "expected field=value, got %q", line)
	}
	return line[:idx], line[idx+1:], nil
}

// RecvFieldOrEnd reads one line of a field block: either a "field=value" pair
// (end=false) or the terminating "EndMessage" line (end=true, field/value
// empty). Used by every response header loop, since a block's length isn't
// known ahead of time.
func (s *Session) RecvFieldOrEnd() (field, value string, end bool, err error) {
	line, err := s.RecvLine()
	if err != nil {
		return "", "", false, err
	}
	if line == "EndMessage" {
		return "", "", true, nil
	}
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false, errs.Wrapf(errs.ErrProtocol, "expected field=value or EndMessage, got %q", line)
	}
	return line[:idx], line[idx+1:], false, nil
}

// RecvUntilEndMessage drains lines (discarding them) up to and including an
// "EndMessage" line -- used to silently absorb Pending/Restarted blocks.
func (s *Session) RecvUntilEndMessage() error {
	for {
		line, err := s.RecvLine()
		if err != nil {
			return err
		}
		if line == "EndMessage" {
			return nil
		}
	}
}

// recvChunk reads one DataChunk/Length=<hex>/Data/<bytes> cycle. Returns
// (nil, true, nil) if a Restarted line is seen instead of DataChunk; the
// rest of the Restarted block is left unread for the caller.
func (s *Session) recvChunk() (chunk []byte, restarted bool, err error) {
	line, err := s.RecvLine()
	if err != nil {
		return nil, false, err
	}
	if line == "Restarted" {
		return nil, true, nil
	}
	if line != "DataChunk" {
		return nil, false, errs.Wrapf(errs.ErrProtocol, "expected DataChunk, got %q", line)
	}

	field, val, err := s.RecvField()
	if err != nil {
		return nil, false, err
	}
	if field != "Length" {
		return nil, false, errs.Wrapf(errs.ErrProtocol, "expected Length=, got %q=%q", field, val)
	}
	chunkLen, err := strconv.ParseInt(val, 16, 64)
	if err != nil {
		return nil, false, errs.Wrapf(errs.ErrProtocol, "bad chunk Length %q: %v", val, err)
	}

	dataLine, err := s.RecvLine()
	if err != nil {
		return nil, false, err
	}
	if dataLine != "Data" {
		return nil, false, errs.Wrapf(errs.ErrProtocol, "expected Data, got %q", dataLine)
	}

	buf := make([]byte, chunkLen)
	if _, err := readFull(s.r, buf); err != nil {
		return nil, false, errs.Wrapf(errs.ErrConnect, "recv chunk body: %v", err)
	}
	return buf, false, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// RecvKeyData reads exactly n bytes of key payload, transparently crossing
// DataChunk boundaries via recvBuf. Returns (nil, true, nil) on a Restarted
// mid-stream, discarding any partially buffered data for this request; what
// happens next is up to the caller (GetRaw drops the connection and sends
// its request again on a fresh one).
func (s *Session) RecvKeyData(n int64) (data []byte, restarted bool, err error) {
	for int64(len(s.recvBuf)) < n {
		chunk, restarted, err := s.recvChunk()
		if err != nil {
			return nil, false, err
		}
		if restarted {
			s.recvBuf = nil
			return nil, true, nil
		}
		s.recvBuf = append(s.recvBuf, chunk...)
	}
	out := s.recvBuf[:n]
	s.recvBuf = s.recvBuf[n:]
	return out, false, nil
}

// Handshake performs ClientHello/NodeHello on a fresh Session and then
// disconnects, matching the original's single-use handshake probe.
func Handshake(ctx context.Context, addr string, timeout time.Duration, log fcplog.Logger) (*HelloInfo, error) {
	s, err := Dial(ctx, addr, timeout, log)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	s.SetDeadline(ctx)

	if err := s.SendLine("ClientHello"); err != nil {
		return nil, err
	}
	if err := s.SendLine("EndMessage"); err != nil {
		return nil, err
	}

	line, err := s.RecvLine()
	if err != nil {
		return nil, err
	}
	if line != "NodeHello" {
		return nil, errs.Wrapf(errs.ErrProtocol, "not an FCP port at %s: got %q", addr, line)
	}

	info := &HelloInfo{SSKSuffix: "PAgM"}
	for {
		line, err := s.RecvLine()
		if err != nil {
			return nil, err
		}
		if line == "EndMessage" {
			return info, nil
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, errs.Wrapf(errs.ErrProtocol, "bad NodeHello line %q", line)
		}
		field, val := line[:idx], line[idx+1:]
		switch field {
		case "MaxFileSize":
			v, err := strconv.ParseInt(val, 16, 64)
			if err != nil {
				return nil, errs.Wrapf(errs.ErrProtocol, "bad MaxFileSize %q: %v", val, err)
			}
			info.MaxFileSize = v
		case "Node":
			parts := strings.SplitN(val, ",", 2)
			info.NodeType = parts[0]
			if len(parts) == 2 {
				info.NodeVersion = parts[1]
			}
			if strings.EqualFold(info.NodeType, "entropy") {
				info.SSKSuffix = "BCMA"
			} else {
				info.SSKSuffix = "PAgM"
			}
		case "Protocol":
			info.Protocol = val
		}
	}
}

// Addr renders a host:port dial target.
func Addr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
