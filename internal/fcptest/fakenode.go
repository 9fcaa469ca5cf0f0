// Package fcptest implements a minimal in-process stand-in for a Freenet
// node's FCP v2 surface -- just enough wire protocol to drive
// GetRaw/PutRaw/GenCHK/GenerateSVKPair/FEC round trips in tests for the
// client, resolve, fec, and site packages without a real node. Routing is
// not simulated: every insert is an unconditional local write and every
// fetch is a local read. The FEC handlers, however, do run the real
// Reed-Solomon math via github.com/klauspost/reedsolomon, the same library
// a real node uses, so the fec package's wire-driven encode/decode logic
// gets exercised against genuine check-block arithmetic rather than a stub.
package fcptest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/reedsolomon"

	"github.com/freenetgo/fcp/uri"
)

// FakeNode is a tiny local FCP server for tests.
type FakeNode struct {
	mu     sync.Mutex
	store  map[string]storedKey
	nextID int
}

type storedKey struct {
	data    []byte
	metaLen int64
}

// New returns an empty FakeNode.
func New() *FakeNode {
	return &FakeNode{store: map[string]storedKey{}}
}

// Listen starts the fake node on an ephemeral local port and returns its
// "host:port" dial address. The listener is closed automatically at the end
// of t.
func (n *FakeNode) Listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fcptest: listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go n.handleConn(conn)
		}
	}()
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().String()
}

func (n *FakeNode) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return
	}

	for {
		name, err := readLine(r)
		if err != nil {
			return
		}
		switch name {
		case "ClientHello":
			if _, _, err := readFieldsUntil(r); err != nil {
				return
			}
			fmt.Fprint(conn, "NodeHello\nMaxFileSize=186a0\nNode=freenet,fake-1\nProtocol=2.0\nEndMessage\n")
			return // the real handshake disconnects after NodeHello
		case "ClientGet":
			if err := n.handleGet(conn, r); err != nil {
				return
			}
		case "ClientPut":
			if err := n.handlePut(conn, r); err != nil {
				return
			}
		case "GenerateCHK":
			if err := n.handleGenCHK(conn, r); err != nil {
				return
			}
		case "GenerateSVKPair":
			if _, _, err := readFieldsUntil(r); err != nil {
				return
			}
			fmt.Fprint(conn, "SVKKeypair\nPublicKey=pub-fake\nPrivateKey=priv-fake\nEndMessage\n")
		case "FECSegmentFile":
			if err := n.handleFECSegmentFile(conn, r); err != nil {
				return
			}
		case "FECEncodeSegment":
			if err := n.handleFECEncodeSegment(conn, r); err != nil {
				return
			}
		case "FECSegmentSplitFile":
			if err := n.handleFECSegmentSplitFile(conn, r); err != nil {
				return
			}
		case "FECDecodeSegment":
			if err := n.handleFECDecodeSegment(conn, r); err != nil {
				return
			}
		case "FECMakeMetadata":
			if err := n.handleFECMakeMetadata(conn, r); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (n *FakeNode) handleGet(conn net.Conn, r *bufio.Reader) error {
	fields, _, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	key, err := n.resolveKey(fields["URI"])
	if err != nil {
		fmt.Fprint(conn, "URIError\nEndMessage\n")
		return nil
	}
	n.mu.Lock()
	sk, ok := n.store[key]
	n.mu.Unlock()
	if !ok {
		fmt.Fprint(conn, "DataNotFound\nEndMessage\n")
		return nil
	}
	fmt.Fprintf(conn, "DataFound\nMetadata.Length=%s\nDataLength=%s\nURI=%s\nEndMessage\n",
		strconv.FormatInt(sk.metaLen, 16), strconv.FormatInt(int64(len(sk.data)), 16), key)
	fmt.Fprintf(conn, "DataChunk\nLength=%s\nData\n", strconv.FormatInt(int64(len(sk.data)), 16))
	_, err = conn.Write(sk.data)
	return err
}

func (n *FakeNode) handlePut(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	metaLen, _ := strconv.ParseInt(fields["Metadata.Length"], 16, 64)
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	key, err := n.resolveInsertKey(fields["URI"])
	if err != nil {
		fmt.Fprint(conn, "URIError\nEndMessage\n")
		return nil
	}

	n.mu.Lock()
	_, exists := n.store[key]
	if exists {
		n.mu.Unlock()
		// A real node never content-compares on insert: any already-occupied
		// slot is reported as a collision and it is up to the caller to
		// decide (by reading back) whether the content actually matches.
		fmt.Fprintf(conn, "KeyCollision\nURI=%s\nEndMessage\n", key)
		return nil
	}
	n.store[key] = storedKey{data: body, metaLen: metaLen}
	n.mu.Unlock()

	fmt.Fprintf(conn, "Success\nURI=%s\nEndMessage\n", key)
	return nil
}

func (n *FakeNode) handleGenCHK(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.mu.Unlock()
	fmt.Fprintf(conn, "KeyGenerated\nURI=CHK@gen%d\nEndMessage\n", id)
	return nil
}

// fecBlockSize and fecMaxDataBlocksPerSegment mirror a real node's
// OnionFEC_a_1_2 layout constants (32KiB blocks, at most 128 data blocks per
// segment, one check block per two data blocks) -- the only algorithm this
// fake node plans for.
const (
	fecBlockSize              = 32 * 1024
	fecMaxDataBlocksPerSegment = 128
)

type fecSegmentPlan struct {
	SegmentNum, Segments                int64
	Offset, BlockCount, CheckBlockCount int64
	BlocksRequired                      int64
}

func fecPlanSegments(fileLength int64) []fecSegmentPlan {
	totalBlocks := (fileLength + fecBlockSize - 1) / fecBlockSize
	if totalBlocks == 0 {
		totalBlocks = 1
	}
	segCount := (totalBlocks + fecMaxDataBlocksPerSegment - 1) / fecMaxDataBlocksPerSegment

	plans := make([]fecSegmentPlan, 0, segCount)
	remaining := totalBlocks
	var offset int64
	for i := int64(0); i < segCount; i++ {
		bc := remaining
		if bc > fecMaxDataBlocksPerSegment {
			bc = fecMaxDataBlocksPerSegment
		}
		cc := (bc + 1) / 2
		plans = append(plans, fecSegmentPlan{
			SegmentNum:      i,
			Segments:        segCount,
			Offset:          offset,
			BlockCount:      bc,
			CheckBlockCount: cc,
			BlocksRequired:  bc,
		})
		offset += bc * fecBlockSize
		remaining -= bc
	}
	return plans
}

func fecHex(n int64) string { return strconv.FormatInt(n, 16) }

func writeSegmentHeaderMsg(conn net.Conn, p fecSegmentPlan, fileLength int64) {
	fmt.Fprintf(conn, "SegmentHeader\nBlockCount=%s\nCheckBlockCount=%s\nBlocksRequired=%s\nSegments=%s\nSegmentNum=%s\nOffset=%s\nBlockSize=%s\nCheckBlockSize=%s\nFileLength=%s\nEndMessage\n",
		fecHex(p.BlockCount), fecHex(p.CheckBlockCount), fecHex(p.BlocksRequired),
		fecHex(p.Segments), fecHex(p.SegmentNum), fecHex(p.Offset),
		fecHex(fecBlockSize), fecHex(fecBlockSize), fecHex(fileLength))
}

// parsePlainFields extracts every "field=value" line from raw, ignoring any
// line with no "=" (message-name lines like "SegmentHeader"/"EndMessage", or
// a metadata document's "Version"/"End" framing).
func parsePlainFields(raw string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		idx := strings.Index(line, "=")
		if idx < 0 {
			continue
		}
		fields[line[:idx]] = line[idx+1:]
	}
	return fields
}

func parseHexList(s string) []int64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, _ := strconv.ParseInt(p, 16, 64)
		out[i] = v
	}
	return out
}

// parseSegmentAndBlockList reads `segments` repeated SegmentHeader/BlockMap
// message pairs off a concatenated block list, the form FECMakeMetadata's
// request body takes.
func parseSegmentAndBlockList(body []byte, segments int64) ([]map[string]string, []map[string]string, error) {
	lines := strings.Split(string(body), "\n")
	i := 0
	readBlock := func() (string, map[string]string, error) {
		if i >= len(lines) {
			return "", nil, fmt.Errorf("unexpected end of block list")
		}
		name := lines[i]
		i++
		fields := map[string]string{}
		for i < len(lines) && lines[i] != "EndMessage" {
			if idx := strings.Index(lines[i], "="); idx >= 0 {
				fields[lines[i][:idx]] = lines[i][idx+1:]
			}
			i++
		}
		i++ // skip EndMessage
		return name, fields, nil
	}

	headers := make([]map[string]string, 0, segments)
	maps := make([]map[string]string, 0, segments)
	for s := int64(0); s < segments; s++ {
		name, fields, err := readBlock()
		if err != nil || name != "SegmentHeader" {
			return nil, nil, fmt.Errorf("expected SegmentHeader, got %q", name)
		}
		headers = append(headers, fields)
		name, fields, err = readBlock()
		if err != nil || name != "BlockMap" {
			return nil, nil, fmt.Errorf("expected BlockMap, got %q", name)
		}
		maps = append(maps, fields)
	}
	return headers, maps, nil
}

func (n *FakeNode) handleFECSegmentFile(conn net.Conn, r *bufio.Reader) error {
	fields, _, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	fileLength, err := strconv.ParseInt(fields["FileLength"], 16, 64)
	if err != nil {
		return err
	}
	for _, p := range fecPlanSegments(fileLength) {
		writeSegmentHeaderMsg(conn, p, fileLength)
	}
	return nil
}

func (n *FakeNode) handleFECEncodeSegment(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	metaLen, err := strconv.ParseInt(fields["MetadataLength"], 16, 64)
	if err != nil {
		return err
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	hdr := parsePlainFields(string(body[:metaLen]))
	segData := body[metaLen:]

	blockCount, _ := strconv.ParseInt(hdr["BlockCount"], 16, 64)
	checkBlockCount, _ := strconv.ParseInt(hdr["CheckBlockCount"], 16, 64)
	blockSize, _ := strconv.ParseInt(hdr["BlockSize"], 16, 64)

	enc, err := reedsolomon.New(int(blockCount), int(checkBlockCount))
	if err != nil {
		return err
	}
	shards := make([][]byte, blockCount+checkBlockCount)
	for i := int64(0); i < blockCount; i++ {
		shards[i] = segData[i*blockSize : (i+1)*blockSize]
	}
	for i := blockCount; i < blockCount+checkBlockCount; i++ {
		shards[i] = make([]byte, blockSize)
	}
	if err := enc.Encode(shards); err != nil {
		return err
	}

	var checkBytes bytes.Buffer
	for i := blockCount; i < blockCount+checkBlockCount; i++ {
		checkBytes.Write(shards[i])
	}

	fmt.Fprint(conn, "BlocksEncoded\nEndMessage\n")
	fmt.Fprintf(conn, "DataChunk\nLength=%s\nData\n", fecHex(int64(checkBytes.Len())))
	_, err = conn.Write(checkBytes.Bytes())
	return err
}

func (n *FakeNode) handleFECSegmentSplitFile(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	meta := parsePlainFields(string(body))
	fileLength, _ := strconv.ParseInt(meta["SplitFile.Size"], 16, 64)
	blockTotal, _ := strconv.ParseInt(meta["SplitFile.BlockCount"], 16, 64)
	chunks := make([]string, blockTotal)
	for i := int64(0); i < blockTotal; i++ {
		chunks[i] = meta[fmt.Sprintf("SplitFile.Block.%s", fecHex(i+1))]
	}

	pos := int64(0)
	for _, p := range fecPlanSegments(fileLength) {
		writeSegmentHeaderMsg(conn, p, fileLength)

		bm := map[string]string{}
		for i := int64(0); i < p.BlockCount; i++ {
			bm[fmt.Sprintf("Block.%s", fecHex(i))] = chunks[pos]
			pos++
		}
		for i := int64(0); i < p.CheckBlockCount; i++ {
			bm[fmt.Sprintf("Check.%s", fecHex(i))] = chunks[pos]
			pos++
		}

		fmt.Fprint(conn, "BlockMap\n")
		for k, v := range bm {
			fmt.Fprintf(conn, "%s=%s\n", k, v)
		}
		fmt.Fprint(conn, "EndMessage\n")
	}
	return nil
}

func (n *FakeNode) handleFECDecodeSegment(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	metaLen, err := strconv.ParseInt(fields["MetadataLength"], 16, 64)
	if err != nil {
		return err
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	hdr := parsePlainFields(string(body[:metaLen]))
	blockBytes := body[metaLen:]

	blockCount, _ := strconv.ParseInt(hdr["BlockCount"], 16, 64)
	checkBlockCount, _ := strconv.ParseInt(hdr["CheckBlockCount"], 16, 64)
	blockSize, _ := strconv.ParseInt(hdr["BlockSize"], 16, 64)

	blockList := parseHexList(fields["BlockList"])
	checkList := parseHexList(fields["CheckList"])
	requestedList := parseHexList(fields["RequestedList"])

	shards := make([][]byte, blockCount+checkBlockCount)
	off := int64(0)
	for _, idx := range blockList {
		shards[idx] = blockBytes[off : off+blockSize]
		off += blockSize
	}
	for _, idx := range checkList {
		shards[idx] = blockBytes[off : off+blockSize]
		off += blockSize
	}

	enc, err := reedsolomon.New(int(blockCount), int(checkBlockCount))
	if err != nil {
		return err
	}
	if err := enc.Reconstruct(shards); err != nil {
		return err
	}

	var out bytes.Buffer
	for _, idx := range requestedList {
		out.Write(shards[idx])
	}

	fmt.Fprint(conn, "BlocksDecoded\nEndMessage\n")
	fmt.Fprintf(conn, "DataChunk\nLength=%s\nData\n", fecHex(int64(out.Len())))
	_, err = conn.Write(out.Bytes())
	return err
}

func (n *FakeNode) handleFECMakeMetadata(conn net.Conn, r *bufio.Reader) error {
	fields, term, err := readFieldsUntil(r)
	if err != nil {
		return err
	}
	if term != "Data" {
		return fmt.Errorf("expected Data, got %q", term)
	}
	total, err := strconv.ParseInt(fields["DataLength"], 16, 64)
	if err != nil {
		return err
	}
	segments, err := strconv.ParseInt(fields["Segments"], 16, 64)
	if err != nil {
		return err
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	headers, maps, err := parseSegmentAndBlockList(body, segments)
	if err != nil {
		return err
	}

	var fileLength int64
	var chunks []string
	for i, h := range headers {
		bc, _ := strconv.ParseInt(h["BlockCount"], 16, 64)
		cc, _ := strconv.ParseInt(h["CheckBlockCount"], 16, 64)
		if i == 0 {
			fileLength, _ = strconv.ParseInt(h["FileLength"], 16, 64)
		}
		for j := int64(0); j < bc; j++ {
			chunks = append(chunks, maps[i][fmt.Sprintf("Block.%s", fecHex(j))])
		}
		for j := int64(0); j < cc; j++ {
			chunks = append(chunks, maps[i][fmt.Sprintf("Check.%s", fecHex(j))])
		}
	}

	var m bytes.Buffer
	m.WriteString("Version\nRevision=1\nEndPart\nDocument\n")
	if v := fields["Description"]; v != "" {
		fmt.Fprintf(&m, "Info.Description=%s\n", v)
	}
	if v := fields["MimeType"]; v != "" {
		fmt.Fprintf(&m, "Info.Format=%s\n", v)
	}
	fmt.Fprintf(&m, "SplitFile.Size=%s\n", fecHex(fileLength))
	fmt.Fprintf(&m, "SplitFile.BlockCount=%s\n", fecHex(int64(len(chunks))))
	for i, u := range chunks {
		fmt.Fprintf(&m, "SplitFile.Block.%s=%s\n", fecHex(int64(i+1)), u)
	}
	m.WriteString("End\n")

	fmt.Fprintf(conn, "MadeMetadata\nDataLength=%s\nEndMessage\n", fecHex(int64(m.Len())))
	fmt.Fprintf(conn, "DataChunk\nLength=%s\nData\n", fecHex(int64(m.Len())))
	_, err = conn.Write(m.Bytes())
	return err
}

// resolveKey normalizes a fetch URI to its canonical store key: the uri of
// any type rendered without its msk path (which never reaches the node).
func (n *FakeNode) resolveKey(raw string) (string, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return "", err
	}
	u.MSKPath = ""
	return u.String(), nil
}

// resolveInsertKey is resolveKey plus allocation of a fresh hash for an
// insert-template CHK (empty hash), mirroring the real node minting a
// content hash on GenerateCHK/ClientPut of "CHK@".
func (n *FakeNode) resolveInsertKey(raw string) (string, error) {
	u, err := uri.Parse(raw)
	if err != nil {
		return "", err
	}
	u.MSKPath = ""
	if u.Type == uri.CHK && u.Hash == "" {
		n.mu.Lock()
		n.nextID++
		id := n.nextID
		n.mu.Unlock()
		u.Hash = fmt.Sprintf("gen%d", id)
	}
	return u.String(), nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readFieldsUntil reads Field=Value lines until either "EndMessage" or
// "Data" (the two ways a client-sent field block can terminate), returning
// which one it saw.
func readFieldsUntil(r *bufio.Reader) (map[string]string, string, error) {
	fields := map[string]string{}
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, "", err
		}
		if line == "EndMessage" || line == "Data" {
			return fields, line, nil
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, "", fmt.Errorf("bad field line %q", line)
		}
		fields[line[:idx]] = line[idx+1:]
	}
}

// DialAddr splits a "host:port" string into (host, port), panicking on a
// malformed address since it is only ever called with Listen's own output.
func DialAddr(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		panic(err)
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		panic(err)
	}
	return h, n
}
