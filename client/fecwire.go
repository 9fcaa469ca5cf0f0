package client

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/session"
)

// SegmentHeader is one FECSegmentFile/FECSegmentSplitFile response block: an
// opaque set of node-assigned fields (BlockCount, CheckBlockCount,
// BlocksRequired, Segments, SegmentNum, Offset, BlockSize, CheckBlockSize,
// FileLength, ...) describing one segment of a splitfile. It is copied back
// verbatim into later FECEncodeSegment/FECDecodeSegment/FECMakeMetadata
// requests, mirroring original_source/freenet.py's _fec_rebuildHdr.
type SegmentHeader map[string]string

// BlockMap names the CHK each data/check block of a segment was inserted as,
// keyed "Block.<hex>"/"Check.<hex>".
type BlockMap map[string]string

func (h SegmentHeader) hexField(field string) (int64, error) {
	v, ok := h[field]
	if !ok {
		return 0, errs.Wrapf(errs.ErrProtocol, "segment header missing %s", field)
	}
	n, err := strconv.ParseInt(v, 16, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.ErrProtocol, "segment header %s=%q: %v", field, v, err)
	}
	return n, nil
}

// BlockCount returns the segment's data block count.
func (h SegmentHeader) BlockCount() (int64, error) { return h.hexField("BlockCount") }

// CheckBlockCount returns the segment's check block count.
func (h SegmentHeader) CheckBlockCount() (int64, error) { return h.hexField("CheckBlockCount") }

// BlocksRequired returns how many of BlockCount+CheckBlockCount blocks are
// needed to reconstruct the segment.
func (h SegmentHeader) BlocksRequired() (int64, error) { return h.hexField("BlocksRequired") }

// Segments returns the total number of segments the owning file was split
// into, as reported on every segment's header.
func (h SegmentHeader) Segments() (int64, error) { return h.hexField("Segments") }

// Offset returns the byte offset into the source file this segment starts at.
func (h SegmentHeader) Offset() (int64, error) { return h.hexField("Offset") }

// BlockSize returns the data block size for this segment.
func (h SegmentHeader) BlockSize() (int64, error) { return h.hexField("BlockSize") }

// CheckBlockSize returns the check block size for this segment.
func (h SegmentHeader) CheckBlockSize() (int64, error) { return h.hexField("CheckBlockSize") }

// SegmentNum returns this segment's 0-based position among Segments.
func (h SegmentHeader) SegmentNum() (int64, error) { return h.hexField("SegmentNum") }

// FileLength returns the total length, in bytes, of the file this segment is
// part of.
func (h SegmentHeader) FileLength() (int64, error) { return h.hexField("FileLength") }

// bytes renders h as a "<name>\nField=Value\n...EndMessage\n" block, the form
// sent as the metadata half of a FECEncodeSegment/FECDecodeSegment request or
// embedded in a FECMakeMetadata block list.
func (h SegmentHeader) bytes(name string) []byte {
	var b bytes.Buffer
	b.WriteString(name)
	b.WriteByte('\n')
	for k, v := range h {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteString("EndMessage\n")
	return b.Bytes()
}

func (m BlockMap) bytes(name string) []byte {
	var b bytes.Buffer
	b.WriteString(name)
	b.WriteByte('\n')
	for k, v := range m {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteString("EndMessage\n")
	return b.Bytes()
}

// readFieldBlock reads field=value lines off s up to and including the
// terminating EndMessage line, used for every *-Segment/*-SplitFile header
// response that carries no binary payload of its own.
func readFieldBlock(s *session.Session) (map[string]string, error) {
	fields := map[string]string{}
	for {
		field, val, end, err := s.RecvFieldOrEnd()
		if err != nil {
			return nil, err
		}
		if end {
			return fields, nil
		}
		fields[field] = val
	}
}

func hexIndexList(indices []int64) string {
	parts := make([]string, len(indices))
	for i, n := range indices {
		parts[i] = strconv.FormatInt(n, 16)
	}
	return strings.Join(parts, ",")
}

// FECSegmentFile asks the node to plan the segment layout for a fileLength
// byte payload under the named FEC algorithm, returning one SegmentHeader per
// segment in wire order. Grounded on original_source/freenet.py's
// node._fec_segmentFile.
func (c *Client) FECSegmentFile(ctx context.Context, algo string, fileLength int64) ([]SegmentHeader, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	if err := s.SendLine("FECSegmentFile"); err != nil {
		return nil, err
	}
	if err := s.SendField("AlgoName", algo); err != nil {
		return nil, err
	}
	if err := s.SendField("FileLength", strconv.FormatInt(fileLength, 16)); err != nil {
		return nil, err
	}
	if err := s.SendLine("EndMessage"); err != nil {
		return nil, err
	}

	var headers []SegmentHeader
	for {
		line, err := s.RecvLine()
		if err != nil {
			return nil, err
		}
		if line != "SegmentHeader" {
			return nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECSegmentFile response %q", line)
		}
		fields, err := readFieldBlock(s)
		if err != nil {
			return nil, err
		}
		h := SegmentHeader(fields)
		headers = append(headers, h)

		segs, err := h.Segments()
		if err != nil {
			return nil, err
		}
		if int64(len(headers)) >= segs {
			return headers, nil
		}
	}
}

// FECEncodeSegment hands header and its already offset-read, zero-padded
// segment data to the node's Reed-Solomon encoder and returns the resulting
// check blocks in order. Grounded on original_source/freenet.py's
// node._fecputfileex's FECEncodeSegment exchange.
func (c *Client) FECEncodeSegment(ctx context.Context, header SegmentHeader, data []byte) ([][]byte, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	hdrBytes := header.bytes("SegmentHeader")

	if err := s.SendLine("FECEncodeSegment"); err != nil {
		return nil, err
	}
	if err := s.SendField("DataLength", strconv.FormatInt(int64(len(hdrBytes))+int64(len(data)), 16)); err != nil {
		return nil, err
	}
	if err := s.SendField("MetadataLength", strconv.FormatInt(int64(len(hdrBytes)), 16)); err != nil {
		return nil, err
	}
	if err := s.SendLine("Data"); err != nil {
		return nil, err
	}
	if err := s.SendBytes(hdrBytes); err != nil {
		return nil, err
	}
	if err := s.SendBytes(data); err != nil {
		return nil, err
	}

	line, err := s.RecvLine()
	if err != nil {
		return nil, err
	}
	if line != "BlocksEncoded" {
		return nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECEncodeSegment response %q", line)
	}
	if _, err := readFieldBlock(s); err != nil {
		return nil, err
	}

	checkBlockSize, err := header.CheckBlockSize()
	if err != nil {
		return nil, err
	}
	checkBlockCount, err := header.CheckBlockCount()
	if err != nil {
		return nil, err
	}

	raw, restarted, err := s.RecvKeyData(checkBlockSize * checkBlockCount)
	if err != nil {
		return nil, err
	}
	if restarted {
		return nil, errs.Wrapf(errs.ErrProtocol, "FECEncodeSegment restarted mid-stream")
	}

	blocks := make([][]byte, checkBlockCount)
	for i := range blocks {
		blocks[i] = raw[int64(i)*checkBlockSize : int64(i+1)*checkBlockSize]
	}
	return blocks, nil
}

// FECSegmentSplitFile asks the node to parse a fetched splitfile metadata
// blob back into its segment headers and block maps, one pair per segment in
// wire order. Grounded on original_source/freenet.py's
// node._fec_segmentSplitFile.
func (c *Client) FECSegmentSplitFile(ctx context.Context, metaBytes []byte) ([]SegmentHeader, []BlockMap, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	if err := s.SendLine("FECSegmentSplitFile"); err != nil {
		return nil, nil, err
	}
	if err := s.SendField("DataLength", strconv.FormatInt(int64(len(metaBytes)), 16)); err != nil {
		return nil, nil, err
	}
	if err := s.SendLine("Data"); err != nil {
		return nil, nil, err
	}
	if err := s.SendBytes(metaBytes); err != nil {
		return nil, nil, err
	}

	var headers []SegmentHeader
	var maps []BlockMap
	for {
		line, err := s.RecvLine()
		if err != nil {
			return nil, nil, err
		}
		if line != "SegmentHeader" {
			return nil, nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECSegmentSplitFile response %q", line)
		}
		hfields, err := readFieldBlock(s)
		if err != nil {
			return nil, nil, err
		}
		h := SegmentHeader(hfields)

		line, err = s.RecvLine()
		if err != nil {
			return nil, nil, err
		}
		if line != "BlockMap" {
			return nil, nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECSegmentSplitFile response %q", line)
		}
		mfields, err := readFieldBlock(s)
		if err != nil {
			return nil, nil, err
		}

		headers = append(headers, h)
		maps = append(maps, BlockMap(mfields))

		segs, err := h.Segments()
		if err != nil {
			return nil, nil, err
		}
		if int64(len(headers)) >= segs {
			return headers, maps, nil
		}
	}
}

// FECDecodeSegment asks the node to Reed-Solomon reconstruct a segment,
// given header, the concatenated bytes of the fetched blocks named by
// blockIndices (data blocks) then checkIndices (check blocks, unoffset --
// this method applies the +BlockCount wire offset itself, matching
// node._fec_decodeSegment), and requestedIndices naming which missing data
// blocks to rebuild. Returns the reconstructed blocks in requestedIndices
// order.
func (c *Client) FECDecodeSegment(ctx context.Context, header SegmentHeader, data []byte, blockIndices, checkIndices, requestedIndices []int64) ([][]byte, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	blockCount, err := header.BlockCount()
	if err != nil {
		return nil, err
	}
	wireCheckIndices := make([]int64, len(checkIndices))
	for i, n := range checkIndices {
		wireCheckIndices[i] = n + blockCount
	}

	hdrBytes := header.bytes("SegmentHeader")

	if err := s.SendLine("FECDecodeSegment"); err != nil {
		return nil, err
	}
	if err := s.SendField("DataLength", strconv.FormatInt(int64(len(hdrBytes))+int64(len(data)), 16)); err != nil {
		return nil, err
	}
	if err := s.SendField("MetadataLength", strconv.FormatInt(int64(len(hdrBytes)), 16)); err != nil {
		return nil, err
	}
	if err := s.SendField("BlockList", hexIndexList(blockIndices)); err != nil {
		return nil, err
	}
	if err := s.SendField("CheckList", hexIndexList(wireCheckIndices)); err != nil {
		return nil, err
	}
	if err := s.SendField("RequestedList", hexIndexList(requestedIndices)); err != nil {
		return nil, err
	}
	if err := s.SendLine("Data"); err != nil {
		return nil, err
	}
	if err := s.SendBytes(hdrBytes); err != nil {
		return nil, err
	}
	if err := s.SendBytes(data); err != nil {
		return nil, err
	}

	line, err := s.RecvLine()
	if err != nil {
		return nil, err
	}
	if line != "BlocksDecoded" {
		return nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECDecodeSegment response %q", line)
	}
	if _, err := readFieldBlock(s); err != nil {
		return nil, err
	}

	blockSize, err := header.BlockSize()
	if err != nil {
		return nil, err
	}
	raw, restarted, err := s.RecvKeyData(blockSize * int64(len(requestedIndices)))
	if err != nil {
		return nil, err
	}
	if restarted {
		return nil, errs.Wrapf(errs.ErrProtocol, "FECDecodeSegment restarted mid-stream")
	}

	out := make([][]byte, len(requestedIndices))
	for i := range out {
		out[i] = raw[int64(i)*blockSize : int64(i+1)*blockSize]
	}
	return out, nil
}

// FECMakeMetadata streams every segment's header and block map to the node
// and returns the fully-formed splitfile metadata it assembles. Grounded on
// original_source/freenet.py's node._fec_makeMetadata.
func (c *Client) FECMakeMetadata(ctx context.Context, headers []SegmentHeader, maps []BlockMap, mimetype, description string) ([]byte, error) {
	addr := c.Addr()
	s, err := c.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.pool.Put(addr, s)
	s.SetDeadline(ctx)

	var list bytes.Buffer
	for i, h := range headers {
		list.Write(h.bytes("SegmentHeader"))
		list.Write(maps[i].bytes("BlockMap"))
	}

	if err := s.SendLine("FECMakeMetadata"); err != nil {
		return nil, err
	}
	if err := s.SendField("Segments", strconv.FormatInt(int64(len(headers)), 16)); err != nil {
		return nil, err
	}
	if description != "" {
		if err := s.SendField("Description", description); err != nil {
			return nil, err
		}
	}
	if mimetype != "" {
		if err := s.SendField("MimeType", mimetype); err != nil {
			return nil, err
		}
	}
	if err := s.SendField("DataLength", strconv.FormatInt(int64(list.Len()), 16)); err != nil {
		return nil, err
	}
	if err := s.SendLine("Data"); err != nil {
		return nil, err
	}
	if err := s.SendBytes(list.Bytes()); err != nil {
		return nil, err
	}

	line, err := s.RecvLine()
	if err != nil {
		return nil, err
	}
	if line != "MadeMetadata" {
		return nil, errs.Wrapf(errs.ErrProtocol, "unexpected FECMakeMetadata response %q", line)
	}

	var dataLen int64
	for {
		field, val, end, err := s.RecvFieldOrEnd()
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		if field == "DataLength" {
			dataLen, err = strconv.ParseInt(val, 16, 64)
			if err != nil {
				return nil, errs.Wrapf(errs.ErrProtocol, "bad MadeMetadata DataLength %q: %v", val, err)
			}
		}
	}

	raw, restarted, err := s.RecvKeyData(dataLen)
	if err != nil {
		return nil, err
	}
	if restarted {
		return nil, errs.Wrapf(errs.ErrProtocol, "FECMakeMetadata restarted mid-stream")
	}
	return raw, nil
}
