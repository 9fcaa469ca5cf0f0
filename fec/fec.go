// Package fec drives the node's forward-error-correction service to encode
// a large payload into an insertable splitfile and to reassemble one back
// into its original bytes, fanning block inserts and fetches out across a
// bounded worker pool.
//
// Grounded on original_source/freenet.py's node._fecput/_fecputfileex/
// _fec_getFile family, which compose the same five FCP primitives
// (FECSegmentFile, FECEncodeSegment, FECSegmentSplitFile, FECDecodeSegment,
// FECMakeMetadata) this package drives through *client.Client -- the
// Reed-Solomon math itself runs node-side; this package only plans the
// segment layout the node reports, ships/collects block bytes, and fans the
// per-block CHK inserts/fetches out across the pool.
package fec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/freenetgo/fcp/client"
	"github.com/freenetgo/fcp/dispatch"
	"github.com/freenetgo/fcp/errs"
	"github.com/freenetgo/fcp/fcplog"
	"github.com/freenetgo/fcp/metadata"
	"github.com/freenetgo/fcp/pacer"
	"github.com/freenetgo/fcp/uri"
)

// Scheme names the FEC algorithm passed as FECSegmentFile's AlgoName; the
// node alone decides the resulting block/check layout and ratio.
type Scheme struct {
	Name string
}

// DefaultScheme is "OnionFEC_a_1_2", the node's one-check-per-two-data-blocks
// splitfile algorithm.
var DefaultScheme = Scheme{Name: "OnionFEC_a_1_2"}

// pickIndices returns k indices out of [0,n) chosen without replacement,
// used to select a reconstructable subset of a segment's available blocks.
func pickIndices(n, k int, rng *rand.Rand) []int64 {
	perm := rng.Perm(n)
	idx := make([]int64, k)
	for i, v := range perm[:k] {
		idx[i] = int64(v)
	}
	return idx
}

// PickFetchPlan exposes pickIndices to callers that want to pre-select a
// fetch plan: k block indices out of n, chosen without replacement.
func PickFetchPlan(n, k int, rng *rand.Rand) []int64 {
	return pickIndices(n, k, rng)
}

// missingIndices returns, in ascending order, every index in [0,blockCount)
// absent from present -- the RequestedList a FECDecodeSegment call needs to
// reconstruct. Grounded on node._fec_findMissingIndices.
func missingIndices(blockCount int64, present []int64) []int64 {
	have := make(map[int64]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	var out []int64
	for i := int64(0); i < blockCount; i++ {
		if !have[i] {
			out = append(out, i)
		}
	}
	return out
}

// insertSegmentBlocks inserts every data and check block of a segment as its
// own CHK, fanning out across maxWorkers concurrent workers via
// dispatch.Dispatcher, each insert retried through p on RouteNotFound, and
// returns the BlockMap the node expects back from FECMakeMetadata. Every
// insert runs inside p.Call, which holds p's single-flight token for the
// whole call, so inserts sharing p run one at a time whatever maxWorkers
// is. Grounded
// on node._fec_InsFcpSplitPart's per-block insert loop.
func insertSegmentBlocks(ctx context.Context, c *client.Client, dataBlocks, checkBlocks [][]byte, maxWorkers int, p *pacer.Pacer, log fcplog.Logger) (client.BlockMap, error) {
	type job struct {
		key  string
		data []byte
	}
	jobs := make([]job, 0, len(dataBlocks)+len(checkBlocks))
	for i, b := range dataBlocks {
		jobs = append(jobs, job{key: fmt.Sprintf("Block.%x", i), data: b})
	}
	for i, b := range checkBlocks {
		jobs = append(jobs, job{key: fmt.Sprintf("Check.%x", i), data: b})
	}

	m := make(client.BlockMap, len(jobs))
	var mu sync.Mutex
	errsOut := make([]error, len(jobs))

	d := dispatch.New(func(d *dispatch.Dispatcher, jv interface{}) {
		idx := jv.(int)
		jb := jobs[idx]
		err := p.Call(func() (bool, error) {
			u, err := c.GenCHK(ctx, jb.data, nil)
			if err != nil {
				return false, err
			}
			if _, err := c.PutRaw(ctx, u, jb.data, nil, -1); err != nil {
				return errors.Is(err, errs.ErrRouteNotFound), err
			}
			mu.Lock()
			m[jb.key] = u.String()
			mu.Unlock()
			return false, nil
		})
		errsOut[idx] = err
	}, maxWorkers, log)

	d.Start()
	for i := range jobs {
		d.Add(i)
	}
	d.Wait()

	for _, err := range errsOut {
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EncodeFile segments payload, asks the node to Reed-Solomon encode every
// segment's check blocks, inserts every data and check block as its own
// CHK, and returns the node-assembled splitfile metadata document. Grounded
// on node._fecputfileex.
func EncodeFile(ctx context.Context, c *client.Client, payload []byte, name, mimetype string, scheme Scheme, maxWorkers int, p *pacer.Pacer, log fcplog.Logger) (*metadata.Metadata, error) {
	headers, err := c.FECSegmentFile(ctx, scheme.Name, int64(len(payload)))
	if err != nil {
		return nil, errs.Wrapf(err, "FECSegmentFile")
	}

	maps := make([]client.BlockMap, len(headers))
	for i, h := range headers {
		offset, err := h.Offset()
		if err != nil {
			return nil, err
		}
		blockCount, err := h.BlockCount()
		if err != nil {
			return nil, err
		}
		blockSize, err := h.BlockSize()
		if err != nil {
			return nil, err
		}

		segLen := blockCount * blockSize
		segData := make([]byte, segLen)
		end := offset + segLen
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		if offset < int64(len(payload)) {
			copy(segData, payload[offset:end])
		}

		checkBlocks, err := c.FECEncodeSegment(ctx, h, segData)
		if err != nil {
			return nil, errs.Wrapf(err, "FECEncodeSegment segment %d", i)
		}

		dataBlocks := make([][]byte, blockCount)
		for j := int64(0); j < blockCount; j++ {
			dataBlocks[j] = segData[j*blockSize : (j+1)*blockSize]
		}

		m, err := insertSegmentBlocks(ctx, c, dataBlocks, checkBlocks, maxWorkers, p, log)
		if err != nil {
			return nil, errs.Wrapf(err, "insert segment %d blocks", i)
		}
		maps[i] = m
	}

	description := "Onion FEC splitfile insert"
	metaBytes, err := c.FECMakeMetadata(ctx, headers, maps, mimetype, description)
	if err != nil {
		return nil, errs.Wrapf(err, "FECMakeMetadata")
	}
	return metadata.Parse(string(metaBytes), false)
}

// maxConcurrentBlockFetches bounds how many of a segment's chosen blocks are
// fetched from the node at once.
const maxConcurrentBlockFetches = 8

// fetchSegment selects BlocksRequired of a segment's BlockCount+CheckBlockCount
// blocks at random, fetches them as CHKs -- up to maxConcurrentBlockFetches
// in flight at a time -- and asks the node to reconstruct any data blocks
// that weren't among the fetched set. Grounded on node._fec_getFile's
// per-segment body.
func fetchSegment(ctx context.Context, c *client.Client, h client.SegmentHeader, m client.BlockMap, htl int, rng *rand.Rand) ([]byte, error) {
	blockCount, err := h.BlockCount()
	if err != nil {
		return nil, err
	}
	checkBlockCount, err := h.CheckBlockCount()
	if err != nil {
		return nil, err
	}
	required, err := h.BlocksRequired()
	if err != nil {
		return nil, err
	}

	picked := pickIndices(int(blockCount+checkBlockCount), int(required), rng)

	var dataIndices, checkIndices []int64
	for _, idx := range picked {
		if idx < blockCount {
			dataIndices = append(dataIndices, idx)
		} else {
			checkIndices = append(checkIndices, idx-blockCount)
		}
	}

	dataPayloads := make([][]byte, len(dataIndices))
	checkPayloads := make([][]byte, len(checkIndices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBlockFetches)
	for i, idx := range dataIndices {
		i, idx := i, idx
		g.Go(func() error {
			u, err := uri.Parse(m[fmt.Sprintf("Block.%x", idx)])
			if err != nil {
				return err
			}
			key, err := c.GetRaw(gctx, u, htl)
			if err != nil {
				return errs.Wrapf(err, "fetch data block %d", idx)
			}
			dataPayloads[i] = key.Payload
			return nil
		})
	}
	for i, idx := range checkIndices {
		i, idx := i, idx
		g.Go(func() error {
			u, err := uri.Parse(m[fmt.Sprintf("Check.%x", idx)])
			if err != nil {
				return err
			}
			key, err := c.GetRaw(gctx, u, htl)
			if err != nil {
				return errs.Wrapf(err, "fetch check block %d", idx)
			}
			checkPayloads[i] = key.Payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fetched := make(map[int64][]byte, len(picked))
	var buf bytes.Buffer
	for i, idx := range dataIndices {
		fetched[idx] = dataPayloads[i]
		buf.Write(dataPayloads[i])
	}
	for _, p := range checkPayloads {
		buf.Write(p)
	}

	requested := missingIndices(blockCount, dataIndices)
	if len(requested) > 0 {
		reconstructed, err := c.FECDecodeSegment(ctx, h, buf.Bytes(), dataIndices, checkIndices, requested)
		if err != nil {
			return nil, errs.Wrapf(err, "FECDecodeSegment")
		}
		for i, idx := range requested {
			fetched[idx] = reconstructed[i]
		}
	}

	var out bytes.Buffer
	for i := int64(0); i < blockCount; i++ {
		out.Write(fetched[i])
	}
	return out.Bytes(), nil
}

// segmentTrimLength returns how many of a segment's reassembled bytes belong
// in the final file, per node._fec_getFile: every non-final segment of a
// multi-segment file contributes its full BlockCount*BlockSize, while the
// final segment (or the only segment) contributes only FileLength-Offset.
func segmentTrimLength(h client.SegmentHeader) (int64, error) {
	segments, err := h.Segments()
	if err != nil {
		return 0, err
	}
	fileLength, err := h.FileLength()
	if err != nil {
		return 0, err
	}
	offset, err := h.Offset()
	if err != nil {
		return 0, err
	}
	if segments <= 1 {
		return fileLength, nil
	}
	segNum, err := h.SegmentNum()
	if err != nil {
		return 0, err
	}
	if segNum < segments-1 {
		blockCount, err := h.BlockCount()
		if err != nil {
			return 0, err
		}
		blockSize, err := h.BlockSize()
		if err != nil {
			return 0, err
		}
		return blockCount * blockSize, nil
	}
	return fileLength - offset, nil
}

// Fetch reassembles a splitfile's original payload from its full chunk list
// (data blocks followed by check blocks, as metadata.Document.Chunks stores
// them) and recorded file length: the chunk list is re-rendered into a
// splitfile metadata document and handed to FECSegmentSplitFile so the node
// can replan the exact segment/block layout it used at insert time, then
// each segment is fetched and decoded through FECDecodeSegment. Grounded on
// node._fec_getFile.
func Fetch(ctx context.Context, c *client.Client, chunks []uri.URI, fileLength, htl int, rng *rand.Rand) ([]byte, error) {
	m := metadata.New()
	m.AddSplitFile("", fileLength, chunks, "")
	metaBytes := []byte(m.Render())

	headers, maps, err := c.FECSegmentSplitFile(ctx, metaBytes)
	if err != nil {
		return nil, errs.Wrapf(err, "FECSegmentSplitFile")
	}

	var out bytes.Buffer
	for i, h := range headers {
		segData, err := fetchSegment(ctx, c, h, maps[i], htl, rng)
		if err != nil {
			return nil, errs.Wrapf(err, "segment %d", i)
		}
		trim, err := segmentTrimLength(h)
		if err != nil {
			return nil, err
		}
		if int64(len(segData)) > trim {
			segData = segData[:trim]
		}
		out.Write(segData)
	}
	return out.Bytes(), nil
}
