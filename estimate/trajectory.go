// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package estimate

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/penetrance/mcmc"
)

func init() {
	recordiozstd.Init()
}

const trajectoryTrailerVersion = 1

// TrajectoryRecord is one iteration of one chain, before burn-in
// discard and thinning.  The dump exists for convergence diagnostics;
// the TSV outputs carry only the retained draws.
type TrajectoryRecord struct {
	Chain    uint32
	Iter     uint32
	Sample   mcmc.Vector
	Proposal mcmc.Vector
	Loglik   float64
	Logprior float64
	Ratio    float64
}

// trajectoryRecordSize is the fixed wire size of one record.
const trajectoryRecordSize = 8 + 2*8*mcmc.NumParams + 3*8

// WriteTrajectories dumps every chain's full trajectory to a
// zstd-compressed recordio file at path.
func WriteTrajectories(ctx context.Context, path string, res *RunResult) (err error) {
	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	w := recordio.NewWriter(dst.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalTrajectory,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(recordio.KeyTrailer, true)
	n := 0
	for chain, c := range res.Chains {
		for i := range c.Samples {
			w.Append(&TrajectoryRecord{
				Chain:    uint32(chain),
				Iter:     uint32(i),
				Sample:   c.Samples[i],
				Proposal: c.Proposals[i],
				Loglik:   c.Logliks[i],
				Logprior: c.Logpriors[i],
				Ratio:    c.Ratios[i],
			})
			n++
		}
	}
	w.SetTrailer(trajectoryTrailer(n))
	return w.Finish()
}

// ReadTrajectories scans a trajectory dump back in record order.
func ReadTrajectories(ctx context.Context, path string) (recs []TrajectoryRecord, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)

	scanner := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalTrajectory,
	})
	for scanner.Scan() {
		recs = append(recs, *scanner.Get().(*TrajectoryRecord))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	want, err := parseTrajectoryTrailer(scanner.Trailer())
	if err != nil {
		return nil, err
	}
	if want != len(recs) {
		return nil, fmt.Errorf("%s: trailer promises %d records, scanned %d", path, want, len(recs))
	}
	return recs, nil
}

func trajectoryTrailer(numRecords int) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, int64(trajectoryTrailerVersion)); err != nil {
		panic(err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, int64(numRecords)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func parseTrajectoryTrailer(trailer []byte) (int, error) {
	r := bytes.NewReader(trailer)
	var version, numRecords int64
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return 0, err
	}
	if version != trajectoryTrailerVersion {
		return 0, fmt.Errorf("unrecognized trajectory trailer version %d, want %d", version, trajectoryTrailerVersion)
	}
	if err := binary.Read(r, binary.LittleEndian, &numRecords); err != nil {
		return 0, err
	}
	return int(numRecords), nil
}

func marshalTrajectory(scratch []byte, v interface{}) ([]byte, error) {
	t := scratch
	if len(t) < trajectoryRecordSize {
		t = make([]byte, trajectoryRecordSize)
	}
	t = t[:trajectoryRecordSize]

	rec := v.(*TrajectoryRecord)
	binary.LittleEndian.PutUint32(t[:4], rec.Chain)
	binary.LittleEndian.PutUint32(t[4:8], rec.Iter)
	off := 8
	for _, x := range rec.Sample {
		binary.LittleEndian.PutUint64(t[off:off+8], math.Float64bits(x))
		off += 8
	}
	for _, x := range rec.Proposal {
		binary.LittleEndian.PutUint64(t[off:off+8], math.Float64bits(x))
		off += 8
	}
	for _, x := range []float64{rec.Loglik, rec.Logprior, rec.Ratio} {
		binary.LittleEndian.PutUint64(t[off:off+8], math.Float64bits(x))
		off += 8
	}
	return t, nil
}

func unmarshalTrajectory(in []byte) (interface{}, error) {
	if len(in) != trajectoryRecordSize {
		return nil, fmt.Errorf("trajectory record has %d bytes, want %d", len(in), trajectoryRecordSize)
	}
	rec := &TrajectoryRecord{
		Chain: binary.LittleEndian.Uint32(in[:4]),
		Iter:  binary.LittleEndian.Uint32(in[4:8]),
	}
	off := 8
	for i := range rec.Sample {
		rec.Sample[i] = math.Float64frombits(binary.LittleEndian.Uint64(in[off : off+8]))
		off += 8
	}
	for i := range rec.Proposal {
		rec.Proposal[i] = math.Float64frombits(binary.LittleEndian.Uint64(in[off : off+8]))
		off += 8
	}
	rec.Loglik = math.Float64frombits(binary.LittleEndian.Uint64(in[off : off+8]))
	rec.Logprior = math.Float64frombits(binary.LittleEndian.Uint64(in[off+8 : off+16]))
	rec.Ratio = math.Float64frombits(binary.LittleEndian.Uint64(in[off+16 : off+24]))
	return rec, nil
}
