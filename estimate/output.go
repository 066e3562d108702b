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
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/penetrance/bgzf"
	"github.com/grailbio/penetrance/mcmc"
	"github.com/klauspost/compress/gzip"
)

// Format selects the encoding of result tables.
type Format uint8

const (
	// FormatTSV writes plain tab-separated text.
	FormatTSV Format = iota
	// FormatTSVGz gzips the tables.
	FormatTSVGz
	// FormatTSVBgz block-gzips the tables so they stay indexable.
	FormatTSVBgz
)

// String returns the flag spelling of the format.
func (f Format) String() string {
	switch f {
	case FormatTSV:
		return "tsv"
	case FormatTSVGz:
		return "tsv.gz"
	case FormatTSVBgz:
		return "tsv.bgz"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

// ParseFormat parses an output format flag value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "tsv":
		return FormatTSV, nil
	case "tsv.gz":
		return FormatTSVGz, nil
	case "tsv.bgz":
		return FormatTSVBgz, nil
	}
	return FormatTSV, fmt.Errorf("unknown output format %q (want tsv, tsv.gz or tsv.bgz)", s)
}

func (f Format) ext() string { return "." + f.String() }

// WriteResults writes the pooled sample, summary and penetrance tables
// for a finished run under the given path prefix.
func WriteResults(ctx context.Context, prefix string, format Format, res *RunResult) error {
	samplesPath := prefix + ".samples" + format.ext()
	if err := writeTable(ctx, samplesPath, format, func(w *tsv.Writer) error {
		return writeSampleRows(w, res)
	}); err != nil {
		return err
	}
	summaryPath := prefix + ".summary" + format.ext()
	if err := writeTable(ctx, summaryPath, format, func(w *tsv.Writer) error {
		return writeSummaryRows(w, res.Summaries)
	}); err != nil {
		return err
	}
	curvesPath := prefix + ".penetrance" + format.ext()
	if err := writeTable(ctx, curvesPath, format, func(w *tsv.Writer) error {
		return writeCurveRows(w, res)
	}); err != nil {
		return err
	}
	log.Printf("estimate: results written to %s.{samples,summary,penetrance}%s", prefix, format.ext())
	return nil
}

// writeTable creates path, wraps it in the requested compressor, and
// hands a tsv writer to fill.
func writeTable(ctx context.Context, path string, format Format, fill func(w *tsv.Writer) error) (err error) {
	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)

	out := io.Writer(dst.Writer(ctx))
	var compressor io.Closer
	switch format {
	case FormatTSVGz:
		gz := gzip.NewWriter(out)
		out, compressor = gz, gz
	case FormatTSVBgz:
		var bw *bgzf.Writer
		if bw, err = bgzf.NewWriter(out, gzip.DefaultCompression); err != nil {
			return err
		}
		out, compressor = bw, bw
	}
	w := tsv.NewWriter(out)
	once := errors.Once{}
	once.Set(fill(w))
	once.Set(w.Flush())
	if compressor != nil {
		once.Set(compressor.Close())
	}
	return once.Err()
}

// writeSampleRows emits the retained posterior draws with their chain
// and iteration provenance, in the same order as RunResult.Pooled.
func writeSampleRows(w *tsv.Writer, res *RunResult) error {
	w.WriteString("CHAIN\tITER")
	for _, name := range mcmc.ParamNames {
		w.WriteString(name)
	}
	w.WriteString("LOGLIK\tLOGPRIOR")
	if err := w.EndLine(); err != nil {
		return err
	}
	for chain, c := range res.Chains {
		for i := res.BurnIn; i < len(c.Samples); i += res.Thin {
			w.WriteInt64(int64(chain))
			w.WriteInt64(int64(i))
			for _, v := range c.Samples[i] {
				w.WriteFloat64(v, 'g', -1)
			}
			w.WriteFloat64(c.Logliks[i], 'g', -1)
			w.WriteFloat64(c.Logpriors[i], 'g', -1)
			if err := w.EndLine(); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSummaryRows(w *tsv.Writer, summaries []ParamSummary) error {
	w.WriteString("PARAM\tMEAN\tSD\tMEDIAN\tP2.5\tP97.5")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, s := range summaries {
		w.WriteString(s.Name)
		w.WriteFloat64(s.Mean, 'g', -1)
		w.WriteFloat64(s.SD, 'g', -1)
		w.WriteFloat64(s.Median, 'g', -1)
		w.WriteFloat64(s.Lo, 'g', -1)
		w.WriteFloat64(s.Hi, 'g', -1)
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

func writeCurveRows(w *tsv.Writer, res *RunResult) error {
	w.WriteString("SEX\tAGE\tP2.5\tMEDIAN\tP97.5")
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, q := range []PenetranceQuantiles{res.Male, res.Female} {
		for a := 0; a < len(q.Med); a++ {
			w.WriteString(q.Sex.String())
			w.WriteInt64(int64(a + 1))
			w.WriteFloat64(q.Lo[a], 'g', -1)
			w.WriteFloat64(q.Med[a], 'g', -1)
			w.WriteFloat64(q.Hi[a], 'g', -1)
			if err := w.EndLine(); err != nil {
				return err
			}
		}
	}
	return nil
}
