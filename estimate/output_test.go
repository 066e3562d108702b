package estimate

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/penetrance/mcmc"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunResult builds a small deterministic result without sampling.
func fakeRunResult(nChains, nIter, burnIn int) *RunResult {
	res := &RunResult{BurnIn: burnIn, Thin: 1}
	for chain := 0; chain < nChains; chain++ {
		c := &mcmc.Result{}
		for i := 0; i < nIter; i++ {
			var s, p mcmc.Vector
			for j := range s {
				s[j] = float64(chain*1000 + i*10 + j)
				p[j] = s[j] + 0.5
			}
			c.Samples = append(c.Samples, s)
			c.Proposals = append(c.Proposals, p)
			c.Logliks = append(c.Logliks, -float64(i)-1)
			c.Logpriors = append(c.Logpriors, -0.25)
			ratio := float64(i) * 0.125
			if i%5 == 0 {
				ratio = math.Inf(-1)
			}
			c.Ratios = append(c.Ratios, ratio)
		}
		res.Chains = append(res.Chains, c)
	}
	res.Pooled = pool(res.Chains, burnIn, 1)
	res.Summaries = Summarize(res.Pooled)
	const maxAge = 10
	res.Male, res.Female, _ = PenetranceCurves(nil, maxAge)
	return res
}

// readTable decompresses a result table per its format and splits it
// into lines.
func readTable(t *testing.T, path string, format Format) []string {
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var in io.Reader = bytes.NewReader(raw)
	if format != FormatTSV {
		gz, err := gzip.NewReader(in)
		require.NoError(t, err)
		in = gz
	}
	data, err := io.ReadAll(in)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	return lines
}

func TestWriteResultsFormats(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	const nChains, nIter, burnIn = 2, 8, 2
	res := fakeRunResult(nChains, nIter, burnIn)
	for _, format := range []Format{FormatTSV, FormatTSVGz, FormatTSVBgz} {
		prefix := filepath.Join(tempDir, "run-"+format.String())
		require.NoError(t, WriteResults(ctx, prefix, format, res))

		samples := readTable(t, prefix+".samples"+format.ext(), format)
		require.Len(t, samples, 1+nChains*(nIter-burnIn), format.String())
		assert.Equal(t, "CHAIN\tITER\t"+strings.Join(mcmc.ParamNames[:], "\t")+"\tLOGLIK\tLOGPRIOR", samples[0])
		fields := strings.Split(samples[1], "\t")
		require.Len(t, fields, 2+mcmc.NumParams+2)
		assert.Equal(t, "0", fields[0])
		assert.Equal(t, fmt.Sprint(burnIn), fields[1])
		v, err := strconv.ParseFloat(fields[2], 64)
		require.NoError(t, err)
		assert.Equal(t, res.Chains[0].Samples[burnIn][0], v)

		summary := readTable(t, prefix+".summary"+format.ext(), format)
		require.Len(t, summary, 1+mcmc.NumParams)
		assert.Equal(t, "PARAM\tMEAN\tSD\tMEDIAN\tP2.5\tP97.5", summary[0])
		assert.True(t, strings.HasPrefix(summary[1], mcmc.ParamNames[0]+"\t"))

		curves := readTable(t, prefix+".penetrance"+format.ext(), format)
		require.Len(t, curves, 1+2*len(res.Male.Med))
		assert.Equal(t, "SEX\tAGE\tP2.5\tMEDIAN\tP97.5", curves[0])
		assert.True(t, strings.HasPrefix(curves[1], "male\t1\t"))
		assert.True(t, strings.HasPrefix(curves[1+len(res.Male.Med)], "female\t1\t"))
	}
}

func TestParseFormat(t *testing.T) {
	for s, want := range map[string]Format{
		"tsv":     FormatTSV,
		"tsv.gz":  FormatTSVGz,
		"tsv.bgz": FormatTSVBgz,
	} {
		f, err := ParseFormat(s)
		require.NoError(t, err)
		assert.Equal(t, want, f)
		assert.Equal(t, s, f.String())
	}
	_, err := ParseFormat("parquet")
	assert.Error(t, err)
}

func TestTrajectoryRoundTrip(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	const nChains, nIter = 3, 12
	res := fakeRunResult(nChains, nIter, 0)
	path := filepath.Join(tempDir, "run.trajectories.rio")
	require.NoError(t, WriteTrajectories(ctx, path, res))

	recs, err := ReadTrajectories(ctx, path)
	require.NoError(t, err)
	require.Len(t, recs, nChains*nIter)
	for i, rec := range recs {
		chain, iter := i/nIter, i%nIter
		assert.Equal(t, uint32(chain), rec.Chain)
		assert.Equal(t, uint32(iter), rec.Iter)
		c := res.Chains[chain]
		assert.Equal(t, c.Samples[iter], rec.Sample)
		assert.Equal(t, c.Proposals[iter], rec.Proposal)
		assert.Equal(t, c.Logliks[iter], rec.Loglik)
		assert.Equal(t, c.Logpriors[iter], rec.Logprior)
		if iter%5 == 0 {
			assert.True(t, math.IsInf(rec.Ratio, -1))
		} else {
			assert.Equal(t, c.Ratios[iter], rec.Ratio)
		}
	}
}
