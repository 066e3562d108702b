package risk

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// Provider resolves baseline risk tables by cancer, race and kind.
// Implementations must be safe for concurrent use.
type Provider interface {
	Lookup(cancer, race string, kind Kind) (*Table, error)
}

// DefaultRace is the race label a lookup falls back to when no row set
// matches an individual's recorded race.
const DefaultRace = "All"

// FileProvider serves tables parsed once from a rates TSV.  Lookups memoize
// race fallbacks in a sharded cache so concurrent chains can resolve
// per-individual tables without contention.
type FileProvider struct {
	maxAge  int
	tables  map[string]*Table
	cache   *lookupCache
	cancers []string
	races   []string
}

// rateRow is one line of a rates TSV.  SEX is M or F; KIND is incidence or
// mortality; RATE is the annual risk at AGE.
type rateRow struct {
	Cancer string  `tsv:"CANCER"`
	Race   string  `tsv:"RACE"`
	Sex    string  `tsv:"SEX"`
	Kind   string  `tsv:"KIND"`
	Age    int     `tsv:"AGE"`
	Rate   float64 `tsv:"RATE"`
}

// LoadRates reads a rates TSV with columns CANCER, RACE, SEX, KIND, AGE and
// RATE.  Rows with ages beyond maxAge are dropped; ages absent from the
// file have zero risk.
func LoadRates(ctx context.Context, path string, maxAge int) (p *FileProvider, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, in, &err)
	reader, _ := compress.NewReader(in.Reader(ctx))
	defer func() {
		if e := reader.Close(); e != nil && err == nil {
			err = e
		}
	}()
	p, err = ReadRates(reader, maxAge)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read rates", path)
	}
	return p, nil
}

// ReadRates parses rates TSV content from in.  See LoadRates.
func ReadRates(in io.Reader, maxAge int) (*FileProvider, error) {
	if maxAge < 1 {
		return nil, fmt.Errorf("risk: max age must be positive, got %d", maxAge)
	}
	r := tsv.NewReader(in)
	r.HasHeaderRow = true
	r.UseHeaderNames = true

	type rawRates struct {
		cancer string
		race   string
		kind   Kind
		inc    [2][]float64
	}
	raw := map[string]*rawRates{}
	lineno := 1
	var row rateRow
	for {
		if err := r.Read(&row); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		lineno++
		kind, err := parseKind(row.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineno)
		}
		var sex int
		switch row.Sex {
		case "M":
			sex = 0
		case "F":
			sex = 1
		default:
			return nil, fmt.Errorf("line %d: sex must be M or F, got %q", lineno, row.Sex)
		}
		if row.Age < 1 {
			return nil, fmt.Errorf("line %d: age must be positive, got %d", lineno, row.Age)
		}
		if row.Rate < 0 || row.Rate >= 1 {
			return nil, fmt.Errorf("line %d: rate must lie in [0,1), got %v", lineno, row.Rate)
		}
		if row.Age > maxAge {
			continue
		}
		key := tableKey(row.Cancer, row.Race, kind)
		rr := raw[key]
		if rr == nil {
			rr = &rawRates{cancer: row.Cancer, race: row.Race, kind: kind}
			raw[key] = rr
		}
		for len(rr.inc[sex]) < row.Age {
			rr.inc[sex] = append(rr.inc[sex], 0)
		}
		rr.inc[sex][row.Age-1] = row.Rate
	}

	p := &FileProvider{
		maxAge: maxAge,
		tables: make(map[string]*Table, len(raw)),
		cache:  newLookupCache(),
	}
	cancers := map[string]bool{}
	races := map[string]bool{}
	for key, rr := range raw {
		p.tables[key] = NewTable(rr.cancer, rr.race, rr.kind, maxAge, rr.inc[0], rr.inc[1])
		cancers[rr.cancer] = true
		races[rr.race] = true
	}
	for c := range cancers {
		p.cancers = append(p.cancers, c)
	}
	for rc := range races {
		p.races = append(p.races, rc)
	}
	sort.Strings(p.cancers)
	sort.Strings(p.races)
	return p, nil
}

// Lookup returns the table for (cancer, race, kind), falling back to
// DefaultRace when the exact race has no rows.  An empty race means
// DefaultRace.
func (p *FileProvider) Lookup(cancer, race string, kind Kind) (*Table, error) {
	if race == "" {
		race = DefaultRace
	}
	key := tableKey(cancer, race, kind)
	return p.cache.getOrFill(key, func() (*Table, error) {
		if t, ok := p.tables[key]; ok {
			return t, nil
		}
		if t, ok := p.tables[tableKey(cancer, DefaultRace, kind)]; ok {
			return t, nil
		}
		return nil, fmt.Errorf("risk: no %s rates for cancer %q (race %q)", kind, cancer, race)
	})
}

// Cancers returns the distinct cancer names the rates file covers, sorted.
func (p *FileProvider) Cancers() []string { return p.cancers }

// Races returns the distinct race labels the rates file covers, sorted.
func (p *FileProvider) Races() []string { return p.races }

// MaxAge returns the age bound the tables were loaded with.
func (p *FileProvider) MaxAge() int { return p.maxAge }

func tableKey(cancer, race string, kind Kind) string {
	return cancer + "\x00" + race + "\x00" + kind.String()
}
