package variantsService

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cohortkit/services/storage"
	"cohortkit/utils"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/gzip"
)

// name of the block-gzipped VCF inside a <name>.mt directory
const MatrixVcfName = "variants.vcf.bgz"

var ErrMatrixExists = errors.New("matrix already exists")

type Header struct {
	Meta    []string
	Samples []string
}

func (h Header) clone() Header {
	return Header{
		Meta:    append([]string(nil), h.Meta...),
		Samples: append([]string(nil), h.Samples...),
	}
}

// InfoKeys lists the INFO ids declared in the meta lines
func (h Header) InfoKeys() []string {
	var keys []string
	for _, line := range h.Meta {
		if id, ok := metaId(line, "INFO"); ok {
			keys = append(keys, id)
		}
	}
	return keys
}

func metaId(line, kind string) (string, bool) {
	prefix := "##" + kind + "=<ID="
	if !strings.HasPrefix(line, prefix) {
		return "", false
	}
	rest := line[len(prefix):]
	if end := strings.IndexAny(rest, ",>"); end >= 0 {
		return rest[:end], true
	}
	return rest, true
}

type stage func(*Record) (*Record, bool)

// Matrix is a lazily evaluated view over a VCF cohort: operations
// queue row transforms that run each time the records are streamed
type Matrix struct {
	Path    string
	vcfPath string
	store   storage.Store
	header  Header
	stages  []stage
}

// ReadMatrix opens a .vcf, .vcf.gz, .vcf.bgz or a <name>.mt directory
func ReadMatrix(ctx context.Context, store storage.Store, path string) (*Matrix, error) {
	vcfPath, err := resolveVcfPath(ctx, store, path)
	if err != nil {
		return nil, err
	}

	m := &Matrix{Path: path, vcfPath: vcfPath, store: store}
	foundColumns := false
	err = m.scan(ctx, func(line string) (bool, error) {
		switch {
		case strings.HasPrefix(line, "##"):
			m.header.Meta = append(m.header.Meta, line)
			return true, nil
		case strings.HasPrefix(line, "#CHROM"):
			headers := strings.Split(line, "\t")
			if len(headers) > len(VcfHeaders) {
				m.header.Samples = append([]string(nil), headers[len(VcfHeaders):]...)
			}
			foundColumns = true
			return false, nil
		default:
			return false, fmt.Errorf("%s: missing #CHROM header line", vcfPath)
		}
	})
	if err != nil {
		return nil, err
	}
	if !foundColumns {
		return nil, fmt.Errorf("%s: missing #CHROM header line", vcfPath)
	}
	return m, nil
}

func resolveVcfPath(ctx context.Context, store storage.Store, path string) (string, error) {
	trimmed := strings.TrimSuffix(path, "/")
	if !storage.IsTableDir(trimmed) {
		return path, nil
	}
	exists, err := store.Exists(ctx, trimmed)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("matrix %s is missing or incomplete: %w", path, storage.ErrNotFound)
	}
	return storage.JoinPath(trimmed, MatrixVcfName), nil
}

// scan feeds every line of the underlying VCF to fn until fn
// returns false, transparently inflating gzip and bgzf input
func (m *Matrix) scan(ctx context.Context, fn func(line string) (bool, error)) error {
	rc, err := m.store.Open(ctx, m.vcfPath)
	if err != nil {
		return err
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 1<<20)
	var src io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("%s: %w", m.vcfPath, err)
		}
		defer gr.Close()
		src = gr
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 1<<20), 256<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		more, err := fn(line)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return scanner.Err()
}

func (m *Matrix) Samples() []string {
	return append([]string(nil), m.header.Samples...)
}

func (m *Matrix) Header() Header {
	return m.header.clone()
}

func (m *Matrix) with(h Header, s stage) *Matrix {
	return &Matrix{
		Path:    m.Path,
		vcfPath: m.vcfPath,
		store:   m.store,
		header:  h,
		stages:  append(append([]stage(nil), m.stages...), s),
	}
}

// ForEach streams every record that survives the queued operations
func (m *Matrix) ForEach(ctx context.Context, fn func(*Record) error) error {
	lineNumber := 0
	return m.scan(ctx, func(line string) (bool, error) {
		lineNumber++
		if line[0] == '#' {
			return true, nil
		}
		record, err := ParseRecord(line)
		if err != nil {
			return false, fmt.Errorf("%s line %d: %w", m.vcfPath, lineNumber, err)
		}
		for _, s := range m.stages {
			var keep bool
			if record, keep = s(record); !keep {
				return true, nil
			}
		}
		return true, fn(record)
	})
}

// SubsetSamples keeps the given columns, in the cohort's own order;
// ids the cohort does not hold are ignored
func (m *Matrix) SubsetSamples(samples []string) *Matrix {
	wanted := make(map[string]struct{}, len(samples))
	for _, s := range samples {
		wanted[s] = struct{}{}
	}

	h := m.header.clone()
	var keepIdx []int
	h.Samples = h.Samples[:0]
	for i, s := range m.header.Samples {
		if _, ok := wanted[s]; ok {
			keepIdx = append(keepIdx, i)
			h.Samples = append(h.Samples, s)
		}
	}

	return m.with(h, func(r *Record) (*Record, bool) {
		out := r.clone()
		// sites-only output has no FORMAT column
		if len(keepIdx) == 0 {
			out.Format = nil
		}
		out.Calls = make([]string, 0, len(keepIdx))
		for _, i := range keepIdx {
			if i < len(r.Calls) {
				out.Calls = append(out.Calls, r.Calls[i])
			}
		}
		return out, true
	})
}

// FilterRows keeps the records matching every predicate
func (m *Matrix) FilterRows(predicates ...Predicate) *Matrix {
	return m.with(m.header.clone(), func(r *Record) (*Record, bool) {
		for _, p := range predicates {
			if !p(r) {
				return r, false
			}
		}
		return r, true
	})
}

// DropFields strips every INFO field not listed in keepInfo
func (m *Matrix) DropFields(keepInfo []string) *Matrix {
	keep := make(map[string]struct{}, len(keepInfo))
	for _, k := range keepInfo {
		keep[k] = struct{}{}
	}

	h := m.header.clone()
	h.Meta = h.Meta[:0]
	for _, line := range m.header.Meta {
		if id, ok := metaId(line, "INFO"); ok {
			if _, kept := keep[id]; !kept {
				continue
			}
		}
		h.Meta = append(h.Meta, line)
	}

	return m.with(h, func(r *Record) (*Record, bool) {
		out := r.clone()
		out.Info = out.Info[:0]
		for _, f := range r.Info {
			if _, ok := keep[f.Key]; ok {
				out.Info = append(out.Info, f)
			}
		}
		return out, true
	})
}

// Annotate applies fn to every record; extraMeta lines are added
// to the header unless already declared
func (m *Matrix) Annotate(extraMeta []string, fn func(*Record)) *Matrix {
	h := m.header.clone()
	declared := h.InfoKeys()
	for _, line := range extraMeta {
		if id, ok := metaId(line, "INFO"); ok && utils.StringInSlice(id, declared) {
			continue
		}
		if !utils.StringInSlice(line, h.Meta) {
			h.Meta = append(h.Meta, line)
		}
	}
	return m.with(h, func(r *Record) (*Record, bool) {
		out := r.clone()
		fn(out)
		return out, true
	})
}

func (m *Matrix) CountRows(ctx context.Context) (int, error) {
	count := 0
	err := m.ForEach(ctx, func(*Record) error {
		count++
		return nil
	})
	return count, err
}

type Description struct {
	Path       string
	Samples    int
	Rows       int
	InfoKeys   []string
	FormatKeys []string
	Contigs    map[string]int
}

func (d *Description) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Matrix: %s\n", d.Path)
	fmt.Fprintf(&sb, "  samples: %d\n", d.Samples)
	fmt.Fprintf(&sb, "  rows:    %d\n", d.Rows)
	fmt.Fprintf(&sb, "  INFO:    %s\n", strings.Join(d.InfoKeys, ", "))
	fmt.Fprintf(&sb, "  FORMAT:  %s\n", strings.Join(d.FormatKeys, ", "))

	contigs := make([]string, 0, len(d.Contigs))
	for c := range d.Contigs {
		contigs = append(contigs, c)
	}
	sort.Strings(contigs)
	for _, c := range contigs {
		fmt.Fprintf(&sb, "    %s: %d\n", c, d.Contigs[c])
	}
	return sb.String()
}

func (m *Matrix) Describe(ctx context.Context) (*Description, error) {
	d := &Description{
		Path:    m.Path,
		Samples: len(m.header.Samples),
		Contigs: map[string]int{},
	}
	infoKeys := map[string]struct{}{}
	for _, k := range m.header.InfoKeys() {
		infoKeys[k] = struct{}{}
	}
	formatKeys := map[string]struct{}{}

	err := m.ForEach(ctx, func(r *Record) error {
		d.Rows++
		d.Contigs[r.Chrom]++
		for _, f := range r.Info {
			infoKeys[f.Key] = struct{}{}
		}
		for _, f := range r.Format {
			formatKeys[f] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.InfoKeys = sortedKeys(infoKeys)
	d.FormatKeys = sortedKeys(formatKeys)
	return d, nil
}

// writerOnly hides Close from the bgzf writer; the caller owns dst
type writerOnly struct{ io.Writer }

// ExportVcf writes the matrix as VCF, block-gzipped when path ends in .gz or .bgz
func (m *Matrix) ExportVcf(ctx context.Context, store storage.Store, path string) error {
	dst, err := store.Create(ctx, path)
	if err != nil {
		return err
	}

	var bg *bgzf.Writer
	var sink io.Writer = dst
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".bgz") {
		bg = bgzf.NewWriter(writerOnly{dst}, 1)
		sink = bg
	}
	bw := bufio.NewWriterSize(sink, 1<<20)

	writeErr := m.writeVcf(ctx, bw)
	if writeErr == nil {
		writeErr = bw.Flush()
	}
	if bg != nil {
		if err := bg.Close(); writeErr == nil {
			writeErr = err
		}
	}
	if err := dst.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return fmt.Errorf("exporting %s: %w", path, writeErr)
	}
	return nil
}

func (m *Matrix) writeVcf(ctx context.Context, w io.Writer) error {
	for _, line := range m.header.Meta {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	columns := []string{"#CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}
	if len(m.header.Samples) > 0 {
		columns = append(columns, "FORMAT")
		columns = append(columns, m.header.Samples...)
	}
	if _, err := io.WriteString(w, strings.Join(columns, "\t")+"\n"); err != nil {
		return err
	}

	return m.ForEach(ctx, func(r *Record) error {
		_, err := io.WriteString(w, r.String()+"\n")
		return err
	})
}

// WriteMatrix materialises the matrix as a <name>.mt directory; the
// success marker is written last so readers never see a partial matrix
func (m *Matrix) WriteMatrix(ctx context.Context, store storage.Store, path string, overwrite bool) error {
	trimmed := strings.TrimSuffix(path, "/")
	if !storage.IsTableDir(trimmed) || !strings.HasSuffix(trimmed, ".mt") {
		return fmt.Errorf("matrix output %q must end in .mt", path)
	}
	if trimmed == strings.TrimSuffix(m.Path, "/") {
		return fmt.Errorf("cannot overwrite %s while reading from it", path)
	}

	exists, err := store.Exists(ctx, trimmed)
	if err != nil {
		return err
	}
	if exists && !overwrite {
		return fmt.Errorf("%s: %w", path, ErrMatrixExists)
	}
	if err := store.Remove(ctx, trimmed); err != nil {
		return err
	}

	if err := m.ExportVcf(ctx, store, storage.JoinPath(trimmed, MatrixVcfName)); err != nil {
		return err
	}

	marker, err := store.Create(ctx, storage.JoinPath(trimmed, storage.SuccessMarker))
	if err != nil {
		return err
	}
	return marker.Close()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
